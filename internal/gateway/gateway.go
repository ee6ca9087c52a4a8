// Package gateway is the single entry point for sending messages. It
// composes the verification engine, slot ledger, conversation store, and
// identity directory into one atomic attempt-to-send pipeline; failure at
// any checkpoint aborts with no partial state change.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"vouch/internal/messaging"
	"vouch/internal/platform/metrics"
	"vouch/internal/slots"
	id "vouch/pkg/domain"
	dErrors "vouch/pkg/domain-errors"
	audit "vouch/pkg/platform/audit"
	auditpub "vouch/pkg/platform/audit/publisher"
	"vouch/pkg/platform/sentinel"
	"vouch/pkg/requestcontext"
)

// maxAttempts bounds internal retries on transient store contention before
// the attempt surfaces as a temporary failure.
const maxAttempts = 3

// sendState names the checkpoints of one send attempt.
type sendState string

const (
	stateRequested           sendState = "requested"
	stateVerificationChecked sendState = "verification_checked"
	stateSlotReserved        sendState = "slot_reserved"
	statePersisted           sendState = "persisted"
	stateCommitted           sendState = "committed"
	stateRolledBack          sendState = "rolled_back"
)

// VerificationGate is the sole eligibility check the gateway consults.
type VerificationGate interface {
	IsEligibleToMessage(ctx context.Context, userID id.UserID) (bool, error)
}

// SlotLedger reserves and compensates send allowances.
type SlotLedger interface {
	CheckAndReserve(ctx context.Context, userID id.UserID, categoryID id.CategoryID) (*slots.LedgerEntry, error)
	Release(ctx context.Context, userID id.UserID, categoryID id.CategoryID) error
}

// ConversationStore persists the message once all gates pass.
type ConversationStore interface {
	GetOrCreateConversation(ctx context.Context, a, b id.UserID) (*messaging.Conversation, error)
	AppendMessage(ctx context.Context, conversation *messaging.Conversation, sender, receiver id.UserID, categoryID id.CategoryID, content string) (*messaging.Message, error)
	UnreadCount(ctx context.Context, conversationID id.ConversationID, userID id.UserID) (int, error)
}

// Revealer records identity revelations bundled with a send.
type Revealer interface {
	Reveal(ctx context.Context, revealer, revealedTo id.UserID, categoryID id.CategoryID) (created bool, err error)
}

// SendRequest is one attempt to send a message, optionally bundling an
// identity revelation.
type SendRequest struct {
	Sender     id.UserID
	Receiver   id.UserID
	CategoryID id.CategoryID
	Content    string
	Reveal     bool
}

// SendResult is the committed outcome. RevealErr reports a failed bundled
// reveal; the message stands regardless.
type SendResult struct {
	Message            *messaging.Message
	ReceiverUnread     int
	SlotsRemaining     int
	RevealPerformed    bool
	RevealAlreadyDone  bool
	RevealErr          error
}

type Service struct {
	verification VerificationGate
	ledger       SlotLedger
	store        ConversationStore
	revealer     Revealer
	logger       *slog.Logger
	publisher    *auditpub.Publisher
	metrics      *metrics.Metrics
	tracer       trace.Tracer
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithAuditPublisher(publisher *auditpub.Publisher) Option {
	return func(s *Service) { s.publisher = publisher }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func New(verification VerificationGate, ledger SlotLedger, store ConversationStore, revealer Revealer, opts ...Option) (*Service, error) {
	if verification == nil {
		return nil, fmt.Errorf("verification gate is required")
	}
	if ledger == nil {
		return nil, fmt.Errorf("slot ledger is required")
	}
	if store == nil {
		return nil, fmt.Errorf("conversation store is required")
	}
	if revealer == nil {
		return nil, fmt.Errorf("revealer is required")
	}

	svc := &Service{
		verification: verification,
		ledger:       ledger,
		store:        store,
		revealer:     revealer,
		logger:       slog.Default(),
		tracer:       otel.Tracer("vouch/gateway"),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// AttemptSend runs the full pipeline:
//
//	requested -> verification_checked -> slot_reserved -> persisted -> committed
//
// A persist failure releases the reserved slot (rolled_back). Transient
// store contention is retried a bounded number of times before surfacing as
// a temporary failure.
func (s *Service) AttemptSend(ctx context.Context, req SendRequest) (*SendResult, error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "gateway.attempt_send", trace.WithAttributes(
		attribute.String("category_id", req.CategoryID.String()),
	))
	defer span.End()

	var result *SendResult
	var err error
	for attempt := 1; ; attempt++ {
		result, err = s.attemptSendOnce(ctx, req)
		if err == nil || !errors.Is(err, sentinel.ErrConflict) {
			break
		}
		if attempt >= maxAttempts {
			err = dErrors.Wrap(err, dErrors.CodeUnavailable, "temporary contention, retry later")
			break
		}
		s.logger.WarnContext(ctx, "send contention, retrying",
			"attempt", attempt,
			"sender", req.Sender.String(),
		)
	}

	if err != nil {
		code := dErrors.CodeOf(err)
		span.SetAttributes(attribute.String("outcome", string(code)))
		if s.metrics != nil {
			s.metrics.SendRejected.WithLabelValues(string(code)).Inc()
		}
		return nil, err
	}

	span.SetAttributes(attribute.String("outcome", string(stateCommitted)))
	if s.metrics != nil {
		s.metrics.MessagesSent.Inc()
		s.metrics.SendDuration.Observe(time.Since(start).Seconds())
	}
	return result, nil
}

func (s *Service) attemptSendOnce(ctx context.Context, req SendRequest) (*SendResult, error) {
	state := stateRequested

	// requested -> verification_checked
	eligible, err := s.verification.IsEligibleToMessage(ctx, req.Sender)
	if err != nil {
		return nil, err
	}
	if !eligible {
		return nil, dErrors.New(dErrors.CodeNotVerified, "sender is not verified")
	}
	state = stateVerificationChecked

	// verification_checked -> slot_reserved
	entry, err := s.ledger.CheckAndReserve(ctx, req.Sender, req.CategoryID)
	if err != nil {
		return nil, err
	}
	state = stateSlotReserved

	// slot_reserved -> persisted, releasing the slot on any failure
	conversation, err := s.store.GetOrCreateConversation(ctx, req.Sender, req.Receiver)
	if err != nil {
		return nil, s.rollback(ctx, req, state, err)
	}
	message, err := s.store.AppendMessage(ctx, conversation, req.Sender, req.Receiver, req.CategoryID, req.Content)
	if err != nil {
		return nil, s.rollback(ctx, req, state, err)
	}
	state = statePersisted

	unread, err := s.store.UnreadCount(ctx, conversation.ID, req.Receiver)
	if err != nil {
		// The message is durably recorded; a failed count read does not
		// roll it back.
		s.logger.ErrorContext(ctx, "failed to read unread count after send",
			"conversation_id", conversation.ID.String(),
			"error", err,
		)
		unread = 0
	}

	state = stateCommitted
	s.emit(ctx, audit.Event{
		UserID: req.Sender,
		Action: string(audit.EventMessageSent),
		Details: map[string]string{
			"message_id":      message.ID.String(),
			"conversation_id": conversation.ID.String(),
			"category_id":     req.CategoryID.String(),
			"state":           string(state),
		},
	})

	result := &SendResult{
		Message:        message,
		ReceiverUnread: unread,
		SlotsRemaining: entry.Remaining,
	}

	// A bundled reveal executes after commit and never rolls the message
	// back; its failure is reported alongside the committed send.
	if req.Reveal {
		created, err := s.revealer.Reveal(ctx, req.Sender, req.Receiver, req.CategoryID)
		switch {
		case err != nil:
			s.logger.WarnContext(ctx, "bundled reveal failed after committed send",
				"message_id", message.ID.String(),
				"error", err,
			)
			result.RevealErr = err
		case created:
			result.RevealPerformed = true
		default:
			result.RevealAlreadyDone = true
		}
	}

	return result, nil
}

// rollback compensates a reserved slot after a persist failure and returns
// the original pipeline error.
func (s *Service) rollback(ctx context.Context, req SendRequest, state sendState, cause error) error {
	if releaseErr := s.ledger.Release(ctx, req.Sender, req.CategoryID); releaseErr != nil {
		// Losing a slot is preferable to double-spending one; log loudly
		// and surface the original failure.
		s.logger.ErrorContext(ctx, "slot release failed during rollback",
			"sender", req.Sender.String(),
			"category_id", req.CategoryID.String(),
			"state", string(state),
			"error", releaseErr,
		)
	} else {
		s.logger.InfoContext(ctx, "send rolled back, slot released",
			"sender", req.Sender.String(),
			"category_id", req.CategoryID.String(),
			"state", string(stateRolledBack),
		)
	}
	return cause
}

func (s *Service) emit(ctx context.Context, event audit.Event) {
	if s.publisher == nil {
		return
	}
	event.RequestID = requestcontext.RequestID(ctx)
	if err := s.publisher.Emit(ctx, event); err != nil {
		s.logger.ErrorContext(ctx, "failed to emit audit event",
			"action", event.Action,
			"error", err,
		)
	}
}
