// Package service implements the conversation and message store operations:
// canonical conversations, ordered append, read state, and the inbox/history
// projections.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"vouch/internal/messaging"
	id "vouch/pkg/domain"
	dErrors "vouch/pkg/domain-errors"
	"vouch/pkg/platform/sentinel"
	"vouch/pkg/requestcontext"
)

const maxHeadingLen = 100

type Service struct {
	store  messaging.Store
	logger *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func New(store messaging.Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("messaging store is required")
	}
	svc := &Service{
		store:  store,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// GetOrCreateConversation canonicalizes the pair and returns its single
// conversation.
func (s *Service) GetOrCreateConversation(ctx context.Context, a, b id.UserID) (*messaging.Conversation, error) {
	if a.IsNil() || b.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "both users are required")
	}
	if a == b {
		return nil, dErrors.New(dErrors.CodeSelfMessage, "cannot start a conversation with yourself")
	}
	conversation, err := s.store.GetOrCreateConversation(ctx, a, b, requestcontext.Now(ctx))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve conversation")
	}
	return conversation, nil
}

// ConversationExists reports whether the pair already shares a conversation.
// Satisfies the identity directory's ConversationChecker.
func (s *Service) ConversationExists(ctx context.Context, a, b id.UserID) (bool, error) {
	_, err := s.store.ConversationBetween(ctx, a, b)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// AppendMessage validates and stores a message in the conversation. The
// store assigns the sequence number and clamps the timestamp so ordering is
// monotonic within the conversation.
func (s *Service) AppendMessage(ctx context.Context, conversation *messaging.Conversation, sender, receiver id.UserID, categoryID id.CategoryID, content string) (*messaging.Message, error) {
	if sender == receiver {
		return nil, dErrors.New(dErrors.CodeSelfMessage, "cannot send a message to yourself")
	}
	if strings.TrimSpace(content) == "" {
		return nil, dErrors.New(dErrors.CodeEmptyContent, "message content cannot be empty")
	}
	if !conversation.Participant(sender) || !conversation.Participant(receiver) {
		return nil, dErrors.New(dErrors.CodeNotParticipant, "sender and receiver must belong to the conversation")
	}

	message := &messaging.Message{
		ID:             id.NewMessageID(),
		ConversationID: conversation.ID,
		Sender:         sender,
		Receiver:       receiver,
		CategoryID:     categoryID,
		Content:        content,
		CreatedAt:      requestcontext.Now(ctx),
	}
	stored, err := s.store.AppendMessage(ctx, message)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to append message")
	}
	return stored, nil
}

// MarkRead flips a message to read on behalf of its receiver. Idempotent:
// marking an already-read message succeeds without change.
func (s *Service) MarkRead(ctx context.Context, messageID id.MessageID, reader id.UserID) (*messaging.Message, error) {
	message, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "message not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load message")
	}
	if message.Receiver != reader {
		return nil, dErrors.New(dErrors.CodeNotReceiver, "only the receiver may mark a message read")
	}

	if _, err := s.store.MarkRead(ctx, messageID, requestcontext.Now(ctx)); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to mark message read")
	}
	return s.store.GetMessage(ctx, messageID)
}

// ConversationsFor returns the user's inbox: conversations with latest
// message and unread count, most-recent-first.
func (s *Service) ConversationsFor(ctx context.Context, userID id.UserID) ([]*messaging.ConversationSummary, error) {
	summaries, err := s.store.ConversationsFor(ctx, userID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list conversations")
	}
	return summaries, nil
}

// ListMessages returns a chronological page of a conversation's history.
// The caller must be a participant.
func (s *Service) ListMessages(ctx context.Context, conversationID id.ConversationID, userID id.UserID, limit int, before *id.MessageID) ([]*messaging.Message, error) {
	conversation, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "conversation not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load conversation")
	}
	if !conversation.Participant(userID) {
		return nil, dErrors.New(dErrors.CodeNotParticipant, "not a participant in this conversation")
	}

	messages, err := s.store.ListMessages(ctx, conversationID, clampLimit(limit), before)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "cursor message not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list messages")
	}
	return messages, nil
}

// MessagesBetween resolves the pair's conversation and pages its history.
func (s *Service) MessagesBetween(ctx context.Context, userA, userB id.UserID, limit int, before *id.MessageID) ([]*messaging.Message, error) {
	conversation, err := s.store.ConversationBetween(ctx, userA, userB)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return []*messaging.Message{}, nil
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve conversation")
	}
	return s.ListMessages(ctx, conversation.ID, userA, limit, before)
}

// UnreadCount counts unread messages addressed to userID in a conversation.
func (s *Service) UnreadCount(ctx context.Context, conversationID id.ConversationID, userID id.UserID) (int, error) {
	count, err := s.store.UnreadCount(ctx, conversationID, userID)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to count unread messages")
	}
	return count, nil
}

// SetHeading stores the caller's custom heading for a conversation.
func (s *Service) SetHeading(ctx context.Context, conversationID id.ConversationID, userID id.UserID, heading string) error {
	heading = strings.TrimSpace(heading)
	if len(heading) > maxHeadingLen {
		return dErrors.Newf(dErrors.CodeInvalidInput, "heading must be at most %d characters", maxHeadingLen)
	}

	conversation, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "conversation not found")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load conversation")
	}
	if !conversation.Participant(userID) {
		return dErrors.New(dErrors.CodeNotParticipant, "not a participant in this conversation")
	}

	if err := s.store.SetHeading(ctx, conversationID, userID, heading); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to set heading")
	}
	return nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return messaging.DefaultPageSize
	}
	if limit > messaging.MaxPageSize {
		return messaging.MaxPageSize
	}
	return limit
}
