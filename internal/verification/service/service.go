// Package service implements the verification engine: referral counting,
// threshold promotion, and administrative override.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"vouch/internal/platform/metrics"
	"vouch/internal/verification"
	id "vouch/pkg/domain"
	dErrors "vouch/pkg/domain-errors"
	"vouch/pkg/email"
	audit "vouch/pkg/platform/audit"
	auditpub "vouch/pkg/platform/audit/publisher"
	"vouch/pkg/platform/sentinel"
	"vouch/pkg/requestcontext"
)

// AdminChecker is the delegated capability check for override verification.
type AdminChecker interface {
	CanOverrideVerify(ctx context.Context, admin id.UserID) (bool, error)
}

// AdminCheckerFunc adapts a function to AdminChecker.
type AdminCheckerFunc func(ctx context.Context, admin id.UserID) (bool, error)

func (f AdminCheckerFunc) CanOverrideVerify(ctx context.Context, admin id.UserID) (bool, error) {
	return f(ctx, admin)
}

type Service struct {
	statuses  verification.StatusStore
	referrals verification.ReferralStore
	admin     AdminChecker
	logger    *slog.Logger
	publisher *auditpub.Publisher
	metrics   *metrics.Metrics
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

func New(statuses verification.StatusStore, referrals verification.ReferralStore, admin AdminChecker, opts ...Option) (*Service, error) {
	if statuses == nil {
		return nil, fmt.Errorf("status store is required")
	}
	if referrals == nil {
		return nil, fmt.Errorf("referral store is required")
	}
	if admin == nil {
		return nil, fmt.Errorf("admin checker is required")
	}

	svc := &Service{
		statuses:  statuses,
		referrals: referrals,
		admin:     admin,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// CreateReferral records a new pending referral from sender to an email
// address. A sender may refer each address once.
func (s *Service) CreateReferral(ctx context.Context, sender id.UserID, recipientEmail string) (*verification.Referral, error) {
	if sender.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "sender is required")
	}
	recipientEmail, err := email.Normalize(recipientEmail)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "valid recipient email is required")
	}

	referral := &verification.Referral{
		ID:             id.NewReferralID(),
		Sender:         sender,
		RecipientEmail: recipientEmail,
		Status:         verification.ReferralPending,
		CreatedAt:      requestcontext.Now(ctx),
	}
	if err := s.referrals.Create(ctx, referral); err != nil {
		if errors.Is(err, sentinel.ErrAlreadyExists) {
			return nil, dErrors.New(dErrors.CodeConflict, "referral already sent to this address")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create referral")
	}

	s.emit(ctx, audit.Event{
		UserID: sender,
		Action: string(audit.EventReferralCreated),
		Details: map[string]string{
			"referral_id": referral.ID.String(),
		},
	})
	return referral, nil
}

// BindRecipient links a newly registered user to the referral that invited
// their email address.
func (s *Service) BindRecipient(ctx context.Context, referralID id.ReferralID, userID id.UserID) error {
	if userID.IsNil() {
		return dErrors.New(dErrors.CodeBadRequest, "user ID is required")
	}
	if err := s.referrals.BindRecipient(ctx, referralID, userID); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "referral not found")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to bind referral recipient")
	}
	return nil
}

// RecordReferralAccepted counts an accepted referral toward the recipient's
// verification, exactly once per referral. A repeat invocation reports
// alreadyProcessed=true with no error so callers can treat it as a no-op.
func (s *Service) RecordReferralAccepted(ctx context.Context, referralID id.ReferralID) (alreadyProcessed bool, err error) {
	now := requestcontext.Now(ctx)

	referral, err := s.referrals.MarkAccepted(ctx, referralID, now)
	if err != nil {
		switch {
		case errors.Is(err, sentinel.ErrAlreadyExists):
			return true, nil
		case errors.Is(err, sentinel.ErrNotFound):
			return false, dErrors.New(dErrors.CodeNotFound, "referral not found")
		case errors.Is(err, sentinel.ErrInvalidState):
			return false, dErrors.New(dErrors.CodeBadRequest, "referral has no registered recipient or was rejected")
		}
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to accept referral")
	}

	count, err := s.statuses.IncrementReferralCount(ctx, *referral.Recipient)
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to increment referral count")
	}
	if s.metrics != nil {
		s.metrics.ReferralsAccepted.Inc()
	}

	s.emit(ctx, audit.Event{
		UserID: *referral.Recipient,
		Action: string(audit.EventReferralAccepted),
		Details: map[string]string{
			"referral_id":    referralID.String(),
			"referral_count": fmt.Sprintf("%d", count),
		},
	})

	if err := s.promoteIfEligible(ctx, *referral.Recipient, count); err != nil {
		return false, err
	}
	return false, nil
}

// promoteIfEligible flips verified when the count reaches the threshold.
// Never demotes.
func (s *Service) promoteIfEligible(ctx context.Context, userID id.UserID, count int) error {
	if count < verification.VerificationThreshold {
		return nil
	}
	status, err := s.statuses.Get(ctx, userID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load verification status")
	}
	if status.Verified {
		return nil
	}
	if err := s.statuses.SetVerified(ctx, userID, nil, requestcontext.Now(ctx)); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to promote user")
	}
	if s.metrics != nil {
		s.metrics.UsersVerified.Inc()
	}
	s.logger.InfoContext(ctx, "user promoted to verified",
		"user_id", userID.String(),
		"referral_count", count,
	)
	s.emit(ctx, audit.Event{
		UserID: userID,
		Action: string(audit.EventUserVerified),
	})
	return nil
}

// OverrideVerify verifies a user immediately on an admin's authority.
func (s *Service) OverrideVerify(ctx context.Context, userID, adminID id.UserID) error {
	if userID.IsNil() {
		return dErrors.New(dErrors.CodeBadRequest, "user ID is required")
	}
	if adminID.IsNil() {
		return dErrors.New(dErrors.CodeUnauthorized, "admin ID is required")
	}

	allowed, err := s.admin.CanOverrideVerify(ctx, adminID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "admin capability check failed")
	}
	if !allowed {
		return dErrors.New(dErrors.CodePermissionDenied, "admin lacks override capability")
	}

	admin := adminID
	if err := s.statuses.SetVerified(ctx, userID, &admin, requestcontext.Now(ctx)); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to override verification")
	}
	if s.metrics != nil {
		s.metrics.UsersVerified.Inc()
	}
	s.emit(ctx, audit.Event{
		UserID:  userID,
		Action:  string(audit.EventVerificationOverridden),
		ActorID: adminID.String(),
	})
	return nil
}

// IsEligibleToMessage is the sole gate the messaging gateway consults.
// Unverified users can receive but not initiate.
func (s *Service) IsEligibleToMessage(ctx context.Context, userID id.UserID) (bool, error) {
	status, err := s.statuses.Get(ctx, userID)
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load verification status")
	}
	return status.Verified, nil
}

// CheckVerification returns the user's current status, lazily initialized.
func (s *Service) CheckVerification(ctx context.Context, userID id.UserID) (*verification.Status, error) {
	if userID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "user ID is required")
	}
	status, err := s.statuses.Get(ctx, userID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load verification status")
	}
	return status, nil
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
