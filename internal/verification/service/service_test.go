package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"vouch/internal/verification"
	"vouch/internal/verification/store/memory"
	id "vouch/pkg/domain"
	dErrors "vouch/pkg/domain-errors"
	auditpub "vouch/pkg/platform/audit/publisher"
	auditmem "vouch/pkg/platform/audit/store/memory"
	"vouch/pkg/requestcontext"
)

type VerificationSuite struct {
	suite.Suite
	ctx       context.Context
	svc       *Service
	referrals *memory.ReferralStore
	publisher *auditpub.Publisher
}

func TestVerificationSuite(t *testing.T) {
	suite.Run(t, new(VerificationSuite))
}

func (s *VerificationSuite) SetupTest() {
	s.ctx = requestcontext.WithTime(context.Background(),
		time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC))
	s.referrals = memory.NewReferralStore()
	s.publisher = auditpub.NewPublisher(auditmem.NewInMemoryStore())

	allowAll := AdminCheckerFunc(func(context.Context, id.UserID) (bool, error) {
		return true, nil
	})
	svc, err := New(memory.NewStatusStore(), s.referrals, allowAll,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithAuditPublisher(s.publisher),
	)
	require.NoError(s.T(), err)
	s.svc = svc
}

// acceptReferral creates, binds, and accepts one referral for recipient.
func (s *VerificationSuite) acceptReferral(sender, recipient id.UserID, email string) {
	referral, err := s.svc.CreateReferral(s.ctx, sender, email)
	require.NoError(s.T(), err)
	require.NoError(s.T(), s.svc.BindRecipient(s.ctx, referral.ID, recipient))
	already, err := s.svc.RecordReferralAccepted(s.ctx, referral.ID)
	require.NoError(s.T(), err)
	require.False(s.T(), already)
}

func (s *VerificationSuite) TestNewUserStartsUnverified() {
	status, err := s.svc.CheckVerification(s.ctx, id.NewUserID())
	require.NoError(s.T(), err)
	assert.False(s.T(), status.Verified)
	assert.Zero(s.T(), status.ReferralCount)
}

func (s *VerificationSuite) TestThresholdPromotes() {
	recipient := id.NewUserID()

	for i := 0; i < verification.VerificationThreshold; i++ {
		status, err := s.svc.CheckVerification(s.ctx, recipient)
		require.NoError(s.T(), err)
		require.False(s.T(), status.Verified, "promoted before threshold at %d referrals", i)

		s.acceptReferral(id.NewUserID(), recipient, "r@example.com")
	}

	status, err := s.svc.CheckVerification(s.ctx, recipient)
	require.NoError(s.T(), err)
	assert.True(s.T(), status.Verified)
	assert.Equal(s.T(), verification.VerificationThreshold, status.ReferralCount)

	eligible, err := s.svc.IsEligibleToMessage(s.ctx, recipient)
	require.NoError(s.T(), err)
	assert.True(s.T(), eligible)
}

func (s *VerificationSuite) TestRepeatAcceptanceCountsOnce() {
	recipient := id.NewUserID()
	referral, err := s.svc.CreateReferral(s.ctx, id.NewUserID(), "once@example.com")
	require.NoError(s.T(), err)
	require.NoError(s.T(), s.svc.BindRecipient(s.ctx, referral.ID, recipient))

	already, err := s.svc.RecordReferralAccepted(s.ctx, referral.ID)
	require.NoError(s.T(), err)
	assert.False(s.T(), already)

	already, err = s.svc.RecordReferralAccepted(s.ctx, referral.ID)
	require.NoError(s.T(), err)
	assert.True(s.T(), already)

	status, err := s.svc.CheckVerification(s.ctx, recipient)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), 1, status.ReferralCount)
}

func (s *VerificationSuite) TestConcurrentAcceptanceCountsOnce() {
	recipient := id.NewUserID()
	referral, err := s.svc.CreateReferral(s.ctx, id.NewUserID(), "race@example.com")
	require.NoError(s.T(), err)
	require.NoError(s.T(), s.svc.BindRecipient(s.ctx, referral.ID, recipient))

	const workers = 8
	var wg sync.WaitGroup
	fresh := make(chan bool, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			already, err := s.svc.RecordReferralAccepted(s.ctx, referral.ID)
			if err == nil && !already {
				fresh <- true
			}
		}()
	}
	wg.Wait()
	close(fresh)

	assert.Len(s.T(), fresh, 1)
	status, err := s.svc.CheckVerification(s.ctx, recipient)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), 1, status.ReferralCount)
}

func (s *VerificationSuite) TestDuplicateReferralRejected() {
	sender := id.NewUserID()
	_, err := s.svc.CreateReferral(s.ctx, sender, "dup@example.com")
	require.NoError(s.T(), err)

	_, err = s.svc.CreateReferral(s.ctx, sender, "dup@example.com")
	assert.True(s.T(), dErrors.Is(err, dErrors.CodeConflict))

	// A different sender may still refer the same address.
	_, err = s.svc.CreateReferral(s.ctx, id.NewUserID(), "dup@example.com")
	assert.NoError(s.T(), err)
}

func (s *VerificationSuite) TestAcceptWithoutRecipientFails() {
	referral, err := s.svc.CreateReferral(s.ctx, id.NewUserID(), "unbound@example.com")
	require.NoError(s.T(), err)

	_, err = s.svc.RecordReferralAccepted(s.ctx, referral.ID)
	assert.True(s.T(), dErrors.Is(err, dErrors.CodeBadRequest))
}

func (s *VerificationSuite) TestInvalidEmailRejected() {
	_, err := s.svc.CreateReferral(s.ctx, id.NewUserID(), "   ")
	assert.True(s.T(), dErrors.Is(err, dErrors.CodeInvalidInput))

	_, err = s.svc.CreateReferral(s.ctx, id.NewUserID(), "not-an-email")
	assert.True(s.T(), dErrors.Is(err, dErrors.CodeInvalidInput))
}

func (s *VerificationSuite) TestOverrideVerify() {
	user := id.NewUserID()
	admin := id.NewUserID()

	require.NoError(s.T(), s.svc.OverrideVerify(s.ctx, user, admin))

	status, err := s.svc.CheckVerification(s.ctx, user)
	require.NoError(s.T(), err)
	assert.True(s.T(), status.Verified)
	require.NotNil(s.T(), status.VerifiedBy)
	assert.Equal(s.T(), admin, *status.VerifiedBy)
	assert.Zero(s.T(), status.ReferralCount)
}

func (s *VerificationSuite) TestOverrideVerifyDeniedWithoutCapability() {
	deny := AdminCheckerFunc(func(context.Context, id.UserID) (bool, error) {
		return false, nil
	})
	svc, err := New(memory.NewStatusStore(), memory.NewReferralStore(), deny,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(s.T(), err)

	err = svc.OverrideVerify(s.ctx, id.NewUserID(), id.NewUserID())
	assert.True(s.T(), dErrors.Is(err, dErrors.CodePermissionDenied))
}

func (s *VerificationSuite) TestVerificationNeverReverts() {
	recipient := id.NewUserID()
	for i := 0; i < verification.VerificationThreshold; i++ {
		s.acceptReferral(id.NewUserID(), recipient, "keep@example.com")
	}

	// Further accepted referrals keep counting but the flag stays set.
	s.acceptReferral(id.NewUserID(), recipient, "extra@example.com")

	status, err := s.svc.CheckVerification(s.ctx, recipient)
	require.NoError(s.T(), err)
	assert.True(s.T(), status.Verified)
	assert.Equal(s.T(), verification.VerificationThreshold+1, status.ReferralCount)
}
