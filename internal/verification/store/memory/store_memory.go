package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"vouch/internal/verification"
	id "vouch/pkg/domain"
	"vouch/pkg/platform/sentinel"
)

// StatusStore is the in-memory StatusStore implementation.
type StatusStore struct {
	mu       sync.Mutex
	statuses map[id.UserID]*verification.Status
}

func NewStatusStore() *StatusStore {
	return &StatusStore{statuses: make(map[id.UserID]*verification.Status)}
}

// getLocked lazily initializes a zero status. Caller holds s.mu.
func (s *StatusStore) getLocked(userID id.UserID) *verification.Status {
	status, ok := s.statuses[userID]
	if !ok {
		status = &verification.Status{UserID: userID}
		s.statuses[userID] = status
	}
	return status
}

func (s *StatusStore) Get(_ context.Context, userID id.UserID) (*verification.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	status := s.getLocked(userID)
	copied := *status
	return &copied, nil
}

func (s *StatusStore) IncrementReferralCount(_ context.Context, userID id.UserID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	status := s.getLocked(userID)
	status.ReferralCount++
	return status.ReferralCount, nil
}

func (s *StatusStore) SetVerified(_ context.Context, userID id.UserID, by *id.UserID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	status := s.getLocked(userID)
	if status.Verified {
		return nil
	}
	status.Verified = true
	status.VerifiedBy = by
	verifiedAt := at
	status.VerifiedAt = &verifiedAt
	return nil
}

// ReferralStore is the in-memory ReferralStore implementation.
type ReferralStore struct {
	mu        sync.Mutex
	referrals map[id.ReferralID]*verification.Referral
	byPair    map[string]id.ReferralID
}

func NewReferralStore() *ReferralStore {
	return &ReferralStore{
		referrals: make(map[id.ReferralID]*verification.Referral),
		byPair:    make(map[string]id.ReferralID),
	}
}

func pairKey(sender id.UserID, email string) string {
	return sender.String() + "|" + strings.ToLower(strings.TrimSpace(email))
}

func (s *ReferralStore) Create(_ context.Context, referral *verification.Referral) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pairKey(referral.Sender, referral.RecipientEmail)
	if _, exists := s.byPair[key]; exists {
		return sentinel.ErrAlreadyExists
	}
	copied := *referral
	s.referrals[referral.ID] = &copied
	s.byPair[key] = referral.ID
	return nil
}

func (s *ReferralStore) Get(_ context.Context, referralID id.ReferralID) (*verification.Referral, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	referral, ok := s.referrals[referralID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copied := *referral
	return &copied, nil
}

func (s *ReferralStore) BindRecipient(_ context.Context, referralID id.ReferralID, userID id.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	referral, ok := s.referrals[referralID]
	if !ok {
		return sentinel.ErrNotFound
	}
	recipient := userID
	referral.Recipient = &recipient
	return nil
}

func (s *ReferralStore) MarkAccepted(_ context.Context, referralID id.ReferralID, now time.Time) (*verification.Referral, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	referral, ok := s.referrals[referralID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	switch referral.Status {
	case verification.ReferralAccepted:
		return nil, sentinel.ErrAlreadyExists
	case verification.ReferralRejected:
		return nil, sentinel.ErrInvalidState
	}
	if referral.Recipient == nil {
		return nil, sentinel.ErrInvalidState
	}
	referral.Status = verification.ReferralAccepted
	respondedAt := now
	referral.RespondedAt = &respondedAt
	copied := *referral
	return &copied, nil
}
