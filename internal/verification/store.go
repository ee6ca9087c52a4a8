package verification

import (
	"context"
	"time"

	id "vouch/pkg/domain"
)

// StatusStore persists per-user verification state. Implementations must
// lazily initialize a zero status on first reference and keep increments
// atomic per user.
type StatusStore interface {
	// Get returns the user's status, creating a zero status if absent.
	Get(ctx context.Context, userID id.UserID) (*Status, error)

	// IncrementReferralCount adds one accepted referral and returns the
	// new count. Atomic per user.
	IncrementReferralCount(ctx context.Context, userID id.UserID) (int, error)

	// SetVerified marks the user verified. A no-op when already verified;
	// verification never reverts.
	SetVerified(ctx context.Context, userID id.UserID, by *id.UserID, at time.Time) error
}

// ReferralStore persists referrals.
type ReferralStore interface {
	// Create stores a new referral. Returns sentinel.ErrAlreadyExists when
	// the sender already referred this email.
	Create(ctx context.Context, referral *Referral) error

	// Get returns a referral or sentinel.ErrNotFound.
	Get(ctx context.Context, referralID id.ReferralID) (*Referral, error)

	// BindRecipient links a registered user to a pending referral sent to
	// their email.
	BindRecipient(ctx context.Context, referralID id.ReferralID, userID id.UserID) error

	// MarkAccepted transitions pending -> accepted exactly once. Returns
	// sentinel.ErrAlreadyExists when the referral was already accepted and
	// sentinel.ErrInvalidState when it is rejected or has no bound
	// recipient. Two concurrent calls yield one success.
	MarkAccepted(ctx context.Context, referralID id.ReferralID, now time.Time) (*Referral, error)
}
