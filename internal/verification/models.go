package verification

import (
	"time"

	id "vouch/pkg/domain"
)

// VerificationThreshold is the number of accepted referrals that promotes a
// user to verified status.
const VerificationThreshold = 3

// Status tracks a user's trust level. Once Verified flips true it never
// reverts, even if referrals are later rejected.
type Status struct {
	UserID        id.UserID
	ReferralCount int
	Verified      bool
	VerifiedBy    *id.UserID
	VerifiedAt    *time.Time
}

// ReferralStatus is the lifecycle state of a referral.
type ReferralStatus string

const (
	ReferralPending  ReferralStatus = "pending"
	ReferralAccepted ReferralStatus = "accepted"
	ReferralRejected ReferralStatus = "rejected"
)

// Referral records one member vouching for another. The recipient starts as
// a pending email and is bound to a user once they register.
type Referral struct {
	ID             id.ReferralID
	Sender         id.UserID
	RecipientEmail string
	Recipient      *id.UserID
	Status         ReferralStatus
	CreatedAt      time.Time
	RespondedAt    *time.Time
}
