package audit

import (
	"time"

	id "vouch/pkg/domain"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Timestamp time.Time
	UserID    id.UserID
	Action    string
	RequestID string
	// ActorID tracks who performed the action when different from UserID.
	// Used for admin operations where an admin acts on a user's behalf.
	ActorID string
	// Details carries event-specific key/value pairs (category ids,
	// counterpart users, remaining slots). Values stay stringly typed so
	// sinks can serialize without knowing every event shape.
	Details map[string]string
}

type AuditEvent string

const (
	// Verification events
	EventReferralCreated        AuditEvent = "referral_created"
	EventReferralAccepted       AuditEvent = "referral_accepted"
	EventUserVerified           AuditEvent = "user_verified"
	EventVerificationOverridden AuditEvent = "verification_overridden"

	// Messaging events
	EventMessageSent      AuditEvent = "message_sent"
	EventSlotExhausted    AuditEvent = "slot_exhausted"
	EventSlotReleased     AuditEvent = "slot_released"
	EventIdentityRevealed AuditEvent = "identity_revealed"

	// Category events
	EventCategoryCreated     AuditEvent = "category_created"
	EventCategoryDeactivated AuditEvent = "category_deactivated"
)
