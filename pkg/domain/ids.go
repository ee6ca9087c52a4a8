// Package domain defines typed identifiers and value types shared across
// modules. IDs are distinct types over uuid.UUID so the compiler rejects
// cross-entity mixups; construct from external input via the Parse functions
// to enforce validity at trust boundaries.
package domain

import (
	"github.com/google/uuid"

	dErrors "vouch/pkg/domain-errors"
)

type (
	// UserID identifies a user. The core never mutates user records; it
	// only references identities supplied by the external auth layer.
	UserID uuid.UUID

	// CommunityID scopes anonymous personas.
	CommunityID uuid.UUID

	// CategoryID identifies a message category (system or user-custom).
	CategoryID uuid.UUID

	// ConversationID identifies the single conversation of an unordered
	// user pair.
	ConversationID uuid.UUID

	// MessageID identifies a message.
	MessageID uuid.UUID

	// ReferralID identifies a referral.
	ReferralID uuid.UUID
)

func (id UserID) String() string         { return uuid.UUID(id).String() }
func (id CommunityID) String() string    { return uuid.UUID(id).String() }
func (id CategoryID) String() string     { return uuid.UUID(id).String() }
func (id ConversationID) String() string { return uuid.UUID(id).String() }
func (id MessageID) String() string      { return uuid.UUID(id).String() }
func (id ReferralID) String() string     { return uuid.UUID(id).String() }

func (id UserID) IsNil() bool         { return uuid.UUID(id) == uuid.Nil }
func (id CommunityID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id CategoryID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }
func (id ConversationID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id MessageID) IsNil() bool      { return uuid.UUID(id) == uuid.Nil }
func (id ReferralID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }

// NewUserID returns a fresh random UserID. Test helper; production user IDs
// arrive from the auth collaborator.
func NewUserID() UserID { return UserID(uuid.New()) }

func NewCommunityID() CommunityID       { return CommunityID(uuid.New()) }
func NewCategoryID() CategoryID         { return CategoryID(uuid.New()) }
func NewConversationID() ConversationID { return ConversationID(uuid.New()) }
func NewMessageID() MessageID           { return MessageID(uuid.New()) }
func NewReferralID() ReferralID         { return ReferralID(uuid.New()) }

// parseUUID enforces the shared invariant: IDs must be valid, non-nil UUIDs.
func parseUUID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id cannot be empty")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid id format")
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id cannot be nil")
	}
	return u, nil
}

func ParseUserID(s string) (UserID, error) {
	u, err := parseUUID(s)
	return UserID(u), err
}

func ParseCommunityID(s string) (CommunityID, error) {
	u, err := parseUUID(s)
	return CommunityID(u), err
}

func ParseCategoryID(s string) (CategoryID, error) {
	u, err := parseUUID(s)
	return CategoryID(u), err
}

func ParseConversationID(s string) (ConversationID, error) {
	u, err := parseUUID(s)
	return ConversationID(u), err
}

func ParseMessageID(s string) (MessageID, error) {
	u, err := parseUUID(s)
	return MessageID(u), err
}

func ParseReferralID(s string) (ReferralID, error) {
	u, err := parseUUID(s)
	return ReferralID(u), err
}
