package messaging

import (
	"context"
	"time"

	id "vouch/pkg/domain"
)

// Store persists conversations, messages, and headings.
type Store interface {
	// GetOrCreateConversation returns the unique conversation for the
	// canonical pair, creating it when absent. Concurrent first-contact
	// attempts from both directions must converge on one conversation.
	GetOrCreateConversation(ctx context.Context, a, b id.UserID, now time.Time) (*Conversation, error)

	// GetConversation returns a conversation or sentinel.ErrNotFound.
	GetConversation(ctx context.Context, conversationID id.ConversationID) (*Conversation, error)

	// ConversationBetween returns the pair's conversation or
	// sentinel.ErrNotFound. Pure lookup; never creates.
	ConversationBetween(ctx context.Context, a, b id.UserID) (*Conversation, error)

	// AppendMessage assigns the message's sequence number and a timestamp
	// clamped to be >= the conversation's latest, then stores it and
	// advances the conversation's LastMessageAt.
	AppendMessage(ctx context.Context, message *Message) (*Message, error)

	// GetMessage returns a message or sentinel.ErrNotFound.
	GetMessage(ctx context.Context, messageID id.MessageID) (*Message, error)

	// MarkRead flips the read flag. Returns changed=false when the message
	// was already read.
	MarkRead(ctx context.Context, messageID id.MessageID, now time.Time) (changed bool, err error)

	// ConversationsFor returns the user's conversations annotated with
	// latest message, unread count, and heading, most-recent-first.
	ConversationsFor(ctx context.Context, userID id.UserID) ([]*ConversationSummary, error)

	// ListMessages returns up to limit messages of a conversation in
	// chronological order. When before is non-nil, only messages strictly
	// preceding that message are returned (the page ends just before the
	// cursor).
	ListMessages(ctx context.Context, conversationID id.ConversationID, limit int, before *id.MessageID) ([]*Message, error)

	// UnreadCount counts unread messages addressed to userID in the
	// conversation.
	UnreadCount(ctx context.Context, conversationID id.ConversationID, userID id.UserID) (int, error)

	// SetHeading stores userID's custom heading for the conversation.
	SetHeading(ctx context.Context, conversationID id.ConversationID, userID id.UserID, heading string) error
}
