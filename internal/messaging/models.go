package messaging

import (
	"bytes"
	"time"

	"github.com/google/uuid"

	id "vouch/pkg/domain"
)

// Conversation is the single thread for an unordered user pair. The pair is
// stored canonicalized (lower UUID first) so both directions resolve to one
// row.
type Conversation struct {
	ID            id.ConversationID
	UserLo        id.UserID
	UserHi        id.UserID
	CreatedAt     time.Time
	LastMessageAt time.Time
}

// Participant reports whether userID belongs to the conversation.
func (c *Conversation) Participant(userID id.UserID) bool {
	return c.UserLo == userID || c.UserHi == userID
}

// Other returns the counterpart of userID in the conversation.
func (c *Conversation) Other(userID id.UserID) id.UserID {
	if c.UserLo == userID {
		return c.UserHi
	}
	return c.UserLo
}

// CanonicalPair orders two user IDs byte-wise so (A,B) and (B,A) map to the
// same key.
func CanonicalPair(a, b id.UserID) (lo, hi id.UserID) {
	ua, ub := uuid.UUID(a), uuid.UUID(b)
	if bytes.Compare(ua[:], ub[:]) <= 0 {
		return a, b
	}
	return b, a
}

// Message is one entry in a conversation. Seq is the insertion sequence
// within the conversation; together with CreatedAt it gives messages a total
// order that survives clock skew.
type Message struct {
	ID             id.MessageID
	ConversationID id.ConversationID
	Sender         id.UserID
	Receiver       id.UserID
	CategoryID     id.CategoryID
	Content        string
	Seq            uint64
	CreatedAt      time.Time
	Read           bool
	ReadAt         *time.Time
}

// ConversationSummary is the inbox projection: one conversation annotated
// with its latest message and the viewer's unread count.
type ConversationSummary struct {
	Conversation *Conversation
	OtherUser    id.UserID
	LastMessage  *Message
	UnreadCount  int
	Heading      string
}

// Paging bounds for message history.
const (
	DefaultPageSize = 50
	MaxPageSize     = 100
)
