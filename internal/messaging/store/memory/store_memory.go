package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"vouch/internal/messaging"
	id "vouch/pkg/domain"
	"vouch/pkg/platform/sentinel"
)

// Store is the in-memory messaging.Store implementation. One mutex guards
// all maps; conversation creation and message sequencing happen inside it so
// the canonical-pair and append-order invariants hold under concurrency.
type Store struct {
	mu            sync.Mutex
	conversations map[id.ConversationID]*messaging.Conversation
	byPair        map[pairKey]id.ConversationID
	messages      map[id.ConversationID][]*messaging.Message
	byMessageID   map[id.MessageID]*messaging.Message
	headings      map[headingKey]string
	nextSeq       map[id.ConversationID]uint64
}

type pairKey struct {
	lo id.UserID
	hi id.UserID
}

type headingKey struct {
	conversation id.ConversationID
	user         id.UserID
}

func NewStore() *Store {
	return &Store{
		conversations: make(map[id.ConversationID]*messaging.Conversation),
		byPair:        make(map[pairKey]id.ConversationID),
		messages:      make(map[id.ConversationID][]*messaging.Message),
		byMessageID:   make(map[id.MessageID]*messaging.Message),
		headings:      make(map[headingKey]string),
		nextSeq:       make(map[id.ConversationID]uint64),
	}
}

func (s *Store) GetOrCreateConversation(_ context.Context, a, b id.UserID, now time.Time) (*messaging.Conversation, error) {
	lo, hi := messaging.CanonicalPair(a, b)
	key := pairKey{lo: lo, hi: hi}

	s.mu.Lock()
	defer s.mu.Unlock()

	if conversationID, ok := s.byPair[key]; ok {
		copied := *s.conversations[conversationID]
		return &copied, nil
	}

	conversation := &messaging.Conversation{
		ID:            id.NewConversationID(),
		UserLo:        lo,
		UserHi:        hi,
		CreatedAt:     now,
		LastMessageAt: now,
	}
	s.conversations[conversation.ID] = conversation
	s.byPair[key] = conversation.ID
	copied := *conversation
	return &copied, nil
}

func (s *Store) GetConversation(_ context.Context, conversationID id.ConversationID) (*messaging.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conversation, ok := s.conversations[conversationID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copied := *conversation
	return &copied, nil
}

func (s *Store) ConversationBetween(_ context.Context, a, b id.UserID) (*messaging.Conversation, error) {
	lo, hi := messaging.CanonicalPair(a, b)

	s.mu.Lock()
	defer s.mu.Unlock()
	conversationID, ok := s.byPair[pairKey{lo: lo, hi: hi}]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copied := *s.conversations[conversationID]
	return &copied, nil
}

func (s *Store) AppendMessage(_ context.Context, message *messaging.Message) (*messaging.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conversation, ok := s.conversations[message.ConversationID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}

	// Clamp the timestamp so ordering survives clock skew; the sequence
	// number breaks ties.
	existing := s.messages[message.ConversationID]
	if n := len(existing); n > 0 && message.CreatedAt.Before(existing[n-1].CreatedAt) {
		message.CreatedAt = existing[n-1].CreatedAt
	}
	message.Seq = s.nextSeq[message.ConversationID]
	s.nextSeq[message.ConversationID]++

	copied := *message
	s.messages[message.ConversationID] = append(s.messages[message.ConversationID], &copied)
	s.byMessageID[message.ID] = &copied

	if message.CreatedAt.After(conversation.LastMessageAt) {
		conversation.LastMessageAt = message.CreatedAt
	}

	result := copied
	return &result, nil
}

func (s *Store) GetMessage(_ context.Context, messageID id.MessageID) (*messaging.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	message, ok := s.byMessageID[messageID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copied := *message
	return &copied, nil
}

func (s *Store) MarkRead(_ context.Context, messageID id.MessageID, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	message, ok := s.byMessageID[messageID]
	if !ok {
		return false, sentinel.ErrNotFound
	}
	if message.Read {
		return false, nil
	}
	message.Read = true
	readAt := now
	message.ReadAt = &readAt
	return true, nil
}

func (s *Store) ConversationsFor(_ context.Context, userID id.UserID) ([]*messaging.ConversationSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var summaries []*messaging.ConversationSummary
	for conversationID, conversation := range s.conversations {
		if !conversation.Participant(userID) {
			continue
		}
		msgs := s.messages[conversationID]
		if len(msgs) == 0 {
			continue
		}

		unread := 0
		for _, m := range msgs {
			if m.Receiver == userID && !m.Read {
				unread++
			}
		}

		convCopy := *conversation
		lastCopy := *msgs[len(msgs)-1]
		summaries = append(summaries, &messaging.ConversationSummary{
			Conversation: &convCopy,
			OtherUser:    conversation.Other(userID),
			LastMessage:  &lastCopy,
			UnreadCount:  unread,
			Heading:      s.headings[headingKey{conversation: conversationID, user: userID}],
		})
	}

	sort.Slice(summaries, func(i, j int) bool {
		li, lj := summaries[i].LastMessage, summaries[j].LastMessage
		if li.CreatedAt.Equal(lj.CreatedAt) {
			return li.Seq > lj.Seq
		}
		return li.CreatedAt.After(lj.CreatedAt)
	})
	return summaries, nil
}

func (s *Store) ListMessages(_ context.Context, conversationID id.ConversationID, limit int, before *id.MessageID) ([]*messaging.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[conversationID]; !ok {
		return nil, sentinel.ErrNotFound
	}

	msgs := s.messages[conversationID]
	end := len(msgs)
	if before != nil {
		cursor, ok := s.byMessageID[*before]
		if !ok || cursor.ConversationID != conversationID {
			return nil, sentinel.ErrNotFound
		}
		end = sort.Search(len(msgs), func(i int) bool { return msgs[i].Seq >= cursor.Seq })
	}

	start := end - limit
	if start < 0 {
		start = 0
	}

	page := make([]*messaging.Message, 0, end-start)
	for _, m := range msgs[start:end] {
		copied := *m
		page = append(page, &copied)
	}
	return page, nil
}

func (s *Store) UnreadCount(_ context.Context, conversationID id.ConversationID, userID id.UserID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, m := range s.messages[conversationID] {
		if m.Receiver == userID && !m.Read {
			count++
		}
	}
	return count, nil
}

func (s *Store) SetHeading(_ context.Context, conversationID id.ConversationID, userID id.UserID, heading string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[conversationID]; !ok {
		return sentinel.ErrNotFound
	}
	s.headings[headingKey{conversation: conversationID, user: userID}] = heading
	return nil
}
