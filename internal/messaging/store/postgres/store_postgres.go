// Package postgres implements the messaging store on pgx. Appends run in a
// transaction that locks the conversation row, which serializes sequence
// assignment and timestamp clamping per conversation.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"vouch/internal/messaging"
	id "vouch/pkg/domain"
	"vouch/pkg/platform/sentinel"
)

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) GetOrCreateConversation(ctx context.Context, a, b id.UserID, now time.Time) (*messaging.Conversation, error) {
	lo, hi := messaging.CanonicalPair(a, b)

	const insert = `
		INSERT INTO conversations (id, user_lo, user_hi, created_at, last_message_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (user_lo, user_hi) DO NOTHING`
	const query = `
		SELECT id, user_lo, user_hi, created_at, last_message_at
		FROM conversations WHERE user_lo = $1 AND user_hi = $2`

	_, err := s.pool.Exec(ctx, insert,
		uuid.UUID(id.NewConversationID()), uuid.UUID(lo), uuid.UUID(hi), now)
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}

	conversation, err := scanConversation(s.pool.QueryRow(ctx, query, uuid.UUID(lo), uuid.UUID(hi)))
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	return conversation, nil
}

func (s *Store) GetConversation(ctx context.Context, conversationID id.ConversationID) (*messaging.Conversation, error) {
	const query = `
		SELECT id, user_lo, user_hi, created_at, last_message_at
		FROM conversations WHERE id = $1`

	conversation, err := scanConversation(s.pool.QueryRow(ctx, query, uuid.UUID(conversationID)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return conversation, nil
}

func (s *Store) ConversationBetween(ctx context.Context, a, b id.UserID) (*messaging.Conversation, error) {
	lo, hi := messaging.CanonicalPair(a, b)
	const query = `
		SELECT id, user_lo, user_hi, created_at, last_message_at
		FROM conversations WHERE user_lo = $1 AND user_hi = $2`

	conversation, err := scanConversation(s.pool.QueryRow(ctx, query, uuid.UUID(lo), uuid.UUID(hi)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get conversation between: %w", err)
	}
	return conversation, nil
}

func (s *Store) AppendMessage(ctx context.Context, message *messaging.Message) (*messaging.Message, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin append: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Lock the conversation row to serialize appends within it.
	var lastMessageAt time.Time
	err = tx.QueryRow(ctx,
		`SELECT last_message_at FROM conversations WHERE id = $1 FOR UPDATE`,
		uuid.UUID(message.ConversationID)).Scan(&lastMessageAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("lock conversation: %w", err)
	}

	stored := *message
	if stored.CreatedAt.Before(lastMessageAt) {
		stored.CreatedAt = lastMessageAt
	}

	err = tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(seq) + 1, 0) FROM messages WHERE conversation_id = $1`,
		uuid.UUID(stored.ConversationID)).Scan(&stored.Seq)
	if err != nil {
		return nil, fmt.Errorf("next message seq: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO messages (id, conversation_id, seq, sender_id, receiver_id,
			category_id, content, created_at, read)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, FALSE)`,
		uuid.UUID(stored.ID), uuid.UUID(stored.ConversationID), stored.Seq,
		uuid.UUID(stored.Sender), uuid.UUID(stored.Receiver),
		uuid.UUID(stored.CategoryID), stored.Content, stored.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE conversations SET last_message_at = GREATEST(last_message_at, $2) WHERE id = $1`,
		uuid.UUID(stored.ConversationID), stored.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("advance conversation: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit append: %w", err)
	}
	return &stored, nil
}

func (s *Store) GetMessage(ctx context.Context, messageID id.MessageID) (*messaging.Message, error) {
	const query = `
		SELECT id, conversation_id, seq, sender_id, receiver_id, category_id,
			content, created_at, read, read_at
		FROM messages WHERE id = $1`

	message, err := scanMessage(s.pool.QueryRow(ctx, query, uuid.UUID(messageID)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get message: %w", err)
	}
	return message, nil
}

func (s *Store) MarkRead(ctx context.Context, messageID id.MessageID, now time.Time) (bool, error) {
	const query = `
		UPDATE messages SET read = TRUE, read_at = $2
		WHERE id = $1 AND NOT read`

	tag, err := s.pool.Exec(ctx, query, uuid.UUID(messageID), now)
	if err != nil {
		return false, fmt.Errorf("mark message read: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Absent or already read; disambiguate for the caller.
		var exists bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM messages WHERE id = $1)`,
			uuid.UUID(messageID)).Scan(&exists); err != nil {
			return false, fmt.Errorf("check message: %w", err)
		}
		if !exists {
			return false, sentinel.ErrNotFound
		}
		return false, nil
	}
	return true, nil
}

func (s *Store) ConversationsFor(ctx context.Context, userID id.UserID) ([]*messaging.ConversationSummary, error) {
	const query = `
		SELECT c.id, c.user_lo, c.user_hi, c.created_at, c.last_message_at,
			m.id, m.conversation_id, m.seq, m.sender_id, m.receiver_id,
			m.category_id, m.content, m.created_at, m.read, m.read_at,
			(SELECT COUNT(*) FROM messages u
				WHERE u.conversation_id = c.id AND u.receiver_id = $1 AND NOT u.read),
			COALESCE(h.heading, '')
		FROM conversations c
		JOIN LATERAL (
			SELECT * FROM messages
			WHERE conversation_id = c.id
			ORDER BY seq DESC LIMIT 1
		) m ON TRUE
		LEFT JOIN conversation_headings h
			ON h.conversation_id = c.id AND h.user_id = $1
		WHERE c.user_lo = $1 OR c.user_hi = $1
		ORDER BY m.created_at DESC, m.seq DESC`

	rows, err := s.pool.Query(ctx, query, uuid.UUID(userID))
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var summaries []*messaging.ConversationSummary
	for rows.Next() {
		var (
			conversation messaging.Conversation
			message      messaging.Message
			convUUID     uuid.UUID
			loUUID       uuid.UUID
			hiUUID       uuid.UUID
			msgUUID      uuid.UUID
			msgConvUUID  uuid.UUID
			senderUUID   uuid.UUID
			receiverUUID uuid.UUID
			categoryUUID uuid.UUID
			unread       int
			heading      string
		)
		err := rows.Scan(&convUUID, &loUUID, &hiUUID, &conversation.CreatedAt, &conversation.LastMessageAt,
			&msgUUID, &msgConvUUID, &message.Seq, &senderUUID, &receiverUUID,
			&categoryUUID, &message.Content, &message.CreatedAt, &message.Read, &message.ReadAt,
			&unread, &heading)
		if err != nil {
			return nil, fmt.Errorf("scan conversation summary: %w", err)
		}
		conversation.ID = id.ConversationID(convUUID)
		conversation.UserLo = id.UserID(loUUID)
		conversation.UserHi = id.UserID(hiUUID)
		message.ID = id.MessageID(msgUUID)
		message.ConversationID = id.ConversationID(msgConvUUID)
		message.Sender = id.UserID(senderUUID)
		message.Receiver = id.UserID(receiverUUID)
		message.CategoryID = id.CategoryID(categoryUUID)

		summaries = append(summaries, &messaging.ConversationSummary{
			Conversation: &conversation,
			OtherUser:    conversation.Other(userID),
			LastMessage:  &message,
			UnreadCount:  unread,
			Heading:      heading,
		})
	}
	return summaries, rows.Err()
}

func (s *Store) ListMessages(ctx context.Context, conversationID id.ConversationID, limit int, before *id.MessageID) ([]*messaging.Message, error) {
	if _, err := s.GetConversation(ctx, conversationID); err != nil {
		return nil, err
	}

	cursorSeq := int64(-1)
	if before != nil {
		cursor, err := s.GetMessage(ctx, *before)
		if err != nil {
			return nil, err
		}
		if cursor.ConversationID != conversationID {
			return nil, sentinel.ErrNotFound
		}
		cursorSeq = int64(cursor.Seq)
	}

	const query = `
		SELECT id, conversation_id, seq, sender_id, receiver_id, category_id,
			content, created_at, read, read_at
		FROM messages
		WHERE conversation_id = $1 AND ($2 < 0 OR seq < $2)
		ORDER BY seq DESC
		LIMIT $3`

	rows, err := s.pool.Query(ctx, query, uuid.UUID(conversationID), cursorSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var page []*messaging.Message
	for rows.Next() {
		message, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		page = append(page, message)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Flip to chronological order.
	for i, j := 0, len(page)-1; i < j; i, j = i+1, j-1 {
		page[i], page[j] = page[j], page[i]
	}
	if page == nil {
		page = []*messaging.Message{}
	}
	return page, nil
}

func (s *Store) UnreadCount(ctx context.Context, conversationID id.ConversationID, userID id.UserID) (int, error) {
	const query = `
		SELECT COUNT(*) FROM messages
		WHERE conversation_id = $1 AND receiver_id = $2 AND NOT read`

	var count int
	err := s.pool.QueryRow(ctx, query, uuid.UUID(conversationID), uuid.UUID(userID)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return count, nil
}

func (s *Store) SetHeading(ctx context.Context, conversationID id.ConversationID, userID id.UserID, heading string) error {
	if _, err := s.GetConversation(ctx, conversationID); err != nil {
		return err
	}

	const query = `
		INSERT INTO conversation_headings (conversation_id, user_id, heading)
		VALUES ($1, $2, $3)
		ON CONFLICT (conversation_id, user_id) DO UPDATE SET heading = excluded.heading`

	if _, err := s.pool.Exec(ctx, query, uuid.UUID(conversationID), uuid.UUID(userID), heading); err != nil {
		return fmt.Errorf("set heading: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*messaging.Conversation, error) {
	var (
		conversation messaging.Conversation
		convUUID     uuid.UUID
		loUUID       uuid.UUID
		hiUUID       uuid.UUID
	)
	err := row.Scan(&convUUID, &loUUID, &hiUUID, &conversation.CreatedAt, &conversation.LastMessageAt)
	if err != nil {
		return nil, err
	}
	conversation.ID = id.ConversationID(convUUID)
	conversation.UserLo = id.UserID(loUUID)
	conversation.UserHi = id.UserID(hiUUID)
	return &conversation, nil
}

func scanMessage(row rowScanner) (*messaging.Message, error) {
	var (
		message      messaging.Message
		msgUUID      uuid.UUID
		convUUID     uuid.UUID
		senderUUID   uuid.UUID
		receiverUUID uuid.UUID
		categoryUUID uuid.UUID
	)
	err := row.Scan(&msgUUID, &convUUID, &message.Seq, &senderUUID, &receiverUUID,
		&categoryUUID, &message.Content, &message.CreatedAt, &message.Read, &message.ReadAt)
	if err != nil {
		return nil, err
	}
	message.ID = id.MessageID(msgUUID)
	message.ConversationID = id.ConversationID(convUUID)
	message.Sender = id.UserID(senderUUID)
	message.Receiver = id.UserID(receiverUUID)
	message.CategoryID = id.CategoryID(categoryUUID)
	return &message, nil
}
