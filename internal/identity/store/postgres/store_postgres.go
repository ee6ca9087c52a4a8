// Package postgres implements the identity stores on pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"vouch/internal/identity"
	platformpg "vouch/internal/platform/postgres"
	id "vouch/pkg/domain"
	"vouch/pkg/platform/sentinel"
)

// PersonaStore is the Postgres PersonaStore implementation.
type PersonaStore struct {
	pool *pgxpool.Pool
}

func NewPersonaStore(pool *pgxpool.Pool) *PersonaStore {
	return &PersonaStore{pool: pool}
}

func (s *PersonaStore) Get(ctx context.Context, userID id.UserID, communityID id.CommunityID) (*identity.Persona, error) {
	const query = `
		SELECT user_id, community_id, display_name, created_at
		FROM personas WHERE user_id = $1 AND community_id = $2`

	var (
		persona       identity.Persona
		userUUID      uuid.UUID
		communityUUID uuid.UUID
	)
	err := s.pool.QueryRow(ctx, query, uuid.UUID(userID), uuid.UUID(communityID)).
		Scan(&userUUID, &communityUUID, &persona.DisplayName, &persona.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get persona: %w", err)
	}
	persona.UserID = id.UserID(userUUID)
	persona.CommunityID = id.CommunityID(communityUUID)
	return &persona, nil
}

func (s *PersonaStore) Create(ctx context.Context, persona *identity.Persona) error {
	const query = `
		INSERT INTO personas (user_id, community_id, display_name, created_at)
		VALUES ($1, $2, $3, $4)`

	_, err := s.pool.Exec(ctx, query,
		uuid.UUID(persona.UserID), uuid.UUID(persona.CommunityID),
		persona.DisplayName, persona.CreatedAt)
	if err != nil {
		if platformpg.IsUniqueViolation(err) {
			return sentinel.ErrAlreadyExists
		}
		return fmt.Errorf("create persona: %w", err)
	}
	return nil
}

// RevelationStore is the Postgres RevelationStore implementation. The primary
// key on the (revealer, revealed_to, category) triple enforces idempotency.
type RevelationStore struct {
	pool *pgxpool.Pool
}

func NewRevelationStore(pool *pgxpool.Pool) *RevelationStore {
	return &RevelationStore{pool: pool}
}

func (s *RevelationStore) Create(ctx context.Context, revelation *identity.Revelation) error {
	const query = `
		INSERT INTO revelations (revealer_id, revealed_to_id, category_id, revealed_at)
		VALUES ($1, $2, $3, $4)`

	_, err := s.pool.Exec(ctx, query,
		uuid.UUID(revelation.Revealer), uuid.UUID(revelation.RevealedTo),
		uuid.UUID(revelation.CategoryID), revelation.RevealedAt)
	if err != nil {
		if platformpg.IsUniqueViolation(err) {
			return sentinel.ErrAlreadyExists
		}
		return fmt.Errorf("create revelation: %w", err)
	}
	return nil
}

func (s *RevelationStore) Exists(ctx context.Context, revealer, observer id.UserID, categoryID id.CategoryID) (bool, error) {
	const query = `
		SELECT EXISTS (
			SELECT 1 FROM revelations
			WHERE revealer_id = $1 AND revealed_to_id = $2 AND category_id = $3)`

	var exists bool
	err := s.pool.QueryRow(ctx, query,
		uuid.UUID(revealer), uuid.UUID(observer), uuid.UUID(categoryID)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check revelation: %w", err)
	}
	return exists, nil
}
