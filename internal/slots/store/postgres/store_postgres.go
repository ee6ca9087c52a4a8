// Package postgres implements the slot stores on pgx. Ledger mutations are
// single statements so check-and-decrement stays atomic per key without
// explicit locking.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	platformpg "vouch/internal/platform/postgres"
	"vouch/internal/slots"
	id "vouch/pkg/domain"
	"vouch/pkg/platform/sentinel"
)

// CategoryStore is the Postgres CategoryStore implementation.
type CategoryStore struct {
	pool *pgxpool.Pool
}

func NewCategoryStore(pool *pgxpool.Pool) *CategoryStore {
	return &CategoryStore{pool: pool}
}

func (s *CategoryStore) Create(ctx context.Context, category *slots.Category) error {
	const query = `
		INSERT INTO categories (id, owner_id, name, period_limit, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	var ownerUUID *uuid.UUID
	if category.Owner != nil {
		u := uuid.UUID(*category.Owner)
		ownerUUID = &u
	}
	_, err := s.pool.Exec(ctx, query,
		uuid.UUID(category.ID), ownerUUID, category.Name,
		category.PeriodLimit, category.Active, category.CreatedAt)
	if err != nil {
		if platformpg.IsUniqueViolation(err) {
			return sentinel.ErrAlreadyExists
		}
		return fmt.Errorf("create category: %w", err)
	}
	return nil
}

func (s *CategoryStore) Get(ctx context.Context, categoryID id.CategoryID) (*slots.Category, error) {
	const query = `
		SELECT id, owner_id, name, period_limit, active, created_at
		FROM categories WHERE id = $1`

	category, err := scanCategory(s.pool.QueryRow(ctx, query, uuid.UUID(categoryID)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get category: %w", err)
	}
	return category, nil
}

func (s *CategoryStore) SetActive(ctx context.Context, categoryID id.CategoryID, active bool) error {
	const query = `UPDATE categories SET active = $2 WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query, uuid.UUID(categoryID), active)
	if err != nil {
		return fmt.Errorf("set category active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *CategoryStore) ListForUser(ctx context.Context, userID id.UserID) ([]*slots.Category, error) {
	const query = `
		SELECT id, owner_id, name, period_limit, active, created_at
		FROM categories
		WHERE owner_id IS NULL OR owner_id = $1
		ORDER BY name`

	rows, err := s.pool.Query(ctx, query, uuid.UUID(userID))
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	var categories []*slots.Category
	for rows.Next() {
		category, err := scanCategory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		categories = append(categories, category)
	}
	return categories, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCategory(row rowScanner) (*slots.Category, error) {
	var (
		category     slots.Category
		categoryUUID uuid.UUID
		ownerUUID    *uuid.UUID
	)
	err := row.Scan(&categoryUUID, &ownerUUID, &category.Name,
		&category.PeriodLimit, &category.Active, &category.CreatedAt)
	if err != nil {
		return nil, err
	}
	category.ID = id.CategoryID(categoryUUID)
	if ownerUUID != nil {
		owner := id.UserID(*ownerUUID)
		category.Owner = &owner
	}
	return &category, nil
}

// LedgerStore is the Postgres LedgerStore implementation.
type LedgerStore struct {
	pool *pgxpool.Pool
}

func NewLedgerStore(pool *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

// Reserve upserts the entry, applies the lazy period reset, and decrements in
// one statement. The WHERE guard makes two concurrent reservations of the
// last slot resolve to one success.
func (s *LedgerStore) Reserve(ctx context.Context, userID id.UserID, categoryID id.CategoryID, limit int, now time.Time) (*slots.LedgerEntry, error) {
	const query = `
		INSERT INTO slot_ledger (user_id, category_id, remaining, period_limit, reset_at)
		VALUES ($1, $2, $3 - 1, $3, $4)
		ON CONFLICT (user_id, category_id) DO UPDATE SET
			remaining = CASE WHEN $5 >= slot_ledger.reset_at
				THEN slot_ledger.period_limit - 1
				ELSE slot_ledger.remaining - 1 END,
			reset_at = CASE WHEN $5 >= slot_ledger.reset_at
				THEN $4 ELSE slot_ledger.reset_at END
		WHERE ($5 >= slot_ledger.reset_at AND slot_ledger.period_limit > 0)
			OR slot_ledger.remaining > 0
		RETURNING user_id, category_id, remaining, period_limit, reset_at`

	entry, err := scanEntry(s.pool.QueryRow(ctx, query,
		uuid.UUID(userID), uuid.UUID(categoryID), limit, slots.NextReset(now), now))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, slots.ErrExhausted
		}
		return nil, fmt.Errorf("reserve slot: %w", err)
	}
	return entry, nil
}

// Release applies the lazy reset and increments remaining up to the entry's
// snapshotted limit. Never consults the categories table.
func (s *LedgerStore) Release(ctx context.Context, userID id.UserID, categoryID id.CategoryID, now time.Time) (*slots.LedgerEntry, error) {
	const query = `
		UPDATE slot_ledger SET
			remaining = LEAST(period_limit,
				CASE WHEN $3 >= reset_at THEN period_limit ELSE remaining END + 1),
			reset_at = CASE WHEN $3 >= reset_at THEN $4 ELSE reset_at END
		WHERE user_id = $1 AND category_id = $2
		RETURNING user_id, category_id, remaining, period_limit, reset_at`

	entry, err := scanEntry(s.pool.QueryRow(ctx, query,
		uuid.UUID(userID), uuid.UUID(categoryID), now, slots.NextReset(now)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("release slot: %w", err)
	}
	return entry, nil
}

func (s *LedgerStore) Get(ctx context.Context, userID id.UserID, categoryID id.CategoryID, limit int, now time.Time) (*slots.LedgerEntry, error) {
	const query = `
		INSERT INTO slot_ledger (user_id, category_id, remaining, period_limit, reset_at)
		VALUES ($1, $2, $3, $3, $4)
		ON CONFLICT (user_id, category_id) DO UPDATE SET
			remaining = CASE WHEN $5 >= slot_ledger.reset_at
				THEN slot_ledger.period_limit ELSE slot_ledger.remaining END,
			reset_at = CASE WHEN $5 >= slot_ledger.reset_at
				THEN $4 ELSE slot_ledger.reset_at END
		RETURNING user_id, category_id, remaining, period_limit, reset_at`

	entry, err := scanEntry(s.pool.QueryRow(ctx, query,
		uuid.UUID(userID), uuid.UUID(categoryID), limit, slots.NextReset(now), now))
	if err != nil {
		return nil, fmt.Errorf("get ledger entry: %w", err)
	}
	return entry, nil
}

func scanEntry(row rowScanner) (*slots.LedgerEntry, error) {
	var (
		entry        slots.LedgerEntry
		userUUID     uuid.UUID
		categoryUUID uuid.UUID
	)
	err := row.Scan(&userUUID, &categoryUUID, &entry.Remaining, &entry.Limit, &entry.ResetAt)
	if err != nil {
		return nil, err
	}
	entry.UserID = id.UserID(userUUID)
	entry.CategoryID = id.CategoryID(categoryUUID)
	return &entry, nil
}
