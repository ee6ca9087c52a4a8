package slots

import (
	"context"
	"time"

	id "vouch/pkg/domain"
)

// CategoryStore persists categories.
type CategoryStore interface {
	// Create stores a new category. Returns sentinel.ErrAlreadyExists when
	// the owner already has a category with that name.
	Create(ctx context.Context, category *Category) error

	// Get returns a category or sentinel.ErrNotFound.
	Get(ctx context.Context, categoryID id.CategoryID) (*Category, error)

	// SetActive flips the active flag. Returns sentinel.ErrNotFound when
	// the category does not exist.
	SetActive(ctx context.Context, categoryID id.CategoryID, active bool) error

	// ListForUser returns system categories plus the user's own custom
	// categories.
	ListForUser(ctx context.Context, userID id.UserID) ([]*Category, error)
}

// LedgerStore persists per-(user, category) allowances. All three operations
// apply the lazy calendar-month reset before acting, and each must be atomic
// per key: two concurrent Reserve calls against one remaining slot yield
// exactly one success and one ErrExhausted.
type LedgerStore interface {
	// Reserve initializes the entry if absent (remaining = limit), resets
	// it when now >= ResetAt, then decrements remaining or returns
	// ErrExhausted. Returns the entry after the decrement.
	Reserve(ctx context.Context, userID id.UserID, categoryID id.CategoryID, limit int, now time.Time) (*LedgerEntry, error)

	// Release increments remaining, capped at the entry's limit snapshot.
	// Works against stale entries regardless of the category's current
	// state; returns sentinel.ErrNotFound when no entry exists.
	Release(ctx context.Context, userID id.UserID, categoryID id.CategoryID, now time.Time) (*LedgerEntry, error)

	// Get returns the entry as it would look after a lazy reset, without
	// consuming anything. Initializes an absent entry.
	Get(ctx context.Context, userID id.UserID, categoryID id.CategoryID, limit int, now time.Time) (*LedgerEntry, error)
}
