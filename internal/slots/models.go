package slots

import (
	"errors"
	"time"

	id "vouch/pkg/domain"
)

// ErrExhausted is returned by ledger stores when no remaining allowance is
// left in the current period. Services translate it into the domain error.
var ErrExhausted = errors.New("slot exhausted")

// Category is a message category. System defaults are owner-less and shared;
// custom categories belong to exactly one user.
type Category struct {
	ID          id.CategoryID
	Owner       *id.UserID
	Name        string
	PeriodLimit int
	Active      bool
	CreatedAt   time.Time
}

// IsSystem reports whether the category is a shared system default.
func (c *Category) IsSystem() bool { return c.Owner == nil }

// UsableBy reports whether user may initiate sends in this category.
// Custom categories are usable only by their owner.
func (c *Category) UsableBy(userID id.UserID) bool {
	return c.Owner == nil || *c.Owner == userID
}

// LedgerEntry tracks remaining sends for (user, category) in the current
// period. Limit snapshots the category's period limit at initialization so a
// compensating release still caps correctly after the category is
// deactivated or its limit changes.
type LedgerEntry struct {
	UserID     id.UserID
	CategoryID id.CategoryID
	Remaining  int
	Limit      int
	ResetAt    time.Time
}

// CategoryStatus is the per-category availability view shown to a user.
type CategoryStatus struct {
	Category  *Category
	Remaining int
	ResetAt   time.Time
}

// NextReset returns the first instant of the calendar month after now, in
// UTC. Slots reset once per calendar month.
func NextReset(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
}

// PeriodKey names the period containing now, e.g. "2026-08".
func PeriodKey(now time.Time) string {
	return now.UTC().Format("2006-01")
}

// Default system categories and their monthly limits.
var SystemCategoryDefaults = []struct {
	Name  string
	Limit int
}{
	{"Coffee Chat", 5},
	{"Mentorship", 3},
	{"Networking", 10},
	{"General", 15},
}
