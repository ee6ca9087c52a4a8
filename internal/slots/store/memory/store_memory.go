package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"vouch/internal/slots"
	id "vouch/pkg/domain"
	"vouch/pkg/platform/sentinel"
)

// CategoryStore is the in-memory CategoryStore implementation.
type CategoryStore struct {
	mu         sync.RWMutex
	categories map[id.CategoryID]*slots.Category
	byName     map[string]id.CategoryID
}

func NewCategoryStore() *CategoryStore {
	return &CategoryStore{
		categories: make(map[id.CategoryID]*slots.Category),
		byName:     make(map[string]id.CategoryID),
	}
}

func nameKey(owner *id.UserID, name string) string {
	key := strings.ToLower(strings.TrimSpace(name))
	if owner != nil {
		key = owner.String() + "|" + key
	}
	return key
}

func (s *CategoryStore) Create(_ context.Context, category *slots.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := nameKey(category.Owner, category.Name)
	if _, exists := s.byName[key]; exists {
		return sentinel.ErrAlreadyExists
	}
	copied := *category
	s.categories[category.ID] = &copied
	s.byName[key] = category.ID
	return nil
}

func (s *CategoryStore) Get(_ context.Context, categoryID id.CategoryID) (*slots.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	category, ok := s.categories[categoryID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copied := *category
	return &copied, nil
}

func (s *CategoryStore) SetActive(_ context.Context, categoryID id.CategoryID, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	category, ok := s.categories[categoryID]
	if !ok {
		return sentinel.ErrNotFound
	}
	category.Active = active
	return nil
}

func (s *CategoryStore) ListForUser(_ context.Context, userID id.UserID) ([]*slots.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*slots.Category
	for _, category := range s.categories {
		if category.Owner == nil || *category.Owner == userID {
			copied := *category
			result = append(result, &copied)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

// LedgerStore is the in-memory LedgerStore implementation. A single mutex
// guards the map; the read-modify-write under it is what makes Reserve's
// check-and-decrement atomic per key.
type LedgerStore struct {
	mu      sync.Mutex
	entries map[ledgerKey]*slots.LedgerEntry
}

type ledgerKey struct {
	user     id.UserID
	category id.CategoryID
}

func NewLedgerStore() *LedgerStore {
	return &LedgerStore{entries: make(map[ledgerKey]*slots.LedgerEntry)}
}

// entryLocked fetches or initializes the entry and applies the lazy
// calendar-month reset. Caller holds s.mu.
func (s *LedgerStore) entryLocked(userID id.UserID, categoryID id.CategoryID, limit int, now time.Time) *slots.LedgerEntry {
	key := ledgerKey{user: userID, category: categoryID}
	entry, ok := s.entries[key]
	if !ok {
		entry = &slots.LedgerEntry{
			UserID:     userID,
			CategoryID: categoryID,
			Remaining:  limit,
			Limit:      limit,
			ResetAt:    slots.NextReset(now),
		}
		s.entries[key] = entry
		return entry
	}
	if !now.Before(entry.ResetAt) {
		entry.Remaining = entry.Limit
		entry.ResetAt = slots.NextReset(now)
	}
	return entry
}

func (s *LedgerStore) Reserve(_ context.Context, userID id.UserID, categoryID id.CategoryID, limit int, now time.Time) (*slots.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.entryLocked(userID, categoryID, limit, now)
	if entry.Remaining <= 0 {
		return nil, slots.ErrExhausted
	}
	entry.Remaining--
	copied := *entry
	return &copied, nil
}

func (s *LedgerStore) Release(_ context.Context, userID id.UserID, categoryID id.CategoryID, now time.Time) (*slots.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := ledgerKey{user: userID, category: categoryID}
	entry, ok := s.entries[key]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if !now.Before(entry.ResetAt) {
		entry.Remaining = entry.Limit
		entry.ResetAt = slots.NextReset(now)
	}
	if entry.Remaining < entry.Limit {
		entry.Remaining++
	}
	copied := *entry
	return &copied, nil
}

func (s *LedgerStore) Get(_ context.Context, userID id.UserID, categoryID id.CategoryID, limit int, now time.Time) (*slots.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.entryLocked(userID, categoryID, limit, now)
	copied := *entry
	return &copied, nil
}
