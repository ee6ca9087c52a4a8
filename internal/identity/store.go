package identity

import (
	"context"

	id "vouch/pkg/domain"
)

// PersonaStore persists generated personas.
type PersonaStore interface {
	// Get returns the persona or sentinel.ErrNotFound.
	Get(ctx context.Context, userID id.UserID, communityID id.CommunityID) (*Persona, error)

	// Create stores a persona. Returns sentinel.ErrAlreadyExists when one
	// already exists for the pair; callers re-read in that case so
	// concurrent first lookups converge on a single record.
	Create(ctx context.Context, persona *Persona) error
}

// RevelationStore persists identity revelations. Creation must be atomic per
// (revealer, revealedTo, category) triple.
type RevelationStore interface {
	// Create stores a revelation. Returns sentinel.ErrAlreadyExists when
	// the triple is already recorded.
	Create(ctx context.Context, revelation *Revelation) error

	// Exists reports whether revealer disclosed to observer in the given
	// category. Pure lookup, no side effects.
	Exists(ctx context.Context, revealer, observer id.UserID, categoryID id.CategoryID) (bool, error)
}
