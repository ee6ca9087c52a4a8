package memory

import (
	"context"
	"sync"

	"vouch/internal/identity"
	id "vouch/pkg/domain"
	"vouch/pkg/platform/sentinel"
)

// PersonaStore is the in-memory PersonaStore implementation.
type PersonaStore struct {
	mu       sync.RWMutex
	personas map[personaKey]*identity.Persona
}

type personaKey struct {
	user      id.UserID
	community id.CommunityID
}

func NewPersonaStore() *PersonaStore {
	return &PersonaStore{personas: make(map[personaKey]*identity.Persona)}
}

func (s *PersonaStore) Get(_ context.Context, userID id.UserID, communityID id.CommunityID) (*identity.Persona, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	persona, ok := s.personas[personaKey{user: userID, community: communityID}]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copied := *persona
	return &copied, nil
}

func (s *PersonaStore) Create(_ context.Context, persona *identity.Persona) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := personaKey{user: persona.UserID, community: persona.CommunityID}
	if _, exists := s.personas[key]; exists {
		return sentinel.ErrAlreadyExists
	}
	copied := *persona
	s.personas[key] = &copied
	return nil
}

// RevelationStore is the in-memory RevelationStore implementation.
type RevelationStore struct {
	mu          sync.Mutex
	revelations map[revelationKey]*identity.Revelation
}

type revelationKey struct {
	revealer   id.UserID
	revealedTo id.UserID
	category   id.CategoryID
}

func NewRevelationStore() *RevelationStore {
	return &RevelationStore{revelations: make(map[revelationKey]*identity.Revelation)}
}

func (s *RevelationStore) Create(_ context.Context, revelation *identity.Revelation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := revelationKey{
		revealer:   revelation.Revealer,
		revealedTo: revelation.RevealedTo,
		category:   revelation.CategoryID,
	}
	if _, exists := s.revelations[key]; exists {
		return sentinel.ErrAlreadyExists
	}
	copied := *revelation
	s.revelations[key] = &copied
	return nil
}

func (s *RevelationStore) Exists(_ context.Context, revealer, observer id.UserID, categoryID id.CategoryID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, exists := s.revelations[revelationKey{revealer: revealer, revealedTo: observer, category: categoryID}]
	return exists, nil
}
