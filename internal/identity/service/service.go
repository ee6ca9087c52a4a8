// Package service implements the identity and anonymity directory: stable
// anonymous personas per community, and directional category-scoped identity
// revelations.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"vouch/internal/identity"
	"vouch/internal/platform/metrics"
	id "vouch/pkg/domain"
	dErrors "vouch/pkg/domain-errors"
	audit "vouch/pkg/platform/audit"
	auditpub "vouch/pkg/platform/audit/publisher"
	"vouch/pkg/platform/sentinel"
	"vouch/pkg/requestcontext"
)

// ConversationChecker reports whether two users already share a
// conversation. Revelation is validated like a send: it requires one.
type ConversationChecker interface {
	ConversationExists(ctx context.Context, a, b id.UserID) (bool, error)
}

// PersonaCache is an optional read-through cache for display names.
type PersonaCache interface {
	Get(ctx context.Context, userID id.UserID, communityID id.CommunityID) (string, bool)
	Set(ctx context.Context, userID id.UserID, communityID id.CommunityID, displayName string)
}

type Service struct {
	personas      identity.PersonaStore
	revelations   identity.RevelationStore
	conversations ConversationChecker
	cache         PersonaCache
	group         singleflight.Group
	logger        *slog.Logger
	publisher     *auditpub.Publisher
	metrics       *metrics.Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithAuditPublisher(publisher *auditpub.Publisher) Option {
	return func(s *Service) { s.publisher = publisher }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithPersonaCache(cache PersonaCache) Option {
	return func(s *Service) { s.cache = cache }
}

func New(personas identity.PersonaStore, revelations identity.RevelationStore, conversations ConversationChecker, opts ...Option) (*Service, error) {
	if personas == nil {
		return nil, fmt.Errorf("persona store is required")
	}
	if revelations == nil {
		return nil, fmt.Errorf("revelation store is required")
	}
	if conversations == nil {
		return nil, fmt.Errorf("conversation checker is required")
	}

	svc := &Service{
		personas:      personas,
		revelations:   revelations,
		conversations: conversations,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// PersonaFor returns the stable anonymous display name for a user within a
// community, generating and persisting it on first reference. Concurrent
// first lookups collapse into one generation via singleflight; the store's
// uniqueness constraint backstops races across processes.
func (s *Service) PersonaFor(ctx context.Context, userID id.UserID, communityID id.CommunityID) (string, error) {
	if userID.IsNil() || communityID.IsNil() {
		return "", dErrors.New(dErrors.CodeBadRequest, "user and community are required")
	}

	if s.cache != nil {
		if name, ok := s.cache.Get(ctx, userID, communityID); ok {
			return name, nil
		}
	}

	flightKey := communityID.String() + ":" + userID.String()
	name, err, _ := s.group.Do(flightKey, func() (any, error) {
		persona, err := s.personas.Get(ctx, userID, communityID)
		if err == nil {
			return persona.DisplayName, nil
		}
		if !errors.Is(err, sentinel.ErrNotFound) {
			return "", err
		}

		fresh := &identity.Persona{
			UserID:      userID,
			CommunityID: communityID,
			DisplayName: identity.PersonaName(userID, communityID),
			CreatedAt:   requestcontext.Now(ctx),
		}
		if err := s.personas.Create(ctx, fresh); err != nil {
			if errors.Is(err, sentinel.ErrAlreadyExists) {
				existing, err := s.personas.Get(ctx, userID, communityID)
				if err != nil {
					return "", err
				}
				return existing.DisplayName, nil
			}
			return "", err
		}
		return fresh.DisplayName, nil
	})
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve persona")
	}

	displayName := name.(string)
	if s.cache != nil {
		s.cache.Set(ctx, userID, communityID, displayName)
	}
	return displayName, nil
}

// Reveal records that revealer disclosed their real identity to revealedTo
// for the given category. Returns created=false with no error when the
// revelation already exists, so callers and auditors can tell a fresh reveal
// from a repeat.
func (s *Service) Reveal(ctx context.Context, revealer, revealedTo id.UserID, categoryID id.CategoryID) (created bool, err error) {
	if revealer.IsNil() || revealedTo.IsNil() {
		return false, dErrors.New(dErrors.CodeBadRequest, "revealer and recipient are required")
	}
	if revealer == revealedTo {
		return false, dErrors.New(dErrors.CodeSelfMessage, "cannot reveal identity to yourself")
	}
	if categoryID.IsNil() {
		return false, dErrors.New(dErrors.CodeBadRequest, "category is required")
	}

	exists, err := s.conversations.ConversationExists(ctx, revealer, revealedTo)
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check conversation")
	}
	if !exists {
		return false, dErrors.New(dErrors.CodeBadRequest, "no conversation exists with this user")
	}

	revelation := &identity.Revelation{
		Revealer:   revealer,
		RevealedTo: revealedTo,
		CategoryID: categoryID,
		RevealedAt: requestcontext.Now(ctx),
	}
	if err := s.revelations.Create(ctx, revelation); err != nil {
		if errors.Is(err, sentinel.ErrAlreadyExists) {
			return false, nil
		}
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record revelation")
	}

	if s.metrics != nil {
		s.metrics.IdentityReveals.Inc()
	}
	s.emit(ctx, audit.Event{
		UserID: revealer,
		Action: string(audit.EventIdentityRevealed),
		Details: map[string]string{
			"revealed_to": revealedTo.String(),
			"category_id": categoryID.String(),
		},
	})
	return true, nil
}

// IsRevealedTo reports whether observer may see revealer's real identity in
// the given category context. Pure lookup.
func (s *Service) IsRevealedTo(ctx context.Context, revealer, observer id.UserID, categoryID id.CategoryID) (bool, error) {
	revealed, err := s.revelations.Exists(ctx, revealer, observer, categoryID)
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check revelation")
	}
	return revealed, nil
}

func (s *Service) emit(ctx context.Context, event audit.Event) {
	if s.publisher == nil {
		return
	}
	event.RequestID = requestcontext.RequestID(ctx)
	if err := s.publisher.Emit(ctx, event); err != nil {
		s.logger.ErrorContext(ctx, "failed to emit audit event",
			"action", event.Action,
			"error", err,
		)
	}
}
