// Package service implements the slot ledger: per-user, per-category send
// allowances with calendar-month reset, plus category management.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"vouch/internal/platform/metrics"
	"vouch/internal/slots"
	id "vouch/pkg/domain"
	dErrors "vouch/pkg/domain-errors"
	audit "vouch/pkg/platform/audit"
	auditpub "vouch/pkg/platform/audit/publisher"
	"vouch/pkg/platform/sentinel"
	"vouch/pkg/requestcontext"
)

const maxCategoryNameLen = 50

type Service struct {
	categories slots.CategoryStore
	ledger     slots.LedgerStore
	logger     *slog.Logger
	publisher  *auditpub.Publisher
	metrics    *metrics.Metrics
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

func New(categories slots.CategoryStore, ledger slots.LedgerStore, opts ...Option) (*Service, error) {
	if categories == nil {
		return nil, fmt.Errorf("category store is required")
	}
	if ledger == nil {
		return nil, fmt.Errorf("ledger store is required")
	}

	svc := &Service{
		categories: categories,
		ledger:     ledger,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// CheckAndReserve consumes one slot for (user, category) in the current
// period. Check-and-decrement is a single atomic step in the store: two
// concurrent reservations against one remaining slot yield one success.
func (s *Service) CheckAndReserve(ctx context.Context, userID id.UserID, categoryID id.CategoryID) (*slots.LedgerEntry, error) {
	category, err := s.loadUsableCategory(ctx, userID, categoryID)
	if err != nil {
		return nil, err
	}
	if !category.Active || category.PeriodLimit <= 0 {
		return nil, dErrors.New(dErrors.CodeCategoryDisabled, "category is disabled")
	}

	now := requestcontext.Now(ctx)
	entry, err := s.ledger.Reserve(ctx, userID, categoryID, category.PeriodLimit, now)
	if err != nil {
		if errors.Is(err, slots.ErrExhausted) {
			if s.metrics != nil {
				s.metrics.SlotsExhausted.Inc()
			}
			s.emit(ctx, audit.Event{
				UserID: userID,
				Action: string(audit.EventSlotExhausted),
				Details: map[string]string{
					"category_id": categoryID.String(),
					"period":      slots.PeriodKey(now),
				},
			})
			return nil, dErrors.New(dErrors.CodeSlotExhausted, "no slots remaining for this category")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to reserve slot")
	}
	return entry, nil
}

// Release returns a reserved slot. Compensation only; it must succeed against
// a stale ledger entry even after the category was deactivated or deleted,
// which is why it never consults the category store.
func (s *Service) Release(ctx context.Context, userID id.UserID, categoryID id.CategoryID) error {
	now := requestcontext.Now(ctx)
	entry, err := s.ledger.Release(ctx, userID, categoryID, now)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			// Nothing reserved this period; releasing is still a no-op
			// success from the pipeline's perspective.
			s.logger.WarnContext(ctx, "release without ledger entry",
				"user_id", userID.String(),
				"category_id", categoryID.String(),
			)
			return nil
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to release slot")
	}
	if s.metrics != nil {
		s.metrics.SlotsReleased.Inc()
	}
	s.emit(ctx, audit.Event{
		UserID: userID,
		Action: string(audit.EventSlotReleased),
		Details: map[string]string{
			"category_id": categoryID.String(),
			"remaining":   fmt.Sprintf("%d", entry.Remaining),
		},
	})
	return nil
}

// CreateCategory defines a custom category owned by the given user.
func (s *Service) CreateCategory(ctx context.Context, owner id.UserID, name string, periodLimit int) (*slots.Category, error) {
	if owner.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "owner is required")
	}
	name = strings.TrimSpace(name)
	if name == "" || len(name) > maxCategoryNameLen {
		return nil, dErrors.Newf(dErrors.CodeInvalidInput, "category name must be 1-%d characters", maxCategoryNameLen)
	}
	if periodLimit < 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "period limit cannot be negative")
	}

	ownerID := owner
	category := &slots.Category{
		ID:          id.NewCategoryID(),
		Owner:       &ownerID,
		Name:        name,
		PeriodLimit: periodLimit,
		Active:      true,
		CreatedAt:   requestcontext.Now(ctx),
	}
	if err := s.categories.Create(ctx, category); err != nil {
		if errors.Is(err, sentinel.ErrAlreadyExists) {
			return nil, dErrors.New(dErrors.CodeConflict, "category with this name already exists")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create category")
	}

	s.emit(ctx, audit.Event{
		UserID: owner,
		Action: string(audit.EventCategoryCreated),
		Details: map[string]string{
			"category_id": category.ID.String(),
			"name":        name,
		},
	})
	return category, nil
}

// DeactivateCategory disables a custom category. Only the owner may do so;
// system categories cannot be deactivated through this path.
func (s *Service) DeactivateCategory(ctx context.Context, owner id.UserID, categoryID id.CategoryID) error {
	category, err := s.categories.Get(ctx, categoryID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "category not found")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load category")
	}
	if category.Owner == nil {
		return dErrors.New(dErrors.CodeForbidden, "system categories cannot be deactivated")
	}
	if *category.Owner != owner {
		return dErrors.New(dErrors.CodeNotFound, "category not found")
	}

	if err := s.categories.SetActive(ctx, categoryID, false); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to deactivate category")
	}
	s.emit(ctx, audit.Event{
		UserID: owner,
		Action: string(audit.EventCategoryDeactivated),
		Details: map[string]string{
			"category_id": categoryID.String(),
		},
	})
	return nil
}

// GetCategory returns a category usable by userID.
func (s *Service) GetCategory(ctx context.Context, userID id.UserID, categoryID id.CategoryID) (*slots.Category, error) {
	return s.loadUsableCategory(ctx, userID, categoryID)
}

// SlotStatus reports remaining allowance per visible category without
// consuming anything.
func (s *Service) SlotStatus(ctx context.Context, userID id.UserID) ([]*slots.CategoryStatus, error) {
	categories, err := s.categories.ListForUser(ctx, userID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list categories")
	}

	now := requestcontext.Now(ctx)
	statuses := make([]*slots.CategoryStatus, 0, len(categories))
	for _, category := range categories {
		status := &slots.CategoryStatus{Category: category}
		if category.Active && category.PeriodLimit > 0 {
			entry, err := s.ledger.Get(ctx, userID, category.ID, category.PeriodLimit, now)
			if err != nil {
				return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load ledger entry")
			}
			status.Remaining = entry.Remaining
			status.ResetAt = entry.ResetAt
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

// SeedSystemCategories creates the shared default categories if absent.
// Called once at startup.
func (s *Service) SeedSystemCategories(ctx context.Context) error {
	for _, def := range slots.SystemCategoryDefaults {
		category := &slots.Category{
			ID:          id.NewCategoryID(),
			Name:        def.Name,
			PeriodLimit: def.Limit,
			Active:      true,
			CreatedAt:   requestcontext.Now(ctx),
		}
		if err := s.categories.Create(ctx, category); err != nil {
			if errors.Is(err, sentinel.ErrAlreadyExists) {
				continue
			}
			return fmt.Errorf("seed category %q: %w", def.Name, err)
		}
	}
	return nil
}

func (s *Service) loadUsableCategory(ctx context.Context, userID id.UserID, categoryID id.CategoryID) (*slots.Category, error) {
	category, err := s.categories.Get(ctx, categoryID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "category not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load category")
	}
	// Custom categories are invisible to everyone but their owner.
	if !category.UsableBy(userID) {
		return nil, dErrors.New(dErrors.CodeNotFound, "category not found")
	}
	return category, nil
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
