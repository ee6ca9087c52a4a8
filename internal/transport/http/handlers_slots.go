package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"vouch/internal/slots"
	"vouch/internal/transport/http/shared"
	id "vouch/pkg/domain"
	dErrors "vouch/pkg/domain-errors"
	"vouch/pkg/requestcontext"
)

// SlotService manages categories and reports slot availability.
type SlotService interface {
	SlotStatus(ctx context.Context, userID id.UserID) ([]*slots.CategoryStatus, error)
	CreateCategory(ctx context.Context, owner id.UserID, name string, periodLimit int) (*slots.Category, error)
	DeactivateCategory(ctx context.Context, owner id.UserID, categoryID id.CategoryID) error
}

// SlotHandler serves slot availability and category management.
type SlotHandler struct {
	service SlotService
	logger  *slog.Logger
}

func NewSlotHandler(service SlotService, logger *slog.Logger) *SlotHandler {
	return &SlotHandler{service: service, logger: logger}
}

func (h *SlotHandler) Register(r chi.Router) {
	r.Get("/slots", h.handleSlotStatus)
	r.Post("/categories", h.handleCreateCategory)
	r.Post("/categories/{categoryID}/deactivate", h.handleDeactivateCategory)
}

type categoryStatusResponse struct {
	CategoryID  string    `json:"category_id"`
	Name        string    `json:"name"`
	System      bool      `json:"system"`
	Active      bool      `json:"active"`
	PeriodLimit int       `json:"period_limit"`
	Remaining   int       `json:"remaining"`
	ResetAt     time.Time `json:"reset_at"`
}

func (h *SlotHandler) handleSlotStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := requestcontext.UserID(ctx)

	statuses, err := h.service.SlotStatus(ctx, userID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	resp := make([]categoryStatusResponse, 0, len(statuses))
	for _, status := range statuses {
		resp = append(resp, categoryStatusResponse{
			CategoryID:  status.Category.ID.String(),
			Name:        status.Category.Name,
			System:      status.Category.IsSystem(),
			Active:      status.Category.Active,
			PeriodLimit: status.Category.PeriodLimit,
			Remaining:   status.Remaining,
			ResetAt:     status.ResetAt,
		})
	}
	shared.WriteJSON(w, http.StatusOK, map[string]any{"slots": resp})
}

type createCategoryRequest struct {
	Name        string `json:"name"`
	PeriodLimit int    `json:"period_limit"`
}

type categoryResponse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	PeriodLimit int       `json:"period_limit"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
}

func (h *SlotHandler) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner := requestcontext.UserID(ctx)

	var req createCategoryRequest
	if err := shared.Decode(r, &req); err != nil {
		shared.WriteError(w, err)
		return
	}

	category, err := h.service.CreateCategory(ctx, owner, req.Name, req.PeriodLimit)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, categoryResponse{
		ID:          category.ID.String(),
		Name:        category.Name,
		PeriodLimit: category.PeriodLimit,
		Active:      category.Active,
		CreatedAt:   category.CreatedAt,
	})
}

func (h *SlotHandler) handleDeactivateCategory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner := requestcontext.UserID(ctx)

	categoryID, err := id.ParseCategoryID(chi.URLParam(r, "categoryID"))
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid category ID"))
		return
	}

	if err := h.service.DeactivateCategory(ctx, owner, categoryID); err != nil {
		shared.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
