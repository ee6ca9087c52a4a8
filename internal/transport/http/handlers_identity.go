package httptransport

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"vouch/internal/transport/http/shared"
	id "vouch/pkg/domain"
	dErrors "vouch/pkg/domain-errors"
	"vouch/pkg/requestcontext"
)

// IdentityService records identity revelations and resolves personas.
type IdentityService interface {
	PersonaFor(ctx context.Context, userID id.UserID, communityID id.CommunityID) (string, error)
	Reveal(ctx context.Context, revealer, revealedTo id.UserID, categoryID id.CategoryID) (created bool, err error)
}

// IdentityHandler serves persona lookup and standalone reveals.
type IdentityHandler struct {
	service IdentityService
	logger  *slog.Logger
}

func NewIdentityHandler(service IdentityService, logger *slog.Logger) *IdentityHandler {
	return &IdentityHandler{service: service, logger: logger}
}

func (h *IdentityHandler) Register(r chi.Router) {
	r.Get("/persona", h.handlePersona)
	r.Post("/reveals", h.handleReveal)
}

func (h *IdentityHandler) handlePersona(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := requestcontext.UserID(ctx)

	name, err := h.service.PersonaFor(ctx, userID, requestcontext.CommunityID(ctx))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, map[string]string{"display_name": name})
}

type revealRequest struct {
	RevealedTo string `json:"revealed_to"`
	CategoryID string `json:"category_id"`
}

func (h *IdentityHandler) handleReveal(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	revealer := requestcontext.UserID(ctx)

	var req revealRequest
	if err := shared.Decode(r, &req); err != nil {
		shared.WriteError(w, err)
		return
	}
	revealedTo, err := id.ParseUserID(req.RevealedTo)
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid revealed_to"))
		return
	}
	categoryID, err := id.ParseCategoryID(req.CategoryID)
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid category_id"))
		return
	}

	created, err := h.service.Reveal(ctx, revealer, revealedTo, categoryID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}
	shared.WriteJSON(w, status, map[string]any{
		"revealed_to": revealedTo.String(),
		"category_id": categoryID.String(),
		"created":     created,
	})
}
