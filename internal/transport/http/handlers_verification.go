package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"vouch/internal/transport/http/shared"
	"vouch/internal/verification"
	id "vouch/pkg/domain"
	dErrors "vouch/pkg/domain-errors"
	"vouch/pkg/requestcontext"
)

// VerificationService drives referral creation, acceptance, and status reads.
type VerificationService interface {
	CreateReferral(ctx context.Context, sender id.UserID, recipientEmail string) (*verification.Referral, error)
	BindRecipient(ctx context.Context, referralID id.ReferralID, userID id.UserID) error
	RecordReferralAccepted(ctx context.Context, referralID id.ReferralID) (alreadyProcessed bool, err error)
	OverrideVerify(ctx context.Context, userID, adminID id.UserID) error
	CheckVerification(ctx context.Context, userID id.UserID) (*verification.Status, error)
}

// VerificationHandler serves referral and verification status endpoints.
type VerificationHandler struct {
	service VerificationService
	logger  *slog.Logger
}

func NewVerificationHandler(service VerificationService, logger *slog.Logger) *VerificationHandler {
	return &VerificationHandler{service: service, logger: logger}
}

func (h *VerificationHandler) Register(r chi.Router) {
	r.Get("/verification", h.handleStatus)
	r.Post("/referrals", h.handleCreateReferral)
	r.Post("/referrals/{referralID}/accept", h.handleAcceptReferral)
}

// RegisterAdmin mounts the admin-only override route. The caller wraps it in
// the admin middleware.
func (h *VerificationHandler) RegisterAdmin(r chi.Router) {
	r.Post("/admin/users/{userID}/verify", h.handleOverrideVerify)
}

type verificationStatusResponse struct {
	UserID        string     `json:"user_id"`
	Verified      bool       `json:"verified"`
	ReferralCount int        `json:"referral_count"`
	Required      int        `json:"referrals_required"`
	VerifiedAt    *time.Time `json:"verified_at,omitempty"`
}

func (h *VerificationHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := requestcontext.UserID(ctx)

	status, err := h.service.CheckVerification(ctx, userID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, verificationStatusResponse{
		UserID:        status.UserID.String(),
		Verified:      status.Verified,
		ReferralCount: status.ReferralCount,
		Required:      verification.VerificationThreshold,
		VerifiedAt:    status.VerifiedAt,
	})
}

type createReferralRequest struct {
	RecipientEmail string `json:"recipient_email"`
}

type referralResponse struct {
	ID             string    `json:"id"`
	RecipientEmail string    `json:"recipient_email"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
}

func (h *VerificationHandler) handleCreateReferral(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sender := requestcontext.UserID(ctx)

	var req createReferralRequest
	if err := shared.Decode(r, &req); err != nil {
		shared.WriteError(w, err)
		return
	}

	referral, err := h.service.CreateReferral(ctx, sender, req.RecipientEmail)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, referralResponse{
		ID:             referral.ID.String(),
		RecipientEmail: referral.RecipientEmail,
		Status:         string(referral.Status),
		CreatedAt:      referral.CreatedAt,
	})
}

// handleAcceptReferral binds the authenticated caller as the referral's
// recipient and counts the acceptance toward their verification. Repeat
// acceptance is a no-op success.
func (h *VerificationHandler) handleAcceptReferral(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller := requestcontext.UserID(ctx)

	referralID, err := id.ParseReferralID(chi.URLParam(r, "referralID"))
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid referral ID"))
		return
	}

	if err := h.service.BindRecipient(ctx, referralID, caller); err != nil {
		shared.WriteError(w, err)
		return
	}
	alreadyProcessed, err := h.service.RecordReferralAccepted(ctx, referralID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	status, err := h.service.CheckVerification(ctx, caller)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, map[string]any{
		"already_processed": alreadyProcessed,
		"referral_count":    status.ReferralCount,
		"verified":          status.Verified,
	})
}

type overrideVerifyResponse struct {
	UserID   string `json:"user_id"`
	Verified bool   `json:"verified"`
}

func (h *VerificationHandler) handleOverrideVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	adminID := requestcontext.UserID(ctx)

	userID, err := id.ParseUserID(chi.URLParam(r, "userID"))
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid user ID"))
		return
	}

	if err := h.service.OverrideVerify(ctx, userID, adminID); err != nil {
		h.logger.WarnContext(ctx, "override verify rejected",
			"code", string(dErrors.CodeOf(err)),
			"request_id", requestcontext.RequestID(ctx),
		)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, overrideVerifyResponse{
		UserID:   userID.String(),
		Verified: true,
	})
}
