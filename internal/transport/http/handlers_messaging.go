package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"vouch/internal/gateway"
	"vouch/internal/messaging"
	"vouch/internal/transport/http/shared"
	id "vouch/pkg/domain"
	dErrors "vouch/pkg/domain-errors"
	"vouch/pkg/requestcontext"
)

// Sender is the gateway's attempt-to-send entry point.
type Sender interface {
	AttemptSend(ctx context.Context, req gateway.SendRequest) (*gateway.SendResult, error)
}

// MessageReader serves conversation and history reads plus read-state writes.
type MessageReader interface {
	ConversationsFor(ctx context.Context, userID id.UserID) ([]*messaging.ConversationSummary, error)
	ListMessages(ctx context.Context, conversationID id.ConversationID, userID id.UserID, limit int, before *id.MessageID) ([]*messaging.Message, error)
	MarkRead(ctx context.Context, messageID id.MessageID, reader id.UserID) (*messaging.Message, error)
	SetHeading(ctx context.Context, conversationID id.ConversationID, userID id.UserID, heading string) error
}

// PersonaResolver maps users to their anonymous display names and answers
// whether an identity has been revealed to the viewer.
type PersonaResolver interface {
	PersonaFor(ctx context.Context, userID id.UserID, communityID id.CommunityID) (string, error)
	IsRevealedTo(ctx context.Context, revealer, observer id.UserID, categoryID id.CategoryID) (bool, error)
}

// MessagingHandler serves the send pipeline and conversation reads.
type MessagingHandler struct {
	sender   Sender
	messages MessageReader
	personas PersonaResolver
	logger   *slog.Logger
}

func NewMessagingHandler(sender Sender, messages MessageReader, personas PersonaResolver, logger *slog.Logger) *MessagingHandler {
	return &MessagingHandler{
		sender:   sender,
		messages: messages,
		personas: personas,
		logger:   logger,
	}
}

func (h *MessagingHandler) Register(r chi.Router) {
	r.Post("/messages", h.handleSend)
	r.Post("/messages/{messageID}/read", h.handleMarkRead)
	r.Get("/conversations", h.handleListConversations)
	r.Get("/conversations/{conversationID}/messages", h.handleListMessages)
	r.Put("/conversations/{conversationID}/heading", h.handleSetHeading)
}

type sendMessageRequest struct {
	ReceiverID string `json:"receiver_id"`
	CategoryID string `json:"category_id"`
	Content    string `json:"content"`
	Reveal     bool   `json:"reveal_identity"`
}

type messageResponse struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversation_id"`
	SenderID       string     `json:"sender_id,omitempty"`
	SenderName     string     `json:"sender_name,omitempty"`
	CategoryID     string     `json:"category_id"`
	Content        string     `json:"content"`
	CreatedAt      time.Time  `json:"created_at"`
	Read           bool       `json:"read"`
	ReadAt         *time.Time `json:"read_at,omitempty"`
	Mine           bool       `json:"mine"`
}

type sendMessageResponse struct {
	Message        messageResponse `json:"message"`
	SlotsRemaining int             `json:"slots_remaining"`
	ReceiverUnread int             `json:"receiver_unread"`
	RevealStatus   string          `json:"reveal_status,omitempty"`
}

func (h *MessagingHandler) handleSend(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sender := requestcontext.UserID(ctx)

	var req sendMessageRequest
	if err := shared.Decode(r, &req); err != nil {
		shared.WriteError(w, err)
		return
	}
	receiver, err := id.ParseUserID(req.ReceiverID)
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid receiver_id"))
		return
	}
	categoryID, err := id.ParseCategoryID(req.CategoryID)
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid category_id"))
		return
	}

	result, err := h.sender.AttemptSend(ctx, gateway.SendRequest{
		Sender:     sender,
		Receiver:   receiver,
		CategoryID: categoryID,
		Content:    req.Content,
		Reveal:     req.Reveal,
	})
	if err != nil {
		h.logger.WarnContext(ctx, "send rejected",
			"code", string(dErrors.CodeOf(err)),
			"request_id", requestcontext.RequestID(ctx),
		)
		shared.WriteError(w, err)
		return
	}

	resp := sendMessageResponse{
		Message:        h.renderMessage(ctx, result.Message, sender),
		SlotsRemaining: result.SlotsRemaining,
		ReceiverUnread: result.ReceiverUnread,
	}
	switch {
	case result.RevealErr != nil:
		resp.RevealStatus = "failed"
	case result.RevealPerformed:
		resp.RevealStatus = "revealed"
	case result.RevealAlreadyDone:
		resp.RevealStatus = "already_revealed"
	}
	shared.WriteJSON(w, http.StatusCreated, resp)
}

func (h *MessagingHandler) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reader := requestcontext.UserID(ctx)

	messageID, err := id.ParseMessageID(chi.URLParam(r, "messageID"))
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid message ID"))
		return
	}

	message, err := h.messages.MarkRead(ctx, messageID, reader)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, h.renderMessage(ctx, message, reader))
}

type conversationSummaryResponse struct {
	ID               string          `json:"id"`
	OtherUserID      string          `json:"other_user_id,omitempty"`
	OtherUserName    string          `json:"other_user_name"`
	IdentityRevealed bool            `json:"identity_revealed"`
	Heading          string          `json:"heading,omitempty"`
	UnreadCount      int             `json:"unread_count"`
	LastMessage      messageResponse `json:"last_message"`
}

func (h *MessagingHandler) handleListConversations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	viewer := requestcontext.UserID(ctx)

	summaries, err := h.messages.ConversationsFor(ctx, viewer)
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	resp := make([]conversationSummaryResponse, 0, len(summaries))
	for _, summary := range summaries {
		item := conversationSummaryResponse{
			ID:          summary.Conversation.ID.String(),
			Heading:     summary.Heading,
			UnreadCount: summary.UnreadCount,
			LastMessage: h.renderMessage(ctx, summary.LastMessage, viewer),
		}
		item.OtherUserName, item.IdentityRevealed = h.resolveCounterpart(ctx, summary.OtherUser, viewer, summary.LastMessage.CategoryID)
		if item.IdentityRevealed {
			item.OtherUserID = summary.OtherUser.String()
		}
		resp = append(resp, item)
	}
	shared.WriteJSON(w, http.StatusOK, map[string]any{"conversations": resp})
}

func (h *MessagingHandler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	viewer := requestcontext.UserID(ctx)

	conversationID, err := id.ParseConversationID(chi.URLParam(r, "conversationID"))
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid conversation ID"))
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil {
			shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid limit"))
			return
		}
	}
	var before *id.MessageID
	if raw := r.URL.Query().Get("before"); raw != "" {
		cursor, err := id.ParseMessageID(raw)
		if err != nil {
			shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid before cursor"))
			return
		}
		before = &cursor
	}

	messages, err := h.messages.ListMessages(ctx, conversationID, viewer, limit, before)
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	resp := make([]messageResponse, 0, len(messages))
	for _, message := range messages {
		resp = append(resp, h.renderMessage(ctx, message, viewer))
	}
	shared.WriteJSON(w, http.StatusOK, map[string]any{"messages": resp})
}

type setHeadingRequest struct {
	Heading string `json:"heading"`
}

func (h *MessagingHandler) handleSetHeading(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	viewer := requestcontext.UserID(ctx)

	conversationID, err := id.ParseConversationID(chi.URLParam(r, "conversationID"))
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid conversation ID"))
		return
	}

	var req setHeadingRequest
	if err := shared.Decode(r, &req); err != nil {
		shared.WriteError(w, err)
		return
	}
	if err := h.messages.SetHeading(ctx, conversationID, viewer, req.Heading); err != nil {
		shared.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// renderMessage projects a message for the viewer. The sender's real ID only
// appears for the viewer's own messages or after an identity revelation;
// otherwise the anonymous persona stands in.
func (h *MessagingHandler) renderMessage(ctx context.Context, message *messaging.Message, viewer id.UserID) messageResponse {
	resp := messageResponse{
		ID:             message.ID.String(),
		ConversationID: message.ConversationID.String(),
		CategoryID:     message.CategoryID.String(),
		Content:        message.Content,
		CreatedAt:      message.CreatedAt,
		Read:           message.Read,
		ReadAt:         message.ReadAt,
		Mine:           message.Sender == viewer,
	}
	if resp.Mine {
		resp.SenderID = message.Sender.String()
		return resp
	}
	name, revealed := h.resolveCounterpart(ctx, message.Sender, viewer, message.CategoryID)
	resp.SenderName = name
	if revealed {
		resp.SenderID = message.Sender.String()
	}
	return resp
}

// resolveCounterpart returns the display name to show the viewer for another
// user, preferring the real identity when a revelation exists. Resolution
// failures degrade to an anonymous placeholder rather than failing the read.
func (h *MessagingHandler) resolveCounterpart(ctx context.Context, other, viewer id.UserID, categoryID id.CategoryID) (string, bool) {
	revealed, err := h.personas.IsRevealedTo(ctx, other, viewer, categoryID)
	if err != nil {
		h.logger.WarnContext(ctx, "revelation check failed",
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		revealed = false
	}

	name, err := h.personas.PersonaFor(ctx, other, requestcontext.CommunityID(ctx))
	if err != nil {
		h.logger.WarnContext(ctx, "persona resolution failed",
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		name = "Member"
	}
	return name, revealed
}
