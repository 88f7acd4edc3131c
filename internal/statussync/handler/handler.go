package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	statussync "foodlink/internal/statussync/service"
	"foodlink/pkg/domain"
	dErrors "foodlink/pkg/domain-errors"
	"foodlink/pkg/platform/httputil"
	"foodlink/pkg/requestcontext"
)

type Service interface {
	SetDeliveryStatus(ctx context.Context, actor domain.Actor, change statussync.Change) (*statussync.Result, error)
	ToggleDeliveryStatus(ctx context.Context, actor domain.Actor, donationID domain.DonationID, recipientID domain.RecipientID) (*statussync.Result, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts the status routes. Every role may call them; the service
// decides which field the actor's role drives.
func (h *Handler) Register(r chi.Router) {
	r.Put("/donations/{donationID}/status", h.handleSet)
	r.Post("/donations/{donationID}/status/toggle", h.handleToggle)
}

type statusRequest struct {
	Status      string `json:"status"`
	RecipientID string `json:"recipient_id,omitempty"`
}

type toggleRequest struct {
	RecipientID string `json:"recipient_id,omitempty"`
}

func (h *Handler) handleSet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	donationID, err := domain.ParseDonationID(chi.URLParam(r, "donationID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var req statusRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	recipientID, err := optionalRecipient(req.RecipientID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	res, err := h.service.SetDeliveryStatus(ctx, requestcontext.Actor(ctx), statussync.Change{
		DonationID:  donationID,
		RecipientID: recipientID,
		Status:      req.Status,
	})
	if err != nil {
		h.fail(ctx, w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) handleToggle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	donationID, err := domain.ParseDonationID(chi.URLParam(r, "donationID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var req toggleRequest
	if r.ContentLength != 0 {
		if err := httputil.DecodeJSON(r, &req); err != nil {
			httputil.WriteError(w, err)
			return
		}
	}
	recipientID, err := optionalRecipient(req.RecipientID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	res, err := h.service.ToggleDeliveryStatus(ctx, requestcontext.Actor(ctx), donationID, recipientID)
	if err != nil {
		h.fail(ctx, w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, err error) {
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, "status change failed", "error", err)
	} else {
		h.logger.InfoContext(ctx, "status change refused", "error", err)
	}
	httputil.WriteError(w, err)
}

func optionalRecipient(s string) (domain.RecipientID, error) {
	if s == "" {
		return domain.RecipientID{}, nil
	}
	return domain.ParseRecipientID(s)
}
