package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"foodlink/internal/donation/models"
	matching "foodlink/internal/matching/service"
	"foodlink/internal/platform/middleware"
	"foodlink/pkg/domain"
	dErrors "foodlink/pkg/domain-errors"
	"foodlink/pkg/platform/httputil"
	"foodlink/pkg/requestcontext"
)

type Service interface {
	ClaimDonation(ctx context.Context, recipient models.Recipient, donor domain.DonorID, donationID domain.DonationID, mode models.FulfillmentMode) (*matching.ClaimResult, error)
	RejectRequest(ctx context.Context, recipient domain.RecipientID, donationID domain.DonationID) error
	AcceptTask(ctx context.Context, volunteer models.Volunteer, recipient domain.RecipientID, donationID domain.DonationID) (*models.VolunteerTask, error)
	CancelTask(ctx context.Context, volunteer domain.VolunteerID, recipient domain.RecipientID, donationID domain.DonationID) error
	ListOpenRequests(ctx context.Context) ([]*models.RecipientRequest, error)
	ListRequests(ctx context.Context, recipient domain.RecipientID) ([]*models.RecipientRequest, error)
	ListTasks(ctx context.Context, volunteer domain.VolunteerID) ([]*models.VolunteerTask, error)
	ListNotifications(ctx context.Context, donor domain.DonorID) ([]*models.DonorNotification, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireRole(domain.RoleRecipient))
		r.Post("/donors/{donorID}/donations/{donationID}/claim", h.handleClaim)
		r.Delete("/requests/{donationID}", h.handleReject)
		r.Get("/requests", h.handleListRequests)
	})
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireRole(domain.RoleVolunteer))
		r.Get("/tasks/open", h.handleOpenRequests)
		r.Get("/tasks", h.handleListTasks)
		r.Post("/recipients/{recipientID}/requests/{donationID}/accept", h.handleAccept)
		r.Delete("/recipients/{recipientID}/requests/{donationID}/accept", h.handleCancel)
	})
	r.With(middleware.RequireRole(domain.RoleDonor)).Get("/notifications", h.handleNotifications)
}

type claimRequest struct {
	Mode    models.FulfillmentMode `json:"fulfillment_mode"`
	Phone   string                 `json:"recipient_phone"`
	Address string                 `json:"recipient_address"`
}

type claimResponse struct {
	Request          *models.RecipientRequest `json:"request"`
	AlreadyRequested bool                     `json:"already_requested"`
}

type acceptRequest struct {
	Phone string `json:"volunteer_phone"`
}

func (h *Handler) handleClaim(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := requestcontext.Actor(ctx)
	recipientID, err := actor.RecipientID()
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	donor, err := domain.ParseDonorID(chi.URLParam(r, "donorID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	donationID, err := domain.ParseDonationID(chi.URLParam(r, "donationID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var req claimRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	recipient := models.Recipient{ID: recipientID, Name: actor.Name, Phone: req.Phone, Address: req.Address}

	res, err := h.service.ClaimDonation(ctx, recipient, donor, donationID, req.Mode)
	if err != nil {
		h.fail(ctx, w, "claim failed", err)
		return
	}
	status := http.StatusCreated
	if res.AlreadyRequested {
		status = http.StatusOK
	}
	httputil.WriteJSON(w, status, claimResponse{Request: res.Request, AlreadyRequested: res.AlreadyRequested})
}

func (h *Handler) handleReject(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	recipientID, err := requestcontext.Actor(ctx).RecipientID()
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	donationID, err := domain.ParseDonationID(chi.URLParam(r, "donationID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := h.service.RejectRequest(ctx, recipientID, donationID); err != nil {
		h.fail(ctx, w, "reject failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleListRequests(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	recipientID, err := requestcontext.Actor(ctx).RecipientID()
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	list, err := h.service.ListRequests(ctx, recipientID)
	if err != nil {
		h.fail(ctx, w, "list requests failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"requests": nonNil(list)})
}

func (h *Handler) handleOpenRequests(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	list, err := h.service.ListOpenRequests(ctx)
	if err != nil {
		h.fail(ctx, w, "list open requests failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"requests": nonNil(list)})
}

func (h *Handler) handleListTasks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	volunteerID, err := requestcontext.Actor(ctx).VolunteerID()
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	list, err := h.service.ListTasks(ctx, volunteerID)
	if err != nil {
		h.fail(ctx, w, "list tasks failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"tasks": nonNil(list)})
}

func (h *Handler) handleAccept(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := requestcontext.Actor(ctx)
	volunteerID, recipientID, donationID, err := taskParams(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var req acceptRequest
	if r.ContentLength != 0 {
		if err := httputil.DecodeJSON(r, &req); err != nil {
			httputil.WriteError(w, err)
			return
		}
	}
	volunteer := models.Volunteer{ID: volunteerID, Name: actor.Name, Phone: req.Phone}

	task, err := h.service.AcceptTask(ctx, volunteer, recipientID, donationID)
	if err != nil {
		h.fail(ctx, w, "accept failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, task)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	volunteerID, recipientID, donationID, err := taskParams(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := h.service.CancelTask(ctx, volunteerID, recipientID, donationID); err != nil {
		h.fail(ctx, w, "cancel failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleNotifications(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	donor, err := requestcontext.Actor(ctx).DonorID()
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	list, err := h.service.ListNotifications(ctx, donor)
	if err != nil {
		h.fail(ctx, w, "list notifications failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"notifications": nonNil(list)})
}

// fail logs server-side failures louder than caller mistakes.
func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	switch dErrors.CodeOf(err) {
	case dErrors.CodeInternal, dErrors.CodePartialReplication, dErrors.CodeUnavailable:
		h.logger.ErrorContext(ctx, msg, "error", err)
	default:
		h.logger.InfoContext(ctx, msg, "error", err)
	}
	httputil.WriteError(w, err)
}

func taskParams(r *http.Request) (domain.VolunteerID, domain.RecipientID, domain.DonationID, error) {
	volunteerID, err := requestcontext.Actor(r.Context()).VolunteerID()
	if err != nil {
		return domain.VolunteerID{}, domain.RecipientID{}, domain.DonationID{}, err
	}
	recipientID, err := domain.ParseRecipientID(chi.URLParam(r, "recipientID"))
	if err != nil {
		return domain.VolunteerID{}, domain.RecipientID{}, domain.DonationID{}, err
	}
	donationID, err := domain.ParseDonationID(chi.URLParam(r, "donationID"))
	if err != nil {
		return domain.VolunteerID{}, domain.RecipientID{}, domain.DonationID{}, err
	}
	return volunteerID, recipientID, donationID, nil
}

func nonNil[T any](list []T) []T {
	if list == nil {
		return []T{}
	}
	return list
}
