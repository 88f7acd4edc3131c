package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"foodlink/internal/donation/models"
	ledger "foodlink/internal/ledger/service"
	"foodlink/internal/platform/middleware"
	"foodlink/pkg/domain"
	"foodlink/pkg/platform/httputil"
	"foodlink/pkg/requestcontext"
)

//go:generate mockgen -source=handler.go -destination=mocks/mock_service.go -package=mocks Service

// Service defines the interface for ledger operations.
type Service interface {
	ScheduleDonation(ctx context.Context, donor domain.Actor, details models.DonationDetails) (*models.Donation, error)
	GetDonation(ctx context.Context, donor domain.DonorID, id domain.DonationID) (*models.Donation, error)
	ListDonations(ctx context.Context, donor domain.DonorID) ([]*models.Donation, error)
	UpdateDonation(ctx context.Context, donor domain.DonorID, id domain.DonationID, edit models.DonationEdit) (*models.Donation, error)
	ListAvailable(ctx context.Context) ([]*models.Donation, error)
	RequestImageUpload(ctx context.Context, donor domain.DonorID, contentType string) (*ledger.ImageUpload, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts the ledger routes. Callers have already authenticated.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireRole(domain.RoleDonor))
		r.Post("/donations", h.handleSchedule)
		r.Get("/donations", h.handleList)
		r.Get("/donations/{donationID}", h.handleGet)
		r.Patch("/donations/{donationID}", h.handleUpdate)
		r.Post("/donations/images", h.handleImageUpload)
	})
	r.With(middleware.RequireRole(domain.RoleRecipient, domain.RoleVolunteer)).Get("/available", h.handleAvailable)
}

type scheduleRequest struct {
	FoodName   string              `json:"food_name"`
	FoodType   string              `json:"food_type"`
	Quantity   string              `json:"quantity"`
	Window     models.PickupWindow `json:"pickup_window"`
	Location   models.Location     `json:"location"`
	ImageRef   string              `json:"image_ref"`
	DonorPhone string              `json:"donor_phone"`
}

type updateRequest struct {
	FoodName *string              `json:"food_name"`
	FoodType *string              `json:"food_type"`
	Quantity *string              `json:"quantity"`
	Window   *models.PickupWindow `json:"pickup_window"`
	Location *models.Location     `json:"location"`
	ImageRef *string              `json:"image_ref"`
}

type imageRequest struct {
	ContentType string `json:"content_type"`
}

type donationList struct {
	Donations []*models.Donation `json:"donations"`
}

func (h *Handler) handleSchedule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req scheduleRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	qty, err := models.ParseQuantity(req.Quantity)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	d, err := h.service.ScheduleDonation(ctx, requestcontext.Actor(ctx), models.DonationDetails{
		FoodName:   req.FoodName,
		FoodType:   req.FoodType,
		Quantity:   qty,
		Window:     req.Window,
		Location:   req.Location,
		ImageRef:   req.ImageRef,
		DonorPhone: req.DonorPhone,
	})
	if err != nil {
		h.fail(ctx, w, "failed to schedule donation", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, d)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	donor, err := requestcontext.Actor(ctx).DonorID()
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	list, err := h.service.ListDonations(ctx, donor)
	if err != nil {
		h.fail(ctx, w, "failed to list donations", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, donationList{Donations: nonNil(list)})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	donor, id, err := donorAndDonation(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	d, err := h.service.GetDonation(ctx, donor, id)
	if err != nil {
		h.fail(ctx, w, "failed to load donation", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, d)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	donor, id, err := donorAndDonation(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var req updateRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	edit := models.DonationEdit{
		FoodName: req.FoodName,
		FoodType: req.FoodType,
		Window:   req.Window,
		Location: req.Location,
		ImageRef: req.ImageRef,
	}
	if req.Quantity != nil {
		q, err := models.ParseQuantity(*req.Quantity)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		edit.Quantity = &q
	}
	d, err := h.service.UpdateDonation(ctx, donor, id, edit)
	if err != nil {
		h.fail(ctx, w, "failed to update donation", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, d)
}

func (h *Handler) handleAvailable(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	list, err := h.service.ListAvailable(ctx)
	if err != nil {
		h.fail(ctx, w, "failed to list available donations", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, donationList{Donations: nonNil(list)})
}

func (h *Handler) handleImageUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	donor, err := requestcontext.Actor(ctx).DonorID()
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var req imageRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	up, err := h.service.RequestImageUpload(ctx, donor, req.ContentType)
	if err != nil {
		h.fail(ctx, w, "failed to presign image upload", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, up)
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	h.logger.WarnContext(ctx, msg, "error", err)
	httputil.WriteError(w, err)
}

func donorAndDonation(r *http.Request) (domain.DonorID, domain.DonationID, error) {
	donor, err := requestcontext.Actor(r.Context()).DonorID()
	if err != nil {
		return domain.DonorID{}, domain.DonationID{}, err
	}
	id, err := domain.ParseDonationID(chi.URLParam(r, "donationID"))
	if err != nil {
		return domain.DonorID{}, domain.DonationID{}, err
	}
	return donor, id, nil
}

func nonNil[T any](list []T) []T {
	if list == nil {
		return []T{}
	}
	return list
}
