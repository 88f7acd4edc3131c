package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	milestone "foodlink/internal/milestone/service"
	"foodlink/internal/platform/middleware"
	"foodlink/pkg/domain"
	"foodlink/pkg/platform/httputil"
	"foodlink/pkg/requestcontext"
)

type Service interface {
	GetMilestoneState(ctx context.Context, donor domain.DonorID) (*milestone.View, error)
	IssueCertificate(ctx context.Context, donor domain.DonorID) (*milestone.Certificate, error)
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
		r.Use(middleware.RequireRole(domain.RoleDonor))
		r.Get("/milestones", h.handleGet)
		r.Post("/milestones/certificates", h.handleIssue)
	})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	donor, err := requestcontext.Actor(ctx).DonorID()
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	view, err := h.service.GetMilestoneState(ctx, donor)
	if err != nil {
		h.logger.WarnContext(ctx, "milestone evaluation failed", "error", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, view)
}

func (h *Handler) handleIssue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	donor, err := requestcontext.Actor(ctx).DonorID()
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	cert, err := h.service.IssueCertificate(ctx, donor)
	if err != nil {
		h.logger.WarnContext(ctx, "certificate not issued", "error", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, cert)
}
