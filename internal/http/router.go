// Package httpapi assembles the public HTTP surface: shared middleware,
// health and metrics endpoints, and every feature handler behind actor
// authentication.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"foodlink/internal/platform/auth"
	"foodlink/internal/platform/metrics"
	"foodlink/internal/platform/middleware"
	"foodlink/pkg/domain"
	dErrors "foodlink/pkg/domain-errors"
	"foodlink/pkg/platform/httputil"
)

// Routes is implemented by each feature handler.
type Routes interface {
	Register(r chi.Router)
}

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

type Config struct {
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	Tokens  *auth.JWTService
	Timeout time.Duration
	Checks  map[string]HealthCheck
	// Limit throttles authenticated actors when set.
	Limit    func(http.Handler) http.Handler
	API      []Routes
	Stream   []Routes
	DevToken bool
}

// NewRouter wires all public endpoints. API routes run under a request
// timeout; Stream routes do not.
func NewRouter(cfg Config) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestTime)
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.Latency(cfg.Metrics))

	r.Get("/healthz", healthz(cfg.Checks, cfg.Logger))
	r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	if cfg.DevToken {
		r.Post("/dev/token", devToken(cfg.Tokens))
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(cfg.Tokens, cfg.Logger))
		if cfg.Limit != nil {
			r.Use(cfg.Limit)
		}
		r.Group(func(r chi.Router) {
			if cfg.Timeout > 0 {
				r.Use(middleware.Timeout(cfg.Timeout))
			}
			for _, h := range cfg.API {
				h.Register(r)
			}
		})
		for _, h := range cfg.Stream {
			h.Register(r)
		}
	})
	return r
}

func healthz(checks map[string]HealthCheck, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		status := map[string]string{}
		healthy := true
		for name, check := range checks {
			if err := check(ctx); err != nil {
				logger.WarnContext(ctx, "health check failed", "dependency", name, "error", err)
				status[name] = "unavailable"
				healthy = false
				continue
			}
			status[name] = "ok"
		}
		code := http.StatusOK
		if !healthy {
			code = http.StatusServiceUnavailable
		}
		httputil.WriteJSON(w, code, map[string]any{"healthy": healthy, "dependencies": status})
	}
}

type devTokenRequest struct {
	ActorID string `json:"actor_id"`
	Role    string `json:"role"`
	Name    string `json:"name"`
}

// devToken mints tokens for local testing. Only mounted when enabled.
func devToken(tokens *auth.JWTService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req devTokenRequest
		if err := httputil.DecodeJSON(r, &req); err != nil {
			httputil.WriteError(w, err)
			return
		}
		role, err := domain.ParseRole(req.Role)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		claims := auth.Claims{ActorID: req.ActorID, Role: role.String(), Name: req.Name}
		actor, err := claims.Actor()
		if err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "actor_id must be a uuid"))
			return
		}
		token, err := tokens.GenerateAccessToken(actor, 12*time.Hour)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusCreated, map[string]string{"access_token": token, "token_type": "Bearer"})
	}
}
