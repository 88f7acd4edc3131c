package ratelimit

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"foodlink/pkg/platform/httputil"
	"foodlink/pkg/requestcontext"
)

type Middleware struct {
	limiter  Limiter
	policy   Policy
	logger   *slog.Logger
	decision *prometheus.CounterVec
}

type Option func(*Middleware)

// WithMetrics counts decisions by role and outcome.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(m *Middleware) {
		m.decision = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "foodlink_ratelimit_decisions_total",
			Help: "Rate limit decisions by actor role and outcome.",
		}, []string{"role", "outcome"})
		reg.MustRegister(m.decision)
	}
}

func New(limiter Limiter, policy Policy, logger *slog.Logger, opts ...Option) *Middleware {
	m := &Middleware{limiter: limiter, policy: policy, logger: logger}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

type exceededResponse struct {
	Error      string `json:"error"`
	Message    string `json:"error_description"`
	Retryable  bool   `json:"retryable"`
	RetryAfter int    `json:"retry_after"`
}

// PerActor limits each authenticated actor. It must run after the auth
// middleware. Limiter failures let the request through.
func (m *Middleware) PerActor(next http.Handler) http.Handler {
	if !m.policy.Enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		actor := requestcontext.Actor(ctx)
		key := actor.Role.String() + ":" + actor.ID

		res, err := m.limiter.Allow(ctx, key, m.policy.Requests, m.policy.Window)
		if err != nil {
			m.logger.ErrorContext(ctx, "rate limit check failed", "error", err, "actor_id", actor.ID)
			m.count(actor.Role.String(), "error")
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
		if !res.Allowed {
			m.count(actor.Role.String(), "denied")
			m.logger.WarnContext(ctx, "actor rate limited", "actor_id", actor.ID, "role", actor.Role.String())
			w.Header().Set("Retry-After", strconv.Itoa(res.RetryAfter))
			httputil.WriteJSON(w, http.StatusTooManyRequests, exceededResponse{
				Error:      "rate_limited",
				Message:    "too many requests; retry later",
				Retryable:  true,
				RetryAfter: res.RetryAfter,
			})
			return
		}
		m.count(actor.Role.String(), "allowed")
		next.ServeHTTP(w, r)
	})
}

func (m *Middleware) count(role, outcome string) {
	if m.decision != nil {
		m.decision.WithLabelValues(role, outcome).Inc()
	}
}
