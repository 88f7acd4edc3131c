package ratelimit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"foodlink/pkg/domain"
	"foodlink/pkg/requestcontext"
)

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string, int, time.Duration) (*Result, error) {
	return nil, errors.New("redis down")
}

func serve(h http.Handler, actor domain.Actor) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/donations", nil)
	req = req.WithContext(requestcontext.WithActor(req.Context(), actor))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestPerActor(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	donor := domain.Actor{ID: "6f1c0d3e-2b6a-4a53-9a55-0b1f7d8c9e10", Role: domain.RoleDonor}
	other := domain.Actor{ID: "0c7b8a5e-33a1-4f2b-8b7e-5d2e1c9a4b21", Role: domain.RoleDonor}

	t.Run("denies over budget with retry hints", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		m := New(NewInMemoryLimiter(), Policy{Requests: 2, Window: time.Minute}, logger, WithMetrics(reg))
		h := m.PerActor(ok)

		assert.Equal(t, http.StatusNoContent, serve(h, donor).Code)
		rr := serve(h, donor)
		assert.Equal(t, http.StatusNoContent, rr.Code)
		assert.Equal(t, "0", rr.Header().Get("X-RateLimit-Remaining"))

		rr = serve(h, donor)
		require.Equal(t, http.StatusTooManyRequests, rr.Code)
		assert.NotEmpty(t, rr.Header().Get("Retry-After"))
		assert.Contains(t, rr.Body.String(), `"error":"rate_limited"`)

		assert.Equal(t, http.StatusNoContent, serve(h, other).Code)
		assert.Equal(t, 1.0, testutil.ToFloat64(m.decision.WithLabelValues("donor", "denied")))
		assert.Equal(t, 3.0, testutil.ToFloat64(m.decision.WithLabelValues("donor", "allowed")))
	})

	t.Run("limiter failure lets the request through", func(t *testing.T) {
		h := New(failingLimiter{}, Policy{Requests: 1, Window: time.Minute}, logger).PerActor(ok)
		assert.Equal(t, http.StatusNoContent, serve(h, donor).Code)
		assert.Equal(t, http.StatusNoContent, serve(h, donor).Code)
	})

	t.Run("disabled policy is a no-op", func(t *testing.T) {
		h := New(failingLimiter{}, Policy{}, logger).PerActor(ok)
		rr := serve(h, donor)
		assert.Equal(t, http.StatusNoContent, rr.Code)
		assert.Empty(t, rr.Header().Get("X-RateLimit-Limit"))
	})
}
