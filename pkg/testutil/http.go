// Package testutil holds helpers shared by handler, scenario and integration
// tests.
package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"foodlink/pkg/domain"
	"foodlink/pkg/requestcontext"
)

// ActorRouter returns a router that runs every request as *actor. Tests may
// reassign *actor between requests. A non-zero now pins the request time.
func ActorRouter(actor *domain.Actor, now time.Time) chi.Router {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := requestcontext.WithActor(req.Context(), *actor)
			if !now.IsZero() {
				ctx = requestcontext.WithTime(ctx, now)
			}
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	})
	return r
}

// Serve runs one request against h. An empty body sends none.
func Serve(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

// ErrorCode decodes the error code from an error response.
func ErrorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body), "error body: %s", rr.Body.String())
	return body.Error
}
