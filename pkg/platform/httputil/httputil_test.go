package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "foodlink/pkg/domain-errors"
)

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	return body
}

func TestWriteError(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		status      int
		code        string
		description string
		retryable   bool
	}{
		{
			name:   "internal errors hide their message",
			err:    dErrors.New(dErrors.CodeInternal, "pq: relation missing"),
			status: http.StatusInternalServerError,
			code:   "internal_error",
		},
		{
			name:   "untyped errors are internal",
			err:    errors.New("boom"),
			status: http.StatusInternalServerError,
			code:   "internal_error",
		},
		{
			name:        "claim races surface as conflicts",
			err:         fmt.Errorf("accept: %w", dErrors.New(dErrors.CodeAlreadyClaimed, "request already accepted by another volunteer")),
			status:      http.StatusConflict,
			code:        "already_claimed",
			description: "request already accepted by another volunteer",
		},
		{
			name:        "a half-applied status change asks the caller to retry",
			err:         dErrors.New(dErrors.CodePartialReplication, "notification not written"),
			status:      http.StatusServiceUnavailable,
			code:        "partial_replication",
			description: "notification not written",
			retryable:   true,
		},
		{
			name:        "timeouts are retryable",
			err:         dErrors.New(dErrors.CodeTimeout, "store deadline exceeded"),
			status:      http.StatusGatewayTimeout,
			code:        "timeout",
			description: "store deadline exceeded",
			retryable:   true,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			WriteError(rr, tc.err)

			assert.Equal(t, tc.status, rr.Code)
			assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
			body := decodeError(t, rr)
			assert.Equal(t, tc.code, body["error"])
			if tc.description == "" {
				assert.NotContains(t, body, "error_description")
			} else {
				assert.Equal(t, tc.description, body["error_description"])
			}
			if tc.retryable {
				assert.Equal(t, true, body["retryable"])
				assert.Equal(t, "2", rr.Header().Get("Retry-After"))
			} else {
				assert.NotContains(t, body, "retryable")
				assert.Empty(t, rr.Header().Get("Retry-After"))
			}
		})
	}
}

func TestStatusFor(t *testing.T) {
	cases := map[dErrors.Code]int{
		dErrors.CodeBadRequest:         http.StatusBadRequest,
		dErrors.CodeValidation:         http.StatusUnprocessableEntity,
		dErrors.CodeUnauthorized:       http.StatusUnauthorized,
		dErrors.CodeForbidden:          http.StatusForbidden,
		dErrors.CodeNotFound:           http.StatusNotFound,
		dErrors.CodeInvalidTransition:  http.StatusConflict,
		dErrors.CodeUnavailable:        http.StatusServiceUnavailable,
		dErrors.Code("something_else"): http.StatusInternalServerError,
	}
	for code, want := range cases {
		assert.Equal(t, want, StatusFor(code), string(code))
	}
}

func TestDecodeJSON(t *testing.T) {
	var dst struct {
		Status string `json:"status"`
	}

	req := httptest.NewRequest(http.MethodPut, "/", strings.NewReader(`{"status":"Delivered"}`))
	require.NoError(t, DecodeJSON(req, &dst))
	assert.Equal(t, "Delivered", dst.Status)

	req = httptest.NewRequest(http.MethodPut, "/", strings.NewReader(`{"status":"Delivered","extra":1}`))
	err := DecodeJSON(req, &dst)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeBadRequest))

	req = httptest.NewRequest(http.MethodPut, "/", strings.NewReader(`{`))
	assert.True(t, dErrors.HasCode(DecodeJSON(req, &dst), dErrors.CodeBadRequest))
}
