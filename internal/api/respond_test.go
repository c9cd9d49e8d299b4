package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatescope/gatescope/internal/aiban"
	"github.com/gatescope/gatescope/internal/analytics"
	"github.com/gatescope/gatescope/internal/auth"
	"github.com/gatescope/gatescope/internal/topup"
)

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var out envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestRespondOK(t *testing.T) {
	rec := httptest.NewRecorder()
	respondOK(rec, map[string]int{"total": 3})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	out := decodeEnvelope(t, rec)
	assert.True(t, out.Success)
	assert.Nil(t, out.Error)
}

func TestRespondErrMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"invalid param", fmt.Errorf("window: %w", analytics.ErrInvalidParam), http.StatusBadRequest, codeInvalidParam},
		{"not found", analytics.ErrNotFound, http.StatusNotFound, codeNotFound},
		{"bad credentials", auth.ErrInvalidCredentials, http.StatusUnauthorized, codeUnauthorized},
		{"already refunded", topup.ErrAlreadyRefunded, http.StatusConflict, codeConflict},
		{"scan in progress", aiban.ErrScanInProgress, http.StatusConflict, codeConflict},
		{"unclassified", fmt.Errorf("boom"), http.StatusInternalServerError, codeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			respondErr(rec, tt.err)

			assert.Equal(t, tt.wantStatus, rec.Code)
			out := decodeEnvelope(t, rec)
			assert.False(t, out.Success)
			require.NotNil(t, out.Error)
			assert.Equal(t, tt.wantCode, out.Error.Code)
		})
	}
}

func TestRespondErrRateLimitShape(t *testing.T) {
	rec := httptest.NewRecorder()
	respondErr(rec, &auth.ErrRateLimited{WaitSeconds: 900})

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// Rate limiting keeps its legacy flat shape, not the envelope.
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, false, out["success"])
	assert.Equal(t, "rate_limit", out["error_type"])
	assert.Equal(t, float64(900), out["wait_seconds"])
}

func TestQueryHelpers(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet,
		"/x?page=3&bad=abc&window=24h&force=true&off=0&id=9000000000", nil)

	assert.Equal(t, 3, queryInt(r, "page", 1))
	assert.Equal(t, 1, queryInt(r, "bad", 1))
	assert.Equal(t, 1, queryInt(r, "missing", 1))
	assert.Equal(t, int64(9000000000), queryInt64(r, "id", 0))
	assert.Equal(t, "24h", queryString(r, "window", "1h"))
	assert.Equal(t, "1h", queryString(r, "missing", "1h"))
	assert.True(t, queryBool(r, "force"))
	assert.False(t, queryBool(r, "off"))
	assert.False(t, queryBool(r, "missing"))
}
