package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/farmkeeper/pkg/api"
)

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealthHandler_Health(t *testing.T) {
	tests := []struct {
		db           Pinger
		name         string
		wantStatus   int
		wantBody     string
		wantDatabase string
	}{
		{
			name:       "without database",
			wantStatus: http.StatusOK,
			wantBody:   "ok",
		},
		{
			name:         "database reachable",
			db:           pingerFunc(func(context.Context) error { return nil }),
			wantStatus:   http.StatusOK,
			wantBody:     "ok",
			wantDatabase: "ok",
		},
		{
			name:         "database down",
			db:           pingerFunc(func(context.Context) error { return errors.New("closed") }),
			wantStatus:   http.StatusServiceUnavailable,
			wantBody:     "degraded",
			wantDatabase: "unavailable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewHealthHandler(setupTestLogger(), tt.db, "")

			req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
			w := httptest.NewRecorder()
			handler.Health(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

			var resp api.HealthResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
			assert.Equal(t, tt.wantBody, resp.Status)
			assert.Equal(t, tt.wantDatabase, resp.Database)
			assert.Equal(t, "dev", resp.Version)
		})
	}
}
