package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/farmkeeper/internal/server/handlers"
	"github.com/iudanet/farmkeeper/pkg/api"
)

// setupTestLogger creates a logger for testing
func setupTestLogger() *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: slog.LevelError,
	}
	handler := slog.NewTextHandler(os.Stdout, opts)
	return slog.New(handler)
}

func testJWTConfig() handlers.JWTConfig {
	return handlers.JWTConfig{
		Secret:         []byte("test-secret-key"),
		AccessTokenTTL: 15 * time.Minute,
	}
}

// testHandler is a simple handler that checks context values
func testHandler(t *testing.T, expectedUserID, expectedUsername string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := handlers.GetUserID(r.Context())
		require.True(t, ok, "user_id should be in context")
		assert.Equal(t, expectedUserID, userID)

		username, ok := handlers.GetUsername(r.Context())
		require.True(t, ok, "username should be in context")
		assert.Equal(t, expectedUsername, username)

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}
}

func TestAuthMiddleware_Success(t *testing.T) {
	cfg := testJWTConfig()

	token, _, err := handlers.GenerateAccessToken(cfg, "user123", "farmer")
	require.NoError(t, err)

	wrapped := AuthMiddleware(setupTestLogger(), cfg)(testHandler(t, "user123", "farmer"))

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	wrapped.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())
}

func TestAuthMiddleware_Rejects(t *testing.T) {
	cfg := testJWTConfig()

	valid, _, err := handlers.GenerateAccessToken(cfg, "user123", "farmer")
	require.NoError(t, err)

	expired, _, err := handlers.GenerateAccessToken(handlers.JWTConfig{
		Secret:         cfg.Secret,
		AccessTokenTTL: -time.Minute,
	}, "user123", "farmer")
	require.NoError(t, err)

	foreign, _, err := handlers.GenerateAccessToken(handlers.JWTConfig{
		Secret:         []byte("other-secret"),
		AccessTokenTTL: time.Minute,
	}, "user123", "farmer")
	require.NoError(t, err)

	// Токен с другим алгоритмом подписи
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"user_id": "user123"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
	}{
		{name: "missing header", header: ""},
		{name: "basic scheme", header: "Basic " + valid},
		{name: "no token", header: "Bearer "},
		{name: "garbage token", header: "Bearer not-a-jwt"},
		{name: "expired token", header: "Bearer " + expired},
		{name: "wrong secret", header: "Bearer " + foreign},
		{name: "none algorithm", header: "Bearer " + none},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
			})

			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			AuthMiddleware(setupTestLogger(), cfg)(next).ServeHTTP(w, req)

			assert.False(t, called)
			assert.Equal(t, http.StatusUnauthorized, w.Code)

			var resp api.ErrorResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
			assert.NotEmpty(t, resp.Message)
		})
	}
}

func TestAuthMiddleware_CaseInsensitiveScheme(t *testing.T) {
	cfg := testJWTConfig()
	token, _, err := handlers.GenerateAccessToken(cfg, "user123", "farmer")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("Authorization", "bearer "+token)
	w := httptest.NewRecorder()
	AuthMiddleware(setupTestLogger(), cfg)(testHandler(t, "user123", "farmer")).ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}
