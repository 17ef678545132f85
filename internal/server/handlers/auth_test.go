package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/iudanet/farmkeeper/internal/models"
	"github.com/iudanet/farmkeeper/internal/server/storage"
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

// mockUserStorage is a mock implementation of UserStorage for testing
type mockUserStorage struct {
	users        map[string]*models.User // username -> User
	createError  error
	getUserError error
	lastLogins   map[string]time.Time
	mu           sync.Mutex
}

func newMockUserStorage() *mockUserStorage {
	return &mockUserStorage{
		users:      make(map[string]*models.User),
		lastLogins: make(map[string]time.Time),
	}
}

func (m *mockUserStorage) CreateUser(ctx context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createError != nil {
		return m.createError
	}
	if _, exists := m.users[user.Username]; exists {
		return storage.ErrUserAlreadyExists
	}
	m.users[user.Username] = user
	return nil
}

func (m *mockUserStorage) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getUserError != nil {
		return nil, m.getUserError
	}
	user, ok := m.users[username]
	if !ok {
		return nil, storage.ErrUserNotFound
	}
	return user, nil
}

func (m *mockUserStorage) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, user := range m.users {
		if user.ID == id {
			return user, nil
		}
	}
	return nil, storage.ErrUserNotFound
}

func (m *mockUserStorage) UpdateLastLogin(ctx context.Context, userID string, loginTime time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastLogins[userID] = loginTime
	return nil
}

func testJWTConfig() JWTConfig {
	return JWTConfig{
		Secret:         []byte("test-secret"),
		AccessTokenTTL: 15 * time.Minute,
	}
}

func newTestAuthHandler(users storage.UserStorage) *AuthHandler {
	h := NewAuthHandler(setupTestLogger(), users, testJWTConfig())
	h.bcryptCost = bcrypt.MinCost
	return h
}

func postJSON(t *testing.T, handler http.HandlerFunc, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(body))
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	w := httptest.NewRecorder()
	handler(w, req)
	return w
}

func TestAuthHandler_Register(t *testing.T) {
	tests := []struct {
		setup      func(m *mockUserStorage)
		request    any
		name       string
		wantStatus int
	}{
		{
			name:       "successful registration",
			request:    api.RegisterRequest{Username: "farmer", Password: "correct horse"},
			wantStatus: http.StatusCreated,
		},
		{
			name:       "invalid username",
			request:    api.RegisterRequest{Username: "ab", Password: "correct horse"},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "short password",
			request:    api.RegisterRequest{Username: "farmer", Password: "short"},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "invalid json",
			request:    "not an object",
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "username taken",
			setup: func(m *mockUserStorage) {
				m.users["farmer"] = &models.User{ID: "u0", Username: "farmer"}
			},
			request:    api.RegisterRequest{Username: "farmer", Password: "correct horse"},
			wantStatus: http.StatusConflict,
		},
		{
			name: "storage failure",
			setup: func(m *mockUserStorage) {
				m.createError = errors.New("disk full")
			},
			request:    api.RegisterRequest{Username: "farmer", Password: "correct horse"},
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			users := newMockUserStorage()
			if tt.setup != nil {
				tt.setup(users)
			}
			h := newTestAuthHandler(users)

			w := postJSON(t, h.Register, "/api/v1/auth/register", tt.request)
			assert.Equal(t, tt.wantStatus, w.Code)

			if tt.wantStatus != http.StatusCreated {
				var resp api.ErrorResponse
				require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
				assert.NotEmpty(t, resp.Message)
				return
			}

			var resp api.RegisterResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
			assert.NotEmpty(t, resp.UserID)

			stored := users.users["farmer"]
			require.NotNil(t, stored)
			assert.NotEqual(t, "correct horse", stored.PasswordHash)
			assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte("correct horse")))
		})
	}
}

func TestAuthHandler_Login(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("correct horse"), bcrypt.MinCost)
	require.NoError(t, err)

	tests := []struct {
		setup      func(m *mockUserStorage)
		request    any
		name       string
		wantStatus int
	}{
		{
			name:       "successful login",
			request:    api.LoginRequest{Username: "farmer", Password: "correct horse"},
			wantStatus: http.StatusOK,
		},
		{
			name:       "wrong password",
			request:    api.LoginRequest{Username: "farmer", Password: "battery staple"},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "unknown user",
			request:    api.LoginRequest{Username: "stranger", Password: "correct horse"},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "empty password",
			request:    api.LoginRequest{Username: "farmer"},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "invalid username",
			request:    api.LoginRequest{Username: "a b", Password: "correct horse"},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "storage failure",
			setup: func(m *mockUserStorage) {
				m.getUserError = errors.New("db locked")
			},
			request:    api.LoginRequest{Username: "farmer", Password: "correct horse"},
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			users := newMockUserStorage()
			users.users["farmer"] = &models.User{ID: "u1", Username: "farmer", PasswordHash: string(hash)}
			if tt.setup != nil {
				tt.setup(users)
			}
			h := newTestAuthHandler(users)

			w := postJSON(t, h.Login, "/api/v1/auth/login", tt.request)
			assert.Equal(t, tt.wantStatus, w.Code)

			if tt.wantStatus != http.StatusOK {
				return
			}

			var resp api.TokenResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
			assert.Equal(t, "u1", resp.UserID)
			assert.Equal(t, int64(900), resp.ExpiresIn)

			claims, err := ValidateAccessToken(testJWTConfig(), resp.AccessToken)
			require.NoError(t, err)
			assert.Equal(t, "u1", claims.UserID)
			assert.Equal(t, "farmer", claims.Username)
			assert.Contains(t, users.lastLogins, "u1")
		})
	}
}

func TestValidateAccessToken(t *testing.T) {
	cfg := testJWTConfig()

	token, expiresIn, err := GenerateAccessToken(cfg, "u1", "farmer")
	require.NoError(t, err)
	assert.Equal(t, int64(900), expiresIn)

	claims, err := ValidateAccessToken(cfg, token)
	require.NoError(t, err)
	assert.Equal(t, tokenIssuer, claims.Issuer)

	_, err = ValidateAccessToken(JWTConfig{Secret: []byte("other")}, token)
	assert.Error(t, err)

	// Токен без пользователя не принимается
	empty, _, err := GenerateAccessToken(cfg, "", "farmer")
	require.NoError(t, err)
	_, err = ValidateAccessToken(cfg, empty)
	assert.Error(t, err)
}
