package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/iudanet/farmkeeper/internal/client/storage"
	"github.com/iudanet/farmkeeper/internal/validation"
	pkgapi "github.com/iudanet/farmkeeper/pkg/api"
)

var (
	// ErrNotAuthenticated нет сохраненной сессии
	ErrNotAuthenticated = errors.New("not authenticated, run login first")
	// ErrSessionExpired срок действия токена истек
	ErrSessionExpired = errors.New("session expired, run login again")
)

//go:generate moq -out authenticator_mock.go . Authenticator

// Authenticator is the part of the API client the session service needs.
type Authenticator interface {
	Register(ctx context.Context, req pkgapi.RegisterRequest) (*pkgapi.RegisterResponse, error)
	Login(ctx context.Context, req pkgapi.LoginRequest) (*pkgapi.TokenResponse, error)
	SetAccessToken(token string)
}

// Service предоставляет функции авторизации и хранит локальную сессию
type Service struct {
	api    Authenticator
	store  storage.AuthStorage
	logger *slog.Logger
	now    func() time.Time
}

// NewService создает новый сервис авторизации
func NewService(api Authenticator, store storage.AuthStorage, logger *slog.Logger) *Service {
	return &Service{
		api:    api,
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// Register регистрирует нового пользователя и возвращает его UUID
func (s *Service) Register(ctx context.Context, username, password string) (string, error) {
	// Валидация входных данных
	if err := validation.ValidateUsername(username); err != nil {
		return "", fmt.Errorf("invalid username: %w", err)
	}
	if err := validation.ValidatePassword(password); err != nil {
		return "", fmt.Errorf("invalid password: %w", err)
	}

	resp, err := s.api.Register(ctx, pkgapi.RegisterRequest{
		Username: username,
		Password: password,
	})
	if err != nil {
		return "", fmt.Errorf("registration failed: %w", err)
	}

	s.logger.Info("User registered", "username", username, "user_id", resp.UserID)
	return resp.UserID, nil
}

// Login выполняет аутентификацию и сохраняет сессию локально
func (s *Service) Login(ctx context.Context, username, password string) (*storage.AuthData, error) {
	if err := validation.ValidateUsername(username); err != nil {
		return nil, fmt.Errorf("invalid username: %w", err)
	}
	if password == "" {
		return nil, fmt.Errorf("invalid password: %w", validation.ErrPasswordEmpty)
	}

	resp, err := s.api.Login(ctx, pkgapi.LoginRequest{
		Username: username,
		Password: password,
	})
	if err != nil {
		return nil, fmt.Errorf("login failed: %w", err)
	}

	session := &storage.AuthData{
		Username:    username,
		UserID:      resp.UserID,
		AccessToken: resp.AccessToken,
		ExpiresAt:   s.now().Add(time.Duration(resp.ExpiresIn) * time.Second).Unix(),
	}
	if err := s.store.SaveAuth(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}
	s.api.SetAccessToken(session.AccessToken)

	s.logger.Info("Logged in", "username", username)
	return session, nil
}

// Logout удаляет локальную сессию. Очередь неотправленных операций сохраняется.
func (s *Service) Logout(ctx context.Context) error {
	s.api.SetAccessToken("")

	if err := s.store.DeleteAuth(ctx); err != nil {
		return fmt.Errorf("failed to delete local auth data: %w", err)
	}
	return nil
}

// Session возвращает действующую сессию и передает ее токен API клиенту
func (s *Service) Session(ctx context.Context) (*storage.AuthData, error) {
	session, err := s.store.GetAuth(ctx)
	if errors.Is(err, storage.ErrAuthNotFound) {
		return nil, ErrNotAuthenticated
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	if session.ExpiresAt > 0 && !s.now().Before(time.Unix(session.ExpiresAt, 0)) {
		s.logger.Debug("Session expired", "username", session.Username)
		return nil, ErrSessionExpired
	}

	s.api.SetAccessToken(session.AccessToken)
	return session, nil
}

// IsAuthenticated сообщает, есть ли действующая сессия
func (s *Service) IsAuthenticated(ctx context.Context) bool {
	_, err := s.Session(ctx)
	return err == nil
}
