package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/iudanet/farmkeeper/internal/models"
	"github.com/iudanet/farmkeeper/internal/server/storage"
	"github.com/iudanet/farmkeeper/internal/validation"
	"github.com/iudanet/farmkeeper/pkg/api"
)

// AuthHandler обрабатывает запросы авторизации
type AuthHandler struct {
	logger      *slog.Logger
	userStorage storage.UserStorage
	now         func() time.Time
	jwtConfig   JWTConfig
	bcryptCost  int
}

// NewAuthHandler создает новый handler для авторизации
func NewAuthHandler(logger *slog.Logger, userStorage storage.UserStorage, jwtConfig JWTConfig) *AuthHandler {
	return &AuthHandler{
		logger:      logger,
		userStorage: userStorage,
		jwtConfig:   jwtConfig,
		bcryptCost:  bcrypt.DefaultCost,
		now:         time.Now,
	}
}

// Register обрабатывает POST /api/v1/auth/register
// Регистрация нового пользователя
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// Парсим request body
	var req api.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WarnContext(ctx, "Failed to decode register request", slog.Any("error", err))
		sendError(h.logger, w, "invalid request body", http.StatusBadRequest)
		return
	}

	// Валидация username и пароля
	if err := validation.ValidateUsername(req.Username); err != nil {
		h.logger.WarnContext(ctx, "Invalid username", slog.String("username", req.Username), slog.Any("error", err))
		sendError(h.logger, w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := validation.ValidatePassword(req.Password); err != nil {
		sendError(h.logger, w, err.Error(), http.StatusBadRequest)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), h.bcryptCost)
	if err != nil {
		h.logger.ErrorContext(ctx, "Failed to hash password", slog.Any("error", err))
		sendError(h.logger, w, "internal server error", http.StatusInternalServerError)
		return
	}

	user := &models.User{
		ID:           uuid.New().String(),
		Username:     req.Username,
		PasswordHash: string(hash),
		CreatedAt:    h.now(),
	}

	// Сохраняем в БД
	if err := h.userStorage.CreateUser(ctx, user); err != nil {
		if errors.Is(err, storage.ErrUserAlreadyExists) {
			h.logger.WarnContext(ctx, "User already exists", slog.String("username", req.Username))
			sendError(h.logger, w, "username already taken", http.StatusConflict)
			return
		}
		h.logger.ErrorContext(ctx, "Failed to create user", slog.Any("error", err))
		sendError(h.logger, w, "internal server error", http.StatusInternalServerError)
		return
	}

	h.logger.InfoContext(ctx, "User registered",
		slog.String("username", req.Username),
		slog.String("user_id", user.ID))

	sendJSON(h.logger, w, api.RegisterResponse{
		UserID:  user.ID,
		Message: "User registered successfully",
	}, http.StatusCreated)
}

// Login обрабатывает POST /api/v1/auth/login
// Аутентификация пользователя
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req api.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WarnContext(ctx, "Failed to decode login request", slog.Any("error", err))
		sendError(h.logger, w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := validation.ValidateUsername(req.Username); err != nil {
		sendError(h.logger, w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Password == "" {
		sendError(h.logger, w, validation.ErrPasswordEmpty.Error(), http.StatusBadRequest)
		return
	}

	user, err := h.userStorage.GetUserByUsername(ctx, req.Username)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			h.logger.WarnContext(ctx, "Login failed: user not found", slog.String("username", req.Username))
			sendError(h.logger, w, "invalid credentials", http.StatusUnauthorized)
			return
		}
		h.logger.ErrorContext(ctx, "Failed to get user", slog.Any("error", err))
		sendError(h.logger, w, "internal server error", http.StatusInternalServerError)
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		h.logger.WarnContext(ctx, "Login failed: wrong password", slog.String("username", req.Username))
		sendError(h.logger, w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	accessToken, expiresIn, err := GenerateAccessToken(h.jwtConfig, user.ID, user.Username)
	if err != nil {
		h.logger.ErrorContext(ctx, "Failed to generate access token", slog.Any("error", err))
		sendError(h.logger, w, "internal server error", http.StatusInternalServerError)
		return
	}

	// Обновляем last_login
	if err := h.userStorage.UpdateLastLogin(ctx, user.ID, h.now()); err != nil {
		// Не критичная ошибка, логируем но не прерываем
		h.logger.WarnContext(ctx, "Failed to update last login", slog.Any("error", err))
	}

	h.logger.InfoContext(ctx, "User logged in",
		slog.String("username", req.Username),
		slog.String("user_id", user.ID))

	sendJSON(h.logger, w, api.TokenResponse{
		UserID:      user.ID,
		AccessToken: accessToken,
		ExpiresIn:   expiresIn,
	}, http.StatusOK)
}
