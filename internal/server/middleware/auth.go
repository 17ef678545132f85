package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/iudanet/farmkeeper/internal/server/handlers"
	"github.com/iudanet/farmkeeper/pkg/api"
)

// AuthMiddleware создает middleware для проверки JWT токена
func AuthMiddleware(logger *slog.Logger, jwtConfig handlers.JWTConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Ожидаем формат: "Bearer <token>"
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				logger.Warn("Missing Authorization header", "path", r.URL.Path)
				unauthorized(w, "missing token")
				return
			}

			scheme, tokenString, found := strings.Cut(authHeader, " ")
			if !found || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(tokenString) == "" {
				// Сам заголовок не логируем, в нем может быть токен
				logger.Warn("Invalid Authorization header format", "path", r.URL.Path)
				unauthorized(w, "invalid token format")
				return
			}

			claims, err := handlers.ValidateAccessToken(jwtConfig, strings.TrimSpace(tokenString))
			if err != nil {
				logger.Warn("Invalid access token", "error", err)
				unauthorized(w, "invalid token")
				return
			}

			logger.Debug("User authenticated", "user_id", claims.UserID, "username", claims.Username)

			ctx := handlers.WithUser(r.Context(), claims.UserID, claims.Username)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func unauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, message)
}

// writeError пишет ошибку в формате api.ErrorResponse
func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(api.ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
	})
}
