package api

// RegisterRequest представляет запрос на регистрацию нового пользователя
type RegisterRequest struct {
	Username string `json:"username"` // username пользователя
	Password string `json:"password"` // пароль (хешируется на сервере bcrypt)
}

// RegisterResponse представляет ответ на успешную регистрацию
type RegisterResponse struct {
	UserID  string `json:"user_id"` // UUID пользователя
	Message string `json:"message"` // сообщение об успешной регистрации
}

// LoginRequest представляет запрос на аутентификацию
type LoginRequest struct {
	Username string `json:"username"` // username пользователя
	Password string `json:"password"` // пароль
}

// TokenResponse представляет ответ с токеном доступа
type TokenResponse struct {
	UserID      string `json:"user_id"`      // UUID пользователя
	AccessToken string `json:"access_token"` // JWT access token
	ExpiresIn   int64  `json:"expires_in"`   // время жизни access token в секундах
}

// ErrorResponse представляет ответ с ошибкой
type ErrorResponse struct {
	Error   string `json:"error"`             // описание ошибки
	Message string `json:"message,omitempty"` // дополнительное сообщение
}

// HealthResponse ответ health check
type HealthResponse struct {
	Status   string `json:"status"`             // "ok" или "degraded"
	Version  string `json:"version,omitempty"`  // версия сервера
	Database string `json:"database,omitempty"` // состояние хранилища
}
