package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/iudanet/farmkeeper/internal/models"
	"github.com/iudanet/farmkeeper/pkg/api"
)

// ErrUnauthorized возвращается, когда сервер отклонил токен доступа
var ErrUnauthorized = errors.New("unauthorized")

// StatusError ответ сервера с кодом вне диапазона 2xx
type StatusError struct {
	Message string
	Code    int
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("server error (%d): %s", e.Code, e.Message)
	}
	return fmt.Sprintf("request failed with status %d", e.Code)
}

// Unwrap позволяет проверять 401 через errors.Is(err, ErrUnauthorized)
func (e *StatusError) Unwrap() error {
	if e.Code == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	return nil
}

// Client представляет HTTP клиент для взаимодействия с сервером
type Client struct {
	httpClient  *http.Client
	baseURL     string
	accessToken string
	mu          sync.RWMutex
}

// NewClient создает новый API клиент
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			// Настройка обработки редиректов
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				// Ограничиваем количество редиректов
				if len(via) >= 10 {
					return fmt.Errorf("stopped after 10 redirects")
				}
				// Копируем заголовки Authorization при редиректе
				if len(via) > 0 && via[0].Header.Get("Authorization") != "" {
					req.Header.Set("Authorization", via[0].Header.Get("Authorization"))
				}
				return nil
			},
		},
	}
}

// BaseURL возвращает адрес сервера
func (c *Client) BaseURL() string {
	return c.baseURL
}

// SetAccessToken задает JWT, который добавляется к защищенным запросам
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = token
}

// AccessToken возвращает текущий JWT
func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

// Register регистрирует нового пользователя
func (c *Client) Register(ctx context.Context, req api.RegisterRequest) (*api.RegisterResponse, error) {
	var resp api.RegisterResponse
	err := c.doRequest(ctx, http.MethodPost, "/api/v1/auth/register", req, &resp)
	if err != nil {
		return nil, fmt.Errorf("register request failed: %w", err)
	}
	return &resp, nil
}

// Login выполняет аутентификацию пользователя
func (c *Client) Login(ctx context.Context, req api.LoginRequest) (*api.TokenResponse, error) {
	var resp api.TokenResponse
	err := c.doRequest(ctx, http.MethodPost, "/api/v1/auth/login", req, &resp)
	if err != nil {
		return nil, fmt.Errorf("login request failed: %w", err)
	}
	if resp.AccessToken == "" {
		return nil, fmt.Errorf("login response has no access token")
	}
	return &resp, nil
}

// Health проверяет доступность сервера
func (c *Client) Health(ctx context.Context) (*api.HealthResponse, error) {
	var resp api.HealthResponse
	if err := c.doRequest(ctx, http.MethodGet, "/api/v1/health", nil, &resp); err != nil {
		return nil, fmt.Errorf("health request failed: %w", err)
	}
	return &resp, nil
}

// GetRecord получает текущую версию записи с сервера
func (c *Client) GetRecord(ctx context.Context, collection, id string) (*api.Record, error) {
	var rec api.Record
	path := fmt.Sprintf("/api/v1/records/%s/%s", url.PathEscape(collection), url.PathEscape(id))
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &rec); err != nil {
		return nil, fmt.Errorf("get record request failed: %w", err)
	}
	return &rec, nil
}

// ListRecords получает неудаленные записи коллекции
func (c *Client) ListRecords(ctx context.Context, collection string) ([]api.Record, error) {
	var list api.RecordList
	path := "/api/v1/records/" + url.PathEscape(collection)
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &list); err != nil {
		return nil, fmt.Errorf("list records request failed: %w", err)
	}
	return list.Records, nil
}

// Submit отправляет одну операцию и классифицирует ответ сервера.
// 200 - успех, 409 - конфликт, 400/404/422 - ошибка в данных,
// все остальное (сеть, таймаут, 401, 429, 5xx) считается временной ошибкой.
func (c *Client) Submit(ctx context.Context, op *models.PendingOperation) models.Outcome {
	req := api.OperationRequest{
		CorrelationID: op.CorrelationID,
		Kind:          string(op.Kind),
		Collection:    op.Collection,
		RecordID:      op.RecordID,
		BaseVersion:   op.BaseVersion,
		Payload:       op.Payload,
	}

	status, body, err := c.send(ctx, http.MethodPost, "/api/v1/operations", req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return models.TransientFailure("request timed out")
		}
		return models.TransientFailure(err.Error())
	}

	var resp api.OperationResponse
	decodeErr := json.Unmarshal(body, &resp)

	switch {
	case status == http.StatusOK || status == http.StatusCreated:
		if decodeErr != nil {
			return models.TransientFailure(fmt.Sprintf("failed to decode response: %v", decodeErr))
		}
		if resp.Record == nil {
			return models.Success(nil, 0)
		}
		return models.Success(resp.Record.Data, resp.Record.Version)

	case status == http.StatusConflict:
		reason := resp.Error
		if reason == "" {
			reason = "remote record has changed"
		}
		switch {
		case resp.Record == nil:
			return models.ConflictFailure(nil, 0, reason)
		case resp.Record.Deleted:
			return models.DeletedConflict(resp.Record.Data, resp.Record.Version, reason)
		}
		return models.ConflictFailure(resp.Record.Data, resp.Record.Version, reason)

	case status == http.StatusBadRequest,
		status == http.StatusNotFound,
		status == http.StatusUnprocessableEntity:
		return models.Rejected(errorMessage(status, body))

	default:
		return models.TransientFailure(errorMessage(status, body))
	}
}

// doRequest выполняет HTTP запрос
func (c *Client) doRequest(ctx context.Context, method, path string, body, result interface{}) error {
	status, respBody, err := c.send(ctx, method, path, body)
	if err != nil {
		return err
	}

	// Проверяем статус код
	if status < 200 || status >= 300 {
		var errResp api.ErrorResponse
		if err := json.Unmarshal(respBody, &errResp); err == nil && (errResp.Message != "" || errResp.Error != "") {
			msg := errResp.Message
			if msg == "" {
				msg = errResp.Error
			}
			return &StatusError{Code: status, Message: msg}
		}
		return fmt.Errorf("%w: %s", &StatusError{Code: status}, string(respBody))
	}

	// Декодируем успешный ответ
	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}

// send выполняет запрос и возвращает код и тело ответа
func (c *Client) send(ctx context.Context, method, path string, body interface{}) (int, []byte, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.AccessToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	// Читаем тело ответа
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return resp.StatusCode, respBody, nil
}

func errorMessage(status int, body []byte) string {
	var errResp api.ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil {
		if errResp.Message != "" {
			return errResp.Message
		}
		if errResp.Error != "" {
			return errResp.Error
		}
	}
	return fmt.Sprintf("server returned %d %s", status, http.StatusText(status))
}
