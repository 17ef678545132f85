package connectivity

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/iudanet/farmkeeper/pkg/api"
)

// PresencePath websocket endpoint, который сервер держит открытым для клиентов
const PresencePath = "/api/v1/presence"

// TokenSource returns the current access token, or "" when there is no session.
type TokenSource func() string

// Monitor keeps a websocket to the server and reports connectivity changes.
// The connection being open means online; the server refusing the token
// means online but not authenticated.
type Monitor struct {
	tokens   TokenSource
	logger   *slog.Logger
	updates  chan State
	url      string
	interval time.Duration
	mu       sync.Mutex
	state    State
}

// NewMonitor creates a monitor for the server at serverURL (http or https).
func NewMonitor(serverURL string, tokens TokenSource, interval time.Duration, logger *slog.Logger) *Monitor {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Monitor{
		url:      presenceURL(serverURL),
		tokens:   tokens,
		interval: interval,
		logger:   logger,
		updates:  make(chan State, 1),
	}
}

// Updates delivers state changes. Only the latest undelivered state is kept.
// The channel is closed when Run returns.
func (m *Monitor) Updates() <-chan State {
	return m.updates
}

// State returns the last published state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Run connects and reconnects until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	defer close(m.updates)

	for {
		m.connect(ctx)

		select {
		case <-ctx.Done():
			return
		case <-time.After(m.interval):
		}
	}
}

// connect держит одно соединение до его разрыва
func (m *Monitor) connect(ctx context.Context) {
	token := m.tokens()

	opts := &websocket.DialOptions{HTTPHeader: http.Header{}}
	if token != "" {
		opts.HTTPHeader.Set("Authorization", "Bearer "+token)
	}

	dialCtx, cancel := context.WithTimeout(ctx, m.interval)
	conn, resp, err := websocket.Dial(dialCtx, m.url, opts)
	cancel()
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			m.logger.Debug("Presence rejected token", "url", m.url)
			m.publish(State{Online: true, Authenticated: false})
			return
		}
		m.logger.Debug("Presence connection failed", "url", m.url, "error", err)
		m.publish(State{Online: false, Authenticated: token != ""})
		return
	}
	defer func() {
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}()

	m.publish(State{Online: true, Authenticated: token != ""})

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				m.logger.Debug("Presence connection lost", "error", err)
				m.publish(State{Online: false, Authenticated: token != ""})
			}
			return
		}

		var msg api.PresenceMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			m.logger.Debug("Unexpected presence message", "error", err)
			continue
		}
		m.logger.Debug("Presence message", "type", msg.Type, "server_time", msg.ServerTime)
	}
}

func (m *Monitor) publish(state State) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if state == m.state {
		return
	}
	m.state = state
	m.logger.Info("Connectivity", "state", state.String())

	// последнее состояние важнее промежуточных
	select {
	case <-m.updates:
	default:
	}
	m.updates <- state
}

// presenceURL converts http(s)://host to ws(s)://host/api/v1/presence.
func presenceURL(serverURL string) string {
	u := strings.TrimRight(serverURL, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + PresencePath
}
