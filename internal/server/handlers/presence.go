package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/iudanet/farmkeeper/pkg/api"
)

const presenceWriteTimeout = 5 * time.Second

// PresenceHandler keeps a websocket open per client so that the client can
// tell whether it is online and its token is still accepted.
type PresenceHandler struct {
	logger   *slog.Logger
	ctx      context.Context
	cancel   context.CancelFunc
	now      func() time.Time
	wg       sync.WaitGroup
	interval time.Duration
}

// NewPresenceHandler creates a presence handler that pings every interval
func NewPresenceHandler(logger *slog.Logger, interval time.Duration) *PresenceHandler {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &PresenceHandler{
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		now:      time.Now,
		interval: interval,
	}
}

// Presence обрабатывает GET /api/v1/presence (websocket, JWT обязателен)
func (h *PresenceHandler) Presence(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserID(r.Context())
	if !ok {
		sendError(h.logger, w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", slog.Any("error", err))
		return
	}

	h.wg.Add(1)
	defer h.wg.Done()

	// Клиент ничего не присылает, чтение нужно только чтобы заметить закрытие
	ctx := conn.CloseRead(h.ctx)

	h.logger.Info("Presence connected", slog.String("user_id", userID))

	if err := h.send(ctx, conn, api.PresenceMessage{Type: "hello", UserID: userID}); err != nil {
		h.logger.Debug("Presence hello failed", slog.String("user_id", userID), slog.Any("error", err))
		_ = conn.Close(websocket.StatusInternalError, "write failed")
		return
	}

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if h.ctx.Err() != nil {
				_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
			}
			h.logger.Info("Presence disconnected", slog.String("user_id", userID))
			return
		case <-ticker.C:
			if err := h.send(ctx, conn, api.PresenceMessage{Type: "ping"}); err != nil {
				h.logger.Debug("Presence ping failed", slog.String("user_id", userID), slog.Any("error", err))
				_ = conn.Close(websocket.StatusGoingAway, "write failed")
				return
			}
		}
	}
}

// Close disconnects every presence client and waits for the handlers to exit
func (h *PresenceHandler) Close() {
	h.cancel()
	h.wg.Wait()
}

func (h *PresenceHandler) send(ctx context.Context, conn *websocket.Conn, msg api.PresenceMessage) error {
	msg.ServerTime = h.now().UTC()
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, presenceWriteTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}
