package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/farmkeeper/pkg/api"
)

// presenceServer пропускает presence handler без JWT, подставляя пользователя
func presenceServer(t *testing.T, h *PresenceHandler, userID string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if userID != "" {
			r = r.WithContext(WithUser(r.Context(), userID, "farmer"))
		}
		h.Presence(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func readPresence(t *testing.T, ctx context.Context, conn *websocket.Conn) api.PresenceMessage {
	t.Helper()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var msg api.PresenceMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestPresenceHandler_HelloPingAndShutdown(t *testing.T) {
	h := NewPresenceHandler(setupTestLogger(), 20*time.Millisecond)
	srv := presenceServer(t, h, "u1")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	hello := readPresence(t, ctx, conn)
	assert.Equal(t, "hello", hello.Type)
	assert.Equal(t, "u1", hello.UserID)
	assert.False(t, hello.ServerTime.IsZero())

	ping := readPresence(t, ctx, conn)
	assert.Equal(t, "ping", ping.Type)

	// Остановка сервера закрывает соединение с кодом going away
	closed := make(chan struct{})
	go func() {
		h.Close()
		close(closed)
	}()
	for {
		_, _, err = conn.Read(ctx)
		if err != nil {
			break
		}
	}
	assert.Equal(t, websocket.StatusGoingAway, websocket.CloseStatus(err))
	<-closed
}

func TestPresenceHandler_ClientDisconnect(t *testing.T) {
	h := NewPresenceHandler(setupTestLogger(), time.Hour)
	srv := presenceServer(t, h, "u1")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	readPresence(t, ctx, conn)

	_ = conn.Close(websocket.StatusNormalClosure, "bye")

	// Handler должен завершиться сам, Close не зависает
	done := make(chan struct{})
	go func() {
		h.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		t.Fatal("presence handler did not exit")
	}
}

func TestPresenceHandler_RequiresUser(t *testing.T) {
	h := NewPresenceHandler(setupTestLogger(), time.Second)
	defer h.Close()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/presence", nil)
	w := httptest.NewRecorder()
	h.Presence(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
