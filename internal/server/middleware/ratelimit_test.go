package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// newTestLimiter возвращает limiter с управляемыми часами
func newTestLimiter(t *testing.T, rate int, window time.Duration) (*RateLimiter, *time.Time) {
	t.Helper()
	rl := NewRateLimiter(rate, window, setupTestLogger())
	t.Cleanup(rl.Stop)

	now := time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	return rl, &now
}

func TestRateLimiter_Allow(t *testing.T) {
	rl, now := newTestLimiter(t, 3, time.Minute)

	for i := 0; i < 3; i++ {
		ok, _ := rl.Allow("10.0.0.1")
		require.True(t, ok, "request %d", i+1)
	}

	ok, retryAfter := rl.Allow("10.0.0.1")
	assert.False(t, ok)
	assert.Equal(t, time.Minute, retryAfter)

	// Другие адреса считаются отдельно
	ok, _ = rl.Allow("10.0.0.2")
	assert.True(t, ok)

	*now = now.Add(40 * time.Second)
	ok, retryAfter = rl.Allow("10.0.0.1")
	assert.False(t, ok)
	assert.Equal(t, 20*time.Second, retryAfter)

	// После окна bucket пополняется
	*now = now.Add(20 * time.Second)
	ok, _ = rl.Allow("10.0.0.1")
	assert.True(t, ok)
}

func TestRateLimiter_CleanupOldBuckets(t *testing.T) {
	rl, now := newTestLimiter(t, 1, time.Minute)

	rl.Allow("old")
	*now = now.Add(90 * time.Second)
	rl.Allow("fresh")

	*now = now.Add(40 * time.Second)
	rl.cleanupOldBuckets()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	assert.NotContains(t, rl.buckets, "old")
	assert.Contains(t, rl.buckets, "fresh")
}

func TestRateLimiter_StopTwice(t *testing.T) {
	rl := NewRateLimiter(1, time.Second, setupTestLogger())
	rl.Stop()
	assert.NotPanics(t, rl.Stop)
}

func TestRateLimiter_Middleware(t *testing.T) {
	rl, _ := newTestLimiter(t, 2, time.Minute)
	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", nil)
		// Разные порты одного клиента попадают в один bucket
		req.RemoteAddr = "192.0.2.7:" + string(rune('1'+i)) + "000"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		codes = append(codes, w.Code)
		if w.Code == http.StatusTooManyRequests {
			assert.Equal(t, "60", w.Header().Get("Retry-After"))
			assert.Contains(t, w.Body.String(), "rate limit exceeded")
		}
	}

	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		headers    map[string]string
		name       string
		remoteAddr string
		want       string
	}{
		{
			name:       "remote addr with port",
			remoteAddr: "192.0.2.1:12345",
			want:       "192.0.2.1",
		},
		{
			name:       "remote addr without port",
			remoteAddr: "192.0.2.1",
			want:       "192.0.2.1",
		},
		{
			name:       "x-forwarded-for chain",
			remoteAddr: "10.0.0.1:80",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.5, 10.0.0.2"},
			want:       "203.0.113.5",
		},
		{
			name:       "x-real-ip",
			remoteAddr: "10.0.0.1:80",
			headers:    map[string]string{"X-Real-IP": " 203.0.113.9 "},
			want:       "203.0.113.9",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, getClientIP(req))
		})
	}
}
