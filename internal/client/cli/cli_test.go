package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/farmkeeper/internal/client/api"
	"github.com/iudanet/farmkeeper/internal/client/iocli"
	"github.com/iudanet/farmkeeper/internal/config"
	"github.com/iudanet/farmkeeper/internal/models"
	"github.com/iudanet/farmkeeper/internal/server"
	"github.com/iudanet/farmkeeper/internal/server/storage/sqlite"
	wire "github.com/iudanet/farmkeeper/pkg/api"
)

const testPassword = "correct horse"

// setupTestLogger creates a logger for testing
func setupTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// syncBuffer буфер вывода, в который пишут несколько горутин
type syncBuffer struct {
	buf bytes.Buffer
	mu  sync.Mutex
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// startServer запускает сервер записей на свободном порту
func startServer(t *testing.T) string {
	t.Helper()

	store, err := sqlite.New(context.Background(), ":memory:")
	require.NoError(t, err)

	cfg := config.DefaultServer()
	cfg.JWT.Secret = "cli-test-secret"
	cfg.PresenceInterval = 50 * time.Millisecond
	cfg.AuthRateLimit.Requests = 0

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = server.New(cfg, store, setupTestLogger(), "test").Serve(ctx, l)
	}()

	t.Cleanup(func() {
		cancel()
		<-done
		_ = store.Close()
	})
	return "http://" + l.Addr().String()
}

// unreachableURL адрес, на котором никто не слушает
func unreachableURL(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return "http://" + addr
}

// harness одна "установка" клиента: конфиг и локальная база переживают запуски команд
type harness struct {
	env    map[string]string
	config string
}

func newHarness(t *testing.T, serverURL string) *harness {
	t.Helper()
	dir := t.TempDir()

	cfg := fmt.Sprintf(`server_url: %s
db_path: %s
log:
  file: %s
  level: error
outbox:
  grace_period: 1m
  backoff_base: 10ms
  backoff_max: 50ms
  max_attempts: 2
  submit_timeout: 5s
connectivity:
  reconnect_interval: 20ms
`, serverURL, filepath.Join(dir, "client.db"), filepath.Join(dir, "client.log"))

	path := filepath.Join(dir, "farmkeeper.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))

	return &harness{
		config: path,
		env:    map[string]string{PasswordEnv: testPassword},
	}
}

// run выполняет одну команду так, как если бы это был отдельный запуск программы
func (h *harness) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out := &syncBuffer{}
	c := New(iocli.NewStdio(strings.NewReader(""), out), BuildInfo{Version: "test"}, func(key string) string {
		return h.env[key]
	})
	err := c.Execute(context.Background(), append([]string{"--config", h.config}, args...))
	return out.String(), err
}

func (h *harness) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := h.run(t, args...)
	require.NoError(t, err, out)
	return out
}

func (h *harness) login(t *testing.T, register bool) {
	t.Helper()
	if register {
		out := h.mustRun(t, "register", "-u", "farmer")
		require.Contains(t, out, "Registration successful")
	}
	out := h.mustRun(t, "login", "-u", "farmer")
	require.Contains(t, out, "Login successful")
}

var queuedRe = regexp.MustCompile(`Queued ([0-9a-f-]+):`)

func queuedID(t *testing.T, out string) string {
	t.Helper()
	m := queuedRe.FindStringSubmatch(out)
	require.Len(t, m, 2, out)
	return m[1]
}

func TestCli_Version(t *testing.T) {
	var out bytes.Buffer
	c := New(iocli.NewStdio(strings.NewReader(""), &out), BuildInfo{Version: "1.2.3", BuildDate: "today", GitCommit: "abc"}, nil)
	require.NoError(t, c.Execute(context.Background(), []string{"--version"}))
	assert.Contains(t, out.String(), "farmkeeper 1.2.3")
	assert.Contains(t, out.String(), "abc")
}

func TestCli_OfflineEditsStayQueued(t *testing.T) {
	h := newHarness(t, unreachableURL(t))

	out := h.mustRun(t, "record", "create", "animals", "cow-7", "--data", `{"weight":400}`, "--wait", "100ms")
	id := queuedID(t, out)
	assert.Contains(t, out, "create animals/cow-7")
	assert.Contains(t, out, "Saved locally")

	// Очередь переживает перезапуск
	out = h.mustRun(t, "status")
	assert.Contains(t, out, id[:shortIDLen])
	assert.Contains(t, out, "Pending")
	assert.Contains(t, out, "1 pending")

	_, err := h.run(t, "sync", "--timeout", "100ms")
	assert.ErrorIs(t, err, ErrServerUnavailable)

	out = h.mustRun(t, "status", "-s", "pending")
	assert.Contains(t, out, "create animals/cow-7")
}

func TestCli_SyncAfterLogin(t *testing.T) {
	h := newHarness(t, startServer(t))
	h.login(t, true)

	out := h.mustRun(t, "record", "create", "animals", "cow-7", "--data", `{"weight":400}`, "--no-sync")
	queuedID(t, out)
	assert.NotContains(t, out, "Saved locally")

	out = h.mustRun(t, "sync")
	assert.Contains(t, out, "Synced")
	assert.Contains(t, out, "1 synced")

	out = h.mustRun(t, "record", "get", "animals", "cow-7")
	assert.Contains(t, out, "Version:  v1")
	assert.Contains(t, out, `"weight": 400`)

	// Подтвержденные операции не восстанавливаются в новой сессии
	out = h.mustRun(t, "status")
	assert.Contains(t, out, "Nothing waiting")

	out = h.mustRun(t, "sync")
	assert.Contains(t, out, "Nothing to send")
}

func TestCli_ConflictResolvedKeepingLocal(t *testing.T) {
	url := startServer(t)
	h := newHarness(t, url)
	h.login(t, true)

	out := h.mustRun(t, "record", "create", "animals", "cow-7", "--data", `{"weight":400}`)
	assert.Contains(t, out, "Synced")

	// Другое устройство успевает изменить запись
	laptop := api.NewClient(url)
	tokens, err := laptop.Login(context.Background(), wire.LoginRequest{Username: "farmer", Password: testPassword})
	require.NoError(t, err)
	laptop.SetAccessToken(tokens.AccessToken)
	outcome := laptop.Submit(context.Background(), &models.PendingOperation{
		CorrelationID: "laptop-1",
		Kind:          models.KindUpdate,
		Collection:    models.CollectionAnimals,
		RecordID:      "cow-7",
		BaseVersion:   1,
		Payload:       json.RawMessage(`{"weight":410}`),
	})
	require.Equal(t, models.OutcomeSuccess, outcome.Type)

	out = h.mustRun(t, "record", "update", "animals", "cow-7", "--base", "1", "--data", `{"weight":405}`)
	id := queuedID(t, out)
	assert.Contains(t, out, "Conflict")
	assert.Contains(t, out, "Remote (v2)")

	out = h.mustRun(t, "status", "-s", "conflict")
	assert.Contains(t, out, "remote is at v2")

	// Повторная отправка без решения невозможна
	_, err = h.run(t, "retry", id[:shortIDLen])
	require.Error(t, err)

	out = h.mustRun(t, "resolve", id[:shortIDLen], "--keep", "local")
	assert.Contains(t, out, "Synced")

	out = h.mustRun(t, "record", "get", "animals", "cow-7")
	assert.Contains(t, out, "Version:  v3")
	assert.Contains(t, out, `"weight": 405`)
}

func TestCli_ConflictWithDeletedRecord(t *testing.T) {
	url := startServer(t)
	h := newHarness(t, url)
	h.login(t, true)

	h.mustRun(t, "record", "create", "animals", "cow-7", "--data", `{"weight":400}`)

	// Другое устройство удаляет запись
	laptop := api.NewClient(url)
	tokens, err := laptop.Login(context.Background(), wire.LoginRequest{Username: "farmer", Password: testPassword})
	require.NoError(t, err)
	laptop.SetAccessToken(tokens.AccessToken)
	outcome := laptop.Submit(context.Background(), &models.PendingOperation{
		CorrelationID: "laptop-1",
		Kind:          models.KindDelete,
		Collection:    models.CollectionAnimals,
		RecordID:      "cow-7",
		BaseVersion:   1,
	})
	require.Equal(t, models.OutcomeSuccess, outcome.Type)

	out := h.mustRun(t, "record", "update", "animals", "cow-7", "--base", "1", "--data", `{"weight":405}`)
	id := queuedID(t, out)
	assert.Contains(t, out, "Conflict")
	assert.Contains(t, out, "Remote (v2): deleted")

	out = h.mustRun(t, "resolve", id[:shortIDLen], "--keep", "remote")
	assert.Contains(t, out, "Synced")

	out = h.mustRun(t, "record", "list", "animals")
	assert.Contains(t, out, "No records in animals")
}

func TestCli_UpdateUsesServerVersion(t *testing.T) {
	h := newHarness(t, startServer(t))
	h.login(t, true)

	h.mustRun(t, "record", "create", "animals", "cow-7", "--data", `{"weight":400}`)
	out := h.mustRun(t, "record", "update", "animals", "cow-7", "--data", `{"weight":401}`)
	assert.Contains(t, out, "Synced")

	out = h.mustRun(t, "record", "delete", "animals", "cow-7")
	assert.Contains(t, out, "delete animals/cow-7")
	assert.Contains(t, out, "Synced")

	out = h.mustRun(t, "record", "list", "animals")
	assert.Contains(t, out, "No records in animals")

	_, err := h.run(t, "record", "update", "animals", "cow-8", "--data", `{"weight":1}`)
	assert.ErrorContains(t, err, "does not exist")
}

func TestCli_WeighAndMilk(t *testing.T) {
	h := newHarness(t, startServer(t))
	h.login(t, true)

	out := h.mustRun(t, "weigh", "cow-7", "412.5")
	assert.Contains(t, out, "create weighings/")
	assert.Contains(t, out, "Synced")

	out = h.mustRun(t, "milk", "cow-7", "11")
	assert.Contains(t, out, "create milkings/")

	out = h.mustRun(t, "record", "list", "weighings")
	assert.Contains(t, out, `"animal_id":"cow-7"`)
	assert.Contains(t, out, `"weight":412.5`)

	_, err := h.run(t, "weigh", "cow-7", "-3")
	assert.Error(t, err)
	_, err = h.run(t, "milk", "cow-7", "lots")
	assert.Error(t, err)
}

func TestCli_CancelAndDiscard(t *testing.T) {
	h := newHarness(t, unreachableURL(t))

	out := h.mustRun(t, "record", "create", "animals", "cow-7", "--data", `{"weight":400}`, "--no-sync")
	id := queuedID(t, out)

	// Discard разрешен только для error и conflict
	_, err := h.run(t, "discard", id)
	require.Error(t, err)

	out = h.mustRun(t, "cancel", id[:shortIDLen])
	assert.Contains(t, out, "Cancelled")

	out = h.mustRun(t, "status")
	assert.Contains(t, out, "Nothing waiting")

	_, err = h.run(t, "cancel", id)
	assert.ErrorContains(t, err, "no pending operation matches")
}

func TestCli_LoginErrors(t *testing.T) {
	h := newHarness(t, startServer(t))

	out := h.mustRun(t, "whoami")
	assert.Contains(t, out, "Not logged in")

	_, err := h.run(t, "login", "-u", "farmer")
	assert.Error(t, err)

	h.login(t, true)
	out = h.mustRun(t, "whoami")
	assert.Contains(t, out, "Username: farmer")

	h.env[PasswordEnv] = "wrong password"
	_, err = h.run(t, "login", "-u", "farmer")
	assert.Error(t, err)

	out = h.mustRun(t, "logout")
	assert.Contains(t, out, "Logged out")
	out = h.mustRun(t, "whoami")
	assert.Contains(t, out, "Not logged in")
}

func TestCli_RecordValidation(t *testing.T) {
	h := newHarness(t, unreachableURL(t))

	tests := []struct {
		name string
		args []string
	}{
		{name: "payload is not an object", args: []string{"record", "create", "animals", "--data", `[1]`}},
		{name: "payload is not json", args: []string{"record", "create", "animals", "--data", `{`}},
		{name: "bad collection", args: []string{"record", "create", "Animals!", "--data", `{}`}},
		{name: "missing data", args: []string{"record", "create", "animals"}},
		{name: "unknown status filter", args: []string{"status", "-s", "lost"}},
		{name: "unknown resolution", args: []string{"resolve", "abc", "--keep", "both"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.run(t, tt.args...)
			assert.Error(t, err)
		})
	}
}

func TestSummary(t *testing.T) {
	ops := []*models.PendingOperation{
		{Status: models.StatusConflict},
		{Status: models.StatusPending},
		{Status: models.StatusPending},
	}
	assert.Equal(t, "2 pending, 1 conflict", summary(ops))
	assert.Equal(t, "queue is empty", summary(nil))
}

func TestTable_AlignsColumns(t *testing.T) {
	var buf bytes.Buffer
	tbl := &table{headers: []string{"ID", "STATUS"}}
	tbl.add("a", "Pending")
	tbl.add("abcdef", "Synced")
	tbl.render(&buf, newStyles(&buf))

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "ID      STATUS", lines[0])
	assert.Equal(t, "a       Pending", lines[1])
	assert.Equal(t, "abcdef  Synced", lines[2])
}

func TestCompactJSON(t *testing.T) {
	assert.Equal(t, `{"a":1}`, compactJSON(json.RawMessage("{ \"a\": 1 }")))
	assert.Equal(t, "-", compactJSON(nil))
	assert.Equal(t, "{", compactJSON(json.RawMessage("{")))
}
