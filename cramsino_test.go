package cramsino_test

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cramsino/cramsino"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type recordingHook struct {
	mu      sync.Mutex
	records []cramsino.StatusRecord
	flags   []cramsino.Flags
}

func (h *recordingHook) OnStatusPublished(_ context.Context, rec cramsino.StatusRecord, flags cramsino.Flags) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, rec)
	h.flags = append(h.flags, flags)
	return nil
}

func (h *recordingHook) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.records)
}

func TestAppStatusHookAndLookup(t *testing.T) {
	t.Setenv("RELAY_RATE_LIMIT_ENABLED", "false")
	hook := &recordingHook{}

	app, err := cramsino.New(
		cramsino.WithLogger(testLogger()),
		cramsino.WithVersion("test"),
		cramsino.WithStatusHook(hook),
	)
	require.NoError(t, err)

	srv := httptest.NewServer(app.Handler())
	t.Cleanup(srv.Close)

	_, err = app.Status(context.Background(), "desk-9")
	assert.ErrorIs(t, err, cramsino.ErrNotFound)

	conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })

	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"client_id":"desk-9","status":{"face_present":true,"talking":true}}`)))

	require.Eventually(t, func() bool { return hook.count() == 1 }, 2*time.Second, 10*time.Millisecond)

	rec, err := app.Status(context.Background(), "desk-9")
	require.NoError(t, err)
	assert.Equal(t, "desk-9", rec.ClientID)
	assert.JSONEq(t, `{"face_present":true,"talking":true}`, string(rec.Status))

	hook.mu.Lock()
	assert.Equal(t, cramsino.Flags{FacePresent: true, Talking: true}, hook.flags[0])
	hook.mu.Unlock()
}

func TestAppExtensionPoints(t *testing.T) {
	t.Setenv("RELAY_RATE_LIMIT_ENABLED", "false")

	app, err := cramsino.New(
		cramsino.WithLogger(testLogger()),
		cramsino.WithExtraRoutes(func(mux *http.ServeMux) {
			mux.HandleFunc("GET /extra", func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusTeapot)
			})
		}),
		cramsino.WithMiddleware(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("X-Embedder", "yes")
				next.ServeHTTP(w, r)
			})
		}),
	)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/extra", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "yes", rec.Header().Get("X-Embedder"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"), "extra routes share the middleware chain")
}

func TestAppRejectsInvalidConfig(t *testing.T) {
	t.Setenv("RELAY_PORT", "not-a-port")
	_, err := cramsino.New(cramsino.WithLogger(testLogger()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RELAY_PORT")
}

func TestAppRunStopsOnCancel(t *testing.T) {
	// Reserve a free port, then release it for the app.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	app, err := cramsino.New(
		cramsino.WithLogger(testLogger()),
		cramsino.WithPort(port),
		cramsino.WithSweepInterval(50*time.Millisecond),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://127.0.0.1:" + strconv.Itoa(port) + "/health")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
