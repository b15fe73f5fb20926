package server

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

func startManager(t *testing.T, handler http.Handler) *Manager {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	cfg.ShutdownTimeout = time.Second
	m := NewManager(handler, cfg, zap.NewNop())
	require.NoError(t, m.Start())
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })
	return m
}

func TestDefaultConfig_Values(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, ":9091", cfg.Addr)
	assert.Equal(t, 30*time.Second, cfg.ReadTimeout)
	assert.Equal(t, 30*time.Second, cfg.WriteTimeout)
	assert.Equal(t, 120*time.Second, cfg.IdleTimeout)
	assert.Equal(t, 15*time.Second, cfg.ShutdownTimeout)
}

func TestNewManager(t *testing.T) {
	m := NewManager(http.NewServeMux(), DefaultConfig(), nil)
	require.NotNil(t, m)
	assert.False(t, m.IsRunning(), "not running before Start")
	assert.Equal(t, ":9091", m.Addr())
}

func TestManager_StartAndShutdown(t *testing.T) {
	m := startManager(t, okHandler())
	assert.True(t, m.IsRunning())
	assert.NotEqual(t, "127.0.0.1:0", m.Addr(), "Addr reports the bound port")

	resp, err := http.Get("http://" + m.Addr() + "/")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))

	require.NoError(t, m.Shutdown(context.Background()))
	assert.False(t, m.IsRunning())
}

func TestManager_DoubleStart(t *testing.T) {
	m := startManager(t, okHandler())
	assert.Error(t, m.Start())
}

func TestManager_ShutdownIdempotent(t *testing.T) {
	m := startManager(t, okHandler())
	require.NoError(t, m.Shutdown(context.Background()))
	assert.NoError(t, m.Shutdown(context.Background()))
}

func TestManager_StartAfterShutdown(t *testing.T) {
	m := NewManager(okHandler(), DefaultConfig(), zap.NewNop())
	require.NoError(t, m.Shutdown(context.Background()))
	assert.Error(t, m.Start())
}

func TestManager_StartListenFailure(t *testing.T) {
	first := startManager(t, okHandler())

	cfg := DefaultConfig()
	cfg.Addr = first.Addr()
	second := NewManager(okHandler(), cfg, zap.NewNop())
	assert.Error(t, second.Start(), "port already bound")
	assert.False(t, second.IsRunning())
}

func TestManager_Errors(t *testing.T) {
	m := startManager(t, okHandler())
	select {
	case err := <-m.Errors():
		t.Fatalf("unexpected server error: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestManager_RunStopsOnCancel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	m := NewManager(okHandler(), cfg, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, m.IsRunning, time.Second, 5*time.Millisecond)
	resp, err := http.Get("http://" + m.Addr() + "/")
	require.NoError(t, err)
	_ = resp.Body.Close()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	assert.False(t, m.IsRunning())
}
