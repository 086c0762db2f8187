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
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
}

func startTestManager(t *testing.T, handler http.Handler) *Manager {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	cfg.ShutdownTimeout = 2 * time.Second
	m := NewManager(handler, cfg, zap.NewNop())
	require.NoError(t, m.Start())
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })
	return m
}

func TestManager_StartServesAndShutdown(t *testing.T) {
	m := startTestManager(t, okHandler())
	assert.True(t, m.IsRunning())

	resp, err := http.Get("http://" + m.ListenAddr() + "/")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "ok", string(body))

	require.NoError(t, m.Shutdown(context.Background()))
	assert.False(t, m.IsRunning())

	_, err = http.Get("http://" + m.ListenAddr() + "/")
	assert.Error(t, err)
}

func TestManager_DoubleStart(t *testing.T) {
	m := startTestManager(t, okHandler())
	assert.ErrorContains(t, m.Start(), "already started")
}

func TestManager_StartAfterShutdown(t *testing.T) {
	m := NewManager(okHandler(), DefaultConfig(), zap.NewNop())
	require.NoError(t, m.Shutdown(context.Background()))
	assert.ErrorContains(t, m.Start(), "closed")
	// 重复关闭是空操作
	assert.NoError(t, m.Shutdown(context.Background()))
}

func TestManager_ListenError(t *testing.T) {
	first := startTestManager(t, okHandler())

	cfg := DefaultConfig()
	cfg.Addr = first.ListenAddr()
	second := NewManager(okHandler(), cfg, zap.NewNop())
	assert.ErrorContains(t, second.Start(), "listen on")
	assert.False(t, second.IsRunning())
}

func TestManager_ShutdownWaitsForInflight(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	m := startTestManager(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-release
		_, _ = w.Write([]byte("done"))
	}))

	got := make(chan string, 1)
	go func() {
		resp, err := http.Get("http://" + m.ListenAddr() + "/")
		if err != nil {
			got <- err.Error()
			return
		}
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		got <- string(b)
	}()
	<-entered

	shutdown := make(chan error, 1)
	go func() { shutdown <- m.Shutdown(context.Background()) }()

	time.Sleep(20 * time.Millisecond)
	close(release)

	assert.Equal(t, "done", <-got)
	assert.NoError(t, <-shutdown)
}

func TestManager_ListenAddrBeforeStart(t *testing.T) {
	m := NewManager(okHandler(), DefaultConfig(), nil)
	assert.Equal(t, ":8080", m.ListenAddr())
	assert.False(t, m.IsRunning())
}
