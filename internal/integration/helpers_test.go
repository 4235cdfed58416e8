// Package integration exercises the daemon and client together over a
// real WebSocket connection, spawning real processes.
package integration

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gopm-io/gopm/internal/client"
	"github.com/gopm-io/gopm/internal/config"
	"github.com/gopm-io/gopm/internal/daemon"
)

// harness is one live daemon plus the config pointing at it.
type harness struct {
	cfg *config.Config
	d   *daemon.Daemon

	done     chan error
	waitOnce sync.Once
	runErr   error
}

// startDaemon boots a daemon on an ephemeral loopback port and blocks
// until its health endpoint answers.
func startDaemon(t *testing.T) *harness {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Daemon.Port = freePort(t)
	cfg.Daemon.GracefulShutdownTimeout = 3 * time.Second
	cfg.State.Dir = t.TempDir()
	cfg.Log.Dir = filepath.Join(cfg.State.Dir, "logs")
	cfg.Manager.HealthCheckInterval = 50 * time.Millisecond
	cfg.Manager.AutoRestartDelay = 50 * time.Millisecond
	cfg.Manager.StopTimeout = 2 * time.Second
	cfg.Client.RequestTimeout = 5 * time.Second
	cfg.Client.ReconnectInitialDelay = 50 * time.Millisecond
	cfg.Client.ReconnectMaxDelay = 200 * time.Millisecond

	d, err := daemon.New(cfg, discardLogger(), "test")
	require.NoError(t, err)

	h := &harness{cfg: cfg, d: d, done: make(chan error, 1)}
	go func() { h.done <- d.Run() }()

	t.Cleanup(func() {
		d.Stop()
		require.NoError(t, h.wait())
	})

	require.Eventually(t, func() bool {
		resp, err := http.Get(cfg.HealthURL())
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond, "daemon never became healthy")

	return h
}

// wait blocks until the daemon's run loop returns. The result is
// cached so the shutdown tests and the cleanup can both call it.
func (h *harness) wait() error {
	h.waitOnce.Do(func() {
		select {
		case h.runErr = <-h.done:
		case <-time.After(10 * time.Second):
			h.runErr = fmt.Errorf("daemon did not exit within 10s")
		}
	})
	return h.runErr
}

// connect dials the harness daemon and ties the client's lifetime to
// the test.
func connect(t *testing.T, h *harness) *client.Client {
	t.Helper()

	c := client.New(h.cfg, discardLogger())
	require.NoError(t, c.ConnectWithRetry())
	t.Cleanup(func() { c.Close() })
	return c
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// freePort asks the kernel for an unused loopback port and releases it
// for the daemon to claim.
func freePort(t *testing.T) int {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}
