// Package daemon runs the gopm server process.
//
// The daemon owns the process manager and serves the IPC endpoint the
// CLI talks to: an HTTP server with a health route and a WebSocket
// route carrying JSON request/response frames plus streamed log lines
// for follows. One daemon per state directory, guarded by a pid file.
package daemon

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/gopm-io/gopm/internal/config"
	"github.com/gopm-io/gopm/internal/errors"
	"github.com/gopm-io/gopm/internal/logfile"
	"github.com/gopm-io/gopm/internal/manager"
	"github.com/gopm-io/gopm/internal/metrics"
	"github.com/gopm-io/gopm/internal/protocol"
	"github.com/gopm-io/gopm/internal/stats"
)

// retentionSweepInterval is how often rotated log files are checked
// against the retention window.
const retentionSweepInterval = 6 * time.Hour

// metricsSummaryInterval is how often collected operation metrics are
// written to the daemon log.
const metricsSummaryInterval = 10 * time.Minute

// Daemon composes the process manager with the IPC server.
type Daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	version string

	manager *manager.Manager
	metrics *metrics.Monitor

	upgrader websocket.Upgrader
	server   *http.Server

	connMu      sync.RWMutex
	connections map[*websocket.Conn]*connState

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startedAt    time.Time
	shutdownCh   chan struct{}
	shutdownOnce sync.Once
}

// New creates a daemon with its own manager and metrics monitor.
func New(cfg *config.Config, logger *slog.Logger, version string) (*Daemon, error) {
	if logger == nil {
		logger = slog.Default()
	}

	mgr, err := manager.New(cfg, logger)
	if err != nil {
		return nil, err
	}

	mon := metrics.NewMonitor()
	mon.SetLogger(logger)

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "daemon")),
		version: version,
		manager: mgr,
		metrics: mon,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The daemon binds loopback only.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		connections: make(map[*websocket.Conn]*connState),
		ctx:         ctx,
		cancel:      cancel,
		startedAt:   time.Now(),
		shutdownCh:  make(chan struct{}),
	}, nil
}

// Run serves until a termination signal arrives or a client requests
// shutdown, then stops everything gracefully.
func (d *Daemon) Run() error {
	if err := d.writePidFile(); err != nil {
		return err
	}
	defer d.removePidFile()

	router := chi.NewRouter()
	router.Get("/healthz", d.handleHealth)
	router.Get("/ws", d.handleWS)

	d.server = &http.Server{
		Addr:              d.cfg.ListenAddr(),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := d.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	d.wg.Add(1)
	go d.retentionLoop()

	d.wg.Add(1)
	go d.metricsLoop()

	d.logger.Info("daemon started",
		slog.String("addr", d.cfg.ListenAddr()),
		slog.Int("pid", os.Getpid()),
		slog.String("version", d.version))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err := <-errCh:
		d.logger.Error("server failed", slog.String("error", err.Error()))
		d.shutdown()
		return errors.DaemonError(protocol.ErrorCodeInternalError, "server failed", err)
	case sig := <-sigCh:
		d.logger.Info("signal received", slog.String("signal", sig.String()))
	case <-d.shutdownCh:
		d.logger.Info("shutdown requested over IPC")
	}

	d.shutdown()
	return nil
}

// shutdown saves state, stops every process, and tears the server
// down within the graceful shutdown timeout.
func (d *Daemon) shutdown() {
	if path, n, err := d.manager.Save(); err != nil {
		d.logger.Warn("state save failed", slog.String("error", err.Error()))
	} else {
		d.logger.Info("state saved", slog.String("path", path), slog.Int("processes", n))
	}

	d.manager.StopAll()

	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.Daemon.GracefulShutdownTimeout)
	defer cancel()
	if err := d.server.Shutdown(ctx); err != nil {
		d.logger.Warn("http shutdown failed", slog.String("error", err.Error()))
	}

	d.cancel()
	d.closeConnections()
	d.wg.Wait()
	d.manager.Close()
	d.metrics.LogSummary(context.Background())
	d.logger.Info("daemon stopped")
}

// requestShutdown triggers the run loop's exit path once.
func (d *Daemon) requestShutdown() {
	d.shutdownOnce.Do(func() { close(d.shutdownCh) })
}

// Stop makes Run exit as if a client had requested shutdown. Safe to
// call more than once and before Run.
func (d *Daemon) Stop() {
	d.requestShutdown()
}

// status snapshots daemon-level health for status responses and the
// health endpoint.
func (d *Daemon) status() protocol.DaemonStatus {
	lines, bytes := d.manager.BufferTotals()
	requests, failures := d.metrics.Totals()
	return protocol.DaemonStatus{
		Version:         d.version,
		PID:             os.Getpid(),
		StartedAt:       d.startedAt,
		UptimeSecs:      int64(time.Since(d.startedAt).Seconds()),
		Processes:       d.manager.Counts(),
		Connections:     d.connectionCount(),
		BufferedLines:   lines,
		BufferedBytes:   bytes,
		RequestsHandled: requests,
		RequestErrors:   failures,
	}
}

func (d *Daemon) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(d.status()); err != nil {
		d.logger.Warn("health encode failed", slog.String("error", err.Error()))
	}
}

// writePidFile claims the state directory for this daemon. A live pid
// in an existing file means another daemon owns it; a dead pid is a
// stale file from a crash and is replaced.
func (d *Daemon) writePidFile() error {
	if err := os.MkdirAll(d.cfg.State.Dir, 0755); err != nil {
		return errors.FileError(protocol.ErrorCodeInternalError, "failed to create state directory", err)
	}

	path := d.cfg.PidFilePath()
	if raw, err := os.ReadFile(path); err == nil {
		pid, convErr := strconv.Atoi(strings.TrimSpace(string(raw)))
		if convErr == nil && pid > 0 && pid != os.Getpid() && stats.Alive(pid) && !pidRecycled(path, pid) {
			return errors.ErrDaemonAlreadyRunning.WithDetails("pid", pid)
		}
		d.logger.Warn("removing stale pid file", slog.String("path", path))
		os.Remove(path)
	}

	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0644); err != nil {
		return errors.FileError(protocol.ErrorCodeInternalError, "failed to write pid file", err)
	}
	return nil
}

// pidRecycled reports whether the process now holding pid started
// after the pid file was written. A daemon writes its pid file right
// after starting, so a later start time means the kernel handed the
// pid to someone else.
func pidRecycled(path string, pid int) bool {
	fi, err := os.Stat(path)
	if err != nil {
		return false
	}
	started := stats.StartTime(pid)
	return !started.IsZero() && started.After(fi.ModTime().Add(time.Second))
}

func (d *Daemon) removePidFile() {
	if err := os.Remove(d.cfg.PidFilePath()); err != nil && !os.IsNotExist(err) {
		d.logger.Warn("pid file remove failed", slog.String("error", err.Error()))
	}
}

// retentionLoop sweeps rotated log files past the retention window,
// once at startup and then periodically.
func (d *Daemon) retentionLoop() {
	defer d.wg.Done()

	if d.cfg.Log.RetentionDays <= 0 {
		return
	}
	maxAge := time.Duration(d.cfg.Log.RetentionDays) * 24 * time.Hour

	d.sweepRetention(maxAge)

	ticker := time.NewTicker(retentionSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.sweepRetention(maxAge)
		}
	}
}

func (d *Daemon) sweepRetention(maxAge time.Duration) {
	n, err := logfile.SweepRetention(d.cfg.Log.Dir, maxAge)
	if err != nil {
		d.logger.Warn("log retention sweep failed", slog.String("error", err.Error()))
		return
	}
	if n > 0 {
		d.logger.Info("rotated logs removed", slog.Int("files", n))
	}
}

// metricsLoop writes an operation metrics summary to the log at a slow
// cadence while the daemon runs.
func (d *Daemon) metricsLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(metricsSummaryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.metrics.LogSummary(d.ctx)
		}
	}
}
