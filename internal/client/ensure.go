package client

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/gopm-io/gopm/internal/config"
	"github.com/gopm-io/gopm/internal/errors"
	"github.com/gopm-io/gopm/internal/process"
)

// daemonBootTimeout bounds how long EnsureDaemon waits for a freshly
// spawned daemon to start answering its health endpoint.
const daemonBootTimeout = 10 * time.Second

// EnsureDaemon checks that a daemon is serving and spawns a detached
// one if not. configFile is forwarded to the spawned daemon so both
// sides read the same configuration; pass "" when using defaults.
func EnsureDaemon(cfg *config.Config, configFile string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	if daemonHealthy(cfg) {
		return nil
	}

	logger.Info("daemon not running, starting it", "log", cfg.DaemonLogPath())
	if err := spawnDaemon(cfg, configFile); err != nil {
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxInterval = time.Second
	bo.MaxElapsedTime = daemonBootTimeout
	bo.Reset()

	err := backoff.Retry(func() error {
		if !daemonHealthy(cfg) {
			return fmt.Errorf("daemon not answering at %s", cfg.HealthURL())
		}
		return nil
	}, bo)
	if err != nil {
		return errors.DaemonError("DAEMON_START_FAILED",
			fmt.Sprintf("Daemon did not become healthy within %s; check %s",
				daemonBootTimeout, cfg.DaemonLogPath()), err)
	}

	logger.Debug("daemon is up", "url", cfg.HealthURL())
	return nil
}

// daemonHealthy probes the daemon's health endpoint.
func daemonHealthy(cfg *config.Config) bool {
	httpClient := &http.Client{Timeout: 2 * time.Second}
	resp, err := httpClient.Get(cfg.HealthURL())
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// spawnDaemon starts the daemon as a detached child writing to its own
// log file.
func spawnDaemon(cfg *config.Config, configFile string) error {
	exe, err := os.Executable()
	if err != nil {
		return errors.InternalError("EXECUTABLE_NOT_FOUND",
			"Cannot locate the gopm binary", err)
	}

	if err := os.MkdirAll(cfg.State.Dir, 0755); err != nil {
		return errors.FileError("STATE_DIR_FAILED",
			"Cannot create state directory", err)
	}

	logFile, err := os.OpenFile(cfg.DaemonLogPath(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return errors.FileError("DAEMON_LOG_FAILED",
			"Cannot open daemon log file", err)
	}
	defer logFile.Close()

	args := []string{"daemon"}
	if configFile != "" {
		args = append([]string{"--config", configFile}, args...)
	}

	cmd := exec.Command(exe, args...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.Stdin = nil
	// The daemon must outlive this CLI invocation and its terminal.
	process.Detach(cmd)

	if err := cmd.Start(); err != nil {
		return errors.DaemonError("DAEMON_START_FAILED",
			"Failed to spawn the daemon", err)
	}
	return cmd.Process.Release()
}
