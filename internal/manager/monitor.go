package manager

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gopm-io/gopm/internal/protocol"
)

// monitorLoop sweeps the registry on the health check interval until
// the manager is closed.
func (m *Manager) monitorLoop() {
	defer m.monitorWg.Done()

	ticker := time.NewTicker(m.cfg.Manager.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

// sweep fans the per-process checks out over the worker pool and waits
// for the batch to finish.
func (m *Manager) sweep() {
	m.mutex.RLock()
	entries := make([]*entry, 0, len(m.processes))
	names := make([]string, 0, len(m.processes))
	for name, e := range m.processes {
		entries = append(entries, e)
		names = append(names, name)
	}
	m.mutex.RUnlock()

	var wg sync.WaitGroup
	for i := range entries {
		e := entries[i]
		name := names[i]

		wg.Add(1)
		task := func() {
			defer wg.Done()
			m.sweepOne(name, e)
		}
		if err := m.pool.Submit(task); err != nil {
			task()
		}
	}
	wg.Wait()
}

// sweepOne applies the monitor checks to a single process: resource
// sampling and the memory limit while running, the backoff schedule
// while restarting.
func (m *Manager) sweepOne(name string, e *entry) {
	switch e.proc.Status() {
	case protocol.StatusRunning:
		m.checkRunning(name, e)
	case protocol.StatusRestarting:
		m.checkRestarting(name, e)
	}
}

// checkRunning samples resource usage, enforces the memory limit, and
// resets the restart counter once the process has stayed up long
// enough.
func (m *Manager) checkRunning(name string, e *entry) {
	pid := e.proc.PID()
	if pid == 0 {
		return
	}

	sample := m.sampler.Sample(pid)
	e.mu.Lock()
	e.lastCPU = sample.CPUPercent
	e.lastMemory = sample.MemoryBytes
	e.mu.Unlock()

	spec := e.proc.Spec()
	if spec.MaxMemory > 0 && sample.MemoryBytes > uint64(spec.MaxMemory) {
		m.logger.Warn("memory limit exceeded, restarting",
			slog.String("process", name),
			slog.Uint64("memory_bytes", sample.MemoryBytes),
			slog.Int64("max_memory", spec.MaxMemory))
		if err := m.performRestart(name, e); err != nil {
			m.logger.Error("memory limit restart failed",
				slog.String("process", name),
				slog.String("error", err.Error()))
		}
		m.saveQuietly()
		return
	}

	if e.proc.Restarts() > 0 && e.proc.Uptime() >= m.cfg.Manager.StableUptime {
		e.proc.ResetRestarts()
		e.mu.Lock()
		e.restartPolicy.Reset()
		e.restartDue = time.Time{}
		e.mu.Unlock()
		m.logger.Debug("restart counter reset after stable uptime",
			slog.String("process", name),
			slog.Duration("uptime", e.proc.Uptime()))
		m.saveQuietly()
	}
}

// checkRestarting starts the process again once its backoff delay has
// elapsed. A failed attempt is rescheduled until the restart budget
// runs out.
func (m *Manager) checkRestarting(name string, e *entry) {
	e.mu.Lock()
	due := e.restartDue
	if due.IsZero() || time.Now().Before(due) {
		e.mu.Unlock()
		return
	}
	e.restartDue = time.Time{}
	e.mu.Unlock()

	e.proc.IncrementRestarts()
	if err := e.proc.Start(); err != nil {
		if max := m.cfg.Manager.MaxRestarts; max > 0 && e.proc.Restarts() >= max {
			e.proc.SetStatus(protocol.StatusErrored)
			m.logger.Error("restart budget exhausted",
				slog.String("process", name),
				slog.Int("restarts", e.proc.Restarts()),
				slog.Int("max_restarts", max),
				slog.String("error", err.Error()))
			m.saveQuietly()
			return
		}

		e.mu.Lock()
		delay := e.restartPolicy.NextBackOff()
		e.restartDue = time.Now().Add(delay)
		e.mu.Unlock()

		e.proc.SetStatus(protocol.StatusRestarting)
		m.logger.Warn("restart attempt failed",
			slog.String("process", name),
			slog.Int("restarts", e.proc.Restarts()),
			slog.Duration("next_delay", delay),
			slog.String("error", err.Error()))
		return
	}

	m.logger.Info("process auto-restarted",
		slog.String("process", name),
		slog.Int("restarts", e.proc.Restarts()))
	m.saveQuietly()
}
