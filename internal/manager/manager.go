// Package manager owns the process registry and its supervision.
//
// A Manager maps names to managed processes and carries each one's log
// pipeline: captured lines go to an in-memory ring buffer, to the
// per-process log file, and to any live follow subscribers. A monitor
// goroutine sweeps the registry on a fixed cadence to apply the
// restart policy (exponential backoff, restart budget, stable-uptime
// reset) and the per-process memory limit.
package manager

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/panjf2000/ants/v2"

	"github.com/gopm-io/gopm/internal/buffer"
	"github.com/gopm-io/gopm/internal/config"
	"github.com/gopm-io/gopm/internal/errors"
	"github.com/gopm-io/gopm/internal/logfile"
	"github.com/gopm-io/gopm/internal/process"
	"github.com/gopm-io/gopm/internal/protocol"
	"github.com/gopm-io/gopm/internal/stats"
)

// restartSettleDelay is the pause between stopping and starting a
// process during an explicit restart.
const restartSettleDelay = 500 * time.Millisecond

// entry bundles one managed process with its log pipeline and restart
// pacing state.
type entry struct {
	proc *process.Process
	buf  *buffer.RingBuffer
	logw *logfile.Writer

	mu            sync.Mutex
	restartPolicy *backoff.ExponentialBackOff
	restartDue    time.Time
	lastCPU       float64
	lastMemory    uint64
}

// cancelRestart clears a pending auto-restart and marks the process
// deliberately stopped.
func (e *entry) cancelRestart() {
	e.mu.Lock()
	e.restartDue = time.Time{}
	e.mu.Unlock()
	e.proc.SetStatus(protocol.StatusStopped)
}

// Manager is the process registry and supervisor.
type Manager struct {
	cfg    *config.Config
	logger *slog.Logger

	mutex     sync.RWMutex
	processes map[string]*entry

	subsMu      sync.RWMutex
	subscribers map[string]*Subscription

	sampler *stats.Sampler
	pool    *ants.Pool

	bufferLimits buffer.Limits
	logMaxSize   int64

	ctx       context.Context
	cancel    context.CancelFunc
	monitorWg sync.WaitGroup
}

// New creates a manager and starts its monitor loop.
func New(cfg *config.Config, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "manager"))

	logMaxSize, err := config.ParseSize(cfg.Log.MaxSize)
	if err != nil {
		return nil, errors.ConfigError(protocol.ErrorCodeInternalError, "invalid log.max_size", err)
	}

	bufMaxSize, err := config.ParseSize(cfg.Buffer.MaxSize)
	if err != nil {
		return nil, errors.ConfigError(protocol.ErrorCodeInternalError, "invalid buffer.max_size", err)
	}

	bufMaxLine, err := config.ParseSize(cfg.Buffer.MaxLineSize)
	if err != nil {
		return nil, errors.ConfigError(protocol.ErrorCodeInternalError, "invalid buffer.max_line_size", err)
	}

	pool, err := ants.NewPool(cfg.Manager.SweepWorkers)
	if err != nil {
		return nil, errors.InternalError(protocol.ErrorCodeInternalError, "failed to create worker pool", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		cfg:         cfg,
		logger:      logger,
		processes:   make(map[string]*entry),
		subscribers: make(map[string]*Subscription),
		sampler:     stats.NewSampler(),
		pool:        pool,
		bufferLimits: buffer.Limits{
			MaxSize:         bufMaxSize,
			MaxAge:          cfg.Buffer.MaxAge,
			MaxLineSize:     int(bufMaxLine),
			CleanupInterval: cfg.Buffer.CleanupInterval,
		},
		logMaxSize: logMaxSize,
		ctx:        ctx,
		cancel:     cancel,
	}

	m.monitorWg.Add(1)
	go m.monitorLoop()

	return m, nil
}

// register builds the log pipeline around proc and inserts it into the
// registry. Caller holds the write lock.
func (m *Manager) register(proc *process.Process) (*entry, error) {
	name := proc.Name()

	logw, err := logfile.NewWriter(m.cfg.Log.Dir, name, m.logMaxSize)
	if err != nil {
		return nil, errors.FileError(protocol.ErrorCodeInternalError,
			fmt.Sprintf("failed to open log file for '%s'", name), err)
	}

	e := &entry{
		proc:          proc,
		buf:           buffer.NewRingBuffer(buffer.DefaultCapacity, m.bufferLimits),
		logw:          logw,
		restartPolicy: m.newRestartPolicy(),
	}

	proc.OnLine = func(stream protocol.StreamType, line string) {
		m.onLine(name, e, stream, line)
	}
	proc.OnExit = func(exitCode int) {
		m.onExit(name, e, exitCode)
	}

	m.processes[name] = e
	return e, nil
}

func (m *Manager) newRestartPolicy() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = m.cfg.Manager.AutoRestartDelay
	bo.MaxInterval = m.cfg.Manager.MaxRestartDelay
	bo.MaxElapsedTime = 0
	bo.Multiplier = 2.0
	bo.RandomizationFactor = 0.1
	bo.Reset()
	return bo
}

// expandInstances turns a spec with instances > 1 into numbered
// single-instance specs.
func expandInstances(spec protocol.ProcessSpec) []protocol.ProcessSpec {
	if spec.Instances <= 1 {
		return []protocol.ProcessSpec{spec}
	}

	specs := make([]protocol.ProcessSpec, 0, spec.Instances)
	for i := 1; i <= spec.Instances; i++ {
		s := spec
		s.Name = fmt.Sprintf("%s-%d", spec.Name, i)
		s.Instances = 1
		specs = append(specs, s)
	}
	return specs
}

// Start registers and starts the process(es) described by spec. A spec
// with instances > 1 becomes name-1 .. name-N. Name conflicts and the
// process limit are checked before anything starts.
func (m *Manager) Start(spec protocol.ProcessSpec) ([]protocol.ProcessInfo, error) {
	if err := protocol.ValidateSpec(&spec); err != nil {
		return nil, errors.ValidationError(protocol.ErrorCodeInvalidSpec, err.Error(), err)
	}

	specs := expandInstances(spec)

	m.mutex.Lock()
	if max := m.cfg.Manager.MaxProcesses; max > 0 && len(m.processes)+len(specs) > max {
		m.mutex.Unlock()
		return nil, errors.ProcessError(protocol.ErrorCodeMaxProcesses,
			fmt.Sprintf("process limit reached (%d)", max), nil)
	}

	for _, s := range specs {
		if _, exists := m.processes[s.Name]; exists {
			m.mutex.Unlock()
			return nil, errors.ErrProcessExists.WithProcess(s.Name)
		}
	}

	entries := make([]*entry, 0, len(specs))
	for _, s := range specs {
		e, err := m.register(process.New(s, m.logger))
		if err != nil {
			m.mutex.Unlock()
			return nil, err
		}
		entries = append(entries, e)
	}
	m.mutex.Unlock()

	infos := make([]protocol.ProcessInfo, 0, len(entries))
	for _, e := range entries {
		if err := e.proc.Start(); err != nil {
			m.saveQuietly()
			return infos, err
		}
		infos = append(infos, m.infoFor(e))
	}

	m.saveQuietly()
	return infos, nil
}

// Stop gracefully stops a running process. A pending auto-restart is
// cancelled instead.
func (m *Manager) Stop(name string) error {
	e, err := m.lookup(name)
	if err != nil {
		return err
	}

	switch {
	case e.proc.IsRunning():
		if err := e.proc.Stop(m.cfg.Manager.StopTimeout); err != nil {
			return err
		}
	case e.proc.Status() == protocol.StatusRestarting:
		e.cancelRestart()
		m.logger.Info("pending restart cancelled", slog.String("process", name))
	default:
		return errors.ErrProcessNotRunning.WithProcess(name)
	}

	m.saveQuietly()
	return nil
}

// Restart stops the process if running, pauses briefly, and starts it
// again. The restart is counted.
func (m *Manager) Restart(name string) (protocol.ProcessInfo, error) {
	e, err := m.lookup(name)
	if err != nil {
		return protocol.ProcessInfo{}, err
	}

	if err := m.performRestart(name, e); err != nil {
		return protocol.ProcessInfo{}, err
	}

	m.saveQuietly()
	return m.infoFor(e), nil
}

// performRestart is the shared stop + settle + start sequence used by
// explicit restarts and the memory limit.
func (m *Manager) performRestart(name string, e *entry) error {
	if e.proc.IsRunning() {
		if err := e.proc.Stop(m.cfg.Manager.StopTimeout); err != nil {
			return err
		}
	}

	e.mu.Lock()
	e.restartDue = time.Time{}
	e.mu.Unlock()

	e.proc.SetStatus(protocol.StatusRestarting)
	time.Sleep(restartSettleDelay)

	e.proc.IncrementRestarts()
	if err := e.proc.Start(); err != nil {
		m.logger.Error("restart failed",
			slog.String("process", name),
			slog.String("error", err.Error()))
		return err
	}

	m.logger.Info("process restarted",
		slog.String("process", name),
		slog.Int("restarts", e.proc.Restarts()))
	return nil
}

// Delete stops a process if needed and removes it from the registry
// together with its buffers.
func (m *Manager) Delete(name string) error {
	m.mutex.Lock()
	e, exists := m.processes[name]
	if exists {
		delete(m.processes, name)
	}
	m.mutex.Unlock()

	if !exists {
		return errors.ErrProcessNotFound.WithProcess(name)
	}

	if e.proc.IsRunning() {
		if err := e.proc.Stop(m.cfg.Manager.StopTimeout); err != nil {
			m.logger.Warn("stop during delete failed",
				slog.String("process", name),
				slog.String("error", err.Error()))
		}
	} else if e.proc.Status() == protocol.StatusRestarting {
		e.cancelRestart()
	}

	e.buf.Close()
	if err := e.logw.Close(); err != nil {
		m.logger.Warn("log file close failed",
			slog.String("process", name),
			slog.String("error", err.Error()))
	}

	m.logger.Info("process deleted", slog.String("process", name))
	m.saveQuietly()
	return nil
}

// Get returns a stat-enriched snapshot of one process.
func (m *Manager) Get(name string) (protocol.ProcessInfo, error) {
	e, err := m.lookup(name)
	if err != nil {
		return protocol.ProcessInfo{}, err
	}
	return m.infoFor(e), nil
}

// List returns stat-enriched snapshots of every process, sorted by
// name.
func (m *Manager) List() []protocol.ProcessInfo {
	m.mutex.RLock()
	entries := make([]*entry, 0, len(m.processes))
	for _, e := range m.processes {
		entries = append(entries, e)
	}
	m.mutex.RUnlock()

	infos := make([]protocol.ProcessInfo, 0, len(entries))
	for _, e := range entries {
		infos = append(infos, m.infoFor(e))
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Logs returns buffered log lines for one process, narrowed by the
// query.
func (m *Manager) Logs(name string, query protocol.LogQuery) ([]protocol.LogEntry, error) {
	e, err := m.lookup(name)
	if err != nil {
		return nil, err
	}

	opts := buffer.GetOptions{
		Lines:   query.Lines,
		Pattern: query.Pattern,
	}
	if query.Since != nil {
		opts.Since = *query.Since
	}
	if query.Stream != "" && query.Stream != protocol.StreamBoth {
		opts.Stream = string(query.Stream)
	}

	entries, err := e.buf.Get(opts)
	if err != nil {
		return nil, errors.ValidationError(protocol.ErrorCodeInvalidMessage, "invalid log pattern", err)
	}

	logs := make([]protocol.LogEntry, 0, len(entries))
	for _, le := range entries {
		logs = append(logs, le.ToProto(name))
	}
	return logs, nil
}

// LogFilePath returns the persisted log file path for a process name,
// whether or not the process is registered.
func (m *Manager) LogFilePath(name string) string {
	return logfile.PathFor(m.cfg.Log.Dir, name)
}

// Counts breaks down the registry by status.
func (m *Manager) Counts() protocol.ProcessCounts {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	counts := protocol.ProcessCounts{Total: len(m.processes)}
	for _, e := range m.processes {
		switch e.proc.Status() {
		case protocol.StatusRunning:
			counts.Running++
		case protocol.StatusStopped:
			counts.Stopped++
		case protocol.StatusErrored:
			counts.Errored++
		case protocol.StatusRestarting:
			counts.Restarting++
		}
	}
	return counts
}

// BufferTotals sums buffered log lines and bytes across the registry.
func (m *Manager) BufferTotals() (lines int, bytes int64) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	for _, e := range m.processes {
		s := e.buf.GetStats()
		lines += s.EntryCount
		bytes += s.TotalSizeBytes
	}
	return lines, bytes
}

// StopAll stops every running process concurrently through the worker
// pool and cancels pending restarts. Used on daemon shutdown.
func (m *Manager) StopAll() {
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

		if e.proc.Status() == protocol.StatusRestarting {
			e.cancelRestart()
			continue
		}
		if !e.proc.IsRunning() {
			continue
		}

		wg.Add(1)
		task := func() {
			defer wg.Done()
			if err := e.proc.Stop(m.cfg.Manager.StopTimeout); err != nil {
				m.logger.Warn("stop failed during shutdown",
					slog.String("process", name),
					slog.String("error", err.Error()))
			}
		}
		if err := m.pool.Submit(task); err != nil {
			task()
		}
	}
	wg.Wait()
}

// Close stops the monitor loop and releases every per-process
// resource. It does not stop running processes; call StopAll first
// when they should go down too.
func (m *Manager) Close() {
	m.cancel()
	m.monitorWg.Wait()
	m.pool.Release()

	m.subsMu.Lock()
	subs := make([]*Subscription, 0, len(m.subscribers))
	for _, sub := range m.subscribers {
		subs = append(subs, sub)
	}
	m.subsMu.Unlock()
	for _, sub := range subs {
		sub.Close()
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()
	for name, e := range m.processes {
		e.buf.Close()
		e.logw.Close()
		delete(m.processes, name)
	}
}

// lookup finds a registry entry by name.
func (m *Manager) lookup(name string) (*entry, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	e, exists := m.processes[name]
	if !exists {
		return nil, errors.ErrProcessNotFound.WithProcess(name)
	}
	return e, nil
}

// infoFor snapshots a process and enriches it with resource stats and
// its log file path.
func (m *Manager) infoFor(e *entry) protocol.ProcessInfo {
	info := e.proc.Info()

	if info.Status == protocol.StatusRunning {
		sample := m.sampler.Sample(info.PID)
		info.CPU = sample.CPUPercent
		info.Memory = sample.MemoryBytes

		e.mu.Lock()
		e.lastCPU = sample.CPUPercent
		e.lastMemory = sample.MemoryBytes
		e.mu.Unlock()
	}

	info.LogFile = e.logw.Path()
	return info
}

// onLine is the sink for every captured output line: ring buffer, log
// file, then live subscribers.
func (m *Manager) onLine(name string, e *entry, stream protocol.StreamType, line string) {
	e.buf.Append(stream, line)

	if err := e.logw.WriteLine(line); err != nil {
		m.logger.Warn("log write failed",
			slog.String("process", name),
			slog.String("error", err.Error()))
	}

	m.broadcast(protocol.LogEntry{
		Name:      name,
		Line:      line,
		Stream:    stream,
		Timestamp: time.Now(),
	})
}

// onExit applies the restart policy after a process exits on its own.
// Deliberate stops never trigger a restart.
func (m *Manager) onExit(name string, e *entry, exitCode int) {
	if e.proc.StopRequested() {
		return
	}

	spec := e.proc.Spec()
	if !spec.Autorestart {
		m.logger.Info("process exited, autorestart disabled",
			slog.String("process", name),
			slog.Int("exit_code", exitCode))
		return
	}

	if max := m.cfg.Manager.MaxRestarts; max > 0 && e.proc.Restarts() >= max {
		e.proc.SetStatus(protocol.StatusErrored)
		m.logger.Error("restart budget exhausted",
			slog.String("process", name),
			slog.Int("restarts", e.proc.Restarts()),
			slog.Int("max_restarts", max))
		return
	}

	e.mu.Lock()
	delay := e.restartPolicy.NextBackOff()
	e.restartDue = time.Now().Add(delay)
	e.mu.Unlock()

	e.proc.SetStatus(protocol.StatusRestarting)
	m.logger.Info("restart scheduled",
		slog.String("process", name),
		slog.Int("exit_code", exitCode),
		slog.Duration("delay", delay),
		slog.Int("restarts", e.proc.Restarts()))
}
