// Package process runs and supervises a single managed child process.
//
// A Process wraps the child's full lifecycle:
// - Spawning through the system shell with cwd and environment applied
// - stdout/stderr capture with per-line callbacks
// - Graceful stop (SIGTERM, then SIGKILL after a timeout)
// - Exit detection with status and exit code bookkeeping
//
// The child runs in its own process group and stop signals target the
// whole group, so shell wrappers and their descendants go down together.
//
// Restart policy lives in the manager package; a Process only reports
// what happened to its child.
package process

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/gopm-io/gopm/internal/errors"
	"github.com/gopm-io/gopm/internal/protocol"
)

// pipeBufferSize is the read buffer for each output pipe.
const pipeBufferSize = 64 * 1024

// Process is one managed child process and its bookkeeping.
type Process struct {
	id   string
	spec protocol.ProcessSpec

	// State, guarded by mutex
	cmd           *exec.Cmd
	proc          *os.Process
	pid           int
	status        protocol.ProcessStatus
	startedAt     time.Time
	stoppedAt     time.Time
	exitCode      *int
	restarts      int
	stopRequested bool
	mutex         sync.RWMutex

	readersWg sync.WaitGroup
	runWg     sync.WaitGroup

	logger *slog.Logger

	// OnLine receives each captured output line.
	OnLine func(stream protocol.StreamType, line string)
	// OnExit fires once per run after the child has exited.
	OnExit func(exitCode int)
}

// New creates a process in the stopped state.
func New(spec protocol.ProcessSpec, logger *slog.Logger) *Process {
	if logger == nil {
		logger = slog.Default()
	}

	return &Process{
		id:     uuid.New().String(),
		spec:   spec,
		status: protocol.StatusStopped,
		logger: logger,
	}
}

// Restore creates a stopped process that keeps the identity and restart
// count of a previous incarnation, for snapshot loading.
func Restore(info protocol.ProcessInfo, spec protocol.ProcessSpec, logger *slog.Logger) *Process {
	p := New(spec, logger)
	if info.ID != "" {
		p.id = info.ID
	}
	p.restarts = info.Restarts
	return p
}

// shellCommand builds the exec.Cmd that runs a command line through
// the system shell.
func shellCommand(command string) *exec.Cmd {
	if runtime.GOOS == "windows" {
		return exec.Command("cmd", "/C", command)
	}
	return exec.Command("sh", "-c", command)
}

// Detach arranges for cmd to start in its own process group, so
// terminal signals aimed at the parent do not reach it.
func Detach(cmd *exec.Cmd) {
	setProcessGroup(cmd)
}

// Start spawns the child process.
func (p *Process) Start() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.status == protocol.StatusRunning {
		return errors.ProcessError(protocol.ErrorCodeProcessExists, "process already running", nil).WithProcess(p.spec.Name)
	}

	cmd := shellCommand(p.spec.Command)
	cmd.Dir = p.spec.Cwd
	cmd.Stdin = nil
	setProcessGroup(cmd)

	cmd.Env = os.Environ()
	for key, value := range p.spec.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", key, value))
	}

	// Hand the child raw pipe ends instead of using cmd.StdoutPipe so
	// cmd.Wait never closes the read side under the capture goroutines.
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return errors.ProcessError(protocol.ErrorCodeSpawnFailed, "failed to create stdout pipe", err)
	}

	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		stdoutR.Close()
		stdoutW.Close()
		return errors.ProcessError(protocol.ErrorCodeSpawnFailed, "failed to create stderr pipe", err)
	}

	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	if err := cmd.Start(); err != nil {
		stdoutR.Close()
		stdoutW.Close()
		stderrR.Close()
		stderrW.Close()
		p.status = protocol.StatusErrored
		return errors.ProcessError(protocol.ErrorCodeSpawnFailed,
			fmt.Sprintf("failed to start process '%s'", p.spec.Name), err)
	}

	// The child holds its own copies of the write ends now.
	stdoutW.Close()
	stderrW.Close()

	p.cmd = cmd
	p.proc = cmd.Process
	p.pid = cmd.Process.Pid
	p.status = protocol.StatusRunning
	p.startedAt = time.Now()
	p.stoppedAt = time.Time{}
	p.exitCode = nil
	p.stopRequested = false

	p.readersWg.Add(2)
	p.runWg.Add(1)
	go p.readPipe(protocol.StreamStdout, stdoutR)
	go p.readPipe(protocol.StreamStderr, stderrR)
	go p.waitForExit(cmd)

	p.logger.Info("process started",
		slog.String("name", p.spec.Name),
		slog.Int("pid", p.pid))

	return nil
}

// readPipe captures one output stream line by line. The pipe reaches
// EOF once every process holding the write end has exited.
func (p *Process) readPipe(stream protocol.StreamType, pipe io.ReadCloser) {
	defer p.readersWg.Done()
	defer pipe.Close()

	reader := bufio.NewReaderSize(pipe, pipeBufferSize)
	for {
		line, err := reader.ReadString('\n')
		if line != "" {
			p.emit(stream, strings.TrimRight(line, "\n\r"))
		}
		if err != nil {
			return
		}
	}
}

func (p *Process) emit(stream protocol.StreamType, line string) {
	if p.OnLine != nil {
		p.OnLine(stream, line)
	}
}

// waitForExit reaps the child, records the outcome, and then lets the
// capture goroutines finish draining whatever is left in the pipes.
func (p *Process) waitForExit(cmd *exec.Cmd) {
	defer p.runWg.Done()

	err := cmd.Wait()

	exitCode := 0
	if err != nil {
		if exitError, ok := err.(*exec.ExitError); ok {
			exitCode = exitError.ExitCode()
		} else {
			exitCode = -1
		}
	}

	p.mutex.Lock()
	p.pid = 0
	p.proc = nil
	p.stoppedAt = time.Now()
	p.exitCode = &exitCode

	// A stop we asked for is a stop, whatever the exit code says.
	if p.stopRequested || exitCode == 0 {
		p.status = protocol.StatusStopped
	} else {
		p.status = protocol.StatusErrored
	}
	status := p.status
	p.mutex.Unlock()

	p.logger.Info("process exited",
		slog.String("name", p.spec.Name),
		slog.Int("exit_code", exitCode),
		slog.String("status", string(status)))

	if p.OnExit != nil {
		p.OnExit(exitCode)
	}

	p.readersWg.Wait()
}

// Stop terminates the child gracefully: SIGTERM to its process group
// first, SIGKILL when the timeout passes. It blocks until the child is
// gone and its output is fully drained.
func (p *Process) Stop(timeout time.Duration) error {
	p.mutex.Lock()
	pid := p.pid
	running := p.status == protocol.StatusRunning
	if running {
		p.stopRequested = true
	}
	p.mutex.Unlock()

	if !running || pid == 0 {
		return nil
	}

	if err := terminateTree(pid); err != nil && !processGone(err) {
		if killErr := killTree(pid); killErr != nil && !processGone(killErr) {
			return errors.ProcessError(protocol.ErrorCodeInternalError, "failed to kill process", killErr)
		}
	}

	done := make(chan struct{})
	go func() {
		p.runWg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		p.logger.Warn("process did not stop in time, killing",
			slog.String("name", p.spec.Name),
			slog.Duration("timeout", timeout))
		if err := killTree(pid); err != nil && !processGone(err) {
			return errors.ProcessError(protocol.ErrorCodeInternalError, "failed to kill process", err)
		}
		<-done
		return nil
	}
}

// processGone reports whether a signal error means the process has
// already exited.
func processGone(err error) bool {
	return err == os.ErrProcessDone || err == syscall.ESRCH
}

// Kill terminates the child's process group immediately.
func (p *Process) Kill() error {
	p.mutex.Lock()
	pid := p.pid
	running := p.status == protocol.StatusRunning
	if running {
		p.stopRequested = true
	}
	p.mutex.Unlock()

	if !running || pid == 0 {
		return nil
	}

	if err := killTree(pid); err != nil && !processGone(err) {
		return errors.ProcessError(protocol.ErrorCodeInternalError, "failed to kill process", err)
	}
	return nil
}

// Signal sends a named signal such as "SIGHUP" to the child itself,
// not its whole group.
func (p *Process) Signal(signalName string) error {
	p.mutex.RLock()
	proc := p.proc
	running := p.status == protocol.StatusRunning
	p.mutex.RUnlock()

	if !running || proc == nil {
		return errors.ErrProcessNotRunning.WithProcess(p.spec.Name)
	}

	sig, ok := lookupSignal(signalName)
	if !ok {
		return errors.ValidationError(protocol.ErrorCodeInvalidSpec,
			fmt.Sprintf("unsupported signal: %s", signalName), nil)
	}

	return proc.Signal(sig)
}

// Wait blocks until the current run has fully wound down.
func (p *Process) Wait() {
	p.runWg.Wait()
}

// ID returns the stable identifier of this process.
func (p *Process) ID() string {
	return p.id
}

// Name returns the process name.
func (p *Process) Name() string {
	return p.spec.Name
}

// Spec returns the process specification.
func (p *Process) Spec() protocol.ProcessSpec {
	return p.spec
}

// UpdateSpec replaces the specification used on the next start.
func (p *Process) UpdateSpec(spec protocol.ProcessSpec) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.spec = spec
}

// Status returns the current lifecycle status.
func (p *Process) Status() protocol.ProcessStatus {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return p.status
}

// SetStatus overrides the lifecycle status. The manager uses this to
// mark a process as restarting between runs.
func (p *Process) SetStatus(status protocol.ProcessStatus) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.status = status
}

// IsRunning returns true while the child is alive.
func (p *Process) IsRunning() bool {
	return p.Status() == protocol.StatusRunning
}

// PID returns the child's pid, or zero when not running.
func (p *Process) PID() int {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return p.pid
}

// ExitCode returns the last exit code, or nil before the first exit.
func (p *Process) ExitCode() *int {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return p.exitCode
}

// Restarts returns how many times this process has been restarted.
func (p *Process) Restarts() int {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return p.restarts
}

// IncrementRestarts bumps the restart counter.
func (p *Process) IncrementRestarts() {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.restarts++
}

// ResetRestarts zeroes the restart counter after a stable run.
func (p *Process) ResetRestarts() {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.restarts = 0
}

// StartedAt returns when the current run began.
func (p *Process) StartedAt() time.Time {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return p.startedAt
}

// StopRequested reports whether the last stop was deliberate.
func (p *Process) StopRequested() bool {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return p.stopRequested
}

// Uptime returns how long the current run has been alive.
func (p *Process) Uptime() time.Duration {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	if p.status != protocol.StatusRunning || p.startedAt.IsZero() {
		return 0
	}
	return time.Since(p.startedAt)
}

// Info returns a snapshot of the process. CPU and memory readings are
// filled in by the manager's sampler.
func (p *Process) Info() protocol.ProcessInfo {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	info := protocol.ProcessInfo{
		ID:          p.id,
		Name:        p.spec.Name,
		Status:      p.status,
		PID:         p.pid,
		Restarts:    p.restarts,
		Command:     p.spec.Command,
		Cwd:         p.spec.Cwd,
		Autorestart: p.spec.Autorestart,
		MaxMemory:   p.spec.MaxMemory,
		Env:         p.spec.Env,
		ExitCode:    p.exitCode,
	}

	if !p.startedAt.IsZero() {
		startedAt := p.startedAt
		info.StartedAt = &startedAt
		if p.status == protocol.StatusRunning {
			info.UptimeSecs = int64(time.Since(p.startedAt).Seconds())
		}
	}
	if !p.stoppedAt.IsZero() {
		stoppedAt := p.stoppedAt
		info.StoppedAt = &stoppedAt
	}

	return info
}
