package manager

import (
	"testing"
	"time"

	"github.com/gopm-io/gopm/internal/protocol"
)

// TestMonitor_AutoRestart tests that a crashing process is restarted
// on the backoff schedule.
func TestMonitor_AutoRestart(t *testing.T) {
	m := newTestManager(t, nil)

	if _, err := m.Start(protocol.ProcessSpec{Name: "crashy", Command: "exit 1", Autorestart: true}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	waitFor(t, 10*time.Second, "restart counter to climb", func() bool {
		info, err := m.Get("crashy")
		return err == nil && info.Restarts >= 2
	})
}

// TestMonitor_RestartBudget tests that restarts stop once the budget
// is exhausted.
func TestMonitor_RestartBudget(t *testing.T) {
	cfg := testConfig(t)
	cfg.Manager.MaxRestarts = 3
	m := newTestManager(t, cfg)

	if _, err := m.Start(protocol.ProcessSpec{Name: "crashy", Command: "exit 1", Autorestart: true}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	waitFor(t, 10*time.Second, "budget exhaustion", func() bool {
		info, err := m.Get("crashy")
		return err == nil && info.Status == protocol.StatusErrored && info.Restarts == 3
	})

	time.Sleep(300 * time.Millisecond)
	info, err := m.Get("crashy")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if info.Status != protocol.StatusErrored {
		t.Errorf("Expected process to stay errored, got %s", info.Status)
	}
	if info.Restarts != 3 {
		t.Errorf("Expected restart counter to stay at 3, got %d", info.Restarts)
	}
}

// TestMonitor_AutorestartDisabled tests that a crash without
// autorestart is left alone.
func TestMonitor_AutorestartDisabled(t *testing.T) {
	m := newTestManager(t, nil)

	if _, err := m.Start(protocol.ProcessSpec{Name: "oneshot", Command: "exit 1"}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	waitForStatus(t, m, "oneshot", protocol.StatusErrored)

	time.Sleep(300 * time.Millisecond)
	info, err := m.Get("oneshot")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if info.Status != protocol.StatusErrored {
		t.Errorf("Expected status errored, got %s", info.Status)
	}
	if info.Restarts != 0 {
		t.Errorf("Expected 0 restarts, got %d", info.Restarts)
	}
}

// TestMonitor_StopCancelsPendingRestart tests that an explicit stop
// wins over a scheduled restart.
func TestMonitor_StopCancelsPendingRestart(t *testing.T) {
	cfg := testConfig(t)
	cfg.Manager.AutoRestartDelay = 10 * time.Second
	m := newTestManager(t, cfg)

	if _, err := m.Start(protocol.ProcessSpec{Name: "crashy", Command: "exit 1", Autorestart: true}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	waitForStatus(t, m, "crashy", protocol.StatusRestarting)

	if err := m.Stop("crashy"); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	time.Sleep(300 * time.Millisecond)
	info, err := m.Get("crashy")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if info.Status != protocol.StatusStopped {
		t.Errorf("Expected status stopped after cancel, got %s", info.Status)
	}
	if info.Restarts != 0 {
		t.Errorf("Expected 0 restarts after cancel, got %d", info.Restarts)
	}
}

// TestMonitor_StableUptimeReset tests that the restart counter resets
// after the process stays up long enough.
func TestMonitor_StableUptimeReset(t *testing.T) {
	cfg := testConfig(t)
	cfg.Manager.StableUptime = 200 * time.Millisecond
	m := newTestManager(t, cfg)

	if _, err := m.Start(protocol.ProcessSpec{Name: "web", Command: "sleep 30"}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	info, err := m.Restart("web")
	if err != nil {
		t.Fatalf("Restart failed: %v", err)
	}
	if info.Restarts != 1 {
		t.Fatalf("Expected 1 restart, got %d", info.Restarts)
	}

	waitFor(t, 10*time.Second, "restart counter reset", func() bool {
		info, err := m.Get("web")
		return err == nil && info.Restarts == 0 && info.Status == protocol.StatusRunning
	})
}
