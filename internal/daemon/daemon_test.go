package daemon

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gopm-io/gopm/internal/config"
	"github.com/gopm-io/gopm/internal/protocol"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.State.Dir = t.TempDir()
	cfg.Log.Dir = t.TempDir()
	cfg.Manager.HealthCheckInterval = 50 * time.Millisecond
	cfg.Manager.AutoRestartDelay = 50 * time.Millisecond
	cfg.Manager.StopTimeout = 2 * time.Second
	return cfg
}

func newTestDaemon(t *testing.T) *Daemon {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	d, err := New(testConfig(t), logger, "test")
	if err != nil {
		t.Fatalf("Failed to create daemon: %v", err)
	}
	t.Cleanup(func() {
		d.cancel()
		d.closeConnections()
		d.wg.Wait()
		d.manager.StopAll()
		d.manager.Close()
	})
	return d
}

// dialTestDaemon serves the websocket handler on an ephemeral port and
// dials it.
func dialTestDaemon(t *testing.T, d *Daemon) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(d.handleWS))
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendRequest(t *testing.T, conn *websocket.Conn, req *protocol.RequestMessage) {
	t.Helper()
	data, err := protocol.SerializeMessage(req)
	if err != nil {
		t.Fatalf("Failed to serialize request: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("Failed to write request: %v", err)
	}
}

// awaitResponse reads frames until the response matching the request
// id arrives, skipping streamed log messages.
func awaitResponse(t *testing.T, conn *websocket.Conn, requestID string) *protocol.ResponseMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("Failed to read response: %v", err)
		}
		msg, err := protocol.ParseMessage(raw)
		if err != nil {
			t.Fatalf("Failed to parse frame: %v", err)
		}
		if resp, ok := msg.(*protocol.ResponseMessage); ok && resp.RequestID == requestID {
			return resp
		}
	}
}

func roundTrip(t *testing.T, conn *websocket.Conn, req *protocol.RequestMessage) *protocol.ResponseMessage {
	t.Helper()
	sendRequest(t, conn, req)
	return awaitResponse(t, conn, req.RequestID)
}

// TestDaemon_StartListStopDelete tests the core lifecycle over the
// wire.
func TestDaemon_StartListStopDelete(t *testing.T) {
	d := newTestDaemon(t)
	conn := dialTestDaemon(t, d)

	resp := roundTrip(t, conn, protocol.NewStartRequest(protocol.ProcessSpec{Name: "web", Command: "sleep 30"}))
	if !resp.Success {
		t.Fatalf("Start failed: %s", resp.Error)
	}
	if len(resp.Processes) != 1 || resp.Processes[0].Status != protocol.StatusRunning {
		t.Fatalf("Expected 1 running process, got %+v", resp.Processes)
	}
	if resp.Message != "Started 'web'" {
		t.Errorf("Expected start message, got %q", resp.Message)
	}

	resp = roundTrip(t, conn, protocol.NewRequest(protocol.ActionList, ""))
	if !resp.Success || len(resp.Processes) != 1 {
		t.Fatalf("Expected 1 process in list, got %+v", resp.Processes)
	}

	resp = roundTrip(t, conn, protocol.NewRequest(protocol.ActionStop, "web"))
	if !resp.Success {
		t.Fatalf("Stop failed: %s", resp.Error)
	}

	resp = roundTrip(t, conn, protocol.NewRequest(protocol.ActionInfo, "web"))
	if !resp.Success || resp.Process == nil {
		t.Fatalf("Info failed: %s", resp.Error)
	}
	if resp.Process.Status != protocol.StatusStopped {
		t.Errorf("Expected status stopped, got %s", resp.Process.Status)
	}

	resp = roundTrip(t, conn, protocol.NewRequest(protocol.ActionDelete, "web"))
	if !resp.Success {
		t.Fatalf("Delete failed: %s", resp.Error)
	}

	resp = roundTrip(t, conn, protocol.NewRequest(protocol.ActionList, ""))
	if !resp.Success || len(resp.Processes) != 0 {
		t.Errorf("Expected empty list after delete, got %+v", resp.Processes)
	}
}

// TestDaemon_ErrorResponses tests error codes coming back over the
// wire.
func TestDaemon_ErrorResponses(t *testing.T) {
	d := newTestDaemon(t)
	conn := dialTestDaemon(t, d)

	resp := roundTrip(t, conn, protocol.NewRequest(protocol.ActionStop, "ghost"))
	if resp.Success {
		t.Fatal("Expected failure for unknown process")
	}
	if resp.ErrorCode != protocol.ErrorCodeProcessNotFound {
		t.Errorf("Expected PROCESS_NOT_FOUND, got %s", resp.ErrorCode)
	}

	raw := []byte(`{"type":"request","request_id":"r-1","action":"stop"}`)
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		t.Fatalf("Failed to write raw frame: %v", err)
	}
	resp = awaitResponse(t, conn, "r-1")
	if resp.Success {
		t.Fatal("Expected failure for request without a name")
	}
	if resp.ErrorCode != protocol.ErrorCodeInvalidMessage {
		t.Errorf("Expected INVALID_MESSAGE, got %s", resp.ErrorCode)
	}
}

// TestDaemon_Logs tests buffered log retrieval over the wire.
func TestDaemon_Logs(t *testing.T) {
	d := newTestDaemon(t)
	conn := dialTestDaemon(t, d)

	resp := roundTrip(t, conn, protocol.NewStartRequest(protocol.ProcessSpec{Name: "web", Command: "echo alpha; echo beta"}))
	if !resp.Success {
		t.Fatalf("Start failed: %s", resp.Error)
	}

	deadline := time.Now().Add(10 * time.Second)
	var logs []protocol.LogEntry
	for time.Now().Before(deadline) {
		resp = roundTrip(t, conn, protocol.NewLogsRequest("web", protocol.LogQuery{}))
		if !resp.Success {
			t.Fatalf("Logs failed: %s", resp.Error)
		}
		if len(resp.Logs) == 2 {
			logs = resp.Logs
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	if len(logs) != 2 {
		t.Fatalf("Expected 2 log entries, got %d", len(logs))
	}
	if logs[0].Line != "alpha" || logs[1].Line != "beta" {
		t.Errorf("Expected alpha/beta, got %+v", logs)
	}
}

// TestDaemon_Follow tests live log streaming.
func TestDaemon_Follow(t *testing.T) {
	d := newTestDaemon(t)
	conn := dialTestDaemon(t, d)

	spec := protocol.ProcessSpec{Name: "ticker", Command: "for i in 1 2 3 4 5; do echo tick; sleep 1; done"}
	if resp := roundTrip(t, conn, protocol.NewStartRequest(spec)); !resp.Success {
		t.Fatalf("Start failed: %s", resp.Error)
	}

	resp := roundTrip(t, conn, protocol.NewFollowRequest("ticker", protocol.StreamBoth))
	if !resp.Success {
		t.Fatalf("Follow failed: %s", resp.Error)
	}

	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("Failed to read streamed frame: %v", err)
		}
		msg, err := protocol.ParseMessage(raw)
		if err != nil {
			t.Fatalf("Failed to parse streamed frame: %v", err)
		}
		if lm, ok := msg.(*protocol.LogMessage); ok {
			if lm.Name != "ticker" || lm.Line != "tick" {
				t.Errorf("Expected tick from ticker, got %+v", lm)
			}
			break
		}
	}

	if resp := roundTrip(t, conn, protocol.NewRequest(protocol.ActionUnfollow, "ticker")); !resp.Success {
		t.Fatalf("Unfollow failed: %s", resp.Error)
	}

	resp = roundTrip(t, conn, protocol.NewRequest(protocol.ActionUnfollow, "ticker"))
	if resp.Success {
		t.Error("Expected failure for unfollow without a follow")
	}
}

// TestDaemon_Status tests the daemon status snapshot.
func TestDaemon_Status(t *testing.T) {
	d := newTestDaemon(t)
	conn := dialTestDaemon(t, d)

	if resp := roundTrip(t, conn, protocol.NewStartRequest(protocol.ProcessSpec{Name: "web", Command: "sleep 30"})); !resp.Success {
		t.Fatalf("Start failed: %s", resp.Error)
	}

	resp := roundTrip(t, conn, protocol.NewRequest(protocol.ActionStatus, ""))
	if !resp.Success || resp.Daemon == nil {
		t.Fatalf("Status failed: %s", resp.Error)
	}
	if resp.Daemon.PID != os.Getpid() {
		t.Errorf("Expected daemon pid %d, got %d", os.Getpid(), resp.Daemon.PID)
	}
	if resp.Daemon.Version != "test" {
		t.Errorf("Expected version 'test', got %q", resp.Daemon.Version)
	}
	if resp.Daemon.Processes.Total != 1 || resp.Daemon.Processes.Running != 1 {
		t.Errorf("Expected 1 running process, got %+v", resp.Daemon.Processes)
	}
	if resp.Daemon.Connections != 1 {
		t.Errorf("Expected 1 connection, got %d", resp.Daemon.Connections)
	}
	// Only the start request has been recorded by the time the status
	// snapshot is taken; the status request itself is still in flight.
	if resp.Daemon.RequestsHandled != 1 {
		t.Errorf("Expected 1 request handled, got %d", resp.Daemon.RequestsHandled)
	}
	if resp.Daemon.RequestErrors != 0 {
		t.Errorf("Expected 0 request errors, got %d", resp.Daemon.RequestErrors)
	}
}

// TestDaemon_SaveAndResurrect tests snapshot actions over the wire.
func TestDaemon_SaveAndResurrect(t *testing.T) {
	d := newTestDaemon(t)
	conn := dialTestDaemon(t, d)

	if resp := roundTrip(t, conn, protocol.NewStartRequest(protocol.ProcessSpec{Name: "web", Command: "sleep 30"})); !resp.Success {
		t.Fatalf("Start failed: %s", resp.Error)
	}

	resp := roundTrip(t, conn, protocol.NewRequest(protocol.ActionSave, ""))
	if !resp.Success {
		t.Fatalf("Save failed: %s", resp.Error)
	}
	if !strings.Contains(resp.Message, "Saved 1") {
		t.Errorf("Expected save message, got %q", resp.Message)
	}

	if resp := roundTrip(t, conn, protocol.NewRequest(protocol.ActionDelete, "web")); !resp.Success {
		t.Fatalf("Delete failed: %s", resp.Error)
	}

	resp = roundTrip(t, conn, protocol.NewRequest(protocol.ActionResurrect, ""))
	if !resp.Success {
		t.Fatalf("Resurrect failed: %s", resp.Error)
	}
	if len(resp.Processes) != 1 || resp.Processes[0].Name != "web" {
		t.Errorf("Expected 'web' resurrected, got %+v", resp.Processes)
	}
}

// TestDaemon_Shutdown tests that the shutdown action trips the run
// loop exit.
func TestDaemon_Shutdown(t *testing.T) {
	d := newTestDaemon(t)
	conn := dialTestDaemon(t, d)

	resp := roundTrip(t, conn, protocol.NewRequest(protocol.ActionShutdown, ""))
	if !resp.Success {
		t.Fatalf("Shutdown failed: %s", resp.Error)
	}

	select {
	case <-d.shutdownCh:
	case <-time.After(5 * time.Second):
		t.Fatal("Expected shutdown channel closed")
	}
}

// TestDaemon_Health tests the health endpoint payload.
func TestDaemon_Health(t *testing.T) {
	d := newTestDaemon(t)

	ts := httptest.NewServer(http.HandlerFunc(d.handleHealth))
	defer ts.Close()

	resp, err := http.Get(ts.URL)
	if err != nil {
		t.Fatalf("Health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	var status protocol.DaemonStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("Failed to decode health payload: %v", err)
	}
	if status.PID != os.Getpid() {
		t.Errorf("Expected pid %d, got %d", os.Getpid(), status.PID)
	}
	if status.Version != "test" {
		t.Errorf("Expected version 'test', got %q", status.Version)
	}
}

// TestDaemon_PidFile tests pid file claiming and staleness handling.
func TestDaemon_PidFile(t *testing.T) {
	d := newTestDaemon(t)

	if err := os.WriteFile(d.cfg.PidFilePath(), []byte("999999"), 0644); err != nil {
		t.Fatalf("Failed to seed stale pid file: %v", err)
	}
	if err := d.writePidFile(); err != nil {
		t.Fatalf("Expected stale pid file replaced, got %v", err)
	}

	raw, err := os.ReadFile(d.cfg.PidFilePath())
	if err != nil {
		t.Fatalf("Failed to read pid file: %v", err)
	}
	if strings.TrimSpace(string(raw)) != strconv.Itoa(os.Getpid()) {
		t.Errorf("Expected own pid in file, got %q", raw)
	}

	infos, err := d.manager.Start(protocol.ProcessSpec{Name: "web", Command: "sleep 30"})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := os.WriteFile(d.cfg.PidFilePath(), []byte(strconv.Itoa(infos[0].PID)), 0644); err != nil {
		t.Fatalf("Failed to write live pid: %v", err)
	}
	if err := d.writePidFile(); err == nil {
		t.Error("Expected error for live pid in pid file")
	}

	// Backdating the file makes the same live pid look recycled: the
	// process holding it now started long after the file was written.
	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(d.cfg.PidFilePath(), past, past); err != nil {
		t.Fatalf("Failed to backdate pid file: %v", err)
	}
	if err := d.writePidFile(); err != nil {
		t.Errorf("Expected recycled pid treated as stale, got %v", err)
	}

	d.removePidFile()
	if _, err := os.Stat(d.cfg.PidFilePath()); !os.IsNotExist(err) {
		t.Errorf("Expected pid file removed, got %v", err)
	}
}
