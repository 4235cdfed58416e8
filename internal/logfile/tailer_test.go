package logfile

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// lineCollector gathers tailer output for assertions.
type lineCollector struct {
	mu    sync.Mutex
	lines []string
}

func (c *lineCollector) add(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, line)
}

func (c *lineCollector) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string{}, c.lines...)
}

func (c *lineCollector) waitFor(t *testing.T, count int) []string {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if lines := c.snapshot(); len(lines) >= count {
			return lines
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %d lines, have %v", count, c.snapshot())
	return nil
}

func testTailerOptions() TailerOptions {
	opts := DefaultTailerOptions()
	opts.PollInterval = 25 * time.Millisecond
	return opts
}

func appendToFile(t *testing.T, path, content string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		t.Fatalf("Failed to open %s: %v", path, err)
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("Failed to append to %s: %v", path, err)
	}
}

func TestTailer_FollowsAppends(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	appendToFile(t, path, "historic line\n")

	collector := &lineCollector{}
	tailer := NewTailer(path, testTailerOptions())
	tailer.OnLine = collector.add

	if err := tailer.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer tailer.Close()

	appendToFile(t, path, "one\ntwo\n")

	lines := collector.waitFor(t, 2)
	if lines[0] != "one" || lines[1] != "two" {
		t.Errorf("Expected [one two], got %v", lines)
	}
}

func TestTailer_SkipsExistingContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	appendToFile(t, path, "old one\nold two\n")

	collector := &lineCollector{}
	tailer := NewTailer(path, testTailerOptions())
	tailer.OnLine = collector.add

	if err := tailer.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer tailer.Close()

	appendToFile(t, path, "new\n")

	lines := collector.waitFor(t, 1)
	if lines[0] != "new" {
		t.Errorf("Expected only the new line, got %v", lines)
	}
}

func TestTailer_FromStart(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	appendToFile(t, path, "first\nsecond\n")

	opts := testTailerOptions()
	opts.FromStart = true

	collector := &lineCollector{}
	tailer := NewTailer(path, opts)
	tailer.OnLine = collector.add

	if err := tailer.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer tailer.Close()

	lines := collector.waitFor(t, 2)
	if lines[0] != "first" || lines[1] != "second" {
		t.Errorf("Expected [first second], got %v", lines)
	}
}

func TestTailer_LateCreation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")

	collector := &lineCollector{}
	tailer := NewTailer(path, testTailerOptions())
	tailer.OnLine = collector.add

	if err := tailer.Start(); err != nil {
		t.Fatalf("Start should tolerate a missing file: %v", err)
	}
	defer tailer.Close()

	time.Sleep(50 * time.Millisecond)
	appendToFile(t, path, "born late\n")

	lines := collector.waitFor(t, 1)
	if lines[0] != "born late" {
		t.Errorf("Expected [born late], got %v", lines)
	}
}

func TestTailer_Rotation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	appendToFile(t, path, "seed\n")

	collector := &lineCollector{}
	tailer := NewTailer(path, testTailerOptions())
	tailer.OnLine = collector.add

	if err := tailer.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer tailer.Close()

	appendToFile(t, path, "before rotate\n")
	collector.waitFor(t, 1)

	if err := os.Rename(path, path+RotatedSuffix); err != nil {
		t.Fatalf("Rename failed: %v", err)
	}
	appendToFile(t, path, "after rotate\n")

	lines := collector.waitFor(t, 2)
	if lines[len(lines)-1] != "after rotate" {
		t.Errorf("Expected tail to pick up the new file, got %v", lines)
	}
}

func TestTailer_PartialLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	appendToFile(t, path, "")

	collector := &lineCollector{}
	tailer := NewTailer(path, testTailerOptions())
	tailer.OnLine = collector.add

	if err := tailer.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer tailer.Close()

	appendToFile(t, path, "par")
	time.Sleep(100 * time.Millisecond)

	if lines := collector.snapshot(); len(lines) != 0 {
		t.Errorf("Partial line should not be emitted yet, got %v", lines)
	}

	appendToFile(t, path, "tial\n")

	lines := collector.waitFor(t, 1)
	if lines[0] != "partial" {
		t.Errorf("Expected [partial], got %v", lines)
	}
}

func TestTailer_StartTwice(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	appendToFile(t, path, "")

	tailer := NewTailer(path, testTailerOptions())
	if err := tailer.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer tailer.Close()

	if err := tailer.Start(); err == nil {
		t.Error("Expected error starting a running tailer")
	}
}

func TestTailer_Close(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	appendToFile(t, path, "")

	tailer := NewTailer(path, testTailerOptions())
	if err := tailer.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	done := make(chan struct{})
	go func() {
		tailer.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Error("Close did not complete in time")
	}

	if tailer.IsRunning() {
		t.Error("Expected tailer to report not running after Close")
	}
}
