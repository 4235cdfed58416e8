package buffer

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/gopm-io/gopm/internal/protocol"
)

func TestNewRingBuffer(t *testing.T) {
	rb := NewRingBuffer(100, DefaultLimits())
	defer rb.Close()

	if rb.capacity != 100 {
		t.Errorf("Expected capacity 100, got %d", rb.capacity)
	}

	stats := rb.GetStats()
	if stats.EntryCount != 0 {
		t.Errorf("Expected empty buffer, got %d entries", stats.EntryCount)
	}
}

func TestNewRingBuffer_ZeroValuesGetDefaults(t *testing.T) {
	rb := NewRingBuffer(0, Limits{})
	defer rb.Close()

	if rb.capacity != DefaultCapacity {
		t.Errorf("Expected default capacity %d, got %d", DefaultCapacity, rb.capacity)
	}
	if rb.limits.MaxSize != DefaultMaxSize {
		t.Errorf("Expected default max size %d, got %d", DefaultMaxSize, rb.limits.MaxSize)
	}
	if rb.limits.MaxAge != DefaultMaxAge {
		t.Errorf("Expected default max age %v, got %v", DefaultMaxAge, rb.limits.MaxAge)
	}
}

func TestNewDefaultRingBuffer(t *testing.T) {
	rb := NewDefaultRingBuffer()
	defer rb.Close()

	if rb.capacity != DefaultCapacity {
		t.Errorf("Expected default capacity %d, got %d", DefaultCapacity, rb.capacity)
	}
}

func TestRingBuffer_Append_Truncation(t *testing.T) {
	limits := DefaultLimits()
	limits.MaxLineSize = 16

	rb := NewRingBuffer(10, limits)
	defer rb.Close()

	rb.Append(protocol.StreamStdout, strings.Repeat("a", 100))

	entries, err := rb.Get(GetOptions{})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("Expected 1 entry, got %d", len(entries))
	}
	if len(entries[0].Content) != 16 {
		t.Errorf("Expected content truncated to 16 bytes, got %d", len(entries[0].Content))
	}
	if entries[0].Timestamp.IsZero() {
		t.Error("Expected Append to stamp the entry")
	}
}

func TestLogEntry_Size(t *testing.T) {
	entry := &LogEntry{
		Content:   "hello world",
		Stream:    protocol.StreamStdout,
		Timestamp: time.Now(),
	}

	size := entry.Size()
	expectedSize := len("hello world") + len("stdout") + 8

	if size != expectedSize {
		t.Errorf("Expected size %d, got %d", expectedSize, size)
	}
}

func TestLogEntry_Plain(t *testing.T) {
	entry := &LogEntry{
		Content: "\x1b[31mERROR\x1b[0m: failed",
		Stream:  protocol.StreamStderr,
	}

	if got := entry.Plain(); got != "ERROR: failed" {
		t.Errorf("Expected escape codes stripped, got %q", got)
	}

	plain := &LogEntry{Content: "no color here", Stream: protocol.StreamStdout}
	if got := plain.Plain(); got != "no color here" {
		t.Errorf("Expected content unchanged, got %q", got)
	}
}

func TestLogEntry_Matches(t *testing.T) {
	entry := &LogEntry{
		Content:   "ERROR: failed to connect",
		Stream:    protocol.StreamStderr,
		Timestamp: time.Now(),
	}

	// Stream matching
	if !entry.Matches("", nil) {
		t.Error("Should match empty stream filter")
	}
	if !entry.Matches(protocol.StreamBoth, nil) {
		t.Error("Should match 'both' stream filter")
	}
	if !entry.Matches(protocol.StreamStderr, nil) {
		t.Error("Should match stderr stream")
	}
	if entry.Matches(protocol.StreamStdout, nil) {
		t.Error("Should not match stdout stream")
	}

	// Pattern matching
	errorPattern := regexp.MustCompile("ERROR")
	if !entry.Matches("", errorPattern) {
		t.Error("Should match ERROR pattern")
	}

	infoPattern := regexp.MustCompile("INFO")
	if entry.Matches("", infoPattern) {
		t.Error("Should not match INFO pattern")
	}

	// Combined matching
	if !entry.Matches(protocol.StreamStderr, errorPattern) {
		t.Error("Should match both stderr stream and ERROR pattern")
	}
	if entry.Matches(protocol.StreamStdout, errorPattern) {
		t.Error("Should not match stdout stream even with matching pattern")
	}
}

func TestLogEntry_Matches_ColoredContent(t *testing.T) {
	entry := &LogEntry{
		Content: "\x1b[1;31merror\x1b[0m: disk full",
		Stream:  protocol.StreamStderr,
	}

	pattern := regexp.MustCompile("error: disk")
	if !entry.Matches("", pattern) {
		t.Error("Pattern should match across escape sequences")
	}
}

func TestLogEntry_ToProto(t *testing.T) {
	now := time.Now()
	entry := &LogEntry{
		Content:   "line one",
		Stream:    protocol.StreamStdout,
		Timestamp: now,
	}

	wire := entry.ToProto("worker")
	if wire.Name != "worker" {
		t.Errorf("Expected name 'worker', got %q", wire.Name)
	}
	if wire.Line != "line one" {
		t.Errorf("Expected line 'line one', got %q", wire.Line)
	}
	if wire.Stream != protocol.StreamStdout {
		t.Errorf("Expected stream stdout, got %q", wire.Stream)
	}
	if !wire.Timestamp.Equal(now) {
		t.Error("Expected timestamp preserved")
	}
}

func TestRingBuffer_Add(t *testing.T) {
	rb := NewRingBuffer(3, DefaultLimits())
	defer rb.Close()

	rb.Append(protocol.StreamStdout, "message 1")
	rb.Append(protocol.StreamStdout, "message 2")
	rb.Append(protocol.StreamStdout, "message 3")

	stats := rb.GetStats()
	if stats.EntryCount != 3 {
		t.Errorf("Expected 3 entries, got %d", stats.EntryCount)
	}

	// Fourth entry evicts the first
	rb.Append(protocol.StreamStdout, "message 4")

	stats = rb.GetStats()
	if stats.EntryCount != 3 {
		t.Errorf("Expected 3 entries after overflow, got %d", stats.EntryCount)
	}

	entries, err := rb.Get(GetOptions{})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("Expected 3 entries, got %d", len(entries))
	}
	if entries[0].Content != "message 2" {
		t.Errorf("Expected first entry to be 'message 2', got '%s'", entries[0].Content)
	}
	if entries[2].Content != "message 4" {
		t.Errorf("Expected last entry to be 'message 4', got '%s'", entries[2].Content)
	}
}

func TestRingBuffer_SizeBasedEviction(t *testing.T) {
	limits := DefaultLimits()
	limits.MaxSize = 1024

	rb := NewRingBuffer(1000, limits)
	defer rb.Close()

	content := strings.Repeat("a", 100)
	for i := 0; i < 50; i++ {
		rb.Append(protocol.StreamStdout, content)
	}

	stats := rb.GetStats()
	if stats.TotalSizeBytes > limits.MaxSize {
		t.Errorf("Buffer size %d exceeds max size %d", stats.TotalSizeBytes, limits.MaxSize)
	}
	if stats.EntryCount == 0 {
		t.Error("Expected some entries to survive eviction")
	}
}

func TestRingBuffer_TimeBasedEviction(t *testing.T) {
	rb := NewRingBuffer(100, DefaultLimits())
	defer rb.Close()

	now := time.Now()

	rb.Add(&LogEntry{
		Content:   "old message",
		Stream:    protocol.StreamStdout,
		Timestamp: now.Add(-rb.limits.MaxAge - time.Minute),
	})
	rb.Add(&LogEntry{
		Content:   "recent message",
		Stream:    protocol.StreamStdout,
		Timestamp: now,
	})

	rb.mutex.Lock()
	rb.evictByTimeUnsafe()
	rb.mutex.Unlock()

	entries, err := rb.Get(GetOptions{})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("Expected 1 entry after time-based eviction, got %d", len(entries))
	}
	if entries[0].Content != "recent message" {
		t.Errorf("Expected recent message to remain, got '%s'", entries[0].Content)
	}
}

func TestRingBuffer_Get(t *testing.T) {
	rb := NewRingBuffer(10, DefaultLimits())
	defer rb.Close()

	now := time.Now()

	entries := []*LogEntry{
		{Content: "INFO: starting up", Stream: protocol.StreamStdout, Timestamp: now.Add(-5 * time.Minute)},
		{Content: "ERROR: connection failed", Stream: protocol.StreamStderr, Timestamp: now.Add(-4 * time.Minute)},
		{Content: "DEBUG: processing request", Stream: protocol.StreamStdout, Timestamp: now.Add(-3 * time.Minute)},
		{Content: "INFO: retrying connection", Stream: protocol.StreamStdout, Timestamp: now.Add(-2 * time.Minute)},
		{Content: "ERROR: timeout occurred", Stream: protocol.StreamStderr, Timestamp: now.Add(-1 * time.Minute)},
	}

	for _, entry := range entries {
		rb.Add(entry)
	}

	result, err := rb.Get(GetOptions{})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(result) != 5 {
		t.Errorf("Expected 5 entries, got %d", len(result))
	}

	result, _ = rb.Get(GetOptions{Lines: 3})
	if len(result) != 3 {
		t.Errorf("Expected 3 entries with line limit, got %d", len(result))
	}

	since := now.Add(-3*time.Minute - 30*time.Second)
	result, _ = rb.Get(GetOptions{Since: since})
	if len(result) != 3 {
		t.Errorf("Expected 3 entries with since filter, got %d", len(result))
	}

	result, _ = rb.Get(GetOptions{Stream: string(protocol.StreamStderr)})
	if len(result) != 2 {
		t.Errorf("Expected 2 stderr entries, got %d", len(result))
	}

	result, _ = rb.Get(GetOptions{Pattern: "ERROR"})
	if len(result) != 2 {
		t.Errorf("Expected 2 entries matching ERROR pattern, got %d", len(result))
	}

	result, _ = rb.Get(GetOptions{
		Stream:  string(protocol.StreamStdout),
		Pattern: "INFO",
		Lines:   1,
	})
	if len(result) != 1 {
		t.Fatalf("Expected 1 entry with combined filters, got %d", len(result))
	}
	if result[0].Content != "INFO: retrying connection" {
		t.Errorf("Expected 'INFO: retrying connection', got '%s'", result[0].Content)
	}
}

func TestRingBuffer_Get_InvalidPattern(t *testing.T) {
	rb := NewRingBuffer(5, DefaultLimits())
	defer rb.Close()

	rb.Append(protocol.StreamStdout, "message")

	_, err := rb.Get(GetOptions{Pattern: "[invalid regex"})
	if err == nil {
		t.Error("Expected error for invalid regex pattern")
	}
}

func TestRingBuffer_GetStats(t *testing.T) {
	rb := NewRingBuffer(5, DefaultLimits())
	defer rb.Close()

	stats := rb.GetStats()
	if stats.EntryCount != 0 {
		t.Errorf("Expected 0 entries in empty buffer, got %d", stats.EntryCount)
	}
	if stats.TotalSizeBytes != 0 {
		t.Errorf("Expected 0 bytes in empty buffer, got %d", stats.TotalSizeBytes)
	}
	if stats.OldestTimestamp != nil {
		t.Error("Expected nil oldest timestamp for empty buffer")
	}
	if stats.NewestTimestamp != nil {
		t.Error("Expected nil newest timestamp for empty buffer")
	}

	now := time.Now()
	entry1 := &LogEntry{Content: "message 1", Stream: protocol.StreamStdout, Timestamp: now.Add(-1 * time.Minute)}
	entry2 := &LogEntry{Content: "message 2", Stream: protocol.StreamStdout, Timestamp: now}

	rb.Add(entry1)
	rb.Add(entry2)

	stats = rb.GetStats()
	if stats.EntryCount != 2 {
		t.Errorf("Expected 2 entries, got %d", stats.EntryCount)
	}
	if stats.TotalSizeBytes <= 0 {
		t.Error("Expected positive total size")
	}
	if stats.OldestTimestamp == nil || !stats.OldestTimestamp.Equal(entry1.Timestamp) {
		t.Error("Oldest timestamp doesn't match first entry")
	}
	if stats.NewestTimestamp == nil || !stats.NewestTimestamp.Equal(entry2.Timestamp) {
		t.Error("Newest timestamp doesn't match last entry")
	}
}

func TestRingBuffer_Clear(t *testing.T) {
	rb := NewRingBuffer(5, DefaultLimits())
	defer rb.Close()

	rb.Append(protocol.StreamStdout, "message")
	rb.Append(protocol.StreamStdout, "message")

	stats := rb.GetStats()
	if stats.EntryCount != 2 {
		t.Errorf("Expected 2 entries before clear, got %d", stats.EntryCount)
	}

	rb.Clear()

	stats = rb.GetStats()
	if stats.EntryCount != 0 {
		t.Errorf("Expected 0 entries after clear, got %d", stats.EntryCount)
	}
	if stats.TotalSizeBytes != 0 {
		t.Errorf("Expected 0 bytes after clear, got %d", stats.TotalSizeBytes)
	}
}

func TestRingBuffer_Close(t *testing.T) {
	rb := NewRingBuffer(5, DefaultLimits())

	rb.Append(protocol.StreamStdout, "message")

	done := make(chan bool, 1)
	go func() {
		rb.Close()
		done <- true
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Error("Close() did not complete within 5 seconds")
	}

	select {
	case <-rb.ctx.Done():
	default:
		t.Error("Context was not cancelled after Close()")
	}
}

func TestStats_String(t *testing.T) {
	emptyStats := Stats{}
	str := emptyStats.String()
	if str != "Ring buffer is empty" {
		t.Errorf("Expected empty buffer string, got '%s'", str)
	}

	now := time.Now()
	stats := Stats{
		EntryCount:      10,
		TotalSizeBytes:  2048,
		Capacity:        100,
		OldestTimestamp: &now,
		NewestTimestamp: &now,
	}

	str = stats.String()
	if !strings.Contains(str, "10/100 entries") {
		t.Errorf("String should contain entry count, got '%s'", str)
	}
	if !strings.Contains(str, "2048 bytes") {
		t.Errorf("String should contain byte count, got '%s'", str)
	}
}

func TestRingBuffer_ConcurrentAccess(t *testing.T) {
	rb := NewRingBuffer(100, DefaultLimits())
	defer rb.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	const numWriters = 5
	const numReaders = 3
	const entriesPerWriter = 100

	for i := 0; i < numWriters; i++ {
		go func(writerID int) {
			for j := 0; j < entriesPerWriter; j++ {
				select {
				case <-ctx.Done():
					return
				default:
					rb.Append(protocol.StreamStdout, fmt.Sprintf("writer-%d-entry-%d", writerID, j))
				}
			}
		}(i)
	}

	for i := 0; i < numReaders; i++ {
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				default:
					rb.Get(GetOptions{Lines: 10}) //nolint:errcheck
					rb.GetStats()
				}
			}
		}()
	}

	<-ctx.Done()

	stats := rb.GetStats()
	if stats.EntryCount < 0 || stats.EntryCount > rb.capacity {
		t.Errorf("Invalid entry count after concurrent access: %d", stats.EntryCount)
	}
}

func BenchmarkRingBuffer_Add(b *testing.B) {
	rb := NewRingBuffer(10000, DefaultLimits())
	defer rb.Close()

	entry := &LogEntry{
		Content:   "This is a benchmark log entry with some content",
		Stream:    protocol.StreamStdout,
		Timestamp: time.Now(),
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		rb.Add(entry)
	}
}

func BenchmarkRingBuffer_Get(b *testing.B) {
	rb := NewRingBuffer(10000, DefaultLimits())
	defer rb.Close()

	for i := 0; i < 1000; i++ {
		rb.Append(protocol.StreamStdout, fmt.Sprintf("Log entry %d", i))
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		rb.Get(GetOptions{Lines: 100}) //nolint:errcheck
	}
}
