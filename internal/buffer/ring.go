// Package buffer provides the in-memory log store backing each managed
// process. Lines captured from a process's stdout and stderr land in a
// ring buffer with size and age limits, so recent output can be served
// without touching the log files on disk.
package buffer

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	ansi "github.com/leaanthony/go-ansi-parser"

	"github.com/gopm-io/gopm/internal/protocol"
)

const (
	// DefaultMaxSize is the default size limit of the ring buffer in bytes (5MB)
	DefaultMaxSize = 5 * 1024 * 1024

	// DefaultMaxAge is the default age limit of buffered entries (30 minutes)
	DefaultMaxAge = 30 * time.Minute

	// DefaultMaxLineSize is the default size limit of a single line (64KB)
	DefaultMaxLineSize = 64 * 1024

	// DefaultCleanupInterval is how often age-based eviction runs
	DefaultCleanupInterval = 30 * time.Second

	// DefaultCapacity is the default entry capacity of a buffer
	DefaultCapacity = 10000
)

// Limits bounds what a ring buffer may hold.
type Limits struct {
	MaxSize         int64         // Total size limit in bytes
	MaxAge          time.Duration // Entries older than this are evicted
	MaxLineSize     int           // Single lines are truncated to this
	CleanupInterval time.Duration // Cadence of the age eviction loop
}

// DefaultLimits returns the stock buffer limits.
func DefaultLimits() Limits {
	return Limits{
		MaxSize:         DefaultMaxSize,
		MaxAge:          DefaultMaxAge,
		MaxLineSize:     DefaultMaxLineSize,
		CleanupInterval: DefaultCleanupInterval,
	}
}

// LogEntry represents one captured output line
type LogEntry struct {
	Content   string
	Timestamp time.Time
	Stream    protocol.StreamType
}

// Size returns the approximate size of the log entry in bytes
func (e *LogEntry) Size() int {
	return len(e.Content) + len(string(e.Stream)) + 8 // +8 for timestamp
}

// Plain returns the entry content with ANSI escape sequences removed.
// Processes frequently emit colored output; filters match on the plain
// text so a pattern like "error" finds "\x1b[31merror\x1b[0m".
func (e *LogEntry) Plain() string {
	if !ansi.HasEscapeCodes(e.Content) {
		return e.Content
	}
	clean, err := ansi.Cleanse(e.Content)
	if err != nil {
		return e.Content
	}
	return clean
}

// Matches checks if the log entry passes the given filters
func (e *LogEntry) Matches(stream protocol.StreamType, pattern *regexp.Regexp) bool {
	if stream != "" && stream != protocol.StreamBoth && e.Stream != stream {
		return false
	}

	if pattern != nil && !pattern.MatchString(e.Plain()) {
		return false
	}

	return true
}

// ToProto converts the entry to its wire representation.
func (e *LogEntry) ToProto(name string) protocol.LogEntry {
	return protocol.LogEntry{
		Name:      name,
		Line:      e.Content,
		Stream:    e.Stream,
		Timestamp: e.Timestamp,
	}
}

// RingBuffer is a thread-safe ring buffer for log entries with size and time limits
type RingBuffer struct {
	mutex     sync.RWMutex
	entries   []*LogEntry
	head      int // Points to the next position to write
	tail      int // Points to the oldest entry
	size      int // Number of entries in the buffer
	capacity  int // Maximum number of entries
	totalSize int64
	limits    Limits
	ctx       context.Context
	cancel    context.CancelFunc
	cleanupWg sync.WaitGroup
}

// NewRingBuffer creates a new ring buffer with the specified capacity and limits
func NewRingBuffer(capacity int, limits Limits) *RingBuffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if limits.MaxSize <= 0 {
		limits.MaxSize = DefaultMaxSize
	}
	if limits.MaxAge <= 0 {
		limits.MaxAge = DefaultMaxAge
	}
	if limits.MaxLineSize <= 0 {
		limits.MaxLineSize = DefaultMaxLineSize
	}
	if limits.CleanupInterval <= 0 {
		limits.CleanupInterval = DefaultCleanupInterval
	}

	ctx, cancel := context.WithCancel(context.Background())

	rb := &RingBuffer{
		entries:  make([]*LogEntry, capacity),
		capacity: capacity,
		limits:   limits,
		ctx:      ctx,
		cancel:   cancel,
	}

	rb.cleanupWg.Add(1)
	go rb.backgroundCleanup()

	return rb
}

// NewDefaultRingBuffer creates a new ring buffer with default capacity and limits
func NewDefaultRingBuffer() *RingBuffer {
	return NewRingBuffer(DefaultCapacity, DefaultLimits())
}

// Append adds one output line to the buffer, truncating it if it
// exceeds the line size limit.
func (rb *RingBuffer) Append(stream protocol.StreamType, content string) {
	if len(content) > rb.limits.MaxLineSize {
		content = content[:rb.limits.MaxLineSize]
	}

	rb.Add(&LogEntry{
		Content:   content,
		Timestamp: time.Now(),
		Stream:    stream,
	})
}

// Add adds a new log entry to the ring buffer
func (rb *RingBuffer) Add(entry *LogEntry) {
	rb.mutex.Lock()
	defer rb.mutex.Unlock()

	rb.addUnsafe(entry)
	rb.evictBySizeUnsafe()
}

// addUnsafe adds an entry without locking (internal use)
func (rb *RingBuffer) addUnsafe(entry *LogEntry) {
	entrySize := int64(entry.Size())

	rb.entries[rb.head] = entry
	rb.head = (rb.head + 1) % rb.capacity
	rb.totalSize += entrySize

	// If buffer is full, advance tail
	if rb.size == rb.capacity {
		oldEntry := rb.entries[rb.tail]
		if oldEntry != nil {
			rb.totalSize -= int64(oldEntry.Size())
		}
		rb.tail = (rb.tail + 1) % rb.capacity
	} else {
		rb.size++
	}
}

// evictBySizeUnsafe evicts entries if the buffer exceeds the size limit
func (rb *RingBuffer) evictBySizeUnsafe() {
	for rb.totalSize > rb.limits.MaxSize && rb.size > 0 {
		oldEntry := rb.entries[rb.tail]
		if oldEntry != nil {
			rb.totalSize -= int64(oldEntry.Size())
		}
		rb.entries[rb.tail] = nil
		rb.tail = (rb.tail + 1) % rb.capacity
		rb.size--
	}
}

// evictByTimeUnsafe evicts entries that are older than the age limit
func (rb *RingBuffer) evictByTimeUnsafe() {
	cutoff := time.Now().Add(-rb.limits.MaxAge)

	for rb.size > 0 {
		entry := rb.entries[rb.tail]
		if entry == nil || entry.Timestamp.After(cutoff) {
			break
		}

		rb.totalSize -= int64(entry.Size())
		rb.entries[rb.tail] = nil
		rb.tail = (rb.tail + 1) % rb.capacity
		rb.size--
	}
}

// backgroundCleanup runs time-based eviction in the background
func (rb *RingBuffer) backgroundCleanup() {
	defer rb.cleanupWg.Done()

	ticker := time.NewTicker(rb.limits.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rb.ctx.Done():
			return
		case <-ticker.C:
			rb.mutex.Lock()
			rb.evictByTimeUnsafe()
			rb.mutex.Unlock()
		}
	}
}

// GetOptions represents options for retrieving log entries
type GetOptions struct {
	Lines   int       // Maximum number of lines to return (0 = no limit)
	Since   time.Time // Only return entries at or after this timestamp
	Stream  string    // Filter by stream type ("stdout", "stderr", "both", or "")
	Pattern string    // Regex pattern matched against plain content
}

// Get retrieves log entries in chronological order with optional filters.
// An invalid pattern is reported rather than silently matching nothing.
func (rb *RingBuffer) Get(opts GetOptions) ([]*LogEntry, error) {
	var pattern *regexp.Regexp
	if opts.Pattern != "" {
		var err error
		pattern, err = regexp.Compile(opts.Pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern: %w", err)
		}
	}

	rb.mutex.RLock()
	defer rb.mutex.RUnlock()

	var result []*LogEntry

	if rb.size == 0 {
		return result, nil
	}

	streamFilter := protocol.StreamType(opts.Stream)

	for _, entry := range rb.getAllEntriesUnsafe() {
		if !opts.Since.IsZero() && entry.Timestamp.Before(opts.Since) {
			continue
		}
		if entry.Matches(streamFilter, pattern) {
			result = append(result, entry)
		}
	}

	// Keep the newest N lines
	if opts.Lines > 0 && len(result) > opts.Lines {
		result = result[len(result)-opts.Lines:]
	}

	return result, nil
}

// getAllEntriesUnsafe returns all entries in chronological order without locking
func (rb *RingBuffer) getAllEntriesUnsafe() []*LogEntry {
	if rb.size == 0 {
		return nil
	}

	result := make([]*LogEntry, 0, rb.size)

	// Start from tail (oldest) and go to head (newest)
	for i := 0; i < rb.size; i++ {
		idx := (rb.tail + i) % rb.capacity
		if rb.entries[idx] != nil {
			result = append(result, rb.entries[idx])
		}
	}

	return result
}

// Stats represents statistics about the ring buffer
type Stats struct {
	EntryCount       int
	TotalSizeBytes   int64
	Capacity         int
	OldestTimestamp  *time.Time // nil if empty
	NewestTimestamp  *time.Time // nil if empty
	MemoryUsageBytes int64
}

// GetStats returns statistics about the ring buffer
func (rb *RingBuffer) GetStats() Stats {
	rb.mutex.RLock()
	defer rb.mutex.RUnlock()

	var oldestTimestamp, newestTimestamp *time.Time

	if rb.size > 0 {
		entries := rb.getAllEntriesUnsafe()
		if len(entries) > 0 {
			oldestTimestamp = &entries[0].Timestamp
			newestTimestamp = &entries[len(entries)-1].Timestamp
		}
	}

	return Stats{
		EntryCount:       rb.size,
		TotalSizeBytes:   rb.totalSize,
		Capacity:         rb.capacity,
		OldestTimestamp:  oldestTimestamp,
		NewestTimestamp:  newestTimestamp,
		MemoryUsageBytes: rb.totalSize,
	}
}

// String returns a human-readable string representation of the stats
func (s Stats) String() string {
	if s.EntryCount == 0 {
		return "Ring buffer is empty"
	}

	return fmt.Sprintf("Ring buffer: %d/%d entries, %d bytes, oldest: %v, newest: %v",
		s.EntryCount, s.Capacity, s.TotalSizeBytes,
		s.OldestTimestamp, s.NewestTimestamp)
}

// Clear removes all entries from the ring buffer
func (rb *RingBuffer) Clear() {
	rb.mutex.Lock()
	defer rb.mutex.Unlock()

	for i := 0; i < rb.capacity; i++ {
		rb.entries[i] = nil
	}

	rb.head = 0
	rb.tail = 0
	rb.size = 0
	rb.totalSize = 0
}

// Close stops the background cleanup goroutine and cleans up resources
func (rb *RingBuffer) Close() {
	rb.cancel()
	rb.cleanupWg.Wait()
}
