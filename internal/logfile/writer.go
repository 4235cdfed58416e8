// Package logfile manages the persisted log files of managed processes.
//
// Every process gets an append-only log file under the configured log
// directory. Files rotate once they reach the size limit (a single .1
// generation is kept) and rotated files older than the retention period
// are swept away. The reader side serves historical lines when the
// daemon's in-memory buffer is gone, and a Tailer follows live appends
// for offline log following.
package logfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// RotatedSuffix is appended to a log file name when it rotates.
const RotatedSuffix = ".1"

// PathFor returns the log file path for a process name.
func PathFor(dir, name string) string {
	return filepath.Join(dir, name+".log")
}

// Writer appends process output lines to a log file, rotating it when
// it grows past maxSize bytes.
type Writer struct {
	mu      sync.Mutex
	path    string
	file    *os.File
	size    int64
	maxSize int64
}

// NewWriter opens (or creates) the log file for a process.
// A maxSize of zero disables rotation.
func NewWriter(dir, name string, maxSize int64) (*Writer, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	path := PathFor(dir, name)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat log file: %w", err)
	}

	return &Writer{
		path:    path,
		file:    file,
		size:    info.Size(),
		maxSize: maxSize,
	}, nil
}

// WriteLine appends one line, rotating first if the file is full.
func (w *Writer) WriteLine(line string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return fmt.Errorf("log file is closed")
	}

	if w.maxSize > 0 && w.size+int64(len(line))+1 > w.maxSize && w.size > 0 {
		if err := w.rotate(); err != nil {
			return err
		}
	}

	n, err := fmt.Fprintln(w.file, line)
	if err != nil {
		return fmt.Errorf("failed to write log line: %w", err)
	}
	w.size += int64(n)
	return nil
}

// rotate moves the current file aside and starts a fresh one.
// Only one rotated generation is kept.
func (w *Writer) rotate() error {
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("failed to close log file for rotation: %w", err)
	}

	if err := os.Rename(w.path, w.path+RotatedSuffix); err != nil {
		return fmt.Errorf("failed to rotate log file: %w", err)
	}

	file, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to reopen log file after rotation: %w", err)
	}

	w.file = file
	w.size = 0
	return nil
}

// Path returns the path of the active log file.
func (w *Writer) Path() string {
	return w.path
}

// Size returns the current size of the active log file in bytes.
func (w *Writer) Size() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.size
}

// Close flushes and closes the underlying file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

// SweepRetention removes rotated log files in dir whose modification
// time is older than maxAge. Active log files are never touched.
// It returns the number of files removed.
func SweepRetention(dir string, maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read log directory: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".log"+RotatedSuffix) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(dir, entry.Name())); err == nil {
				removed++
			}
		}
	}

	return removed, nil
}
