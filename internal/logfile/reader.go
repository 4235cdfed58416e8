package logfile

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
)

// readChunkSize is how much of the file tail is read per step when
// scanning backwards for line boundaries.
const readChunkSize = 32 * 1024

// ReadLastLines returns the last n lines of the file at path, oldest
// first. A missing file yields no lines rather than an error, matching
// a process that has not produced output yet.
func ReadLastLines(path string, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}

	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat log file: %w", err)
	}

	size := info.Size()
	if size == 0 {
		return nil, nil
	}

	// Read fixed chunks from the end until enough newlines are seen.
	// n lines are bounded by n+1 newline boundaries.
	var (
		tail     []byte
		offset   = size
		newlines int
		buf      = make([]byte, readChunkSize)
	)

	for offset > 0 && newlines < n+1 {
		chunk := int64(readChunkSize)
		if offset < chunk {
			chunk = offset
		}
		offset -= chunk

		if _, err := file.ReadAt(buf[:chunk], offset); err != nil && err != io.EOF {
			return nil, fmt.Errorf("failed to read log file: %w", err)
		}

		newlines += bytes.Count(buf[:chunk], []byte{'\n'})
		tail = append(append([]byte{}, buf[:chunk]...), tail...)
	}

	text := strings.TrimSuffix(string(tail), "\n")
	if text == "" {
		return nil, nil
	}

	lines := strings.Split(text, "\n")

	// When the scan stopped mid-file the first element is a partial
	// line carried over from the unread part.
	if offset > 0 && len(lines) > 0 {
		lines = lines[1:]
	}

	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}

	return lines, nil
}
