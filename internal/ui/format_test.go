package ui

import (
	"testing"

	"github.com/gopm-io/gopm/internal/protocol"
)

// TestFormatBytes verifies the MB/GB rendering bands.
func TestFormatBytes(t *testing.T) {
	tests := []struct {
		bytes uint64
		want  string
	}{
		{0, "0.0MB"},
		{512 * 1024, "0.5MB"},
		{100 * 1024 * 1024, "100.0MB"},
		{1024 * 1024 * 1024, "1.0GB"},
		{1536 * 1024 * 1024, "1.5GB"},
	}

	for _, tt := range tests {
		if got := FormatBytes(tt.bytes); got != tt.want {
			t.Errorf("FormatBytes(%d) = %q, want %q", tt.bytes, got, tt.want)
		}
	}
}

// TestFormatUptime verifies unit selection at the band boundaries.
func TestFormatUptime(t *testing.T) {
	tests := []struct {
		secs int64
		want string
	}{
		{-5, "0s"},
		{0, "0s"},
		{59, "59s"},
		{60, "1m 0s"},
		{3599, "59m 59s"},
		{3600, "1h 0m"},
		{86399, "23h 59m"},
		{86400, "1d 0h"},
		{90061, "1d 1h"},
	}

	for _, tt := range tests {
		if got := FormatUptime(tt.secs); got != tt.want {
			t.Errorf("FormatUptime(%d) = %q, want %q", tt.secs, got, tt.want)
		}
	}
}

// TestFormatCPU verifies one-decimal percent rendering.
func TestFormatCPU(t *testing.T) {
	if got := FormatCPU(0); got != "0.0%" {
		t.Errorf("FormatCPU(0) = %q, want 0.0%%", got)
	}
	if got := FormatCPU(12.34); got != "12.3%" {
		t.Errorf("FormatCPU(12.34) = %q, want 12.3%%", got)
	}
}

// TestShortID verifies truncation to eight characters.
func TestShortID(t *testing.T) {
	if got := ShortID("0123456789abcdef"); got != "01234567" {
		t.Errorf("Expected 01234567, got %q", got)
	}
	if got := ShortID("abc"); got != "abc" {
		t.Errorf("Expected abc unchanged, got %q", got)
	}
}

// TestStatusLabel verifies each status keeps its glyph.
func TestStatusLabel(t *testing.T) {
	tests := []struct {
		status protocol.ProcessStatus
		want   string
	}{
		{protocol.StatusRunning, "●  running"},
		{protocol.StatusStopped, "○  stopped"},
		{protocol.StatusErrored, "✕  errored"},
		{protocol.StatusRestarting, "↻  restarting"},
	}

	for _, tt := range tests {
		if got := StatusLabel(tt.status); got != tt.want {
			t.Errorf("StatusLabel(%s) = %q, want %q", tt.status, got, tt.want)
		}
	}
}
