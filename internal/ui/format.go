package ui

import (
	"fmt"

	"github.com/gopm-io/gopm/internal/protocol"
)

// StatusLabel returns the glyph-prefixed label for a status.
func StatusLabel(status protocol.ProcessStatus) string {
	switch status {
	case protocol.StatusRunning:
		return "●  running"
	case protocol.StatusStopped:
		return "○  stopped"
	case protocol.StatusErrored:
		return "✕  errored"
	case protocol.StatusRestarting:
		return "↻  restarting"
	default:
		return string(status)
	}
}

// FormatBytes renders a byte count in megabytes, switching to gigabytes
// past 1024MB.
func FormatBytes(bytes uint64) string {
	mb := float64(bytes) / 1024.0 / 1024.0
	if mb >= 1024.0 {
		return fmt.Sprintf("%.1fGB", mb/1024.0)
	}
	return fmt.Sprintf("%.1fMB", mb)
}

// FormatCPU renders a CPU percentage with one decimal.
func FormatCPU(cpu float64) string {
	return fmt.Sprintf("%.1f%%", cpu)
}

// FormatUptime renders seconds as the largest two useful units.
func FormatUptime(secs int64) string {
	if secs < 0 {
		secs = 0
	}
	days := secs / 86400
	hours := (secs % 86400) / 3600
	minutes := (secs % 3600) / 60
	seconds := secs % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh", days, hours)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}

// ShortID returns the first eight characters of a process id.
func ShortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
