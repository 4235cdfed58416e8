package ui

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/gopm-io/gopm/internal/protocol"
)

// ProcessTable renders the process list as a bordered table.
func (r *Renderer) ProcessTable(infos []protocol.ProcessInfo) string {
	if len(infos) == 0 {
		return r.theme.Warning.Render("No processes running")
	}

	rows := make([][]string, 0, len(infos))
	for _, info := range infos {
		rows = append(rows, []string{
			info.Name,
			ShortID(info.ID),
			StatusLabel(info.Status),
			FormatCPU(info.CPU),
			FormatBytes(info.Memory),
			strconv.Itoa(info.Restarts),
			FormatUptime(info.UptimeSecs),
		})
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(r.theme.Border).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return r.theme.Header.Padding(0, 1)
			}
			style := r.theme.Cell
			if row >= 0 && row < len(infos) {
				info := infos[row]
				switch col {
				case 1:
					style = r.theme.Muted
				case 2:
					style = r.statusStyle(info.Status)
				case 3:
					style = r.cpuStyle(info.CPU)
				case 4:
					style = r.memoryStyle(info.Memory)
				case 5:
					if info.Restarts > 0 {
						style = r.theme.Warning
					} else {
						style = r.theme.Muted
					}
				}
			}
			return style.Padding(0, 1)
		}).
		Headers("NAME", "ID", "STATUS", "CPU", "MEMORY", "RESTARTS", "UPTIME").
		Rows(rows...)

	return t.String()
}

// ProcessDetails renders the full info block shown by `gopm show`.
func (r *Renderer) ProcessDetails(info *protocol.ProcessInfo) string {
	var b strings.Builder

	b.WriteString(r.Header("Process Information"))

	pid := "N/A"
	if info.PID > 0 {
		pid = strconv.Itoa(info.PID)
	}
	started := "N/A"
	if info.StartedAt != nil {
		started = info.StartedAt.UTC().Format("2006-01-02 15:04:05 UTC")
	}

	r.row(&b, "Name:", info.Name)
	r.row(&b, "ID:", info.ID)
	r.styledRow(&b, "Status:", StatusLabel(info.Status), r.statusStyle(info.Status))
	r.row(&b, "PID:", pid)
	r.styledRow(&b, "CPU:", FormatCPU(info.CPU), r.cpuStyle(info.CPU))
	r.styledRow(&b, "Memory:", FormatBytes(info.Memory), r.memoryStyle(info.Memory))
	r.row(&b, "Command:", info.Command)
	r.row(&b, "Started:", started)
	r.row(&b, "Restarts:", strconv.Itoa(info.Restarts))
	r.row(&b, "Uptime:", FormatUptime(info.UptimeSecs))

	if info.Cwd != "" {
		r.row(&b, "Directory:", info.Cwd)
	}
	autorestart := "off"
	if info.Autorestart {
		autorestart = "on"
	}
	r.row(&b, "Autorestart:", autorestart)
	if info.MaxMemory > 0 {
		r.row(&b, "Max memory:", FormatBytes(uint64(info.MaxMemory)))
	}
	if info.LogFile != "" {
		r.row(&b, "Log file:", info.LogFile)
	}
	if info.ExitCode != nil {
		r.row(&b, "Exit code:", strconv.Itoa(*info.ExitCode))
	}

	return b.String()
}

// DaemonStatusBlock renders the `gopm status` output.
func (r *Renderer) DaemonStatusBlock(status *protocol.DaemonStatus) string {
	var b strings.Builder

	b.WriteString(r.Header("Daemon Status"))

	counts := status.Processes
	r.row(&b, "Version:", status.Version)
	r.row(&b, "PID:", strconv.Itoa(status.PID))
	r.row(&b, "Started:", status.StartedAt.UTC().Format("2006-01-02 15:04:05 UTC"))
	r.row(&b, "Uptime:", FormatUptime(status.UptimeSecs))
	r.row(&b, "Processes:", fmt.Sprintf("%d running, %d stopped, %d errored, %d restarting (%d total)",
		counts.Running, counts.Stopped, counts.Errored, counts.Restarting, counts.Total))
	r.row(&b, "Clients:", strconv.Itoa(status.Connections))
	r.row(&b, "Log buffer:", fmt.Sprintf("%d lines (%s)",
		status.BufferedLines, FormatBytes(uint64(status.BufferedBytes))))
	r.row(&b, "Requests:", fmt.Sprintf("%d handled, %d failed",
		status.RequestsHandled, status.RequestErrors))

	return b.String()
}

// EnvBlock renders a spec's environment variables, sorted by key.
func (r *Renderer) EnvBlock(env map[string]string) string {
	if len(env) == 0 {
		return ""
	}

	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(r.theme.Label.Render("Environment:"))
	b.WriteString("\n")
	for _, k := range keys {
		fmt.Fprintf(&b, "  %s: %s\n", r.theme.Accent.Render(k), env[k])
	}
	return b.String()
}

// LogLine renders one log line with a muted timestamp. Stderr lines are
// colored red; name is omitted when empty.
func (r *Renderer) LogLine(name string, stream protocol.StreamType, ts time.Time, line string) string {
	rendered := line
	if stream == protocol.StreamStderr {
		rendered = r.theme.Bad.Render(line)
	}

	stamp := r.theme.Muted.Render(ts.Format("15:04:05"))
	if name == "" {
		return fmt.Sprintf("%s | %s", stamp, rendered)
	}
	return fmt.Sprintf("%s %s | %s", stamp, r.theme.Accent.Render(name), rendered)
}

// Header renders a title between double-line borders.
func (r *Renderer) Header(title string) string {
	border := strings.Repeat("═", len([]rune(title))+4)
	return fmt.Sprintf("%s\n  %s\n%s\n",
		r.theme.Accent.Render(border),
		r.theme.Header.Render(title),
		r.theme.Accent.Render(border))
}

func (r *Renderer) row(b *strings.Builder, label, value string) {
	fmt.Fprintf(b, "%s %s\n", r.theme.Label.Render(fmt.Sprintf("%-12s", label)), value)
}

func (r *Renderer) styledRow(b *strings.Builder, label, value string, style lipgloss.Style) {
	r.row(b, label, style.Render(value))
}
