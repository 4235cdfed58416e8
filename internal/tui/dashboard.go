// Package tui implements the live monitor dashboard behind
// `gopm monitor`: a polling process table with stop/restart keys.
package tui

import (
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/gopm-io/gopm/internal/protocol"
	"github.com/gopm-io/gopm/internal/ui"
)

// refreshInterval is how often the dashboard polls the daemon.
const refreshInterval = time.Second

type model struct {
	deps  Client
	theme ui.Theme

	table   table.Model
	spinner spinner.Model

	infos      []protocol.ProcessInfo
	status     *protocol.DaemonStatus
	loaded     bool
	statusline string
	lastErr    error

	width  int
	height int
}

// Run starts the dashboard and blocks until the user quits.
func Run(deps Client) error {
	p := tea.NewProgram(newModel(deps), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

func newModel(deps Client) model {
	theme := ui.DefaultTheme()

	columns := []table.Column{
		{Title: "NAME", Width: 20},
		{Title: "STATUS", Width: 15},
		{Title: "PID", Width: 8},
		{Title: "CPU", Width: 8},
		{Title: "MEMORY", Width: 10},
		{Title: "RESTARTS", Width: 9},
		{Title: "UPTIME", Width: 10},
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(12),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		Bold(true).
		Foreground(lipgloss.Color("6")).
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("8")).
		BorderBottom(true)
	styles.Selected = styles.Selected.
		Foreground(lipgloss.Color("0")).
		Background(lipgloss.Color("6")).
		Bold(true)
	t.SetStyles(styles)

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))

	return model{
		deps:    deps,
		theme:   theme,
		table:   t,
		spinner: sp,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, cmdRefresh(m.deps), tickCmd(refreshInterval))
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		height := msg.Height - 10
		if height < 3 {
			height = 3
		}
		m.table.SetHeight(height)
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit

		case "s":
			if name := m.selectedName(); name != "" {
				m.statusline = "Stopping '" + name + "'..."
				return m, cmdStop(m.deps, name)
			}
			return m, nil

		case "r":
			if name := m.selectedName(); name != "" {
				m.statusline = "Restarting '" + name + "'..."
				return m, cmdRestart(m.deps, name)
			}
			return m, nil
		}

	case tickMsg:
		return m, tea.Batch(cmdRefresh(m.deps), tickCmd(refreshInterval))

	case refreshedMsg:
		m.loaded = true
		m.lastErr = msg.err
		if msg.err == nil {
			m.infos = msg.infos
			m.status = msg.status
			m.table.SetRows(rowsFor(msg.infos))
		}
		return m, nil

	case actionDoneMsg:
		if msg.err != nil {
			m.statusline = "Error: " + msg.err.Error()
		} else {
			m.statusline = msg.message
		}
		return m, cmdRefresh(m.deps)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m model) View() string {
	wrap := lipgloss.NewStyle().Padding(1, 2)

	header := m.theme.Header.Render("gopm monitor")
	summary := m.summaryLine()

	var body string
	if !m.loaded {
		body = m.spinner.View() + " connecting to daemon..."
	} else if m.lastErr != nil {
		body = m.theme.Bad.Render("daemon unreachable: " + m.lastErr.Error())
	} else if len(m.infos) == 0 {
		body = m.theme.Warning.Render("No processes running")
	} else {
		body = m.table.View()
	}

	help := m.theme.Muted.Render("↑/↓ select • s stop • r restart • q quit")

	out := header + "\n" + summary + "\n\n" + body + "\n"
	if m.statusline != "" {
		out += "\n" + m.theme.Accent.Render(m.statusline)
	}
	out += "\n" + help
	return wrap.Render(out)
}

// summaryLine renders the daemon counters under the title.
func (m model) summaryLine() string {
	if m.status == nil {
		return m.theme.Muted.Render("daemon: connecting")
	}
	counts := m.status.Processes
	return m.theme.Muted.Render(fmt.Sprintf(
		"daemon v%s up %s • %d running / %d total • %d clients",
		m.status.Version,
		ui.FormatUptime(m.status.UptimeSecs),
		counts.Running,
		counts.Total,
		m.status.Connections))
}

// selectedName returns the process name of the highlighted row.
func (m model) selectedName() string {
	row := m.table.SelectedRow()
	if len(row) == 0 {
		return ""
	}
	return row[0]
}

// rowsFor converts process infos to table rows.
func rowsFor(infos []protocol.ProcessInfo) []table.Row {
	rows := make([]table.Row, 0, len(infos))
	for _, info := range infos {
		pid := ""
		if info.PID > 0 {
			pid = strconv.Itoa(info.PID)
		}
		rows = append(rows, table.Row{
			info.Name,
			ui.StatusLabel(info.Status),
			pid,
			ui.FormatCPU(info.CPU),
			ui.FormatBytes(info.Memory),
			strconv.Itoa(info.Restarts),
			ui.FormatUptime(info.UptimeSecs),
		})
	}
	return rows
}
