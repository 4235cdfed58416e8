package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/gopm-io/gopm/internal/protocol"
)

// Client is the slice of the IPC client the dashboard needs.
type Client interface {
	List() ([]protocol.ProcessInfo, error)
	Status() (*protocol.DaemonStatus, error)
	Stop(name string) (string, error)
	Restart(name string) (*protocol.ProcessInfo, error)
}

type tickMsg time.Time

type refreshedMsg struct {
	infos  []protocol.ProcessInfo
	status *protocol.DaemonStatus
	err    error
}

type actionDoneMsg struct {
	message string
	err     error
}

func tickCmd(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func cmdRefresh(deps Client) tea.Cmd {
	return func() tea.Msg {
		infos, err := deps.List()
		if err != nil {
			return refreshedMsg{err: err}
		}
		status, err := deps.Status()
		if err != nil {
			return refreshedMsg{infos: infos, err: err}
		}
		return refreshedMsg{infos: infos, status: status}
	}
}

func cmdStop(deps Client, name string) tea.Cmd {
	return func() tea.Msg {
		msg, err := deps.Stop(name)
		return actionDoneMsg{message: msg, err: err}
	}
}

func cmdRestart(deps Client, name string) tea.Cmd {
	return func() tea.Msg {
		info, err := deps.Restart(name)
		if err != nil {
			return actionDoneMsg{err: err}
		}
		return actionDoneMsg{message: "Restarted '" + info.Name + "'"}
	}
}
