package client

import (
	"github.com/gopm-io/gopm/internal/errors"
	"github.com/gopm-io/gopm/internal/protocol"
)

// Start launches the processes described by spec and returns their
// infos, one per instance.
func (c *Client) Start(spec protocol.ProcessSpec) ([]protocol.ProcessInfo, error) {
	resp, err := c.do(protocol.NewStartRequest(spec))
	if err != nil {
		return nil, err
	}
	return resp.Processes, nil
}

// Stop stops a process and returns the daemon's confirmation message.
func (c *Client) Stop(name string) (string, error) {
	resp, err := c.do(protocol.NewRequest(protocol.ActionStop, name))
	if err != nil {
		return "", err
	}
	return resp.Message, nil
}

// Restart restarts a process and returns its fresh info.
func (c *Client) Restart(name string) (*protocol.ProcessInfo, error) {
	resp, err := c.do(protocol.NewRequest(protocol.ActionRestart, name))
	if err != nil {
		return nil, err
	}
	if resp.Process == nil {
		return nil, errors.InternalError(protocol.ErrorCodeInternalError,
			"restart response carried no process info", nil)
	}
	return resp.Process, nil
}

// Delete stops a process if needed and removes it from the registry.
func (c *Client) Delete(name string) (string, error) {
	resp, err := c.do(protocol.NewRequest(protocol.ActionDelete, name))
	if err != nil {
		return "", err
	}
	return resp.Message, nil
}

// List returns all managed processes sorted by name.
func (c *Client) List() ([]protocol.ProcessInfo, error) {
	resp, err := c.do(protocol.NewRequest(protocol.ActionList, ""))
	if err != nil {
		return nil, err
	}
	return resp.Processes, nil
}

// Info returns the current info for one process.
func (c *Client) Info(name string) (*protocol.ProcessInfo, error) {
	resp, err := c.do(protocol.NewRequest(protocol.ActionInfo, name))
	if err != nil {
		return nil, err
	}
	if resp.Process == nil {
		return nil, errors.InternalError(protocol.ErrorCodeInternalError,
			"info response carried no process info", nil)
	}
	return resp.Process, nil
}

// Logs fetches buffered log lines for a process.
func (c *Client) Logs(name string, query protocol.LogQuery) ([]protocol.LogEntry, error) {
	resp, err := c.do(protocol.NewLogsRequest(name, query))
	if err != nil {
		return nil, err
	}
	return resp.Logs, nil
}

// Follow subscribes to a process's live log stream. The handler runs on
// the read loop goroutine, so it must not block. The handler stays
// registered until Unfollow or Close.
func (c *Client) Follow(name string, stream protocol.StreamType, handler LogHandler) error {
	c.followMu.Lock()
	c.follows[name] = handler
	c.followMu.Unlock()

	if _, err := c.do(protocol.NewFollowRequest(name, stream)); err != nil {
		c.followMu.Lock()
		delete(c.follows, name)
		c.followMu.Unlock()
		return err
	}
	return nil
}

// Unfollow cancels a live log stream.
func (c *Client) Unfollow(name string) error {
	_, err := c.do(protocol.NewRequest(protocol.ActionUnfollow, name))

	c.followMu.Lock()
	delete(c.follows, name)
	c.followMu.Unlock()

	return err
}

// Save persists the current process list to the daemon's snapshot file.
func (c *Client) Save() (string, error) {
	resp, err := c.do(protocol.NewRequest(protocol.ActionSave, ""))
	if err != nil {
		return "", err
	}
	return resp.Message, nil
}

// Resurrect restores and starts the processes from the snapshot file.
func (c *Client) Resurrect() ([]protocol.ProcessInfo, error) {
	resp, err := c.do(protocol.NewRequest(protocol.ActionResurrect, ""))
	if err != nil {
		return nil, err
	}
	return resp.Processes, nil
}

// Status returns the daemon's own status block.
func (c *Client) Status() (*protocol.DaemonStatus, error) {
	resp, err := c.do(protocol.NewRequest(protocol.ActionStatus, ""))
	if err != nil {
		return nil, err
	}
	if resp.Daemon == nil {
		return nil, errors.InternalError(protocol.ErrorCodeInternalError,
			"status response carried no daemon info", nil)
	}
	return resp.Daemon, nil
}

// Shutdown asks the daemon to stop all processes and exit.
func (c *Client) Shutdown() (string, error) {
	resp, err := c.do(protocol.NewRequest(protocol.ActionShutdown, ""))
	if err != nil {
		return "", err
	}
	return resp.Message, nil
}
