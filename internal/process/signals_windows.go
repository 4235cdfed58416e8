//go:build windows

package process

import (
	"os"
	"os/exec"
	"syscall"
)

// setProcessGroup starts the child in its own console process group.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP}
}

// terminateTree stops the direct child. Windows has no SIGTERM, so a
// graceful stop degrades to a hard kill.
func terminateTree(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Kill()
}

func killTree(pid int) error {
	return terminateTree(pid)
}

// lookupSignal resolves the signal names Windows can represent.
func lookupSignal(name string) (syscall.Signal, bool) {
	switch name {
	case "SIGTERM":
		return syscall.SIGTERM, true
	case "SIGKILL":
		return syscall.SIGKILL, true
	case "SIGINT":
		return syscall.SIGINT, true
	case "SIGHUP":
		return syscall.SIGHUP, true
	}
	return 0, false
}
