//go:build !windows

package process

import (
	"os/exec"
	"syscall"
)

// setProcessGroup makes the child the leader of a fresh process group
// so stop signals can reach everything it spawns.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// signalTree delivers sig to the child's process group, falling back
// to the child alone when the group is already gone.
func signalTree(pid int, sig syscall.Signal) error {
	if err := syscall.Kill(-pid, sig); err != syscall.ESRCH {
		return err
	}
	return syscall.Kill(pid, sig)
}

func terminateTree(pid int) error {
	return signalTree(pid, syscall.SIGTERM)
}

func killTree(pid int) error {
	return signalTree(pid, syscall.SIGKILL)
}

// lookupSignal resolves a symbolic signal name to the signal it names.
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
	case "SIGUSR1":
		return syscall.SIGUSR1, true
	case "SIGUSR2":
		return syscall.SIGUSR2, true
	}
	return 0, false
}
