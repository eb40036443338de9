//go:build windows

package cli

import (
	"os"
	"os/exec"
)

// setSysProcAttr is a no-op on Windows; run the server under a service
// wrapper for detached operation.
func setSysProcAttr(cmd *exec.Cmd) {}

// isProcessRunning reports whether a process with the given PID is alive.
// FindProcess opens a handle on Windows and fails for unknown PIDs.
func isProcessRunning(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	proc.Release()
	return true
}

// stopProcess kills the process; Windows has no SIGTERM.
func stopProcess(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Kill()
}
