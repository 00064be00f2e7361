//go:build !windows

package persist

import (
	"errors"
	"os"
	"syscall"
)

// ProcessAlive reports whether a process with the given pid exists.
func ProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}
