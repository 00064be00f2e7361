//go:build windows

package persist

import "os"

// ProcessAlive reports whether a process with the given pid exists.
func ProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	_ = proc.Release()
	return true
}
