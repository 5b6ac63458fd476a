//go:build unix

package leakrun

import (
	"errors"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// execDenied are the errnos the kernel returns when it refuses to exec a
// path, e.g. a memfd on a noexec /proc or under an LSM policy.
var execDenied = []error{unix.EACCES, unix.EPERM}

func isPermissionErr(err error) bool {
	for _, errno := range execDenied {
		if errors.Is(err, errno) {
			return true
		}
	}
	return false
}

// signalFrom names the signal that terminated the process, or returns the
// empty string. The state is used rather than the wait error because Wait
// reports ctx.Err() for commands killed through their context.
func signalFrom(state *os.ProcessState) string {
	if state == nil {
		return ""
	}
	ws, ok := state.Sys().(syscall.WaitStatus)
	if !ok || !ws.Signaled() {
		return ""
	}
	if name := unix.SignalName(ws.Signal()); name != "" {
		return name
	}
	return ws.Signal().String()
}
