package leakrun

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/sa6mwa/leakrun/adapters/commandcapture"
	"github.com/sa6mwa/leakrun/port"
)

// exitStatus is what is observed once a command has finished.
type exitStatus struct {
	ExitCode int
	Signal   string
	Err      error
	Output   []byte
}

// RunCommand executes cmd using the supplied runner. When captured is true
// stdout and stderr are collected into a shared buffer and returned as a copy.
// Otherwise the command's configured streams are left alone and the returned
// output is nil.
func RunCommand(runner port.CommandRunner, cmd *exec.Cmd, captured bool) ([]byte, error) {
	status, err := runCommand(runner, cmd, captured)
	if err != nil {
		return nil, err
	}
	return status.Output, status.Err
}

func runCommand(runner port.CommandRunner, cmd *exec.Cmd, captured bool) (exitStatus, error) {
	if runner == nil {
		return exitStatus{}, ERR_NIL_RUNNER
	}
	capture, err := newCommandCapture(cmd, captured)
	if err != nil {
		return exitStatus{}, err
	}
	runErr := runner.Run(cmd)
	return exitStatus{
		ExitCode: exitCodeFrom(runErr, cmd.ProcessState),
		Signal:   signalFrom(cmd.ProcessState),
		Err:      runErr,
		Output:   capture.Finish(),
	}, nil
}

// StartCommand starts cmd using the supplied runner while optionally capturing
// combined stdout/stderr. The returned CommandCapture must later be passed to
// WaitCommand to release it.
func StartCommand(runner port.CommandRunner, cmd *exec.Cmd, captured bool) (port.CommandCapture, error) {
	if runner == nil {
		return nil, ERR_NIL_RUNNER
	}
	capture, err := newCommandCapture(cmd, captured)
	if err != nil {
		return nil, err
	}
	if err := runner.Start(cmd); err != nil {
		capture.Restore()
		return nil, err
	}
	return capture, nil
}

// WaitCommand waits for a command started with StartCommand and reports its
// exit code, error and any captured output.
func WaitCommand(runner port.CommandRunner, cmd *exec.Cmd, capture port.CommandCapture) exitStatus {
	err := runner.Wait(cmd)
	status := exitStatus{
		ExitCode: exitCodeFrom(err, cmd.ProcessState),
		Signal:   signalFrom(cmd.ProcessState),
		Err:      err,
	}
	if capture != nil {
		status.Output = capture.Finish()
	}
	return status
}

func newCommandCapture(cmd *exec.Cmd, captured bool) (port.CommandCapture, error) {
	capture := commandcapture.New()
	if !captured {
		return capture, nil
	}
	if cmd == nil {
		return nil, fmt.Errorf("nil command")
	}
	if cmd.Stdout != nil || cmd.Stderr != nil {
		return nil, fmt.Errorf("captured output requested with configured stdout or stderr")
	}
	buf := &bytes.Buffer{}
	buf.Grow(512)
	origStdout, origStderr := cmd.Stdout, cmd.Stderr
	cmd.Stdout = buf
	cmd.Stderr = buf
	capture.Enable(buf, func() {
		cmd.Stdout = origStdout
		cmd.Stderr = origStderr
	})
	return capture, nil
}

// exitCodeFrom prefers the process state, then any port.ExitCoder in the
// error chain. -1 means the process did not report an exit code.
func exitCodeFrom(waitErr error, state *os.ProcessState) int {
	if state != nil {
		return state.ExitCode()
	}
	if waitErr == nil {
		return 0
	}
	var coder port.ExitCoder
	if errors.As(waitErr, &coder) {
		return coder.ExitCode()
	}
	return -1
}
