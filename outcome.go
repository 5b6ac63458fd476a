package leakrun

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sa6mwa/leakrun/port"
)

// Outcome is the classification of a scanner run that completed normally.
// Runs that did not complete normally are reported as a *LaunchError instead.
type Outcome int

const (
	Clean Outcome = iota
	FindingsDetected
)

func (o Outcome) String() string {
	switch o {
	case Clean:
		return "clean"
	case FindingsDetected:
		return "findings"
	default:
		return fmt.Sprintf("outcome(%d)", o)
	}
}

// Exit codes documented by gitleaks. Any other code is a failure of the tool
// itself, not a scan result.
const (
	ExitCodeClean    = 0
	ExitCodeFindings = 1
)

// LaunchError reports a scanner that could not be started, was killed, or
// exited with a code outside the gitleaks convention.
type LaunchError struct {
	Descriptor Descriptor
	// ExitCode is -1 when the process never produced one.
	ExitCode int
	// Signal names the terminating signal, if any.
	Signal string
	// Output holds the combined stdout/stderr captured in Captured mode.
	Output []byte
	Err    error
}

func (e *LaunchError) Error() string {
	if e == nil {
		return "<nil>"
	}
	var b strings.Builder
	b.WriteString("leakrun: ")
	b.WriteString(e.Descriptor.Executable)
	switch {
	case e.Signal != "":
		fmt.Fprintf(&b, " killed by %s", e.Signal)
	case e.ExitCode >= 0:
		fmt.Fprintf(&b, " exited with code %d", e.ExitCode)
	default:
		b.WriteString(" failed to run")
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}

func (e *LaunchError) Is(target error) bool {
	return target == ErrLaunchFailed
}

func launchFailure(desc Descriptor, err error) *LaunchError {
	return &LaunchError{Descriptor: desc, ExitCode: -1, Err: err}
}

// classify maps the result of waiting on the scanner to an Outcome. This is
// the only place that knows the exit code convention.
func classify(desc Descriptor, status exitStatus) (Outcome, error) {
	if status.Err == nil && status.ExitCode == ExitCodeClean {
		return Clean, nil
	}
	if status.ExitCode == ExitCodeFindings && isExitStatus(status.Err) {
		return FindingsDetected, nil
	}
	lerr := &LaunchError{
		Descriptor: desc,
		ExitCode:   status.ExitCode,
		Signal:     status.Signal,
		Output:     status.Output,
		Err:        status.Err,
	}
	if status.Err == nil {
		lerr.Err = fmt.Errorf("unexpected exit code %d", status.ExitCode)
	}
	return 0, lerr
}

// isExitStatus reports whether err only says the process exited non-zero, as
// opposed to a failure to start or wait on it.
func isExitStatus(err error) bool {
	var coder port.ExitCoder
	return errors.As(err, &coder)
}
