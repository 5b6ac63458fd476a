package port

import (
	"os/exec"
)

// CommandRunner abstracts command execution so the scanner invocation can be
// exercised without depending on a specific adapter implementation. Run
// blocks until the command exits. Start returns once the command has been
// launched and Wait must then be called exactly once on the same runner.
type CommandRunner interface {
	Run(cmd *exec.Cmd) error
	Start(cmd *exec.Cmd) error
	Wait(cmd *exec.Cmd) error
}

// ExitCoder is implemented by errors that carry a process exit code, such as
// *exec.ExitError.
type ExitCoder interface {
	ExitCode() int
}
