package commandrunner

import (
	"os/exec"

	"github.com/sa6mwa/leakrun/port"
)

// Runner executes commands with os/exec. It is the production implementation
// of port.CommandRunner.
type Runner struct{}

var _ port.CommandRunner = Runner{}

// Run starts cmd and waits for it to exit.
func (Runner) Run(cmd *exec.Cmd) error {
	return cmd.Run()
}

// Start launches cmd without waiting for it.
func (Runner) Start(cmd *exec.Cmd) error {
	return cmd.Start()
}

// Wait waits for a command launched by Start.
func (Runner) Wait(cmd *exec.Cmd) error {
	return cmd.Wait()
}

// Default is a shared instance of Runner.
var Default port.CommandRunner = Runner{}
