package port

import (
	"context"
	"io"
	"os/exec"
)

// Executable is an embedded scanner payload materialized on the local system.
// Name returns a path that can be passed to exec.Command. Run executes cmd,
// which must point at Name, and may transparently retry from another location
// when the first one cannot be executed.
type Executable interface {
	io.Closer
	Name() string
	IsMemfd() bool
	Digest() ([32]byte, string)
	Run(ctx context.Context, runner CommandRunner, cmd *exec.Cmd) error
	Start(ctx context.Context, runner CommandRunner, cmd *exec.Cmd) (*exec.Cmd, error)
}
