package leakrun

import (
	"context"
	"fmt"
	"os/exec"
	"slices"
	"strings"
)

// DefaultExecutable is the scanner looked up in PATH when no other executable
// or payload is configured.
const DefaultExecutable = "gitleaks"

// IOMode selects what happens to the scanner's stdout and stderr.
type IOMode int

const (
	// Inherit forwards the scanner's output to the configured writers.
	Inherit IOMode = iota
	// Captured buffers the scanner's combined output; it is only surfaced
	// when the run fails.
	Captured
)

func (m IOMode) String() string {
	switch m {
	case Inherit:
		return "inherit"
	case Captured:
		return "captured"
	default:
		return fmt.Sprintf("iomode(%d)", m)
	}
}

// Descriptor describes a single scanner invocation. It is a value type;
// Arguments returns a copy so a Descriptor cannot be changed once built.
type Descriptor struct {
	Executable string
	args       []string
	Dir        string
	IOMode     IOMode
}

// NewDescriptor builds the gitleaks command line for scanning targetDirectory
// with the rules at rulesPath, writing the report to reportPath.
func NewDescriptor(executable, targetDirectory, reportPath, rulesPath string, mode IOMode) Descriptor {
	return Descriptor{
		Executable: executable,
		args: []string{
			"dir", targetDirectory,
			"--report-path=" + reportPath,
			"--no-banner",
			"--config=" + rulesPath,
		},
		Dir:    targetDirectory,
		IOMode: mode,
	}
}

// Arguments returns the command-line arguments, excluding the executable.
func (d Descriptor) Arguments() []string {
	return slices.Clone(d.args)
}

// String renders the command line for tracing.
func (d Descriptor) String() string {
	parts := make([]string, 0, len(d.args)+1)
	parts = append(parts, d.Executable)
	parts = append(parts, d.args...)
	return strings.Join(parts, " ")
}

// Command returns an *exec.Cmd for the descriptor. Streams are left unset;
// the runner wires them according to IOMode.
func (d Descriptor) Command(ctx context.Context) *exec.Cmd {
	if ctx == nil {
		ctx = context.Background()
	}
	cmd := exec.CommandContext(ctx, d.Executable, d.args...)
	cmd.Dir = d.Dir
	return cmd
}
