package mockrunner

import (
	"errors"
	"fmt"
	"os/exec"
	"slices"
	"sync"

	"github.com/sa6mwa/leakrun/port"
)

// Behavior represents a single command execution path for the mock runner.
// Returning an *ExitError simulates a process that ran and exited non-zero;
// any other error simulates a launch failure.
type Behavior func(cmd *exec.Cmd) error

// ExitError is returned by behaviors to report a process exit code. It
// satisfies port.ExitCoder the same way *exec.ExitError does.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

func (e *ExitError) ExitCode() int {
	return e.Code
}

var _ port.ExitCoder = (*ExitError)(nil)

// Exit returns a Behavior that exits with code; zero yields a nil error.
func Exit(code int) Behavior {
	return func(*exec.Cmd) error {
		if code == 0 {
			return nil
		}
		return &ExitError{Code: code}
	}
}

// Write returns a Behavior that writes output to the command's stdout before
// exiting with code.
func Write(output string, code int) Behavior {
	return func(cmd *exec.Cmd) error {
		if cmd.Stdout != nil {
			if _, err := cmd.Stdout.Write([]byte(output)); err != nil {
				return err
			}
		}
		return Exit(code)(cmd)
	}
}

// Runner is a thread-safe mock implementation of port.CommandRunner. When all
// behaviors are consumed, further calls succeed with a nil error.
type Runner struct {
	mu        sync.Mutex
	behaviors []Behavior
	started   map[*exec.Cmd]error
	Calls     int
	Paths     []string
	Args      [][]string
	Dirs      []string
}

var _ port.CommandRunner = (*Runner)(nil)

// New constructs a Runner that will invoke behaviors sequentially for each call.
func New(behaviors ...Behavior) *Runner {
	return &Runner{
		behaviors: slices.Clone(behaviors),
		started:   make(map[*exec.Cmd]error),
	}
}

// Repeat constructs a Runner whose every call follows behavior.
func Repeat(behavior Behavior, n int) *Runner {
	behaviors := make([]Behavior, n)
	for i := range behaviors {
		behaviors[i] = behavior
	}
	return New(behaviors...)
}

// Run records the call metadata and dispatches to the next behavior.
func (r *Runner) Run(cmd *exec.Cmd) error {
	behavior := r.next(cmd)
	if behavior == nil {
		return nil
	}
	return behavior(cmd)
}

// Start records the call and runs the next behavior immediately. Launch
// failures are returned from Start; exit results are held for the matching
// Wait.
func (r *Runner) Start(cmd *exec.Cmd) error {
	behavior := r.next(cmd)
	var err error
	if behavior != nil {
		err = behavior(cmd)
	}
	var coder port.ExitCoder
	if err != nil && !errors.As(err, &coder) {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started[cmd] = err
	return nil
}

// Wait returns the result recorded by Start for cmd.
func (r *Runner) Wait(cmd *exec.Cmd) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	err, ok := r.started[cmd]
	if !ok {
		return fmt.Errorf("mockrunner: wait on command that was not started")
	}
	delete(r.started, cmd)
	return err
}

func (r *Runner) next(cmd *exec.Cmd) Behavior {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.Calls++
	r.Paths = append(r.Paths, cmd.Path)
	r.Args = append(r.Args, slices.Clone(cmd.Args))
	r.Dirs = append(r.Dirs, cmd.Dir)

	if len(r.behaviors) == 0 {
		return nil
	}
	behavior := r.behaviors[0]
	r.behaviors = r.behaviors[1:]
	return behavior
}

// Remaining returns the number of queued behaviors that have not yet been consumed.
func (r *Runner) Remaining() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.behaviors)
}

// CallCount returns Calls under the runner's lock.
func (r *Runner) CallCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Calls
}
