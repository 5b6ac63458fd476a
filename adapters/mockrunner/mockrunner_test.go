package mockrunner

import (
	"bytes"
	"errors"
	"os/exec"
	"testing"

	"github.com/sa6mwa/leakrun/port"
)

func TestRunnerRunRecordsCallMetadata(t *testing.T) {
	runner := New(func(cmd *exec.Cmd) error {
		if cmd.Path != "gitleaks" {
			t.Fatalf("unexpected command path: %q", cmd.Path)
		}
		return nil
	})

	cmd := &exec.Cmd{Path: "gitleaks", Args: []string{"gitleaks", "dir", "."}, Dir: "/src"}
	if err := runner.Run(cmd); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if runner.Calls != 1 {
		t.Fatalf("Calls = %d, want 1", runner.Calls)
	}
	if len(runner.Paths) != 1 || runner.Paths[0] != "gitleaks" {
		t.Fatalf("Paths recorded %v, want [gitleaks]", runner.Paths)
	}
	if len(runner.Dirs) != 1 || runner.Dirs[0] != "/src" {
		t.Fatalf("Dirs recorded %v, want [/src]", runner.Dirs)
	}
	cmd.Args[1] = "mutated"
	if runner.Args[0][1] != "dir" {
		t.Fatalf("Args were not copied: %v", runner.Args[0])
	}
	if remaining := runner.Remaining(); remaining != 0 {
		t.Fatalf("Remaining() = %d, want 0", remaining)
	}
}

func TestRunnerRunSequentialBehaviors(t *testing.T) {
	sentinel := errors.New("sentinel")
	runner := New(
		Exit(0),
		Exit(1),
		func(*exec.Cmd) error { return sentinel },
	)

	if err := runner.Run(&exec.Cmd{Path: "first"}); err != nil {
		t.Fatalf("first Run returned error: %v", err)
	}

	err := runner.Run(&exec.Cmd{Path: "second"})
	var coder port.ExitCoder
	if !errors.As(err, &coder) || coder.ExitCode() != 1 {
		t.Fatalf("second Run error = %v, want exit status 1", err)
	}

	if err := runner.Run(&exec.Cmd{Path: "third"}); !errors.Is(err, sentinel) {
		t.Fatalf("third Run error = %v, want sentinel", err)
	}

	if err := runner.Run(&exec.Cmd{Path: "fourth"}); err != nil {
		t.Fatalf("exhausted Run returned error: %v", err)
	}

	if runner.Calls != 4 {
		t.Fatalf("Calls = %d, want 4", runner.Calls)
	}
}

func TestRunnerStartWait(t *testing.T) {
	runner := New(Exit(3))
	cmd := &exec.Cmd{Path: "gitleaks"}
	if err := runner.Start(cmd); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	err := runner.Wait(cmd)
	var exitErr *ExitError
	if !errors.As(err, &exitErr) || exitErr.Code != 3 {
		t.Fatalf("Wait error = %v, want exit status 3", err)
	}
	if err := runner.Wait(cmd); err == nil {
		t.Fatalf("expected error waiting twice")
	}
}

func TestRunnerStartReportsLaunchFailure(t *testing.T) {
	notFound := &exec.Error{Name: "gitleaks", Err: exec.ErrNotFound}
	runner := New(func(*exec.Cmd) error { return notFound })
	cmd := &exec.Cmd{Path: "gitleaks"}
	if err := runner.Start(cmd); !errors.Is(err, exec.ErrNotFound) {
		t.Fatalf("Start error = %v, want exec.ErrNotFound", err)
	}
	if err := runner.Wait(cmd); err == nil {
		t.Fatalf("expected error waiting on a command that failed to start")
	}
}

func TestWriteBehavior(t *testing.T) {
	var buf bytes.Buffer
	runner := New(Write("leak\n", 1))
	err := runner.Run(&exec.Cmd{Path: "gitleaks", Stdout: &buf})
	if err == nil {
		t.Fatalf("expected exit error")
	}
	if buf.String() != "leak\n" {
		t.Fatalf("unexpected output %q", buf.String())
	}
}

func TestRepeat(t *testing.T) {
	runner := Repeat(Exit(1), 2)
	if runner.Remaining() != 2 {
		t.Fatalf("Remaining() = %d, want 2", runner.Remaining())
	}
}
