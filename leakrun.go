// Package leakrun runs the gitleaks secret scanner as a subprocess and
// classifies its exit status.
//
// gitleaks exits 0 when nothing was found and 1 when it found potential
// secrets. leakrun turns those into the Clean and FindingsDetected outcomes;
// anything else (the binary is missing, the scan directory does not exist,
// gitleaks crashed or was killed, a timeout expired) is returned as a
// *LaunchError, which matches ErrLaunchFailed via errors.Is. Findings are
// never reported as an error: deciding whether they should fail a build is up
// to the caller.
package leakrun

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sa6mwa/leakrun/adapters/commandrunner"
	"github.com/sa6mwa/leakrun/port"
)

// waitDelay bounds how long output pipes are drained after the scanner has
// been killed, in case it left children holding them open.
const waitDelay = 2 * time.Second

// Options are the per-scan settings.
type Options struct {
	// Debug traces every step through the scanner's logger and forwards the
	// scanner's own output. Without it nothing is logged and the output is
	// captured, surfacing only in a *LaunchError.
	Debug bool
	// FailOnFindings is passed back in the Report for the caller's policy.
	// It never changes how a run is classified.
	FailOnFindings bool
}

// Report is the result of a completed scan.
type Report struct {
	Outcome        Outcome
	Descriptor     Descriptor
	FailOnFindings bool
	// Output is the scanner's combined output in Captured mode.
	Output []byte
}

// Findings reports whether the scanner found potential secrets.
func (r Report) Findings() bool {
	return r.Outcome == FindingsDetected
}

// ShouldFail reports whether the caller asked for findings to fail the run
// and there were findings.
func (r Report) ShouldFail() bool {
	return r.FailOnFindings && r.Findings()
}

// Scanner holds the environment scans run in. The zero value runs gitleaks
// from PATH with the rules file installed next to the running executable.
type Scanner struct {
	// Executable is the scanner binary; defaults to DefaultExecutable.
	Executable string
	// Payload, when set, is an embedded scanner binary run in place of
	// Executable. See OpenPayload.
	Payload []byte
	// InstallDir is where the default rules file is looked up; defaults to
	// the result of InstallDir().
	InstallDir string
	// EmbeddedRules uses the rules compiled into leakrun instead of the
	// install location when no rules path is given.
	EmbeddedRules bool
	// Runner executes the scanner; defaults to commandrunner.Default.
	Runner port.CommandRunner
	// Logger receives debug traces; defaults to the global zerolog logger.
	Logger *zerolog.Logger
	// Stdout and Stderr receive scanner output in debug mode; default to the
	// process' own streams.
	Stdout io.Writer
	Stderr io.Writer
	// Timeout kills the scanner after the given duration when positive.
	Timeout time.Duration
}

// Scan runs gitleaks over targetDirectory with a zero-value Scanner. An empty
// rulesPath selects the bundled rules file.
func Scan(ctx context.Context, targetDirectory, reportPath, rulesPath string, opts Options) (Outcome, error) {
	return new(Scanner).Scan(ctx, targetDirectory, reportPath, rulesPath, opts)
}

// RunScan is Scan reduced to a boolean: true means findings were detected.
// A launch failure is returned as an error.
func RunScan(ctx context.Context, targetDirectory, reportPath, rulesPath string, opts Options) (bool, error) {
	outcome, err := Scan(ctx, targetDirectory, reportPath, rulesPath, opts)
	if err != nil {
		return false, err
	}
	return outcome == FindingsDetected, nil
}

// Scan runs a single scan and returns its Outcome. It blocks until the
// scanner exits.
func (s *Scanner) Scan(ctx context.Context, targetDirectory, reportPath, rulesPath string, opts Options) (Outcome, error) {
	report, err := s.Run(ctx, targetDirectory, reportPath, rulesPath, opts)
	if err != nil {
		return 0, err
	}
	return report.Outcome, nil
}

// Run is Scan returning the full Report.
func (s *Scanner) Run(ctx context.Context, targetDirectory, reportPath, rulesPath string, opts Options) (Report, error) {
	inv, err := s.prepare(ctx, targetDirectory, reportPath, rulesPath, opts)
	if err != nil {
		return Report{}, err
	}
	defer inv.close()
	inv.trace.Debug().Str("command", inv.desc.String()).Msg("executing scanner")
	status, err := runCommand(inv.runner, inv.cmd, inv.desc.IOMode == Captured)
	if err != nil {
		return Report{}, inv.fail(launchFailure(inv.desc, err))
	}
	return inv.finish(status)
}

// invocation is a prepared scan between building the command and classifying
// its result.
type invocation struct {
	ctx      context.Context
	cancel   context.CancelFunc
	desc     Descriptor
	cmd      *exec.Cmd
	runner   port.CommandRunner
	trace    zerolog.Logger
	opts     Options
	cleanups []io.Closer
	once     sync.Once
}

func (s *Scanner) prepare(ctx context.Context, targetDirectory, reportPath, rulesPath string, opts Options) (_ *invocation, err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	inv := &invocation{opts: opts, trace: s.tracer(opts)}
	defer func() {
		if err != nil {
			inv.close()
		}
	}()
	inv.trace.Debug().
		Str("scan_dir", targetDirectory).
		Str("report_path", reportPath).
		Bool("fail_on_findings", opts.FailOnFindings).
		Msg("running gitleaks secret scan")

	executable := s.Executable
	if executable == "" {
		executable = DefaultExecutable
	}
	// The scanner runs inside targetDirectory, so relative paths are resolved
	// against the caller's working directory first.
	if strings.ContainsRune(executable, filepath.Separator) && !filepath.IsAbs(executable) {
		if abs, err := filepath.Abs(executable); err == nil {
			executable = abs
		}
	}
	if targetDirectory, reportPath, rulesPath, err = absPaths(targetDirectory, reportPath, rulesPath); err != nil {
		return nil, inv.fail(launchFailure(NewDescriptor(executable, targetDirectory, reportPath, rulesPath, Captured), err))
	}

	mode := Captured
	if opts.Debug {
		mode = Inherit
	}
	inv.desc = NewDescriptor(executable, targetDirectory, reportPath, rulesPath, mode)

	rulesPath, err = s.resolveRules(inv, rulesPath)
	if err != nil {
		return nil, inv.fail(launchFailure(inv.desc, err))
	}

	inv.runner = s.Runner
	if inv.runner == nil {
		inv.runner = commandrunner.Default
	}
	if len(s.Payload) > 0 {
		exe, err := OpenPayload(s.Payload)
		if err != nil {
			return nil, inv.fail(launchFailure(inv.desc, fmt.Errorf("open scanner payload: %w", err)))
		}
		inv.cleanups = append(inv.cleanups, exe)
		executable = exe.Name()
		inv.runner = newPayloadRunner(ctx, exe, inv.runner)
		inv.trace.Debug().Str("payload", executable).Bool("memfd", exe.IsMemfd()).Msg("using embedded scanner")
	}
	inv.desc = NewDescriptor(executable, targetDirectory, reportPath, rulesPath, mode)

	if err := checkTargetDirectory(targetDirectory); err != nil {
		return nil, inv.fail(launchFailure(inv.desc, err))
	}
	if err := s.enforcePolicy(ctx, inv); err != nil {
		return nil, inv.fail(launchFailure(inv.desc, err))
	}

	if s.Timeout > 0 {
		ctx, inv.cancel = context.WithTimeout(ctx, s.Timeout)
	} else {
		ctx, inv.cancel = context.WithCancel(ctx)
	}
	inv.ctx = ctx
	if pr, ok := inv.runner.(*payloadRunner); ok {
		pr.ctx = ctx
	}
	inv.cmd = inv.desc.Command(ctx)
	inv.cmd.WaitDelay = waitDelay
	if mode == Inherit {
		inv.cmd.Stdout = s.stdout()
		inv.cmd.Stderr = s.stderr()
	}
	return inv, nil
}

func (s *Scanner) resolveRules(inv *invocation, rulesPath string) (string, error) {
	if rulesPath != "" {
		inv.trace.Debug().Str("rules_path", rulesPath).Msg("using supplied rules file")
		return rulesPath, nil
	}
	if s.EmbeddedRules {
		rf, err := MaterializeRules()
		if err != nil {
			return "", fmt.Errorf("materialize bundled rules: %w", err)
		}
		inv.cleanups = append(inv.cleanups, rf)
		inv.trace.Debug().Str("rules_path", rf.Name()).Str("sha256", rf.SHA256()).Msg("using embedded rules file")
		return rf.Name(), nil
	}
	dir := s.InstallDir
	if dir == "" {
		var err error
		if dir, err = InstallDir(); err != nil {
			return "", err
		}
	}
	rulesPath = ResolveRulesPath("", dir)
	inv.trace.Debug().Str("rules_path", rulesPath).Msg("using bundled rules file")
	return rulesPath, nil
}

func (s *Scanner) enforcePolicy(ctx context.Context, inv *invocation) error {
	if policyFromContext(ctx) == nil {
		return nil
	}
	if pr, ok := inv.runner.(*payloadRunner); ok {
		digest, hexDigest := pr.exe.Digest()
		return CheckPolicy(ctx, digest, hexDigest)
	}
	return enforceExecutablePolicy(ctx, inv.desc.Executable)
}

func absPaths(targetDirectory, reportPath, rulesPath string) (string, string, string, error) {
	paths := []*string{&targetDirectory, &reportPath, &rulesPath}
	for _, p := range paths {
		if *p == "" {
			continue
		}
		abs, err := filepath.Abs(*p)
		if err != nil {
			return targetDirectory, reportPath, rulesPath, fmt.Errorf("resolve %s: %w", *p, err)
		}
		*p = abs
	}
	return targetDirectory, reportPath, rulesPath, nil
}

func checkTargetDirectory(dir string) error {
	fi, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if !fi.IsDir() {
		return fmt.Errorf("%s: %w", dir, ERR_NOT_A_DIRECTORY)
	}
	return nil
}

// finish classifies a finished run. A cancelled or expired context wins only
// when the process did not exit on its own; a scanner that exited before the
// deadline keeps its outcome.
func (inv *invocation) finish(status exitStatus) (Report, error) {
	report := Report{
		Descriptor:     inv.desc,
		FailOnFindings: inv.opts.FailOnFindings,
		Output:         status.Output,
	}
	waitErr := status.Err
	killed := status.Signal != "" || status.ExitCode < 0
	if ctxErr := inv.ctx.Err(); ctxErr != nil && waitErr != nil && killed {
		lerr := &LaunchError{
			Descriptor: inv.desc,
			ExitCode:   status.ExitCode,
			Signal:     status.Signal,
			Output:     status.Output,
			Err:        errors.Join(ctxErr, waitErr),
		}
		return report, inv.fail(lerr)
	}
	outcome, err := classify(inv.desc, status)
	if err != nil {
		return report, inv.fail(err)
	}
	report.Outcome = outcome
	inv.trace.Debug().
		Stringer("outcome", outcome).
		Int("exit_code", status.ExitCode).
		Bool("fail_on_findings", inv.opts.FailOnFindings).
		Msg("gitleaks secret scan completed")
	return report, nil
}

func (inv *invocation) fail(err error) error {
	inv.trace.Debug().Err(err).Msg("gitleaks secret scan failed")
	return err
}

// close cancels the context and releases payloads and rules files. Cleanup
// failures are traced but never change an outcome.
func (inv *invocation) close() {
	inv.once.Do(func() {
		if inv.cancel != nil {
			inv.cancel()
		}
		for i := len(inv.cleanups) - 1; i >= 0; i-- {
			if err := inv.cleanups[i].Close(); err != nil {
				inv.trace.Debug().Err(err).Msg("cleanup failed")
			}
		}
	})
}

func (s *Scanner) tracer(opts Options) zerolog.Logger {
	if !opts.Debug {
		return zerolog.Nop()
	}
	logger := log.Logger
	if s.Logger != nil {
		logger = *s.Logger
	}
	return logger.With().Str("invocation", uuid.NewString()).Logger()
}

func (s *Scanner) stdout() io.Writer {
	if s.Stdout != nil {
		return s.Stdout
	}
	return os.Stdout
}

func (s *Scanner) stderr() io.Writer {
	if s.Stderr != nil {
		return s.Stderr
	}
	return os.Stderr
}

// payloadRunner routes commands through an embedded payload so the memfd
// fallback applies to both Run and Start.
type payloadRunner struct {
	ctx     context.Context
	exe     port.Executable
	inner   port.CommandRunner
	mu      sync.Mutex
	started map[*exec.Cmd]*exec.Cmd
}

func newPayloadRunner(ctx context.Context, exe port.Executable, inner port.CommandRunner) *payloadRunner {
	return &payloadRunner{ctx: ctx, exe: exe, inner: inner, started: make(map[*exec.Cmd]*exec.Cmd)}
}

func (r *payloadRunner) Run(cmd *exec.Cmd) error {
	return r.exe.Run(r.ctx, r.inner, cmd)
}

func (r *payloadRunner) Start(cmd *exec.Cmd) error {
	started, err := r.exe.Start(r.ctx, r.inner, cmd)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started[cmd] = started
	return nil
}

func (r *payloadRunner) Wait(cmd *exec.Cmd) error {
	r.mu.Lock()
	started, ok := r.started[cmd]
	delete(r.started, cmd)
	r.mu.Unlock()
	if !ok {
		return errors.New("wait on command that was not started")
	}
	err := r.inner.Wait(started)
	cmd.ProcessState = started.ProcessState
	return err
}
