package leakrun

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/sa6mwa/leakrun/port"
)

// payload is an embedded scanner binary made executable either through an
// anonymous memory file or a temporary file.
type payload struct {
	data          []byte
	file          *os.File
	name          string
	sha256        [32]byte
	sha256hex     string
	deleteOnClose bool
}

var _ port.Executable = (*payload)(nil)

// OpenPayload makes executablePayload runnable and returns a handle whose
// Name can be passed to exec.Command. On Linux the payload lives in a
// memfd_create(2) file; elsewhere, or when memfd is unavailable, it is written
// to a temporary file with mode 0700 that is removed on Close. Hosts usually
// feed it a go:embed'ed gitleaks build:
//
//	//go:embed gitleaks
//	var gitleaksBinary []byte
//	//...
//	s := &leakrun.Scanner{Payload: gitleaksBinary}
//	outcome, err := s.Scan(ctx, dir, report, "", leakrun.Options{})
func OpenPayload(executablePayload []byte) (port.Executable, error) {
	if len(executablePayload) == 0 {
		return nil, ERR_PAYLOAD_IS_EMPTY
	}
	sum := sha256.Sum256(executablePayload)
	p := &payload{
		data:      executablePayload,
		sha256:    sum,
		sha256hex: hex.EncodeToString(sum[:]),
	}
	if err := openPayload(p); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *payload) IsMemfd() bool {
	return strings.HasPrefix(p.name, "/proc/self/fd/")
}

func (p *payload) Name() string {
	return p.name
}

func (p *payload) Digest() ([32]byte, string) {
	return p.sha256, p.sha256hex
}

// writeTemporaryFile places the payload in an executable temporary file,
// releasing any memfd held before.
func (p *payload) writeTemporaryFile() error {
	if len(p.data) == 0 {
		return ERR_PAYLOAD_IS_EMPTY
	}
	if err := p.Close(); err != nil {
		return err
	}
	tmpf, err := os.CreateTemp("", p.sha256hex+"-*")
	if err != nil {
		return err
	}
	name := tmpf.Name()
	cleanup := func(err error) error {
		tmpf.Close()
		if rerr := os.Remove(name); rerr != nil {
			return fmt.Errorf("%w; unable to remove temporary file: %w", err, rerr)
		}
		return err
	}
	if _, err := tmpf.Write(p.data); err != nil {
		return cleanup(fmt.Errorf("unable to write to temporary file: %w", err))
	}
	if err := tmpf.Close(); err != nil {
		return cleanup(fmt.Errorf("close temporary file: %w", err))
	}
	if err := os.Chmod(name, 0o700); err != nil {
		return cleanup(fmt.Errorf("chmod +x: %w", err))
	}
	p.name = name
	p.deleteOnClose = true
	return nil
}

// Close releases the memfd or removes the temporary file.
func (p *payload) Close() error {
	var closeErr error
	if p.file != nil {
		closeErr = p.file.Close()
		p.file = nil
	}
	if p.deleteOnClose && p.name != "" {
		if err := os.Remove(p.name); err != nil {
			if closeErr != nil {
				return fmt.Errorf("close error: %w; remove error: %w", closeErr, err)
			}
			return err
		}
		p.deleteOnClose = false
	}
	return closeErr
}

// switchToTemporaryFile is the fallback used when the kernel refuses to exec
// the memfd path (noexec /proc, SELinux).
func (p *payload) switchToTemporaryFile() error {
	if !p.IsMemfd() {
		return ERR_NOT_AN_INMEMORY_FD
	}
	return p.writeTemporaryFile()
}

// Run executes cmd and retries once from a temporary file if exec of the
// memfd path fails with a permission error.
func (p *payload) Run(ctx context.Context, runner port.CommandRunner, cmd *exec.Cmd) error {
	err := runner.Run(cmd)
	if err == nil {
		return nil
	}
	retry, err := p.retryFromTempfile(ctx, cmd, err)
	if retry == nil {
		return err
	}
	err = runner.Run(retry)
	cmd.ProcessState = retry.ProcessState
	return err
}

// Start is the non-blocking counterpart of Run. The returned command is the
// one that was actually started and must be waited on.
func (p *payload) Start(ctx context.Context, runner port.CommandRunner, cmd *exec.Cmd) (*exec.Cmd, error) {
	err := runner.Start(cmd)
	if err == nil {
		return cmd, nil
	}
	retry, err := p.retryFromTempfile(ctx, cmd, err)
	if retry == nil {
		return nil, err
	}
	if err := runner.Start(retry); err != nil {
		return nil, err
	}
	return retry, nil
}

// retryFromTempfile inspects the error from launching cmd. When the memfd
// path was refused it moves the payload to a temporary file and returns the
// command to launch instead; otherwise it returns nil and the error to report.
func (p *payload) retryFromTempfile(ctx context.Context, cmd *exec.Cmd, launchErr error) (*exec.Cmd, error) {
	if !p.IsMemfd() || !isPermissionErr(launchErr) {
		return nil, launchErr
	}
	if err := p.switchToTemporaryFile(); err != nil {
		return nil, fmt.Errorf("memfd execution failed: %w; fallback to tempfile failed: %w", launchErr, err)
	}
	return retarget(ctx, cmd, p.Name()), nil
}

// retarget rebuilds cmd around another executable path, keeping its
// arguments, environment and streams.
func retarget(ctx context.Context, cmd *exec.Cmd, path string) *exec.Cmd {
	if ctx == nil {
		ctx = context.Background()
	}
	var args []string
	if len(cmd.Args) > 1 {
		args = cmd.Args[1:]
	}
	next := exec.CommandContext(ctx, path, args...)
	next.Dir, next.Env = cmd.Dir, cmd.Env
	next.Stdin, next.Stdout, next.Stderr = cmd.Stdin, cmd.Stdout, cmd.Stderr
	next.ExtraFiles, next.SysProcAttr = cmd.ExtraFiles, cmd.SysProcAttr
	next.WaitDelay = cmd.WaitDelay
	return next
}
