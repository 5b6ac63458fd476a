// Package commands implements the leakrun command line.
package commands

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/sa6mwa/leakrun"
	"github.com/sa6mwa/leakrun/internal/config"
	"github.com/sa6mwa/leakrun/internal/logging"
	"github.com/sa6mwa/leakrun/port"
)

const cliExecutable = "leakrun"

// Process exit codes.
const (
	ExitOK       = 0
	ExitFailure  = 1
	ExitFindings = 2
)

// ExitError carries the process exit code a command failed with.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// ExitCode maps an error returned by the root command to a process exit
// code. Errors without an ExitError are usage or setup errors.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return ExitFailure
}

// environment is what the command needs from the outside world.
type environment struct {
	runner     port.CommandRunner
	installDir string
}

// Execute runs the root command with args and returns the exit code.
func Execute(ctx context.Context, args []string) int {
	cmd := NewCommand()
	if args == nil {
		args = []string{}
	}
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	var ee *ExitError
	if err != nil && !errors.As(err, &ee) {
		fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
	}
	return ExitCode(err)
}

// NewCommand constructs the leakrun root command.
func NewCommand() *cobra.Command {
	return newCommand(environment{})
}

func newCommand(env environment) *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   cliExecutable + " [flags] <scan-dir> <report-path> [rules-path]",
		Short: "Scan a directory for leaked secrets with gitleaks",
		Long: `leakrun runs gitleaks over <scan-dir> and writes its report to <report-path>.
Without [rules-path] the gitleaks-custom-rules.toml installed next to leakrun
is used. Findings are reported but only fail the run with --fail-on-findings.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if err := cobra.MinimumNArgs(2)(cmd, args); err != nil {
				_ = cmd.Usage()
				return err
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile, cmd.Flags())
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			return runScan(cmd, env, cfg, logger, args)
		},
	}

	cmd.SilenceUsage = true
	cmd.SilenceErrors = true

	flags := cmd.Flags()
	flags.StringVarP(&configFile, "config", "c", "", "Configuration file path")
	flags.Bool("debug", false, "Trace each step and stream gitleaks output")
	flags.Bool("fail-on-findings", false, "Exit with code 2 when secrets are found")
	flags.String("scanner", leakrun.DefaultExecutable, "gitleaks executable name or path")
	flags.StringArray("scanner-sha256", nil, "Only run a scanner with this sha256 digest (repeatable)")
	flags.Duration("timeout", 0, "Kill the scan after this long (0 disables)")
	flags.Bool("embedded-rules", false, "Use the rules compiled into leakrun when no rules path is given")
	flags.String("log-level", "info", "Log level (trace, debug, info, warn, error)")
	flags.String("log-format", logging.FormatConsole, "Log format (console or json)")

	return cmd
}

func newLogger(cfg *config.Config, out io.Writer) (zerolog.Logger, error) {
	logger, err := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Out: out})
	if err != nil {
		return logger, err
	}
	if cfg.Debug && logger.GetLevel() > zerolog.DebugLevel {
		logger = logger.Level(zerolog.DebugLevel)
	}
	return logger, nil
}

func runScan(cmd *cobra.Command, env environment, cfg *config.Config, logger zerolog.Logger, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if len(cfg.Scanner.SHA256) > 0 {
		digests := make([]leakrun.Digest, 0, len(cfg.Scanner.SHA256))
		for _, d := range cfg.Scanner.SHA256 {
			digests = append(digests, d)
		}
		var err error
		ctx, err = leakrun.WithRuleCatchError(leakrun.WithPolicy(ctx, leakrun.DENY), leakrun.ALLOW, digests...)
		if err != nil {
			return fmt.Errorf("scanner-sha256: %w", err)
		}
	}

	targetDirectory, reportPath := args[0], args[1]
	rulesPath := cfg.Rules.Path
	if len(args) >= 3 {
		rulesPath = args[2]
	}
	if len(args) > 3 {
		logger.Warn().Strs("arguments", args[3:]).Msg("ignoring extra arguments")
	}

	if cfg.File != "" {
		logger.Debug().Str("file", cfg.File).Msg("configuration loaded")
	}

	scanner := &leakrun.Scanner{
		Executable:    cfg.Scanner.Path,
		InstallDir:    env.installDir,
		EmbeddedRules: cfg.Rules.Embedded,
		Runner:        env.runner,
		Logger:        &logger,
		Stdout:        cmd.OutOrStdout(),
		Stderr:        cmd.ErrOrStderr(),
		Timeout:       cfg.Timeout,
	}
	report, err := scanner.Run(ctx, targetDirectory, reportPath, rulesPath, leakrun.Options{
		Debug:          cfg.Debug,
		FailOnFindings: cfg.FailOnFindings,
	})
	if err != nil {
		ev := logger.Error().Err(err)
		var lerr *leakrun.LaunchError
		if errors.As(err, &lerr) && len(lerr.Output) > 0 {
			ev = ev.Str("output", string(lerr.Output))
		}
		ev.Msg("gitleaks secret scan failed")
		return &ExitError{Code: ExitFailure, Err: err}
	}

	if report.Findings() {
		logger.Warn().Str("report", reportPath).Msg("potential secrets detected, review the report")
		if report.ShouldFail() {
			return &ExitError{Code: ExitFindings, Err: errors.New("secrets detected")}
		}
		return nil
	}
	logger.Debug().Str("report", reportPath).Msg("no secrets detected")
	return nil
}
