package leakrun

import "context"

// Background is a scan running in its own goroutine. Done delivers exactly
// one Result and is then closed.
type Background struct {
	Context context.Context
	Cancel  context.CancelFunc
	Done    <-chan Result
}

// Result is what a background scan produces: a Report, or an Error that is
// normally a *LaunchError.
type Result struct {
	Outcome Outcome
	Report  Report
	Error   error
}

// ScanBackground starts a scan and returns without waiting for the scanner to
// exit. Failures that happen before the process is started are returned
// directly. Cancelling the handle kills the scanner; the Result then carries a
// *LaunchError wrapping context.Canceled.
func (s *Scanner) ScanBackground(ctx context.Context, targetDirectory, reportPath, rulesPath string, opts Options) (*Background, error) {
	inv, err := s.prepare(ctx, targetDirectory, reportPath, rulesPath, opts)
	if err != nil {
		return nil, err
	}
	inv.trace.Debug().Str("command", inv.desc.String()).Msg("starting scanner in background")
	capture, err := StartCommand(inv.runner, inv.cmd, inv.desc.IOMode == Captured)
	if err != nil {
		lerr := inv.fail(launchFailure(inv.desc, err))
		inv.close()
		return nil, lerr
	}
	done := make(chan Result, 1)
	go func() {
		defer close(done)
		status := WaitCommand(inv.runner, inv.cmd, capture)
		report, err := inv.finish(status)
		inv.close()
		done <- Result{Outcome: report.Outcome, Report: report, Error: err}
	}()
	return &Background{
		Context: inv.ctx,
		Cancel:  inv.cancel,
		Done:    done,
	}, nil
}

// Wait blocks until the background scan finishes. The scan's own context
// bounds the wait, so Wait always returns the scan's Result.
func (bg *Background) Wait() Result {
	return bg.WaitWithContext(context.Background())
}

// WaitWithContext blocks until the background scan completes or ctx is
// cancelled. Cancelling ctx only stops waiting; the returned Result then
// carries ctx.Err() and the scan keeps running until bg.Cancel is called.
func (bg *Background) WaitWithContext(ctx context.Context) Result {
	if bg == nil || bg.Done == nil {
		return Result{}
	}
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case res, ok := <-bg.Done:
		if !ok {
			return Result{}
		}
		return res
	case <-ctx.Done():
		return Result{Error: ctx.Err()}
	}
}
