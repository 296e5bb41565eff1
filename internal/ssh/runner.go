package ssh

import (
	"context"
	"fmt"
	"time"

	"prt/internal/logging"
	"prt/internal/target"
)

// Runner executes one command on one host per call. Run never returns an
// error: every failure is folded into the Result so that one host cannot
// affect another.
type Runner struct {
	NewClient func() Client
	Logger    *logging.Logger
}

// NewRunner creates a runner that opens SSHClient sessions with opts
func NewRunner(opts Options, logger *logging.Logger) *Runner {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Runner{
		NewClient: func() Client {
			return NewClientWithLogger(opts, logger)
		},
		Logger: logger,
	}
}

// Run connects to host, runs command verbatim and returns the outcome. The
// client is closed on every path; a close failure is kept in CloseErr.
func (r *Runner) Run(ctx context.Context, host target.Host, command string) (result *Result) {
	startTime := time.Now()
	result = NewResult(host)
	phase := PhaseConnect
	client := r.NewClient()

	defer func() {
		if rec := recover(); rec != nil {
			result.Fail(phase, fmt.Errorf("ssh session panic: %v", rec))
		}
		if err := closeQuietly(client); err != nil {
			result.CloseErr = err
			r.Logger.LogCloseError(host, err)
		}
		result.Duration = time.Since(startTime)
	}()

	if err := client.Connect(ctx, host); err != nil {
		result.Fail(PhaseConnect, err)
		return result
	}
	result.Auth = client.AuthMethod()

	phase = PhaseExecute
	out, err := client.Execute(ctx, command)
	if err != nil {
		result.Fail(PhaseExecute, err)
		return result
	}

	result.Stdout = SplitLines(out.Stdout)
	result.Stderr = SplitLines(out.Stderr)
	result.ExitCode = out.ExitCode
	return result
}

func closeQuietly(client Client) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("ssh close panic: %v", rec)
		}
	}()
	return client.Close()
}
