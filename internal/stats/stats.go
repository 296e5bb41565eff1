// Package stats tallies the outcome of a dispatch.
package stats

import (
	"fmt"
	"time"

	"prt/internal/ssh"
)

// Output classifications shown in the summary table
const (
	CommandErrored   = "Command Returned An Error"
	CommandSucceeded = "Command Ran Successfully"
	CommandNoOutput  = "Command Returned NO Output"
)

// Classify describes a result by its captured output. Stderr wins over
// stdout; failed hosts have no output and classify as CommandNoOutput.
func Classify(r *ssh.Result) string {
	switch {
	case len(r.Stderr) > 0:
		return CommandErrored
	case len(r.Stdout) > 0:
		return CommandSucceeded
	default:
		return CommandNoOutput
	}
}

// Summary holds the totals of one dispatch
type Summary struct {
	Total       int
	Connected   int
	Failed      int
	Errored     int
	Succeeded   int
	NoOutput    int
	NonZeroExit int
	CloseErrors int
	OutputBytes int64
	Elapsed     time.Duration
}

// Summarize counts results; elapsed is the wall time of the dispatch
func Summarize(results []*ssh.Result, elapsed time.Duration) Summary {
	s := Summary{Total: len(results), Elapsed: elapsed}
	for _, r := range results {
		if r.Failed() {
			s.Failed++
		} else {
			s.Connected++
			if r.ExitCode != 0 {
				s.NonZeroExit++
			}
		}
		if r.CloseErr != nil {
			s.CloseErrors++
		}

		switch Classify(r) {
		case CommandErrored:
			s.Errored++
		case CommandSucceeded:
			s.Succeeded++
		default:
			s.NoOutput++
		}

		for _, line := range r.Stdout {
			s.OutputBytes += int64(len(line)) + 1
		}
		for _, line := range r.Stderr {
			s.OutputBytes += int64(len(line)) + 1
		}
	}
	return s
}

// LogAttrs returns the summary as slog key/value pairs
func (s Summary) LogAttrs() []any {
	return []any{
		"total", s.Total,
		"connected", s.Connected,
		"failed", s.Failed,
		"errored", s.Errored,
		"succeeded", s.Succeeded,
		"no_output", s.NoOutput,
		"non_zero_exit", s.NonZeroExit,
		"close_errors", s.CloseErrors,
		"output", formatBytes(s.OutputBytes),
		"duration_ms", s.Elapsed.Milliseconds(),
	}
}

func (s Summary) String() string {
	return fmt.Sprintf("%d hosts: %d connected, %d failed (%s in %v)",
		s.Total, s.Connected, s.Failed, formatBytes(s.OutputBytes), s.Elapsed.Round(time.Millisecond))
}

// formatBytes formats byte count in human readable format
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
