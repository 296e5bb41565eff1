package ssh

import (
	"fmt"
	"strings"
	"time"

	"prt/internal/errors"
	"prt/internal/target"
)

// StatusConnected is the status string of every host that ran the command.
const StatusConnected = "Connection Succeeded"

// failurePrefix starts every failure reason; reports read the first two
// words of a status as its token.
const failurePrefix = "Connection Failed"

// Status is either Connected or Failed(reason)
type Status struct {
	failed bool
	reason string
}

// Connected returns the status of a host that ran the command
func Connected() Status {
	return Status{}
}

// Failed returns the status of a host that could not run the command
func Failed(reason string) Status {
	return Status{failed: true, reason: reason}
}

// FailedWith builds a Failed status from an error
func FailedWith(err error) Status {
	class := errors.ClassifyError(err)
	return Failed(fmt.Sprintf("%s : PRT Caught exception(%s: %v)", failurePrefix, class.Type, err))
}

// IsConnected reports whether the command ran
func (s Status) IsConnected() bool {
	return !s.failed
}

// Reason returns the failure reason, empty when connected
func (s Status) Reason() string {
	return s.reason
}

// String returns the status line shown in reports
func (s Status) String() string {
	if s.failed {
		return s.reason
	}
	return StatusConnected
}

// Phase identifies where a session failed
type Phase int

const (
	PhaseNone Phase = iota
	PhaseConnect
	PhaseExecute
)

func (p Phase) String() string {
	switch p {
	case PhaseConnect:
		return "connect"
	case PhaseExecute:
		return "execute"
	default:
		return "none"
	}
}

// Result is the outcome of running one command on one host
type Result struct {
	HostID      string        // Pool key of the host
	DisplayName string        // Name shown in reports
	Host        target.Host   // The host the command was sent to
	Status      Status        // Connected or Failed(reason)
	Stdout      []string      // Standard output, one newline-free entry per line
	Stderr      []string      // Standard error, one newline-free entry per line
	ExitCode    int           // Remote exit status (-1 when the server sent none)
	Auth        string        // Authentication path that succeeded
	Phase       Phase         // Phase that failed, PhaseNone on success
	Err         error         // Connect or execute failure
	CloseErr    error         // Close failure; never affects Status
	Duration    time.Duration // Wall time of the whole session
}

// NewResult creates an empty, connected result for host
func NewResult(host target.Host) *Result {
	return &Result{
		HostID:      host.ID,
		DisplayName: host.DisplayName(),
		Host:        host,
		Status:      Connected(),
		Stdout:      []string{},
		Stderr:      []string{},
	}
}

// Fail marks the result as failed in phase; captured output is dropped.
func (r *Result) Fail(phase Phase, err error) {
	r.Phase = phase
	r.Err = err
	r.Status = FailedWith(err)
	r.Stdout = []string{}
	r.Stderr = []string{}
}

// Failed reports whether the host could not run the command
func (r *Result) Failed() bool {
	return !r.Status.IsConnected()
}

// SplitLines splits captured output into lines without line terminators.
// Empty output has no lines; a trailing newline does not add an empty line.
func SplitLines(s string) []string {
	if s == "" {
		return []string{}
	}
	s = strings.TrimSuffix(s, "\n")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, "\r")
	}
	return lines
}
