// Package errors provides the error taxonomy, classification and exit codes for prt.
package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"strings"
)

// ErrorType represents the classification of a per-host failure
type ErrorType int

const (
	// SetupErrorType represents configuration, validation, or initialization errors
	SetupErrorType ErrorType = iota

	// ConnectionErrorType represents network or SSH connection errors
	ConnectionErrorType

	// AuthenticationErrorType represents SSH authentication failures
	AuthenticationErrorType

	// ExecutionErrorType represents errors raised while the remote command runs
	ExecutionErrorType

	// TimeoutErrorType represents timeout and cancellation errors
	TimeoutErrorType

	// UnknownErrorType represents unclassified errors
	UnknownErrorType
)

// String returns a string representation of the error type
func (et ErrorType) String() string {
	switch et {
	case SetupErrorType:
		return "setup"
	case ConnectionErrorType:
		return "connection"
	case AuthenticationErrorType:
		return "authentication"
	case ExecutionErrorType:
		return "execution"
	case TimeoutErrorType:
		return "timeout"
	default:
		return "unknown"
	}
}

// ClassifiedError wraps an error with classification information
type ClassifiedError struct {
	Type     ErrorType
	Original error
	Message  string
}

// Error implements the error interface
func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	if ce.Original != nil {
		return ce.Original.Error()
	}
	return "unknown error"
}

// Unwrap returns the original error for error unwrapping
func (ce *ClassifiedError) Unwrap() error {
	return ce.Original
}

// ClassifyError analyzes an error and returns its classification.
// Typed checks run first; keyword matching covers errors that the ssh
// package only reports as strings.
func ClassifyError(err error) *ClassifiedError {
	if err == nil {
		return nil
	}

	var classified *ClassifiedError
	if stderrors.As(err, &classified) {
		return classified
	}

	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, context.Canceled) {
		return &ClassifiedError{Type: TimeoutErrorType, Original: err}
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return &ClassifiedError{Type: TimeoutErrorType, Original: err}
	}

	errStr := strings.ToLower(err.Error())
	switch {
	case isAuthenticationError(errStr):
		return &ClassifiedError{Type: AuthenticationErrorType, Original: err}
	case isTimeoutError(errStr):
		return &ClassifiedError{Type: TimeoutErrorType, Original: err}
	case isConnectionError(errStr):
		return &ClassifiedError{Type: ConnectionErrorType, Original: err}
	case isExecutionError(errStr):
		return &ClassifiedError{Type: ExecutionErrorType, Original: err}
	}

	var opErr *net.OpError
	if stderrors.As(err, &opErr) {
		return &ClassifiedError{Type: ConnectionErrorType, Original: err}
	}

	return &ClassifiedError{Type: UnknownErrorType, Original: err}
}

func isAuthenticationError(errStr string) bool {
	authKeywords := []string{
		"unable to authenticate",
		"no supported methods remain",
		"no authentication methods available",
		"authentication failed",
		"permission denied",
		"host key mismatch",
		"knownhosts: key mismatch",
		"knownhosts: key is unknown",
		"host key verification failed",
	}

	for _, keyword := range authKeywords {
		if strings.Contains(errStr, keyword) {
			return true
		}
	}
	return false
}

func isTimeoutError(errStr string) bool {
	timeoutKeywords := []string{
		"timeout",
		"timed out",
		"deadline exceeded",
		"context canceled",
	}

	for _, keyword := range timeoutKeywords {
		if strings.Contains(errStr, keyword) {
			return true
		}
	}
	return false
}

func isConnectionError(errStr string) bool {
	connectionKeywords := []string{
		"connection refused",
		"connection reset",
		"connection closed",
		"network is unreachable",
		"no route to host",
		"host is unreachable",
		"no such host",
		"broken pipe",
		"handshake failed",
		"unexpected eof",
		"eof",
	}

	for _, keyword := range connectionKeywords {
		if strings.Contains(errStr, keyword) {
			return true
		}
	}
	return false
}

func isExecutionError(errStr string) bool {
	executionKeywords := []string{
		"failed to create session",
		"session",
		"signal",
	}

	for _, keyword := range executionKeywords {
		if strings.Contains(errStr, keyword) {
			return true
		}
	}
	return false
}

// NewConnectionError creates a new connection error
func NewConnectionError(message string, original error) *ClassifiedError {
	return &ClassifiedError{Type: ConnectionErrorType, Original: original, Message: message}
}

// NewAuthenticationError creates a new authentication error
func NewAuthenticationError(message string, original error) *ClassifiedError {
	return &ClassifiedError{Type: AuthenticationErrorType, Original: original, Message: message}
}

// NewExecutionError creates a new execution error
func NewExecutionError(message string, original error) *ClassifiedError {
	return &ClassifiedError{Type: ExecutionErrorType, Original: original, Message: message}
}

// NewTimeoutError creates a new timeout error
func NewTimeoutError(message string, original error) *ClassifiedError {
	return &ClassifiedError{Type: TimeoutErrorType, Original: original, Message: message}
}

// ConfigNotFoundError is returned when a pool name resolves to no file.
type ConfigNotFoundError struct {
	Pool string
	Dir  string
}

func (e *ConfigNotFoundError) Error() string {
	return fmt.Sprintf("Error: No Config File Named %q Found in %q!", e.Pool, e.Dir)
}

// InvalidPoolNameError is returned for pool names that could escape the
// state directory or carry shell metacharacters.
type InvalidPoolNameError struct {
	Pool string
}

func (e *InvalidPoolNameError) Error() string {
	return fmt.Sprintf("Error: Invalid Pool Name %q (allowed: letters, digits, '.', '_' and '-')", e.Pool)
}

// PoolParseError is returned when a pool file is not a YAML mapping.
type PoolParseError struct {
	Path string
	Err  error
}

func (e *PoolParseError) Error() string {
	return fmt.Sprintf("Error: Failed to Parse %s: %v", e.Path, e.Err)
}

func (e *PoolParseError) Unwrap() error {
	return e.Err
}

// MissingFieldError records one host definition missing one required key.
type MissingFieldError struct {
	Host  string
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("Error: Host %s Is Missing The Field %q!", e.Host, e.Field)
}

// InvalidFieldError records a required key whose value cannot be used.
type InvalidFieldError struct {
	Host   string
	Field  string
	Reason string
}

func (e *InvalidFieldError) Error() string {
	return fmt.Sprintf("Error: Host %s Has An Invalid Field %q (%s)!", e.Host, e.Field, e.Reason)
}

// EmptyPoolError records a pool file without any host definitions.
type EmptyPoolError struct{}

func (e *EmptyPoolError) Error() string {
	return "Error: Pool Contains No Hosts!"
}

// ValidationError carries every violation found in one pool file.
type ValidationError struct {
	Path   string
	Errors []error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%d Errors Were Found in %s!", len(e.Errors), e.Path)
}

// Unwrap exposes the individual violations to errors.As.
func (e *ValidationError) Unwrap() []error {
	return e.Errors
}

// IdentityGeneratedError stops the run after a new keypair was written.
type IdentityGeneratedError struct {
	PublicKeyPath string
}

func (e *IdentityGeneratedError) Error() string {
	return fmt.Sprintf("Add The Output Of `cat %s` To Each Remote Hosts \"~/.ssh/authorized_keys\" File!", e.PublicKeyPath)
}

// UsageError represents an invalid combination of command-line arguments
type UsageError struct {
	Message string
}

func (e *UsageError) Error() string {
	return e.Message
}

// SetupError represents configuration or initialization failures
type SetupError struct {
	Message string
	Err     error
}

func (e *SetupError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *SetupError) Unwrap() error {
	return e.Err
}

// Process exit codes.
const (
	ExitOK                = 0
	ExitFailure           = 1
	ExitSetup             = 2
	ExitIdentityGenerated = 3
	ExitUsage             = 4
)

// ExitCode maps an error returned by the command layer to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	var (
		usageErr    *UsageError
		identityErr *IdentityGeneratedError
		notFound    *ConfigNotFoundError
		invalidName *InvalidPoolNameError
		parseErr    *PoolParseError
		validation  *ValidationError
		setupErr    *SetupError
	)
	switch {
	case stderrors.As(err, &usageErr):
		return ExitUsage
	case stderrors.As(err, &identityErr):
		return ExitIdentityGenerated
	case stderrors.As(err, &notFound),
		stderrors.As(err, &invalidName),
		stderrors.As(err, &parseErr),
		stderrors.As(err, &validation),
		stderrors.As(err, &setupErr):
		return ExitSetup
	default:
		return ExitFailure
	}
}

// ErrorCollector collects errors without stopping at the first one
type ErrorCollector struct {
	errors []error
}

// NewErrorCollector creates a new error collector
func NewErrorCollector() *ErrorCollector {
	return &ErrorCollector{}
}

// Add adds an error to the collector
func (ec *ErrorCollector) Add(err error) {
	if err == nil {
		return
	}
	ec.errors = append(ec.errors, err)
}

// HasErrors returns true if there are any errors
func (ec *ErrorCollector) HasErrors() bool {
	return len(ec.errors) > 0
}

// Errors returns the collected errors in insertion order
func (ec *ErrorCollector) Errors() []error {
	out := make([]error, len(ec.errors))
	copy(out, ec.errors)
	return out
}
