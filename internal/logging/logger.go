package logging

import (
	"io"
	"log/slog"
	"os"
	"time"

	"prt/internal/target"
)

// LogLevel represents the logging level
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelError LogLevel = "error"
)

// LogFormat represents the output format for logs
type LogFormat string

const (
	FormatJSON LogFormat = "json"
	FormatText LogFormat = "text"
)

// Config holds logging configuration
type Config struct {
	Level  LogLevel  // Minimum log level to output
	Format LogFormat // Output format (json or text)
	Output io.Writer // Output destination (defaults to stderr)
	Quiet  bool      // If true, suppress non-error output
}

// Logger wraps slog.Logger with prt's logging helpers
type Logger struct {
	logger *slog.Logger
	config Config
}

// NewLogger creates a new logger instance
func NewLogger(config Config) *Logger {
	if config.Output == nil {
		config.Output = os.Stderr
	}

	opts := &slog.HandlerOptions{
		Level: convertLogLevel(config.Level),
	}

	var handler slog.Handler
	switch config.Format {
	case FormatJSON:
		handler = slog.NewJSONHandler(config.Output, opts)
	default:
		handler = slog.NewTextHandler(config.Output, opts)
	}

	return &Logger{
		logger: slog.New(handler),
		config: config,
	}
}

// Discard returns a logger that drops everything. Handy for tests and for
// callers that do not want a log at all.
func Discard() *Logger {
	return NewLogger(Config{Output: io.Discard, Level: LevelError})
}

func convertLogLevel(level LogLevel) slog.Level {
	switch level {
	case LevelDebug:
		return slog.LevelDebug
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// With returns a logger that adds args to every entry
func (l *Logger) With(args ...any) *Logger {
	return &Logger{logger: l.logger.With(args...), config: l.config}
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, args ...any) {
	if l.config.Quiet {
		return
	}
	l.logger.Debug(msg, args...)
}

// Info logs an informational message
func (l *Logger) Info(msg string, args ...any) {
	if l.config.Quiet {
		return
	}
	l.logger.Info(msg, args...)
}

// Warn logs a warning
func (l *Logger) Warn(msg string, args ...any) {
	l.logger.Warn(msg, args...)
}

// Error logs an error message
func (l *Logger) Error(msg string, args ...any) {
	l.logger.Error(msg, args...)
}

// LogConnection logs an established SSH session
func (l *Logger) LogConnection(host target.Host, auth string, duration time.Duration) {
	l.Info("ssh connection established",
		"host_id", host.ID,
		"host", host.Address,
		"user", host.User,
		"port", host.Port,
		"auth", auth,
		"duration_ms", duration.Milliseconds(),
		// Never log key paths or key material
	)
}

// LogConnectionError logs a failed connect phase
func (l *Logger) LogConnectionError(host target.Host, err error) {
	l.Error("ssh connection failed",
		"host_id", host.ID,
		"host", host.Address,
		"user", host.User,
		"port", host.Port,
		"error", err.Error(),
	)
}

// LogConnectionWarning logs security warnings for connections
func (l *Logger) LogConnectionWarning(hostname string, message string) {
	l.logger.Warn("connection security warning",
		"host", hostname,
		"warning", message,
	)
}

// LogExecution logs a finished remote command
func (l *Logger) LogExecution(host target.Host, exitCode int, stdoutLines, stderrLines int, duration time.Duration) {
	l.Info("command executed",
		"host_id", host.ID,
		"host", host.Address,
		"exit_code", exitCode,
		"stdout_lines", stdoutLines,
		"stderr_lines", stderrLines,
		"duration_ms", duration.Milliseconds(),
		// The command itself is never logged
	)
}

// LogExecutionError logs a failed execute phase
func (l *Logger) LogExecutionError(host target.Host, err error) {
	l.Error("command execution failed",
		"host_id", host.ID,
		"host", host.Address,
		"error", err.Error(),
	)
}

// LogCloseError logs a swallowed close failure
func (l *Logger) LogCloseError(host target.Host, err error) {
	l.Warn("ssh connection close error",
		"host_id", host.ID,
		"host", host.Address,
		"error", err.Error(),
	)
}

// LogDispatchStart logs the start of a dispatch; run and pool attributes
// come from a logger built with With.
func (l *Logger) LogDispatchStart(hostCount, concurrency int) {
	l.Info("dispatch started",
		"host_count", hostCount,
		"concurrency", concurrency,
	)
}

// LogDispatchComplete logs the end of a dispatch
func (l *Logger) LogDispatchComplete(attrs ...any) {
	l.Info("dispatch completed", attrs...)
}

// LogPoolLoad logs a successfully loaded pool
func (l *Logger) LogPoolLoad(pool, path string, count int) {
	l.Info("pool loaded",
		"pool", pool,
		"path", path,
		"host_count", count,
	)
}

// LogPoolError logs a pool that failed to load
func (l *Logger) LogPoolError(pool string, err error) {
	l.Error("pool load failed",
		"pool", pool,
		"error", err.Error(),
	)
}

// LogConfigLoad logs configuration loading events
func (l *Logger) LogConfigLoad(source string) {
	l.Info("configuration loaded",
		"source", source,
	)
}

// NewLoggerFromConfig creates a logger from application configuration
func NewLoggerFromConfig(logLevel, logFormat string, quiet bool, output io.Writer) *Logger {
	var level LogLevel
	switch logLevel {
	case "debug":
		level = LevelDebug
	case "error":
		level = LevelError
	default:
		level = LevelInfo
	}

	var format LogFormat
	switch logFormat {
	case "json":
		format = FormatJSON
	default:
		format = FormatText
	}

	return NewLogger(Config{
		Level:  level,
		Format: format,
		Quiet:  quiet,
		Output: output,
	})
}
