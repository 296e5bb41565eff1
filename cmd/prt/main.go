package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"prt/internal/config"
	"prt/internal/console"
	"prt/internal/errors"
	"prt/internal/executor"
	"prt/internal/identity"
	"prt/internal/logging"
	"prt/internal/pool"
	"prt/internal/progress"
	"prt/internal/report"
	"prt/internal/ssh"
)

var (
	// Build-time variables (set via -ldflags)
	version   = "1.0.0"
	commit    = "unknown"
	buildTime = "unknown"
)

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

// run executes the CLI and returns the process exit code
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := newRootCmd(stdout, stderr)
	cmd.SetArgs(args)
	if err := cmd.ExecuteContext(ctx); err != nil {
		printFatal(stderr, err)
		return errors.ExitCode(err)
	}
	return errors.ExitOK
}

type options struct {
	pool       string
	command    string
	configFile string
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "prt --pool <name> --command <remote command>",
		Short: "Run a command in parallel across a pool of remote hosts",
		Long: `prt runs one shell command on every host of a named pool over SSH, at the
same time, and reports what each host returned.

Pools are YAML files in the state directory (~/.prt by default). Every host
entry needs the fields NAME, USER, IP and PORT:

  web1:
    NAME: Web One
    USER: deploy
    IP: 10.0.0.11
    PORT: 22

On first use prt generates its own RSA keypair in the state directory and
stops; append the public key to ~/.ssh/authorized_keys on every host, then
run again.

Examples:
  # Check uptime across the "web" pool
  prt -p web -c uptime

  # Limit the number of simultaneous sessions and give up on slow hosts
  prt -p db -c "df -h" --concurrency 10 --timeout 30s`,
		Version:       version,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return &errors.UsageError{Message: fmt.Sprintf("unexpected arguments: %s", strings.Join(args, " "))}
			}
			if opts.pool == "" && opts.command == "" {
				return cmd.Help()
			}
			if opts.pool == "" || opts.command == "" {
				return &errors.UsageError{Message: "--pool and --command must be given together"}
			}
			return execute(cmd, opts, stdout, stderr)
		},
	}

	cmd.Long += "\n\nEvery configuration flag can also be set from the environment:\n  " +
		strings.Join(config.GetEnvVarNames(), "\n  ")

	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetVersionTemplate("PRT Version: {{.Version}}\n")
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &errors.UsageError{Message: err.Error()}
	})

	flags := cmd.Flags()
	flags.StringVarP(&opts.pool, "pool", "p", "", "Name of the host pool in the state directory")
	flags.StringVarP(&opts.command, "command", "c", "", "Command to run on every host, passed verbatim")
	flags.StringVar(&opts.configFile, "config", "", "Configuration file (default: search ., ~/.config/prt, /etc/prt)")

	flags.String("state-dir", config.DefaultStateDir(), "Directory holding pools, keys, transcripts and logs")
	flags.Int("concurrency", 0, "Maximum simultaneous sessions (0 for one per host)")
	flags.Duration("timeout", 0, "Per-host session timeout (0 for none)")
	flags.Duration("connect-timeout", 0, "TCP connect timeout (0 for the system default)")
	flags.Float64("dial-rate", 0, "New sessions per second (0 for unlimited)")
	flags.Int("key-bits", config.DefaultKeyBits, "RSA key size used when generating the identity")
	flags.Bool("strict-host-keys", false, "Reject hosts that are not in known_hosts")
	flags.StringSlice("known-hosts", config.DefaultKnownHosts(), "known_hosts files to check host keys against")
	flags.String("color", "auto", "Colorize output (auto, always, never)")
	flags.Bool("progress", false, "Show a progress bar on stderr while hosts finish")
	flags.String("log-level", "info", "Log level (debug, info, error)")
	flags.String("log-format", "text", "Log format (json, text)")
	flags.String("log-file", "", "Log file (default <state-dir>/prt.log, - for stderr)")
	flags.Bool("quiet", false, "Suppress informational log entries")

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "PRT Version: %s\n", version)
			fmt.Fprintf(cmd.OutOrStdout(), "Commit: %s\n", commit)
			fmt.Fprintf(cmd.OutOrStdout(), "Built: %s\n", buildTime)
		},
	})

	return cmd
}

// execute loads the pool, dispatches the command and reports the results
func execute(cmd *cobra.Command, opts *options, stdout, stderr io.Writer) error {
	manager := config.NewManager(opts.configFile)
	if err := manager.BindFlags(cmd.Flags()); err != nil {
		return &errors.SetupError{Message: "failed to apply command-line flags", Err: err}
	}
	cfg, err := manager.Load()
	if err != nil {
		return &errors.SetupError{Message: "failed to load configuration", Err: err}
	}

	out := console.New(stdout, console.ColorMode(cfg.Color))

	logger, closeLog, err := openLogger(cfg, stderr)
	if err != nil {
		return err
	}
	defer closeLog()
	if opts.configFile != "" {
		logger.LogConfigLoad(opts.configFile)
	} else {
		logger.LogConfigLoad("defaults, environment and flags")
	}

	p, err := pool.NewLoader(cfg.StateDir, out, logger).Load(opts.pool)
	if err != nil {
		return err
	}

	keys := identity.Keypair{PrivateKeyPath: cfg.PrivateKeyPath(), PublicKeyPath: cfg.PublicKeyPath()}
	provisioner := identity.NewProvisioner(cfg.StateDir, keys, cfg.KeyBits, out, logger)
	runner := ssh.NewRunner(ssh.Options{
		KeyPath:        keys.PrivateKeyPath,
		KnownHosts:     cfg.KnownHosts,
		StrictHostKeys: cfg.StrictHostKeys,
		ConnectTimeout: cfg.ConnectTimeout,
	}, logger)

	dispatcher := executor.NewDispatcher(executor.ExecutorConfig{
		Concurrency: cfg.Concurrency,
		Timeout:     cfg.Timeout,
		DialRate:    cfg.DialRate,
	}, runner, provisioner, logger)
	dispatcher.OnStart = func(hostCount int) {
		out.Printf("Starting Pool of %d Parallel Connections...", hostCount)
	}

	var tracker *progress.ProgressTracker
	if cfg.Progress {
		tracker = progress.NewProgressTracker(p.Len(), stderr, true)
		dispatcher.OnResult = tracker.Observe
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	// SIGINT/SIGTERM cancel every session; each host still gets a result
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received shutdown signal, cancelling sessions", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	set, err := dispatcher.DispatchAll(ctx, p, opts.command)
	if err != nil {
		return err
	}
	if tracker != nil {
		tracker.Finish()
	}

	return report.NewReporter(out, cfg.TranscriptPath(p.Name), logger).Report(set)
}

// openLogger opens the session log named by the configuration
func openLogger(cfg *config.Config, stderr io.Writer) (*logging.Logger, func(), error) {
	path := cfg.LogPath()
	if path == "-" {
		return logging.NewLoggerFromConfig(cfg.LogLevel, cfg.LogFormat, cfg.Quiet, stderr), func() {}, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, nil, &errors.SetupError{Message: fmt.Sprintf("failed to create log directory for %s", path), Err: err}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, nil, &errors.SetupError{Message: fmt.Sprintf("failed to open log file %s", path), Err: err}
	}
	logger := logging.NewLoggerFromConfig(cfg.LogLevel, cfg.LogFormat, cfg.Quiet, f)
	return logger, func() { f.Close() }, nil
}

// printFatal reports an error that ended the run
func printFatal(w io.Writer, err error) {
	c := console.New(w, console.ColorAuto)

	var generated *errors.IdentityGeneratedError
	var validation *errors.ValidationError
	var usage *errors.UsageError
	switch {
	case stderrors.As(err, &generated):
		c.Println(c.Bold(err.Error()))
	case stderrors.As(err, &validation):
		c.Println(c.Error(err.Error()))
	case stderrors.As(err, &usage):
		c.Println(c.Error("Error: " + err.Error()))
		c.Println("Run 'prt --help' for usage.")
	default:
		c.Println(c.Error(err.Error()))
	}
}
