package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"prt/internal/config"
	"prt/internal/identity"
	"prt/internal/logging"
	"prt/internal/pool"
	"prt/internal/ssh"
	"prt/internal/stats"
	"prt/internal/target"
)

// ExecutorConfig holds configuration parameters for the dispatcher
type ExecutorConfig struct {
	Concurrency int           // Maximum number of concurrent sessions (0 for one per host)
	Timeout     time.Duration // Per-host session deadline (0 for none)
	DialRate    float64       // New sessions per second (0 for unlimited)
}

// Runner runs one command on one host. Run must never return nil.
type Runner interface {
	Run(ctx context.Context, host target.Host, command string) *ssh.Result
}

// Provisioner makes sure the shared identity exists
type Provisioner interface {
	Ensure() (identity.Keypair, error)
}

// ResultSet is the outcome of one dispatch
type ResultSet struct {
	RunID    string
	Pool     string
	Command  string
	Started  time.Time
	Finished time.Time
	Results  []*ssh.Result // One per host, in completion order
	Summary  stats.Summary
}

// Dispatcher fans a command out over a pool with a bounded set of workers
type Dispatcher struct {
	config      ExecutorConfig
	runner      Runner
	provisioner Provisioner
	logger      *logging.Logger

	// OnStart, when set, is called after provisioning and before the first
	// session opens.
	OnStart func(hostCount int)

	// OnResult, when set, is called once per host as results arrive. Calls
	// are serialized.
	OnResult func(*ssh.Result)
}

// NewDispatcher creates a dispatcher
func NewDispatcher(cfg ExecutorConfig, runner Runner, provisioner Provisioner, logger *logging.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Dispatcher{
		config:      cfg,
		runner:      runner,
		provisioner: provisioner,
		logger:      logger,
	}
}

// DispatchAll provisions the identity, runs command on every host in p and
// waits for all of them. The returned set holds exactly one result per host.
// Only a provisioning error is returned; per-host failures live in the
// results.
func (d *Dispatcher) DispatchAll(ctx context.Context, p *pool.Pool, command string) (*ResultSet, error) {
	if d.provisioner != nil {
		if _, err := d.provisioner.Ensure(); err != nil {
			return nil, err
		}
	}

	hosts := p.Hosts()
	set := &ResultSet{
		RunID:   uuid.NewString(),
		Pool:    p.Name,
		Command: command,
		Started: time.Now(),
		Results: make([]*ssh.Result, 0, len(hosts)),
	}

	logger := d.logger.With("run_id", set.RunID, "pool", p.Name)
	workers := calculateConcurrency(d.config.Concurrency, len(hosts))
	logger.LogDispatchStart(len(hosts), workers)
	if d.OnStart != nil {
		d.OnStart(len(hosts))
	}

	var limiter *rate.Limiter
	if d.config.DialRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(d.config.DialRate), 1)
	}

	jobs := make(chan target.Host, len(hosts))
	for _, host := range hosts {
		jobs <- host
	}
	close(jobs)

	results := make(chan *ssh.Result, len(hosts))
	var g errgroup.Group
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for host := range jobs {
				results <- d.runHost(ctx, limiter, host, command)
			}
			return nil
		})
	}
	go func() {
		g.Wait()
		close(results)
	}()

	for result := range results {
		set.Results = append(set.Results, result)
		if d.OnResult != nil {
			d.OnResult(result)
		}
	}

	set.Finished = time.Now()
	set.Summary = stats.Summarize(set.Results, set.Finished.Sub(set.Started))
	logger.LogDispatchComplete(set.Summary.LogAttrs()...)
	return set, nil
}

// runHost applies dial pacing and the per-host deadline around one session
func (d *Dispatcher) runHost(ctx context.Context, limiter *rate.Limiter, host target.Host, command string) *ssh.Result {
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			result := ssh.NewResult(host)
			result.Fail(ssh.PhaseConnect, err)
			return result
		}
	}

	hostCtx := ctx
	if d.config.Timeout > 0 {
		var cancel context.CancelFunc
		hostCtx, cancel = context.WithTimeout(ctx, d.config.Timeout)
		defer cancel()
	}

	result := d.runner.Run(hostCtx, host, command)
	if result == nil {
		result = ssh.NewResult(host)
		result.Fail(ssh.PhaseExecute, fmt.Errorf("runner returned no result for %s", host.ID))
	}
	return result
}

// calculateConcurrency determines the worker count from configuration and host count
func calculateConcurrency(configConcurrency int, hostCount int) int {
	if hostCount <= 0 {
		return 1
	}
	if configConcurrency <= 0 || configConcurrency > hostCount {
		configConcurrency = hostCount
	}
	if configConcurrency > config.MaxConcurrency {
		return config.MaxConcurrency
	}
	return configConcurrency
}
