package executor

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"prt/internal/identity"
	"prt/internal/pool"
	"prt/internal/ssh"
	"prt/internal/target"
)

type fakeRunner struct {
	delay    time.Duration
	failIDs  map[string]bool
	active   atomic.Int32
	peak     atomic.Int32
	mu       sync.Mutex
	commands []string
	starts   []time.Time
}

func (f *fakeRunner) Run(ctx context.Context, host target.Host, command string) *ssh.Result {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		peak := f.peak.Load()
		if n <= peak || f.peak.CompareAndSwap(peak, n) {
			break
		}
	}

	f.mu.Lock()
	f.commands = append(f.commands, command)
	f.starts = append(f.starts, time.Now())
	f.mu.Unlock()

	result := ssh.NewResult(host)
	select {
	case <-time.After(f.delay):
	case <-ctx.Done():
		result.Fail(ssh.PhaseExecute, ctx.Err())
		return result
	}
	if f.failIDs[host.ID] {
		result.Fail(ssh.PhaseConnect, stderrors.New("dial tcp: connection refused"))
		return result
	}
	result.Stdout = []string{"hello from " + host.ID}
	return result
}

type fakeProvisioner struct {
	calls int
	err   error
}

func (f *fakeProvisioner) Ensure() (identity.Keypair, error) {
	f.calls++
	return identity.Keypair{}, f.err
}

func testPool(n int) *pool.Pool {
	hosts := make([]target.Host, n)
	for i := range hosts {
		hosts[i] = target.Host{
			ID:      fmt.Sprintf("host%02d", i),
			Name:    fmt.Sprintf("Host %d", i),
			User:    "root",
			Address: "10.0.0.1",
			Port:    22,
		}
	}
	return pool.New("test", hosts)
}

func TestDispatchAll_OneResultPerHost(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{delay: 5 * time.Millisecond, failIDs: map[string]bool{"host03": true, "host07": true}}
	prov := &fakeProvisioner{}
	d := NewDispatcher(ExecutorConfig{}, runner, prov, nil)

	var observed int
	d.OnResult = func(*ssh.Result) { observed++ }

	set, err := d.DispatchAll(context.Background(), testPool(10), "uptime")
	if err != nil {
		t.Fatalf("DispatchAll: %v", err)
	}
	if len(set.Results) != 10 || observed != 10 {
		t.Fatalf("results=%d observed=%d", len(set.Results), observed)
	}
	if prov.calls != 1 {
		t.Fatalf("provisioner called %d times", prov.calls)
	}

	ids := make([]string, 0, len(set.Results))
	for _, r := range set.Results {
		ids = append(ids, r.HostID)
	}
	sort.Strings(ids)
	for i, id := range ids {
		if want := fmt.Sprintf("host%02d", i); id != want {
			t.Fatalf("ids=%v", ids)
		}
	}

	if set.Summary.Failed != 2 || set.Summary.Connected != 8 {
		t.Fatalf("summary=%+v", set.Summary)
	}
	if set.RunID == "" || set.Pool != "test" || set.Command != "uptime" {
		t.Fatalf("set metadata=%+v", set)
	}
	for _, cmd := range runner.commands {
		if cmd != "uptime" {
			t.Fatalf("command altered: %q", cmd)
		}
	}
}

func TestDispatchAll_BoundedConcurrency(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{delay: 20 * time.Millisecond}
	d := NewDispatcher(ExecutorConfig{Concurrency: 3}, runner, &fakeProvisioner{}, nil)

	set, err := d.DispatchAll(context.Background(), testPool(12), "true")
	if err != nil {
		t.Fatalf("DispatchAll: %v", err)
	}
	if len(set.Results) != 12 {
		t.Fatalf("results=%d", len(set.Results))
	}
	if peak := runner.peak.Load(); peak > 3 {
		t.Fatalf("peak concurrency %d exceeds 3", peak)
	}
}

func TestDispatchAll_DefaultIsOneWorkerPerHost(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{delay: 100 * time.Millisecond}
	d := NewDispatcher(ExecutorConfig{}, runner, &fakeProvisioner{}, nil)

	start := time.Now()
	if _, err := d.DispatchAll(context.Background(), testPool(8), "true"); err != nil {
		t.Fatalf("DispatchAll: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 600*time.Millisecond {
		t.Fatalf("hosts ran serially: %v", elapsed)
	}
}

func TestDispatchAll_ProvisionerErrorAborts(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	prov := &fakeProvisioner{err: stderrors.New("key generation failed")}
	d := NewDispatcher(ExecutorConfig{}, runner, prov, nil)

	set, err := d.DispatchAll(context.Background(), testPool(3), "true")
	if err == nil || set != nil {
		t.Fatalf("expected provisioning error, got set=%v err=%v", set, err)
	}
	if len(runner.commands) != 0 {
		t.Fatalf("hosts contacted before identity was ready")
	}
}

func TestDispatchAll_PerHostTimeout(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{delay: 5 * time.Second}
	d := NewDispatcher(ExecutorConfig{Timeout: 50 * time.Millisecond}, runner, &fakeProvisioner{}, nil)

	set, err := d.DispatchAll(context.Background(), testPool(4), "sleep 60")
	if err != nil {
		t.Fatalf("DispatchAll: %v", err)
	}
	if set.Summary.Failed != 4 {
		t.Fatalf("summary=%+v", set.Summary)
	}
}

func TestDispatchAll_DialRatePacesSessions(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	d := NewDispatcher(ExecutorConfig{DialRate: 20}, runner, &fakeProvisioner{}, nil)

	start := time.Now()
	set, err := d.DispatchAll(context.Background(), testPool(5), "true")
	if err != nil {
		t.Fatalf("DispatchAll: %v", err)
	}
	if len(set.Results) != 5 || set.Summary.Failed != 0 {
		t.Fatalf("results=%d summary=%+v", len(set.Results), set.Summary)
	}
	// One token up front, then one every 50ms.
	if elapsed := time.Since(start); elapsed < 180*time.Millisecond {
		t.Fatalf("5 sessions at 20/s finished in %v", elapsed)
	}

	starts := append([]time.Time(nil), runner.starts...)
	sort.Slice(starts, func(i, j int) bool { return starts[i].Before(starts[j]) })
	if spread := starts[len(starts)-1].Sub(starts[0]); spread < 180*time.Millisecond {
		t.Fatalf("session starts spread over %v", spread)
	}
}

func TestDispatchAll_CancelledStillReportsEveryHost(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{delay: 5 * time.Second}
	d := NewDispatcher(ExecutorConfig{Concurrency: 2, DialRate: 1000}, runner, &fakeProvisioner{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	set, err := d.DispatchAll(ctx, testPool(6), "sleep 60")
	if err != nil {
		t.Fatalf("DispatchAll: %v", err)
	}
	if len(set.Results) != 6 || set.Summary.Failed != 6 {
		t.Fatalf("results=%d summary=%+v", len(set.Results), set.Summary)
	}
}

func TestCalculateConcurrency(t *testing.T) {
	t.Parallel()

	tests := []struct {
		configured, hosts, want int
	}{
		{0, 5, 5},
		{0, 0, 1},
		{3, 10, 3},
		{20, 10, 10},
		{-1, 4, 4},
		{0, 5000, 1000},
		{2000, 5000, 1000},
	}
	for _, tt := range tests {
		if got := calculateConcurrency(tt.configured, tt.hosts); got != tt.want {
			t.Errorf("calculateConcurrency(%d, %d)=%d, want %d", tt.configured, tt.hosts, got, tt.want)
		}
	}
}
