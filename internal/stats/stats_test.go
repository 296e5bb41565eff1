package stats

import (
	stderrors "errors"
	"strings"
	"testing"
	"time"

	"prt/internal/ssh"
	"prt/internal/target"
)

func result(id string, stdout, stderr []string) *ssh.Result {
	r := ssh.NewResult(target.Host{ID: id})
	r.Stdout = stdout
	r.Stderr = stderr
	return r
}

func TestClassify(t *testing.T) {
	t.Parallel()

	failed := ssh.NewResult(target.Host{ID: "x"})
	failed.Fail(ssh.PhaseConnect, stderrors.New("connection refused"))

	tests := []struct {
		name string
		r    *ssh.Result
		want string
	}{
		{"stdout only", result("a", []string{"hi"}, nil), CommandSucceeded},
		{"stderr only", result("a", nil, []string{"oops"}), CommandErrored},
		{"both streams", result("a", []string{"hi"}, []string{"warn"}), CommandErrored},
		{"no output", result("a", nil, nil), CommandNoOutput},
		{"failed host", failed, CommandNoOutput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.r); got != tt.want {
				t.Fatalf("Classify=%q, want %q", got, tt.want)
			}
		})
	}
}

func TestSummarize(t *testing.T) {
	t.Parallel()

	failed := ssh.NewResult(target.Host{ID: "down"})
	failed.Fail(ssh.PhaseConnect, stderrors.New("connection refused"))

	exited := result("exit", nil, []string{"boom"})
	exited.ExitCode = 1
	exited.CloseErr = stderrors.New("close")

	results := []*ssh.Result{
		result("ok", []string{"hello"}, nil),
		result("quiet", nil, nil),
		exited,
		failed,
	}

	s := Summarize(results, 2*time.Second)
	want := Summary{
		Total:       4,
		Connected:   3,
		Failed:      1,
		Errored:     1,
		Succeeded:   1,
		NoOutput:    2,
		NonZeroExit: 1,
		CloseErrors: 1,
		OutputBytes: int64(len("hello\n") + len("boom\n")),
		Elapsed:     2 * time.Second,
	}
	if s != want {
		t.Fatalf("Summarize=%+v, want %+v", s, want)
	}
	if !strings.Contains(s.String(), "4 hosts: 3 connected, 1 failed") {
		t.Fatalf("String=%q", s.String())
	}
	if len(s.LogAttrs())%2 != 0 {
		t.Fatalf("LogAttrs must be key/value pairs")
	}
}

func TestFormatBytes(t *testing.T) {
	t.Parallel()

	tests := map[int64]string{
		0:       "0 B",
		1023:    "1023 B",
		1024:    "1.0 KB",
		1536:    "1.5 KB",
		1 << 20: "1.0 MB",
	}
	for in, want := range tests {
		if got := formatBytes(in); got != want {
			t.Errorf("formatBytes(%d)=%q, want %q", in, got, want)
		}
	}
}
