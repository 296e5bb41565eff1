package report

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"prt/internal/console"
	"prt/internal/executor"
	"prt/internal/ssh"
	"prt/internal/target"
)

const refusedReason = "Connection Failed : PRT Caught exception(connection: dial tcp 10.0.0.9:22: connection refused)"

func connected(name string, stdout, stderr []string) *ssh.Result {
	r := ssh.NewResult(target.Host{ID: strings.ToLower(name), Name: name})
	if stdout != nil {
		r.Stdout = stdout
	}
	if stderr != nil {
		r.Stderr = stderr
	}
	return r
}

func failed(name, reason string) *ssh.Result {
	r := ssh.NewResult(target.Host{ID: strings.ToLower(name), Name: name})
	r.Status = ssh.Failed(reason)
	r.Phase = ssh.PhaseConnect
	return r
}

func newTestReporter(t *testing.T, mode console.ColorMode) (*Reporter, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	path := filepath.Join(t.TempDir(), "state", "web_output.txt")
	r := NewReporter(console.New(&out, mode), path, nil)
	r.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 5, 0, time.UTC) }
	return r, &out
}

func resultSet(results ...*ssh.Result) *executor.ResultSet {
	return &executor.ResultSet{
		RunID:   "run-1",
		Pool:    "web",
		Started: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Results: results,
	}
}

func TestStatusToken(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"Connection Succeeded":  "Connection Succeeded",
		refusedReason:           "Connection Failed",
		"Single":                "Single",
		"":                      "",
		"  spaced   out  words": "spaced out",
	}
	for in, want := range tests {
		if got := StatusToken(in); got != want {
			t.Errorf("StatusToken(%q)=%q, want %q", in, got, want)
		}
	}
}

func TestStripANSI(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"\x1b[31;1mred\x1b[00m":  "red",
		"\x1b[2K\x1b[1Gprogress": "progress",
		"plain\ttext":            "plain\ttext",
		"\x1bMreverse":           "reverse",
	}
	for in, want := range tests {
		if got := StripANSI(in); got != want {
			t.Errorf("StripANSI(%q)=%q, want %q", in, got, want)
		}
	}
}

func TestBarWidth(t *testing.T) {
	t.Parallel()

	line := func(n int) string { return strings.Repeat("x", n) }

	tests := []struct {
		name    string
		results []*ssh.Result
		want    int
	}{
		{"no output at all", []*ssh.Result{connected("a", nil, nil), failed("b", refusedReason)}, 10},
		{"single length", []*ssh.Result{connected("a", []string{"hi", "yo"}, nil)}, 10},
		{"spread across hosts", []*ssh.Result{connected("a", []string{line(2)}, nil), connected("b", nil, []string{line(40)})}, 19},
		{"half rounds to even down", []*ssh.Result{connected("a", []string{line(0), line(45)}, nil)}, 22},
		{"half rounds to even up", []*ssh.Result{connected("a", []string{line(0), line(47)}, nil)}, 24},
		{"escapes are not counted", []*ssh.Result{connected("a", []string{"\x1b[31m" + line(60) + "\x1b[0m", line(10)}, nil)}, 25},
		{"wide runes count as two cells", []*ssh.Result{connected("a", []string{strings.Repeat("漢", 30), ""}, nil)}, 30},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BarWidth(tt.results); got != tt.want {
				t.Fatalf("BarWidth=%d, want %d", got, tt.want)
			}
		})
	}
}

func TestWidthsRecomputedPerSet(t *testing.T) {
	t.Parallel()

	first := []*ssh.Result{connected("a-very-long-name", nil, nil)}
	second := []*ssh.Result{connected("ab", nil, nil), failed("abc", refusedReason)}

	if name, _ := Widths(first); name != 16 {
		t.Fatalf("first name width=%d", name)
	}
	name, token := Widths(second)
	if name != 3 || token != len("Connection Succeeded") {
		t.Fatalf("second widths=%d,%d", name, token)
	}
}

func TestReport_TerminalLayout(t *testing.T) {
	t.Parallel()

	r, out := newTestReporter(t, console.ColorNever)
	set := resultSet(
		connected("web", []string{"hi"}, nil),
		connected("database", nil, nil),
		failed("down", refusedReason),
	)

	if err := r.Report(set); err != nil {
		t.Fatalf("Report: %v", err)
	}

	bar := strings.Repeat("=", 10)
	want := strings.Join([]string{
		"",
		"web:       Connection Succeeded  Command Ran Successfully",
		"database:  Connection Succeeded  Command Returned NO Output",
		"down:      Connection Failed     Command Returned NO Output",
		"",
		bar + " web " + bar,
		"",
		"hi",
		"",
		bar + " down " + bar,
		"",
		refusedReason,
		"",
		"Output Is Stored In " + r.TranscriptPath(),
	}, "\n") + "\n"

	if out.String() != want {
		t.Fatalf("terminal output mismatch\n got:\n%s\nwant:\n%s", out.String(), want)
	}
}

func TestReport_StdoutThenStderrBlocks(t *testing.T) {
	t.Parallel()

	r, out := newTestReporter(t, console.ColorNever)
	set := resultSet(connected("mixed", []string{"out"}, []string{"err"}))

	if err := r.Report(set); err != nil {
		t.Fatalf("Report: %v", err)
	}

	got := out.String()
	header := "========== mixed =========="
	if strings.Count(got, header) != 2 {
		t.Fatalf("expected two headers:\n%s", got)
	}
	if !strings.Contains(got, "mixed:  Connection Succeeded  Command Returned An Error") {
		t.Fatalf("summary row missing:\n%s", got)
	}
	if strings.Index(got, "\nout\n") > strings.Index(got, "\nerr\n") {
		t.Fatalf("stdout block must precede stderr block:\n%s", got)
	}
}

func TestReport_TabsSurvive(t *testing.T) {
	t.Parallel()

	r, out := newTestReporter(t, console.ColorAlways)
	set := resultSet(connected("tabs", []string{"a\tb"}, nil))

	if err := r.Report(set); err != nil {
		t.Fatalf("Report: %v", err)
	}
	if !strings.Contains(out.String(), "\na\tb\n") {
		t.Fatalf("raw output altered:\n%q", out.String())
	}
}

func TestReport_TranscriptIsPlainAndAppended(t *testing.T) {
	t.Parallel()

	r, out := newTestReporter(t, console.ColorAlways)
	set := resultSet(
		connected("web", []string{"\x1b[32mgreen\x1b[0m"}, nil),
		failed("down", refusedReason),
	)

	if err := r.Report(set); err != nil {
		t.Fatalf("first Report: %v", err)
	}
	if !strings.Contains(out.String(), "\x1b[") {
		t.Fatalf("forced color produced no escapes")
	}
	if err := r.Report(set); err != nil {
		t.Fatalf("second Report: %v", err)
	}

	data, err := os.ReadFile(r.TranscriptPath())
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	text := string(data)
	if strings.ContainsRune(text, '\x1b') {
		t.Fatalf("transcript contains escape sequences:\n%q", text)
	}
	if n := strings.Count(text, `===== PRT Run run-1 On Pool "web" Started 2024-05-01T12:00:00Z =====`); n != 2 {
		t.Fatalf("start lines=%d, transcript not appended:\n%s", n, text)
	}
	if n := strings.Count(text, "Finished 2024-05-01T12:00:05Z ====="); n != 2 {
		t.Fatalf("end lines=%d", n)
	}
	for _, want := range []string{
		"web:   Connection Succeeded  Command Ran Successfully",
		"down:  Connection Failed     Command Returned NO Output",
		"green",
		refusedReason,
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("transcript missing %q:\n%s", want, text)
		}
	}
	if strings.Contains(text, "Output Is Stored In") {
		t.Fatalf("terminal-only line leaked into transcript")
	}
}

func TestReport_TranscriptFailureStillPrints(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	if err := os.WriteFile(blocker, nil, 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	var out bytes.Buffer
	r := NewReporter(console.New(&out, console.ColorNever), filepath.Join(blocker, "web_output.txt"), nil)
	err := r.Report(resultSet(connected("web", []string{"hi"}, nil)))
	if err == nil {
		t.Fatalf("expected transcript error")
	}
	if !strings.Contains(out.String(), "web:  Connection Succeeded  Command Ran Successfully") {
		t.Fatalf("report not printed:\n%s", out.String())
	}
	if strings.Contains(out.String(), "Output Is Stored In") {
		t.Fatalf("claimed a transcript that was not written")
	}
}
