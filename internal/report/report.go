// Package report renders a dispatch as an aligned summary plus per-host
// output blocks, and appends the same lines to the pool's transcript.
package report

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"prt/internal/console"
	"prt/internal/executor"
	"prt/internal/logging"
	"prt/internal/ssh"
	"prt/internal/stats"
)

// MinBarWidth is the narrowest separator drawn around a host name
const MinBarWidth = 10

const barChar = "="

// ansiEscape matches CSI sequences and two-byte escapes
var ansiEscape = regexp.MustCompile(`\x1B(?:[@-Z\\-_]|\[[0-?]*[ -/]*[@-~])`)

// StripANSI removes terminal escape sequences from s
func StripANSI(s string) string {
	return ansiEscape.ReplaceAllString(s, "")
}

// StatusToken returns the first two words of a status line
func StatusToken(status string) string {
	fields := strings.Fields(status)
	if len(fields) > 2 {
		fields = fields[:2]
	}
	return strings.Join(fields, " ")
}

// Widths returns the widest display name and status token in results
func Widths(results []*ssh.Result) (name, token int) {
	for _, r := range results {
		name = max(name, console.Width(r.DisplayName))
		token = max(token, console.Width(StatusToken(r.Status.String())))
	}
	return name, token
}

// SummaryRow formats one aligned summary line without styling
func SummaryRow(r *ssh.Result, nameWidth, tokenWidth int) string {
	token := StatusToken(r.Status.String())
	return r.DisplayName + ":  " + pad(nameWidth, r.DisplayName) + token + "  " + pad(tokenWidth, token) + stats.Classify(r)
}

// BarWidth sizes the detail separators from the spread of output line
// widths in terminal cells: half the difference between the widest and
// narrowest line, rounded half to even, never below MinBarWidth.
func BarWidth(results []*ssh.Result) int {
	shortest, longest := -1, 0
	measure := func(lines []string) {
		for _, line := range lines {
			n := console.Width(line)
			if shortest < 0 || n < shortest {
				shortest = n
			}
			longest = max(longest, n)
		}
	}
	for _, r := range results {
		measure(r.Stdout)
		measure(r.Stderr)
	}
	if shortest < 0 {
		return MinBarWidth
	}
	return max(MinBarWidth, int(math.RoundToEven(float64(longest-shortest)/2)))
}

// Header returns the three lines that open a host's detail block
func Header(name string, width int) []string {
	bar := strings.Repeat(barChar, width)
	return []string{"", bar + " " + name + " " + bar, ""}
}

func pad(width int, s string) string {
	return strings.Repeat(" ", max(0, width-console.Width(s)))
}

// Reporter writes the report to a console and the transcript file
type Reporter struct {
	console        *console.Console
	transcriptPath string
	logger         *logging.Logger
	now            func() time.Time
}

// NewReporter creates a reporter appending to transcriptPath
func NewReporter(c *console.Console, transcriptPath string, logger *logging.Logger) *Reporter {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Reporter{
		console:        c,
		transcriptPath: transcriptPath,
		logger:         logger,
		now:            time.Now,
	}
}

// TranscriptPath returns the file the reporter appends to
func (r *Reporter) TranscriptPath() string {
	return r.transcriptPath
}

// Report prints the summary and detail blocks for set. The terminal always
// gets the full report; a transcript failure is returned afterwards.
func (r *Reporter) Report(set *executor.ResultSet) error {
	transcript, closeTranscript, openErr := r.openTranscript()
	if openErr != nil {
		r.logger.Error("transcript unavailable", "path", r.transcriptPath, "error", openErr.Error())
	}

	w := &sink{console: r.console, transcript: transcript}
	w.transcriptOnly(fmt.Sprintf("===== PRT Run %s On Pool %q Started %s =====",
		set.RunID, set.Pool, set.Started.Format(time.RFC3339)))
	w.transcriptOnly("")
	w.consoleOnly("")

	r.writeSummary(w, set.Results)
	r.writeDetails(w, set.Results)

	w.transcriptOnly("")
	w.transcriptOnly(fmt.Sprintf("===== PRT Run %s On Pool %q Finished %s =====",
		set.RunID, set.Pool, r.now().Format(time.RFC3339)))

	if openErr != nil {
		return fmt.Errorf("failed to open transcript %s: %w", r.transcriptPath, openErr)
	}
	if err := closeTranscript(); err != nil {
		return fmt.Errorf("failed to write transcript %s: %w", r.transcriptPath, err)
	}

	w.consoleOnly("")
	w.consoleOnly("Output Is Stored In " + r.transcriptPath)
	return nil
}

func (r *Reporter) writeSummary(w *sink, results []*ssh.Result) {
	nameWidth, tokenWidth := Widths(results)
	for _, res := range results {
		token := StatusToken(res.Status.String())
		class := stats.Classify(res)

		styledToken := r.console.Success(token)
		if res.Failed() {
			styledToken = r.console.Error(token)
		}
		styledClass := r.console.Success(class)
		switch class {
		case stats.CommandErrored:
			styledClass = r.console.Error(class)
		case stats.CommandNoOutput:
			styledClass = r.console.Warning(class)
		}

		styled := res.DisplayName + ":  " + pad(nameWidth, res.DisplayName) + styledToken + "  " + pad(tokenWidth, token) + styledClass
		w.line(styled, SummaryRow(res, nameWidth, tokenWidth))
	}
}

func (r *Reporter) writeDetails(w *sink, results []*ssh.Result) {
	width := BarWidth(results)
	for _, res := range results {
		if len(res.Stdout) > 0 {
			w.raw(Header(res.DisplayName, width)...)
			w.raw(res.Stdout...)
		}
		if len(res.Stderr) > 0 {
			w.raw(Header(res.DisplayName, width)...)
			w.raw(res.Stderr...)
		}
		if res.Failed() {
			w.raw(Header(res.DisplayName, width)...)
			reason := res.Status.String()
			w.line(r.console.Error(reason), reason)
		}
	}
}

func (r *Reporter) openTranscript() (io.Writer, func() error, error) {
	if err := os.MkdirAll(filepath.Dir(r.transcriptPath), 0o700); err != nil {
		return io.Discard, nil, err
	}
	f, err := os.OpenFile(r.transcriptPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return io.Discard, nil, err
	}
	buf := bufio.NewWriter(f)
	return buf, func() error {
		flushErr := buf.Flush()
		closeErr := f.Close()
		if flushErr != nil {
			return flushErr
		}
		return closeErr
	}, nil
}

// sink sends each line to the console and, escape-free, to the transcript
type sink struct {
	console    *console.Console
	transcript io.Writer
}

// line writes styled text to the console and plain text to the transcript
func (s *sink) line(styled, plain string) {
	s.console.Println(styled)
	s.transcriptOnly(plain)
}

// raw writes lines as received; the transcript copy is stripped of escapes
func (s *sink) raw(lines ...string) {
	for _, l := range lines {
		s.line(l, l)
	}
}

func (s *sink) consoleOnly(line string) {
	s.console.Println(line)
}

func (s *sink) transcriptOnly(line string) {
	fmt.Fprintln(s.transcript, StripANSI(line))
}
