// Package progress draws a completion bar while hosts finish.
package progress

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"prt/internal/ssh"
)

const (
	barWidth     = 40
	drawInterval = 100 * time.Millisecond
)

// ProgressTracker tracks and displays per-host completion
type ProgressTracker struct {
	total     int
	connected int
	failed    int
	startTime time.Time
	mu        sync.Mutex
	writer    io.Writer
	enabled   bool
	lastDraw  time.Time
}

// NewProgressTracker creates a new progress tracker
func NewProgressTracker(total int, writer io.Writer, enabled bool) *ProgressTracker {
	return &ProgressTracker{
		total:     total,
		startTime: time.Now(),
		writer:    writer,
		enabled:   enabled,
	}
}

// Observe records a finished host. It matches the dispatcher's OnResult hook.
func (p *ProgressTracker) Observe(result *ssh.Result) {
	p.Update(!result.Failed())
}

// Update increments the progress counters
func (p *ProgressTracker) Update(connected bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if connected {
		p.connected++
	} else {
		p.failed++
	}

	if p.enabled {
		p.draw(p.connected+p.failed == p.total)
	}
}

// Finish clears the bar and prints a one-line tally
func (p *ProgressTracker) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.enabled {
		return
	}
	elapsed := time.Since(p.startTime).Round(time.Millisecond)
	fmt.Fprintf(p.writer, "\r\033[K")
	if p.failed == 0 {
		fmt.Fprintf(p.writer, "Completed %d/%d hosts in %v\n", p.connected, p.total, elapsed)
	} else {
		fmt.Fprintf(p.writer, "Completed %d/%d hosts (%d connected, %d failed) in %v\n",
			p.connected+p.failed, p.total, p.connected, p.failed, elapsed)
	}
}

// draw renders the current progress bar; force skips the throttle
func (p *ProgressTracker) draw(force bool) {
	now := time.Now()
	if !force && !p.lastDraw.IsZero() && now.Sub(p.lastDraw) < drawInterval {
		return
	}
	p.lastDraw = now

	if p.total == 0 {
		return
	}
	done := p.connected + p.failed
	percentage := float64(done) / float64(p.total) * 100
	filled := barWidth * done / p.total
	bar := strings.Repeat("█", filled) + strings.Repeat("-", barWidth-filled)

	fmt.Fprintf(p.writer, "\rProgress |%s| %.2f%% (%d/%d) Complete", bar, percentage, done, p.total)
}
