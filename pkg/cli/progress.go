package cli

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// ProgressReporter reports progress for long-running operations.
type ProgressReporter interface {
	Start(total int64)
	Update(current int64)
	Finish()
	Error(err error)
}

const redrawInterval = 100 * time.Millisecond

// LineProgress redraws a single status line with the count, the rate and
// the estimated time left. Updates are coalesced to one redraw per interval.
type LineProgress struct {
	mu       sync.Mutex
	w        io.Writer
	unit     string
	interval time.Duration
	now      func() time.Time

	total   int64
	current int64
	started time.Time
	drawn   time.Time
}

// NewProgressReporter creates a progress reporter that writes to w,
// counting unit. If w is nil, it defaults to os.Stderr.
func NewProgressReporter(w io.Writer, unit string) ProgressReporter {
	return newLineProgress(w, unit, redrawInterval)
}

func newLineProgress(w io.Writer, unit string, interval time.Duration) *LineProgress {
	if w == nil {
		w = os.Stderr
	}
	return &LineProgress{w: w, unit: unit, interval: interval, now: time.Now}
}

// Start resets the counter. A total of zero means unknown.
func (p *LineProgress) Start(total int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.total, p.current = total, 0
	p.started = p.now()
	p.draw(p.started)
}

// Update records the number of items done so far. Smaller values than the
// last one seen are ignored so concurrent callers cannot move it backwards.
func (p *LineProgress) Update(current int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if current < p.current {
		return
	}
	p.current = current
	now := p.now()
	if current == p.total || now.Sub(p.drawn) >= p.interval {
		p.draw(now)
	}
}

// Finish draws the final line and the elapsed time.
func (p *LineProgress) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.total > 0 {
		p.current = p.total
	}
	now := p.now()
	p.drawSuffix(now, fmt.Sprintf(" in %s", now.Sub(p.started).Round(time.Millisecond)))
	fmt.Fprintln(p.w)
}

// Error ends the status line with err.
func (p *LineProgress) Error(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintf(p.w, "\nerror: %v\n", err)
}

func (p *LineProgress) draw(now time.Time) { p.drawSuffix(now, "") }

func (p *LineProgress) drawSuffix(now time.Time, suffix string) {
	p.drawn = now
	if p.total <= 0 {
		fmt.Fprintf(p.w, "\r%d %s%s", p.current, p.unit, suffix)
		return
	}

	line := fmt.Sprintf("\r%d/%d %s (%.1f%%)", p.current, p.total, p.unit,
		float64(p.current)/float64(p.total)*100)
	if elapsed := now.Sub(p.started); elapsed > 0 && p.current > 0 && p.current < p.total {
		rate := float64(p.current) / elapsed.Seconds()
		left := time.Duration(float64(p.total-p.current) / rate * float64(time.Second))
		line += fmt.Sprintf(" %.0f/s, %s left", rate, left.Round(time.Second))
	}
	// Pad over the tail of a longer previous line.
	fmt.Fprintf(p.w, "%-60s", line+suffix)
}
