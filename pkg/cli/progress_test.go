package cli

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeClock advances by step on every reading.
func fakeClock(step time.Duration) func() time.Time {
	now := time.Date(2016, time.August, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		now = now.Add(step)
		return now
	}
}

func TestLineProgress(t *testing.T) {
	buf := &bytes.Buffer{}
	p := newLineProgress(buf, "events", 0)
	p.now = fakeClock(time.Second)

	p.Start(4)
	p.Update(2)
	if out := buf.String(); !strings.Contains(out, "2/4 events (50.0%)") {
		t.Errorf("expected halfway mark in output: %q", out)
	}
	if out := buf.String(); !strings.Contains(out, "2/s, 1s left") {
		t.Errorf("expected rate and time left in output: %q", out)
	}

	p.Finish()
	out := buf.String()
	if !strings.Contains(out, "4/4 events (100.0%) in 2s") {
		t.Errorf("expected completion and elapsed time in output: %q", out)
	}
	if !strings.HasSuffix(out, "\n") {
		t.Error("expected Finish to end the line")
	}
}

func TestLineProgress_Throttled(t *testing.T) {
	buf := &bytes.Buffer{}
	p := newLineProgress(buf, "events", time.Minute)
	p.now = fakeClock(time.Second)

	p.Start(10)
	p.Update(1)
	p.Update(2)
	if strings.Contains(buf.String(), "1/10") || strings.Contains(buf.String(), "2/10") {
		t.Errorf("expected updates inside the interval to be coalesced: %q", buf.String())
	}

	p.Update(10)
	if !strings.Contains(buf.String(), "10/10") {
		t.Errorf("expected the last item to always redraw: %q", buf.String())
	}
}

func TestLineProgress_UnknownTotal(t *testing.T) {
	buf := &bytes.Buffer{}
	p := newLineProgress(buf, "events", 0)

	p.Start(0)
	p.Update(7)
	p.Finish()

	out := buf.String()
	if !strings.Contains(out, "\r7 events") {
		t.Errorf("expected a plain count: %q", out)
	}
	if strings.Contains(out, "%") {
		t.Errorf("expected no percentage without a total: %q", out)
	}
}

func TestLineProgress_Error(t *testing.T) {
	buf := &bytes.Buffer{}
	progress := NewProgressReporter(buf, "events")

	progress.Start(10)
	progress.Error(errors.New("line 3: invalid event"))

	if !strings.Contains(buf.String(), "error: line 3: invalid event") {
		t.Errorf("unexpected output %q", buf.String())
	}
}

func TestLineProgress_Concurrent(t *testing.T) {
	buf := &bytes.Buffer{}
	p := newLineProgress(buf, "events", 0)
	p.Start(100)

	var wg sync.WaitGroup
	for i := int64(1); i <= 100; i++ {
		wg.Add(1)
		go func(n int64) {
			defer wg.Done()
			p.Update(n)
		}(i)
	}
	wg.Wait()

	if p.current != 100 {
		t.Errorf("current = %d, want 100", p.current)
	}
	p.Finish()
	if !strings.Contains(buf.String(), "100/100") {
		t.Error("expected final progress line")
	}
}
