package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/costtrack/pkg/cli"
	"mercator-hq/costtrack/pkg/cost/events"
)

var replayFlags struct {
	quiet bool
}

var replayCmd = &cobra.Command{
	Use:   "replay FILE",
	Short: "Apply a file of resource events",
	Long: `Apply newline-delimited JSON resource events from FILE through the
event bus, then wait until every event is handled.

Events for the same resource are applied in file order. Malformed lines,
dropped events and dead-lettered events make the command exit with
status 3.

Example event:
  {"type":"resource_changed","resource_id":"vm1","time":"2016-08-08T11:00:00Z",
   "configuration":[{"item_type":"cores","key":"1 core","usage":2}]}`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	rootCmd.AddCommand(replayCmd)

	replayCmd.Flags().BoolVarP(&replayFlags.quiet, "quiet", "q", false, "do not show progress")
}

func runReplay(cmd *cobra.Command, args []string) error {
	path := args[0]
	total, err := countEvents(path)
	if err != nil {
		return err
	}

	ctx, stop := cli.SignalContext(cmd.Context())
	defer stop()

	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		fatalOnce sync.Once
		fatalErr  error
	)
	stats := &replayStats{Observer: a.tracker.Metrics()}
	bus, err := a.newBus(stats, func(ev events.Event, err error) {
		fatalOnce.Do(func() {
			fatalErr = fmt.Errorf("event %s: %w", ev.ID, err)
			cancel()
		})
	})
	if err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	var progress cli.ProgressReporter = nopProgress{}
	if !replayFlags.quiet {
		progress = cli.NewProgressReporter(cmd.ErrOrStderr(), "events")
	}
	progress.Start(int64(total))

	started := time.Now()
	published, malformed, err := publishAll(ctx, events.NewDecoder(f), bus, progress)
	if err != nil {
		progress.Error(err)
	}

	// Drain whatever was published, even after a failure.
	closeErr := bus.Close(context.Background())
	if err == nil {
		progress.Finish()
	}

	switch {
	case fatalErr != nil:
		return cli.NewCommandError("replay", fatalErr)
	case err != nil:
		return cli.NewCommandError("replay", err)
	case closeErr != nil:
		return cli.NewCommandError("replay", closeErr)
	}

	handled, dropped, dead := stats.handled.Load(), stats.dropped.Load(), stats.dead.Load()
	if err := printResult(cmd, summary{
		{"published", strconv.Itoa(published)},
		{"applied", strconv.FormatInt(handled, 10)},
		{"dropped", strconv.FormatInt(dropped, 10)},
		{"dead_lettered", strconv.FormatInt(dead, 10)},
		{"malformed", strconv.Itoa(malformed)},
		{"elapsed", time.Since(started).Round(time.Millisecond).String()},
	}); err != nil {
		return err
	}

	if skipped := dropped + dead + int64(malformed); skipped > 0 {
		return cli.Partial(fmt.Errorf("%d of %d events were not applied", skipped, published+malformed))
	}
	return nil
}

// publishAll publishes every valid event of dec. Malformed lines are
// counted and skipped.
func publishAll(ctx context.Context, dec *events.Decoder, bus *events.Bus, progress cli.ProgressReporter) (published, malformed int, err error) {
	lastBad := -1
	for {
		ev, err := dec.Next()
		if errors.Is(err, io.EOF) {
			return published, malformed, nil
		}
		if err != nil {
			if dec.Line() == lastBad {
				return published, malformed, err
			}
			lastBad = dec.Line()
			malformed++
			continue
		}
		if err := bus.Publish(ctx, ev); err != nil {
			return published, malformed, err
		}
		published++
		progress.Update(int64(published))
	}
}

// countEvents returns the number of valid events in path.
func countEvents(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	dec := events.NewDecoder(f)
	n, lastBad := 0, -1
	for {
		_, err := dec.Next()
		switch {
		case errors.Is(err, io.EOF):
			return n, nil
		case err == nil:
			n++
		case dec.Line() == lastBad:
			return n, fmt.Errorf("failed to read %s: %w", path, err)
		default:
			lastBad = dec.Line()
		}
	}
}

// replayStats counts event outcomes and forwards them to the metrics
// observer.
type replayStats struct {
	events.Observer
	handled atomic.Int64
	dropped atomic.Int64
	dead    atomic.Int64
}

func (s *replayStats) Handled(ev events.Event, elapsed time.Duration) {
	s.handled.Add(1)
	s.Observer.Handled(ev, elapsed)
}

func (s *replayStats) Dropped(ev events.Event, err error) {
	s.dropped.Add(1)
	s.Observer.Dropped(ev, err)
}

func (s *replayStats) DeadLettered(ev events.Event, err error) {
	s.dead.Add(1)
	s.Observer.DeadLettered(ev, err)
}

type nopProgress struct{}

func (nopProgress) Start(int64)  {}
func (nopProgress) Update(int64) {}
func (nopProgress) Finish()      {}
func (nopProgress) Error(error)  {}
