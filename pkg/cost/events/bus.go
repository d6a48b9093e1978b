package events

import (
	"context"
	"errors"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"mercator-hq/costtrack/pkg/telemetry/tracing"
)

// ErrBusClosed is returned by Publish after Close.
var ErrBusClosed = errors.New("event bus closed")

// Disposition tells the bus what to do with a failed event.
type Disposition int

const (
	// Retry re-runs the handler with backoff, then dead-letters the event.
	Retry Disposition = iota

	// Drop discards the event.
	Drop

	// Fatal reports the event to the fatal handler.
	Fatal
)

func (d Disposition) String() string {
	switch d {
	case Retry:
		return "retry"
	case Drop:
		return "drop"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Classifier maps a handler error to a Disposition.
type Classifier func(error) Disposition

// Observer is notified of event outcomes. Implementations must be safe for
// concurrent use.
type Observer interface {
	Handled(ev Event, elapsed time.Duration)
	Retried(ev Event, attempt int, err error)
	Dropped(ev Event, err error)
	DeadLettered(ev Event, err error)
}

type nopObserver struct{}

func (nopObserver) Handled(Event, time.Duration) {}
func (nopObserver) Retried(Event, int, error)    {}
func (nopObserver) Dropped(Event, error)         {}
func (nopObserver) DeadLettered(Event, error)    {}

// Config contains configuration for the event bus.
type Config struct {
	// Workers is the number of partitions, each drained by one goroutine.
	// Default: 8
	Workers int

	// QueueSize is the total buffer across all partitions.
	// Default: 1024
	QueueSize int

	// MaxAttempts bounds how often a retryable event is handled.
	// Default: 5
	MaxAttempts int

	// InitialBackoff is the first retry delay.
	// Default: 100ms
	InitialBackoff time.Duration

	// MaxBackoff caps the retry delay.
	// Default: 5 seconds
	MaxBackoff time.Duration

	// HandleTimeout bounds a single handler call.
	// Default: 30 seconds
	HandleTimeout time.Duration
}

// DefaultConfig returns the default bus configuration.
func DefaultConfig() *Config {
	return &Config{
		Workers:        8,
		QueueSize:      1024,
		MaxAttempts:    5,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		HandleTimeout:  30 * time.Second,
	}
}

func (c *Config) withDefaults() Config {
	d := DefaultConfig()
	out := *c
	if out.Workers <= 0 {
		out.Workers = d.Workers
	}
	if out.QueueSize <= 0 {
		out.QueueSize = d.QueueSize
	}
	if out.MaxAttempts <= 0 {
		out.MaxAttempts = d.MaxAttempts
	}
	if out.InitialBackoff <= 0 {
		out.InitialBackoff = d.InitialBackoff
	}
	if out.MaxBackoff < out.InitialBackoff {
		out.MaxBackoff = d.MaxBackoff
	}
	if out.HandleTimeout <= 0 {
		out.HandleTimeout = d.HandleTimeout
	}
	return out
}

// Option configures a Bus.
type Option func(*Bus)

// WithClassifier sets the error classifier. By default every error is
// retried.
func WithClassifier(c Classifier) Option {
	return func(b *Bus) { b.classify = c }
}

// WithDeadLetters sets the dead-letter queue.
func WithDeadLetters(q DeadLetterQueue) Option {
	return func(b *Bus) { b.dead = q }
}

// WithObserver sets the outcome observer.
func WithObserver(o Observer) Option {
	return func(b *Bus) { b.observer = o }
}

// WithFatalHandler sets the function called for Fatal errors.
func WithFatalHandler(fn func(ev Event, err error)) Option {
	return func(b *Bus) { b.onFatal = fn }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) { b.logger = l.With("component", "cost.events") }
}

// Bus delivers events to a Handler on partitioned workers. Events with the
// same key are handled one at a time in publish order.
type Bus struct {
	cfg      Config
	handler  Handler
	classify Classifier
	dead     DeadLetterQueue
	observer Observer
	onFatal  func(Event, error)
	logger   *slog.Logger

	shards []chan Event
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// NewBus starts the workers of a bus delivering to handler.
func NewBus(handler Handler, cfg *Config, opts ...Option) *Bus {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bus{
		cfg:      cfg.withDefaults(),
		handler:  handler,
		classify: func(error) Disposition { return Retry },
		dead:     NewMemoryDeadLetters(),
		observer: nopObserver{},
		logger:   slog.Default().With("component", "cost.events"),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.onFatal == nil {
		b.onFatal = func(ev Event, err error) {
			b.logger.Error("fatal event failure", "event_id", ev.ID, "key", ev.Key(), "error", err)
		}
	}

	perShard := b.cfg.QueueSize / b.cfg.Workers
	if perShard < 1 {
		perShard = 1
	}
	b.shards = make([]chan Event, b.cfg.Workers)
	for i := range b.shards {
		b.shards[i] = make(chan Event, perShard)
		b.wg.Add(1)
		go b.worker(b.shards[i])
	}

	b.logger.Info("event bus started",
		"workers", b.cfg.Workers,
		"queue_size", b.cfg.QueueSize,
		"max_attempts", b.cfg.MaxAttempts,
	)
	return b
}

// Publish enqueues ev on its partition. It blocks while the partition is
// full, until ctx is done or the bus is closed. An event without trace
// context inherits the one of ctx.
func (b *Bus) Publish(ctx context.Context, ev Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	if ev.Trace == nil {
		ev.Trace = tracing.InjectMap(ctx)
	}
	select {
	case <-b.done:
		return ErrBusClosed
	default:
	}

	ch := b.shards[b.shardFor(ev.Key())]
	select {
	case ch <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-b.done:
		return ErrBusClosed
	}
}

// Pending returns the number of queued events.
func (b *Bus) Pending() int {
	n := 0
	for _, ch := range b.shards {
		n += len(ch)
	}
	return n
}

// Close stops accepting events and handles what is queued. When ctx ends
// first, in-flight retries are abandoned to the dead-letter queue.
func (b *Bus) Close(ctx context.Context) error {
	b.once.Do(func() { close(b.done) })

	drained := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		b.cancel()
		b.logger.Info("event bus shut down")
		return nil
	case <-ctx.Done():
		b.cancel()
		<-drained
		return ctx.Err()
	}
}

func (b *Bus) shardFor(key string) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(b.shards)))
}

func (b *Bus) worker(ch chan Event) {
	defer b.wg.Done()
	for {
		select {
		case ev := <-ch:
			b.process(ev)
		case <-b.done:
			for {
				select {
				case ev := <-ch:
					b.process(ev)
				default:
					return
				}
			}
		}
	}
}

func (b *Bus) process(ev Event) {
	start := time.Now()
	logger := b.logger.With("event_id", ev.ID, "event_type", ev.Type, "key", ev.Key())

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = b.cfg.InitialBackoff
	exp.MaxInterval = b.cfg.MaxBackoff
	exp.Reset()

	attempts := 0
	_, err := backoff.Retry(b.ctx, func() (struct{}, error) {
		attempts++
		ctx, cancel := context.WithTimeout(tracing.ExtractMap(b.ctx, ev.Trace), b.cfg.HandleTimeout)
		defer cancel()

		err := b.handler.Handle(ctx, ev)
		if err == nil {
			return struct{}{}, nil
		}
		if b.classify(err) != Retry {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(exp),
		backoff.WithMaxTries(uint(b.cfg.MaxAttempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Debug("retrying event", "attempt", attempts, "next_in", next, "error", err)
			b.observer.Retried(ev, attempts, err)
		}),
	)
	if err == nil {
		b.observer.Handled(ev, time.Since(start))
		return
	}

	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Unwrap()
	}

	switch b.classify(err) {
	case Drop:
		logger.Warn("dropping event", "error", err)
		b.observer.Dropped(ev, err)
	case Fatal:
		b.onFatal(ev, err)
	default:
		logger.Error("dead-lettering event", "attempts", attempts, "error", err)
		dl := DeadLetter{Event: ev, Error: err.Error(), Attempts: attempts, At: time.Now().UTC()}
		if qerr := b.dead.Put(context.Background(), dl); qerr != nil {
			logger.Error("failed to store dead letter", "error", qerr)
		}
		b.observer.DeadLettered(ev, err)
	}
}
