package idempotency

import (
	"time"

	"github.com/rs/zerolog"
)

// Defaults used by New when no option overrides them.
const (
	DefaultTTL          = time.Hour
	DefaultLockTTL      = 30 * time.Second
	DefaultWaitTimeout  = 10 * time.Second
	DefaultPollInterval = 25 * time.Millisecond
)

// Event names an observable guard outcome.
type Event string

const (
	EventExecuted   Event = "executed"
	EventReplayed   Event = "replayed"
	EventConflict   Event = "conflict"
	EventReleased   Event = "released"
	EventInProgress Event = "in_progress"
	EventStoreError Event = "store_error"
)

// Observer receives guard events, typically to feed metrics. op names the
// store operation for EventStoreError and is empty otherwise.
type Observer func(ev Event, op string)

// Option configures a Guard.
type Option func(*options)

type options struct {
	ttl          time.Duration
	lockTTL      time.Duration
	waitTimeout  time.Duration
	pollInterval time.Duration
	now          func() time.Time
	logger       zerolog.Logger
	observe      Observer
}

func defaultOptions() options {
	return options{
		ttl:          DefaultTTL,
		lockTTL:      DefaultLockTTL,
		waitTimeout:  DefaultWaitTimeout,
		pollInterval: DefaultPollInterval,
		now:          time.Now,
		logger:       zerolog.Nop(),
		observe:      func(Event, string) {},
	}
}

// WithTTL sets how long completed records are retained for replay.
func WithTTL(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.ttl = d
		}
	}
}

// WithLockTTL sets how long a reservation lives if its owner never completes
// or releases it (for example after a crash).
//
// It must be longer than the slowest guarded handler. Once a reservation
// lapses another request can reserve the key and run its handler too, so the
// side effect happens twice; the stores then keep whichever response is put
// first and both callers receive it.
func WithLockTTL(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.lockTTL = d
		}
	}
}

// WithWaitTimeout bounds how long a request waits for a concurrent request
// holding the same key.
func WithWaitTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.waitTimeout = d
		}
	}
}

// WithPollInterval sets the delay between store lookups while waiting.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// WithClock overrides the clock used for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithLogger sets the logger used for guard diagnostics.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithObserver registers a hook for guard events.
func WithObserver(fn Observer) Option {
	return func(o *options) {
		if fn != nil {
			o.observe = fn
		}
	}
}
