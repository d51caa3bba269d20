package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

// Handler performs the guarded side effect and returns the response that
// should be stored for replay. Only a nil error with a 2xx response is stored.
type Handler func(ctx context.Context) (*Response, error)

// Outcome tells the caller whether the handler ran for this call or the
// response was replayed from a previous one.
type Outcome int

const (
	Executed Outcome = iota + 1
	Replayed
)

func (o Outcome) String() string {
	switch o {
	case Executed:
		return "executed"
	case Replayed:
		return "replayed"
	default:
		return "none"
	}
}

// Guard runs handlers at most once per idempotency key.
//
// Callers with the same key in one process are coalesced so only one of them
// talks to the store; callers in other processes are serialized by the
// store's atomic Reserve.
type Guard struct {
	store   Store
	opts    options
	flights singleflight.Group
	tracer  trace.Tracer
}

// New returns a Guard backed by store.
func New(store Store, opts ...Option) *Guard {
	o := defaultOptions()
	for _, fn := range opts {
		fn(&o)
	}
	return &Guard{
		store:  store,
		opts:   o,
		tracer: otel.Tracer("idempotency/Guard"),
	}
}

// Store returns the backing store.
func (g *Guard) Store() Store { return g.store }

// TTL returns the retention window of completed records.
func (g *Guard) TTL() time.Duration { return g.opts.ttl }

// Lookup reports whether a completed, unexpired record exists for key.
func (g *Guard) Lookup(ctx context.Context, key string) (bool, error) {
	rec, err := g.store.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return rec.Completed(), nil
}

var errHandlerPanicked = errors.New("idempotency: handler panicked")

type result struct {
	resp   *Response
	ran    bool
	stored bool
}

func (r result) outcome() Outcome {
	if r.ran {
		return Executed
	}
	return Replayed
}

// Do runs fn under key unless a completed record for key exists, in which case
// the stored response is returned with Outcome Replayed.
//
// Errors:
//   - ErrMissingKey when key is blank; fn is not called.
//   - ErrStoreUnavailable when the store fails before fn runs; fn is not called.
//   - ErrInProgress when another caller holds key past the wait timeout.
//   - ctx.Err() when ctx is done while waiting, including while another
//     caller in this process runs fn for the same key.
//   - any error returned by fn, together with its response.
func (g *Guard) Do(ctx context.Context, key string, fn Handler) (*Response, Outcome, error) {
	if strings.TrimSpace(key) == "" {
		return nil, 0, ErrMissingKey
	}

	ctx, span := g.tracer.Start(ctx, "Do",
		trace.WithAttributes(attribute.String("idempotency.key", key)),
	)
	defer span.End()

	for {
		// claimed is won either by the flight, which then runs execute, or by
		// this caller giving up first, in which case the flight does nothing.
		var claimed atomic.Bool
		leader := false
		var panicVal any
		ch := g.flights.DoChan(key, func() (v any, err error) {
			if !claimed.CompareAndSwap(false, true) {
				return result{}, ctx.Err()
			}
			leader = true
			// The flight runs on its own goroutine; hand panics back to the caller.
			defer func() {
				if p := recover(); p != nil {
					panicVal = p
					v, err = result{}, errHandlerPanicked
				}
			}()
			return g.execute(ctx, key, fn)
		})

		var r singleflight.Result
		select {
		case r = <-ch:
		case <-ctx.Done():
			if claimed.CompareAndSwap(false, true) {
				return nil, 0, ctx.Err()
			}
			// fn is running for this caller and must finish first.
			r = <-ch
		}
		if panicVal != nil {
			panic(panicVal)
		}
		res, _ := r.Val.(result)
		err := r.Err

		if leader {
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			span.SetAttributes(attribute.String("idempotency.outcome", res.outcome().String()))
			return res.resp, res.outcome(), err
		}

		// Another caller in this process did the work.
		if err == nil && res.stored {
			span.SetAttributes(attribute.String("idempotency.outcome", Replayed.String()))
			return res.resp, Replayed, nil
		}
		if errors.Is(err, ErrInProgress) || errors.Is(err, ErrStoreUnavailable) {
			return nil, 0, err
		}
		if cerr := ctx.Err(); cerr != nil {
			return nil, 0, cerr
		}
		// The leader failed, released its reservation or lost its client.
	}
}

func (g *Guard) execute(ctx context.Context, key string, fn Handler) (result, error) {
	log := g.opts.logger.With().Str("idempotency_key", key).Logger()
	deadline := time.Now().Add(g.opts.waitTimeout)

	for {
		if err := ctx.Err(); err != nil {
			return result{}, err
		}
		rec, err := g.store.Get(ctx, key)
		switch {
		case err == nil && rec.Completed():
			g.opts.observe(EventReplayed, "")
			log.Debug().Msg("idempotency: replaying stored response")
			return result{resp: rec.Response(), stored: true}, nil
		case err == nil:
			if werr := g.wait(ctx, deadline); werr != nil {
				return result{}, werr
			}
			continue
		case !errors.Is(err, ErrNotFound):
			return result{}, g.storeFailure(ctx, log, "get", err)
		}

		token := uuid.NewString()
		err = g.store.Reserve(ctx, key, token, g.opts.lockTTL)
		if errors.Is(err, ErrConflict) {
			g.opts.observe(EventConflict, "")
			log.Debug().Msg("idempotency: key reserved by another request, waiting")
			if werr := g.wait(ctx, deadline); werr != nil {
				return result{}, werr
			}
			continue
		}
		if err != nil {
			return result{}, g.storeFailure(ctx, log, "reserve", err)
		}
		return g.run(ctx, log, key, token, fn)
	}
}

// run executes fn while holding the reservation identified by token.
func (g *Guard) run(ctx context.Context, log zerolog.Logger, key, token string, fn Handler) (result, error) {
	// Store writes after fn must survive a client that has gone away.
	bg := context.WithoutCancel(ctx)

	defer func() {
		if p := recover(); p != nil {
			g.release(bg, log, key, token)
			panic(p)
		}
	}()

	resp, err := fn(ctx)
	g.opts.observe(EventExecuted, "")
	if err != nil || !resp.Success() {
		g.release(bg, log, key, token)
		return result{resp: resp, ran: true}, err
	}

	now := g.opts.now()
	rec := &Record{
		Key:         key,
		Token:       token,
		State:       StateCompleted,
		StatusCode:  resp.StatusCode,
		ContentType: resp.ContentType,
		Location:    resp.Location,
		Body:        resp.Body,
		CreatedAt:   now,
		ExpiresAt:   now.Add(g.opts.ttl),
	}
	perr := g.store.Put(bg, rec, g.opts.ttl)
	if perr == nil {
		return result{resp: resp, ran: true, stored: true}, nil
	}

	if errors.Is(perr, ErrConflict) {
		if winner, gerr := g.store.Get(bg, key); gerr == nil && winner.Completed() {
			log.Warn().Msg("idempotency: key completed by another request first, returning its response")
			return result{resp: winner.Response(), stored: true}, nil
		}
	}

	g.opts.observe(EventStoreError, "put")
	log.Error().Err(perr).Msg("idempotency: response not stored, key stays reserved until the lock expires")
	return result{resp: resp, ran: true}, nil
}

func (g *Guard) release(ctx context.Context, log zerolog.Logger, key, token string) {
	if err := g.store.Release(ctx, key, token); err != nil {
		g.opts.observe(EventStoreError, "release")
		log.Warn().Err(err).Msg("idempotency: release failed, key stays reserved until the lock expires")
		return
	}
	g.opts.observe(EventReleased, "")
}

func (g *Guard) wait(ctx context.Context, deadline time.Time) error {
	if !time.Now().Before(deadline) {
		g.opts.observe(EventInProgress, "")
		return ErrInProgress
	}
	t := time.NewTimer(g.opts.pollInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (g *Guard) storeFailure(ctx context.Context, log zerolog.Logger, op string, err error) error {
	if cerr := ctx.Err(); cerr != nil {
		return cerr
	}
	g.opts.observe(EventStoreError, op)
	log.Error().Err(err).Str("op", op).Msg("idempotency: store failure")
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}
