// Package quiesce decides when a live page has gone quiet: no network
// operation in flight and no DOM mutation for a continuous idle window, or
// a timeout ceiling, whichever comes first.
package quiesce

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
)

// Activity is the live network counter the detector consults.
type Activity interface {
	InFlight() int64

	// LastChange returns when an operation was last dispatched or settled,
	// or the zero time if none ever was.
	LastChange() time.Time
}

// MutationSource starts a DOM mutation watch for one wait. Each value on the
// returned channel stands for one or more mutations. stop detaches the
// watch; after it returns no further values are delivered.
type MutationSource interface {
	Observe(ctx context.Context) (events <-chan struct{}, stop func(), err error)
}

// Detector runs quiescence waits against one page's activity counter.
// Each Wait owns its observer and timers, so concurrent waits do not share
// state.
type Detector struct {
	activity Activity
	clock    clockwork.Clock
	metrics  *Metrics
	logger   *slog.Logger

	// trace, when set, is told about each event the wait loop handled.
	trace func(event string)
}

// Option configures a Detector.
type Option func(*Detector)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(c clockwork.Clock) Option {
	return func(d *Detector) { d.clock = c }
}

// WithMetrics records outcomes on m.
func WithMetrics(m *Metrics) Option {
	return func(d *Detector) { d.metrics = m }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(d *Detector) { d.logger = l }
}

// NewDetector creates a Detector over activity.
func NewDetector(activity Activity, opts ...Option) *Detector {
	d := &Detector{
		activity: activity,
		clock:    clockwork.NewRealClock(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Wait blocks until the page is quiet or req.Timeout elapses. Both are
// reported through Result.Outcome with a nil error; an error is returned
// only for an invalid request or when ctx ends first. Every return path
// stops both timers and the mutation watch.
func (d *Detector) Wait(ctx context.Context, src MutationSource, req Request) (Result, error) {
	req.Defaults()
	if err := req.Validate(); err != nil {
		return Result{}, err
	}
	if req.Timeout <= req.Idle {
		d.logger.Warn("quiesce: timeout does not exceed idle window, wait will end by timeout",
			"idle", req.Idle, "timeout", req.Timeout)
	}

	start := d.clock.Now()

	var events <-chan struct{}
	stop := func() {}
	if src != nil {
		ev, stopFn, err := src.Observe(ctx)
		if err != nil {
			d.logger.Warn("quiesce: mutation watch unavailable, using network activity only",
				"error", err)
		} else {
			events, stop = ev, stopFn
		}
	}

	state := newDebounce(start, req.Idle)
	stable := d.clock.NewTimer(req.Idle)
	ceiling := d.clock.NewTimer(req.Timeout)
	defer func() {
		stable.Stop()
		ceiling.Stop()
		stop()
	}()

	finish := func() Result {
		r := Result{
			Outcome:   state.outcome,
			Elapsed:   d.clock.Since(start),
			Checks:    state.checks,
			Mutations: state.mutations,
			InFlight:  d.activity.InFlight(),
		}
		d.metrics.observe(r)
		d.logger.Debug("quiesce: settled",
			"outcome", r.Outcome.String(),
			"elapsed", r.Elapsed,
			"checks", r.Checks,
			"mutations", r.Mutations,
			"inFlight", r.InFlight,
		)
		d.emit("resolved")
		return r
	}

	for {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()

		case _, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			stable.Reset(state.mutation(d.clock.Now()))
			d.emit("mutation")

		case <-stable.Chan():
			now := d.clock.Now()
			if !state.due(now) {
				d.emit("stale")
				continue
			}
			wait, ready := state.check(now, d.activity.InFlight(), d.activity.LastChange())
			d.metrics.check(ready)
			if ready {
				return finish(), nil
			}
			stable.Reset(wait)
			d.emit("busy")

		case <-ceiling.Chan():
			state.expire()
			return finish(), nil
		}
	}
}

func (d *Detector) emit(event string) {
	if d.trace != nil {
		d.trace(event)
	}
}
