package quiesce

import "time"

type phase int

const (
	phaseArmed phase = iota
	phaseResolved
)

// debounce is the timer-free core of a wait: it tracks when the stability
// window is due and decides what each event means. The Wait loop owns the
// real timers and keeps them in step with the deadlines computed here.
type debounce struct {
	idle     time.Duration
	deadline time.Time
	phase    phase
	outcome  Outcome

	checks    int
	mutations int
}

func newDebounce(now time.Time, idle time.Duration) *debounce {
	return &debounce{
		idle:     idle,
		deadline: now.Add(idle),
		phase:    phaseArmed,
	}
}

// mutation pushes the stability deadline a full idle window out and returns
// the delay to re-arm the stability timer with.
func (d *debounce) mutation(now time.Time) time.Duration {
	d.mutations++
	d.deadline = now.Add(d.idle)
	return d.idle
}

// due reports whether a stability tick at now belongs to the current window.
// A tick queued before the last re-arm arrives early and is stale.
func (d *debounce) due(now time.Time) bool {
	return d.phase == phaseArmed && !now.Before(d.deadline)
}

// check runs the readiness check. It resolves the wait when no operation is
// in flight and none changed within the idle window; otherwise it returns
// the delay until the next check.
func (d *debounce) check(now time.Time, inFlight int64, lastActivity time.Time) (time.Duration, bool) {
	d.checks++

	wait := d.idle
	if inFlight == 0 {
		quietFor := d.idle
		if !lastActivity.IsZero() {
			quietFor = max(now.Sub(lastActivity), 0)
		}
		if quietFor >= d.idle {
			d.resolve(SettledIdle)
			return 0, true
		}
		wait = d.idle - quietFor
	}

	d.deadline = now.Add(wait)
	return wait, false
}

// expire resolves the wait by timeout unless it is already resolved.
func (d *debounce) expire() bool {
	return d.resolve(SettledTimeout)
}

func (d *debounce) resolve(o Outcome) bool {
	if d.phase == phaseResolved {
		return false
	}
	d.phase = phaseResolved
	d.outcome = o
	return true
}
