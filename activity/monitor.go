// Package activity counts the network operations a page has in flight.
//
// A Monitor lives for one page load. Interceptors report dispatch with
// Begin and settle by calling the release func it returns; the release is
// one-shot, so the count can never drop below zero no matter how many
// terminal notifications an operation produces.
package activity

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
)

// Monitor is a page-lifetime counter of in-flight network operations.
// It is safe for concurrent use.
type Monitor struct {
	clock      clockwork.Clock
	inFlight   atomic.Int64
	dispatched atomic.Int64
	lastChange atomic.Int64 // unix nanos; 0 until the first Begin
}

// NewMonitor creates a Monitor. A nil clock uses the wall clock.
func NewMonitor(clock clockwork.Clock) *Monitor {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Monitor{clock: clock}
}

// Begin records a dispatched operation and returns the func that records its
// settlement. Calling the returned func more than once has no further effect.
func (m *Monitor) Begin() (done func()) {
	m.inFlight.Add(1)
	m.dispatched.Add(1)
	m.touch()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.inFlight.Add(-1)
			m.touch()
		})
	}
}

// InFlight returns the number of dispatched operations that have not settled.
func (m *Monitor) InFlight() int64 {
	return m.inFlight.Load()
}

// Dispatched returns the total number of operations seen so far.
func (m *Monitor) Dispatched() int64 {
	return m.dispatched.Load()
}

// LastChange returns when an operation was last dispatched or settled.
// It is the zero time if nothing has been dispatched yet.
func (m *Monitor) LastChange() time.Time {
	ns := m.lastChange.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

func (m *Monitor) touch() {
	m.lastChange.Store(m.clock.Now().UnixNano())
}
