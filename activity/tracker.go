package activity

import (
	"strings"
	"sync"
)

// Tracker counts event-style operations that are announced by id: one
// notification when the request is sent and one when it reaches a terminal
// state. Each id holds a one-shot listener, so duplicate or stray terminal
// notifications never touch the count.
type Tracker struct {
	monitor *Monitor

	mu      sync.Mutex
	pending map[string]func()
}

// NewTracker creates a Tracker that reports to m.
func NewTracker(m *Monitor) *Tracker {
	return &Tracker{
		monitor: m,
		pending: make(map[string]func()),
	}
}

// Monitor returns the Monitor the tracker reports to.
func (t *Tracker) Monitor() *Monitor { return t.monitor }

// Sent records that the operation id was dispatched. A second Sent for an id
// that is still pending is ignored.
func (t *Tracker) Sent(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.pending[id]; ok {
		return
	}
	t.pending[id] = t.monitor.Begin()
}

// Settled records that id reached a terminal state and detaches its
// listener. It reports whether the call settled a pending operation.
func (t *Tracker) Settled(id string) bool {
	t.mu.Lock()
	done, ok := t.pending[id]
	delete(t.pending, id)
	t.mu.Unlock()

	if ok {
		done()
	}
	return ok
}

// Abandon settles every pending id that starts with prefix, e.g. all
// requests of a document that has been unloaded. An empty prefix matches
// everything. It returns the number of operations settled.
func (t *Tracker) Abandon(prefix string) int {
	t.mu.Lock()
	var dones []func()
	for id, done := range t.pending {
		if strings.HasPrefix(id, prefix) {
			dones = append(dones, done)
			delete(t.pending, id)
		}
	}
	t.mu.Unlock()

	for _, done := range dones {
		done()
	}
	return len(dones)
}

// AbandonExcept settles every pending id that does not start with prefix.
func (t *Tracker) AbandonExcept(prefix string) int {
	t.mu.Lock()
	var dones []func()
	for id, done := range t.pending {
		if !strings.HasPrefix(id, prefix) {
			dones = append(dones, done)
			delete(t.pending, id)
		}
	}
	t.mu.Unlock()

	for _, done := range dones {
		done()
	}
	return len(dones)
}

// Pending returns the number of ids waiting for a terminal notification.
func (t *Tracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}
