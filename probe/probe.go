// Package probe instruments a live page. An init script wraps the page's
// fetch and XMLHttpRequest entry points and offers MutationObserver control;
// it reports over a CDP binding, and Probe turns those reports into
// activity.Tracker calls and per-wait mutation channels.
package probe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/use-agent/quietpage/activity"
)

// ErrObserverUnavailable is returned by Observe when the page cannot start
// a MutationObserver (no MutationObserver, or the script is missing).
var ErrObserverUnavailable = errors.New("probe: mutation observer unavailable")

// Evaluator runs a JS function in the page's main frame and returns its
// boolean result.
type Evaluator interface {
	EvalBool(js string, args ...interface{}) (bool, error)
}

// Hooks reports which interceptors the current top document installed.
type Hooks struct {
	Fetch    bool `json:"fetch"`
	XHR      bool `json:"xhr"`
	Observer bool `json:"observer"`
}

type message struct {
	Kind     string `json:"kind"`
	Doc      string `json:"doc"`
	ID       int64  `json:"id"`
	Token    string `json:"token"`
	Top      bool   `json:"top"`
	Fetch    bool   `json:"fetch"`
	XHR      bool   `json:"xhr"`
	Observer bool   `json:"observer"`
}

// Probe routes binding messages for one page.
type Probe struct {
	tracker *activity.Tracker
	eval    Evaluator
	logger  *slog.Logger

	mu        sync.Mutex
	topDoc    string
	hooks     Hooks
	observers map[string]chan struct{}

	seq atomic.Uint64
}

// New creates a Probe feeding tracker. eval is used to start and stop
// mutation observers.
func New(tracker *activity.Tracker, eval Evaluator, logger *slog.Logger) *Probe {
	if logger == nil {
		logger = slog.Default()
	}
	return &Probe{
		tracker:   tracker,
		eval:      eval,
		logger:    logger,
		observers: make(map[string]chan struct{}),
	}
}

// Hooks returns the interceptors reported by the current top document.
func (p *Probe) Hooks() Hooks {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hooks
}

// Handle processes one binding payload.
func (p *Probe) Handle(payload []byte) error {
	var msg message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("probe: decode message: %w", err)
	}

	switch msg.Kind {
	case "send":
		p.tracker.Sent(requestKey(msg.Doc, msg.ID))
	case "settle":
		p.tracker.Settled(requestKey(msg.Doc, msg.ID))
	case "mutation":
		p.notify(msg.Token)
	case "install":
		p.install(msg)
	case "unload":
		if n := p.tracker.Abandon(msg.Doc + ":"); n > 0 {
			p.logger.Debug("probe: document unloaded with requests in flight",
				"doc", msg.Doc, "abandoned", n)
		}
	default:
		return fmt.Errorf("probe: unknown message kind %q", msg.Kind)
	}
	return nil
}

func (p *Probe) install(msg message) {
	if !msg.Top {
		return
	}

	p.mu.Lock()
	var watching []string
	if p.topDoc != msg.Doc {
		for token := range p.observers {
			watching = append(watching, token)
		}
	}
	p.topDoc = msg.Doc
	p.hooks = Hooks{Fetch: msg.Fetch, XHR: msg.XHR, Observer: msg.Observer}
	p.mu.Unlock()

	// Open observers were attached to the previous document. The swap is a
	// mutation in its own right, and each observer moves to the new one.
	for _, token := range watching {
		p.notify(token)
		go p.reattach(token)
	}

	// Requests still pending from a previous top document were aborted by
	// the navigation.
	if n := p.tracker.AbandonExcept(msg.Doc + ":"); n > 0 {
		p.logger.Debug("probe: new document, abandoned stale requests", "abandoned", n)
	}

	if !msg.Fetch {
		p.logger.Warn("probe: fetch unavailable, fetch calls are not counted", "doc", msg.Doc)
	}
	if !msg.XHR {
		p.logger.Warn("probe: XMLHttpRequest unavailable, XHR calls are not counted", "doc", msg.Doc)
	}
	if !msg.Observer {
		p.logger.Warn("probe: MutationObserver unavailable", "doc", msg.Doc)
	}
}

func (p *Probe) notify(token string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch, ok := p.observers[token]
	if !ok {
		return
	}
	// Coalesce: one pending signal already means "something changed".
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Observe starts a MutationObserver on the page's document. It follows the
// page to each new top document until stopped. It implements
// quiesce.MutationSource.
func (p *Probe) Observe(ctx context.Context) (<-chan struct{}, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	token := fmt.Sprintf("obs-%d", p.seq.Add(1))
	ch := make(chan struct{}, 1)

	p.mu.Lock()
	p.observers[token] = ch
	p.mu.Unlock()

	ok, err := p.eval.EvalBool(observeJS, token)
	if err != nil || !ok {
		p.detach(token)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %w", ErrObserverUnavailable, err)
		}
		return nil, nil, ErrObserverUnavailable
	}

	var once sync.Once
	stop := func() {
		once.Do(func() {
			p.detach(token)
			if _, err := p.eval.EvalBool(disconnectJS, token); err != nil {
				p.logger.Debug("probe: disconnect observer failed", "token", token, "error", err)
			}
		})
	}
	return ch, stop, nil
}

// reattach starts token's observer on the current document. Handle runs on
// the binding callback, so this is called from its own goroutine.
func (p *Probe) reattach(token string) {
	ok, err := p.eval.EvalBool(observeJS, token)
	if err != nil || !ok {
		p.logger.Debug("probe: re-observe after navigation failed", "token", token, "error", err)
		return
	}

	p.mu.Lock()
	_, open := p.observers[token]
	p.mu.Unlock()
	if !open {
		// stopped while the eval was in flight
		if _, err := p.eval.EvalBool(disconnectJS, token); err != nil {
			p.logger.Debug("probe: disconnect observer failed", "token", token, "error", err)
		}
	}
}

func (p *Probe) detach(token string) {
	p.mu.Lock()
	delete(p.observers, token)
	p.mu.Unlock()
}

// Observers returns the number of attached mutation observers.
func (p *Probe) Observers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.observers)
}

func requestKey(doc string, id int64) string {
	return fmt.Sprintf("%s:%d", doc, id)
}
