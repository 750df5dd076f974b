package quiesce

import (
	"errors"
	"fmt"
	"time"
)

// Defaults used when a Request leaves a field unset.
const (
	DefaultIdle    = 800 * time.Millisecond
	DefaultTimeout = 25 * time.Second
)

// ErrInvalidRequest is returned for requests with negative durations.
var ErrInvalidRequest = errors.New("quiesce: invalid request")

// Request parameterises one wait.
type Request struct {
	// Idle is the minimum continuous silence before the page counts as quiet.
	Idle time.Duration

	// Timeout is the ceiling on the total wait.
	Timeout time.Duration
}

// Defaults fills zero fields with DefaultIdle and DefaultTimeout.
func (r *Request) Defaults() {
	if r.Idle == 0 {
		r.Idle = DefaultIdle
	}
	if r.Timeout == 0 {
		r.Timeout = DefaultTimeout
	}
}

// Validate rejects non-positive durations.
func (r Request) Validate() error {
	if r.Idle <= 0 {
		return fmt.Errorf("%w: idle must be positive, got %s", ErrInvalidRequest, r.Idle)
	}
	if r.Timeout <= 0 {
		return fmt.Errorf("%w: timeout must be positive, got %s", ErrInvalidRequest, r.Timeout)
	}
	return nil
}

// Outcome tells how a wait ended. Both outcomes are success for the caller.
type Outcome int

const (
	// SettledIdle means the page was quiet for a full idle window.
	SettledIdle Outcome = iota + 1

	// SettledTimeout means the timeout fired first; the page may still be busy.
	SettledTimeout
)

func (o Outcome) String() string {
	switch o {
	case SettledIdle:
		return "idle"
	case SettledTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Result describes a finished wait.
type Result struct {
	Outcome Outcome

	// Elapsed is the time from the start of the wait to its resolution.
	Elapsed time.Duration

	// Checks counts readiness checks, i.e. stability timer expiries.
	Checks int

	// Mutations counts mutation notifications received.
	Mutations int

	// InFlight is the network counter at resolution.
	InFlight int64
}
