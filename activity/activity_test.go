package activity

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestMonitor_BeginDoneIsOneShot(t *testing.T) {
	m := NewMonitor(nil)
	done := m.Begin()
	if got := m.InFlight(); got != 1 {
		t.Fatalf("InFlight after Begin = %d, want 1", got)
	}
	done()
	done()
	done()
	if got := m.InFlight(); got != 0 {
		t.Errorf("InFlight after repeated done = %d, want 0", got)
	}
	if got := m.Dispatched(); got != 1 {
		t.Errorf("Dispatched = %d, want 1", got)
	}
}

func TestMonitor_LastChange(t *testing.T) {
	fc := clockwork.NewFakeClock()
	m := NewMonitor(fc)
	if !m.LastChange().IsZero() {
		t.Fatalf("LastChange before any activity = %v, want zero", m.LastChange())
	}

	done := m.Begin()
	start := fc.Now()
	fc.Advance(300 * time.Millisecond)
	done()

	if got, want := m.LastChange(), start.Add(300*time.Millisecond); !got.Equal(want) {
		t.Errorf("LastChange = %v, want %v", got, want)
	}
}

func TestTransport_ConcurrentMixedOutcomes(t *testing.T) {
	m := NewMonitor(nil)
	errBoom := errors.New("boom")

	release := make(chan struct{})
	base := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		<-release
		switch r.URL.Query().Get("mode") {
		case "fail":
			return nil, errBoom
		case "panic":
			panic("transport exploded")
		default:
			return &http.Response{
				StatusCode: http.StatusOK,
				Body:       io.NopCloser(strings.NewReader("ok")),
				Request:    r,
			}, nil
		}
	})
	tr := NewTransport(base, m)

	const n = 60
	modes := []string{"ok", "fail", "panic"}
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer func() { _ = recover() }()
			req, _ := http.NewRequest(http.MethodGet, fmt.Sprintf("http://example.test/?mode=%s", modes[i%len(modes)]), nil)
			resp, err := tr.RoundTrip(req)
			if err == nil {
				resp.Body.Close()
			}
		}(i)
	}

	// Wait until every call is dispatched before letting any settle.
	deadline := time.Now().Add(5 * time.Second)
	for m.InFlight() != n {
		if time.Now().After(deadline) {
			t.Fatalf("InFlight = %d, want %d before release", m.InFlight(), n)
		}
		time.Sleep(time.Millisecond)
	}
	close(release)
	wg.Wait()

	if got := m.InFlight(); got != 0 {
		t.Errorf("InFlight after all settled = %d, want 0", got)
	}
	if got := m.Dispatched(); got != n {
		t.Errorf("Dispatched = %d, want %d", got, n)
	}
}

func TestTransport_PassesThroughUnchanged(t *testing.T) {
	m := NewMonitor(nil)
	errBoom := errors.New("boom")
	want := &http.Response{StatusCode: http.StatusTeapot}

	var seen *http.Request
	tr := NewTransport(roundTripFunc(func(r *http.Request) (*http.Response, error) {
		seen = r
		if m.InFlight() != 1 {
			t.Errorf("InFlight during round trip = %d, want 1", m.InFlight())
		}
		return want, errBoom
	}), m)

	req, _ := http.NewRequest(http.MethodPost, "http://example.test/api", strings.NewReader("body"))
	req.Header.Set("X-Trace", "abc")

	resp, err := tr.RoundTrip(req)
	if resp != want {
		t.Errorf("response was replaced")
	}
	if !errors.Is(err, errBoom) {
		t.Errorf("error = %v, want %v", err, errBoom)
	}
	if seen != req {
		t.Errorf("base received a different request")
	}
	if m.InFlight() != 0 {
		t.Errorf("InFlight after round trip = %d, want 0", m.InFlight())
	}
}

func TestTracker_SettledIsOneShot(t *testing.T) {
	m := NewMonitor(nil)
	tr := NewTracker(m)

	tr.Sent("doc1:1")
	tr.Sent("doc1:1") // duplicate send is ignored
	tr.Sent("doc1:2")
	if got := m.InFlight(); got != 2 {
		t.Fatalf("InFlight = %d, want 2", got)
	}

	if !tr.Settled("doc1:1") {
		t.Error("first Settled should report true")
	}
	if tr.Settled("doc1:1") {
		t.Error("second Settled for the same id should report false")
	}
	if tr.Settled("doc1:unknown") {
		t.Error("Settled for an unknown id should report false")
	}
	if got := m.InFlight(); got != 1 {
		t.Errorf("InFlight = %d, want 1", got)
	}
}

func TestTracker_Abandon(t *testing.T) {
	m := NewMonitor(nil)
	tr := NewTracker(m)

	tr.Sent("old:1")
	tr.Sent("old:2")
	tr.Sent("new:1")

	if got := tr.AbandonExcept("new:"); got != 2 {
		t.Errorf("AbandonExcept settled %d, want 2", got)
	}
	if got := m.InFlight(); got != 1 {
		t.Errorf("InFlight = %d, want 1", got)
	}
	if got := tr.Abandon("new:"); got != 1 {
		t.Errorf("Abandon settled %d, want 1", got)
	}
	if got := m.InFlight(); got != 0 {
		t.Errorf("InFlight = %d, want 0", got)
	}
	if tr.Pending() != 0 {
		t.Errorf("Pending = %d, want 0", tr.Pending())
	}
}
