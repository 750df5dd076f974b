package activity

import "net/http"

// Transport is an http.RoundTripper that counts round trips on a Monitor.
//
// The request is handed to Base untouched and its response and error are
// returned as-is. An operation counts as settled once Base returns (or
// panics), mirroring a fetch promise that settles when headers arrive.
type Transport struct {
	// Base performs the actual round trip. Defaults to http.DefaultTransport.
	Base http.RoundTripper

	Monitor *Monitor
}

// NewTransport wraps base so every round trip is counted on m.
func NewTransport(base http.RoundTripper, m *Monitor) *Transport {
	return &Transport{Base: base, Monitor: m}
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	if t.Monitor == nil {
		return base.RoundTrip(req)
	}

	done := t.Monitor.Begin()
	defer done()
	return base.RoundTrip(req)
}

// CloseIdleConnections forwards to Base when it supports it, so
// http.Client.CloseIdleConnections keeps working through the wrapper.
func (t *Transport) CloseIdleConnections() {
	type closeIdler interface{ CloseIdleConnections() }
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	if c, ok := base.(closeIdler); ok {
		c.CloseIdleConnections()
	}
}
