package scraper

import (
	"github.com/use-agent/quietpage/probe"
	"github.com/use-agent/quietpage/quiesce"
)

// SettleResult is what DoSettle read from the page once it went quiet.
type SettleResult struct {
	// RawHTML is the rendered document.
	RawHTML string

	Title      string
	StatusCode int
	FinalURL   string

	// Quiescence is how the wait ended.
	Quiescence quiesce.Result

	// RequestsObserved counts the page network operations seen.
	RequestsObserved int64

	// Hooks lists the interceptors the top document accepted.
	Hooks probe.Hooks
}
