package models

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestAsScrapeError(t *testing.T) {
	se := NewScrapeError(ErrCodeNavigation, "dns", errors.New("no such host"))
	if got := AsScrapeError(fmt.Errorf("settle: %w", se)); got != se {
		t.Errorf("wrapped ScrapeError not found: %v", got)
	}

	got := AsScrapeError(context.Canceled)
	if got.Code != ErrCodeInternal || !errors.Is(got, context.Canceled) {
		t.Errorf("plain error = %+v, want internal wrapping the original", got)
	}
}

func TestScrapeError_HTTPStatus(t *testing.T) {
	cases := map[string]int{
		ErrCodeTimeout:      http.StatusGatewayTimeout,
		ErrCodeNavigation:   http.StatusBadGateway,
		ErrCodeInvalidInput: http.StatusBadRequest,
		ErrCodeRateLimited:  http.StatusTooManyRequests,
		ErrCodeUnauthorized: http.StatusUnauthorized,
		ErrCodeBrowserCrash: http.StatusInternalServerError,
		"SOMETHING_NEW":     http.StatusInternalServerError,
	}
	for code, want := range cases {
		if got := NewScrapeError(code, "m", nil).HTTPStatus(); got != want {
			t.Errorf("%s: status = %d, want %d", code, got, want)
		}
	}
}

func TestScrapeError_Message(t *testing.T) {
	if got := NewScrapeError(ErrCodeTimeout, "slow", nil).Error(); got != "SCRAPE_TIMEOUT: slow" {
		t.Errorf("Error() = %q", got)
	}
	if got := NewScrapeError(ErrCodeTimeout, "slow", errors.New("ctx")).Error(); got != "SCRAPE_TIMEOUT: slow: ctx" {
		t.Errorf("Error() = %q", got)
	}
}
