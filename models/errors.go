package models

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes carried by ScrapeError and surfaced in ErrorDetail.Code.
const (
	ErrCodeTimeout      = "SCRAPE_TIMEOUT"
	ErrCodeNavigation   = "NAVIGATION_FAILED"
	ErrCodeExtraction   = "EXTRACTION_FAILED"
	ErrCodeBrowserCrash = "BROWSER_CRASH"
	ErrCodeInvalidInput = "INVALID_INPUT"
	ErrCodeRateLimited  = "RATE_LIMITED"
	ErrCodeUnauthorized = "UNAUTHORIZED"
	ErrCodeInternal     = "INTERNAL_ERROR"
)

var codeStatus = map[string]int{
	ErrCodeTimeout:      http.StatusGatewayTimeout,
	ErrCodeNavigation:   http.StatusBadGateway,
	ErrCodeInvalidInput: http.StatusBadRequest,
	ErrCodeRateLimited:  http.StatusTooManyRequests,
	ErrCodeUnauthorized: http.StatusUnauthorized,
}

// ErrorDetail is the structured error in API responses.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ScrapeError is a failed settle with a code the API maps to a status.
// A page that merely timed out waiting for quiescence is not a ScrapeError.
type ScrapeError struct {
	Code    string
	Message string
	Err     error
}

func NewScrapeError(code, message string, err error) *ScrapeError {
	return &ScrapeError{Code: code, Message: message, Err: err}
}

// AsScrapeError finds the ScrapeError in err's chain. Anything else becomes
// an ErrCodeInternal error wrapping err.
func AsScrapeError(err error) *ScrapeError {
	var se *ScrapeError
	if errors.As(err, &se) {
		return se
	}
	return NewScrapeError(ErrCodeInternal, err.Error(), err)
}

func (e *ScrapeError) Error() string {
	if e.Err == nil {
		return e.Code + ": " + e.Message
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
}

func (e *ScrapeError) Unwrap() error { return e.Err }

// HTTPStatus is the response status for the error's code; unknown codes
// are a 500.
func (e *ScrapeError) HTTPStatus() int {
	if s, ok := codeStatus[e.Code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

func (e *ScrapeError) ToDetail() *ErrorDetail {
	return &ErrorDetail{Code: e.Code, Message: e.Message}
}
