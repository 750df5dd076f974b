package models

// SettleResponse is the response for POST /api/v1/settle.
type SettleResponse struct {
	// Success indicates whether the page was loaded and read without errors.
	// A quiescence timeout is still a success.
	Success bool `json:"success"`

	// StatusCode is the HTTP status code of the main document.
	StatusCode int `json:"status_code"`

	// FinalURL is the URL after following all redirects.
	FinalURL string `json:"final_url"`

	// Title is the document title.
	Title string `json:"title,omitempty"`

	// Content is the page (or the selected part of it) in the requested format.
	Content string `json:"content"`

	// Records holds the extracted records when a RecordSpec was given.
	Records []Record `json:"records,omitempty"`

	// Quiescence describes how the wait for a quiet page ended.
	Quiescence QuiescenceInfo `json:"quiescence"`

	// Timing provides duration breakdowns for the operation.
	Timing TimingInfo `json:"timing"`

	// CacheStatus is "hit", "miss", or empty when caching was not requested.
	CacheStatus string `json:"cache_status,omitempty"`

	// Error is populated only when Success is false.
	Error *ErrorDetail `json:"error,omitempty"`
}

// Record is one extracted item. Fields with no match are null.
type Record struct {
	ID     string             `json:"id"`
	Fields map[string]*string `json:"fields"`
}

// QuiescenceInfo reports the outcome of the wait for a quiet page.
type QuiescenceInfo struct {
	// SettledBy is "idle" or "timeout".
	SettledBy string `json:"settled_by"`

	ElapsedMs int64 `json:"elapsed_ms"`

	// Checks counts readiness checks; Mutations counts DOM mutation batches.
	Checks    int `json:"checks"`
	Mutations int `json:"mutations"`

	// RequestsObserved is the number of page network operations counted.
	RequestsObserved int64 `json:"requests_observed"`

	// InFlight is the number of operations still pending at resolution.
	InFlight int64 `json:"in_flight"`

	// Hooks lists the interceptors the page accepted.
	Hooks NetworkHooks `json:"hooks"`
}

// NetworkHooks reports which in-page interceptors were installed.
type NetworkHooks struct {
	Fetch    bool `json:"fetch"`
	XHR      bool `json:"xhr"`
	Observer bool `json:"observer"`
}

// TimingInfo breaks down the time spent in each phase.
type TimingInfo struct {
	// TotalMs is the end-to-end duration in milliseconds.
	TotalMs int64 `json:"total_ms"`

	// NavigationMs covers navigation, the quiescence wait and the DOM read.
	NavigationMs int64 `json:"navigation_ms"`

	// ExtractionMs is the time spent on selectors, records and formatting.
	ExtractionMs int64 `json:"extraction_ms"`
}

// HealthResponse is the response for GET /api/v1/health.
type HealthResponse struct {
	Status    string    `json:"status"` // "healthy" or "degraded"
	Uptime    string    `json:"uptime"`
	PoolStats PoolStats `json:"pool_stats"`
	Version   string    `json:"version"`
}

// PoolStats reports the state of the browser page pool.
type PoolStats struct {
	MaxPages    int `json:"max_pages"`
	ActivePages int `json:"active_pages"`
}
