package models

// SettleRequest is the payload for POST /api/v1/settle.
type SettleRequest struct {
	// URL is the target page. Required.
	URL string `json:"url" binding:"required,url"`

	// IdleMs is the quiet window in milliseconds: no request in flight and
	// no DOM mutation for this long means the page has settled.
	// Default: 800, or the server's configured idle window.
	IdleMs int `json:"idle_ms,omitempty" binding:"omitempty,min=1"`

	// TimeoutMs caps the wait for quiescence. When it fires the page is read
	// as-is. Default: 25000, or the server's configured timeout. Capped by the server's max timeout.
	TimeoutMs int `json:"timeout_ms,omitempty" binding:"omitempty,min=1"`

	// ScrollToBottom scrolls to the end of the document after the page has
	// settled so lazy-loaded content starts loading. Default: true.
	ScrollToBottom *bool `json:"scroll_to_bottom,omitempty"`

	// SettleDelayMs is a pause after scrolling, before the DOM is read.
	// Default: 500, or the server's configured settle delay.
	SettleDelayMs *int `json:"settle_delay_ms,omitempty" binding:"omitempty,min=0,max=10000"`

	// Stealth enables anti-bot-detection evasions (e.g. navigator.webdriver masking).
	Stealth bool `json:"stealth,omitempty"`

	// BlockAds blocks requests to well-known ad and tracking domains.
	BlockAds bool `json:"block_ads,omitempty"`

	// Headers are extra HTTP headers sent with every page request.
	Headers map[string]string `json:"headers,omitempty"`

	// Cookies are set on the page before navigation.
	Cookies []Cookie `json:"cookies,omitempty"`

	// CSSSelector restricts the returned content to matching elements.
	CSSSelector string `json:"css_selector,omitempty"`

	// Records, when set, extracts one record per item element.
	Records *RecordSpec `json:"records,omitempty"`

	// OutputFormat controls the content format.
	// Allowed: "html" (default), "markdown", "text".
	OutputFormat string `json:"output_format,omitempty" binding:"omitempty,oneof=html markdown text"`

	// ExtractMode is "raw" (default, whole rendered page) or "readability"
	// (main article body only).
	ExtractMode string `json:"extract_mode,omitempty" binding:"omitempty,oneof=raw readability"`

	// MaxAge enables the response cache: a cached response younger than
	// MaxAge milliseconds is returned without loading the page.
	MaxAge int `json:"max_age,omitempty" binding:"omitempty,min=0"`
}

// Cookie is a cookie to set before navigation. Domain defaults to the
// target host and Path to "/".
type Cookie struct {
	Name   string `json:"name" binding:"required"`
	Value  string `json:"value"`
	Domain string `json:"domain,omitempty"`
	Path   string `json:"path,omitempty"`
}

// RecordSpec describes selector-driven record extraction.
type RecordSpec struct {
	// Item selects one element per record.
	Item string `json:"item" binding:"required"`

	// Fields maps a field name to a selector evaluated inside the item.
	// The field value is the trimmed text of the first match.
	Fields map[string]string `json:"fields" binding:"required"`

	// IDFields lists the fields hashed into the record id, in order.
	// Default: every field, sorted by name.
	IDFields []string `json:"id_fields,omitempty"`
}

// Defaults applies default values to unset fields. IdleMs, TimeoutMs and
// SettleDelayMs stay unset so the server's configured defaults apply.
func (r *SettleRequest) Defaults() {
	if r.ScrollToBottom == nil {
		t := true
		r.ScrollToBottom = &t
	}
	if r.OutputFormat == "" {
		r.OutputFormat = "html"
	}
	if r.ExtractMode == "" {
		r.ExtractMode = "raw"
	}
}
