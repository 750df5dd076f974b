package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/use-agent/quietpage/cache"
	"github.com/use-agent/quietpage/config"
	"github.com/use-agent/quietpage/extract"
	"github.com/use-agent/quietpage/models"
	"github.com/use-agent/quietpage/probe"
	"github.com/use-agent/quietpage/quiesce"
	"github.com/use-agent/quietpage/scraper"
)

type fakeSettler struct {
	calls   atomic.Int32
	lastReq *models.SettleRequest
	result  *scraper.SettleResult
	err     error
}

func (f *fakeSettler) DoSettle(_ context.Context, req *models.SettleRequest) (*scraper.SettleResult, error) {
	f.calls.Add(1)
	f.lastReq = req
	return f.result, f.err
}

func (f *fakeSettler) Stats() models.PoolStats {
	return models.PoolStats{MaxPages: 10, ActivePages: 9}
}

func testConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Server.Mode = "test"
	cfg.Auth.APIKeys = []string{"secret"}
	cfg.RateLimit.RequestsPerSecond = 1000
	cfg.RateLimit.Burst = 1000
	return cfg
}

func newTestRouter(cfg *config.Config, sc *fakeSettler, cc cache.Store) (http.Handler, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	return NewRouter(cfg, Deps{
		Settler:   sc,
		Extractor: extract.New(),
		Cache:     cc,
		Registry:  reg,
		StartTime: time.Now(),
	}), reg
}

func settledPage() *scraper.SettleResult {
	return &scraper.SettleResult{
		RawHTML:    `<html><head><title>T</title></head><body><ul><li><b>one</b></li><li><b>two</b></li></ul></body></html>`,
		Title:      "T",
		StatusCode: 200,
		FinalURL:   "https://example.com/final",
		Quiescence: quiesce.Result{
			Outcome: quiesce.SettledTimeout,
			Elapsed: 1500 * time.Millisecond,
			Checks:  3,
		},
		RequestsObserved: 4,
		Hooks:            probe.Hooks{Fetch: true, XHR: true, Observer: true},
	}
}

func post(h http.Handler, body string, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/settle", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) models.SettleResponse {
	t.Helper()
	var resp models.SettleResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
	return resp
}

func TestSettle_Success(t *testing.T) {
	sc := &fakeSettler{result: settledPage()}
	h, _ := newTestRouter(testConfig(), sc, nil)

	w := post(h, `{"url":"https://example.com","records":{"item":"li","fields":{"name":"b"}}}`, "secret")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	resp := decode(t, w)

	if !resp.Success {
		t.Error("a timeout outcome is still a success")
	}
	if resp.Quiescence.SettledBy != "timeout" || resp.Quiescence.ElapsedMs != 1500 {
		t.Errorf("quiescence = %+v", resp.Quiescence)
	}
	if !resp.Quiescence.Hooks.XHR || resp.Quiescence.RequestsObserved != 4 {
		t.Errorf("quiescence = %+v", resp.Quiescence)
	}
	if len(resp.Records) != 2 || *resp.Records[1].Fields["name"] != "two" {
		t.Errorf("records = %+v", resp.Records)
	}
	if resp.Title != "T" || resp.FinalURL != "https://example.com/final" {
		t.Errorf("title/url = %q %q", resp.Title, resp.FinalURL)
	}

	if sc.lastReq.OutputFormat != "html" || sc.lastReq.ScrollToBottom == nil || !*sc.lastReq.ScrollToBottom {
		t.Errorf("defaults not applied: %+v", sc.lastReq)
	}
}

func TestSettle_Validation(t *testing.T) {
	sc := &fakeSettler{result: settledPage()}
	h, _ := newTestRouter(testConfig(), sc, nil)

	for _, body := range []string{
		`{}`,
		`{"url":"not a url"}`,
		`{"url":"https://example.com","idle_ms":-5}`,
		`{"url":"https://example.com","output_format":"pdf"}`,
	} {
		if w := post(h, body, "secret"); w.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", body, w.Code)
		}
	}
	if sc.calls.Load() != 0 {
		t.Error("invalid requests must not reach the browser")
	}
}

func TestSettle_ErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{models.NewScrapeError(models.ErrCodeTimeout, "slow", nil), http.StatusGatewayTimeout},
		{models.NewScrapeError(models.ErrCodeNavigation, "dns", nil), http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		h, _ := newTestRouter(testConfig(), &fakeSettler{err: tc.err}, nil)
		w := post(h, `{"url":"https://example.com"}`, "secret")
		if w.Code != tc.want {
			t.Errorf("%v: status = %d, want %d", tc.err, w.Code, tc.want)
		}
		if resp := decode(t, w); resp.Success || resp.Error == nil {
			t.Errorf("%v: response = %+v", tc.err, resp)
		}
	}
}

func idlePage() *scraper.SettleResult {
	r := settledPage()
	r.Quiescence.Outcome = quiesce.SettledIdle
	return r
}

func TestSettle_Cache(t *testing.T) {
	sc := &fakeSettler{result: idlePage()}
	cc := cache.New(10, time.Hour)
	defer cc.Close()
	h, _ := newTestRouter(testConfig(), sc, cc)

	body := `{"url":"https://example.com","max_age":60000}`
	if resp := decode(t, post(h, body, "secret")); resp.CacheStatus != "miss" {
		t.Errorf("first CacheStatus = %q, want miss", resp.CacheStatus)
	}
	if resp := decode(t, post(h, body, "secret")); resp.CacheStatus != "hit" {
		t.Errorf("second CacheStatus = %q, want hit", resp.CacheStatus)
	}
	if sc.calls.Load() != 1 {
		t.Errorf("settler calls = %d, want 1", sc.calls.Load())
	}
}

func TestSettle_TimeoutNotCached(t *testing.T) {
	sc := &fakeSettler{result: settledPage()}
	cc := cache.New(10, time.Hour)
	defer cc.Close()
	h, _ := newTestRouter(testConfig(), sc, cc)

	body := `{"url":"https://example.com","max_age":60000}`
	for i := 0; i < 2; i++ {
		resp := decode(t, post(h, body, "secret"))
		if resp.CacheStatus != "miss" || resp.Quiescence.SettledBy != "timeout" {
			t.Errorf("request %d: cache_status=%q settled_by=%q, want miss/timeout",
				i, resp.CacheStatus, resp.Quiescence.SettledBy)
		}
	}
	if sc.calls.Load() != 2 {
		t.Errorf("settler calls = %d, want 2", sc.calls.Load())
	}
	if cc.Len() != 0 {
		t.Errorf("cache holds %d entries, want 0", cc.Len())
	}
}

func TestAuth(t *testing.T) {
	h, _ := newTestRouter(testConfig(), &fakeSettler{result: settledPage()}, nil)

	if w := post(h, `{"url":"https://example.com"}`, ""); w.Code != http.StatusUnauthorized {
		t.Errorf("missing key: status = %d", w.Code)
	}
	if w := post(h, `{"url":"https://example.com"}`, "wrong"); w.Code != http.StatusUnauthorized {
		t.Errorf("wrong key: status = %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/settle", bytes.NewBufferString(`{"url":"https://example.com"}`))
	req.Header.Set("X-API-Key", "secret")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("X-API-Key: status = %d", w.Code)
	}
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.RequestsPerSecond = 0.001
	cfg.RateLimit.Burst = 1
	h, reg := newTestRouter(cfg, &fakeSettler{result: settledPage()}, nil)

	if w := post(h, `{"url":"https://example.com"}`, "secret"); w.Code != http.StatusOK {
		t.Fatalf("first request: status = %d", w.Code)
	}
	w := post(h, `{"url":"https://example.com"}`, "secret")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: status = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, mf := range mfs {
		if mf.GetName() == "quietpage_ratelimit_rejected_total" {
			found = mf.GetMetric()[0].GetCounter().GetValue() == 1
		}
	}
	if !found {
		t.Error("rejected counter not incremented")
	}
}

func TestHealthAndMetrics(t *testing.T) {
	h, _ := newTestRouter(testConfig(), &fakeSettler{}, nil)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("health status = %d", w.Code)
	}
	var health models.HealthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &health); err != nil {
		t.Fatal(err)
	}
	if health.Status != "degraded" {
		t.Errorf("status = %q, want degraded at 9/10 pages", health.Status)
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "quietpage_ratelimit_rejected_total") {
		t.Errorf("metrics: status %d, body %q", w.Code, w.Body.String())
	}
}
