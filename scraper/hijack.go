package scraper

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/use-agent/quietpage/activity"
)

// configToProto maps human-readable config strings to Rod protocol resource types.
var configToProto = map[string]proto.NetworkResourceType{
	"Image":      proto.NetworkResourceTypeImage,
	"Stylesheet": proto.NetworkResourceTypeStylesheet,
	"Font":       proto.NetworkResourceTypeFont,
	"Media":      proto.NetworkResourceTypeMedia,
	"Script":     proto.NetworkResourceTypeScript,
}

// adDomains is a set of well-known ad and tracking domains to block
// when BlockAds is enabled.
var adDomains = map[string]struct{}{
	"doubleclick.net":                {},
	"googlesyndication.com":          {},
	"googleadservices.com":           {},
	"google-analytics.com":           {},
	"googletagmanager.com":           {},
	"googletagservices.com":          {},
	"facebook.net":                   {},
	"connect.facebook.net":           {},
	"facebook.com":                   {},
	"fbcdn.net":                      {},
	"adnxs.com":                      {},
	"adsrvr.org":                     {},
	"amazon-adsystem.com":            {},
	"criteo.com":                     {},
	"criteo.net":                     {},
	"outbrain.com":                   {},
	"taboola.com":                    {},
	"moatads.com":                    {},
	"pubmatic.com":                   {},
	"rubiconproject.com":             {},
	"scorecardresearch.com":          {},
	"quantserve.com":                 {},
	"hotjar.com":                     {},
	"mixpanel.com":                   {},
	"segment.io":                     {},
	"segment.com":                    {},
	"analytics.twitter.com":          {},
	"ads-twitter.com":                {},
	"static.ads-twitter.com":         {},
	"chartbeat.com":                  {},
	"chartbeat.net":                  {},
	"optimizely.com":                 {},
	"zedo.com":                       {},
	"media.net":                      {},
	"contextweb.com":                 {},
	"bidswitch.net":                  {},
	"openx.net":                      {},
	"casalemedia.com":                {},
	"demdex.net":                     {},
	"krxd.net":                       {},
	"bluekai.com":                    {},
	"exelator.com":                   {},
	"turn.com":                       {},
	"mathtag.com":                    {},
	"serving-sys.com":                {},
	"eyeota.net":                     {},
	"agkn.com":                       {},
	"rlcdn.com":                      {},
	"sharethis.com":                  {},
	"addthis.com":                    {},
	"consensu.org":                   {},
}

// isAdDomain checks if a hostname (or any parent domain) is in the ad blocklist.
func isAdDomain(host string) bool {
	host = strings.ToLower(host)
	// Check exact match first.
	if _, ok := adDomains[host]; ok {
		return true
	}
	// Check parent domains (e.g., "pagead2.googlesyndication.com" → "googlesyndication.com").
	for {
		idx := strings.IndexByte(host, '.')
		if idx < 0 {
			break
		}
		host = host[idx+1:]
		if _, ok := adDomains[host]; ok {
			return true
		}
	}
	return false
}

// setupHijack installs a request interceptor on the page that blocks
// the configured resource types and, optionally, known ad/tracking domains.
//
// When fetcher is non-nil every request that is not blocked is loaded by
// Go through fetcher.client instead of the browser. Requests the page
// script already counts (XHR and Fetch) go through fetcher.plain so they
// are not counted twice.
//
// Returns the running HijackRouter so the caller can defer router.Stop().
// Returns nil if there is nothing to intercept.
func setupHijack(page *rod.Page, blockedTypes []string, blockAds bool, fetcher *goFetcher) *rod.HijackRouter {
	blocked := make(map[proto.NetworkResourceType]struct{}, len(blockedTypes))
	for _, name := range blockedTypes {
		if rt, ok := configToProto[name]; ok {
			blocked[rt] = struct{}{}
		}
	}
	if len(blocked) == 0 && !blockAds && fetcher == nil {
		return nil
	}

	router := page.HijackRequests()

	// Pattern "*" + empty resourceType = intercept ALL requests, then
	// decide per-request whether to block, fetch from Go or continue.
	_ = router.Add("*", "", func(ctx *rod.Hijack) {
		if _, shouldBlock := blocked[ctx.Request.Type()]; shouldBlock {
			ctx.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}

		if blockAds {
			if u, err := url.Parse(ctx.Request.URL().String()); err == nil {
				if isAdDomain(u.Hostname()) {
					ctx.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
					return
				}
			}
		}

		if fetcher != nil {
			client := fetcher.client
			switch ctx.Request.Type() {
			case proto.NetworkResourceTypeXHR, proto.NetworkResourceTypeFetch:
				client = fetcher.plain
			}
			if err := ctx.LoadResponse(client, true); err != nil {
				slog.Debug("hijack: go fetch failed",
					"url", ctx.Request.URL().String(), "error", err)
				ctx.Response.Fail(proto.NetworkErrorReasonFailed)
			}
			return
		}

		ctx.ContinueRequest(&proto.FetchContinueRequest{})
	})

	// router.Run() blocks, so it must live in its own goroutine.
	// It will exit when router.Stop() is called.
	go router.Run()

	return router
}

// goFetcher holds the two clients used to fulfil hijacked requests.
type goFetcher struct {
	client *http.Client // counted as page activity
	plain  *http.Client
}

func newGoFetcher(base http.RoundTripper, monitor *activity.Monitor) *goFetcher {
	return &goFetcher{
		client: &http.Client{Transport: activity.NewTransport(base, monitor)},
		plain:  &http.Client{Transport: base},
	}
}
