package scraper

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	tls2 "github.com/refraction-networking/utls"
	"golang.org/x/net/proxy"
)

// newChromeTransport builds the transport used to fulfil hijacked requests
// from Go. TLS handshakes carry a Chrome fingerprint (utls).
func newChromeTransport(proxyAddr string) *http.Transport {
	transport := &http.Transport{
		DialTLSContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return dialTLSChrome(ctx, network, addr, proxyAddr)
		},
		MaxIdleConnsPerHost: 8,
		IdleConnTimeout:     90 * time.Second,
	}
	if proxyAddr != "" {
		u, err := url.Parse(proxyAddr)
		if err == nil && (u.Scheme == "http" || u.Scheme == "https") {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	return transport
}

// dialTLSChrome establishes a TLS connection using a Chrome fingerprint via
// utls. ALPN is pinned to http/1.1 because net/http cannot speak h2 over a
// custom dialed conn.
func dialTLSChrome(ctx context.Context, network, addr, proxyURL string) (net.Conn, error) {
	rawConn, err := dialRaw(ctx, network, addr, proxyURL)
	if err != nil {
		return nil, err
	}

	spec, err := tls2.UTLSIdToSpec(tls2.HelloChrome_Auto)
	if err != nil {
		rawConn.Close()
		return nil, fmt.Errorf("utls spec: %w", err)
	}
	for _, ext := range spec.Extensions {
		if alpn, ok := ext.(*tls2.ALPNExtension); ok {
			alpn.AlpnProtocols = []string{"http/1.1"}
		}
	}

	host, _, _ := net.SplitHostPort(addr)
	tlsConn := tls2.UClient(rawConn, &tls2.Config{ServerName: host}, tls2.HelloCustom)
	if err := tlsConn.ApplyPreset(&spec); err != nil {
		rawConn.Close()
		return nil, fmt.Errorf("utls preset: %w", err)
	}

	if err := tlsConn.HandshakeContext(ctx); err != nil {
		rawConn.Close()
		return nil, err
	}
	return tlsConn, nil
}

// dialRaw opens the TCP connection TLS runs over: through the SOCKS5 proxy
// when proxyURL is socks5:// or socks5h://, directly otherwise. HTTP proxies
// are handled by the transport's Proxy func, not here.
func dialRaw(ctx context.Context, network, addr, proxyURL string) (net.Conn, error) {
	dialer := &net.Dialer{}
	if proxyURL == "" {
		return dialer.DialContext(ctx, network, addr)
	}

	u, err := url.Parse(proxyURL)
	if err != nil || (u.Scheme != "socks5" && u.Scheme != "socks5h") {
		return dialer.DialContext(ctx, network, addr)
	}

	d, err := proxy.FromURL(u, dialer)
	if err != nil {
		return nil, fmt.Errorf("socks5 proxy: %w", err)
	}
	cd, ok := d.(proxy.ContextDialer)
	if !ok {
		return nil, fmt.Errorf("socks5 proxy: dialer %T has no DialContext", d)
	}
	conn, err := cd.DialContext(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("socks5 dial %s via %s: %w", addr, u.Host, err)
	}
	return conn, nil
}
