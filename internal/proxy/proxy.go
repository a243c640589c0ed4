// Package proxy forwards gateway requests to backend services.
package proxy

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/bridgegate/gateway/internal/router"
)

// hopByHopHeaders are stripped before forwarding, per RFC 7230 section 6.1.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// TransportConfig configures the shared backend transport.
type TransportConfig struct {
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
	DialTimeout         time.Duration
	TLSHandshakeTimeout time.Duration
	ForceHTTP2          bool
}

// DefaultTransportConfig provides default transport settings.
var DefaultTransportConfig = TransportConfig{
	MaxIdleConns:        100,
	MaxIdleConnsPerHost: 10,
	IdleConnTimeout:     90 * time.Second,
	DialTimeout:         30 * time.Second,
	TLSHandshakeTimeout: 10 * time.Second,
	ForceHTTP2:          true,
}

// NewTransport creates an HTTP transport with the given configuration.
func NewTransport(cfg TransportConfig) *http.Transport {
	dialer := &net.Dialer{
		Timeout:   cfg.DialTimeout,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		TLSHandshakeTimeout:   cfg.TLSHandshakeTimeout,
		ExpectContinueTimeout: time.Second,
		ForceAttemptHTTP2:     cfg.ForceHTTP2,
	}
}

// Forwarder sends requests to route backends over a shared transport.
type Forwarder struct {
	transport http.RoundTripper
}

// NewForwarder creates a forwarder with the default transport.
func NewForwarder() *Forwarder {
	return &Forwarder{transport: NewTransport(DefaultTransportConfig)}
}

// NewForwarderWithTransport creates a forwarder over a custom round tripper.
func NewForwarderWithTransport(rt http.RoundTripper) *Forwarder {
	return &Forwarder{transport: rt}
}

// Forward sends the request to the route's backend and returns the backend
// response. The caller owns the response body. The outbound path is the
// incoming path after the route's prefix strip, the query string is passed
// through untouched, and hop-by-hop headers are removed.
func (f *Forwarder) Forward(ctx context.Context, rt *router.Route, r *http.Request) (*http.Response, error) {
	outURL := *rt.Backend
	outURL.Path = singleJoin(rt.Backend.Path, rt.RewritePath(r.URL.Path))
	outURL.RawQuery = r.URL.RawQuery

	out, err := http.NewRequestWithContext(ctx, r.Method, outURL.String(), r.Body)
	if err != nil {
		return nil, err
	}
	out.ContentLength = r.ContentLength

	out.Header = cloneHeader(r.Header)
	for _, h := range hopByHopHeaders {
		out.Header.Del(h)
	}
	out.Host = rt.Backend.Host

	if clientIP, _, splitErr := net.SplitHostPort(r.RemoteAddr); splitErr == nil {
		if prior := out.Header.Get("X-Forwarded-For"); prior != "" {
			clientIP = prior + ", " + clientIP
		}
		out.Header.Set("X-Forwarded-For", clientIP)
	}
	if out.Header.Get("X-Forwarded-Proto") == "" {
		proto := "http"
		if r.TLS != nil {
			proto = "https"
		}
		out.Header.Set("X-Forwarded-Proto", proto)
	}
	if out.Header.Get("X-Forwarded-Host") == "" {
		out.Header.Set("X-Forwarded-Host", r.Host)
	}

	return f.transport.RoundTrip(out)
}

func cloneHeader(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for k, vv := range h {
		out[k] = append([]string(nil), vv...)
	}
	return out
}

func singleJoin(base, path string) string {
	switch {
	case base == "":
		return path
	case strings.HasSuffix(base, "/") && strings.HasPrefix(path, "/"):
		return base + path[1:]
	case !strings.HasSuffix(base, "/") && !strings.HasPrefix(path, "/"):
		return base + "/" + path
	}
	return base + path
}

// CopyResponse writes a backend response to the client: headers first, minus
// hop-by-hop entries, then status, then body.
func CopyResponse(w http.ResponseWriter, resp *http.Response) error {
	for _, h := range hopByHopHeaders {
		resp.Header.Del(h)
	}
	dst := w.Header()
	for k, vv := range resp.Header {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	defer resp.Body.Close()
	_, err := io.Copy(w, resp.Body)
	return err
}
