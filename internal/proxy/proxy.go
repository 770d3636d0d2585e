// Package proxy implements the intercepting forward proxy: plain-HTTP
// absolute-form forwarding, CONNECT tunneling and optional TLS
// interception. Every finished exchange is handed to a Sink; the wire
// path itself never blocks on what the sink does with the record.
package proxy

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/kybaq/har-tool/internal/capture"
	"github.com/kybaq/har-tool/internal/mitm"
)

// DefaultUpstreamTimeout bounds the wait for upstream response headers.
const DefaultUpstreamTimeout = 15 * time.Second

// Sink receives one record per finished exchange or tunnel. It runs on
// the connection goroutine and must not block.
type Sink func(capture.LogRecord)

// Options configures a Proxy.
type Options struct {
	// Sink receives every emitted record. A nil sink discards them.
	Sink Sink
	// BodyLimit caps captured body bytes per exchange side. Zero or
	// less falls back to capture.DefaultBodyLimit.
	BodyLimit int
	// UpstreamTimeout bounds the wait for upstream response headers.
	// Zero or less falls back to DefaultUpstreamTimeout.
	UpstreamTimeout time.Duration
	// Certs enables TLS interception of CONNECT requests. When nil,
	// CONNECT is tunneled without decryption.
	Certs *mitm.CertCache
}

// Proxy serves proxy-style requests: absolute-form HTTP, origin-form
// HTTP with a Host header, and CONNECT.
type Proxy struct {
	sink      Sink
	bodyLimit int
	timeout   time.Duration
	certs     *mitm.CertCache
	transport *http.Transport
}

// New builds a Proxy with a shared keep-alive transport.
func New(opts Options) *Proxy {
	sink := opts.Sink
	if sink == nil {
		sink = func(capture.LogRecord) {}
	}
	bodyLimit := opts.BodyLimit
	if bodyLimit <= 0 {
		bodyLimit = capture.DefaultBodyLimit
	}
	timeout := opts.UpstreamTimeout
	if timeout <= 0 {
		timeout = DefaultUpstreamTimeout
	}
	return &Proxy{
		sink:      sink,
		bodyLimit: bodyLimit,
		timeout:   timeout,
		certs:     opts.Certs,
		transport: newTransport(),
	}
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
	return &http.Transport{
		DialContext:           dialPreferIPv4(dialer),
		ForceAttemptHTTP2:     false,
		TLSClientConfig:       &tls.Config{NextProtos: []string{"http/1.1"}},
		MaxIdleConns:          256,
		MaxIdleConnsPerHost:   64,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// dialPreferIPv4 resolves the host itself and tries IPv4 addresses
// before IPv6 ones. Literal addresses dial directly.
func dialPreferIPv4(dialer *net.Dialer) func(context.Context, string, string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil || net.ParseIP(host) != nil {
			return dialer.DialContext(ctx, network, addr)
		}
		addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
		if err != nil || len(addrs) == 0 {
			return dialer.DialContext(ctx, network, addr)
		}
		sort.SliceStable(addrs, func(i, j int) bool {
			return addrs[i].IP.To4() != nil && addrs[j].IP.To4() == nil
		})
		var lastErr error
		for _, ip := range addrs {
			conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(ip.IP.String(), port))
			if err == nil {
				return conn, nil
			}
			lastErr = err
		}
		return nil, lastErr
	}
}

// CloseIdleConnections releases pooled upstream sockets.
func (p *Proxy) CloseIdleConnections() {
	p.transport.CloseIdleConnections()
}

func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodConnect {
		if p.certs != nil {
			p.handleIntercept(w, r)
			return
		}
		p.handleTunnel(w, r)
		return
	}
	p.handleForward(w, r)
}

// targetURL resolves the proxied request target. Absolute-form URLs
// are taken as-is; origin-form requests are rebuilt from the Host
// header with an http scheme.
func targetURL(r *http.Request) (*url.URL, bool) {
	if r.URL.IsAbs() {
		if r.URL.Scheme != "http" && r.URL.Scheme != "https" {
			return nil, false
		}
		return r.URL, true
	}
	if r.Host == "" {
		return nil, false
	}
	target := *r.URL
	target.Scheme = "http"
	target.Host = r.Host
	if target.Path == "" {
		target.Path = "/"
	}
	return &target, true
}

// capturedBody builds the record body from a tee, or nil when nothing
// was declared or observed.
func capturedBody(mime string, tee *boundedCapture) *capture.Body {
	if mime == "" && tee.Len() == 0 {
		return nil
	}
	return &capture.Body{
		Mime: mime,
		Text: capture.ToValidText(tee.Bytes()),
	}
}
