package proxy

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/kybaq/har-tool/internal/capture"
	applog "github.com/kybaq/har-tool/internal/log"
)

const mitmHandshakeTimeout = 10 * time.Second

// handleIntercept answers a CONNECT by terminating the client's TLS on
// a locally issued leaf, then serves the decrypted requests exactly
// like plain-HTTP forwarding with an https scheme.
func (p *Proxy) handleIntercept(w http.ResponseWriter, r *http.Request) {
	authority := connectAuthority(r.Host)
	hostOnly := authority
	if h, _, err := net.SplitHostPort(authority); err == nil {
		hostOnly = h
	}

	hijacker, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "tunneling unsupported", http.StatusInternalServerError)
		return
	}
	clientConn, _, err := hijacker.Hijack()
	if err != nil {
		return
	}
	if _, err := clientConn.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n")); err != nil {
		clientConn.Close()
		return
	}

	tlsConn := tls.Server(clientConn, p.certs.TLSConfig(hostOnly))
	_ = tlsConn.SetDeadline(time.Now().Add(mitmHandshakeTimeout))
	if err := tlsConn.Handshake(); err != nil {
		// Clients that do not trust the CA abort here. That is their
		// call; it must never take the proxy down with it.
		applog.Emit("debug", "capture", nil,
			fmt.Sprintf("mitm: handshake with client failed host=%s err=%v", authority, err))
		tlsConn.Close()
		return
	}
	_ = tlsConn.SetDeadline(time.Time{})
	defer tlsConn.Close()

	reader := bufio.NewReader(tlsConn)
	for {
		req, err := http.ReadRequest(reader)
		if err != nil {
			if !errors.Is(err, io.EOF) && !isClosedConn(err) {
				applog.Emit("debug", "capture", nil,
					fmt.Sprintf("mitm: read request host=%s err=%v", authority, err))
			}
			return
		}
		if !p.serveIntercepted(tlsConn, req, authority) {
			return
		}
	}
}

// serveIntercepted relays one decrypted request upstream and writes
// the response back over the client's TLS session. The return value
// reports whether the connection can carry another request.
func (p *Proxy) serveIntercepted(conn *tls.Conn, r *http.Request, authority string) bool {
	target, err := url.Parse("https://" + authority + r.URL.RequestURI())
	if err != nil {
		writeRawResponse(conn, http.StatusBadRequest, "mitm: request target could not be resolved")
		return false
	}

	ex, outHeader := p.newExchange("mitm", r.Method, target, r.Header)

	ctx, timer, timedOut, cancel := p.upstreamContext(context.Background())
	defer cancel()
	defer timer.Stop()

	outReq, err := http.NewRequestWithContext(ctx, r.Method, target.String(), ex.requestBody(r.Body))
	if err != nil {
		writeRawResponse(conn, http.StatusBadRequest, "mitm: invalid request target")
		return false
	}
	outReq.Header = outHeader
	outReq.Host = r.Host
	outReq.ContentLength = r.ContentLength

	resp, err := p.transport.RoundTrip(outReq)
	if err != nil {
		errText := fmt.Sprintf("upstream error: %v", err)
		if timedOut.Load() {
			errText = fmt.Sprintf("upstream timeout after %s", p.timeout)
		}
		applog.LogProxyError("mitm", r.Method, target.String(), http.StatusBadGateway, err)
		writeRawResponse(conn, http.StatusBadGateway, errText)
		ex.emitFailure(http.StatusBadGateway, errText)
		return false
	}
	defer resp.Body.Close()

	respHeader := outboundHeader(resp.Header)
	respTee := newBoundedCapture(p.bodyLimit)

	// Without a length or chunking the body only ends when the
	// connection does, so the client side has to close too.
	closing := resp.Close || r.Close ||
		(resp.ContentLength < 0 && len(resp.TransferEncoding) == 0)

	outResp := &http.Response{
		StatusCode:       resp.StatusCode,
		Proto:            "HTTP/1.1",
		ProtoMajor:       1,
		ProtoMinor:       1,
		Header:           respHeader,
		Body:             io.NopCloser(io.TeeReader(resp.Body, respTee)),
		ContentLength:    resp.ContentLength,
		TransferEncoding: resp.TransferEncoding,
		Request:          r,
		Close:            closing,
	}
	if err := outResp.Write(conn); err != nil {
		// Timed-out bodies and EPIPE-class disconnects both end here;
		// returning false closes the client's TLS session either way.
		if timedOut.Load() {
			applog.LogProxyError("mitm", r.Method, target.String(), resp.StatusCode, err)
		} else {
			applog.Emit("debug", "capture", nil,
				fmt.Sprintf("mitm: response relay interrupted url=%s err=%v", target, err))
		}
		ex.emit(resp.StatusCode, capture.FlattenHeader(respHeader),
			capturedBody(resp.Header.Get("Content-Type"), respTee))
		return false
	}

	ex.emit(resp.StatusCode, capture.FlattenHeader(respHeader),
		capturedBody(resp.Header.Get("Content-Type"), respTee))
	return !closing
}

// writeRawResponse answers on a hijacked connection where no
// http.ResponseWriter exists anymore.
func writeRawResponse(conn net.Conn, status int, text string) {
	body := text + "\n"
	_, _ = fmt.Fprintf(conn, "HTTP/1.1 %d %s\r\nContent-Type: text/plain; charset=utf-8\r\nContent-Length: %d\r\nConnection: close\r\n\r\n%s",
		status, http.StatusText(status), len(body), body)
}

func isClosedConn(err error) bool {
	return errors.Is(err, net.ErrClosed)
}
