package proxy

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/kybaq/har-tool/internal/capture"
	applog "github.com/kybaq/har-tool/internal/log"
	"github.com/kybaq/har-tool/internal/metrics"
)

const tunnelDialTimeout = 10 * time.Second

// connectAuthority normalizes the CONNECT target to host:port, with
// 443 as the default port.
func connectAuthority(host string) string {
	if !strings.Contains(host, ":") {
		return host + ":443"
	}
	return host
}

// handleTunnel relays a CONNECT request as an opaque TCP splice. The
// tunnel contents are never observed; one record marks the tunnel with
// the outcome of the dial.
func (p *Proxy) handleTunnel(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	authority := connectAuthority(r.Host)

	rec := capture.NewRecord(http.MethodConnect, "https://"+authority)
	rec.Request.Headers = capture.FlattenHeader(outboundHeader(r.Header))

	upstream, err := net.DialTimeout("tcp", authority, tunnelDialTimeout)
	if err != nil {
		applog.LogProxyError("tunnel", http.MethodConnect, rec.URL, http.StatusBadGateway, err)
		http.Error(w, fmt.Sprintf("tunnel dial failed: %v", err), http.StatusBadGateway)
		rec.Status = http.StatusBadGateway
		rec.DurationMs = time.Since(start).Milliseconds()
		rec.Response = &capture.ResponseInfo{
			Body: &capture.Body{Mime: "text/plain", Text: fmt.Sprintf("tunnel dial failed: %v", err)},
		}
		applog.LogTunnel(authority, http.StatusBadGateway, time.Since(start))
		p.sink(rec)
		return
	}

	hijacker, ok := w.(http.Hijacker)
	if !ok {
		upstream.Close()
		http.Error(w, "tunneling unsupported", http.StatusInternalServerError)
		return
	}
	clientConn, buffered, err := hijacker.Hijack()
	if err != nil {
		upstream.Close()
		return
	}

	if _, err := clientConn.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n")); err != nil {
		clientConn.Close()
		upstream.Close()
		return
	}

	dur := time.Since(start)
	rec.Status = http.StatusOK
	rec.DurationMs = dur.Milliseconds()
	metrics.TunnelOpenedInc()
	applog.LogTunnel(authority, http.StatusOK, dur)
	p.sink(rec)

	// Bytes the server read ahead of the CONNECT line belong to the
	// tunnel and must reach the upstream first.
	var clientSrc io.Reader = clientConn
	if n := buffered.Reader.Buffered(); n > 0 {
		clientSrc = io.MultiReader(io.LimitReader(buffered.Reader, int64(n)), clientConn)
	}

	splice(clientConn, upstream, clientSrc)
}

// splice wires both directions and tears the pair down once either
// side finishes.
func splice(clientConn, upstream net.Conn, clientSrc io.Reader) {
	done := make(chan struct{}, 2)
	go func() {
		_, _ = io.Copy(upstream, clientSrc)
		closeWrite(upstream)
		done <- struct{}{}
	}()
	go func() {
		_, _ = io.Copy(clientConn, upstream)
		closeWrite(clientConn)
		done <- struct{}{}
	}()
	<-done
	<-done
	clientConn.Close()
	upstream.Close()
}

func closeWrite(conn net.Conn) {
	type closeWriter interface{ CloseWrite() error }
	if cw, ok := conn.(closeWriter); ok {
		_ = cw.CloseWrite()
	}
}
