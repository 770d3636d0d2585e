package applog

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	imetrics "github.com/kybaq/har-tool/internal/metrics"
)

// loggingResponseWriter captures status code, bytes written and a
// bounded response body preview.
type loggingResponseWriter struct {
	http.ResponseWriter
	status     int
	n          int
	preview    []byte
	maxPreview int
}

func (w *loggingResponseWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *loggingResponseWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	if w.maxPreview > 0 && len(w.preview) < w.maxPreview {
		rem := w.maxPreview - len(w.preview)
		cp := len(b)
		if cp > rem {
			cp = rem
		}
		w.preview = append(w.preview, b[:cp]...)
	}
	n, err := w.ResponseWriter.Write(b)
	w.n += n
	return n, err
}

// Flush keeps streaming handlers working behind the logging wrapper.
func (w *loggingResponseWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// rcCombiner lets us restore a previewed body while still closing the
// original.
type rcCombiner struct {
	io.Reader
	closer io.Closer
}

func (r rcCombiner) Close() error { return r.closer.Close() }

// WithRequestLogging logs request and response details for the demo
// upstream and records its Prometheus metrics. Request and response
// bodies are previewed up to 8 KiB without consuming them.
func WithRequestLogging(next http.Handler) http.Handler {
	const maxBodyPreview = 8 << 10
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Do not log or record metrics for Prometheus scrapes.
		if isMetricsScrape(r) {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		imetrics.UpstreamInflightInc()
		defer imetrics.UpstreamInflightDec()

		// Favor X-Forwarded-For for the remote address when present.
		var remote, fwdChain string
		if xf := r.Header.Get("X-Forwarded-For"); xf != "" {
			fwdChain = xf
			remote = strings.TrimSpace(strings.Split(xf, ",")[0])
		} else {
			host, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				remote = r.RemoteAddr
			} else {
				remote = host
			}
		}

		// Preview up to maxBodyPreview of the request body, then
		// restore it so handlers can read the full content.
		var preview []byte
		if r.Body != nil {
			limited := io.LimitReader(r.Body, int64(maxBodyPreview+1))
			buf, _ := io.ReadAll(limited)
			truncated := len(buf) > maxBodyPreview
			if truncated {
				preview = buf[:maxBodyPreview]
				r.Body = rcCombiner{
					Reader: io.MultiReader(bytes.NewReader(preview), r.Body),
					closer: r.Body,
				}
			} else {
				preview = buf
				r.Body = rcCombiner{
					Reader: bytes.NewReader(preview),
					closer: io.NopCloser(bytes.NewReader(nil)),
				}
			}
		}

		reqHeaders := make(map[string]string, len(r.Header))
		for k, v := range r.Header {
			reqHeaders[k] = strings.Join(v, ", ")
		}

		bodyNote := ""
		if len(preview) > 0 {
			bodyNote = fmt.Sprintf(", req_body_preview=%q", string(preview))
		}

		reqID := r.Header.Get("X-Request-ID")
		reqLine := fmt.Sprintf(
			"REQ remote=%s fwd=%q method=%s url=%s proto=%s req-content-length=%s headers=%v%s",
			remote,
			fwdChain,
			r.Method,
			r.URL.RequestURI(),
			r.Proto,
			r.Header.Get("Content-Length"),
			reqHeaders,
			bodyNote,
		)
		Emit("info", "upstream", map[string]string{
			"method":     r.Method,
			"host":       MustHostname(),
			"request_id": reqID,
		}, reqLine)

		lrw := &loggingResponseWriter{ResponseWriter: w, maxPreview: maxBodyPreview}
		next.ServeHTTP(lrw, r)

		dur := time.Since(start)
		status := lrw.status
		if status == 0 {
			status = http.StatusOK
		}

		respHeaders := make(map[string]string, len(lrw.Header()))
		for k, v := range lrw.Header() {
			respHeaders[k] = strings.Join(v, ", ")
		}

		respBodyNote := ""
		if len(lrw.preview) > 0 {
			respBodyNote = fmt.Sprintf(", resp_body_preview=%q", string(lrw.preview))
		}

		respLine := fmt.Sprintf(
			"RESP status=%d bytes=%d dur=%s resp-content-length=%s resp_headers=%v%s",
			status,
			lrw.n,
			dur.String(),
			lrw.Header().Get("Content-Length"),
			respHeaders,
			respBodyNote,
		)

		imetrics.ObserveUpstreamResponse(r.Method, status, dur)

		Emit("info", "upstream", map[string]string{
			"method":     r.Method,
			"status":     strconv.Itoa(status),
			"host":       MustHostname(),
			"request_id": reqID,
		}, respLine)
	})
}

// WithRequestID assigns a unique ID to each request and exposes it to
// handlers and logs through the X-Request-ID header.
func WithRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isMetricsScrape(r) {
			next.ServeHTTP(w, r)
			return
		}
		if r.Header.Get("X-Request-ID") == "" {
			r.Header.Set("X-Request-ID", uuid.NewString())
		}
		w.Header().Set("X-Request-ID", r.Header.Get("X-Request-ID"))
		next.ServeHTTP(w, r)
	})
}
