package proxy

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kybaq/har-tool/internal/capture"
	applog "github.com/kybaq/har-tool/internal/log"
	"github.com/kybaq/har-tool/internal/metrics"
)

// exchange tracks one proxied request/response pair from first byte to
// terminal emission. Exactly one of the terminal paths (response end,
// upstream error, timeout) emits the record.
type exchange struct {
	proxy   *Proxy
	mode    string
	rec     capture.LogRecord
	start   time.Time
	reqTee  *boundedCapture
	reqMime string
	once    sync.Once
}

// newExchange starts the record for one exchange. The outbound header
// set is the inbound one with hop-by-hop names stripped; the record
// sees exactly what the upstream will see.
func (p *Proxy) newExchange(mode, method string, target *url.URL, header http.Header) (*exchange, http.Header) {
	outHeader := outboundHeader(header)
	rec := capture.NewRecord(method, target.String())
	rec.Request.Headers = capture.FlattenHeader(outHeader)
	rec.Request.Query = capture.QueryMap(target.Query())
	return &exchange{
		proxy:   p,
		mode:    mode,
		rec:     rec,
		start:   time.Now(),
		reqTee:  newBoundedCapture(p.bodyLimit),
		reqMime: header.Get("Content-Type"),
	}, outHeader
}

// requestBody tees the inbound body through the bounded capture.
func (ex *exchange) requestBody(body io.ReadCloser) io.Reader {
	if body == nil || body == http.NoBody {
		return http.NoBody
	}
	return io.TeeReader(body, ex.reqTee)
}

// emit finalizes and publishes the record. Safe to call from more than
// one terminal path; only the first wins.
func (ex *exchange) emit(status int, respHeader map[string]string, respBody *capture.Body) {
	ex.once.Do(func() {
		dur := time.Since(ex.start)
		ex.rec.Status = status
		ex.rec.DurationMs = dur.Milliseconds()
		ex.rec.Request.Body = capturedBody(ex.reqMime, ex.reqTee)
		ex.rec.Response = &capture.ResponseInfo{
			Headers: respHeader,
			Body:    respBody,
		}
		metrics.ObserveExchange(ex.mode, ex.rec.Method, status, dur)
		metrics.ObserveBodyBytes("request", ex.reqTee.Len())
		if respBody != nil {
			metrics.ObserveBodyBytes("response", len(respBody.Text))
		}
		applog.LogExchange(ex.mode, ex.rec.Method, ex.rec.URL, status,
			ex.reqTee.Len(), respBodyLen(respBody), dur)
		ex.proxy.sink(ex.rec)
	})
}

// emitFailure publishes the minimal record for an exchange that never
// produced an upstream response.
func (ex *exchange) emitFailure(status int, errText string) {
	ex.emit(status, nil, &capture.Body{Mime: "text/plain", Text: errText})
}

func respBodyLen(body *capture.Body) int {
	if body == nil {
		return 0
	}
	return len(body.Text)
}

// upstreamContext wraps the client context with the upstream timeout.
// The timer covers the whole exchange, headers and body; it fires at
// most once and marks the cancellation as a timeout.
func (p *Proxy) upstreamContext(parent context.Context) (context.Context, *time.Timer, *atomic.Bool, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	timedOut := &atomic.Bool{}
	timer := time.AfterFunc(p.timeout, func() {
		timedOut.Store(true)
		cancel()
	})
	return ctx, timer, timedOut, cancel
}

// handleForward relays one plain-HTTP proxy request upstream, teeing
// both bodies and emitting one record.
func (p *Proxy) handleForward(w http.ResponseWriter, r *http.Request) {
	target, ok := targetURL(r)
	if !ok {
		http.Error(w, "proxy: request target could not be resolved", http.StatusBadRequest)
		return
	}

	ex, outHeader := p.newExchange("http", r.Method, target, r.Header)

	ctx, timer, timedOut, cancel := p.upstreamContext(r.Context())
	defer cancel()
	defer timer.Stop()

	outReq, err := http.NewRequestWithContext(ctx, r.Method, target.String(), ex.requestBody(r.Body))
	if err != nil {
		http.Error(w, "proxy: invalid request target", http.StatusBadRequest)
		return
	}
	outReq.Header = outHeader
	outReq.Host = target.Host
	outReq.ContentLength = r.ContentLength

	resp, err := p.transport.RoundTrip(outReq)
	if err != nil {
		if r.Context().Err() != nil && !timedOut.Load() {
			// Client went away first. Nothing to answer, nothing to log
			// beyond the teardown itself.
			return
		}
		errText := fmt.Sprintf("upstream error: %v", err)
		if timedOut.Load() {
			errText = fmt.Sprintf("upstream timeout after %s", p.timeout)
		}
		applog.LogProxyError("http", r.Method, target.String(), http.StatusBadGateway, err)
		http.Error(w, errText, http.StatusBadGateway)
		ex.emitFailure(http.StatusBadGateway, errText)
		return
	}
	defer resp.Body.Close()

	respHeader := outboundHeader(resp.Header)
	copyHeader(w.Header(), respHeader)
	w.WriteHeader(resp.StatusCode)

	respTee := newBoundedCapture(p.bodyLimit)
	_, copyErr := io.Copy(w, io.TeeReader(resp.Body, respTee))
	timer.Stop()

	ex.emit(resp.StatusCode, capture.FlattenHeader(respHeader),
		capturedBody(resp.Header.Get("Content-Type"), respTee))

	if copyErr != nil {
		if timedOut.Load() {
			// Headers already went out, so a 502 is no longer possible.
			// Tear the client connection down instead of leaving it on a
			// stream that will never finish.
			applog.LogProxyError("http", r.Method, target.String(), resp.StatusCode, copyErr)
			panic(http.ErrAbortHandler)
		}
		applog.Emit("debug", "capture", nil,
			fmt.Sprintf("forward: body relay interrupted url=%s err=%v", target, copyErr))
	}
}
