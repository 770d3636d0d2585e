// Package capture holds the traffic record model shared by the proxy,
// the session store and the control API, plus the in-memory ring that
// keeps the most recent records and fans them out to live subscribers.
package capture

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultBodyLimit is the number of body bytes kept per side of an
// exchange. Bytes past the limit still flow to the wire untouched.
const DefaultBodyLimit = 64 * 1024

// Body is a captured payload: the declared MIME type and the first
// bytes of the payload decoded as UTF-8.
type Body struct {
	Mime string `json:"mime,omitempty"`
	Text string `json:"text,omitempty"`
}

// RequestInfo carries the client side of an exchange.
type RequestInfo struct {
	Headers map[string]string `json:"headers"`
	Query   map[string]string `json:"query,omitempty"`
	Body    *Body             `json:"body,omitempty"`
}

// ResponseInfo carries the upstream side of an exchange. It stays nil
// until a response (or a terminal failure) has been decided.
type ResponseInfo struct {
	Headers map[string]string `json:"headers,omitempty"`
	Body    *Body             `json:"body,omitempty"`
}

// LogRecord describes one proxied exchange or one CONNECT tunnel.
type LogRecord struct {
	ID         string        `json:"id"`
	TS         int64         `json:"ts"`
	Method     string        `json:"method"`
	URL        string        `json:"url"`
	Host       string        `json:"host"`
	Path       string        `json:"path"`
	Status     int           `json:"status,omitempty"`
	DurationMs int64         `json:"durationMs,omitempty"`
	Request    RequestInfo   `json:"request"`
	Response   *ResponseInfo `json:"response,omitempty"`
}

// NewRecord starts a record for the given method and absolute URL.
// Host and Path are derived from the URL when it parses.
func NewRecord(method, absoluteURL string) LogRecord {
	rec := LogRecord{
		ID:     uuid.NewString(),
		TS:     time.Now().UnixMilli(),
		Method: strings.ToUpper(method),
		URL:    absoluteURL,
	}
	if u, err := url.Parse(absoluteURL); err == nil {
		rec.Host = u.Host
		rec.Path = u.Path
		if rec.Path == "" {
			rec.Path = "/"
		}
	}
	return rec
}

// Clone returns a deep copy so that later mutation of one copy never
// leaks into the other. Records cross goroutine boundaries through the
// ring and the session writer.
func (rec LogRecord) Clone() LogRecord {
	out := rec
	out.Request.Headers = cloneStringMap(rec.Request.Headers)
	out.Request.Query = cloneStringMap(rec.Request.Query)
	out.Request.Body = cloneBody(rec.Request.Body)
	if rec.Response != nil {
		resp := &ResponseInfo{
			Headers: cloneStringMap(rec.Response.Headers),
			Body:    cloneBody(rec.Response.Body),
		}
		out.Response = resp
	}
	return out
}

func cloneStringMap(src map[string]string) map[string]string {
	if src == nil {
		return nil
	}
	dst := make(map[string]string, len(src))
	for key, value := range src {
		dst[key] = value
	}
	return dst
}

func cloneBody(src *Body) *Body {
	if src == nil {
		return nil
	}
	copied := *src
	return &copied
}

// FlattenHeader collapses an http.Header into the single-value map the
// record model uses. Repeated fields are joined with ", " in arrival
// order, matching how they would render on the wire.
func FlattenHeader(header http.Header) map[string]string {
	if len(header) == 0 {
		return map[string]string{}
	}
	flat := make(map[string]string, len(header))
	for name, values := range header {
		flat[name] = strings.Join(values, ", ")
	}
	return flat
}

// QueryMap flattens decoded query parameters, keeping the last value
// when a key repeats.
func QueryMap(values url.Values) map[string]string {
	if len(values) == 0 {
		return nil
	}
	flat := make(map[string]string, len(values))
	for key, list := range values {
		if len(list) == 0 {
			flat[key] = ""
			continue
		}
		flat[key] = list[len(list)-1]
	}
	return flat
}

// ToValidText decodes raw captured bytes as UTF-8, replacing invalid
// sequences so the result is always safe to embed in JSON.
func ToValidText(raw []byte) string {
	return strings.ToValidUTF8(string(raw), "�")
}
