// Package export renders captured sessions and catalogs into their
// download formats: HAR 1.2, Markdown and raw JSON.
package export

import (
	"net/http"
	"sort"
	"time"

	"github.com/kybaq/har-tool/internal/capture"
)

// Creator identifies this tool inside exported HAR archives.
const (
	CreatorName    = "har-tool"
	CreatorVersion = "1.0.0"
)

// HAR is the top-level HTTP Archive 1.2 document.
type HAR struct {
	Log HARLog `json:"log"`
}

type HARLog struct {
	Version string     `json:"version"`
	Creator HARCreator `json:"creator"`
	Entries []HAREntry `json:"entries"`
}

type HARCreator struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type HAREntry struct {
	StartedDateTime string      `json:"startedDateTime"`
	Time            int64       `json:"time"`
	Request         HARRequest  `json:"request"`
	Response        HARResponse `json:"response"`
	Cache           struct{}    `json:"cache"`
	Timings         HARTimings  `json:"timings"`
}

type HARRequest struct {
	Method      string     `json:"method"`
	URL         string     `json:"url"`
	HTTPVersion string     `json:"httpVersion"`
	Headers     []HARPair  `json:"headers"`
	QueryString []HARPair  `json:"queryString"`
	Cookies     []HARPair  `json:"cookies"`
	HeadersSize int        `json:"headersSize"`
	BodySize    int        `json:"bodySize"`
	PostData    *HARPostData `json:"postData,omitempty"`
}

type HARResponse struct {
	Status      int        `json:"status"`
	StatusText  string     `json:"statusText"`
	HTTPVersion string     `json:"httpVersion"`
	Headers     []HARPair  `json:"headers"`
	Cookies     []HARPair  `json:"cookies"`
	Content     HARContent `json:"content"`
	RedirectURL string     `json:"redirectURL"`
	HeadersSize int        `json:"headersSize"`
	BodySize    int        `json:"bodySize"`
}

type HARPair struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type HARPostData struct {
	MimeType string `json:"mimeType"`
	Text     string `json:"text"`
}

type HARContent struct {
	Size     int    `json:"size"`
	MimeType string `json:"mimeType"`
	Text     string `json:"text,omitempty"`
}

type HARTimings struct {
	Send    int64 `json:"send"`
	Wait    int64 `json:"wait"`
	Receive int64 `json:"receive"`
}

// BuildHAR converts captured records into a HAR 1.2 archive, one entry
// per record in the order given.
func BuildHAR(records []capture.LogRecord) *HAR {
	entries := make([]HAREntry, 0, len(records))
	for _, rec := range records {
		entries = append(entries, harEntry(rec))
	}
	return &HAR{
		Log: HARLog{
			Version: "1.2",
			Creator: HARCreator{Name: CreatorName, Version: CreatorVersion},
			Entries: entries,
		},
	}
}

func harEntry(rec capture.LogRecord) HAREntry {
	entry := HAREntry{
		StartedDateTime: time.UnixMilli(rec.TS).UTC().Format(time.RFC3339Nano),
		Time:            rec.DurationMs,
		Request: HARRequest{
			Method:      rec.Method,
			URL:         rec.URL,
			HTTPVersion: "HTTP/1.1",
			Headers:     harPairs(rec.Request.Headers),
			QueryString: harPairs(rec.Request.Query),
			Cookies:     []HARPair{},
			HeadersSize: -1,
			BodySize:    -1,
		},
		Response: HARResponse{
			Status:      rec.Status,
			StatusText:  http.StatusText(rec.Status),
			HTTPVersion: "HTTP/1.1",
			Headers:     []HARPair{},
			Cookies:     []HARPair{},
			Content:     HARContent{},
			HeadersSize: -1,
			BodySize:    -1,
		},
		Timings: HARTimings{Send: 0, Wait: rec.DurationMs, Receive: 0},
	}

	if body := rec.Request.Body; body != nil && body.Text != "" {
		entry.Request.PostData = &HARPostData{MimeType: body.Mime, Text: body.Text}
	}
	if resp := rec.Response; resp != nil {
		entry.Response.Headers = harPairs(resp.Headers)
		if resp.Body != nil {
			entry.Response.Content = HARContent{
				Size:     len(resp.Body.Text),
				MimeType: resp.Body.Mime,
				Text:     resp.Body.Text,
			}
		}
	}
	return entry
}

// harPairs renders a flattened map as name/value pairs sorted by name,
// so exports are deterministic.
func harPairs(flat map[string]string) []HARPair {
	pairs := make([]HARPair, 0, len(flat))
	for name, value := range flat {
		pairs = append(pairs, HARPair{Name: name, Value: value})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Name < pairs[j].Name })
	return pairs
}
