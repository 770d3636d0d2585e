package report

import (
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kybaq/har-tool/internal/capture"
)

const (
	sampleHeaderLimit = 30
	sampleBodyLimit   = 2 * 1024
)

// Mime counts observed payload types per exchange side.
type Mime struct {
	Req map[string]int `json:"req"`
	Res map[string]int `json:"res"`
}

// EndpointSummary aggregates every exchange that landed on the same
// method, host and normalized path.
type EndpointSummary struct {
	Key       string             `json:"key"`
	Method    string             `json:"method"`
	Host      string             `json:"host"`
	Path      string             `json:"path"`
	Count     int                `json:"count"`
	Statuses  map[string]int     `json:"statuses"`
	Mime      Mime               `json:"mime"`
	QueryKeys []string           `json:"queryKeys"`
	Sample    *capture.LogRecord `json:"sample,omitempty"`
}

// RouteReport is the derived view of one session's traffic. It is a
// pure function of the log sequence, so it can be cached and rebuilt.
type RouteReport struct {
	RouteKey  string             `json:"routeKey"`
	SessionID string             `json:"sessionId"`
	CreatedAt int64              `json:"createdAt"`
	TotalLogs int                `json:"totalLogs"`
	Endpoints []*EndpointSummary `json:"endpoints"`
}

// Build aggregates logs into a RouteReport. Records whose URL is not
// absolute are skipped but still count toward TotalLogs.
func Build(routeKey, sessionID string, logs []capture.LogRecord) *RouteReport {
	byKey := make(map[string]*EndpointSummary)

	for _, rec := range logs {
		u, err := url.Parse(rec.URL)
		if err != nil || !u.IsAbs() {
			continue
		}
		method := strings.ToUpper(rec.Method)
		if method == "" {
			method = "GET"
		}
		rawPath := u.Path
		if rawPath == "" {
			rawPath = "/"
		}
		key := method + " " + u.Host + " " + Normalize(rawPath)

		entry, exists := byKey[key]
		if !exists {
			entry = &EndpointSummary{
				Key:       key,
				Method:    method,
				Host:      u.Host,
				Path:      Normalize(rawPath),
				Statuses:  map[string]int{},
				Mime:      Mime{Req: map[string]int{}, Res: map[string]int{}},
				QueryKeys: []string{},
				Sample:    sampleOf(rec),
			}
			byKey[key] = entry
		}

		entry.Count++
		entry.Statuses[strconv.Itoa(rec.Status)]++
		if rec.Request.Body != nil && rec.Request.Body.Mime != "" {
			entry.Mime.Req[mimeSegment(rec.Request.Body.Mime)]++
		}
		if rec.Response != nil && rec.Response.Body != nil && rec.Response.Body.Mime != "" {
			entry.Mime.Res[mimeSegment(rec.Response.Body.Mime)]++
		}
		entry.QueryKeys = mergeKeys(entry.QueryKeys, QueryKeys(rec.URL))
	}

	endpoints := make([]*EndpointSummary, 0, len(byKey))
	for _, entry := range byKey {
		endpoints = append(endpoints, entry)
	}
	sort.Slice(endpoints, func(i, j int) bool {
		if endpoints[i].Count != endpoints[j].Count {
			return endpoints[i].Count > endpoints[j].Count
		}
		return endpoints[i].Key < endpoints[j].Key
	})

	return &RouteReport{
		RouteKey:  routeKey,
		SessionID: sessionID,
		CreatedAt: time.Now().UnixMilli(),
		TotalLogs: len(logs),
		Endpoints: endpoints,
	}
}

// mimeSegment reduces a Content-Type value to its lowercased media
// type, dropping parameters such as charset.
func mimeSegment(mime string) string {
	segment := strings.SplitN(strings.ToLower(mime), ";", 2)[0]
	return strings.TrimSpace(segment)
}

func mergeKeys(existing, extra []string) []string {
	if len(extra) == 0 {
		return existing
	}
	set := make(map[string]struct{}, len(existing)+len(extra))
	for _, key := range existing {
		set[key] = struct{}{}
	}
	for _, key := range extra {
		set[key] = struct{}{}
	}
	merged := make([]string, 0, len(set))
	for key := range set {
		merged = append(merged, key)
	}
	sort.Strings(merged)
	return merged
}

// sampleOf keeps one representative record per endpoint: at most 30
// headers per side, sorted by name, and bodies clipped to 2 KiB.
func sampleOf(rec capture.LogRecord) *capture.LogRecord {
	sample := rec.Clone()
	sample.Request.Headers = topHeaders(sample.Request.Headers)
	sample.Request.Body = clipBody(sample.Request.Body)
	if sample.Response != nil {
		sample.Response.Headers = topHeaders(sample.Response.Headers)
		sample.Response.Body = clipBody(sample.Response.Body)
	}
	return &sample
}

func topHeaders(flat map[string]string) map[string]string {
	if len(flat) <= sampleHeaderLimit {
		return flat
	}
	names := make([]string, 0, len(flat))
	for name := range flat {
		names = append(names, name)
	}
	sort.Strings(names)
	kept := make(map[string]string, sampleHeaderLimit)
	for _, name := range names[:sampleHeaderLimit] {
		kept[name] = flat[name]
	}
	return kept
}

func clipBody(captured *capture.Body) *capture.Body {
	if captured == nil || len(captured.Text) <= sampleBodyLimit {
		return captured
	}
	captured.Text = captured.Text[:sampleBodyLimit] + "\n…(truncated)"
	return captured
}
