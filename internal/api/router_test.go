package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kybaq/har-tool/internal/capture"
	"github.com/kybaq/har-tool/internal/session"
)

// newTestAPI wires a fresh ring and an on-disk store under a temp root
// behind the control router.
func newTestAPI(t *testing.T) (*capture.Ring, *session.Store, *httptest.Server) {
	t.Helper()
	ring := capture.NewRing(16)
	store := session.NewStore(t.TempDir())
	if err := store.Init(); err != nil {
		t.Fatalf("init store: %v", err)
	}
	t.Cleanup(func() { _, _ = store.Stop() })

	srv := httptest.NewServer(NewRouter(Options{Ring: ring, Store: store}))
	t.Cleanup(srv.Close)
	return ring, store, srv
}

func apiRecord(method, rawURL string, status int) capture.LogRecord {
	rec := capture.NewRecord(method, rawURL)
	rec.Status = status
	rec.DurationMs = 5
	rec.Request.Headers = map[string]string{"Accept": "*/*"}
	return rec
}

func getJSON(t *testing.T, url string, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp
}

func postJSON(t *testing.T, url, body string, out any) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp
}

func TestHealth(t *testing.T) {
	_, _, srv := newTestAPI(t)

	var body map[string]bool
	resp := getJSON(t, srv.URL+"/health", &body)
	if resp.StatusCode != http.StatusOK || !body["ok"] {
		t.Fatalf("expected ok health, got %d %v", resp.StatusCode, body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	_, _, srv := newTestAPI(t)

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestLiveLogsAndClear(t *testing.T) {
	ring, _, srv := newTestAPI(t)
	for i := 0; i < 5; i++ {
		ring.Push(apiRecord("GET", "http://example.test/a", 200))
	}

	var body struct {
		Items []capture.LogRecord `json:"items"`
	}
	getJSON(t, srv.URL+"/api/logs", &body)
	if len(body.Items) != 5 {
		t.Fatalf("expected 5 live records, got %d", len(body.Items))
	}

	body.Items = nil
	getJSON(t, srv.URL+"/api/logs?limit=2", &body)
	if len(body.Items) != 2 {
		t.Fatalf("expected limit=2 to clamp, got %d", len(body.Items))
	}

	postJSON(t, srv.URL+"/api/clear", "", nil)
	body.Items = nil
	getJSON(t, srv.URL+"/api/logs", &body)
	if len(body.Items) != 0 {
		t.Fatalf("expected empty ring after clear, got %d", len(body.Items))
	}
}

func TestSessionLifecycle(t *testing.T) {
	_, store, srv := newTestAPI(t)

	var meta session.Meta
	resp := postJSON(t, srv.URL+"/api/sessions/start", `{"name":"checkout flow","routeKey":"checkout"}`, &meta)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start: expected 200, got %d", resp.StatusCode)
	}
	if meta.ID == "" || meta.Name != "checkout flow" || meta.RouteKey != "checkout" {
		t.Fatalf("unexpected meta: %+v", meta)
	}

	for i := 0; i < 3; i++ {
		if err := store.Append(apiRecord("POST", "http://shop.test/cart", 200)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	var list struct {
		Items   []session.Meta `json:"items"`
		Current *session.Meta  `json:"current"`
	}
	getJSON(t, srv.URL+"/api/sessions/", &list)
	if len(list.Items) != 1 || list.Current == nil || list.Current.ID != meta.ID {
		t.Fatalf("unexpected list: %+v", list)
	}

	var stopped session.Meta
	postJSON(t, srv.URL+"/api/sessions/stop", "", &stopped)
	if stopped.ID != meta.ID || stopped.EndedAt == 0 || stopped.LogCount != 3 {
		t.Fatalf("unexpected stopped meta: %+v", stopped)
	}

	list.Current = nil
	list.Items = nil
	getJSON(t, srv.URL+"/api/sessions/", &list)
	if list.Current != nil {
		t.Fatalf("expected no current session after stop, got %+v", list.Current)
	}

	var got session.Meta
	resp = getJSON(t, srv.URL+"/api/sessions/"+meta.ID, &got)
	if resp.StatusCode != http.StatusOK || got.ID != meta.ID {
		t.Fatalf("get session: %d %+v", resp.StatusCode, got)
	}

	var logs struct {
		Items []capture.LogRecord `json:"items"`
	}
	getJSON(t, srv.URL+"/api/sessions/"+meta.ID+"/logs", &logs)
	if len(logs.Items) != 3 {
		t.Fatalf("expected 3 stored records, got %d", len(logs.Items))
	}

	resp = getJSON(t, srv.URL+"/api/sessions/no-such-id", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown session, got %d", resp.StatusCode)
	}
}

func TestStopWithoutSessionIsOK(t *testing.T) {
	_, _, srv := newTestAPI(t)

	var body map[string]bool
	resp := postJSON(t, srv.URL+"/api/sessions/stop", "", &body)
	if resp.StatusCode != http.StatusOK || !body["ok"] {
		t.Fatalf("expected ok for idle stop, got %d %v", resp.StatusCode, body)
	}
}

func TestSessionReportBuiltAndCached(t *testing.T) {
	_, store, srv := newTestAPI(t)

	var meta session.Meta
	postJSON(t, srv.URL+"/api/sessions/start", `{"routeKey":"users"}`, &meta)
	_ = store.Append(apiRecord("GET", "http://api.test/users/7", 200))
	_ = store.Append(apiRecord("GET", "http://api.test/users/8", 200))
	postJSON(t, srv.URL+"/api/sessions/stop", "", nil)

	var rep struct {
		RouteKey  string `json:"routeKey"`
		TotalLogs int    `json:"totalLogs"`
		Endpoints []struct {
			Path  string `json:"path"`
			Count int    `json:"count"`
		} `json:"endpoints"`
	}
	resp := postJSON(t, srv.URL+"/api/sessions/"+meta.ID+"/report", "", &rep)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("report: expected 200, got %d", resp.StatusCode)
	}
	if rep.RouteKey != "users" || rep.TotalLogs != 2 {
		t.Fatalf("unexpected report: %+v", rep)
	}
	if len(rep.Endpoints) != 1 || rep.Endpoints[0].Path != "/users/:id" || rep.Endpoints[0].Count != 2 {
		t.Fatalf("expected one aggregated endpoint, got %+v", rep.Endpoints)
	}

	if _, err := os.Stat(filepath.Join(store.Root(), meta.ID, "report.json")); err != nil {
		t.Fatalf("expected cached report on disk: %v", err)
	}
}

func TestSessionExportFormats(t *testing.T) {
	_, store, srv := newTestAPI(t)

	var meta session.Meta
	postJSON(t, srv.URL+"/api/sessions/start", `{"routeKey":"shop"}`, &meta)
	_ = store.Append(apiRecord("GET", "http://shop.test/items", 200))
	postJSON(t, srv.URL+"/api/sessions/stop", "", nil)

	var har struct {
		Log struct {
			Version string `json:"version"`
			Entries []struct {
				Request struct {
					URL string `json:"url"`
				} `json:"request"`
			} `json:"entries"`
		} `json:"log"`
	}
	resp := getJSON(t, srv.URL+"/api/sessions/"+meta.ID+"/export?format=har", &har)
	if resp.StatusCode != http.StatusOK || har.Log.Version != "1.2" {
		t.Fatalf("har export: %d version=%q", resp.StatusCode, har.Log.Version)
	}
	if len(har.Log.Entries) != 1 || har.Log.Entries[0].Request.URL != "http://shop.test/items" {
		t.Fatalf("unexpected har entries: %+v", har.Log.Entries)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, ".har") {
		t.Fatalf("expected har attachment, got %q", cd)
	}

	resp, err := http.Get(srv.URL + "/api/sessions/" + meta.ID + "/export?format=md")
	if err != nil {
		t.Fatalf("md export: %v", err)
	}
	raw := make([]byte, 1<<16)
	n, _ := resp.Body.Read(raw)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(raw[:n]), "# API report: shop") {
		t.Fatalf("md export: %d %q", resp.StatusCode, raw[:n])
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/markdown") {
		t.Fatalf("expected markdown content type, got %q", ct)
	}

	var plain struct {
		Items []capture.LogRecord `json:"items"`
	}
	resp = getJSON(t, srv.URL+"/api/sessions/"+meta.ID+"/export", &plain)
	if resp.StatusCode != http.StatusOK || len(plain.Items) != 1 {
		t.Fatalf("json export: %d items=%d", resp.StatusCode, len(plain.Items))
	}

	resp = getJSON(t, srv.URL+"/api/sessions/"+meta.ID+"/export?format=xml", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown format, got %d", resp.StatusCode)
	}
}

func TestCatalogExport(t *testing.T) {
	_, store, srv := newTestAPI(t)

	var meta session.Meta
	postJSON(t, srv.URL+"/api/sessions/start", `{"routeKey":"orders"}`, &meta)
	_ = store.Append(apiRecord("GET", "http://api.test/orders", 200))
	postJSON(t, srv.URL+"/api/sessions/stop", "", nil)

	var catalog struct {
		RouteReports []struct {
			RouteKey  string `json:"routeKey"`
			TotalLogs int    `json:"totalLogs"`
		} `json:"routeReports"`
	}
	resp := getJSON(t, srv.URL+"/api/catalog/export", &catalog)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("catalog export: %d", resp.StatusCode)
	}
	if len(catalog.RouteReports) != 1 || catalog.RouteReports[0].RouteKey != "orders" ||
		catalog.RouteReports[0].TotalLogs != 1 {
		t.Fatalf("unexpected catalog: %+v", catalog)
	}

	resp, err := http.Get(srv.URL + "/api/catalog/export?format=md")
	if err != nil {
		t.Fatalf("catalog md: %v", err)
	}
	raw := make([]byte, 1<<16)
	n, _ := resp.Body.Read(raw)
	resp.Body.Close()
	if !strings.Contains(string(raw[:n]), "# API catalog") {
		t.Fatalf("unexpected catalog markdown: %q", raw[:n])
	}
}

func TestEventsStream(t *testing.T) {
	ring, _, srv := newTestAPI(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("open event stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("expected event stream content type, got %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	readEvent := func() (string, string) {
		t.Helper()
		event, data := "", ""
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				t.Fatalf("read stream: %v", err)
			}
			line = strings.TrimRight(line, "\n")
			switch {
			case line == "" && event != "":
				return event, data
			case strings.HasPrefix(line, "event: "):
				event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				data = strings.TrimPrefix(line, "data: ")
			}
		}
	}

	event, data := readEvent()
	if event != "hello" || !strings.Contains(data, `"ok":true`) {
		t.Fatalf("expected hello event first, got %s %s", event, data)
	}

	ring.Push(apiRecord("GET", "http://live.test/now", 200))

	event, data = readEvent()
	if event != "log" {
		t.Fatalf("expected log event, got %s", event)
	}
	var rec capture.LogRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		t.Fatalf("decode log event: %v", err)
	}
	if rec.URL != "http://live.test/now" {
		t.Fatalf("unexpected streamed record: %+v", rec)
	}
}
