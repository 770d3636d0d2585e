package capture

import (
	"net/http"
	"net/url"
	"testing"
)

func TestNewRecordDerivesHostAndPath(t *testing.T) {
	rec := NewRecord("get", "http://api.example.test:8080/v1/users?x=1")
	if rec.Method != "GET" {
		t.Fatalf("expected upper-cased method, got %s", rec.Method)
	}
	if rec.Host != "api.example.test:8080" {
		t.Fatalf("unexpected host: %s", rec.Host)
	}
	if rec.Path != "/v1/users" {
		t.Fatalf("unexpected path: %s", rec.Path)
	}
	if rec.ID == "" || rec.TS == 0 {
		t.Fatalf("expected id and timestamp to be set, got id=%q ts=%d", rec.ID, rec.TS)
	}
}

func TestNewRecordEmptyPathBecomesRoot(t *testing.T) {
	rec := NewRecord("CONNECT", "https://example.test:443")
	if rec.Path != "/" {
		t.Fatalf("expected / for empty path, got %q", rec.Path)
	}
}

func TestFlattenHeaderJoinsRepeatedFields(t *testing.T) {
	header := http.Header{}
	header.Add("Accept", "text/html")
	header.Add("Accept", "application/json")
	header.Set("Host", "example.test")

	flat := FlattenHeader(header)
	if flat["Accept"] != "text/html, application/json" {
		t.Fatalf("unexpected Accept value: %q", flat["Accept"])
	}
	if flat["Host"] != "example.test" {
		t.Fatalf("unexpected Host value: %q", flat["Host"])
	}
}

func TestQueryMapKeepsLastValue(t *testing.T) {
	values, err := url.ParseQuery("a=1&a=2&b=3")
	if err != nil {
		t.Fatalf("parse query: %v", err)
	}
	flat := QueryMap(values)
	if flat["a"] != "2" {
		t.Fatalf("expected last value for repeated key, got %q", flat["a"])
	}
	if flat["b"] != "3" {
		t.Fatalf("unexpected value for b: %q", flat["b"])
	}
}

func TestToValidTextReplacesInvalidBytes(t *testing.T) {
	raw := []byte{'o', 'k', 0xff, 0xfe, '!'}
	got := ToValidText(raw)
	if got != "ok�!" {
		t.Fatalf("unexpected lossy decode: %q", got)
	}
}

func TestCloneIsDeep(t *testing.T) {
	rec := NewRecord("POST", "http://example.test/login")
	rec.Request.Headers = map[string]string{"Content-Type": "application/json"}
	rec.Request.Body = &Body{Mime: "application/json", Text: `{"a":1}`}
	rec.Response = &ResponseInfo{
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    &Body{Text: "{}"},
	}

	clone := rec.Clone()
	clone.Request.Headers["Content-Type"] = "changed"
	clone.Request.Body.Text = "changed"
	clone.Response.Headers["Content-Type"] = "changed"
	clone.Response.Body.Text = "changed"

	if rec.Request.Headers["Content-Type"] != "application/json" {
		t.Fatal("request headers shared between clone and original")
	}
	if rec.Request.Body.Text != `{"a":1}` {
		t.Fatal("request body shared between clone and original")
	}
	if rec.Response.Headers["Content-Type"] != "application/json" {
		t.Fatal("response headers shared between clone and original")
	}
	if rec.Response.Body.Text != "{}" {
		t.Fatal("response body shared between clone and original")
	}
}
