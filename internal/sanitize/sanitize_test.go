package sanitize

import (
	"encoding/json"
	"net/url"
	"strings"
	"testing"

	"github.com/kybaq/har-tool/internal/capture"
)

func TestHeaderRedaction(t *testing.T) {
	rec := capture.NewRecord("GET", "http://example.test/")
	rec.Request.Headers = map[string]string{
		"Authorization": "Bearer abc",
		"X-Trace":       "t1",
	}
	rec.Response = &capture.ResponseInfo{
		Headers: map[string]string{
			"Set-Cookie":   "sid=123",
			"Content-Type": "text/html",
		},
	}

	out := Record(rec)
	if out.Request.Headers["Authorization"] != Mask {
		t.Fatalf("expected Authorization to be masked, got %q", out.Request.Headers["Authorization"])
	}
	if out.Request.Headers["X-Trace"] != "t1" {
		t.Fatalf("expected X-Trace untouched, got %q", out.Request.Headers["X-Trace"])
	}
	if out.Response.Headers["Set-Cookie"] != Mask {
		t.Fatalf("expected Set-Cookie to be masked, got %q", out.Response.Headers["Set-Cookie"])
	}
	if out.Response.Headers["Content-Type"] != "text/html" {
		t.Fatalf("expected Content-Type untouched, got %q", out.Response.Headers["Content-Type"])
	}
}

func TestHeaderRedactionIsCaseInsensitive(t *testing.T) {
	rec := capture.NewRecord("GET", "http://example.test/")
	rec.Request.Headers = map[string]string{
		"AUTHORIZATION": "Bearer abc",
		"x-api-key":     "k",
	}
	out := Record(rec)
	for name, value := range out.Request.Headers {
		if value != Mask {
			t.Fatalf("expected %s to be masked, got %q", name, value)
		}
	}
}

func TestQueryRedaction(t *testing.T) {
	rec := capture.NewRecord("GET", "http://example.test/cb")
	rec.Request.Query = map[string]string{
		"access_token":  "abc",
		"session_token": "def",
		"code":          "xyz",
		"page":          "2",
	}
	out := Record(rec)
	for _, key := range []string{"access_token", "session_token", "code"} {
		if out.Request.Query[key] != Mask {
			t.Fatalf("expected query key %s to be masked, got %q", key, out.Request.Query[key])
		}
	}
	if out.Request.Query["page"] != "2" {
		t.Fatalf("expected page untouched, got %q", out.Request.Query["page"])
	}
}

func TestURLQueryRedaction(t *testing.T) {
	rec := capture.NewRecord("GET", "http://example.test/api/echo?token=s3cret&page=1")
	out := Record(rec)

	if strings.Contains(out.URL, "s3cret") {
		t.Fatalf("secret survived in the url field: %q", out.URL)
	}
	u, err := url.Parse(out.URL)
	if err != nil {
		t.Fatalf("sanitized url does not parse: %v", err)
	}
	values := u.Query()
	if values.Get("token") != Mask {
		t.Fatalf("expected token masked in url, got %q", values.Get("token"))
	}
	if values.Get("page") != "1" {
		t.Fatalf("expected page untouched in url, got %q", values.Get("page"))
	}
	if u.Host != "example.test" || u.Path != "/api/echo" {
		t.Fatalf("host and path must survive redaction, got %q", out.URL)
	}
}

func TestURLWithoutSecretsUntouched(t *testing.T) {
	raw := "http://example.test/items?page=2&sort=asc"
	rec := capture.NewRecord("GET", raw)
	out := Record(rec)
	// No match means no re-encoding either.
	if out.URL != raw {
		t.Fatalf("expected url byte-identical, got %q", out.URL)
	}
}

func TestUnparsableURLPassesThrough(t *testing.T) {
	rec := capture.NewRecord("GET", "http://example.test/cb")
	rec.URL = "http://example.test/%zz?token=x"
	out := Record(rec)
	if out.URL != rec.URL {
		t.Fatalf("expected unparsable url untouched, got %q", out.URL)
	}
}

func TestJSONBodyRedaction(t *testing.T) {
	rec := capture.NewRecord("POST", "http://example.test/login")
	rec.Request.Body = &capture.Body{
		Mime: "application/json",
		Text: `{"password":"p","user":{"token":"x","name":"y"}}`,
	}

	out := Record(rec)
	var doc map[string]any
	if err := json.Unmarshal([]byte(out.Request.Body.Text), &doc); err != nil {
		t.Fatalf("sanitized body is not valid JSON: %v", err)
	}
	if doc["password"] != Mask {
		t.Fatalf("expected password masked, got %v", doc["password"])
	}
	user, ok := doc["user"].(map[string]any)
	if !ok {
		t.Fatalf("expected user object, got %T", doc["user"])
	}
	if user["token"] != Mask {
		t.Fatalf("expected token masked, got %v", user["token"])
	}
	if user["name"] != "y" {
		t.Fatalf("expected name untouched, got %v", user["name"])
	}
	if !strings.Contains(out.Request.Body.Text, "\n  ") {
		t.Fatal("expected re-serialized body to be indented")
	}
}

func TestJSONWholeSubValueReplaced(t *testing.T) {
	rec := capture.NewRecord("POST", "http://example.test/cfg")
	rec.Request.Body = &capture.Body{
		Mime: "application/json; charset=utf-8",
		Text: `{"secrets":{"db":"pw","mq":"pw"},"region":"eu"}`,
	}
	out := Record(rec)
	var doc map[string]any
	if err := json.Unmarshal([]byte(out.Request.Body.Text), &doc); err != nil {
		t.Fatalf("sanitized body is not valid JSON: %v", err)
	}
	if doc["secrets"] != Mask {
		t.Fatalf("expected whole secrets object replaced with mask, got %v", doc["secrets"])
	}
	if doc["region"] != "eu" {
		t.Fatalf("expected region untouched, got %v", doc["region"])
	}
}

func TestJSONArrayRootIsWalked(t *testing.T) {
	rec := capture.NewRecord("POST", "http://example.test/bulk")
	rec.Request.Body = &capture.Body{
		Text: `[{"token":"x"},{"name":"y"}]`,
	}
	out := Record(rec)
	var docs []map[string]any
	if err := json.Unmarshal([]byte(out.Request.Body.Text), &docs); err != nil {
		t.Fatalf("sanitized body is not valid JSON: %v", err)
	}
	if docs[0]["token"] != Mask {
		t.Fatalf("expected token masked in array element, got %v", docs[0]["token"])
	}
	if docs[1]["name"] != "y" {
		t.Fatalf("expected name untouched, got %v", docs[1]["name"])
	}
}

func TestInvalidJSONLeftUntouched(t *testing.T) {
	text := `{"password":"p", truncated`
	rec := capture.NewRecord("POST", "http://example.test/x")
	rec.Request.Body = &capture.Body{Mime: "application/json", Text: text}
	out := Record(rec)
	if out.Request.Body.Text != text {
		t.Fatalf("expected unparsable body to pass through, got %q", out.Request.Body.Text)
	}
}

func TestFormBodyRedaction(t *testing.T) {
	rec := capture.NewRecord("POST", "http://example.test/login")
	rec.Request.Body = &capture.Body{
		Mime: "application/x-www-form-urlencoded",
		Text: "username=u&password=p&page=1",
	}
	out := Record(rec)
	values, err := url.ParseQuery(out.Request.Body.Text)
	if err != nil {
		t.Fatalf("sanitized form body does not parse: %v", err)
	}
	if values.Get("password") != Mask {
		t.Fatalf("expected password masked, got %q", values.Get("password"))
	}
	if values.Get("username") != "u" || values.Get("page") != "1" {
		t.Fatalf("expected other fields untouched, got %v", values)
	}
}

func TestOtherMimeUntouched(t *testing.T) {
	rec := capture.NewRecord("POST", "http://example.test/raw")
	rec.Request.Body = &capture.Body{Mime: "text/plain", Text: "password=p"}
	out := Record(rec)
	if out.Request.Body.Text != "password=p" {
		t.Fatalf("expected plain text untouched, got %q", out.Request.Body.Text)
	}
}

func TestInputIsNotMutated(t *testing.T) {
	rec := capture.NewRecord("POST", "http://example.test/login")
	rec.Request.Headers = map[string]string{"Authorization": "Bearer abc"}
	rec.Request.Query = map[string]string{"api_key": "k"}
	rec.Request.Body = &capture.Body{Mime: "application/json", Text: `{"password":"p"}`}

	_ = Record(rec)
	if rec.Request.Headers["Authorization"] != "Bearer abc" {
		t.Fatal("input headers were mutated")
	}
	if rec.Request.Query["api_key"] != "k" {
		t.Fatal("input query was mutated")
	}
	if rec.Request.Body.Text != `{"password":"p"}` {
		t.Fatal("input body was mutated")
	}
}

func TestRecordWithoutBodyOrResponse(t *testing.T) {
	rec := capture.NewRecord("GET", "http://example.test/")
	rec.Request.Headers = map[string]string{"Accept": "*/*"}
	out := Record(rec)
	if out.Request.Body != nil || out.Response != nil {
		t.Fatal("expected empty fields to stay empty")
	}
}
