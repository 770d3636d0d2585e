// Package sanitize redacts credentials and other sensitive material
// from captured records before they reach the ring, the event stream
// or disk. Redaction never fails: when a field cannot be processed it
// passes through unchanged.
package sanitize

import (
	"encoding/json"
	"net/url"
	"strings"

	"github.com/kybaq/har-tool/internal/capture"
)

// Mask replaces every redacted value.
const Mask = "***redacted***"

// Header names redacted by exact lowercase match.
var sensitiveHeaders = map[string]struct{}{
	"authorization":        {},
	"proxy-authorization":  {},
	"cookie":               {},
	"set-cookie":           {},
	"x-api-key":            {},
	"x-auth-token":         {},
	"x-csrf-token":         {},
	"x-xsrf-token":         {},
	"x-amz-security-token": {},
}

// Query and form keys are redacted when the lowercased key contains
// any of these fragments.
var sensitiveQueryParts = []string{
	"token", "access_token", "refresh_token", "id_token",
	"api_key", "apikey", "key", "code",
	"password", "passwd", "secret", "signature", "sig",
}

// JSON object keys are redacted when the lowercased key contains any
// of these fragments. The whole sub-value is replaced, not just leaves.
var sensitiveBodyParts = []string{
	"password", "passwd", "secret", "token", "refresh", "access",
	"authorization", "cookie", "apikey", "api_key", "session",
	"csrf", "xsrf",
}

// Record returns a redacted deep copy of rec. The input is never
// mutated; callers may keep using it freely.
func Record(rec capture.LogRecord) capture.LogRecord {
	out := rec.Clone()
	out.URL = urlText(out.URL)
	out.Request.Headers = headers(out.Request.Headers)
	out.Request.Query = query(out.Request.Query)
	out.Request.Body = body(out.Request.Body)
	if out.Response != nil {
		out.Response.Headers = headers(out.Response.Headers)
		out.Response.Body = body(out.Response.Body)
	}
	return out
}

func headers(flat map[string]string) map[string]string {
	for name := range flat {
		if _, hit := sensitiveHeaders[strings.ToLower(name)]; hit {
			flat[name] = Mask
		}
	}
	return flat
}

func query(flat map[string]string) map[string]string {
	for key := range flat {
		if sensitiveQueryKey(key) {
			flat[key] = Mask
		}
	}
	return flat
}

// urlText redacts matching query values inside the raw URL string,
// which carries the same secrets as the query map. URLs or query
// strings that do not parse pass through untouched.
func urlText(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.RawQuery == "" {
		return raw
	}
	values, err := url.ParseQuery(u.RawQuery)
	if err != nil {
		return raw
	}
	changed := false
	for key, list := range values {
		if !sensitiveQueryKey(key) {
			continue
		}
		for i := range list {
			list[i] = Mask
		}
		values[key] = list
		changed = true
	}
	if !changed {
		return raw
	}
	u.RawQuery = values.Encode()
	return u.String()
}

func sensitiveQueryKey(key string) bool {
	lower := strings.ToLower(key)
	for _, part := range sensitiveQueryParts {
		if strings.Contains(lower, part) {
			return true
		}
	}
	return false
}

func sensitiveBodyKey(key string) bool {
	lower := strings.ToLower(key)
	for _, part := range sensitiveBodyParts {
		if strings.Contains(lower, part) {
			return true
		}
	}
	return false
}

func body(captured *capture.Body) *capture.Body {
	if captured == nil || captured.Text == "" {
		return captured
	}
	mime := strings.ToLower(captured.Mime)
	switch {
	case strings.Contains(mime, "application/x-www-form-urlencoded"):
		captured.Text = formText(captured.Text)
	case strings.Contains(mime, "application/json") || looksLikeJSON(captured.Text):
		captured.Text = jsonText(captured.Text)
	}
	return captured
}

func looksLikeJSON(text string) bool {
	trimmed := strings.TrimSpace(text)
	return strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[")
}

// formText redacts matching form fields and re-encodes. The original
// text is returned verbatim when it does not parse or nothing matched.
func formText(text string) string {
	values, err := url.ParseQuery(text)
	if err != nil {
		return text
	}
	changed := false
	for key, list := range values {
		if !sensitiveQueryKey(key) {
			continue
		}
		for i := range list {
			list[i] = Mask
		}
		values[key] = list
		changed = true
	}
	if !changed {
		return text
	}
	return values.Encode()
}

// jsonText walks the parsed document and replaces every sub-value
// under a sensitive key with the mask. Input that does not parse,
// including bodies cut off by the capture limit, is returned untouched.
func jsonText(text string) string {
	var root any
	if err := json.Unmarshal([]byte(text), &root); err != nil {
		return text
	}
	masked := maskValue(root)
	out, err := json.MarshalIndent(masked, "", "  ")
	if err != nil {
		return text
	}
	return string(out)
}

func maskValue(node any) any {
	switch value := node.(type) {
	case map[string]any:
		for key, child := range value {
			if sensitiveBodyKey(key) {
				value[key] = Mask
				continue
			}
			value[key] = maskValue(child)
		}
		return value
	case []any:
		for i, child := range value {
			value[i] = maskValue(child)
		}
		return value
	default:
		return node
	}
}
