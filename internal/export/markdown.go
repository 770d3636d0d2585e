package export

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/kybaq/har-tool/internal/report"
)

// SessionMarkdown renders one route report as a Markdown document: an
// endpoint table followed by a fenced sample per endpoint.
func SessionMarkdown(rep *report.RouteReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# API report: %s\n\n", orSlash(rep.RouteKey))
	fmt.Fprintf(&b, "Session `%s` · built %s · %d logs · %d endpoints\n\n",
		rep.SessionID,
		time.UnixMilli(rep.CreatedAt).UTC().Format(time.RFC3339),
		rep.TotalLogs, len(rep.Endpoints))

	writeEndpointTable(&b, rep.Endpoints)
	writeSamples(&b, rep.Endpoints)
	return b.String()
}

// CatalogMarkdown renders the cross-session catalog, one section per
// route key.
func CatalogMarkdown(catalog *report.RouteCatalog) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# API catalog\n\n")
	fmt.Fprintf(&b, "Built %s · %d routes\n\n",
		time.UnixMilli(catalog.CreatedAt).UTC().Format(time.RFC3339),
		len(catalog.RouteReports))

	for _, rep := range catalog.RouteReports {
		fmt.Fprintf(&b, "## %s\n\n", orSlash(rep.RouteKey))
		fmt.Fprintf(&b, "%s · %d logs · %d endpoints\n\n",
			rep.SessionID, rep.TotalLogs, len(rep.Endpoints))
		writeEndpointTable(&b, rep.Endpoints)
	}
	return b.String()
}

func writeEndpointTable(b *strings.Builder, endpoints []*report.EndpointSummary) {
	if len(endpoints) == 0 {
		b.WriteString("_No endpoints captured._\n\n")
		return
	}
	b.WriteString("| Method | Host | Path | Count | Statuses | Req MIME | Res MIME | Query keys |\n")
	b.WriteString("|---|---|---|---|---|---|---|---|\n")
	for _, ep := range endpoints {
		fmt.Fprintf(b, "| %s | %s | `%s` | %d | %s | %s | %s | %s |\n",
			ep.Method, ep.Host, ep.Path, ep.Count,
			countMap(ep.Statuses), countMap(ep.Mime.Req), countMap(ep.Mime.Res),
			strings.Join(ep.QueryKeys, ", "))
	}
	b.WriteString("\n")
}

func writeSamples(b *strings.Builder, endpoints []*report.EndpointSummary) {
	for _, ep := range endpoints {
		sample := ep.Sample
		if sample == nil {
			continue
		}
		fmt.Fprintf(b, "## %s\n\n", ep.Key)
		if body := sample.Request.Body; body != nil && body.Text != "" {
			fmt.Fprintf(b, "Request body (%s):\n\n```\n%s\n```\n\n", orText(body.Mime, "unknown"), body.Text)
		}
		if sample.Response != nil && sample.Response.Body != nil && sample.Response.Body.Text != "" {
			fmt.Fprintf(b, "Response body (%s, status %d):\n\n```\n%s\n```\n\n",
				orText(sample.Response.Body.Mime, "unknown"), sample.Status, sample.Response.Body.Text)
		}
	}
}

// countMap renders a counter map as "k=v" pairs sorted by key.
func countMap(counts map[string]int) string {
	if len(counts) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(counts))
	for key := range counts {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", key, counts[key]))
	}
	return strings.Join(parts, " ")
}

func orSlash(s string) string { return orText(s, "/") }

func orText(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
