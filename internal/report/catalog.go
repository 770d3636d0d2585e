package report

import (
	"fmt"
	"sort"
	"time"

	"github.com/kybaq/har-tool/internal/capture"
	applog "github.com/kybaq/har-tool/internal/log"
)

// RouteCatalog unions the reports of every stored session, grouped by
// route key.
type RouteCatalog struct {
	CreatedAt    int64          `json:"createdAt"`
	RouteReports []*RouteReport `json:"routeReports"`
}

// SessionInfo is the slice of session metadata the catalog needs.
type SessionInfo struct {
	ID       string
	Name     string
	RouteKey string
}

// Source lets the catalog builder enumerate sessions and round-trip
// their cached reports without knowing the storage layout.
type Source interface {
	ListSessions() []SessionInfo
	ReadReport(id string) (*RouteReport, error)
	WriteReport(id string, rep *RouteReport) error
	ReadLogs(id string, limit int) ([]capture.LogRecord, error)
}

type catalogGroup struct {
	routeKey string
	byKey    map[string]*EndpointSummary
	total    int
	sessions int
}

// BuildCatalog merges one report per session into one report per route
// key. Missing per-session reports are built from the session logs and
// cached back. Sessions whose logs cannot be read are skipped.
func BuildCatalog(src Source) *RouteCatalog {
	groups := make(map[string]*catalogGroup)

	for _, info := range src.ListSessions() {
		routeKey := info.RouteKey
		if routeKey == "" {
			routeKey = info.Name
		}
		if routeKey == "" {
			routeKey = "/"
		}

		rep, err := src.ReadReport(info.ID)
		if err != nil || rep == nil {
			logs, err := src.ReadLogs(info.ID, 0)
			if err != nil {
				applog.Emit("error", "report", map[string]string{"session": info.ID},
					"catalog: read session logs: "+err.Error())
				continue
			}
			rep = Build(routeKey, info.ID, logs)
			if err := src.WriteReport(info.ID, rep); err != nil {
				applog.Emit("error", "report", map[string]string{"session": info.ID},
					"catalog: cache report: "+err.Error())
			}
		}

		group, exists := groups[routeKey]
		if !exists {
			group = &catalogGroup{
				routeKey: routeKey,
				byKey:    make(map[string]*EndpointSummary),
			}
			groups[routeKey] = group
		}
		group.sessions++
		group.total += rep.TotalLogs
		for _, endpoint := range rep.Endpoints {
			mergeEndpoint(group.byKey, endpoint)
		}
	}

	catalog := &RouteCatalog{
		CreatedAt:    time.Now().UnixMilli(),
		RouteReports: make([]*RouteReport, 0, len(groups)),
	}
	for _, group := range groups {
		catalog.RouteReports = append(catalog.RouteReports, group.report())
	}
	sort.Slice(catalog.RouteReports, func(i, j int) bool {
		return catalog.RouteReports[i].RouteKey < catalog.RouteReports[j].RouteKey
	})
	return catalog
}

// mergeEndpoint folds src into the group accumulator. Counts add up
// element-wise; the first sample seen for a key is kept.
func mergeEndpoint(byKey map[string]*EndpointSummary, src *EndpointSummary) {
	dst, exists := byKey[src.Key]
	if !exists {
		dst = &EndpointSummary{
			Key:       src.Key,
			Method:    src.Method,
			Host:      src.Host,
			Path:      src.Path,
			Statuses:  map[string]int{},
			Mime:      Mime{Req: map[string]int{}, Res: map[string]int{}},
			QueryKeys: []string{},
			Sample:    src.Sample,
		}
		byKey[src.Key] = dst
	}
	dst.Count += src.Count
	for status, n := range src.Statuses {
		dst.Statuses[status] += n
	}
	for mime, n := range src.Mime.Req {
		dst.Mime.Req[mime] += n
	}
	for mime, n := range src.Mime.Res {
		dst.Mime.Res[mime] += n
	}
	dst.QueryKeys = mergeKeys(dst.QueryKeys, src.QueryKeys)
	if dst.Sample == nil {
		dst.Sample = src.Sample
	}
}

func (group *catalogGroup) report() *RouteReport {
	endpoints := make([]*EndpointSummary, 0, len(group.byKey))
	for _, entry := range group.byKey {
		endpoints = append(endpoints, entry)
	}
	sort.Slice(endpoints, func(i, j int) bool {
		if endpoints[i].Count != endpoints[j].Count {
			return endpoints[i].Count > endpoints[j].Count
		}
		return endpoints[i].Key < endpoints[j].Key
	})
	return &RouteReport{
		RouteKey:  group.routeKey,
		SessionID: fmt.Sprintf("%s (%d sessions)", group.routeKey, group.sessions),
		CreatedAt: time.Now().UnixMilli(),
		TotalLogs: group.total,
		Endpoints: endpoints,
	}
}
