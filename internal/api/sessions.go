package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kybaq/har-tool/internal/export"
	applog "github.com/kybaq/har-tool/internal/log"
	"github.com/kybaq/har-tool/internal/report"
)

func (s *Server) handleSessionList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"items":   s.store.List(),
		"current": s.store.Current(),
	})
}

func (s *Server) handleSessionGet(w http.ResponseWriter, r *http.Request) {
	meta := s.store.Read(chi.URLParam(r, "id"))
	if meta == nil {
		errorJSON(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func (s *Server) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name     string `json:"name"`
		RouteKey string `json:"routeKey"`
	}
	if r.Body != nil {
		// An empty or absent body starts an unnamed session.
		_ = json.NewDecoder(r.Body).Decode(&body)
	}
	meta, err := s.store.Start(body.Name, body.RouteKey)
	if err != nil {
		applog.LogSessionError("start", err)
		errorJSON(w, http.StatusInternalServerError, "session could not be started")
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func (s *Server) handleSessionStop(w http.ResponseWriter, r *http.Request) {
	meta, err := s.store.Stop()
	if err != nil {
		applog.LogSessionError("stop", err)
		errorJSON(w, http.StatusInternalServerError, "session could not be stopped")
		return
	}
	if meta == nil {
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func (s *Server) handleSessionLogs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.store.Read(id) == nil {
		errorJSON(w, http.StatusNotFound, "session not found")
		return
	}
	logs, err := s.store.ReadLogs(id, parseLimit(r, maxSessionLimit))
	if err != nil {
		errorJSON(w, http.StatusInternalServerError, "session logs could not be read")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": logs})
}

// handleSessionReport returns the cached route report, building and
// caching it from the session logs when missing.
func (s *Server) handleSessionReport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rep, status := s.sessionReport(id)
	if rep == nil {
		errorJSON(w, status, "report unavailable")
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) sessionReport(id string) (*report.RouteReport, int) {
	meta := s.store.Read(id)
	if meta == nil {
		return nil, http.StatusNotFound
	}
	if rep, err := s.store.ReadReport(id); err == nil {
		return rep, http.StatusOK
	}
	logs, err := s.store.ReadLogs(id, 0)
	if err != nil {
		return nil, http.StatusInternalServerError
	}
	routeKey := meta.RouteKey
	if routeKey == "" {
		routeKey = meta.Name
	}
	rep := report.Build(routeKey, id, logs)
	if err := s.store.WriteReport(id, rep); err != nil {
		applog.LogSessionError("cache report", err)
	}
	return rep, http.StatusOK
}

func (s *Server) handleSessionExport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.store.Read(id) == nil {
		errorJSON(w, http.StatusNotFound, "session not found")
		return
	}

	format := r.URL.Query().Get("format")
	if format == "" {
		format = "json"
	}

	switch format {
	case "json":
		logs, err := s.store.ReadLogs(id, 0)
		if err != nil {
			errorJSON(w, http.StatusInternalServerError, "session logs could not be read")
			return
		}
		download(w, fmt.Sprintf("session-%s.json", id), "application/json; charset=utf-8")
		_ = json.NewEncoder(w).Encode(map[string]any{"items": logs})
	case "har":
		logs, err := s.store.ReadLogs(id, 0)
		if err != nil {
			errorJSON(w, http.StatusInternalServerError, "session logs could not be read")
			return
		}
		download(w, fmt.Sprintf("session-%s.har", id), "application/json; charset=utf-8")
		_ = json.NewEncoder(w).Encode(export.BuildHAR(logs))
	case "md":
		rep, status := s.sessionReport(id)
		if rep == nil {
			errorJSON(w, status, "report unavailable")
			return
		}
		download(w, fmt.Sprintf("session-%s.md", id), "text/markdown; charset=utf-8")
		_, _ = w.Write([]byte(export.SessionMarkdown(rep)))
	default:
		errorJSON(w, http.StatusBadRequest, "format must be json, har or md")
	}
}

func (s *Server) handleCatalogExport(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "json"
	}

	catalog := report.BuildCatalog(s.store)
	switch format {
	case "json":
		download(w, "catalog.json", "application/json; charset=utf-8")
		_ = json.NewEncoder(w).Encode(catalog)
	case "md":
		download(w, "catalog.md", "text/markdown; charset=utf-8")
		_, _ = w.Write([]byte(export.CatalogMarkdown(catalog)))
	default:
		errorJSON(w, http.StatusBadRequest, "format must be json or md")
	}
}

func download(w http.ResponseWriter, filename, contentType string) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
}
