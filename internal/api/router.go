// Package api serves the control/observer surface: live log access,
// the event stream, session lifecycle and the export downloads.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kybaq/har-tool/internal/capture"
	applog "github.com/kybaq/har-tool/internal/log"
	"github.com/kybaq/har-tool/internal/session"
)

const (
	// maxLiveLimit caps ?limit on the live ring endpoint.
	maxLiveLimit = 2000
	// maxSessionLimit caps ?limit on stored session logs.
	maxSessionLimit = 5000
)

// Server holds the shared state the control API reads and mutates.
type Server struct {
	ring  *capture.Ring
	store *session.Store
}

// Options configures the control API router.
type Options struct {
	Ring  *capture.Ring
	Store *session.Store
	// LogRequests installs the request logging middleware.
	LogRequests bool
}

// NewRouter wires every control endpoint onto a chi router. CORS is
// wide open; the API binds to loopback and serves local tooling.
func NewRouter(opts Options) http.Handler {
	server := &Server{ring: opts.Ring, store: opts.Store}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(applog.WithRequestID)
	if opts.LogRequests {
		r.Use(applog.WithRequestLogging)
	}
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}))

	r.Get("/health", server.handleHealth)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Get("/events", server.handleEvents)

	r.Route("/api", func(r chi.Router) {
		r.Get("/logs", server.handleLogs)
		r.Post("/clear", server.handleClear)

		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", server.handleSessionList)
			r.Post("/start", server.handleSessionStart)
			r.Post("/stop", server.handleSessionStop)
			r.Get("/{id}", server.handleSessionGet)
			r.Get("/{id}/logs", server.handleSessionLogs)
			r.Get("/{id}/export", server.handleSessionExport)
			r.Post("/{id}/report", server.handleSessionReport)
		})

		r.Get("/catalog/export", server.handleCatalogExport)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, maxLiveLimit)
	writeJSON(w, http.StatusOK, map[string]any{
		"items": s.ring.Snapshot(limit),
	})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	s.ring.Clear()
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// parseLimit reads ?limit, clamped to (0, max]. Absent or malformed
// values fall back to max.
func parseLimit(r *http.Request, max int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return max
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 || limit > max {
		return max
	}
	return limit
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func errorJSON(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
