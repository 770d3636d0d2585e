// Package session persists captured traffic on disk: one directory
// per session holding metadata, an append-only NDJSON log and a cached
// route report.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kybaq/har-tool/internal/capture"
	applog "github.com/kybaq/har-tool/internal/log"
	"github.com/kybaq/har-tool/internal/metrics"
	"github.com/kybaq/har-tool/internal/report"
)

const (
	metaFileName   = "meta.json"
	logsFileName   = "logs.ndjson"
	reportFileName = "report.json"
)

// Meta describes one stored session.
type Meta struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	RouteKey  string `json:"routeKey,omitempty"`
	CreatedAt int64  `json:"createdAt"`
	EndedAt   int64  `json:"endedAt,omitempty"`
	LogCount  int    `json:"logCount"`
	Dir       string `json:"dir"`
	LogsPath  string `json:"logsPath"`
}

// Store manages session directories under one root. At most one
// session is current; all writes to it are serialized.
type Store struct {
	mu      sync.Mutex
	root    string
	current *Meta
	file    *os.File
}

// NewStore builds a store rooted at root. An empty root falls back to
// data/sessions under the working directory.
func NewStore(root string) *Store {
	if root == "" {
		root = filepath.Join("data", "sessions")
	}
	return &Store{root: root}
}

// Init makes sure the root directory exists.
func (store *Store) Init() error {
	if err := os.MkdirAll(store.root, 0o755); err != nil {
		return fmt.Errorf("create session root: %w", err)
	}
	return nil
}

// Root returns the directory sessions are stored under.
func (store *Store) Root() string { return store.root }

// List enumerates stored sessions newest-first. Directories whose
// metadata cannot be read are skipped.
func (store *Store) List() []Meta {
	entries, err := os.ReadDir(store.root)
	if err != nil {
		return nil
	}
	metas := make([]Meta, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		meta, err := store.readMeta(entry.Name())
		if err != nil {
			continue
		}
		metas = append(metas, *meta)
	}
	sort.Slice(metas, func(i, j int) bool {
		return metas[i].CreatedAt > metas[j].CreatedAt
	})
	return metas
}

// Read returns the metadata of one session, or nil when the id is
// unknown or its metadata cannot be parsed.
func (store *Store) Read(id string) *Meta {
	meta, err := store.readMeta(id)
	if err != nil {
		return nil
	}
	return meta
}

// Current returns a copy of the active session's metadata, or nil.
func (store *Store) Current() *Meta {
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.current == nil {
		return nil
	}
	meta := *store.current
	return &meta
}

// Start begins recording a new session, stopping the current one
// first when needed. The name defaults to a timestamped label.
func (store *Store) Start(name, routeKey string) (*Meta, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	if store.current != nil {
		if _, err := store.stopLocked(); err != nil {
			return nil, err
		}
	}

	now := time.Now()
	if strings.TrimSpace(name) == "" {
		name = "Session " + now.Format("2006-01-02 15:04:05")
	}

	id := uuid.NewString()
	dir := filepath.Join(store.root, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}

	meta := &Meta{
		ID:        id,
		Name:      name,
		RouteKey:  routeKey,
		CreatedAt: now.UnixMilli(),
		Dir:       dir,
		LogsPath:  filepath.Join(dir, logsFileName),
	}
	if err := store.writeMetaLocked(meta); err != nil {
		return nil, err
	}

	file, err := os.OpenFile(meta.LogsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open session log: %w", err)
	}

	store.current = meta
	store.file = file
	metrics.SetSessionActive(true)
	applog.LogSessionEvent("started", meta.ID, meta.Name)

	copied := *meta
	return &copied, nil
}

// Append writes one record to the current session log and keeps the
// on-disk metadata in step. Appends without a current session are
// silently ignored.
func (store *Store) Append(rec capture.LogRecord) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	if store.current == nil || store.file == nil {
		return nil
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	if _, err := store.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append record: %w", err)
	}

	store.current.LogCount++
	return store.writeMetaLocked(store.current)
}

// Stop ends the current session, if any, and returns its final
// metadata.
func (store *Store) Stop() (*Meta, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.current == nil {
		return nil, nil
	}
	return store.stopLocked()
}

func (store *Store) stopLocked() (*Meta, error) {
	meta := store.current
	meta.EndedAt = time.Now().UnixMilli()

	writeErr := store.writeMetaLocked(meta)
	closeErr := store.file.Close()

	store.current = nil
	store.file = nil
	metrics.SetSessionActive(false)
	applog.LogSessionEvent("stopped", meta.ID, meta.Name)

	copied := *meta
	return &copied, errors.Join(writeErr, closeErr)
}

// ReadLogs parses a session's NDJSON file, skipping malformed lines.
// A positive limit keeps only the last limit records, in file order.
func (store *Store) ReadLogs(id string, limit int) ([]capture.LogRecord, error) {
	if !validID(id) {
		return nil, fmt.Errorf("invalid session id %q", id)
	}
	data, err := os.ReadFile(filepath.Join(store.root, id, logsFileName))
	if err != nil {
		return nil, fmt.Errorf("read session log: %w", err)
	}

	lines := strings.Split(string(data), "\n")
	records := make([]capture.LogRecord, 0, len(lines))
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		var rec capture.LogRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}
	if limit > 0 && len(records) > limit {
		records = records[len(records)-limit:]
	}
	return records, nil
}

// ReadReport loads a session's cached route report.
func (store *Store) ReadReport(id string) (*report.RouteReport, error) {
	if !validID(id) {
		return nil, fmt.Errorf("invalid session id %q", id)
	}
	data, err := os.ReadFile(filepath.Join(store.root, id, reportFileName))
	if err != nil {
		return nil, fmt.Errorf("read report: %w", err)
	}
	var rep report.RouteReport
	if err := json.Unmarshal(data, &rep); err != nil {
		return nil, fmt.Errorf("parse report: %w", err)
	}
	return &rep, nil
}

// WriteReport caches a route report next to the session's log.
func (store *Store) WriteReport(id string, rep *report.RouteReport) error {
	if !validID(id) {
		return fmt.Errorf("invalid session id %q", id)
	}
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	path := filepath.Join(store.root, id, reportFileName)
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// ListSessions adapts stored metadata for the catalog builder, letting
// *Store act as a report.Source.
func (store *Store) ListSessions() []report.SessionInfo {
	metas := store.List()
	infos := make([]report.SessionInfo, 0, len(metas))
	for _, meta := range metas {
		infos = append(infos, report.SessionInfo{
			ID:       meta.ID,
			Name:     meta.Name,
			RouteKey: meta.RouteKey,
		})
	}
	return infos
}

func (store *Store) readMeta(id string) (*Meta, error) {
	if !validID(id) {
		return nil, fmt.Errorf("invalid session id %q", id)
	}
	data, err := os.ReadFile(filepath.Join(store.root, id, metaFileName))
	if err != nil {
		return nil, err
	}
	var meta Meta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

func (store *Store) writeMetaLocked(meta *Meta) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("encode meta: %w", err)
	}
	path := filepath.Join(meta.Dir, metaFileName)
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write meta: %w", err)
	}
	return nil
}

// Session ids are uuid strings minted by Start. Anything that could
// escape the root directory is rejected.
func validID(id string) bool {
	if id == "" || id == "." || id == ".." {
		return false
	}
	return !strings.ContainsAny(id, `/\`)
}
