package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"

	"screenTimeline/config"
	"screenTimeline/core"
)

// ResultStore persists completed timelines for later retrieval and export.
// Delete is idempotent: removing an absent session is not an error.
type ResultStore interface {
	Save(ctx context.Context, res *core.TimelineResult) error
	// Get returns core.ErrNotFound (wrapped) when no result exists.
	Get(ctx context.Context, sessionID string) (*core.TimelineResult, error)
	Delete(ctx context.Context, sessionID string) error
	Close() error
}

// NewResultStore selects the backend from config.
func NewResultStore(cfg *config.Config) (ResultStore, error) {
	switch cfg.Store {
	case "", "memory":
		return NewMemoryResultStore(), nil
	case "sqlite":
		return NewSQLiteResultStore(cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store)
	}
}

// ---------------- Memory implementation ----------------

type MemoryResultStore struct {
	mu      sync.RWMutex
	results map[string]*core.TimelineResult
}

func NewMemoryResultStore() *MemoryResultStore {
	return &MemoryResultStore{results: map[string]*core.TimelineResult{}}
}

func (s *MemoryResultStore) Save(_ context.Context, res *core.TimelineResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *res
	s.results[res.SessionID] = &cp
	return nil
}

func (s *MemoryResultStore) Get(_ context.Context, sessionID string) (*core.TimelineResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res, ok := s.results[sessionID]
	if !ok {
		return nil, &core.StorageError{Op: "get", Err: core.ErrNotFound}
	}
	cp := *res
	return &cp, nil
}

func (s *MemoryResultStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.results, sessionID)
	return nil
}

func (s *MemoryResultStore) Close() error { return nil }

// ---------------- SQLite implementation ----------------

// SQLiteResultStore keeps one row per session with the timeline serialized
// as a JSON payload. The schema stays flat on purpose: results are read and
// written whole, never queried field by field.
type SQLiteResultStore struct {
	db *sql.DB
}

func NewSQLiteResultStore(path string) (*SQLiteResultStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, &core.StorageError{Op: "open", Err: err}
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, &core.StorageError{Op: "open", Err: err}
	}
	schema := `
		CREATE TABLE IF NOT EXISTS timelines (
			session_id   TEXT PRIMARY KEY,
			payload      BLOB NOT NULL,
			processed_at TEXT NOT NULL
		);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, &core.StorageError{Op: "migrate", Err: err}
	}
	return &SQLiteResultStore{db: db}, nil
}

func (s *SQLiteResultStore) Save(ctx context.Context, res *core.TimelineResult) error {
	payload, err := json.Marshal(res)
	if err != nil {
		return &core.StorageError{Op: "save", Err: err}
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO timelines (session_id, payload, processed_at)
		VALUES (?, ?, ?)
		ON CONFLICT (session_id) DO UPDATE SET
			payload = excluded.payload,
			processed_at = excluded.processed_at
	`, res.SessionID, payload, res.ProcessedAt.UTC().Format("2006-01-02T15:04:05Z"))
	if err != nil {
		return &core.StorageError{Op: "save", Err: err}
	}
	return nil
}

func (s *SQLiteResultStore) Get(ctx context.Context, sessionID string) (*core.TimelineResult, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM timelines WHERE session_id = ?`, sessionID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &core.StorageError{Op: "get", Err: core.ErrNotFound}
	}
	if err != nil {
		return nil, &core.StorageError{Op: "get", Err: err}
	}
	var res core.TimelineResult
	if err := json.Unmarshal(payload, &res); err != nil {
		return nil, &core.StorageError{Op: "get", Err: err}
	}
	return &res, nil
}

func (s *SQLiteResultStore) Delete(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM timelines WHERE session_id = ?`, sessionID); err != nil {
		return &core.StorageError{Op: "delete", Err: err}
	}
	return nil
}

func (s *SQLiteResultStore) Close() error { return s.db.Close() }
