// Package store persists pipeline run history to SQLite so past verdicts
// stay inspectable after the report files have been overwritten.
//
// Storage location: <reports-dir>/runs.db
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	_ "github.com/mattn/go-sqlite3"
)

// timeLayout is the column format for created_at. Lexicographic order
// matches chronological order.
const timeLayout = "2006-01-02 15:04:05"

// RunStore records completed pipeline runs.
type RunStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
	log    *zap.Logger
}

// Run is one pipeline run as recorded in the ledger.
type Run struct {
	ID         string    `json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	Verdict    string    `json:"verdict"`
	Providers  []string  `json:"providers"`
	MustFix    int       `json:"must_fix"`
	Findings   int       `json:"findings"`
	DurationMs int64     `json:"duration_ms"`
}

// Open opens (creating if needed) the run ledger at the given path.
func Open(dbPath string, log *zap.Logger) (*RunStore, error) {
	if log == nil {
		log = zap.NewNop()
	}

	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create ledger directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger database: %w", err)
	}

	s := &RunStore{db: db, dbPath: dbPath, log: log}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize ledger schema: %w", err)
	}

	log.Debug("run ledger opened", zap.String("path", dbPath))
	return s, nil
}

// initialize creates the database schema.
func (s *RunStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id          TEXT PRIMARY KEY,
		created_at  TIMESTAMP NOT NULL,
		verdict     TEXT NOT NULL,
		providers   TEXT NOT NULL,
		must_fix    INTEGER NOT NULL,
		findings    INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Record persists one run. Re-recording an id replaces the earlier row.
func (s *RunStore) Record(run Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	createdAt := run.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO runs
		(id, created_at, verdict, providers, must_fix, findings, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, createdAt.UTC().Format(timeLayout), run.Verdict,
		strings.Join(run.Providers, ","), run.MustFix, run.Findings,
		run.DurationMs,
	)
	if err != nil {
		s.log.Error("failed to record run", zap.String("id", run.ID), zap.Error(err))
		return err
	}

	s.log.Debug("run recorded",
		zap.String("id", run.ID),
		zap.String("verdict", run.Verdict))
	return nil
}

// Recent returns the most recent runs, newest first.
func (s *RunStore) Recent(limit int) ([]Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, created_at, verdict, providers, must_fix, findings, duration_ms
		FROM runs ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanRuns(rows)
}

// Close closes the database connection.
func (s *RunStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		s.log.Debug("closing run ledger", zap.String("path", s.dbPath))
		return s.db.Close()
	}
	return nil
}

func scanRuns(rows *sql.Rows) ([]Run, error) {
	var runs []Run

	for rows.Next() {
		var run Run
		var providers string

		// The driver hands TIMESTAMP columns back as time.Time.
		err := rows.Scan(&run.ID, &run.CreatedAt, &run.Verdict, &providers,
			&run.MustFix, &run.Findings, &run.DurationMs)
		if err != nil {
			return nil, err
		}

		if providers != "" {
			run.Providers = strings.Split(providers, ",")
		}

		runs = append(runs, run)
	}

	return runs, rows.Err()
}
