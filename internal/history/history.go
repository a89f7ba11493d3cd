// Package history journals training runs in SQLite.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Run is one training invocation.
type Run struct {
	ID        string        `json:"id"`
	ModelPath string        `json:"model_path"`
	DataPath  string        `json:"data_path"`
	Examples  int           `json:"examples"`
	Intents   []string      `json:"intents"`
	Digest    string        `json:"digest,omitempty"`
	Stage     string        `json:"stage"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
	TrainedAt time.Time     `json:"trained_at"`
}

// Succeeded reports whether the run reached the final stage.
func (r Run) Succeeded() bool {
	return r.Error == ""
}

// Store is a SQLite-backed training journal.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the journal at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create history directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database failed: %w", err)
	}
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
    CREATE TABLE IF NOT EXISTS training_runs (
        id TEXT PRIMARY KEY,
        model_path TEXT NOT NULL,
        data_path TEXT NOT NULL,
        examples INTEGER NOT NULL,
        intents TEXT NOT NULL,
        digest TEXT,
        stage TEXT NOT NULL,
        error TEXT,
        duration_ms INTEGER NOT NULL,
        trained_at DATETIME NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_training_runs_model ON training_runs(model_path, trained_at);
    `)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables failed: %w", err)
	}

	return &Store{db: db}, nil
}

// Record inserts a run.
func (s *Store) Record(ctx context.Context, run Run) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO training_runs (
            id, model_path, data_path, examples, intents, digest, stage, error, duration_ms, trained_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID,
		run.ModelPath,
		run.DataPath,
		run.Examples,
		strings.Join(run.Intents, ","),
		run.Digest,
		run.Stage,
		run.Error,
		run.Duration.Milliseconds(),
		run.TrainedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("record training run: %w", err)
	}
	return nil
}

// List returns up to limit runs for modelPath, newest first. An empty
// modelPath lists every model.
func (s *Store) List(ctx context.Context, modelPath string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
        SELECT id, model_path, data_path, examples, intents, digest, stage, error, duration_ms, trained_at
        FROM training_runs
        WHERE ? = '' OR model_path = ?
        ORDER BY trained_at DESC, rowid DESC
        LIMIT ?`, modelPath, modelPath, limit)
	if err != nil {
		return nil, fmt.Errorf("list training runs: %w", err)
	}
	defer rows.Close()

	runs := make([]Run, 0)
	for rows.Next() {
		var (
			run        Run
			intents    string
			digest     sql.NullString
			errMsg     sql.NullString
			durationMs int64
		)
		if err := rows.Scan(&run.ID, &run.ModelPath, &run.DataPath, &run.Examples, &intents,
			&digest, &run.Stage, &errMsg, &durationMs, &run.TrainedAt); err != nil {
			return nil, err
		}
		if intents != "" {
			run.Intents = strings.Split(intents, ",")
		}
		run.Digest = digest.String
		run.Error = errMsg.String
		run.Duration = time.Duration(durationMs) * time.Millisecond
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
