// Package store persists run history to SQLite so a later turn can resume
// from a previous run's session state.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/loomworks/loom/pkg/agent"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    agent TEXT NOT NULL,
    model TEXT NOT NULL,
    prompt TEXT,
    output_type TEXT NOT NULL,
    output_message TEXT,
    status_code INTEGER DEFAULT 0,
    credits_used REAL DEFAULT 0,
    session_state TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_runs_agent ON runs(agent, created_at DESC);
`

// RunRecord is one persisted run.
type RunRecord struct {
	ID         string
	Agent      string
	Model      string
	Prompt     string
	OutputType string
	Message    string
	StatusCode int
	Credits    float64
	CreatedAt  time.Time
}

// Store is a SQLite-backed run history.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the run database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// SaveRun persists a completed run and its session state.
func (s *Store) SaveRun(ctx context.Context, run *agent.RunState, agentName, model, prompt string) error {
	state, err := json.Marshal(run.SessionState)
	if err != nil {
		return fmt.Errorf("encode session state: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, agent, model, prompt, output_type, output_message, status_code, credits_used, session_state)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, agentName, model, prompt,
		string(run.Output.Type), run.Output.Message, run.Output.StatusCode,
		run.SessionState.MainAgent.CreditsUsed, string(state),
	)
	if err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	return nil
}

// LoadRun reconstructs a run by id, including its session state, so it can
// be passed as a previous run.
func (s *Store) LoadRun(ctx context.Context, id string) (*agent.RunState, error) {
	var (
		run   agent.RunState
		oType string
		state string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, output_type, output_message, status_code, session_state
		FROM runs WHERE id = ?`, id,
	).Scan(&run.RunID, &oType, &run.Output.Message, &run.Output.StatusCode, &state)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("load run: %w", err)
	}

	run.Output.Type = agent.OutputType(oType)
	if err := json.Unmarshal([]byte(state), &run.SessionState); err != nil {
		return nil, fmt.Errorf("decode session state: %w", err)
	}
	return &run, nil
}

// LatestRun returns the most recent run for an agent, or nil when there is
// none.
func (s *Store) LatestRun(ctx context.Context, agentName string) (*agent.RunState, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM runs WHERE agent = ? ORDER BY created_at DESC LIMIT 1`,
		agentName,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find latest run: %w", err)
	}
	return s.LoadRun(ctx, id)
}

// ListRuns returns recent run metadata, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, agent, model, prompt, output_type, output_message, status_code, credits_used, created_at
		FROM runs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		var r RunRecord
		if err := rows.Scan(&r.ID, &r.Agent, &r.Model, &r.Prompt, &r.OutputType,
			&r.Message, &r.StatusCode, &r.Credits, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
