// Copyright 2025 The Draftforge Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package store persists pipeline runs, stage outcomes, persona chat
// transcripts, and digest history in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/draftforge/draftforge/pkg/pipeline"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("store: not found")

// Run status values.
const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Run is a persisted pipeline run.
type Run struct {
	ID          string                 `json:"id"`
	Pipeline    string                 `json:"pipeline"`
	Status      string                 `json:"status"`
	Inputs      map[string]interface{} `json:"inputs,omitempty"`
	Output      map[string]interface{} `json:"output,omitempty"`
	Error       string                 `json:"error,omitempty"`
	Mock        bool                   `json:"mock"`
	TotalTokens int                    `json:"total_tokens"`
	StartedAt   *time.Time             `json:"started_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
}

// RunFilter selects runs for listing.
type RunFilter struct {
	Status   string
	Pipeline string
	Limit    int
	Offset   int
}

// ChatMessage is one turn of a persona chat transcript.
type ChatMessage struct {
	RunID     string    `json:"run_id"`
	Persona   string    `json:"persona"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Config contains SQLite connection configuration.
type Config struct {
	// Path is the database file path.
	Path string

	// WAL enables write-ahead logging for concurrent reads.
	WAL bool
}

// Store is the SQLite-backed run store.
type Store struct {
	db *sql.DB
}

// New opens the database, applies pragmas, and runs migrations.
func New(cfg Config) (*Store, error) {
	if dir := filepath.Dir(cfg.Path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite serializes writes; a single connection avoids lock churn.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &Store{db: db}
	if err := s.configurePragmas(ctx, cfg.WAL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure pragmas: %w", err)
	}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

func (s *Store) configurePragmas(ctx context.Context, enableWAL bool) error {
	pragmas := []string{
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	if enableWAL {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}

	for _, pragma := range pragmas {
		if _, err := s.db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}
	return nil
}

func (s *Store) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			pipeline TEXT NOT NULL,
			status TEXT NOT NULL,
			inputs TEXT,
			output TEXT,
			error TEXT,
			mock INTEGER DEFAULT 0,
			total_tokens INTEGER DEFAULT 0,
			started_at TEXT,
			completed_at TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_pipeline ON runs(pipeline)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at)`,
		`CREATE TABLE IF NOT EXISTS stages (
			run_id TEXT NOT NULL,
			stage_index INTEGER NOT NULL,
			name TEXT NOT NULL,
			status TEXT NOT NULL,
			confidence REAL DEFAULT 0,
			iterations INTEGER DEFAULT 0,
			duration_ms INTEGER DEFAULT 0,
			error TEXT,
			output TEXT,
			PRIMARY KEY (run_id, stage_index),
			FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS chat_messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			persona TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chat_messages_run_id ON chat_messages(run_id)`,
		`CREATE TABLE IF NOT EXISTS digest_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			show TEXT NOT NULL,
			title TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_digest_history_created_at ON digest_history(created_at)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// CreateRun inserts a new run record.
func (s *Store) CreateRun(ctx context.Context, run *Run) error {
	inputsJSON, err := json.Marshal(run.Inputs)
	if err != nil {
		return fmt.Errorf("failed to marshal inputs: %w", err)
	}
	outputJSON, err := json.Marshal(run.Output)
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}

	now := time.Now()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, pipeline, status, inputs, output, error, mock,
			total_tokens, started_at, completed_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID, run.Pipeline, run.Status,
		string(inputsJSON), string(outputJSON), nullString(run.Error),
		boolInt(run.Mock), run.TotalTokens,
		formatTime(run.StartedAt), formatTime(run.CompletedAt),
		now.Format(time.RFC3339), now.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	run.CreatedAt = now
	run.UpdatedAt = now
	return nil
}

// UpdateRun rewrites an existing run record.
func (s *Store) UpdateRun(ctx context.Context, run *Run) error {
	inputsJSON, err := json.Marshal(run.Inputs)
	if err != nil {
		return fmt.Errorf("failed to marshal inputs: %w", err)
	}
	outputJSON, err := json.Marshal(run.Output)
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}

	now := time.Now()
	result, err := s.db.ExecContext(ctx, `
		UPDATE runs SET
			pipeline = ?, status = ?, inputs = ?, output = ?, error = ?,
			mock = ?, total_tokens = ?, started_at = ?, completed_at = ?, updated_at = ?
		WHERE id = ?
	`,
		run.Pipeline, run.Status, string(inputsJSON), string(outputJSON),
		nullString(run.Error), boolInt(run.Mock), run.TotalTokens,
		formatTime(run.StartedAt), formatTime(run.CompletedAt),
		now.Format(time.RFC3339), run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: run %s", ErrNotFound, run.ID)
	}

	run.UpdatedAt = now
	return nil
}

// GetRun retrieves a run by ID.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, pipeline, status, inputs, output, error, mock,
			total_tokens, started_at, completed_at, created_at, updated_at
		FROM runs WHERE id = ?
	`, id)

	run, err := scanRun(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: run %s", ErrNotFound, id)
	}
	return run, err
}

// ListRuns lists runs matching the filter, most recent first.
func (s *Store) ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error) {
	query := `
		SELECT id, pipeline, status, inputs, output, error, mock,
			total_tokens, started_at, completed_at, created_at, updated_at
		FROM runs WHERE 1=1
	`
	args := []any{}

	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}
	if filter.Pipeline != "" {
		query += " AND pipeline = ?"
		args = append(args, filter.Pipeline)
	}

	query += " ORDER BY created_at DESC, id DESC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows.Scan)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// RecordResult stores a completed pipeline result against its run:
// status, output, usage, and the per-stage rows.
func (s *Store) RecordResult(ctx context.Context, result *pipeline.Result) error {
	run, err := s.GetRun(ctx, result.RunID)
	if err != nil {
		return err
	}

	run.Status = StatusCompleted
	run.Output = result.Output
	run.Mock = result.Mock
	run.TotalTokens = result.Usage.TotalTokens
	run.StartedAt = &result.StartedAt
	run.CompletedAt = &result.CompletedAt
	if err := s.UpdateRun(ctx, run); err != nil {
		return err
	}
	return s.saveStages(ctx, result.RunID, result.Stages)
}

// RecordFailure marks a run failed and stores whatever stages ran.
func (s *Store) RecordFailure(ctx context.Context, runID string, runErr error, stages []pipeline.StageResult) error {
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return err
	}

	now := time.Now()
	run.Status = StatusFailed
	run.Error = runErr.Error()
	run.CompletedAt = &now
	if err := s.UpdateRun(ctx, run); err != nil {
		return err
	}
	return s.saveStages(ctx, runID, stages)
}

func (s *Store) saveStages(ctx context.Context, runID string, stages []pipeline.StageResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM stages WHERE run_id = ?", runID); err != nil {
		return fmt.Errorf("failed to clear stages: %w", err)
	}

	for i, stage := range stages {
		outputJSON, err := json.Marshal(stage.Output)
		if err != nil {
			return fmt.Errorf("failed to marshal stage output: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO stages (run_id, stage_index, name, status, confidence,
				iterations, duration_ms, error, output)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			runID, i, stage.Name, stage.Status, stage.Confidence,
			stage.Iterations, stage.Duration.Milliseconds(),
			nullString(stage.Error), string(outputJSON),
		)
		if err != nil {
			return fmt.Errorf("failed to insert stage: %w", err)
		}
	}
	return tx.Commit()
}

// GetStages returns a run's stage results in execution order.
func (s *Store) GetStages(ctx context.Context, runID string) ([]pipeline.StageResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, status, confidence, iterations, duration_ms, error, output
		FROM stages WHERE run_id = ? ORDER BY stage_index
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query stages: %w", err)
	}
	defer rows.Close()

	var stages []pipeline.StageResult
	for rows.Next() {
		var stage pipeline.StageResult
		var durationMs int64
		var errStr, outputJSON sql.NullString

		if err := rows.Scan(&stage.Name, &stage.Status, &stage.Confidence,
			&stage.Iterations, &durationMs, &errStr, &outputJSON); err != nil {
			return nil, fmt.Errorf("failed to scan stage: %w", err)
		}

		stage.Duration = time.Duration(durationMs) * time.Millisecond
		if errStr.Valid {
			stage.Error = errStr.String
		}
		if outputJSON.Valid && outputJSON.String != "" {
			if err := json.Unmarshal([]byte(outputJSON.String), &stage.Output); err != nil {
				return nil, fmt.Errorf("failed to unmarshal stage output: %w", err)
			}
		}
		stages = append(stages, stage)
	}
	return stages, rows.Err()
}

// AppendChatMessage stores one persona chat turn.
func (s *Store) AppendChatMessage(ctx context.Context, msg ChatMessage) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_messages (run_id, persona, role, content, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, msg.RunID, msg.Persona, msg.Role, msg.Content, msg.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to append chat message: %w", err)
	}
	return nil
}

// ChatHistory returns a run's chat transcript in order.
func (s *Store) ChatHistory(ctx context.Context, runID string) ([]ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, persona, role, content, created_at
		FROM chat_messages WHERE run_id = ? ORDER BY id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query chat history: %w", err)
	}
	defer rows.Close()

	var msgs []ChatMessage
	for rows.Next() {
		var msg ChatMessage
		var createdAt string
		if err := rows.Scan(&msg.RunID, &msg.Persona, &msg.Role, &msg.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan chat message: %w", err)
		}
		msg.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

// AddDigestEntries records delivered digest episodes so future digests
// can score novelty against them.
func (s *Store) AddDigestEntries(ctx context.Context, entries map[string]string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().Format(time.RFC3339)
	for show, title := range entries {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO digest_history (show, title, created_at) VALUES (?, ?, ?)
		`, show, title, now); err != nil {
			return fmt.Errorf("failed to insert digest entry: %w", err)
		}
	}
	return tx.Commit()
}

// RecentDigestTitles returns the most recent digest episode titles,
// newest first.
func (s *Store) RecentDigestTitles(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 30
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT title FROM digest_history ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query digest history: %w", err)
	}
	defer rows.Close()

	var titles []string
	for rows.Next() {
		var title string
		if err := rows.Scan(&title); err != nil {
			return nil, fmt.Errorf("failed to scan digest title: %w", err)
		}
		titles = append(titles, title)
	}
	return titles, rows.Err()
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

type scanFunc func(dest ...any) error

func scanRun(scan scanFunc) (*Run, error) {
	var run Run
	var inputsJSON, outputJSON sql.NullString
	var errStr, startedAt, completedAt sql.NullString
	var createdAt, updatedAt string
	var mock int

	err := scan(
		&run.ID, &run.Pipeline, &run.Status, &inputsJSON, &outputJSON,
		&errStr, &mock, &run.TotalTokens, &startedAt, &completedAt,
		&createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}

	run.Mock = mock == 1
	if errStr.Valid {
		run.Error = errStr.String
	}
	if inputsJSON.Valid && inputsJSON.String != "" {
		if err := json.Unmarshal([]byte(inputsJSON.String), &run.Inputs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal inputs: %w", err)
		}
	}
	if outputJSON.Valid && outputJSON.String != "" {
		if err := json.Unmarshal([]byte(outputJSON.String), &run.Output); err != nil {
			return nil, fmt.Errorf("failed to unmarshal output: %w", err)
		}
	}
	if startedAt.Valid {
		t, _ := time.Parse(time.RFC3339, startedAt.String)
		run.StartedAt = &t
	}
	if completedAt.Valid {
		t, _ := time.Parse(time.RFC3339, completedAt.String)
		run.CompletedAt = &t
	}
	run.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	run.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)

	return &run, nil
}

func formatTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339)
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
