package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/craft-ai/craft-ai-kit-buying-habits/internal/core"
)

// RunStore keeps executed requests and their results
type RunStore struct {
	db *DB
}

// NewRunStore creates a new request run store
func NewRunStore(db *DB) *RunStore {
	return &RunStore{db: db}
}

// Save stores a run, replacing any run with the same id
func (s *RunStore) Save(ctx context.Context, run *core.RequestRun) error {
	if run.ID == "" {
		return fmt.Errorf("%w: run id", core.ErrMissingRequired)
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}

	params, err := json.Marshal(run.Params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	results, err := json.Marshal(run.Results)
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}

	_, err = s.db.conn.ExecContext(ctx, `
		INSERT INTO requests (id, params, results, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET params = excluded.params, results = excluded.results
	`, run.ID, string(params), string(results), run.CreatedAt.UTC().Format(timeLayout))
	return err
}

// Get returns a run by id
func (s *RunStore) Get(ctx context.Context, id string) (*core.RequestRun, error) {
	row := s.db.conn.QueryRowContext(ctx, `
		SELECT id, params, results, created_at FROM requests WHERE id = ?
	`, id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: request %s", core.ErrRecordNotFound, id)
	}
	return run, err
}

// List returns the most recent runs first
func (s *RunStore) List(ctx context.Context, limit int) ([]*core.RequestRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.conn.QueryContext(ctx, `
		SELECT id, params, results, created_at FROM requests
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []*core.RequestRun{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*core.RequestRun, error) {
	var run core.RequestRun
	var params, results, createdAt string
	if err := row.Scan(&run.ID, &params, &results, &createdAt); err != nil {
		return nil, err
	}

	var err error
	if run.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at of %s: %w", run.ID, err)
	}
	if err := json.Unmarshal([]byte(params), &run.Params); err != nil {
		return nil, fmt.Errorf("unmarshal params of %s: %w", run.ID, err)
	}
	if err := json.Unmarshal([]byte(results), &run.Results); err != nil {
		return nil, fmt.Errorf("unmarshal results of %s: %w", run.ID, err)
	}
	return &run, nil
}
