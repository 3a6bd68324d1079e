package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/michaelbrown/crucible/internal/storage"

	_ "modernc.org/sqlite"
)

// Store implements storage.Store backed by a SQLite database.
type Store struct {
	db *sql.DB
}

// Open creates or opens a SQLite database at the given path and runs
// migrations. Use ":memory:" for an in-memory database (useful for tests).
func Open(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) CreateExecution(ctx context.Context, e *storage.Execution) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO executions (id, name, mode, status, exit_code, passed_tests, total_tests, duration_ms, log_path, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Name, e.Mode, e.Status, e.ExitCode, e.PassedTests, e.TotalTests,
		e.DurationMS, e.LogPath, e.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting execution: %w", err)
	}
	return nil
}

func (s *Store) GetExecution(ctx context.Context, id string) (*storage.Execution, error) {
	// Try exact match first, then prefix match
	e, err := s.getExecutionExact(ctx, id)
	if err == nil {
		return e, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, mode, status, exit_code, passed_tests, total_tests, duration_ms, log_path, created_at
		FROM executions WHERE id LIKE ? || '%'`, id)
	if err != nil {
		return nil, fmt.Errorf("querying execution: %w", err)
	}
	defer rows.Close()

	var matches []*storage.Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		matches = append(matches, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("execution not found: %s", id)
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("ambiguous execution prefix %q matches %d records", id, len(matches))
	}
}

func (s *Store) getExecutionExact(ctx context.Context, id string) (*storage.Execution, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, mode, status, exit_code, passed_tests, total_tests, duration_ms, log_path, created_at
		FROM executions WHERE id = ?`, id)

	var e storage.Execution
	var createdAt string
	err := row.Scan(&e.ID, &e.Name, &e.Mode, &e.Status, &e.ExitCode, &e.PassedTests,
		&e.TotalTests, &e.DurationMS, &e.LogPath, &createdAt)
	if err != nil {
		return nil, err
	}
	e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &e, nil
}

func (s *Store) ListExecutions(ctx context.Context, opts storage.ListOptions) ([]storage.Execution, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, name, mode, status, exit_code, passed_tests, total_tests, duration_ms, log_path, created_at FROM executions`
	var args []any
	var conds []string

	if opts.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, opts.Status)
	}
	if opts.Mode != "" {
		conds = append(conds, "mode = ?")
		args = append(args, opts.Mode)
	}
	for i, cond := range conds {
		if i == 0 {
			query += " WHERE " + cond
		} else {
			query += " AND " + cond
		}
	}
	query += " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing executions: %w", err)
	}
	defer rows.Close()

	var executions []storage.Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		executions = append(executions, *e)
	}
	return executions, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}

func scanExecution(rows *sql.Rows) (*storage.Execution, error) {
	var e storage.Execution
	var createdAt string
	err := rows.Scan(&e.ID, &e.Name, &e.Mode, &e.Status, &e.ExitCode, &e.PassedTests,
		&e.TotalTests, &e.DurationMS, &e.LogPath, &createdAt)
	if err != nil {
		return nil, fmt.Errorf("scanning execution: %w", err)
	}
	e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &e, nil
}
