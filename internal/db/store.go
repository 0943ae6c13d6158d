package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/g960059/pnp/internal/model"
)

var (
	ErrDuplicate = errors.New("duplicate")
	ErrNotFound  = errors.New("not found")
)

// Store is the operation journal. It is written after every executed
// command and read only by history queries.
type Store struct {
	db *sql.DB
}

func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil && !errors.Is(err, os.ErrNotExist) {
		_ = db.Close()
		return nil, fmt.Errorf("chmod db path: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) RecordOperation(ctx context.Context, op model.Operation) error {
	if strings.TrimSpace(op.OperationID) == "" {
		return fmt.Errorf("operation id is required")
	}
	if op.CreatedAt.IsZero() {
		op.CreatedAt = time.Now().UTC()
	}
	panes := op.Panes
	if panes == nil {
		panes = []model.PaneID{}
	}
	panesJSON, err := json.Marshal(panes)
	if err != nil {
		return fmt.Errorf("encode panes: %w", err)
	}
	var position any
	if op.TabPosition != nil {
		position = *op.TabPosition
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO operations(operation_id, request_id, instance_id, command, outcome, panes_json, tab_position, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		op.OperationID,
		op.RequestID,
		op.InstanceID,
		string(op.Command),
		string(op.Outcome),
		string(panesJSON),
		position,
		ts(op.CreatedAt),
	)
	if err != nil {
		if isUniqueErr(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert operation: %w", err)
	}
	return nil
}

func (s *Store) GetOperation(ctx context.Context, operationID string) (model.Operation, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT operation_id, request_id, instance_id, command, outcome, panes_json, tab_position, created_at
FROM operations WHERE operation_id = ?`, operationID)
	op, err := scanOperation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Operation{}, ErrNotFound
	}
	return op, err
}

// ListOperations returns the newest operations first. A non-positive limit
// returns everything.
func (s *Store) ListOperations(ctx context.Context, limit int) ([]model.Operation, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT operation_id, request_id, instance_id, command, outcome, panes_json, tab_position, created_at
FROM operations
ORDER BY created_at DESC, rowid DESC
LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query operations: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	out := make([]model.Operation, 0)
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate operations: %w", err)
	}
	return out, nil
}

// PurgeBefore deletes journal rows older than cutoff and reports how many
// were removed.
func (s *Store) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM operations WHERE created_at < ?`, ts(cutoff))
	if err != nil {
		return 0, fmt.Errorf("purge operations: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge operations: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOperation(r rowScanner) (model.Operation, error) {
	var (
		op        model.Operation
		command   string
		outcome   string
		panesJSON string
		position  sql.NullInt64
		createdAt string
	)
	if err := r.Scan(&op.OperationID, &op.RequestID, &op.InstanceID, &command, &outcome, &panesJSON, &position, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Operation{}, err
		}
		return model.Operation{}, fmt.Errorf("scan operation: %w", err)
	}
	op.Command = model.Command(command)
	op.Outcome = model.Outcome(outcome)
	if err := json.Unmarshal([]byte(panesJSON), &op.Panes); err != nil {
		return model.Operation{}, fmt.Errorf("decode panes of %s: %w", op.OperationID, err)
	}
	if position.Valid {
		p := int(position.Int64)
		op.TabPosition = &p
	}
	t, err := parseTS(createdAt)
	if err != nil {
		return model.Operation{}, fmt.Errorf("parse created_at of %s: %w", op.OperationID, err)
	}
	op.CreatedAt = t
	return op, nil
}

// tsLayout is fixed width so that stored timestamps order lexically.
const tsLayout = "2006-01-02T15:04:05.000000000Z07:00"

func ts(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

func parseTS(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func isUniqueErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "constraint failed: UNIQUE")
}
