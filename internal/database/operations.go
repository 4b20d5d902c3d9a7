package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SyncOperation is one recorded run of a mutating command.
type SyncOperation struct {
	ID         int64
	Operation  string
	Parameters string
	StartedAt  time.Time
	FinishedAt sql.NullTime
	Status     string
}

func (s *SQLiteDatabase) CreateSyncOperation(operation, parameters string) (*SyncOperation, error) {
	op := &SyncOperation{
		Operation:  operation,
		Parameters: parameters,
		StartedAt:  time.Now().UTC(),
		Status:     "running",
	}
	err := s.q.QueryRowContext(context.Background(), `
		INSERT INTO sync_operations (operation, parameters, started_at, status)
		VALUES (?, ?, ?, ?)
		RETURNING id`,
		op.Operation, op.Parameters, op.StartedAt, op.Status,
	).Scan(&op.ID)
	if err != nil {
		return nil, fmt.Errorf("creating sync operation: %w", err)
	}
	return op, nil
}

func (s *SQLiteDatabase) FinishSyncOperation(id int64, status string) error {
	_, err := s.q.ExecContext(context.Background(),
		`UPDATE sync_operations SET finished_at = ?, status = ? WHERE id = ?`,
		time.Now().UTC(), status, id)
	if err != nil {
		return fmt.Errorf("finishing sync operation: %w", err)
	}
	return nil
}

// ListSyncOperations returns the most recent operations, newest first.
func (s *SQLiteDatabase) ListSyncOperations(limit int) ([]*SyncOperation, error) {
	rows, err := s.q.QueryContext(context.Background(), `
		SELECT id, operation, parameters, started_at, finished_at, status
		FROM sync_operations
		ORDER BY id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing sync operations: %w", err)
	}
	defer rows.Close()

	var ops []*SyncOperation
	for rows.Next() {
		var op SyncOperation
		if err := rows.Scan(&op.ID, &op.Operation, &op.Parameters, &op.StartedAt, &op.FinishedAt, &op.Status); err != nil {
			return nil, fmt.Errorf("scanning sync operation: %w", err)
		}
		ops = append(ops, &op)
	}
	return ops, rows.Err()
}
