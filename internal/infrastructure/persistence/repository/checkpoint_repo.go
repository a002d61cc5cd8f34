package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	sqlite3 "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/steadyrow/caseflow/internal/application/port"
	"github.com/steadyrow/caseflow/internal/domain/lifecycle"
	"github.com/steadyrow/caseflow/internal/infrastructure/persistence/sqlite"
)

// CheckpointRepository implements port.CheckpointStore over SQLite. The
// UNIQUE constraint on (correlation_id, step) makes the first writer win;
// later writers get port.ErrDuplicateCheckpoint.
type CheckpointRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewCheckpointRepository creates a new checkpoint repository
func NewCheckpointRepository(db *sql.DB, logger *zap.Logger) port.CheckpointStore {
	return &CheckpointRepository{db: db, logger: logger}
}

// Append records one step checkpoint
func (r *CheckpointRepository) Append(ctx context.Context, cp *lifecycle.Checkpoint) error {
	payload, err := marshalPayload(cp.Payload)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO checkpoints (correlation_id, step, payload, created_at)
		VALUES (?, ?, ?, ?)
	`
	res, err := sqlite.ExecutorFrom(ctx, r.db).ExecContext(ctx, query,
		cp.CorrelationID, cp.Step.String(), payload, cp.CreatedAt)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return port.ErrDuplicateCheckpoint
		}
		r.logger.Error("failed to append checkpoint",
			zap.String("correlation_id", cp.CorrelationID),
			zap.String("step", cp.Step.String()),
			zap.Error(err))
		return fmt.Errorf("append checkpoint: %w", err)
	}

	seq, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("checkpoint sequence: %w", err)
	}
	cp.Seq = seq
	return nil
}

// Get returns the checkpoint for one step, or nil when absent
func (r *CheckpointRepository) Get(ctx context.Context, correlationID string, step lifecycle.Step) (*lifecycle.Checkpoint, error) {
	query := `
		SELECT seq, correlation_id, step, payload, created_at
		FROM checkpoints
		WHERE correlation_id = ? AND step = ?
	`
	cp, err := r.scanOne(sqlite.ExecutorFrom(ctx, r.db).QueryRowContext(ctx, query, correlationID, step.String()))
	if err != nil {
		return nil, err
	}
	return cp, nil
}

// Latest returns the most recent checkpoint for a correlation id, or nil
func (r *CheckpointRepository) Latest(ctx context.Context, correlationID string) (*lifecycle.Checkpoint, error) {
	query := `
		SELECT seq, correlation_id, step, payload, created_at
		FROM checkpoints
		WHERE correlation_id = ?
		ORDER BY seq DESC
		LIMIT 1
	`
	return r.scanOne(sqlite.ExecutorFrom(ctx, r.db).QueryRowContext(ctx, query, correlationID))
}

// List returns all checkpoints for a correlation id in insertion order
func (r *CheckpointRepository) List(ctx context.Context, correlationID string) ([]*lifecycle.Checkpoint, error) {
	query := `
		SELECT seq, correlation_id, step, payload, created_at
		FROM checkpoints
		WHERE correlation_id = ?
		ORDER BY seq ASC
	`
	rows, err := sqlite.ExecutorFrom(ctx, r.db).QueryContext(ctx, query, correlationID)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	var out []*lifecycle.Checkpoint
	for rows.Next() {
		var cp lifecycle.Checkpoint
		var step string
		var payload sql.NullString
		if err := rows.Scan(&cp.Seq, &cp.CorrelationID, &step, &payload, &cp.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		cp.Step = lifecycle.Step(step)
		if err := unmarshalPayload(payload, &cp); err != nil {
			return nil, err
		}
		out = append(out, &cp)
	}
	return out, rows.Err()
}

func (r *CheckpointRepository) scanOne(row *sql.Row) (*lifecycle.Checkpoint, error) {
	var cp lifecycle.Checkpoint
	var step string
	var payload sql.NullString
	err := row.Scan(&cp.Seq, &cp.CorrelationID, &step, &payload, &cp.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan checkpoint: %w", err)
	}
	cp.Step = lifecycle.Step(step)
	if err := unmarshalPayload(payload, &cp); err != nil {
		return nil, err
	}
	return &cp, nil
}

func marshalPayload(payload map[string]any) (any, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode checkpoint payload: %w", err)
	}
	return string(b), nil
}

func unmarshalPayload(payload sql.NullString, cp *lifecycle.Checkpoint) error {
	if !payload.Valid || payload.String == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(payload.String), &cp.Payload); err != nil {
		return fmt.Errorf("decode checkpoint payload: %w", err)
	}
	return nil
}

// Verify interface compliance
var _ port.CheckpointStore = (*CheckpointRepository)(nil)
