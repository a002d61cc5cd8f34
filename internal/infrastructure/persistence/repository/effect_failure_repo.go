package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/steadyrow/caseflow/internal/application/port"
	"github.com/steadyrow/caseflow/internal/domain/lifecycle"
	"github.com/steadyrow/caseflow/internal/infrastructure/persistence/sqlite"
)

// EffectFailureRepository implements port.EffectFailureStore over SQLite
type EffectFailureRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewEffectFailureRepository creates a new effect failure repository
func NewEffectFailureRepository(db *sql.DB, logger *zap.Logger) port.EffectFailureStore {
	return &EffectFailureRepository{db: db, logger: logger}
}

// Record stores one propagation failure for later reconciliation
func (r *EffectFailureRepository) Record(ctx context.Context, f *lifecycle.EffectFailure) error {
	query := `
		INSERT INTO effect_failures (correlation_id, source_type, source_id, target_type, target_id, target_state, reason, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	res, err := sqlite.ExecutorFrom(ctx, r.db).ExecContext(ctx, query,
		f.CorrelationID, f.Source.EntityType, f.Source.EntityID,
		f.Target.EntityType, f.Target.EntityID, f.TargetState.String(), f.Reason, f.OccurredAt)
	if err != nil {
		r.logger.Error("failed to record effect failure",
			zap.String("correlation_id", f.CorrelationID),
			zap.Error(err))
		return fmt.Errorf("record effect failure: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("effect failure id: %w", err)
	}
	f.ID = id
	return nil
}

// ListUnresolved returns unresolved failures oldest first
func (r *EffectFailureRepository) ListUnresolved(ctx context.Context, limit int) ([]*lifecycle.EffectFailure, error) {
	query := `
		SELECT id, correlation_id, source_type, source_id, target_type, target_id, target_state, reason, occurred_at
		FROM effect_failures
		WHERE resolved_at IS NULL
		ORDER BY occurred_at ASC
		LIMIT ?
	`
	rows, err := sqlite.ExecutorFrom(ctx, r.db).QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list effect failures: %w", err)
	}
	defer rows.Close()

	var out []*lifecycle.EffectFailure
	for rows.Next() {
		var f lifecycle.EffectFailure
		var state string
		if err := rows.Scan(&f.ID, &f.CorrelationID,
			&f.Source.EntityType, &f.Source.EntityID,
			&f.Target.EntityType, &f.Target.EntityID,
			&state, &f.Reason, &f.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan effect failure: %w", err)
		}
		f.TargetState = lifecycle.State(state)
		out = append(out, &f)
	}
	return out, rows.Err()
}

// MarkResolved stamps a failure as reconciled
func (r *EffectFailureRepository) MarkResolved(ctx context.Context, id int64) error {
	_, err := sqlite.ExecutorFrom(ctx, r.db).ExecContext(ctx,
		`UPDATE effect_failures SET resolved_at = ? WHERE id = ? AND resolved_at IS NULL`,
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("mark effect failure resolved: %w", err)
	}
	return nil
}

// Verify interface compliance
var _ port.EffectFailureStore = (*EffectFailureRepository)(nil)
