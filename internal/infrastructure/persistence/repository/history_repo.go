package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/steadyrow/caseflow/internal/application/port"
	"github.com/steadyrow/caseflow/internal/domain/lifecycle"
	"github.com/steadyrow/caseflow/internal/infrastructure/persistence/sqlite"
)

// HistoryRepository implements port.HistoryStore over SQLite. The table is
// append-only by construction: there is no update or delete path.
type HistoryRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewHistoryRepository creates a new history repository
func NewHistoryRepository(db *sql.DB, logger *zap.Logger) port.HistoryStore {
	return &HistoryRepository{db: db, logger: logger}
}

// Append writes one transition record and fills in its insertion sequence
func (r *HistoryRepository) Append(ctx context.Context, rec *lifecycle.TransitionRecord) error {
	query := `
		INSERT INTO transition_records (entity_type, entity_id, from_state, to_state, actor_id, occurred_at, notes)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	res, err := sqlite.ExecutorFrom(ctx, r.db).ExecContext(ctx, query,
		rec.EntityType, rec.EntityID, rec.FromState.String(), rec.ToState.String(),
		rec.ActorID, rec.OccurredAt, rec.Notes)
	if err != nil {
		r.logger.Error("failed to append transition record",
			zap.String("entity_type", rec.EntityType),
			zap.String("entity_id", rec.EntityID),
			zap.Error(err))
		return fmt.Errorf("append transition record: %w", err)
	}

	seq, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("transition record sequence: %w", err)
	}
	rec.Seq = seq
	return nil
}

// ListByEntity returns the full history for an entity, ordered by occurrence
// then insertion sequence
func (r *HistoryRepository) ListByEntity(ctx context.Context, entityType, entityID string) ([]*lifecycle.TransitionRecord, error) {
	query := `
		SELECT seq, entity_type, entity_id, from_state, to_state, actor_id, occurred_at, notes
		FROM transition_records
		WHERE entity_type = ? AND entity_id = ?
		ORDER BY occurred_at ASC, seq ASC
	`
	rows, err := sqlite.ExecutorFrom(ctx, r.db).QueryContext(ctx, query, entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("list transition records: %w", err)
	}
	defer rows.Close()

	var records []*lifecycle.TransitionRecord
	for rows.Next() {
		var rec lifecycle.TransitionRecord
		var from, to string
		if err := rows.Scan(&rec.Seq, &rec.EntityType, &rec.EntityID, &from, &to, &rec.ActorID, &rec.OccurredAt, &rec.Notes); err != nil {
			return nil, fmt.Errorf("scan transition record: %w", err)
		}
		rec.FromState = lifecycle.State(from)
		rec.ToState = lifecycle.State(to)
		records = append(records, &rec)
	}
	return records, rows.Err()
}

// Verify interface compliance
var _ port.HistoryStore = (*HistoryRepository)(nil)
