package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/steadyrow/caseflow/internal/application/port"
	"github.com/steadyrow/caseflow/internal/domain/lifecycle"
	"github.com/steadyrow/caseflow/internal/infrastructure/persistence/sqlite"
)

// EntityRepository implements port.EntityStore over SQLite
type EntityRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewEntityRepository creates a new entity repository
func NewEntityRepository(db *sql.DB, logger *zap.Logger) port.EntityStore {
	return &EntityRepository{db: db, logger: logger}
}

// Create inserts a new entity
func (r *EntityRepository) Create(ctx context.Context, e *lifecycle.Entity) error {
	derived, err := marshalDerived(e.Derived)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO entities (entity_type, entity_id, organization_id, status, derived, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err = sqlite.ExecutorFrom(ctx, r.db).ExecContext(ctx, query,
		e.EntityType, e.EntityID, e.OrganizationID, e.Status.String(), derived, e.CreatedAt, e.UpdatedAt)
	if err != nil {
		r.logger.Error("failed to create entity",
			zap.String("entity_type", e.EntityType),
			zap.String("entity_id", e.EntityID),
			zap.Error(err))
		return fmt.Errorf("create entity: %w", err)
	}
	return nil
}

// Get loads an entity by type and id
func (r *EntityRepository) Get(ctx context.Context, entityType, entityID string) (*lifecycle.Entity, error) {
	query := `
		SELECT entity_type, entity_id, organization_id, status, derived, created_at, updated_at
		FROM entities
		WHERE entity_type = ? AND entity_id = ?
	`
	row := sqlite.ExecutorFrom(ctx, r.db).QueryRowContext(ctx, query, entityType, entityID)

	var e lifecycle.Entity
	var status string
	var derived sql.NullString
	err := row.Scan(&e.EntityType, &e.EntityID, &e.OrganizationID, &status, &derived, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, lifecycle.ErrUnknownEntity
	}
	if err != nil {
		return nil, fmt.Errorf("get entity: %w", err)
	}
	e.Status = lifecycle.State(status)
	if derived.Valid && derived.String != "" {
		if err := json.Unmarshal([]byte(derived.String), &e.Derived); err != nil {
			return nil, fmt.Errorf("decode derived fields: %w", err)
		}
	}
	return &e, nil
}

// UpdateStatus applies a compare-and-swap status write. The WHERE clause on
// the expected status is the engine's only mutual-exclusion mechanism.
func (r *EntityRepository) UpdateStatus(ctx context.Context, ref lifecycle.Ref, expected, next lifecycle.State, derived map[string]any) error {
	ex := sqlite.ExecutorFrom(ctx, r.db)

	var res sql.Result
	var err error
	if len(derived) > 0 {
		merged, mergeErr := r.mergeDerived(ctx, ex, ref, derived)
		if mergeErr != nil {
			return mergeErr
		}
		res, err = ex.ExecContext(ctx,
			`UPDATE entities SET status = ?, derived = ?, updated_at = ? WHERE entity_type = ? AND entity_id = ? AND status = ?`,
			next.String(), merged, time.Now().UTC(), ref.EntityType, ref.EntityID, expected.String())
	} else {
		res, err = ex.ExecContext(ctx,
			`UPDATE entities SET status = ?, updated_at = ? WHERE entity_type = ? AND entity_id = ? AND status = ?`,
			next.String(), time.Now().UTC(), ref.EntityType, ref.EntityID, expected.String())
	}
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update status rows affected: %w", err)
	}
	if n == 0 {
		if _, getErr := r.Get(ctx, ref.EntityType, ref.EntityID); getErr != nil {
			return getErr
		}
		return lifecycle.ErrConcurrentModification
	}
	return nil
}

// Link records a source -> target entity link
func (r *EntityRepository) Link(ctx context.Context, link lifecycle.Link) error {
	query := `
		INSERT OR IGNORE INTO entity_links (source_type, source_id, target_type, target_id)
		VALUES (?, ?, ?, ?)
	`
	_, err := sqlite.ExecutorFrom(ctx, r.db).ExecContext(ctx, query,
		link.Source.EntityType, link.Source.EntityID, link.Target.EntityType, link.Target.EntityID)
	if err != nil {
		return fmt.Errorf("link entities: %w", err)
	}
	return nil
}

// ListLinked returns the entities of linkedType linked to the given entity
func (r *EntityRepository) ListLinked(ctx context.Context, entityType, entityID, linkedType string) ([]*lifecycle.Entity, error) {
	query := `
		SELECT e.entity_type, e.entity_id, e.organization_id, e.status, e.derived, e.created_at, e.updated_at
		FROM entity_links l
		JOIN entities e ON e.entity_type = l.target_type AND e.entity_id = l.target_id
		WHERE l.source_type = ? AND l.source_id = ? AND l.target_type = ?
		ORDER BY e.entity_id
	`
	rows, err := sqlite.ExecutorFrom(ctx, r.db).QueryContext(ctx, query, entityType, entityID, linkedType)
	if err != nil {
		return nil, fmt.Errorf("list linked entities: %w", err)
	}
	defer rows.Close()

	var out []*lifecycle.Entity
	for rows.Next() {
		var e lifecycle.Entity
		var status string
		var derived sql.NullString
		if err := rows.Scan(&e.EntityType, &e.EntityID, &e.OrganizationID, &status, &derived, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan linked entity: %w", err)
		}
		e.Status = lifecycle.State(status)
		if derived.Valid && derived.String != "" {
			if err := json.Unmarshal([]byte(derived.String), &e.Derived); err != nil {
				return nil, fmt.Errorf("decode derived fields: %w", err)
			}
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// mergeDerived folds new derived fields into the stored JSON document
func (r *EntityRepository) mergeDerived(ctx context.Context, ex sqlite.Executor, ref lifecycle.Ref, derived map[string]any) (string, error) {
	var stored sql.NullString
	row := ex.QueryRowContext(ctx,
		`SELECT derived FROM entities WHERE entity_type = ? AND entity_id = ?`, ref.EntityType, ref.EntityID)
	if err := row.Scan(&stored); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", lifecycle.ErrUnknownEntity
		}
		return "", fmt.Errorf("read derived fields: %w", err)
	}

	merged := make(map[string]any)
	if stored.Valid && stored.String != "" {
		if err := json.Unmarshal([]byte(stored.String), &merged); err != nil {
			return "", fmt.Errorf("decode derived fields: %w", err)
		}
	}
	for k, v := range derived {
		merged[k] = v
	}
	out, err := json.Marshal(merged)
	if err != nil {
		return "", fmt.Errorf("encode derived fields: %w", err)
	}
	return string(out), nil
}

func marshalDerived(derived map[string]any) (any, error) {
	if len(derived) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(derived)
	if err != nil {
		return nil, fmt.Errorf("encode derived fields: %w", err)
	}
	return string(b), nil
}

// Verify interface compliance
var _ port.EntityStore = (*EntityRepository)(nil)
