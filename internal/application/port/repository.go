package port

import (
	"context"
	"errors"

	"github.com/steadyrow/caseflow/internal/domain/lifecycle"
)

// ErrDuplicateCheckpoint is returned by CheckpointStore.Append when a
// checkpoint for the same (correlation id, step) already exists. The first
// write wins; the orchestrator re-reads and replays the stored payload.
var ErrDuplicateCheckpoint = errors.New("checkpoint already recorded")

// EntityStore defines persistence operations for lifecycle entities.
// Status writes go exclusively through the transition executor.
type EntityStore interface {
	// Create inserts a new entity in its initial state
	Create(ctx context.Context, e *lifecycle.Entity) error

	// Get loads an entity by type and id; lifecycle.ErrUnknownEntity when absent
	Get(ctx context.Context, entityType, entityID string) (*lifecycle.Entity, error)

	// UpdateStatus sets the entity's status and derived fields only if its
	// current status still equals expected. Returns
	// lifecycle.ErrConcurrentModification when the compare fails.
	UpdateStatus(ctx context.Context, ref lifecycle.Ref, expected, next lifecycle.State, derived map[string]any) error

	// Link records a source -> target entity link
	Link(ctx context.Context, link lifecycle.Link) error

	// ListLinked returns the entities of linkedType linked to the given entity
	ListLinked(ctx context.Context, entityType, entityID, linkedType string) ([]*lifecycle.Entity, error)
}

// HistoryStore defines the append-only transition audit log. Records are
// never updated or deleted; retention is an external data-lifecycle concern.
type HistoryStore interface {
	// Append writes one transition record and fills in its sequence number
	Append(ctx context.Context, rec *lifecycle.TransitionRecord) error

	// ListByEntity returns the full history for an entity ordered by
	// occurrence then insertion sequence
	ListByEntity(ctx context.Context, entityType, entityID string) ([]*lifecycle.TransitionRecord, error)
}

// CheckpointStore defines the durable checkpoint log keyed by correlation id
type CheckpointStore interface {
	// Append records a step checkpoint. Appending the same
	// (correlationID, step) twice is a store-level conflict; the orchestrator
	// relies on the first write winning.
	Append(ctx context.Context, cp *lifecycle.Checkpoint) error

	// Get returns the checkpoint for one step, or nil when absent
	Get(ctx context.Context, correlationID string, step lifecycle.Step) (*lifecycle.Checkpoint, error)

	// Latest returns the most recent checkpoint for a correlation id, or nil
	Latest(ctx context.Context, correlationID string) (*lifecycle.Checkpoint, error)

	// List returns all checkpoints for a correlation id in step order
	List(ctx context.Context, correlationID string) ([]*lifecycle.Checkpoint, error)
}

// EffectFailureStore records side-effect propagation failures for the
// reconciliation worker
type EffectFailureStore interface {
	Record(ctx context.Context, f *lifecycle.EffectFailure) error
	ListUnresolved(ctx context.Context, limit int) ([]*lifecycle.EffectFailure, error)
	MarkResolved(ctx context.Context, id int64) error
}

// TransactionManager handles database transactions
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
