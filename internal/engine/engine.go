package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/steadyrow/caseflow/internal/application/dispatcher"
	"github.com/steadyrow/caseflow/internal/application/port"
	"github.com/steadyrow/caseflow/internal/domain/lifecycle"
)

// ErrStatusNotFound is returned by GetStatus for an unknown correlation id
var ErrStatusNotFound = errors.New("no checkpoints for correlation id")

// Deps are the engine's constructor-injected collaborators. The engine keeps
// no package-level state; everything it touches arrives here.
type Deps struct {
	Entities    port.EntityStore
	History     port.HistoryStore
	Checkpoints port.CheckpointStore
	Failures    port.EffectFailureStore
	Tx          port.TransactionManager
	Events      dispatcher.Dispatcher
	Logger      *zap.Logger
	Now         func() time.Time
}

// Engine is the durable entity-lifecycle engine: a library facade over the
// registry, validator, executor, and orchestrator. It owns all writes to
// entity status and transition history; callers never mutate either directly.
type Engine struct {
	registry     *Registry
	validator    *Validator
	executor     *Executor
	orchestrator *Orchestrator
	entities     port.EntityStore
	history      port.HistoryStore
	logger       *zap.Logger
	now          func() time.Time
}

// New wires an engine from its dependencies
func New(deps Deps) (*Engine, error) {
	switch {
	case deps.Entities == nil:
		return nil, fmt.Errorf("engine: entity store is required")
	case deps.History == nil:
		return nil, fmt.Errorf("engine: history store is required")
	case deps.Checkpoints == nil:
		return nil, fmt.Errorf("engine: checkpoint store is required")
	case deps.Failures == nil:
		return nil, fmt.Errorf("engine: effect failure store is required")
	case deps.Tx == nil:
		return nil, fmt.Errorf("engine: transaction manager is required")
	case deps.Logger == nil:
		return nil, fmt.Errorf("engine: logger is required")
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	registry := NewRegistry()
	validator := NewValidator(registry, deps.Entities, deps.Logger)
	executor := NewExecutor(registry, deps.Entities, deps.History, deps.Failures, deps.Tx, deps.Events, deps.Logger, deps.Now)
	orchestrator := NewOrchestrator(validator, executor, deps.Checkpoints, deps.Events, deps.Logger, deps.Now)

	return &Engine{
		registry:     registry,
		validator:    validator,
		executor:     executor,
		orchestrator: orchestrator,
		entities:     deps.Entities,
		history:      deps.History,
		logger:       deps.Logger,
		now:          deps.Now,
	}, nil
}

// RegisterTransitionTable installs an entity type's transition table
func (e *Engine) RegisterTransitionTable(table *lifecycle.Table) error {
	return e.registry.RegisterTransitionTable(table)
}

// RegisterPrecondition attaches a guard for transitions into toState
func (e *Engine) RegisterPrecondition(entityType string, toState lifecycle.State, fn lifecycle.PreconditionFunc) error {
	return e.registry.RegisterPrecondition(entityType, toState, fn)
}

// RegisterSideEffect attaches a linked-entity rule for transitions into toState
func (e *Engine) RegisterSideEffect(entityType string, toState lifecycle.State, rule lifecycle.SideEffectRule) error {
	return e.registry.RegisterSideEffect(entityType, toState, rule)
}

// RegisterDerived attaches a derived-field computation for transitions into toState
func (e *Engine) RegisterDerived(entityType string, toState lifecycle.State, fn lifecycle.DerivedFunc) error {
	return e.registry.RegisterDerived(entityType, toState, fn)
}

// ValidateRegistrations checks cross-entity-type consistency after all
// catalog registrations are done
func (e *Engine) ValidateRegistrations() error {
	return e.registry.Validate()
}

// SubmitTransition runs one transition request under the caller-supplied
// idempotency key. Replaying the same correlation id with the same request
// never double-applies the transition.
func (e *Engine) SubmitTransition(ctx context.Context, correlationID string, req lifecycle.TransitionRequest) (*lifecycle.TransitionOutcome, error) {
	return e.orchestrator.Run(ctx, correlationID, req)
}

// GetStatus returns the latest checkpoint recorded for a correlation id
func (e *Engine) GetStatus(ctx context.Context, correlationID string) (*lifecycle.Checkpoint, error) {
	cp, err := e.orchestrator.Status(ctx, correlationID)
	if err != nil {
		return nil, err
	}
	if cp == nil {
		return nil, ErrStatusNotFound
	}
	return cp, nil
}

// ReapplyEffect retries one recorded propagation failure. See
// Executor.Reapply for the outcome contract the reconciliation worker
// relies on.
func (e *Engine) ReapplyEffect(ctx context.Context, f *lifecycle.EffectFailure) error {
	return e.executor.Reapply(ctx, f)
}

// GetHistory returns an entity's full transition history, ordered by
// occurrence then insertion sequence
func (e *Engine) GetHistory(ctx context.Context, entityType, entityID string) ([]*lifecycle.TransitionRecord, error) {
	return e.history.ListByEntity(ctx, entityType, entityID)
}

// GetEntity loads an entity's current snapshot
func (e *Engine) GetEntity(ctx context.Context, entityType, entityID string) (*lifecycle.Entity, error) {
	return e.entities.Get(ctx, entityType, entityID)
}

// CreateEntity brings a new entity into existence at its table's initial
// state. Creation is the only status write that bypasses the executor.
func (e *Engine) CreateEntity(ctx context.Context, entityType, entityID, organizationID string) (*lifecycle.Entity, error) {
	table, err := e.registry.Table(entityType)
	if err != nil {
		return nil, err
	}
	now := e.now().UTC()
	ent := &lifecycle.Entity{
		EntityType:     entityType,
		EntityID:       entityID,
		OrganizationID: organizationID,
		Status:         table.Initial(),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := e.entities.Create(ctx, ent); err != nil {
		return nil, err
	}
	return ent, nil
}

// LinkEntities records a source -> target link used by side-effect
// propagation and precondition guards
func (e *Engine) LinkEntities(ctx context.Context, link lifecycle.Link) error {
	return e.entities.Link(ctx, link)
}
