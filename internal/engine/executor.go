package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/steadyrow/caseflow/internal/application/dispatcher"
	"github.com/steadyrow/caseflow/internal/application/port"
	"github.com/steadyrow/caseflow/internal/domain/event"
	"github.com/steadyrow/caseflow/internal/domain/lifecycle"
)

// ExecResult is the committed result of one transition: the state change,
// the derived fields written with it, and warnings from best-effort
// side-effect propagation.
type ExecResult struct {
	FromState lifecycle.State
	ToState   lifecycle.State
	Derived   map[string]any
	Warnings  []string
}

// Executor applies a validated transition. Status write, derived fields, and
// the audit record commit as one atomic unit; linked-entity side effects run
// after commit, each as its own guarded update with independent error
// capture.
type Executor struct {
	registry *Registry
	entities port.EntityStore
	history  port.HistoryStore
	failures port.EffectFailureStore
	tx       port.TransactionManager
	events   dispatcher.Dispatcher
	logger   *zap.Logger
	now      func() time.Time
}

// NewExecutor creates a transition executor
func NewExecutor(
	registry *Registry,
	entities port.EntityStore,
	history port.HistoryStore,
	failures port.EffectFailureStore,
	tx port.TransactionManager,
	events dispatcher.Dispatcher,
	logger *zap.Logger,
	now func() time.Time,
) *Executor {
	if now == nil {
		now = time.Now
	}
	return &Executor{
		registry: registry,
		entities: entities,
		history:  history,
		failures: failures,
		tx:       tx,
		events:   events,
		logger:   logger,
		now:      now,
	}
}

// Execute applies the transition validated as from -> to. Inside one
// transaction it re-reads the entity, aborts with ConcurrentModification if
// the state moved since validation, writes the new status plus derived
// fields, and appends exactly one TransitionRecord. Side effects propagate
// after the commit and never roll it back.
func (x *Executor) Execute(ctx context.Context, correlationID string, req lifecycle.TransitionRequest, from, to lifecycle.State) (*ExecResult, error) {
	var snapshot lifecycle.Entity
	var derived map[string]any

	err := x.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		e, err := x.entities.Get(txCtx, req.EntityType, req.EntityID)
		if err != nil {
			return err
		}
		// Close the race window between validate and execute.
		if e.Status != from {
			return lifecycle.NewRejection(lifecycle.ErrConcurrentModification, e.Status, to,
				fmt.Sprintf("state moved from %s to %s after validation", from, e.Status))
		}

		now := x.now().UTC()
		derived = x.computeDerived(now, *e, req, to)

		if err := x.entities.UpdateStatus(txCtx, e.Ref(), from, to, derived); err != nil {
			if errors.Is(err, lifecycle.ErrConcurrentModification) {
				return lifecycle.NewRejection(lifecycle.ErrConcurrentModification, from, to, "lost update race")
			}
			return err
		}

		rec := &lifecycle.TransitionRecord{
			EntityType: req.EntityType,
			EntityID:   req.EntityID,
			FromState:  from,
			ToState:    to,
			ActorID:    req.ActorID,
			OccurredAt: now,
			Notes:      req.Notes,
		}
		if err := x.history.Append(txCtx, rec); err != nil {
			return err
		}

		snapshot = *e
		snapshot.Status = to
		if len(derived) > 0 {
			merged := make(map[string]any, len(e.Derived)+len(derived))
			for k, v := range e.Derived {
				merged[k] = v
			}
			for k, v := range derived {
				merged[k] = v
			}
			snapshot.Derived = merged
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	warnings := x.propagate(ctx, correlationID, snapshot)

	return &ExecResult{
		FromState: from,
		ToState:   to,
		Derived:   derived,
		Warnings:  warnings,
	}, nil
}

// computeDerived merges all registered derived-field computations for the
// target state
func (x *Executor) computeDerived(now time.Time, e lifecycle.Entity, req lifecycle.TransitionRequest, to lifecycle.State) map[string]any {
	fns := x.registry.Derived(req.EntityType, to)
	if len(fns) == 0 {
		return nil
	}
	out := make(map[string]any)
	for _, fn := range fns {
		for k, v := range fn(now, e, req) {
			out[k] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// propagate applies every side-effect rule registered for the source
// transition. Each linked update runs in its own transaction, guarded by the
// linked entity's own table; a failure is logged and recorded for the
// reconciliation worker, never propagated to the caller.
func (x *Executor) propagate(ctx context.Context, correlationID string, source lifecycle.Entity) []string {
	rules := x.registry.Effects(source.EntityType, source.Status)
	if len(rules) == 0 {
		return nil
	}

	var warnings []string
	for _, rule := range rules {
		linked, err := x.entities.ListLinked(ctx, source.EntityType, source.EntityID, rule.LinkedType)
		if err != nil {
			warnings = append(warnings, x.captureFailure(ctx, correlationID, source.Ref(),
				lifecycle.Ref{EntityType: rule.LinkedType}, "", fmt.Sprintf("list linked entities: %v", err)))
			continue
		}
		for _, target := range linked {
			warnings = x.applyEffect(ctx, correlationID, source, rule, target, warnings)
		}
	}
	return warnings
}

func (x *Executor) applyEffect(ctx context.Context, correlationID string, source lifecycle.Entity, rule lifecycle.SideEffectRule, target *lifecycle.Entity, warnings []string) []string {
	next, ok := rule.Compute(source, *target)
	if !ok {
		return warnings
	}
	// Same target status means the effect already holds; re-applying the same
	// source transition is a no-op, not a double-apply.
	if target.Status == next {
		return warnings
	}

	linkedTable, err := x.registry.Table(rule.LinkedType)
	if err != nil {
		return append(warnings, x.captureFailure(ctx, correlationID, source.Ref(), target.Ref(), next, err.Error()))
	}
	if !linkedTable.Allows(target.Status, next) {
		return append(warnings, x.captureFailure(ctx, correlationID, source.Ref(), target.Ref(), next,
			fmt.Sprintf("linked table forbids %s -> %s", target.Status, next)))
	}

	err = x.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := x.entities.UpdateStatus(txCtx, target.Ref(), target.Status, next, nil); err != nil {
			return err
		}
		rec := &lifecycle.TransitionRecord{
			EntityType: target.EntityType,
			EntityID:   target.EntityID,
			FromState:  target.Status,
			ToState:    next,
			ActorID:    "system:propagation",
			OccurredAt: x.now().UTC(),
			Notes:      fmt.Sprintf("propagated from %s/%s", source.EntityType, source.EntityID),
		}
		return x.history.Append(txCtx, rec)
	})
	if err != nil {
		return append(warnings, x.captureFailure(ctx, correlationID, source.Ref(), target.Ref(), next, err.Error()))
	}

	if x.events != nil {
		x.events.DispatchAsync(ctx, event.New(event.TypeEffectApplied, target.EntityType, target.EntityID, correlationID, map[string]any{
			"from_state":  target.Status.String(),
			"to_state":    next.String(),
			"source_type": source.EntityType,
			"source_id":   source.EntityID,
		}))
	}
	return warnings
}

// Reapply retries a recorded propagation failure. It returns nil when the
// target entity already holds or has been moved to the recorded state, a
// lifecycle.Rejection when the target's table still forbids the move (the
// failure is unreconcilable and should be retired), and a plain error on
// infrastructure trouble worth retrying.
func (x *Executor) Reapply(ctx context.Context, f *lifecycle.EffectFailure) error {
	target, err := x.entities.Get(ctx, f.Target.EntityType, f.Target.EntityID)
	if err != nil {
		if errors.Is(err, lifecycle.ErrUnknownEntity) {
			return lifecycle.NewRejection(lifecycle.ErrUnknownEntity, "", f.TargetState,
				fmt.Sprintf("%s/%s", f.Target.EntityType, f.Target.EntityID))
		}
		return err
	}
	if target.Status == f.TargetState {
		return nil
	}

	table, err := x.registry.Table(f.Target.EntityType)
	if err != nil {
		return err
	}
	if !table.Allows(target.Status, f.TargetState) {
		return lifecycle.NewRejection(lifecycle.ErrInvalidTransition, target.Status, f.TargetState,
			fmt.Sprintf("propagation from %s/%s cannot be reconciled", f.Source.EntityType, f.Source.EntityID))
	}

	err = x.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := x.entities.UpdateStatus(txCtx, target.Ref(), target.Status, f.TargetState, nil); err != nil {
			return err
		}
		rec := &lifecycle.TransitionRecord{
			EntityType: target.EntityType,
			EntityID:   target.EntityID,
			FromState:  target.Status,
			ToState:    f.TargetState,
			ActorID:    "system:reconciliation",
			OccurredAt: x.now().UTC(),
			Notes:      fmt.Sprintf("reconciled propagation from %s/%s", f.Source.EntityType, f.Source.EntityID),
		}
		return x.history.Append(txCtx, rec)
	})
	if err != nil {
		// Includes the target moving mid-retry; the next sweep re-evaluates.
		return err
	}

	if x.events != nil {
		x.events.DispatchAsync(ctx, event.New(event.TypeEffectApplied, target.EntityType, target.EntityID, f.CorrelationID, map[string]any{
			"from_state":  target.Status.String(),
			"to_state":    f.TargetState.String(),
			"source_type": f.Source.EntityType,
			"source_id":   f.Source.EntityID,
			"reconciled":  true,
		}))
	}
	return nil
}

// captureFailure records a propagation failure and returns the warning text
// surfaced on the outcome
func (x *Executor) captureFailure(ctx context.Context, correlationID string, source, target lifecycle.Ref, next lifecycle.State, reason string) string {
	x.logger.Warn("side effect propagation failed",
		zap.String("correlation_id", correlationID),
		zap.String("source", source.EntityType+"/"+source.EntityID),
		zap.String("target", target.EntityType+"/"+target.EntityID),
		zap.String("target_state", next.String()),
		zap.String("reason", reason))

	failure := &lifecycle.EffectFailure{
		CorrelationID: correlationID,
		Source:        source,
		Target:        target,
		TargetState:   next,
		Reason:        reason,
		OccurredAt:    x.now().UTC(),
	}
	if err := x.failures.Record(ctx, failure); err != nil {
		x.logger.Error("failed to record effect failure", zap.Error(err))
	}
	if x.events != nil {
		x.events.DispatchAsync(ctx, event.New(event.TypeEffectFailed, source.EntityType, source.EntityID, correlationID, map[string]any{
			"target_type":  target.EntityType,
			"target_id":    target.EntityID,
			"target_state": next.String(),
			"reason":       reason,
		}))
	}
	return fmt.Sprintf("side effect on %s/%s failed: %s", target.EntityType, target.EntityID, reason)
}
