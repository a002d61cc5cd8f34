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

// ErrAlreadyInProgress is returned when another worker holds the Started
// checkpoint for the same correlation id. The caller retries and lands on
// the replay path once the first run finishes.
var ErrAlreadyInProgress = errors.New("transition already in progress")

// Orchestrator sequences Validate -> Execute -> Queue-Notifications as
// independently retryable steps, each recorded as a durable checkpoint keyed
// by (correlation id, step). Re-running with the same correlation id skips
// completed steps, which makes the sequence safe to resume after a crash
// between any two steps.
type Orchestrator struct {
	validator   *Validator
	executor    *Executor
	checkpoints port.CheckpointStore
	events      dispatcher.Dispatcher
	logger      *zap.Logger
	now         func() time.Time
}

// NewOrchestrator creates a step orchestrator
func NewOrchestrator(
	validator *Validator,
	executor *Executor,
	checkpoints port.CheckpointStore,
	events dispatcher.Dispatcher,
	logger *zap.Logger,
	now func() time.Time,
) *Orchestrator {
	if now == nil {
		now = time.Now
	}
	return &Orchestrator{
		validator:   validator,
		executor:    executor,
		checkpoints: checkpoints,
		events:      events,
		logger:      logger,
		now:         now,
	}
}

// Run processes one transition request under the caller-supplied correlation
// id. A terminal checkpoint short-circuits to the recorded result without
// re-running anything. Structured rejections write a Failed checkpoint;
// infrastructure errors leave the last successful checkpoint in place so a
// retry with the same correlation id resumes from it.
func (o *Orchestrator) Run(ctx context.Context, correlationID string, req lifecycle.TransitionRequest) (*lifecycle.TransitionOutcome, error) {
	if correlationID == "" {
		return nil, fmt.Errorf("correlation id is required")
	}

	existing, err := o.checkpoints.List(ctx, correlationID)
	if err != nil {
		return nil, err
	}
	byStep := make(map[lifecycle.Step]*lifecycle.Checkpoint, len(existing))
	for _, cp := range existing {
		byStep[cp.Step] = cp
	}

	if cp, ok := byStep[lifecycle.StepCompleted]; ok {
		return outcomeFromPayload(correlationID, cp.Payload, true), nil
	}
	if cp, ok := byStep[lifecycle.StepFailed]; ok {
		return nil, rejectionFromPayload(cp.Payload)
	}

	if _, ok := byStep[lifecycle.StepStarted]; !ok {
		started := o.checkpoint(correlationID, lifecycle.StepStarted, map[string]any{
			"entity_type": req.EntityType,
			"entity_id":   req.EntityID,
			"to_state":    req.ToState.String(),
			"actor_id":    req.ActorID,
		})
		if err := o.checkpoints.Append(ctx, started); err != nil {
			if errors.Is(err, port.ErrDuplicateCheckpoint) {
				// Another worker claimed this correlation id between our read
				// and our write.
				return nil, fmt.Errorf("correlation id %s: %w", correlationID, ErrAlreadyInProgress)
			}
			return nil, err
		}
	}

	var from, to lifecycle.State
	if cp, ok := byStep[lifecycle.StepValidated]; ok {
		from = lifecycle.State(payloadString(cp.Payload, "from_state"))
		to = lifecycle.State(payloadString(cp.Payload, "to_state"))
	} else {
		val, err := o.validator.Validate(ctx, req)
		if err != nil {
			if lifecycle.IsRejection(err) {
				return nil, o.fail(ctx, correlationID, req, err)
			}
			return nil, err
		}
		from, to = val.From, val.To
		cp, err := o.adopt(ctx, o.checkpoint(correlationID, lifecycle.StepValidated, map[string]any{
			"from_state": from.String(),
			"to_state":   to.String(),
		}))
		if err != nil {
			return nil, err
		}
		from = lifecycle.State(payloadString(cp.Payload, "from_state"))
		to = lifecycle.State(payloadString(cp.Payload, "to_state"))
	}

	var res *ExecResult
	if cp, ok := byStep[lifecycle.StepExecuted]; ok {
		res = &ExecResult{
			FromState: lifecycle.State(payloadString(cp.Payload, "from_state")),
			ToState:   lifecycle.State(payloadString(cp.Payload, "to_state")),
			Derived:   payloadMap(cp.Payload, "derived_fields"),
			Warnings:  payloadStrings(cp.Payload, "warnings"),
		}
	} else {
		res, err = o.executor.Execute(ctx, correlationID, req, from, to)
		if err != nil {
			if lifecycle.IsRejection(err) {
				return nil, o.fail(ctx, correlationID, req, err)
			}
			return nil, err
		}
		payload := map[string]any{
			"from_state": res.FromState.String(),
			"to_state":   res.ToState.String(),
		}
		if len(res.Derived) > 0 {
			payload["derived_fields"] = res.Derived
		}
		if len(res.Warnings) > 0 {
			payload["warnings"] = res.Warnings
		}
		if _, err := o.adopt(ctx, o.checkpoint(correlationID, lifecycle.StepExecuted, payload)); err != nil {
			return nil, err
		}
	}

	if _, ok := byStep[lifecycle.StepNotificationsQueued]; !ok {
		if o.events != nil {
			o.events.DispatchAsync(ctx, event.New(event.TypeTransitionCompleted, req.EntityType, req.EntityID, correlationID, map[string]any{
				"from_state": res.FromState.String(),
				"to_state":   res.ToState.String(),
				"actor_id":   req.ActorID,
			}))
		}
		if _, err := o.adopt(ctx, o.checkpoint(correlationID, lifecycle.StepNotificationsQueued, nil)); err != nil {
			return nil, err
		}
	}

	outcome := &lifecycle.TransitionOutcome{
		CorrelationID: correlationID,
		EntityType:    req.EntityType,
		EntityID:      req.EntityID,
		FromState:     res.FromState,
		ToState:       res.ToState,
		DerivedFields: res.Derived,
		Warnings:      res.Warnings,
		CompletedAt:   o.now().UTC(),
	}
	if _, err := o.adopt(ctx, o.checkpoint(correlationID, lifecycle.StepCompleted, outcomePayload(outcome))); err != nil {
		return nil, err
	}
	return outcome, nil
}

// Status returns the latest checkpoint for a correlation id, or nil when the
// correlation id is unknown
func (o *Orchestrator) Status(ctx context.Context, correlationID string) (*lifecycle.Checkpoint, error) {
	return o.checkpoints.Latest(ctx, correlationID)
}

// fail records the terminal Failed checkpoint and passes the rejection
// through unchanged
func (o *Orchestrator) fail(ctx context.Context, correlationID string, req lifecycle.TransitionRequest, rejErr error) error {
	var rej *lifecycle.Rejection
	if !errors.As(rejErr, &rej) {
		return rejErr
	}

	if errors.Is(rej, lifecycle.ErrConcurrentModification) {
		// Expected under contention, not an error-level event.
		o.logger.Debug("transition lost a concurrency race",
			zap.String("correlation_id", correlationID),
			zap.String("entity_type", req.EntityType),
			zap.String("entity_id", req.EntityID))
	} else {
		o.logger.Info("transition rejected",
			zap.String("correlation_id", correlationID),
			zap.String("entity_type", req.EntityType),
			zap.String("entity_id", req.EntityID),
			zap.String("reason", rejectionCode(rej)))
	}

	cp := o.checkpoint(correlationID, lifecycle.StepFailed, map[string]any{
		"reason":     rejectionCode(rej),
		"from_state": rej.From.String(),
		"to_state":   rej.To.String(),
		"detail":     rej.Detail,
	})
	if err := o.checkpoints.Append(ctx, cp); err != nil && !errors.Is(err, port.ErrDuplicateCheckpoint) {
		o.logger.Error("failed to record failure checkpoint",
			zap.String("correlation_id", correlationID), zap.Error(err))
	}
	if o.events != nil {
		o.events.DispatchAsync(ctx, event.New(event.TypeTransitionFailed, req.EntityType, req.EntityID, correlationID, map[string]any{
			"reason": rejectionCode(rej),
			"detail": rej.Detail,
		}))
	}
	return rejErr
}

func (o *Orchestrator) checkpoint(correlationID string, step lifecycle.Step, payload map[string]any) *lifecycle.Checkpoint {
	return &lifecycle.Checkpoint{
		CorrelationID: correlationID,
		Step:          step,
		Payload:       payload,
		CreatedAt:     o.now().UTC(),
	}
}

// adopt appends a checkpoint, and on a duplicate adopts the stored one so a
// racing resume converges on the first writer's result
func (o *Orchestrator) adopt(ctx context.Context, cp *lifecycle.Checkpoint) (*lifecycle.Checkpoint, error) {
	err := o.checkpoints.Append(ctx, cp)
	if err == nil {
		return cp, nil
	}
	if !errors.Is(err, port.ErrDuplicateCheckpoint) {
		return nil, err
	}
	stored, getErr := o.checkpoints.Get(ctx, cp.CorrelationID, cp.Step)
	if getErr != nil {
		return nil, getErr
	}
	if stored == nil {
		return nil, err
	}
	return stored, nil
}

// --- checkpoint payload codecs ---

const (
	codeUnknownEntity          = "unknown_entity"
	codeUnknownEntityType      = "unknown_entity_type"
	codeInvalidTransition      = "invalid_transition"
	codePreconditionFailed     = "precondition_failed"
	codeConcurrentModification = "concurrent_modification"
)

func rejectionCode(rej *lifecycle.Rejection) string {
	switch {
	case errors.Is(rej, lifecycle.ErrUnknownEntity):
		return codeUnknownEntity
	case errors.Is(rej, lifecycle.ErrUnknownEntityType):
		return codeUnknownEntityType
	case errors.Is(rej, lifecycle.ErrInvalidTransition):
		return codeInvalidTransition
	case errors.Is(rej, lifecycle.ErrPreconditionFailed):
		return codePreconditionFailed
	case errors.Is(rej, lifecycle.ErrConcurrentModification):
		return codeConcurrentModification
	default:
		return "rejected"
	}
}

func rejectionFromPayload(payload map[string]any) error {
	reason := lifecycle.ErrPreconditionFailed
	switch payloadString(payload, "reason") {
	case codeUnknownEntity:
		reason = lifecycle.ErrUnknownEntity
	case codeUnknownEntityType:
		reason = lifecycle.ErrUnknownEntityType
	case codeInvalidTransition:
		reason = lifecycle.ErrInvalidTransition
	case codePreconditionFailed:
		reason = lifecycle.ErrPreconditionFailed
	case codeConcurrentModification:
		reason = lifecycle.ErrConcurrentModification
	}
	return lifecycle.NewRejection(reason,
		lifecycle.State(payloadString(payload, "from_state")),
		lifecycle.State(payloadString(payload, "to_state")),
		payloadString(payload, "detail"))
}

func outcomePayload(out *lifecycle.TransitionOutcome) map[string]any {
	payload := map[string]any{
		"entity_type":  out.EntityType,
		"entity_id":    out.EntityID,
		"from_state":   out.FromState.String(),
		"to_state":     out.ToState.String(),
		"completed_at": out.CompletedAt.Format(time.RFC3339Nano),
	}
	if len(out.DerivedFields) > 0 {
		payload["derived_fields"] = out.DerivedFields
	}
	if len(out.Warnings) > 0 {
		payload["warnings"] = out.Warnings
	}
	return payload
}

func outcomeFromPayload(correlationID string, payload map[string]any, replayed bool) *lifecycle.TransitionOutcome {
	completedAt, _ := time.Parse(time.RFC3339Nano, payloadString(payload, "completed_at"))
	return &lifecycle.TransitionOutcome{
		CorrelationID: correlationID,
		EntityType:    payloadString(payload, "entity_type"),
		EntityID:      payloadString(payload, "entity_id"),
		FromState:     lifecycle.State(payloadString(payload, "from_state")),
		ToState:       lifecycle.State(payloadString(payload, "to_state")),
		DerivedFields: payloadMap(payload, "derived_fields"),
		Warnings:      payloadStrings(payload, "warnings"),
		CompletedAt:   completedAt,
		Replayed:      replayed,
	}
}

func payloadString(payload map[string]any, key string) string {
	if v, ok := payload[key].(string); ok {
		return v
	}
	return ""
}

func payloadMap(payload map[string]any, key string) map[string]any {
	if v, ok := payload[key].(map[string]any); ok {
		return v
	}
	return nil
}

func payloadStrings(payload map[string]any, key string) []string {
	switch v := payload[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
