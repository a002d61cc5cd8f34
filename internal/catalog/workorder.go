package catalog

import (
	"context"
	"time"

	"github.com/steadyrow/caseflow/internal/domain/lifecycle"
)

// Work order states
const (
	WorkOrderDraft      lifecycle.State = "DRAFT"
	WorkOrderSubmitted  lifecycle.State = "SUBMITTED"
	WorkOrderTriaged    lifecycle.State = "TRIAGED"
	WorkOrderAuthorized lifecycle.State = "AUTHORIZED"
	WorkOrderScheduled  lifecycle.State = "SCHEDULED"
	WorkOrderInProgress lifecycle.State = "IN_PROGRESS"
	WorkOrderCompleted  lifecycle.State = "COMPLETED"
	WorkOrderCanceled   lifecycle.State = "CANCELED"
)

// RegisterWorkOrder installs the maintenance work order lifecycle
func RegisterWorkOrder(r Registrar) error {
	table := lifecycle.NewTable(TypeWorkOrder, WorkOrderDraft).
		Permit(WorkOrderDraft, WorkOrderSubmitted, WorkOrderCanceled).
		Permit(WorkOrderSubmitted, WorkOrderTriaged, WorkOrderCanceled).
		Permit(WorkOrderTriaged, WorkOrderAuthorized, WorkOrderCanceled).
		Permit(WorkOrderAuthorized, WorkOrderScheduled, WorkOrderCanceled).
		Permit(WorkOrderScheduled, WorkOrderInProgress, WorkOrderCanceled).
		Permit(WorkOrderInProgress, WorkOrderCompleted, WorkOrderCanceled).
		Permit(WorkOrderCompleted).
		Permit(WorkOrderCanceled).
		MustBuild()
	if err := r.RegisterTransitionTable(table); err != nil {
		return err
	}

	// Submission needs a description a contractor can act on.
	err := r.RegisterPrecondition(TypeWorkOrder, WorkOrderSubmitted,
		func(ctx context.Context, ec *lifecycle.EvalContext) (lifecycle.Verdict, error) {
			if desc, _ := ec.Request.Payload["description"].(string); desc == "" {
				return lifecycle.Deny("a work description is required before submission"), nil
			}
			return lifecycle.Allow(), nil
		})
	if err != nil {
		return err
	}

	// Authorization must name who signed off.
	err = r.RegisterPrecondition(TypeWorkOrder, WorkOrderAuthorized,
		func(ctx context.Context, ec *lifecycle.EvalContext) (lifecycle.Verdict, error) {
			if ref, _ := ec.Request.Payload["approval_ref"].(string); ref == "" {
				return lifecycle.Deny("authorization requires an approval reference"), nil
			}
			return lifecycle.Allow(), nil
		})
	if err != nil {
		return err
	}

	err = r.RegisterDerived(TypeWorkOrder, WorkOrderScheduled,
		func(now time.Time, e lifecycle.Entity, req lifecycle.TransitionRequest) map[string]any {
			fields := map[string]any{"scheduled_at": now.Format(time.RFC3339)}
			if slot, _ := req.Payload["scheduled_for"].(string); slot != "" {
				fields["scheduled_for"] = slot
			}
			return fields
		})
	if err != nil {
		return err
	}

	return r.RegisterDerived(TypeWorkOrder, WorkOrderCompleted,
		func(now time.Time, e lifecycle.Entity, req lifecycle.TransitionRequest) map[string]any {
			return map[string]any{"completed_at": now.Format(time.RFC3339)}
		})
}
