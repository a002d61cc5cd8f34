package catalog

import (
	"time"

	"github.com/steadyrow/caseflow/internal/domain/lifecycle"
)

// Contractor job states
const (
	JobOpen       lifecycle.State = "OPEN"
	JobAssigned   lifecycle.State = "ASSIGNED"
	JobInProgress lifecycle.State = "IN_PROGRESS"
	JobDone       lifecycle.State = "DONE"
	JobCanceled   lifecycle.State = "CANCELED"
)

// Concierge case states
const (
	CaseOpen     lifecycle.State = "OPEN"
	CaseResolved lifecycle.State = "RESOLVED"
	CaseClosed   lifecycle.State = "CLOSED"
)

// RegisterJob installs the contractor job lifecycle together with the
// concierge case lifecycle it propagates into. A job carries the field work
// behind both work orders and concierge requests, so closing it out pushes a
// final status into everything linked to it.
func RegisterJob(r Registrar) error {
	job := lifecycle.NewTable(TypeJob, JobOpen).
		Permit(JobOpen, JobAssigned, JobCanceled).
		Permit(JobAssigned, JobInProgress, JobCanceled).
		Permit(JobInProgress, JobDone, JobCanceled).
		Permit(JobDone).
		Permit(JobCanceled).
		MustBuild()
	if err := r.RegisterTransitionTable(job); err != nil {
		return err
	}

	conciergeCase := lifecycle.NewTable(TypeConciergeCase, CaseOpen).
		Permit(CaseOpen, CaseResolved, CaseClosed).
		Permit(CaseResolved, CaseClosed).
		Permit(CaseClosed).
		MustBuild()
	if err := r.RegisterTransitionTable(conciergeCase); err != nil {
		return err
	}

	if err := r.RegisterDerived(TypeJob, JobDone,
		func(now time.Time, e lifecycle.Entity, req lifecycle.TransitionRequest) map[string]any {
			return map[string]any{"finished_at": now.Format(time.RFC3339)}
		}); err != nil {
		return err
	}

	// A finished job resolves the concierge cases it was opened for.
	if err := r.RegisterSideEffect(TypeJob, JobDone, lifecycle.SideEffectRule{
		LinkedType: TypeConciergeCase,
		Compute: func(source, linked lifecycle.Entity) (lifecycle.State, bool) {
			return CaseResolved, true
		},
	}); err != nil {
		return err
	}

	// A canceled job takes its work orders down with it and closes the
	// concierge cases waiting on it.
	if err := r.RegisterSideEffect(TypeJob, JobCanceled, lifecycle.SideEffectRule{
		LinkedType: TypeWorkOrder,
		Compute: func(source, linked lifecycle.Entity) (lifecycle.State, bool) {
			return WorkOrderCanceled, true
		},
	}); err != nil {
		return err
	}
	return r.RegisterSideEffect(TypeJob, JobCanceled, lifecycle.SideEffectRule{
		LinkedType: TypeConciergeCase,
		Compute: func(source, linked lifecycle.Entity) (lifecycle.State, bool) {
			return CaseClosed, true
		},
	})
}
