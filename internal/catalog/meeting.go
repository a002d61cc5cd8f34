package catalog

import (
	"context"
	"time"

	"github.com/steadyrow/caseflow/internal/domain/lifecycle"
)

// Meeting states
const (
	MeetingDraft     lifecycle.State = "DRAFT"
	MeetingNoticed   lifecycle.State = "NOTICED"
	MeetingInSession lifecycle.State = "IN_SESSION"
	MeetingAdjourned lifecycle.State = "ADJOURNED"
	MeetingCanceled  lifecycle.State = "CANCELED"
)

// Agenda item states
const (
	AgendaItemProposed lifecycle.State = "PROPOSED"
	AgendaItemTabled   lifecycle.State = "TABLED"
	AgendaItemHeard    lifecycle.State = "HEARD"
)

// RegisterMeeting installs the board meeting and hearing lifecycle together
// with the agenda items heard in it
func RegisterMeeting(r Registrar) error {
	meeting := lifecycle.NewTable(TypeMeeting, MeetingDraft).
		Permit(MeetingDraft, MeetingNoticed, MeetingCanceled).
		Permit(MeetingNoticed, MeetingInSession, MeetingCanceled).
		Permit(MeetingInSession, MeetingAdjourned).
		Permit(MeetingAdjourned).
		Permit(MeetingCanceled).
		MustBuild()
	if err := r.RegisterTransitionTable(meeting); err != nil {
		return err
	}

	agendaItem := lifecycle.NewTable(TypeAgendaItem, AgendaItemProposed).
		Permit(AgendaItemProposed, AgendaItemHeard, AgendaItemTabled).
		Permit(AgendaItemTabled, AgendaItemHeard).
		Permit(AgendaItemHeard).
		MustBuild()
	if err := r.RegisterTransitionTable(agendaItem); err != nil {
		return err
	}

	// A hearing with nothing to hear cannot be called to order.
	if err := r.RegisterPrecondition(TypeMeeting, MeetingInSession,
		func(ctx context.Context, ec *lifecycle.EvalContext) (lifecycle.Verdict, error) {
			items, err := ec.Reader.ListLinked(ctx, ec.Entity.EntityType, ec.Entity.EntityID, TypeAgendaItem)
			if err != nil {
				return lifecycle.Verdict{}, err
			}
			if len(items) == 0 {
				return lifecycle.Deny("cannot start a hearing with zero agenda items"), nil
			}
			return lifecycle.Allow(), nil
		}); err != nil {
		return err
	}

	return r.RegisterDerived(TypeMeeting, MeetingAdjourned,
		func(now time.Time, e lifecycle.Entity, req lifecycle.TransitionRequest) map[string]any {
			return map[string]any{"adjourned_at": now.Format(time.RFC3339)}
		})
}
