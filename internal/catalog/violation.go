package catalog

import (
	"context"
	"time"

	"github.com/steadyrow/caseflow/internal/domain/lifecycle"
)

// Violation states
const (
	ViolationReported     lifecycle.State = "REPORTED"
	ViolationNoticeIssued lifecycle.State = "NOTICE_ISSUED"
	ViolationCurePeriod   lifecycle.State = "CURE_PERIOD"
	ViolationCured        lifecycle.State = "CURED"
	ViolationEscalated    lifecycle.State = "ESCALATED"
	ViolationFined        lifecycle.State = "FINED"
	ViolationDismissed    lifecycle.State = "DISMISSED"
)

// Assessment charge states
const (
	ChargePending lifecycle.State = "PENDING"
	ChargeLevied  lifecycle.State = "LEVIED"
	ChargePaid    lifecycle.State = "PAID"
	ChargeVoided  lifecycle.State = "VOIDED"
)

// Cure period length by violation severity
var cureDays = map[string]int{
	"minor":         30,
	"major":         14,
	"health_safety": 7,
}

const defaultCureDays = 30

// RegisterViolation installs the covenant violation lifecycle and the
// assessment charge lifecycle it raises fines through
func RegisterViolation(r Registrar) error {
	violation := lifecycle.NewTable(TypeViolation, ViolationReported).
		Permit(ViolationReported, ViolationNoticeIssued, ViolationDismissed).
		Permit(ViolationNoticeIssued, ViolationCurePeriod, ViolationDismissed).
		Permit(ViolationCurePeriod, ViolationCured, ViolationEscalated, ViolationDismissed).
		Permit(ViolationEscalated, ViolationFined, ViolationDismissed).
		Permit(ViolationCured).
		Permit(ViolationFined).
		Permit(ViolationDismissed).
		MustBuild()
	if err := r.RegisterTransitionTable(violation); err != nil {
		return err
	}

	charge := lifecycle.NewTable(TypeAssessmentCharge, ChargePending).
		Permit(ChargePending, ChargeLevied, ChargeVoided).
		Permit(ChargeLevied, ChargePaid, ChargeVoided).
		Permit(ChargePaid).
		Permit(ChargeVoided).
		MustBuild()
	if err := r.RegisterTransitionTable(charge); err != nil {
		return err
	}

	if err := r.RegisterDerived(TypeViolation, ViolationNoticeIssued,
		func(now time.Time, e lifecycle.Entity, req lifecycle.TransitionRequest) map[string]any {
			return map[string]any{"notice_sent_at": now.Format(time.RFC3339)}
		}); err != nil {
		return err
	}

	// The cure deadline depends on how serious the violation is. Severity is
	// captured when the violation is reported and read back from the entity;
	// the request payload may override it.
	if err := r.RegisterDerived(TypeViolation, ViolationCurePeriod,
		func(now time.Time, e lifecycle.Entity, req lifecycle.TransitionRequest) map[string]any {
			severity, _ := req.Payload["severity"].(string)
			if severity == "" {
				severity, _ = e.Derived["severity"].(string)
			}
			days, ok := cureDays[severity]
			if !ok {
				days = defaultCureDays
			}
			deadline := now.AddDate(0, 0, days)
			return map[string]any{
				"severity":      severity,
				"cure_deadline": deadline.Format(time.RFC3339),
			}
		}); err != nil {
		return err
	}

	// Escalation is only defensible after a notice went out.
	if err := r.RegisterPrecondition(TypeViolation, ViolationEscalated,
		func(ctx context.Context, ec *lifecycle.EvalContext) (lifecycle.Verdict, error) {
			if _, ok := ec.Entity.Derived["notice_sent_at"]; !ok {
				return lifecycle.Deny("cannot escalate a violation before a notice was issued"), nil
			}
			return lifecycle.Allow(), nil
		}); err != nil {
		return err
	}

	// A fine levies the linked assessment charge; clearing the violation
	// voids whatever charge was pending.
	if err := r.RegisterSideEffect(TypeViolation, ViolationFined, lifecycle.SideEffectRule{
		LinkedType: TypeAssessmentCharge,
		Compute: func(source, linked lifecycle.Entity) (lifecycle.State, bool) {
			return ChargeLevied, true
		},
	}); err != nil {
		return err
	}
	for _, cleared := range []lifecycle.State{ViolationCured, ViolationDismissed} {
		if err := r.RegisterSideEffect(TypeViolation, cleared, lifecycle.SideEffectRule{
			LinkedType: TypeAssessmentCharge,
			Compute: func(source, linked lifecycle.Entity) (lifecycle.State, bool) {
				// Paid charges stay on the ledger.
				if linked.Status == ChargePaid {
					return "", false
				}
				return ChargeVoided, true
			},
		}); err != nil {
			return err
		}
	}
	return nil
}
