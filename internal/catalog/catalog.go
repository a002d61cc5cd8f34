// Package catalog declares the back-office entity types: their transition
// tables, precondition guards, side-effect rules, and derived fields. All
// behavior differences between entity types live here; the engine itself is
// type-agnostic.
package catalog

import (
	"github.com/steadyrow/caseflow/internal/domain/lifecycle"
)

// Entity type names used across tables, links, and side-effect rules
const (
	TypeWorkOrder        = "work_order"
	TypeJob              = "job"
	TypeConciergeCase    = "concierge_case"
	TypeViolation        = "violation"
	TypeAssessmentCharge = "assessment_charge"
	TypeMotion           = "motion"
	TypeBallot           = "ballot"
	TypeMeeting          = "meeting"
	TypeAgendaItem       = "agenda_item"
)

// Registrar is the subset of the engine the catalog configures
type Registrar interface {
	RegisterTransitionTable(table *lifecycle.Table) error
	RegisterPrecondition(entityType string, toState lifecycle.State, fn lifecycle.PreconditionFunc) error
	RegisterSideEffect(entityType string, toState lifecycle.State, rule lifecycle.SideEffectRule) error
	RegisterDerived(entityType string, toState lifecycle.State, fn lifecycle.DerivedFunc) error
}

// RegisterAll installs every entity type. The caller validates the registry
// afterwards so cross-type side-effect wiring is checked in one place.
func RegisterAll(r Registrar) error {
	for _, register := range []func(Registrar) error{
		RegisterWorkOrder,
		RegisterJob,
		RegisterViolation,
		RegisterMotion,
		RegisterMeeting,
	} {
		if err := register(r); err != nil {
			return err
		}
	}
	return nil
}
