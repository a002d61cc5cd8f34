package engine

import (
	"fmt"
	"sync"

	"github.com/steadyrow/caseflow/internal/domain/lifecycle"
)

// Registry holds the registered transition tables, precondition guards,
// side-effect rules, and derived-field computations per entity type. The set
// is closed: registering against an unknown entity type or state fails at
// registration time rather than falling through at runtime.
type Registry struct {
	mu            sync.RWMutex
	tables        map[string]*lifecycle.Table
	preconditions map[string]map[lifecycle.State][]lifecycle.PreconditionFunc
	effects       map[string]map[lifecycle.State][]lifecycle.SideEffectRule
	derived       map[string]map[lifecycle.State][]lifecycle.DerivedFunc
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		tables:        make(map[string]*lifecycle.Table),
		preconditions: make(map[string]map[lifecycle.State][]lifecycle.PreconditionFunc),
		effects:       make(map[string]map[lifecycle.State][]lifecycle.SideEffectRule),
		derived:       make(map[string]map[lifecycle.State][]lifecycle.DerivedFunc),
	}
}

// RegisterTransitionTable installs the transition table for its entity type.
// Registering the same entity type twice is an error.
func (r *Registry) RegisterTransitionTable(table *lifecycle.Table) error {
	if table == nil {
		return fmt.Errorf("registry: nil transition table")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	entityType := table.EntityType()
	if _, exists := r.tables[entityType]; exists {
		return fmt.Errorf("registry: transition table for %s already registered", entityType)
	}
	r.tables[entityType] = table
	return nil
}

// RegisterPrecondition attaches a guard evaluated before any transition into
// toState on the given entity type
func (r *Registry) RegisterPrecondition(entityType string, toState lifecycle.State, fn lifecycle.PreconditionFunc) error {
	if fn == nil {
		return fmt.Errorf("registry: nil precondition for %s -> %s", entityType, toState)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.requireState(entityType, toState); err != nil {
		return err
	}
	if r.preconditions[entityType] == nil {
		r.preconditions[entityType] = make(map[lifecycle.State][]lifecycle.PreconditionFunc)
	}
	r.preconditions[entityType][toState] = append(r.preconditions[entityType][toState], fn)
	return nil
}

// RegisterSideEffect attaches a declarative linked-entity rule applied after
// a transition into toState commits
func (r *Registry) RegisterSideEffect(entityType string, toState lifecycle.State, rule lifecycle.SideEffectRule) error {
	if rule.LinkedType == "" || rule.Compute == nil {
		return fmt.Errorf("registry: side effect for %s -> %s needs a linked type and compute function", entityType, toState)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.requireState(entityType, toState); err != nil {
		return err
	}
	if r.effects[entityType] == nil {
		r.effects[entityType] = make(map[lifecycle.State][]lifecycle.SideEffectRule)
	}
	r.effects[entityType][toState] = append(r.effects[entityType][toState], rule)
	return nil
}

// RegisterDerived attaches a derived-field computation written alongside the
// status inside the execute transaction
func (r *Registry) RegisterDerived(entityType string, toState lifecycle.State, fn lifecycle.DerivedFunc) error {
	if fn == nil {
		return fmt.Errorf("registry: nil derived computation for %s -> %s", entityType, toState)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.requireState(entityType, toState); err != nil {
		return err
	}
	if r.derived[entityType] == nil {
		r.derived[entityType] = make(map[lifecycle.State][]lifecycle.DerivedFunc)
	}
	r.derived[entityType][toState] = append(r.derived[entityType][toState], fn)
	return nil
}

// Validate checks cross-table consistency once all registrations are done:
// every side-effect rule must point at an entity type with its own table.
func (r *Registry) Validate() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for entityType, byState := range r.effects {
		for toState, rules := range byState {
			for _, rule := range rules {
				if _, ok := r.tables[rule.LinkedType]; !ok {
					return fmt.Errorf("registry: side effect %s -> %s targets unregistered entity type %s",
						entityType, toState, rule.LinkedType)
				}
			}
		}
	}
	return nil
}

// Table returns the transition table for an entity type
func (r *Registry) Table(entityType string) (*lifecycle.Table, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	table, ok := r.tables[entityType]
	if !ok {
		return nil, lifecycle.NewRejection(lifecycle.ErrUnknownEntityType, "", "", entityType)
	}
	return table, nil
}

// Preconditions returns the guards for a transition into toState
func (r *Registry) Preconditions(entityType string, toState lifecycle.State) []lifecycle.PreconditionFunc {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.preconditions[entityType][toState]
}

// Effects returns the side-effect rules for a transition into toState
func (r *Registry) Effects(entityType string, toState lifecycle.State) []lifecycle.SideEffectRule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.effects[entityType][toState]
}

// Derived returns the derived-field computations for a transition into toState
func (r *Registry) Derived(entityType string, toState lifecycle.State) []lifecycle.DerivedFunc {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.derived[entityType][toState]
}

// requireState enforces that registrations name a declared table state.
// Caller holds the lock.
func (r *Registry) requireState(entityType string, state lifecycle.State) error {
	table, ok := r.tables[entityType]
	if !ok {
		return fmt.Errorf("registry: entity type %s has no transition table", entityType)
	}
	if !table.Has(state) {
		return fmt.Errorf("registry: state %s is not declared in the %s table", state, entityType)
	}
	return nil
}
