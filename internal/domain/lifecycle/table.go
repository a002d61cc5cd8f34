package lifecycle

import (
	"fmt"
	"sort"
)

// Table is the immutable transition table for one entity type: a mapping
// from state to the set of allowed destination states. A state mapped to an
// empty set is terminal. Self-loops are never implicit; a state may only
// transition to itself when listed explicitly.
type Table struct {
	entityType string
	initial    State
	edges      map[State][]State
}

// TableBuilder accumulates transition edges before validation
type TableBuilder struct {
	entityType string
	initial    State
	edges      map[State][]State
}

// NewTable starts a transition table for the given entity type. The initial
// state is the designated entry point every other state must be reachable from.
func NewTable(entityType string, initial State) *TableBuilder {
	b := &TableBuilder{
		entityType: entityType,
		initial:    initial,
		edges:      make(map[State][]State),
	}
	b.edges[initial] = nil
	return b
}

// Permit declares the allowed destinations for a state. Calling Permit with
// no destinations declares a terminal state. Repeat calls for the same state
// append destinations.
func (b *TableBuilder) Permit(from State, to ...State) *TableBuilder {
	if _, ok := b.edges[from]; !ok {
		b.edges[from] = nil
	}
	b.edges[from] = append(b.edges[from], to...)
	return b
}

// Build validates the accumulated edges and returns the immutable table.
// It fails when a destination is never declared as a state, when a
// destination is duplicated, or when a state is unreachable from the
// initial state.
func (b *TableBuilder) Build() (*Table, error) {
	if b.entityType == "" {
		return nil, fmt.Errorf("transition table: entity type is required")
	}
	if b.initial == "" {
		return nil, fmt.Errorf("transition table %s: initial state is required", b.entityType)
	}

	edges := make(map[State][]State, len(b.edges))
	for from, dests := range b.edges {
		seen := make(map[State]bool, len(dests))
		copied := make([]State, 0, len(dests))
		for _, to := range dests {
			if seen[to] {
				return nil, fmt.Errorf("transition table %s: duplicate edge %s -> %s", b.entityType, from, to)
			}
			if _, declared := b.edges[to]; !declared {
				return nil, fmt.Errorf("transition table %s: destination %s of %s is not a declared state", b.entityType, to, from)
			}
			seen[to] = true
			copied = append(copied, to)
		}
		edges[from] = copied
	}

	// Every state must be reachable from the initial state.
	reachable := map[State]bool{b.initial: true}
	frontier := []State{b.initial}
	for len(frontier) > 0 {
		cur := frontier[0]
		frontier = frontier[1:]
		for _, next := range edges[cur] {
			if !reachable[next] {
				reachable[next] = true
				frontier = append(frontier, next)
			}
		}
	}
	for state := range edges {
		if !reachable[state] {
			return nil, fmt.Errorf("transition table %s: state %s is unreachable from %s", b.entityType, state, b.initial)
		}
	}

	return &Table{
		entityType: b.entityType,
		initial:    b.initial,
		edges:      edges,
	}, nil
}

// MustBuild is Build that panics on error, for static catalog definitions
// where a malformed table is a programming error.
func (b *TableBuilder) MustBuild() *Table {
	t, err := b.Build()
	if err != nil {
		panic(err)
	}
	return t
}

// EntityType returns the entity type this table governs
func (t *Table) EntityType() string {
	return t.entityType
}

// Initial returns the designated initial state
func (t *Table) Initial() State {
	return t.initial
}

// Has returns true if the state is declared in the table
func (t *Table) Has(state State) bool {
	_, ok := t.edges[state]
	return ok
}

// Allows reports whether from -> to is a declared edge
func (t *Table) Allows(from, to State) bool {
	for _, dest := range t.edges[from] {
		if dest == to {
			return true
		}
	}
	return false
}

// IsTerminal returns true if the state has no outgoing edges
func (t *Table) IsTerminal(state State) bool {
	dests, ok := t.edges[state]
	return ok && len(dests) == 0
}

// Destinations returns a copy of the allowed destinations for a state
func (t *Table) Destinations(from State) []State {
	dests := t.edges[from]
	out := make([]State, len(dests))
	copy(out, dests)
	return out
}

// States returns all declared states in lexical order
func (t *Table) States() []State {
	out := make([]State, 0, len(t.edges))
	for state := range t.edges {
		out = append(out, state)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
