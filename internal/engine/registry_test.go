package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/steadyrow/caseflow/internal/domain/lifecycle"
)

func buildTestTable(t *testing.T, entityType string) *lifecycle.Table {
	t.Helper()
	table, err := lifecycle.NewTable(entityType, "DRAFT").
		Permit("DRAFT", "SUBMITTED", "CANCELED").
		Permit("SUBMITTED", "APPROVED", "DENIED", "CANCELED").
		Permit("APPROVED").
		Permit("DENIED").
		Permit("CANCELED").
		Build()
	if err != nil {
		t.Fatalf("build table: %v", err)
	}
	return table
}

func TestRegistryRejectsDuplicateTable(t *testing.T) {
	r := NewRegistry()
	if err := r.RegisterTransitionTable(buildTestTable(t, "work_order")); err != nil {
		t.Fatalf("first registration: %v", err)
	}
	if err := r.RegisterTransitionTable(buildTestTable(t, "work_order")); err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
}

func TestRegistryRequiresDeclaredState(t *testing.T) {
	r := NewRegistry()
	if err := r.RegisterTransitionTable(buildTestTable(t, "work_order")); err != nil {
		t.Fatalf("register table: %v", err)
	}

	allow := func(ctx context.Context, ec *lifecycle.EvalContext) (lifecycle.Verdict, error) {
		return lifecycle.Allow(), nil
	}

	if err := r.RegisterPrecondition("work_order", "NOPE", allow); err == nil {
		t.Fatal("expected undeclared state to be rejected")
	}
	if err := r.RegisterPrecondition("lease", "APPROVED", allow); err == nil {
		t.Fatal("expected unregistered entity type to be rejected")
	}
	if err := r.RegisterPrecondition("work_order", "APPROVED", allow); err != nil {
		t.Fatalf("valid precondition registration: %v", err)
	}

	derive := func(now time.Time, e lifecycle.Entity, req lifecycle.TransitionRequest) map[string]any {
		return map[string]any{"at": now}
	}
	if err := r.RegisterDerived("work_order", "GHOST", derive); err == nil {
		t.Fatal("expected undeclared state to be rejected")
	}
	if err := r.RegisterDerived("work_order", "DENIED", derive); err != nil {
		t.Fatalf("valid derived registration: %v", err)
	}
}

func TestRegistryRejectsIncompleteSideEffect(t *testing.T) {
	r := NewRegistry()
	if err := r.RegisterTransitionTable(buildTestTable(t, "work_order")); err != nil {
		t.Fatalf("register table: %v", err)
	}

	err := r.RegisterSideEffect("work_order", "CANCELED", lifecycle.SideEffectRule{LinkedType: "job"})
	if err == nil {
		t.Fatal("expected rule without compute function to be rejected")
	}
	err = r.RegisterSideEffect("work_order", "CANCELED", lifecycle.SideEffectRule{
		Compute: func(source, linked lifecycle.Entity) (lifecycle.State, bool) { return "", false },
	})
	if err == nil {
		t.Fatal("expected rule without linked type to be rejected")
	}
}

func TestRegistryValidateCatchesUnregisteredLinkedType(t *testing.T) {
	r := NewRegistry()
	if err := r.RegisterTransitionTable(buildTestTable(t, "work_order")); err != nil {
		t.Fatalf("register table: %v", err)
	}
	err := r.RegisterSideEffect("work_order", "CANCELED", lifecycle.SideEffectRule{
		LinkedType: "job",
		Compute: func(source, linked lifecycle.Entity) (lifecycle.State, bool) {
			return "CANCELED", true
		},
	})
	if err != nil {
		t.Fatalf("register side effect: %v", err)
	}

	if err := r.Validate(); err == nil {
		t.Fatal("expected validation to fail for unregistered linked type")
	}

	if err := r.RegisterTransitionTable(buildTestTable(t, "job")); err != nil {
		t.Fatalf("register linked table: %v", err)
	}
	if err := r.Validate(); err != nil {
		t.Fatalf("expected validation to pass once linked table exists: %v", err)
	}
}

func TestRegistryTableUnknownType(t *testing.T) {
	r := NewRegistry()
	_, err := r.Table("work_order")
	if !errors.Is(err, lifecycle.ErrUnknownEntityType) {
		t.Fatalf("expected ErrUnknownEntityType, got %v", err)
	}
	if !lifecycle.IsRejection(err) {
		t.Fatal("expected a structured rejection")
	}
}
