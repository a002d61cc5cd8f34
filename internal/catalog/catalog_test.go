package catalog

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/steadyrow/caseflow/internal/domain/lifecycle"
	"github.com/steadyrow/caseflow/internal/engine"
)

type stubReader struct {
	linked []*lifecycle.Entity
	err    error
}

func (r *stubReader) Get(ctx context.Context, entityType, entityID string) (*lifecycle.Entity, error) {
	return nil, lifecycle.ErrUnknownEntity
}

func (r *stubReader) ListLinked(ctx context.Context, entityType, entityID, linkedType string) ([]*lifecycle.Entity, error) {
	return r.linked, r.err
}

func registerAll(t *testing.T) *engine.Registry {
	t.Helper()
	r := engine.NewRegistry()
	if err := RegisterAll(r); err != nil {
		t.Fatalf("register catalog: %v", err)
	}
	if err := r.Validate(); err != nil {
		t.Fatalf("validate catalog: %v", err)
	}
	return r
}

func evalContext(entityType, entityID string, status lifecycle.State, payload map[string]any, reader lifecycle.Reader) *lifecycle.EvalContext {
	return &lifecycle.EvalContext{
		Entity: &lifecycle.Entity{
			EntityType:     entityType,
			EntityID:       entityID,
			OrganizationID: "org-1",
			Status:         status,
		},
		Request: lifecycle.TransitionRequest{
			EntityType: entityType,
			EntityID:   entityID,
			Payload:    payload,
		},
		Reader: reader,
	}
}

func TestCatalogRegistersAndValidates(t *testing.T) {
	registerAll(t)
}

func TestWorkOrderTable(t *testing.T) {
	r := registerAll(t)
	table, err := r.Table(TypeWorkOrder)
	if err != nil {
		t.Fatalf("work order table: %v", err)
	}

	cases := []struct {
		from, to lifecycle.State
		want     bool
	}{
		{WorkOrderDraft, WorkOrderSubmitted, true},
		{WorkOrderDraft, WorkOrderTriaged, false}, // no skipping triage
		{WorkOrderSubmitted, WorkOrderTriaged, true},
		{WorkOrderTriaged, WorkOrderAuthorized, true},
		{WorkOrderInProgress, WorkOrderCompleted, true},
		{WorkOrderCompleted, WorkOrderCanceled, false},
		{WorkOrderScheduled, WorkOrderCanceled, true},
	}
	for _, tc := range cases {
		if got := table.Allows(tc.from, tc.to); got != tc.want {
			t.Errorf("Allows(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
	if table.Initial() != WorkOrderDraft {
		t.Errorf("initial state = %s, want %s", table.Initial(), WorkOrderDraft)
	}
	for _, terminal := range []lifecycle.State{WorkOrderCompleted, WorkOrderCanceled} {
		if !table.IsTerminal(terminal) {
			t.Errorf("%s should be terminal", terminal)
		}
	}
}

func TestWorkOrderSubmissionNeedsDescription(t *testing.T) {
	r := registerAll(t)
	guards := r.Preconditions(TypeWorkOrder, WorkOrderSubmitted)
	if len(guards) != 1 {
		t.Fatalf("got %d guards, want 1", len(guards))
	}

	verdict, err := guards[0](context.Background(), evalContext(TypeWorkOrder, "wo-1", WorkOrderDraft, nil, &stubReader{}))
	if err != nil {
		t.Fatalf("guard: %v", err)
	}
	if verdict.Allowed {
		t.Fatal("empty description must be denied")
	}

	verdict, err = guards[0](context.Background(), evalContext(TypeWorkOrder, "wo-1", WorkOrderDraft,
		map[string]any{"description": "replace lobby light"}, &stubReader{}))
	if err != nil {
		t.Fatalf("guard: %v", err)
	}
	if !verdict.Allowed {
		t.Fatalf("expected allow, got %q", verdict.Detail)
	}
}

func TestMotionQuorumGuard(t *testing.T) {
	r := registerAll(t)
	guards := r.Preconditions(TypeMotion, MotionVoting)
	if len(guards) != 1 {
		t.Fatalf("got %d guards, want 1", len(guards))
	}
	guard := guards[0]

	cases := []struct {
		name    string
		payload map[string]any
		allowed bool
	}{
		{"no quorum threshold", map[string]any{"members_present": 5}, false},
		{"below quorum", map[string]any{"members_present": 2, "quorum": 3}, false},
		{"at quorum", map[string]any{"members_present": 3, "quorum": 3}, true},
		{"json numbers", map[string]any{"members_present": float64(4), "quorum": float64(3)}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			verdict, err := guard(context.Background(), evalContext(TypeMotion, "m-1", MotionSeconded, tc.payload, &stubReader{}))
			if err != nil {
				t.Fatalf("guard: %v", err)
			}
			if verdict.Allowed != tc.allowed {
				t.Fatalf("allowed = %v, want %v (%s)", verdict.Allowed, tc.allowed, verdict.Detail)
			}
		})
	}
}

func ballot(id string, status lifecycle.State) *lifecycle.Entity {
	return &lifecycle.Entity{EntityType: TypeBallot, EntityID: id, Status: status}
}

func TestMotionTallyGuard(t *testing.T) {
	cases := []struct {
		name     string
		ballots  []*lifecycle.Entity
		allowed  bool
		resolved lifecycle.State
	}{
		{
			name:    "no ballots cast",
			ballots: []*lifecycle.Entity{ballot("b-1", BallotIssued), ballot("b-2", BallotSpoiled)},
			allowed: false,
		},
		{
			name: "carried",
			ballots: []*lifecycle.Entity{
				ballot("b-1", BallotCastFor), ballot("b-2", BallotCastFor), ballot("b-3", BallotCastAgainst),
			},
			allowed:  true,
			resolved: MotionApproved,
		},
		{
			name: "defeated",
			ballots: []*lifecycle.Entity{
				ballot("b-1", BallotCastFor), ballot("b-2", BallotCastAgainst), ballot("b-3", BallotCastAgainst),
			},
			allowed:  true,
			resolved: MotionDenied,
		},
		{
			name:     "tie goes against",
			ballots:  []*lifecycle.Entity{ballot("b-1", BallotCastFor), ballot("b-2", BallotCastAgainst)},
			allowed:  true,
			resolved: MotionDenied,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ec := evalContext(TypeMotion, "m-1", MotionVoting, nil, &stubReader{linked: tc.ballots})
			verdict, err := tallyGuard(context.Background(), ec)
			if err != nil {
				t.Fatalf("guard: %v", err)
			}
			if verdict.Allowed != tc.allowed {
				t.Fatalf("allowed = %v, want %v (%s)", verdict.Allowed, tc.allowed, verdict.Detail)
			}
			if tc.allowed && verdict.ResolvedState != tc.resolved {
				t.Fatalf("resolved = %s, want %s", verdict.ResolvedState, tc.resolved)
			}
		})
	}
}

func TestMeetingNeedsAgendaItems(t *testing.T) {
	r := registerAll(t)
	guards := r.Preconditions(TypeMeeting, MeetingInSession)
	if len(guards) != 1 {
		t.Fatalf("got %d guards, want 1", len(guards))
	}

	verdict, err := guards[0](context.Background(), evalContext(TypeMeeting, "mt-1", MeetingNoticed, nil, &stubReader{}))
	if err != nil {
		t.Fatalf("guard: %v", err)
	}
	if verdict.Allowed || !strings.Contains(verdict.Detail, "agenda") {
		t.Fatalf("expected agenda denial, got %+v", verdict)
	}

	items := []*lifecycle.Entity{{EntityType: TypeAgendaItem, EntityID: "ai-1", Status: AgendaItemProposed}}
	verdict, err = guards[0](context.Background(), evalContext(TypeMeeting, "mt-1", MeetingNoticed, nil, &stubReader{linked: items}))
	if err != nil {
		t.Fatalf("guard: %v", err)
	}
	if !verdict.Allowed {
		t.Fatalf("expected allow with agenda items, got %q", verdict.Detail)
	}
}

func TestViolationEscalationNeedsNotice(t *testing.T) {
	r := registerAll(t)
	guards := r.Preconditions(TypeViolation, ViolationEscalated)
	if len(guards) != 1 {
		t.Fatalf("got %d guards, want 1", len(guards))
	}

	ec := evalContext(TypeViolation, "v-1", ViolationCurePeriod, nil, &stubReader{})
	verdict, err := guards[0](context.Background(), ec)
	if err != nil {
		t.Fatalf("guard: %v", err)
	}
	if verdict.Allowed {
		t.Fatal("escalation without a notice must be denied")
	}

	ec.Entity.Derived = map[string]any{"notice_sent_at": "2026-02-01T10:00:00Z"}
	verdict, err = guards[0](context.Background(), ec)
	if err != nil {
		t.Fatalf("guard: %v", err)
	}
	if !verdict.Allowed {
		t.Fatalf("expected allow after notice, got %q", verdict.Detail)
	}
}

func TestViolationCureDeadlineBySeverity(t *testing.T) {
	r := registerAll(t)
	fns := r.Derived(TypeViolation, ViolationCurePeriod)
	if len(fns) != 1 {
		t.Fatalf("got %d derived fns, want 1", len(fns))
	}
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		severity string
		days     int
	}{
		{"minor", 30},
		{"major", 14},
		{"health_safety", 7},
		{"", defaultCureDays},
	}
	for _, tc := range cases {
		e := lifecycle.Entity{EntityType: TypeViolation, EntityID: "v-1", Status: ViolationNoticeIssued}
		req := lifecycle.TransitionRequest{Payload: map[string]any{"severity": tc.severity}}
		fields := fns[0](now, e, req)
		want := now.AddDate(0, 0, tc.days).Format(time.RFC3339)
		if fields["cure_deadline"] != want {
			t.Errorf("severity %q: cure_deadline = %v, want %s", tc.severity, fields["cure_deadline"], want)
		}
	}
}

func TestViolationClearingVoidsUnpaidChargesOnly(t *testing.T) {
	r := registerAll(t)
	rules := r.Effects(TypeViolation, ViolationDismissed)
	if len(rules) != 1 {
		t.Fatalf("got %d rules, want 1", len(rules))
	}
	source := lifecycle.Entity{EntityType: TypeViolation, EntityID: "v-1", Status: ViolationDismissed}

	next, apply := rules[0].Compute(source, lifecycle.Entity{EntityType: TypeAssessmentCharge, Status: ChargeLevied})
	if !apply || next != ChargeVoided {
		t.Fatalf("levied charge: got (%s, %v), want (%s, true)", next, apply, ChargeVoided)
	}
	if _, apply := rules[0].Compute(source, lifecycle.Entity{EntityType: TypeAssessmentCharge, Status: ChargePaid}); apply {
		t.Fatal("paid charges must not be voided")
	}
}

func TestJobCancellationPropagation(t *testing.T) {
	r := registerAll(t)
	rules := r.Effects(TypeJob, JobCanceled)
	if len(rules) != 2 {
		t.Fatalf("got %d rules, want 2", len(rules))
	}
	byType := make(map[string]lifecycle.SideEffectRule, len(rules))
	for _, rule := range rules {
		byType[rule.LinkedType] = rule
	}

	source := lifecycle.Entity{EntityType: TypeJob, EntityID: "job-1", Status: JobCanceled}
	next, apply := byType[TypeWorkOrder].Compute(source, lifecycle.Entity{EntityType: TypeWorkOrder, Status: WorkOrderScheduled})
	if !apply || next != WorkOrderCanceled {
		t.Fatalf("work order: got (%s, %v), want (%s, true)", next, apply, WorkOrderCanceled)
	}
	next, apply = byType[TypeConciergeCase].Compute(source, lifecycle.Entity{EntityType: TypeConciergeCase, Status: CaseOpen})
	if !apply || next != CaseClosed {
		t.Fatalf("concierge case: got (%s, %v), want (%s, true)", next, apply, CaseClosed)
	}
}
