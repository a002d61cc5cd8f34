package event

import (
	"testing"
	"time"
)

func TestType_String(t *testing.T) {
	tests := []struct {
		name      string
		eventType Type
		want      string
	}{
		{
			name:      "transition completed",
			eventType: TypeTransitionCompleted,
			want:      "transition.completed",
		},
		{
			name:      "transition failed",
			eventType: TypeTransitionFailed,
			want:      "transition.failed",
		},
		{
			name:      "effect applied",
			eventType: TypeEffectApplied,
			want:      "effect.applied",
		},
		{
			name:      "effect propagation failed",
			eventType: TypeEffectFailed,
			want:      "effect.propagation_failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.eventType.String(); got != tt.want {
				t.Errorf("Type.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestType_IsValid(t *testing.T) {
	if !TypeTransitionCompleted.IsValid() {
		t.Error("TypeTransitionCompleted should be valid")
	}
	if Type("bogus.event").IsValid() {
		t.Error("unknown event type should not be valid")
	}
}

func TestNew(t *testing.T) {
	before := time.Now()
	evt := New(TypeTransitionCompleted, "work_order", "wo-7", "corr-1", map[string]any{
		"from_state": "DRAFT",
		"to_state":   "SUBMITTED",
	})

	if evt.ID == "" {
		t.Error("New() should generate an event id")
	}
	if evt.EntityType != "work_order" || evt.EntityID != "wo-7" {
		t.Errorf("New() entity = %s/%s, want work_order/wo-7", evt.EntityType, evt.EntityID)
	}
	if evt.CorrelationID != "corr-1" {
		t.Errorf("New() correlation id = %s, want corr-1", evt.CorrelationID)
	}
	if evt.Timestamp.Before(before) {
		t.Error("New() timestamp should not precede creation")
	}
	if evt.GetPayloadString("to_state") != "SUBMITTED" {
		t.Error("payload to_state should round-trip")
	}
}

func TestNew_UniqueIDs(t *testing.T) {
	a := New(TypeTransitionCompleted, "work_order", "wo-1", "c", nil)
	b := New(TypeTransitionCompleted, "work_order", "wo-1", "c", nil)
	if a.ID == b.ID {
		t.Error("each event should get a unique id")
	}
}

func TestEvent_WithPayload(t *testing.T) {
	evt := New(TypeEffectFailed, "job", "j-1", "corr-9", map[string]any{"linked_type": "work_order"})
	clone := evt.WithPayload("reason", "store unavailable")

	if clone == evt {
		t.Fatal("WithPayload should return a copy")
	}
	if _, ok := evt.Payload["reason"]; ok {
		t.Error("WithPayload must not mutate the original payload")
	}
	if clone.GetPayloadString("reason") != "store unavailable" {
		t.Error("added payload entry missing on clone")
	}
	if clone.GetPayloadString("linked_type") != "work_order" {
		t.Error("existing payload entries should carry over")
	}
}

func TestEvent_GetPayloadBool(t *testing.T) {
	evt := New(TypeEffectApplied, "job", "j-1", "corr", map[string]any{"replayed": true})
	if !evt.GetPayloadBool("replayed") {
		t.Error("GetPayloadBool should return stored value")
	}
	if evt.GetPayloadBool("missing") {
		t.Error("GetPayloadBool should default to false")
	}
}
