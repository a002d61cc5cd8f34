package notification

import (
	"context"
	"sync"
	"testing"

	"github.com/steadyrow/caseflow/internal/application/dispatcher"
	"github.com/steadyrow/caseflow/internal/domain/event"
)

type captureSink struct {
	mu     sync.Mutex
	events []*event.Event
}

func (s *captureSink) Notify(ctx context.Context, evt *event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
	return nil
}

func TestSubscribeDeliversAllEventTypes(t *testing.T) {
	d := dispatcher.New()
	defer d.Close()

	sink := &captureSink{}
	Subscribe(d, "capture", sink)

	types := []event.Type{
		event.TypeTransitionCompleted,
		event.TypeTransitionFailed,
		event.TypeEffectApplied,
		event.TypeEffectFailed,
	}
	for _, eventType := range types {
		evt := event.New(eventType, "work_order", "wo-1", "corr-1", nil)
		if err := d.Dispatch(context.Background(), evt); err != nil {
			t.Fatalf("dispatch %s: %v", eventType, err)
		}
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.events) != len(types) {
		t.Fatalf("delivered %d events, want %d", len(sink.events), len(types))
	}
	for i, eventType := range types {
		if sink.events[i].Type != eventType {
			t.Fatalf("event %d type = %s, want %s", i, sink.events[i].Type, eventType)
		}
	}
}
