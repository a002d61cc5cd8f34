package port

import (
	"context"

	"github.com/steadyrow/caseflow/internal/domain/event"
)

// NotificationSink receives "transition occurred" events. Delivery is
// fire-and-forget: a sink error is logged and never affects the transition
// outcome.
type NotificationSink interface {
	Notify(ctx context.Context, evt *event.Event) error
}
