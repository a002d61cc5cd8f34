package notification

import (
	"context"

	"go.uber.org/zap"

	"github.com/steadyrow/caseflow/internal/application/dispatcher"
	"github.com/steadyrow/caseflow/internal/application/port"
	"github.com/steadyrow/caseflow/internal/domain/event"
)

// LogSink is the default notification sink: it writes each lifecycle event to
// the structured log. Outbound channels (mail, chat, webhooks) plug in behind
// the same port.NotificationSink interface.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a log-backed notification sink
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Notify writes the event to the log
func (s *LogSink) Notify(ctx context.Context, evt *event.Event) error {
	s.logger.Info("Lifecycle notification",
		zap.String("event_id", evt.ID),
		zap.String("event_type", evt.Type.String()),
		zap.String("entity_type", evt.EntityType),
		zap.String("entity_id", evt.EntityID),
		zap.String("correlation_id", evt.CorrelationID),
		zap.Any("payload", evt.Payload))
	return nil
}

var _ port.NotificationSink = (*LogSink)(nil)

// Subscribe wires a sink into the dispatcher for every lifecycle event type.
// A sink error is logged by the dispatcher and never surfaces to the
// transition that raised the event.
func Subscribe(d dispatcher.Dispatcher, name string, sink port.NotificationSink) {
	handler := func(ctx context.Context, evt *event.Event) error {
		return sink.Notify(ctx, evt)
	}
	for _, eventType := range []event.Type{
		event.TypeTransitionCompleted,
		event.TypeTransitionFailed,
		event.TypeEffectApplied,
		event.TypeEffectFailed,
	} {
		d.SubscribeNamed(eventType, name, handler)
	}
}
