package eventhandler

import (
	"log/slog"

	"github.com/teamcruz/graduation-engine/internal/domain/shared"
)

// EventLog writes every domain event to the log at debug level.
type EventLog struct {
	logger *slog.Logger
}

// NewEventLog creates a new EventLog.
func NewEventLog(logger *slog.Logger) *EventLog {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventLog{logger: logger.With("handler", "event_log")}
}

// Handle implements shared.EventHandler.
func (l *EventLog) Handle(event shared.Event) error {
	attrs := []any{
		"event_type", event.EventType(),
		"aggregate_id", event.AggregateID(),
		"occurred_at", event.OccurredAt(),
	}
	for k, v := range event.Payload() {
		attrs = append(attrs, k, v)
	}
	l.logger.Debug("domain event", attrs...)
	return nil
}
