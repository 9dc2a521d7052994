package app

import (
	"go.uber.org/zap"

	"github.com/yourusername/offline-go/internal/domain"
)

// LifecycleLogger receives structured lifecycle and error entries
type LifecycleLogger interface {
	LogLifecycleEvent(event string, fields ...zap.Field)
	LogAppError(msg string, fields ...zap.Field)
}

// EventLog writes every orchestrator event to the lifecycle log. Error
// events also go to the error log.
type EventLog struct {
	logger LifecycleLogger
}

// NewEventLog creates a new event log
func NewEventLog(logger LifecycleLogger) *EventLog {
	return &EventLog{logger: logger}
}

// Handle is the dispatcher handler
func (l *EventLog) Handle(event domain.Event) {
	fields := eventFields(event)
	l.logger.LogLifecycleEvent(string(event.Kind), fields...)

	if event.Kind == domain.EventError {
		l.logger.LogAppError(event.Message, fields...)
	}
}

func eventFields(event domain.Event) []zap.Field {
	fields := []zap.Field{
		zap.String("event_id", event.ID),
		zap.String("key", event.Subject()),
		zap.Bool("group", event.IsGroup()),
		zap.Int("progress", event.Progress),
	}

	switch {
	case event.Download != nil:
		fields = append(fields,
			zap.Int64("region_id", event.Download.ID),
			zap.String("name", event.Download.DisplayName()),
			zap.String("state", string(event.Download.State)))
	case event.Group != nil:
		fields = append(fields,
			zap.Int("members", event.Group.Size()),
			zap.String("state", string(event.Group.State)))
		if event.Group.Current != nil {
			fields = append(fields, zap.String("current", event.Group.Current.DisplayName()))
		}
	}

	if event.Member != nil {
		fields = append(fields, zap.String("member", event.Member.Key))
	}
	if event.Reason != "" {
		fields = append(fields, zap.String("reason", event.Reason), zap.String("message", event.Message))
	}
	return fields
}
