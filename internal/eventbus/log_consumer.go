package eventbus

import (
	"context"

	"go.uber.org/zap"

	"github.com/matthewbaird/canalworks/internal/event"
)

// LogConsumer logs all domain events for observability.
type LogConsumer struct {
	logger *zap.Logger
}

func NewLogConsumer(logger *zap.Logger) *LogConsumer {
	return &LogConsumer{logger: logger.Named("events")}
}

func (c *LogConsumer) HandleEvent(_ context.Context, evt event.DomainEvent) error {
	entities := make([]string, len(evt.AffectedEntities))
	for i, ref := range evt.AffectedEntities {
		entities[i] = ref.EntityType + ":" + ref.EntityID
	}
	fields := []zap.Field{
		zap.String("type", evt.EventType),
		zap.String("category", evt.Category),
		zap.String("weight", evt.Weight),
		zap.Strings("entities", entities),
	}
	if evt.CorrelationID != "" {
		fields = append(fields, zap.String("correlation_id", evt.CorrelationID))
	}
	if evt.Weight == "critical" {
		c.logger.Warn(evt.Summary, fields...)
		return nil
	}
	c.logger.Info(evt.Summary, fields...)
	return nil
}
