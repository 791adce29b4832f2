package narrative

import (
	"github.com/user/narrative-engine/internal/interfaces"
	"github.com/user/narrative-engine/internal/types"
	"go.uber.org/zap"
)

// LogSink writes narrative events to a zap logger
type LogSink struct {
	Logger *zap.Logger
}

var _ interfaces.EventSink = (*LogSink)(nil)

// Publish logs the event
func (s *LogSink) Publish(event types.NarrativeEvent) {
	s.Logger.Info("Narrative event",
		zap.String("type", event.Type),
		zap.String("character_id", event.CharacterID),
		zap.String("raid_id", event.RaidID),
		zap.Any("payload", event.Payload),
		zap.Time("timestamp", event.Timestamp))
}

// MultiSink fans an event out to several sinks
type MultiSink []interfaces.EventSink

// Publish forwards the event to every sink
func (m MultiSink) Publish(event types.NarrativeEvent) {
	for _, s := range m {
		s.Publish(event)
	}
}

type nopSink struct{}

func (nopSink) Publish(types.NarrativeEvent) {}

// emit stamps and publishes an event
func (e *Engine) emit(event types.NarrativeEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = e.now()
	}
	e.events.Publish(event)
}
