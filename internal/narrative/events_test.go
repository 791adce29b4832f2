package narrative

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/user/narrative-engine/internal/types"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogSink(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	sink := &LogSink{Logger: zap.New(core)}

	sink.Publish(types.NarrativeEvent{
		Type:        types.EventRaidStarted,
		CharacterID: "v",
		RaidID:      "bw-1",
		Timestamp:   time.Now(),
	})

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "Narrative event", entry.Message)
	assert.Equal(t, types.EventRaidStarted, entry.ContextMap()["type"])
	assert.Equal(t, "bw-1", entry.ContextMap()["raid_id"])
}

func TestMultiSinkFansOut(t *testing.T) {
	a, b := &recordingSink{}, &recordingSink{}
	MultiSink{a, b}.Publish(types.NarrativeEvent{Type: types.EventSanityChanged})

	assert.Equal(t, []string{types.EventSanityChanged}, a.eventTypes())
	assert.Equal(t, []string{types.EventSanityChanged}, b.eventTypes())
}

func TestEmitStampsTimestamp(t *testing.T) {
	e := newTestEngine(t)
	fixed := time.Date(2077, 8, 20, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return fixed }
	sink := &recordingSink{}
	e.SetEventSink(sink)

	e.emit(types.NarrativeEvent{Type: types.EventRaidStarted})
	require.Len(t, sink.events, 1)
	assert.Equal(t, fixed, sink.events[0].Timestamp)

	// a nil sink falls back to discarding
	e.SetEventSink(nil)
	assert.NotPanics(t, func() { e.emit(types.NarrativeEvent{Type: types.EventRaidStarted}) })
}
