package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitSync_RunsAllHandlers(t *testing.T) {
	bus := NewEventBus()
	var calls atomic.Int32

	for _, name := range []string{"store", "mqtt"} {
		bus.Subscribe(EventSnapshotCollected, name, func(ctx context.Context, e Event) error {
			calls.Add(1)
			return nil
		})
	}

	require.NoError(t, bus.EmitSync(context.Background(), Event{Type: EventSnapshotCollected}))
	assert.Equal(t, int32(2), calls.Load())
}

func TestEmitSync_ReturnsHandlerError(t *testing.T) {
	bus := NewEventBus()
	boom := errors.New("boom")
	bus.Subscribe(EventQueryFailed, "bad", func(ctx context.Context, e Event) error { return boom })

	assert.ErrorIs(t, bus.EmitSync(context.Background(), Event{Type: EventQueryFailed}), boom)
}

func TestEmit_RecoversPanics(t *testing.T) {
	bus := NewEventBus()
	var ran atomic.Bool
	bus.Subscribe(EventShutdown, "panics", func(ctx context.Context, e Event) error { panic("no") })
	bus.Subscribe(EventShutdown, "ok", func(ctx context.Context, e Event) error {
		ran.Store(true)
		return nil
	})

	bus.Emit(context.Background(), Event{Type: EventShutdown})
	bus.Stop()
	assert.True(t, ran.Load())
}

func TestUnsubscribe(t *testing.T) {
	bus := NewEventBus()
	noop := func(ctx context.Context, e Event) error { return nil }
	bus.Subscribe(EventSnapshotCollected, "a", noop)
	bus.Subscribe(EventSnapshotCollected, "b", noop)

	bus.Unsubscribe(EventSnapshotCollected, "a")
	assert.Equal(t, 1, bus.HandlerCount(EventSnapshotCollected))
}

func TestStop_DropsLaterEvents(t *testing.T) {
	bus := NewEventBus()
	var calls atomic.Int32
	bus.Subscribe(EventSnapshotCollected, "count", func(ctx context.Context, e Event) error {
		calls.Add(1)
		return nil
	})

	bus.Stop()
	bus.Stop()
	bus.Emit(context.Background(), Event{Type: EventSnapshotCollected})
	require.NoError(t, bus.EmitSync(context.Background(), Event{Type: EventSnapshotCollected}))

	assert.Zero(t, calls.Load())
	select {
	case <-bus.StopCh():
	default:
		t.Fatal("stop channel not closed")
	}
}

func TestPollStateJSON(t *testing.T) {
	data, err := json.Marshal(map[string]PollState{"a": PollStateOnline, "b": PollStateFailed})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":"online","b":"failed"}`, string(data))
}
