package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"learnkit/core"
)

func TestEventBusSync(t *testing.T) {
	bus := NewEventBus(DispatchSync)
	count := 0
	bus.Subscribe(core.EventXPAwarded, func(ctx context.Context, e core.Event) { count++ })
	bus.Publish(context.Background(), core.NewXPAwarded("u", core.XPLessonCompleted, 10, 10))
	assert.Equal(t, 1, count)
}

func TestEventBusAsync(t *testing.T) {
	bus := NewEventBus(DispatchAsync)
	defer bus.Close()
	ch := make(chan struct{})
	bus.Subscribe(core.EventXPAwarded, func(ctx context.Context, e core.Event) { close(ch) })
	bus.Publish(context.Background(), core.NewXPAwarded("u", core.XPLessonCompleted, 10, 10))
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("timeout")
	}
}

func TestEventBusUnsubscribe(t *testing.T) {
	bus := NewEventBus(DispatchSync)
	count := 0
	unsub := bus.Subscribe(core.EventLevelUp, func(ctx context.Context, e core.Event) { count++ })
	bus.Publish(context.Background(), core.NewLevelUp("u", 2, 100))
	unsub()
	bus.Publish(context.Background(), core.NewLevelUp("u", 3, 225))
	assert.Equal(t, 1, count)
}

func TestEventBusRecoversHandlerPanic(t *testing.T) {
	bus := NewEventBus(DispatchSync)
	reached := false
	bus.Subscribe(core.EventBadgeAwarded, func(ctx context.Context, e core.Event) { panic("boom") })
	bus.Subscribe(core.EventBadgeAwarded, func(ctx context.Context, e core.Event) { reached = true })
	assert.NotPanics(t, func() {
		bus.Publish(context.Background(), core.NewBadgeAwarded("u", core.Badge{ID: "b"}, 10))
	})
	assert.True(t, reached)
}

func TestEventBusCloseIsIdempotent(t *testing.T) {
	bus := NewEventBus(DispatchAsync)
	bus.Close()
	assert.NotPanics(t, bus.Close)
}
