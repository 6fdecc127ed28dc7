package realtime

import (
	"context"
	"encoding/json"
	"testing"

	"learnkit/core"
)

func TestHubSubscribeBroadcastUnsubscribe(t *testing.T) {
	h := NewHub()
	id, ch := h.Subscribe(1, nil)

	ev := core.NewXPAwarded("bob", core.XPQuizPassed, 50, 50)
	_ = h.Broadcast(context.Background(), ev)

	received := <-ch
	if received.UserID != "bob" || received.Type != core.EventXPAwarded {
		t.Fatalf("unexpected event: %+v", received)
	}

	h.Unsubscribe(id)
	_, ok := <-ch
	if ok {
		t.Fatal("expected channel closed after unsubscribe")
	}
	if h.Subscribers() != 0 {
		t.Fatalf("expected no subscribers, got %d", h.Subscribers())
	}
}

func TestHubFiltersByUser(t *testing.T) {
	h := NewHub()
	_, ch := h.Subscribe(4, ForUser("alice"))

	_ = h.Broadcast(context.Background(), core.NewLevelUp("bob", 2, 100))
	_ = h.Broadcast(context.Background(), core.NewLevelUp("alice", 3, 250))

	select {
	case ev := <-ch:
		if ev.UserID != "alice" || ev.Level != 3 {
			t.Fatalf("unexpected event: %+v", ev)
		}
	default:
		t.Fatal("expected alice's event")
	}
	select {
	case ev := <-ch:
		t.Fatalf("unexpected extra event: %+v", ev)
	default:
	}
}

func TestHubDropsWhenFull(t *testing.T) {
	h := NewHub()
	_, _ = h.Subscribe(1, nil)

	for i := 0; i < 3; i++ {
		_ = h.Broadcast(context.Background(), core.NewCourseCompleted("u", "go-101"))
	}
	if h.Dropped() != 2 {
		t.Fatalf("expected 2 dropped, got %d", h.Dropped())
	}
}

func TestMarshalJSON(t *testing.T) {
	ev := core.NewBadgeAwarded("alice", core.Badge{ID: "b1", Slug: "first-quiz", Rarity: core.RarityCommon}, 10)
	b := MarshalJSON(ev)
	var out core.Event
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Badge != "b1" || out.Delta != 10 {
		t.Fatalf("unexpected event: %+v", out)
	}
}
