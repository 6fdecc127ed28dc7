package websocket

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	gorillaws "github.com/gorilla/websocket"

	"learnkit/core"
	"learnkit/realtime"
)

func dial(t *testing.T, url string) *gorillaws.Conn {
	t.Helper()
	wsURL := "ws" + url[len("http"):] // convert http->ws
	conn, _, err := gorillaws.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial ws: %v", err)
	}
	return conn
}

func waitForSubscribers(t *testing.T, hub *realtime.Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Subscribers() < n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d subscribers, got %d", n, hub.Subscribers())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHandlerStreamsEvents(t *testing.T) {
	hub := realtime.NewHub()
	server := httptest.NewServer(Handler(hub))
	defer server.Close()

	conn := dial(t, server.URL)
	defer conn.Close()
	waitForSubscribers(t, hub, 1)

	ev := core.NewXPAwarded("alice", core.XPQuizPassed, 50, 50)
	_ = hub.Broadcast(context.Background(), ev)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read message: %v", err)
	}

	var received core.Event
	if err := json.Unmarshal(msg, &received); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if received.UserID != "alice" || received.Total != 50 {
		t.Fatalf("unexpected event: %+v", received)
	}
}

func TestHandlerFiltersByUser(t *testing.T) {
	hub := realtime.NewHub()
	server := httptest.NewServer(Handler(hub))
	defer server.Close()

	conn := dial(t, server.URL+"?user_id=Bob")
	defer conn.Close()
	waitForSubscribers(t, hub, 1)

	_ = hub.Broadcast(context.Background(), core.NewLevelUp("alice", 2, 100))
	_ = hub.Broadcast(context.Background(), core.NewLevelUp("bob", 4, 400))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read message: %v", err)
	}
	var received core.Event
	if err := json.Unmarshal(msg, &received); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if received.UserID != "bob" || received.Level != 4 {
		t.Fatalf("expected bob's level-up, got %+v", received)
	}
}

func TestHandlerUnsubscribesOnClose(t *testing.T) {
	hub := realtime.NewHub()
	server := httptest.NewServer(Handler(hub))
	defer server.Close()

	conn := dial(t, server.URL)
	waitForSubscribers(t, hub, 1)
	_ = conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Subscribers() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscription leaked after client disconnect")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
