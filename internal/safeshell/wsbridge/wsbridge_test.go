package wsbridge

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/be-wise-be-kind/safeshell-sub000/internal/safeshell/events"
)

func TestBridgeStreamsPublishedEvents(t *testing.T) {
	bus := events.NewBus(nil)
	server := httptest.NewServer(New(bus, nil))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.CloseNow()

	// Give the server a moment to finish subscribing before publishing.
	time.Sleep(50 * time.Millisecond)
	bus.Publish(events.NewCommandReceived("ls -la", "/tmp", 999))

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	var ev events.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("unmarshal streamed event: %v", err)
	}
	if ev.Type != events.TypeCommandReceived {
		t.Errorf("Type = %q, want %q", ev.Type, events.TypeCommandReceived)
	}
}

func TestBridgeUnsubscribesOnDisconnect(t *testing.T) {
	bus := events.NewBus(nil)
	server := httptest.NewServer(New(bus, nil))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	conn.Close(websocket.StatusNormalClosure, "bye")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if bus.Count() == 0 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("expected the bridge to unsubscribe after the client disconnected, subscribers=%d", bus.Count())
}
