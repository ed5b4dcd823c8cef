package realtime

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/sourcequill/backend/internal/platform/logger"
)

func mustTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	t.Cleanup(log.Sync)
	return log
}

func recvMessage(t *testing.T, ch <-chan SSEMessage, timeout time.Duration) SSEMessage {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(timeout):
		t.Fatalf("timed out waiting for SSE message")
	}
	return SSEMessage{}
}

func TestHubBroadcastOrderingAndClose(t *testing.T) {
	hub := NewSSEHub(mustTestLogger(t))
	channel := ConversationChannel(uuid.New())

	client := hub.NewSSEClient(uuid.New())
	hub.AddChannel(client, channel)

	hub.Broadcast(SSEMessage{Channel: channel, Event: SSEEventSourceStatusChanged, Data: map[string]any{"seq": 1}})
	hub.Broadcast(SSEMessage{Channel: channel, Event: SSEEventQuizReady, Data: map[string]any{"seq": 2}})

	if got := recvMessage(t, client.Outbound, time.Second); got.Event != SSEEventSourceStatusChanged {
		t.Fatalf("first event = %s, want %s", got.Event, SSEEventSourceStatusChanged)
	}
	if got := recvMessage(t, client.Outbound, time.Second); got.Event != SSEEventQuizReady {
		t.Fatalf("second event = %s, want %s", got.Event, SSEEventQuizReady)
	}

	hub.CloseClient(client)
	select {
	case _, ok := <-client.Outbound:
		if ok {
			t.Fatal("outbound should be closed after CloseClient")
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timed out waiting for outbound close")
	}
}

func TestHubChannelIsolation(t *testing.T) {
	hub := NewSSEHub(mustTestLogger(t))

	chA := ConversationChannel(uuid.New())
	chB := ConversationChannel(uuid.New())

	clientA := hub.NewSSEClient(uuid.New())
	clientB := hub.NewSSEClient(uuid.New())
	hub.AddChannel(clientA, chA)
	hub.AddChannel(clientB, chB)

	hub.Broadcast(SSEMessage{Channel: chA, Event: SSEEventQuizReady})

	if got := recvMessage(t, clientA.Outbound, time.Second); got.Channel != chA {
		t.Fatalf("clientA got channel %s, want %s", got.Channel, chA)
	}
	select {
	case msg := <-clientB.Outbound:
		t.Fatalf("clientB should not receive cross-channel message, got %v", msg)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHubRemoveChannelStopsDelivery(t *testing.T) {
	hub := NewSSEHub(mustTestLogger(t))
	channel := UserChannel(uuid.New())

	client := hub.NewSSEClient(uuid.New())
	hub.AddChannel(client, channel)
	hub.RemoveChannel(client, channel)

	hub.Broadcast(SSEMessage{Channel: channel, Event: SSEEventConversationUpdated})

	select {
	case msg := <-client.Outbound:
		t.Fatalf("unsubscribed client should not receive messages, got %v", msg)
	case <-time.After(100 * time.Millisecond):
	}
}
