package bus

import (
	"context"
	"testing"

	"github.com/sourcequill/backend/internal/realtime"
)

func TestLocalBusRoundTrip(t *testing.T) {
	b := NewLocalBus()

	var got []realtime.SSEMessage
	if err := b.StartForwarder(context.Background(), func(m realtime.SSEMessage) {
		got = append(got, m)
	}); err != nil {
		t.Fatalf("StartForwarder: %v", err)
	}

	msg := realtime.SSEMessage{Channel: "user:abc", Event: realtime.SSEEventQuizReady}
	if err := b.Publish(context.Background(), msg); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if len(got) != 1 || got[0].Channel != "user:abc" {
		t.Fatalf("forwarder got %v, want the published message", got)
	}
}

func TestLocalBusPublishBeforeForwarder(t *testing.T) {
	b := NewLocalBus()
	// No forwarder yet: publish is a no-op, not an error.
	if err := b.Publish(context.Background(), realtime.SSEMessage{Channel: "x"}); err != nil {
		t.Fatalf("Publish without forwarder: %v", err)
	}
}
