// Package bus replicates realtime events across server instances so a client
// connected to one instance still sees events published by another.
package bus

import (
	"context"

	"github.com/sourcequill/backend/internal/realtime"
)

type Bus interface {
	Publish(ctx context.Context, msg realtime.SSEMessage) error
	StartForwarder(ctx context.Context, onMsg func(m realtime.SSEMessage)) error
	Close() error
}
