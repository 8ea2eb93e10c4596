package cache

import (
	"context"
	"time"
)

// Marker is a best-effort seen-before store used to short-circuit duplicate
// webhook deliveries and repeat client verification calls. The reconciliation
// engine stays correct without it; losing a marker only costs a redundant,
// idempotent invocation.
type Marker interface {
	// Seen reports whether the key was marked before, without marking it.
	Seen(ctx context.Context, key string) (bool, error)
	// MarkSeen records the key for ttl.
	MarkSeen(ctx context.Context, key string, ttl time.Duration) error
}

type NoopMarker struct{}

func (NoopMarker) Seen(_ context.Context, _ string) (bool, error) {
	return false, nil
}

func (NoopMarker) MarkSeen(_ context.Context, _ string, _ time.Duration) error {
	return nil
}
