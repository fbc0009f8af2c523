package syncfabric

import (
	"context"

	syncdomain "memcore/internal/domain/sync"
	"memcore/internal/tier/warm"
)

// durableQueue adapts *warm.EnvelopeQueueStore to the OutboundQueue port:
// the two Queued types are structurally identical but distinct named
// types (one per package, following each package's own dependency
// direction), so production wiring goes through this thin adapter rather
// than syncfabric importing warm.Queued directly into its public port.
type durableQueue struct {
	store *warm.EnvelopeQueueStore
}

// NewDurableQueue wraps store as an OutboundQueue for production use.
func NewDurableQueue(store *warm.EnvelopeQueueStore) OutboundQueue {
	return &durableQueue{store: store}
}

func (d *durableQueue) Enqueue(ctx context.Context, peerID string, env *syncdomain.Envelope) error {
	return d.store.Enqueue(ctx, peerID, env)
}

func (d *durableQueue) Peek(ctx context.Context, peerID string, limit int32) ([]Queued, error) {
	rows, err := d.store.Peek(ctx, peerID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]Queued, len(rows))
	for i, r := range rows {
		out[i] = Queued{Envelope: r.Envelope, EnqueuedAt: r.EnqueuedAt}
	}
	return out, nil
}

func (d *durableQueue) Remove(ctx context.Context, peerID, enqueuedAt, envelopeID string) error {
	return d.store.Remove(ctx, peerID, enqueuedAt, envelopeID)
}

func (d *durableQueue) Depth(ctx context.Context, peerID string) (int, error) {
	return d.store.Depth(ctx, peerID)
}
