// Package syncfabric implements the peer registry, durable per-peer
// outbound queues, the bidirectional websocket transport, and inbound
// dispatch/backfill. The connection lifecycle mirrors a websocket hub's
// register/unregister/broadcast-channel shape and read-pump/write-pump
// pair, generalized from "browser client holding a user's connections"
// to "peer service holding a sync session", plus a gobreaker-based
// per-peer send breaker.
package syncfabric

import (
	"context"
	"time"

	"memcore/internal/domain/learning"
	"memcore/internal/domain/memory"
	syncdomain "memcore/internal/domain/sync"
)

// MemoryWriter is the slice of the memory engine the fabric's inbound
// dispatcher needs: *engine.Engine satisfies it in production.
type MemoryWriter interface {
	ApplyRemote(ctx context.Context, remote *memory.Entry) error
}

// LearningWriter is the slice of the learning ledger the fabric's
// inbound dispatcher needs: *ledger.Ledger satisfies it in production.
type LearningWriter interface {
	ApplyRemote(ctx context.Context, ev *learning.Event) error
}

// MemorySource is the slice of the tier store the backfill job reads
// from for memory sync_request envelopes: *tier.Store satisfies it in
// production.
type MemorySource interface {
	ListByDomain(ctx context.Context, domain string) ([]*memory.Entry, error)
}

// LearningSource is the slice of its event store the backfill job reads
// from for learning sync_request envelopes: *warm.EventStore satisfies
// it in production (the same method the ledger's own EventStore port
// depends on).
type LearningSource interface {
	ListSince(ctx context.Context, domain string, since time.Time, limit int32) ([]*learning.Event, error)
}

// Queued pairs an envelope with the durable-queue row handle Remove
// needs to delete it. Mirrors warm.Queued so production code can pass
// *warm.EnvelopeQueueStore straight through without an adapter.
type Queued struct {
	Envelope *syncdomain.Envelope
	EnqueuedAt string
}

// OutboundQueue is the durable per-peer queue: envelopes enqueued on it
// survive a restart. *warm.EnvelopeQueueStore satisfies it in
// production.
type OutboundQueue interface {
	Enqueue(ctx context.Context, peerID string, env *syncdomain.Envelope) error
	Peek(ctx context.Context, peerID string, limit int32) ([]Queued, error)
	Remove(ctx context.Context, peerID, enqueuedAt, envelopeID string) error
	Depth(ctx context.Context, peerID string) (int, error)
}

// Conn is one open bidirectional connection to a peer, abstracting over
// the gorilla/websocket transport so the fabric's send/receive logic is
// testable without a live socket (fakeConn in fabric_test.go).
type Conn interface {
	SendIdentify(ctx context.Context, serviceID string) error
	Send(ctx context.Context, env *syncdomain.Envelope) error
	Receive(ctx context.Context) (*syncdomain.Envelope, error)
	Close() error
}

// Transport dials a peer's endpoint and returns an open Conn. On open
// the core sends an identify frame; each subsequent message is a sync
// envelope. *wsTransport satisfies it in production.
type Transport interface {
	Dial(ctx context.Context, endpoint string) (Conn, error)
}
