package syncfabric

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"memcore/internal/domain/learning"
	"memcore/internal/domain/memory"
	syncdomain "memcore/internal/domain/sync"
	coreerrors "memcore/internal/errors"
	"memcore/internal/events"
	"memcore/internal/observability"
)

// Config collects the fabric's tuning knobs, mirroring config.Sync.
type Config struct {
	ServiceID string
	DrainInterval time.Duration
	RetryDelay time.Duration
	RetryMaxDelay time.Duration
	MaxSendBatch int
	QueueHighWater int
}

func (c *Config) applyDefaults() {
	if c.DrainInterval <= 0 {
		c.DrainInterval = 2 * time.Second
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 2 * time.Second
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 2 * time.Minute
	}
	if c.MaxSendBatch <= 0 {
		c.MaxSendBatch = 10
	}
	if c.QueueHighWater <= 0 {
		c.QueueHighWater = 10000
	}
}

// peerRuntime pairs a registered sync.Peer with its live connection
// state and per-peer circuit breaker, the same grouping the teacher's
// Client struct makes around one websocket connection (interfaces/
// websocket/client.go) generalized from "one browser socket" to "one
// peer socket with its own durable queue".
type peerRuntime struct {
	mu sync.Mutex
	peer *syncdomain.Peer
	conn Conn
	wake chan struct{}
	breaker *gobreaker.CircuitBreaker
}

func newPeerRuntime(p *syncdomain.Peer) *peerRuntime {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: "sync-peer:" + p.ID,
		MaxRequests: 3,
		Interval: 10 * time.Second,
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 3 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
	})
	return &peerRuntime{peer: p, wake: make(chan struct{}, 1), breaker: cb}
}

func (r *peerRuntime) nudge() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// forceState sets the peer's state directly, bypassing validTransitions.
// Used only for an inbound accept (transport.go's ServeWS): the remote
// peer dialing us is a fresh session from its perspective regardless of
// what state our own outbound reconnect loop last left the peer in.
func (r *peerRuntime) forceState(to syncdomain.State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peer.State = to
}

func (r *peerRuntime) transition(to syncdomain.State, logger *zap.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.peer.To(to) {
		if logger != nil {
			logger.Warn("sync fabric: illegal peer state transition",
				zap.String("peer", r.peer.ID), zap.String("from", string(r.peer.State)), zap.String("to", string(to)))
		}
		return
	}
}

// Fabric is the sync fabric's runtime: the peer registry, the durable
// outbound queues behind it, and the inbound dispatcher.
type Fabric struct {
	cfg Config
	peers map[string]*peerRuntime // read-mostly, built once at New
	queue OutboundQueue
	transport Transport

	memoryWriter MemoryWriter
	learningWriter LearningWriter
	memorySource MemorySource
	learningSource LearningSource

	bus *events.Bus
	metrics *observability.Collector
	logger *zap.Logger
	broadcast chan *syncdomain.Envelope
}

// PeerConfig is the registry entry shape New reads from config.Peer.
type PeerConfig struct {
	ID string
	Endpoint string
	AcceptedDomains []string
	AcceptedKinds []syncdomain.PayloadKind
}

// New builds a Fabric with its peer registry populated from peerConfigs,
// implementing "Peer registry: loaded from configuration
// at startup."
func New(cfg Config, peerConfigs []PeerConfig, queue OutboundQueue, transport Transport, memoryWriter MemoryWriter, learningWriter LearningWriter, memorySource MemorySource, learningSource LearningSource, bus *events.Bus, metrics *observability.Collector, logger *zap.Logger) *Fabric {
	cfg.applyDefaults()
	peers := make(map[string]*peerRuntime, len(peerConfigs))
	for _, pc := range peerConfigs {
		kinds := make([]syncdomain.PayloadKind, len(pc.AcceptedKinds))
		copy(kinds, pc.AcceptedKinds)
		p := syncdomain.NewPeer(pc.ID, pc.Endpoint, pc.AcceptedDomains, kinds)
		peers[pc.ID] = newPeerRuntime(p)
	}
	return &Fabric{
		cfg: cfg,
		peers: peers,
		queue: queue,
		transport: transport,
		memoryWriter: memoryWriter,
		learningWriter: learningWriter,
		memorySource: memorySource,
		learningSource: learningSource,
		bus: bus,
		metrics: metrics,
		logger: logger,
		broadcast: make(chan *syncdomain.Envelope, 1000),
	}
}

// Start subscribes to the event bus so every memory/learning write fans
// out to the peers that declared interest, and launches one
// connect+sender pair per registered peer, until ctx is canceled.
func (f *Fabric) Start(ctx context.Context) {
	if f.bus != nil {
		f.bus.Subscribe(events.TopicMemoryStored, f.onMemoryStored)
		f.bus.Subscribe(events.TopicLearningRecorded, f.onLearningRecorded)
	}
	for id := range f.peers {
		id := id
		go f.runPeer(ctx, id)
	}
}

// onMemoryStored turns a memory-engine write into an outbound envelope
// and fans it out to interested peers: writers enqueue whenever a
// relevant event arrives on the event bus.
func (f *Fabric) onMemoryStored(ctx context.Context, e events.Event) error {
	entry, ok := e.Payload.(*memory.Entry)
	if !ok {
		return nil
	}
	payload, err := encodeMemory(entry)
	if err != nil {
		return err
	}
	env, err := syncdomain.NewEnvelope(syncdomain.Draft{
		Kind: syncdomain.PayloadMemory, Action: syncdomain.ActionUpdate,
		Source: f.cfg.ServiceID, Payload: payload,
	})
	if err != nil {
		return err
	}
	f.enqueueForPeers(ctx, entry.Domain, env)
	return nil
}

func (f *Fabric) onLearningRecorded(ctx context.Context, e events.Event) error {
	ev, ok := e.Payload.(*learning.Event)
	if !ok {
		return nil
	}
	payload, err := encodeLearning(ev)
	if err != nil {
		return err
	}
	env, err := syncdomain.NewEnvelope(syncdomain.Draft{
		Kind: syncdomain.PayloadLearning, Action: syncdomain.ActionCreate,
		Source: f.cfg.ServiceID, Payload: payload,
	})
	if err != nil {
		return err
	}
	f.enqueueForPeers(ctx, ev.Domain, env)
	return nil
}

// runPeer owns one peer's full lifecycle: dial/redial with exponential
// backoff, an inbound receive loop, and the FIFO sender loop, mirroring
// the teacher's per-client goroutine pair (readPump/writePump) but with
// the connection itself re-established on failure rather than torn down
// for good.
func (f *Fabric) runPeer(ctx context.Context, peerID string) {
	rt := f.peers[peerID]
	backoff := f.cfg.RetryDelay

	for {
		select {
		case <-ctx.Done():
			rt.transition(syncdomain.StateDisconnected, f.logger)
			return
		default:
		}

		rt.transition(syncdomain.StateConnecting, f.logger)
		conn, err := f.transport.Dial(ctx, rt.peer.Endpoint)
		if err != nil {
			if f.logger != nil {
				f.logger.Warn("sync fabric: dial failed", zap.String("peer", peerID), zap.Error(err))
			}
			rt.transition(syncdomain.StateError, f.logger)
			if !sleepOrDone(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff, f.cfg.RetryMaxDelay)
			rt.transition(syncdomain.StateDisconnected, f.logger)
			continue
		}
		if err := conn.SendIdentify(ctx, f.cfg.ServiceID); err != nil {
			conn.Close()
			rt.transition(syncdomain.StateError, f.logger)
			if !sleepOrDone(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff, f.cfg.RetryMaxDelay)
			rt.transition(syncdomain.StateDisconnected, f.logger)
			continue
		}

		rt.mu.Lock()
		rt.conn = conn
		rt.mu.Unlock()
		rt.transition(syncdomain.StateConnected, f.logger)
		backoff = f.cfg.RetryDelay
		if f.metrics != nil {
			f.metrics.PeerState.WithLabelValues(peerID, string(syncdomain.StateConnected)).Set(1)
		}

		connCtx, cancel := context.WithCancel(ctx)
		var wg sync.WaitGroup
		wg.Add(2)
		go func() { defer wg.Done(); f.receiveLoop(connCtx, rt, conn) }()
		go func() { defer wg.Done(); f.senderLoop(connCtx, rt) }()
		wg.Wait()
		cancel()

		rt.mu.Lock()
		rt.conn = nil
		rt.mu.Unlock()
		rt.transition(syncdomain.StateDisconnected, f.logger)

		if !sleepOrDone(ctx, f.cfg.RetryDelay) {
			return
		}
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if max > 0 && next > max {
		return max
	}
	return next
}

// receiveLoop reads inbound envelopes off conn and dispatches each,
// returning (ending the peer's connection) on any receive error.
func (f *Fabric) receiveLoop(ctx context.Context, rt *peerRuntime, conn Conn) {
	for {
		env, err := conn.Receive(ctx)
		if err != nil {
			return
		}
		rt.peer.Touch(time.Now().UTC())
		f.Dispatch(ctx, env)
	}
}

// senderLoop drains rt's durable queue in FIFO batches of at most
// cfg.MaxSendBatch, sending each through the peer's circuit breaker, and
// removes the batch from the queue only on send success. On send
// failure, the connection is marked error and the batch is left in
// place: Peek without Remove is the re-prepend, since a failed batch
// simply stays in the durable queue and is re-Peek'd on the next tick.
func (f *Fabric) senderLoop(ctx context.Context, rt *peerRuntime) {
	ticker := time.NewTicker(f.cfg.DrainInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-rt.wake:
		case <-ticker.C:
		}
		if !f.drainOnce(ctx, rt) {
			return
		}
	}
}

func (f *Fabric) drainOnce(ctx context.Context, rt *peerRuntime) bool {
	batch, err := f.queue.Peek(ctx, rt.peer.ID, int32(f.cfg.MaxSendBatch))
	if err != nil {
		if f.logger != nil {
			f.logger.Warn("sync fabric: queue peek failed", zap.String("peer", rt.peer.ID), zap.Error(err))
		}
		return true
	}
	for _, q := range batch {
		rt.mu.Lock()
		conn := rt.conn
		rt.mu.Unlock()
		if conn == nil {
			return false
		}

		_, err := rt.breaker.Execute(func() (interface{}, error) {
			return nil, conn.Send(ctx, q.Envelope)
		})
		if err != nil {
			if f.logger != nil {
				f.logger.Warn("sync fabric: send failed, marking peer error", zap.String("peer", rt.peer.ID), zap.Error(err))
			}
			rt.transition(syncdomain.StateError, f.logger)
			return false
		}

		if err := f.queue.Remove(ctx, rt.peer.ID, q.EnqueuedAt, q.Envelope.ID); err != nil && f.logger != nil {
			f.logger.Warn("sync fabric: queue remove failed", zap.String("peer", rt.peer.ID), zap.Error(err))
		}
		if f.metrics != nil {
			f.metrics.SyncSent.WithLabelValues(rt.peer.ID).Inc()
		}
	}
	return true
}

// Broadcast exposes the process-wide channel every outbound envelope is
// also published on. Non-blocking: when the channel's buffer is full the
// new envelope is dropped from the channel, never the write path.
func (f *Fabric) Broadcast() <-chan *syncdomain.Envelope { return f.broadcast }

func (f *Fabric) publishBroadcast(env *syncdomain.Envelope) {
	select {
	case f.broadcast <- env:
	default:
	}
}

// enqueueForPeers fans env.Kind/domain out to every peer that declared
// interest, dropping (with a metric) for any whose durable queue is at
// its high-water mark — backpressure policy ("newest
// writes for that peer are dropped with a warning... the peer can
// request a sync_request to catch up").
func (f *Fabric) enqueueForPeers(ctx context.Context, domain string, env *syncdomain.Envelope) {
	for id, rt := range f.peers {
		if !rt.peer.Accepts(domain, env.Kind) {
			continue
		}
		depth, err := f.queue.Depth(ctx, id)
		if err != nil && f.logger != nil {
			f.logger.Warn("sync fabric: queue depth check failed", zap.String("peer", id), zap.Error(err))
		}
		if depth >= f.cfg.QueueHighWater {
			if f.logger != nil {
				f.logger.Warn("sync fabric: peer queue at high-water mark, dropping envelope",
					zap.String("peer", id), zap.String("envelope", env.ID))
			}
			if f.metrics != nil {
				f.metrics.SyncDropped.WithLabelValues(id, "high_water").Inc()
			}
			continue
		}
		if err := f.queue.Enqueue(ctx, id, env); err != nil {
			if f.logger != nil {
				f.logger.Warn("sync fabric: enqueue failed", zap.String("peer", id), zap.Error(err))
			}
			continue
		}
		if f.metrics != nil {
			f.metrics.SyncEnqueued.WithLabelValues(id).Inc()
		}
		rt.nudge()
	}
	f.publishBroadcast(env)
}

// PeerStatus is a read-only snapshot of one registered peer's connection
// state, for the edge API's per-component health detail.
type PeerStatus struct {
	ID string
	Endpoint string
	State syncdomain.State
	LastSeenAt time.Time
}

// PeerStatuses snapshots every registered peer's current state.
func (f *Fabric) PeerStatuses() []PeerStatus {
	out := make([]PeerStatus, 0, len(f.peers))
	for _, rt := range f.peers {
		rt.mu.Lock()
		out = append(out, PeerStatus{
			ID: rt.peer.ID,
			Endpoint: rt.peer.Endpoint,
			State: rt.peer.State,
			LastSeenAt: rt.peer.LastSeenAt,
		})
		rt.mu.Unlock()
	}
	return out
}

var errUnknownPeer = coreerrors.NotFound("SYNC_PEER_UNKNOWN", "peer not registered").Build()

func (f *Fabric) peerRuntimeFor(id string) (*peerRuntime, error) {
	rt, ok := f.peers[id]
	if !ok {
		return nil, fmt.Errorf("syncfabric: %w", errUnknownPeer)
	}
	return rt, nil
}
