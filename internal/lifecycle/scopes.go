package lifecycle

import (
	"context"
	"sync"

	"memcore/internal/domain/memory"
	"memcore/internal/events"
	"memcore/internal/tier"
)

// ScopeRegistry tracks every (service, agent, domain) triple the core has
// seen a memory written for, so the expiry and archive sweepers (which
// scan by scope, tier.Sweepers.RunExpirySweeper/RunArchiveSweeper) know
// what to visit without a separate directory service. It subscribes to
// TopicMemoryStored rather than requiring every caller to register a
// scope up front.
type ScopeRegistry struct {
	mu     sync.RWMutex
	scopes map[tier.Scope]struct{}
}

// NewScopeRegistry builds an empty registry and subscribes it to bus.
func NewScopeRegistry(bus *events.Bus) *ScopeRegistry {
	r := &ScopeRegistry{scopes: make(map[tier.Scope]struct{})}
	bus.Subscribe(events.TopicMemoryStored, func(ctx context.Context, e events.Event) error {
		entry, ok := e.Payload.(*memory.Entry)
		if !ok {
			return nil
		}
		r.observe(tier.Scope{ServiceID: entry.ServiceID, AgentID: entry.AgentID, Domain: entry.Domain})
		return nil
	})
	return r
}

func (r *ScopeRegistry) observe(s tier.Scope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scopes[s] = struct{}{}
}

// Scopes snapshots every scope observed so far, in the shape
// tier.Sweepers expects from its scopes callback.
func (r *ScopeRegistry) Scopes() []tier.Scope {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]tier.Scope, 0, len(r.scopes))
	for s := range r.scopes {
		out = append(out, s)
	}
	return out
}
