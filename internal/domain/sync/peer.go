package sync

import "time"

// State is a Peer's connection state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting State = "connecting"
	StateConnected State = "connected"
	StateError State = "error"
)

// validTransitions enumerates the peer state machine's allowed edges, per
// transition table. Checked by Peer.To so an inbound/outbound
// path bug can never silently corrupt the reported connection state.
var validTransitions = map[State]map[State]bool{
	StateDisconnected: {StateConnecting: true},
	StateConnecting: {StateConnected: true, StateError: true, StateDisconnected: true},
	StateConnected: {StateError: true, StateDisconnected: true},
	StateError: {StateDisconnected: true},
}

// Peer is a known remote service the sync fabric replicates to.
type Peer struct {
	ID string
	Endpoint string
	AcceptedDomains map[string]struct{}
	AcceptedKinds map[PayloadKind]struct{}
	State State
	LastSeenAt time.Time
}

// NewPeer constructs a Peer in its initial Disconnected state.
func NewPeer(id, endpoint string, domains []string, kinds []PayloadKind) *Peer {
	domainSet := make(map[string]struct{}, len(domains))
	for _, d := range domains {
		domainSet[d] = struct{}{}
	}
	kindSet := make(map[PayloadKind]struct{}, len(kinds))
	for _, k := range kinds {
		kindSet[k] = struct{}{}
	}
	return &Peer{
		ID: id,
		Endpoint: endpoint,
		AcceptedDomains: domainSet,
		AcceptedKinds: kindSet,
		State: StateDisconnected,
	}
}

// Accepts reports whether this peer should receive envelopes for the given
// domain and payload kind.
func (p *Peer) Accepts(domain string, kind PayloadKind) bool {
	_, domainOK := p.AcceptedDomains[domain]
	_, kindOK := p.AcceptedKinds[kind]
	return domainOK && kindOK
}

// To attempts a state transition, returning false if it is not legal from
// the peer's current state (an any→Disconnected transition on shutdown is
// always legal and handled separately by callers via a direct assignment).
func (p *Peer) To(next State) bool {
	if !validTransitions[p.State][next] {
		return false
	}
	p.State = next
	return true
}

// Touch records that a message was received from the peer, updating
// last-seen regardless of state.
func (p *Peer) Touch(at time.Time) {
	p.LastSeenAt = at
}
