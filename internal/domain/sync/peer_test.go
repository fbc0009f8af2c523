package sync

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPeerAcceptsDomainAndKind(t *testing.T) {
	p := NewPeer("dspy", "wss://dspy.example.com/sync", []string{"legal"}, []PayloadKind{PayloadMemory})
	require.True(t, p.Accepts("legal", PayloadMemory))
	require.False(t, p.Accepts("legal", PayloadLearning))
	require.False(t, p.Accepts("marketing", PayloadMemory))
}

func TestPeerStateMachineHappyPath(t *testing.T) {
	p := NewPeer("dspy", "wss://dspy.example.com/sync", nil, nil)
	require.Equal(t, StateDisconnected, p.State)
	require.True(t, p.To(StateConnecting))
	require.True(t, p.To(StateConnected))
	require.True(t, p.To(StateError))
	require.True(t, p.To(StateDisconnected))
}

func TestPeerStateMachineRejectsIllegalTransition(t *testing.T) {
	p := NewPeer("dspy", "wss://dspy.example.com/sync", nil, nil)
	require.False(t, p.To(StateConnected))
	require.Equal(t, StateDisconnected, p.State)
}

func TestEnvelopeRejectsUnknownKind(t *testing.T) {
	_, err := NewEnvelope(Draft{Kind: "bogus", Action: ActionCreate, Source: "svc-a"})
	require.Error(t, err)
}

func TestAckReferencesOriginalEnvelopeID(t *testing.T) {
	ack := NewAck("svc-a", "env-123")
	require.Equal(t, "env-123", ack.ID)
	require.Equal(t, ActionAck, ack.Action)
}
