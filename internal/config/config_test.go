package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, Development, cfg.Environment)
	require.Equal(t, 8080, cfg.Edge.Port)
	require.Equal(t, "memcore", cfg.Warm.TableName)
	require.NotEmpty(t, cfg.Sync.ServiceID)
}

func TestValidateRejectsBadPeer(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	cfg.Peers["dspy"] = Peer{Endpoint: "", AcceptedDomains: nil, AcceptedKinds: nil}
	require.Error(t, Validate(cfg))
}

func TestValidateAcceptsGoodPeer(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	cfg.Peers["dspy"] = Peer{
		Endpoint:        "wss://dspy.example.com/sync",
		AcceptedDomains: []string{"legal"},
		AcceptedKinds:   []string{"memory"},
	}
	require.NoError(t, Validate(cfg))
}
