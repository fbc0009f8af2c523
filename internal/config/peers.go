package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// peersFile is the on-disk shape of MEMCORE_PEERS_FILE: a simple YAML
// map of peer id to its declared endpoint/domains/kinds — the "peer
// table" configuration option.
type peersFile struct {
	Peers map[string]Peer `yaml:"peers"`
}

func loadPeersFile(path string) (map[string]Peer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var pf peersFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, err
	}
	if pf.Peers == nil {
		pf.Peers = map[string]Peer{}
	}
	return pf.Peers, nil
}
