package syncfabric

import (
	"encoding/json"
	"fmt"

	"memcore/internal/domain/learning"
	"memcore/internal/domain/memory"
)

// encodeMemory/decodeMemory and encodeLearning/decodeLearning serialize
// the domain aggregates carried as an envelope's opaque payload bytes.
// encoding/json is the stdlib choice already established for the hot
// tier's pattern serialization (internal/ledger) — no object-serialization
// library appears anywhere in the retrieval pack, so this envelope codec
// follows the same precedent rather than introducing a new one; see
// DESIGN.md.
func encodeMemory(e *memory.Entry) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("syncfabric: encoding memory payload %s: %w", e.ID, err)
	}
	return data, nil
}

func decodeMemory(payload []byte) (*memory.Entry, error) {
	var e memory.Entry
	if err := json.Unmarshal(payload, &e); err != nil {
		return nil, fmt.Errorf("syncfabric: decoding memory payload: %w", err)
	}
	return &e, nil
}

func encodeLearning(ev *learning.Event) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("syncfabric: encoding learning payload %s: %w", ev.ID, err)
	}
	return data, nil
}

func decodeLearning(payload []byte) (*learning.Event, error) {
	var ev learning.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("syncfabric: decoding learning payload: %w", err)
	}
	return &ev, nil
}
