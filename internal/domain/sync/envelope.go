// Package sync holds the SyncEnvelope and Peer aggregates used by the
// sync fabric, adapted from the teacher's outbox envelope and
// websocket peer/connection types generalized to this module's own
// cross-service replication protocol.
package sync

import (
	"time"

	"github.com/google/uuid"

	coreerrors "memcore/internal/errors"
)

// PayloadKind identifies what an envelope carries.
type PayloadKind string

const (
	PayloadMemory PayloadKind = "memory"
	PayloadLearning PayloadKind = "learning"
	PayloadModel PayloadKind = "model"
	PayloadConfiguration PayloadKind = "configuration"
)

// Action identifies what the envelope asks the receiver to do.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionSyncRequest Action = "sync_request"
	ActionAck Action = "ack"
	ActionError Action = "error"
)

// Envelope is the unit of cross-service replication.
type Envelope struct {
	ID string
	Kind PayloadKind
	Action Action
	Source string
	Target string // optional
	Payload []byte // opaque, already serialized
	OriginatedAt time.Time
	CorrelationID string // optional

	// ErrorReason is populated only when Action == ActionError.
	ErrorReason string
}

// Draft is the caller-supplied shape for NewEnvelope.
type Draft struct {
	Kind PayloadKind
	Action Action
	Source string
	Target string
	Payload []byte
	CorrelationID string
}

// NewEnvelope validates a Draft and assigns identity and origination instant.
func NewEnvelope(d Draft) (*Envelope, error) {
	if d.Source == "" {
		return nil, coreerrors.InvalidInput("ENVELOPE_SOURCE_REQUIRED", "source service id is required").Build()
	}
	switch d.Kind {
	case PayloadMemory, PayloadLearning, PayloadModel, PayloadConfiguration:
	default:
		return nil, coreerrors.InvalidInput("ENVELOPE_KIND_INVALID", "kind must be one of memory, learning, model, configuration").Build()
	}
	switch d.Action {
	case ActionCreate, ActionUpdate, ActionDelete, ActionSyncRequest, ActionAck, ActionError:
	default:
		return nil, coreerrors.InvalidInput("ENVELOPE_ACTION_INVALID", "unrecognized action").Build()
	}

	return &Envelope{
		ID: uuid.NewString(),
		Kind: d.Kind,
		Action: d.Action,
		Source: d.Source,
		Target: d.Target,
		Payload: d.Payload,
		OriginatedAt: time.Now().UTC(),
		CorrelationID: d.CorrelationID,
	}, nil
}

// NewAck builds an acknowledgement envelope referencing envelopeID as its
// own id, per ("Acks reference the original envelope id").
func NewAck(source, envelopeID string) *Envelope {
	return &Envelope{
		ID: envelopeID,
		Kind: PayloadConfiguration,
		Action: ActionAck,
		Source: source,
		OriginatedAt: time.Now().UTC(),
	}
}

// NewError builds an error envelope referencing envelopeID with reason.
func NewError(source, envelopeID, reason string) *Envelope {
	return &Envelope{
		ID: envelopeID,
		Kind: PayloadConfiguration,
		Action: ActionError,
		Source: source,
		OriginatedAt: time.Now().UTC(),
		ErrorReason: reason,
	}
}
