package syncfabric

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	syncdomain "memcore/internal/domain/sync"
)

const backfillBatchSize = 50

// SyncRequest is the payload carried by a sync_request envelope: what
// domain/kind the requester wants replayed, and since what instant —
// a backfill job pages history since the specified instant.
type SyncRequest struct {
	Domain string `json:"domain"`
	Kind syncdomain.PayloadKind `json:"kind"`
	Since time.Time `json:"since"`
}

// NewSyncRequestEnvelope builds the envelope a peer sends to ask this
// fabric for a backfill, exported so a caller driving a manual catch-up
// (e.g. an operator tool; the fabric's reconnect path sends none) can build
// one without reaching into the wire payload format.
func NewSyncRequestEnvelope(serviceID string, req SyncRequest) (*syncdomain.Envelope, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("syncfabric: encoding sync request: %w", err)
	}
	return syncdomain.NewEnvelope(syncdomain.Draft{
		Kind: req.Kind, Action: syncdomain.ActionSyncRequest,
		Source: serviceID, Payload: payload,
	})
}

// runBackfill replays history for the requested domain/kind since the
// requested instant, paging results to the requester in batches of 50 —
// backfill contract. Each replayed item is sent as its own envelope
// (update for memory entries, create for learning events), reusing the normal outbound queue/sender path so it
// benefits from the same durability and retry guarantees as a live
// write.
func (f *Fabric) runBackfill(ctx context.Context, env *syncdomain.Envelope) {
	var req SyncRequest
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		if f.logger != nil {
			f.logger.Warn("sync fabric: malformed sync_request", zap.String("envelope", env.ID), zap.Error(err))
		}
		return
	}

	rt, err := f.peerRuntimeFor(env.Source)
	if err != nil {
		if f.logger != nil {
			f.logger.Warn("sync fabric: sync_request from unknown peer", zap.String("peer", env.Source))
		}
		return
	}

	switch req.Kind {
	case syncdomain.PayloadMemory:
		f.backfillMemory(ctx, rt, req)
	case syncdomain.PayloadLearning:
		f.backfillLearning(ctx, rt, req)
	}
}

func (f *Fabric) backfillMemory(ctx context.Context, rt *peerRuntime, req SyncRequest) {
	if f.memorySource == nil {
		return
	}
	entries, err := f.memorySource.ListByDomain(ctx, req.Domain)
	if err != nil {
		if f.logger != nil {
			f.logger.Warn("sync fabric: backfill memory list failed", zap.String("domain", req.Domain), zap.Error(err))
		}
		return
	}

	sent := 0
	for _, e := range entries {
		if e.Metadata.CreatedAt.Before(req.Since) {
			continue
		}
		payload, err := encodeMemory(e)
		if err != nil {
			continue
		}
		env, err := syncdomain.NewEnvelope(syncdomain.Draft{
			Kind: syncdomain.PayloadMemory, Action: syncdomain.ActionUpdate,
			Source: f.cfg.ServiceID, Target: rt.peer.ID, Payload: payload,
		})
		if err != nil {
			continue
		}
		if err := f.queue.Enqueue(ctx, rt.peer.ID, env); err != nil {
			if f.logger != nil {
				f.logger.Warn("sync fabric: backfill enqueue failed", zap.String("peer", rt.peer.ID), zap.Error(err))
			}
			return
		}
		sent++
		if sent%backfillBatchSize == 0 {
			rt.nudge()
		}
	}
	rt.nudge()
}

func (f *Fabric) backfillLearning(ctx context.Context, rt *peerRuntime, req SyncRequest) {
	if f.learningSource == nil {
		return
	}
	events, err := f.learningSource.ListSince(ctx, req.Domain, req.Since, 0)
	if err != nil {
		if f.logger != nil {
			f.logger.Warn("sync fabric: backfill learning list failed", zap.String("domain", req.Domain), zap.Error(err))
		}
		return
	}

	sent := 0
	for _, ev := range events {
		payload, err := encodeLearning(ev)
		if err != nil {
			continue
		}
		env, err := syncdomain.NewEnvelope(syncdomain.Draft{
			Kind: syncdomain.PayloadLearning, Action: syncdomain.ActionCreate,
			Source: f.cfg.ServiceID, Target: rt.peer.ID, Payload: payload,
		})
		if err != nil {
			continue
		}
		if err := f.queue.Enqueue(ctx, rt.peer.ID, env); err != nil {
			if f.logger != nil {
				f.logger.Warn("sync fabric: backfill enqueue failed", zap.String("peer", rt.peer.ID), zap.Error(err))
			}
			return
		}
		sent++
		if sent%backfillBatchSize == 0 {
			rt.nudge()
		}
	}
	rt.nudge()
}
