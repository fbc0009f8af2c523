package syncfabric

import (
	"context"

	"go.uber.org/zap"

	syncdomain "memcore/internal/domain/sync"
	"memcore/internal/events"
)

// Dispatch handles one inbound envelope end to end: the self-source loop
// guard, per-kind dispatch to the memory/learning writers or the bus, and
// the resulting ack/error reply.
func (f *Fabric) Dispatch(ctx context.Context, env *syncdomain.Envelope) {
	if env.Source == f.cfg.ServiceID {
		return // loop guard
	}

	var err error
	switch env.Action {
	case syncdomain.ActionAck, syncdomain.ActionError:
		// Replies to our own outbound sends carry no further action here;
		// the sender loop already removed the envelope from the queue on
		// a successful Send.
		return
	case syncdomain.ActionSyncRequest:
		go f.runBackfill(context.Background(), env)
		return
	default:
		err = f.applyInbound(ctx, env)
	}

	reply := syncdomain.NewAck(f.cfg.ServiceID, env.ID)
	if err != nil {
		reply = syncdomain.NewError(f.cfg.ServiceID, env.ID, err.Error())
		if f.logger != nil {
			f.logger.Warn("sync fabric: inbound dispatch failed", zap.String("envelope", env.ID), zap.Error(err))
		}
	}
	f.sendReply(ctx, env.Source, reply)
}

// applyInbound routes a create/update/delete envelope to the right
// writer by kind, or onto the bus's inbound-sync topic for kinds this
// core does not own the storage of.
func (f *Fabric) applyInbound(ctx context.Context, env *syncdomain.Envelope) error {
	switch env.Kind {
	case syncdomain.PayloadMemory:
		entry, err := decodeMemory(env.Payload)
		if err != nil {
			return err
		}
		return f.memoryWriter.ApplyRemote(ctx, entry)

	case syncdomain.PayloadLearning:
		ev, err := decodeLearning(env.Payload)
		if err != nil {
			return err
		}
		return f.learningWriter.ApplyRemote(ctx, ev)

	case syncdomain.PayloadConfiguration, syncdomain.PayloadModel:
		if f.bus != nil {
			f.bus.Publish(ctx, events.Event{Topic: events.TopicSyncInbound, Payload: env})
		}
		return nil

	default:
		return nil
	}
}

// sendReply enqueues an ack/error envelope targeting the originating
// peer. A reply to a peer this fabric has no registry entry for (e.g. an
// envelope relayed through a broadcast subscriber rather than a direct
// peer connection) is logged and dropped rather than treated as fatal.
func (f *Fabric) sendReply(ctx context.Context, targetPeerID string, reply *syncdomain.Envelope) {
	reply.Target = targetPeerID
	rt, err := f.peerRuntimeFor(targetPeerID)
	if err != nil {
		if f.logger != nil {
			f.logger.Warn("sync fabric: cannot reply, peer unknown", zap.String("peer", targetPeerID))
		}
		return
	}
	if err := f.queue.Enqueue(ctx, rt.peer.ID, reply); err != nil {
		if f.logger != nil {
			f.logger.Warn("sync fabric: enqueueing reply failed", zap.String("peer", targetPeerID), zap.Error(err))
		}
		return
	}
	rt.nudge()
}
