// Package events implements the in-process publish/subscribe bus
// connecting the memory engine and learning ledger to the sync fabric
// and aggregation pipeline, adapted from the teacher's domain event bus
// (internal/domain/events/subscriber.go) generalized from a fixed
// "graph changed" event set to this module's own topics.
package events

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Topic names the kind of thing that happened. Components subscribe by
// topic; the bus does no further routing.
type Topic string

const (
	TopicMemoryStored Topic = "memory.stored"
	TopicMemoryArchived Topic = "memory.archived"
	TopicMemoryExpired Topic = "memory.expired"
	TopicLearningRecorded Topic = "learning.recorded"
	TopicPatternUpdated Topic = "pattern.updated"
	TopicInsightFired Topic = "insight.created"
	TopicSyncInbound Topic = "sync.inbound"
)

// Event is the envelope carried on the bus. Payload is whatever the
// publishing component attaches; subscribers type-assert it.
type Event struct {
	Topic Topic
	Payload interface{}
	PublishedAt time.Time
}

// Handler processes one event. Handler errors are logged, never
// propagated to the publisher.
type Handler func(ctx context.Context, e Event) error

// Bus is the process-wide pub/sub hub, built as an explicitly
// constructed object passed into components rather than a package-level
// singleton — callers build one in the DI container and thread it
// through.
type Bus struct {
	logger *zap.Logger
	handlers map[Topic][]Handler
}

// New builds an empty Bus.
func New(logger *zap.Logger) *Bus {
	return &Bus{
		logger: logger,
		handlers: make(map[Topic][]Handler),
	}
}

// Subscribe registers fn to run whenever an event is published on topic.
// Not safe to call concurrently with Publish/PublishSync; subscriptions
// are expected to be wired once at startup.
func (b *Bus) Subscribe(topic Topic, fn Handler) {
	b.handlers[topic] = append(b.handlers[topic], fn)
}

// Publish dispatches e to every subscriber of e.Topic, each on its own
// goroutine, and returns without waiting — the fire-and-forget path used
// by most write-path callers.
func (b *Bus) Publish(ctx context.Context, e Event) {
	e.PublishedAt = time.Now().UTC()
	for _, h := range b.handlers[e.Topic] {
		h := h
		go b.executeHandler(ctx, h, e)
	}
}

// PublishSync dispatches e to every subscriber of e.Topic and waits for
// all of them to finish, preserving FIFO order with respect to the
// caller's publish calls within a single subscriber.
func (b *Bus) PublishSync(ctx context.Context, e Event) {
	e.PublishedAt = time.Now().UTC()
	handlers := b.handlers[e.Topic]
	done := make(chan struct{}, len(handlers))
	for _, h := range handlers {
		h := h
		go func() {
			b.executeHandler(ctx, h, e)
			done <- struct{}{}
		}()
	}
	for range handlers {
		<-done
	}
}

// HandlerCount reports how many subscribers are registered per topic, for
// the edge API's per-component health detail.
func (b *Bus) HandlerCount() map[Topic]int {
	out := make(map[Topic]int, len(b.handlers))
	for topic, handlers := range b.handlers {
		out[topic] = len(handlers)
	}
	return out
}

func (b *Bus) executeHandler(ctx context.Context, h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked", zap.Any("panic", r), zap.String("topic", string(e.Topic)))
		}
	}()
	if err := h(ctx, e); err != nil {
		b.logger.Warn("event handler returned error", zap.Error(err), zap.String("topic", string(e.Topic)))
	}
}
