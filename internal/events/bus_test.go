package events

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPublishSyncWaitsForAllHandlers(t *testing.T) {
	b := New(zap.NewNop())
	var count int32
	b.Subscribe(TopicMemoryStored, func(ctx context.Context, e Event) error {
		atomic.AddInt32(&count, 1)
		return nil
	})
	b.Subscribe(TopicMemoryStored, func(ctx context.Context, e Event) error {
		atomic.AddInt32(&count, 1)
		return nil
	})

	b.PublishSync(context.Background(), Event{Topic: TopicMemoryStored, Payload: "x"})
	require.EqualValues(t, 2, atomic.LoadInt32(&count))
}

func TestHandlerErrorDoesNotPropagate(t *testing.T) {
	b := New(zap.NewNop())
	b.Subscribe(TopicInsightFired, func(ctx context.Context, e Event) error {
		return errors.New("boom")
	})
	require.NotPanics(t, func() {
		b.PublishSync(context.Background(), Event{Topic: TopicInsightFired})
	})
}

func TestHandlerPanicDoesNotCrashPublisher(t *testing.T) {
	b := New(zap.NewNop())
	b.Subscribe(TopicPatternUpdated, func(ctx context.Context, e Event) error {
		panic("boom")
	})
	require.NotPanics(t, func() {
		b.PublishSync(context.Background(), Event{Topic: TopicPatternUpdated})
	})
}

func TestUnsubscribedTopicIsNoop(t *testing.T) {
	b := New(zap.NewNop())
	require.NotPanics(t, func() {
		b.Publish(context.Background(), Event{Topic: TopicMemoryExpired})
	})
}
