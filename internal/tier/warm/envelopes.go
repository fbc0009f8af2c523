package warm

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	syncdomain "memcore/internal/domain/sync"
)

func envelopeQueuePK(peerID string) string { return fmt.Sprintf("PEERQUEUE#%s", peerID) }
func envelopeQueueSK(enqueuedAt, id string) string {
	return fmt.Sprintf("ENVELOPE#%s#%s", enqueuedAt, id)
}

type envelopeItem struct {
	PK string `dynamodbav:"PK"`
	SK string `dynamodbav:"SK"`

	ID string `dynamodbav:"ID"`
	Kind string `dynamodbav:"Kind"`
	Action string `dynamodbav:"Action"`
	Source string `dynamodbav:"Source"`
	Target string `dynamodbav:"Target,omitempty"`
	Payload string `dynamodbav:"Payload"` // base64: DynamoDB binary attrs need an explicit type, plain string keeps this item shaped like the rest of the table
	OriginatedAt string `dynamodbav:"OriginatedAt"`
	CorrelationID string `dynamodbav:"CorrelationID,omitempty"`
	EnqueuedAt string `dynamodbav:"EnqueuedAt"`
}

// EnvelopeQueueStore is the durable per-peer outbound queue: envelopes
// enqueued here survive a restart, backed by the same warm-tier DynamoDB
// table and client as every other tier store.
type EnvelopeQueueStore struct {
	client *dynamodb.Client
	tableName string
}

// NewEnvelopeQueueStore builds an EnvelopeQueueStore bound to tableName.
func NewEnvelopeQueueStore(client *dynamodb.Client, tableName string) *EnvelopeQueueStore {
	return &EnvelopeQueueStore{client: client, tableName: tableName}
}

// Enqueue appends env to peerID's durable queue.
func (s *EnvelopeQueueStore) Enqueue(ctx context.Context, peerID string, env *syncdomain.Envelope) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	item, err := attributevalue.MarshalMap(envelopeItem{
		PK: envelopeQueuePK(peerID),
		SK: envelopeQueueSK(now, env.ID),
		ID: env.ID,
		Kind: string(env.Kind),
		Action: string(env.Action),
		Source: env.Source,
		Target: env.Target,
		Payload: base64.StdEncoding.EncodeToString(env.Payload),
		OriginatedAt: env.OriginatedAt.Format(time.RFC3339Nano),
		CorrelationID: env.CorrelationID,
		EnqueuedAt: now,
	})
	if err != nil {
		return fmt.Errorf("warm tier: marshaling queued envelope %s for peer %s: %w", env.ID, peerID, err)
	}
	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{TableName: aws.String(s.tableName), Item: item}); err != nil {
		return fmt.Errorf("warm tier: enqueue envelope %s for peer %s: %w", env.ID, peerID, err)
	}
	return nil
}

// Queued pairs an envelope with the enqueue timestamp its queue row was
// written under, the handle Remove needs to delete that exact row.
type Queued struct {
	Envelope *syncdomain.Envelope
	EnqueuedAt string
}

// Peek returns up to limit envelopes from the head of peerID's queue in
// enqueue order, without removing them — the sender task's batch-read
// step.
func (s *EnvelopeQueueStore) Peek(ctx context.Context, peerID string, limit int32) ([]Queued, error) {
	keyEx := expression.Key("PK").Equal(expression.Value(envelopeQueuePK(peerID)))
	expr, err := expression.NewBuilder().WithKeyCondition(keyEx).Build()
	if err != nil {
		return nil, fmt.Errorf("warm tier: building peer queue peek expression: %w", err)
	}
	if limit <= 0 {
		limit = 10
	}

	result, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName: aws.String(s.tableName),
		KeyConditionExpression: expr.KeyCondition(),
		ExpressionAttributeNames: expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		Limit: aws.Int32(limit),
		ScanIndexForward: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("warm tier: query peer queue %s: %w", peerID, err)
	}

	out := make([]Queued, 0, len(result.Items))
	for _, raw := range result.Items {
		var it envelopeItem
		if err := attributevalue.UnmarshalMap(raw, &it); err != nil {
			continue
		}
		env, err := envelopeFromItem(it)
		if err != nil {
			continue
		}
		out = append(out, Queued{Envelope: env, EnqueuedAt: it.EnqueuedAt})
	}
	return out, nil
}

// Remove deletes one envelope from peerID's queue once its send has
// succeeded.
func (s *EnvelopeQueueStore) Remove(ctx context.Context, peerID, enqueuedAt, envelopeID string) error {
	key, err := attributevalue.MarshalMap(struct {
		PK string `dynamodbav:"PK"`
		SK string `dynamodbav:"SK"`
		}{PK: envelopeQueuePK(peerID), SK: envelopeQueueSK(enqueuedAt, envelopeID)})
	if err != nil {
		return fmt.Errorf("warm tier: marshaling queue delete key: %w", err)
	}
	if _, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{TableName: aws.String(s.tableName), Key: key}); err != nil {
		return fmt.Errorf("warm tier: removing envelope %s from peer %s queue: %w", envelopeID, peerID, err)
	}
	return nil
}

// Depth counts the envelopes currently queued for peerID, used by the
// fabric's backpressure check.
func (s *EnvelopeQueueStore) Depth(ctx context.Context, peerID string) (int, error) {
	keyEx := expression.Key("PK").Equal(expression.Value(envelopeQueuePK(peerID)))
	expr, err := expression.NewBuilder().WithKeyCondition(keyEx).Build()
	if err != nil {
		return 0, fmt.Errorf("warm tier: building peer queue depth expression: %w", err)
	}

	result, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName: aws.String(s.tableName),
		KeyConditionExpression: expr.KeyCondition(),
		ExpressionAttributeNames: expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		Select: types.SelectCount,
	})
	if err != nil {
		return 0, fmt.Errorf("warm tier: query peer queue depth %s: %w", peerID, err)
	}
	return int(result.Count), nil
}

func envelopeFromItem(it envelopeItem) (*syncdomain.Envelope, error) {
	payload, err := base64.StdEncoding.DecodeString(it.Payload)
	if err != nil {
		return nil, fmt.Errorf("warm tier: decoding envelope payload %s: %w", it.ID, err)
	}
	originatedAt, err := time.Parse(time.RFC3339Nano, it.OriginatedAt)
	if err != nil {
		return nil, fmt.Errorf("warm tier: parsing envelope timestamp %s: %w", it.ID, err)
	}
	return &syncdomain.Envelope{
		ID: it.ID,
		Kind: syncdomain.PayloadKind(it.Kind),
		Action: syncdomain.Action(it.Action),
		Source: it.Source,
		Target: it.Target,
		Payload: payload,
		OriginatedAt: originatedAt,
		CorrelationID: it.CorrelationID,
	}, nil
}
