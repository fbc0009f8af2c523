package warm

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
)

func rollupPK(domain, metric string) string { return fmt.Sprintf("ROLLUP#%s#%s", domain, metric) }
func rollupSK(ts string) string { return fmt.Sprintf("ROLLUP#%s", ts) }

type rollupItem struct {
	PK string `dynamodbav:"PK"`
	SK string `dynamodbav:"SK"`

	Domain string `dynamodbav:"Domain"`
	Metric string `dynamodbav:"Metric"`
	Value float64 `dynamodbav:"Value"`
	Timestamp string `dynamodbav:"Timestamp"`
}

// Sample is one point of a persisted metrics (domain, metric, value,
// timestamp) time series row.
type Sample struct {
	Domain string
	Metric string
	Value float64
	Timestamp time.Time
}

// RollupStore is the warm tier's time-series store, written every 5
// minutes by default by the aggregation pipeline's rollup-persist
// schedule. Nothing in this module reads the series back: the insight
// generator works from the pipeline's in-process counters, and the
// ledger computes trends from learning events.
type RollupStore struct {
	client *dynamodb.Client
	tableName string
}

// NewRollupStore builds a RollupStore bound to tableName.
func NewRollupStore(client *dynamodb.Client, tableName string) *RollupStore {
	return &RollupStore{client: client, tableName: tableName}
}

// Put persists a single metric sample.
func (s *RollupStore) Put(ctx context.Context, sample Sample) error {
	ts := sample.Timestamp.Format(time.RFC3339Nano)
	item, err := attributevalue.MarshalMap(rollupItem{
		PK: rollupPK(sample.Domain, sample.Metric),
		SK: rollupSK(ts),
		Domain: sample.Domain,
		Metric: sample.Metric,
		Value: sample.Value,
		Timestamp: ts,
	})
	if err != nil {
		return fmt.Errorf("warm tier: marshaling rollup sample: %w", err)
	}
	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{TableName: aws.String(s.tableName), Item: item}); err != nil {
		return fmt.Errorf("warm tier: put rollup sample: %w", err)
	}
	return nil
}

// Window lists the samples for (domain, metric) within [since, now],
// ordered oldest-first.
func (s *RollupStore) Window(ctx context.Context, domain, metric string, since time.Time, limit int32) ([]Sample, error) {
	keyEx := expression.Key("PK").Equal(expression.Value(rollupPK(domain, metric)))
	keyEx = keyEx.And(expression.Key("SK").GreaterThanEqual(expression.Value(rollupSK(since.Format(time.RFC3339Nano)))))
	expr, err := expression.NewBuilder().WithKeyCondition(keyEx).Build()
	if err != nil {
		return nil, fmt.Errorf("warm tier: building rollup window expression: %w", err)
	}
	if limit <= 0 {
		limit = 500
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
		return nil, fmt.Errorf("warm tier: query rollup window %s/%s: %w", domain, metric, err)
	}

	out := make([]Sample, 0, len(result.Items))
	for _, raw := range result.Items {
		var it rollupItem
		if err := attributevalue.UnmarshalMap(raw, &it); err != nil {
			continue
		}
		ts, err := time.Parse(time.RFC3339Nano, it.Timestamp)
		if err != nil {
			continue
		}
		out = append(out, Sample{Domain: it.Domain, Metric: it.Metric, Value: it.Value, Timestamp: ts})
	}
	return out, nil
}
