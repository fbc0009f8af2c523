package warm

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"memcore/internal/domain/insight"
)

func insightPK(domain string) string { return fmt.Sprintf("INSIGHT#%s", domain) }
func insightSK(createdAt, id string) string {
	return fmt.Sprintf("INSIGHT#%s#%s", createdAt, id)
}

type metricSnapshotItem struct {
	Name  string  `dynamodbav:"Name"`
	Value float64 `dynamodbav:"Value"`
}

type insightItem struct {
	PK string `dynamodbav:"PK"`
	SK string `dynamodbav:"SK"`

	ID              string               `dynamodbav:"ID"`
	Domain          string               `dynamodbav:"Domain"`
	Type            string               `dynamodbav:"Type"`
	Severity        string               `dynamodbav:"Severity"`
	Title           string               `dynamodbav:"Title"`
	Description     string               `dynamodbav:"Description"`
	MetricSnapshot  []metricSnapshotItem `dynamodbav:"MetricSnapshot,omitempty"`
	Recommendations []string             `dynamodbav:"Recommendations,omitempty"`
	CreatedAt       string               `dynamodbav:"CreatedAt"`
}

// InsightStore is the warm tier store for persisted insights: each
// fired rule is persisted as an Insight row and also emitted on the
// event bus.
type InsightStore struct {
	client    *dynamodb.Client
	tableName string
}

// NewInsightStore builds an InsightStore bound to tableName.
func NewInsightStore(client *dynamodb.Client, tableName string) *InsightStore {
	return &InsightStore{client: client, tableName: tableName}
}

// Put persists a newly fired insight.
func (s *InsightStore) Put(ctx context.Context, in *insight.Insight) error {
	snapshot := make([]metricSnapshotItem, len(in.MetricSnapshot))
	for i, m := range in.MetricSnapshot {
		snapshot[i] = metricSnapshotItem{Name: m.Name, Value: m.Value}
	}

	createdAt := in.CreatedAt.Format(time.RFC3339Nano)
	item, err := attributevalue.MarshalMap(insightItem{
		PK:              insightPK(in.Domain),
		SK:              insightSK(createdAt, in.ID),
		ID:              in.ID,
		Domain:          in.Domain,
		Type:            string(in.Type),
		Severity:        string(in.Severity),
		Title:           in.Title,
		Description:     in.Description,
		MetricSnapshot:  snapshot,
		Recommendations: in.Recommendations,
		CreatedAt:       createdAt,
	})
	if err != nil {
		return fmt.Errorf("warm tier: marshaling insight %s: %w", in.ID, err)
	}
	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{TableName: aws.String(s.tableName), Item: item}); err != nil {
		return fmt.Errorf("warm tier: put insight %s: %w", in.ID, err)
	}
	return nil
}

// Recent lists the most recently fired insights for a domain, newest
// first.
func (s *InsightStore) Recent(ctx context.Context, domain string, limit int32) ([]*insight.Insight, error) {
	keyEx := expression.Key("PK").Equal(expression.Value(insightPK(domain)))
	expr, err := expression.NewBuilder().WithKeyCondition(keyEx).Build()
	if err != nil {
		return nil, fmt.Errorf("warm tier: building recent-insights expression: %w", err)
	}
	if limit <= 0 {
		limit = 20
	}

	result, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(s.tableName),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		Limit:                     aws.Int32(limit),
		ScanIndexForward:          aws.Bool(false),
	})
	if err != nil {
		return nil, fmt.Errorf("warm tier: query recent insights for %s: %w", domain, err)
	}

	out := make([]*insight.Insight, 0, len(result.Items))
	for _, raw := range result.Items {
		var it insightItem
		if err := attributevalue.UnmarshalMap(raw, &it); err != nil {
			continue
		}
		createdAt, err := time.Parse(time.RFC3339Nano, it.CreatedAt)
		if err != nil {
			continue
		}
		snapshot := make([]insight.Metric, len(it.MetricSnapshot))
		for i, m := range it.MetricSnapshot {
			snapshot[i] = insight.Metric{Name: m.Name, Value: m.Value}
		}
		out = append(out, &insight.Insight{
			ID:              it.ID,
			Domain:          it.Domain,
			Type:            insight.Type(it.Type),
			Severity:        insight.Severity(it.Severity),
			Title:           it.Title,
			Description:     it.Description,
			MetricSnapshot:  snapshot,
			Recommendations: it.Recommendations,
			CreatedAt:       createdAt,
		})
	}
	return out, nil
}
