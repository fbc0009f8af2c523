package warm

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"memcore/internal/domain/learning"
)

type feedbackItem struct {
	Rating float64 `dynamodbav:"Rating"`
	Correct bool `dynamodbav:"Correct"`
	CorrectedValue interface{} `dynamodbav:"CorrectedValue,omitempty"`
	Explanation string `dynamodbav:"Explanation,omitempty"`
}

type costItem struct {
	AmountUSD float64 `dynamodbav:"AmountUSD"`
	LatencyMS float64 `dynamodbav:"LatencyMS"`
}

type eventItem struct {
	PK string `dynamodbav:"PK"`
	SK string `dynamodbav:"SK"`

	ID string `dynamodbav:"ID"`
	ServiceID string `dynamodbav:"ServiceID"`
	AgentID string `dynamodbav:"AgentID"`
	Domain string `dynamodbav:"Domain"`
	Kind string `dynamodbav:"Kind"`

	Input map[string]interface{} `dynamodbav:"Input,omitempty"`
	Prediction interface{} `dynamodbav:"Prediction,omitempty"`
	Confidence float64 `dynamodbav:"Confidence"`
	Alternatives []interface{} `dynamodbav:"Alternatives,omitempty"`

	Feedback *feedbackItem `dynamodbav:"Feedback,omitempty"`

	ModelUpdated bool `dynamodbav:"ModelUpdated"`
	PerformanceDelta float64 `dynamodbav:"PerformanceDelta"`
	AffectedModelIDs []string `dynamodbav:"AffectedModelIDs,omitempty"`

	Cost *costItem `dynamodbav:"Cost,omitempty"`

	Importance float64 `dynamodbav:"Importance"`
	OccurredAt string `dynamodbav:"OccurredAt"`
	ParentEventID string `dynamodbav:"ParentEventID,omitempty"`
}

func eventToItem(e *learning.Event) eventItem {
	occurred := e.OccurredAt.Format(time.RFC3339Nano)
	it := eventItem{
		PK: scopePK(e.ServiceID, e.AgentID, e.Domain),
		SK: eventSK(occurred, e.ID),
		ID: e.ID,
		ServiceID: e.ServiceID,
		AgentID: e.AgentID,
		Domain: e.Domain,
		Kind: string(e.Kind),
		Input: e.Input,
		Prediction: e.Output.Prediction,
		Confidence: e.Output.Confidence,
		Alternatives: e.Output.Alternatives,
		ModelUpdated: e.Impact.ModelUpdated,
		PerformanceDelta: e.Impact.PerformanceDelta,
		AffectedModelIDs: e.Impact.AffectedModelIDs,
		Importance: e.Importance,
		OccurredAt: occurred,
		ParentEventID: e.ParentEventID,
	}
	if e.Feedback != nil {
		it.Feedback = &feedbackItem{
			Rating: e.Feedback.Rating,
			Correct: e.Feedback.Correct,
			CorrectedValue: e.Feedback.CorrectedValue,
			Explanation: e.Feedback.Explanation,
		}
	}
	if e.Cost != nil {
		it.Cost = &costItem{AmountUSD: e.Cost.AmountUSD, LatencyMS: e.Cost.LatencyMS}
	}
	return it
}

func eventFromItem(it eventItem) (*learning.Event, error) {
	occurredAt, err := time.Parse(time.RFC3339Nano, it.OccurredAt)
	if err != nil {
		return nil, fmt.Errorf("warm tier: parsing event OccurredAt: %w", err)
	}
	e := &learning.Event{
		ID: it.ID,
		ServiceID: it.ServiceID,
		AgentID: it.AgentID,
		Domain: it.Domain,
		Kind: learning.Kind(it.Kind),
		Input: it.Input,
		Output: learning.Output{
			Prediction: it.Prediction,
			Confidence: it.Confidence,
			Alternatives: it.Alternatives,
		},
		Impact: learning.Impact{
			ModelUpdated: it.ModelUpdated,
			PerformanceDelta: it.PerformanceDelta,
			AffectedModelIDs: it.AffectedModelIDs,
		},
		Importance: it.Importance,
		OccurredAt: occurredAt,
		ParentEventID: it.ParentEventID,
	}
	if it.Feedback != nil {
		e.Feedback = &learning.Feedback{
			Rating: it.Feedback.Rating,
			Correct: it.Feedback.Correct,
			CorrectedValue: it.Feedback.CorrectedValue,
			Explanation: it.Feedback.Explanation,
		}
	}
	if it.Cost != nil {
		e.Cost = &learning.Cost{AmountUSD: it.Cost.AmountUSD, LatencyMS: it.Cost.LatencyMS}
	}
	return e, nil
}

// EventStore is the append-only warm tier store for learning events.
type EventStore struct {
	client *dynamodb.Client
	tableName string
}

// NewEventStore builds an EventStore bound to tableName.
func NewEventStore(client *dynamodb.Client, tableName string) *EventStore {
	return &EventStore{client: client, tableName: tableName}
}

// Append records a new learning event. Unlike MemoryStore.Put there is no
// idempotency check here: the learning ledger is responsible for
// recognizing duplicate ids before calling Append.
func (s *EventStore) Append(ctx context.Context, e *learning.Event) error {
	item, err := attributevalue.MarshalMap(eventToItem(e))
	if err != nil {
		return fmt.Errorf("warm tier: marshaling learning event %s: %w", e.ID, err)
	}
	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{TableName: aws.String(s.tableName), Item: item}); err != nil {
		return fmt.Errorf("warm tier: append learning event %s: %w", e.ID, err)
	}
	return nil
}

// Since lists events for a scope whose OccurredAt is >= since, ordered
// oldest-first, used by the learning ledger's History operation.
func (s *EventStore) Since(ctx context.Context, serviceID, agentID, domain string, since time.Time, limit int32) ([]*learning.Event, error) {
	keyEx := expression.Key("PK").Equal(expression.Value(scopePK(serviceID, agentID, domain)))
	keyEx = keyEx.And(expression.Key("SK").GreaterThanEqual(expression.Value(eventSK(since.Format(time.RFC3339Nano), ""))))
	expr, err := expression.NewBuilder().WithKeyCondition(keyEx).Build()
	if err != nil {
		return nil, fmt.Errorf("warm tier: building events-since expression: %w", err)
	}

	if limit <= 0 {
		limit = 50
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
		return nil, fmt.Errorf("warm tier: query events since %s: %w", since, err)
	}

	out := make([]*learning.Event, 0, len(result.Items))
	for _, raw := range result.Items {
		var it eventItem
		if err := attributevalue.UnmarshalMap(raw, &it); err != nil {
			continue
		}
		e, err := eventFromItem(it)
		if err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// ListSince scans for events in domain whose OccurredAt is >= since,
// across every service/agent scope, used by the learning ledger's
// domain-wide metrics/trends operations where, unlike
// history(), the caller has no single scope to key a Query by. Same
// Scan-plus-filter tradeoff as PatternStore.ListByDomain: learning
// events are written far less often than they're folded into patterns,
// so a bounded scan is acceptable here, not on the record() write path.
func (s *EventStore) ListSince(ctx context.Context, domain string, since time.Time, limit int32) ([]*learning.Event, error) {
	filter := expression.Name("Domain").Equal(expression.Value(domain)).
	And(expression.Name("OccurredAt").GreaterThanEqual(expression.Value(since.Format(time.RFC3339Nano))))
	expr, err := expression.NewBuilder().WithFilter(filter).Build()
	if err != nil {
		return nil, fmt.Errorf("warm tier: building events scan expression: %w", err)
	}
	if limit <= 0 {
		limit = 1000
	}

	result, err := s.client.Scan(ctx, &dynamodb.ScanInput{
		TableName: aws.String(s.tableName),
		FilterExpression: expr.Filter(),
		ExpressionAttributeNames: expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		Limit: aws.Int32(limit),
	})
	if err != nil {
		return nil, fmt.Errorf("warm tier: scanning events for domain %s: %w", domain, err)
	}

	out := make([]*learning.Event, 0, len(result.Items))
	for _, raw := range result.Items {
		var it eventItem
		if err := attributevalue.UnmarshalMap(raw, &it); err != nil {
			continue
		}
		e, err := eventFromItem(it)
		if err != nil {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OccurredAt.Before(out[j].OccurredAt) })
	return out, nil
}

type patternItem struct {
	PK string `dynamodbav:"PK"`
	SK string `dynamodbav:"SK"`

	ID string `dynamodbav:"ID"`
	Domain string `dynamodbav:"Domain"`
	Signature string `dynamodbav:"Signature"`
	Frequency int64 `dynamodbav:"Frequency"`
	SuccessCount int64 `dynamodbav:"SuccessCount"`
	JudgedCount int64 `dynamodbav:"JudgedCount"`
	FeedbackSum float64 `dynamodbav:"FeedbackSum"`
	FeedbackCount int64 `dynamodbav:"FeedbackCount"`
	AvgConfidence float64 `dynamodbav:"AvgConfidence"`
	FirstSeenAt string `dynamodbav:"FirstSeenAt"`
	LastSeenAt string `dynamodbav:"LastSeenAt"`
	SampleEventIDs []string `dynamodbav:"SampleEventIDs,omitempty"`
	RecommendationHints []string `dynamodbav:"RecommendationHints,omitempty"`
}

// PatternStore is the warm tier store for learning patterns, unique on
// (domain, signature).
type PatternStore struct {
	client *dynamodb.Client
	tableName string
}

// NewPatternStore builds a PatternStore bound to tableName.
func NewPatternStore(client *dynamodb.Client, tableName string) *PatternStore {
	return &PatternStore{client: client, tableName: tableName}
}

// Get reads the pattern for (domain, signature), returning (nil, nil) if
// none exists yet.
func (s *PatternStore) Get(ctx context.Context, domain, signature string) (*learning.Pattern, error) {
	key := map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: patternPK(domain, signature)},
		"SK": &types.AttributeValueMemberS{Value: patternPK(domain, signature)},
	}
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{TableName: aws.String(s.tableName), Key: key})
	if err != nil {
		return nil, fmt.Errorf("warm tier: get pattern %s/%s: %w", domain, signature, err)
	}
	if result.Item == nil {
		return nil, nil
	}

	var it patternItem
	if err := attributevalue.UnmarshalMap(result.Item, &it); err != nil {
		return nil, fmt.Errorf("warm tier: unmarshaling pattern %s/%s: %w", domain, signature, err)
	}
	firstSeen, _ := time.Parse(time.RFC3339Nano, it.FirstSeenAt)
	lastSeen, _ := time.Parse(time.RFC3339Nano, it.LastSeenAt)
	return &learning.Pattern{
		ID: it.ID,
		Domain: it.Domain,
		Signature: it.Signature,
		Frequency: it.Frequency,
		SuccessCount: it.SuccessCount,
		JudgedCount: it.JudgedCount,
		FeedbackSum: it.FeedbackSum,
		FeedbackCount: it.FeedbackCount,
		AvgConfidence: it.AvgConfidence,
		FirstSeenAt: firstSeen,
		LastSeenAt: lastSeen,
		SampleEventIDs: it.SampleEventIDs,
		RecommendationHints: it.RecommendationHints,
	}, nil
}

// Put upserts the pattern's current aggregated state.
func (s *PatternStore) Put(ctx context.Context, p *learning.Pattern) error {
	item, err := attributevalue.MarshalMap(patternItem{
		PK: patternPK(p.Domain, p.Signature),
		SK: patternPK(p.Domain, p.Signature),
		ID: p.ID,
		Domain: p.Domain,
		Signature: p.Signature,
		Frequency: p.Frequency,
		SuccessCount: p.SuccessCount,
		JudgedCount: p.JudgedCount,
		FeedbackSum: p.FeedbackSum,
		FeedbackCount: p.FeedbackCount,
		AvgConfidence: p.AvgConfidence,
		FirstSeenAt: p.FirstSeenAt.Format(time.RFC3339Nano),
		LastSeenAt: p.LastSeenAt.Format(time.RFC3339Nano),
		SampleEventIDs: p.SampleEventIDs,
		RecommendationHints: p.RecommendationHints,
	})
	if err != nil {
		return fmt.Errorf("warm tier: marshaling pattern %s: %w", p.ID, err)
	}
	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{TableName: aws.String(s.tableName), Item: item}); err != nil {
		return fmt.Errorf("warm tier: put pattern %s: %w", p.ID, err)
	}
	return nil
}

// ListByDomain scans patterns for a domain with frequency >= minFrequency,
// used by the ledger's patterns() operation. DynamoDB has no
// native "query all patterns in a domain" access pattern under this
// module's PK design (PK embeds the signature), so this uses a bounded
// Scan with a filter expression — acceptable here since pattern rows are
// few relative to memories/events and this is not a hot path.
func (s *PatternStore) ListByDomain(ctx context.Context, domain string, minFrequency int64) ([]*learning.Pattern, error) {
	filter := expression.Name("Domain").Equal(expression.Value(domain)).
	And(expression.Name("Frequency").GreaterThanEqual(expression.Value(minFrequency)))
	expr, err := expression.NewBuilder().WithFilter(filter).Build()
	if err != nil {
		return nil, fmt.Errorf("warm tier: building pattern scan expression: %w", err)
	}

	result, err := s.client.Scan(ctx, &dynamodb.ScanInput{
		TableName: aws.String(s.tableName),
		FilterExpression: expr.Filter(),
		ExpressionAttributeNames: expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		return nil, fmt.Errorf("warm tier: scanning patterns for %s: %w", domain, err)
	}

	out := make([]*learning.Pattern, 0, len(result.Items))
	for _, raw := range result.Items {
		var it patternItem
		if err := attributevalue.UnmarshalMap(raw, &it); err != nil {
			continue
		}
		firstSeen, _ := time.Parse(time.RFC3339Nano, it.FirstSeenAt)
		lastSeen, _ := time.Parse(time.RFC3339Nano, it.LastSeenAt)
		out = append(out, &learning.Pattern{
			ID: it.ID,
			Domain: it.Domain,
			Signature: it.Signature,
			Frequency: it.Frequency,
			SuccessCount: it.SuccessCount,
			JudgedCount: it.JudgedCount,
			FeedbackSum: it.FeedbackSum,
			FeedbackCount: it.FeedbackCount,
			AvgConfidence: it.AvgConfidence,
			FirstSeenAt: firstSeen,
			LastSeenAt: lastSeen,
			SampleEventIDs: it.SampleEventIDs,
			RecommendationHints: it.RecommendationHints,
		})
	}
	return out, nil
}
