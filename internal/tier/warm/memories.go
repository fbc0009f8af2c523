package warm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"memcore/internal/domain/memory"
	coreerrors "memcore/internal/errors"
)

// memoryItem is the single-table row shape for a memory entry, marshaled
// via attributevalue the way the teacher's item parsers build attribute
// maps, but via struct tags rather than manual AttributeValue
// construction — a simplification suited to this module's flatter schema.
type memoryItem struct {
	PK string `dynamodbav:"PK"`
	SK string `dynamodbav:"SK"`
	GSI1PK string `dynamodbav:"GSI1PK"`
	GSI1SK string `dynamodbav:"GSI1SK"`
	GSI2PK string `dynamodbav:"GSI2PK"`
	GSI2SK string `dynamodbav:"GSI2SK"`

	ID string `dynamodbav:"ID"`
	ServiceID string `dynamodbav:"ServiceID"`
	AgentID string `dynamodbav:"AgentID"`
	Domain string `dynamodbav:"Domain"`
	Kind string `dynamodbav:"Kind"`
	Payload map[string]interface{} `dynamodbav:"Payload"`
	Embedding []float64 `dynamodbav:"Embedding,omitempty"`

	CreatedAt string `dynamodbav:"CreatedAt"`
	Version int `dynamodbav:"Version"`
	Tags []string `dynamodbav:"Tags,stringset,omitempty"`
	CorrelationID string `dynamodbav:"CorrelationID,omitempty"`
	SessionID string `dynamodbav:"SessionID,omitempty"`
	UserID string `dynamodbav:"UserID,omitempty"`
	Importance float64 `dynamodbav:"Importance"`
	AccessCount int64 `dynamodbav:"AccessCount"`
	LastAccessedAt string `dynamodbav:"LastAccessedAt"`
	ExpiresAt *string `dynamodbav:"ExpiresAt,omitempty"`

	Related []string `dynamodbav:"Related,stringset,omitempty"`
	CauseID string `dynamodbav:"CauseID,omitempty"`
	Effects []string `dynamodbav:"Effects,stringset,omitempty"`
	Archived bool `dynamodbav:"Archived"`
}

func toItem(e *memory.Entry) memoryItem {
	var expiresAt *string
	if e.Metadata.ExpiresAt != nil {
		s := e.Metadata.ExpiresAt.Format(time.RFC3339Nano)
		expiresAt = &s
	}
	return memoryItem{
		PK: scopePK(e.ServiceID, e.AgentID, e.Domain),
		SK: memorySK(e.ID),
		GSI1PK: memoryGSI1PK(e.ID),
		GSI1SK: memoryGSI1PK(e.ID),
		GSI2PK: memoryGSI2PK(e.Domain),
		GSI2SK: memorySK(e.ID),
		ID: e.ID,
		ServiceID: e.ServiceID,
		AgentID: e.AgentID,
		Domain: e.Domain,
		Kind: string(e.Kind),
		Payload: e.Payload,
		Embedding: e.Embedding,
		CreatedAt: e.Metadata.CreatedAt.Format(time.RFC3339Nano),
		Version: e.Metadata.Version,
		Tags: setToSlice(e.Metadata.Tags),
		CorrelationID: e.Metadata.CorrelationID,
		SessionID: e.Metadata.SessionID,
		UserID: e.Metadata.UserID,
		Importance: e.Metadata.Importance,
		AccessCount: e.Metadata.AccessCount,
		LastAccessedAt: e.Metadata.LastAccessedAt.Format(time.RFC3339Nano),
		ExpiresAt: expiresAt,
		Related: setToSlice(e.Relationships.Related),
		CauseID: e.Relationships.CauseID,
		Effects: setToSlice(e.Relationships.Effects),
		Archived: e.Archived,
	}
}

func fromItem(it memoryItem) (*memory.Entry, error) {
	createdAt, err := time.Parse(time.RFC3339Nano, it.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("warm tier: parsing CreatedAt: %w", err)
	}
	lastAccess, err := time.Parse(time.RFC3339Nano, it.LastAccessedAt)
	if err != nil {
		return nil, fmt.Errorf("warm tier: parsing LastAccessedAt: %w", err)
	}
	var expiresAt *time.Time
	if it.ExpiresAt != nil {
		t, err := time.Parse(time.RFC3339Nano, *it.ExpiresAt)
		if err != nil {
			return nil, fmt.Errorf("warm tier: parsing ExpiresAt: %w", err)
		}
		expiresAt = &t
	}

	return &memory.Entry{
		ID: it.ID,
		ServiceID: it.ServiceID,
		AgentID: it.AgentID,
		Domain: it.Domain,
		Kind: memory.Kind(it.Kind),
		Payload: it.Payload,
		Embedding: it.Embedding,
		Metadata: memory.Metadata{
			CreatedAt: createdAt,
			Version: it.Version,
			Tags: sliceToSet(it.Tags),
			CorrelationID: it.CorrelationID,
			SessionID: it.SessionID,
			UserID: it.UserID,
			Importance: it.Importance,
			AccessCount: it.AccessCount,
			LastAccessedAt: lastAccess,
			ExpiresAt: expiresAt,
		},
		Relationships: memory.Relationships{
			Related: sliceToSet(it.Related),
			CauseID: it.CauseID,
			Effects: sliceToSet(it.Effects),
		},
		Archived: it.Archived,
	}, nil
}

func setToSlice(s map[string]struct{}) []string {
	if len(s) == 0 {
		return nil
	}
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	return out
}

func sliceToSet(s []string) map[string]struct{} {
	out := make(map[string]struct{}, len(s))
	for _, v := range s {
		out[v] = struct{}{}
	}
	return out
}

// MemoryStore is the warm tier's durable store for memory entries.
type MemoryStore struct {
	client *dynamodb.Client
	tableName string
	gsiName string // GSI1: id-only lookup
	domainGSI string // GSI2: domain-wide lookup (similarity search, cross-agent aggregation)
	logger *zap.Logger
}

// NewMemoryStore builds a MemoryStore bound to tableName, using gsiName
// (GSI1) for id-only lookups unscoped by service/agent/domain and
// domainGSI (GSI2) for domain-wide lookups unscoped by agent.
func NewMemoryStore(client *dynamodb.Client, tableName, gsiName, domainGSI string, logger *zap.Logger) *MemoryStore {
	return &MemoryStore{client: client, tableName: tableName, gsiName: gsiName, domainGSI: domainGSI, logger: logger}
}

// Put writes an entry, optionally enforcing create-only semantics via a
// condition expression, mirroring the teacher's shouldPreventOverwrite
// pattern in base_repository.go.
func (s *MemoryStore) Put(ctx context.Context, e *memory.Entry, createOnly bool) error {
	item, err := attributevalue.MarshalMap(toItem(e))
	if err != nil {
		return fmt.Errorf("warm tier: marshaling memory %s: %w", e.ID, err)
	}

	input := &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item: item,
	}
	if createOnly {
		input.ConditionExpression = aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)")
	}

	if _, err := s.client.PutItem(ctx, input); err != nil {
		return fmt.Errorf("warm tier: put memory %s: %w", e.ID, err)
	}
	return nil
}

// TouchAccess applies a partial update of just AccessCount and
// LastAccessedAt to an existing row, used for the archived-stub case
// where a full Put would resurrect the payload the stub deliberately
// dropped. update.Build follows the same expression-package pattern as
// Query's key condition below.
func (s *MemoryStore) TouchAccess(ctx context.Context, serviceID, agentID, domain, id string, accessCount int64, lastAccessedAt time.Time) error {
	key := map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: scopePK(serviceID, agentID, domain)},
		"SK": &types.AttributeValueMemberS{Value: memorySK(id)},
	}

	update := expression.Set(expression.Name("AccessCount"), expression.Value(accessCount)).
		Set(expression.Name("LastAccessedAt"), expression.Value(lastAccessedAt.Format(time.RFC3339Nano)))
	expr, err := expression.NewBuilder().WithUpdate(update).Build()
	if err != nil {
		return fmt.Errorf("warm tier: building access-touch expression for %s: %w", id, err)
	}

	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableName),
		Key: key,
		UpdateExpression: expr.Update(),
		ExpressionAttributeNames: expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ConditionExpression: aws.String("attribute_exists(PK) AND attribute_exists(SK)"),
	})
	if err != nil {
		return fmt.Errorf("warm tier: touching access on memory %s: %w", id, err)
	}
	return nil
}

// GetByScope reads a single entry by its full scope+id key.
func (s *MemoryStore) GetByScope(ctx context.Context, serviceID, agentID, domain, id string) (*memory.Entry, error) {
	key := map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: scopePK(serviceID, agentID, domain)},
		"SK": &types.AttributeValueMemberS{Value: memorySK(id)},
	}
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{TableName: aws.String(s.tableName), Key: key})
	if err != nil {
		return nil, fmt.Errorf("warm tier: get memory %s: %w", id, err)
	}
	if result.Item == nil {
		return nil, coreerrors.NotFound("MEMORY_NOT_FOUND", fmt.Sprintf("memory %s not found", id)).Build()
	}

	var it memoryItem
	if err := attributevalue.UnmarshalMap(result.Item, &it); err != nil {
		return nil, fmt.Errorf("warm tier: unmarshaling memory %s: %w", id, err)
	}
	return fromItem(it)
}

// GetByID looks an entry up by id alone via GSI1, used by the sync
// fabric's inbound idempotency check where the caller may
// not know the full scope ahead of time.
func (s *MemoryStore) GetByID(ctx context.Context, id string) (*memory.Entry, error) {
	keyEx := expression.Key("GSI1PK").Equal(expression.Value(memoryGSI1PK(id)))
	expr, err := expression.NewBuilder().WithKeyCondition(keyEx).Build()
	if err != nil {
		return nil, fmt.Errorf("warm tier: building GSI1 expression: %w", err)
	}

	result, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName: aws.String(s.tableName),
		IndexName: aws.String(s.gsiName),
		KeyConditionExpression: expr.KeyCondition(),
		ExpressionAttributeNames: expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		Limit: aws.Int32(1),
	})
	if err != nil {
		return nil, fmt.Errorf("warm tier: query GSI1 for %s: %w", id, err)
	}
	if len(result.Items) == 0 {
		return nil, coreerrors.NotFound("MEMORY_NOT_FOUND", fmt.Sprintf("memory %s not found", id)).Build()
	}

	var it memoryItem
	if err := attributevalue.UnmarshalMap(result.Items[0], &it); err != nil {
		return nil, fmt.Errorf("warm tier: unmarshaling memory %s: %w", id, err)
	}
	return fromItem(it)
}

// Delete hard-deletes an entry by its full scope+id key, used by the
// expiry sweeper.
func (s *MemoryStore) Delete(ctx context.Context, serviceID, agentID, domain, id string) error {
	key := map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: scopePK(serviceID, agentID, domain)},
		"SK": &types.AttributeValueMemberS{Value: memorySK(id)},
	}
	if _, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{TableName: aws.String(s.tableName), Key: key}); err != nil {
		return fmt.Errorf("warm tier: delete memory %s: %w", id, err)
	}
	return nil
}

// Query lists entries in scope (service_id, agent_id, domain), optionally
// filtering to a single kind, a tag intersection, a creation time window,
// a minimum importance, and/or a case-insensitive substring matched
// against the payload's top-level string values (nested values and
// non-string values are not searched). Sort order and
// pagination over the filtered result set are the memory engine's
// responsibility, not this store's — DynamoDB's SK here is id-ordered,
// not time-ordered, so "ordered by creation instant, descending" is
// applied by the caller after the fact.
type QueryFilter struct {
	Kind memory.Kind // empty matches any kind
	Tags []string // all must be present (intersection)
	Since *time.Time // CreatedAt >= Since
	Until *time.Time // CreatedAt < Until
	MinImportance float64
	TextSubstr string // empty matches any payload
	Limit int32
}

// Query lists memory entries for a scope, narrowed by the supplied filter.
func (s *MemoryStore) Query(ctx context.Context, serviceID, agentID, domain string, filter QueryFilter) ([]*memory.Entry, error) {
	keyEx := expression.Key("PK").Equal(expression.Value(scopePK(serviceID, agentID, domain)))
	keyEx = keyEx.And(expression.Key("SK").BeginsWith("MEMORY#"))

	builder := expression.NewBuilder().WithKeyCondition(keyEx)

	var conds []expression.ConditionBuilder
	if filter.Kind != "" {
		conds = append(conds, expression.Name("Kind").Equal(expression.Value(string(filter.Kind))))
	}
	if filter.MinImportance > 0 {
		conds = append(conds, expression.Name("Importance").GreaterThanEqual(expression.Value(filter.MinImportance)))
	}
	if filter.Since != nil {
		conds = append(conds, expression.Name("CreatedAt").GreaterThanEqual(expression.Value(filter.Since.Format(time.RFC3339Nano))))
	}
	if filter.Until != nil {
		conds = append(conds, expression.Name("CreatedAt").LessThan(expression.Value(filter.Until.Format(time.RFC3339Nano))))
	}
	for _, tag := range filter.Tags {
		conds = append(conds, expression.Contains(expression.Name("Tags"), tag))
	}

	if len(conds) > 0 {
		combined := conds[0]
		for _, c := range conds[1:] {
			combined = combined.And(c)
		}
		builder = builder.WithFilter(combined)
	}

	expr, err := builder.Build()
	if err != nil {
		return nil, fmt.Errorf("warm tier: building query expression: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	input := &dynamodb.QueryInput{
		TableName: aws.String(s.tableName),
		KeyConditionExpression: expr.KeyCondition(),
		ExpressionAttributeNames: expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		Limit: aws.Int32(limit),
	}
	if expr.Filter() != nil {
		input.FilterExpression = expr.Filter()
	}

	result, err := s.client.Query(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("warm tier: query scope %s/%s/%s: %w", serviceID, agentID, domain, err)
	}

	entries := make([]*memory.Entry, 0, len(result.Items))
	for _, raw := range result.Items {
		var it memoryItem
		if err := attributevalue.UnmarshalMap(raw, &it); err != nil {
			s.logger.Warn("warm tier: skipping unparseable memory item", zap.Error(err))
			continue
		}
		e, err := fromItem(it)
		if err != nil {
			s.logger.Warn("warm tier: skipping unparseable memory item", zap.Error(err))
			continue
		}
		if filter.TextSubstr != "" && !payloadContains(e.Payload, filter.TextSubstr) {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// ListByDomain returns every entry in a domain, across every agent, via
// GSI2, archived stubs and entries without an embedding included. This
// stands in for a
// dedicated memory_embeddings table with its own similarity index: no
// vector-search library appears anywhere in the retrieval pack, and
// DynamoDB itself has no native vector index, so the memory engine
// brute-forces cosine similarity in-process over this list — acceptable
// at this module's scale, documented in DESIGN.md.
func (s *MemoryStore) ListByDomain(ctx context.Context, domain string) ([]*memory.Entry, error) {
	keyEx := expression.Key("GSI2PK").Equal(expression.Value(memoryGSI2PK(domain)))
	expr, err := expression.NewBuilder().WithKeyCondition(keyEx).Build()
	if err != nil {
		return nil, fmt.Errorf("warm tier: building GSI2 expression: %w", err)
	}

	result, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName: aws.String(s.tableName),
		IndexName: aws.String(s.domainGSI),
		KeyConditionExpression: expr.KeyCondition(),
		ExpressionAttributeNames: expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		return nil, fmt.Errorf("warm tier: query GSI2 for domain %s: %w", domain, err)
	}

	entries := make([]*memory.Entry, 0, len(result.Items))
	for _, raw := range result.Items {
		var it memoryItem
		if err := attributevalue.UnmarshalMap(raw, &it); err != nil {
			continue
		}
		e, err := fromItem(it)
		if err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func payloadContains(payload map[string]interface{}, substr string) bool {
	for _, v := range payload {
		if s, ok := v.(string); ok && strings.Contains(strings.ToLower(s), strings.ToLower(substr)) {
			return true
		}
	}
	return false
}
