package warm

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// RelationshipStore persists the memory_relationships edges described in
// : (source_id, target_id, relationship_kind) rows, primary
// keyed over the triple via this table's PK/SK.
type RelationshipStore struct {
	client *dynamodb.Client
	tableName string
}

// NewRelationshipStore builds a RelationshipStore bound to tableName.
func NewRelationshipStore(client *dynamodb.Client, tableName string) *RelationshipStore {
	return &RelationshipStore{client: client, tableName: tableName}
}

// Put records a directed edge (source --kind--> target).
func (s *RelationshipStore) Put(ctx context.Context, sourceID, targetID, kind string) error {
	item := map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: relationshipPK(sourceID)},
		"SK": &types.AttributeValueMemberS{Value: relationshipSK(kind, targetID)},
		"SourceID": &types.AttributeValueMemberS{Value: sourceID},
		"TargetID": &types.AttributeValueMemberS{Value: targetID},
		"Kind": &types.AttributeValueMemberS{Value: kind},
	}
	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{TableName: aws.String(s.tableName), Item: item}); err != nil {
		return fmt.Errorf("warm tier: put relationship %s->%s: %w", sourceID, targetID, err)
	}
	return nil
}

// Neighbors returns the target ids directly reachable from sourceID,
// across any relationship kind — the single hop the BFS traversal in
// the memory engine's Related operation repeatedly calls.
func (s *RelationshipStore) Neighbors(ctx context.Context, sourceID string) ([]string, error) {
	return s.neighbors(ctx, sourceID, "")
}

// NeighborsByKind restricts Neighbors to edges of a single relationship
// kind, used when related(id, kind, max_depth) narrows the traversal to
// one edge label.
func (s *RelationshipStore) NeighborsByKind(ctx context.Context, sourceID, kind string) ([]string, error) {
	return s.neighbors(ctx, sourceID, kind)
}

func (s *RelationshipStore) neighbors(ctx context.Context, sourceID, kind string) ([]string, error) {
	prefix := "REL#"
	if kind != "" {
		prefix = fmt.Sprintf("REL#%s#", kind)
	}
	keyEx := expression.Key("PK").Equal(expression.Value(relationshipPK(sourceID)))
	keyEx = keyEx.And(expression.Key("SK").BeginsWith(prefix))
	expr, err := expression.NewBuilder().WithKeyCondition(keyEx).Build()
	if err != nil {
		return nil, fmt.Errorf("warm tier: building neighbors expression: %w", err)
	}

	result, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName: aws.String(s.tableName),
		KeyConditionExpression: expr.KeyCondition(),
		ExpressionAttributeNames: expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		return nil, fmt.Errorf("warm tier: query neighbors of %s: %w", sourceID, err)
	}

	out := make([]string, 0, len(result.Items))
	for _, raw := range result.Items {
		if attr, ok := raw["TargetID"].(*types.AttributeValueMemberS); ok {
			out = append(out, attr.Value)
		}
	}
	return out, nil
}
