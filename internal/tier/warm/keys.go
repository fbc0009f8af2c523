// Package warm implements the warm tier: a durable, indexed store
// fronted by DynamoDB using a single-table design, grounded on the
// teacher's internal/infrastructure/persistence/dynamodb package (same
// PK/SK composite-key convention and attributevalue/expression usage),
// generalized from the teacher's graph-of-nodes schema to this module's
// memories / learning events / learning patterns schema.
//
// Table layout (single table, partition key PK, sort key SK):
//
//	Memory entry:      PK=SCOPE#<service>#<agent>#<domain>  SK=MEMORY#<id>
//	Memory (by id):     GSI1PK=MEMORY#<id>                   GSI1SK=MEMORY#<id>
//	Learning event:     PK=SCOPE#<service>#<agent>#<domain>  SK=EVENT#<occurred_at>#<id>
//	Learning pattern:   PK=PATTERN#<domain>#<signature>      SK=PATTERN#<domain>#<signature>
//	Relationship edge:  PK=MEMORY#<source_id>                SK=REL#<kind>#<target_id>
package warm

import "fmt"

func scopePK(serviceID, agentID, domain string) string {
	return fmt.Sprintf("SCOPE#%s#%s#%s", serviceID, agentID, domain)
}

func memorySK(id string) string {
	return fmt.Sprintf("MEMORY#%s", id)
}

func memoryGSI1PK(id string) string {
	return fmt.Sprintf("MEMORY#%s", id)
}

func memoryGSI2PK(domain string) string {
	return fmt.Sprintf("DOMAIN#%s", domain)
}

func eventSK(occurredAtRFC3339Nano, id string) string {
	return fmt.Sprintf("EVENT#%s#%s", occurredAtRFC3339Nano, id)
}

func patternPK(domain, signature string) string {
	return fmt.Sprintf("PATTERN#%s#%s", domain, signature)
}

func relationshipPK(sourceID string) string {
	return fmt.Sprintf("MEMORY#%s", sourceID)
}

func relationshipSK(kind, targetID string) string {
	return fmt.Sprintf("REL#%s#%s", kind, targetID)
}
