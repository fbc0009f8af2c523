// Package memory holds the MemoryEntry aggregate: a unit of long-lived
// agent state, its scope, kind, payload, and relationship edges. It is
// modeled the way the teacher models its Node aggregate (domain/core
// entities with encapsulated fields and factory validation) generalized
// from "knowledge-graph node" to "typed agent memory".
package memory

import (
	"time"

	"github.com/google/uuid"

	coreerrors "memcore/internal/errors"
)

// Kind is the category of memory entry.
type Kind string

const (
	KindWorking Kind = "working"
	KindEpisodic Kind = "episodic"
	KindSemantic Kind = "semantic"
	KindProcedural Kind = "procedural"
	KindBusiness Kind = "business"
)

func (k Kind) valid() bool {
	switch k {
	case KindWorking, KindEpisodic, KindSemantic, KindProcedural, KindBusiness:
		return true
	}
	return false
}

// Value is the opaque, structured payload value. The core never
// introspects it except for the free-text substring filter.
type Value = map[string]interface{}

// Metadata carries everything about an entry besides its payload.
type Metadata struct {
	CreatedAt time.Time
	Version int
	Tags map[string]struct{}
	CorrelationID string
	SessionID string
	UserID string
	Importance float64 // [0, 10]
	AccessCount int64
	LastAccessedAt time.Time
	ExpiresAt *time.Time
}

// HasTag reports whether tag is present in the entry's tag set.
func (m Metadata) HasTag(tag string) bool {
	_, ok := m.Tags[tag]
	return ok
}

// Relationships is the set of edges attached to an entry: undirected
// "related" ids plus an optional directed cause/effect pair.
type Relationships struct {
	Related map[string]struct{}
	CauseID string
	Effects map[string]struct{}
}

// Entry is the MemoryEntry aggregate.
type Entry struct {
	ID string
	ServiceID string
	AgentID string
	Domain string
	Kind Kind
	Payload Value
	Metadata Metadata
	Embedding []float64 // nil if absent

	Relationships Relationships
	Archived bool
}

// Scope groups the three fields that every entry and event carries, and
// that every query filter can select on.
type Scope struct {
	ServiceID string
	AgentID string
	Domain string
}

// Draft is the caller-supplied shape for New: an entry without an assigned
// id, creation instant, or version.
type Draft struct {
	ServiceID string
	AgentID string
	Domain string
	Kind Kind
	Payload Value
	Tags []string
	CorrelationID string
	SessionID string
	UserID string
	Importance float64
	Embedding []float64
	ExpiresAt *time.Time
}

// New validates a Draft and assigns identity, creation instant, and the
// initial version, implementing the memory engine's store() validation
// rules.
func New(d Draft) (*Entry, error) {
	if d.ServiceID == "" || d.AgentID == "" || d.Domain == "" {
		return nil, coreerrors.InvalidInput("MEMORY_SCOPE_REQUIRED", "service_id, agent_id, and domain are required").Build()
	}
	if !d.Kind.valid() {
		return nil, coreerrors.InvalidInput("MEMORY_KIND_INVALID", "kind must be one of working, episodic, semantic, procedural, business").Build()
	}
	if d.Importance < 0 || d.Importance > 10 {
		return nil, coreerrors.InvalidInput("MEMORY_IMPORTANCE_RANGE", "importance must be within [0, 10]").Build()
	}
	if d.ExpiresAt != nil && d.ExpiresAt.Before(time.Now()) {
		return nil, coreerrors.InvalidInput("MEMORY_EXPIRY_PAST", "expires_at must not be in the past").Build()
	}

	now := time.Now().UTC()
	tags := make(map[string]struct{}, len(d.Tags))
	for _, t := range d.Tags {
		tags[t] = struct{}{}
	}

	return &Entry{
		ID: uuid.NewString(),
		ServiceID: d.ServiceID,
		AgentID: d.AgentID,
		Domain: d.Domain,
		Kind: d.Kind,
		Payload: d.Payload,
		Embedding: d.Embedding,
		Metadata: Metadata{
			CreatedAt: now,
			Version: 1,
			Tags: tags,
			CorrelationID: d.CorrelationID,
			SessionID: d.SessionID,
			UserID: d.UserID,
			Importance: d.Importance,
			LastAccessedAt: now,
			ExpiresAt: d.ExpiresAt,
		},
		Relationships: Relationships{
			Related: map[string]struct{}{},
			Effects: map[string]struct{}{},
		},
	}, nil
}

// IsExpired reports whether the entry is past its expiry instant as of
// 'now', using the half-open interval [created, expires_at) — exactly
// at the threshold counts as expired.
func (e *Entry) IsExpired(now time.Time) bool {
	return e.Metadata.ExpiresAt != nil && !now.Before(*e.Metadata.ExpiresAt)
}

// Touch bumps the access counter and last-access instant. This update
// is commutative/conflict-free and may be applied best-effort.
func (e *Entry) Touch(at time.Time) {
	e.Metadata.AccessCount++
	e.Metadata.LastAccessedAt = at
}

// BumpVersion increments the monotonic version on a successful write, so
// version is non-decreasing across every write to a given id.
func (e *Entry) BumpVersion() {
	e.Metadata.Version++
}

// Scope returns the entry's scope triple.
func (e *Entry) Scope() Scope {
	return Scope{ServiceID: e.ServiceID, AgentID: e.AgentID, Domain: e.Domain}
}
