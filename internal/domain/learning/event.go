// Package learning holds the LearningEvent and LearningPattern aggregates:
// the immutable record of an agent's learning step and the aggregated
// patterns distilled from a stream of such steps, modeled the way
// internal/domain/memory models its own aggregate (private invariants
// enforced at construction via a Draft + New constructor).
package learning

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	coreerrors "memcore/internal/errors"
)

// Kind classifies the learning step an event records.
type Kind string

const (
	KindTraining Kind = "training"
	KindFeedback Kind = "feedback"
	KindCorrection Kind = "correction"
	KindReinforcement Kind = "reinforcement"
	KindAdaptation Kind = "adaptation"
)

func (k Kind) valid() bool {
	switch k {
	case KindTraining, KindFeedback, KindCorrection, KindReinforcement, KindAdaptation:
		return true
	}
	return false
}

// Output is the model's output snapshot at the time of the event
//.
type Output struct {
	Prediction interface{}
	Confidence float64 // [0, 1]
	Alternatives []interface{}
}

// Feedback is the optional human/system judgment attached to an event.
type Feedback struct {
	Rating float64 // implementer-normalized scale, treated as [0,1] by the composite score
	Correct bool
	CorrectedValue interface{}
	Explanation string
}

// Impact summarizes what the event did to the model or strategy it
// concerns.
type Impact struct {
	ModelUpdated bool
	PerformanceDelta float64 // signed; convention: positive = improvement
	AffectedModelIDs []string
}

// Cost is the optional cost/latency metrics block.
type Cost struct {
	AmountUSD float64
	LatencyMS float64
}

// Event is a single, immutable learning step. Corrections are modeled as new events referencing a
// ParentEventID rather than updates to an existing row.
type Event struct {
	ID string
	ServiceID string
	AgentID string
	Domain string
	Kind Kind

	Input map[string]interface{}
	Output Output

	Feedback *Feedback // optional
	Impact Impact
	Cost *Cost // optional

	Importance float64 // [0, 10]
	OccurredAt time.Time
	ParentEventID string // optional
}

// Draft is the caller-supplied shape for NewEvent.
type Draft struct {
	ServiceID string
	AgentID string
	Domain string
	Kind Kind
	Input map[string]interface{}
	Output Output
	Feedback *Feedback
	Impact Impact
	Cost *Cost
	Importance float64
	ParentEventID string
}

// NewEvent validates a Draft and assigns identity and occurrence
// instant, implementing the learning ledger's record() validation
// rules.
func NewEvent(d Draft) (*Event, error) {
	if d.ServiceID == "" || d.AgentID == "" || d.Domain == "" {
		return nil, coreerrors.InvalidInput("LEARNING_SCOPE_REQUIRED", "service_id, agent_id, and domain are required").Build()
	}
	if !d.Kind.valid() {
		return nil, coreerrors.InvalidInput("LEARNING_KIND_INVALID", "kind must be one of training, feedback, correction, reinforcement, adaptation").Build()
	}
	if d.Importance < 0 || d.Importance > 10 {
		return nil, coreerrors.InvalidInput("LEARNING_IMPORTANCE_RANGE", "importance must be within [0, 10]").Build()
	}
	if d.Output.Confidence < 0 || d.Output.Confidence > 1 {
		return nil, coreerrors.InvalidInput("LEARNING_CONFIDENCE_RANGE", "output confidence must be within [0, 1]").Build()
	}

	return &Event{
		ID: uuid.NewString(),
		ServiceID: d.ServiceID,
		AgentID: d.AgentID,
		Domain: d.Domain,
		Kind: d.Kind,
		Input: d.Input,
		Output: d.Output,
		Feedback: d.Feedback,
		Impact: d.Impact,
		Cost: d.Cost,
		Importance: d.Importance,
		OccurredAt: time.Now().UTC(),
		ParentEventID: d.ParentEventID,
	}, nil
}

// Signature is the stable identity a pattern aggregates events under:
// a hex sha256 hash over the event's domain, its kind, and the sorted
// key names of its input snapshot. Hashing with sha256/hex is a standard-library
// choice: no third-party hashing library appears anywhere in the
// retrieval pack (see DESIGN.md).
func (e *Event) Signature() string {
	keys := make([]string, 0, len(e.Input))
	for k := range e.Input {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	fmt.Fprintf(h, "%s|%s", e.Domain, e.Kind)
	for _, k := range keys {
		fmt.Fprintf(h, "|%s", k)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// IsCorrectFeedback reports whether the event carries feedback marking
// its prediction correct, the building block for the ledger's
// performance-improvement and feedback-rate computations.
func (e *Event) IsCorrectFeedback() bool {
	return e.Feedback != nil && e.Feedback.Correct
}
