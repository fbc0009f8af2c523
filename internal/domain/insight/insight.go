// Package insight holds the Insight aggregate persisted by the
// aggregation pipeline whenever one of its fixed rules fires,
// generalized from the teacher's notification/event entities.
package insight

import (
	"time"

	"github.com/google/uuid"
)

// Type classifies what kind of finding an insight represents.
type Type string

const (
	TypeAnomaly Type = "anomaly"
	TypeTrend Type = "trend"
	TypeOpportunity Type = "opportunity"
	TypeRisk Type = "risk"
)

// Severity is the rule-assigned severity level.
type Severity string

const (
	SeverityLow Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh Severity = "high"
)

// Metric is a single named aggregate value captured at insight-generation
// time, e.g. {Name: "error_rate", Value: 0.14}.
type Metric struct {
	Name string
	Value float64
}

// Insight is a persisted finding produced by a rule over recent
// aggregates.
type Insight struct {
	ID string
	Domain string
	Type Type
	Severity Severity
	Title string
	Description string
	MetricSnapshot []Metric
	Recommendations []string
	CreatedAt time.Time
}

// New builds an Insight from a fired rule's outputs.
func New(domain string, typ Type, severity Severity, title, description string, snapshot []Metric, recommendations []string) *Insight {
	return &Insight{
		ID: uuid.NewString(),
		Domain: domain,
		Type: typ,
		Severity: severity,
		Title: title,
		Description: description,
		MetricSnapshot: snapshot,
		Recommendations: recommendations,
		CreatedAt: time.Now().UTC(),
	}
}
