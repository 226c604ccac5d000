package types

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// INSIGHTS
// =============================================================================

// Priority ranks how urgently an insight deserves attention.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	default:
		return "low"
	}
}

// InsightType identifies which analysis family produced an insight.
type InsightType string

const (
	InsightDNAPattern           InsightType = "dna_pattern"
	InsightConstraintPressure   InsightType = "constraint_pressure"
	InsightRecursiveOpportunity InsightType = "recursive_opportunity"
	InsightCharacterDrift       InsightType = "character_drift"
	InsightEngagementPattern    InsightType = "engagement_pattern"
	InsightCrossSystemPattern   InsightType = "cross_system_pattern"
	InsightDriftAlert           InsightType = "drift_alert"
)

// Insight is one advisory signal surfaced to the caller. The generator
// is free to ignore it.
type Insight struct {
	ID          uuid.UUID   `json:"id"`
	Type        InsightType `json:"type"`
	Priority    Priority    `json:"priority"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Suggestions []string    `json:"suggestions,omitempty"`
	CharacterID string      `json:"character_id,omitempty"`
	Source      string      `json:"source"`
	Turn        int         `json:"turn"`
	CreatedAt   time.Time   `json:"created_at"`
}

// NewInsight builds an insight with a fresh ID and timestamp.
func NewInsight(t InsightType, p Priority, title, desc string) Insight {
	return Insight{
		ID:          uuid.New(),
		Type:        t,
		Priority:    p,
		Title:       title,
		Description: desc,
		CreatedAt:   time.Now(),
	}
}

// AnalysisResult is what the Coordinator returns per ingested event: a
// prioritized insight list plus an optional context string for the
// caller to splice into the next generation prompt.
type AnalysisResult struct {
	Insights      []Insight `json:"insights"`
	ContextPrompt string    `json:"context_prompt,omitempty"`
	Turn          int       `json:"turn"`
	Chapter       int       `json:"chapter"`
}
