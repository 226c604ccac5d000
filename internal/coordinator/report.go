package coordinator

import (
	"context"

	"golang.org/x/sync/errgroup"

	"storymind/internal/character"
	"storymind/internal/constraint"
	"storymind/internal/dna"
	"storymind/internal/drift"
	"storymind/internal/engagement"
	"storymind/internal/recursion"
)

// Report is the on-demand session summary. It serializes directly; the
// surrounding transport layer may expose it verbatim.
type Report struct {
	SessionID     string  `json:"session_id"`
	Turn          int     `json:"turn"`
	Chapter       int     `json:"chapter"`
	OverallHealth float64 `json:"overall_health"`

	SubScores map[string]float64 `json:"sub_scores"`

	DNA        dna.PatternAnalysis      `json:"dna"`
	Constraint constraint.SpaceAnalysis `json:"constraint"`
	Recursion  recursion.Analysis       `json:"recursion"`
	Character  character.Analysis       `json:"character"`
	Engagement engagement.Metrics       `json:"engagement"`
	DriftTrend *drift.TrendAnalysis     `json:"drift_trend,omitempty"`
	DriftAlert *drift.Warning           `json:"drift_alert,omitempty"`
}

// Report assembles the full session summary. Tracker analyses are
// read-only and independently locked, so they run concurrently.
func (c *Coordinator) Report(ctx context.Context) (Report, error) {
	r := Report{
		SessionID: c.sessionID,
		Turn:      c.turn,
		Chapter:   c.chapter,
		SubScores: make(map[string]float64, 6),
	}

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error { r.DNA = c.dna.Analyze(); return nil })
	g.Go(func() error { r.Constraint = c.constraint.Analyze(); return nil })
	g.Go(func() error { r.Recursion = c.recursion.Analyze(); return nil })
	g.Go(func() error { r.Character = c.character.Analyze(); return nil })
	g.Go(func() error { r.Engagement = c.engagement.Analyze(); return nil })
	g.Go(func() error {
		if c.drift.Len() >= 2 {
			trend, err := c.drift.AnalyzeTrend(c.applied.Drift.TrendLookback)
			if err != nil {
				return err
			}
			r.DriftTrend = &trend
		}
		r.DriftAlert = c.drift.CheckThresholds(c.applied.Drift)
		return nil
	})
	if err := g.Wait(); err != nil {
		return Report{}, err
	}

	r.SubScores["dna"] = r.DNA.Health
	r.SubScores["constraint"] = r.Constraint.FreedomScore
	r.SubScores["recursion"] = r.Recursion.Health
	r.SubScores["character"] = r.Character.Health
	r.SubScores["engagement"] = r.Engagement.RetentionScore
	driftScore := 1.0
	if r.DriftAlert != nil {
		driftScore = 1.0 - 0.2*float64(len(r.DriftAlert.Warnings))
		if driftScore < 0 {
			driftScore = 0
		}
	}
	r.SubScores["drift"] = driftScore

	var sum float64
	for _, v := range r.SubScores {
		sum += v
	}
	r.OverallHealth = sum / float64(len(r.SubScores))
	return r, nil
}
