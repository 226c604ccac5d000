package coordinator

import (
	"fmt"
	"sort"

	"storymind/internal/config"
	"storymind/internal/drift"
	"storymind/internal/types"
)

// collectInsights gathers findings from every enabled tracker after an
// event has been applied, then adds cross-system correlation on top.
func (c *Coordinator) collectInsights(ev types.NarrativeEvent, cfg config.Config) []types.Insight {
	var out []types.Insight
	sens := cfg.Sensitivity

	if cfg.Trackers.DNA {
		out = append(out, c.dnaInsights(sens)...)
	}
	if cfg.Trackers.Constraint {
		out = append(out, c.constraintInsights(sens)...)
	}
	if cfg.Trackers.Recursion {
		out = append(out, c.recursionInsights(sens)...)
	}
	if cfg.Trackers.Character {
		out = append(out, c.characterInsights(sens)...)
	}
	if cfg.Trackers.Engagement {
		out = append(out, c.engagementInsights()...)
	}
	if cfg.Trackers.Drift && ev.Type == types.EventChapterBoundary {
		out = append(out, c.driftInsights(cfg.Drift)...)
	}
	if cross := c.crossSystemInsight(sens); cross != nil {
		out = append(out, *cross)
	}

	for i := range out {
		out[i].Turn = c.turn
	}
	return out
}

func (c *Coordinator) dnaInsights(sens config.SensitivityConfig) []types.Insight {
	analysis := c.dna.Analyze()
	var out []types.Insight

	if analysis.Health < 1.0-sens.UnresolvedLoops {
		in := types.NewInsight(types.InsightDNAPattern, types.PriorityHigh,
			"narrative loop health degrading",
			fmt.Sprintf("loop health %.2f with %d unresolved units; the story is opening more tension than it closes",
				analysis.Health, len(analysis.Unresolved)))
		in.Source = "dna"
		in.Suggestions = append(in.Suggestions, "close an open contradiction or pressure before adding new ones")
		out = append(out, in)
	}
	for i, opp := range analysis.ReturnOpportunities {
		if i == 2 {
			break
		}
		prio := types.PriorityMedium
		if opp.ThematicLink {
			prio = types.PriorityHigh
		}
		in := types.NewInsight(types.InsightRecursiveOpportunity, prio,
			"return opportunity", opp.Suggestion)
		in.Source = "dna"
		if opp.ThematicLink {
			in.Suggestions = append(in.Suggestions,
				fmt.Sprintf("recent material (%v) already points back at it", opp.MatchedTags))
		}
		out = append(out, in)
	}
	return out
}

func (c *Coordinator) constraintInsights(sens config.SensitivityConfig) []types.Insight {
	analysis := c.constraint.Analyze()
	var out []types.Insight

	if pressure := 1.0 - analysis.FreedomScore; pressure > sens.ConstraintPressure {
		in := types.NewInsight(types.InsightConstraintPressure, types.PriorityCritical,
			"constraint space nearly exhausted",
			fmt.Sprintf("freedom score %.2f (%s pressure): most modeled continuations are blocked",
				analysis.FreedomScore, analysis.Pressure))
		in.Source = "constraint"
		for i, r := range analysis.Resolvable {
			if i == 2 {
				break
			}
			in.Suggestions = append(in.Suggestions, fmt.Sprintf("resolving %s would help: %s", r.NodeID, r.Reason))
		}
		out = append(out, in)
	}
	if analysis.ContinuityFlag != "" {
		in := types.NewInsight(types.InsightConstraintPressure, types.PriorityHigh,
			"possible continuity error", analysis.ContinuityFlag)
		in.Source = "constraint"
		out = append(out, in)
	}
	return out
}

func (c *Coordinator) recursionInsights(sens config.SensitivityConfig) []types.Insight {
	analysis := c.recursion.Analyze()
	var out []types.Insight
	for _, s := range analysis.Suggestions {
		if s.Confidence < sens.PatternBreaks {
			continue
		}
		in := types.NewInsight(types.InsightRecursiveOpportunity, types.PriorityMedium, "echo opportunity", s.Text)
		in.Source = "recursion"
		out = append(out, in)
	}
	return out
}

func (c *Coordinator) characterInsights(sens config.SensitivityConfig) []types.Insight {
	analysis := c.character.Analyze()
	var out []types.Insight
	for _, v := range analysis.RecentViolations {
		if v.Turn != c.turn {
			continue // only surface violations from this event
		}
		prio := types.PriorityMedium
		if v.Severity > 1.0-sens.CharacterDrift {
			prio = types.PriorityHigh
		}
		in := types.NewInsight(types.InsightCharacterDrift, prio,
			fmt.Sprintf("character consistency break: %s", v.CharacterID), v.Detail)
		in.CharacterID = v.CharacterID
		in.Source = "character"
		out = append(out, in)
	}
	return out
}

func (c *Coordinator) engagementInsights() []types.Insight {
	metrics := c.engagement.Analyze()
	var out []types.Insight
	for _, report := range metrics.Attention {
		prio := types.PriorityMedium
		if report.Urgent {
			prio = types.PriorityHigh
		}
		in := types.NewInsight(types.InsightEngagementPattern, prio, "engagement hook needs attention", report.Reason)
		in.Suggestions = []string{report.Suggestion}
		in.Source = "engagement"
		out = append(out, in)
	}
	return out
}

func (c *Coordinator) driftInsights(cfg config.DriftConfig) []types.Insight {
	w := c.drift.CheckThresholds(cfg)
	if w == nil {
		return nil
	}
	in := types.NewInsight(types.InsightDriftAlert, types.PriorityCritical,
		fmt.Sprintf("narrative drift detected at chapter %d", w.Chapter), w.Text())
	in.Suggestions = w.Suggestions
	in.Source = "drift"
	return []types.Insight{in}
}

// crossSystemInsight fires when independent pressure signals agree:
// constraints tightening, obligations piling up, and engagement tension
// running hot at the same time.
func (c *Coordinator) crossSystemInsight(sens config.SensitivityConfig) *types.Insight {
	constraintPressure := 1.0 - c.constraint.Analyze().FreedomScore
	saturation := c.obligations.Saturation()
	obligationPressure := saturation / (saturation + 5.0) // soft-normalize to [0,1)
	engagementTension := c.engagement.Analyze().AverageIntensity

	mean := (constraintPressure + obligationPressure + engagementTension) / 3.0
	if mean <= sens.CrossSystem {
		return nil
	}
	in := types.NewInsight(types.InsightCrossSystemPattern, types.PriorityHigh,
		"multiple systems under pressure",
		fmt.Sprintf("constraint pressure %.2f, obligation pressure %.2f, engagement tension %.2f are all elevated",
			constraintPressure, obligationPressure, engagementTension))
	in.Source = "coordinator"
	in.Suggestions = []string{"release pressure deliberately: resolve a constraint or pay off an obligation on the page"}
	return &in
}

// dedupe suppresses insights repeating a (type, character) pair emitted
// within the configured turn window. It records nothing: only insights
// that survive the assertiveness filter are remembered, so a suppressed
// insight the caller never saw stays eligible next turn.
func (c *Coordinator) dedupe(insights []types.Insight, windowTurns int) []types.Insight {
	// Expire old entries first.
	kept := c.recent[:0]
	for _, k := range c.recent {
		if c.turn-k.turn <= windowTurns {
			kept = append(kept, k)
		}
	}
	c.recent = kept

	batch := make(map[emittedKey]bool)
	seen := func(t types.InsightType, char string) bool {
		if batch[emittedKey{insightType: t, characterID: char}] {
			return true
		}
		for _, k := range c.recent {
			if k.insightType == t && k.characterID == char {
				return true
			}
		}
		return false
	}

	var out []types.Insight
	for _, in := range insights {
		if seen(in.Type, in.CharacterID) {
			continue
		}
		batch[emittedKey{insightType: in.Type, characterID: in.CharacterID}] = true
		out = append(out, in)
	}
	return out
}

// remember records the pairs actually handed to the caller.
func (c *Coordinator) remember(insights []types.Insight) {
	for _, in := range insights {
		c.recent = append(c.recent, emittedKey{insightType: in.Type, characterID: in.CharacterID, turn: c.turn})
	}
}

func sortByPriority(insights []types.Insight) {
	sort.SliceStable(insights, func(i, j int) bool {
		return insights[i].Priority > insights[j].Priority
	})
}

// filterInsights is the single assertiveness gate: a pure function from
// (insights, level) to the truncated list. Trackers never see the
// assertiveness level.
func filterInsights(insights []types.Insight, level float64) []types.Insight {
	var max int
	switch {
	case level < 0.3:
		max = 1
	case level < 0.6:
		max = 3
	case level < 0.8:
		max = 5
	default:
		max = 8
	}
	if len(insights) > max {
		insights = insights[:max]
	}
	return insights
}

// ObligationReminders formats the heaviest open obligations the way the
// prompt injector consumes them.
func (c *Coordinator) ObligationReminders(limit int) []string {
	var out []string
	for i, o := range c.obligations.Open() {
		if i == limit {
			break
		}
		out = append(out, fmt.Sprintf("Obligation: %s.", o.Description))
	}
	return out
}

// DriftInjection returns the corrective prompt for the current drift
// warning, empty when the story is inside limits.
func (c *Coordinator) DriftInjection() string {
	return drift.InjectionPrompt(c.drift.CheckThresholds(c.applied.Drift))
}
