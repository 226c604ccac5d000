package engagement

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// AttentionReport flags one loop that needs authorial attention.
type AttentionReport struct {
	LoopID     uuid.UUID `json:"loop_id"`
	Type       LoopType  `json:"type"`
	Reason     string    `json:"reason"`
	Suggestion string    `json:"suggestion"`
	Urgent     bool      `json:"urgent"`
}

// Metrics is the tracker's analysis product.
type Metrics struct {
	ActiveLoops      int               `json:"active_loops"`
	StaleLoops       int               `json:"stale_loops"`
	Resolved         int               `json:"resolved"`
	Subverted        int               `json:"subverted"`
	Abandoned        int               `json:"abandoned"`
	AverageIntensity float64           `json:"average_intensity"`
	ResolutionRate   float64           `json:"resolution_rate"`
	RetentionScore   float64           `json:"retention_score"`
	Attention        []AttentionReport `json:"attention,omitempty"`
}

// Analyze computes (or returns the cached) engagement metrics.
func (t *Tracker) Analyze() Metrics {
	if cached, ok := t.cache.Get(analysisKey); ok {
		return cached.(Metrics)
	}

	t.mu.RLock()
	m := t.analyzeLocked()
	t.mu.RUnlock()

	t.cache.SetDefault(analysisKey, m)
	return m
}

func (t *Tracker) analyzeLocked() Metrics {
	w := t.weights
	m := Metrics{Resolved: t.resolved, Subverted: t.subverted, Abandoned: t.abandoned}

	var tensionSum float64
	for _, id := range t.order {
		loop := t.loops[id]
		if loop == nil || !loop.Active() {
			continue
		}
		m.ActiveLoops++
		tensionSum += loop.Tension
		if loop.Stale {
			m.StaleLoops++
			m.Attention = append(m.Attention, AttentionReport{
				LoopID:     loop.ID,
				Type:       loop.Type,
				Reason:     fmt.Sprintf("%s hook %q unreinforced for %d turns", loop.Type, trim(loop.Description), t.turn-loop.LastReinforcedTurn),
				Suggestion: "this hook needs attention or resolution: reinforce it with a new development or close it deliberately",
				Urgent:     true,
			})
		} else if loop.Tension > 0.9 {
			m.Attention = append(m.Attention, AttentionReport{
				LoopID:     loop.ID,
				Type:       loop.Type,
				Reason:     fmt.Sprintf("%s hook %q is near maximum tension", loop.Type, trim(loop.Description)),
				Suggestion: "consider a partial resolution before reader fatigue sets in",
			})
		}
	}
	if m.ActiveLoops > 0 {
		m.AverageIntensity = tensionSum / float64(m.ActiveLoops)
	}

	closed := t.resolved + t.subverted + t.abandoned
	if closed > 0 {
		m.ResolutionRate = float64(t.resolved+t.subverted) / float64(closed)
	}

	// Retention blends the signals a reader actually feels: live hooks,
	// a moderate tension band, loops that pay off, and not too many
	// threads in the air at once.
	score := 0.5
	if m.ActiveLoops > 0 {
		score += 0.2
	}
	if m.AverageIntensity >= 0.4 && m.AverageIntensity <= 0.8 {
		score += 0.2
	}
	if closed > 0 && m.ResolutionRate >= 0.7 {
		score += 0.2
	}
	if t.abandoned > t.resolved {
		score -= 0.3
	}
	if m.ActiveLoops > w.LoopActiveCeiling {
		score -= 0.1
	}
	m.RetentionScore = clamp01(score)

	sort.Slice(m.Attention, func(i, j int) bool {
		if m.Attention[i].Urgent != m.Attention[j].Urgent {
			return m.Attention[i].Urgent
		}
		return m.Attention[i].LoopID.String() < m.Attention[j].LoopID.String()
	})
	return m
}

func trim(s string) string {
	const max = 48
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
