package dna

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// PatternAnalysis is the tracker's analysis product.
type PatternAnalysis struct {
	Unresolved          []Unit              `json:"unresolved"`
	ReturnOpportunities []ReturnOpportunity `json:"return_opportunities"`
	Health              float64             `json:"health"`
	TotalUnits          int                 `json:"total_units"`
	ReturnRatio         float64             `json:"return_ratio"`
}

// ReturnOpportunity suggests (never forces) closing an aged open loop.
type ReturnOpportunity struct {
	UnitID       uuid.UUID `json:"unit_id"`
	Description  string    `json:"description"`
	Pressure     float64   `json:"pressure"`
	AgeTurns     int       `json:"age_turns"`
	ThematicLink bool      `json:"thematic_link"`
	MatchedTags  []string  `json:"matched_tags,omitempty"`
	Suggestion   string    `json:"suggestion"`
}

// Analyze computes (or returns the cached) pattern analysis. The cache
// is flushed by every mutating call, so two Analyze calls with no
// intervening mutation return identical results.
func (t *Tracker) Analyze() PatternAnalysis {
	if cached, ok := t.cache.Get(analysisKey); ok {
		return cached.(PatternAnalysis)
	}

	t.mu.RLock()
	analysis := t.analyzeLocked()
	t.mu.RUnlock()

	t.cache.SetDefault(analysisKey, analysis)
	return analysis
}

func (t *Tracker) analyzeLocked() PatternAnalysis {
	var unresolved []Unit
	var returns, contradictions, pressures int
	for _, u := range t.units {
		switch {
		case u.LoopType == LoopReturn:
			returns++
		case !u.Resolved && u.LoopType == LoopContradiction:
			contradictions++
			unresolved = append(unresolved, u)
		case !u.Resolved && u.LoopType == LoopPressure:
			pressures++
			unresolved = append(unresolved, u)
		case !u.Resolved:
			unresolved = append(unresolved, u)
		}
	}

	total := len(t.units)
	var ratio float64
	if total > 0 {
		ratio = float64(returns) / float64(total)
	}

	return PatternAnalysis{
		Unresolved:          unresolved,
		ReturnOpportunities: t.opportunitiesLocked(unresolved),
		Health:              t.healthLocked(contradictions, pressures, returns, total),
		TotalUnits:          total,
		ReturnRatio:         ratio,
	}
}

// healthLocked scores loop health in [0,1]. Penalties and bonuses are
// tunable weights.
func (t *Tracker) healthLocked(contradictions, pressures, returns, total int) float64 {
	w := t.weights
	health := 1.0
	if contradictions > w.DNAUnresolvedContradictionCap {
		health -= w.DNAContradictionPenalty
	}
	if pressures > w.DNAUnresolvedPressureCap {
		health -= w.DNAPressurePenalty
	}
	var ratio float64
	if total > 0 {
		ratio = float64(returns) / float64(total)
	}
	if ratio < 0.1 && total > 10 {
		health -= w.DNALowReturnPenalty
	}
	if ratio >= 0.15 && ratio <= 0.35 {
		health += w.DNAHealthyReturnBonus
	}
	return clamp01(health)
}

// opportunitiesLocked finds aged open loops worth returning to. A loop
// whose tags or characters overlap a recently sighted recursive element
// gains a thematic link and extra pressure.
func (t *Tracker) opportunitiesLocked(unresolved []Unit) []ReturnOpportunity {
	w := t.weights
	var opps []ReturnOpportunity
	for _, u := range unresolved {
		age := t.turn - u.CreatedTurn
		consequenceless := u.LoopType == LoopAction && age > w.DNAReturnAgeTurns/2
		if age <= w.DNAReturnAgeTurns && !consequenceless {
			continue
		}

		pressure := u.Intensity * (1.0 + float64(age)*w.DNAPressureAgeFactor)
		if pressure > w.DNAPressureCeiling {
			pressure = w.DNAPressureCeiling
		}

		matched := t.thematicMatchLocked(u)
		if len(matched) > 0 {
			pressure = minf(pressure*1.25, w.DNAPressureCeiling)
		}

		opp := ReturnOpportunity{
			UnitID:       u.ID,
			Description:  u.Description,
			Pressure:     pressure,
			AgeTurns:     age,
			ThematicLink: len(matched) > 0,
			MatchedTags:  matched,
		}
		switch u.LoopType {
		case LoopAction:
			opp.Suggestion = fmt.Sprintf("the action %q has had no visible consequence for %d turns", u.Description, age)
		default:
			opp.Suggestion = fmt.Sprintf("an open %s (%q) has waited %d turns for a return", u.LoopType, u.Description, age)
		}
		opps = append(opps, opp)
	}

	sort.Slice(opps, func(i, j int) bool { return opps[i].Pressure > opps[j].Pressure })
	return opps
}

// thematicMatchLocked intersects a unit's tags/characters with recent
// recursive-element sightings. Plain string overlap, no NLP.
func (t *Tracker) thematicMatchLocked(u Unit) []string {
	var matched []string
	seen := map[string]bool{}
	for _, s := range t.recentTags {
		for _, tag := range s.tags {
			if seen[tag] {
				continue
			}
			for _, ut := range u.Tags {
				if tag == ut {
					matched = append(matched, tag)
					seen[tag] = true
				}
			}
		}
		for _, cid := range s.characterIDs {
			key := "character:" + cid
			if seen[key] {
				continue
			}
			for _, uc := range u.CharacterIDs {
				if cid == uc {
					matched = append(matched, key)
					seen[key] = true
				}
			}
		}
	}
	return matched
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
