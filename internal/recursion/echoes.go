package recursion

import (
	"fmt"
	"sort"
)

// EchoKind classifies how a fragment resonates with earlier material.
type EchoKind string

const (
	EchoSemanticRipple     EchoKind = "semantic_ripple"
	EchoEmotionalCascade   EchoKind = "emotional_cascade"
	EchoCausalLeverage     EchoKind = "causal_leverage"
	EchoThematicEscalation EchoKind = "thematic_escalation"
	EchoStructuralSymmetry EchoKind = "structural_symmetry"
	EchoSymbolicRecursion  EchoKind = "symbolic_recursion"
	EchoTonalEcho          EchoKind = "tonal_echo"
	EchoMotifReturn        EchoKind = "motif_return"
)

// EchoMatch pairs new content with a resonating stored element.
type EchoMatch struct {
	Element    Element  `json:"element"`
	Kind       EchoKind `json:"kind"`
	Similarity float64  `json:"similarity"` // textual overlap in [0,1]
	Novelty    float64  `json:"novelty"`    // temporal distance bonus in [0,1]
	Strength   float64  `json:"strength"`   // weighted combination
}

// Keyword classes used to classify echo kinds. Plain lookup tables;
// matching is intersection, nothing cleverer.
var (
	themeWords = map[string]bool{
		"truth": true, "betrayal": true, "redemption": true, "sacrifice": true,
		"freedom": true, "power": true, "identity": true, "loyalty": true,
		"justice": true, "forgiveness": true, "legacy": true, "belonging": true,
	}
	emotionWords = map[string]bool{
		"fear": true, "grief": true, "joy": true, "rage": true, "anger": true,
		"love": true, "shame": true, "guilt": true, "hope": true, "despair": true,
		"longing": true, "dread": true,
	}
	symbolWords = map[string]bool{
		"mirror": true, "door": true, "key": true, "river": true, "fire": true,
		"shadow": true, "light": true, "crown": true, "letter": true, "ring": true,
		"storm": true, "garden": true,
	}
	toneWords = map[string]bool{
		"quiet": true, "cold": true, "dark": true, "warm": true, "bitter": true,
		"gentle": true, "harsh": true, "still": true, "heavy": true, "hollow": true,
	}
	causalWords = map[string]bool{
		"because": true, "promise": true, "debt": true, "consequence": true,
		"caused": true, "owed": true, "vow": true,
	}
)

// FindEchoes compares content at a given level against every level
// window and returns matches above the similarity floor, strongest
// first. Temporally distant repeats score higher novelty than
// immediate ones.
func (t *Tracker) FindEchoes(level Level, content string) []EchoMatch {
	if _, ok := levelNames[level]; !ok {
		return nil
	}
	words := wordSet(content)
	if len(words) == 0 {
		return nil
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	w := t.weights
	var matches []EchoMatch
	for l, win := range t.windows {
		for _, el := range win {
			sim := jaccard(words, el.words)
			if sim < w.EchoSimilarityFloor {
				continue
			}
			dist := float64(t.turn - el.Turn)
			if dist < 0 {
				dist = 0
			}
			novelty := dist / (dist + w.EchoTemporalHalfLife)
			matches = append(matches, EchoMatch{
				Element:    el,
				Kind:       classify(level, l, words, el.words),
				Similarity: sim,
				Novelty:    novelty,
				Strength:   w.EchoTextWeight*sim + w.EchoDistanceWeight*novelty,
			})
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Strength > matches[j].Strength })
	return matches
}

// classify picks an echo kind from level relationship and shared
// keyword classes.
func classify(newLevel, oldLevel Level, a, b map[string]bool) EchoKind {
	shared := func(class map[string]bool) bool {
		for w := range a {
			if class[w] && b[w] {
				return true
			}
		}
		return false
	}
	switch {
	case shared(symbolWords):
		return EchoSymbolicRecursion
	case shared(themeWords):
		return EchoThematicEscalation
	case shared(emotionWords):
		return EchoEmotionalCascade
	case shared(causalWords):
		return EchoCausalLeverage
	case shared(toneWords):
		return EchoTonalEcho
	case newLevel == oldLevel && newLevel >= LevelScene:
		return EchoStructuralSymmetry
	case newLevel == oldLevel:
		return EchoMotifReturn
	default:
		return EchoSemanticRipple
	}
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(b) < len(a) {
		small, large = b, a
	}
	inter := 0
	for w := range small {
		if large[w] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// =============================================================================
// ANALYSIS
// =============================================================================

// Suggestion proposes (never inserts) a resonance opportunity.
type Suggestion struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Analysis summarizes the echo structure of the recorded material.
type Analysis struct {
	Elements              int          `json:"elements"`
	Echoes                int          `json:"echoes"`
	RecursionDensity      float64      `json:"recursion_density"`
	CrossLevelConnections int          `json:"cross_level_connections"`
	ThematicCoherence     float64      `json:"thematic_coherence"`
	StructuralSymmetry    float64      `json:"structural_symmetry"`
	Health                float64      `json:"health"`
	Suggestions           []Suggestion `json:"suggestions,omitempty"`
}

// Analyze computes (or returns the cached) echo analysis across the
// current windows.
func (t *Tracker) Analyze() Analysis {
	if cached, ok := t.cache.Get(analysisKey); ok {
		return cached.(Analysis)
	}

	t.mu.RLock()
	analysis := t.analyzeLocked()
	t.mu.RUnlock()

	t.cache.SetDefault(analysisKey, analysis)
	return analysis
}

func (t *Tracker) analyzeLocked() Analysis {
	w := t.weights

	type placed struct {
		el    Element
		level Level
	}
	var all []placed
	for l, win := range t.windows {
		for _, el := range win {
			all = append(all, placed{el: el, level: l})
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].el.Turn < all[j].el.Turn })

	var echoes, crossLevel, thematic, symmetric int
	var suggestions []Suggestion
	for i := 1; i < len(all); i++ {
		for j := 0; j < i; j++ {
			sim := jaccard(all[i].el.words, all[j].el.words)
			if sim < w.EchoSimilarityFloor {
				continue
			}
			echoes++
			kind := classify(all[i].level, all[j].level, all[i].el.words, all[j].el.words)
			if all[i].level != all[j].level {
				crossLevel++
			}
			switch kind {
			case EchoThematicEscalation, EchoSymbolicRecursion:
				thematic++
			case EchoStructuralSymmetry:
				symmetric++
			}
			if all[i].level < all[j].level && (kind == EchoThematicEscalation || kind == EchoSymbolicRecursion) {
				suggestions = append(suggestions, Suggestion{
					Text: fmt.Sprintf("%s-level fragment %q could resonate with the %s-level %q",
						all[i].level, trim(all[i].el.Content), all[j].level, trim(all[j].el.Content)),
					Confidence: sim,
				})
			}
		}
	}

	n := len(all)
	analysis := Analysis{Elements: n, Echoes: echoes}
	if n > 0 {
		analysis.RecursionDensity = float64(echoes) / float64(n)
	}
	analysis.CrossLevelConnections = crossLevel
	if echoes > 0 {
		analysis.ThematicCoherence = float64(thematic) / float64(echoes)
		analysis.StructuralSymmetry = float64(symmetric) / float64(echoes)
	}

	// Health rewards a moderate echo density, cross-level reach, and
	// thematic coherence on top of a neutral base.
	health := 0.5
	if analysis.RecursionDensity > 0.1 && analysis.RecursionDensity < 1.5 {
		health += 0.2
	}
	if crossLevel > 0 {
		health += 0.15
	}
	if analysis.ThematicCoherence > 0.3 {
		health += 0.15
	}
	analysis.Health = clamp01(health)

	sort.Slice(suggestions, func(i, j int) bool { return suggestions[i].Confidence > suggestions[j].Confidence })
	if len(suggestions) > 5 {
		suggestions = suggestions[:5]
	}
	analysis.Suggestions = suggestions
	return analysis
}

func trim(s string) string {
	const max = 48
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
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
