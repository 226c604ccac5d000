package character

import (
	"fmt"
	"regexp"
	"strings"

	"storymind/internal/types"
)

// =============================================================================
// DIALOGUE VOICE
// =============================================================================

var sentenceSplit = regexp.MustCompile(`[.!?]+`)

// dialogueFeatures are the linguistic measurements extracted per line.
type dialogueFeatures struct {
	words             int
	avgSentenceLength float64
	complexityRatio   float64 // words longer than 8 characters / total
}

func extractFeatures(text string) dialogueFeatures {
	words := strings.Fields(text)
	f := dialogueFeatures{words: len(words)}
	if len(words) == 0 {
		return f
	}
	long := 0
	for _, w := range words {
		if len(strings.Trim(w, `.,!?;:"'`)) > 8 {
			long++
		}
	}
	f.complexityRatio = float64(long) / float64(len(words))

	sentences := 0
	for _, s := range sentenceSplit.Split(text, -1) {
		if strings.TrimSpace(s) != "" {
			sentences++
		}
	}
	if sentences == 0 {
		sentences = 1
	}
	f.avgSentenceLength = float64(len(words)) / float64(sentences)
	return f
}

// ObserveDialogue scores a line against the character's voice
// fingerprint, updates the fingerprint by EMA, and stores the sample in
// the bounded history. A similarity below the configured threshold
// emits a DialogueVoiceShift violation.
func (e *Engine) ObserveDialogue(id, text string) (ConsistencyCheck, error) {
	if id == "" {
		return ConsistencyCheck{}, &types.ValidationError{Field: "character_id", Reason: "character id missing"}
	}
	if strings.TrimSpace(text) == "" {
		return ConsistencyCheck{}, &types.ValidationError{Field: "text", Reason: "dialogue text missing"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	p := e.ensureLocked(id)
	w := e.weights
	feats := extractFeatures(text)

	similarity := 1.0
	var notes []string
	switch p.Fingerprint.Register {
	case "formal":
		if feats.complexityRatio < 0.1 {
			similarity -= w.VoiceRegisterPenalty
			notes = append(notes, "formal speaker using unusually simple vocabulary")
		}
	case "casual":
		if feats.complexityRatio > 0.3 {
			similarity -= w.VoiceRegisterPenalty
			notes = append(notes, "casual speaker using unusually complex vocabulary")
		}
	}
	lower := strings.ToLower(text)
	for _, phrase := range p.Fingerprint.FavoritePhrases {
		if phrase != "" && strings.Contains(lower, strings.ToLower(phrase)) {
			similarity += w.VoicePhraseBonus
		}
	}
	similarity = clampRange(similarity, 0, 1)

	check := ConsistencyCheck{VoiceSimilarity: similarity}
	if similarity < w.VoiceViolationThreshold {
		v := Violation{
			Type:        ViolationDialogueVoiceShift,
			CharacterID: id,
			Detail:      fmt.Sprintf("voice similarity %.2f below %.2f: %s", similarity, w.VoiceViolationThreshold, strings.Join(notes, "; ")),
			Severity:    w.VoiceViolationThreshold - similarity,
			Turn:        e.turn,
		}
		check.Violations = append(check.Violations, v)
		e.noteViolationLocked(v)
	}

	// EMA fingerprint update; a first sample seeds the averages.
	alpha := w.FingerprintEMAAlpha
	if p.Fingerprint.Samples == 0 {
		p.Fingerprint.AvgSentenceLength = feats.avgSentenceLength
		p.Fingerprint.ComplexityRatio = feats.complexityRatio
	} else {
		p.Fingerprint.AvgSentenceLength = alpha*feats.avgSentenceLength + (1-alpha)*p.Fingerprint.AvgSentenceLength
		p.Fingerprint.ComplexityRatio = alpha*feats.complexityRatio + (1-alpha)*p.Fingerprint.ComplexityRatio
	}
	p.Fingerprint.Samples++

	p.VoiceSamples = append(p.VoiceSamples, text)
	if len(p.VoiceSamples) > e.sampleCap {
		p.VoiceSamples = p.VoiceSamples[len(p.VoiceSamples)-e.sampleCap:]
	}
	e.cache.Flush()
	return check, nil
}

// ObserveAction scores an action against declared traits. Matching a
// manifestation raises consistency, matching a declared contradiction
// lowers it by intensity and stability. Below threshold emits a
// PersonalityContradiction violation.
func (e *Engine) ObserveAction(id, action, motivation string) (ConsistencyCheck, error) {
	if id == "" {
		return ConsistencyCheck{}, &types.ValidationError{Field: "character_id", Reason: "character id missing"}
	}
	if strings.TrimSpace(action) == "" {
		return ConsistencyCheck{}, &types.ValidationError{Field: "action", Reason: "action text missing"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	p := e.ensureLocked(id)
	w := e.weights

	lowAction := strings.ToLower(action)
	lowMotivation := strings.ToLower(motivation)
	score := 0.5
	var contradicted []string
	for _, trait := range p.Traits {
		for _, m := range trait.Manifestations {
			if m != "" && strings.Contains(lowAction, strings.ToLower(m)) {
				score += trait.Intensity * 0.2
			}
		}
		for _, c := range trait.Contradictions {
			if c != "" && strings.Contains(lowAction, strings.ToLower(c)) {
				score -= trait.Intensity * trait.Stability * 0.3
				contradicted = append(contradicted, trait.Name)
			}
		}
		if lowMotivation != "" && strings.Contains(lowMotivation, strings.ToLower(trait.Name)) {
			score += 0.2
		}
	}
	score = clampRange(score, 0, 1)

	check := ConsistencyCheck{ActionConsistency: score}
	if score < w.ActionViolationThreshold {
		detail := fmt.Sprintf("action consistency %.2f below %.2f", score, w.ActionViolationThreshold)
		if len(contradicted) > 0 {
			detail += fmt.Sprintf(" (contradicts: %s)", strings.Join(contradicted, ", "))
		}
		v := Violation{
			Type:        ViolationPersonalityContradiction,
			CharacterID: id,
			Detail:      detail,
			Severity:    w.ActionViolationThreshold - score,
			Turn:        e.turn,
		}
		check.Violations = append(check.Violations, v)
		e.noteViolationLocked(v)
	}
	e.cache.Flush()
	return check, nil
}

// SetTurn lets the owner advance the engine's notion of the current
// turn, used only to timestamp violations.
func (e *Engine) SetTurn(turn int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if turn > e.turn {
		e.turn = turn
	}
}
