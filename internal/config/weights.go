package config

import (
	"fmt"

	"storymind/internal/types"
)

// Weights collects the constants behind the scoring formulas. The
// defaults are the values the heuristics were originally tuned with;
// they are configuration, not contract.
type Weights struct {
	// CAPR loop health.
	DNAUnresolvedContradictionCap int     `yaml:"dna_unresolved_contradiction_cap"`
	DNAUnresolvedPressureCap      int     `yaml:"dna_unresolved_pressure_cap"`
	DNAContradictionPenalty       float64 `yaml:"dna_contradiction_penalty"`
	DNAPressurePenalty            float64 `yaml:"dna_pressure_penalty"`
	DNALowReturnPenalty           float64 `yaml:"dna_low_return_penalty"`
	DNAHealthyReturnBonus         float64 `yaml:"dna_healthy_return_bonus"`
	DNAReturnAgeTurns             int     `yaml:"dna_return_age_turns"`
	DNAPressureAgeFactor          float64 `yaml:"dna_pressure_age_factor"`
	DNAPressureCeiling            float64 `yaml:"dna_pressure_ceiling"`

	// Constraint space.
	ConstraintMaxDepth    int     `yaml:"constraint_max_depth"`
	ThreadUrgencyWeight   float64 `yaml:"thread_urgency_weight"`
	TraitPreventionWeight float64 `yaml:"trait_prevention_weight"`
	FreedomJumpTolerance  float64 `yaml:"freedom_jump_tolerance"`

	// Recursion echoes.
	EchoSimilarityFloor  float64 `yaml:"echo_similarity_floor"`
	EchoTemporalHalfLife float64 `yaml:"echo_temporal_half_life"`
	EchoTextWeight       float64 `yaml:"echo_text_weight"`
	EchoDistanceWeight   float64 `yaml:"echo_distance_weight"`

	// Character voice and action consistency.
	VoiceViolationThreshold  float64 `yaml:"voice_violation_threshold"`
	ActionViolationThreshold float64 `yaml:"action_violation_threshold"`
	VoiceRegisterPenalty     float64 `yaml:"voice_register_penalty"`
	VoicePhraseBonus         float64 `yaml:"voice_phrase_bonus"`
	FingerprintEMAAlpha      float64 `yaml:"fingerprint_ema_alpha"`

	// Engagement loops.
	LoopStaleTurns     int     `yaml:"loop_stale_turns"`
	LoopPartialDamping float64 `yaml:"loop_partial_damping"`
	LoopStaleDecay     float64 `yaml:"loop_stale_decay"`
	LoopAbandonFloor   float64 `yaml:"loop_abandon_floor"`
	LoopActiveCeiling  int     `yaml:"loop_active_ceiling"`
}

// DefaultWeights returns the original tuning.
func DefaultWeights() Weights {
	return Weights{
		DNAUnresolvedContradictionCap: 5,
		DNAUnresolvedPressureCap:      8,
		DNAContradictionPenalty:       0.3,
		DNAPressurePenalty:            0.3,
		DNALowReturnPenalty:           0.2,
		DNAHealthyReturnBonus:         0.1,
		DNAReturnAgeTurns:             8,
		DNAPressureAgeFactor:          0.5,
		DNAPressureCeiling:            2.0,

		ConstraintMaxDepth:    8,
		ThreadUrgencyWeight:   0.5,
		TraitPreventionWeight: 0.1,
		FreedomJumpTolerance:  0.15,

		EchoSimilarityFloor:  0.25,
		EchoTemporalHalfLife: 20,
		EchoTextWeight:       0.7,
		EchoDistanceWeight:   0.3,

		VoiceViolationThreshold:  0.7,
		ActionViolationThreshold: 0.6,
		VoiceRegisterPenalty:     0.2,
		VoicePhraseBonus:         0.1,
		FingerprintEMAAlpha:      0.3,

		LoopStaleTurns:     5,
		LoopPartialDamping: 0.7,
		LoopStaleDecay:     0.9,
		LoopAbandonFloor:   0.1,
		LoopActiveCeiling:  8,
	}
}

// Validate sanity-checks the weights that would silently break scoring
// if out of range.
func (w Weights) Validate() error {
	for key, v := range map[string]float64{
		"weights.voice_violation_threshold":  w.VoiceViolationThreshold,
		"weights.action_violation_threshold": w.ActionViolationThreshold,
		"weights.echo_similarity_floor":      w.EchoSimilarityFloor,
		"weights.fingerprint_ema_alpha":      w.FingerprintEMAAlpha,
		"weights.loop_partial_damping":       w.LoopPartialDamping,
		"weights.loop_stale_decay":           w.LoopStaleDecay,
		"weights.loop_abandon_floor":         w.LoopAbandonFloor,
	} {
		if v < 0.0 || v > 1.0 {
			return &types.ConfigurationError{Key: key, Reason: fmt.Sprintf("%.3f outside [0,1]", v)}
		}
	}
	if w.ConstraintMaxDepth <= 0 {
		return &types.ConfigurationError{Key: "weights.constraint_max_depth", Reason: "must be positive"}
	}
	if w.LoopStaleTurns <= 0 {
		return &types.ConfigurationError{Key: "weights.loop_stale_turns", Reason: "must be positive"}
	}
	if w.EchoTemporalHalfLife <= 0 {
		return &types.ConfigurationError{Key: "weights.echo_temporal_half_life", Reason: "must be positive"}
	}
	return nil
}
