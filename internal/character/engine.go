// Package character tracks per-character traits, voice fingerprints,
// relationships, and arcs, and flags dialogue or actions that break an
// established pattern. Fingerprints update by exponential moving
// average so cost stays flat regardless of session length.
package character

import (
	"fmt"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"storymind/internal/config"
	"storymind/internal/logging"
	"storymind/internal/types"
)

// PersonalityTrait is one declared tendency of a character.
type PersonalityTrait struct {
	Name           string   `json:"name"`
	Intensity      float64  `json:"intensity"` // [0,1] how strongly it shows
	Stability      float64  `json:"stability"` // [0,1] how resistant to change
	Manifestations []string `json:"manifestations,omitempty"`
	Contradictions []string `json:"contradictions,omitempty"`
}

// Relationship tracks one directed character-to-character bond.
// Trust and Power live in [-1,1], Intimacy in [0,1]. Updated
// incrementally; reset only by profile deletion.
type Relationship struct {
	Trust        float64 `json:"trust"`
	Intimacy     float64 `json:"intimacy"`
	Power        float64 `json:"power"`
	Interactions int     `json:"interactions"`
}

// Arc is a character's transformation trajectory. Progress is monotone
// non-decreasing unless an explicit regression is recorded.
type Arc struct {
	Name        string  `json:"name"`
	Progress    float64 `json:"progress"` // [0,1]
	Regressions int     `json:"regressions"`
}

// Fingerprint is the rolling dialogue-voice profile.
type Fingerprint struct {
	AvgSentenceLength float64  `json:"avg_sentence_length"`
	ComplexityRatio   float64  `json:"complexity_ratio"` // share of long words
	Register          string   `json:"register"`         // formal, casual, neutral
	FavoritePhrases   []string `json:"favorite_phrases,omitempty"`
	Samples           int      `json:"samples"`
}

// Profile is everything the engine knows about one character.
type Profile struct {
	ID            string                      `json:"id"`
	Name          string                      `json:"name"`
	Traits        map[string]PersonalityTrait `json:"traits"`
	Fingerprint   Fingerprint                 `json:"fingerprint"`
	Relationships map[string]*Relationship    `json:"relationships"`
	Arc           Arc                         `json:"arc"`
	VoiceSamples  []string                    `json:"voice_samples,omitempty"`
	CreatedAt     time.Time                   `json:"created_at"`
}

// ViolationType classifies a consistency break.
type ViolationType string

const (
	ViolationDialogueVoiceShift       ViolationType = "dialogue_voice_shift"
	ViolationPersonalityContradiction ViolationType = "personality_contradiction"
)

// Violation is one detected consistency break.
type Violation struct {
	Type        ViolationType `json:"type"`
	CharacterID string        `json:"character_id"`
	Detail      string        `json:"detail"`
	Severity    float64       `json:"severity"` // [0,1], higher is worse
	Turn        int           `json:"turn"`
}

// ConsistencyCheck is the result of observing one line or action.
type ConsistencyCheck struct {
	VoiceSimilarity   float64     `json:"voice_similarity,omitempty"`
	ActionConsistency float64     `json:"action_consistency,omitempty"`
	Violations        []Violation `json:"violations,omitempty"`
}

const analysisKey = "character_analysis"

// Engine owns all character profiles for one session.
type Engine struct {
	mu sync.RWMutex

	profiles   map[string]*Profile
	violations []Violation // bounded recent history
	turn       int

	weights   config.Weights
	sampleCap int

	cache *gocache.Cache
	log   *logging.CategoryLogger
}

// New builds an empty engine.
func New(cfg config.Config, log *logging.CategoryLogger) *Engine {
	if log == nil {
		log = logging.NewNop().Get(logging.CategoryCharacter)
	}
	return &Engine{
		profiles:  make(map[string]*Profile),
		weights:   cfg.Weights,
		sampleCap: cfg.History.VoiceSamples,
		cache:     gocache.New(5*time.Second, 0),
		log:       log,
	}
}

// Apply updates tunables from a fresh configuration snapshot.
func (e *Engine) Apply(cfg config.Config) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.weights = cfg.Weights
	e.sampleCap = cfg.History.VoiceSamples
	e.cache.Flush()
}

// EnsureProfile returns the existing profile or creates an empty one.
func (e *Engine) EnsureProfile(id string) error {
	if id == "" {
		return &types.ValidationError{Field: "character_id", Reason: "character id missing"}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ensureLocked(id)
	return nil
}

func (e *Engine) ensureLocked(id string) *Profile {
	p, ok := e.profiles[id]
	if !ok {
		p = &Profile{
			ID:            id,
			Traits:        make(map[string]PersonalityTrait),
			Relationships: make(map[string]*Relationship),
			Fingerprint:   Fingerprint{Register: "neutral"},
			CreatedAt:     time.Now(),
		}
		e.profiles[id] = p
		e.cache.Flush()
	}
	return p
}

// AddTrait declares (or replaces) a personality trait.
func (e *Engine) AddTrait(id string, trait PersonalityTrait) error {
	if trait.Name == "" {
		return &types.ValidationError{Field: "trait", Reason: "trait name missing"}
	}
	if trait.Intensity < 0 || trait.Intensity > 1 || trait.Stability < 0 || trait.Stability > 1 {
		return &types.ValidationError{Field: "trait", Reason: "intensity and stability must be in [0,1]"}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	p := e.ensureLocked(id)
	p.Traits[trait.Name] = trait
	e.cache.Flush()
	return nil
}

// DefineVoice seeds the register and favorite phrases of a fingerprint.
func (e *Engine) DefineVoice(id, register string, favoritePhrases []string) error {
	switch register {
	case "formal", "casual", "neutral":
	default:
		return &types.ValidationError{Field: "register", Reason: fmt.Sprintf("unknown register %q", register)}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	p := e.ensureLocked(id)
	p.Fingerprint.Register = register
	p.Fingerprint.FavoritePhrases = append([]string(nil), favoritePhrases...)
	e.cache.Flush()
	return nil
}

// UpdateRelationship applies deltas to the directed bond id -> otherID,
// clamping each dimension to its range.
func (e *Engine) UpdateRelationship(id, otherID string, dTrust, dIntimacy, dPower float64) error {
	if id == "" || otherID == "" {
		return &types.ValidationError{Field: "character_id", Reason: "both character ids required"}
	}
	if id == otherID {
		return &types.ValidationError{Field: "character_id", Reason: "relationship needs two distinct characters"}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	p := e.ensureLocked(id)
	rel, ok := p.Relationships[otherID]
	if !ok {
		rel = &Relationship{}
		p.Relationships[otherID] = rel
	}
	rel.Trust = clampRange(rel.Trust+dTrust, -1, 1)
	rel.Intimacy = clampRange(rel.Intimacy+dIntimacy, 0, 1)
	rel.Power = clampRange(rel.Power+dPower, -1, 1)
	rel.Interactions++
	e.cache.Flush()
	return nil
}

// RecordArcProgress advances an arc. Progress never decreases through
// this path; a decrease is an invariant violation.
func (e *Engine) RecordArcProgress(id string, progress float64) error {
	if progress < 0 || progress > 1 {
		return &types.ValidationError{Field: "progress", Reason: "arc progress must be in [0,1]"}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	p := e.ensureLocked(id)
	if progress < p.Arc.Progress {
		return &types.InvariantViolation{
			Invariant: "arc-progress-monotone",
			Detail: fmt.Sprintf("character %s arc would regress %.2f -> %.2f without a regression event",
				id, p.Arc.Progress, progress),
		}
	}
	p.Arc.Progress = progress
	e.cache.Flush()
	return nil
}

// RecordArcRegression is the explicit path for moving an arc backwards.
func (e *Engine) RecordArcRegression(id string, progress float64, reason string) error {
	if progress < 0 || progress > 1 {
		return &types.ValidationError{Field: "progress", Reason: "arc progress must be in [0,1]"}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	p := e.ensureLocked(id)
	p.Arc.Progress = progress
	p.Arc.Regressions++
	e.cache.Flush()
	e.log.Info("arc regression for %s: %s", id, reason)
	return nil
}

// GetProfile returns a deep copy; callers never see live engine state.
func (e *Engine) GetProfile(id string) (Profile, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.profiles[id]
	if !ok {
		return Profile{}, false
	}
	out := *p
	out.Traits = make(map[string]PersonalityTrait, len(p.Traits))
	for k, v := range p.Traits {
		out.Traits[k] = v
	}
	out.Relationships = make(map[string]*Relationship, len(p.Relationships))
	for k, v := range p.Relationships {
		rel := *v
		out.Relationships[k] = &rel
	}
	out.VoiceSamples = append([]string(nil), p.VoiceSamples...)
	out.Fingerprint.FavoritePhrases = append([]string(nil), p.Fingerprint.FavoritePhrases...)
	return out, true
}

// DeleteProfile removes a character entirely, relationships included.
func (e *Engine) DeleteProfile(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.profiles[id]; !ok {
		return &types.ValidationError{Field: "character_id", Reason: fmt.Sprintf("unknown character %q", id)}
	}
	delete(e.profiles, id)
	for _, p := range e.profiles {
		delete(p.Relationships, id)
	}
	e.cache.Flush()
	return nil
}

// Len reports the profile count.
func (e *Engine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.profiles)
}

func (e *Engine) noteViolationLocked(v Violation) {
	const violationCap = 64
	e.violations = append(e.violations, v)
	if len(e.violations) > violationCap {
		e.violations = e.violations[len(e.violations)-violationCap:]
	}
	e.log.Warn("consistency violation (%s) for %s: %s", v.Type, v.CharacterID, v.Detail)
}

func clampRange(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
