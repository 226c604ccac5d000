package drift

import (
	"sync"
)

// =============================================================================
// EMOTIONAL RESONANCE
// =============================================================================
//
// A coarse model of the story's current emotional register. The decay
// sum the stabilizer tracks comes from here: flat or fading intensity
// accumulates decay chapter over chapter.

// heavyEmotions decay slower on the page but hit harder when dropped.
var heavyEmotions = map[string]bool{
	"guilt": true, "sadness": true, "fear": true, "anger": true, "grief": true,
}

// EmotionalState is the current register: one dominant emotion plus
// whatever secondary shades are active.
type EmotionalState struct {
	Dominant       string             `json:"dominant"`
	TotalIntensity float64            `json:"total_intensity"`
	Secondary      map[string]float64 `json:"secondary,omitempty"`
}

// Resonance accumulates emotion observations between chapter snapshots.
type Resonance struct {
	mu        sync.RWMutex
	intensity map[string]float64
	decaySum  float64
}

// NewResonance builds an empty accumulator.
func NewResonance() *Resonance {
	return &Resonance{intensity: make(map[string]float64)}
}

// Observe blends one emotion reading into the register.
func (r *Resonance) Observe(emotion string, intensity float64) {
	if emotion == "" {
		return
	}
	if intensity < 0 {
		intensity = 0
	}
	if intensity > 1 {
		intensity = 1
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	// Latest reading dominates; prior intensity fades by half.
	r.intensity[emotion] = intensity + r.intensity[emotion]*0.5
	if r.intensity[emotion] > 1 {
		r.intensity[emotion] = 1
	}
}

// State reports the current register.
func (r *Resonance) State() EmotionalState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st := EmotionalState{Secondary: make(map[string]float64)}
	var max float64
	for emotion, v := range r.intensity {
		st.TotalIntensity += v
		if v > max {
			max = v
			st.Dominant = emotion
		}
	}
	if st.TotalIntensity > 1 {
		st.TotalIntensity = 1
	}
	for emotion, v := range r.intensity {
		if emotion != st.Dominant && v > 0.05 {
			st.Secondary[emotion] = v
		}
	}
	return st
}

// AdvanceChapter ages the register by one chapter: intensity halves,
// and the shortfall from full intensity accrues as decay. Heavy
// dominant emotions accrue half again as much.
func (r *Resonance) AdvanceChapter() float64 {
	st := r.State()

	r.mu.Lock()
	defer r.mu.Unlock()
	decay := 1.0 - st.TotalIntensity
	if heavyEmotions[st.Dominant] {
		decay *= 1.5
	}
	r.decaySum += decay
	for emotion := range r.intensity {
		r.intensity[emotion] *= 0.5
		if r.intensity[emotion] < 0.01 {
			delete(r.intensity, emotion)
		}
	}
	return decay
}

// DecaySum is the accumulated decay since session start.
func (r *Resonance) DecaySum() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.decaySum
}

// Reset clears accumulated decay, typically after a corrective
// injection has been issued.
func (r *Resonance) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decaySum = 0
}
