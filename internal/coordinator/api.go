package coordinator

import (
	"github.com/google/uuid"

	"storymind/internal/character"
	"storymind/internal/constraint"
	"storymind/internal/dna"
	"storymind/internal/drift"
	"storymind/internal/engagement"
	"storymind/internal/recursion"
	"storymind/internal/types"
)

// Structured state that does not fit the flat event shape enters
// through these pass-throughs. They respect the same enable switches as
// event routing.

// AddConstraint inserts a constraint node with its edges.
func (c *Coordinator) AddConstraint(node constraint.Node, edges []constraint.Edge) error {
	if !c.applied.Trackers.Constraint {
		return nil
	}
	return c.constraint.AddConstraint(node, edges)
}

// AddTrait declares a personality trait for a character.
func (c *Coordinator) AddTrait(characterID string, trait character.PersonalityTrait) error {
	if !c.applied.Trackers.Character {
		return nil
	}
	return c.character.AddTrait(characterID, trait)
}

// DefineVoice seeds a character's dialogue register and catchphrases.
func (c *Coordinator) DefineVoice(characterID, register string, favoritePhrases []string) error {
	if !c.applied.Trackers.Character {
		return nil
	}
	return c.character.DefineVoice(characterID, register, favoritePhrases)
}

// Profile returns a copy of a character profile.
func (c *Coordinator) Profile(characterID string) (character.Profile, bool) {
	return c.character.GetProfile(characterID)
}

// RegisterLoop opens an engagement loop directly.
func (c *Coordinator) RegisterLoop(lt engagement.LoopType, seed types.NarrativeEvent) (uuid.UUID, error) {
	return c.engagement.RegisterLoop(lt, seed)
}

// ResolveLoop closes an engagement loop directly.
func (c *Coordinator) ResolveLoop(id uuid.UUID, outcome engagement.Outcome) error {
	return c.engagement.Resolve(id, outcome)
}

// ActiveLoops lists the open engagement loops.
func (c *Coordinator) ActiveLoops() []engagement.Loop {
	return c.engagement.ActiveLoops()
}

// AddObligation registers an open narrative promise.
func (c *Coordinator) AddObligation(o drift.Obligation) (uuid.UUID, error) {
	return c.obligations.Add(o)
}

// ResolveObligation pays off a promise.
func (c *Coordinator) ResolveObligation(id uuid.UUID) error {
	return c.obligations.Resolve(id)
}

// ObserveEmotion blends an emotion reading into the resonance register.
func (c *Coordinator) ObserveEmotion(emotion string, intensity float64) {
	c.resonance.Observe(emotion, intensity)
}

// RecordDNAUnit stores a CAPR unit directly.
func (c *Coordinator) RecordDNAUnit(u dna.Unit) error {
	if !c.applied.Trackers.DNA {
		return nil
	}
	return c.dna.RecordUnit(u)
}

// FindEchoes matches content against the recorded element windows.
func (c *Coordinator) FindEchoes(level recursion.Level, content string) []recursion.EchoMatch {
	return c.recursion.FindEchoes(level, content)
}

// TrendAnalysis exposes the drift stabilizer's regression over the
// configured lookback.
func (c *Coordinator) TrendAnalysis() (drift.TrendAnalysis, error) {
	return c.drift.AnalyzeTrend(c.applied.Drift.TrendLookback)
}
