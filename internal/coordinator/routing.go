package coordinator

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"storymind/internal/config"
	"storymind/internal/drift"
	"storymind/internal/engagement"
	"storymind/internal/logging"
	"storymind/internal/types"
)

// route is one entry in the static interest table: which tracker wants
// the event and how it is delivered.
type route struct {
	enabled func(config.TrackersConfig) bool
	deliver func(*Coordinator, types.NarrativeEvent) error
}

var (
	dnaOn        = func(t config.TrackersConfig) bool { return t.DNA }
	recursionOn  = func(t config.TrackersConfig) bool { return t.Recursion }
	characterOn  = func(t config.TrackersConfig) bool { return t.Character }
	engagementOn = func(t config.TrackersConfig) bool { return t.Engagement }
	constraintOn = func(t config.TrackersConfig) bool { return t.Constraint }
	driftOn      = func(t config.TrackersConfig) bool { return t.Drift }
)

// interestTable is consulted per event type; trackers not named here
// never see the event.
var interestTable = map[types.EventType][]route{
	types.EventDNAUnit: {
		{dnaOn, func(c *Coordinator, ev types.NarrativeEvent) error { return c.dna.Record(ev) }},
	},
	types.EventRecursiveElement: {
		{recursionOn, func(c *Coordinator, ev types.NarrativeEvent) error { return c.recursion.RecordEvent(ev) }},
		{dnaOn, func(c *Coordinator, ev types.NarrativeEvent) error {
			var chars []string
			if ev.CharacterID != "" {
				chars = []string{ev.CharacterID}
			}
			c.dna.ObserveElement(ev.Tags, chars, ev.Turn)
			return nil
		}},
	},
	types.EventDialogue: {
		{characterOn, func(c *Coordinator, ev types.NarrativeEvent) error {
			_, err := c.character.ObserveDialogue(ev.CharacterID, ev.Content)
			return err
		}},
	},
	types.EventCharacterAction: {
		{characterOn, func(c *Coordinator, ev types.NarrativeEvent) error {
			_, err := c.character.ObserveAction(ev.CharacterID, ev.Content, tagValue(ev.Tags, "motivation"))
			return err
		}},
	},
	types.EventRelationshipChange: {
		{characterOn, func(c *Coordinator, ev types.NarrativeEvent) error {
			other := tagValue(ev.Tags, "with")
			if other == "" {
				return &types.ValidationError{Field: "tags", Reason: "relationship_change requires a with:<character> tag"}
			}
			return c.character.UpdateRelationship(ev.CharacterID, other,
				ev.MetadataValue("trust", 0), ev.MetadataValue("intimacy", 0), ev.MetadataValue("power", 0))
		}},
	},
	types.EventArcProgress: {
		{characterOn, func(c *Coordinator, ev types.NarrativeEvent) error {
			return c.character.RecordArcProgress(ev.CharacterID, ev.MetadataValue("progress", 0))
		}},
	},
	types.EventArcRegression: {
		{characterOn, func(c *Coordinator, ev types.NarrativeEvent) error {
			return c.character.RecordArcRegression(ev.CharacterID, ev.MetadataValue("progress", 0), ev.Content)
		}},
	},
	types.EventLoopSignal: {
		{engagementOn, (*Coordinator).handleLoopSignal},
	},
	types.EventSceneTransition: {
		{driftOn, func(c *Coordinator, ev types.NarrativeEvent) error {
			if emotion := tagValue(ev.Tags, "emotion"); emotion != "" {
				c.resonance.Observe(emotion, ev.MetadataValue("intensity", 0.5))
			}
			return nil
		}},
	},
	types.EventConstraintChange: {
		{constraintOn, func(c *Coordinator, ev types.NarrativeEvent) error {
			if id := tagValue(ev.Tags, "resolve"); id != "" {
				return c.constraint.Resolve(id)
			}
			if id := tagValue(ev.Tags, "remove"); id != "" {
				return c.constraint.Remove(id)
			}
			return &types.ValidationError{Field: "tags", Reason: "constraint_change requires resolve:<id> or remove:<id>; additions go through AddConstraint"}
		}},
	},
	types.EventChapterBoundary: {
		{driftOn, (*Coordinator).handleChapterBoundary},
	},
}

// routesFor returns the interest-table entry for an event type.
func routesFor(t types.EventType) []route { return interestTable[t] }

// handleLoopSignal drives the engagement state machine from event tags:
// register:<type>, reinforce:<id>, complicate:<id>, tease:<id>,
// resolve:<id>:<outcome>.
func (c *Coordinator) handleLoopSignal(ev types.NarrativeEvent) error {
	for _, tag := range ev.Tags {
		switch {
		case strings.HasPrefix(tag, "register:"):
			lt := engagement.LoopType(strings.TrimPrefix(tag, "register:"))
			_, err := c.engagement.RegisterLoop(lt, ev)
			return err
		case strings.HasPrefix(tag, "reinforce:"):
			id, err := uuid.Parse(strings.TrimPrefix(tag, "reinforce:"))
			if err != nil {
				return &types.ValidationError{Field: "tags", Reason: fmt.Sprintf("malformed loop id: %v", err)}
			}
			return c.engagement.Reinforce(id, ev)
		case strings.HasPrefix(tag, "complicate:"):
			id, err := uuid.Parse(strings.TrimPrefix(tag, "complicate:"))
			if err != nil {
				return &types.ValidationError{Field: "tags", Reason: fmt.Sprintf("malformed loop id: %v", err)}
			}
			return c.engagement.Complicate(id, ev)
		case strings.HasPrefix(tag, "tease:"):
			id, err := uuid.Parse(strings.TrimPrefix(tag, "tease:"))
			if err != nil {
				return &types.ValidationError{Field: "tags", Reason: fmt.Sprintf("malformed loop id: %v", err)}
			}
			return c.engagement.Tease(id, ev.Turn)
		case strings.HasPrefix(tag, "resolve:"):
			parts := strings.SplitN(strings.TrimPrefix(tag, "resolve:"), ":", 2)
			id, err := uuid.Parse(parts[0])
			if err != nil {
				return &types.ValidationError{Field: "tags", Reason: fmt.Sprintf("malformed loop id: %v", err)}
			}
			outcome := engagement.OutcomeFull
			if len(parts) == 2 {
				outcome = engagement.Outcome(parts[1])
			}
			return c.engagement.Resolve(id, outcome)
		}
	}
	return &types.ValidationError{Field: "tags", Reason: "loop_signal carries no recognized loop directive"}
}

// handleChapterBoundary assembles the per-chapter drift snapshot from
// the live signal sources and records it.
func (c *Coordinator) handleChapterBoundary(ev types.NarrativeEvent) error {
	cfg := c.applied
	stale := c.obligations.Stale(cfg.Weights.DNAReturnAgeTurns)
	staleNames := make([]string, 0, len(stale))
	for _, o := range stale {
		staleNames = append(staleNames, o.Description)
	}

	c.resonance.AdvanceChapter()

	// Theme drift: the inverse of thematic coherence once echoes exist,
	// overridable from event metadata.
	recAnalysis := c.recursion.Analyze()
	themeDrift := ev.MetadataValue("theme_drift", 1.0-recAnalysis.ThematicCoherence)

	state := drift.State{
		UnresolvedObligationCount: len(c.obligations.Open()),
		StaleObligations:          staleNames,
		EmotionalDecaySum:         c.resonance.DecaySum(),
		ThemeDriftScore:           themeDrift,
		SpatialReturnPressureLost: ev.MetadataValue("spatial_pressure_lost", 0) > 0,
		CurrentChapter:            ev.Chapter,
		Metadata: map[string]float64{
			"obligation_saturation": c.obligations.Saturation(),
			"retention_score":       c.engagement.Analyze().RetentionScore,
		},
	}
	if err := c.drift.RecordChapterSnapshot(state); err != nil {
		return err
	}
	if c.arch != nil {
		if err := c.arch.SaveSnapshot(c.sessionID, state); err != nil {
			c.log.Error("archive snapshot: %v", err)
		}
	}

	if w := c.drift.CheckThresholds(cfg.Drift); w != nil {
		_ = c.audit.Record(logging.AuditEvent{
			Type: logging.AuditDriftWarning, SessionID: c.sessionID,
			Chapter: ev.Chapter, Turn: c.turn,
			Metrics: w.Metrics, Warnings: w.Text(),
		})
	}
	return nil
}

// tagValue extracts "<key>:<value>" from an event tag list.
func tagValue(tags []string, key string) string {
	prefix := key + ":"
	for _, tag := range tags {
		if v, ok := strings.CutPrefix(tag, prefix); ok {
			return v
		}
	}
	return ""
}
