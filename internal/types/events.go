// Package types holds the shared domain model for the narrative
// intelligence core: events flowing in from the generation pipeline,
// insights flowing back out, and the error taxonomy every tracker uses.
//
// Events are immutable once constructed. Trackers reference them by ID
// only; no tracker holds a live pointer into another tracker's state.
package types

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// NARRATIVE EVENTS
// =============================================================================

// EventType identifies what kind of story development an event records.
type EventType string

const (
	EventCharacterAction    EventType = "character_action"
	EventDialogue           EventType = "dialogue"
	EventSceneTransition    EventType = "scene_transition"
	EventChapterBoundary    EventType = "chapter_boundary"
	EventRecursiveElement   EventType = "recursive_element"
	EventLoopSignal         EventType = "loop_signal"
	EventConstraintChange   EventType = "constraint_change"
	EventRelationshipChange EventType = "relationship_change"
	EventArcProgress        EventType = "arc_progress"
	EventArcRegression      EventType = "arc_regression"
	EventDNAUnit            EventType = "dna_unit"
)

// validEventTypes is the closed set accepted by Validate.
var validEventTypes = map[EventType]bool{
	EventCharacterAction:    true,
	EventDialogue:           true,
	EventSceneTransition:    true,
	EventChapterBoundary:    true,
	EventRecursiveElement:   true,
	EventLoopSignal:         true,
	EventConstraintChange:   true,
	EventRelationshipChange: true,
	EventArcProgress:        true,
	EventArcRegression:      true,
	EventDNAUnit:            true,
}

// NarrativeEvent is one immutable record of something that happened in
// the story, produced by the calling application once per generation
// turn. Trackers never mutate it.
type NarrativeEvent struct {
	ID          uuid.UUID          `json:"id"`
	Type        EventType          `json:"type"`
	CharacterID string             `json:"character_id,omitempty"`
	Content     string             `json:"content"`
	Tags        []string           `json:"tags,omitempty"`
	Chapter     int                `json:"chapter"`
	Turn        int                `json:"turn"`
	Timestamp   time.Time          `json:"timestamp"`
	Metadata    map[string]float64 `json:"metadata,omitempty"`
}

// NewEvent constructs an event with a fresh ID and the current time.
func NewEvent(t EventType, content string) NarrativeEvent {
	return NarrativeEvent{
		ID:        uuid.New(),
		Type:      t,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// Validate checks structural validity. A failing event is rejected
// before it touches any tracker state.
func (e NarrativeEvent) Validate() error {
	if e.ID == uuid.Nil {
		return &ValidationError{Field: "id", Reason: "missing event id"}
	}
	if !validEventTypes[e.Type] {
		return &ValidationError{Field: "type", Reason: fmt.Sprintf("unknown event type %q", e.Type)}
	}
	switch e.Type {
	case EventCharacterAction, EventDialogue, EventRelationshipChange,
		EventArcProgress, EventArcRegression:
		if e.CharacterID == "" {
			return &ValidationError{Field: "character_id", Reason: fmt.Sprintf("%s event requires a character id", e.Type)}
		}
	}
	if e.Chapter < 0 {
		return &ValidationError{Field: "chapter", Reason: "chapter cannot be negative"}
	}
	if e.Turn < 0 {
		return &ValidationError{Field: "turn", Reason: "turn cannot be negative"}
	}
	return nil
}

// MetadataValue reads a metadata float with a fallback.
func (e NarrativeEvent) MetadataValue(key string, fallback float64) float64 {
	if v, ok := e.Metadata[key]; ok {
		return v
	}
	return fallback
}

// HasTag reports whether the event carries the given tag.
func (e NarrativeEvent) HasTag(tag string) bool {
	for _, t := range e.Tags {
		if t == tag {
			return true
		}
	}
	return false
}
