// Package dna tracks contradiction/action/pressure/return narrative
// loops (CAPR loops). A Return closes a previously opened Contradiction
// or Pressure; the tracker rejects a Return that references nothing.
package dna

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"storymind/internal/config"
	"storymind/internal/logging"
	"storymind/internal/types"
)

// LoopType is the role a unit plays inside a CAPR loop.
type LoopType string

const (
	LoopContradiction LoopType = "contradiction"
	LoopAction        LoopType = "action"
	LoopPressure      LoopType = "pressure"
	LoopReturn        LoopType = "return"
)

// ParseLoopType maps a tag value to a LoopType.
func ParseLoopType(s string) (LoopType, bool) {
	switch LoopType(strings.ToLower(s)) {
	case LoopContradiction, LoopAction, LoopPressure, LoopReturn:
		return LoopType(strings.ToLower(s)), true
	}
	return "", false
}

// Unit is one CAPR loop instance.
type Unit struct {
	ID           uuid.UUID `json:"id"`
	LoopType     LoopType  `json:"loop_type"`
	Description  string    `json:"description"`
	CharacterIDs []string  `json:"linked_character_ids,omitempty"`
	Tags         []string  `json:"tags,omitempty"`
	Intensity    float64   `json:"intensity"`
	CreatedTurn  int       `json:"created_turn"`
	CreatedAt    time.Time `json:"created_at"`
	Resolved     bool      `json:"resolved"`
	// ReturnsTo is set only on Return units: the id of the open
	// Contradiction or Pressure this return closes.
	ReturnsTo uuid.UUID `json:"returns_to,omitempty"`
}

const analysisKey = "pattern_analysis"

// Tracker owns the bounded unit history. One tracker per session;
// mutation is serial, reads may be concurrent.
type Tracker struct {
	mu sync.RWMutex

	units   []Unit // oldest first, evicted at cap
	byID    map[uuid.UUID]int
	turn    int
	weights config.Weights
	cap     int

	// recent recursive-element sightings for opportunity matching
	recentTags  []elementSighting
	elementSpan int

	cache *gocache.Cache
	log   *logging.CategoryLogger
}

type elementSighting struct {
	tags         []string
	characterIDs []string
	turn         int
}

// New builds a tracker from configuration.
func New(cfg config.Config, log *logging.CategoryLogger) *Tracker {
	if log == nil {
		log = logging.NewNop().Get(logging.CategoryDNA)
	}
	return &Tracker{
		byID:        make(map[uuid.UUID]int),
		weights:     cfg.Weights,
		cap:         cfg.History.DNAUnits,
		elementSpan: 16,
		cache:       gocache.New(5*time.Second, 0),
		log:         log,
	}
}

// Apply updates tunables from a fresh configuration snapshot.
func (t *Tracker) Apply(cfg config.Config) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.weights = cfg.Weights
	t.cap = cfg.History.DNAUnits
	t.cache.Flush()
}

// Record translates a dna_unit event into a Unit and stores it. The
// event encodes the loop type as a "loop:<type>" tag and, for returns,
// the closed unit as a "returns:<uuid>" tag.
func (t *Tracker) Record(event types.NarrativeEvent) error {
	if err := event.Validate(); err != nil {
		return err
	}
	if event.Type != types.EventDNAUnit {
		return &types.ValidationError{Field: "type", Reason: fmt.Sprintf("dna tracker cannot record %s events", event.Type)}
	}

	unit := Unit{
		ID:          event.ID,
		Description: event.Content,
		Intensity:   event.MetadataValue("intensity", 0.5),
		CreatedTurn: event.Turn,
		CreatedAt:   event.Timestamp,
		Tags:        event.Tags,
	}
	if event.CharacterID != "" {
		unit.CharacterIDs = []string{event.CharacterID}
	}

	var loopTag, returnsTag string
	for _, tag := range event.Tags {
		if v, ok := strings.CutPrefix(tag, "loop:"); ok {
			loopTag = v
		}
		if v, ok := strings.CutPrefix(tag, "returns:"); ok {
			returnsTag = v
		}
	}
	lt, ok := ParseLoopType(loopTag)
	if !ok {
		return &types.ValidationError{Field: "tags", Reason: fmt.Sprintf("missing or invalid loop type tag %q", loopTag)}
	}
	unit.LoopType = lt

	if lt == LoopReturn {
		if returnsTag == "" {
			return &types.InvariantViolation{
				Invariant: "return-references-open-loop",
				Detail:    "return unit carries no returns:<id> tag",
			}
		}
		target, err := uuid.Parse(returnsTag)
		if err != nil {
			return &types.ValidationError{Field: "tags", Reason: fmt.Sprintf("malformed returns tag: %v", err)}
		}
		unit.ReturnsTo = target
	}

	return t.RecordUnit(unit)
}

// RecordUnit stores a unit directly. All invariants are checked before
// any state changes, so a rejection never leaves a partial apply.
func (t *Tracker) RecordUnit(unit Unit) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if unit.ID == uuid.Nil {
		return &types.ValidationError{Field: "id", Reason: "unit id missing"}
	}
	if _, exists := t.byID[unit.ID]; exists {
		return &types.ValidationError{Field: "id", Reason: fmt.Sprintf("unit %s already recorded", unit.ID)}
	}

	var closes int = -1
	if unit.LoopType == LoopReturn {
		idx, ok := t.byID[unit.ReturnsTo]
		if !ok {
			return &types.InvariantViolation{
				Invariant: "return-references-open-loop",
				Detail:    fmt.Sprintf("return %s references unknown unit %s", unit.ID, unit.ReturnsTo),
			}
		}
		target := t.units[idx]
		if target.Resolved {
			return &types.InvariantViolation{
				Invariant: "return-references-open-loop",
				Detail:    fmt.Sprintf("unit %s is already resolved", unit.ReturnsTo),
			}
		}
		if target.LoopType != LoopContradiction && target.LoopType != LoopPressure {
			return &types.InvariantViolation{
				Invariant: "return-references-open-loop",
				Detail:    fmt.Sprintf("unit %s is a %s, not a contradiction or pressure", unit.ReturnsTo, target.LoopType),
			}
		}
		closes = idx
	}

	// Invariants passed; commit.
	if closes >= 0 {
		t.units[closes].Resolved = true
		unit.Resolved = true
	}
	t.units = append(t.units, unit)
	t.byID[unit.ID] = len(t.units) - 1
	if unit.CreatedTurn > t.turn {
		t.turn = unit.CreatedTurn
	}
	t.evictLocked()
	t.cache.Flush()

	t.log.Debug("recorded %s unit %s (turn %d)", unit.LoopType, unit.ID, unit.CreatedTurn)
	return nil
}

// ObserveElement notes a recursive-element sighting so opportunity
// matching can pair aged loops with thematically related material.
func (t *Tracker) ObserveElement(tags, characterIDs []string, turn int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.recentTags = append(t.recentTags, elementSighting{
		tags:         append([]string(nil), tags...),
		characterIDs: append([]string(nil), characterIDs...),
		turn:         turn,
	})
	if len(t.recentTags) > t.elementSpan {
		t.recentTags = t.recentTags[len(t.recentTags)-t.elementSpan:]
	}
	if turn > t.turn {
		t.turn = turn
	}
	t.cache.Flush()
}

// Unit returns a copy of the stored unit, if present.
func (t *Tracker) Unit(id uuid.UUID) (Unit, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	idx, ok := t.byID[id]
	if !ok {
		return Unit{}, false
	}
	return t.units[idx], true
}

// Len reports the resident history size.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.units)
}

// evictLocked drops oldest units above the cap and reindexes.
func (t *Tracker) evictLocked() {
	if len(t.units) <= t.cap {
		return
	}
	drop := len(t.units) - t.cap
	for _, u := range t.units[:drop] {
		delete(t.byID, u.ID)
	}
	t.units = append([]Unit(nil), t.units[drop:]...)
	for i, u := range t.units {
		t.byID[u.ID] = i
	}
}
