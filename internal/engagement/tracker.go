// Package engagement tracks reader-psychology hooks (curiosity,
// investment, tension) as explicit loops with a lifecycle. Every loop
// walks Initiation -> Reinforcement -> Complication -> Tease ->
// PartialResolution and terminates in FullResolution or Subversion;
// neglected loops go stale inside Tease and eventually get abandoned.
package engagement

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"storymind/internal/config"
	"storymind/internal/logging"
	"storymind/internal/types"
)

// LoopType is the psychological hook a loop exercises.
type LoopType string

const (
	LoopCuriosity           LoopType = "curiosity"
	LoopEmotionalInvestment LoopType = "emotional_investment"
	LoopConfusion           LoopType = "confusion"
	LoopMoralTension        LoopType = "moral_tension"
	LoopIdentityAlignment   LoopType = "identity_alignment"
	LoopGenreExpectation    LoopType = "genre_expectation"
)

var validLoopTypes = map[LoopType]bool{
	LoopCuriosity: true, LoopEmotionalInvestment: true, LoopConfusion: true,
	LoopMoralTension: true, LoopIdentityAlignment: true, LoopGenreExpectation: true,
}

// State is a loop's lifecycle position.
type State string

const (
	StateInitiation        State = "initiation"
	StateReinforcement     State = "reinforcement"
	StateComplication      State = "complication"
	StateTease             State = "tease"
	StatePartialResolution State = "partial_resolution"
	StateFullResolution    State = "full_resolution" // terminal
	StateSubversion        State = "subversion"      // terminal
	StateAbandoned         State = "abandoned"       // terminal, decay only
)

// Terminal reports whether a state accepts no further transitions.
func (s State) Terminal() bool {
	return s == StateFullResolution || s == StateSubversion || s == StateAbandoned
}

// Outcome is how a loop is deliberately closed.
type Outcome string

const (
	OutcomePartial    Outcome = "partial"
	OutcomeFull       Outcome = "full"
	OutcomeSubversion Outcome = "subversion"
)

// Loop is one tracked engagement hook.
type Loop struct {
	ID          uuid.UUID `json:"id"`
	Type        LoopType  `json:"type"`
	State       State     `json:"state"`
	Stale       bool      `json:"stale"`   // sub-state of Tease
	Tension     float64   `json:"tension"` // [0,1]
	CharacterID string    `json:"character_id,omitempty"`
	Description string    `json:"description"`
	CreatedTurn int       `json:"created_turn"`
	// LastReinforcedTurn is the turn of the most recent reinforcing or
	// complicating event.
	LastReinforcedTurn int       `json:"last_reinforced_turn"`
	ClosedTurn         int       `json:"closed_turn,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

// Active reports whether the loop still counts toward scoring.
func (l Loop) Active() bool { return !l.State.Terminal() }

const analysisKey = "engagement_metrics"

// Tracker owns all loops for one session.
type Tracker struct {
	mu sync.RWMutex

	loops map[uuid.UUID]*Loop
	order []uuid.UUID // registration order for stable listing
	turn  int

	resolved  int
	subverted int
	abandoned int

	weights config.Weights
	cache   *gocache.Cache
	log     *logging.CategoryLogger
}

// New builds an empty tracker.
func New(cfg config.Config, log *logging.CategoryLogger) *Tracker {
	if log == nil {
		log = logging.NewNop().Get(logging.CategoryEngagement)
	}
	return &Tracker{
		loops:   make(map[uuid.UUID]*Loop),
		weights: cfg.Weights,
		cache:   gocache.New(5*time.Second, 0),
		log:     log,
	}
}

// Apply updates tunables from a fresh configuration snapshot.
func (t *Tracker) Apply(cfg config.Config) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.weights = cfg.Weights
	t.cache.Flush()
}

// RegisterLoop opens a new loop seeded by an event. Tension defaults to
// the event's intensity metadata.
func (t *Tracker) RegisterLoop(lt LoopType, seed types.NarrativeEvent) (uuid.UUID, error) {
	if !validLoopTypes[lt] {
		return uuid.Nil, &types.ValidationError{Field: "loop_type", Reason: fmt.Sprintf("unknown loop type %q", lt)}
	}
	if err := seed.Validate(); err != nil {
		return uuid.Nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	loop := &Loop{
		ID:                 uuid.New(),
		Type:               lt,
		State:              StateInitiation,
		Tension:            clamp01(seed.MetadataValue("intensity", 0.5)),
		CharacterID:        seed.CharacterID,
		Description:        seed.Content,
		CreatedTurn:        seed.Turn,
		LastReinforcedTurn: seed.Turn,
		CreatedAt:          seed.Timestamp,
	}
	t.loops[loop.ID] = loop
	t.order = append(t.order, loop.ID)
	t.bumpTurnLocked(seed.Turn)
	t.cache.Flush()
	t.log.Debug("registered %s loop %s (turn %d)", lt, loop.ID, seed.Turn)
	return loop.ID, nil
}

// Reinforce feeds a loop a relevant event: tension rises, staleness
// clears, and an early-stage loop advances. Terminal loops reject it.
func (t *Tracker) Reinforce(id uuid.UUID, event types.NarrativeEvent) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	loop, err := t.openLoopLocked(id)
	if err != nil {
		return err
	}

	boost := event.MetadataValue("intensity", 0.1)
	loop.Tension = clamp01(loop.Tension + boost*0.5)
	loop.LastReinforcedTurn = event.Turn
	loop.Stale = false
	switch loop.State {
	case StateInitiation, StateTease:
		loop.State = StateReinforcement
	}
	t.bumpTurnLocked(event.Turn)
	t.cache.Flush()
	return nil
}

// Complicate raises the stakes of an open loop.
func (t *Tracker) Complicate(id uuid.UUID, event types.NarrativeEvent) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	loop, err := t.openLoopLocked(id)
	if err != nil {
		return err
	}
	loop.State = StateComplication
	loop.Tension = clamp01(loop.Tension + event.MetadataValue("intensity", 0.2)*0.5)
	loop.LastReinforcedTurn = event.Turn
	loop.Stale = false
	t.bumpTurnLocked(event.Turn)
	t.cache.Flush()
	return nil
}

// Tease acknowledges a loop without paying it off.
func (t *Tracker) Tease(id uuid.UUID, turn int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	loop, err := t.openLoopLocked(id)
	if err != nil {
		return err
	}
	loop.State = StateTease
	loop.LastReinforcedTurn = turn
	loop.Stale = false
	t.bumpTurnLocked(turn)
	t.cache.Flush()
	return nil
}

// Resolve closes (or partially closes) a loop. Partial resolution damps
// tension and keeps the loop open; full resolution and subversion are
// terminal. Terminal loops stay in history for trend analysis but are
// excluded from active scoring.
func (t *Tracker) Resolve(id uuid.UUID, outcome Outcome) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	loop, err := t.openLoopLocked(id)
	if err != nil {
		return err
	}
	switch outcome {
	case OutcomePartial:
		loop.State = StatePartialResolution
		loop.Tension *= t.weights.LoopPartialDamping
		loop.Stale = false
	case OutcomeFull:
		loop.State = StateFullResolution
		loop.Tension = 0
		loop.ClosedTurn = t.turn
		t.resolved++
	case OutcomeSubversion:
		loop.State = StateSubversion
		loop.ClosedTurn = t.turn
		t.subverted++
	default:
		return &types.ValidationError{Field: "outcome", Reason: fmt.Sprintf("unknown outcome %q", outcome)}
	}
	t.cache.Flush()
	t.log.Debug("loop %s closed with %s", id, outcome)
	return nil
}

// Tick advances the clock: loops unreinforced past the stale threshold
// drop into stale Tease, stale tension decays, and loops that decay
// below the abandonment floor terminate as Abandoned.
func (t *Tracker) Tick(turn int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bumpTurnLocked(turn)
	w := t.weights
	for _, loop := range t.loops {
		if loop.State.Terminal() {
			continue
		}
		idle := turn - loop.LastReinforcedTurn
		if idle > w.LoopStaleTurns {
			if !loop.Stale {
				loop.State = StateTease
				loop.Stale = true
				t.log.Info("loop %s (%s) went stale after %d idle turns", loop.ID, loop.Type, idle)
			}
			loop.Tension *= w.LoopStaleDecay
			if loop.Tension < w.LoopAbandonFloor {
				loop.State = StateAbandoned
				loop.ClosedTurn = turn
				t.abandoned++
				t.log.Warn("loop %s (%s) abandoned", loop.ID, loop.Type)
			}
		}
	}
	t.cache.Flush()
}

// ActiveLoops returns copies of all non-terminal loops in registration
// order.
func (t *Tracker) ActiveLoops() []Loop {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []Loop
	for _, id := range t.order {
		if loop := t.loops[id]; loop != nil && loop.Active() {
			out = append(out, *loop)
		}
	}
	return out
}

// Loop returns a copy of one loop, if present.
func (t *Tracker) Loop(id uuid.UUID) (Loop, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	loop, ok := t.loops[id]
	if !ok {
		return Loop{}, false
	}
	return *loop, true
}

func (t *Tracker) openLoopLocked(id uuid.UUID) (*Loop, error) {
	loop, ok := t.loops[id]
	if !ok {
		return nil, &types.ValidationError{Field: "loop_id", Reason: fmt.Sprintf("unknown loop %s", id)}
	}
	if loop.State.Terminal() {
		return nil, &types.InvariantViolation{
			Invariant: "loop-terminal-states-final",
			Detail:    fmt.Sprintf("loop %s already closed as %s", id, loop.State),
		}
	}
	return loop, nil
}

func (t *Tracker) bumpTurnLocked(turn int) {
	if turn > t.turn {
		t.turn = turn
	}
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
