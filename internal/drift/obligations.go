package drift

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"storymind/internal/types"
)

// =============================================================================
// OBLIGATION PRESSURE
// =============================================================================
//
// Obligations are promises the story has made to the reader: a planted
// gun, an unanswered question, an unpaid debt. Each contributes
// pressure proportional to urgency and age; the index summarizes how
// saturated the story is with unkept promises.

// ObligationKind groups obligations for per-kind reporting.
type ObligationKind string

const (
	ObligationPromise    ObligationKind = "promise"
	ObligationMystery    ObligationKind = "mystery"
	ObligationDebt       ObligationKind = "debt"
	ObligationForeshadow ObligationKind = "foreshadow"
)

// Obligation is one open promise.
type Obligation struct {
	ID          uuid.UUID      `json:"id"`
	Kind        ObligationKind `json:"kind"`
	Description string         `json:"description"`
	Urgency     float64        `json:"urgency"` // clamped to [0,1]
	CreatedTurn int            `json:"created_turn"`
	Resolved    bool           `json:"resolved"`
}

// PressureContribution is urgency scaled by age in turns.
func (o Obligation) PressureContribution(currentTurn int) float64 {
	age := currentTurn - o.CreatedTurn
	if age < 0 {
		age = 0
	}
	return o.Urgency * float64(age)
}

// ObligationIndex tracks open obligations for one session.
type ObligationIndex struct {
	mu          sync.RWMutex
	obligations map[uuid.UUID]*Obligation
	turn        int
}

// NewObligationIndex builds an empty index.
func NewObligationIndex() *ObligationIndex {
	return &ObligationIndex{obligations: make(map[uuid.UUID]*Obligation)}
}

// Add registers an obligation, clamping urgency to [0,1].
func (x *ObligationIndex) Add(o Obligation) (uuid.UUID, error) {
	if o.Description == "" {
		return uuid.Nil, &types.ValidationError{Field: "description", Reason: "obligation description missing"}
	}
	switch o.Kind {
	case ObligationPromise, ObligationMystery, ObligationDebt, ObligationForeshadow:
	default:
		return uuid.Nil, &types.ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown obligation kind %q", o.Kind)}
	}
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	if o.Urgency < 0 {
		o.Urgency = 0
	}
	if o.Urgency > 1 {
		o.Urgency = 1
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	stored := o
	x.obligations[o.ID] = &stored
	if o.CreatedTurn > x.turn {
		x.turn = o.CreatedTurn
	}
	return o.ID, nil
}

// Resolve closes an obligation.
func (x *ObligationIndex) Resolve(id uuid.UUID) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	o, ok := x.obligations[id]
	if !ok {
		return &types.ValidationError{Field: "id", Reason: fmt.Sprintf("unknown obligation %s", id)}
	}
	o.Resolved = true
	return nil
}

// SetTurn advances the index clock.
func (x *ObligationIndex) SetTurn(turn int) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if turn > x.turn {
		x.turn = turn
	}
}

// Open returns copies of unresolved obligations, highest pressure first.
func (x *ObligationIndex) Open() []Obligation {
	x.mu.RLock()
	defer x.mu.RUnlock()
	var out []Obligation
	for _, o := range x.obligations {
		if !o.Resolved {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		pi, pj := out[i].PressureContribution(x.turn), out[j].PressureContribution(x.turn)
		if pi != pj {
			return pi > pj
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

// Stale lists unresolved obligations older than ageTurns.
func (x *ObligationIndex) Stale(ageTurns int) []Obligation {
	x.mu.RLock()
	defer x.mu.RUnlock()
	var out []Obligation
	for _, o := range x.obligations {
		if !o.Resolved && x.turn-o.CreatedTurn >= ageTurns {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedTurn < out[j].CreatedTurn })
	return out
}

// Saturation is total open pressure over (count+1): rises with both the
// weight and the number of unkept promises, but never diverges on a
// single heavy one.
func (x *ObligationIndex) Saturation() float64 {
	x.mu.RLock()
	defer x.mu.RUnlock()
	var sum float64
	n := 0
	for _, o := range x.obligations {
		if !o.Resolved {
			sum += o.PressureContribution(x.turn)
			n++
		}
	}
	return sum / float64(n+1)
}

// PressureByKind reports total open pressure per obligation kind.
func (x *ObligationIndex) PressureByKind() map[ObligationKind]float64 {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make(map[ObligationKind]float64)
	for _, o := range x.obligations {
		if !o.Resolved {
			out[o.Kind] += o.PressureContribution(x.turn)
		}
	}
	return out
}
