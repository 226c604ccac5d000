// Package constraint models the shrinking space of still-possible story
// continuations as a graph of commitments. "blocks" edges must stay
// acyclic; freedom is the ratio of reachable continuations to the
// modeled continuation space.
package constraint

import (
	"fmt"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"storymind/internal/config"
	"storymind/internal/logging"
	"storymind/internal/types"
)

// NodeType classifies what a constraint commits the story to.
type NodeType string

const (
	NodeCharacterState     NodeType = "character_state"
	NodeWorldLogic         NodeType = "world_logic"
	NodeGenreExpectation   NodeType = "genre_expectation"
	NodeThematicCommitment NodeType = "thematic_commitment"
	NodeUnresolvedThread   NodeType = "unresolved_thread"
	NodePlotThread         NodeType = "plot_thread"
	NodeTemporalBlock      NodeType = "temporal_block"
)

var validNodeTypes = map[NodeType]bool{
	NodeCharacterState: true, NodeWorldLogic: true, NodeGenreExpectation: true,
	NodeThematicCommitment: true, NodeUnresolvedThread: true,
	NodePlotThread: true, NodeTemporalBlock: true,
}

// Node is one narrative state or commitment.
type Node struct {
	ID              string   `json:"id"`
	Type            NodeType `json:"type"`
	Description     string   `json:"description"`
	Urgency         float64  `json:"urgency"` // threads: how badly this wants resolution
	PreventsActions []string `json:"prevents_actions,omitempty"`
	Resolved        bool     `json:"resolved"`
	Chapter         int      `json:"chapter"`
}

// EdgeKind distinguishes the two relationship flavors.
type EdgeKind string

const (
	EdgeBlocks  EdgeKind = "blocks"
	EdgeEnables EdgeKind = "enables"
)

// Edge connects two constraint nodes.
type Edge struct {
	From string   `json:"from"`
	To   string   `json:"to"`
	Kind EdgeKind `json:"kind"`
}

const analysisKey = "space_analysis"

// InvariantCycleDetected names the blocking-cycle rejection so callers
// can match it without parsing the detail text.
const InvariantCycleDetected = "cycle-detected"

// Tracker owns the constraint graph for one session.
type Tracker struct {
	mu sync.RWMutex

	nodes map[string]*Node
	edges []Edge
	// blocks adjacency, kept in sync with edges for cycle checks
	blocksOut map[string][]string
	blocksIn  map[string][]string
	enableOut map[string][]string

	weights   config.Weights
	tolerance float64

	// freedom baseline maintained by the mutating paths; Analyze only
	// reads it, so analysis stays free of hidden writes
	lastScore      float64
	hasScore       bool
	continuityFlag string

	cache *gocache.Cache
	log   *logging.CategoryLogger
}

// New builds an empty graph.
func New(cfg config.Config, log *logging.CategoryLogger) *Tracker {
	if log == nil {
		log = logging.NewNop().Get(logging.CategoryConstraint)
	}
	return &Tracker{
		nodes:     make(map[string]*Node),
		blocksOut: make(map[string][]string),
		blocksIn:  make(map[string][]string),
		enableOut: make(map[string][]string),
		weights:   cfg.Weights,
		tolerance: cfg.Weights.FreedomJumpTolerance,
		lastScore: 1.0, // an empty graph is fully free
		hasScore:  true,
		cache:     gocache.New(5*time.Second, 0),
		log:       log,
	}
}

// Apply updates tunables from a fresh configuration snapshot. The
// freedom baseline is recomputed under the new weights so a config
// change never reads as a continuity error.
func (t *Tracker) Apply(cfg config.Config) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.weights = cfg.Weights
	t.tolerance = cfg.Weights.FreedomJumpTolerance
	t.lastScore = t.freedomLocked()
	t.continuityFlag = ""
	t.cache.Flush()
}

// noteFreedomShiftLocked re-derives the freedom score after a committed
// mutation. A jump past the tolerance is flagged as a possible
// continuity error; the flag stands until the next mutation.
func (t *Tracker) noteFreedomShiftLocked() {
	score := t.freedomLocked()
	if t.hasScore && score > t.lastScore+t.tolerance {
		t.continuityFlag = fmt.Sprintf(
			"freedom jumped %.2f -> %.2f; constraints may have been dropped without on-page resolution",
			t.lastScore, score)
	} else {
		t.continuityFlag = ""
	}
	t.lastScore = score
	t.hasScore = true
}

// AddConstraint inserts a node together with its edges. Validation and
// the blocks-cycle check run before anything is committed, so a
// rejection leaves the graph exactly as it was.
func (t *Tracker) AddConstraint(node Node, edges []Edge) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if node.ID == "" {
		return &types.ValidationError{Field: "id", Reason: "constraint id missing"}
	}
	if !validNodeTypes[node.Type] {
		return &types.ValidationError{Field: "type", Reason: fmt.Sprintf("unknown constraint type %q", node.Type)}
	}
	if _, exists := t.nodes[node.ID]; exists {
		return &types.ValidationError{Field: "id", Reason: fmt.Sprintf("constraint %s already present", node.ID)}
	}
	for _, e := range edges {
		if e.Kind != EdgeBlocks && e.Kind != EdgeEnables {
			return &types.ValidationError{Field: "edges", Reason: fmt.Sprintf("unknown edge kind %q", e.Kind)}
		}
		if e.From != node.ID && e.To != node.ID {
			return &types.ValidationError{Field: "edges", Reason: "edge must touch the inserted node"}
		}
		other := e.From
		if other == node.ID {
			other = e.To
		}
		if other != node.ID {
			if _, ok := t.nodes[other]; !ok {
				return &types.ValidationError{Field: "edges", Reason: fmt.Sprintf("edge references unknown constraint %q", other)}
			}
		}
	}

	// Cycle check on the prospective blocks-subgraph.
	if cyclePath := t.wouldCycleLocked(node.ID, edges); cyclePath != nil {
		return &types.InvariantViolation{
			Invariant: InvariantCycleDetected,
			Detail:    fmt.Sprintf("inserting %s creates blocking cycle %v", node.ID, cyclePath),
		}
	}

	// Commit.
	n := node
	t.nodes[node.ID] = &n
	for _, e := range edges {
		t.edges = append(t.edges, e)
		switch e.Kind {
		case EdgeBlocks:
			t.blocksOut[e.From] = append(t.blocksOut[e.From], e.To)
			t.blocksIn[e.To] = append(t.blocksIn[e.To], e.From)
		case EdgeEnables:
			t.enableOut[e.From] = append(t.enableOut[e.From], e.To)
		}
	}
	t.noteFreedomShiftLocked()
	t.cache.Flush()
	t.log.Debug("added constraint %s (%s) with %d edges", node.ID, node.Type, len(edges))
	return nil
}

// wouldCycleLocked runs DFS over the blocks-subgraph extended with the
// candidate edges. Returns a witness path if a cycle would form.
func (t *Tracker) wouldCycleLocked(newID string, edges []Edge) []string {
	extra := make(map[string][]string)
	for _, e := range edges {
		if e.Kind == EdgeBlocks {
			extra[e.From] = append(extra[e.From], e.To)
		}
	}
	next := func(id string) []string {
		out := append([]string(nil), t.blocksOut[id]...)
		return append(out, extra[id]...)
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int)
	var stack []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = gray
		stack = append(stack, id)
		for _, succ := range next(id) {
			switch color[succ] {
			case gray:
				// Unwind the witness path.
				for i, s := range stack {
					if s == succ {
						cycle = append(append([]string(nil), stack[i:]...), succ)
						return true
					}
				}
				cycle = []string{succ, id, succ}
				return true
			case white:
				if visit(succ) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
		return false
	}

	starts := []string{newID}
	for id := range t.nodes {
		starts = append(starts, id)
	}
	for _, id := range starts {
		if color[id] == white {
			if visit(id) {
				return cycle
			}
		}
	}
	return nil
}

// Resolve marks a constraint resolved, releasing whatever it blocked.
func (t *Tracker) Resolve(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.nodes[id]
	if !ok {
		return &types.ValidationError{Field: "id", Reason: fmt.Sprintf("unknown constraint %q", id)}
	}
	n.Resolved = true
	t.noteFreedomShiftLocked()
	t.cache.Flush()
	return nil
}

// Remove deletes a constraint and all its edges.
func (t *Tracker) Remove(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.nodes[id]; !ok {
		return &types.ValidationError{Field: "id", Reason: fmt.Sprintf("unknown constraint %q", id)}
	}
	delete(t.nodes, id)
	kept := t.edges[:0]
	for _, e := range t.edges {
		if e.From != id && e.To != id {
			kept = append(kept, e)
		}
	}
	t.edges = kept
	t.rebuildAdjacencyLocked()
	t.noteFreedomShiftLocked()
	t.cache.Flush()
	return nil
}

func (t *Tracker) rebuildAdjacencyLocked() {
	t.blocksOut = make(map[string][]string)
	t.blocksIn = make(map[string][]string)
	t.enableOut = make(map[string][]string)
	for _, e := range t.edges {
		switch e.Kind {
		case EdgeBlocks:
			t.blocksOut[e.From] = append(t.blocksOut[e.From], e.To)
			t.blocksIn[e.To] = append(t.blocksIn[e.To], e.From)
		case EdgeEnables:
			t.enableOut[e.From] = append(t.enableOut[e.From], e.To)
		}
	}
}

// Node returns a copy of the stored node, if present.
func (t *Tracker) Node(id string) (Node, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.nodes[id]
	if !ok {
		return Node{}, false
	}
	return *n, true
}

// Len reports the node count.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.nodes)
}
