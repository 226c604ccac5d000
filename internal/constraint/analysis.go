package constraint

import (
	"fmt"
	"sort"
)

// PressureLevel bands the freedom score for display.
type PressureLevel string

const (
	PressureLow      PressureLevel = "low"
	PressureModerate PressureLevel = "moderate"
	PressureHigh     PressureLevel = "high"
	PressureCritical PressureLevel = "critical"
	PressureExtreme  PressureLevel = "extreme"
)

// PressureFor maps a freedom score to its band.
func PressureFor(score float64) PressureLevel {
	switch {
	case score > 0.8:
		return PressureLow
	case score > 0.6:
		return PressureModerate
	case score > 0.4:
		return PressureHigh
	case score > 0.2:
		return PressureCritical
	default:
		return PressureExtreme
	}
}

// BlockedPath reports why a continuation is unavailable: the shortest
// chain of unresolved blockers leading to the target.
type BlockedPath struct {
	TargetID string   `json:"target_id"`
	Chain    []string `json:"chain"` // blocker ids, nearest first
}

// Resolvable scores an unresolved constraint by the benefit of
// resolving it now.
type Resolvable struct {
	NodeID  string  `json:"node_id"`
	Benefit float64 `json:"benefit"`
	Reason  string  `json:"reason"`
}

// SpaceAnalysis is the tracker's analysis product.
type SpaceAnalysis struct {
	FreedomScore   float64       `json:"freedom_score"`
	Pressure       PressureLevel `json:"pressure"`
	BlockedPaths   []BlockedPath `json:"blocked_paths,omitempty"`
	Resolvable     []Resolvable  `json:"resolvable,omitempty"`
	ContinuityFlag string        `json:"continuity_flag,omitempty"`
	NodeCount      int           `json:"node_count"`
}

// Analyze computes (or returns the cached) space analysis. The
// continuity flag is derived by the mutating paths; analysis itself is
// pure computation over the current graph, so repeated calls with no
// intervening mutation agree even after the cache entry expires.
func (t *Tracker) Analyze() SpaceAnalysis {
	if cached, ok := t.cache.Get(analysisKey); ok {
		return cached.(SpaceAnalysis)
	}

	t.mu.RLock()
	score := t.freedomLocked()
	analysis := SpaceAnalysis{
		FreedomScore:   score,
		Pressure:       PressureFor(score),
		BlockedPaths:   t.blockedPathsLocked(),
		Resolvable:     t.resolvableLocked(),
		ContinuityFlag: t.continuityFlag,
		NodeCount:      len(t.nodes),
	}
	t.mu.RUnlock()

	t.cache.SetDefault(analysisKey, analysis)
	return analysis
}

// FreedomScore computes the current available/total continuation ratio.
func (t *Tracker) FreedomScore() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.freedomLocked()
}

// BlockedPaths reports the shortest unresolved blocker chain per
// blocked node.
func (t *Tracker) BlockedPaths() []BlockedPath {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.blockedPathsLocked()
}

// ResolvableConstraints lists unresolved constraints sorted by the
// estimated benefit of resolving them now.
func (t *Tracker) ResolvableConstraints() []Resolvable {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.resolvableLocked()
}

// freedomLocked estimates freedom via bounded traversal of the enables
// graph: paths that avoid actively blocked nodes over all modeled
// paths. Exact path counting is exponential; depth is capped by config.
func (t *Tracker) freedomLocked() float64 {
	if len(t.nodes) == 0 {
		return 1.0
	}

	blocked := t.blockedSetLocked()
	maxDepth := t.weights.ConstraintMaxDepth

	var total, available int
	for id := range t.nodes {
		tPaths, aPaths := t.countPathsLocked(id, blocked, maxDepth)
		total += tPaths
		available += aPaths
	}
	if total == 0 {
		return 1.0
	}
	return float64(available) / float64(total)
}

// blockedSetLocked marks nodes with at least one unresolved blocker.
func (t *Tracker) blockedSetLocked() map[string]bool {
	blocked := make(map[string]bool)
	for id := range t.nodes {
		for _, blocker := range t.blocksIn[id] {
			if b, ok := t.nodes[blocker]; ok && !b.Resolved {
				blocked[id] = true
				break
			}
		}
	}
	return blocked
}

// countPathsLocked counts bounded simple paths from start over enables
// edges; the second count skips paths through blocked nodes. Each node
// is itself a length-zero continuation.
func (t *Tracker) countPathsLocked(start string, blocked map[string]bool, maxDepth int) (total, available int) {
	const pathCap = 4096 // traversal guard, not a semantic limit

	type frame struct {
		id    string
		depth int
		open  bool
	}
	onPath := map[string]bool{}

	var walk func(f frame)
	walk = func(f frame) {
		if total >= pathCap {
			return
		}
		total++
		open := f.open && !blocked[f.id]
		if open {
			available++
		}
		if f.depth >= maxDepth {
			return
		}
		onPath[f.id] = true
		for _, succ := range t.enableOut[f.id] {
			if onPath[succ] {
				continue
			}
			walk(frame{id: succ, depth: f.depth + 1, open: open})
		}
		delete(onPath, f.id)
	}
	walk(frame{id: start, depth: 0, open: true})
	return total, available
}

// blockedPathsLocked builds a diagnostic report per blocked node: the
// shortest chain of unresolved blockers, found by BFS over blocks-in
// edges.
func (t *Tracker) blockedPathsLocked() []BlockedPath {
	blocked := t.blockedSetLocked()
	var reports []BlockedPath
	for id := range blocked {
		chain := t.shortestBlockChainLocked(id)
		if len(chain) > 0 {
			reports = append(reports, BlockedPath{TargetID: id, Chain: chain})
		}
	}
	sort.Slice(reports, func(i, j int) bool { return reports[i].TargetID < reports[j].TargetID })
	return reports
}

func (t *Tracker) shortestBlockChainLocked(target string) []string {
	type entry struct {
		id    string
		chain []string
	}
	queue := []entry{{id: target}}
	visited := map[string]bool{target: true}
	var best []string

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, blocker := range t.blocksIn[cur.id] {
			if visited[blocker] {
				continue
			}
			visited[blocker] = true
			b, ok := t.nodes[blocker]
			if !ok || b.Resolved {
				continue
			}
			chain := append(append([]string(nil), cur.chain...), blocker)
			// A root blocker (nothing blocks it) terminates the chain.
			if len(t.blocksIn[blocker]) == 0 {
				if best == nil || len(chain) < len(best) {
					best = chain
				}
				continue
			}
			queue = append(queue, entry{id: blocker, chain: chain})
		}
	}
	if best == nil && len(t.blocksIn[target]) > 0 {
		// All blockers are themselves blocked; report the nearest one.
		for _, blocker := range t.blocksIn[target] {
			if b, ok := t.nodes[blocker]; ok && !b.Resolved {
				return []string{blocker}
			}
		}
	}
	return best
}

// resolvableLocked ranks unresolved constraints by the benefit of
// resolving them, using the configured urgency/prevention weights.
func (t *Tracker) resolvableLocked() []Resolvable {
	var out []Resolvable
	for id, n := range t.nodes {
		if n.Resolved {
			continue
		}
		var benefit float64
		var reason string
		switch n.Type {
		case NodeUnresolvedThread, NodePlotThread:
			benefit = n.Urgency * t.weights.ThreadUrgencyWeight
			reason = fmt.Sprintf("open thread with urgency %.2f", n.Urgency)
		case NodeCharacterState:
			benefit = float64(len(n.PreventsActions)) * t.weights.TraitPreventionWeight
			reason = fmt.Sprintf("state prevents %d actions", len(n.PreventsActions))
		default:
			continue
		}
		if benefit <= 0 {
			continue
		}
		out = append(out, Resolvable{NodeID: id, Benefit: benefit, Reason: reason})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Benefit != out[j].Benefit {
			return out[i].Benefit > out[j].Benefit
		}
		return out[i].NodeID < out[j].NodeID
	})
	return out
}
