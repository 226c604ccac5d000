package constraint

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storymind/internal/config"
	"storymind/internal/types"
)

func newTestTracker(t *testing.T) *Tracker {
	t.Helper()
	return New(config.Default(), nil)
}

func TestAddConstraint_RejectsBlockingCycle(t *testing.T) {
	t.Parallel()
	tr := newTestTracker(t)

	require.NoError(t, tr.AddConstraint(
		Node{ID: "trust_low_elena", Type: NodeCharacterState, Description: "Elena trusts no one"},
		nil))
	require.NoError(t, tr.AddConstraint(
		Node{ID: "elena_confides_secret", Type: NodePlotThread, Description: "Elena confides the secret", Urgency: 0.8},
		[]Edge{{From: "trust_low_elena", To: "elena_confides_secret", Kind: EdgeBlocks}}))

	scoreBefore := tr.FreedomScore()

	err := tr.AddConstraint(
		Node{ID: "secret_breaks_trust", Type: NodeWorldLogic, Description: "confiding destroys trust"},
		[]Edge{
			{From: "elena_confides_secret", To: "secret_breaks_trust", Kind: EdgeBlocks},
			{From: "secret_breaks_trust", To: "trust_low_elena", Kind: EdgeBlocks},
		})
	require.Error(t, err)
	assert.True(t, types.IsInvariant(err))
	assert.Contains(t, err.Error(), "blocking cycle")

	var iv *types.InvariantViolation
	require.ErrorAs(t, err, &iv)
	assert.Equal(t, InvariantCycleDetected, iv.Invariant)

	// No partial insert: node absent, score unchanged.
	_, ok := tr.Node("secret_breaks_trust")
	assert.False(t, ok)
	assert.InDelta(t, scoreBefore, tr.FreedomScore(), 1e-9)
}

func TestAddConstraint_DirectSelfCycle(t *testing.T) {
	t.Parallel()
	tr := newTestTracker(t)
	err := tr.AddConstraint(
		Node{ID: "a", Type: NodeWorldLogic},
		[]Edge{{From: "a", To: "a", Kind: EdgeBlocks}})
	require.Error(t, err)
	assert.True(t, types.IsInvariant(err))
}

func TestAddConstraint_Validation(t *testing.T) {
	t.Parallel()
	tr := newTestTracker(t)

	err := tr.AddConstraint(Node{ID: "x", Type: NodeType("nonsense")}, nil)
	require.Error(t, err)
	assert.True(t, types.IsValidation(err))

	err = tr.AddConstraint(
		Node{ID: "y", Type: NodeWorldLogic},
		[]Edge{{From: "y", To: "ghost", Kind: EdgeBlocks}})
	require.Error(t, err)
	assert.True(t, types.IsValidation(err))
}

func TestFreedomScore_ShrinksUnderBlocks(t *testing.T) {
	t.Parallel()
	tr := newTestTracker(t)

	assert.InDelta(t, 1.0, tr.FreedomScore(), 1e-9, "empty graph is fully free")

	require.NoError(t, tr.AddConstraint(Node{ID: "scene_a", Type: NodePlotThread, Urgency: 0.5}, nil))
	require.NoError(t, tr.AddConstraint(
		Node{ID: "scene_b", Type: NodePlotThread, Urgency: 0.5},
		[]Edge{{From: "scene_a", To: "scene_b", Kind: EdgeEnables}}))
	free := tr.FreedomScore()
	assert.InDelta(t, 1.0, free, 1e-9, "enables-only graph stays free")

	require.NoError(t, tr.AddConstraint(
		Node{ID: "storm", Type: NodeTemporalBlock, Description: "the pass is snowed in"},
		[]Edge{{From: "storm", To: "scene_b", Kind: EdgeBlocks}}))
	constrained := tr.FreedomScore()
	assert.Less(t, constrained, free)

	// Resolving the blocker restores freedom.
	require.NoError(t, tr.Resolve("storm"))
	assert.Greater(t, tr.FreedomScore(), constrained)
}

func TestAnalyze_BlockedPathsAndResolvable(t *testing.T) {
	t.Parallel()
	tr := newTestTracker(t)

	require.NoError(t, tr.AddConstraint(
		Node{ID: "thread_inheritance", Type: NodeUnresolvedThread, Urgency: 0.9}, nil))
	require.NoError(t, tr.AddConstraint(
		Node{ID: "elena_guarded", Type: NodeCharacterState, PreventsActions: []string{"confide", "ask_for_help"}}, nil))
	require.NoError(t, tr.AddConstraint(
		Node{ID: "reveal_will", Type: NodePlotThread, Urgency: 0.4},
		[]Edge{{From: "elena_guarded", To: "reveal_will", Kind: EdgeBlocks}}))

	analysis := tr.Analyze()

	require.NotEmpty(t, analysis.BlockedPaths)
	assert.Equal(t, "reveal_will", analysis.BlockedPaths[0].TargetID)
	assert.Equal(t, []string{"elena_guarded"}, analysis.BlockedPaths[0].Chain)

	require.NotEmpty(t, analysis.Resolvable)
	w := config.DefaultWeights()
	assert.Equal(t, "thread_inheritance", analysis.Resolvable[0].NodeID)
	assert.InDelta(t, 0.9*w.ThreadUrgencyWeight, analysis.Resolvable[0].Benefit, 1e-9)
}

func TestAnalyze_ContinuityFlagOnFreedomJump(t *testing.T) {
	t.Parallel()
	tr := newTestTracker(t)

	for i := 0; i < 4; i++ {
		id := fmt.Sprintf("beat_%d", i)
		require.NoError(t, tr.AddConstraint(Node{ID: id, Type: NodePlotThread, Urgency: 0.3}, nil))
	}
	require.NoError(t, tr.AddConstraint(
		Node{ID: "blocker", Type: NodeTemporalBlock},
		[]Edge{
			{From: "blocker", To: "beat_0", Kind: EdgeBlocks},
			{From: "blocker", To: "beat_1", Kind: EdgeBlocks},
			{From: "blocker", To: "beat_2", Kind: EdgeBlocks},
		}))

	first := tr.Analyze()
	assert.Empty(t, first.ContinuityFlag)

	// Silently deleting the blocker frees most of the graph at once.
	require.NoError(t, tr.Remove("blocker"))
	second := tr.Analyze()
	assert.NotEmpty(t, second.ContinuityFlag)

	// The flag is mutation-derived state: recomputing after the cache
	// entry has expired must reproduce it, not drop it.
	tr.cache.Flush()
	third := tr.Analyze()
	assert.Equal(t, second, third)
}

func TestAnalyze_Idempotent(t *testing.T) {
	t.Parallel()
	tr := newTestTracker(t)
	require.NoError(t, tr.AddConstraint(Node{ID: "n1", Type: NodeThematicCommitment}, nil))

	first := tr.Analyze()
	second := tr.Analyze()
	assert.Equal(t, first, second)

	// Same guarantee when the cached entry is gone.
	tr.cache.Flush()
	third := tr.Analyze()
	assert.Equal(t, first, third)
}

func TestPressureBands(t *testing.T) {
	t.Parallel()
	cases := []struct {
		score float64
		want  PressureLevel
	}{
		{0.95, PressureLow},
		{0.7, PressureModerate},
		{0.5, PressureHigh},
		{0.3, PressureCritical},
		{0.1, PressureExtreme},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, PressureFor(tc.score), "score %.2f", tc.score)
	}
}
