package engagement

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storymind/internal/config"
	"storymind/internal/types"
)

func newTestTracker(t *testing.T) *Tracker {
	t.Helper()
	return New(config.Default(), nil)
}

func seedEvent(content string, turn int, intensity float64) types.NarrativeEvent {
	ev := types.NewEvent(types.EventLoopSignal, content)
	ev.Turn = turn
	ev.Metadata = map[string]float64{"intensity": intensity}
	return ev
}

func TestRegisterAndReinforce(t *testing.T) {
	t.Parallel()
	tr := newTestTracker(t)

	id, err := tr.RegisterLoop(LoopCuriosity, seedEvent("who sent the letter?", 1, 0.5))
	require.NoError(t, err)

	loop, ok := tr.Loop(id)
	require.True(t, ok)
	assert.Equal(t, StateInitiation, loop.State)

	require.NoError(t, tr.Reinforce(id, seedEvent("the postmark is from the old town", 2, 0.4)))
	loop, _ = tr.Loop(id)
	assert.Equal(t, StateReinforcement, loop.State)
	assert.Greater(t, loop.Tension, 0.5)
	assert.Equal(t, 2, loop.LastReinforcedTurn)

	_, err = tr.RegisterLoop(LoopType("bogus"), seedEvent("x", 1, 0.5))
	require.Error(t, err)
	assert.True(t, types.IsValidation(err))
}

func TestResolve_TerminalStatesAreFinal(t *testing.T) {
	t.Parallel()
	tr := newTestTracker(t)
	id, err := tr.RegisterLoop(LoopMoralTension, seedEvent("steal the medicine?", 1, 0.7))
	require.NoError(t, err)

	require.NoError(t, tr.Resolve(id, OutcomePartial))
	loop, _ := tr.Loop(id)
	assert.Equal(t, StatePartialResolution, loop.State)
	assert.InDelta(t, 0.7*0.7, loop.Tension, 1e-9, "partial resolution damps tension")
	assert.True(t, loop.Active(), "partially resolved loops stay open")

	require.NoError(t, tr.Resolve(id, OutcomeFull))
	loop, _ = tr.Loop(id)
	assert.Equal(t, StateFullResolution, loop.State)
	assert.Zero(t, loop.Tension)

	err = tr.Reinforce(id, seedEvent("more", 3, 0.2))
	require.Error(t, err)
	assert.True(t, types.IsInvariant(err))
	err = tr.Resolve(id, OutcomeSubversion)
	require.Error(t, err)
	assert.True(t, types.IsInvariant(err))
}

// Scenario: a curiosity hook reinforced three times then neglected for
// ten turns (threshold five) must land in stale Tease and surface an
// urgent attention report.
func TestStaleLoopSurfacesUrgentAttention(t *testing.T) {
	t.Parallel()
	tr := newTestTracker(t)

	id, err := tr.RegisterLoop(LoopCuriosity, seedEvent("what is behind the locked door?", 1, 0.6))
	require.NoError(t, err)
	for turn := 2; turn <= 4; turn++ {
		require.NoError(t, tr.Reinforce(id, seedEvent("another hint", turn, 0.2)))
	}

	for turn := 5; turn <= 14; turn++ {
		tr.Tick(turn)
	}

	loop, _ := tr.Loop(id)
	assert.Equal(t, StateTease, loop.State)
	assert.True(t, loop.Stale)

	m := tr.Analyze()
	assert.Equal(t, 1, m.StaleLoops)
	require.NotEmpty(t, m.Attention)
	assert.True(t, m.Attention[0].Urgent)
	assert.Contains(t, m.Attention[0].Suggestion, "attention or resolution")
}

func TestAbandonmentBelowFloor(t *testing.T) {
	t.Parallel()
	tr := newTestTracker(t)
	id, err := tr.RegisterLoop(LoopConfusion, seedEvent("why did he lie?", 1, 0.15))
	require.NoError(t, err)

	// Low tension plus long neglect decays past the abandonment floor.
	for turn := 2; turn < 30; turn++ {
		tr.Tick(turn)
	}
	loop, _ := tr.Loop(id)
	assert.Equal(t, StateAbandoned, loop.State)
	assert.False(t, loop.Active())

	m := tr.Analyze()
	assert.Equal(t, 1, m.Abandoned)
	assert.Zero(t, m.ActiveLoops)
	// Abandoning more than resolving drags retention down.
	assert.Less(t, m.RetentionScore, 0.5)
}

func TestActiveLoopsExcludeTerminal(t *testing.T) {
	t.Parallel()
	tr := newTestTracker(t)

	a, err := tr.RegisterLoop(LoopCuriosity, seedEvent("hook a", 1, 0.5))
	require.NoError(t, err)
	b, err := tr.RegisterLoop(LoopEmotionalInvestment, seedEvent("hook b", 1, 0.5))
	require.NoError(t, err)
	require.NoError(t, tr.Resolve(b, OutcomeSubversion))

	active := tr.ActiveLoops()
	require.Len(t, active, 1)
	assert.Equal(t, a, active[0].ID)

	_, ok := tr.Loop(b)
	assert.True(t, ok, "terminal loops are retained for trend analysis")
}

func TestAnalyze_RetentionAndIdempotence(t *testing.T) {
	t.Parallel()
	tr := newTestTracker(t)

	id, err := tr.RegisterLoop(LoopCuriosity, seedEvent("hook", 1, 0.6))
	require.NoError(t, err)
	require.NoError(t, tr.Resolve(id, OutcomeFull))
	_, err = tr.RegisterLoop(LoopMoralTension, seedEvent("dilemma", 2, 0.5))
	require.NoError(t, err)

	first := tr.Analyze()
	// One active loop in band, perfect resolution rate so far.
	assert.InDelta(t, 1.0, first.ResolutionRate, 1e-9)
	assert.InDelta(t, 1.0, first.RetentionScore, 1e-9, "0.5 base +0.2 active +0.2 band +0.2 rate, clamped")

	second := tr.Analyze()
	assert.Equal(t, first, second)

	tr.Tick(3)
	third := tr.Analyze()
	assert.Equal(t, first.ActiveLoops, third.ActiveLoops)
}

func TestUnknownLoopRejected(t *testing.T) {
	t.Parallel()
	tr := newTestTracker(t)
	err := tr.Reinforce(uuid.New(), seedEvent("x", 1, 0.1))
	require.Error(t, err)
	assert.True(t, types.IsValidation(err))
}
