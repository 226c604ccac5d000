package coordinator

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"storymind/internal/character"
	"storymind/internal/config"
	"storymind/internal/drift"
	"storymind/internal/engagement"
	"storymind/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// =============================================================================
// TEST HELPERS
// =============================================================================

func newTestCoordinator(t *testing.T, opts ...Option) *Coordinator {
	t.Helper()
	c, err := New("test-session", Static(config.Default()), opts...)
	require.NoError(t, err)
	return c
}

func eventAt(et types.EventType, content string, turn int) types.NarrativeEvent {
	ev := types.NewEvent(et, content)
	ev.Turn = turn
	return ev
}

// fakeArchive records everything handed to it.
type fakeArchive struct {
	mu        sync.Mutex
	events    []types.NarrativeEvent
	insights  []types.Insight
	snapshots []drift.State
}

func (a *fakeArchive) SaveEvent(_ string, ev types.NarrativeEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, ev)
	return nil
}

func (a *fakeArchive) SaveInsight(_ string, in types.Insight) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.insights = append(a.insights, in)
	return nil
}

func (a *fakeArchive) SaveSnapshot(_ string, st drift.State) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.snapshots = append(a.snapshots, st)
	return nil
}

// mutableSource swaps configuration between Ingest calls, standing in
// for a live file watcher.
type mutableSource struct {
	mu  sync.Mutex
	cfg config.Config
}

func (s *mutableSource) Snapshot() config.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

func (s *mutableSource) set(cfg config.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
}

func hasInsightType(result types.AnalysisResult, t types.InsightType) bool {
	for _, in := range result.Insights {
		if in.Type == t {
			return true
		}
	}
	return false
}

// =============================================================================
// CONSTRUCTION
// =============================================================================

func TestNewGeneratesSessionID(t *testing.T) {
	t.Parallel()
	c, err := New("", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, c.SessionID())
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	cfg.Assertiveness = 1.5
	_, err := New("s", Static(cfg))
	require.Error(t, err)
	assert.True(t, types.IsConfiguration(err))
}

// =============================================================================
// INGEST
// =============================================================================

func TestIngestRejectsInvalidEventAndRecovers(t *testing.T) {
	t.Parallel()
	c := newTestCoordinator(t)

	bad := eventAt(types.EventDialogue, "hello", 1) // no character id
	_, err := c.Ingest(bad)
	require.Error(t, err)
	assert.True(t, types.IsValidation(err))

	good := eventAt(types.EventDialogue, "hello there", 1)
	good.CharacterID = "elena"
	_, err = c.Ingest(good)
	assert.NoError(t, err)
}

func TestIngestRecordsAndReturnsDNAUnit(t *testing.T) {
	t.Parallel()
	c := newTestCoordinator(t)

	contradiction := eventAt(types.EventDNAUnit, "Elena trusts Marcus but hides the letter", 1)
	contradiction.Tags = []string{"loop:contradiction", "trust"}
	_, err := c.Ingest(contradiction)
	require.NoError(t, err)

	report, err := c.Report(context.Background())
	require.NoError(t, err)
	require.Len(t, report.DNA.Unresolved, 1)

	ret := eventAt(types.EventDNAUnit, "The hidden letter surfaces", 2)
	ret.Tags = []string{"loop:return", "returns:" + contradiction.ID.String()}
	_, err = c.Ingest(ret)
	require.NoError(t, err)

	report, err = c.Report(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.DNA.Unresolved)
	assert.Equal(t, 2, report.DNA.TotalUnits)
}

func TestIngestReturnWithoutTargetFails(t *testing.T) {
	t.Parallel()
	c := newTestCoordinator(t)

	ret := eventAt(types.EventDNAUnit, "a payoff with no setup", 1)
	ret.Tags = []string{"loop:return"}
	_, err := c.Ingest(ret)
	require.Error(t, err)
	assert.True(t, types.IsInvariant(err))
}

func TestIngestArcProgressMonotone(t *testing.T) {
	t.Parallel()
	c := newTestCoordinator(t)

	forward := eventAt(types.EventArcProgress, "Elena commits to the plan", 1)
	forward.CharacterID = "elena"
	forward.Metadata = map[string]float64{"progress": 0.5}
	_, err := c.Ingest(forward)
	require.NoError(t, err)

	backslide := eventAt(types.EventArcProgress, "Elena wavers", 2)
	backslide.CharacterID = "elena"
	backslide.Metadata = map[string]float64{"progress": 0.3}
	_, err = c.Ingest(backslide)
	require.Error(t, err)
	assert.True(t, types.IsInvariant(err))

	regression := eventAt(types.EventArcRegression, "Elena relapses under pressure", 3)
	regression.CharacterID = "elena"
	regression.Metadata = map[string]float64{"progress": 0.3}
	_, err = c.Ingest(regression)
	require.NoError(t, err)

	p, ok := c.Profile("elena")
	require.True(t, ok)
	assert.InDelta(t, 0.3, p.Arc.Progress, 1e-9)
	assert.Equal(t, 1, p.Arc.Regressions)
}

func TestLoopSignalLifecycle(t *testing.T) {
	t.Parallel()
	c := newTestCoordinator(t)

	reg := eventAt(types.EventLoopSignal, "who sent the unsigned note?", 1)
	reg.Tags = []string{"register:curiosity"}
	_, err := c.Ingest(reg)
	require.NoError(t, err)

	loops := c.ActiveLoops()
	require.Len(t, loops, 1)
	id := loops[0].ID

	reinforce := eventAt(types.EventLoopSignal, "another note, same hand", 2)
	reinforce.Tags = []string{"reinforce:" + id.String()}
	_, err = c.Ingest(reinforce)
	require.NoError(t, err)

	resolve := eventAt(types.EventLoopSignal, "the gardener confesses", 3)
	resolve.Tags = []string{"resolve:" + id.String() + ":full"}
	_, err = c.Ingest(resolve)
	require.NoError(t, err)

	assert.Empty(t, c.ActiveLoops())
	loop, ok := c.engagement.Loop(id)
	require.True(t, ok)
	assert.True(t, loop.State.Terminal())
}

func TestLoopSignalWithoutDirectiveFails(t *testing.T) {
	t.Parallel()
	c := newTestCoordinator(t)

	ev := eventAt(types.EventLoopSignal, "nothing actionable", 1)
	ev.Tags = []string{"mystery"}
	_, err := c.Ingest(ev)
	require.Error(t, err)
	assert.True(t, types.IsValidation(err))
}

func TestStaleLoopSurfacesEngagementInsight(t *testing.T) {
	t.Parallel()
	c := newTestCoordinator(t)

	reg := eventAt(types.EventLoopSignal, "what is behind the locked door?", 1)
	reg.Tags = []string{"register:curiosity"}
	_, err := c.Ingest(reg)
	require.NoError(t, err)

	surfaced := false
	for turn := 2; turn <= 9; turn++ {
		result, err := c.Ingest(eventAt(types.EventSceneTransition, "the story moves on", turn))
		require.NoError(t, err)
		if hasInsightType(result, types.InsightEngagementPattern) {
			surfaced = true
		}
	}
	assert.True(t, surfaced,
		"a hook idle past the stale window should surface an attention insight")
}

// =============================================================================
// INSIGHT PIPELINE
// =============================================================================

func TestCharacterViolationInsightAndDedupe(t *testing.T) {
	t.Parallel()
	c := newTestCoordinator(t)
	require.NoError(t, c.AddTrait("marcus", character.PersonalityTrait{
		Name:           "honest",
		Intensity:      1.0,
		Stability:      1.0,
		Contradictions: []string{"lies"},
	}))

	violation := func(turn int) types.NarrativeEvent {
		ev := eventAt(types.EventCharacterAction, "Marcus lies to the magistrate", turn)
		ev.CharacterID = "marcus"
		return ev
	}

	first, err := c.Ingest(violation(1))
	require.NoError(t, err)
	assert.True(t, hasInsightType(first, types.InsightCharacterDrift))

	// Same (type, character) pair inside the dedupe window is suppressed.
	second, err := c.Ingest(violation(2))
	require.NoError(t, err)
	assert.False(t, hasInsightType(second, types.InsightCharacterDrift))

	// Outside the window it fires again.
	third, err := c.Ingest(violation(10))
	require.NoError(t, err)
	assert.True(t, hasInsightType(third, types.InsightCharacterDrift))
}

func TestDedupeOnlyRemembersEmittedInsights(t *testing.T) {
	t.Parallel()
	c := newTestCoordinator(t)
	c.turn = 1

	batch := []types.Insight{
		types.NewInsight(types.InsightConstraintPressure, types.PriorityCritical, "space tight", "x"),
		types.NewInsight(types.InsightCharacterDrift, types.PriorityMedium, "voice shift", "y"),
	}
	out := c.dedupe(batch, 5)
	require.Len(t, out, 2)
	sortByPriority(out)
	out = filterInsights(out, 0.2) // keeps only the critical insight
	require.Len(t, out, 1)
	c.remember(out)

	c.turn = 2
	again := c.dedupe([]types.Insight{
		types.NewInsight(types.InsightCharacterDrift, types.PriorityMedium, "voice shift", "y"),
	}, 5)
	assert.Len(t, again, 1, "an insight the caller never saw must not suppress later ones")

	repeat := c.dedupe([]types.Insight{
		types.NewInsight(types.InsightConstraintPressure, types.PriorityCritical, "space tight", "x"),
	}, 5)
	assert.Empty(t, repeat, "the emitted insight is still deduped inside the window")
}

func TestDedupeSuppressesWithinOneBatch(t *testing.T) {
	t.Parallel()
	c := newTestCoordinator(t)
	c.turn = 1

	out := c.dedupe([]types.Insight{
		types.NewInsight(types.InsightDNAPattern, types.PriorityHigh, "a", "a"),
		types.NewInsight(types.InsightDNAPattern, types.PriorityHigh, "b", "b"),
	}, 5)
	assert.Len(t, out, 1)
}

func TestFilterInsightsAssertivenessBands(t *testing.T) {
	t.Parallel()
	many := make([]types.Insight, 10)
	for i := range many {
		many[i] = types.NewInsight(types.InsightDNAPattern, types.PriorityMedium, "x", "y")
	}
	cases := []struct {
		level float64
		want  int
	}{
		{0.1, 1},
		{0.3, 3},
		{0.6, 5},
		{0.9, 8},
	}
	for _, tc := range cases {
		got := filterInsights(append([]types.Insight(nil), many...), tc.level)
		assert.Len(t, got, tc.want, "level %.1f", tc.level)
	}
	short := many[:2]
	assert.Len(t, filterInsights(short, 0.9), 2)
}

func TestContextPromptCarriesObligations(t *testing.T) {
	t.Parallel()
	c := newTestCoordinator(t)
	for _, desc := range []string{"the debt to Ilsa", "the sealed vault", "the stolen map"} {
		_, err := c.AddObligation(drift.Obligation{
			Kind:        drift.ObligationPromise,
			Description: desc,
			Urgency:     0.9,
		})
		require.NoError(t, err)
	}

	result, err := c.Ingest(eventAt(types.EventSceneTransition, "dawn over the harbor", 1))
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(result.ContextPrompt, "Obligation:"),
		"prompt injection carries at most two obligation reminders")

	reminders := c.ObligationReminders(3)
	assert.Len(t, reminders, 3)
	for _, r := range reminders {
		assert.True(t, strings.HasPrefix(r, "Obligation: "))
	}
}

// =============================================================================
// CHAPTER BOUNDARIES AND DRIFT
// =============================================================================

func TestChapterBoundarySnapshotAndDriftAlert(t *testing.T) {
	t.Parallel()
	arch := &fakeArchive{}
	c := newTestCoordinator(t, WithArchive(arch))

	for i := 0; i < 6; i++ {
		_, err := c.AddObligation(drift.Obligation{
			Kind:        drift.ObligationMystery,
			Description: "unanswered question",
			Urgency:     0.5,
		})
		require.NoError(t, err)
	}

	// Age the obligations past the stale window.
	_, err := c.Ingest(eventAt(types.EventSceneTransition, "time passes", 10))
	require.NoError(t, err)

	boundary := eventAt(types.EventChapterBoundary, "chapter one closes", 10)
	boundary.Chapter = 1
	boundary.Metadata = map[string]float64{"theme_drift": 0}
	result, err := c.Ingest(boundary)
	require.NoError(t, err)

	assert.True(t, hasInsightType(result, types.InsightDriftAlert),
		"six stale obligations exceed the default threshold")

	arch.mu.Lock()
	defer arch.mu.Unlock()
	require.Len(t, arch.snapshots, 1)
	snap := arch.snapshots[0]
	assert.Equal(t, 6, snap.UnresolvedObligationCount)
	assert.Len(t, snap.StaleObligations, 6)
	assert.Equal(t, 1, snap.CurrentChapter)
}

func TestConstraintPassThroughAndChange(t *testing.T) {
	t.Parallel()
	c := newTestCoordinator(t)

	// Unknown ids are rejected before any mutation.
	ev := eventAt(types.EventConstraintChange, "the storm ends", 1)
	ev.Tags = []string{"resolve:storm"}
	_, err := c.Ingest(ev)
	require.Error(t, err)

	ev2 := eventAt(types.EventConstraintChange, "malformed", 1)
	_, err = c.Ingest(ev2)
	require.Error(t, err)
	assert.True(t, types.IsValidation(err))
}

// =============================================================================
// CONFIGURATION
// =============================================================================

func TestHotReloadDisablesTracker(t *testing.T) {
	t.Parallel()
	src := &mutableSource{cfg: config.Default()}
	c, err := New("hotswap", src)
	require.NoError(t, err)

	unit := eventAt(types.EventDNAUnit, "an open pressure", 1)
	unit.Tags = []string{"loop:pressure"}
	_, err = c.Ingest(unit)
	require.NoError(t, err)

	next := config.Default()
	next.Trackers.DNA = false
	src.set(next)

	ignored := eventAt(types.EventDNAUnit, "should not be recorded", 2)
	ignored.Tags = []string{"loop:pressure"}
	_, err = c.Ingest(ignored)
	require.NoError(t, err)

	report, err := c.Report(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.DNA.TotalUnits)
}

func TestHotReloadRejectsInvalidSnapshot(t *testing.T) {
	t.Parallel()
	src := &mutableSource{cfg: config.Default()}
	c, err := New("badswap", src)
	require.NoError(t, err)

	broken := config.Default()
	broken.Assertiveness = -2
	src.set(broken)

	// The broken snapshot is ignored; the previous config keeps working.
	unit := eventAt(types.EventDNAUnit, "still recorded", 1)
	unit.Tags = []string{"loop:contradiction"}
	_, err = c.Ingest(unit)
	require.NoError(t, err)

	report, err := c.Report(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.DNA.TotalUnits)
}

func TestDisabledCharacterPassThroughsAreNoOps(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	cfg.Trackers.Character = false
	c, err := New("quiet", Static(cfg))
	require.NoError(t, err)

	require.NoError(t, c.AddTrait("ghost", character.PersonalityTrait{Name: "silent", Intensity: 1, Stability: 1}))
	require.NoError(t, c.DefineVoice("ghost", "formal", nil))
	_, ok := c.Profile("ghost")
	assert.False(t, ok)
}

// =============================================================================
// REPORT
// =============================================================================

func TestReportAggregatesSubScores(t *testing.T) {
	t.Parallel()
	c := newTestCoordinator(t)

	unit := eventAt(types.EventDNAUnit, "a promise made at the dock", 1)
	unit.Tags = []string{"loop:pressure"}
	_, err := c.Ingest(unit)
	require.NoError(t, err)

	reg := eventAt(types.EventLoopSignal, "what does the captain know?", 1)
	reg.Tags = []string{"register:curiosity"}
	_, err = c.Ingest(reg)
	require.NoError(t, err)

	report, err := c.Report(context.Background())
	require.NoError(t, err)

	assert.Len(t, report.SubScores, 6)
	for name, score := range report.SubScores {
		assert.GreaterOrEqual(t, score, 0.0, name)
		assert.LessOrEqual(t, score, 1.0, name)
	}
	assert.Greater(t, report.OverallHealth, 0.0)
	assert.LessOrEqual(t, report.OverallHealth, 1.0)
	assert.Equal(t, 1, report.Engagement.ActiveLoops)
	assert.Nil(t, report.DriftTrend, "fewer than two snapshots leaves the trend empty")
}

func TestArchiveReceivesEventsAndInsights(t *testing.T) {
	t.Parallel()
	arch := &fakeArchive{}
	c := newTestCoordinator(t, WithArchive(arch))
	require.NoError(t, c.AddTrait("marcus", character.PersonalityTrait{
		Name:           "honest",
		Intensity:      1.0,
		Stability:      1.0,
		Contradictions: []string{"lies"},
	}))

	ev := eventAt(types.EventCharacterAction, "Marcus lies about the ledger", 1)
	ev.CharacterID = "marcus"
	result, err := c.Ingest(ev)
	require.NoError(t, err)
	require.NotEmpty(t, result.Insights)

	arch.mu.Lock()
	defer arch.mu.Unlock()
	assert.Len(t, arch.events, 1)
	assert.Len(t, arch.insights, len(result.Insights))
}

// Coordinator methods that bridge into engagement keep invariant errors
// intact across the boundary.
func TestResolveLoopTerminalStateFinal(t *testing.T) {
	t.Parallel()
	c := newTestCoordinator(t)

	id, err := c.RegisterLoop(engagement.LoopCuriosity, eventAt(types.EventLoopSignal, "hook", 1))
	require.NoError(t, err)
	require.NoError(t, c.ResolveLoop(id, engagement.OutcomeFull))

	err = c.ResolveLoop(id, engagement.OutcomeFull)
	require.Error(t, err)
	assert.True(t, types.IsInvariant(err))
}
