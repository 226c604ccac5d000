package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storymind/internal/drift"
	"storymind/internal/types"
)

func newTestArchive(t *testing.T) *SessionArchive {
	t.Helper()
	a, err := Open(filepath.Join(t.TempDir(), "archive.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestArchive_EventRoundTrip(t *testing.T) {
	a := newTestArchive(t)

	ev := types.NewEvent(types.EventDialogue, "I never said that.")
	ev.CharacterID = "elena"
	ev.Turn = 7
	ev.Chapter = 2
	require.NoError(t, a.SaveEvent("session-1", ev))

	// Same event re-saved replaces, not duplicates.
	require.NoError(t, a.SaveEvent("session-1", ev))

	events, err := a.Events("session-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, ev.ID, events[0].ID)
	assert.Equal(t, "elena", events[0].CharacterID)
	assert.Equal(t, 7, events[0].Turn)

	other, err := a.Events("session-2")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestArchive_InsightsOrderedByTurn(t *testing.T) {
	a := newTestArchive(t)

	late := types.NewInsight(types.InsightDriftAlert, types.PriorityCritical, "late", "turn nine")
	late.Turn = 9
	early := types.NewInsight(types.InsightDNAPattern, types.PriorityMedium, "early", "turn two")
	early.Turn = 2
	require.NoError(t, a.SaveInsight("s", late))
	require.NoError(t, a.SaveInsight("s", early))

	insights, err := a.Insights("s")
	require.NoError(t, err)
	require.Len(t, insights, 2)
	assert.Equal(t, "early", insights[0].Title)
	assert.Equal(t, "late", insights[1].Title)
}

func TestArchive_SnapshotRoundTrip(t *testing.T) {
	a := newTestArchive(t)

	st := drift.State{
		CurrentChapter:    3,
		EmotionalDecaySum: 1.8,
		StaleObligations:  []string{"the unopened letter"},
		RecordedAt:        time.Now(),
	}
	require.NoError(t, a.SaveSnapshot("s", st))

	got, err := a.Snapshots("s")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 3, got[0].CurrentChapter)
	assert.InDelta(t, 1.8, got[0].EmotionalDecaySum, 1e-9)
	assert.Equal(t, []string{"the unopened letter"}, got[0].StaleObligations)
}

func TestArchive_PurgeOlderThan(t *testing.T) {
	a := newTestArchive(t)

	in := types.NewInsight(types.InsightDNAPattern, types.PriorityLow, "keep", "recent")
	in.ID = uuid.New()
	require.NoError(t, a.SaveInsight("fresh", in))

	// Nothing is older than a cutoff in the past.
	n, err := a.PurgeOlderThan(time.Now().Add(-24 * time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)

	// Everything is older than a cutoff in the future.
	n, err = a.PurgeOlderThan(time.Now().Add(24 * time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
