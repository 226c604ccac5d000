package logging

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storymind/internal/config"
)

func TestGetAllCategoriesEnabledByDefault(t *testing.T) {
	t.Parallel()
	l := New(config.LoggingConfig{Level: "info"})
	for _, c := range []Category{CategoryDNA, CategoryDrift, CategoryCoordinator, CategoryStore} {
		assert.True(t, l.Get(c).Enabled(), string(c))
	}
}

func TestGetDisabledCategoryIsNoOp(t *testing.T) {
	t.Parallel()
	l := New(config.LoggingConfig{Level: "info", Categories: []string{"dna"}})

	assert.True(t, l.Get(CategoryDNA).Enabled())

	cl := l.Get(CategoryDrift)
	assert.False(t, cl.Enabled())
	// Must not panic with a nil backend.
	cl.Debug("ignored %d", 1)
	cl.Info("ignored")
	cl.Warn("ignored")
	cl.Error("ignored")
}

func TestNewNopDiscards(t *testing.T) {
	t.Parallel()
	l := NewNop()
	cl := l.Get(CategoryEngagement)
	assert.True(t, cl.Enabled())
	cl.Info("goes nowhere %s", "quietly")
}

func TestAuditWriterRoundTrip(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "trail", "audit.jsonl")
	w, err := NewAuditWriter(path)
	require.NoError(t, err)

	require.NoError(t, w.Record(AuditEvent{
		Type: AuditDriftWarning, SessionID: "s1", Chapter: 3, Turn: 40,
		Metrics:  map[string]float64{"theme_drift_score": 1.2},
		Warnings: "theme drift score 1.20 exceeds limit 1.00",
	}))
	require.NoError(t, w.Record(AuditEvent{
		Type: AuditContextInjected, SessionID: "s1", Chapter: 3, Turn: 41,
		Injected: true, Detail: "Obligation: the debt to Ilsa.",
	}))
	require.NoError(t, w.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var got []AuditEvent
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var ev AuditEvent
		require.NoError(t, json.Unmarshal(sc.Bytes(), &ev))
		got = append(got, ev)
	}
	require.NoError(t, sc.Err())

	require.Len(t, got, 2)
	assert.Equal(t, AuditDriftWarning, got[0].Type)
	assert.False(t, got[0].Timestamp.IsZero(), "missing timestamps are filled in")
	assert.Equal(t, AuditContextInjected, got[1].Type)
	assert.True(t, got[1].Injected)
}

func TestAuditWriterDisabled(t *testing.T) {
	t.Parallel()
	w, err := NewAuditWriter("")
	require.NoError(t, err)
	assert.NoError(t, w.Record(AuditEvent{Type: AuditInsightEmitted}))
	assert.NoError(t, w.Close())
}
