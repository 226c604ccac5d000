package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storymind/internal/types"
)

func TestDefaultValidates(t *testing.T) {
	t.Parallel()
	if err := Default().Validate(); err != nil {
		t.Fatalf("default configuration must validate: %v", err)
	}
}

func TestParseMergesOverDefault(t *testing.T) {
	t.Parallel()
	cfg, err := Parse([]byte(`
assertiveness: 0.9
trackers:
  drift: false
sensitivity:
  character_drift: 0.5
`))
	require.NoError(t, err)

	want := Default()
	want.Assertiveness = 0.9
	want.Trackers.Drift = false
	want.Sensitivity.CharacterDrift = 0.5
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("merged config mismatch (-want +got):\n%s", diff)
	}
}

func TestParseRejectsMalformedYAML(t *testing.T) {
	t.Parallel()
	_, err := Parse([]byte("assertiveness: [not a number"))
	assert.Error(t, err)
}

func TestValidateRejectsOutOfRange(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"assertiveness above one", func(c *Config) { c.Assertiveness = 1.2 }},
		{"negative sensitivity", func(c *Config) { c.Sensitivity.CrossSystem = -0.1 }},
		{"zero history cap", func(c *Config) { c.History.DNAUnits = 0 }},
		{"negative stale threshold", func(c *Config) { c.Drift.StaleObligationThreshold = -1 }},
		{"lookback below two", func(c *Config) { c.Drift.TrendLookback = 1 }},
		{"unknown log level", func(c *Config) { c.Logging.Level = "loud" }},
		{"unknown log category", func(c *Config) { c.Logging.Categories = []string{"telemetry"} }},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, types.IsConfiguration(err), "expected a configuration error, got %v", err)
		})
	}
}

func TestValidTracker(t *testing.T) {
	t.Parallel()
	for _, name := range []string{"dna", "constraint", "recursion", "character", "engagement", "drift"} {
		assert.True(t, ValidTracker(name), name)
	}
	assert.False(t, ValidTracker("telemetry"))
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "story.yaml")
	require.NoError(t, os.WriteFile(path, []byte("assertiveness: 0.4\n"), 0o644))

	w, err := NewWatcher(path)
	require.NoError(t, err)
	defer w.Close()
	assert.InDelta(t, 0.4, w.Snapshot().Assertiveness, 1e-9)

	require.NoError(t, os.WriteFile(path, []byte("assertiveness: 0.8\n"), 0o644))
	require.Eventually(t, func() bool {
		return w.Snapshot().Assertiveness == 0.8
	}, 5*time.Second, 10*time.Millisecond, "watcher should pick up the rewritten file")
}

func TestWatcherKeepsSnapshotOnBadReload(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "story.yaml")
	require.NoError(t, os.WriteFile(path, []byte("assertiveness: 0.4\n"), 0o644))

	w, err := NewWatcher(path)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(path, []byte("assertiveness: 7.0\n"), 0o644))
	require.Eventually(t, func() bool {
		return w.Err() != nil
	}, 5*time.Second, 10*time.Millisecond, "invalid reload should surface through Err")
	assert.InDelta(t, 0.4, w.Snapshot().Assertiveness, 1e-9, "previous snapshot survives a bad reload")
}

func TestWeightsValidate(t *testing.T) {
	t.Parallel()
	w := DefaultWeights()
	require.NoError(t, w.Validate())

	w.VoiceViolationThreshold = 1.4
	err := w.Validate()
	require.Error(t, err)
	assert.True(t, types.IsConfiguration(err))
}
