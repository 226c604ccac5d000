// Package drift watches long-horizon health metrics for slow
// degradation: obligations going stale, emotional stakes flattening,
// themes wandering, high-gravity locations dropping out of play. It
// trend-fits chapter snapshots and compares the latest one against
// configured limits.
package drift

import (
	"fmt"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"storymind/internal/config"
	"storymind/internal/logging"
	"storymind/internal/types"
)

// State is one per-chapter snapshot. Immutable once recorded; the
// stabilizer appends and never edits history.
type State struct {
	UnresolvedObligationCount int                `json:"unresolved_obligation_count"`
	StaleObligations          []string           `json:"stale_obligations,omitempty"`
	EmotionalDecaySum         float64            `json:"emotional_decay_sum"`
	ThemeDriftScore           float64            `json:"theme_drift_score"`
	SpatialReturnPressureLost bool               `json:"spatial_return_pressure_lost"`
	CurrentChapter            int                `json:"current_chapter"`
	Metadata                  map[string]float64 `json:"metadata,omitempty"`
	RecordedAt                time.Time          `json:"recorded_at"`
}

// Metric names used in trend analysis.
const (
	MetricEmotionalDecay  = "emotional_decay_sum"
	MetricThemeDrift      = "theme_drift_score"
	MetricStaleObligation = "stale_obligation_count"
)

const trendKey = "trend_analysis"

// Stabilizer owns the bounded snapshot history.
type Stabilizer struct {
	mu sync.RWMutex

	history []State // oldest first
	cap     int

	cache *gocache.Cache
	log   *logging.CategoryLogger
}

// New builds an empty stabilizer.
func New(cfg config.Config, log *logging.CategoryLogger) *Stabilizer {
	if log == nil {
		log = logging.NewNop().Get(logging.CategoryDrift)
	}
	return &Stabilizer{
		cap:   cfg.History.ChapterSnapshots,
		cache: gocache.New(5*time.Second, 0),
		log:   log,
	}
}

// Apply updates tunables from a fresh configuration snapshot.
func (s *Stabilizer) Apply(cfg config.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cap = cfg.History.ChapterSnapshots
	if len(s.history) > s.cap {
		s.history = append([]State(nil), s.history[len(s.history)-s.cap:]...)
	}
	s.cache.Flush()
}

// RecordChapterSnapshot appends one snapshot. Chapters must not move
// backwards; history is bounded by the configured cap.
func (s *Stabilizer) RecordChapterSnapshot(state State) error {
	if state.CurrentChapter < 0 {
		return &types.ValidationError{Field: "current_chapter", Reason: "chapter cannot be negative"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := len(s.history); n > 0 && state.CurrentChapter < s.history[n-1].CurrentChapter {
		return &types.InvariantViolation{
			Invariant: "snapshots-append-only",
			Detail: fmt.Sprintf("chapter %d precedes last recorded chapter %d",
				state.CurrentChapter, s.history[n-1].CurrentChapter),
		}
	}
	if state.RecordedAt.IsZero() {
		state.RecordedAt = time.Now()
	}
	s.history = append(s.history, state)
	if len(s.history) > s.cap {
		s.history = append([]State(nil), s.history[len(s.history)-s.cap:]...)
	}
	s.cache.Flush()
	s.log.Debug("recorded chapter %d snapshot (decay=%.2f theme=%.2f stale=%d)",
		state.CurrentChapter, state.EmotionalDecaySum, state.ThemeDriftScore, len(state.StaleObligations))
	return nil
}

// Latest returns the most recent snapshot, if any.
func (s *Stabilizer) Latest() (State, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.history) == 0 {
		return State{}, false
	}
	return s.history[len(s.history)-1], true
}

// Len reports recorded snapshot count.
func (s *Stabilizer) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.history)
}

// =============================================================================
// TREND ANALYSIS
// =============================================================================

// MetricTrend is the least-squares fit for one metric.
type MetricTrend struct {
	Slope         float64 `json:"slope"`
	Confidence    float64 `json:"confidence"` // R-squared of the fit
	PredictedNext float64 `json:"predicted_next"`
	LowConfidence bool    `json:"low_confidence"`
}

// TrendAnalysis covers all tracked metrics over the lookback window.
type TrendAnalysis struct {
	Window  int                    `json:"window"`
	Metrics map[string]MetricTrend `json:"metrics"`
}

// lowConfidenceFloor flags fits whose R-squared is too weak to act on.
const lowConfidenceFloor = 0.5

// AnalyzeTrend fits the last `lookback` snapshots per metric. Results
// are cached until the next snapshot.
func (s *Stabilizer) AnalyzeTrend(lookback int) (TrendAnalysis, error) {
	if lookback < 2 {
		return TrendAnalysis{}, &types.ValidationError{Field: "lookback", Reason: "trend needs at least 2 snapshots"}
	}
	key := fmt.Sprintf("%s:%d", trendKey, lookback)
	if cached, ok := s.cache.Get(key); ok {
		return cached.(TrendAnalysis), nil
	}

	s.mu.RLock()
	window := s.history
	if len(window) > lookback {
		window = window[len(window)-lookback:]
	}
	series := map[string][]float64{
		MetricEmotionalDecay:  make([]float64, 0, len(window)),
		MetricThemeDrift:      make([]float64, 0, len(window)),
		MetricStaleObligation: make([]float64, 0, len(window)),
	}
	for _, st := range window {
		series[MetricEmotionalDecay] = append(series[MetricEmotionalDecay], st.EmotionalDecaySum)
		series[MetricThemeDrift] = append(series[MetricThemeDrift], st.ThemeDriftScore)
		series[MetricStaleObligation] = append(series[MetricStaleObligation], float64(len(st.StaleObligations)))
	}
	s.mu.RUnlock()

	if len(window) < 2 {
		return TrendAnalysis{}, &types.ValidationError{Field: "history", Reason: fmt.Sprintf("only %d snapshots recorded", len(window))}
	}

	analysis := TrendAnalysis{Window: len(window), Metrics: make(map[string]MetricTrend, len(series))}
	for name, values := range series {
		slope, intercept, r2 := leastSquares(values)
		analysis.Metrics[name] = MetricTrend{
			Slope:         slope,
			Confidence:    r2,
			PredictedNext: intercept + slope*float64(len(values)),
			LowConfidence: r2 < lowConfidenceFloor,
		}
	}
	s.cache.SetDefault(key, analysis)
	return analysis, nil
}

// leastSquares fits y = intercept + slope*x over x = 0..n-1 and returns
// the R-squared of the fit. A constant series fits perfectly with
// slope 0.
func leastSquares(values []float64) (slope, intercept, r2 float64) {
	n := float64(len(values))
	var sumX, sumY, sumXY, sumXX float64
	for i, y := range values {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	den := n*sumXX - sumX*sumX
	if den == 0 {
		return 0, values[0], 1
	}
	slope = (n*sumXY - sumX*sumY) / den
	intercept = (sumY - slope*sumX) / n

	mean := sumY / n
	var ssTot, ssRes float64
	for i, y := range values {
		fit := intercept + slope*float64(i)
		ssRes += (y - fit) * (y - fit)
		ssTot += (y - mean) * (y - mean)
	}
	if ssTot == 0 {
		return slope, intercept, 1
	}
	return slope, intercept, 1 - ssRes/ssTot
}

// =============================================================================
// THRESHOLD CHECKS
// =============================================================================

// Warning enumerates which configured limits the latest snapshot broke.
type Warning struct {
	Chapter     int                `json:"chapter"`
	Warnings    []string           `json:"warnings"`
	Suggestions []string           `json:"suggestions"`
	Metrics     map[string]float64 `json:"metrics"`
}

// Text joins the warning lines for logging and prompt construction.
func (w *Warning) Text() string { return strings.Join(w.Warnings, "; ") }

// CheckThresholds compares the latest snapshot against the configured
// limits. Nil means every limit held (or drift checking is disabled).
func (s *Stabilizer) CheckThresholds(cfg config.DriftConfig) *Warning {
	if !cfg.Enabled {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.history) == 0 {
		return nil
	}
	latest := s.history[len(s.history)-1]

	w := &Warning{
		Chapter: latest.CurrentChapter,
		Metrics: map[string]float64{
			MetricEmotionalDecay:  latest.EmotionalDecaySum,
			MetricThemeDrift:      latest.ThemeDriftScore,
			MetricStaleObligation: float64(len(latest.StaleObligations)),
		},
	}

	if len(latest.StaleObligations) >= cfg.StaleObligationThreshold {
		w.Warnings = append(w.Warnings, fmt.Sprintf("%d narrative obligations have gone stale", len(latest.StaleObligations)))
		w.Suggestions = append(w.Suggestions, "resolve or advance at least one major obligation")
	}
	if latest.EmotionalDecaySum >= cfg.EmotionalDecayLimit {
		w.Warnings = append(w.Warnings, fmt.Sprintf("emotional decay sum %.2f exceeds limit %.2f", latest.EmotionalDecaySum, cfg.EmotionalDecayLimit))
		w.Suggestions = append(w.Suggestions, "consider intensifying emotional stakes")
	}
	if latest.ThemeDriftScore >= cfg.ThemeThreshold {
		w.Warnings = append(w.Warnings, fmt.Sprintf("theme drift score %.2f exceeds limit %.2f", latest.ThemeDriftScore, cfg.ThemeThreshold))
		w.Suggestions = append(w.Suggestions, "consider reinforcing core themes")
	}
	if latest.SpatialReturnPressureLost {
		chaptersSince := s.chaptersSinceSpatialLossLocked()
		if chaptersSince >= cfg.SpatialPressureChapterLim {
			w.Warnings = append(w.Warnings, fmt.Sprintf("a high-gravity location has been absent for %d chapters", chaptersSince))
			w.Suggestions = append(w.Suggestions, "consider reintroducing a high-gravity location")
		}
	}

	if len(w.Warnings) == 0 {
		return nil
	}
	s.log.Warn("drift warning (chapter %d): %s", latest.CurrentChapter, w.Text())
	return w
}

func (s *Stabilizer) chaptersSinceSpatialLossLocked() int {
	count := 0
	for i := len(s.history) - 1; i >= 0; i-- {
		if !s.history[i].SpatialReturnPressureLost {
			break
		}
		count++
	}
	return count
}

// InjectionPrompt converts a warning into corrective prompt text for
// the downstream generator. Empty when there is nothing to inject.
func InjectionPrompt(w *Warning) string {
	if w == nil || len(w.Suggestions) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Narrative guidance: ")
	b.WriteString(strings.Join(w.Suggestions, ". "))
	b.WriteString(".")
	return b.String()
}
