package character

// Analysis summarizes consistency across all tracked characters.
type Analysis struct {
	Characters       int         `json:"characters"`
	TotalViolations  int         `json:"total_violations"`
	RecentViolations []Violation `json:"recent_violations,omitempty"`
	Health           float64     `json:"health"`
}

// Analyze computes (or returns the cached) engine-wide summary. Health
// starts at 1.0 and degrades with recent violations, weighted by their
// severity.
func (e *Engine) Analyze() Analysis {
	if cached, ok := e.cache.Get(analysisKey); ok {
		return cached.(Analysis)
	}

	e.mu.RLock()
	const recentWindow = 10
	var recent []Violation
	for _, v := range e.violations {
		if e.turn-v.Turn <= recentWindow {
			recent = append(recent, v)
		}
	}
	health := 1.0
	for _, v := range recent {
		health -= 0.1 + v.Severity*0.2
	}
	analysis := Analysis{
		Characters:       len(e.profiles),
		TotalViolations:  len(e.violations),
		RecentViolations: recent,
		Health:           clampRange(health, 0, 1),
	}
	e.mu.RUnlock()

	e.cache.SetDefault(analysisKey, analysis)
	return analysis
}
