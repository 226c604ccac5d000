package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// =============================================================================
// AUDIT TRAIL
// =============================================================================
//
// One JSONL record per warning or prompt-injection event. The file is
// append-only so a session can be replayed after the fact.

// AuditEventType distinguishes the records in the trail.
type AuditEventType string

const (
	AuditDriftWarning    AuditEventType = "drift_warning"
	AuditContextInjected AuditEventType = "context_injected"
	AuditInsightEmitted  AuditEventType = "insight_emitted"
	AuditEventRejected   AuditEventType = "event_rejected"
)

// AuditEvent is one structured trail record.
type AuditEvent struct {
	Timestamp time.Time          `json:"timestamp"`
	Type      AuditEventType     `json:"type"`
	SessionID string             `json:"session_id"`
	Chapter   int                `json:"chapter"`
	Turn      int                `json:"turn"`
	Metrics   map[string]float64 `json:"metrics,omitempty"`
	Warnings  string             `json:"warnings,omitempty"`
	Injected  bool               `json:"injected"`
	Detail    string             `json:"detail,omitempty"`
}

// AuditWriter appends AuditEvents to a JSONL file.
type AuditWriter struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

// NewAuditWriter opens (or creates) the trail file in append mode.
// An empty path returns a disabled writer whose Record is a no-op.
func NewAuditWriter(path string) (*AuditWriter, error) {
	if path == "" {
		return &AuditWriter{}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating audit dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening audit trail: %w", err)
	}
	return &AuditWriter{file: f, enc: json.NewEncoder(f)}, nil
}

// Record appends one event. Missing timestamps are filled in.
func (w *AuditWriter) Record(ev AuditEvent) error {
	if w.file == nil {
		return nil
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.enc.Encode(ev)
}

// Close flushes and closes the trail file.
func (w *AuditWriter) Close() error {
	if w.file == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}
