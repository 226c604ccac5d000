// Package store persists session history (events, insights, chapter
// snapshots) to SQLite for post-session review. It sits strictly off
// the analysis path: the Coordinator writes to it after analysis
// completes and never reads from it while processing events.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"storymind/internal/drift"
	"storymind/internal/logging"
	"storymind/internal/types"
)

// SessionArchive is the SQLite-backed archive.
type SessionArchive struct {
	db   *sql.DB
	mu   sync.Mutex
	path string
	log  *logging.CategoryLogger
}

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id         TEXT NOT NULL,
	session_id TEXT NOT NULL,
	turn       INTEGER NOT NULL,
	chapter    INTEGER NOT NULL,
	event_type TEXT NOT NULL,
	payload    TEXT NOT NULL,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (session_id, id)
);
CREATE INDEX IF NOT EXISTS idx_events_session_turn ON events(session_id, turn);

CREATE TABLE IF NOT EXISTS insights (
	id         TEXT NOT NULL,
	session_id TEXT NOT NULL,
	turn       INTEGER NOT NULL,
	insight_type TEXT NOT NULL,
	priority   TEXT NOT NULL,
	payload    TEXT NOT NULL,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (session_id, id)
);
CREATE INDEX IF NOT EXISTS idx_insights_session ON insights(session_id);

CREATE TABLE IF NOT EXISTS snapshots (
	session_id TEXT NOT NULL,
	chapter    INTEGER NOT NULL,
	payload    TEXT NOT NULL,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_snapshots_session ON snapshots(session_id, chapter);
`

// Open initializes (or reuses) the archive database at path.
func Open(path string, log *logging.CategoryLogger) (*SessionArchive, error) {
	if log == nil {
		log = logging.NewNop().Get(logging.CategoryStore)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating archive directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening archive database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing archive schema: %w", err)
	}
	log.Info("session archive ready at %s", path)
	return &SessionArchive{db: db, path: path, log: log}, nil
}

// SaveEvent archives one ingested event.
func (a *SessionArchive) SaveEvent(sessionID string, ev types.NarrativeEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	_, err = a.db.Exec(
		`INSERT OR REPLACE INTO events (id, session_id, turn, chapter, event_type, payload) VALUES (?, ?, ?, ?, ?, ?)`,
		ev.ID.String(), sessionID, ev.Turn, ev.Chapter, string(ev.Type), string(payload))
	if err != nil {
		return fmt.Errorf("archiving event %s: %w", ev.ID, err)
	}
	return nil
}

// SaveInsight archives one emitted insight.
func (a *SessionArchive) SaveInsight(sessionID string, in types.Insight) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encoding insight: %w", err)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	_, err = a.db.Exec(
		`INSERT OR REPLACE INTO insights (id, session_id, turn, insight_type, priority, payload) VALUES (?, ?, ?, ?, ?, ?)`,
		in.ID.String(), sessionID, in.Turn, string(in.Type), in.Priority.String(), string(payload))
	if err != nil {
		return fmt.Errorf("archiving insight %s: %w", in.ID, err)
	}
	return nil
}

// SaveSnapshot archives one chapter snapshot.
func (a *SessionArchive) SaveSnapshot(sessionID string, st drift.State) error {
	payload, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	_, err = a.db.Exec(
		`INSERT INTO snapshots (session_id, chapter, payload) VALUES (?, ?, ?)`,
		sessionID, st.CurrentChapter, string(payload))
	if err != nil {
		return fmt.Errorf("archiving snapshot for chapter %d: %w", st.CurrentChapter, err)
	}
	return nil
}

// Events replays a session's archived events in turn order.
func (a *SessionArchive) Events(sessionID string) ([]types.NarrativeEvent, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	rows, err := a.db.Query(
		`SELECT payload FROM events WHERE session_id = ? ORDER BY turn, created_at`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var out []types.NarrativeEvent
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var ev types.NarrativeEvent
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			return nil, fmt.Errorf("decoding archived event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Insights lists a session's archived insights in turn order.
func (a *SessionArchive) Insights(sessionID string) ([]types.Insight, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	rows, err := a.db.Query(
		`SELECT payload FROM insights WHERE session_id = ? ORDER BY turn, created_at`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("querying insights: %w", err)
	}
	defer rows.Close()

	var out []types.Insight
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var in types.Insight
		if err := json.Unmarshal([]byte(payload), &in); err != nil {
			return nil, fmt.Errorf("decoding archived insight: %w", err)
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

// Snapshots lists a session's chapter snapshots in chapter order.
func (a *SessionArchive) Snapshots(sessionID string) ([]drift.State, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	rows, err := a.db.Query(
		`SELECT payload FROM snapshots WHERE session_id = ? ORDER BY chapter`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("querying snapshots: %w", err)
	}
	defer rows.Close()

	var out []drift.State
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var st drift.State
		if err := json.Unmarshal([]byte(payload), &st); err != nil {
			return nil, fmt.Errorf("decoding archived snapshot: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// PurgeOlderThan deletes archived rows from sessions whose newest write
// is older than the cutoff. Returns rows removed.
func (a *SessionArchive) PurgeOlderThan(cutoff time.Time) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var total int64
	for _, table := range []string{"events", "insights", "snapshots"} {
		res, err := a.db.Exec(
			fmt.Sprintf(`DELETE FROM %s WHERE session_id IN (
				SELECT session_id FROM %s GROUP BY session_id HAVING MAX(created_at) < ?
			)`, table, table), cutoff.UTC().Format("2006-01-02 15:04:05"))
		if err != nil {
			return total, fmt.Errorf("purging %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

// Close releases the database handle.
func (a *SessionArchive) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.db.Close()
}
