// Package recursion detects thematic and structural echoes across
// narrative granularities, from single sentences up to the whole story.
// Elements live in bounded per-level rolling windows; echo matching is
// fingerprint comparison, not semantic NLP.
package recursion

import (
	"fmt"
	"hash/fnv"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"storymind/internal/config"
	"storymind/internal/logging"
	"storymind/internal/types"
)

// Level is the narrative granularity of an element.
type Level int

const (
	LevelSentence Level = iota
	LevelParagraph
	LevelScene
	LevelChapter
	LevelStory
)

var levelNames = map[Level]string{
	LevelSentence:  "sentence",
	LevelParagraph: "paragraph",
	LevelScene:     "scene",
	LevelChapter:   "chapter",
	LevelStory:     "story",
}

func (l Level) String() string {
	if s, ok := levelNames[l]; ok {
		return s
	}
	return fmt.Sprintf("level(%d)", int(l))
}

// ParseLevel maps a string to a Level.
func ParseLevel(s string) (Level, bool) {
	for l, name := range levelNames {
		if name == strings.ToLower(s) {
			return l, true
		}
	}
	return 0, false
}

// Element is one content fragment held in a level window. Immutable
// once recorded.
type Element struct {
	ID          uuid.UUID `json:"id"`
	Level       Level     `json:"level"`
	Content     string    `json:"content"`
	ContentHash uint64    `json:"content_hash"`
	Tags        []string  `json:"tags,omitempty"`
	Turn        int       `json:"turn"`
	CreatedAt   time.Time `json:"created_at"`

	words map[string]bool // normalized word set, built at record time
}

const analysisKey = "recursion_analysis"

// Tracker owns the per-level element windows.
type Tracker struct {
	mu sync.RWMutex

	windows map[Level][]Element // oldest first per level
	turn    int
	cap     int
	weights config.Weights

	cache *gocache.Cache
	log   *logging.CategoryLogger
}

// New builds an empty tracker.
func New(cfg config.Config, log *logging.CategoryLogger) *Tracker {
	if log == nil {
		log = logging.NewNop().Get(logging.CategoryRecursion)
	}
	return &Tracker{
		windows: make(map[Level][]Element),
		cap:     cfg.History.ElementsPerLevel,
		weights: cfg.Weights,
		cache:   gocache.New(5*time.Second, 0),
		log:     log,
	}
}

// Apply updates tunables from a fresh configuration snapshot.
func (t *Tracker) Apply(cfg config.Config) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cap = cfg.History.ElementsPerLevel
	t.weights = cfg.Weights
	for l, win := range t.windows {
		if len(win) > t.cap {
			t.windows[l] = append([]Element(nil), win[len(win)-t.cap:]...)
		}
	}
	t.cache.Flush()
}

// RecordElement stores a fragment in its level window, evicting the
// oldest entry once the window exceeds the cap.
func (t *Tracker) RecordElement(el Element) error {
	if el.Content == "" {
		return &types.ValidationError{Field: "content", Reason: "element content missing"}
	}
	if _, ok := levelNames[el.Level]; !ok {
		return &types.ValidationError{Field: "level", Reason: fmt.Sprintf("unknown level %d", int(el.Level))}
	}
	if el.ID == uuid.Nil {
		el.ID = uuid.New()
	}
	if el.CreatedAt.IsZero() {
		el.CreatedAt = time.Now()
	}
	el.words = wordSet(el.Content)
	el.ContentHash = fingerprint(el.words)

	t.mu.Lock()
	defer t.mu.Unlock()
	win := append(t.windows[el.Level], el)
	if len(win) > t.cap {
		win = append([]Element(nil), win[len(win)-t.cap:]...)
	}
	t.windows[el.Level] = win
	if el.Turn > t.turn {
		t.turn = el.Turn
	}
	t.cache.Flush()
	t.log.Debug("recorded %s element %s (turn %d)", el.Level, el.ID, el.Turn)
	return nil
}

// RecordEvent translates a recursive_element event. The level comes
// from a "level:<name>" tag, defaulting to sentence.
func (t *Tracker) RecordEvent(event types.NarrativeEvent) error {
	if err := event.Validate(); err != nil {
		return err
	}
	if event.Type != types.EventRecursiveElement {
		return &types.ValidationError{Field: "type", Reason: fmt.Sprintf("recursion tracker cannot record %s events", event.Type)}
	}
	level := LevelSentence
	var tags []string
	for _, tag := range event.Tags {
		if v, ok := strings.CutPrefix(tag, "level:"); ok {
			parsed, valid := ParseLevel(v)
			if !valid {
				return &types.ValidationError{Field: "tags", Reason: fmt.Sprintf("unknown level %q", v)}
			}
			level = parsed
			continue
		}
		tags = append(tags, tag)
	}
	return t.RecordElement(Element{
		ID:        event.ID,
		Level:     level,
		Content:   event.Content,
		Tags:      tags,
		Turn:      event.Turn,
		CreatedAt: event.Timestamp,
	})
}

// Window returns a copy of one level's elements, oldest first.
func (t *Tracker) Window(l Level) []Element {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]Element(nil), t.windows[l]...)
}

// Len reports the total resident element count.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, win := range t.windows {
		n += len(win)
	}
	return n
}

var wordSplit = regexp.MustCompile(`[a-z0-9']+`)

// stopWords are excluded from fingerprints; they match everything.
var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true,
	"but": true, "of": true, "to": true, "in": true, "on": true,
	"at": true, "is": true, "was": true, "it": true, "he": true,
	"she": true, "they": true, "that": true, "this": true, "with": true,
	"for": true, "as": true, "her": true, "his": true, "had": true,
}

func wordSet(content string) map[string]bool {
	words := wordSplit.FindAllString(strings.ToLower(content), -1)
	set := make(map[string]bool, len(words))
	for _, w := range words {
		if len(w) > 2 && !stopWords[w] {
			set[w] = true
		}
	}
	return set
}

// fingerprint folds the sorted word set into a stable 64-bit hash.
func fingerprint(words map[string]bool) uint64 {
	// Order-independent: XOR of per-word hashes.
	var fp uint64
	for w := range words {
		h := fnv.New64a()
		h.Write([]byte(w))
		fp ^= h.Sum64()
	}
	return fp
}
