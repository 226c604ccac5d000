// Package coordinator owns the six narrative trackers, fans incoming
// events to whichever ones declared interest, and folds their findings
// into one prioritized insight list plus an optional context string for
// the next generation prompt.
//
// One Coordinator serves one narrative session, exercised serially.
// Independent sessions run in independent Coordinators with nothing
// shared.
package coordinator

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/google/uuid"

	"storymind/internal/character"
	"storymind/internal/config"
	"storymind/internal/constraint"
	"storymind/internal/dna"
	"storymind/internal/drift"
	"storymind/internal/engagement"
	"storymind/internal/logging"
	"storymind/internal/recursion"
	"storymind/internal/types"
)

// ConfigSource supplies configuration snapshots. The Coordinator reads
// one per Ingest, so external hot-reloads take effect on the next
// event. config.Watcher satisfies this; Static wraps a fixed value.
type ConfigSource interface {
	Snapshot() config.Config
}

// Static is a ConfigSource that never changes.
type Static config.Config

// Snapshot returns the wrapped configuration.
func (s Static) Snapshot() config.Config { return config.Config(s) }

// Archive receives a copy of everything worth keeping after the
// session. Implementations must not be on the analysis path; all
// methods are called after analysis completes. A nil Archive disables
// archiving.
type Archive interface {
	SaveEvent(sessionID string, ev types.NarrativeEvent) error
	SaveInsight(sessionID string, in types.Insight) error
	SaveSnapshot(sessionID string, st drift.State) error
}

// Coordinator wires the trackers together.
type Coordinator struct {
	sessionID string

	source  ConfigSource
	applied config.Config

	dna        *dna.Tracker
	constraint *constraint.Tracker
	recursion  *recursion.Tracker
	character  *character.Engine
	engagement *engagement.Tracker
	drift      *drift.Stabilizer

	obligations *drift.ObligationIndex
	resonance   *drift.Resonance

	turn    int
	chapter int

	// recently emitted (type, character) pairs for dedupe
	recent []emittedKey

	logger *logging.Logger
	log    *logging.CategoryLogger
	audit  *logging.AuditWriter
	arch   Archive
}

type emittedKey struct {
	insightType types.InsightType
	characterID string
	turn        int
}

// Option customizes construction.
type Option func(*Coordinator)

// WithLogger injects the logging collaborator.
func WithLogger(l *logging.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithAudit injects the audit trail writer.
func WithAudit(w *logging.AuditWriter) Option {
	return func(c *Coordinator) { c.audit = w }
}

// WithArchive injects the session archive.
func WithArchive(a Archive) Option {
	return func(c *Coordinator) { c.arch = a }
}

// New builds a Coordinator for one session. The initial snapshot must
// validate; configuration problems surface here, before any event.
func New(sessionID string, source ConfigSource, opts ...Option) (*Coordinator, error) {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	if source == nil {
		source = Static(config.Default())
	}
	cfg := source.Snapshot()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Coordinator{
		sessionID:   sessionID,
		source:      source,
		applied:     cfg,
		obligations: drift.NewObligationIndex(),
		resonance:   drift.NewResonance(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logging.NewNop()
	}
	if c.audit == nil {
		c.audit = mustNopAudit()
	}
	c.log = c.logger.Get(logging.CategoryCoordinator)

	c.dna = dna.New(cfg, c.logger.Get(logging.CategoryDNA))
	c.constraint = constraint.New(cfg, c.logger.Get(logging.CategoryConstraint))
	c.recursion = recursion.New(cfg, c.logger.Get(logging.CategoryRecursion))
	c.character = character.New(cfg, c.logger.Get(logging.CategoryCharacter))
	c.engagement = engagement.New(cfg, c.logger.Get(logging.CategoryEngagement))
	c.drift = drift.New(cfg, c.logger.Get(logging.CategoryDrift))

	c.log.Info("session %s started", sessionID)
	return c, nil
}

func mustNopAudit() *logging.AuditWriter {
	w, _ := logging.NewAuditWriter("")
	return w
}

// SessionID identifies this coordinator's session.
func (c *Coordinator) SessionID() string { return c.sessionID }

// refreshConfig pulls the current snapshot and pushes it to trackers
// when it changed. Called once per Ingest.
func (c *Coordinator) refreshConfig() config.Config {
	cfg := c.source.Snapshot()
	if !reflect.DeepEqual(cfg, c.applied) {
		if err := cfg.Validate(); err != nil {
			c.log.Error("rejected hot-reloaded config: %v", err)
			return c.applied
		}
		c.dna.Apply(cfg)
		c.constraint.Apply(cfg)
		c.recursion.Apply(cfg)
		c.character.Apply(cfg)
		c.engagement.Apply(cfg)
		c.drift.Apply(cfg)
		c.applied = cfg
		c.log.Info("applied updated configuration")
	}
	return c.applied
}

// Ingest processes one narrative event: validate, route, collect,
// correlate, filter. A rejected event changes nothing and later events
// proceed normally.
func (c *Coordinator) Ingest(ev types.NarrativeEvent) (types.AnalysisResult, error) {
	if err := ev.Validate(); err != nil {
		_ = c.audit.Record(logging.AuditEvent{
			Type: logging.AuditEventRejected, SessionID: c.sessionID,
			Chapter: c.chapter, Turn: c.turn, Detail: err.Error(),
		})
		return types.AnalysisResult{}, err
	}

	cfg := c.refreshConfig()
	if ev.Turn > c.turn {
		c.turn = ev.Turn
	}
	if ev.Chapter > c.chapter {
		c.chapter = ev.Chapter
	}
	c.character.SetTurn(c.turn)
	c.obligations.SetTurn(c.turn)
	if cfg.Trackers.Engagement {
		c.engagement.Tick(c.turn)
	}

	routeErr := c.route(ev, cfg)
	if routeErr != nil {
		_ = c.audit.Record(logging.AuditEvent{
			Type: logging.AuditEventRejected, SessionID: c.sessionID,
			Chapter: c.chapter, Turn: c.turn, Detail: routeErr.Error(),
		})
		return types.AnalysisResult{}, routeErr
	}

	insights := c.collectInsights(ev, cfg)
	insights = c.dedupe(insights, cfg.History.InsightDedupeTurns)
	sortByPriority(insights)
	insights = filterInsights(insights, cfg.Assertiveness)
	c.remember(insights)

	result := types.AnalysisResult{
		Insights: insights,
		Turn:     c.turn,
		Chapter:  c.chapter,
	}
	result.ContextPrompt = c.buildContext(insights)

	if len(insights) > 0 {
		_ = c.audit.Record(logging.AuditEvent{
			Type: logging.AuditInsightEmitted, SessionID: c.sessionID,
			Chapter: c.chapter, Turn: c.turn,
			Detail:   fmt.Sprintf("%d insights, top: %s", len(insights), insights[0].Title),
			Injected: result.ContextPrompt != "",
		})
	}
	if c.arch != nil {
		if err := c.arch.SaveEvent(c.sessionID, ev); err != nil {
			c.log.Error("archive event: %v", err)
		}
		for _, in := range insights {
			if err := c.arch.SaveInsight(c.sessionID, in); err != nil {
				c.log.Error("archive insight: %v", err)
			}
		}
	}
	return result, nil
}

// route hands the event to every enabled tracker interested in its
// type. The table is static; per-event cost is bounded by it.
func (c *Coordinator) route(ev types.NarrativeEvent, cfg config.Config) error {
	for _, target := range routesFor(ev.Type) {
		if !target.enabled(cfg.Trackers) {
			continue
		}
		if err := target.deliver(c, ev); err != nil {
			return err
		}
	}
	return nil
}

// buildContext assembles the optional prompt injection: the strongest
// insights plus reminders of the heaviest open obligations.
func (c *Coordinator) buildContext(insights []types.Insight) string {
	var lines []string
	count := 0
	for _, in := range insights {
		if in.Priority < types.PriorityHigh {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s: %s", strings.ToUpper(in.Priority.String()), in.Description))
		count++
		if count == 3 {
			break
		}
	}
	for i, o := range c.obligations.Open() {
		if i == 2 {
			break
		}
		lines = append(lines, fmt.Sprintf("Obligation: %s.", o.Description))
	}
	if len(lines) == 0 {
		return ""
	}
	injected := strings.Join(lines, "\n")
	_ = c.audit.Record(logging.AuditEvent{
		Type: logging.AuditContextInjected, SessionID: c.sessionID,
		Chapter: c.chapter, Turn: c.turn, Injected: true,
		Detail: injected,
	})
	return injected
}
