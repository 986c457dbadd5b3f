package rules

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/visionward/sitewatch/internal/detect"
	"github.com/visionward/sitewatch/internal/logger"
)

// Loader supplies the current rule list. Implementations read from an
// external store; the engine never writes rules back.
type Loader interface {
	LoadRules(ctx context.Context) ([]Rule, error)
}

// LoaderFunc adapts a function to the Loader interface
type LoaderFunc func(ctx context.Context) ([]Rule, error)

func (f LoaderFunc) LoadRules(ctx context.Context) ([]Rule, error) {
	return f(ctx)
}

// EngineConfig configures the rule engine
type EngineConfig struct {
	// TTL is how long a snapshot serves before the next access reloads
	// it. Defaults to 5 minutes.
	TTL time.Duration

	// Now overrides the clock, for schedule evaluation in tests
	Now func() time.Time
}

// snapshot is an immutable rule set plus its load time. Readers get
// the whole struct through one atomic pointer so they never observe a
// partial reload.
type snapshot struct {
	rules    []Rule
	loadedAt time.Time
}

// Engine answers "should this detection be acted on" against a cached
// rule snapshot. Reloads are pull-style: the first evaluation after
// the TTL expires refreshes the snapshot, and a failed reload keeps
// serving the last good one.
type Engine struct {
	loader Loader
	logger *logger.Logger
	ttl    time.Duration
	now    func() time.Time

	current  atomic.Pointer[snapshot]
	reloadMu sync.Mutex
}

// NewEngine creates a rule engine over the given loader
func NewEngine(loader Loader, cfg EngineConfig, log *logger.Logger) *Engine {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		loader: loader,
		logger: log,
		ttl:    ttl,
		now:    now,
	}
}

// Reload forces a snapshot refresh regardless of age
func (e *Engine) Reload(ctx context.Context) error {
	e.reloadMu.Lock()
	defer e.reloadMu.Unlock()
	return e.reloadLocked(ctx)
}

func (e *Engine) reloadLocked(ctx context.Context) error {
	rules, err := e.loader.LoadRules(ctx)
	if err != nil {
		return err
	}
	e.current.Store(&snapshot{rules: rules, loadedAt: e.now()})
	e.logger.Debug("Rule snapshot reloaded", "rules", len(rules))
	return nil
}

// rules returns the current snapshot, reloading first if it is stale.
// A reload failure falls back to the last good snapshot; with no
// snapshot at all the engine evaluates against an empty rule set.
func (e *Engine) rules(ctx context.Context) []Rule {
	snap := e.current.Load()
	if snap != nil && e.now().Sub(snap.loadedAt) < e.ttl {
		return snap.rules
	}

	e.reloadMu.Lock()
	defer e.reloadMu.Unlock()

	// Another caller may have reloaded while we waited for the lock.
	snap = e.current.Load()
	if snap != nil && e.now().Sub(snap.loadedAt) < e.ttl {
		return snap.rules
	}

	if err := e.reloadLocked(ctx); err != nil {
		e.logger.Error("Rule reload failed, keeping last snapshot", "error", err)
		if snap != nil {
			// Push the stale snapshot's age forward so every call does
			// not hammer a broken loader before the next TTL expiry.
			e.current.Store(&snapshot{rules: snap.rules, loadedAt: e.now()})
			return snap.rules
		}
		return nil
	}
	return e.current.Load().rules
}

// admissible collects enabled rules whose stream filters and schedule
// admit the stream right now, preserving load order
func (e *Engine) admissible(ctx context.Context, streamID, streamKind string) []Rule {
	now := e.now()
	var out []Rule
	for _, rule := range e.rules(ctx) {
		if !rule.Enabled {
			continue
		}
		if !rule.admitsStream(streamID, streamKind) {
			continue
		}
		if !rule.Schedule.ActiveAt(now) {
			continue
		}
		out = append(out, rule)
	}
	return out
}

// EnabledCategories returns the union of categories from every rule
// currently admitting the stream. An empty result means no detector
// needs to run for this stream at all.
func (e *Engine) EnabledCategories(ctx context.Context, streamID, streamKind string) []detect.Category {
	seen := make(map[detect.Category]bool)
	var out []detect.Category
	for _, rule := range e.admissible(ctx, streamID, streamKind) {
		for _, category := range rule.Categories {
			if !seen[category] {
				seen[category] = true
				out = append(out, category)
			}
		}
	}
	return out
}

// Match returns every admissible rule covering the category, ordered
// by priority descending with ties keeping original order. The subject
// allowlist is consulted only for categories that carry a subject.
func (e *Engine) Match(ctx context.Context, streamID, streamKind string, category detect.Category, subjectID string) []Rule {
	var out []Rule
	for _, rule := range e.admissible(ctx, streamID, streamKind) {
		if !rule.HasCategory(category) {
			continue
		}
		if category.NeedsSubjects() || category == detect.CategoryFace {
			if !rule.admitsSubject(subjectID) {
				continue
			}
		}
		out = append(out, rule)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority > out[j].Priority
	})
	return out
}

// ShouldTrigger reports whether a detection should be acted on: a
// match must exist and the confidence must reach the top match's
// threshold, boundary inclusive
func (e *Engine) ShouldTrigger(ctx context.Context, streamID, streamKind string, category detect.Category, confidence float64, subjectID string) (bool, *Rule) {
	matches := e.Match(ctx, streamID, streamKind, category, subjectID)
	if len(matches) == 0 {
		return false, nil
	}
	top := matches[0]
	if confidence >= top.ConfidenceThreshold {
		return true, &top
	}
	return false, &top
}

// SnapshotAge returns how long ago the current snapshot was loaded, or
// a negative value when nothing has loaded yet
func (e *Engine) SnapshotAge() time.Duration {
	snap := e.current.Load()
	if snap == nil {
		return -1
	}
	return e.now().Sub(snap.loadedAt)
}
