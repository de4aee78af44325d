package konditional

import (
	"container/list"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// defaultHistoryDepth bounds how many prior snapshots a Namespace retains
// for Rollback. Older snapshots are evicted oldest-first.
const defaultHistoryDepth = 20

// overrideKey identifies a single forced value: one feature for one
// stable id. Overrides are a debugging/support tool (spec.md §5: "force a
// value for a specific user without touching the snapshot"), never part
// of the normal evaluation path for anonymous contexts.
type overrideKey struct {
	Feature  FeatureId
	StableId StableId
}

// Namespace is the process-local registry for one environment's worth of
// feature definitions: an atomically-swapped current Configuration, a
// bounded rollback history, a namespace-wide kill switch, and a per-user
// override table. It is grounded on the edge-evaluator's ConfigCache
// (RWMutex-guarded map + Redis warm cache) but drops the cache's
// network-backed loader: a Namespace's source of truth is whatever calls
// Load/ApplyPatch, typically a NATS subscription or an initial snapshot
// fetch performed by the host, not the namespace itself.
type Namespace struct {
	name string

	current atomic.Pointer[Configuration]
	kill    atomic.Bool

	writeMu    sync.Mutex
	history    *list.List // front = newest *Configuration
	maxHistory int

	overrides atomic.Pointer[map[overrideKey]any]

	logger  Logger
	metrics MetricsCollector
}

// NamespaceOption customizes NewNamespace.
type NamespaceOption func(*Namespace)

// WithLogger installs a Logger for load/rollback/kill-switch events.
func WithLogger(l Logger) NamespaceOption {
	return func(n *Namespace) { n.logger = l }
}

// WithMetricsCollector installs a MetricsCollector for evaluation and
// registry-event counters.
func WithMetricsCollector(m MetricsCollector) NamespaceOption {
	return func(n *Namespace) { n.metrics = m }
}

// WithHistoryDepth overrides defaultHistoryDepth.
func WithHistoryDepth(depth int) NamespaceOption {
	return func(n *Namespace) { n.maxHistory = depth }
}

// NewNamespace returns a namespace seeded with initial as its current
// snapshot.
func NewNamespace(name string, initial *Configuration, opts ...NamespaceOption) *Namespace {
	n := &Namespace{
		name:       name,
		history:    list.New(),
		maxHistory: defaultHistoryDepth,
		logger:     noopLogger{},
		metrics:    noopMetricsCollector{},
	}
	for _, opt := range opts {
		opt(n)
	}
	n.current.Store(initial)
	n.history.PushFront(initial)
	empty := map[overrideKey]any{}
	n.overrides.Store(&empty)
	return n
}

// Name returns the namespace's identifier.
func (n *Namespace) Name() string { return n.name }

// Current returns the snapshot currently being served. It is safe to call
// from any goroutine without locking: readers never block writers and
// writers never block readers (spec.md §5: "reads are wait-free").
func (n *Namespace) Current() *Configuration {
	return n.current.Load()
}

// Load wholesale-replaces the current snapshot, pushes it onto the
// rollback history, and evicts the oldest entry past maxHistory. Load
// does not check version monotonicity — ApplyPatch does, for the common
// incremental-update case — since a full reload is legitimately allowed
// to jump to any version (e.g. after a control-plane compaction).
func (n *Namespace) Load(next *Configuration) {
	n.writeMu.Lock()
	defer n.writeMu.Unlock()

	prev := n.current.Load()
	n.current.Store(next)
	n.pushHistoryLocked(next)

	n.logger.Debug("konditional: namespace loaded", map[string]any{
		"namespace":   n.name,
		"fromVersion": versionOf(prev),
		"toVersion":   next.Version,
	})
	n.metrics.IncReload(n.name, versionOf(prev), next.Version)
}

func versionOf(c *Configuration) int64 {
	if c == nil {
		return -1
	}
	return c.Version
}

// ApplyPatch applies an incremental patch to the current snapshot and
// installs the result, rejecting it if the patch's base version has
// drifted (spec.md §5). On success it behaves exactly like Load(result).
func (n *Namespace) ApplyPatch(patch ConfigurationPatch) error {
	n.writeMu.Lock()
	defer n.writeMu.Unlock()

	cur := n.current.Load()
	next, err := cur.Apply(patch)
	if err != nil {
		n.logger.Warn("konditional: patch rejected", map[string]any{
			"namespace": n.name,
			"error":     err.Error(),
		})
		return err
	}
	n.current.Store(next)
	n.pushHistoryLocked(next)
	n.logger.Debug("konditional: namespace patched", map[string]any{
		"namespace":   n.name,
		"fromVersion": cur.Version,
		"toVersion":   next.Version,
	})
	n.metrics.IncReload(n.name, cur.Version, next.Version)
	return nil
}

func (n *Namespace) pushHistoryLocked(cfg *Configuration) {
	n.history.PushFront(cfg)
	for n.history.Len() > n.maxHistory {
		n.history.Remove(n.history.Back())
	}
}

// Rollback restores the most recent retained snapshot with the given
// version. It is the exact inverse Load/ApplyPatch chain produced: rolling
// back to version v and then serving is indistinguishable from having
// never left v (spec.md §5's rollback law).
func (n *Namespace) Rollback(toVersion int64) error {
	n.writeMu.Lock()
	defer n.writeMu.Unlock()

	for e := n.history.Front(); e != nil; e = e.Next() {
		cfg := e.Value.(*Configuration)
		if cfg.Version == toVersion {
			n.current.Store(cfg)
			n.pushHistoryLocked(cfg)
			n.logger.Warn("konditional: namespace rolled back", map[string]any{
				"namespace": n.name,
				"toVersion": toVersion,
			})
			n.metrics.IncRollback(n.name, toVersion)
			return nil
		}
	}
	return fmt.Errorf("konditional: version %d is not in namespace %q's retained history", toVersion, n.name)
}

// DisableAll trips the namespace-wide kill switch: every evaluation serves
// its compile-time default until EnableAll is called, regardless of what
// the current snapshot's rules say (spec.md §5: "an operator-level escape
// hatch that doesn't require a new snapshot").
func (n *Namespace) DisableAll() {
	n.kill.Store(true)
	n.logger.Warn("konditional: namespace kill switch engaged", map[string]any{"namespace": n.name})
}

// EnableAll clears the kill switch.
func (n *Namespace) EnableAll() {
	n.kill.Store(false)
	n.logger.Warn("konditional: namespace kill switch cleared", map[string]any{"namespace": n.name})
}

// Killed reports whether the kill switch is currently engaged.
func (n *Namespace) Killed() bool { return n.kill.Load() }

// SetOverride forces feature to evaluate to value for the given stable id,
// bypassing rules and rollout; an engaged kill switch still takes
// precedence (see EvaluateFeature). Overrides are
// copy-on-write so readers never see a half-updated table.
func SetOverride[T any](n *Namespace, feature FeatureId, id StableId, value T) {
	n.mutateOverrides(func(next map[overrideKey]any) {
		next[overrideKey{Feature: feature, StableId: id}] = value
	})
}

// ClearOverride removes a single forced value.
func (n *Namespace) ClearOverride(feature FeatureId, id StableId) {
	n.mutateOverrides(func(next map[overrideKey]any) {
		delete(next, overrideKey{Feature: feature, StableId: id})
	})
}

// ClearAllOverrides removes every forced value.
func (n *Namespace) ClearAllOverrides() {
	n.overrides.Store(&map[overrideKey]any{})
}

func (n *Namespace) mutateOverrides(mutate func(map[overrideKey]any)) {
	n.writeMu.Lock()
	defer n.writeMu.Unlock()
	cur := *n.overrides.Load()
	next := make(map[overrideKey]any, len(cur)+1)
	for k, v := range cur {
		next[k] = v
	}
	mutate(next)
	n.overrides.Store(&next)
}

func lookupOverride[T any](n *Namespace, feature FeatureId, ctx Context) (T, bool) {
	var zero T
	id, ok := ctx.StableId()
	if !ok {
		return zero, false
	}
	table := *n.overrides.Load()
	raw, ok := table[overrideKey{Feature: feature, StableId: id}]
	if !ok {
		return zero, false
	}
	v, ok := raw.(T)
	return v, ok
}

// EvaluateFeature evaluates one feature against ctx within the namespace:
// the kill switch forces Default first, then an override (if present) wins,
// then the normal rule-matching algorithm runs against the current
// snapshot. This ordering — kill switch before override — follows the
// engine's literal step order (kill switch is checked before overrides);
// a kill-switched namespace cannot be partially re-enabled via overrides.
// def is the compile-time fallback definition used when the snapshot has
// no definition for this feature at all (a feature declared in code but
// not yet published).
func EvaluateFeature[T any](n *Namespace, feature FeatureId, fallback *FlagDefinition[T], ctx Context) EvaluationResult[T] {
	start := time.Now()
	def := fallback
	cfgVersion := int64(-1)
	if cfg := n.current.Load(); cfg != nil {
		cfgVersion = cfg.Version
		if d, ok := GetDefinition[T](cfg, feature); ok {
			def = d
		}
	}

	if n.Killed() {
		result := EvaluationResult[T]{
			Feature:       feature,
			Value:         def.Default,
			Decision:      Decision{Kind: DecisionRegistryDisabled, RuleIndex: -1, Note: "namespace kill switch"},
			Mode:          ModeNormal,
			NamespaceId:   n.name,
			ConfigVersion: cfgVersion,
			DurationNanos: time.Since(start).Nanoseconds(),
		}
		n.metrics.IncEvaluation(feature, result.Decision.Kind)
		return result
	}

	if v, ok := lookupOverride[T](n, feature, ctx); ok {
		result := EvaluationResult[T]{
			Feature:       feature,
			Value:         v,
			Decision:      Decision{Kind: DecisionRuleMatch, RuleIndex: -1, Note: "override"},
			Mode:          ModeNormal,
			NamespaceId:   n.name,
			ConfigVersion: cfgVersion,
			DurationNanos: time.Since(start).Nanoseconds(),
		}
		n.metrics.IncEvaluation(feature, result.Decision.Kind)
		return result
	}

	result := EvaluateWithReason(def, ctx)
	result.NamespaceId = n.name
	result.ConfigVersion = cfgVersion
	n.metrics.IncEvaluation(feature, result.Decision.Kind)
	return result
}

// EvaluateAny evaluates a feature by id without the caller knowing its Go
// type T, for hosts that serve many differently-shaped features behind one
// dynamic dispatch (an HTTP evaluation endpoint keyed by flag name). It
// follows the same kill-switch-then-override-then-rules order as
// EvaluateFeature, type-erasing through EvaluateDefinitionAny/ExportDefinition
// instead of a compile-time fallback definition: a feature absent from the
// current snapshot entirely is reported as an error rather than silently
// falling back, since there is no compile-time Feature[T] handle here to
// supply one.
func EvaluateAny(n *Namespace, feature FeatureId, ctx Context) (ExportedValue, Decision, error) {
	cfg := n.current.Load()
	if cfg == nil {
		return ExportedValue{}, Decision{}, fmt.Errorf("konditional: namespace %q has no current snapshot", n.name)
	}
	raw, ok := cfg.RawDefinition(feature)
	if !ok {
		return ExportedValue{}, Decision{}, fmt.Errorf("konditional: feature %s has no definition in namespace %q", feature, n.name)
	}

	if n.Killed() {
		exported, err := ExportDefinition(feature, raw)
		if err != nil {
			return ExportedValue{}, Decision{}, err
		}
		decision := Decision{Kind: DecisionRegistryDisabled, RuleIndex: -1, Note: "namespace kill switch"}
		n.metrics.IncEvaluation(feature, decision.Kind)
		return exported.Default, decision, nil
	}

	if raw, ok := n.lookupOverrideRaw(feature, ctx); ok {
		val, err := json.Marshal(raw)
		if err != nil {
			return ExportedValue{}, Decision{}, fmt.Errorf("konditional: feature %s: marshaling override: %w", feature, err)
		}
		shape, _ := LookupFeatureShape(feature)
		decision := Decision{Kind: DecisionRuleMatch, RuleIndex: -1, Note: "override"}
		n.metrics.IncEvaluation(feature, decision.Kind)
		return ExportedValue{Kind: shape.Kind, JSON: val}, decision, nil
	}

	exportedVal, decision, err := EvaluateDefinitionAny(feature, raw, ctx)
	if err != nil {
		return ExportedValue{}, Decision{}, err
	}
	n.metrics.IncEvaluation(feature, decision.Kind)
	return exportedVal, decision, nil
}

// lookupOverrideRaw is EvaluateAny's type-erased counterpart to
// lookupOverride[T]: it returns the override value boxed as `any` rather
// than downcasting it, since EvaluateAny has no T to downcast to.
func (n *Namespace) lookupOverrideRaw(feature FeatureId, ctx Context) (any, bool) {
	id, ok := ctx.StableId()
	if !ok {
		return nil, false
	}
	table := *n.overrides.Load()
	raw, ok := table[overrideKey{Feature: feature, StableId: id}]
	return raw, ok
}
