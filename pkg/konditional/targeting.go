package konditional

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// Criterion is the sum type of targeting leaves described in spec.md §3/§4.2:
// Locale, Platform, Version, Axis, Extension, Guarded, and All (AND
// composition). Rather than a tagged union of concrete struct types, each
// constructor below returns the same Criterion interface so All() can hold a
// heterogeneous slice of children.
type Criterion interface {
	// matches reports whether ctx satisfies this criterion.
	matches(ctx Context) bool
	// specificity returns (baseWeight, extensionWeight) contributed by this
	// criterion and its descendants.
	specificity() (base int, extension int)
	// Project attempts to express this criterion in the wire vocabulary
	// (locales/platforms/versionRange/axes, AND-combined). It returns
	// ok=false for anything the wire format can't represent — Extension,
	// Guarded, Any, Not — so the codec can tell a host "this definition was
	// built in code and can't round-trip to JSON" instead of silently
	// dropping a targeting dimension.
	Project() (CriterionProjection, bool)
	// key returns a canonical string identity for this criterion, used only
	// to detect duplicate rules (spec.md §4.3). Two criteria with the same
	// key are the same targeting constraint; specificity alone is not
	// enough, since e.g. Locale("en-US") and Locale("en-GB") have equal
	// specificity but target different contexts.
	key() string
}

// CriterionProjection is the wire-representable subset of a Criterion
// tree: everything decode.go can build, and the only shape Project ever
// returns ok=true for.
type CriterionProjection struct {
	Locales         []string
	Platforms       []string
	HasVersionRange bool
	VersionRange    VersionRange
	Axes            map[string][]string
}

func mergeProjections(a, b CriterionProjection) CriterionProjection {
	out := CriterionProjection{
		Locales:   append(append([]string{}, a.Locales...), b.Locales...),
		Platforms: append(append([]string{}, a.Platforms...), b.Platforms...),
	}
	if a.HasVersionRange {
		out.HasVersionRange, out.VersionRange = true, a.VersionRange
	}
	if b.HasVersionRange {
		out.HasVersionRange, out.VersionRange = true, b.VersionRange
	}
	if len(a.Axes) > 0 || len(b.Axes) > 0 {
		out.Axes = map[string][]string{}
		for k, v := range a.Axes {
			out.Axes[k] = v
		}
		for k, v := range b.Axes {
			out.Axes[k] = append(append([]string{}, out.Axes[k]...), v...)
		}
	}
	return out
}

// ---- Locale ----

type localeCriterion struct{ ids map[string]struct{} }

// Locale matches if the context's locale id is a member of ids.
func Locale(ids ...string) Criterion {
	return localeCriterion{ids: toSet(ids)}
}

func (l localeCriterion) matches(ctx Context) bool {
	id, ok := ctx.Locale()
	return ok && setContains(l.ids, id)
}

func (l localeCriterion) specificity() (int, int) { return 1, 0 }

func (l localeCriterion) Project() (CriterionProjection, bool) {
	return CriterionProjection{Locales: sortedKeys(l.ids)}, true
}

func (l localeCriterion) key() string { return "Locale" + joinSorted(l.ids) }

// ---- Platform ----

type platformCriterion struct{ ids map[string]struct{} }

// Platform matches if the context's platform id is a member of ids.
func Platform(ids ...string) Criterion {
	return platformCriterion{ids: toSet(ids)}
}

func (p platformCriterion) matches(ctx Context) bool {
	id, ok := ctx.Platform()
	return ok && setContains(p.ids, id)
}

func (p platformCriterion) specificity() (int, int) { return 1, 0 }

func (p platformCriterion) Project() (CriterionProjection, bool) {
	return CriterionProjection{Platforms: sortedKeys(p.ids)}, true
}

func (p platformCriterion) key() string { return "Platform" + joinSorted(p.ids) }

// ---- Version ----

type versionCriterion struct{ rng VersionRange }

// VersionIn matches if the context's version is contained in rng.
func VersionIn(rng VersionRange) Criterion {
	return versionCriterion{rng: rng}
}

func (v versionCriterion) matches(ctx Context) bool {
	ver, ok := ctx.AppVersion()
	return ok && v.rng.Contains(ver)
}

func (v versionCriterion) specificity() (int, int) {
	if v.rng.HasBounds() {
		return 1, 0
	}
	return 0, 0
}

func (v versionCriterion) Project() (CriterionProjection, bool) {
	return CriterionProjection{HasVersionRange: true, VersionRange: v.rng}, true
}

func (v versionCriterion) key() string {
	switch v.rng.Kind {
	case VersionRangeUnbounded:
		return "Version{unbounded}"
	case VersionRangeMinBound:
		return "Version{min:" + v.rng.Min.String() + "}"
	case VersionRangeMaxBound:
		return "Version{max:" + v.rng.Max.String() + "}"
	default:
		return "Version{min:" + v.rng.Min.String() + ",max:" + v.rng.Max.String() + "}"
	}
}

// ---- Axis ----

type axisCriterion struct {
	axisID string
	ids    map[string]struct{}
}

// AxisIn matches if at least one of the context's values for axisID is a
// member of ids. axisID must be registered (RegisterAxis) before any
// evaluation that reaches this criterion; an unregistered axis is a
// programming error, enforced here at construction via MustLookupAxis.
func AxisIn(axisID string, ids ...string) Criterion {
	MustLookupAxis(axisID) // fail fast at build time, not at evaluation time
	return axisCriterion{axisID: axisID, ids: toSet(ids)}
}

func (a axisCriterion) matches(ctx Context) bool {
	for _, v := range ctx.AxisValues(a.axisID) {
		if setContains(a.ids, v.AxisValueId()) {
			return true
		}
	}
	return false
}

func (a axisCriterion) specificity() (int, int) { return 1, 0 }

func (a axisCriterion) Project() (CriterionProjection, bool) {
	return CriterionProjection{Axes: map[string][]string{a.axisID: sortedKeys(a.ids)}}, true
}

func (a axisCriterion) key() string { return "Axis{" + a.axisID + "}" + joinSorted(a.ids) }

// ---- Extension ----

// ExtensionPredicate is a host-supplied boolean predicate over Context.
type ExtensionPredicate func(ctx Context) bool

type extensionCriterion struct {
	pred      ExtensionPredicate
	weight    int
	className string
}

// Extension wraps a host predicate with an explicit specificity weight
// (default 1 via ExtensionWeighted). className is surfaced in
// RuleExplanation for diagnostics (spec.md §3: "extension class name").
func Extension(className string, pred ExtensionPredicate) Criterion {
	return ExtensionWeighted(className, pred, 1)
}

// ExtensionWeighted is Extension with an explicit weight.
func ExtensionWeighted(className string, pred ExtensionPredicate, weight int) Criterion {
	if pred == nil {
		panic("konditional: Extension predicate must not be nil")
	}
	return extensionCriterion{pred: pred, weight: weight, className: className}
}

func (e extensionCriterion) matches(ctx Context) bool { return e.pred(ctx) }

func (e extensionCriterion) specificity() (int, int) { return 0, e.weight }

func (e extensionCriterion) Project() (CriterionProjection, bool) { return CriterionProjection{}, false }

// key identifies an Extension by its class name and the predicate's code
// pointer, not its behavior: two Extension criteria only collide as
// duplicates if they close over the exact same function value.
func (e extensionCriterion) key() string {
	return fmt.Sprintf("Extension{%s,%d,%d}", e.className, e.weight, reflect.ValueOf(e.pred).Pointer())
}

// ---- Guarded ----

// GuardEvidence witnesses that ctx can be viewed as satisfying some
// capability-restricted precondition before the inner criterion runs. It
// returns ok=false when the witness fails, in which case Guarded does not
// match regardless of the inner criterion.
type GuardEvidence func(ctx Context) (Context, bool)

type guardedCriterion struct {
	inner    Criterion
	evidence GuardEvidence
}

// Guarded lifts inner over a capability-restricted context, witnessed by
// evidence. It contributes only inner's specificity (the guard itself is a
// precondition, not a targeting dimension).
func Guarded(inner Criterion, evidence GuardEvidence) Criterion {
	return guardedCriterion{inner: inner, evidence: evidence}
}

func (g guardedCriterion) matches(ctx Context) bool {
	witnessed, ok := g.evidence(ctx)
	if !ok {
		return false
	}
	return g.inner.matches(witnessed)
}

func (g guardedCriterion) specificity() (int, int) { return g.inner.specificity() }

// Project always fails: a guard witnesses a runtime capability check that
// has no wire representation, so a Guarded criterion can never round-trip
// through the codec even when its inner criterion could on its own.
func (g guardedCriterion) Project() (CriterionProjection, bool) { return CriterionProjection{}, false }

func (g guardedCriterion) key() string {
	return fmt.Sprintf("Guarded{%d,%s}", reflect.ValueOf(g.evidence).Pointer(), g.inner.key())
}

// ---- All (AND) ----

type allCriterion struct{ children []Criterion }

// All AND-composes children. An empty All matches everything (the identity
// element spec.md §3 calls out explicitly).
func All(children ...Criterion) Criterion {
	return allCriterion{children: children}
}

func (a allCriterion) matches(ctx Context) bool {
	for _, c := range a.children {
		if !c.matches(ctx) {
			return false
		}
	}
	return true
}

func (a allCriterion) specificity() (int, int) {
	var base, ext int
	for _, c := range a.children {
		b, e := c.specificity()
		base += b
		ext += e
	}
	return base, ext
}

// Project merges every child's projection; any single non-projectable
// child (Extension, Guarded, a nested Any, a Not) makes the whole AND
// non-projectable, since dropping that child would silently widen the
// rule's targeting if it were re-decoded from the resulting JSON.
func (a allCriterion) Project() (CriterionProjection, bool) {
	out := CriterionProjection{}
	for _, c := range a.children {
		p, ok := c.Project()
		if !ok {
			return CriterionProjection{}, false
		}
		out = mergeProjections(out, p)
	}
	return out, true
}

func (a allCriterion) key() string {
	keys := make([]string, 0, len(a.children))
	for _, c := range a.children {
		keys = append(keys, c.key())
	}
	sort.Strings(keys)
	return "All{" + strings.Join(keys, "&") + "}"
}

// Specificity returns the total specificity of a criterion: base + extension
// weight, as defined in spec.md §4.2.
func Specificity(c Criterion) int {
	base, ext := c.specificity()
	return base + ext
}

func toSet(ids []string) map[string]struct{} {
	s := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func setContains(s map[string]struct{}, id string) bool {
	_, ok := s[id]
	return ok
}

// sortedKeys is used by the codec to emit deterministic, sorted string sets.
func sortedKeys(s map[string]struct{}) []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// joinSorted renders a set as a stable "{a,b,c}" fragment for use in
// criterion identity keys.
func joinSorted(s map[string]struct{}) string {
	return "{" + strings.Join(sortedKeys(s), ",") + "}"
}
