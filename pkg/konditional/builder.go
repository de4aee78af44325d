package konditional

import (
	"sort"
	"strings"
)

// Any OR-composes children: it matches if at least one child matches. Its
// specificity is the minimum of its children's specificity, since an OR is
// never more specific a constraint than its loosest disjunct (spec.md
// §4.2's note that "OR can only dilute, never sharpen, a match").
func Any(children ...Criterion) Criterion {
	return anyCriterion{children: children}
}

type anyCriterion struct{ children []Criterion }

func (a anyCriterion) matches(ctx Context) bool {
	for _, c := range a.children {
		if c.matches(ctx) {
			return true
		}
	}
	return false
}

func (a anyCriterion) Project() (CriterionProjection, bool) { return CriterionProjection{}, false }

func (a anyCriterion) key() string {
	keys := make([]string, 0, len(a.children))
	for _, c := range a.children {
		keys = append(keys, c.key())
	}
	sort.Strings(keys)
	return "Any{" + strings.Join(keys, "|") + "}"
}

func (a anyCriterion) specificity() (int, int) {
	if len(a.children) == 0 {
		return 0, 0
	}
	minBase, minExt := -1, -1
	for _, c := range a.children {
		b, e := c.specificity()
		if minBase == -1 || b+e < minBase+minExt {
			minBase, minExt = b, e
		}
	}
	return minBase, minExt
}

// Not negates inner. It contributes no specificity: excluding a dimension
// is a weaker claim than targeting one, so it never wins a tie-break
// against a rule that positively targets something.
func Not(inner Criterion) Criterion {
	return notCriterion{inner: inner}
}

type notCriterion struct{ inner Criterion }

func (n notCriterion) matches(ctx Context) bool             { return !n.inner.matches(ctx) }
func (n notCriterion) specificity() (int, int)              { return 0, 0 }
func (n notCriterion) Project() (CriterionProjection, bool) { return CriterionProjection{}, false }
func (n notCriterion) key() string                          { return "Not{" + n.inner.key() + "}" }

// RulesBuilder is a fluent, type-erasure-free way to assemble a
// FlagDefinition's rules in code, as an alternative to chaining AddRule
// calls directly. It defers canonicalisation to BuildInto, so rules can be
// appended in whatever order is convenient to write.
type RulesBuilder[T any] struct {
	entries []ruleWithValue[T]
}

// NewRulesBuilder returns an empty builder.
func NewRulesBuilder[T any]() *RulesBuilder[T] {
	return &RulesBuilder[T]{}
}

// Rule appends one rule/value pair and returns the builder for chaining.
func (b *RulesBuilder[T]) Rule(targeting Criterion, rollout RampUp, value T, opts ...RuleOption) *RulesBuilder[T] {
	r := NewRule(targeting, rollout, opts...)
	r.insertionIndex = len(b.entries)
	b.entries = append(b.entries, ruleWithValue[T]{Rule: r, Value: value})
	return b
}

// BuildInto appends every accumulated rule onto def, in the order they
// were added to the builder, then lets FlagDefinition's own
// canonicalisation and duplicate detection run once at the end.
func (b *RulesBuilder[T]) BuildInto(def *FlagDefinition[T]) *FlagDefinition[T] {
	for _, e := range b.entries {
		def.AddRule(e.Rule, e.Value)
	}
	return def
}
