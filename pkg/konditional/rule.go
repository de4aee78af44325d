package konditional

import (
	"fmt"
	"sort"
)

// Rule binds targeting criteria to a rollout/allowlist gate. The value it
// yields lives alongside it in FlagDefinition.Rules (see ruleWithValue)
// rather than on Rule itself, so Rule stays type-parameter-free and the
// canonicalisation logic in sortRules can be shared across every T.
type Rule struct {
	Targeting Criterion
	Note      string
	Rollout   RampUp
	Allowlist map[StableId]struct{}

	insertionIndex int
}

// NewRule builds a rule with the given targeting and rollout, no note, and
// an empty allowlist. Use RuleOption functions to customize it.
func NewRule(targeting Criterion, rollout RampUp, opts ...RuleOption) Rule {
	r := Rule{Targeting: targeting, Rollout: rollout, Allowlist: map[StableId]struct{}{}}
	for _, opt := range opts {
		opt(&r)
	}
	return r
}

// RuleOption customizes a Rule at construction time.
type RuleOption func(*Rule)

// WithNote sets the rule's tie-break note.
func WithNote(note string) RuleOption {
	return func(r *Rule) { r.Note = note }
}

// WithAllowlist adds stable ids that bypass this rule's rollout once its
// criteria match.
func WithAllowlist(ids ...StableId) RuleOption {
	return func(r *Rule) {
		if r.Allowlist == nil {
			r.Allowlist = map[StableId]struct{}{}
		}
		for _, id := range ids {
			r.Allowlist[id] = struct{}{}
		}
	}
}

// specificity returns the rule's total targeting specificity.
func (r Rule) specificity() int { return Specificity(r.Targeting) }

// signature is the canonical identity used to reject duplicate rules at
// FlagDefinition build time: targeting identity + note + rollout + allowlist
// membership. Two rules with the same signature are "the same rule" per
// spec.md §4.3 even if they were constructed independently. Targeting
// identity, not just specificity, is what makes this sound: Locale("en-US")
// and Platform("IOS") both have specificity (1,0) but are obviously
// different rules, so collapsing on specificity alone would wrongly reject
// them as duplicates.
type ruleSignature struct {
	targetingKey string
	note         string
	rollout      RampUp
	allowKey     string
}

func (r Rule) signature() ruleSignature {
	ids := make([]string, 0, len(r.Allowlist))
	for id := range r.Allowlist {
		ids = append(ids, id.Hex())
	}
	sort.Strings(ids)
	key := ""
	for _, id := range ids {
		key += id + ","
	}
	return ruleSignature{
		targetingKey: r.Targeting.key(),
		note:         r.Note,
		rollout:      r.Rollout,
		allowKey:     key,
	}
}

// ruleWithValue pairs a Rule with the value it yields when matched.
type ruleWithValue[T any] struct {
	Rule  Rule
	Value T
}

// FlagDefinition is the immutable definition of one feature within a
// namespace: its default, salt, active flag, rollout allowlist, and its
// rules in canonical order (spec.md §3).
type FlagDefinition[T any] struct {
	Feature          FeatureId
	Default          T
	Salt             string
	Active           bool
	RolloutAllowlist map[StableId]struct{}
	Rules            []ruleWithValue[T]
}

// NewFlagDefinition builds a FlagDefinition with no rules and an empty
// rollout allowlist. Rules are added with AddRule, which canonicalises rule
// order and panics on duplicate rule signatures — a build-time programming
// error, not a runtime condition (spec.md §3: "identical rules are a
// programming error rejected at build time").
func NewFlagDefinition[T any](feature FeatureId, def T, salt string, active bool) *FlagDefinition[T] {
	return &FlagDefinition[T]{
		Feature:          feature,
		Default:          def,
		Salt:             salt,
		Active:           active,
		RolloutAllowlist: map[StableId]struct{}{},
	}
}

// WithRolloutAllowlist sets the flag-level allowlist that bypasses rollout
// for every rule (spec.md §4.4 step 7: "rule.allowlist ∪ definition.rollout_allowlist").
func (f *FlagDefinition[T]) WithRolloutAllowlist(ids ...StableId) *FlagDefinition[T] {
	for _, id := range ids {
		f.RolloutAllowlist[id] = struct{}{}
	}
	return f
}

// AddRule appends a rule/value pair, then re-canonicalises. Insertion order
// is preserved as a tie-break for rules whose specificity and note are
// identical (spec.md §4.3).
func (f *FlagDefinition[T]) AddRule(rule Rule, value T) *FlagDefinition[T] {
	rule.insertionIndex = len(f.Rules)
	f.Rules = append(f.Rules, ruleWithValue[T]{Rule: rule, Value: value})
	sortRules(f.Rules)
	if err := checkDuplicateRules(f.Feature, f.Rules); err != nil {
		panic(fmt.Sprintf("konditional: %v", err))
	}
	return f
}

// DuplicateRuleError reports that two rules in the same FlagDefinition
// canonicalised to the same signature (same targeting, note, rollout,
// and allowlist membership) — a programming error in code-defined
// definitions, and a ParseError::DuplicateRule at the codec boundary
// (spec.md §7).
type DuplicateRuleError struct {
	Feature     FeatureId
	FirstIndex  int
	SecondIndex int
}

func (e *DuplicateRuleError) Error() string {
	return fmt.Sprintf("feature %s: duplicate rule at indices %d and %d", e.Feature, e.FirstIndex, e.SecondIndex)
}

// sortRules sorts by (-specificity, note, insertion index) — the canonical
// order from spec.md §4.3. It is generic-free at the call site via a small
// shim, since Go doesn't let a method on a generic receiver be passed
// directly to sort.Slice's less func in a reusable way.
func sortRules[T any](rules []ruleWithValue[T]) {
	sort.SliceStable(rules, func(i, j int) bool {
		si, sj := rules[i].Rule.specificity(), rules[j].Rule.specificity()
		if si != sj {
			return si > sj
		}
		if rules[i].Rule.Note != rules[j].Rule.Note {
			return rules[i].Rule.Note < rules[j].Rule.Note
		}
		return rules[i].Rule.insertionIndex < rules[j].Rule.insertionIndex
	})
}

func checkDuplicateRules[T any](feature FeatureId, rules []ruleWithValue[T]) error {
	seen := map[ruleSignature]int{}
	for _, rv := range rules {
		sig := rv.Rule.signature()
		if idx, ok := seen[sig]; ok {
			return &DuplicateRuleError{Feature: feature, FirstIndex: idx, SecondIndex: rv.Rule.insertionIndex}
		}
		seen[sig] = rv.Rule.insertionIndex
	}
	return nil
}
