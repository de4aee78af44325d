// Package legacy adapts the admin surface's older {if, then} JSON rule
// shape — the one pkg/dsl.Compiler used to turn into a CompiledPlan — into
// canonical konditional.Criterion trees and Rule values. It exists so
// cmd/control-plane can keep ingesting flags authored before the wire
// format of spec.md §6.2 existed, without the codec package itself having
// to understand two document shapes.
package legacy

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/amichne/konditional/pkg/konditional"
)

// RuleDefinition is the old admin-surface rule shape: an `if` condition
// tree and a `then` action, the same two fields pkg/dsl.RuleDefinition
// carried.
type RuleDefinition struct {
	If   any `json:"if"`
	Then any `json:"then"`
}

// OperatorFunc compares a context attribute's value against a rule's
// literal value.
type OperatorFunc func(left, right any) bool

// Importer compiles legacy RuleDefinitions against a fixed operator
// vocabulary, same as pkg/dsl.Compiler's default set.
type Importer struct {
	operators map[string]OperatorFunc
}

// NewImporter returns an Importer with the default operator set: eq, neq,
// in, nin, lt, gt, lte, gte, contains, regex.
func NewImporter() *Importer {
	imp := &Importer{operators: make(map[string]OperatorFunc)}
	imp.registerDefaultOperators()
	return imp
}

// WithOperator registers or overrides a named comparison operator.
func (imp *Importer) WithOperator(name string, fn OperatorFunc) *Importer {
	imp.operators[name] = fn
	return imp
}

func (imp *Importer) registerDefaultOperators() {
	imp.operators["eq"] = func(left, right any) bool {
		return fmt.Sprintf("%v", left) == fmt.Sprintf("%v", right)
	}
	imp.operators["neq"] = func(left, right any) bool {
		return fmt.Sprintf("%v", left) != fmt.Sprintf("%v", right)
	}
	imp.operators["in"] = func(left, right any) bool {
		rightArray, ok := right.([]any)
		if !ok {
			return false
		}
		leftStr := fmt.Sprintf("%v", left)
		for _, item := range rightArray {
			if fmt.Sprintf("%v", item) == leftStr {
				return true
			}
		}
		return false
	}
	imp.operators["nin"] = func(left, right any) bool {
		return !imp.operators["in"](left, right)
	}
	imp.operators["lt"] = func(left, right any) bool {
		l, lok := toFloat64(left)
		r, rok := toFloat64(right)
		return lok && rok && l < r
	}
	imp.operators["gt"] = func(left, right any) bool {
		l, lok := toFloat64(left)
		r, rok := toFloat64(right)
		return lok && rok && l > r
	}
	imp.operators["lte"] = func(left, right any) bool {
		l, lok := toFloat64(left)
		r, rok := toFloat64(right)
		return lok && rok && l <= r
	}
	imp.operators["gte"] = func(left, right any) bool {
		l, lok := toFloat64(left)
		r, rok := toFloat64(right)
		return lok && rok && l >= r
	}
	imp.operators["contains"] = func(left, right any) bool {
		return strings.Contains(fmt.Sprintf("%v", left), fmt.Sprintf("%v", right))
	}
	imp.operators["regex"] = func(left, right any) bool {
		matched, err := regexp.MatchString(fmt.Sprintf("%v", right), fmt.Sprintf("%v", left))
		return err == nil && matched
	}
}

func toFloat64(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	case string:
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

// compileCriterion turns an `if` clause into a Criterion tree. A leaf
// condition becomes an Extension predicate reading the named context
// attribute (ctx.Attribute), since arbitrary attribute/operator/value
// triples have no place in the canonical Locale/Platform/Version/Axis
// vocabulary — they are exactly what Extension exists for.
func (imp *Importer) compileCriterion(ifClause any) (konditional.Criterion, error) {
	if ifClause == nil {
		return konditional.All(), nil
	}
	switch v := ifClause.(type) {
	case map[string]any:
		return imp.compileConditionMap(v)
	case []any:
		return imp.compileConditionArray(v)
	default:
		return nil, fmt.Errorf("legacy: unsupported condition type %T", v)
	}
}

func (imp *Importer) compileConditionMap(condMap map[string]any) (konditional.Criterion, error) {
	if and, ok := condMap["and"]; ok {
		return imp.compileCriterion(and)
	}
	if or, ok := condMap["or"]; ok {
		children, err := imp.compileConditionList(or)
		if err != nil {
			return nil, err
		}
		return konditional.Any(children...), nil
	}

	attribute, hasAttr := condMap["attribute"].(string)
	operator, hasOp := condMap["operator"].(string)
	value, hasValue := condMap["value"]
	if !hasAttr || !hasOp || !hasValue {
		return nil, fmt.Errorf("legacy: condition must have attribute, operator, and value")
	}
	fn, ok := imp.operators[operator]
	if !ok {
		return nil, fmt.Errorf("legacy: unsupported operator %q", operator)
	}

	className := fmt.Sprintf("legacy.%s(%s)", operator, attribute)
	return konditional.Extension(className, func(ctx konditional.Context) bool {
		actual, ok := ctx.Attribute(attribute)
		if !ok {
			return false
		}
		return fn(actual, value)
	}), nil
}

func (imp *Importer) compileConditionArray(condArray []any) (konditional.Criterion, error) {
	children, err := imp.compileConditionList(condArray)
	if err != nil {
		return nil, err
	}
	return konditional.All(children...), nil
}

func (imp *Importer) compileConditionList(clause any) ([]konditional.Criterion, error) {
	items, ok := clause.([]any)
	if !ok {
		return nil, fmt.Errorf("legacy: expected a condition array, got %T", clause)
	}
	criteria := make([]konditional.Criterion, 0, len(items))
	for i, item := range items {
		c, err := imp.compileCriterion(item)
		if err != nil {
			return nil, fmt.Errorf("legacy: condition %d: %w", i, err)
		}
		criteria = append(criteria, c)
	}
	return criteria, nil
}

// legacyVariation is one entry of a `then.rollout.variations` block: a
// literal value plus its traffic weight.
type legacyVariation struct {
	Value  json.RawMessage `json:"value"`
	Weight float64         `json:"weight"`
}

type legacyRollout struct {
	Variations []legacyVariation `json:"variations"`
}

type legacyThen struct {
	Value   json.RawMessage `json:"value"`
	Rollout *legacyRollout  `json:"rollout"`
}

// ImportFlag compiles a full legacy rule list into a FlagDefinition[T].
// Each RuleDefinition's `if` becomes one Criterion; its `then` becomes
// either a single rule serving one value at 100% (a plain {"value": ...}
// action) or a cascade of rules, one per rollout variation, whose RampUp
// thresholds are the variation weights' cumulative fractions — the same
// contiguous bucket-range allocation pkg/dsl.compileRollout computed via
// explicit StartBucket/EndBucket, re-expressed as nested threshold checks
// so the canonical engine's "first rollout-included rule wins" rule
// reproduces it without the engine needing to know about bucket ranges at
// all. The last variation is always forced to Everybody, closing any gap
// left by floating-point rounding.
func ImportFlag[T any](imp *Importer, feature konditional.FeatureId, salt string, active bool, defaultValue T, rules []RuleDefinition) (*konditional.FlagDefinition[T], error) {
	def := konditional.NewFlagDefinition(feature, defaultValue, salt, active)

	for i, ruleDef := range rules {
		targeting, err := imp.compileCriterion(ruleDef.If)
		if err != nil {
			return nil, fmt.Errorf("legacy: rule %d: %w", i, err)
		}

		thenJSON, err := json.Marshal(ruleDef.Then)
		if err != nil {
			return nil, fmt.Errorf("legacy: rule %d: re-marshaling then clause: %w", i, err)
		}

		// A bare scalar `then` (the old compiler's "direct variation
		// assignment") decodes straight into T; an object `then` carries
		// either {"value": ...} or {"rollout": {...}}.
		if _, isObject := ruleDef.Then.(map[string]any); !isObject {
			val, err := decodeValue[T](thenJSON)
			if err != nil {
				return nil, fmt.Errorf("legacy: rule %d: %w", i, err)
			}
			def.AddRule(konditional.NewRule(targeting, konditional.Everybody, konditional.WithNote(fmt.Sprintf("legacy-rule-%d", i))), val)
			continue
		}

		var then legacyThen
		if err := json.Unmarshal(thenJSON, &then); err != nil {
			return nil, fmt.Errorf("legacy: rule %d: unsupported then clause shape: %w", i, err)
		}

		switch {
		case then.Rollout != nil:
			if err := appendRolloutRules(def, targeting, i, then.Rollout.Variations); err != nil {
				return nil, fmt.Errorf("legacy: rule %d: %w", i, err)
			}
		case then.Value != nil:
			val, err := decodeValue[T](then.Value)
			if err != nil {
				return nil, fmt.Errorf("legacy: rule %d: %w", i, err)
			}
			def.AddRule(konditional.NewRule(targeting, konditional.Everybody, konditional.WithNote(fmt.Sprintf("legacy-rule-%d", i))), val)
		default:
			return nil, fmt.Errorf("legacy: rule %d: then clause must carry a value or a rollout", i)
		}
	}

	return def, nil
}

// appendRolloutRules expands one `then.rollout` block into len(variations)
// rules sharing targeting. Their canonical order must follow declaration
// order (variation 0's threshold checked first, then variation 1's wider
// threshold, and so on) for the cascading-threshold trick below to
// reproduce pkg/dsl's contiguous bucket ranges; relying on Rule.Note for
// that would break past 9 variations (lexical "10" sorts before "2"), so
// each variation gets a strictly decreasing specificity bump instead via a
// same-class Extension whose weight is literally its position in the
// cascade — specificity, not note text, drives canonical order here.
func appendRolloutRules[T any](def *konditional.FlagDefinition[T], targeting konditional.Criterion, ruleIndex int, variations []legacyVariation) error {
	if len(variations) == 0 {
		return fmt.Errorf("rollout must have at least one variation")
	}
	var total float64
	for _, v := range variations {
		if v.Weight < 0 {
			return fmt.Errorf("variation weight must be non-negative")
		}
		total += v.Weight
	}
	if total <= 0 {
		return fmt.Errorf("rollout total weight must be positive")
	}

	className := fmt.Sprintf("legacy.cascade.%d", ruleIndex)
	cumulative := 0.0
	for i, v := range variations {
		val, err := decodeValue[T](v.Value)
		if err != nil {
			return fmt.Errorf("variation %d: %w", i, err)
		}
		cumulative += v.Weight
		rampUp := konditional.RampUp(cumulative / total * 100)
		if i == len(variations)-1 {
			rampUp = konditional.Everybody
		}
		ordering := konditional.ExtensionWeighted(className, func(konditional.Context) bool { return true }, len(variations)-i)
		variationTargeting := konditional.All(targeting, ordering)
		note := fmt.Sprintf("legacy-rule-%d-variation-%d", ruleIndex, i)
		def.AddRule(konditional.NewRule(variationTargeting, rampUp, konditional.WithNote(note)), val)
	}
	return nil
}

func decodeValue[T any](raw json.RawMessage) (T, error) {
	var val T
	if err := json.Unmarshal(raw, &val); err != nil {
		return val, fmt.Errorf("decoding value: %w", err)
	}
	return val, nil
}
