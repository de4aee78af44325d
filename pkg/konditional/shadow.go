package konditional

import "reflect"

// ShadowMismatchKind classifies one way a shadow evaluation can disagree
// with the primary one, per spec.md §4.7 step 4: a VALUE mismatch (the
// decoded values differ) is always checked; a DECISION mismatch (the same
// value was reached via a different Decision.Kind or rule) is opt-in,
// since two different rules legitimately producing the same value is not
// itself interesting to most hosts.
type ShadowMismatchKind string

const (
	ShadowMismatchValue    ShadowMismatchKind = "VALUE"
	ShadowMismatchDecision ShadowMismatchKind = "DECISION"
)

// ShadowOptions controls how EvaluateWithShadow behaves around a
// kill-switched baseline and around decision-level comparison, per
// spec.md §4.7 step 2 and step 4.
type ShadowOptions struct {
	// EvaluateCandidateWhenBaselineDisabled, when false (the default),
	// short-circuits the candidate evaluation entirely when the baseline
	// is disabled: a candidate can't diverge from a value that was never
	// really served, and evaluating it anyway wastes the eval cost on
	// every disabled request. Set true to still evaluate and compare the
	// candidate for its own sake (e.g. pre-launch soak testing).
	EvaluateCandidateWhenBaselineDisabled bool
	// IncludeDecisionMismatch additionally reports a ShadowMismatchDecision
	// when primary and shadow reach the same value through different
	// Decision.Kind/RuleIndex. Off by default: spec.md §4.7 treats equal
	// values as agreement regardless of which rule produced them.
	IncludeDecisionMismatch bool
}

// ShadowResult pairs the served (primary) evaluation with a shadow
// evaluation run against a second definition for the same context, per
// spec.md §4.7: "shadow mode runs a candidate definition alongside the
// live one, never serving its value, only comparing against it."
type ShadowResult[T any] struct {
	Primary EvaluationResult[T]
	Shadow  EvaluationResult[T]
	// Evaluated reports whether Shadow was actually computed. False when
	// ShadowOptions.EvaluateCandidateWhenBaselineDisabled is false and the
	// baseline was disabled — Shadow is then the zero value and must not
	// be read.
	Evaluated  bool
	Mismatches []ShadowMismatchKind
}

// Diverged reports whether any mismatch kind was recorded.
func (r ShadowResult[T]) Diverged() bool { return len(r.Mismatches) > 0 }

// baselineDisabled reports whether a Decision reflects a disabled
// baseline (inactive definition or kill-switched namespace) rather than
// genuine rule evaluation.
func baselineDisabled(d Decision) bool {
	return d.Kind == DecisionInactive || d.Kind == DecisionRegistryDisabled
}

// ShadowObserver receives a callback whenever a shadow evaluation diverges
// from the primary one. Implementations typically increment a metric and
// log the feature id, never the full context (spec.md §4.7: "divergence
// telemetry is aggregate, not per-user, to keep shadow mode safe to run on
// production traffic").
type ShadowObserver interface {
	ObserveShadowDivergence(feature FeatureId, primary, shadow Decision, mismatches []ShadowMismatchKind)
}

// noopShadowObserver discards every divergence. Used when a namespace has
// no shadow observer configured.
type noopShadowObserver struct{}

func (noopShadowObserver) ObserveShadowDivergence(FeatureId, Decision, Decision, []ShadowMismatchKind) {
}

// EvaluateWithShadow evaluates primary (the value actually served) and,
// unless opts short-circuits it, shadow (a candidate never served)
// against the same context, reporting how they disagree. When the
// baseline is disabled and opts.EvaluateCandidateWhenBaselineDisabled is
// false, the candidate is not evaluated at all and ShadowResult.Evaluated
// is false (spec.md §4.7 step 2).
func EvaluateWithShadow[T any](primary, shadow *FlagDefinition[T], ctx Context, opts ShadowOptions) (T, ShadowResult[T]) {
	p := EvaluateWithReason(primary, ctx)

	if baselineDisabled(p.Decision) && !opts.EvaluateCandidateWhenBaselineDisabled {
		return p.Value, ShadowResult[T]{Primary: p, Evaluated: false}
	}

	s := EvaluateWithReason(shadow, ctx)
	s.Mode = ModeShadow

	var mismatches []ShadowMismatchKind
	if !reflect.DeepEqual(p.Value, s.Value) {
		mismatches = append(mismatches, ShadowMismatchValue)
	}
	if opts.IncludeDecisionMismatch && (p.Decision.Kind != s.Decision.Kind || p.Decision.RuleIndex != s.Decision.RuleIndex) {
		mismatches = append(mismatches, ShadowMismatchDecision)
	}

	return p.Value, ShadowResult[T]{
		Primary:    p,
		Shadow:     s,
		Evaluated:  true,
		Mismatches: mismatches,
	}
}

// EvaluateWithShadowObserved is EvaluateWithShadow plus a callback: it
// notifies observer only on divergence, and always returns the primary
// value regardless of what the shadow definition would have produced.
func EvaluateWithShadowObserved[T any](primary, shadow *FlagDefinition[T], ctx Context, opts ShadowOptions, observer ShadowObserver) T {
	if observer == nil {
		observer = noopShadowObserver{}
	}
	value, result := EvaluateWithShadow(primary, shadow, ctx, opts)
	if result.Diverged() {
		observer.ObserveShadowDivergence(primary.Feature, result.Primary.Decision, result.Shadow.Decision, result.Mismatches)
	}
	return value
}
