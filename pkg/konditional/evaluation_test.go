package konditional_test

import (
	"testing"

	"github.com/amichne/konditional/pkg/konditional"
)

func TestEvaluateInactiveAlwaysServesDefault(t *testing.T) {
	def := konditional.NewFlagDefinition(mustFeatureId(t, "app", "checkout"), "control", "salt", false)
	def.AddRule(konditional.NewRule(konditional.All(), konditional.Everybody), "treatment")

	ctx := konditional.NewContext().WithStableId(konditional.StableIdOf("user-1"))
	result := konditional.EvaluateWithReason(def, ctx)
	if result.Value != "control" {
		t.Fatalf("expected default %q for inactive definition, got %q", "control", result.Value)
	}
	if result.Decision.Kind != konditional.DecisionInactive {
		t.Fatalf("expected DecisionInactive, got %v", result.Decision.Kind)
	}
}

func TestEvaluateFallsThroughToDefaultWhenNoRuleMatches(t *testing.T) {
	def := konditional.NewFlagDefinition(mustFeatureId(t, "app", "checkout"), "control", "salt", true)
	def.AddRule(konditional.NewRule(konditional.Locale("en-US"), konditional.Everybody), "treatment")

	ctx := konditional.NewContext().WithLocale("fr-FR")
	result := konditional.EvaluateWithReason(def, ctx)
	if result.Value != "control" {
		t.Fatalf("expected default when no rule's targeting matches, got %q", result.Value)
	}
	if result.Decision.Kind != konditional.DecisionDefault {
		t.Fatalf("expected DecisionDefault, got %v", result.Decision.Kind)
	}
}

func TestEvaluateAllowlistShortCircuitsRollout(t *testing.T) {
	id := konditional.StableIdOf("allow-me")
	def := konditional.NewFlagDefinition(mustFeatureId(t, "app", "checkout"), "control", "salt", true)
	def.AddRule(konditional.NewRule(
		konditional.All(),
		konditional.Nobody,
		konditional.WithAllowlist(id),
	), "treatment")

	ctx := konditional.NewContext().WithStableId(id)
	result := konditional.EvaluateWithReason(def, ctx)
	if result.Value != "treatment" {
		t.Fatalf("expected allowlisted stable id to bypass a 0%% rollout, got %q", result.Value)
	}
	if !result.Trace[0].AllowlistHit {
		t.Fatal("expected trace to record the allowlist hit")
	}
}

func TestEvaluateDefinitionLevelAllowlistAppliesToEveryRule(t *testing.T) {
	id := konditional.StableIdOf("vip")
	def := konditional.NewFlagDefinition(mustFeatureId(t, "app", "checkout"), "control", "salt", true)
	def.WithRolloutAllowlist(id)
	def.AddRule(konditional.NewRule(konditional.All(), konditional.Nobody), "treatment")

	ctx := konditional.NewContext().WithStableId(id)
	got := konditional.Evaluate(def, ctx)
	if got != "treatment" {
		t.Fatalf("expected definition-level allowlist to bypass rollout, got %q", got)
	}
}

func TestEvaluateIsDeterministicAcrossRepeatedCalls(t *testing.T) {
	def := konditional.NewFlagDefinition(mustFeatureId(t, "app", "checkout"), "control", "salt", true)
	def.AddRule(konditional.NewRule(konditional.All(), konditional.RampUp(37)), "treatment")

	ctx := konditional.NewContext().WithStableId(konditional.StableIdOf("repeat-me"))
	first := konditional.Evaluate(def, ctx)
	for i := 0; i < 25; i++ {
		if got := konditional.Evaluate(def, ctx); got != first {
			t.Fatalf("evaluation is not deterministic: got %q on call %d, first was %q", got, i, first)
		}
	}
}

func TestEvaluateMissingStableIdUsesFixedBucket(t *testing.T) {
	def := konditional.NewFlagDefinition(mustFeatureId(t, "app", "checkout"), "control", "salt", true)
	// 99.98% is just below the fixed no-stable-id bucket (9999/10000), so an
	// anonymous context must still fall through to Default.
	def.AddRule(konditional.NewRule(konditional.All(), konditional.RampUp(99.98)), "treatment")

	got := konditional.Evaluate(def, konditional.NewContext())
	if got != "control" {
		t.Fatalf("expected an anonymous context to miss a sub-100%% rollout, got %q", got)
	}
}

func TestEvaluateWithReasonReportsModeAndDuration(t *testing.T) {
	def := konditional.NewFlagDefinition(mustFeatureId(t, "app", "checkout"), "control", "salt", true)
	ctx := konditional.NewContext()
	result := konditional.EvaluateWithReason(def, ctx)
	if result.Mode != konditional.ModeNormal {
		t.Fatalf("expected ModeNormal, got %v", result.Mode)
	}
	if result.DurationNanos < 0 {
		t.Fatalf("expected a non-negative duration, got %d", result.DurationNanos)
	}
}

func TestEvaluateSkippedByRolloutReportsFirstGatedRule(t *testing.T) {
	id := konditional.StableIdOf("gated-user")
	def := konditional.NewFlagDefinition(mustFeatureId(t, "app", "checkout"), "control", "salt", true)
	def.AddRule(konditional.NewRule(konditional.All(), konditional.Nobody), "first-gate")
	def.AddRule(konditional.NewRule(konditional.All(), konditional.Nobody), "second-gate")

	ctx := konditional.NewContext().WithStableId(id)
	result := konditional.EvaluateWithReason(def, ctx)
	if result.Decision.Kind != konditional.DecisionDefault {
		t.Fatalf("expected DecisionDefault when every rule is rollout-gated out, got %v", result.Decision.Kind)
	}
	if result.SkippedByRollout == nil {
		t.Fatal("expected SkippedByRollout to report the first gated rule")
	}
	if result.SkippedByRollout.Index != 0 {
		t.Fatalf("expected the first rule (index 0) to be reported as skipped, got index %d", result.SkippedByRollout.Index)
	}
}

func TestEvaluateTraceRecordsEveryRuleConsidered(t *testing.T) {
	def := konditional.NewFlagDefinition(mustFeatureId(t, "app", "checkout"), "control", "salt", true)
	def.AddRule(konditional.NewRule(konditional.Locale("en-US"), konditional.Everybody), "en-rule")
	def.AddRule(konditional.NewRule(konditional.Locale("fr-FR"), konditional.Everybody), "fr-rule")

	ctx := konditional.NewContext().WithLocale("fr-FR")
	result := konditional.EvaluateWithReason(def, ctx)
	if len(result.Trace) != 2 {
		t.Fatalf("expected a trace entry per rule, got %d", len(result.Trace))
	}
	if result.Trace[0].TargetingMatch {
		t.Fatal("expected the en-US rule not to match an fr-FR context")
	}
	if !result.Trace[1].TargetingMatch || !result.Trace[1].RolloutIncluded {
		t.Fatal("expected the fr-FR rule to match and win")
	}
}
