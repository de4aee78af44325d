package konditional_test

import (
	"testing"

	"github.com/amichne/konditional/pkg/konditional"
)

type recordingShadowObserver struct {
	calls      int
	mismatches []konditional.ShadowMismatchKind
}

func (o *recordingShadowObserver) ObserveShadowDivergence(_ konditional.FeatureId, _, _ konditional.Decision, mismatches []konditional.ShadowMismatchKind) {
	o.calls++
	o.mismatches = mismatches
}

func TestEvaluateWithShadowReportsValueMismatch(t *testing.T) {
	feature := mustFeatureId(t, "app", "checkout")
	primary := konditional.NewFlagDefinition(feature, "control", "salt", true)
	shadow := konditional.NewFlagDefinition(feature, "candidate", "salt", true)

	ctx := konditional.NewContext()
	value, result := konditional.EvaluateWithShadow(primary, shadow, ctx, konditional.ShadowOptions{})
	if value != "control" {
		t.Fatalf("expected the primary value to be served, got %q", value)
	}
	if !result.Evaluated {
		t.Fatal("expected the candidate to be evaluated when the baseline is active")
	}
	if !result.Diverged() {
		t.Fatal("expected a value mismatch between differing defaults")
	}
	if len(result.Mismatches) != 1 || result.Mismatches[0] != konditional.ShadowMismatchValue {
		t.Fatalf("expected exactly one VALUE mismatch, got %v", result.Mismatches)
	}
}

func TestEvaluateWithShadowAgreesOnEqualValues(t *testing.T) {
	feature := mustFeatureId(t, "app", "checkout")
	primary := konditional.NewFlagDefinition(feature, "control", "salt", true)
	shadow := konditional.NewFlagDefinition(feature, "control", "salt", true)

	_, result := konditional.EvaluateWithShadow(primary, shadow, konditional.NewContext(), konditional.ShadowOptions{})
	if result.Diverged() {
		t.Fatalf("expected no mismatch when both definitions serve the same value, got %v", result.Mismatches)
	}
}

func TestEvaluateWithShadowSkipsCandidateWhenBaselineDisabledByDefault(t *testing.T) {
	feature := mustFeatureId(t, "app", "checkout")
	primary := konditional.NewFlagDefinition(feature, "control", "salt", false)
	shadow := konditional.NewFlagDefinition(feature, "candidate", "salt", true)

	value, result := konditional.EvaluateWithShadow(primary, shadow, konditional.NewContext(), konditional.ShadowOptions{})
	if value != "control" {
		t.Fatalf("expected the disabled baseline's default to be served, got %q", value)
	}
	if result.Evaluated {
		t.Fatal("expected the candidate not to be evaluated when the baseline is disabled and the opt-out is off")
	}
	if result.Diverged() {
		t.Fatal("expected no mismatch to be reported when the candidate was never evaluated")
	}
}

func TestEvaluateWithShadowEvaluatesCandidateWhenOptedIn(t *testing.T) {
	feature := mustFeatureId(t, "app", "checkout")
	primary := konditional.NewFlagDefinition(feature, "control", "salt", false)
	shadow := konditional.NewFlagDefinition(feature, "candidate", "salt", true)

	opts := konditional.ShadowOptions{EvaluateCandidateWhenBaselineDisabled: true}
	_, result := konditional.EvaluateWithShadow(primary, shadow, konditional.NewContext(), opts)
	if !result.Evaluated {
		t.Fatal("expected the candidate to be evaluated when the opt-out is enabled")
	}
	if !result.Diverged() {
		t.Fatal("expected a value mismatch once the disabled-baseline candidate is actually compared")
	}
}

func TestEvaluateWithShadowDecisionMismatchIsOptIn(t *testing.T) {
	feature := mustFeatureId(t, "app", "checkout")
	primary := konditional.NewFlagDefinition(feature, "control", "salt", true)
	primary.AddRule(konditional.NewRule(konditional.All(), konditional.Everybody), "control")

	shadow := konditional.NewFlagDefinition(feature, "control", "salt", true)

	_, withoutOption := konditional.EvaluateWithShadow(primary, shadow, konditional.NewContext(), konditional.ShadowOptions{})
	if withoutOption.Diverged() {
		t.Fatalf("expected no mismatch without IncludeDecisionMismatch, got %v", withoutOption.Mismatches)
	}

	_, withOption := konditional.EvaluateWithShadow(primary, shadow, konditional.NewContext(), konditional.ShadowOptions{IncludeDecisionMismatch: true})
	if !withOption.Diverged() || withOption.Mismatches[0] != konditional.ShadowMismatchDecision {
		t.Fatalf("expected a DECISION mismatch with IncludeDecisionMismatch set, got %v", withOption.Mismatches)
	}
}

func TestEvaluateWithShadowObservedNotifiesOnlyOnDivergence(t *testing.T) {
	feature := mustFeatureId(t, "app", "checkout")
	primary := konditional.NewFlagDefinition(feature, "control", "salt", true)
	agreeing := konditional.NewFlagDefinition(feature, "control", "salt", true)
	diverging := konditional.NewFlagDefinition(feature, "candidate", "salt", true)

	observer := &recordingShadowObserver{}
	konditional.EvaluateWithShadowObserved(primary, agreeing, konditional.NewContext(), konditional.ShadowOptions{}, observer)
	if observer.calls != 0 {
		t.Fatalf("expected no callback when primary and shadow agree, got %d calls", observer.calls)
	}

	konditional.EvaluateWithShadowObserved(primary, diverging, konditional.NewContext(), konditional.ShadowOptions{}, observer)
	if observer.calls != 1 {
		t.Fatalf("expected exactly one callback on divergence, got %d calls", observer.calls)
	}
	if len(observer.mismatches) != 1 || observer.mismatches[0] != konditional.ShadowMismatchValue {
		t.Fatalf("expected the VALUE mismatch kind to be passed through, got %v", observer.mismatches)
	}
}
