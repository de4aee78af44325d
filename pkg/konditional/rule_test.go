package konditional_test

import (
	"testing"

	"github.com/amichne/konditional/pkg/konditional"
)

func TestCanonicalRuleOrder(t *testing.T) {
	// Three rules with decreasing specificity; adding them out of order
	// should still evaluate most-specific first.
	def := konditional.NewFlagDefinition(mustFeatureId(t, "app", "theme"), "default", "salt", true)
	def.AddRule(konditional.NewRule(konditional.All(), konditional.Everybody), "least-specific")
	def.AddRule(konditional.NewRule(konditional.Locale("en-US"), konditional.Everybody), "locale-only")
	def.AddRule(konditional.NewRule(
		konditional.All(konditional.Locale("en-US"), konditional.Platform("IOS")),
		konditional.Everybody,
	), "locale-and-platform")

	ctx := konditional.NewContext().WithLocale("en-US").WithPlatform("IOS")
	got := konditional.Evaluate(def, ctx)
	if got != "locale-and-platform" {
		t.Fatalf("expected the most specific matching rule to win, got %q", got)
	}
}

func TestDuplicateRulePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected AddRule to panic on a duplicate rule signature")
		}
	}()
	def := konditional.NewFlagDefinition(mustFeatureId(t, "app", "theme"), "default", "salt", true)
	def.AddRule(konditional.NewRule(konditional.Locale("en-US"), konditional.RampUp(50)), "a")
	def.AddRule(konditional.NewRule(konditional.Locale("en-US"), konditional.RampUp(50)), "b")
}

func TestInsertionOrderTieBreak(t *testing.T) {
	def := konditional.NewFlagDefinition(mustFeatureId(t, "app", "theme"), "default", "salt", true)
	// Same specificity (0) and same note ("") — insertion order decides the
	// canonical order. The first rule is then excluded by its rollout, so
	// evaluation falls through to the second.
	def.AddRule(konditional.NewRule(konditional.Any(), konditional.Nobody), "first")
	def.AddRule(konditional.NewRule(konditional.Guarded(konditional.Any(), func(c konditional.Context) (konditional.Context, bool) {
		return c, true
	}), konditional.Everybody), "second")
	if def.Rules[0].Value != "first" {
		t.Fatalf("expected equal-specificity, equal-note rules to keep insertion order, got %q first", def.Rules[0].Value)
	}

	ctx := konditional.NewContext()
	got := konditional.Evaluate(def, ctx)
	if got != "second" {
		t.Fatalf("expected the rollout-included rule to win regardless of insertion order, got %q", got)
	}
}

func mustFeatureId(t *testing.T, seed, key string) konditional.FeatureId {
	t.Helper()
	id, err := konditional.NewFeatureId(seed, key)
	if err != nil {
		t.Fatalf("NewFeatureId: %v", err)
	}
	return id
}
