package konditional_test

import (
	"testing"

	"github.com/amichne/konditional/pkg/konditional"
)

type testAxisValue string

func (v testAxisValue) AxisValueId() string { return string(v) }

// matches evaluates a single-rule definition to observe whether c's
// targeting matches ctx, since Criterion.matches is unexported: the
// evaluation engine is the only public surface that exercises it.
func matches(t *testing.T, c konditional.Criterion, ctx konditional.Context) bool {
	t.Helper()
	def := konditional.NewFlagDefinition(mustFeatureId(t, "probe", randomKey(t)), "default", "salt", true)
	def.AddRule(konditional.NewRule(c, konditional.Everybody), "matched")
	return konditional.Evaluate(def, ctx) == "matched"
}

var probeCounter int

func randomKey(t *testing.T) string {
	t.Helper()
	probeCounter++
	return t.Name() + "-" + string(rune('a'+probeCounter%26))
}

func TestLocaleCriterionMatchesMembership(t *testing.T) {
	c := konditional.Locale("en-US", "en-GB")
	if !matches(t, c, konditional.NewContext().WithLocale("en-GB")) {
		t.Fatal("expected en-GB to match the locale set")
	}
	if matches(t, c, konditional.NewContext().WithLocale("fr-FR")) {
		t.Fatal("expected fr-FR not to match the locale set")
	}
	if matches(t, c, konditional.NewContext()) {
		t.Fatal("expected a context with no locale not to match")
	}
}

func TestAxisCriterionMatchesAnyContextValue(t *testing.T) {
	konditional.ResetAxisRegistryForTest()
	konditional.RegisterAxis("environment", "prod", "staging")

	c := konditional.AxisIn("environment", "prod")
	ctx := konditional.NewContext().
		WithAxisValue("environment", testAxisValue("staging")).
		WithAxisValue("environment", testAxisValue("prod"))
	if !matches(t, c, ctx) {
		t.Fatal("expected a context carrying two axis values, one of which matches, to match")
	}
}

func TestAxisCriterionPanicsOnUnregisteredAxis(t *testing.T) {
	konditional.ResetAxisRegistryForTest()
	defer func() {
		if recover() == nil {
			t.Fatal("expected AxisIn to panic for an unregistered axis id")
		}
	}()
	konditional.AxisIn("never-registered", "x")
}

func TestAllIsIdentityWhenEmpty(t *testing.T) {
	c := konditional.All()
	if !matches(t, c, konditional.NewContext()) {
		t.Fatal("expected an empty All() to match everything")
	}
}

func TestAllRequiresEveryChildToMatch(t *testing.T) {
	c := konditional.All(konditional.Locale("en-US"), konditional.Platform("IOS"))
	matchBoth := konditional.NewContext().WithLocale("en-US").WithPlatform("IOS")
	matchOne := konditional.NewContext().WithLocale("en-US").WithPlatform("ANDROID")
	if !matches(t, c, matchBoth) {
		t.Fatal("expected All to match when every child matches")
	}
	if matches(t, c, matchOne) {
		t.Fatal("expected All not to match when only one child matches")
	}
}

func TestNotNegatesInner(t *testing.T) {
	c := konditional.Not(konditional.Locale("en-US"))
	if matches(t, c, konditional.NewContext().WithLocale("en-US")) {
		t.Fatal("expected Not(Locale(en-US)) not to match en-US")
	}
	if !matches(t, c, konditional.NewContext().WithLocale("fr-FR")) {
		t.Fatal("expected Not(Locale(en-US)) to match fr-FR")
	}
}

func TestSpecificityOfAllIsSumOfChildren(t *testing.T) {
	c := konditional.All(konditional.Locale("en-US"), konditional.Platform("IOS"))
	if got := konditional.Specificity(c); got != 2 {
		t.Fatalf("expected specificity 2, got %d", got)
	}
}

func TestSpecificityOfAnyIsMinimumOfChildren(t *testing.T) {
	c := konditional.Any(
		konditional.All(konditional.Locale("en-US"), konditional.Platform("IOS")),
		konditional.Locale("fr-FR"),
	)
	if got := konditional.Specificity(c); got != 1 {
		t.Fatalf("expected Any's specificity to be the min of its children (1), got %d", got)
	}
}

func TestProjectFailsClosedForExtensionAndGuarded(t *testing.T) {
	ext := konditional.Extension("com.example.Custom", func(konditional.Context) bool { return true })
	if _, ok := ext.Project(); ok {
		t.Fatal("expected Extension.Project to fail")
	}

	guarded := konditional.Guarded(konditional.Locale("en-US"), func(c konditional.Context) (konditional.Context, bool) { return c, true })
	if _, ok := guarded.Project(); ok {
		t.Fatal("expected Guarded.Project to fail even when its inner criterion projects")
	}

	wrapped := konditional.All(konditional.Locale("en-US"), ext)
	if _, ok := wrapped.Project(); ok {
		t.Fatal("expected All.Project to fail when any single child fails to project")
	}
}

func TestProjectSucceedsForWireVocabulary(t *testing.T) {
	c := konditional.All(konditional.Locale("en-US", "en-GB"), konditional.Platform("IOS"))
	proj, ok := c.Project()
	if !ok {
		t.Fatal("expected an All of only wire-representable children to project")
	}
	if len(proj.Locales) != 2 || len(proj.Platforms) != 1 {
		t.Fatalf("unexpected projection: %+v", proj)
	}
}

// rule_test.go's TestDuplicateRulePanics covers identical-criteria
// detection; this covers the converse: criteria with equal specificity but
// different identity must never collide.
func TestDistinctCriteriaOfEqualSpecificityAreNotDuplicates(t *testing.T) {
	def := konditional.NewFlagDefinition(mustFeatureId(t, "app", "theme"), "default", "salt", true)
	def.AddRule(konditional.NewRule(konditional.Locale("en-US"), konditional.RampUp(50)), "a")
	def.AddRule(konditional.NewRule(konditional.Platform("IOS"), konditional.RampUp(50)), "b")
	def.AddRule(konditional.NewRule(konditional.Locale("en-GB"), konditional.RampUp(50)), "c")
	if len(def.Rules) != 3 {
		t.Fatalf("expected all three structurally distinct rules to be accepted, got %d", len(def.Rules))
	}
}
