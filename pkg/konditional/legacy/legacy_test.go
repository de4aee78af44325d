package legacy_test

import (
	"testing"

	"github.com/amichne/konditional/pkg/konditional"
	"github.com/amichne/konditional/pkg/konditional/legacy"
)

func mustID(t *testing.T, seed, key string) konditional.FeatureId {
	t.Helper()
	id, err := konditional.NewFeatureId(seed, key)
	if err != nil {
		t.Fatalf("NewFeatureId: %v", err)
	}
	return id
}

func TestImportFlagDirectValue(t *testing.T) {
	imp := legacy.NewImporter()
	rules := []legacy.RuleDefinition{
		{
			If: map[string]any{
				"attribute": "country",
				"operator":  "eq",
				"value":     "US",
			},
			Then: "treatment",
		},
	}

	def, err := legacy.ImportFlag(imp, mustID(t, "app", "legacy-direct"), "salt", true, "control", rules)
	if err != nil {
		t.Fatalf("ImportFlag: %v", err)
	}

	match := konditional.NewContext().WithAttribute("country", "US")
	miss := konditional.NewContext().WithAttribute("country", "CA")

	if got := konditional.Evaluate(def, match); got != "treatment" {
		t.Fatalf("expected a matching attribute to serve the imported rule's value, got %q", got)
	}
	if got := konditional.Evaluate(def, miss); got != "control" {
		t.Fatalf("expected a non-matching attribute to fall through to default, got %q", got)
	}
}

func TestImportFlagAndOrConditions(t *testing.T) {
	imp := legacy.NewImporter()
	rules := []legacy.RuleDefinition{
		{
			If: map[string]any{
				"or": []any{
					map[string]any{"attribute": "tier", "operator": "eq", "value": "gold"},
					map[string]any{"attribute": "tier", "operator": "eq", "value": "platinum"},
				},
			},
			Then: "premium",
		},
	}

	def, err := legacy.ImportFlag(imp, mustID(t, "app", "legacy-or"), "salt", true, "standard", rules)
	if err != nil {
		t.Fatalf("ImportFlag: %v", err)
	}

	for _, tier := range []string{"gold", "platinum"} {
		ctx := konditional.NewContext().WithAttribute("tier", tier)
		if got := konditional.Evaluate(def, ctx); got != "premium" {
			t.Fatalf("expected tier %q to match the OR condition, got %q", tier, got)
		}
	}
	ctx := konditional.NewContext().WithAttribute("tier", "bronze")
	if got := konditional.Evaluate(def, ctx); got != "standard" {
		t.Fatalf("expected tier bronze not to match, got %q", got)
	}
}

func TestImportFlagRolloutCascade(t *testing.T) {
	imp := legacy.NewImporter()
	rules := []legacy.RuleDefinition{
		{
			If: nil,
			Then: map[string]any{
				"rollout": map[string]any{
					"variations": []any{
						map[string]any{"value": "a", "weight": 1.0},
						map[string]any{"value": "b", "weight": 1.0},
						map[string]any{"value": "c", "weight": 2.0},
					},
				},
			},
		},
	}

	def, err := legacy.ImportFlag(imp, mustID(t, "app", "legacy-rollout"), "salt", true, "default", rules)
	if err != nil {
		t.Fatalf("ImportFlag: %v", err)
	}
	if len(def.Rules) != 3 {
		t.Fatalf("expected 3 cascaded rules for 3 variations, got %d", len(def.Rules))
	}

	// Every stable id must land in exactly one of the three variations,
	// never the default, since the last variation is forced to Everybody.
	seen := map[string]int{}
	for i := 0; i < 500; i++ {
		ctx := konditional.NewContext().WithStableId(konditional.StableIdOf(string(rune(i))))
		got := konditional.Evaluate(def, ctx)
		if got == "default" {
			t.Fatalf("stable id %d fell through to default; rollout must cover every bucket", i)
		}
		seen[got]++
	}
	if len(seen) == 0 {
		t.Fatal("expected at least one variation to be observed")
	}
}

func TestImportFlagRejectsMalformedRollout(t *testing.T) {
	imp := legacy.NewImporter()
	rules := []legacy.RuleDefinition{
		{
			If: nil,
			Then: map[string]any{
				"rollout": map[string]any{
					"variations": []any{},
				},
			},
		},
	}
	if _, err := legacy.ImportFlag(imp, mustID(t, "app", "legacy-empty-rollout"), "salt", true, "default", rules); err == nil {
		t.Fatal("expected an empty rollout's variations to be rejected")
	}
}
