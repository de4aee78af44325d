package konditional_test

import (
	"testing"

	"github.com/amichne/konditional/pkg/konditional"
)

func newTestConfig(t *testing.T, namespace string, version int64, feature konditional.FeatureId, def *konditional.FlagDefinition[string]) *konditional.Configuration {
	t.Helper()
	cfg := konditional.NewConfiguration(namespace, version)
	cfg.PutDefinition(feature, def)
	return cfg
}

func TestNamespaceLoadReplacesSnapshot(t *testing.T) {
	feature := mustFeatureId(t, "app", "checkout")
	defV1 := konditional.NewFlagDefinition(feature, "v1", "salt", true)
	defV2 := konditional.NewFlagDefinition(feature, "v2", "salt", true)

	ns := konditional.NewNamespace("test", newTestConfig(t, "test", 1, feature, defV1))
	if got := konditional.EvaluateFeature(ns, feature, defV1, konditional.NewContext()).Value; got != "v1" {
		t.Fatalf("expected v1 before load, got %q", got)
	}

	ns.Load(newTestConfig(t, "test", 2, feature, defV2))
	if got := konditional.EvaluateFeature(ns, feature, defV1, konditional.NewContext()).Value; got != "v2" {
		t.Fatalf("expected v2 after load, got %q", got)
	}
}

func TestNamespaceKillSwitchOverridesEverything(t *testing.T) {
	feature := mustFeatureId(t, "app", "checkout")
	def := konditional.NewFlagDefinition(feature, "control", "salt", true)
	def.AddRule(konditional.NewRule(konditional.All(), konditional.Everybody), "treatment")

	ns := konditional.NewNamespace("test", newTestConfig(t, "test", 1, feature, def))
	id := konditional.StableIdOf("user-1")
	konditional.SetOverride(ns, feature, id, "forced")

	ctx := konditional.NewContext().WithStableId(id)
	if got := konditional.EvaluateFeature(ns, feature, def, ctx).Value; got != "forced" {
		t.Fatalf("expected override to win before kill switch is engaged, got %q", got)
	}

	ns.DisableAll()
	result := konditional.EvaluateFeature(ns, feature, def, ctx)
	if result.Value != "control" {
		t.Fatalf("expected kill switch to force the default even with an override set, got %q", result.Value)
	}
	if result.Decision.Kind != konditional.DecisionRegistryDisabled {
		t.Fatalf("expected DecisionRegistryDisabled while killed, got %v", result.Decision.Kind)
	}

	ns.EnableAll()
	if got := konditional.EvaluateFeature(ns, feature, def, ctx).Value; got != "forced" {
		t.Fatalf("expected override to resume winning once the kill switch clears, got %q", got)
	}
}

func TestEvaluateFeaturePopulatesNamespaceAndVersion(t *testing.T) {
	feature := mustFeatureId(t, "app", "checkout")
	def := konditional.NewFlagDefinition(feature, "control", "salt", true)

	ns := konditional.NewNamespace("prod-us", newTestConfig(t, "prod-us", 7, feature, def))
	result := konditional.EvaluateFeature(ns, feature, def, konditional.NewContext())

	if result.NamespaceId != "prod-us" {
		t.Fatalf("expected NamespaceId %q, got %q", "prod-us", result.NamespaceId)
	}
	if result.ConfigVersion != 7 {
		t.Fatalf("expected ConfigVersion 7, got %d", result.ConfigVersion)
	}
}

func TestNamespaceOverridePrecedesRules(t *testing.T) {
	feature := mustFeatureId(t, "app", "checkout")
	def := konditional.NewFlagDefinition(feature, "control", "salt", true)
	def.AddRule(konditional.NewRule(konditional.All(), konditional.Everybody), "treatment")

	ns := konditional.NewNamespace("test", newTestConfig(t, "test", 1, feature, def))
	id := konditional.StableIdOf("user-1")
	ctx := konditional.NewContext().WithStableId(id)

	if got := konditional.EvaluateFeature(ns, feature, def, ctx).Value; got != "treatment" {
		t.Fatalf("expected the matching rule to win with no override set, got %q", got)
	}

	konditional.SetOverride(ns, feature, id, "forced")
	if got := konditional.EvaluateFeature(ns, feature, def, ctx).Value; got != "forced" {
		t.Fatalf("expected the override to win over a matching rule, got %q", got)
	}

	ns.ClearOverride(feature, id)
	if got := konditional.EvaluateFeature(ns, feature, def, ctx).Value; got != "treatment" {
		t.Fatalf("expected the rule to win again after clearing the override, got %q", got)
	}
}

func TestNamespaceRollbackRestoresPriorSnapshot(t *testing.T) {
	feature := mustFeatureId(t, "app", "checkout")
	defV1 := konditional.NewFlagDefinition(feature, "v1", "salt", true)
	defV2 := konditional.NewFlagDefinition(feature, "v2", "salt", true)

	ns := konditional.NewNamespace("test", newTestConfig(t, "test", 1, feature, defV1))
	ns.Load(newTestConfig(t, "test", 2, feature, defV2))

	if err := ns.Rollback(1); err != nil {
		t.Fatalf("Rollback(1): %v", err)
	}
	if got := konditional.EvaluateFeature(ns, feature, defV1, konditional.NewContext()).Value; got != "v1" {
		t.Fatalf("expected rollback to restore v1, got %q", got)
	}

	if err := ns.Rollback(999); err == nil {
		t.Fatal("expected Rollback to a version outside retained history to error")
	}
}

func TestNamespaceRollbackEvictsBeyondHistoryDepth(t *testing.T) {
	feature := mustFeatureId(t, "app", "checkout")
	def := konditional.NewFlagDefinition(feature, "v0", "salt", true)

	ns := konditional.NewNamespace("test", newTestConfig(t, "test", 0, feature, def), konditional.WithHistoryDepth(2))
	ns.Load(newTestConfig(t, "test", 1, feature, def))
	ns.Load(newTestConfig(t, "test", 2, feature, def))

	if err := ns.Rollback(0); err == nil {
		t.Fatal("expected version 0 to have been evicted past a history depth of 2")
	}
	if err := ns.Rollback(1); err != nil {
		t.Fatalf("expected version 1 to still be retained: %v", err)
	}
}

func TestNamespaceFallbackUsedWhenSnapshotLacksFeature(t *testing.T) {
	declared := mustFeatureId(t, "app", "undeclared")
	otherFeature := mustFeatureId(t, "app", "checkout")
	cfg := konditional.NewConfiguration("test", 1)
	cfg.PutDefinition(otherFeature, konditional.NewFlagDefinition(otherFeature, "control", "salt", true))

	ns := konditional.NewNamespace("test", cfg)
	fallback := konditional.NewFlagDefinition(declared, "fallback-default", "salt", true)

	got := konditional.EvaluateFeature(ns, declared, fallback, konditional.NewContext())
	if got.Value != "fallback-default" {
		t.Fatalf("expected the compile-time fallback when the snapshot has no definition, got %q", got.Value)
	}
}
