package codec_test

import (
	"errors"
	"testing"

	"github.com/amichne/konditional/pkg/konditional"
	"github.com/amichne/konditional/pkg/konditional/codec"
)

func mustID(t *testing.T, seed, key string) konditional.FeatureId {
	t.Helper()
	id, err := konditional.NewFeatureId(seed, key)
	if err != nil {
		t.Fatalf("NewFeatureId: %v", err)
	}
	return id
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	id := mustID(t, "app", "checkout-roundtrip")
	konditional.RegisterAxis("environment-roundtrip", "prod", "staging")
	feature := konditional.RegisterFeature(id, konditional.KindBoolean, false)

	def := konditional.NewFlagDefinition(id, false, "salt-1", true)
	def.AddRule(konditional.NewRule(
		konditional.All(
			konditional.Locale("en-US", "en-GB"),
			konditional.Platform("IOS"),
			konditional.AxisIn("environment-roundtrip", "prod"),
		),
		konditional.RampUp(50),
		konditional.WithNote("ios-prod-rollout"),
	), true)

	cfg := konditional.NewConfiguration("app", 1)
	cfg.PutDefinition(id, def)

	data, err := codec.Encode(cfg, konditional.Metadata{SchemaVersion: "1.0.0", Source: "test"})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	decoded, err := codec.Decode(data, "app", 1)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	got, ok := konditional.GetDefinition[bool](decoded, id)
	if !ok {
		t.Fatal("expected the round-tripped feature to decode back to the registered type")
	}
	if len(got.Rules) != 1 {
		t.Fatalf("expected 1 rule after round trip, got %d", len(got.Rules))
	}

	matchingCtx := konditional.NewContext().
		WithLocale("en-GB").
		WithPlatform("IOS").
		WithAxisValue("environment-roundtrip", testAxisValue("prod")).
		WithStableId(konditional.StableIdOf("some-user"))
	nonMatchingCtx := konditional.NewContext().WithLocale("fr-FR").WithPlatform("ANDROID")

	for _, ctx := range []konditional.Context{matchingCtx, nonMatchingCtx} {
		want := konditional.Evaluate(def, ctx)
		gotVal := konditional.Evaluate(got, ctx)
		if want != gotVal {
			t.Fatalf("round-tripped definition diverges from the original: want %v got %v", want, gotVal)
		}
	}
	_ = feature
}

type testAxisValue string

func (v testAxisValue) AxisValueId() string { return string(v) }

func TestDecodeUnknownFeatureMismatchedNamespace(t *testing.T) {
	id := mustID(t, "app", "unknown-ns")
	konditional.RegisterFeature(id, konditional.KindBoolean, false)

	data := []byte(`{
		"meta": {"version": "1.0.0", "generatedAtEpochMillis": 0, "source": "test"},
		"flags": [{
			"key": "feature::app::unknown-ns",
			"defaultValue": {"type": "BOOLEAN", "value": false},
			"salt": "s", "isActive": true,
			"rollupAllowlist": [], "rules": []
		}]
	}`)

	_, err := codec.Decode(data, "other-namespace", 1)
	if err == nil {
		t.Fatal("expected a namespace mismatch to fail decode")
	}
	var pe *codec.ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected a *codec.ParseError, got %T: %v", err, err)
	}
}

func TestDecodeTypeMismatch(t *testing.T) {
	id := mustID(t, "app", "type-mismatch")
	konditional.RegisterFeature(id, konditional.KindBoolean, false)

	data := []byte(`{
		"meta": {"version": "1.0.0", "generatedAtEpochMillis": 0, "source": "test"},
		"flags": [{
			"key": "feature::app::type-mismatch",
			"defaultValue": {"type": "STRING", "value": "nope"},
			"salt": "s", "isActive": true,
			"rollupAllowlist": [], "rules": []
		}]
	}`)

	_, err := codec.Decode(data, "app", 1)
	if err == nil {
		t.Fatal("expected a BOOLEAN feature fed a STRING default to fail decode")
	}
	var pe *codec.ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected a *codec.ParseError, got %T: %v", err, err)
	}
	if pe.Kind != codec.KindTypeMismatch {
		t.Fatalf("expected KindTypeMismatch, got %v", pe.Kind)
	}
	_ = id
}

func TestDecodeDuplicateRule(t *testing.T) {
	id := mustID(t, "app", "dup-rule")
	konditional.RegisterFeature(id, konditional.KindBoolean, false)

	data := []byte(`{
		"meta": {"version": "1.0.0", "generatedAtEpochMillis": 0, "source": "test"},
		"flags": [{
			"key": "feature::app::dup-rule",
			"defaultValue": {"type": "BOOLEAN", "value": false},
			"salt": "s", "isActive": true,
			"rollupAllowlist": [],
			"rules": [
				{"value": {"type": "BOOLEAN", "value": true}, "rampUp": 50, "rampUpAllowlist": [], "locales": ["en-US"]},
				{"value": {"type": "BOOLEAN", "value": true}, "rampUp": 50, "rampUpAllowlist": [], "locales": ["en-US"]}
			]
		}]
	}`)

	_, err := codec.Decode(data, "app", 1)
	if err == nil {
		t.Fatal("expected two identical rules to be rejected as duplicates")
	}
	var pe *codec.ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected a *codec.ParseError, got %T: %v", err, err)
	}
	if pe.Kind != codec.KindDuplicateRule {
		t.Fatalf("expected KindDuplicateRule, got %v", pe.Kind)
	}
}

func TestDecodeUnknownAxis(t *testing.T) {
	id := mustID(t, "app", "unknown-axis")
	konditional.RegisterFeature(id, konditional.KindBoolean, false)

	data := []byte(`{
		"meta": {"version": "1.0.0", "generatedAtEpochMillis": 0, "source": "test"},
		"flags": [{
			"key": "feature::app::unknown-axis",
			"defaultValue": {"type": "BOOLEAN", "value": false},
			"salt": "s", "isActive": true,
			"rollupAllowlist": [],
			"rules": [
				{"value": {"type": "BOOLEAN", "value": true}, "rampUp": 100, "rampUpAllowlist": [], "axes": {"never-registered": ["x"]}}
			]
		}]
	}`)

	_, err := codec.Decode(data, "app", 1)
	if err == nil {
		t.Fatal("expected an unregistered axis id to fail decode")
	}
	var pe *codec.ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected a *codec.ParseError, got %T: %v", err, err)
	}
	if pe.Kind != codec.KindUnknownAxis {
		t.Fatalf("expected KindUnknownAxis, got %v", pe.Kind)
	}
}

func TestDecodeAccumulatesErrorsAcrossFlags(t *testing.T) {
	idA := mustID(t, "app", "multi-err-a")
	idB := mustID(t, "app", "multi-err-b")
	konditional.RegisterFeature(idA, konditional.KindBoolean, false)
	konditional.RegisterFeature(idB, konditional.KindBoolean, false)

	data := []byte(`{
		"meta": {"version": "1.0.0", "generatedAtEpochMillis": 0, "source": "test"},
		"flags": [
			{"key": "feature::app::multi-err-a", "defaultValue": {"type": "STRING", "value": "x"}, "salt": "s", "isActive": true, "rollupAllowlist": [], "rules": []},
			{"key": "feature::app::multi-err-b", "defaultValue": {"type": "STRING", "value": "y"}, "salt": "s", "isActive": true, "rollupAllowlist": [], "rules": []}
		]
	}`)

	_, err := codec.Decode(data, "app", 1)
	if err == nil {
		t.Fatal("expected both malformed flags to fail decode")
	}
	// multierr's combined error message includes each constituent message;
	// both feature keys should be mentioned since both flags are decoded
	// before the combined error is returned.
	msg := err.Error()
	if !contains(msg, "multi-err-a") || !contains(msg, "multi-err-b") {
		t.Fatalf("expected the combined error to mention both failing flags, got: %s", msg)
	}
}

func TestEncodeFailsOnNonProjectableCriterion(t *testing.T) {
	id := mustID(t, "app", "non-projectable")
	konditional.RegisterFeature(id, konditional.KindBoolean, false)

	def := konditional.NewFlagDefinition(id, false, "salt", true)
	def.AddRule(konditional.NewRule(
		konditional.Extension("com.example.Custom", func(konditional.Context) bool { return true }),
		konditional.Everybody,
	), true)

	cfg := konditional.NewConfiguration("app", 1)
	cfg.PutDefinition(id, def)

	if _, err := codec.Encode(cfg, konditional.Metadata{}); err == nil {
		t.Fatal("expected Encode to fail on a rule whose criterion can't project to the wire format")
	}
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
