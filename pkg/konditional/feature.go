package konditional

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sync"
)

// FeatureShape is what the process-wide feature registry remembers about a
// declared feature: its wire value kind and (for ENUM/STRUCT) the class name
// the codec must match against, per spec.md §6.2.
type FeatureShape struct {
	Kind            ValueKind
	EnumClassName   string
	StructClassName string
	goType          reflect.Type
}

var (
	featureRegistryMu sync.Mutex
	featureShapes     = map[FeatureId]FeatureShape{}
	featureBuilders   = map[FeatureId]func(salt string, active bool) DefinitionBuilder{}
	featureExporters  = map[FeatureId]func(raw any) (ExportedDefinition, error){}
	featureEvaluators = map[FeatureId]func(raw any, ctx Context) (ExportedValue, Decision, error){}
)

func registerFeatureShape(
	id FeatureId,
	shape FeatureShape,
	builder func(salt string, active bool) DefinitionBuilder,
	exporter func(raw any) (ExportedDefinition, error),
	evaluator func(raw any, ctx Context) (ExportedValue, Decision, error),
) {
	featureRegistryMu.Lock()
	defer featureRegistryMu.Unlock()

	if existing, ok := featureShapes[id]; ok {
		if existing.Kind != shape.Kind || existing.goType != shape.goType ||
			existing.EnumClassName != shape.EnumClassName || existing.StructClassName != shape.StructClassName {
			panic(fmt.Sprintf("konditional: feature %s re-registered with a different shape", id))
		}
		return
	}
	featureShapes[id] = shape
	featureBuilders[id] = builder
	featureExporters[id] = exporter
	featureEvaluators[id] = evaluator
}

// LookupFeatureShape returns the declared shape of a registered feature.
func LookupFeatureShape(id FeatureId) (FeatureShape, bool) {
	featureRegistryMu.Lock()
	defer featureRegistryMu.Unlock()
	s, ok := featureShapes[id]
	return s, ok
}

// NewDefinitionBuilder returns a type-erased builder for the named feature's
// FlagDefinition[T], where T was fixed at RegisterFeature time. Callers
// (principally pkg/konditional/codec) never need to know T: they feed in
// tagged values and get back an `any` holding *FlagDefinition[T], which
// Configuration stores and GetDefinition[T] later downcasts.
func NewDefinitionBuilder(id FeatureId, salt string, active bool) (DefinitionBuilder, error) {
	featureRegistryMu.Lock()
	factory, ok := featureBuilders[id]
	featureRegistryMu.Unlock()
	if !ok {
		return nil, fmt.Errorf("konditional: feature %s is not registered", id)
	}
	return factory(salt, active), nil
}

// ResetFeatureRegistryForTest clears the process-wide feature registry. Only
// for test isolation; production code never calls it.
func ResetFeatureRegistryForTest() {
	featureRegistryMu.Lock()
	defer featureRegistryMu.Unlock()
	featureShapes = map[FeatureId]FeatureShape{}
	featureBuilders = map[FeatureId]func(salt string, active bool) DefinitionBuilder{}
	featureExporters = map[FeatureId]func(raw any) (ExportedDefinition, error){}
	featureEvaluators = map[FeatureId]func(raw any, ctx Context) (ExportedValue, Decision, error){}
}

// EvaluateDefinitionAny runs the canonical evaluation algorithm against a
// type-erased *FlagDefinition[T] (as stored in a Configuration's flags map)
// and type-erases the resulting value back out. It exists for hosts that
// serve many differently-typed features behind one dynamic lookup — an
// HTTP evaluation endpoint keyed by flag name, for instance — where the
// caller cannot supply T at the call site the way Feature[T].Evaluate can.
func EvaluateDefinitionAny(id FeatureId, raw any, ctx Context) (ExportedValue, Decision, error) {
	featureRegistryMu.Lock()
	eval, ok := featureEvaluators[id]
	featureRegistryMu.Unlock()
	if !ok {
		return ExportedValue{}, Decision{}, fmt.Errorf("konditional: feature %s is not registered", id)
	}
	return eval(raw, ctx)
}

// RawTaggedValue is the decoded-but-not-yet-T-typed form of a wire value
// (spec.md §6.2's {"type": "...", "value": ...} shape). The codec package
// produces these from JSON; DefinitionBuilder consumes them.
type RawTaggedValue struct {
	Kind         ValueKind
	JSON         json.RawMessage // set for BOOLEAN/STRING/INT/DOUBLE/STRUCT
	ConstantName string          // set for ENUM
}

// DefinitionBuilder is the type-erased assembly interface for a
// FlagDefinition[T]. Each method returns an error instead of panicking so
// the codec can translate failures into typed ParseErrors.
type DefinitionBuilder interface {
	SetDefault(v RawTaggedValue) error
	AddRule(rule Rule, v RawTaggedValue) error
	SetRolloutAllowlist(ids map[StableId]struct{})
	// Build finalises the definition, running the same canonicalisation and
	// duplicate-rule rejection as the code-defined constructor path.
	Build() (def any, err error)
}

type definitionBuilder[T any] struct {
	feature     FeatureId
	salt        string
	active      bool
	hasDefault  bool
	def         T
	allowlist   map[StableId]struct{}
	rules       []ruleWithValue[T]
	enumDecode  func(constantName string) (T, bool)
	structCheck func(className string) bool
}

func (b *definitionBuilder[T]) decode(v RawTaggedValue) (T, error) {
	var zero T
	switch v.Kind {
	case KindEnum:
		if b.enumDecode == nil {
			return zero, fmt.Errorf("feature %s is not an enum feature", b.feature)
		}
		val, ok := b.enumDecode(v.ConstantName)
		if !ok {
			return zero, fmt.Errorf("unknown enum constant %q for feature %s", v.ConstantName, b.feature)
		}
		return val, nil
	default:
		if v.JSON == nil {
			return zero, fmt.Errorf("missing value for feature %s", b.feature)
		}
		var val T
		if err := json.Unmarshal(v.JSON, &val); err != nil {
			return zero, fmt.Errorf("decoding value for feature %s: %w", b.feature, err)
		}
		return val, nil
	}
}

func (b *definitionBuilder[T]) SetDefault(v RawTaggedValue) error {
	val, err := b.decode(v)
	if err != nil {
		return err
	}
	b.def = val
	b.hasDefault = true
	return nil
}

func (b *definitionBuilder[T]) AddRule(rule Rule, v RawTaggedValue) error {
	val, err := b.decode(v)
	if err != nil {
		return err
	}
	rule.insertionIndex = len(b.rules)
	b.rules = append(b.rules, ruleWithValue[T]{Rule: rule, Value: val})
	return nil
}

func (b *definitionBuilder[T]) SetRolloutAllowlist(ids map[StableId]struct{}) {
	b.allowlist = ids
}

func (b *definitionBuilder[T]) Build() (any, error) {
	if !b.hasDefault {
		return nil, fmt.Errorf("feature %s has no default value", b.feature)
	}
	sortRules(b.rules)
	if err := checkDuplicateRules(b.feature, b.rules); err != nil {
		return nil, err
	}
	allow := b.allowlist
	if allow == nil {
		allow = map[StableId]struct{}{}
	}
	return &FlagDefinition[T]{
		Feature:          b.feature,
		Default:          b.def,
		Salt:             b.salt,
		Active:           b.active,
		RolloutAllowlist: allow,
		Rules:            b.rules,
	}, nil
}

// Feature is the host-facing handle returned by RegisterFeature. It is the
// stable surface spec.md §6.1 describes as Feature<T, C>: Evaluate,
// EvaluateWithReason, EvaluateWithShadow. C is fixed to Context across this
// module (see spec.md §9's guidance to flatten capability mixins).
type Feature[T any] struct {
	ID      FeatureId
	Default T
}

// fallback returns a rule-free definition that always serves f.Default —
// what EvaluateFeature uses when a namespace's current snapshot has no
// entry for this feature at all (declared in code, not yet published).
func (f *Feature[T]) fallback() *FlagDefinition[T] {
	return NewFlagDefinition(f.ID, f.Default, "", true)
}

// Evaluate evaluates f against ctx within namespace n: the namespace kill
// switch wins first, then a per-stable-id override, then the namespace's
// current snapshot (or f's compile-time default if the snapshot has no
// rules published for f yet).
func (f *Feature[T]) Evaluate(n *Namespace, ctx Context) T {
	return EvaluateFeature(n, f.ID, f.fallback(), ctx).Value
}

// EvaluateWithReason is Evaluate plus the decision trail.
func (f *Feature[T]) EvaluateWithReason(n *Namespace, ctx Context) EvaluationResult[T] {
	return EvaluateFeature(n, f.ID, f.fallback(), ctx)
}

// EvaluateWithShadow serves f from primary while comparing against f's
// definition in shadow, reporting any divergence to observer without ever
// serving the shadow namespace's value (spec.md §4.7). A kill-switched
// primary namespace counts as a disabled baseline the same way an
// inactive definition does: with opts.EvaluateCandidateWhenBaselineDisabled
// false (the default), the shadow namespace is never consulted and f's
// default is returned directly.
func (f *Feature[T]) EvaluateWithShadow(primary, shadow *Namespace, ctx Context, opts ShadowOptions, observer ShadowObserver) T {
	if primary.Killed() && !opts.EvaluateCandidateWhenBaselineDisabled {
		return EvaluateFeature(primary, f.ID, f.fallback(), ctx).Value
	}

	primaryDef := f.fallback()
	if cfg := primary.Current(); cfg != nil {
		if d, ok := GetDefinition[T](cfg, f.ID); ok {
			primaryDef = d
		}
	}
	shadowDef := f.fallback()
	if cfg := shadow.Current(); cfg != nil {
		if d, ok := GetDefinition[T](cfg, f.ID); ok {
			shadowDef = d
		}
	}
	return EvaluateWithShadowObserved(primaryDef, shadowDef, ctx, opts, observer)
}

// RegisterFeature declares a feature of primitive/struct-valued type T
// (BOOLEAN, STRING, INT, DOUBLE, or STRUCT — never ENUM; use
// RegisterEnumFeature for that). Registration is process-wide and
// first-writer-wins (spec.md §5): re-registering the same id with a
// different shape panics.
func RegisterFeature[T any](id FeatureId, kind ValueKind, def T, opts ...FeatureOption) *Feature[T] {
	if kind == KindEnum {
		panic("konditional: RegisterFeature must not be used for ENUM features; use RegisterEnumFeature")
	}
	shape := FeatureShape{Kind: kind, goType: reflect.TypeOf(def)}
	cfg := featureConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	shape.StructClassName = cfg.structClassName

	registerFeatureShape(id, shape,
		func(salt string, active bool) DefinitionBuilder {
			return &definitionBuilder[T]{feature: id, salt: salt, active: active}
		},
		func(raw any) (ExportedDefinition, error) {
			return exportDefinition[T](id, shape, raw, nil)
		},
		func(raw any, ctx Context) (ExportedValue, Decision, error) {
			return evaluateDefinitionAny[T](id, shape, raw, ctx, nil)
		},
	)
	return &Feature[T]{ID: id, Default: def}
}

// RegisterEnumFeature declares an ENUM-valued feature. values maps each
// wire constant name to its Go value; className is matched against the
// wire's enumClassName field by the codec. T must be comparable so the
// reverse (value → constant name) map used by the codec's Encode path can
// be built once at registration time.
func RegisterEnumFeature[T comparable](id FeatureId, className string, values map[string]T, def T) *Feature[T] {
	shape := FeatureShape{Kind: KindEnum, EnumClassName: className, goType: reflect.TypeOf(def)}
	decode := func(name string) (T, bool) {
		v, ok := values[name]
		return v, ok
	}
	reverse := make(map[T]string, len(values))
	for name, v := range values {
		reverse[v] = name
	}

	registerFeatureShape(id, shape,
		func(salt string, active bool) DefinitionBuilder {
			return &definitionBuilder[T]{feature: id, salt: salt, active: active, enumDecode: decode}
		},
		func(raw any) (ExportedDefinition, error) {
			return exportDefinition[T](id, shape, raw, reverse)
		},
		func(raw any, ctx Context) (ExportedValue, Decision, error) {
			return evaluateDefinitionAny[T](id, shape, raw, ctx, reverse)
		},
	)
	return &Feature[T]{ID: id, Default: def}
}

// FeatureOption customizes RegisterFeature.
type FeatureOption func(*featureConfig)

type featureConfig struct {
	structClassName string
}

// WithStructClassName sets the wire classname a STRUCT feature's values are
// validated against (spec.md §6.2: "STRUCT carries {className, fields} and
// is validated against a compile-registered schema").
func WithStructClassName(name string) FeatureOption {
	return func(c *featureConfig) { c.structClassName = name }
}
