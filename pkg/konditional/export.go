package konditional

import (
	"encoding/json"
	"fmt"
)

// ExportedValue is the type-erased, wire-ready form of a single decoded
// value — the reverse of RawTaggedValue.
type ExportedValue struct {
	Kind         ValueKind
	JSON         json.RawMessage
	ConstantName string
}

// ExportedRule is one rule's wire-ready form. Projectable is false when the
// rule's Targeting criterion used something the wire format can't express
// (Extension, Guarded, Any, Not) — callers (the codec's Encode) should
// treat that as "this definition can't fully round-trip" rather than
// silently dropping the rule's real targeting.
type ExportedRule struct {
	Value       ExportedValue
	Rollout     RampUp
	Note        string
	Allowlist   []StableId
	Targeting   CriterionProjection
	Projectable bool
}

// ExportedDefinition is a FlagDefinition[T] with T erased to wire-ready
// values, suitable for a codec to serialise without any generic
// parameter.
type ExportedDefinition struct {
	Feature          FeatureId
	Default          ExportedValue
	Salt             string
	Active           bool
	RolloutAllowlist []StableId
	Rules            []ExportedRule
}

// ExportDefinition type-erases raw (a *FlagDefinition[T] for whatever T
// feature id was registered with) into an ExportedDefinition. It is the
// encode-direction counterpart of NewDefinitionBuilder.
func ExportDefinition(id FeatureId, raw any) (ExportedDefinition, error) {
	featureRegistryMu.Lock()
	exporter, ok := featureExporters[id]
	featureRegistryMu.Unlock()
	if !ok {
		return ExportedDefinition{}, fmt.Errorf("konditional: feature %s is not registered", id)
	}
	return exporter(raw)
}

func exportDefinition[T any](id FeatureId, shape FeatureShape, raw any, reverseEnum map[T]string) (ExportedDefinition, error) {
	def, ok := raw.(*FlagDefinition[T])
	if !ok {
		return ExportedDefinition{}, fmt.Errorf("konditional: feature %s: definition has an unexpected Go type", id)
	}

	defVal, err := exportValue(id, shape, def.Default, reverseEnum)
	if err != nil {
		return ExportedDefinition{}, err
	}

	out := ExportedDefinition{
		Feature: id,
		Default: defVal,
		Salt:    def.Salt,
		Active:  def.Active,
	}
	for sid := range def.RolloutAllowlist {
		out.RolloutAllowlist = append(out.RolloutAllowlist, sid)
	}

	for _, rv := range def.Rules {
		val, err := exportValue(id, shape, rv.Value, reverseEnum)
		if err != nil {
			return ExportedDefinition{}, err
		}
		proj, ok := rv.Rule.Targeting.Project()
		er := ExportedRule{
			Value:       val,
			Rollout:     rv.Rule.Rollout,
			Note:        rv.Rule.Note,
			Targeting:   proj,
			Projectable: ok,
		}
		for sid := range rv.Rule.Allowlist {
			er.Allowlist = append(er.Allowlist, sid)
		}
		out.Rules = append(out.Rules, er)
	}
	return out, nil
}

// evaluateDefinitionAny is the generic body behind EvaluateDefinitionAny: it
// recovers the *FlagDefinition[T] raw boxes, runs the ordinary typed
// algorithm, and exports the winning value back to wire form.
func evaluateDefinitionAny[T any](id FeatureId, shape FeatureShape, raw any, ctx Context, reverseEnum map[T]string) (ExportedValue, Decision, error) {
	def, ok := raw.(*FlagDefinition[T])
	if !ok {
		return ExportedValue{}, Decision{}, fmt.Errorf("konditional: feature %s: definition has an unexpected Go type", id)
	}
	result := EvaluateWithReason(def, ctx)
	val, err := exportValue(id, shape, result.Value, reverseEnum)
	if err != nil {
		return ExportedValue{}, Decision{}, err
	}
	return val, result.Decision, nil
}

func exportValue[T any](id FeatureId, shape FeatureShape, v T, reverseEnum map[T]string) (ExportedValue, error) {
	if shape.Kind == KindEnum {
		name, ok := reverseEnum[v]
		if !ok {
			return ExportedValue{}, fmt.Errorf("konditional: feature %s: value has no registered enum constant name", id)
		}
		return ExportedValue{Kind: KindEnum, ConstantName: name}, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return ExportedValue{}, fmt.Errorf("konditional: feature %s: %w", id, err)
	}
	return ExportedValue{Kind: shape.Kind, JSON: raw}, nil
}
