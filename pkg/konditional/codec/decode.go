package codec

import (
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/multierr"

	"github.com/amichne/konditional/pkg/konditional"
)

// Decode parses a snapshot document into a Configuration for namespaceSeed,
// assigning it version (a caller-supplied monotonic counter — independent
// of the wire meta's host-authored semantic version string, which is
// preserved on Configuration.Meta.SchemaVersion).
//
// Every feature key referenced must already be registered via
// konditional.RegisterFeature/RegisterEnumFeature; an unregistered feature
// is ParseError::UnknownFeature, never a silent skip (spec.md §6's
// "parse-don't-validate" boundary decodes against the compiled schema, not
// an ad-hoc one).
func Decode(data []byte, namespaceSeed string, version int64) (*konditional.Configuration, error) {
	var doc wireSnapshot
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, syntaxErr("$", err)
	}

	cfg := konditional.NewConfiguration(namespaceSeed, version)
	cfg.Meta = konditional.Metadata{
		SchemaVersion:          doc.Meta.Version,
		GeneratedAtEpochMillis: doc.Meta.GeneratedAtEpochMillis,
		Source:                 doc.Meta.Source,
	}

	// Every flag is attempted even after an earlier one fails, so a single
	// Decode call surfaces every problem in the document at once via
	// multierr — the document either parses wholesale or not at all
	// (cfg is discarded below on any error), but the report isn't limited
	// to the first flag that happened to be wrong.
	var errs error
	for i, flag := range doc.Flags {
		path := fmt.Sprintf("$.flags[%d]", i)
		def, err := decodeFlag(path, namespaceSeed, flag)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		id, _ := konditional.ParseFeatureId(flag.Key)
		cfg.PutDefinition(id, def)
	}
	if errs != nil {
		return nil, errs
	}

	return cfg, nil
}

// DecodePatch parses a patch document (spec.md §6.3): same per-flag shape
// as a snapshot, upserting each listed flag and removing each key in
// removeKeys.
func DecodePatch(data []byte, namespaceSeed string, fromVersion, toVersion int64) (konditional.ConfigurationPatch, error) {
	var doc wirePatch
	if err := json.Unmarshal(data, &doc); err != nil {
		return konditional.ConfigurationPatch{}, syntaxErr("$", err)
	}

	patch := konditional.ConfigurationPatch{
		Namespace:   namespaceSeed,
		FromVersion: fromVersion,
		ToVersion:   toVersion,
		Upserts:     map[konditional.FeatureId]any{},
	}

	var errs error
	for i, flag := range doc.Flags {
		path := fmt.Sprintf("$.flags[%d]", i)
		def, err := decodeFlag(path, namespaceSeed, flag)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		id, _ := konditional.ParseFeatureId(flag.Key)
		patch.Upserts[id] = def
	}

	for _, key := range doc.RemoveKeys {
		id, err := konditional.ParseFeatureId(key)
		if err != nil {
			errs = multierr.Append(errs, invalidScalarErr("$.removeKeys", "removeKeys", err.Error()))
			continue
		}
		patch.Removals = append(patch.Removals, id)
	}
	if errs != nil {
		return konditional.ConfigurationPatch{}, errs
	}

	return patch, nil
}

func decodeFlag(path, namespaceSeed string, flag wireFlag) (any, error) {
	id, err := konditional.ParseFeatureId(flag.Key)
	if err != nil {
		return nil, invalidScalarErr(path+".key", "key", err.Error())
	}
	if id.NamespaceSeed != namespaceSeed {
		return nil, unknownFeatureErr(path, flag.Key)
	}

	shape, ok := konditional.LookupFeatureShape(id)
	if !ok {
		return nil, unknownFeatureErr(path, flag.Key)
	}

	builder, err := konditional.NewDefinitionBuilder(id, flag.Salt, flag.IsActive)
	if err != nil {
		return nil, unknownFeatureErr(path, flag.Key)
	}

	defRaw, err := decodeTaggedValue(path+".defaultValue", flag.Key, shape, flag.DefaultValue)
	if err != nil {
		return nil, err
	}
	if err := builder.SetDefault(defRaw); err != nil {
		return nil, typeMismatchErr(path+".defaultValue", flag.Key, string(shape.Kind), flag.DefaultValue.Type)
	}

	allow, err := decodeStableIds(path+".rollupAllowlist", flag.RollupAllowlist)
	if err != nil {
		return nil, err
	}
	builder.SetRolloutAllowlist(allow)

	for i, wr := range flag.Rules {
		rulePath := fmt.Sprintf("%s.rules[%d]", path, i)
		rule, raw, err := decodeRule(rulePath, flag.Key, shape, wr)
		if err != nil {
			return nil, err
		}
		if err := builder.AddRule(rule, raw); err != nil {
			return nil, typeMismatchErr(rulePath+".value", flag.Key, string(shape.Kind), wr.Value.Type)
		}
	}

	def, err := builder.Build()
	if err != nil {
		var dup *konditional.DuplicateRuleError
		if errors.As(err, &dup) {
			return nil, duplicateRuleErr(path, flag.Key, dup.SecondIndex)
		}
		return nil, invalidScalarErr(path, "flag", err.Error())
	}
	return def, nil
}

func decodeTaggedValue(path, feature string, shape konditional.FeatureShape, wtv wireTaggedValue) (konditional.RawTaggedValue, error) {
	tag := konditional.ValueKind(wtv.Type)
	if !tag.Valid() {
		return konditional.RawTaggedValue{}, unknownVariantErr(path, "type", wtv.Type)
	}
	if tag != shape.Kind {
		return konditional.RawTaggedValue{}, typeMismatchErr(path, feature, string(shape.Kind), wtv.Type)
	}

	switch tag {
	case konditional.KindEnum:
		if shape.EnumClassName != "" && wtv.EnumClassName != shape.EnumClassName {
			return konditional.RawTaggedValue{}, unknownVariantErr(path, "enumClassName", wtv.EnumClassName)
		}
		return konditional.RawTaggedValue{Kind: tag, ConstantName: wtv.ConstantName}, nil
	case konditional.KindStruct:
		if shape.StructClassName != "" && wtv.ClassName != shape.StructClassName {
			return konditional.RawTaggedValue{}, unknownVariantErr(path, "className", wtv.ClassName)
		}
		return konditional.RawTaggedValue{Kind: tag, JSON: wtv.Fields}, nil
	default:
		return konditional.RawTaggedValue{Kind: tag, JSON: wtv.Value}, nil
	}
}

func decodeRule(path, feature string, shape konditional.FeatureShape, wr wireRule) (konditional.Rule, konditional.RawTaggedValue, error) {
	raw, err := decodeTaggedValue(path+".value", feature, shape, wr.Value)
	if err != nil {
		return konditional.Rule{}, konditional.RawTaggedValue{}, err
	}

	if !konditional.RampUp(wr.RampUp).Valid() {
		return konditional.Rule{}, konditional.RawTaggedValue{}, invalidScalarErr(path+".rampUp", "rampUp", "must be in [0, 100]")
	}

	var criteria []konditional.Criterion
	if len(wr.Locales) > 0 {
		criteria = append(criteria, konditional.Locale(wr.Locales...))
	}
	if len(wr.Platforms) > 0 {
		criteria = append(criteria, konditional.Platform(wr.Platforms...))
	}
	if wr.VersionRange != nil {
		rng, err := decodeVersionRange(path+".versionRange", *wr.VersionRange)
		if err != nil {
			return konditional.Rule{}, konditional.RawTaggedValue{}, err
		}
		criteria = append(criteria, konditional.VersionIn(rng))
	}
	for axisID, ids := range wr.Axes {
		if _, ok := konditional.LookupAxis(axisID); !ok {
			return konditional.Rule{}, konditional.RawTaggedValue{}, unknownAxisErr(path+".axes", axisID)
		}
		criteria = append(criteria, konditional.AxisIn(axisID, ids...))
	}

	allow, err := decodeStableIds(path+".rampUpAllowlist", wr.RampUpAllowlist)
	if err != nil {
		return konditional.Rule{}, konditional.RawTaggedValue{}, err
	}

	opts := []konditional.RuleOption{}
	if wr.Note != "" {
		opts = append(opts, konditional.WithNote(wr.Note))
	}
	ids := make([]konditional.StableId, 0, len(allow))
	for id := range allow {
		ids = append(ids, id)
	}
	if len(ids) > 0 {
		opts = append(opts, konditional.WithAllowlist(ids...))
	}

	rule := konditional.NewRule(konditional.All(criteria...), konditional.RampUp(wr.RampUp), opts...)
	return rule, raw, nil
}

func decodeVersionRange(path string, wvr wireVersionRange) (konditional.VersionRange, error) {
	switch wvr.Type {
	case versionRangeUnbounded:
		return konditional.UnboundedRange(), nil
	case versionRangeMinBound:
		if wvr.Min == nil {
			return konditional.VersionRange{}, invalidScalarErr(path, "min", "required for MIN_BOUND")
		}
		return konditional.MinBoundRange(toVersion(*wvr.Min)), nil
	case versionRangeMaxBound:
		if wvr.Max == nil {
			return konditional.VersionRange{}, invalidScalarErr(path, "max", "required for MAX_BOUND")
		}
		return konditional.MaxBoundRange(toVersion(*wvr.Max)), nil
	case versionRangeMinAndMax:
		if wvr.Min == nil || wvr.Max == nil {
			return konditional.VersionRange{}, invalidScalarErr(path, "min/max", "both required for MIN_AND_MAX_BOUND")
		}
		return konditional.FullyBoundRange(toVersion(*wvr.Min), toVersion(*wvr.Max)), nil
	default:
		return konditional.VersionRange{}, unknownVariantErr(path, "type", wvr.Type)
	}
}

func toVersion(v wireVersion) konditional.Version {
	return konditional.NewVersion(v.Major, v.Minor, v.Patch)
}

func decodeStableIds(path string, hexIds []string) (map[konditional.StableId]struct{}, error) {
	set := make(map[konditional.StableId]struct{}, len(hexIds))
	for _, h := range hexIds {
		id, err := konditional.StableIdFromHex(h)
		if err != nil {
			return nil, invalidScalarErr(path, "stableId", err.Error())
		}
		set[id] = struct{}{}
	}
	return set, nil
}
