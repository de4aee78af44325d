package codec

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/amichne/konditional/pkg/konditional"
)

// Encode serialises cfg into the canonical wire format (spec.md §6.2):
// flags sorted by feature id, every set rendered as a sorted array, so two
// Encode calls over equal configurations always produce byte-identical
// output. It fails on any feature whose rules used a non-wire-representable
// criterion (Extension, Guarded, Any, Not) — see
// konditional.ExportedRule.Projectable.
func Encode(cfg *konditional.Configuration, meta konditional.Metadata) ([]byte, error) {
	doc := wireSnapshot{
		Meta: wireMeta{
			Version:                meta.SchemaVersion,
			GeneratedAtEpochMillis: meta.GeneratedAtEpochMillis,
			Source:                 meta.Source,
		},
	}

	ids := cfg.FeatureIds()
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })

	for _, id := range ids {
		raw, _ := cfg.RawDefinition(id)
		flag, err := encodeFlag(id, raw)
		if err != nil {
			return nil, err
		}
		doc.Flags = append(doc.Flags, flag)
	}

	return json.Marshal(doc)
}

// EncodePatch serialises a ConfigurationPatch into the wire patch format
// (spec.md §6.3): the snapshot shape plus removeKeys.
func EncodePatch(patch konditional.ConfigurationPatch, meta konditional.Metadata) ([]byte, error) {
	doc := wirePatch{
		Meta: wireMeta{
			Version:                meta.SchemaVersion,
			GeneratedAtEpochMillis: meta.GeneratedAtEpochMillis,
			Source:                 meta.Source,
		},
	}

	ids := make([]konditional.FeatureId, 0, len(patch.Upserts))
	for id := range patch.Upserts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })
	for _, id := range ids {
		flag, err := encodeFlag(id, patch.Upserts[id])
		if err != nil {
			return nil, err
		}
		doc.Flags = append(doc.Flags, flag)
	}

	removals := append([]konditional.FeatureId{}, patch.Removals...)
	sort.Slice(removals, func(i, j int) bool { return removals[i].Less(removals[j]) })
	for _, id := range removals {
		doc.RemoveKeys = append(doc.RemoveKeys, id.String())
	}

	return json.Marshal(doc)
}

func encodeFlag(id konditional.FeatureId, raw any) (wireFlag, error) {
	exported, err := konditional.ExportDefinition(id, raw)
	if err != nil {
		return wireFlag{}, err
	}

	defVal, err := encodeValue(exported.Default)
	if err != nil {
		return wireFlag{}, err
	}

	flag := wireFlag{
		Key:             id.String(),
		DefaultValue:    defVal,
		Salt:            exported.Salt,
		IsActive:        exported.Active,
		RollupAllowlist: encodeStableIds(exported.RolloutAllowlist),
	}

	for i, rule := range exported.Rules {
		if !rule.Projectable {
			return wireFlag{}, fmt.Errorf("codec: feature %s: rule %d uses a criterion the wire format can't represent (Extension/Guarded/Any/Not)", id, i)
		}
		val, err := encodeValue(rule.Value)
		if err != nil {
			return wireFlag{}, err
		}
		wr := wireRule{
			Value:           val,
			RampUp:          float64(rule.Rollout),
			RampUpAllowlist: encodeStableIds(rule.Allowlist),
			Note:            rule.Note,
			Locales:         sortedCopy(rule.Targeting.Locales),
			Platforms:       sortedCopy(rule.Targeting.Platforms),
		}
		if rule.Targeting.HasVersionRange {
			wr.VersionRange = encodeVersionRange(rule.Targeting.VersionRange)
		}
		if len(rule.Targeting.Axes) > 0 {
			wr.Axes = map[string][]string{}
			for axisID, vals := range rule.Targeting.Axes {
				wr.Axes[axisID] = sortedCopy(vals)
			}
		}
		flag.Rules = append(flag.Rules, wr)
	}
	return flag, nil
}

func encodeValue(v konditional.ExportedValue) (wireTaggedValue, error) {
	switch v.Kind {
	case konditional.KindEnum:
		return wireTaggedValue{Type: string(v.Kind), ConstantName: v.ConstantName}, nil
	case konditional.KindStruct:
		return wireTaggedValue{Type: string(v.Kind), Fields: v.JSON}, nil
	default:
		return wireTaggedValue{Type: string(v.Kind), Value: v.JSON}, nil
	}
}

func encodeVersionRange(r konditional.VersionRange) *wireVersionRange {
	wvr := &wireVersionRange{}
	switch r.Kind {
	case konditional.VersionRangeUnbounded:
		wvr.Type = versionRangeUnbounded
	case konditional.VersionRangeMinBound:
		wvr.Type = versionRangeMinBound
		wvr.Min = encodeVersion(r.Min)
	case konditional.VersionRangeMaxBound:
		wvr.Type = versionRangeMaxBound
		wvr.Max = encodeVersion(r.Max)
	case konditional.VersionRangeFullyBound:
		wvr.Type = versionRangeMinAndMax
		wvr.Min = encodeVersion(r.Min)
		wvr.Max = encodeVersion(r.Max)
	}
	return wvr
}

func encodeVersion(v konditional.Version) *wireVersion {
	return &wireVersion{Major: v.Major, Minor: v.Minor, Patch: v.Patch}
}

func encodeStableIds(ids []konditional.StableId) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.Hex())
	}
	sort.Strings(out)
	return out
}

func sortedCopy(ss []string) []string {
	if len(ss) == 0 {
		return nil
	}
	out := append([]string{}, ss...)
	sort.Strings(out)
	return out
}
