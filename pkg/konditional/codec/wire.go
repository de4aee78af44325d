package codec

import "encoding/json"

// The wire* types below mirror spec.md §6.2's canonical JSON shape
// exactly: field names, nesting, and the value-tag vocabulary. Decode and
// Encode are the only functions that touch them; everything else in this
// package works in terms of *konditional.Configuration.

type wireMeta struct {
	Version                string `json:"version"`
	GeneratedAtEpochMillis  int64  `json:"generatedAtEpochMillis"`
	Source                 string `json:"source"`
}

type wireTaggedValue struct {
	Type          string          `json:"type"`
	Value         json.RawMessage `json:"value,omitempty"`
	EnumClassName string          `json:"enumClassName,omitempty"`
	ConstantName  string          `json:"constantName,omitempty"`
	ClassName     string          `json:"className,omitempty"`
	Fields        json.RawMessage `json:"fields,omitempty"`
}

type wireVersion struct {
	Major int `json:"major"`
	Minor int `json:"minor"`
	Patch int `json:"patch"`
}

type wireVersionRange struct {
	Type string       `json:"type"`
	Min  *wireVersion `json:"min,omitempty"`
	Max  *wireVersion `json:"max,omitempty"`
}

type wireRule struct {
	Value           wireTaggedValue     `json:"value"`
	RampUp          float64             `json:"rampUp"`
	RampUpAllowlist []string            `json:"rampUpAllowlist"`
	Note            string              `json:"note,omitempty"`
	Locales         []string            `json:"locales,omitempty"`
	Platforms       []string            `json:"platforms,omitempty"`
	VersionRange    *wireVersionRange   `json:"versionRange,omitempty"`
	Axes            map[string][]string `json:"axes,omitempty"`
}

type wireFlag struct {
	Key             string     `json:"key"`
	DefaultValue    wireTaggedValue `json:"defaultValue"`
	Salt            string     `json:"salt"`
	IsActive        bool       `json:"isActive"`
	RollupAllowlist []string   `json:"rollupAllowlist"`
	Rules           []wireRule `json:"rules"`
}

type wireSnapshot struct {
	Meta  wireMeta   `json:"meta"`
	Flags []wireFlag `json:"flags"`
}

type wirePatch struct {
	Meta       wireMeta   `json:"meta"`
	Flags      []wireFlag `json:"flags"`
	RemoveKeys []string   `json:"removeKeys"`
}

const (
	versionRangeUnbounded    = "UNBOUNDED"
	versionRangeMinBound     = "MIN_BOUND"
	versionRangeMaxBound     = "MAX_BOUND"
	versionRangeMinAndMax    = "MIN_AND_MAX_BOUND"
)
