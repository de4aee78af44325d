package konditional

// capability is a bitflag recording which optional fields a Context carries.
// The spec's source language expresses this via mixin interfaces
// (locale/platform/version/stable-id contexts); per the design notes in
// spec.md §9 we flatten that into a single struct with a capability bitmask
// instead of reproducing mixin inheritance.
type capability uint8

const (
	capLocale capability = 1 << iota
	capPlatform
	capVersion
	capStableId
)

// Context carries the runtime inputs to a single evaluation: locale,
// platform, version, a stable subject id, and arbitrary named axis values.
// Every field is optional except the extras map; rules that target a
// capability the context doesn't carry simply don't match (spec.md §4.2).
type Context struct {
	caps capability

	locale   string
	platform string
	version  Version
	stableID StableId

	axisValues map[string][]AxisValue
	extra      map[string]any
}

// NewContext starts an empty context. Use the With* methods to attach
// capabilities; they return a new Context value (Context is a small,
// freely-copyable value type, per spec.md §5).
func NewContext() Context {
	return Context{}
}

// WithLocale attaches a locale id (e.g. "en-US").
func (c Context) WithLocale(id string) Context {
	c.locale = id
	c.caps |= capLocale
	return c
}

// WithPlatform attaches a platform id (e.g. "IOS").
func (c Context) WithPlatform(id string) Context {
	c.platform = id
	c.caps |= capPlatform
	return c
}

// WithVersion attaches an app/client version.
func (c Context) WithVersion(v Version) Context {
	c.version = v
	c.caps |= capVersion
	return c
}

// WithStableId attaches the subject's stable id, used for bucketing and
// allowlists.
func (c Context) WithStableId(id StableId) Context {
	c.stableID = id
	c.caps |= capStableId
	return c
}

// WithAxisValue appends a value for the given axis id. A context may carry
// more than one value per axis (spec.md §3: "Axis matches if any context
// value for that axis id is in the set").
func (c Context) WithAxisValue(axisID string, value AxisValue) Context {
	if c.axisValues == nil {
		c.axisValues = map[string][]AxisValue{}
	} else {
		// copy-on-write so sibling contexts built from the same base don't alias.
		cp := make(map[string][]AxisValue, len(c.axisValues))
		for k, v := range c.axisValues {
			cp[k] = v
		}
		c.axisValues = cp
	}
	c.axisValues[axisID] = append(append([]AxisValue{}, c.axisValues[axisID]...), value)
	return c
}

// WithAttribute attaches a free-form named attribute. The core engine never
// reads these directly — they exist for Extension predicates and for the
// legacy rule-expression importer (pkg/konditional/legacy) that targets
// arbitrary host attributes by name.
func (c Context) WithAttribute(name string, value any) Context {
	if c.extra == nil {
		c.extra = map[string]any{}
	} else {
		cp := make(map[string]any, len(c.extra))
		for k, v := range c.extra {
			cp[k] = v
		}
		c.extra = cp
	}
	c.extra[name] = value
	return c
}

// Locale returns the locale id and whether the context carries one.
func (c Context) Locale() (string, bool) { return c.locale, c.caps&capLocale != 0 }

// Platform returns the platform id and whether the context carries one.
func (c Context) Platform() (string, bool) { return c.platform, c.caps&capPlatform != 0 }

// AppVersion returns the version and whether the context carries one.
func (c Context) AppVersion() (Version, bool) { return c.version, c.caps&capVersion != 0 }

// StableId returns the stable id and whether the context carries one.
func (c Context) StableId() (StableId, bool) { return c.stableID, c.caps&capStableId != 0 }

// AxisValues returns the values recorded for an axis id.
func (c Context) AxisValues(axisID string) []AxisValue {
	return c.axisValues[axisID]
}

// Attribute returns a free-form attribute by name.
func (c Context) Attribute(name string) (any, bool) {
	v, ok := c.extra[name]
	return v, ok
}

// hasCapability reports whether every bit in want is set — used by Guarded
// criteria to witness that a context can be viewed as a more capable one
// before delegating to an inner criterion.
func (c Context) hasCapability(want capability) bool {
	return c.caps&want == want
}
