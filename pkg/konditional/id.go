package konditional

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// StableId is a canonical lowercase hex identifier used for bucketing and
// allowlist membership. It carries no semantics beyond "stable per subject":
// hosts typically derive it from a user id, device id, or session id.
type StableId struct {
	hex string
}

// StableIdOf hashes an arbitrary input into a 128-bit StableId (the first
// 16 bytes of its SHA-256 digest). Two calls with the same input always
// produce the same StableId.
func StableIdOf(input string) StableId {
	sum := sha256.Sum256([]byte(input))
	return StableId{hex: hex.EncodeToString(sum[:16])}
}

// StableIdFromHex builds a StableId from a pre-computed hex string. The
// string must be non-blank and ≤32 hex chars (128 bits); it is lowercased.
func StableIdFromHex(h string) (StableId, error) {
	h = strings.TrimSpace(h)
	if h == "" {
		return StableId{}, fmt.Errorf("konditional: stable id must not be blank")
	}
	if len(h) > 32 {
		return StableId{}, fmt.Errorf("konditional: stable id exceeds 128 bits (%d hex chars)", len(h))
	}
	if _, err := hex.DecodeString(h); err != nil {
		return StableId{}, fmt.Errorf("konditional: stable id is not valid hex: %w", err)
	}
	return StableId{hex: strings.ToLower(h)}, nil
}

// Hex returns the canonical lowercase hex representation.
func (s StableId) Hex() string { return s.hex }

// IsZero reports whether this StableId was never set (the zero value).
func (s StableId) IsZero() bool { return s.hex == "" }

func (s StableId) String() string { return s.hex }

// FeatureId is the canonical identifier of a declared feature:
// "feature::<namespace_seed>::<key>". It is lexicographically comparable,
// which keeps encode() output deterministic when flags are sorted by id.
type FeatureId struct {
	NamespaceSeed string
	Key           string
}

const featureIdPrefix = "feature"

// NewFeatureId builds a FeatureId for a namespace seed and key. Neither may
// be blank or contain "::".
func NewFeatureId(namespaceSeed, key string) (FeatureId, error) {
	if namespaceSeed == "" || strings.Contains(namespaceSeed, "::") {
		return FeatureId{}, fmt.Errorf("konditional: invalid namespace seed %q", namespaceSeed)
	}
	if key == "" || strings.Contains(key, "::") {
		return FeatureId{}, fmt.Errorf("konditional: invalid feature key %q", key)
	}
	return FeatureId{NamespaceSeed: namespaceSeed, Key: key}, nil
}

// ParseFeatureId parses the "feature::<seed>::<key>" wire form.
func ParseFeatureId(s string) (FeatureId, error) {
	parts := strings.Split(s, "::")
	if len(parts) != 3 || parts[0] != featureIdPrefix || parts[1] == "" || parts[2] == "" {
		return FeatureId{}, fmt.Errorf("konditional: malformed feature id %q", s)
	}
	return FeatureId{NamespaceSeed: parts[1], Key: parts[2]}, nil
}

// String renders the canonical "feature::<seed>::<key>" wire form.
func (f FeatureId) String() string {
	return fmt.Sprintf("%s::%s::%s", featureIdPrefix, f.NamespaceSeed, f.Key)
}

// Less orders FeatureId lexicographically by its wire string.
func (f FeatureId) Less(other FeatureId) bool {
	return f.String() < other.String()
}

// Version is a semver-like (major, minor, patch) triple with total order.
type Version struct {
	Major, Minor, Patch int
	unbounded           bool
}

// UnboundedVersion is the distinguished "no version" value: it compares as
// greater than every concrete version when used as an upper bound, and less
// than every concrete version when used as a lower bound. Callers should not
// compare it directly with Compare; use VersionRange instead.
var UnboundedVersion = Version{unbounded: true}

// NewVersion constructs a concrete (major, minor, patch) version.
func NewVersion(major, minor, patch int) Version {
	return Version{Major: major, Minor: minor, Patch: patch}
}

// IsUnbounded reports whether this is the distinguished unbounded value.
func (v Version) IsUnbounded() bool { return v.unbounded }

// Compare returns -1, 0, or 1 comparing v to other by tuple order. It panics
// if either value is UnboundedVersion — callers must special-case that via
// VersionRange, which never calls Compare on it.
func (v Version) Compare(other Version) int {
	if v.unbounded || other.unbounded {
		panic("konditional: Version.Compare called with UnboundedVersion")
	}
	switch {
	case v.Major != other.Major:
		return cmpInt(v.Major, other.Major)
	case v.Minor != other.Minor:
		return cmpInt(v.Minor, other.Minor)
	default:
		return cmpInt(v.Patch, other.Patch)
	}
}

func (v Version) String() string {
	if v.unbounded {
		return "unbounded"
	}
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// VersionRangeKind tags the shape of a VersionRange for wire encoding.
type VersionRangeKind int

const (
	VersionRangeUnbounded VersionRangeKind = iota
	VersionRangeMinBound
	VersionRangeMaxBound
	VersionRangeFullyBound
)

// VersionRange is the tagged variant {Unbounded | MinBound | MaxBound |
// FullyBound} from spec.md §3.
type VersionRange struct {
	Kind VersionRangeKind
	Min  Version
	Max  Version
}

// UnboundedRange matches every version.
func UnboundedRange() VersionRange { return VersionRange{Kind: VersionRangeUnbounded} }

// MinBoundRange matches any version ≥ min.
func MinBoundRange(min Version) VersionRange {
	return VersionRange{Kind: VersionRangeMinBound, Min: min}
}

// MaxBoundRange matches any version ≤ max.
func MaxBoundRange(max Version) VersionRange {
	return VersionRange{Kind: VersionRangeMaxBound, Max: max}
}

// FullyBoundRange matches any version in [min, max].
func FullyBoundRange(min, max Version) VersionRange {
	return VersionRange{Kind: VersionRangeFullyBound, Min: min, Max: max}
}

// HasBounds distinguishes VersionRangeUnbounded from every other kind.
func (r VersionRange) HasBounds() bool { return r.Kind != VersionRangeUnbounded }

// Contains reports whether v falls inside the range.
func (r VersionRange) Contains(v Version) bool {
	switch r.Kind {
	case VersionRangeUnbounded:
		return true
	case VersionRangeMinBound:
		return v.Compare(r.Min) >= 0
	case VersionRangeMaxBound:
		return v.Compare(r.Max) <= 0
	case VersionRangeFullyBound:
		return v.Compare(r.Min) >= 0 && v.Compare(r.Max) <= 0
	default:
		return false
	}
}

// RampUp is a rollout percentage in [0, 100]. Values ≤0 mean "nobody" and
// values ≥100 mean "everybody".
type RampUp float64

// Everybody is the RampUp value that always passes.
const Everybody RampUp = 100

// Nobody is the RampUp value that never passes.
const Nobody RampUp = 0

// Clamp returns r constrained to [0, 100].
func (r RampUp) Clamp() RampUp {
	switch {
	case r < 0:
		return 0
	case r > 100:
		return 100
	default:
		return r
	}
}

// Valid reports whether r is within [0, 100].
func (r RampUp) Valid() bool { return r >= 0 && r <= 100 }
