package konditional

import (
	"fmt"
	"reflect"
)

// Metadata carries the wire snapshot's self-describing header (spec.md
// §6.2's "meta" object): a host-authored semantic version string,
// independent of Configuration.Version (the registry's own monotonic
// counter used for patch/rollback bookkeeping).
type Metadata struct {
	SchemaVersion          string
	GeneratedAtEpochMillis int64
	Source                 string
}

// Configuration is an immutable snapshot of every feature's definition
// within one namespace at one version, per spec.md §5 ("a Configuration is
// a value, never mutated in place"). It boxes each feature's
// *FlagDefinition[T] as `any`; GetDefinition recovers the typed pointer.
type Configuration struct {
	Namespace string
	Version   int64
	Meta      Metadata

	flags map[FeatureId]any
}

// NewConfiguration returns an empty configuration at the given version.
func NewConfiguration(namespace string, version int64) *Configuration {
	return &Configuration{
		Namespace: namespace,
		Version:   version,
		flags:     map[FeatureId]any{},
	}
}

// PutDefinition installs def (a *FlagDefinition[T] for the T the feature
// was registered with) under id, overwriting any prior definition. Callers
// outside this package reach it through codec's decode path or through
// DefinitionBuilder.Build, never by constructing FlagDefinition directly.
func (c *Configuration) PutDefinition(id FeatureId, def any) {
	c.flags[id] = def
}

// RemoveDefinition drops a feature from the snapshot entirely — distinct
// from Active=false, which keeps the definition but always serves default.
func (c *Configuration) RemoveDefinition(id FeatureId) {
	delete(c.flags, id)
}

// FeatureIds returns every feature id present in the snapshot, in no
// particular order.
func (c *Configuration) FeatureIds() []FeatureId {
	ids := make([]FeatureId, 0, len(c.flags))
	for id := range c.flags {
		ids = append(ids, id)
	}
	return ids
}

// RawDefinition returns the type-erased *FlagDefinition[T] for id, for
// callers (the codec, diffing) that don't know T and only need to detect
// presence or pass the value along opaquely.
func (c *Configuration) RawDefinition(id FeatureId) (any, bool) {
	v, ok := c.flags[id]
	return v, ok
}

// GetDefinition recovers the typed definition for id. It returns
// ok=false both when id is absent and when it is present under a
// different T — callers should treat both the same way (fall back to a
// compile-time default), since a type mismatch here means a feature was
// re-registered with a different T than whatever produced this snapshot,
// which is itself a deployment error the host should log.
func GetDefinition[T any](c *Configuration, id FeatureId) (*FlagDefinition[T], bool) {
	raw, ok := c.flags[id]
	if !ok {
		return nil, false
	}
	def, ok := raw.(*FlagDefinition[T])
	return def, ok
}

// Clone returns a shallow copy of c with its own flags map, suitable as the
// basis for an Apply — FlagDefinition values themselves are never mutated
// after construction, so sharing them across snapshots is safe.
func (c *Configuration) Clone() *Configuration {
	next := &Configuration{
		Namespace: c.Namespace,
		Version:   c.Version,
		Meta:      c.Meta,
		flags:     make(map[FeatureId]any, len(c.flags)),
	}
	for id, def := range c.flags {
		next.flags[id] = def
	}
	return next
}

// ConfigurationPatch describes an incremental move from FromVersion to
// ToVersion: a set of feature definitions to upsert and a set to remove.
// Namespace.ApplyPatch applies a patch atomically, or rejects it if FromVersion
// doesn't match the namespace's current version (spec.md §5: "a patch
// targets an exact prior version; a stale patch is rejected, never
// silently rebased").
type ConfigurationPatch struct {
	Namespace   string
	FromVersion int64
	ToVersion   int64
	Upserts     map[FeatureId]any
	Removals    []FeatureId
}

// ErrStalePatch is returned by Apply when p.FromVersion does not match the
// configuration it is applied to.
type ErrStalePatch struct {
	Expected, Got int64
}

func (e *ErrStalePatch) Error() string {
	return fmt.Sprintf("konditional: stale patch: expected base version %d, got %d", e.Expected, e.Got)
}

// Apply returns a new Configuration reflecting p, without mutating c.
func (c *Configuration) Apply(p ConfigurationPatch) (*Configuration, error) {
	if p.FromVersion != c.Version {
		return nil, &ErrStalePatch{Expected: c.Version, Got: p.FromVersion}
	}
	next := c.Clone()
	for id, def := range p.Upserts {
		next.flags[id] = def
	}
	for _, id := range p.Removals {
		delete(next.flags, id)
	}
	next.Version = p.ToVersion
	return next, nil
}

// Diff computes the patch that moves from (old) to (next), comparing
// definitions by deep equality. Feature ids present in next but absent or
// different from old are upserts; ids present in old but absent from next
// are removals. Used to emit minimal over-the-wire patches instead of full
// snapshots on every config change (spec.md §5's "patch, not full reload,
// is the common case").
func Diff(old, next *Configuration) ConfigurationPatch {
	patch := ConfigurationPatch{
		Namespace:   next.Namespace,
		FromVersion: old.Version,
		ToVersion:   next.Version,
		Upserts:     map[FeatureId]any{},
	}
	for id, def := range next.flags {
		prior, ok := old.flags[id]
		if !ok || !reflect.DeepEqual(prior, def) {
			patch.Upserts[id] = def
		}
	}
	for id := range old.flags {
		if _, ok := next.flags[id]; !ok {
			patch.Removals = append(patch.Removals, id)
		}
	}
	return patch
}
