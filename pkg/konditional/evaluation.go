package konditional

import "time"

// DecisionKind classifies why an evaluation produced the value it did,
// per spec.md §4.4's explainability requirement.
type DecisionKind string

const (
	// DecisionInactive means the definition's Active flag was false: every
	// evaluation serves Default regardless of rules.
	DecisionInactive DecisionKind = "INACTIVE"
	// DecisionRegistryDisabled means the namespace's kill switch was
	// engaged (spec.md §5's "operator-level escape hatch"): every feature
	// in the namespace serves its default, regardless of that feature's
	// own Active flag. Distinct from DecisionInactive so a host can tell
	// "this one flag is off" apart from "the whole namespace is killed"
	// (spec.md §8 property #3 vs property #2).
	DecisionRegistryDisabled DecisionKind = "REGISTRY_DISABLED"
	// DecisionRuleMatch means some rule's targeting matched and its
	// rollout (or an allowlist) included the context; that rule's value
	// was served.
	DecisionRuleMatch DecisionKind = "RULE_MATCH"
	// DecisionDefault means the definition was active but no rule both
	// matched and passed its rollout gate.
	DecisionDefault DecisionKind = "DEFAULT"
)

// EvaluationMode distinguishes a result actually served to a caller from
// one produced only for shadow comparison (spec.md §4.7), since both share
// the EvaluationResult shape.
type EvaluationMode string

const (
	ModeNormal EvaluationMode = "NORMAL"
	ModeShadow EvaluationMode = "SHADOW"
)

// BucketInfo records the rollout bucketing math behind a decision, for
// diagnostics and shadow-mode comparison (spec.md §4.1).
type BucketInfo struct {
	HasStableId bool
	StableId    StableId
	Bucket      int
	Threshold   int
}

// RuleExplanation records one rule's fate during evaluation: whether its
// targeting matched, whether rollout/allowlist then included it, and the
// bucket math behind that call.
type RuleExplanation struct {
	Index           int
	Note            string
	Specificity     int
	TargetingMatch  bool
	RolloutIncluded bool
	AllowlistHit    bool
	Bucket          BucketInfo
}

// Decision is the non-value half of an evaluation outcome.
type Decision struct {
	Kind      DecisionKind
	RuleIndex int // -1 when Kind is DecisionInactive, DecisionRegistryDisabled, or DecisionDefault, and for a namespace override
	Note      string
}

// EvaluationResult is the full explain-mode outcome of evaluating one
// feature for one context: the value plus the decision that produced it,
// the timing/versioning metadata spec.md §3's data model mandates, and
// (when requested) a trace of every rule considered.
type EvaluationResult[T any] struct {
	Feature  FeatureId
	Value    T
	Decision Decision
	Trace    []RuleExplanation

	// Mode distinguishes a served result from a shadow-only one (spec.md
	// §4.7); EvaluateWithReason always produces ModeNormal, shadow.go
	// relabels the candidate's result ModeShadow.
	Mode EvaluationMode
	// DurationNanos is the wall-clock cost of the evaluation itself
	// (spec.md §4.4 steps 1 and 9: "start a high-resolution timer" ...
	// "attach duration_ns"), exclusive of any Namespace-level bookkeeping
	// the caller does around it.
	DurationNanos int64
	// NamespaceId is the Namespace this evaluation ran against, populated
	// by EvaluateFeature/EvaluateAny; empty when EvaluateWithReason is
	// called directly against a bare FlagDefinition (no namespace in
	// scope, e.g. in unit tests or shadow comparisons).
	NamespaceId string
	// ConfigVersion is the Configuration.Version in effect at evaluation
	// time, populated the same way as NamespaceId.
	ConfigVersion int64
	// SkippedByRollout is the first rule (in canonical order) whose
	// targeting matched but whose rollout/allowlist gate did not include
	// the context, per spec.md §4.4 step 7 and Open Question #2. Nil when
	// no rule's targeting matched, or when the first matching rule was
	// also rollout-included.
	SkippedByRollout *RuleExplanation
}

// Evaluate is the totality-preserving core algorithm of spec.md §4.4: it
// always returns a T, never an error, and never panics on a well-formed
// definition. Inactive definitions and contexts with no matching,
// rollout-included rule fall through to Default.
func Evaluate[T any](def *FlagDefinition[T], ctx Context) T {
	return EvaluateWithReason(def, ctx).Value
}

// EvaluateWithReason runs the full algorithm and explains itself: for each
// rule in canonical order, it checks targeting, then — only if targeting
// matched — checks whether the context is in the rule's rollout (or on an
// allowlist, which always short-circuits the rollout check). The first
// rule that matches AND is rollout-included wins; anything else falls
// through to the next rule, and exhausting all rules falls through to
// Default.
func EvaluateWithReason[T any](def *FlagDefinition[T], ctx Context) (result EvaluationResult[T]) {
	start := time.Now()
	defer func() {
		result.Mode = ModeNormal
		result.DurationNanos = time.Since(start).Nanoseconds()
	}()

	if !def.Active {
		result = EvaluationResult[T]{
			Feature:  def.Feature,
			Value:    def.Default,
			Decision: Decision{Kind: DecisionInactive, RuleIndex: -1},
		}
		return
	}

	trace := make([]RuleExplanation, 0, len(def.Rules))
	var skipped *RuleExplanation
	bucket := -1
	var bucketInfo BucketInfo
	bucketComputed := false

	for i, rv := range def.Rules {
		rule := rv.Rule
		expl := RuleExplanation{
			Index:       i,
			Note:        rule.Note,
			Specificity: rule.specificity(),
		}

		expl.TargetingMatch = rule.Targeting.matches(ctx)
		if !expl.TargetingMatch {
			trace = append(trace, expl)
			continue
		}

		if id, ok := ctx.StableId(); ok {
			if _, allowed := rule.Allowlist[id]; allowed {
				expl.AllowlistHit = true
			} else if _, allowed := def.RolloutAllowlist[id]; allowed {
				expl.AllowlistHit = true
			}
		}

		if !bucketComputed {
			bucketComputed = true
			if id, ok := ctx.StableId(); ok {
				bucket = Bucket(def.Salt, def.Feature.String(), id.Hex())
				bucketInfo = BucketInfo{HasStableId: true, StableId: id, Bucket: bucket}
			} else {
				bucket = noStableIdBucket
				bucketInfo = BucketInfo{HasStableId: false, Bucket: bucket}
			}
			bucketInfo.Threshold = RolloutThresholdBasisPoints(rule.Rollout)
		}
		expl.Bucket = bucketInfo
		expl.Bucket.Threshold = RolloutThresholdBasisPoints(rule.Rollout)

		expl.RolloutIncluded = expl.AllowlistHit || InRollout(rule.Rollout, bucket)
		trace = append(trace, expl)

		if expl.RolloutIncluded {
			result = EvaluationResult[T]{
				Feature:          def.Feature,
				Value:            rv.Value,
				Decision:         Decision{Kind: DecisionRuleMatch, RuleIndex: i, Note: rule.Note},
				Trace:            trace,
				SkippedByRollout: skipped,
			}
			return
		}

		if skipped == nil {
			skippedCopy := expl
			skipped = &skippedCopy
		}
	}

	result = EvaluationResult[T]{
		Feature:          def.Feature,
		Value:            def.Default,
		Decision:         Decision{Kind: DecisionDefault, RuleIndex: -1},
		Trace:            trace,
		SkippedByRollout: skipped,
	}
	return
}
