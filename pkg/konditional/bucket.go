package konditional

import (
	"crypto/sha256"
	"encoding/binary"
	"hash"
	"sync"
)

// bucketCount is the number of discrete buckets a stable id is hashed into.
// Ten thousand buckets give two decimal digits of rollout precision.
const bucketCount = 10_000

// noStableIdBucket is the constant bucket used when a context carries no
// StableId. Spec.md §4.1 chose a fixed high bucket over failing the
// evaluation, so "nobody with a rollout under 99.99%" silently excludes
// anonymous contexts instead of panicking.
const noStableIdBucket = 9_999

// digestPool recycles sha256.New() hash.Hash values per goroutine-ish burst
// of bucketing calls. Correctness never depends on reuse — only throughput
// does — matching spec.md §5's "thread-local digest, correctness doesn't
// depend on thread-locality" note.
var digestPool = sync.Pool{
	New: func() any { return sha256.New() },
}

// Bucket computes the deterministic bucket in [0, bucketCount) for
// (salt, featureKey, stableIdHex), per spec.md §4.1:
//  1. concatenate UTF-8 bytes of "salt:featureKey:stableIdHex"
//  2. SHA-256
//  3. take the first four bytes as a big-endian uint32
//  4. reduce mod 10,000
func Bucket(salt, featureKey, stableIdHex string) int {
	h := digestPool.Get().(hash.Hash)
	defer digestPool.Put(h)
	h.Reset()

	h.Write([]byte(salt))
	h.Write([]byte{':'})
	h.Write([]byte(featureKey))
	h.Write([]byte{':'})
	h.Write([]byte(stableIdHex))

	sum := h.Sum(nil)
	n := binary.BigEndian.Uint32(sum[:4])
	return int(n % bucketCount)
}

// BucketForContext computes the bucket to use for a rollout decision: the
// real bucket when ctx carries a StableId, or the fixed noStableIdBucket
// constant otherwise.
func BucketForContext(salt, featureKey string, ctx Context) int {
	id, ok := ctx.StableId()
	if !ok {
		return noStableIdBucket
	}
	return Bucket(salt, featureKey, id.Hex())
}

// RolloutThresholdBasisPoints converts a RampUp percentage into the bucket
// threshold (basis points out of 10,000) used by InRollout.
func RolloutThresholdBasisPoints(r RampUp) int {
	r = r.Clamp()
	// round-half-up, matching spec.md §4.1's round(r * 100).
	return int(float64(r)*100 + 0.5)
}

// InRollout reports whether bucket falls inside the rollout for r:
// everybody if r>=100, nobody if r<=0, otherwise bucket < threshold(r).
func InRollout(r RampUp, bucket int) bool {
	switch {
	case r >= Everybody:
		return true
	case r <= Nobody:
		return false
	default:
		return bucket < RolloutThresholdBasisPoints(r)
	}
}
