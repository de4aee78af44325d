package konditional_test

import (
	"testing"

	"github.com/amichne/konditional/pkg/konditional"
)

func TestBucketDeterministic(t *testing.T) {
	id := konditional.StableIdOf("user-1")
	b1 := konditional.Bucket("salt-a", "feature::app::x", id.Hex())
	b2 := konditional.Bucket("salt-a", "feature::app::x", id.Hex())
	if b1 != b2 {
		t.Fatalf("Bucket is not deterministic: %d != %d", b1, b2)
	}
}

func TestBucketSaltIndependence(t *testing.T) {
	id := konditional.StableIdOf("user-1")
	a := konditional.Bucket("salt-a", "feature::app::x", id.Hex())
	b := konditional.Bucket("salt-b", "feature::app::x", id.Hex())
	// Not a correctness property on its own, but two different salts should
	// not be forced to collide for every input — a regression that always
	// produces the same bucket regardless of salt would pass a single
	// sample by chance, so this loops over several ids.
	diff := false
	for i := 0; i < 50; i++ {
		idN := konditional.StableIdOf(string(rune('a' + i)))
		if konditional.Bucket("salt-a", "feature::app::x", idN.Hex()) != konditional.Bucket("salt-b", "feature::app::x", idN.Hex()) {
			diff = true
			break
		}
	}
	if !diff {
		t.Fatalf("bucket with salt-a (%d) and salt-b never diverged across 50 ids; salts are not independent", a)
	}
	_ = b
}

func TestBucketRange(t *testing.T) {
	for i := 0; i < 200; i++ {
		id := konditional.StableIdOf(string(rune(i)))
		b := konditional.Bucket("s", "feature::app::x", id.Hex())
		if b < 0 || b >= 10_000 {
			t.Fatalf("bucket %d out of range [0, 10000)", b)
		}
	}
}

func TestInRolloutMonotone(t *testing.T) {
	// A bucket included at a lower rollout percentage must still be
	// included at every higher percentage (spec.md's monotone rollout
	// property).
	bucket := 4321
	wasIn := false
	for pct := 0.0; pct <= 100.0; pct += 0.5 {
		in := konditional.InRollout(konditional.RampUp(pct), bucket)
		if wasIn && !in {
			t.Fatalf("rollout is not monotone: bucket %d was in at a lower percentage but not at %.1f", bucket, pct)
		}
		wasIn = in
	}
}

func TestInRolloutBoundaries(t *testing.T) {
	if !konditional.InRollout(konditional.Everybody, 9_999) {
		t.Fatal("Everybody must include every bucket")
	}
	if konditional.InRollout(konditional.Nobody, 0) {
		t.Fatal("Nobody must exclude every bucket")
	}
}

func TestBucketForContextMissingStableId(t *testing.T) {
	ctx := konditional.NewContext()
	b := konditional.BucketForContext("salt", "feature::app::x", ctx)
	if b != 9_999 {
		t.Fatalf("expected the fixed no-stable-id bucket 9999, got %d", b)
	}
}
