package qos

import (
	"testing"
	"time"
)

func TestCheckCompatibleDefaultPolicyMatches(t *testing.T) {
	if bad := CheckCompatible(Default(), Default()); len(bad) != 0 {
		t.Fatalf("expected default-vs-default to be compatible, got %v", bad)
	}
}

func TestCheckCompatibleReportsEveryMismatchedPolicy(t *testing.T) {
	offered := Policy{
		Reliability: BestEffort,
		Durability:  Volatile,
		Deadline:    0,
		Ownership:   SharedOwnership,
		Partitions:  []string{"a"},
	}
	requested := Policy{
		Reliability: Reliable,
		Durability:  TransientLocal,
		Deadline:    time.Second,
		Ownership:   ExclusiveOwnership,
		Partitions:  []string{"b"},
	}

	bad := CheckCompatible(offered, requested)
	if len(bad) != 5 {
		t.Fatalf("expected 5 incompatibilities, got %d: %v", len(bad), bad)
	}
}

func TestCheckCompatiblePartitionsIntersectWhenSharedName(t *testing.T) {
	offered := Default()
	offered.Partitions = []string{"x", "y"}
	requested := Default()
	requested.Partitions = []string{"y", "z"}

	if bad := CheckCompatible(offered, requested); len(bad) != 0 {
		t.Fatalf("expected shared partition name to be compatible, got %v", bad)
	}
}

func TestMergeAnnouncedOverlaysNonZeroFields(t *testing.T) {
	base := Default()
	announced := Policy{Reliability: Reliable, Depth: 10}

	merged, err := MergeAnnounced(base, announced)
	if err != nil {
		t.Fatalf("MergeAnnounced: %v", err)
	}
	if merged.Reliability != Reliable {
		t.Fatalf("expected announced reliability to override base, got %v", merged.Reliability)
	}
	if merged.Depth != 10 {
		t.Fatalf("expected announced depth to override base, got %d", merged.Depth)
	}
}
