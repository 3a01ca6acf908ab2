// Package qos defines the QoS policy bundle governing reliability,
// durability, history, deadline and related endpoint behavior (spec §3
// glossary), and the compatibility check SEDP uses at match time
// (spec §4.6).
package qos

import (
	"fmt"
	"time"

	"github.com/imdario/mergo"
)

// Reliability selects between best-effort and reliable delivery.
type Reliability int

const (
	BestEffort Reliability = iota
	Reliable
)

// Durability selects how much history a late-joining reader receives.
type Durability int

const (
	Volatile Durability = iota
	TransientLocal
	Transient
	Persistent
)

// HistoryKind selects the writer/reader history retention strategy.
type HistoryKind int

const (
	KeepLast HistoryKind = iota
	KeepAll
)

// Ownership selects exclusive vs shared instance ownership.
type Ownership int

const (
	SharedOwnership Ownership = iota
	ExclusiveOwnership
)

// Policy is the QoS bundle attached to a topic, reader or writer.
type Policy struct {
	Reliability           Reliability
	Durability            Durability
	History               HistoryKind
	Depth                 int // meaningful when History == KeepLast
	Deadline              time.Duration
	Lifespan              time.Duration
	Ownership             Ownership
	Partitions            []string
	MaxBlockingTime       time.Duration
	ResourceLimits        ResourceLimits
	TimeBasedFilterMinSep time.Duration
}

// ResourceLimits bounds a history cache's footprint, per spec §3/§4.2.
type ResourceLimits struct {
	MaxSamples            int // 0 means unbounded
	MaxInstances          int
	MaxSamplesPerInstance int
}

// Default returns the engine's baseline QoS: best-effort, volatile,
// keep-last depth 1 — the RTPS default profile.
func Default() Policy {
	return Policy{
		Reliability: BestEffort,
		Durability:  Volatile,
		History:     KeepLast,
		Depth:       1,
		ResourceLimits: ResourceLimits{
			MaxSamples:            0,
			MaxInstances:          0,
			MaxSamplesPerInstance: 0,
		},
	}
}

// MergeAnnounced overlays the non-zero fields of announced (a QoS bundle
// carried on an SEDP discovery record from a remote participant) onto
// base (the locally configured default), returning the effective policy
// used to evaluate a single discovered endpoint's request.
//
// Using mergo here — rather than hand-rolling a field-by-field overlay —
// follows the teacher's own pkg/charts/values.go, which overlays a Helm
// release's values over chart defaults the same way.
func MergeAnnounced(base Policy, announced Policy) (Policy, error) {
	merged := base
	if err := mergo.Merge(&merged, announced, mergo.WithOverride); err != nil {
		return Policy{}, fmt.Errorf("merging announced qos: %w", err)
	}
	return merged, nil
}

// Incompatibility names one offered/requested QoS mismatch.
type Incompatibility struct {
	PolicyID string
}

// CheckCompatible evaluates whether a reader's requested QoS is satisfied
// by a writer's offered QoS, per spec §4.6 (reliability, durability,
// deadline, ownership, partitions). It returns the list of incompatible
// policies; an empty list means the pair may be matched.
func CheckCompatible(offered, requested Policy) []Incompatibility {
	var bad []Incompatibility

	if requested.Reliability == Reliable && offered.Reliability == BestEffort {
		bad = append(bad, Incompatibility{PolicyID: "reliability"})
	}
	if requested.Durability > offered.Durability {
		bad = append(bad, Incompatibility{PolicyID: "durability"})
	}
	if requested.Deadline > 0 && (offered.Deadline == 0 || offered.Deadline > requested.Deadline) {
		bad = append(bad, Incompatibility{PolicyID: "deadline"})
	}
	if requested.Ownership != offered.Ownership {
		bad = append(bad, Incompatibility{PolicyID: "ownership"})
	}
	if !partitionsIntersect(offered.Partitions, requested.Partitions) {
		bad = append(bad, Incompatibility{PolicyID: "partitions"})
	}
	return bad
}

func partitionsIntersect(a, b []string) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	set := make(map[string]struct{}, len(a))
	for _, p := range a {
		set[p] = struct{}{}
	}
	for _, p := range b {
		if _, ok := set[p]; ok {
			return true
		}
	}
	return false
}
