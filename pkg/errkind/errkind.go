// Package errkind defines the error kinds surfaced by the RTPS engine.
//
// These mirror the error kinds enumerated in the engine's wire and cache
// specification: callers use errors.Is against the sentinels below rather
// than matching on message text.
package errkind

import "errors"

var (
	// ErrBadParameter indicates a caller passed an invalid argument.
	ErrBadParameter = errors.New("bad_parameter")
	// ErrPreconditionNotMet indicates an operation's precondition failed.
	ErrPreconditionNotMet = errors.New("precondition_not_met")
	// ErrAlreadyDeleted indicates the target entity no longer exists.
	ErrAlreadyDeleted = errors.New("already_deleted")
	// ErrNotEnabled indicates the entity has not yet been enabled.
	ErrNotEnabled = errors.New("not_enabled")
	// ErrOutOfResources indicates a resource limit was reached.
	ErrOutOfResources = errors.New("out_of_resources")
	// ErrTimeout indicates a blocking operation exceeded its deadline.
	ErrTimeout = errors.New("timeout")
	// ErrInconsistentPolicy indicates an incompatible combination of QoS.
	ErrInconsistentPolicy = errors.New("inconsistent_policy")
	// ErrAccessDenied indicates a security check rejected the operation.
	ErrAccessDenied = errors.New("access_denied")
	// ErrUnsupported indicates the request is not implemented.
	ErrUnsupported = errors.New("unsupported")
)

// Rejected describes why a history-cache add was refused, distinguishing
// the resource-limit reason so callers can decide whether to retry.
type Rejected int

const (
	// RejectedNone means the add was not rejected.
	RejectedNone Rejected = iota
	// RejectedBySamples means max_samples was reached.
	RejectedBySamples
	// RejectedByInstances means max_instances was reached.
	RejectedByInstances
	// RejectedBySamplesPerInstance means max_samples_per_instance was reached.
	RejectedBySamplesPerInstance
	// RejectedByFilter means a time-based or content filter discarded the sample.
	RejectedByFilter
)

func (r Rejected) String() string {
	switch r {
	case RejectedBySamples:
		return "rejected_by_samples_limit"
	case RejectedByInstances:
		return "rejected_by_instances_limit"
	case RejectedBySamplesPerInstance:
		return "rejected_by_samples_per_instance_limit"
	case RejectedByFilter:
		return "rejected_by_filter"
	default:
		return "not_rejected"
	}
}
