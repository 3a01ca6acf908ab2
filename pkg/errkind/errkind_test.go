package errkind

import "testing"

func TestRejectedStringNames(t *testing.T) {
	cases := map[Rejected]string{
		RejectedNone:                 "not_rejected",
		RejectedBySamples:            "rejected_by_samples_limit",
		RejectedByInstances:          "rejected_by_instances_limit",
		RejectedBySamplesPerInstance: "rejected_by_samples_per_instance_limit",
		RejectedByFilter:             "rejected_by_filter",
	}
	for r, want := range cases {
		if got := r.String(); got != want {
			t.Errorf("Rejected(%d).String() = %q, want %q", r, got, want)
		}
	}
}
