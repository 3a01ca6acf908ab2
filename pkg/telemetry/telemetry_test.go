package telemetry

import (
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c interface{ Write(*dto.Metric) error }) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("Write: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestRecordSubmessageIncrementsByKindAndDirection(t *testing.T) {
	before := counterValue(t, SubmessagesTotal.WithLabelValues("DATA", "sent"))
	RecordSubmessage("DATA", "sent")
	after := counterValue(t, SubmessagesTotal.WithLabelValues("DATA", "sent"))
	if after != before+1 {
		t.Fatalf("expected counter to increment by 1, got %v -> %v", before, after)
	}
}

func TestObserveAckNackLatencyRecordsMilliseconds(t *testing.T) {
	var before dto.Metric
	if err := AckNackLatency.Write(&before); err != nil {
		t.Fatalf("Write: %v", err)
	}
	ObserveAckNackLatency(5 * time.Millisecond)
	var after dto.Metric
	if err := AckNackLatency.Write(&after); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if after.GetHistogram().GetSampleCount() != before.GetHistogram().GetSampleCount()+1 {
		t.Fatalf("expected histogram sample count to increment")
	}
}
