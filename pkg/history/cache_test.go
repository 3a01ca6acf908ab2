package history

import (
	"context"
	"testing"
	"time"

	"github.com/krakdds/rtps-engine/pkg/errkind"
	"github.com/krakdds/rtps-engine/pkg/qos"
)

func mkChange(seq uint64, handle InstanceHandle, ts time.Time) *Change {
	return &Change{
		Kind:            Alive,
		SeqNr:           seq,
		InstanceHandle:  handle,
		SourceTimestamp: ts,
		Payload:         NewData([]byte{byte(seq)}),
	}
}

func TestKeepLastDepthEnforced(t *testing.T) {
	c := New(qos.ResourceLimits{}, 0)
	handle := InstanceHandle{1}

	base := time.Now()
	for i := 0; i < 10; i++ {
		ch := mkChange(uint64(i), handle, base.Add(time.Duration(i)*time.Millisecond))
		rej, err := c.AddInst(context.Background(), ch, qos.KeepLast, 1, false)
		if err != nil || rej != errkind.RejectedNone {
			t.Fatalf("add %d: rej=%v err=%v", i, rej, err)
		}
	}

	out := c.Take(StateMask{})
	if len(out) != 1 {
		t.Fatalf("expected exactly 1 retained sample with KEEP_LAST depth=1, got %d", len(out))
	}
	if out[0].SeqNr != 9 {
		t.Fatalf("expected most recent sample (seq=9), got seq=%d", out[0].SeqNr)
	}
}

func TestKeepAllRejectsBestEffortOverMax(t *testing.T) {
	c := New(qos.ResourceLimits{MaxSamples: 2}, 0)
	handle := InstanceHandle{2}

	base := time.Now()
	for i := 0; i < 2; i++ {
		ch := mkChange(uint64(i), handle, base.Add(time.Duration(i)*time.Millisecond))
		rej, err := c.AddInst(context.Background(), ch, qos.KeepAll, 0, false)
		if err != nil || rej != errkind.RejectedNone {
			t.Fatalf("add %d: rej=%v err=%v", i, rej, err)
		}
	}

	ch := mkChange(2, handle, base.Add(2*time.Millisecond))
	rej, err := c.AddInst(context.Background(), ch, qos.KeepAll, 0, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rej != errkind.RejectedBySamples {
		t.Fatalf("expected rejected_by_samples, got %v", rej)
	}
}

func TestKeepAllBlocksReliableUntilCapacity(t *testing.T) {
	c := New(qos.ResourceLimits{MaxSamples: 1}, 0)
	handle := InstanceHandle{3}

	ch0 := mkChange(0, handle, time.Now())
	if _, err := c.AddInst(context.Background(), ch0, qos.KeepAll, 0, true); err != nil {
		t.Fatalf("first add: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		ch1 := mkChange(1, handle, time.Now())
		_, err := c.AddInst(ctx, ch1, qos.KeepAll, 0, true)
		errCh <- err
	}()

	select {
	case err := <-errCh:
		if err != errkind.ErrTimeout {
			t.Fatalf("expected timeout once capacity never frees, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("reliable KEEP_ALL add did not return within 1s")
	}
}

func TestTakeRemovesFromReadPathButRetainsUntilAcked(t *testing.T) {
	c := New(qos.ResourceLimits{}, 0)
	handle := InstanceHandle{4}

	ch := mkChange(0, handle, time.Now())
	ch.AddAckPending(1)
	if _, err := c.AddInst(context.Background(), ch, qos.KeepLast, 1, false); err != nil {
		t.Fatal(err)
	}

	taken := c.Take(StateMask{})
	if len(taken) != 1 {
		t.Fatalf("expected 1 sample taken, got %d", len(taken))
	}
	if again := c.Take(StateMask{}); len(again) != 0 {
		t.Fatalf("expected taken sample to not reappear, got %d", len(again))
	}

	if c.Stats().Samples != 1 {
		t.Fatalf("expected sample to remain accounted for until acked, got %d", c.Stats().Samples)
	}

	ch.Acked()
	c.Take(StateMask{}) // triggers purge pass
	if c.Stats().Samples != 0 {
		t.Fatalf("expected sample purged once fully acked, got %d", c.Stats().Samples)
	}
}

func TestTimeBasedFilterRejectsTooClose(t *testing.T) {
	c := New(qos.ResourceLimits{}, 100*time.Millisecond)
	handle := InstanceHandle{5}

	base := time.Now()
	ch0 := mkChange(0, handle, base)
	if rej, _ := c.AddReceived(ch0, false, nil); rej != errkind.RejectedNone {
		t.Fatalf("first sample should be accepted, got %v", rej)
	}

	ch1 := mkChange(1, handle, base.Add(10*time.Millisecond))
	if rej, _ := c.AddReceived(ch1, false, nil); rej != errkind.RejectedByFilter {
		t.Fatalf("expected rejected_by_filter for sample arriving too soon, got %v", rej)
	}
}
