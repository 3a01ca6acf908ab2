package proxy

import (
	"testing"

	"github.com/krakdds/rtps-engine/pkg/history"
	"github.com/krakdds/rtps-engine/pkg/participant"
)

func TestSeqSetRanges(t *testing.T) {
	s := NewSeqSet()
	s.AddRange(1, 5)
	if s.Len() != 5 {
		t.Fatalf("expected 5 entries, got %d", s.Len())
	}
	s.RemoveRange(2, 3)
	if s.Len() != 3 {
		t.Fatalf("expected 3 entries after removing [2,3], got %d", s.Len())
	}
	if s.Has(2) || s.Has(3) {
		t.Fatal("expected 2 and 3 to be removed")
	}
	if !s.Has(1) || !s.Has(4) || !s.Has(5) {
		t.Fatal("expected 1, 4, 5 to remain")
	}
}

func TestRemoteReaderEnqueueAndAckNack(t *testing.T) {
	guid := participant.GUID{}
	p := NewRemoteReader(guid)

	for i := uint64(1); i <= 3; i++ {
		p.Enqueue(&history.Change{SeqNr: i})
	}
	if p.Unsent.Len() != 3 {
		t.Fatalf("expected 3 unsent, got %d", p.Unsent.Len())
	}

	queued := p.Dequeue()
	if len(queued) != 3 {
		t.Fatalf("expected 3 dequeued in order, got %d", len(queued))
	}
	for i, q := range queued {
		if q.Change.SeqNr != uint64(i+1) {
			t.Fatalf("expected queue order preserved, got seq=%d at index %d", q.Change.SeqNr, i)
		}
	}

	// ACKNACK: base=1, bitmap [false, true, false] means seq 1 acked,
	// seq 2 requested, seq 3 acked.
	p.ApplyAckNack(1, []bool{false, true, false})
	if p.Requested.Len() != 1 || !p.Requested.Has(2) {
		t.Fatalf("expected only seq 2 requested, got %v", p.Requested.Slice())
	}
	if p.Unacked.Len() != 1 || !p.Unacked.Has(2) {
		t.Fatalf("expected only seq 2 unacked, got %v", p.Unacked.Slice())
	}
}

func TestRemoteWriterHeartbeatAndGap(t *testing.T) {
	guid := participant.GUID{}
	p := NewRemoteWriter(guid)

	if !p.ObserveHeartbeat(1, 5, 1) {
		t.Fatal("expected first heartbeat to register as new")
	}
	if p.ObserveHeartbeat(1, 5, 1) {
		t.Fatal("expected repeated heartbeat count to be idempotent")
	}
	if p.Missing.Len() != 5 {
		t.Fatalf("expected all 5 seqnums missing before any data/gap, got %d", p.Missing.Len())
	}

	p.ApplyGap(1, 3)
	if p.Missing.Len() != 2 {
		t.Fatalf("expected 2 missing after gapping [1,3], got %d", p.Missing.Len())
	}

	p.ObserveData(4)
	p.ObserveData(5)
	if p.HasMissing() {
		t.Fatalf("expected no missing seqnums after receiving the rest, got %v", p.Missing.Slice())
	}
	if p.LowestUnreceived != 6 {
		t.Fatalf("expected lowest unreceived to advance to 6, got %d", p.LowestUnreceived)
	}
}
