package reader

import (
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/krakdds/rtps-engine/pkg/history"
	"github.com/krakdds/rtps-engine/pkg/locator"
	"github.com/krakdds/rtps-engine/pkg/msgpool"
	"github.com/krakdds/rtps-engine/pkg/participant"
	"github.com/krakdds/rtps-engine/pkg/proxy"
	"github.com/krakdds/rtps-engine/pkg/qos"
	"github.com/krakdds/rtps-engine/pkg/timer"
	"github.com/krakdds/rtps-engine/pkg/wire"
)

type recordingSender struct {
	mu    sync.Mutex
	count int
}

func (r *recordingSender) SendTo(dst []locator.Locator, msg []byte) error {
	r.mu.Lock()
	r.count++
	r.mu.Unlock()
	return nil
}

func (r *recordingSender) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

func newTestReader(t *testing.T, kind Kind) (*Reader, *recordingSender) {
	t.Helper()
	wheel := timer.NewWheel()
	t.Cleanup(wheel.Stop)
	sender := &recordingSender{}
	pool := msgpool.NewPool(64)
	cache := history.New(qos.ResourceLimits{}, 0)
	guid := participant.GUID{Prefix: participant.GUIDPrefix{5, 5, 5}}
	cfg := Config{HeartbeatRespDelay: 5 * time.Millisecond}
	r := New(kind, guid, cache, cfg, wheel, sender, pool, binary.LittleEndian)
	return r, sender
}

func TestBestEffortDataDeliversAndAdvances(t *testing.T) {
	r, _ := newTestReader(t, BestEffort)
	writerGUID := participant.GUID{Prefix: participant.GUIDPrefix{7, 7, 7}}
	p := proxy.NewRemoteWriter(writerGUID)
	r.MatchWriter(p)

	d := wire.Data{SeqNr: 5, SerializedData: []byte("payload")}
	r.Data(writerGUID, d, nil, time.Now())

	if p.LowestUnreceived != 6 {
		t.Fatalf("expected lowest unreceived to jump to 6, got %d", p.LowestUnreceived)
	}
	taken := r.Cache.Take(history.StateMask{})
	if len(taken) != 1 {
		t.Fatalf("expected 1 delivered sample, got %d", len(taken))
	}
}

func TestReliableHeartbeatSchedulesAckNack(t *testing.T) {
	r, sender := newTestReader(t, Reliable)
	writerGUID := participant.GUID{Prefix: participant.GUIDPrefix{7, 7, 7}}
	p := proxy.NewRemoteWriter(writerGUID)
	r.MatchWriter(p)

	r.Heartbeat(writerGUID, 1, 3, 1, false)
	if !p.HasMissing() {
		t.Fatal("expected 3 missing sequence numbers after heartbeat [1,3]")
	}

	deadline := time.Now().Add(200 * time.Millisecond)
	for sender.Count() == 0 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	if sender.Count() == 0 {
		t.Fatal("expected an ACKNACK to have been sent")
	}
}

func TestDataFragReassemblesBeforeDelivery(t *testing.T) {
	r, _ := newTestReader(t, Reliable)
	writerGUID := participant.GUID{Prefix: participant.GUIDPrefix{7, 7, 7}}
	p := proxy.NewRemoteWriter(writerGUID)
	r.MatchWriter(p)

	full := []byte("0123456789abcdef")
	r.DataFrag(writerGUID, wire.DataFrag{SeqNr: 1, FragmentStart: 1, FragmentSize: 8, SampleSize: 16, FragmentData: full[0:8]}, nil, time.Now())
	if len(r.Cache.Take(history.StateMask{})) != 0 {
		t.Fatal("expected no delivery before all fragments arrive")
	}
	r.DataFrag(writerGUID, wire.DataFrag{SeqNr: 1, FragmentStart: 2, FragmentSize: 8, SampleSize: 16, FragmentData: full[8:16]}, nil, time.Now())

	taken := r.Cache.Take(history.StateMask{})
	if len(taken) != 1 {
		t.Fatalf("expected 1 delivered reassembled sample, got %d", len(taken))
	}
	if string(taken[0].Payload.Bytes) != string(full) {
		t.Fatalf("reassembled payload = %q, want %q", taken[0].Payload.Bytes, full)
	}
}
