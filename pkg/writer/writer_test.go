package writer

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

func newTestWriter(t *testing.T, kind Kind) (*Writer, *recordingSender) {
	t.Helper()
	wheel := timer.NewWheel()
	t.Cleanup(wheel.Stop)
	sender := &recordingSender{}
	pool := msgpool.NewPool(64)
	cache := history.New(qos.ResourceLimits{}, 0)
	guid := participant.GUID{Prefix: participant.GUIDPrefix{1, 2, 3}}
	cfg := Config{HeartbeatPeriod: 20 * time.Millisecond, ResendPeriod: 10 * time.Millisecond, HeartbeatRespFuzz: time.Millisecond}
	w := New(kind, guid, cache, cfg, wheel, sender, pool, binary.LittleEndian)
	return w, sender
}

func TestStatelessBestEffortSendsImmediatelyAndRetires(t *testing.T) {
	w, sender := newTestWriter(t, StatelessBestEffort)
	reader := participant.GUID{Prefix: participant.GUIDPrefix{9, 9, 9}}
	p := proxy.NewRemoteReader(reader)
	w.MatchReader(p)

	c := &history.Change{Payload: history.NewData([]byte("hello"))}
	c.AddAckPending(1)
	w.NewChange(c)

	if sender.Count() != 1 {
		t.Fatalf("expected 1 send, got %d", sender.Count())
	}
	if !p.IsFullyAcked() {
		t.Fatal("expected best-effort proxy to retire the change with no outstanding acks")
	}
}

func TestStatefulReliableTracksUnackedUntilAckNack(t *testing.T) {
	w, sender := newTestWriter(t, StatefulReliable)
	reader := participant.GUID{Prefix: participant.GUIDPrefix{9, 9, 9}}
	p := proxy.NewRemoteReader(reader)
	w.MatchReader(p)

	c := &history.Change{Payload: history.NewData([]byte("hello"))}
	c.AddAckPending(1)
	seq := w.NewChange(c)

	if sender.Count() == 0 {
		t.Fatal("expected an urgent heartbeat to have been sent")
	}
	if p.IsFullyAcked() {
		t.Fatal("expected reliable proxy to still await acknowledgement")
	}

	w.HandleAckNack(reader, seq, []bool{false}, 1)
	if !p.IsFullyAcked() {
		t.Fatal("expected proxy fully acked after ACKNACK clears the sequence number")
	}
}

func TestUnmatchReaderStopsFutureDelivery(t *testing.T) {
	w, sender := newTestWriter(t, StatelessBestEffort)
	reader := participant.GUID{Prefix: participant.GUIDPrefix{9, 9, 9}}
	p := proxy.NewRemoteReader(reader)
	w.MatchReader(p)
	w.UnmatchReader(reader)

	c := &history.Change{Payload: history.NewData([]byte("hello"))}
	w.NewChange(c)

	if sender.Count() != 0 {
		t.Fatalf("expected no sends after unmatch, got %d", sender.Count())
	}
}
