package proxy

import (
	"sync"
	"time"

	"github.com/krakdds/rtps-engine/pkg/history"
	"github.com/krakdds/rtps-engine/pkg/locator"
	"github.com/krakdds/rtps-engine/pkg/participant"
	"github.com/krakdds/rtps-engine/pkg/timer"
)

// QueuedChange is one change queued to a proxy, referenced (not copied)
// from the writer's history cache (spec §4.3: "the change is shared by
// reference").
type QueuedChange struct {
	Change *history.Change
}

// RemoteReader is the writer-side proxy for one matched remote reader
// (spec §3): it tracks which sequence numbers are unsent, requested for
// resend, and unacknowledged, plus the reader's locators and timers.
type RemoteReader struct {
	mu sync.Mutex

	GUID      participant.GUID
	Unicast   locator.List
	Multicast locator.List

	// ReplyLocator is a best-effort locator learned from the reader's
	// own inbound traffic (ACKNACK packets), used as a fallback send
	// target when the announced locator lists don't resolve a reachable
	// path (SPEC_FULL §4, original source rtps_main.c).
	ReplyLocator *locator.Locator

	Unsent    *SeqSet
	Requested *SeqSet
	Unacked   *SeqSet

	LastHeartbeatCount uint32

	HeartbeatTimer *timer.Entry
	NackRespTimer  *timer.Entry

	CryptoHandle interface{}
	Tunnel       bool

	queue           []QueuedChange
	blocked         bool
	lastNackHandled time.Time
}

// NewRemoteReader constructs a fresh writer-side proxy for guid.
func NewRemoteReader(guid participant.GUID) *RemoteReader {
	return &RemoteReader{
		GUID:      guid,
		Unsent:    NewSeqSet(),
		Requested: NewSeqSet(),
		Unacked:   NewSeqSet(),
	}
}

// Enqueue appends change to the unsent set and the send queue, driven by
// rtps_writer_new_change (spec §4.2/§4.3).
func (p *RemoteReader) Enqueue(c *history.Change) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Unsent.Add(c.SeqNr)
	p.queue = append(p.queue, QueuedChange{Change: c})
	c.AddAckPending(1)
}

// Dequeue drains and returns the queued changes in enqueue order (spec
// §4.3/§5: "within a proxy's queue, submessages are emitted in queue
// order").
func (p *RemoteReader) Dequeue() []QueuedChange {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.queue
	p.queue = nil
	return out
}

// ApplyAckNack updates the unsent/requested/unacked sets from an incoming
// ACKNACK bitmap. base is the bitmapBase sequence number; bitmap[i] true
// means base+i is requested. Processing is idempotent with respect to
// repeated counts: callers must check count against LastHeartbeatCount
// equivalents upstream (writer state machine), not here.
func (p *RemoteReader) ApplyAckNack(base uint64, bitmap []bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	// Everything below base is acknowledged: drop it from every set.
	if min, ok := p.Unacked.Min(); ok && min < base {
		p.Unacked.RemoveRange(min, base-1)
	}
	if min, ok := p.Unsent.Min(); ok && min < base {
		p.Unsent.RemoveRange(min, base-1)
	}
	if min, ok := p.Requested.Min(); ok && min < base {
		p.Requested.RemoveRange(min, base-1)
	}

	for i, requested := range bitmap {
		seq := base + uint64(i)
		if requested {
			p.Requested.Add(seq)
			p.Unacked.Add(seq)
		} else {
			// Explicitly acked: no longer unsent, unacked or requested.
			p.Unsent.Remove(seq)
			p.Unacked.Remove(seq)
			p.Requested.Remove(seq)
		}
	}
}

// RemChange removes a sequence number from every tracking set, used when
// a change is retired from the writer's history (spec §4.3 rem_change).
func (p *RemoteReader) RemChange(seq uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Unsent.Remove(seq)
	p.Requested.Remove(seq)
	p.Unacked.Remove(seq)
}

// ObserveAckNack reports whether an ACKNACK received now should be
// suppressed because the writer already answered one from this reader
// within window (spec §6 RTPS_NackSuppTime), updating the last-handled
// timestamp when it is not suppressed.
func (p *RemoteReader) ObserveAckNack(now time.Time, window time.Duration) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if window > 0 && !p.lastNackHandled.IsZero() && now.Sub(p.lastNackHandled) < window {
		return true
	}
	p.lastNackHandled = now
	return false
}

// IsFullyAcked reports whether the proxy has no outstanding unsent,
// requested or unacked sequence numbers.
func (p *RemoteReader) IsFullyAcked() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Unsent.Len() == 0 && p.Requested.Len() == 0 && p.Unacked.Len() == 0
}

// LearnReplyLocator records src as the proxy's fallback reply locator.
func (p *RemoteReader) LearnReplyLocator(src locator.Locator) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ReplyLocator = &src
}

// SendLocators resolves the locator(s) a message to this proxy should
// target: unicast/multicast lists, falling back to the learned reply
// locator if both are empty (spec §3, SPEC_FULL §4).
func (p *RemoteReader) SendLocators() []locator.Locator {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Unicast.Len() > 0 || p.Multicast.Len() > 0 {
		out := p.Unicast.Slice()
		out = append(out, p.Multicast.Slice()...)
		return out
	}
	if p.ReplyLocator != nil {
		return []locator.Locator{*p.ReplyLocator}
	}
	return nil
}

// HeartbeatRange reports [firstAvailable, last] for a HEARTBEAT
// submessage given the writer's current available sequence-number range.
func HeartbeatRange(firstAvailable, last uint64) (uint64, uint64) {
	if last < firstAvailable {
		return firstAvailable, firstAvailable - 1 // empty range
	}
	return firstAvailable, last
}

// NextHeartbeatDelay is a small helper retained for clarity at call
// sites; the actual cadence is driven by the writer state machine's
// configured RTPS_HeartbeatPer.
func NextHeartbeatDelay(period time.Duration) time.Duration { return period }
