package proxy

import (
	"sync"

	"github.com/krakdds/rtps-engine/pkg/history"
	"github.com/krakdds/rtps-engine/pkg/locator"
	"github.com/krakdds/rtps-engine/pkg/participant"
	"github.com/krakdds/rtps-engine/pkg/timer"
)

// RemoteWriter is the reader-side proxy for one matched remote writer
// (spec §3): it tracks the lowest unreceived sequence number, the set of
// missing sequence numbers up to the highest heard, and whether the
// reader is blocked on a full cache.
type RemoteWriter struct {
	mu sync.Mutex

	GUID      participant.GUID
	Unicast   locator.List
	Multicast locator.List

	ReplyLocator *locator.Locator

	LowestUnreceived uint64
	HighestHeard     uint64
	Missing          *SeqSet

	LastHeartbeatCount uint32

	AckNackTimer *timer.Entry
	AliveTimer   *timer.Entry

	CryptoHandle interface{}
	Tunnel       bool

	blocked bool
	alive   bool
	pending []*history.Change // received out-of-order, awaiting contiguity
}

// NewRemoteWriter constructs a fresh reader-side proxy for guid.
func NewRemoteWriter(guid participant.GUID) *RemoteWriter {
	return &RemoteWriter{
		GUID:    guid,
		Missing: NewSeqSet(),
		alive:   true,
	}
}

// Alive reports whether the writer's alive_timer has not expired (spec
// §4.7).
func (p *RemoteWriter) Alive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.alive
}

// SetAlive sets the liveliness flag.
func (p *RemoteWriter) SetAlive(a bool) {
	p.mu.Lock()
	p.alive = a
	p.mu.Unlock()
}

// Blocked reports whether the reader has stopped acknowledging progress
// because its cache is full (spec §4.4).
func (p *RemoteWriter) Blocked() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.blocked
}

// SetBlocked sets the blocked flag.
func (p *RemoteWriter) SetBlocked(b bool) {
	p.mu.Lock()
	p.blocked = b
	p.mu.Unlock()
}

// ObserveHeartbeat folds a HEARTBEAT's [first,last] range and count into
// the proxy state, dropping every sequence number below first from the
// missing set (advancing LowestUnreceived to first), and adding anything
// between the previous highest heard and last as newly missing. Returns true if
// this is a new count (callers use this to decide whether to schedule an
// ACKNACK).
func (p *RemoteWriter) ObserveHeartbeat(first, last uint64, count uint32) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if count <= p.LastHeartbeatCount && p.LastHeartbeatCount != 0 {
		return false
	}
	p.LastHeartbeatCount = count

	if first > p.LowestUnreceived {
		p.Missing.RemoveRange(0, first-1)
		p.LowestUnreceived = first
	}
	if last > p.HighestHeard {
		for seq := p.HighestHeard + 1; seq <= last; seq++ {
			if seq >= p.LowestUnreceived {
				p.Missing.Add(seq)
			}
		}
		p.HighestHeard = last
	}
	return true
}

// ApplyGap removes [lo,hi] from the missing set (spec §4.4: "On GAP:
// remove range from missing, deliver contiguous tail").
func (p *RemoteWriter) ApplyGap(lo, hi uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Missing.RemoveRange(lo, hi)
	if hi >= p.LowestUnreceived {
		p.LowestUnreceived = hi + 1
	}
}

// ObserveData records that seq has been received, removing it from the
// missing set and advancing LowestUnreceived while it stays contiguous.
func (p *RemoteWriter) ObserveData(seq uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Missing.Remove(seq)
	if seq > p.HighestHeard {
		p.HighestHeard = seq
	}
	for {
		if p.Missing.Has(p.LowestUnreceived) {
			break
		}
		if p.LowestUnreceived > p.HighestHeard {
			break
		}
		p.LowestUnreceived++
	}
}

// HasMissing reports whether the reader still awaits any sequence
// numbers below HighestHeard.
func (p *RemoteWriter) HasMissing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Missing.Len() > 0
}

// MissingRanges coalesces the missing set into contiguous [lo,hi] ranges
// for an ACKNACK bitmap.
func (p *RemoteWriter) MissingRanges() [][2]uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	seqs := p.Missing.Slice()
	var ranges [][2]uint64
	for _, s := range seqs {
		if n := len(ranges); n > 0 && ranges[n-1][1]+1 == s {
			ranges[n-1][1] = s
		} else {
			ranges = append(ranges, [2]uint64{s, s})
		}
	}
	return ranges
}

// LearnReplyLocator records src as the proxy's fallback reply locator.
func (p *RemoteWriter) LearnReplyLocator(src locator.Locator) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ReplyLocator = &src
}
