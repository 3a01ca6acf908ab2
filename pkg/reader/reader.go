// Package reader implements the two RTPS reader state-machine variants
// described in spec §4.4 — best-effort and reliable, each with optional
// fragment reassembly — dispatched the same enum-and-switch way as
// package writer (spec §9).
package reader

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/krakdds/rtps-engine/pkg/errkind"
	"github.com/krakdds/rtps-engine/pkg/history"
	"github.com/krakdds/rtps-engine/pkg/locator"
	"github.com/krakdds/rtps-engine/pkg/msgpool"
	"github.com/krakdds/rtps-engine/pkg/participant"
	"github.com/krakdds/rtps-engine/pkg/proxy"
	"github.com/krakdds/rtps-engine/pkg/timer"
	"github.com/krakdds/rtps-engine/pkg/typesupport"
	"github.com/krakdds/rtps-engine/pkg/wire"
	log "github.com/sirupsen/logrus"
)

// Kind selects one of the two reader state-machine variants.
type Kind int

const (
	BestEffort Kind = iota
	Reliable
)

// Sender delivers an encoded message to a set of locators; the transport
// multiplexer implements it (spec §6).
type Sender interface {
	SendTo(dst []locator.Locator, msg []byte) error
}

// Config bundles the tunables the reliable variant needs.
type Config struct {
	HeartbeatRespDelay time.Duration
	AliveTimeout       time.Duration // 0 disables the alive timer
}

// fragKey identifies one in-progress reassembly: a writer plus the
// sequence number of the sample it is fragmenting.
type fragKey struct {
	writer participant.GUID
	seq    uint64
}

type fragAssembly struct {
	total     uint32
	buf       []byte
	have      []bool
	remaining int
}

// Reader is a local RTPS reader endpoint running one of the two state
// machines named by Kind (spec §4.4): start, data, gap, heartbeat,
// finish, plus — for Reliable — acknack_timer and alive_timer.
type Reader struct {
	Kind  Kind
	GUID  participant.GUID
	Cache *history.Cache
	Cfg   Config

	wheel  *timer.Wheel
	sender Sender
	pool   *msgpool.Pool
	order  binary.ByteOrder

	mu       sync.Mutex
	proxies  map[participant.GUID]*proxy.RemoteWriter
	frags    map[fragKey]*fragAssembly
	ackTimer map[participant.GUID]*timer.Entry
}

// New constructs a reader of the given kind.
func New(kind Kind, guid participant.GUID, cache *history.Cache, cfg Config, wheel *timer.Wheel, sender Sender, pool *msgpool.Pool, order binary.ByteOrder) *Reader {
	return &Reader{
		Kind:     kind,
		GUID:     guid,
		Cache:    cache,
		Cfg:      cfg,
		wheel:    wheel,
		sender:   sender,
		pool:     pool,
		order:    order,
		proxies:  make(map[participant.GUID]*proxy.RemoteWriter),
		frags:    make(map[fragKey]*fragAssembly),
		ackTimer: make(map[participant.GUID]*timer.Entry),
	}
}

// Start is a no-op for the reader variants themselves; matched-writer
// alive timers are armed individually by MatchWriter.
func (r *Reader) Start() {}

// Finish cancels every outstanding acknack/alive timer and forgets every
// matched writer proxy.
func (r *Reader) Finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.ackTimer {
		r.wheel.Cancel(e)
	}
	for _, p := range r.proxies {
		if p.AliveTimer != nil {
			r.wheel.Cancel(p.AliveTimer)
		}
	}
	r.proxies = make(map[participant.GUID]*proxy.RemoteWriter)
	r.ackTimer = make(map[participant.GUID]*timer.Entry)
	r.frags = make(map[fragKey]*fragAssembly)
}

// MatchWriter registers p as a matched remote writer proxy and, for
// reliable readers with a configured timeout, arms its alive timer (spec
// §4.4, §4.7).
func (r *Reader) MatchWriter(p *proxy.RemoteWriter) {
	r.mu.Lock()
	r.proxies[p.GUID] = p
	r.mu.Unlock()
	r.armAliveTimer(p)
}

// UnmatchWriter drops a previously matched writer proxy and any
// reassembly state in flight for it.
func (r *Reader) UnmatchWriter(guid participant.GUID) {
	r.mu.Lock()
	p, matched := r.proxies[guid]
	delete(r.proxies, guid)
	if e, ok := r.ackTimer[guid]; ok {
		r.wheel.Cancel(e)
		delete(r.ackTimer, guid)
	}
	if matched && p.AliveTimer != nil {
		r.wheel.Cancel(p.AliveTimer)
	}
	for k := range r.frags {
		if k.writer == guid {
			delete(r.frags, k)
		}
	}
	r.mu.Unlock()
}

// armAliveTimer arms (or re-arms, after a prior expiry) p's alive_timer
// for reliable readers with a configured timeout (spec §4.4, §4.7): if no
// further traffic from the writer resets it via touchAlive before it
// fires, onAliveTimeout marks the proxy's liveliness lost.
func (r *Reader) armAliveTimer(p *proxy.RemoteWriter) {
	if r.Kind != Reliable || r.Cfg.AliveTimeout <= 0 {
		return
	}
	p.SetAlive(true)
	r.mu.Lock()
	p.AliveTimer = r.wheel.Schedule(time.Now().Add(r.Cfg.AliveTimeout), func(time.Time) {
		r.onAliveTimeout(p)
	})
	r.mu.Unlock()
}

// touchAlive resets p's alive_timer on any evidence of liveliness from
// its writer (DATA, HEARTBEAT or GAP), and re-arms a fresh timer if the
// previous one had already expired and the writer has resumed talking.
func (r *Reader) touchAlive(p *proxy.RemoteWriter) {
	if r.Kind != Reliable || r.Cfg.AliveTimeout <= 0 {
		return
	}
	r.mu.Lock()
	e := p.AliveTimer
	if e != nil {
		r.wheel.Reschedule(e, time.Now().Add(r.Cfg.AliveTimeout))
	}
	r.mu.Unlock()
	if !p.Alive() {
		r.armAliveTimer(p)
	}
}

// onAliveTimeout fires when a matched writer's alive_timer expires
// without having been reset, marking its proxy's liveliness lost (spec
// §4.7).
func (r *Reader) onAliveTimeout(p *proxy.RemoteWriter) {
	p.SetAlive(false)
	log.WithField("writer", p.GUID.String()).Warn("reader: writer alive_timer expired, liveliness lost")
}

// Data handles an inbound DATA submessage from writer (spec §4.4).
// Best-effort readers jump forward on a gap with no repair; reliable
// readers fold it into the missing-set bookkeeping and rely on GAP/
// retransmit for anything still absent.
func (r *Reader) Data(writer participant.GUID, d wire.Data, ts typesupport.TypeSupport, recvTS time.Time) {
	r.mu.Lock()
	p, ok := r.proxies[writer]
	r.mu.Unlock()
	if !ok {
		return
	}
	r.touchAlive(p)

	instance, err := typesupport.InstanceHandle(ts, d.SerializedData)
	if err != nil {
		log.WithError(err).WithField("writer", writer.String()).Warn("reader: key extraction failed, dropping sample")
		return
	}

	seq := uint64(d.SeqNr)
	p.ObserveData(seq) // advances LowestUnreceived; best-effort readers never repair the gap behind it

	kind := history.Alive
	if d.Key {
		kind = history.Disposed
	}
	change := &history.Change{
		Kind:            kind,
		WriterHandle:    guidToWriterHandle(writer),
		SeqNr:           seq,
		InstanceHandle:  instance,
		SourceTimestamp: recvTS,
		Payload:         history.NewData(d.SerializedData),
	}
	reliable := r.Kind == Reliable
	if rej, err := r.Cache.AddReceived(change, reliable, nil); err != nil {
		log.WithError(err).Warn("reader: content filter evaluation failed")
	} else if rej != errkind.RejectedNone {
		p.SetBlocked(reliable)
	} else {
		p.SetBlocked(false)
	}
}

// DataFrag handles one inbound DATA_FRAG submessage, accumulating
// fragments until the sample is complete and then delivering it through
// the same path as Data (spec §4.5).
func (r *Reader) DataFrag(writer participant.GUID, df wire.DataFrag, ts typesupport.TypeSupport, recvTS time.Time) {
	key := fragKey{writer: writer, seq: uint64(df.SeqNr)}

	r.mu.Lock()
	a, ok := r.frags[key]
	if !ok {
		words := (df.SampleSize + uint32(df.FragmentSize) - 1) / uint32(df.FragmentSize)
		a = &fragAssembly{
			total:     df.SampleSize,
			buf:       make([]byte, df.SampleSize),
			have:      make([]bool, words),
			remaining: int(words),
		}
		r.frags[key] = a
	}
	idx := int(df.FragmentStart - 1)
	if idx >= 0 && idx < len(a.have) && !a.have[idx] {
		start := idx * int(df.FragmentSize)
		copy(a.buf[start:], df.FragmentData)
		a.have[idx] = true
		a.remaining--
	}
	complete := a.remaining <= 0
	if complete {
		delete(r.frags, key)
	}
	r.mu.Unlock()

	if complete {
		r.Data(writer, wire.Data{ReaderID: df.ReaderID, WriterID: df.WriterID, SeqNr: df.SeqNr, SerializedData: a.buf}, ts, recvTS)
	}
}

// Gap handles an inbound GAP submessage: the range [gapStart, gapListBase]
// will never be sent, so it is removed from the missing set and the
// contiguous tail is considered delivered (spec §4.4). Only that range is
// handled; sequence numbers named in the GAP's gapList bitmap are not
// passed in and stay in the missing set.
func (r *Reader) Gap(writer participant.GUID, gapStart, gapListBase uint64) {
	r.mu.Lock()
	p, ok := r.proxies[writer]
	r.mu.Unlock()
	if !ok {
		return
	}
	r.touchAlive(p)
	p.ApplyGap(gapStart, gapListBase)
}

// Heartbeat handles an inbound HEARTBEAT submessage. For reliable
// readers, a new count with outstanding missing sequence numbers (or a
// demand for a final response) schedules an ACKNACK after
// HeartbeatRespDelay, coalescing rapid heartbeats into one response
// (spec §4.4).
func (r *Reader) Heartbeat(writer participant.GUID, first, last uint64, count uint32, final bool) {
	r.mu.Lock()
	p, ok := r.proxies[writer]
	r.mu.Unlock()
	if !ok {
		return
	}
	r.touchAlive(p)

	isNew := p.ObserveHeartbeat(first, last, count)
	if r.Kind != Reliable || !isNew {
		return
	}
	if p.HasMissing() || !final {
		r.scheduleAckNack(writer, p)
	}
}

func (r *Reader) scheduleAckNack(writer participant.GUID, p *proxy.RemoteWriter) {
	r.mu.Lock()
	if _, pending := r.ackTimer[writer]; pending {
		r.mu.Unlock()
		return
	}
	delay := r.Cfg.HeartbeatRespDelay
	r.ackTimer[writer] = r.wheel.Schedule(time.Now().Add(delay), func(time.Time) {
		r.onAckNackTick(writer, p)
	})
	r.mu.Unlock()
}

// onAckNackTick is the reliable reader's acknack_timer callback (spec
// §4.4): it builds and sends one ACKNACK covering every sequence number
// still outstanding below the writer's highest heard.
func (r *Reader) onAckNackTick(writer participant.GUID, p *proxy.RemoteWriter) {
	r.mu.Lock()
	delete(r.ackTimer, writer)
	r.mu.Unlock()

	base := p.LowestUnreceived
	if base == 0 {
		base = 1
	}
	width := int(p.HighestHeard-base) + 1
	if width < 0 {
		width = 0
	}
	bitmap := make([]bool, width)
	for i := range bitmap {
		bitmap[i] = p.Missing.Has(base + uint64(i))
	}

	b, err := wire.NewBuilder(r.pool, wire.MessageHeader{GUIDPrefix: r.GUID.Prefix}, r.order)
	if err != nil {
		log.WithError(err).Warn("reader: acknack builder unavailable")
		return
	}
	defer b.Release()

	final := !p.HasMissing()
	if err := b.AddAckNack(r.GUID.Entity, p.GUID.Entity, wire.SequenceNumber(base), bitmap, p.LastHeartbeatCount, final); err != nil {
		log.WithError(err).Warn("reader: encoding acknack failed")
		return
	}

	var out ackNackBuf
	if _, err := b.WriteTo(&out); err != nil {
		return
	}
	locs := writerSendLocators(p)
	if err := r.sender.SendTo(locs, out.buf); err != nil {
		log.WithError(err).WithField("writer", writer.String()).Warn("reader: acknack send failed")
	}
}

func writerSendLocators(p *proxy.RemoteWriter) []locator.Locator {
	out := p.Unicast.Slice()
	out = append(out, p.Multicast.Slice()...)
	if len(out) == 0 && p.ReplyLocator != nil {
		out = append(out, *p.ReplyLocator)
	}
	return out
}

// guidToWriterHandle packs a GUID's prefix and entity id into the
// 16-byte wire-compatible form history.WriterGUID uses (spec §3).
func guidToWriterHandle(g participant.GUID) history.WriterGUID {
	var h history.WriterGUID
	copy(h[:12], g.Prefix[:])
	copy(h[12:], g.Entity[:])
	return h
}

type ackNackBuf struct{ buf []byte }

func (a *ackNackBuf) Write(p []byte) (int, error) {
	a.buf = append(a.buf, p...)
	return len(p), nil
}
