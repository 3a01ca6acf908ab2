// Package writer implements the four RTPS writer state-machine variants
// described in spec §4.3 and selected per §9's dynamic-dispatch note: "an
// enum of state-machine kinds with a match-dispatched handler" — chosen
// over four concrete types behind an interface because a writer's kind
// never changes after construction and the switch form avoids a
// heap-allocated vtable per proxy.
package writer

import (
	"bytes"
	"encoding/binary"
	"sync"
	"time"

	"github.com/krakdds/rtps-engine/pkg/history"
	"github.com/krakdds/rtps-engine/pkg/locator"
	"github.com/krakdds/rtps-engine/pkg/msgpool"
	"github.com/krakdds/rtps-engine/pkg/participant"
	"github.com/krakdds/rtps-engine/pkg/proxy"
	"github.com/krakdds/rtps-engine/pkg/qos"
	"github.com/krakdds/rtps-engine/pkg/timer"
	"github.com/krakdds/rtps-engine/pkg/wire"
	log "github.com/sirupsen/logrus"
)

// Kind selects one of the four writer state-machine variants.
type Kind int

const (
	StatelessBestEffort Kind = iota
	StatelessReliable
	StatefulBestEffort
	StatefulReliable
)

func (k Kind) reliable() bool { return k == StatelessReliable || k == StatefulReliable }
func (k Kind) stateful() bool { return k == StatefulBestEffort || k == StatefulReliable }

// defaultMsgSize is the RTPS_MsgSize fallback: the largest payload
// SendNow will still encode as a single DATA submessage before diverting
// it to fragmentation (spec §4.5).
const defaultMsgSize = 1456

// defaultFragSize mirrors wire.maxFragmentPayload; kept as a separate
// constant here so a zero Config.FragSize falls back to the same value
// the wire package itself defaults to.
const defaultFragSize = 1344

// defaultFragBurst caps how many DATA_FRAG submessages SendNow emits
// between RTPS_FragDelay pauses when no burst size is configured.
const defaultFragBurst = 8

// Sender delivers an encoded message to a set of locators; the transport
// multiplexer implements it (spec §6).
type Sender interface {
	SendTo(dst []locator.Locator, msg []byte) error
}

// Config bundles the tunables a writer's reliable variants need beyond
// its QoS policy.
type Config struct {
	HeartbeatPeriod   time.Duration
	ResendPeriod      time.Duration // stateless reliable retry cadence
	ResendRetryLimit  int           // stateless reliable: 0 means unlimited
	HeartbeatRespFuzz time.Duration

	MsgSize   int           // RTPS_MsgSize: above this, SendNow fragments the change (0 -> defaultMsgSize)
	FragSize  int           // RTPS_FragSize: bytes per DATA_FRAG; 0 disables fragmentation in SendNow
	FragBurst int           // RTPS_FragBurst: fragments per burst (0 -> defaultFragBurst)
	FragDelay time.Duration // RTPS_FragDelay: pause between bursts

	NackSuppTime  time.Duration // RTPS_NackSuppTime: ACKNACKs from one reader closer together than this are ignored
	HeartbeatSupp time.Duration // RTPS_HeartbeatSupp: minimum spacing between final heartbeats
}

// Writer is a local RTPS writer endpoint running one of the four state
// machines named by Kind (spec §4.3). Each variant implements the same
// five operations — start, new_change, send_now, rem_change, finish —
// with behavior switched on k.
type Writer struct {
	Kind  Kind
	GUID  participant.GUID
	Cache *history.Cache
	Cfg   Config

	wheel  *timer.Wheel
	sender Sender
	pool   *msgpool.Pool
	order  binary.ByteOrder

	mu      sync.Mutex
	proxies map[participant.GUID]*proxy.RemoteReader
	changes map[uint64]*history.Change
	nextSeq uint64
	hbCount uint32

	resendLeft map[participant.GUID]int

	heartbeatTimer *timer.Entry
	resendTimer    *timer.Entry
	respTimer      *timer.Entry
	respPending    bool
	lastHeartbeat  time.Time
}

// New constructs a writer of the given kind, bound to cache for the
// samples it emits and wheel for any timers its variant requires.
func New(kind Kind, guid participant.GUID, cache *history.Cache, cfg Config, wheel *timer.Wheel, sender Sender, pool *msgpool.Pool, order binary.ByteOrder) *Writer {
	return &Writer{
		Kind:       kind,
		GUID:       guid,
		Cache:      cache,
		Cfg:        cfg,
		wheel:      wheel,
		sender:     sender,
		pool:       pool,
		order:      order,
		proxies:    make(map[participant.GUID]*proxy.RemoteReader),
		changes:    make(map[uint64]*history.Change),
		resendLeft: make(map[participant.GUID]int),
	}
}

// Start arms whatever background timer the writer's variant requires:
// stateless reliable arms a periodic resend; stateful reliable arms a
// periodic heartbeat (spec §4.3).
func (w *Writer) Start() {
	switch w.Kind {
	case StatelessReliable:
		if w.Cfg.ResendPeriod > 0 {
			w.resendTimer = w.wheel.Periodic(time.Now().Add(w.Cfg.ResendPeriod), w.Cfg.ResendPeriod, w.onResendTick)
		}
	case StatefulReliable:
		if w.Cfg.HeartbeatPeriod > 0 {
			w.heartbeatTimer = w.wheel.Periodic(time.Now().Add(w.Cfg.HeartbeatPeriod), w.Cfg.HeartbeatPeriod, w.onHeartbeatTick)
		}
	}
}

// Finish stops every timer the writer armed and releases its proxies.
func (w *Writer) Finish() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.resendTimer != nil {
		w.wheel.Cancel(w.resendTimer)
	}
	if w.heartbeatTimer != nil {
		w.wheel.Cancel(w.heartbeatTimer)
	}
	if w.respTimer != nil {
		w.wheel.Cancel(w.respTimer)
	}
	w.proxies = make(map[participant.GUID]*proxy.RemoteReader)
}

// MatchReader registers p as a matched remote reader proxy.
func (w *Writer) MatchReader(p *proxy.RemoteReader) {
	w.mu.Lock()
	w.proxies[p.GUID] = p
	if w.Kind == StatelessReliable {
		w.resendLeft[p.GUID] = w.Cfg.ResendRetryLimit
	}
	w.mu.Unlock()
}

// UnmatchReader drops a previously matched reader proxy.
func (w *Writer) UnmatchReader(guid participant.GUID) {
	w.mu.Lock()
	delete(w.proxies, guid)
	delete(w.resendLeft, guid)
	w.mu.Unlock()
}

// NewChange assigns the next sequence number to change, enqueues it to
// every matched proxy, and — for the non-heartbeat-driven variants —
// sends it immediately (spec §4.3: "new_change(proxy, change, hash,
// seqnr)").
func (w *Writer) NewChange(change *history.Change) uint64 {
	w.mu.Lock()
	w.nextSeq++
	seq := w.nextSeq
	change.SeqNr = seq
	w.changes[seq] = change

	proxies := make([]*proxy.RemoteReader, 0, len(w.proxies))
	for _, p := range w.proxies {
		proxies = append(proxies, p)
	}
	immediate := !w.Kind.stateful() || w.Kind == StatefulBestEffort
	urgentHeartbeat := w.Kind == StatefulReliable
	w.mu.Unlock()

	for _, p := range proxies {
		p.Enqueue(change)
	}
	if immediate {
		for _, p := range proxies {
			if err := w.SendNow(p); err != nil {
				log.WithError(err).WithField("reader", p.GUID.String()).Warn("writer: send_now failed")
			}
		}
	}
	if urgentHeartbeat {
		w.broadcastHeartbeat(true)
	}
	return seq
}

// SendNow drains p's queue and emits one message carrying a DATA
// submessage per queued change that fits under RTPS_MsgSize, diverting
// anything larger to sendFragmented when FragSize is non-zero (spec §4.5:
// "fragments are produced if the payload would exceed max_msg_size");
// with FragSize 0 every change goes out as one DATA. Best-effort variants retire
// the change from tracking immediately since no acknowledgement is
// expected; reliable variants leave it in the proxy's unacked set for
// the heartbeat/acknack cycle to resolve.
func (w *Writer) SendNow(p *proxy.RemoteReader) error {
	queued := p.Dequeue()
	if len(queued) == 0 {
		return nil
	}

	msgSize := w.Cfg.MsgSize
	if msgSize <= 0 {
		msgSize = defaultMsgSize
	}

	b, err := wire.NewBuilder(w.pool, wire.MessageHeader{GUIDPrefix: w.GUID.Prefix}, w.order)
	if err != nil {
		return err
	}
	defer b.Release()
	if err := b.AddInfoDst(p.GUID.Prefix); err != nil {
		return err
	}

	var whole []proxy.QueuedChange
	var fragmented []proxy.QueuedChange
	for _, qc := range queued {
		if w.Cfg.FragSize > 0 && len(qc.Change.Payload.Bytes) > msgSize {
			fragmented = append(fragmented, qc)
			continue
		}
		whole = append(whole, qc)
	}

	for _, qc := range whole {
		c := qc.Change
		ts := c.SourceTimestamp
		if ts.IsZero() {
			ts = time.Now()
		}
		if err := b.AddInfoTS(wire.InfoTS{Timestamp: ts}); err != nil {
			return err
		}
		if err := b.AddData(p.GUID.Entity, w.GUID.Entity, wire.SequenceNumber(c.SeqNr), c.Payload.Bytes, c.Kind != history.Alive); err != nil {
			return err
		}
	}

	var sendErr error
	if len(whole) > 0 {
		var out bytes.Buffer
		if _, err := b.WriteTo(&out); err != nil {
			return err
		}
		sendErr = w.sender.SendTo(p.SendLocators(), out.Bytes())
	}

	for _, qc := range fragmented {
		if err := w.sendFragmented(p, qc.Change); err != nil {
			log.WithError(err).WithField("reader", p.GUID.String()).Warn("writer: fragmented send failed")
			sendErr = err
		}
	}

	if !w.Kind.reliable() {
		for _, qc := range queued {
			w.retireLocked(p, qc.Change.SeqNr)
		}
	}
	return sendErr
}

// sendFragmented emits c's payload as a sequence of DATA_FRAG
// submessages, RTPS_FragBurst fragments per message with RTPS_FragDelay
// between them, per spec §4.5.
func (w *Writer) sendFragmented(p *proxy.RemoteReader, c *history.Change) error {
	fragSize := w.Cfg.FragSize
	if fragSize <= 0 {
		fragSize = defaultFragSize
	}
	burst := w.Cfg.FragBurst
	if burst <= 0 {
		burst = defaultFragBurst
	}
	numFrags := (len(c.Payload.Bytes) + fragSize - 1) / fragSize
	if numFrags == 0 {
		numFrags = 1
	}
	ts := c.SourceTimestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	for start := 0; start < numFrags; start += burst {
		end := start + burst
		if end > numFrags {
			end = numFrags
		}
		b, err := wire.NewBuilder(w.pool, wire.MessageHeader{GUIDPrefix: w.GUID.Prefix}, w.order)
		if err != nil {
			return err
		}
		if err := b.AddInfoDst(p.GUID.Prefix); err != nil {
			b.Release()
			return err
		}
		if err := b.AddInfoTS(wire.InfoTS{Timestamp: ts}); err != nil {
			b.Release()
			return err
		}
		if _, err := b.AddDataFragmented(p.GUID.Entity, w.GUID.Entity, wire.SequenceNumber(c.SeqNr), c.Payload.Bytes, fragSize, start, end); err != nil {
			b.Release()
			return err
		}
		var out bytes.Buffer
		_, werr := b.WriteTo(&out)
		b.Release()
		if werr != nil {
			return werr
		}
		if err := w.sender.SendTo(p.SendLocators(), out.Bytes()); err != nil {
			return err
		}
		if end < numFrags && w.Cfg.FragDelay > 0 {
			time.Sleep(w.Cfg.FragDelay)
		}
	}
	return nil
}

// HandleNackFrag resends exactly the fragments reader's NACK_FRAG flagged
// missing for the sample at seq, recomputing the fragment layout from the
// cached change rather than tracking per-fragment state on the writer
// side (spec §4.3: "NACK_FRAG triggers fragment retransmit").
func (w *Writer) HandleNackFrag(reader participant.GUID, seq uint64, fragmentBase uint32, bitmap []bool, count uint32) {
	if w.Kind != StatefulReliable {
		return
	}
	w.mu.Lock()
	p, okProxy := w.proxies[reader]
	c, okChange := w.changes[seq]
	w.mu.Unlock()
	if !okProxy || !okChange {
		return
	}

	fragSize := w.Cfg.FragSize
	if fragSize <= 0 {
		fragSize = defaultFragSize
	}
	ts := c.SourceTimestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	for i, missing := range bitmap {
		if !missing {
			continue
		}
		idx := int(fragmentBase) - 1 + i
		b, err := wire.NewBuilder(w.pool, wire.MessageHeader{GUIDPrefix: w.GUID.Prefix}, w.order)
		if err != nil {
			log.WithError(err).Warn("writer: nack_frag builder unavailable")
			return
		}
		if err := b.AddInfoDst(p.GUID.Prefix); err != nil {
			b.Release()
			continue
		}
		if err := b.AddInfoTS(wire.InfoTS{Timestamp: ts}); err != nil {
			b.Release()
			continue
		}
		if _, err := b.AddDataFragmented(p.GUID.Entity, w.GUID.Entity, wire.SequenceNumber(seq), c.Payload.Bytes, fragSize, idx, idx+1); err != nil {
			b.Release()
			continue
		}
		var out bytes.Buffer
		_, werr := b.WriteTo(&out)
		b.Release()
		if werr != nil {
			continue
		}
		if err := w.sender.SendTo(p.SendLocators(), out.Bytes()); err != nil {
			log.WithError(err).WithField("reader", reader.String()).Warn("writer: nack_frag resend failed")
		}
	}
}

// RemChange retires change from every proxy's tracking sets and from the
// writer's own sequence-keyed index (spec §4.3 rem_change). HandleAckNack
// calls it once a change's outstanding-ack counter reaches zero.
func (w *Writer) RemChange(change *history.Change) {
	w.mu.Lock()
	delete(w.changes, change.SeqNr)
	proxies := make([]*proxy.RemoteReader, 0, len(w.proxies))
	for _, p := range w.proxies {
		proxies = append(proxies, p)
	}
	w.mu.Unlock()
	for _, p := range proxies {
		p.RemChange(change.SeqNr)
	}
}

func (w *Writer) retireLocked(p *proxy.RemoteReader, seq uint64) {
	p.RemChange(seq)
	w.mu.Lock()
	c := w.changes[seq]
	delete(w.changes, seq)
	w.mu.Unlock()
	if c != nil {
		c.Acked()
	}
}

// HandleAckNack folds an incoming ACKNACK into the named proxy's tracking
// sets (stateful reliable only). An ACKNACK from a reader that arrives
// within Cfg.NackSuppTime of the previous one is ignored. count is not
// compared with earlier ACKNACKs, so a repeated ACKNACK arriving outside
// that window is processed again.
func (w *Writer) HandleAckNack(reader participant.GUID, base uint64, bitmap []bool, count uint32) {
	if w.Kind != StatefulReliable {
		return
	}
	w.mu.Lock()
	p, ok := w.proxies[reader]
	w.mu.Unlock()
	if !ok {
		return
	}
	if p.ObserveAckNack(time.Now(), w.Cfg.NackSuppTime) {
		return
	}
	p.ApplyAckNack(base, bitmap)

	for i, requested := range bitmap {
		if requested {
			continue
		}
		seq := base + uint64(i)
		w.mu.Lock()
		c := w.changes[seq]
		w.mu.Unlock()
		if c != nil && c.Acked() {
			w.RemChange(c)
		}
	}
	w.scheduleRespDelay()
}

// onHeartbeatTick fires the stateful-reliable writer's periodic
// heartbeat (spec §4.3: "Emission produces a HEARTBEAT (periodic, or
// urgent after writes)...").
func (w *Writer) onHeartbeatTick(time.Time) { w.broadcastHeartbeat(false) }

func (w *Writer) broadcastHeartbeat(final bool) {
	w.mu.Lock()
	if final && w.Cfg.HeartbeatSupp > 0 && !w.lastHeartbeat.IsZero() && time.Since(w.lastHeartbeat) < w.Cfg.HeartbeatSupp {
		w.mu.Unlock()
		return
	}
	w.lastHeartbeat = time.Now()
	w.hbCount++
	count := w.hbCount
	first, last := w.seqRangeLocked()
	proxies := make([]*proxy.RemoteReader, 0, len(w.proxies))
	for _, p := range w.proxies {
		proxies = append(proxies, p)
	}
	w.mu.Unlock()

	for _, p := range proxies {
		b, err := wire.NewBuilder(w.pool, wire.MessageHeader{GUIDPrefix: w.GUID.Prefix}, w.order)
		if err != nil {
			log.WithError(err).Warn("writer: heartbeat builder unavailable")
			continue
		}
		if err := b.AddHeartbeat(p.GUID.Entity, w.GUID.Entity, wire.SequenceNumber(first), wire.SequenceNumber(last), count, final, false); err != nil {
			b.Release()
			continue
		}
		var out bytes.Buffer
		_, werr := b.WriteTo(&out)
		b.Release()
		if werr != nil {
			continue
		}
		if err := w.sender.SendTo(p.SendLocators(), out.Bytes()); err != nil {
			log.WithError(err).WithField("reader", p.GUID.String()).Warn("writer: heartbeat send failed; retried next cycle")
		}
	}
}

func (w *Writer) seqRangeLocked() (first, last uint64) {
	for seq := range w.changes {
		if first == 0 || seq < first {
			first = seq
		}
		if seq > last {
			last = seq
		}
	}
	return first, last
}

// scheduleRespDelay coalesces rapid incoming ACKNACKs (spec §4.3: "a
// response-delay timer coalesces rapid NACKs"). Retransmission of
// specifically-requested sequence numbers is driven from the coalesced
// callback rather than per-ACKNACK, so a burst of NACKs from the same
// reader produces one retransmit pass.
func (w *Writer) scheduleRespDelay() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.respPending {
		return
	}
	w.respPending = true
	w.respTimer = w.wheel.Schedule(time.Now().Add(w.Cfg.HeartbeatRespFuzz), w.onRespDelay)
}

func (w *Writer) onRespDelay(time.Time) {
	w.mu.Lock()
	w.respPending = false
	proxies := make([]*proxy.RemoteReader, 0, len(w.proxies))
	for _, p := range w.proxies {
		proxies = append(proxies, p)
	}
	w.mu.Unlock()

	for _, p := range proxies {
		ranges := p.Requested.Slice()
		for _, seq := range ranges {
			w.mu.Lock()
			c := w.changes[seq]
			w.mu.Unlock()
			if c == nil {
				continue
			}
			p.Enqueue(c)
		}
		if err := w.SendNow(p); err != nil {
			log.WithError(err).WithField("reader", p.GUID.String()).Warn("writer: retransmit failed")
		}
	}
}

// onResendTick drives the stateless-reliable writer's periodic full
// resend of every still-live change, honoring each proxy's retry budget
// (spec §4.3: "on each tick, unacknowledged changes in the cache are
// retransmitted until a configurable retry limit is exhausted").
func (w *Writer) onResendTick(time.Time) {
	w.mu.Lock()
	changes := make([]*history.Change, 0, len(w.changes))
	for _, c := range w.changes {
		changes = append(changes, c)
	}
	proxies := make(map[participant.GUID]*proxy.RemoteReader, len(w.proxies))
	for g, p := range w.proxies {
		proxies[g] = p
	}
	w.mu.Unlock()

	for guid, p := range proxies {
		w.mu.Lock()
		left, tracked := w.resendLeft[guid]
		w.mu.Unlock()
		if tracked && w.Cfg.ResendRetryLimit > 0 && left <= 0 {
			continue
		}
		for _, c := range changes {
			p.Enqueue(c)
		}
		if err := w.SendNow(p); err != nil {
			log.WithError(err).WithField("reader", guid.String()).Warn("writer: resend failed")
			continue
		}
		for _, c := range changes {
			c.Acked()
		}
		if tracked && w.Cfg.ResendRetryLimit > 0 {
			w.mu.Lock()
			w.resendLeft[guid]--
			w.mu.Unlock()
		}
	}
}

// Stats reports the writer's current proxy and backlog counts.
type Stats struct {
	Proxies  int
	InFlight int
}

// Stats returns a point-in-time snapshot for telemetry.
func (w *Writer) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Stats{Proxies: len(w.proxies), InFlight: len(w.changes)}
}

// QoSRequiresReliable reports whether policy implies a reliable writer
// variant, used at writer-construction time alongside the stateful/
// stateless choice carried separately by the engine (spec §4.3).
func QoSRequiresReliable(p qos.Policy) bool { return p.Reliability == qos.Reliable }
