package wire

import (
	"encoding/binary"
	"errors"
	"io"

	"github.com/krakdds/rtps-engine/pkg/msgpool"
	"github.com/krakdds/rtps-engine/pkg/participant"
)

var errPoolExhausted = errors.New("wire: message pool exhausted")
var errShortSubmessage = errors.New("wire: submessage body too short for its kind")

// maxFragmentPayload bounds a single DATA_FRAG's serialized chunk so a
// fragmented sample still fits comfortably under a UDP datagram's path MTU
// once the message and submessage headers are added (spec §4.5).
const maxFragmentPayload = 1344

// Builder assembles one outgoing RTPS message into a chain of pooled
// msgpool.Element buffers, appending submessages without a final copy.
// Callers send the result with WriteTo and must call Release afterward
// so the elements return to the pool (spec §2, §4.5).
type Builder struct {
	pool  *msgpool.Pool
	order binary.ByteOrder

	head, tail *msgpool.Element
	total      int
}

// NewBuilder starts a message with hdr, drawing its first buffer from
// pool. order fixes the byte order used for every submessage added
// through this builder; RTPS permits either, but one message commits to
// one order for all its submessages (spec §6).
func NewBuilder(pool *msgpool.Pool, hdr MessageHeader, order binary.ByteOrder) (*Builder, error) {
	e, ok := pool.Get()
	if !ok {
		return nil, errPoolExhausted
	}
	EncodeMessageHeader(e.Buf[:messageHeaderLen], hdr)
	e.Len = messageHeaderLen
	return &Builder{pool: pool, order: order, head: e, tail: e, total: messageHeaderLen}, nil
}

// Release returns every buffer held by the builder to its pool. Safe to
// call after WriteTo, or instead of it to abandon a partially built
// message.
func (b *Builder) Release() {
	if b.head != nil {
		b.pool.Put(b.head)
		b.head, b.tail = nil, nil
	}
}

// Len reports the total encoded size of the message so far.
func (b *Builder) Len() int { return b.total }

// WriteTo writes the complete message — header plus every appended
// submessage — to w, one pooled buffer at a time.
func (b *Builder) WriteTo(w io.Writer) (int64, error) {
	var n int64
	for e := b.head; e != nil; e = e.Next {
		wn, err := w.Write(e.Buf[:e.Len])
		n += int64(wn)
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// write appends raw bytes to the chain, drawing additional elements from
// the pool as the current tail fills. A submessage header (appendHeader)
// and its body are written by separate calls, and any write may spill
// across elements; WriteTo emits the chain's bytes in order.
func (b *Builder) write(p []byte) error {
	for len(p) > 0 {
		room := len(b.tail.Buf) - b.tail.Len
		if room == 0 {
			e, ok := b.pool.Get()
			if !ok {
				return errPoolExhausted
			}
			b.tail.Next = e
			b.tail = e
			room = len(e.Buf)
		}
		n := copy(b.tail.Buf[b.tail.Len:], p)
		b.tail.Len += n
		b.total += n
		p = p[n:]
	}
	return nil
}

func (b *Builder) submessageFlags(extra SubmessageFlags) SubmessageFlags {
	if b.order == binary.LittleEndian {
		return extra | flagEndianness
	}
	return extra
}

func (b *Builder) appendHeader(id SubmessageID, length uint16, extra SubmessageFlags) error {
	var hdr [submessageHeaderLen]byte
	EncodeSubmessageHeader(hdr[:], SubmessageHeader{ID: id, Flags: b.submessageFlags(extra), Length: length})
	return b.write(hdr[:])
}

// AddData appends a DATA submessage carrying payload verbatim (spec
// §4.3: "new_change hands the writer a serialized sample; send_now
// encodes it directly into a DATA submessage when it fits under
// max_msg_size").
func (b *Builder) AddData(readerID, writerID participant.EntityID, seq SequenceNumber, payload []byte, keyOnly bool) error {
	body := make([]byte, 20+len(payload))
	d := Data{ReaderID: readerID, WriterID: writerID, SeqNr: seq, Key: keyOnly, SerializedData: payload}
	n := EncodeData(body, d, b.order)
	var flags SubmessageFlags
	if keyOnly {
		flags |= 0x04
	}
	if err := b.appendHeader(IDData, uint16(n), flags); err != nil {
		return err
	}
	return b.write(body[:n])
}

// AddDataFragmented splits payload into a sequence of DATA_FRAG
// submessages of at most fragSize bytes each, per spec §4.5 ("fragments
// are produced if the payload would exceed max_msg_size and fragmentation
// is permitted for the writer"), emitting only the fragment index range
// [fragStart, fragEnd) so a caller can pace a large sample across several
// bursts (RTPS_FragBurst/RTPS_FragDelay) or resend a NACK_FRAG-requested
// subset without re-deriving the fragment layout. fragSize<=0 falls back
// to maxFragmentPayload; fragEnd<=0 (or beyond the total fragment count)
// means "through the last fragment", preserving "emit everything in one
// call" for callers that don't need pacing. It always returns the sample's
// total fragment count, regardless of how much of the range was written.
func (b *Builder) AddDataFragmented(readerID, writerID participant.EntityID, seq SequenceNumber, payload []byte, fragSize, fragStart, fragEnd int) (int, error) {
	if fragSize <= 0 {
		fragSize = maxFragmentPayload
	}
	total := len(payload)
	numFrags := (total + fragSize - 1) / fragSize
	if numFrags == 0 {
		numFrags = 1
	}
	if fragStart < 0 {
		fragStart = 0
	}
	if fragEnd <= 0 || fragEnd > numFrags {
		fragEnd = numFrags
	}
	for i := fragStart; i < fragEnd; i++ {
		start := i * fragSize
		end := start + fragSize
		if end > total {
			end = total
		}
		chunk := payload[start:end]
		body := make([]byte, 32+len(chunk))
		df := DataFrag{
			ReaderID:       readerID,
			WriterID:       writerID,
			SeqNr:          seq,
			FragmentStart:  uint32(i + 1),
			FragmentsInSub: 1,
			FragmentSize:   uint16(fragSize),
			SampleSize:     uint32(total),
			FragmentData:   chunk,
		}
		n := EncodeDataFrag(body, df, b.order)
		if err := b.appendHeader(IDDataFrag, uint16(n), 0); err != nil {
			return numFrags, err
		}
		if err := b.write(body[:n]); err != nil {
			return numFrags, err
		}
	}
	return numFrags, nil
}

// AddHeartbeat appends a HEARTBEAT submessage (spec §4.3).
func (b *Builder) AddHeartbeat(readerID, writerID participant.EntityID, first, last SequenceNumber, count uint32, final, manualLiveliness bool) error {
	var body [28]byte
	h := Heartbeat{ReaderID: readerID, WriterID: writerID, FirstSeqNr: first, LastSeqNr: last, Count: count}
	n := EncodeHeartbeat(body[:], h, b.order)
	var flags SubmessageFlags
	if final {
		flags |= 0x02
	}
	if manualLiveliness {
		flags |= 0x04
	}
	if err := b.appendHeader(IDHeartbeat, uint16(n), flags); err != nil {
		return err
	}
	return b.write(body[:n])
}

// AddAckNack appends an ACKNACK submessage requesting the sequence
// numbers flagged true in bitmap, relative to base (spec §4.4).
func (b *Builder) AddAckNack(readerID, writerID participant.EntityID, base SequenceNumber, bitmap []bool, count uint32, final bool) error {
	body := make([]byte, 24+bitmapWords(len(bitmap))*4)
	a := AckNack{ReaderID: readerID, WriterID: writerID, BitmapBase: base, Bitmap: bitmap, Count: count}
	n := EncodeAckNack(body, a, b.order)
	var flags SubmessageFlags
	if final {
		flags |= 0x02
	}
	if err := b.appendHeader(IDAckNack, uint16(n), flags); err != nil {
		return err
	}
	return b.write(body[:n])
}

// AddGap appends a GAP submessage covering [gapStart, gapListBase] plus
// any additionally-gapped sequence numbers named in gapList (spec §4.3).
func (b *Builder) AddGap(readerID, writerID participant.EntityID, gapStart, gapListBase SequenceNumber, gapList []bool) error {
	body := make([]byte, 28+bitmapWords(len(gapList))*4)
	g := Gap{ReaderID: readerID, WriterID: writerID, GapStart: gapStart, GapListBase: gapListBase, GapList: gapList}
	n := EncodeGap(body, g, b.order)
	if err := b.appendHeader(IDGap, uint16(n), 0); err != nil {
		return err
	}
	return b.write(body[:n])
}

// AddInfoTS appends an INFO_TS submessage, timestamping every submessage
// that follows it within the message (spec §4.5).
func (b *Builder) AddInfoTS(ts InfoTS) error {
	var body [8]byte
	n, extra := EncodeInfoTS(body[:], ts, b.order)
	if err := b.appendHeader(IDInfoTS, uint16(n), extra); err != nil {
		return err
	}
	return b.write(body[:n])
}

// AddInfoDst appends an INFO_DST submessage naming the destination
// participant's GUID prefix for following submessages.
func (b *Builder) AddInfoDst(prefix participant.GUIDPrefix) error {
	var body [12]byte
	copy(body[:], prefix[:])
	if err := b.appendHeader(IDInfoDst, uint16(len(body)), 0); err != nil {
		return err
	}
	return b.write(body[:])
}
