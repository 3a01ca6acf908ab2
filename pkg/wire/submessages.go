package wire

import (
	"encoding/binary"
	"time"

	"github.com/krakdds/rtps-engine/pkg/locator"
	"github.com/krakdds/rtps-engine/pkg/participant"
)

// Data is the decoded body of a DATA submessage.
type Data struct {
	ReaderID       participant.EntityID
	WriterID       participant.EntityID
	SeqNr          SequenceNumber
	InlineQoS      bool
	Key            bool
	SerializedData []byte
}

// DecodeData parses a DATA submessage body (after the 4-byte submessage
// header). The body starts with the 2-byte extraFlags and 2-byte
// octetsToInlineQos fields present per spec §6.
func DecodeData(buf []byte, order binary.ByteOrder, flags SubmessageFlags) Data {
	// layout: extraFlags(2) octetsToInlineQos(2) readerId(4) writerId(4) seqnr(8) [inlineQos] [data]
	octetsToInlineQos := order.Uint16(buf[2:4])
	var d Data
	copy(d.ReaderID[:], buf[4:8])
	copy(d.WriterID[:], buf[8:12])
	d.SeqNr = DecodeSequenceNumber(buf[12:20], order)
	d.InlineQoS = flags&0x02 != 0
	d.Key = flags&0x04 != 0

	payloadStart := 4 + int(octetsToInlineQos)
	if payloadStart < len(buf) {
		d.SerializedData = buf[payloadStart:]
	}
	return d
}

// EncodeData serializes a Data body into buf, returning the number of
// bytes written. buf must be large enough (20 + len(payload)).
func EncodeData(buf []byte, d Data, order binary.ByteOrder) int {
	order.PutUint16(buf[0:2], 0)  // extraFlags
	order.PutUint16(buf[2:4], 16) // octetsToInlineQos: readerId+writerId+seqnr = 16
	copy(buf[4:8], d.ReaderID[:])
	copy(buf[8:12], d.WriterID[:])
	EncodeSequenceNumber(buf[12:20], d.SeqNr, order)
	n := copy(buf[20:], d.SerializedData)
	return 20 + n
}

// DataFrag is the decoded body of a DATA_FRAG submessage: a fragment of a
// larger sample that would otherwise exceed max_msg_size (spec §4.5).
type DataFrag struct {
	ReaderID       participant.EntityID
	WriterID       participant.EntityID
	SeqNr          SequenceNumber
	FragmentStart  uint32 // 1-based fragment number
	FragmentsInSub uint16
	FragmentSize   uint16
	SampleSize     uint32
	FragmentData   []byte
}

// DecodeDataFrag parses a DATA_FRAG submessage body.
func DecodeDataFrag(buf []byte, order binary.ByteOrder) DataFrag {
	octetsToInlineQos := order.Uint16(buf[2:4])
	var d DataFrag
	copy(d.ReaderID[:], buf[4:8])
	copy(d.WriterID[:], buf[8:12])
	d.SeqNr = DecodeSequenceNumber(buf[12:20], order)
	d.FragmentStart = order.Uint32(buf[20:24])
	d.FragmentsInSub = order.Uint16(buf[24:26])
	d.FragmentSize = order.Uint16(buf[26:28])
	d.SampleSize = order.Uint32(buf[28:32])

	payloadStart := 4 + int(octetsToInlineQos)
	if payloadStart < len(buf) {
		d.FragmentData = buf[payloadStart:]
	}
	return d
}

// EncodeDataFrag serializes a DataFrag body into buf.
func EncodeDataFrag(buf []byte, d DataFrag, order binary.ByteOrder) int {
	order.PutUint16(buf[0:2], 0)
	order.PutUint16(buf[2:4], 28)
	copy(buf[4:8], d.ReaderID[:])
	copy(buf[8:12], d.WriterID[:])
	EncodeSequenceNumber(buf[12:20], d.SeqNr, order)
	order.PutUint32(buf[20:24], d.FragmentStart)
	order.PutUint16(buf[24:26], d.FragmentsInSub)
	order.PutUint16(buf[26:28], d.FragmentSize)
	order.PutUint32(buf[28:32], d.SampleSize)
	n := copy(buf[32:], d.FragmentData)
	return 32 + n
}

// Heartbeat is the decoded body of a HEARTBEAT submessage.
type Heartbeat struct {
	ReaderID   participant.EntityID
	WriterID   participant.EntityID
	FirstSeqNr SequenceNumber
	LastSeqNr  SequenceNumber
	Count      uint32
	Final      bool
	Liveliness bool
}

// DecodeHeartbeat parses a HEARTBEAT submessage body.
func DecodeHeartbeat(buf []byte, order binary.ByteOrder, flags SubmessageFlags) Heartbeat {
	var h Heartbeat
	copy(h.ReaderID[:], buf[0:4])
	copy(h.WriterID[:], buf[4:8])
	h.FirstSeqNr = DecodeSequenceNumber(buf[8:16], order)
	h.LastSeqNr = DecodeSequenceNumber(buf[16:24], order)
	h.Count = order.Uint32(buf[24:28])
	h.Final = flags&0x02 != 0
	h.Liveliness = flags&0x04 != 0
	return h
}

// EncodeHeartbeat serializes a Heartbeat body into buf (28 bytes).
func EncodeHeartbeat(buf []byte, h Heartbeat, order binary.ByteOrder) int {
	copy(buf[0:4], h.ReaderID[:])
	copy(buf[4:8], h.WriterID[:])
	EncodeSequenceNumber(buf[8:16], h.FirstSeqNr, order)
	EncodeSequenceNumber(buf[16:24], h.LastSeqNr, order)
	order.PutUint32(buf[24:28], h.Count)
	return 28
}

// AckNack is the decoded body of an ACKNACK submessage: a bitmap of
// requested sequence numbers starting at BitmapBase.
type AckNack struct {
	ReaderID   participant.EntityID
	WriterID   participant.EntityID
	BitmapBase SequenceNumber
	Bitmap     []bool
	Count      uint32
	Final      bool
}

// DecodeAckNack parses an ACKNACK submessage body.
func DecodeAckNack(buf []byte, order binary.ByteOrder, flags SubmessageFlags) AckNack {
	var a AckNack
	copy(a.ReaderID[:], buf[0:4])
	copy(a.WriterID[:], buf[4:8])
	a.BitmapBase = DecodeSequenceNumber(buf[8:16], order)
	numBits := order.Uint32(buf[16:20])
	a.Bitmap = decodeBitmap(buf[20:], int(numBits), order)
	idx := 20 + bitmapWords(int(numBits))*4
	if idx+4 <= len(buf) {
		a.Count = order.Uint32(buf[idx : idx+4])
	}
	a.Final = flags&0x02 != 0
	return a
}

// EncodeAckNack serializes an AckNack body into buf.
func EncodeAckNack(buf []byte, a AckNack, order binary.ByteOrder) int {
	copy(buf[0:4], a.ReaderID[:])
	copy(buf[4:8], a.WriterID[:])
	EncodeSequenceNumber(buf[8:16], a.BitmapBase, order)
	order.PutUint32(buf[16:20], uint32(len(a.Bitmap)))
	n := encodeBitmap(buf[20:], a.Bitmap, order)
	order.PutUint32(buf[20+n:24+n], a.Count)
	return 24 + n
}

// NackFrag is the decoded body of a NACK_FRAG submessage: requests
// retransmission of specific fragments of one sample.
type NackFrag struct {
	ReaderID       participant.EntityID
	WriterID       participant.EntityID
	SeqNr          SequenceNumber
	FragmentBase   uint32
	FragmentBitmap []bool
	Count          uint32
}

// DecodeNackFrag parses a NACK_FRAG submessage body.
func DecodeNackFrag(buf []byte, order binary.ByteOrder) NackFrag {
	var n NackFrag
	copy(n.ReaderID[:], buf[0:4])
	copy(n.WriterID[:], buf[4:8])
	n.SeqNr = DecodeSequenceNumber(buf[8:16], order)
	n.FragmentBase = order.Uint32(buf[16:20])
	numBits := order.Uint32(buf[20:24])
	n.FragmentBitmap = decodeBitmap(buf[24:], int(numBits), order)
	idx := 24 + bitmapWords(int(numBits))*4
	if idx+4 <= len(buf) {
		n.Count = order.Uint32(buf[idx : idx+4])
	}
	return n
}

// Gap is the decoded body of a GAP submessage: an irrevocable range of
// sequence numbers the writer will never send.
type Gap struct {
	ReaderID    participant.EntityID
	WriterID    participant.EntityID
	GapStart    SequenceNumber
	GapListBase SequenceNumber
	GapList     []bool
}

// DecodeGap parses a GAP submessage body.
func DecodeGap(buf []byte, order binary.ByteOrder) Gap {
	var g Gap
	copy(g.ReaderID[:], buf[0:4])
	copy(g.WriterID[:], buf[4:8])
	g.GapStart = DecodeSequenceNumber(buf[8:16], order)
	g.GapListBase = DecodeSequenceNumber(buf[16:24], order)
	numBits := order.Uint32(buf[24:28])
	g.GapList = decodeBitmap(buf[28:], int(numBits), order)
	return g
}

// EncodeGap serializes a Gap body into buf.
func EncodeGap(buf []byte, g Gap, order binary.ByteOrder) int {
	copy(buf[0:4], g.ReaderID[:])
	copy(buf[4:8], g.WriterID[:])
	EncodeSequenceNumber(buf[8:16], g.GapStart, order)
	EncodeSequenceNumber(buf[16:24], g.GapListBase, order)
	order.PutUint32(buf[24:28], uint32(len(g.GapList)))
	n := encodeBitmap(buf[28:], g.GapList, order)
	return 28 + n
}

// InfoTS carries the source timestamp applying to following submessages.
type InfoTS struct {
	Timestamp time.Time
	Invalid   bool
}

// DecodeInfoTS parses an INFO_TS submessage body.
func DecodeInfoTS(buf []byte, order binary.ByteOrder, flags SubmessageFlags) InfoTS {
	if flags&0x02 != 0 {
		return InfoTS{Invalid: true}
	}
	sec := int64(int32(order.Uint32(buf[0:4])))
	frac := order.Uint32(buf[4:8])
	nanos := int64(frac) * int64(time.Second) / (1 << 32)
	return InfoTS{Timestamp: time.Unix(sec, nanos)}
}

// EncodeInfoTS serializes an InfoTS body into buf (8 bytes), returning
// the flags to OR into the submessage header (bit 1 set for "invalid",
// meaning no timestamp follows).
func EncodeInfoTS(buf []byte, ts InfoTS, order binary.ByteOrder) (n int, extraFlags SubmessageFlags) {
	if ts.Invalid {
		return 0, 0x02
	}
	order.PutUint32(buf[0:4], uint32(ts.Timestamp.Unix()))
	frac := uint32(int64(ts.Timestamp.Nanosecond()) * (1 << 32) / int64(time.Second))
	order.PutUint32(buf[4:8], frac)
	return 8, 0
}

// InfoSrc carries the source participant's GUID prefix, protocol version
// and vendor id for following submessages.
type InfoSrc struct {
	GUIDPrefix participant.GUIDPrefix
	Version    participant.ProtocolVersion
	Vendor     participant.VendorID
}

// DecodeInfoSrc parses an INFO_SRC submessage body.
func DecodeInfoSrc(buf []byte) InfoSrc {
	var s InfoSrc
	s.Version = participant.ProtocolVersion{Major: buf[6], Minor: buf[7]}
	copy(s.Vendor[:], buf[4:6])
	copy(s.GUIDPrefix[:], buf[8:20])
	return s
}

// InfoDst carries the destination participant's GUID prefix.
type InfoDst struct {
	GUIDPrefix participant.GUIDPrefix
}

// DecodeInfoDst parses an INFO_DST submessage body.
func DecodeInfoDst(buf []byte) InfoDst {
	var d InfoDst
	copy(d.GUIDPrefix[:], buf[0:12])
	return d
}

// InfoReply carries a list of reply locators for following submessages.
type InfoReply struct {
	UnicastLocators   []locator.Locator
	MulticastLocators []locator.Locator
}

// DecodeInfoReply parses an INFO_REPLY submessage body.
func DecodeInfoReply(buf []byte, order binary.ByteOrder, flags SubmessageFlags) InfoReply {
	var r InfoReply
	count := order.Uint32(buf[0:4])
	off := 4
	for i := uint32(0); i < count; i++ {
		r.UnicastLocators = append(r.UnicastLocators, locator.DecodeWire(buf[off:off+24]))
		off += 24
	}
	if flags&0x02 != 0 && off+4 <= len(buf) {
		mcount := order.Uint32(buf[off : off+4])
		off += 4
		for i := uint32(0); i < mcount; i++ {
			r.MulticastLocators = append(r.MulticastLocators, locator.DecodeWire(buf[off:off+24]))
			off += 24
		}
	}
	return r
}

func bitmapWords(numBits int) int { return (numBits + 31) / 32 }

func decodeBitmap(buf []byte, numBits int, order binary.ByteOrder) []bool {
	out := make([]bool, numBits)
	for i := 0; i < numBits; i++ {
		word := order.Uint32(buf[(i/32)*4 : (i/32)*4+4])
		out[i] = word&(1<<(31-uint(i%32))) != 0
	}
	return out
}

func encodeBitmap(buf []byte, bitmap []bool, order binary.ByteOrder) int {
	words := bitmapWords(len(bitmap))
	for w := 0; w < words; w++ {
		var word uint32
		for b := 0; b < 32; b++ {
			i := w*32 + b
			if i >= len(bitmap) {
				break
			}
			if bitmap[i] {
				word |= 1 << (31 - uint(b))
			}
		}
		order.PutUint32(buf[w*4:w*4+4], word)
	}
	return words * 4
}
