// Package wire implements the RTPS 2.1 message parser and builder (spec
// §4.5, §6): the 20-byte message header, 4-byte submessage headers, and
// codecs for DATA, DATA_FRAG, HEARTBEAT, HEARTBEAT_FRAG, ACKNACK,
// NACK_FRAG, GAP, INFO_TS, INFO_SRC, INFO_DST and INFO_REPLY.
package wire

import (
	"encoding/binary"
	"errors"

	"github.com/krakdds/rtps-engine/pkg/participant"
)

// ProtocolID is the 4-byte magic "RTPS" at the start of every message.
var ProtocolID = [4]byte{'R', 'T', 'P', 'S'}

// MessageHeader is the 20-byte header prefixing every RTPS message
// (spec §6): protocol id, version, vendor id, GUID prefix.
type MessageHeader struct {
	Version    participant.ProtocolVersion
	Vendor     participant.VendorID
	GUIDPrefix participant.GUIDPrefix
}

const messageHeaderLen = 20

// EncodeMessageHeader writes h into buf (which must be at least 20 bytes).
func EncodeMessageHeader(buf []byte, h MessageHeader) {
	copy(buf[0:4], ProtocolID[:])
	buf[4] = h.Version.Major
	buf[5] = h.Version.Minor
	copy(buf[6:8], h.Vendor[:])
	copy(buf[8:20], h.GUIDPrefix[:])
}

// DecodeMessageHeader parses the leading 20 bytes of an RTPS message.
// Per spec §4.5, a version 2.0 header is tolerated but this engine never
// assumes/produces one.
func DecodeMessageHeader(buf []byte) (MessageHeader, error) {
	if len(buf) < messageHeaderLen {
		return MessageHeader{}, errors.New("wire: message shorter than header")
	}
	if buf[0] != ProtocolID[0] || buf[1] != ProtocolID[1] || buf[2] != ProtocolID[2] || buf[3] != ProtocolID[3] {
		return MessageHeader{}, errors.New("wire: bad protocol id")
	}
	var h MessageHeader
	h.Version = participant.ProtocolVersion{Major: buf[4], Minor: buf[5]}
	copy(h.Vendor[:], buf[6:8])
	copy(h.GUIDPrefix[:], buf[8:20])
	return h, nil
}

// SubmessageID identifies a submessage kind (spec §6).
type SubmessageID byte

const (
	IDData          SubmessageID = 0x15
	IDDataFrag      SubmessageID = 0x16
	IDHeartbeat     SubmessageID = 0x07
	IDHeartbeatFrag SubmessageID = 0x13
	IDAckNack       SubmessageID = 0x06
	IDNackFrag      SubmessageID = 0x12
	IDGap           SubmessageID = 0x08
	IDInfoTS        SubmessageID = 0x09
	IDInfoSrc       SubmessageID = 0x0C
	IDInfoDst       SubmessageID = 0x0E
	IDInfoReply     SubmessageID = 0x0F
)

func (id SubmessageID) String() string {
	switch id {
	case IDData:
		return "DATA"
	case IDDataFrag:
		return "DATA_FRAG"
	case IDHeartbeat:
		return "HEARTBEAT"
	case IDHeartbeatFrag:
		return "HEARTBEAT_FRAG"
	case IDAckNack:
		return "ACKNACK"
	case IDNackFrag:
		return "NACK_FRAG"
	case IDGap:
		return "GAP"
	case IDInfoTS:
		return "INFO_TS"
	case IDInfoSrc:
		return "INFO_SRC"
	case IDInfoDst:
		return "INFO_DST"
	case IDInfoReply:
		return "INFO_REPLY"
	default:
		return "UNKNOWN"
	}
}

// SubmessageFlags is the 1-byte flags field; bit 0 is always the
// endianness flag (1 = little-endian) per spec §4.5.
type SubmessageFlags byte

const flagEndianness SubmessageFlags = 0x01

// LittleEndian reports whether this submessage's fields are little-endian.
func (f SubmessageFlags) LittleEndian() bool { return f&flagEndianness != 0 }

// ByteOrder returns the binary.ByteOrder matching the flags.
func (f SubmessageFlags) ByteOrder() binary.ByteOrder {
	if f.LittleEndian() {
		return binary.LittleEndian
	}
	return binary.BigEndian
}

// SubmessageHeader is the 4-byte header prefixing every submessage.
type SubmessageHeader struct {
	ID     SubmessageID
	Flags  SubmessageFlags
	Length uint16
}

const submessageHeaderLen = 4

// EncodeSubmessageHeader writes h into buf using the byte order implied
// by h.Flags.
func EncodeSubmessageHeader(buf []byte, h SubmessageHeader) {
	buf[0] = byte(h.ID)
	buf[1] = byte(h.Flags)
	h.Flags.ByteOrder().PutUint16(buf[2:4], h.Length)
}

// DecodeSubmessageHeader parses the leading 4 bytes of a submessage.
func DecodeSubmessageHeader(buf []byte) (SubmessageHeader, error) {
	if len(buf) < submessageHeaderLen {
		return SubmessageHeader{}, errors.New("wire: submessage shorter than header")
	}
	flags := SubmessageFlags(buf[1])
	return SubmessageHeader{
		ID:     SubmessageID(buf[0]),
		Flags:  flags,
		Length: flags.ByteOrder().Uint16(buf[2:4]),
	}, nil
}

// SequenceNumber is RTPS's 64-bit sequence number, stored on the wire as
// high-32 then low-32 (spec §6).
type SequenceNumber uint64

// EncodeSequenceNumber writes seq into buf (8 bytes) per the wire layout.
func EncodeSequenceNumber(buf []byte, seq SequenceNumber, order binary.ByteOrder) {
	order.PutUint32(buf[0:4], uint32(seq>>32))
	order.PutUint32(buf[4:8], uint32(seq))
}

// DecodeSequenceNumber parses an 8-byte high-32/low-32 sequence number.
func DecodeSequenceNumber(buf []byte, order binary.ByteOrder) SequenceNumber {
	hi := uint64(order.Uint32(buf[0:4]))
	lo := uint64(order.Uint32(buf[4:8]))
	return SequenceNumber(hi<<32 | lo)
}

// entityIDOffsets gives the byte offset of the embedded writerId field
// within each submessage kind's body, used by the parser's table-driven
// dispatch to resolve the local GUID without a full decode (spec §4.5).
var entityIDOffsets = map[SubmessageID]int{
	IDData:          8, // readerId at offset 4..8, writerId at 8..12 — see DecodeData
	IDDataFrag:      8,
	IDHeartbeat:     4,
	IDHeartbeatFrag: 4,
	IDAckNack:       4,
	IDNackFrag:      4,
	IDGap:           4,
}

// EntityIDOffset returns the byte offset of the writerId field for a
// given submessage id, or ok=false if the kind carries none
// (the INFO_* submessages).
func EntityIDOffset(id SubmessageID) (int, bool) {
	off, ok := entityIDOffsets[id]
	return off, ok
}
