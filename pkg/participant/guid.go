// Package participant defines the DCPS-facing data model the RTPS engine
// serves: participants, topics, types and the tagged-variant endpoint
// hierarchy described in spec §3 and §9 ("replace deep inheritance with a
// tagged variant").
package participant

import (
	"encoding/binary"

	"github.com/google/uuid"
)

// GUIDPrefix is the 12-byte participant-identifying prefix of a GUID.
type GUIDPrefix [12]byte

// EntityID is the 4-byte entity-identifying suffix of a GUID. The low byte
// carries the entity kind nibble (reader/writer, with/without key,
// builtin/user), per spec §3.
type EntityID [4]byte

// EntityKind bits, matching the RTPS wire encoding of the EntityID kind
// byte.
const (
	EntityKindUnknown       byte = 0x00
	EntityKindWriterWithKey byte = 0x02
	EntityKindWriterNoKey   byte = 0x03
	EntityKindReaderNoKey   byte = 0x04
	EntityKindReaderWithKey byte = 0x07
	EntityKindBuiltinFlag   byte = 0xC0
)

// GUID is a 12-byte participant prefix plus a 4-byte entity id, the
// engine's universal endpoint/participant identity (spec §3).
type GUID struct {
	Prefix GUIDPrefix
	Entity EntityID
}

// NewGUIDPrefix derives a participant GUID prefix from a fresh random
// UUID's first 12 bytes. Using google/uuid here — rather than hand-rolling
// a random-byte generator — follows the same "reach for the ecosystem
// library already in this module's dependency graph" rule SPEC_FULL §3
// applies to btree and go-cache: the teacher never needed a GUID
// generator (Kubernetes UIDs play that role for it), but uuid is already
// a well-known, widely vendored choice for exactly this.
func NewGUIDPrefix() GUIDPrefix {
	id := uuid.New()
	var p GUIDPrefix
	copy(p[:], id[:12])
	return p
}

// EntityIDFor builds an EntityID from a 24-bit counter and a kind byte.
func EntityIDFor(counter uint32, kind byte) EntityID {
	var e EntityID
	binary.BigEndian.PutUint32(e[:], counter<<8)
	e[3] = kind
	return e
}

// IsWriter reports whether the entity kind nibble denotes a writer.
func (e EntityID) IsWriter() bool {
	switch e[3] &^ EntityKindBuiltinFlag {
	case EntityKindWriterWithKey, EntityKindWriterNoKey:
		return true
	}
	return false
}

// IsReader reports whether the entity kind nibble denotes a reader.
func (e EntityID) IsReader() bool {
	switch e[3] &^ EntityKindBuiltinFlag {
	case EntityKindReaderWithKey, EntityKindReaderNoKey:
		return true
	}
	return false
}

// IsBuiltin reports whether the entity is a built-in discovery endpoint.
func (e EntityID) IsBuiltin() bool { return e[3]&EntityKindBuiltinFlag == EntityKindBuiltinFlag }

// String renders the GUID as the prefix's 24 hex digits, a '.', and the
// entity id's 8 hex digits.
func (g GUID) String() string {
	buf := make([]byte, 0, 40)
	for _, b := range g.Prefix {
		buf = appendHexByte(buf, b)
	}
	buf = append(buf, '.')
	for _, b := range g.Entity {
		buf = appendHexByte(buf, b)
	}
	return string(buf)
}

func appendHexByte(buf []byte, b byte) []byte {
	const hex = "0123456789abcdef"
	return append(buf, hex[b>>4], hex[b&0xf])
}
