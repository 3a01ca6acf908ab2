// Package typesupport defines the opaque type-support descriptor the core
// consumes for each topic type (spec §1, §3, §6). The XTypes dynamic-type
// registry itself is out of scope; this package only carries the
// interface contract a concrete type-support implementation must satisfy.
package typesupport

import (
	"crypto/md5"
	"errors"
)

var errShortKey = errors.New("typesupport: payload too short for declared key offsets")

// Encoding selects the on-wire representation preference for a type.
type Encoding int

const (
	EncodingCDR Encoding = iota
	EncodingPLCDR
	EncodingRaw
)

// KeyOffset locates one key field within a marshalled sample, used to
// compute an instance handle without fully unmarshalling the sample.
type KeyOffset struct {
	Offset int
	Size   int
}

// TypeSupport is the opaque descriptor the engine treats a topic type as.
// A concrete implementation (outside this module's scope, per spec §1)
// supplies marshalling, key extraction and size estimation; the engine
// only ever calls through this interface.
type TypeSupport interface {
	// Name returns the type's registered name, used for equality checks
	// and SEDP announcement.
	Name() string

	// PreferredEncoding reports the wire encoding this type prefers.
	PreferredEncoding() Encoding

	// KeyOffsets returns the key field layout used by InstanceHandle.
	KeyOffsets() []KeyOffset

	// MarshalledSize returns the exact number of bytes data will occupy
	// once marshalled, used to decide fragmentation (spec §4.5).
	MarshalledSize(data interface{}) (int, error)

	// Marshal encodes data into buf (which the caller has sized via
	// MarshalledSize), honoring the endianness swap flag.
	Marshal(buf []byte, data interface{}, swapEndian bool) (int, error)

	// Unmarshal decodes buf into a new value of the type's Go
	// representation.
	Unmarshal(buf []byte, swapEndian bool) (interface{}, error)

	// KeyHash returns the 16-byte MD5-style key hash used to compute an
	// instance handle when the full key cannot be derived from offsets
	// alone (spec §6).
	KeyHash(data interface{}) ([16]byte, error)
}

// Equal reports whether two type-support descriptors describe the same
// wire type, per spec §3's "equality test for cached typecodes".
func Equal(a, b TypeSupport) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Name() == b.Name()
}

// InstanceHandle derives a fixed 16-byte instance handle from payload's
// key fields as ts.KeyOffsets declares them, slicing the still-marshalled
// payload directly rather than unmarshalling it — the wire-level
// alternative to the out-of-scope XTypes dynamic-type registry (spec §3,
// §6). Keys of 16 bytes or less are copied verbatim and zero-padded;
// longer keys are folded through MD5, matching the RTPS key-hash
// convention writers and readers use to derive instance handles. A nil
// ts or a type with no declared key offsets collapses to the zero
// handle, i.e. every sample shares one instance.
func InstanceHandle(ts TypeSupport, payload []byte) ([16]byte, error) {
	var handle [16]byte
	if ts == nil {
		return handle, nil
	}
	offsets := ts.KeyOffsets()
	if len(offsets) == 0 {
		return handle, nil
	}
	var key []byte
	for _, ko := range offsets {
		end := ko.Offset + ko.Size
		if ko.Offset < 0 || ko.Size < 0 || end > len(payload) {
			return handle, errShortKey
		}
		key = append(key, payload[ko.Offset:end]...)
	}
	if len(key) <= len(handle) {
		copy(handle[:], key)
		return handle, nil
	}
	return md5.Sum(key), nil
}
