// Package locator interns and reference-counts RTPS locators.
//
// A locator addresses one reachable endpoint of a transport: a
// {kind, address, port} tuple. The registry deduplicates locators across
// every list in the domain the way pkg/addr's proxy/public address helpers
// in the teacher format and compare addresses, and the way
// controller/destination/endpoints_watcher.go guards a shared, mutated map
// with a single mutex while leaving list traversal itself lock-free.
package locator

import (
	"encoding/binary"
	"fmt"
	"net"
)

// Kind identifies the transport a locator addresses.
type Kind uint32

// Locator kinds recognised by the engine. Values are taken from the RTPS
// wire format (kind is a 4-byte field on the wire).
const (
	KindInvalid Kind = 0
	KindUDPv4   Kind = 1
	KindUDPv6   Kind = 2
	KindTCPv4   Kind = 4
	KindTCPv6   Kind = 8
	KindSHM     Kind = 16
)

func (k Kind) String() string {
	switch k {
	case KindUDPv4:
		return "UDPv4"
	case KindUDPv6:
		return "UDPv6"
	case KindTCPv4:
		return "TCPv4"
	case KindTCPv6:
		return "TCPv6"
	case KindSHM:
		return "SHM"
	default:
		return "INVALID"
	}
}

// Scope classifies the reachability domain of a locator's address.
type Scope uint8

const (
	ScopeUnknown Scope = iota
	ScopeNode
	ScopeLink
	ScopeSite
	ScopeOrg
	ScopeGlobal
)

// Flags records the roles a locator may serve, matching spec §3's
// {data,meta,ucast,mcast,secure,server} set.
type Flags uint16

const (
	FlagData Flags = 1 << iota
	FlagMeta
	FlagUnicast
	FlagMulticast
	FlagSecure
	FlagServer
)

func (f Flags) Has(o Flags) bool { return f&o != 0 }

// Locator is the addressable tuple carried on the wire (24 bytes:
// kind:4, port:4, address:16) plus the local-only bookkeeping fields that
// never cross the wire.
type Locator struct {
	Kind             Kind
	Port             uint32
	Address          [16]byte
	ScopeID          uint32
	Scope            Scope
	Flags            Flags
	SecurityProtocol uint8
	InterfaceIndex   int
	TransportHandle  uintptr
}

// Key is the identity a Locator is deduplicated on: kind, address and port.
// Scope, flags and the security protocol nibble are mutable metadata that
// get merged into the existing node rather than producing a second entry.
type Key struct {
	Kind    Kind
	Address [16]byte
	Port    uint32
}

func keyOf(l Locator) Key { return Key{Kind: l.Kind, Address: l.Address, Port: l.Port} }

// hashBytes returns the address bytes that participate in equality and
// hashing: the low 4 bytes (IPv4-mapped) for UDPv4/TCPv4, all 16 for the
// IPv6 kinds. This mirrors spec §4.1's hashing rule.
func hashBytes(k Kind, addr [16]byte) []byte {
	switch k {
	case KindUDPv4, KindTCPv4:
		return addr[12:16]
	default:
		return addr[:]
	}
}

// Equal reports whether two locators address the same kind/address/port.
// Reference counts, scope and flags are not part of locator identity.
func Equal(a, b Locator) bool {
	if a.Kind != b.Kind || a.Port != b.Port {
		return false
	}
	ab, bb := hashBytes(a.Kind, a.Address), hashBytes(b.Kind, b.Address)
	if len(ab) != len(bb) {
		return false
	}
	for i := range ab {
		if ab[i] != bb[i] {
			return false
		}
	}
	return true
}

// AddressString renders the locator's address as a net.IP string, the way
// the teacher's pkg/addr formats TCPAddress values for logging.
func (l Locator) AddressString() string {
	switch l.Kind {
	case KindUDPv4, KindTCPv4:
		return net.IP(l.Address[12:16]).String()
	default:
		ip := net.IP(l.Address[:])
		return ip.String()
	}
}

// HostPort renders "address:port" the way pkg/addr.PublicAddressToString does.
func (l Locator) HostPort() string {
	return net.JoinHostPort(l.AddressString(), fmt.Sprintf("%d", l.Port))
}

// EncodeWire writes the 24-byte wire representation (kind, port, address)
// per spec §6.
func (l Locator) EncodeWire(buf []byte) {
	binary.BigEndian.PutUint32(buf[0:4], uint32(l.Kind))
	binary.BigEndian.PutUint32(buf[4:8], l.Port)
	copy(buf[8:24], l.Address[:])
}

// DecodeWire parses the 24-byte wire representation into a Locator. Only
// the wire-visible fields are populated; Scope/Flags/SecurityProtocol must
// be filled in by the caller from context (the announcing proxy's flags).
func DecodeWire(buf []byte) Locator {
	var l Locator
	l.Kind = Kind(binary.BigEndian.Uint32(buf[0:4]))
	l.Port = binary.BigEndian.Uint32(buf[4:8])
	copy(l.Address[:], buf[8:24])
	return l
}

// FromUDPAddr builds a UDPv4/UDPv6 Locator from a standard net.UDPAddr.
func FromUDPAddr(addr *net.UDPAddr, flags Flags) Locator {
	var l Locator
	l.Port = uint32(addr.Port)
	l.Flags = flags
	if ip4 := addr.IP.To4(); ip4 != nil {
		l.Kind = KindUDPv4
		copy(l.Address[12:16], ip4)
	} else {
		l.Kind = KindUDPv6
		copy(l.Address[:], addr.IP.To16())
	}
	return l
}
