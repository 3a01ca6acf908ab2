package participant

import (
	"github.com/krakdds/rtps-engine/pkg/locator"
	"github.com/krakdds/rtps-engine/pkg/qos"
)

// Header is the common embedded struct shared by every endpoint variant
// (spec §9's "tagged variant, shared endpoint header" strategy, replacing
// the source's vtable-based polymorphism).
type Header struct {
	GUID      GUID
	Topic     *Topic
	QoS       qos.Policy
	Unicast   locator.List
	Multicast locator.List
}

// Role distinguishes which of the four endpoint variants an Endpoint
// holds, letting callers type-switch without reflection.
type Role int

const (
	RoleLocalReader Role = iota
	RoleLocalWriter
	RoleDiscoveredReader
	RoleDiscoveredWriter
)

// LocalReader is a local reader endpoint: it owns a history cache, a
// status mask, and a guard chain (spec §3).
type LocalReader struct {
	Header
	StatusMask  uint32
	GuardChain  interface{} // *guard.Chain; interface{} avoids an import cycle
	CacheHandle interface{} // *history.Cache
}

// LocalWriter is a local writer endpoint, with the same local-only
// extensions as LocalReader.
type LocalWriter struct {
	Header
	StatusMask  uint32
	GuardChain  interface{}
	CacheHandle interface{}
}

// DiscoveredReader is a remote reader learned via SEDP. It holds a
// per-GUID chain of weak-backref proxy links (spec §9's cycle-breaking
// strategy): the proxy is owned by the matched local writer, and this
// struct only ever holds a non-owning pointer to it.
type DiscoveredReader struct {
	Header
	ProxyChain []interface{} // []*proxy.RemoteReader, non-owning
}

// DiscoveredWriter is the write-side counterpart of DiscoveredReader.
type DiscoveredWriter struct {
	Header
	ProxyChain []interface{} // []*proxy.RemoteWriter, non-owning
}

// Endpoint is the tagged-variant polymorphic endpoint type described in
// spec §9: exactly one of the typed fields is non-nil, selected by Role.
type Endpoint struct {
	Role             Role
	LocalReader      *LocalReader
	LocalWriter      *LocalWriter
	DiscoveredReader *DiscoveredReader
	DiscoveredWriter *DiscoveredWriter
}

// Header returns the common header embedded in whichever variant is set.
func (e *Endpoint) Header() *Header {
	switch e.Role {
	case RoleLocalReader:
		return &e.LocalReader.Header
	case RoleLocalWriter:
		return &e.LocalWriter.Header
	case RoleDiscoveredReader:
		return &e.DiscoveredReader.Header
	case RoleDiscoveredWriter:
		return &e.DiscoveredWriter.Header
	}
	return nil
}

// IsWriter reports whether this endpoint is on the writer side (local or
// discovered).
func (e *Endpoint) IsWriter() bool {
	return e.Role == RoleLocalWriter || e.Role == RoleDiscoveredWriter
}

// IsLocal reports whether this endpoint is owned by this participant
// (as opposed to discovered on a remote one).
func (e *Endpoint) IsLocal() bool {
	return e.Role == RoleLocalReader || e.Role == RoleLocalWriter
}
