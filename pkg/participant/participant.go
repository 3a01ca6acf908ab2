package participant

import (
	"sync"

	"github.com/krakdds/rtps-engine/pkg/locator"
)

// ProtocolVersion is the RTPS protocol version a participant advertises.
type ProtocolVersion struct{ Major, Minor uint8 }

// CurrentProtocolVersion is the version this engine advertises (spec §4.5):
// "the protocol version is advertised as 2.1; parsers tolerate but do not
// assume 2.0."
var CurrentProtocolVersion = ProtocolVersion{Major: 2, Minor: 1}

// VendorID identifies the implementation that produced a participant.
type VendorID [2]byte

// BuiltinEndpoints is a bitmask of which SPDP/SEDP built-in endpoints a
// participant announces (spec §3, §4.6).
type BuiltinEndpoints uint32

const (
	BuiltinParticipantAnnouncer BuiltinEndpoints = 1 << iota
	BuiltinParticipantDetector
	BuiltinPublicationsAnnouncer
	BuiltinPublicationsDetector
	BuiltinSubscriptionsAnnouncer
	BuiltinSubscriptionsDetector
	BuiltinTopicsAnnouncer
	BuiltinTopicsDetector
	BuiltinParticipantMessageWriter
	BuiltinParticipantMessageReader
)

// SecurityCaps is a bitmask of the security capabilities a participant
// supports, consulted by the security hooks in package security.
type SecurityCaps uint32

const (
	SecAuthentication SecurityCaps = 1 << iota
	SecAccessControl
	SecCrypto
)

// Participant is a per-domain identity owning endpoints and, for
// discovered peers, the subset of state learned via SPDP (spec §3).
type Participant struct {
	mu sync.RWMutex

	GUIDPrefix GUIDPrefix
	Vendor     VendorID
	Protocol   ProtocolVersion
	UserData   []byte

	DefaultUnicast   locator.List
	DefaultMulticast locator.List
	MetaUnicast      locator.List
	MetaMulticast    locator.List

	SecurityCaps     SecurityCaps
	BuiltinEndpoints BuiltinEndpoints
	LeaseDuration    int64 // nanoseconds; 0 means "no lease"

	manualLivelinessCount uint32

	endpoints map[EntityID]*Endpoint
}

// New constructs a local Participant with a freshly generated GUID prefix.
func New(vendor VendorID) *Participant {
	return &Participant{
		GUIDPrefix: NewGUIDPrefix(),
		Vendor:     vendor,
		Protocol:   CurrentProtocolVersion,
		endpoints:  make(map[EntityID]*Endpoint),
	}
}

// AddEndpoint registers a local endpoint under this participant.
func (p *Participant) AddEndpoint(e *Endpoint) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.endpoints[e.Header().GUID.Entity] = e
}

// RemoveEndpoint unregisters a local endpoint.
func (p *Participant) RemoveEndpoint(id EntityID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.endpoints, id)
}

// Endpoint looks up a local endpoint by entity id.
func (p *Participant) Endpoint(id EntityID) (*Endpoint, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.endpoints[id]
	return e, ok
}

// Endpoints returns a snapshot of all locally owned endpoints.
func (p *Participant) Endpoints() []*Endpoint {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Endpoint, 0, len(p.endpoints))
	for _, e := range p.endpoints {
		out = append(out, e)
	}
	return out
}

// AssertLiveliness increments the manual-liveliness counter and returns
// the new value, mirroring the original source's ParticipantMessageData
// assert counter (SPEC_FULL §4). It only updates the counter: nothing in
// this module announces it, and no liveliness guard is restarted.
func (p *Participant) AssertLiveliness() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.manualLivelinessCount++
	return p.manualLivelinessCount
}

// ManualLivelinessCount returns the current assert counter value.
func (p *Participant) ManualLivelinessCount() uint32 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.manualLivelinessCount
}

// DiscoveredSet is the domain-keyed ordered set of discovered peer
// participants, keyed by GUID prefix (spec §3). The mutex-guarded map
// with a stable iteration order mirrors
// controller/destination/endpoints_watcher.go's servicePorts map, whose
// single mutex protects the map structure only, not the entries
// themselves.
type DiscoveredSet struct {
	mu    sync.RWMutex
	order []GUIDPrefix
	byKey map[GUIDPrefix]*Participant
}

// NewDiscoveredSet constructs an empty discovered-participant set.
func NewDiscoveredSet() *DiscoveredSet {
	return &DiscoveredSet{byKey: make(map[GUIDPrefix]*Participant)}
}

// Upsert adds p if its prefix is new, or returns the existing entry
// (SEDP/SPDP republication is idempotent, spec §8 property 6).
func (s *DiscoveredSet) Upsert(p *Participant) (existing *Participant, isNew bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.byKey[p.GUIDPrefix]; ok {
		return e, false
	}
	s.byKey[p.GUIDPrefix] = p
	s.order = append(s.order, p.GUIDPrefix)
	return p, true
}

// Remove deletes the participant with the given prefix, e.g. on lease
// expiry.
func (s *DiscoveredSet) Remove(prefix GUIDPrefix) (*Participant, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byKey[prefix]
	if !ok {
		return nil, false
	}
	delete(s.byKey, prefix)
	for i, k := range s.order {
		if k == prefix {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return p, true
}

// Get looks up a discovered participant by GUID prefix.
func (s *DiscoveredSet) Get(prefix GUIDPrefix) (*Participant, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.byKey[prefix]
	return p, ok
}

// Each visits every discovered participant in discovery order.
func (s *DiscoveredSet) Each(fn func(*Participant)) {
	s.mu.RLock()
	prefixes := append([]GUIDPrefix(nil), s.order...)
	s.mu.RUnlock()
	for _, prefix := range prefixes {
		if p, ok := s.Get(prefix); ok {
			fn(p)
		}
	}
}

// Len returns the number of discovered participants.
func (s *DiscoveredSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byKey)
}
