// Package discovery implements the SPDP/SEDP built-in discovery protocol
// (spec §1's "endpoint discovery"): participant announcement, endpoint
// advertisement, QoS-gated matching, and lease-duration-driven
// participant reaping (SPEC_FULL §4).
//
// The subscribe/notify shape is the same one package history's doc
// comment already credits to endpoints_watcher.go: a mutex-guarded index
// keyed by identity, with registered listeners invoked on every
// relevant change — here the key is a GUID/topic pair rather than a
// Kubernetes service port.
package discovery

import (
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	log "github.com/sirupsen/logrus"

	"github.com/krakdds/rtps-engine/pkg/locator"
	"github.com/krakdds/rtps-engine/pkg/participant"
	"github.com/krakdds/rtps-engine/pkg/qos"
	"github.com/krakdds/rtps-engine/pkg/security"
)

// SPDPData is the built-in participant discovery payload a remote
// participant announces periodically.
type SPDPData struct {
	GUID                  participant.GUID
	MetatrafficUnicast    locator.List
	MetatrafficMulticast  locator.List
	DefaultUnicast        locator.List
	DefaultMulticast      locator.List
	LeaseDuration         time.Duration
	ManualLivelinessCount uint32
	Builtin               participant.BuiltinEndpoints
	// IdentityTokens carries the peer's security handshake tokens
	// (spec §4.8: "tokens are byte strings passed through the
	// discovery data"). The registry never inspects them; it is the
	// caller's job to run them through a security.Plugin before
	// trusting the rest of this participant's announcement.
	IdentityTokens []security.Token
}

// SEDPEndpointData is the built-in endpoint discovery payload describing
// one remote reader or writer.
type SEDPEndpointData struct {
	GUID      participant.GUID
	Topic     string
	TypeName  string
	QoS       qos.Policy
	Unicast   locator.List
	Multicast locator.List
	IsWriter  bool
}

// MatchListener is notified whenever a local endpoint gains or loses a
// match against a discovered remote endpoint (spec §4.6).
type MatchListener func(local participant.GUID, remote SEDPEndpointData, matched bool, incompatible []qos.Incompatibility)

type localEndpoint struct {
	guid     participant.GUID
	topic    string
	policy   qos.Policy
	isWriter bool
}

// Registry tracks discovered SPDP participants and SEDP endpoints, and
// evaluates QoS compatibility between local and remote endpoints sharing
// a topic name as each side is registered (spec §4.6).
type Registry struct {
	mu           sync.RWMutex
	participants map[string]*SPDPData // keyed by GUIDPrefix bytes
	endpoints    map[participant.GUID]*SEDPEndpointData
	localByTopic map[string][]localEndpoint
	listeners    []MatchListener

	leases *gocache.Cache
}

// NewRegistry constructs a discovery registry whose participant leases
// default to defaultLease when a remote's SPDP data doesn't override it.
func NewRegistry(defaultLease time.Duration) *Registry {
	r := &Registry{
		participants: make(map[string]*SPDPData),
		endpoints:    make(map[participant.GUID]*SEDPEndpointData),
		localByTopic: make(map[string][]localEndpoint),
		leases:       gocache.New(defaultLease, defaultLease/2),
	}
	r.leases.OnEvicted(func(key string, _ interface{}) {
		r.expireParticipant(key)
	})
	return r
}

// AddListener registers cb to be invoked on every future match/unmatch.
func (r *Registry) AddListener(cb MatchListener) {
	r.mu.Lock()
	r.listeners = append(r.listeners, cb)
	r.mu.Unlock()
}

func prefixKey(p participant.GUIDPrefix) string { return string(p[:]) }

// OnParticipant records or refreshes a remote participant's SPDP
// announcement, (re)arming its lease (spec §4.6, SPEC_FULL §4: "lease-
// duration-driven participant reaping").
func (r *Registry) OnParticipant(data SPDPData) {
	key := prefixKey(data.GUID.Prefix)
	lease := data.LeaseDuration
	if lease <= 0 {
		lease = gocache.DefaultExpiration
	}

	r.mu.Lock()
	r.participants[key] = &data
	r.mu.Unlock()

	r.leases.Set(key, data.GUID.Prefix, lease)
}

// RegisterLocalEndpoint advertises a local reader/writer for matching
// against future (and already-discovered) remote endpoints on the same
// topic.
func (r *Registry) RegisterLocalEndpoint(guid participant.GUID, topic string, policy qos.Policy, isWriter bool) {
	le := localEndpoint{guid: guid, topic: topic, policy: policy, isWriter: isWriter}

	r.mu.Lock()
	r.localByTopic[topic] = append(r.localByTopic[topic], le)
	existing := make([]*SEDPEndpointData, 0)
	for _, e := range r.endpoints {
		if e.Topic == topic && e.IsWriter != isWriter {
			existing = append(existing, e)
		}
	}
	r.mu.Unlock()

	for _, remote := range existing {
		r.evaluateMatch(le, *remote)
	}
}

// UnregisterLocalEndpoint removes a local endpoint from future matching
// consideration.
func (r *Registry) UnregisterLocalEndpoint(guid participant.GUID, topic string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.localByTopic[topic]
	for i, le := range list {
		if le.guid == guid {
			r.localByTopic[topic] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// OnDiscoveredEndpoint records a remote endpoint's SEDP data and
// evaluates it against every matching local endpoint on the same topic
// (spec §4.6: CheckCompatible at match time).
func (r *Registry) OnDiscoveredEndpoint(data SEDPEndpointData) {
	r.mu.Lock()
	r.endpoints[data.GUID] = &data
	locals := make([]localEndpoint, len(r.localByTopic[data.Topic]))
	copy(locals, r.localByTopic[data.Topic])
	r.mu.Unlock()

	for _, le := range locals {
		if le.isWriter != data.IsWriter {
			r.evaluateMatch(le, data)
		}
	}
}

// RemoveDiscoveredEndpoint drops a remote endpoint (e.g. on an explicit
// SEDP dispose) and notifies listeners of the unmatch.
func (r *Registry) RemoveDiscoveredEndpoint(guid participant.GUID) {
	r.mu.Lock()
	data, ok := r.endpoints[guid]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.endpoints, guid)
	locals := make([]localEndpoint, len(r.localByTopic[data.Topic]))
	copy(locals, r.localByTopic[data.Topic])
	listeners := append([]MatchListener(nil), r.listeners...)
	r.mu.Unlock()

	for _, le := range locals {
		if le.isWriter != data.IsWriter {
			for _, cb := range listeners {
				cb(le.guid, *data, false, nil)
			}
		}
	}
}

func (r *Registry) evaluateMatch(local localEndpoint, remote SEDPEndpointData) {
	var offered, requested qos.Policy
	if local.isWriter {
		offered, requested = local.policy, remote.QoS
	} else {
		offered, requested = remote.QoS, local.policy
	}
	bad := qos.CheckCompatible(offered, requested)

	r.mu.RLock()
	listeners := append([]MatchListener(nil), r.listeners...)
	r.mu.RUnlock()
	for _, cb := range listeners {
		cb(local.guid, remote, len(bad) == 0, bad)
	}
}

// expireParticipant is the go-cache eviction callback for a participant
// whose SPDP lease expired: every endpoint discovered under its GUID
// prefix is removed and its matches torn down (SPEC_FULL §4).
func (r *Registry) expireParticipant(key string) {
	r.mu.Lock()
	delete(r.participants, key)
	var dead []participant.GUID
	for guid := range r.endpoints {
		if prefixKey(guid.Prefix) == key {
			dead = append(dead, guid)
		}
	}
	r.mu.Unlock()

	log.WithField("participant_prefix_len", len(key)).Info("discovery: participant lease expired, reaping its endpoints")
	for _, guid := range dead {
		r.RemoveDiscoveredEndpoint(guid)
	}
}

// ParticipantCount reports how many remote participants currently have
// a live lease, used by telemetry.
func (r *Registry) ParticipantCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.participants)
}

// EndpointCount reports how many remote endpoints are currently known.
func (r *Registry) EndpointCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.endpoints)
}
