package engine

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/krakdds/rtps-engine/pkg/discovery"
	"github.com/krakdds/rtps-engine/pkg/guard"
	"github.com/krakdds/rtps-engine/pkg/history"
	"github.com/krakdds/rtps-engine/pkg/locator"
	"github.com/krakdds/rtps-engine/pkg/participant"
	"github.com/krakdds/rtps-engine/pkg/proxy"
	"github.com/krakdds/rtps-engine/pkg/qos"
	"github.com/krakdds/rtps-engine/pkg/reader"
	"github.com/krakdds/rtps-engine/pkg/security"
	"github.com/krakdds/rtps-engine/pkg/transport"
	"github.com/krakdds/rtps-engine/pkg/typesupport"
	"github.com/krakdds/rtps-engine/pkg/writer"
)

func writerKindFor(policy qos.Policy, stateful bool) writer.Kind {
	switch {
	case stateful && policy.Reliability == qos.Reliable:
		return writer.StatefulReliable
	case stateful:
		return writer.StatefulBestEffort
	case policy.Reliability == qos.Reliable:
		return writer.StatelessReliable
	default:
		return writer.StatelessBestEffort
	}
}

func readerKindFor(policy qos.Policy) reader.Kind {
	if policy.Reliability == qos.Reliable {
		return reader.Reliable
	}
	return reader.BestEffort
}

// CreateDataWriter registers a local writer endpoint on topicName typed
// by ts, running the writer-state-machine variant QoSRequiresReliable
// and stateful select (spec §4.3), and advertises it to SEDP so future
// remote readers on the same topic can be matched.
func (d *Domain) CreateDataWriter(topicName string, ts typesupport.TypeSupport, policy qos.Policy, stateful bool) (*writer.Writer, error) {
	perms, err := d.Security.CheckCreateWriter(context.Background(), d.identity, topicName)
	if err != nil {
		return nil, err
	}

	t := d.Types.Acquire(ts)
	topic := d.Topics.Acquire(topicName, t)

	d.mu.Lock()
	counter := nextEntityCounter(d)
	guid := participant.GUID{Prefix: d.Participant.GUIDPrefix, Entity: participant.EntityIDFor(counter, participant.EntityKindWriterWithKey)}
	d.mu.Unlock()

	cache := history.New(policy.ResourceLimits, policy.TimeBasedFilterMinSep)
	cfg := writer.Config{
		HeartbeatPeriod:  d.Config.HeartbeatPeriod,
		ResendPeriod:     d.Config.ResendPeriod,
		ResendRetryLimit: d.Config.StatelessRetries,
		MsgSize:          d.Config.MsgSize,
		FragSize:         d.Config.FragSize,
		FragBurst:        d.Config.FragBurst,
		FragDelay:        d.Config.FragDelay,
		NackSuppTime:     d.Config.NackSuppTime,
		HeartbeatSupp:    d.Config.HeartbeatSupp,
	}
	w := writer.New(writerKindFor(policy, stateful), guid, cache, cfg, d.Wheel, d.Transport, d.Pool, d.ByteOrder)
	w.Start()

	chain := guard.NewChain(d.Wheel)
	if policy.Deadline > 0 {
		chain.Add(&guard.Guard{Type: guard.TypeDeadline, Mode: guard.ModeProgressive, Period: policy.Deadline})
	}
	if policy.Lifespan > 0 {
		chain.Add(&guard.Guard{Type: guard.TypeLifespan, Mode: guard.ModeProgressive, Period: policy.Lifespan})
	}

	ep := &participant.Endpoint{
		Role: participant.RoleLocalWriter,
		LocalWriter: &participant.LocalWriter{
			Header: participant.Header{GUID: guid, Topic: topic, QoS: policy},
		},
	}
	d.Participant.AddEndpoint(ep)

	d.mu.Lock()
	d.endpoints[guid.Entity] = &localEndpointEntry{writer: w, guards: chain, perms: perms}
	d.mu.Unlock()

	d.Discovery.RegisterLocalEndpoint(guid, topicName, policy, true)
	return w, nil
}

// CreateDataReader registers a local reader endpoint on topicName typed
// by ts, and advertises it to SEDP.
func (d *Domain) CreateDataReader(topicName string, ts typesupport.TypeSupport, policy qos.Policy) (*reader.Reader, error) {
	perms, err := d.Security.CheckCreateReader(context.Background(), d.identity, topicName)
	if err != nil {
		return nil, err
	}

	t := d.Types.Acquire(ts)
	topic := d.Topics.Acquire(topicName, t)

	d.mu.Lock()
	counter := nextEntityCounter(d)
	guid := participant.GUID{Prefix: d.Participant.GUIDPrefix, Entity: participant.EntityIDFor(counter, participant.EntityKindReaderWithKey)}
	d.mu.Unlock()

	cache := history.New(policy.ResourceLimits, policy.TimeBasedFilterMinSep)
	cfg := reader.Config{
		HeartbeatRespDelay: d.Config.NackRespTime,
		AliveTimeout:       d.Config.LeaseTime,
	}
	r := reader.New(readerKindFor(policy), guid, cache, cfg, d.Wheel, d.Transport, d.Pool, d.ByteOrder)
	r.Start()

	chain := guard.NewChain(d.Wheel)
	if policy.Deadline > 0 {
		chain.Add(&guard.Guard{Type: guard.TypeDeadline, Mode: guard.ModeProgressive, Period: policy.Deadline})
	}

	ep := &participant.Endpoint{
		Role: participant.RoleLocalReader,
		LocalReader: &participant.LocalReader{
			Header: participant.Header{GUID: guid, Topic: topic, QoS: policy},
		},
	}
	d.Participant.AddEndpoint(ep)

	d.mu.Lock()
	d.endpoints[guid.Entity] = &localEndpointEntry{reader: r, ts: ts, guards: chain, perms: perms}
	d.mu.Unlock()

	d.Discovery.RegisterLocalEndpoint(guid, topicName, policy, false)
	return r, nil
}

// DeleteEndpoint tears down a previously created writer or reader:
// unadvertises it from SEDP, removes it from the participant's endpoint
// list, and stops its state machine. Its guard chain is left as it is,
// and the type and topic references taken at creation are not released.
func (d *Domain) DeleteEndpoint(id participant.EntityID, topicName string) {
	d.mu.Lock()
	e, ok := d.endpoints[id]
	delete(d.endpoints, id)
	d.mu.Unlock()
	if !ok {
		return
	}

	d.Discovery.UnregisterLocalEndpoint(participant.GUID{Prefix: d.Participant.GUIDPrefix, Entity: id}, topicName)
	d.Participant.RemoveEndpoint(id)

	switch {
	case e.writer != nil:
		e.writer.Finish()
	case e.reader != nil:
		e.reader.Finish()
	}
}

// OnSPDPData feeds an externally-decoded SPDP announcement into the
// discovery registry. Parameter-list deserialization of the built-in
// participant-announcement DATA submessage's payload is outside this
// module's scope, the same way SPEC_FULL §5 excludes the XTypes dynamic
// type registry and concrete transport drivers — the caller is whatever
// decodes the RTPS built-in discovery parameter list into this shape.
func (d *Domain) OnSPDPData(data discovery.SPDPData) {
	peerID, err := d.Security.CheckPeerParticipant(context.Background(), d.identity, data.IdentityTokens)
	if err != nil {
		log.WithField("guid", data.GUID).WithError(err).Warn("engine: rejected peer participant")
		return
	}
	d.mu.Lock()
	d.peerIdentities[data.GUID.Prefix] = peerID
	d.mu.Unlock()

	d.Discovery.OnParticipant(data)
	d.wake()
}

// OnSEDPData feeds an externally-decoded SEDP endpoint announcement into
// the discovery registry, same scope boundary as OnSPDPData.
func (d *Domain) OnSEDPData(data discovery.SEDPEndpointData) {
	d.Discovery.OnDiscoveredEndpoint(data)
	d.wake()
}

// onDiscoveryMatch is the discovery.MatchListener wired in New: it
// builds (or tears down) the writer-side/reader-side proxy for a newly
// matched or lost remote endpoint and wires it into the local state
// machine, which is exactly the point spec §5 names as the ordering
// guarantee "matched-endpoint callbacks fire before the first data
// submessage is processed for that association".
func (d *Domain) onDiscoveryMatch(local participant.GUID, remote discovery.SEDPEndpointData, matched bool, bad []qos.Incompatibility) {
	d.mu.Lock()
	e, ok := d.endpoints[local.Entity]
	d.mu.Unlock()
	if !ok {
		return
	}

	if !matched {
		if e.writer != nil {
			e.writer.UnmatchReader(remote.GUID)
		}
		if e.reader != nil {
			e.reader.UnmatchWriter(remote.GUID)
		}
		return
	}

	d.mu.Lock()
	peerID := d.peerIdentities[remote.GUID.Prefix]
	d.mu.Unlock()

	switch {
	case e.writer != nil:
		if err := d.Security.CheckPeerWriter(context.Background(), e.perms, peerID, remote.Topic); err != nil {
			log.WithField("peer", remote.GUID).WithError(err).Warn("engine: rejected matched reader on permissions check")
			e.writer.UnmatchReader(remote.GUID)
			return
		}
		p := proxy.NewRemoteReader(remote.GUID)
		addLocators(d.Locators, &p.Unicast, remote.Unicast)
		addLocators(d.Locators, &p.Multicast, remote.Multicast)
		e.writer.MatchReader(p)
	case e.reader != nil:
		if err := d.Security.CheckPeerReader(context.Background(), e.perms, peerID, remote.Topic); err != nil {
			log.WithField("peer", remote.GUID).WithError(err).Warn("engine: rejected matched writer on permissions check")
			e.reader.UnmatchWriter(remote.GUID)
			return
		}
		p := proxy.NewRemoteWriter(remote.GUID)
		addLocators(d.Locators, &p.Unicast, remote.Unicast)
		addLocators(d.Locators, &p.Multicast, remote.Multicast)
		e.reader.MatchWriter(p)
	}
	d.wake()
}

func addLocators(reg *locator.Registry, dst *locator.List, src locator.List) {
	src.Each(func(loc locator.Locator) {
		reg.Add(dst, loc)
	})
}

// RegisterUDP adds a UDP transport bound to laddr, handling both
// unicast sends and, when laddr has a fixed port, inbound receive.
func (d *Domain) RegisterUDP(kind locator.Kind, laddr string) error {
	t, err := transport.NewUDP(kind, laddr)
	if err != nil {
		return err
	}
	d.Transport.Register(t)
	return nil
}
