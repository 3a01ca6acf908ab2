package discovery

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/krakdds/rtps-engine/pkg/participant"
	"github.com/krakdds/rtps-engine/pkg/qos"
)

func guidFor(last byte) participant.GUID {
	var g participant.GUID
	g.Prefix[11] = last
	g.Entity[3] = 0x03 // arbitrary user-writer-ish entity kind byte
	return g
}

type matchEvent struct {
	local    participant.GUID
	matched  bool
	badCount int
}

func collectMatches(r *Registry) (*[]matchEvent, func()) {
	var mu sync.Mutex
	events := []matchEvent{}
	r.AddListener(func(local participant.GUID, _ SEDPEndpointData, matched bool, bad []qos.Incompatibility) {
		mu.Lock()
		events = append(events, matchEvent{local: local, matched: matched, badCount: len(bad)})
		mu.Unlock()
	})
	return &events, func() { mu.Lock(); mu.Unlock() }
}

func TestRegisterLocalEndpointMatchesAlreadyDiscoveredRemote(t *testing.T) {
	r := NewRegistry(time.Minute)
	events, _ := collectMatches(r)

	remote := guidFor(1)
	r.OnDiscoveredEndpoint(SEDPEndpointData{
		GUID:     remote,
		Topic:    "temperature",
		QoS:      qos.Default(),
		IsWriter: true,
	})

	local := guidFor(2)
	r.RegisterLocalEndpoint(local, "temperature", qos.Default(), false)

	assert.Len(t, *events, 1, "expected one match event")
	assert.True(t, (*events)[0].matched, "expected compatible default QoS to match")
	assert.Equal(t, local, (*events)[0].local)
}

func TestOnDiscoveredEndpointMatchesAlreadyRegisteredLocal(t *testing.T) {
	r := NewRegistry(time.Minute)
	events, _ := collectMatches(r)

	local := guidFor(3)
	r.RegisterLocalEndpoint(local, "pose", qos.Default(), true)

	remote := guidFor(4)
	r.OnDiscoveredEndpoint(SEDPEndpointData{
		GUID:     remote,
		Topic:    "pose",
		QoS:      qos.Default(),
		IsWriter: false,
	})

	if len(*events) != 1 || (*events)[0].local != local {
		t.Fatalf("expected a match event for the local endpoint, got %v", *events)
	}
}

func TestIncompatibleReliabilityReportsUnmatched(t *testing.T) {
	r := NewRegistry(time.Minute)
	events, _ := collectMatches(r)

	offered := qos.Default()
	offered.Reliability = qos.BestEffort
	requested := qos.Default()
	requested.Reliability = qos.Reliable

	local := guidFor(5)
	r.RegisterLocalEndpoint(local, "alarms", requested, false) // reader requesting Reliable

	remote := guidFor(6)
	r.OnDiscoveredEndpoint(SEDPEndpointData{
		GUID:     remote,
		Topic:    "alarms",
		QoS:      offered, // writer only offers BestEffort
		IsWriter: true,
	})

	if len(*events) != 1 {
		t.Fatalf("expected one match evaluation, got %d", len(*events))
	}
	if (*events)[0].matched {
		t.Fatal("expected BestEffort writer vs Reliable reader to be reported incompatible")
	}
	if (*events)[0].badCount == 0 {
		t.Fatal("expected at least one reported incompatibility")
	}
}

func TestParticipantLeaseExpiryReapsItsEndpoints(t *testing.T) {
	r := NewRegistry(50 * time.Millisecond)
	events, _ := collectMatches(r)

	local := guidFor(7)
	r.RegisterLocalEndpoint(local, "log", qos.Default(), false)

	remote := guidFor(8)
	r.OnParticipant(SPDPData{GUID: remote, LeaseDuration: 30 * time.Millisecond})
	r.OnDiscoveredEndpoint(SEDPEndpointData{GUID: remote, Topic: "log", QoS: qos.Default(), IsWriter: true})

	if r.ParticipantCount() != 1 || r.EndpointCount() != 1 {
		t.Fatalf("expected 1 participant and 1 endpoint before expiry, got %d/%d", r.ParticipantCount(), r.EndpointCount())
	}

	deadline := time.Now().Add(2 * time.Second)
	for r.EndpointCount() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	if r.EndpointCount() != 0 {
		t.Fatalf("expected endpoint to be reaped after lease expiry, still have %d", r.EndpointCount())
	}
	if r.ParticipantCount() != 0 {
		t.Fatalf("expected participant to be reaped after lease expiry, still have %d", r.ParticipantCount())
	}

	found := false
	for _, e := range *events {
		if e.local == local && !e.matched {
			found = true
		}
	}
	if !found {
		t.Fatal("expected an unmatch event when the remote endpoint was reaped")
	}
}

func TestUnregisterLocalEndpointStopsFutureMatches(t *testing.T) {
	r := NewRegistry(time.Minute)
	events, _ := collectMatches(r)

	local := guidFor(9)
	r.RegisterLocalEndpoint(local, "cmd", qos.Default(), false)
	r.UnregisterLocalEndpoint(local, "cmd")

	r.OnDiscoveredEndpoint(SEDPEndpointData{
		GUID:     guidFor(10),
		Topic:    "cmd",
		QoS:      qos.Default(),
		IsWriter: true,
	})

	if len(*events) != 0 {
		t.Fatalf("expected no match events after unregistering, got %v", *events)
	}
}
