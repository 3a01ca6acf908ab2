package engine

import (
	"context"
	"testing"
	"time"

	"github.com/krakdds/rtps-engine/pkg/config"
	"github.com/krakdds/rtps-engine/pkg/discovery"
	"github.com/krakdds/rtps-engine/pkg/participant"
	"github.com/krakdds/rtps-engine/pkg/qos"
	"github.com/krakdds/rtps-engine/pkg/security"
	"github.com/krakdds/rtps-engine/pkg/typesupport"
	"github.com/krakdds/rtps-engine/pkg/wire"
)

// stubTypeSupport satisfies typesupport.TypeSupport with the minimum
// needed to acquire a topic; the engine never inspects its internals
// at this layer.
type stubTypeSupport struct{ name string }

func (s stubTypeSupport) Name() string                            { return s.name }
func (s stubTypeSupport) PreferredEncoding() typesupport.Encoding { return typesupport.EncodingCDR }
func (s stubTypeSupport) KeyOffsets() []typesupport.KeyOffset     { return nil }
func (s stubTypeSupport) MarshalledSize(data interface{}) (int, error) {
	return 0, nil
}
func (s stubTypeSupport) Marshal(buf []byte, data interface{}, swapEndian bool) (int, error) {
	return 0, nil
}
func (s stubTypeSupport) Unmarshal(buf []byte, swapEndian bool) (interface{}, error) {
	return nil, nil
}
func (s stubTypeSupport) KeyHash(data interface{}) ([16]byte, error) { return [16]byte{}, nil }

func newTestDomain(t *testing.T) *Domain {
	t.Helper()
	cfg := config.Default()
	cfg.LeaseTime = 50 * time.Millisecond
	d, err := New(cfg, participant.VendorID{1, 1}, security.NoopPlugin{}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return d
}

func TestCreateDataWriterRegistersLocalEndpoint(t *testing.T) {
	d := newTestDomain(t)
	w, err := d.CreateDataWriter("Temperature", stubTypeSupport{name: "Temp"}, qos.Policy{Reliability: qos.Reliable}, true)
	if err != nil {
		t.Fatalf("CreateDataWriter: %v", err)
	}
	if w == nil {
		t.Fatal("expected non-nil writer")
	}
	if d.Discovery.EndpointCount() != 0 {
		t.Fatalf("expected 0 remote endpoints tracked yet, got %d", d.Discovery.EndpointCount())
	}
}

func TestCreateDataReaderMatchesAlreadyDiscoveredWriter(t *testing.T) {
	d := newTestDomain(t)

	remoteGUID := participant.GUID{Prefix: participant.GUIDPrefix{9}, Entity: participant.EntityID{9, 9, 9, participant.EntityKindWriterWithKey}}
	d.Discovery.OnDiscoveredEndpoint(discovery.SEDPEndpointData{
		GUID:     remoteGUID,
		Topic:    "Temperature",
		QoS:      qos.Policy{Reliability: qos.Reliable},
		IsWriter: true,
	})

	var matched bool
	r, err := d.CreateDataReader("Temperature", stubTypeSupport{name: "Temp"}, qos.Policy{Reliability: qos.Reliable})
	if err != nil {
		t.Fatalf("CreateDataReader: %v", err)
	}

	// onDiscoveryMatch runs synchronously from RegisterLocalEndpoint's
	// caller goroutine, so the proxy is wired in by the time
	// CreateDataReader returns.
	d.mu.Lock()
	for _, e := range d.endpoints {
		if e.reader != nil {
			matched = true
		}
	}
	d.mu.Unlock()
	if !matched {
		t.Fatal("expected a local reader entry to exist")
	}

	// The reader drops DATA from writers it has no proxy for, so the
	// sample lands in its cache only if the discovered writer was matched.
	r.Data(remoteGUID, wire.Data{SeqNr: 1, SerializedData: []byte{1}}, nil, time.Now())
	if got := r.Cache.Stats().Samples; got != 1 {
		t.Fatalf("expected DATA from the already-discovered writer to reach the reader's cache, got %d samples", got)
	}
}

func TestOnSPDPDataRejectedPeerIsNotRegistered(t *testing.T) {
	d := newTestDomain(t)
	d.Security = rejectAllPeers{}

	remote := participant.GUID{Prefix: participant.GUIDPrefix{7}, Entity: participant.EntityID{}}
	d.OnSPDPData(discovery.SPDPData{GUID: remote, LeaseDuration: time.Second})

	if d.Discovery.ParticipantCount() != 0 {
		t.Fatalf("expected rejected peer to not be registered, got %d participants", d.Discovery.ParticipantCount())
	}
}

// rejectAllPeers implements security.Plugin, failing every peer check
// while allowing local creation, to exercise the engine's rejection
// path without a real credential store.
type rejectAllPeers struct{ security.NoopPlugin }

func (rejectAllPeers) CheckPeerParticipant(_ context.Context, _ security.IdentityHandle, _ []security.Token) (security.IdentityHandle, error) {
	return nil, security.ErrAccessDenied
}
