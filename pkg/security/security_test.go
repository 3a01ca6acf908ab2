package security

import (
	"context"
	"testing"
)

func TestNewDomainRejectsEmptyName(t *testing.T) {
	if _, err := NewDomain(1, ""); err == nil {
		t.Fatal("expected error for empty domain name")
	}
}

func TestHandshakeRecordTokensAdvancesState(t *testing.T) {
	var h Handshake
	if h.State != HandshakeNotStarted {
		t.Fatalf("expected initial state NotStarted, got %v", h.State)
	}
	h.RecordPeerTokens([]Token{[]byte("tok1")})
	if h.State != HandshakeTokensReceived {
		t.Fatalf("expected state TokensReceived, got %v", h.State)
	}
	h.Complete(IdentityHandle("peer-1"))
	if h.State != HandshakeEstablished {
		t.Fatalf("expected state Established, got %v", h.State)
	}
}

func TestNoopPluginAllowsEverything(t *testing.T) {
	var p NoopPlugin
	ctx := context.Background()
	id, err := p.CheckCreateParticipant(ctx, nil)
	if err != nil || len(id) == 0 {
		t.Fatalf("expected noop identity with no error, got %v %v", id, err)
	}
	out, err := p.EncodeSerializedData(ctx, id, []byte("payload"))
	if err != nil || string(out) != "payload" {
		t.Fatalf("expected passthrough encode, got %q %v", out, err)
	}
}
