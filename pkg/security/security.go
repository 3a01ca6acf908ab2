// Package security models the RTPS engine's security hooks (spec §4.8):
// the core treats security as an external policy engine invoked at
// defined points, and never interprets identity/permission/token
// contents itself — they are opaque handles and byte strings passed
// through discovery data.
//
// The shape mirrors controller/identity's split between a TrustDomain
// (naming) and a Validator (an external check the core calls and whose
// result it trusts without inspecting the credential itself): Domain
// here plays TrustDomain's role for RTPS identities, and Plugin plays
// Validator's role for the engine's four check points plus payload
// encoding.
package security

import (
	"context"
	"errors"
	"fmt"
)

// IdentityHandle and PermissionsHandle are opaque references a Plugin
// hands back after validating a peer; the engine never inspects their
// contents (spec §4.8).
type IdentityHandle []byte

// PermissionsHandle is the opaque result of a permissions check.
type PermissionsHandle []byte

// Token is an opaque byte string carried on discovery data during the
// identity/permission token handshake (spec §4.8, SPEC_FULL §4).
type Token []byte

var (
	// ErrAccessDenied is returned by a Plugin when a check fails.
	ErrAccessDenied = errors.New("security: access denied")
	// ErrHandshakeIncomplete means a peer's token exchange has not yet
	// produced usable identity/permissions handles.
	ErrHandshakeIncomplete = errors.New("security: handshake incomplete")
)

// Domain names a security domain an RTPS participant belongs to, the
// way identity.TrustDomain names a namespace for Kubernetes-derived
// identities — here scoped to a DDS domain id rather than a cluster.
type Domain struct {
	domainID uint32
	name     string
}

// NewDomain validates name is non-empty before constructing a Domain,
// mirroring NewTrustDomain's fail-fast validation.
func NewDomain(domainID uint32, name string) (*Domain, error) {
	if name == "" {
		return nil, errors.New("security: domain name must not be empty")
	}
	return &Domain{domainID: domainID, name: name}, nil
}

// QualifiedName formats a participant identity scoped to this domain.
func (d *Domain) QualifiedName(participantGUID string) string {
	return fmt.Sprintf("%s.domain-%d.%s", participantGUID, d.domainID, d.name)
}

// Plugin is the external policy engine the core calls at the points
// named in spec §4.8: participant/endpoint creation, peer discovery, and
// per-payload encoding. A Plugin implementation owns certificate
// parsing, permission documents and the crypto transform; the core only
// ever sees the opaque handles and byte strings it returns.
type Plugin interface {
	CheckCreateParticipant(ctx context.Context, domain *Domain) (IdentityHandle, error)
	CheckCreateWriter(ctx context.Context, id IdentityHandle, topic string) (PermissionsHandle, error)
	CheckCreateReader(ctx context.Context, id IdentityHandle, topic string) (PermissionsHandle, error)
	CheckPeerParticipant(ctx context.Context, local IdentityHandle, peerTokens []Token) (IdentityHandle, error)
	CheckPeerWriter(ctx context.Context, local PermissionsHandle, peer IdentityHandle, topic string) error
	CheckPeerReader(ctx context.Context, local PermissionsHandle, peer IdentityHandle, topic string) error
	EncodeSerializedData(ctx context.Context, id IdentityHandle, payload []byte) ([]byte, error)
	DecodeSerializedData(ctx context.Context, id IdentityHandle, payload []byte) ([]byte, error)
}

// HandshakeState tracks one peer's token-exchange progress (spec §4.8:
// "tokens are byte strings passed through the discovery data").
type HandshakeState int

const (
	HandshakeNotStarted HandshakeState = iota
	HandshakeTokensSent
	HandshakeTokensReceived
	HandshakeEstablished
	HandshakeFailed
)

// Handshake models one in-progress peer security token exchange.
type Handshake struct {
	State       HandshakeState
	LocalTokens []Token
	PeerTokens  []Token
	Identity    IdentityHandle
}

// RecordPeerTokens folds newly observed tokens from a peer's discovery
// data into the handshake, advancing its state. It does not interpret
// the tokens — that is Plugin.CheckPeerParticipant's job.
func (h *Handshake) RecordPeerTokens(tokens []Token) {
	h.PeerTokens = append(h.PeerTokens, tokens...)
	if h.State == HandshakeNotStarted || h.State == HandshakeTokensSent {
		h.State = HandshakeTokensReceived
	}
}

// Complete marks the handshake established with the identity resolved by
// a successful CheckPeerParticipant call.
func (h *Handshake) Complete(id IdentityHandle) {
	h.Identity = id
	h.State = HandshakeEstablished
}

// Fail marks the handshake failed; the caller is expected to ignore the
// offending peer and schedule it for re-authorization after a backoff
// (spec §7).
func (h *Handshake) Fail() { h.State = HandshakeFailed }

// NoopPlugin grants every check unconditionally and passes payloads
// through unmodified. It is the engine's default when no security
// plugin is configured (spec §1: security is in scope only as hook
// points, not a reference crypto implementation).
type NoopPlugin struct{}

func (NoopPlugin) CheckCreateParticipant(context.Context, *Domain) (IdentityHandle, error) {
	return IdentityHandle("noop"), nil
}
func (NoopPlugin) CheckCreateWriter(context.Context, IdentityHandle, string) (PermissionsHandle, error) {
	return PermissionsHandle("noop"), nil
}
func (NoopPlugin) CheckCreateReader(context.Context, IdentityHandle, string) (PermissionsHandle, error) {
	return PermissionsHandle("noop"), nil
}
func (NoopPlugin) CheckPeerParticipant(_ context.Context, _ IdentityHandle, _ []Token) (IdentityHandle, error) {
	return IdentityHandle("noop-peer"), nil
}
func (NoopPlugin) CheckPeerWriter(context.Context, PermissionsHandle, IdentityHandle, string) error {
	return nil
}
func (NoopPlugin) CheckPeerReader(context.Context, PermissionsHandle, IdentityHandle, string) error {
	return nil
}
func (NoopPlugin) EncodeSerializedData(_ context.Context, _ IdentityHandle, payload []byte) ([]byte, error) {
	return payload, nil
}
func (NoopPlugin) DecodeSerializedData(_ context.Context, _ IdentityHandle, payload []byte) ([]byte, error) {
	return payload, nil
}
