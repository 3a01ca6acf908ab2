// Package transport multiplexes outbound/inbound RTPS traffic across the
// locator kinds spec §6 names: UDPv4/UDPv6 built in directly (the
// protocol's default, connectionless transport), TCP built in as a
// lightweight persistent-connection fallback, and TLS/DTLS left as
// external collaborators plugged in through the Dialer/Listener
// function types — the RTPS engine does not own certificate handling or
// a DTLS state machine (SPEC_FULL §6's non-goal), it only needs
// something that yields a net.Conn or a packet-oriented net.PacketConn.
//
// The receive loop follows the same "spawn a goroutine per listener,
// hand decoded datagrams to a callback, stop on context cancellation"
// pattern as the teacher's heartbeat/destination watchers use for their
// own background loops, adapted here from packet reads instead of
// Kubernetes watch events.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/krakdds/rtps-engine/pkg/locator"
)

// ReceiveFunc is invoked once per inbound datagram/frame, with the
// locator it arrived from.
type ReceiveFunc func(src locator.Locator, msg []byte)

// Transport sends to and receives from one locator.Kind.
type Transport interface {
	Kind() locator.Kind
	SendTo(dst locator.Locator, msg []byte) error
	Listen(ctx context.Context, recv ReceiveFunc) error
	Close() error
}

var errNoTransportForKind = errors.New("transport: no transport registered for locator kind")

// Mux fans a send out across possibly-mixed-kind locators and routes
// inbound traffic from every registered Transport to one callback. It
// satisfies both pkg/writer.Sender and pkg/reader.Sender's
// SendTo(dst []locator.Locator, msg []byte) error shape.
type Mux struct {
	mu         sync.RWMutex
	transports map[locator.Kind]Transport
	forward    *locator.Locator
}

// NewMux returns an empty multiplexer; call Register for each kind the
// deployment needs to speak.
func NewMux() *Mux {
	return &Mux{transports: make(map[locator.Kind]Transport)}
}

// Register binds t to the locator kind it reports via Kind(), replacing
// any previous transport for that kind.
func (m *Mux) Register(t Transport) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transports[t.Kind()] = t
}

// SetForward names a unicast locator every outbound message is additionally
// relayed to, alongside its normal destination set (SPEC_FULL §2.3's
// Forward tunable) — e.g. mirroring traffic to a recording or debugging
// endpoint. A nil loc disables relaying.
func (m *Mux) SetForward(loc *locator.Locator) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.forward = loc
}

// SendTo sends msg to every locator in dst, using whichever registered
// transport matches each locator's kind. It continues past per-locator
// failures and returns the first error encountered, if any, after
// attempting every locator.
func (m *Mux) SendTo(dst []locator.Locator, msg []byte) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var firstErr error
	for _, loc := range dst {
		t, ok := m.transports[loc.Kind]
		if !ok {
			if firstErr == nil {
				firstErr = fmt.Errorf("%w: %s", errNoTransportForKind, loc.Kind)
			}
			continue
		}
		if err := t.SendTo(loc, msg); err != nil {
			log.WithFields(log.Fields{"kind": loc.Kind, "addr": loc.AddressString()}).
				WithError(err).Warn("transport: send failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if m.forward != nil {
		if t, ok := m.transports[m.forward.Kind]; ok {
			if err := t.SendTo(*m.forward, msg); err != nil {
				log.WithField("addr", m.forward.AddressString()).WithError(err).
					Warn("transport: forward relay send failed")
			}
		}
	}
	return firstErr
}

// ListenAll starts every registered transport's receive loop, fanning
// all of them into one recv callback, and blocks until ctx is cancelled
// or a listener fails to start. The first listener failure cancels the
// rest via the errgroup's derived context.
func (m *Mux) ListenAll(ctx context.Context, recv ReceiveFunc) error {
	m.mu.RLock()
	transports := make([]Transport, 0, len(m.transports))
	for _, t := range m.transports {
		transports = append(transports, t)
	}
	m.mu.RUnlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, t := range transports {
		t := t
		g.Go(func() error {
			if err := t.Listen(gctx, recv); err != nil && gctx.Err() == nil {
				return err
			}
			return nil
		})
	}
	return g.Wait()
}

// Close shuts down every registered transport.
func (m *Mux) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var firstErr error
	for _, t := range m.transports {
		if err := t.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

const maxDatagramSize = 65507

// UDPTransport is the engine's default locator kind: connectionless,
// unicast and multicast capable.
type UDPTransport struct {
	kind locator.Kind
	conn *net.UDPConn
}

// NewUDP binds a UDP socket on laddr ("0.0.0.0:0" for an ephemeral
// sender-only socket, or a fixed port to also receive). kind must be
// locator.KindUDPv4 or locator.KindUDPv6.
func NewUDP(kind locator.Kind, laddr string) (*UDPTransport, error) {
	network := "udp4"
	if kind == locator.KindUDPv6 {
		network = "udp6"
	}
	addr, err := net.ResolveUDPAddr(network, laddr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP(network, addr)
	if err != nil {
		return nil, err
	}
	return &UDPTransport{kind: kind, conn: conn}, nil
}

func (u *UDPTransport) Kind() locator.Kind { return u.kind }

func (u *UDPTransport) SendTo(dst locator.Locator, msg []byte) error {
	addr := &net.UDPAddr{IP: net.IP(dst.Address[:]).To16(), Port: int(dst.Port)}
	if dst.Kind == locator.KindUDPv4 {
		addr.IP = net.IP(dst.Address[12:16])
	}
	_, err := u.conn.WriteToUDP(msg, addr)
	return err
}

func (u *UDPTransport) Listen(ctx context.Context, recv ReceiveFunc) error {
	buf := make([]byte, maxDatagramSize)
	go func() {
		<-ctx.Done()
		u.conn.Close()
	}()
	for {
		n, addr, err := u.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		src := locatorFromUDPAddr(u.kind, addr)
		msg := make([]byte, n)
		copy(msg, buf[:n])
		recv(src, msg)
	}
}

func (u *UDPTransport) Close() error { return u.conn.Close() }

func locatorFromUDPAddr(kind locator.Kind, addr *net.UDPAddr) locator.Locator {
	var loc locator.Locator
	loc.Kind = kind
	loc.Port = uint32(addr.Port)
	ip := addr.IP.To4()
	if kind == locator.KindUDPv6 || ip == nil {
		ip16 := addr.IP.To16()
		copy(loc.Address[:], ip16)
	} else {
		copy(loc.Address[12:16], ip)
	}
	return loc
}

// TCPTransport is a persistent-connection fallback for locators marked
// with FlagUnicast where connectionless delivery is undesirable. It
// dials lazily and caches connections per destination.
type TCPTransport struct {
	kind     locator.Kind
	mu       sync.Mutex
	conns    map[string]net.Conn
	listener net.Listener
}

// NewTCP constructs a TCP transport. If laddr is non-empty it also
// listens for inbound connections on that address.
func NewTCP(kind locator.Kind, laddr string) (*TCPTransport, error) {
	t := &TCPTransport{kind: kind, conns: make(map[string]net.Conn)}
	if laddr != "" {
		ln, err := net.Listen("tcp", laddr)
		if err != nil {
			return nil, err
		}
		t.listener = ln
	}
	return t, nil
}

func (t *TCPTransport) Kind() locator.Kind { return t.kind }

func (t *TCPTransport) dial(addr string) (net.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.conns[addr]; ok {
		return c, nil
	}
	c, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	t.conns[addr] = c
	return c, nil
}

func (t *TCPTransport) SendTo(dst locator.Locator, msg []byte) error {
	addr := fmt.Sprintf("%s:%d", dst.AddressString(), dst.Port)
	c, err := t.dial(addr)
	if err != nil {
		return err
	}
	if _, err := c.Write(msg); err != nil {
		t.mu.Lock()
		delete(t.conns, addr)
		t.mu.Unlock()
		return err
	}
	return nil
}

func (t *TCPTransport) Listen(ctx context.Context, recv ReceiveFunc) error {
	if t.listener == nil {
		<-ctx.Done()
		return nil
	}
	go func() {
		<-ctx.Done()
		t.listener.Close()
	}()
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go t.serveConn(conn, recv)
	}
}

func (t *TCPTransport) serveConn(conn net.Conn, recv ReceiveFunc) {
	defer conn.Close()
	buf := make([]byte, maxDatagramSize)
	remote, ok := conn.RemoteAddr().(*net.TCPAddr)
	var src locator.Locator
	if ok {
		src.Kind = t.kind
		src.Port = uint32(remote.Port)
		ip4 := remote.IP.To4()
		if ip4 != nil {
			copy(src.Address[12:16], ip4)
		} else {
			copy(src.Address[:], remote.IP.To16())
		}
	}
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			msg := make([]byte, n)
			copy(msg, buf[:n])
			recv(src, msg)
		}
		if err != nil {
			return
		}
	}
}

func (t *TCPTransport) Close() error {
	t.mu.Lock()
	for _, c := range t.conns {
		c.Close()
	}
	t.conns = make(map[string]net.Conn)
	t.mu.Unlock()
	if t.listener != nil {
		return t.listener.Close()
	}
	return nil
}

// StreamFactory produces a secured net.Conn given a plaintext dial
// address, for locator kinds the engine treats as "TCP plus an external
// security layer" (TLS) or "UDP plus an external security layer"
// (DTLS uses a packet-oriented analogue and is out of this interface's
// scope; a DTLS collaborator instead implements Transport directly).
// The engine never constructs a StreamFactory itself — it is supplied
// by the deployment alongside its certificate material (spec §4.8,
// SPEC_FULL §6).
type StreamFactory func(addr string) (net.Conn, error)

// NewTLS wraps dial (typically tls.Dial bound to a *tls.Config supplied
// by the deployment) into a TCPTransport-shaped Transport for
// locator.KindTCPv4/KindTCPv6 locators flagged FlagSecure. The engine
// never inspects or constructs the TLS configuration itself.
func NewTLS(kind locator.Kind, laddr string, dial StreamFactory, listener net.Listener) *TLSTransport {
	return &TLSTransport{kind: kind, dial: dial, listener: listener, conns: make(map[string]net.Conn)}
}

// TLSTransport is structurally identical to TCPTransport but dials
// through an externally supplied, already-secured StreamFactory instead
// of net.Dial.
type TLSTransport struct {
	kind     locator.Kind
	mu       sync.Mutex
	conns    map[string]net.Conn
	dial     StreamFactory
	listener net.Listener
}

func (t *TLSTransport) Kind() locator.Kind { return t.kind }

func (t *TLSTransport) SendTo(dst locator.Locator, msg []byte) error {
	addr := fmt.Sprintf("%s:%d", dst.AddressString(), dst.Port)
	t.mu.Lock()
	c, ok := t.conns[addr]
	t.mu.Unlock()
	if !ok {
		var err error
		c, err = t.dial(addr)
		if err != nil {
			return err
		}
		t.mu.Lock()
		t.conns[addr] = c
		t.mu.Unlock()
	}
	if _, err := c.Write(msg); err != nil {
		t.mu.Lock()
		delete(t.conns, addr)
		t.mu.Unlock()
		return err
	}
	return nil
}

func (t *TLSTransport) Listen(ctx context.Context, recv ReceiveFunc) error {
	if t.listener == nil {
		<-ctx.Done()
		return nil
	}
	tcp := &TCPTransport{kind: t.kind, conns: t.conns, listener: t.listener}
	return tcp.Listen(ctx, recv)
}

func (t *TLSTransport) Close() error {
	t.mu.Lock()
	for _, c := range t.conns {
		c.Close()
	}
	t.mu.Unlock()
	if t.listener != nil {
		return t.listener.Close()
	}
	return nil
}
