package transport

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/krakdds/rtps-engine/pkg/locator"
)

func TestUDPTransportRoundTrip(t *testing.T) {
	rx, err := NewUDP(locator.KindUDPv4, "127.0.0.1:0")
	if err != nil {
		t.Fatalf("NewUDP rx: %v", err)
	}
	defer rx.Close()
	tx, err := NewUDP(locator.KindUDPv4, "127.0.0.1:0")
	if err != nil {
		t.Fatalf("NewUDP tx: %v", err)
	}
	defer tx.Close()

	received := make(chan []byte, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go rx.Listen(ctx, func(_ locator.Locator, msg []byte) {
		received <- msg
	})

	rxAddr := rx.conn.LocalAddr().(*net.UDPAddr)
	dst := locator.Locator{Kind: locator.KindUDPv4, Port: uint32(rxAddr.Port)}
	copy(dst.Address[12:16], rxAddr.IP.To4())

	if err := tx.SendTo(dst, []byte("hello")); err != nil {
		t.Fatalf("SendTo: %v", err)
	}

	select {
	case msg := <-received:
		if string(msg) != "hello" {
			t.Fatalf("expected 'hello', got %q", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for datagram")
	}
}

func TestMuxSendToRoutesByLocatorKind(t *testing.T) {
	rx, err := NewUDP(locator.KindUDPv4, "127.0.0.1:0")
	if err != nil {
		t.Fatalf("NewUDP rx: %v", err)
	}
	defer rx.Close()
	tx, err := NewUDP(locator.KindUDPv4, "127.0.0.1:0")
	if err != nil {
		t.Fatalf("NewUDP tx: %v", err)
	}
	defer tx.Close()

	mux := NewMux()
	mux.Register(tx)

	received := make(chan struct{}, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var once sync.Once
	go rx.Listen(ctx, func(_ locator.Locator, _ []byte) {
		once.Do(func() { received <- struct{}{} })
	})

	rxAddr := rx.conn.LocalAddr().(*net.UDPAddr)
	dst := locator.Locator{Kind: locator.KindUDPv4, Port: uint32(rxAddr.Port)}
	copy(dst.Address[12:16], rxAddr.IP.To4())

	if err := mux.SendTo([]locator.Locator{dst}, []byte("x")); err != nil {
		t.Fatalf("Mux.SendTo: %v", err)
	}
	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for datagram via mux")
	}
}

func TestMuxSendToReportsMissingKind(t *testing.T) {
	mux := NewMux()
	dst := locator.Locator{Kind: locator.KindTCPv4, Port: 9999}
	err := mux.SendTo([]locator.Locator{dst}, []byte("x"))
	if err == nil {
		t.Fatal("expected error for unregistered locator kind")
	}
}
