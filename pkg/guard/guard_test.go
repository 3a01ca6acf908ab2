package guard

import (
	"sync"
	"testing"
	"time"

	"github.com/krakdds/rtps-engine/pkg/timer"
)

func TestProgressiveChainFiresEachGuardOnceInOrder(t *testing.T) {
	wheel := timer.NewWheel()
	defer wheel.Stop()
	c := NewChain(wheel)

	var mu sync.Mutex
	var fired []string

	record := func(name string) Action {
		return func(g *Guard) {
			mu.Lock()
			fired = append(fired, name)
			mu.Unlock()
		}
	}

	c.Add(&Guard{Type: TypeDeadline, Mode: ModeProgressive, Period: 15 * time.Millisecond, Action: record("a")})
	c.Add(&Guard{Type: TypeDeadline, Mode: ModeProgressive, Period: 30 * time.Millisecond, Action: record("b")})
	c.Add(&Guard{Type: TypeDeadline, Mode: ModeProgressive, Period: 45 * time.Millisecond, Action: record("c")})

	deadline := time.Now().Add(500 * time.Millisecond)
	for {
		mu.Lock()
		n := len(fired)
		mu.Unlock()
		if n >= 3 || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(fired) != 3 {
		t.Fatalf("expected all 3 guards to fire, got %v", fired)
	}
	if fired[0] != "a" || fired[1] != "b" || fired[2] != "c" {
		t.Fatalf("expected firing order a,b,c — got %v", fired)
	}
	if c.Len() != 0 {
		t.Fatalf("expected progressive guards removed after firing, chain has %d left", c.Len())
	}
}

func TestPeriodicGuardStaysInChainAndRefires(t *testing.T) {
	wheel := timer.NewWheel()
	defer wheel.Stop()
	c := NewChain(wheel)

	var count int32
	var mu sync.Mutex
	g := &Guard{Type: TypeLiveliness, Mode: ModePeriodic, Period: 10 * time.Millisecond, Action: func(g *Guard) {
		mu.Lock()
		count++
		mu.Unlock()
	}}
	c.Add(g)

	time.Sleep(80 * time.Millisecond)
	mu.Lock()
	n := count
	mu.Unlock()
	if n < 3 {
		t.Fatalf("expected periodic guard to fire multiple times, got %d", n)
	}
	if c.Len() != 1 {
		t.Fatalf("expected periodic guard to remain chained, chain has %d", c.Len())
	}
}

func TestRestartResetsLostAndRearms(t *testing.T) {
	wheel := timer.NewWheel()
	defer wheel.Stop()
	c := NewChain(wheel)

	g := &Guard{Type: TypeLiveliness, Mode: ModeOneShot, Period: 20 * time.Millisecond}
	c.Add(g)

	deadline := time.Now().Add(300 * time.Millisecond)
	for !g.Lost && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !g.Lost {
		t.Fatal("expected one-shot guard to fire and mark itself lost")
	}

	// Re-add and restart to confirm the chain resets cleanly.
	c.Add(g)
	c.Restart()
	if g.Lost {
		t.Fatal("expected Restart to clear Lost")
	}
}
