// Package guard implements the timer-driven liveliness, deadline,
// lifespan and autopurge checks described in spec §4.7: guards of the
// same (type, kind, writer-side) sharing a chain, with exactly one timer
// active at a time, attached to the earliest pending event.
//
// The progressive rearm-by-remaining-delta arithmetic follows the
// original source's guard_start/guard_timeout precisely (SPEC_FULL §4):
// each guard carries an absolute deadline, the chain keeps its guards
// sorted by deadline, and firing one guard simply rearms the wheel for
// whatever remains until the new earliest deadline — no recomputation
// of "next period" is needed for progressive or one-shot guards.
package guard

import (
	"sort"
	"sync"
	"time"

	"github.com/krakdds/rtps-engine/pkg/timer"
)

// Type names what a guard checks.
type Type int

const (
	TypeLiveliness Type = iota
	TypeDeadline
	TypeLifespan
	TypeAutopurgeNoWriters
	TypeAutopurgeDisposed
)

// LivelinessKind distinguishes the three RTPS liveliness QoS kinds; it is
// meaningful only when Type == TypeLiveliness.
type LivelinessKind int

const (
	LivelinessAutomatic LivelinessKind = iota
	LivelinessManualByParticipant
	LivelinessManualByTopic
)

// Mode selects how a guard's timer is driven (spec §4.7).
type Mode int

const (
	// ModeNone disables the guard.
	ModeNone Mode = iota
	// ModeOneShot fires once and is then removed from its chain.
	ModeOneShot
	// ModePeriodic fires every Period, staying in its chain.
	ModePeriodic
	// ModeProgressive fires exactly once as its absolute deadline
	// passes, then the next-earliest guard in the chain takes over.
	ModeProgressive
	// ModeMixed (manual-by-participant liveliness writers) fires at
	// 7/8 of Period, allowing a proactive renewal before the full
	// timeout (spec §4.7).
	ModeMixed
)

// Action runs when a guard's deadline passes: mark-lost, emit a
// liveliness message, or purge samples, depending on Type (spec §4.7).
type Action func(g *Guard)

// Guard is one timer-driven check, linked into a Chain.
type Guard struct {
	Type       Type
	Kind       LivelinessKind
	WriterSide bool
	Mode       Mode
	Period     time.Duration

	LastObserved time.Time
	deadline     time.Time

	// Lost reports whether this guard's condition is currently
	// considered failed (mark-lost state for liveliness, or simply
	// "has fired" for one-shot/progressive guards).
	Lost bool

	Action Action
}

func (g *Guard) effectiveDelay() time.Duration {
	if g.Mode == ModeMixed {
		return g.Period * 7 / 8
	}
	return g.Period
}

// Chain is a sorted set of Guards sharing one timer, attached to the
// earliest pending deadline across the set (spec §4.7: "at most one
// timer is active across guards sharing a chain").
type Chain struct {
	mu     sync.Mutex
	wheel  *timer.Wheel
	guards []*Guard
	active *timer.Entry
}

// NewChain constructs an empty chain driven by wheel.
func NewChain(wheel *timer.Wheel) *Chain {
	return &Chain{wheel: wheel}
}

// Add inserts g into the chain, computing its initial absolute deadline
// from now, and rearms the chain's timer if g becomes the new earliest.
func (c *Chain) Add(g *Guard) {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	g.LastObserved = now
	g.deadline = now.Add(g.effectiveDelay())
	c.insertLocked(g)
	c.rearmLocked(now)
}

// Remove drops g from the chain and rearms if it was the earliest.
func (c *Chain) Remove(g *Guard) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(g)
	c.rearmLocked(time.Now())
}

// Restart resets every guard in the chain to alive and re-derives its
// deadline from now, then returns the timer to the head of the list
// (spec §4.7: "the chain is reset — all downstream guards return to
// alive and the timer returns to the head of the list").
func (c *Chain) Restart() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, g := range c.guards {
		g.Lost = false
		g.LastObserved = now
		g.deadline = now.Add(g.effectiveDelay())
	}
	c.sortLocked()
	c.rearmLocked(now)
}

func (c *Chain) insertLocked(g *Guard) {
	c.guards = append(c.guards, g)
	c.sortLocked()
}

func (c *Chain) sortLocked() {
	sort.Slice(c.guards, func(i, j int) bool { return c.guards[i].deadline.Before(c.guards[j].deadline) })
}

func (c *Chain) removeLocked(target *Guard) {
	for i, g := range c.guards {
		if g == target {
			c.guards = append(c.guards[:i], c.guards[i+1:]...)
			return
		}
	}
}

// rearmLocked cancels any pending timer and, if the chain is non-empty,
// schedules the next one for the earliest guard's remaining delta — the
// deadline minus now, never recomputed as a fresh full period (spec
// §4.7, SPEC_FULL §4).
func (c *Chain) rearmLocked(now time.Time) {
	if c.active != nil {
		c.wheel.Cancel(c.active)
		c.active = nil
	}
	if len(c.guards) == 0 {
		return
	}
	remaining := c.guards[0].deadline.Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	c.active = c.wheel.Schedule(now.Add(remaining), c.fire)
}

// fire is the chain's timer callback: it runs the earliest guard's
// action, advances or removes that guard depending on its mode, then
// hands the timer to whatever is now earliest (spec §4.7).
func (c *Chain) fire(now time.Time) {
	c.mu.Lock()
	if len(c.guards) == 0 {
		c.mu.Unlock()
		return
	}
	head := c.guards[0]
	head.Lost = true
	c.mu.Unlock()

	if head.Action != nil {
		head.Action(head)
	}

	c.mu.Lock()
	switch head.Mode {
	case ModePeriodic, ModeMixed:
		head.LastObserved = now
		head.deadline = now.Add(head.effectiveDelay())
		c.sortLocked()
	default: // ModeOneShot, ModeProgressive
		c.removeLocked(head)
	}
	c.rearmLocked(now)
	c.mu.Unlock()
}

// Len reports how many guards are currently chained.
func (c *Chain) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.guards)
}
