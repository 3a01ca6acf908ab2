// Package history implements the per-endpoint ordered sample store backing
// every local reader and writer (spec §4.2): resource-limit enforcement,
// read/take semantics, writer notify callbacks, and reader unblock
// callbacks.
//
// The subscribe/notify shape mirrors
// controller/destination/endpoints_watcher.go's servicePort: a
// mutex-guarded map of keyed state, with listeners registered once and
// invoked on every subsequent change — here the "key" is an instance
// handle rather than a service port, and the "listener" is the writer's
// monitor callback or the reader's unblock callback.
package history

import (
	"context"
	"sync"
	"time"

	"github.com/krakdds/rtps-engine/pkg/errkind"
	"github.com/krakdds/rtps-engine/pkg/qos"
	log "github.com/sirupsen/logrus"
)

// WriterNotify is invoked by a writer-side cache on every accepted
// change, urgent change, and removal, driving rtps_writer_new_change
// (spec §4.2).
type WriterNotify func(c *Change, removed bool)

// ReaderUnblock is the callback InformStart installs on a reader-side
// cache. The cache stores it but never calls it: while one is installed,
// purging fully acknowledged samples only wakes callers blocked waiting
// for capacity.
type ReaderUnblock func()

// FilterProgram is the interface a compiled content-filter bytecode
// program satisfies. The compiler itself is out of scope (spec §1); the
// engine only ever evaluates an already-compiled program against a
// candidate sample before delivery (SPEC_FULL §4).
type FilterProgram interface {
	Evaluate(data interface{}) (bool, error)
}

// Cache is the ordered, instance-keyed sample store backing one local
// endpoint.
type Cache struct {
	mu        sync.Mutex
	limits    qos.ResourceLimits
	minSep    time.Duration
	instances map[InstanceHandle]*instance
	nSamples  int

	writerNotify  WriterNotify
	readerUnblock ReaderUnblock
	filter        FilterProgram

	unblockCond *sync.Cond
}

// New constructs an empty history cache bounded by limits, optionally
// applying a reader-side time-based filter of minSep between accepted
// samples for the same instance (spec §4.2).
func New(limits qos.ResourceLimits, minSep time.Duration) *Cache {
	c := &Cache{
		limits:    limits,
		minSep:    minSep,
		instances: make(map[InstanceHandle]*instance),
	}
	c.unblockCond = sync.NewCond(&c.mu)
	return c
}

// MonitorStart installs the writer notify callback (spec §4.2).
func (c *Cache) MonitorStart(cb WriterNotify) {
	c.mu.Lock()
	c.writerNotify = cb
	c.mu.Unlock()
}

// MonitorEnd removes the writer notify callback.
func (c *Cache) MonitorEnd() {
	c.mu.Lock()
	c.writerNotify = nil
	c.mu.Unlock()
}

// InformStart installs the reader unblock callback and an optional content
// filter evaluated before delivery.
func (c *Cache) InformStart(cb ReaderUnblock, filter FilterProgram) {
	c.mu.Lock()
	c.readerUnblock = cb
	c.filter = filter
	c.mu.Unlock()
}

// InformEnd removes the reader unblock callback.
func (c *Cache) InformEnd() {
	c.mu.Lock()
	c.readerUnblock = nil
	c.mu.Unlock()
}

// keepLastDepth reports whether this cache is configured KEEP_LAST and,
// if so, its depth (0 from KEEP_ALL callers is never consulted).
func (c *Cache) keepLastDepth(kind qos.HistoryKind, depth int) (int, bool) {
	if kind == qos.KeepLast {
		if depth <= 0 {
			depth = 1
		}
		return depth, true
	}
	return 0, false
}

// AddInst appends change to its instance on the writer side, honoring
// resource limits. history is the writer's configured QoS history policy.
// reliable writers configured KEEP_ALL block (via ctx) rather than reject
// when max_samples is reached; best-effort writers always reject
// immediately, per spec §4.2.
func (c *Cache) AddInst(ctx context.Context, change *Change, history qos.HistoryKind, depth int, reliable bool) (errkind.Rejected, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, keepLast := c.keepLastDepth(history, depth); !keepLast && reliable {
		if err := c.waitForCapacityLocked(ctx, reliable); err != nil {
			return errkind.RejectedBySamples, err
		}
	}

	if rej := c.checkLimitsLocked(change.InstanceHandle); rej != errkind.RejectedNone {
		if d, ok := c.keepLastDepth(history, depth); ok {
			_ = d
			// KEEP_LAST never rejects on global max_samples; eviction
			// below makes room. Only instance/per-instance caps reject.
			if rej == errkind.RejectedBySamples {
				c.evictOldestLocked()
			} else {
				return rej, nil
			}
		} else {
			return rej, nil
		}
	}

	ins, ok := c.instances[change.InstanceHandle]
	if !ok {
		ins = newInstance(change.InstanceHandle)
		c.instances[change.InstanceHandle] = ins
	}

	if d, keepLast := c.keepLastDepth(history, depth); keepLast {
		for len(ins.slots) >= d {
			c.removeOldestSlotLocked(ins)
		}
	}

	view := ins.firstView(change.WriterHandle)
	ins.slots = append(ins.slots, &slot{change: change, sample: NotRead, view: view})
	ins.applyKind(change.Kind)
	c.nSamples++

	if c.writerNotify != nil {
		c.writerNotify(change, false)
	}
	if change.Urgent && c.writerNotify != nil {
		c.writerNotify(change, false)
	}
	return errkind.RejectedNone, nil
}

// AddReceived appends change on the reader side, additionally applying
// the time-based filter and any installed content filter (spec §4.2).
func (c *Cache) AddReceived(change *Change, reliable bool, sampleData interface{}) (errkind.Rejected, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ins, ok := c.instances[change.InstanceHandle]; ok && len(ins.slots) > 0 && c.minSep > 0 {
		last := ins.slots[len(ins.slots)-1].change
		if change.SourceTimestamp.Sub(last.SourceTimestamp) < c.minSep {
			return errkind.RejectedByFilter, nil
		}
	}

	if c.filter != nil && sampleData != nil {
		ok, err := c.filter.Evaluate(sampleData)
		if err != nil {
			return errkind.RejectedNone, err
		}
		if !ok {
			return errkind.RejectedByFilter, nil
		}
	}

	if rej := c.checkLimitsLocked(change.InstanceHandle); rej != errkind.RejectedNone {
		return rej, nil
	}

	ins, ok := c.instances[change.InstanceHandle]
	if !ok {
		ins = newInstance(change.InstanceHandle)
		c.instances[change.InstanceHandle] = ins
	}
	view := ins.firstView(change.WriterHandle)
	ins.slots = append(ins.slots, &slot{change: change, sample: NotRead, view: view})
	ins.applyKind(change.Kind)
	c.nSamples++
	return errkind.RejectedNone, nil
}

// Unregister marks an instance NOT_ALIVE_NO_WRITERS by appending an
// Unregistered change.
func (c *Cache) Unregister(handle InstanceHandle, change *Change) {
	change.Kind = Unregistered
	change.InstanceHandle = handle
	c.mu.Lock()
	if ins, ok := c.instances[handle]; ok {
		ins.applyKind(Unregistered)
		ins.slots = append(ins.slots, &slot{change: change, sample: NotRead, view: NotNew})
		c.nSamples++
	}
	c.mu.Unlock()
}

// Dispose marks an instance DISPOSED by appending a Disposed change.
func (c *Cache) Dispose(handle InstanceHandle, change *Change) {
	change.Kind = Disposed
	change.InstanceHandle = handle
	c.mu.Lock()
	if ins, ok := c.instances[handle]; ok {
		ins.applyKind(Disposed)
		ins.slots = append(ins.slots, &slot{change: change, sample: NotRead, view: NotNew})
		c.nSamples++
	}
	c.mu.Unlock()
}

// Replay invokes cb for every change currently in the cache, in
// per-instance insertion order, used to prime a newly matched proxy with
// TRANSIENT_LOCAL/TRANSIENT history.
func (c *Cache) Replay(cb func(*Change)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ins := range c.instances {
		for _, s := range ins.slots {
			cb(s.change)
		}
	}
}

// Read returns samples matching mask without marking them taken.
func (c *Cache) Read(mask StateMask) []*Change {
	return c.readOrTake(mask, false)
}

// Take returns samples matching mask and removes them from the read path;
// a taken sample remains in the slot (for CWack accounting) until its
// ack counter reaches zero, per spec §4.2's invariant.
func (c *Cache) Take(mask StateMask) []*Change {
	return c.readOrTake(mask, true)
}

func (c *Cache) readOrTake(mask StateMask, take bool) []*Change {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []*Change
	for _, ins := range c.instances {
		for _, s := range ins.slots {
			if s.taken {
				continue
			}
			if !mask.Matches(s.sample, s.view, ins.state) {
				continue
			}
			out = append(out, s.change)
			s.sample = Read
			if take {
				s.taken = true
			}
		}
	}
	c.purgeFullyAckedLocked()
	return out
}

// purgeFullyAckedLocked removes taken slots whose change has reached
// cWack==0, and frees the instance once it is empty and disposed/no
// longer alive.
func (c *Cache) purgeFullyAckedLocked() {
	for h, ins := range c.instances {
		kept := ins.slots[:0]
		for _, s := range ins.slots {
			if s.taken && s.change.CWack() <= 0 {
				c.nSamples--
				continue
			}
			kept = append(kept, s)
		}
		ins.slots = kept
		if len(ins.slots) == 0 && ins.state != InstanceAlive {
			delete(c.instances, h)
		}
	}
	if c.readerUnblock != nil {
		c.unblockCond.Broadcast()
	}
}

// GetKey returns the key-defining bytes for an instance, delegated to the
// type support in a real engine; here it returns the handle itself since
// the cache is type-agnostic.
func (c *Cache) GetKey(handle InstanceHandle) [16]byte { return handle }

// HandleFromKey is the inverse of GetKey.
func (c *Cache) HandleFromKey(key [16]byte) InstanceHandle { return InstanceHandle(key) }

// Stats reports current cache occupancy, used by telemetry.
type Stats struct {
	Samples   int
	Instances int
}

// Stats returns a point-in-time snapshot of cache occupancy.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Samples: c.nSamples, Instances: len(c.instances)}
}

func (c *Cache) checkLimitsLocked(handle InstanceHandle) errkind.Rejected {
	if c.limits.MaxSamples > 0 && c.nSamples >= c.limits.MaxSamples {
		return errkind.RejectedBySamples
	}
	if ins, ok := c.instances[handle]; ok {
		if c.limits.MaxSamplesPerInstance > 0 && len(ins.slots) >= c.limits.MaxSamplesPerInstance {
			return errkind.RejectedBySamplesPerInstance
		}
	} else if c.limits.MaxInstances > 0 && len(c.instances) >= c.limits.MaxInstances {
		return errkind.RejectedByInstances
	}
	return errkind.RejectedNone
}

func (c *Cache) evictOldestLocked() {
	var oldestHandle InstanceHandle
	var oldestSlot *slot
	found := false
	for h, ins := range c.instances {
		for _, s := range ins.slots {
			if !found {
				oldestHandle, oldestSlot, found = h, s, true
				continue
			}
			if s.change.SourceTimestamp.Before(oldestSlot.change.SourceTimestamp) {
				oldestHandle, oldestSlot = h, s
			}
		}
	}
	if found {
		c.removeOldestSlotLocked(c.instances[oldestHandle])
	}
}

func (c *Cache) removeOldestSlotLocked(ins *instance) {
	if len(ins.slots) == 0 {
		return
	}
	removed := ins.slots[0]
	ins.slots = ins.slots[1:]
	c.nSamples--
	if c.writerNotify != nil {
		log.Debug("history cache evicted oldest sample for KEEP_LAST")
		c.writerNotify(removed.change, true)
	}
}

// waitForCapacityLocked blocks (reliable KEEP_ALL) or returns an
// out-of-resources error immediately (best-effort), honoring ctx's
// deadline as the engine's configurable max_blocking_time (spec §5).
func (c *Cache) waitForCapacityLocked(ctx context.Context, reliable bool) error {
	if c.limits.MaxSamples == 0 || c.nSamples < c.limits.MaxSamples {
		return nil
	}
	if !reliable {
		return errkind.ErrOutOfResources
	}

	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		c.mu.Lock()
		c.unblockCond.Broadcast()
		c.mu.Unlock()
		close(done)
	}()
	defer func() {
		select {
		case <-done:
		default:
		}
	}()

	for c.limits.MaxSamples > 0 && c.nSamples >= c.limits.MaxSamples {
		if ctx.Err() != nil {
			return errkind.ErrTimeout
		}
		c.unblockCond.Wait()
	}
	return nil
}
