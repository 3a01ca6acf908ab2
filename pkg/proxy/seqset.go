// Package proxy implements the per-association protocol state described
// in spec §3 and §4.3/§4.4: for every matched local/remote endpoint pair,
// a RemoteReader (held by a local writer) or RemoteWriter (held by a
// local reader) proxy tracks sequence-number bookkeeping, locators and
// queued submessages.
package proxy

import "github.com/google/btree"

// SeqSet is an ordered set of 64-bit sequence numbers, used for a writer
// proxy's unsent/requested/unacked sets and a reader proxy's missing set
// (spec §3). It is backed by google/btree's generic BTreeG — promoted
// from this module's transitive dependency set per SPEC_FULL §3, since
// it gives O(log n) insert/delete/range-scan over an ordered uint64 set,
// which a plain map cannot provide for the ranged ACKNACK-bitmap and
// HEARTBEAT [first,last] operations below.
type SeqSet struct {
	t *btree.BTreeG[uint64]
}

func less(a, b uint64) bool { return a < b }

// NewSeqSet constructs an empty ordered sequence-number set.
func NewSeqSet() *SeqSet {
	return &SeqSet{t: btree.NewG[uint64](32, less)}
}

// Add inserts seq into the set.
func (s *SeqSet) Add(seq uint64) { s.t.ReplaceOrInsert(seq) }

// Remove deletes seq from the set if present.
func (s *SeqSet) Remove(seq uint64) { s.t.Delete(seq) }

// Has reports whether seq is in the set.
func (s *SeqSet) Has(seq uint64) bool { _, ok := s.t.Get(seq); return ok }

// Len returns the number of sequence numbers in the set.
func (s *SeqSet) Len() int { return s.t.Len() }

// Min returns the lowest sequence number in the set.
func (s *SeqSet) Min() (uint64, bool) {
	v, ok := s.t.Min()
	return v, ok
}

// Max returns the highest sequence number in the set.
func (s *SeqSet) Max() (uint64, bool) {
	v, ok := s.t.Max()
	return v, ok
}

// RemoveRange deletes every sequence number in [lo, hi] inclusive, used to
// apply a GAP submessage to a reader's missing set.
func (s *SeqSet) RemoveRange(lo, hi uint64) {
	var toDelete []uint64
	s.t.AscendRange(lo, hi+1, func(v uint64) bool {
		toDelete = append(toDelete, v)
		return true
	})
	for _, v := range toDelete {
		s.t.Delete(v)
	}
}

// AddRange inserts every sequence number in [lo, hi] inclusive.
func (s *SeqSet) AddRange(lo, hi uint64) {
	for v := lo; v <= hi; v++ {
		s.t.ReplaceOrInsert(v)
	}
}

// Each visits every sequence number in ascending order.
func (s *SeqSet) Each(fn func(uint64) bool) {
	s.t.Ascend(func(v uint64) bool { return fn(v) })
}

// Slice copies the set's contents, in ascending order.
func (s *SeqSet) Slice() []uint64 {
	out := make([]uint64, 0, s.t.Len())
	s.t.Ascend(func(v uint64) bool { out = append(out, v); return true })
	return out
}

// PopMin removes and returns the lowest sequence number, if any.
func (s *SeqSet) PopMin() (uint64, bool) {
	v, ok := s.t.DeleteMin()
	return v, ok
}
