package history

import (
	"sync/atomic"
	"time"
)

// Kind is the sample-event kind carried by a Change (spec §3).
type Kind int

const (
	Alive Kind = iota
	Disposed
	Unregistered
)

// InstanceHandle identifies one keyed instance within a cache.
type InstanceHandle [16]byte

// WriterGUID identifies the writer that produced a Change. It is defined
// here rather than imported from the participant package to avoid an
// import cycle; participant.GUID is wire-compatible with it.
type WriterGUID [16]byte

// Data is a reference-counted payload buffer. Multiple Changes in
// different proxy queues may point at the same Data; it is freed once its
// reference count drops to zero.
type Data struct {
	Bytes []byte
	refs  int32
}

// NewData wraps buf in a Data with one initial reference.
func NewData(buf []byte) *Data { return &Data{Bytes: buf, refs: 1} }

// Retain increments the reference count, used when a Change is queued to
// an additional proxy.
func (d *Data) Retain() { atomic.AddInt32(&d.refs, 1) }

// Release decrements the reference count and reports whether it reached
// zero (the buffer may now be recycled).
func (d *Data) Release() bool { return atomic.AddInt32(&d.refs, -1) == 0 }

// Change is one sample-event in a history cache (spec §3).
type Change struct {
	Kind            Kind
	WriterHandle    WriterGUID
	SeqNr           uint64
	InstanceHandle  InstanceHandle
	SourceTimestamp time.Time
	Payload         *Data
	DestHandles     []WriterGUID
	Urgent          bool
	NoMulticast     bool

	cWack int32 // outstanding-ack counter, spec §3
}

// CWack returns the current outstanding-ack counter.
func (c *Change) CWack() int32 { return atomic.LoadInt32(&c.cWack) }

// AddAckPending increments the outstanding-ack counter when the change is
// enqueued to one more proxy expecting acknowledgement.
func (c *Change) AddAckPending(n int32) { atomic.AddInt32(&c.cWack, n) }

// Acked decrements the outstanding-ack counter by one and reports whether
// it has reached zero, meaning the change may now be purged from the
// cache even though it has already been taken (spec §4.2 invariant).
func (c *Change) Acked() bool { return atomic.AddInt32(&c.cWack, -1) <= 0 }
