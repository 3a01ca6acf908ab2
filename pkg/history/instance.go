package history

// SampleState distinguishes already-read samples from new ones.
type SampleState int

const (
	Read SampleState = iota
	NotRead
)

// ViewState distinguishes an instance the reader has seen before from one
// it is observing for the first time.
type ViewState int

const (
	NewView ViewState = iota
	NotNew
)

// InstanceState tracks an instance's writer liveliness/disposal state.
// Transitions are monotonic: ALIVE -> DISPOSED or NOT_ALIVE_NO_WRITERS
// (spec §4.2 invariant).
type InstanceState int

const (
	InstanceAlive InstanceState = iota
	InstanceDisposed
	InstanceNoWriters
)

// StateMask selects which samples read/take should return.
type StateMask struct {
	Sample   *SampleState
	View     *ViewState
	Instance *InstanceState
}

// Matches reports whether a slot satisfies the mask. A nil field in the
// mask means "don't care".
func (m StateMask) Matches(s SampleState, v ViewState, i InstanceState) bool {
	if m.Sample != nil && *m.Sample != s {
		return false
	}
	if m.View != nil && *m.View != v {
		return false
	}
	if m.Instance != nil && *m.Instance != i {
		return false
	}
	return true
}

// slot wraps a Change with its cache-local read/view bookkeeping.
type slot struct {
	change *Change
	sample SampleState
	view   ViewState
	taken  bool
}

// instance is the per-key ordered store of changes, in insertion order
// (spec §4.2 invariant).
type instance struct {
	handle   InstanceHandle
	state    InstanceState
	slots    []*slot
	lastSeen map[WriterGUID]struct{}
}

func newInstance(handle InstanceHandle) *instance {
	return &instance{
		handle:   handle,
		state:    InstanceAlive,
		lastSeen: make(map[WriterGUID]struct{}),
	}
}

func (ins *instance) firstView(writer WriterGUID) ViewState {
	if _, ok := ins.lastSeen[writer]; ok {
		return NotNew
	}
	ins.lastSeen[writer] = struct{}{}
	return NewView
}

// applyKind advances instance.state per a newly appended change's kind,
// enforcing the monotonic ALIVE -> {DISPOSED, NOT_ALIVE_NO_WRITERS}
// transition.
func (ins *instance) applyKind(k Kind) {
	switch k {
	case Disposed:
		if ins.state == InstanceAlive {
			ins.state = InstanceDisposed
		}
	case Unregistered:
		if ins.state == InstanceAlive {
			ins.state = InstanceNoWriters
		}
	}
}
