package participant

import (
	"sync"

	"github.com/krakdds/rtps-engine/pkg/typesupport"
)

// Type is a domain-wide, reference-counted handle to a type-support
// descriptor (spec §3).
type Type struct {
	ts   typesupport.TypeSupport
	refs int
}

// TypeRegistry reference-counts Types per domain.
type TypeRegistry struct {
	mu    sync.Mutex
	types map[string]*Type
}

// NewTypeRegistry constructs an empty domain type registry.
func NewTypeRegistry() *TypeRegistry {
	return &TypeRegistry{types: make(map[string]*Type)}
}

// Acquire returns the Type for ts, interning it (and bumping its refcount)
// if this is the first reference, or returning the existing Type if an
// equal type is already registered (spec §3's equality test).
func (r *TypeRegistry) Acquire(ts typesupport.TypeSupport) *Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.types[ts.Name()]; ok {
		t.refs++
		return t
	}
	t := &Type{ts: ts, refs: 1}
	r.types[ts.Name()] = t
	return t
}

// Release decrements the Type's refcount, removing it from the registry
// once it reaches zero.
func (r *TypeRegistry) Release(t *Type) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t.refs--
	if t.refs <= 0 {
		delete(r.types, t.ts.Name())
	}
}

// TypeSupport returns the underlying opaque descriptor.
func (t *Type) TypeSupport() typesupport.TypeSupport { return t.ts }

// Topic is a name plus a reference to a Type, reference-counted per
// participant (spec §3).
type Topic struct {
	Name string
	Type *Type
	refs int
}

// FilteredTopic adds the filter expression text, its string parameters,
// and a pointer to the related (unfiltered) topic (spec §3). It holds no
// compiled filter program; the compiled form the engine evaluates is a
// history.FilterProgram installed on a reader's cache via InformStart.
type FilteredTopic struct {
	Topic
	Expression string
	Parameters []string
	Related    *Topic
}

// TopicRegistry reference-counts Topics per participant.
type TopicRegistry struct {
	mu     sync.Mutex
	topics map[string]*Topic
}

// NewTopicRegistry constructs an empty per-participant topic registry.
func NewTopicRegistry() *TopicRegistry {
	return &TopicRegistry{topics: make(map[string]*Topic)}
}

// Acquire returns the Topic named name with type t, creating it (refcount
// 1) if absent, or bumping the refcount of the existing topic.
func (r *TopicRegistry) Acquire(name string, t *Type) *Topic {
	r.mu.Lock()
	defer r.mu.Unlock()
	if top, ok := r.topics[name]; ok {
		top.refs++
		return top
	}
	top := &Topic{Name: name, Type: t, refs: 1}
	r.topics[name] = top
	return top
}

// Release decrements a Topic's refcount, removing it once it reaches zero.
func (r *TopicRegistry) Release(t *Topic) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t.refs--
	if t.refs <= 0 {
		delete(r.topics, t.Name)
	}
}
