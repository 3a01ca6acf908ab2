package locator

import (
	"sync"

	log "github.com/sirupsen/logrus"
)

// Node is an interned locator plus its live reference count. Multiple
// lists (proxies, endpoints, participants) may each hold a Ref pointing at
// the same Node; Users always equals the number of live Refs, per spec
// §3's locator invariant.
type Node struct {
	Locator Locator
	Users   int
}

// Ref is one link into a caller-owned List. Refs form a singly linked list;
// the owning list walks Next without touching the registry's mutex.
type Ref struct {
	Node *Node
	Next *Ref
}

// List is an ordered sequence of locator references, owned by a proxy,
// endpoint or participant. It is not safe for concurrent use by multiple
// goroutines without external synchronization — callers already hold
// their entity's lock per spec §5's lock-order discipline.
type List struct {
	head *Ref
	tail *Ref
	n    int
}

// Len returns the number of locators in the list.
func (l *List) Len() int { return l.n }

// Each calls fn for every locator in the list, in list order.
func (l *List) Each(fn func(Locator)) {
	for r := l.head; r != nil; r = r.Next {
		fn(r.Node.Locator)
	}
}

// Slice copies the list's locators into a new slice.
func (l *List) Slice() []Locator {
	out := make([]Locator, 0, l.n)
	l.Each(func(loc Locator) { out = append(out, loc) })
	return out
}

// Registry is the single domain-global, mutex-guarded index of interned
// locator nodes described in spec §4.1. One Registry is constructed per
// engine instance and passed explicitly to every component that needs to
// add or remove locators, following the "no global mutable state" strategy
// in spec §9.
type Registry struct {
	mu    sync.Mutex
	nodes map[Key]*Node
}

// NewRegistry constructs an empty locator registry.
func NewRegistry() *Registry {
	return &Registry{nodes: make(map[Key]*Node)}
}

// Add interns {kind,address,port} into the registry, appends a Ref to list
// and returns the resulting Node. If an equal locator is already
// registered, its user count is incremented and its Scope/Flags/security
// protocol are merged (widened) rather than creating a second node.
//
// The registry's mutex is held only while touching the index; it is
// released before the Ref is linked into the caller's list, per spec
// §4.1's concurrency note.
func (r *Registry) Add(list *List, loc Locator) *Node {
	key := keyOf(loc)

	r.mu.Lock()
	node, ok := r.nodes[key]
	if ok {
		node.Locator.Scope = widestScope(node.Locator.Scope, loc.Scope)
		node.Locator.Flags |= loc.Flags
		if loc.SecurityProtocol != 0 {
			node.Locator.SecurityProtocol = loc.SecurityProtocol
		}
		node.Users++
	} else {
		node = &Node{Locator: loc, Users: 1}
		r.nodes[key] = node
	}
	r.mu.Unlock()

	ref := &Ref{Node: node}
	if list.head == nil {
		list.head = ref
		list.tail = ref
	} else {
		list.tail.Next = ref
		list.tail = ref
	}
	list.n++
	return node
}

// Delete unlinks the first Ref in list pointing at a Node matching loc's
// key, decrements its user count, and — if the count reaches zero —
// removes the Node from the registry.
func (r *Registry) Delete(list *List, loc Locator) bool {
	key := keyOf(loc)

	var prev *Ref
	cur := list.head
	for cur != nil {
		if keyOf(cur.Node.Locator) == key {
			break
		}
		prev = cur
		cur = cur.Next
	}
	if cur == nil {
		return false
	}

	if prev == nil {
		list.head = cur.Next
	} else {
		prev.Next = cur.Next
	}
	if cur == list.tail {
		list.tail = prev
	}
	list.n--

	r.mu.Lock()
	cur.Node.Users--
	if cur.Node.Users <= 0 {
		delete(r.nodes, key)
		log.WithField("locator", cur.Node.Locator.HostPort()).Debug("locator node evicted, users reached zero")
	}
	r.mu.Unlock()
	return true
}

// DeleteAll unlinks and dereferences every locator currently in list.
func (r *Registry) DeleteAll(list *List) {
	for list.head != nil {
		r.Delete(list, list.head.Node.Locator)
	}
}

// Clone returns a new List referencing the same Nodes as src, incrementing
// each Node's user count.
func (r *Registry) Clone(src *List) *List {
	dst := &List{}
	src.Each(func(loc Locator) { r.Add(dst, loc) })
	return dst
}

// Append adds every locator in src to dst, interning each one.
func (r *Registry) Append(dst, src *List) {
	src.Each(func(loc Locator) { r.Add(dst, loc) })
}

// Users returns the live reference count of the node matching loc, or 0
// if no such node is registered. Exposed for tests and admin introspection.
func (r *Registry) Users(loc Locator) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n, ok := r.nodes[keyOf(loc)]; ok {
		return n.Users
	}
	return 0
}

// Size returns the number of distinct locator nodes currently interned.
func (r *Registry) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.nodes)
}

func widestScope(a, b Scope) Scope {
	if b > a {
		return b
	}
	return a
}
