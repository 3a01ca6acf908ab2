package msgpool

import "testing"

func TestPoolExhaustionReportsNotOK(t *testing.T) {
	p := NewPool(2)
	e1, ok := p.Get()
	if !ok {
		t.Fatal("expected first Get to succeed")
	}
	e2, ok := p.Get()
	if !ok {
		t.Fatal("expected second Get to succeed")
	}
	if _, ok := p.Get(); ok {
		t.Fatal("expected third Get to report exhaustion")
	}
	p.Put(e1)
	if _, ok := p.Get(); !ok {
		t.Fatal("expected Get to succeed after a Put freed a slot")
	}
	p.Put(e2)
}

func TestChainLinksElementsInOrder(t *testing.T) {
	a, b, c := &Element{}, &Element{}, &Element{}
	head := Chain(a, b, c)
	if head != a || a.Next != b || b.Next != c || c.Next != nil {
		t.Fatal("expected Chain to link elements in the order given")
	}
}
