package typesupport

import (
	"bytes"
	"crypto/md5"
	"testing"
)

type stubType struct {
	name    string
	offsets []KeyOffset
}

func (s stubType) Name() string                            { return s.name }
func (s stubType) PreferredEncoding() Encoding             { return EncodingCDR }
func (s stubType) KeyOffsets() []KeyOffset                 { return s.offsets }
func (s stubType) MarshalledSize(interface{}) (int, error) { return 0, nil }
func (s stubType) Marshal(buf []byte, data interface{}, swapEndian bool) (int, error) {
	return 0, nil
}
func (s stubType) Unmarshal(buf []byte, swapEndian bool) (interface{}, error) { return nil, nil }
func (s stubType) KeyHash(interface{}) ([16]byte, error)                      { return [16]byte{}, nil }

func TestEqualComparesByName(t *testing.T) {
	a := stubType{name: "Foo"}
	b := stubType{name: "Foo"}
	c := stubType{name: "Bar"}

	if !Equal(a, b) {
		t.Fatal("expected same-named type-supports to be equal")
	}
	if Equal(a, c) {
		t.Fatal("expected differently-named type-supports to be unequal")
	}
}

func TestEqualHandlesNils(t *testing.T) {
	if !Equal(nil, nil) {
		t.Fatal("expected nil == nil")
	}
	if Equal(stubType{name: "Foo"}, nil) {
		t.Fatal("expected non-nil != nil")
	}
}

func TestInstanceHandleUnkeyedCollapsesToZero(t *testing.T) {
	h, err := InstanceHandle(stubType{name: "Unkeyed"}, []byte{1, 2, 3, 4})
	if err != nil {
		t.Fatalf("InstanceHandle: %v", err)
	}
	if h != ([16]byte{}) {
		t.Fatalf("expected zero handle for unkeyed type, got %v", h)
	}

	h, err = InstanceHandle(nil, []byte{1, 2, 3, 4})
	if err != nil {
		t.Fatalf("InstanceHandle with nil ts: %v", err)
	}
	if h != ([16]byte{}) {
		t.Fatalf("expected zero handle for nil type support, got %v", h)
	}
}

func TestInstanceHandleShortKeyIsCopiedAndPadded(t *testing.T) {
	ts := stubType{name: "Keyed", offsets: []KeyOffset{{Offset: 2, Size: 4}}}
	payload := []byte{0xAA, 0xAA, 1, 2, 3, 4, 0xAA}

	h, err := InstanceHandle(ts, payload)
	if err != nil {
		t.Fatalf("InstanceHandle: %v", err)
	}
	var want [16]byte
	copy(want[:], []byte{1, 2, 3, 4})
	if h != want {
		t.Fatalf("got %v, want %v", h, want)
	}
}

func TestInstanceHandleLongKeyIsHashed(t *testing.T) {
	ts := stubType{name: "Keyed", offsets: []KeyOffset{{Offset: 0, Size: 20}}}
	payload := bytes.Repeat([]byte{0x7}, 20)

	h, err := InstanceHandle(ts, payload)
	if err != nil {
		t.Fatalf("InstanceHandle: %v", err)
	}
	if h != md5.Sum(payload) {
		t.Fatalf("expected long key folded through md5")
	}
}

func TestInstanceHandleRejectsShortPayload(t *testing.T) {
	ts := stubType{name: "Keyed", offsets: []KeyOffset{{Offset: 10, Size: 8}}}
	if _, err := InstanceHandle(ts, []byte{1, 2, 3}); err == nil {
		t.Fatal("expected error when payload is too short for declared key offsets")
	}
}
