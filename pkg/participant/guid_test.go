package participant

import "testing"

func TestEntityIDForEncodesCounterAndKind(t *testing.T) {
	e := EntityIDFor(0x0102AA, EntityKindWriterWithKey)
	if !e.IsWriter() {
		t.Fatalf("expected %v to report IsWriter", e)
	}
	if e.IsReader() {
		t.Fatalf("expected %v not to report IsReader", e)
	}
	if e.IsBuiltin() {
		t.Fatalf("expected %v not to report IsBuiltin", e)
	}
	if e[3] != EntityKindWriterWithKey {
		t.Fatalf("expected kind byte %x, got %x", EntityKindWriterWithKey, e[3])
	}
}

func TestEntityIDForBuiltinFlagCombinesWithKind(t *testing.T) {
	e := EntityIDFor(1, EntityKindReaderNoKey|EntityKindBuiltinFlag)
	if !e.IsReader() {
		t.Fatalf("expected %v to report IsReader despite the builtin flag", e)
	}
	if !e.IsBuiltin() {
		t.Fatalf("expected %v to report IsBuiltin", e)
	}
}

func TestNewGUIDPrefixIsNotAllZero(t *testing.T) {
	p := NewGUIDPrefix()
	var zero GUIDPrefix
	if p == zero {
		t.Fatal("expected a freshly generated prefix to be non-zero")
	}
}

func TestGUIDStringFormatsPrefixAndEntity(t *testing.T) {
	g := GUID{
		Prefix: GUIDPrefix{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c},
		Entity: EntityID{0x00, 0x00, 0x01, EntityKindWriterWithKey},
	}
	want := "0102030405060708090a0b0c.00000102"
	if got := g.String(); got != want {
		t.Fatalf("GUID.String() = %q, want %q", got, want)
	}
}
