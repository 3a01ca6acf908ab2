package wire

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/krakdds/rtps-engine/pkg/locator"
	"github.com/krakdds/rtps-engine/pkg/msgpool"
	"github.com/krakdds/rtps-engine/pkg/participant"
)

func TestMessageHeaderRoundTrip(t *testing.T) {
	want := MessageHeader{
		Version:    participant.ProtocolVersion{Major: 2, Minor: 1},
		Vendor:     participant.VendorID{0x01, 0x0F},
		GUIDPrefix: participant.GUIDPrefix{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12},
	}
	buf := make([]byte, messageHeaderLen)
	EncodeMessageHeader(buf, want)

	got, err := DecodeMessageHeader(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestDecodeMessageHeaderRejectsBadMagic(t *testing.T) {
	buf := make([]byte, messageHeaderLen)
	copy(buf, []byte("XXXX"))
	if _, err := DecodeMessageHeader(buf); err == nil {
		t.Fatal("expected error for bad protocol id")
	}
}

func TestBuildAndParseDataMessage(t *testing.T) {
	pool := msgpool.NewPool(16)
	hdr := MessageHeader{
		Version:    participant.ProtocolVersion{Major: 2, Minor: 1},
		Vendor:     participant.VendorID{0x01, 0x0F},
		GUIDPrefix: participant.GUIDPrefix{9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9},
	}
	b, err := NewBuilder(pool, hdr, binary.LittleEndian)
	if err != nil {
		t.Fatalf("NewBuilder: %v", err)
	}
	defer b.Release()

	reader := participant.EntityID{0, 0, 1, 0x04}
	writer := participant.EntityID{0, 0, 1, 0x03}
	payload := bytes.Repeat([]byte{0xAB}, 400) // spans more than one pooled element

	if err := b.AddData(reader, writer, 42, payload, false); err != nil {
		t.Fatalf("AddData: %v", err)
	}
	if err := b.AddHeartbeat(reader, writer, 1, 42, 7, true, false); err != nil {
		t.Fatalf("AddHeartbeat: %v", err)
	}

	var out bytes.Buffer
	if _, err := b.WriteTo(&out); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}

	var dataSeen, hbSeen bool
	var stats ParseStats
	err = ParseMessage(out.Bytes(), locator.Locator{}, func(sm Submessage) {
		switch body := sm.Body.(type) {
		case Data:
			dataSeen = true
			if body.SeqNr != 42 {
				t.Errorf("data seq = %d, want 42", body.SeqNr)
			}
			if !bytes.Equal(body.SerializedData, payload) {
				t.Errorf("data payload mismatch: got %d bytes, want %d", len(body.SerializedData), len(payload))
			}
		case Heartbeat:
			hbSeen = true
			if body.Count != 7 {
				t.Errorf("heartbeat count = %d, want 7", body.Count)
			}
			if !body.Final {
				t.Error("expected heartbeat FINAL flag set")
			}
		}
	}, &stats)
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	if stats.Discarded != 0 {
		t.Fatalf("expected no discards, got %d", stats.Discarded)
	}
	if !dataSeen || !hbSeen {
		t.Fatalf("expected both DATA and HEARTBEAT decoded, dataSeen=%v hbSeen=%v", dataSeen, hbSeen)
	}
}

func TestBuildAckNackAndGap(t *testing.T) {
	pool := msgpool.NewPool(8)
	hdr := MessageHeader{Version: participant.ProtocolVersion{Major: 2, Minor: 1}}
	b, err := NewBuilder(pool, hdr, binary.BigEndian)
	if err != nil {
		t.Fatalf("NewBuilder: %v", err)
	}
	defer b.Release()

	reader := participant.EntityID{0, 0, 1, 0x04}
	writer := participant.EntityID{0, 0, 1, 0x03}

	if err := b.AddAckNack(reader, writer, 1, []bool{false, true, true}, 3, true); err != nil {
		t.Fatalf("AddAckNack: %v", err)
	}
	if err := b.AddGap(reader, writer, 5, 7, []bool{true, false, true}); err != nil {
		t.Fatalf("AddGap: %v", err)
	}

	var out bytes.Buffer
	if _, err := b.WriteTo(&out); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}

	var ackSeen, gapSeen bool
	var stats ParseStats
	err = ParseMessage(out.Bytes(), locator.Locator{}, func(sm Submessage) {
		switch body := sm.Body.(type) {
		case AckNack:
			ackSeen = true
			if body.BitmapBase != 1 || len(body.Bitmap) != 3 || !body.Bitmap[1] || !body.Bitmap[2] {
				t.Errorf("unexpected acknack body: %+v", body)
			}
		case Gap:
			gapSeen = true
			if body.GapStart != 5 || body.GapListBase != 7 {
				t.Errorf("unexpected gap body: %+v", body)
			}
		}
	}, &stats)
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	if !ackSeen || !gapSeen {
		t.Fatalf("expected both ACKNACK and GAP decoded, ackSeen=%v gapSeen=%v", ackSeen, gapSeen)
	}
}

func TestAddDataFragmentedSplitsPayload(t *testing.T) {
	pool := msgpool.NewPool(32)
	hdr := MessageHeader{Version: participant.ProtocolVersion{Major: 2, Minor: 1}}
	b, err := NewBuilder(pool, hdr, binary.LittleEndian)
	if err != nil {
		t.Fatalf("NewBuilder: %v", err)
	}
	defer b.Release()

	reader := participant.EntityID{0, 0, 1, 0x04}
	writer := participant.EntityID{0, 0, 1, 0x03}
	payload := bytes.Repeat([]byte{0xCD}, maxFragmentPayload*2+10)

	n, err := b.AddDataFragmented(reader, writer, 1, payload, maxFragmentPayload, 0, 0)
	if err != nil {
		t.Fatalf("AddDataFragmented: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 fragments, got %d", n)
	}

	var out bytes.Buffer
	if _, err := b.WriteTo(&out); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}

	var reassembled []byte
	var stats ParseStats
	err = ParseMessage(out.Bytes(), locator.Locator{}, func(sm Submessage) {
		if df, ok := sm.Body.(DataFrag); ok {
			reassembled = append(reassembled, df.FragmentData...)
			if df.SampleSize != uint32(len(payload)) {
				t.Errorf("fragment sample size = %d, want %d", df.SampleSize, len(payload))
			}
		}
	}, &stats)
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	if !bytes.Equal(reassembled, payload) {
		t.Fatalf("reassembled payload mismatch: got %d bytes, want %d", len(reassembled), len(payload))
	}
}
