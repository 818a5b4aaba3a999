package rora

import (
	"bytes"
	"testing"
)

func TestEncoderDecoderRoundTrip(t *testing.T) {
	e := &encoder{}
	e.putU8(7)
	e.putU32(1234)
	e.putU32be(5678)
	e.putU64(9999999999)
	e.putBytesField([]byte("hello"))
	e.putStringField("world")
	e.putU32Seq([]uint32{1, 2, 3})

	d := newDecoder(e.bytes())

	if v, ok := d.u8(); !ok || v != 7 {
		t.Fatalf("u8 = %v, %v", v, ok)
	}
	if v, ok := d.u32(); !ok || v != 1234 {
		t.Fatalf("u32 = %v, %v", v, ok)
	}
	if v, ok := d.u32be(); !ok || v != 5678 {
		t.Fatalf("u32be = %v, %v", v, ok)
	}
	if v, ok := d.u64(); !ok || v != 9999999999 {
		t.Fatalf("u64 = %v, %v", v, ok)
	}
	if v, ok := d.bytesField(); !ok || !bytes.Equal(v, []byte("hello")) {
		t.Fatalf("bytesField = %v, %v", v, ok)
	}
	if v, ok := d.stringField(); !ok || v != "world" {
		t.Fatalf("stringField = %v, %v", v, ok)
	}
	if v, ok := d.u32Seq(); !ok || len(v) != 3 || v[0] != 1 || v[2] != 3 {
		t.Fatalf("u32Seq = %v, %v", v, ok)
	}
	if d.remaining() != 0 {
		t.Fatalf("expected buffer fully consumed, %d bytes left", d.remaining())
	}
}

func TestDecoderTruncation(t *testing.T) {
	d := newDecoder([]byte{1, 2})
	if _, ok := d.u32(); ok {
		t.Fatal("expected truncated u32 to fail")
	}
}

func TestTaggedUnionRoundTrip(t *testing.T) {
	e := &encoder{}
	e.putTaggedUnion(2, func() { e.putBytesField([]byte("payload")) })
	e.putTaggedUnion(1, nil)

	d := newDecoder(e.bytes())
	if err := d.taggedUnion(func(tag uint8) *Error {
		if tag != 2 {
			t.Fatalf("tag = %d, want 2", tag)
		}
		if v, ok := d.bytesField(); !ok || string(v) != "payload" {
			t.Fatalf("payload = %q, %v", v, ok)
		}
		return nil
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := d.taggedUnion(func(tag uint8) *Error {
		if tag != 1 {
			t.Fatalf("tag = %d, want 1", tag)
		}
		return nil
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := d.taggedUnion(func(uint8) *Error { return nil }); err == nil || err.Kind != KindCorruptFrame {
		t.Fatalf("expected CorruptFrame reading a union tag off an exhausted buffer, got %v", err)
	}
}

func TestFragmentKeyDeterministic(t *testing.T) {
	k1 := fragmentKey(7, []byte("obj"), 1, 2, 3)
	k2 := fragmentKey(7, []byte("obj"), 1, 2, 3)
	if !bytes.Equal(k1, k2) {
		t.Fatalf("fragmentKey not deterministic: %x != %x", k1, k2)
	}

	k3 := fragmentKey(8, []byte("obj"), 1, 2, 3)
	if bytes.Equal(k1, k3) {
		t.Fatal("fragmentKey ignored namespace id")
	}

	if len(k1) == 0 || k1[0] != 'n' {
		t.Fatalf("fragmentKey must begin with 'n', got %x", k1)
	}
}

func TestInnerObjectNameStripsLengthPrefix(t *testing.T) {
	name := innerObjectName([]byte("abc"), 1, 2)
	// object_id ("abc") | chunk_id (u32 LE) | fragment_id (u32 LE), no length word
	want := []byte{'a', 'b', 'c', 1, 0, 0, 0, 2, 0, 0, 0}
	if !bytes.Equal(name, want) {
		t.Fatalf("innerObjectName = %x, want %x", name, want)
	}
}
