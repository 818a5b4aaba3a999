package rora

import (
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"
)

// startFakeOsd runs a minimal OSD speaking the framed wire protocol on a
// loopback listener: it answers the version handshake with longID and
// serves partial_get reads out of fragment.
func startFakeOsd(t *testing.T, longID string, fragment []byte, partialGetStatus uint32) OsdEndpoint {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveFakeOsd(conn, longID, fragment, partialGetStatus)
		}
	}()

	host, port, err := net.SplitHostPort(ln.Addr().String())
	if err != nil {
		t.Fatalf("split addr: %v", err)
	}
	return OsdEndpoint{Host: host, Port: port}
}

func serveFakeOsd(conn net.Conn, longID string, fragment []byte, partialGetStatus uint32) {
	defer conn.Close()
	for {
		var lenBuf [4]byte
		if _, err := io.ReadFull(conn, lenBuf[:]); err != nil {
			return
		}
		body := make([]byte, binary.LittleEndian.Uint32(lenBuf[:]))
		if _, err := io.ReadFull(conn, body); err != nil {
			return
		}

		d := newDecoder(body)
		op, _ := d.u8()
		reply := &encoder{}
		switch op {
		case opGetVersion:
			reply.putU32(0)
			reply.putU32(1)
			reply.putU32(2)
			reply.putU32(3)
			reply.putStringField("deadbeef")
			reply.putStringField(longID)
		case opPartialGet:
			if _, ok := d.bytesField(); !ok { // key, unused by the fake
				return
			}
			n, _ := d.u32()
			type window struct{ off, length uint32 }
			windows := make([]window, n)
			for i := range windows {
				off, _ := d.u64()
				length, _ := d.u32()
				windows[i] = window{uint32(off), length}
			}
			reply.putU32(partialGetStatus)
			if partialGetStatus == 0 {
				for _, w := range windows {
					reply.buf = append(reply.buf, fragment[w.off:w.off+w.length]...)
				}
			}
		case opSetSlowness:
			reply.putU32(0)
		default:
			reply.putU32(5)
		}

		var out [4]byte
		binary.LittleEndian.PutUint32(out[:], uint32(len(reply.buf)))
		if _, err := conn.Write(out[:]); err != nil {
			return
		}
		if _, err := conn.Write(reply.buf); err != nil {
			return
		}
	}
}

func TestOsdClientPartialGetScattersPayload(t *testing.T) {
	fragment := make([]byte, 256)
	for i := range fragment {
		fragment[i] = byte(i)
	}
	ep := startFakeOsd(t, "", fragment, 0)

	c := newOsdClient(ep)
	defer c.close()

	a := make([]byte, 8)
	b := make([]byte, 4)
	slices := []AsdSlice{
		{Offset: 16, Length: 8, Target: a},
		{Offset: 100, Length: 4, Target: b},
	}
	if err := c.PartialGet([]byte("key"), slices, time.Second); err != nil {
		t.Fatalf("PartialGet failed: %v", err)
	}
	for i := 0; i < 8; i++ {
		if a[i] != byte(16+i) {
			t.Fatalf("first target byte %d = %d, want %d", i, a[i], 16+i)
		}
	}
	for i := 0; i < 4; i++ {
		if b[i] != byte(100+i) {
			t.Fatalf("second target byte %d = %d, want %d", i, b[i], 100+i)
		}
	}
}

func TestOsdClientHandshakeLongIDMismatch(t *testing.T) {
	ep := startFakeOsd(t, "other-osd", nil, 0)
	ep.LongID = "expected-osd"

	c := newOsdClient(ep)
	defer c.close()

	err := c.PartialGet([]byte("key"), []AsdSlice{{Length: 1, Target: make([]byte, 1)}}, time.Second)
	if err == nil || err.Kind != KindWrongOsd {
		t.Fatalf("expected WrongOsd, got %v", err)
	}
}

func TestOsdClientNonZeroStatusBecomesOsdReturn(t *testing.T) {
	ep := startFakeOsd(t, "", nil, 42)

	c := newOsdClient(ep)
	defer c.close()

	err := c.PartialGet([]byte("key"), []AsdSlice{{Length: 1, Target: make([]byte, 1)}}, time.Second)
	if err == nil || err.Kind != KindOsdReturn || err.Code != 42 {
		t.Fatalf("expected OsdReturn code 42, got %v", err)
	}
}

func TestOsdClientTimeout(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			// accept and stay silent so the handshake read expires
			defer conn.Close()
		}
	}()

	host, port, _ := net.SplitHostPort(ln.Addr().String())
	c := newOsdClient(OsdEndpoint{Host: host, Port: port})
	defer c.close()

	err2 := c.PartialGet([]byte("key"), []AsdSlice{{Length: 1, Target: make([]byte, 1)}}, 50*time.Millisecond)
	if err2 == nil || err2.Kind != KindTimeout {
		t.Fatalf("expected Timeout, got %v", err2)
	}
}

func TestOsdClientSetSlowness(t *testing.T) {
	ep := startFakeOsd(t, "", nil, 0)

	c := newOsdClient(ep)
	defer c.close()

	if err := c.SetSlowness(&Slowness{Fixed: 0.5}, time.Second); err != nil {
		t.Fatalf("SetSlowness failed: %v", err)
	}
	if err := c.SetSlowness(nil, time.Second); err != nil {
		t.Fatalf("clearing slowness failed: %v", err)
	}
}

func TestOsdClientReconnectsAfterDrop(t *testing.T) {
	fragment := make([]byte, 64)
	ep := startFakeOsd(t, "", fragment, 0)

	c := newOsdClient(ep)
	defer c.close()

	target := make([]byte, 4)
	if err := c.PartialGet([]byte("k"), []AsdSlice{{Offset: 0, Length: 4, Target: target}}, time.Second); err != nil {
		t.Fatalf("first PartialGet failed: %v", err)
	}

	// sever the connection behind the client's back; the call that hits the
	// dead socket fails and discards it, and a following call must dial and
	// handshake again
	c.mu.Lock()
	c.conn.Close()
	c.mu.Unlock()

	deadline := time.Now().Add(2 * time.Second)
	for {
		err := c.PartialGet([]byte("k"), []AsdSlice{{Offset: 0, Length: 4, Target: target}}, time.Second)
		if err == nil {
			break
		}
		// the first call after the drop fails on the closed socket; the
		// client must have discarded the socket so a retry works
		if time.Now().After(deadline) {
			t.Fatalf("client never recovered after connection drop: %v", err)
		}
	}
}
