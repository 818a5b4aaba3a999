/*
Copyright (C) 2026  Rora Contributors

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/
package rora

import (
	"encoding/binary"
	"math"
)

// decoder reads primitives from an in-memory buffer, little-endian by
// default. It never panics on its own; every read method
// reports CorruptFrame via ok=false when the buffer is shorter than
// declared, so callers can translate that into a *Error without a
// recover() at every call site.
type decoder struct {
	buf []byte
	pos int
}

func newDecoder(buf []byte) *decoder {
	return &decoder{buf: buf}
}

func (d *decoder) remaining() int {
	return len(d.buf) - d.pos
}

func (d *decoder) take(n int) ([]byte, bool) {
	if n < 0 || d.remaining() < n {
		return nil, false
	}
	b := d.buf[d.pos : d.pos+n]
	d.pos += n
	return b, true
}

func (d *decoder) u8() (uint8, bool) {
	b, ok := d.take(1)
	if !ok {
		return 0, false
	}
	return b[0], true
}

func (d *decoder) u32() (uint32, bool) {
	b, ok := d.take(4)
	if !ok {
		return 0, false
	}
	return binary.LittleEndian.Uint32(b), true
}

func (d *decoder) u32be() (uint32, bool) {
	b, ok := d.take(4)
	if !ok {
		return 0, false
	}
	return binary.BigEndian.Uint32(b), true
}

func (d *decoder) u64() (uint64, bool) {
	b, ok := d.take(8)
	if !ok {
		return 0, false
	}
	return binary.LittleEndian.Uint64(b), true
}

// bytesField reads a u32-length-prefixed byte string.
func (d *decoder) bytesField() ([]byte, bool) {
	n, ok := d.u32()
	if !ok {
		return nil, false
	}
	return d.take(int(n))
}

func (d *decoder) stringField() (string, bool) {
	b, ok := d.bytesField()
	if !ok {
		return "", false
	}
	return string(b), true
}

// u32Seq reads a u32-length-prefixed sequence of u32 elements.
func (d *decoder) u32Seq() ([]uint32, bool) {
	n, ok := d.u32()
	if !ok {
		return nil, false
	}
	out := make([]uint32, n)
	for i := range out {
		v, ok := d.u32()
		if !ok {
			return nil, false
		}
		out[i] = v
	}
	return out, true
}

// taggedUnion reads the u8 discriminator of a (tag, payload) union and
// hands it to decode, which consumes the variant's payload from the same
// buffer and reports an unknown tag or a truncated payload as its own
// *Error.
func (d *decoder) taggedUnion(decode func(tag uint8) *Error) *Error {
	tag, ok := d.u8()
	if !ok {
		return newErr(KindCorruptFrame, "truncated union tag")
	}
	return decode(tag)
}

// encoder writes primitives into a growable buffer, mirroring decoder. Used
// by tests (a reference encoder for manifest round-trip property tests),
// by the OSD wire-protocol request builder, and by fragmentKey and
// innerObjectName.
type encoder struct {
	buf []byte
}

func (e *encoder) bytes() []byte { return e.buf }

func (e *encoder) putU8(v uint8) {
	e.buf = append(e.buf, v)
}

func (e *encoder) putU32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	e.buf = append(e.buf, b[:]...)
}

func (e *encoder) putU32be(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	e.buf = append(e.buf, b[:]...)
}

func (e *encoder) putU64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	e.buf = append(e.buf, b[:]...)
}

func (e *encoder) putF64(v float64) {
	e.putU64(math.Float64bits(v))
}

func (e *encoder) putBytesField(v []byte) {
	e.putU32(uint32(len(v)))
	e.buf = append(e.buf, v...)
}

func (e *encoder) putStringField(v string) {
	e.putBytesField([]byte(v))
}

func (e *encoder) putU32Seq(v []uint32) {
	e.putU32(uint32(len(v)))
	for _, x := range v {
		e.putU32(x)
	}
}

// putTaggedUnion writes the u8 discriminator of a (tag, payload) union,
// then runs encode to append the variant's payload. encode may be nil for
// payload-less variants.
func (e *encoder) putTaggedUnion(tag uint8, encode func()) {
	e.putU8(tag)
	if encode != nil {
		encode()
	}
}

// fragmentKey builds the byte string that addresses a fragment on an OSD:
//
//	'n' | namespace_id (u32 BE) | 'o' | object_id (len-prefixed)
//	    | chunk_id (u32 LE) | fragment_id (u32 LE) | version_id (u32 LE)
//
// The proxy's on-wire builder prefixes this with 'p' | u32(0) and strips
// the first four bytes of the serialized form so the key begins at 'n';
// rora builds the stripped form directly rather than constructing and
// truncating the prefix, since the prefix bytes never reach an OSD and
// there is no reason to carry them into memory first.
func fragmentKey(namespaceID uint32, objectID []byte, versionID, chunkID, fragmentID uint32) []byte {
	e := &encoder{}
	e.putU8('n')
	e.putU32be(namespaceID)
	e.putU8('o')
	e.putBytesField(objectID)
	e.putU32(chunkID)
	e.putU32(fragmentID)
	e.putU32(versionID)
	return e.bytes()
}

// innerObjectName builds the canonical name used to address a nested-store
// object: object_id | chunk_id | fragment_id, with the leading
// length-prefix framing word removed. The object_id is emitted as a
// length-prefixed field and the leading 4 bytes stripped afterwards
// (unlike fragmentKey, which builds its stripped form directly).
func innerObjectName(objectID []byte, chunkID, fragmentID uint32) []byte {
	e := &encoder{}
	e.putBytesField(objectID)
	e.putU32(chunkID)
	e.putU32(fragmentID)
	b := e.bytes()
	if len(b) < 4 {
		return nil
	}
	return b[4:]
}
