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

import "github.com/golang/snappy"

// CompressionKind tags how an object's data is compressed at rest.
type CompressionKind uint8

const (
	CompressionNone CompressionKind = iota + 1
	CompressionSnappy
	CompressionBZip2
)

// EncryptionKind tags how an object's data is encrypted at rest. Only
// EncryptionNone is understood by this decoder; any other tag value is
// UnsupportedManifest.
type EncryptionKind uint8

const (
	EncryptionNone EncryptionKind = iota + 1
)

// ChecksumKind tags the digest algorithm of a stored checksum.
type ChecksumKind uint8

const (
	ChecksumNone ChecksumKind = iota + 1
	ChecksumSha1
	ChecksumCrc32c
)

// Checksum is a tagged digest: ChecksumNone carries no payload,
// ChecksumSha1 a length-prefixed digest, ChecksumCrc32c a 4-byte word.
// The short path never verifies checksums; they are decoded for
// completeness and carried as opaque payloads.
type Checksum struct {
	Kind   ChecksumKind
	Digest []byte
}

// EncodingScheme is (k, m, w): data-fragment count, parity count, word size.
type EncodingScheme struct {
	K uint32
	M uint32
	W uint8
}

func (es EncodingScheme) valid() bool {
	return es.K >= 1
}

// FragmentLocation is Option<(osd_id, version_id)>; Present=false means the
// fragment is not placed (e.g. parity not available on the short path).
type FragmentLocation struct {
	Present   bool
	OsdID     uint32
	VersionID uint32
}

// Manifest is the per-object placement metadata: how the object is
// chunked, encoded, and spread over OSDs.
type Manifest struct {
	Name                string
	ObjectID            []byte
	Size                uint64
	ChunkSizes          []uint32
	EncodingScheme      EncodingScheme
	Compression         CompressionKind
	Encryption          EncryptionKind
	Checksum            Checksum             // tagged whole-object digest
	FragmentLocations   [][]FragmentLocation // [chunk][fragment]
	FragmentChecksums   [][]Checksum         // [chunk][fragment], not consulted on the short path
	FragmentPackedSizes [][]uint32           // [chunk][fragment], not consulted on the short path
	VersionID           uint32
	MaxDisksPerNode     uint32
	Timestamp           int64
}

// ManifestWithNamespaceId pairs a Manifest with the namespace_id used to
// build fragment keys on OSDs.
type ManifestWithNamespaceId struct {
	*Manifest
	NamespaceID uint32
}

// Location is the resolver's per-fragment output: one contiguous read
// window within a single fragment.
type Location struct {
	NamespaceID      uint32
	ObjectID         []byte
	ChunkID          uint32
	FragmentID       uint32
	FragmentLocation FragmentLocation
	Offset           uint32 // offset within the fragment (not the chunk)
	Length           uint32
}

// DecodeManifest parses a versioned, Snappy-compressed manifest blob: the
// outermost envelope is `version:u8 (=1), compressed_blob:bytes`; the blob
// is decompressed and then parsed in a fixed field order.
func DecodeManifest(msg []byte) (*Manifest, *Error) {
	outer := newDecoder(msg)
	version, ok := outer.u8()
	if !ok {
		return nil, newErr(KindCorruptFrame, "truncated manifest envelope")
	}
	if version != 1 {
		return nil, newErr(KindUnsupportedManifest, "unsupported envelope version")
	}
	compressed, ok := outer.bytesField()
	if !ok {
		return nil, newErr(KindCorruptFrame, "truncated compressed blob")
	}

	real, err := snappy.Decode(nil, compressed)
	if err != nil {
		return nil, newErr(KindCorruptFrame, "snappy decode failed: "+err.Error())
	}

	d := newDecoder(real)
	mf := &Manifest{}

	var ok2 bool
	if mf.Name, ok2 = d.stringField(); !ok2 {
		return nil, newErr(KindCorruptFrame, "truncated name")
	}
	if mf.ObjectID, ok2 = d.bytesField(); !ok2 {
		return nil, newErr(KindCorruptFrame, "truncated object_id")
	}
	if mf.ChunkSizes, ok2 = d.u32Seq(); !ok2 {
		return nil, newErr(KindCorruptFrame, "truncated chunk_sizes")
	}

	innerVersion, ok2 := d.u8()
	if !ok2 {
		return nil, newErr(KindCorruptFrame, "truncated inner version")
	}
	if innerVersion != 1 {
		return nil, newErr(KindUnsupportedManifest, "unsupported manifest version")
	}

	k, ok2 := d.u32()
	if !ok2 {
		return nil, newErr(KindCorruptFrame, "truncated encoding_scheme.k")
	}
	m, ok2 := d.u32()
	if !ok2 {
		return nil, newErr(KindCorruptFrame, "truncated encoding_scheme.m")
	}
	w, ok2 := d.u8()
	if !ok2 {
		return nil, newErr(KindCorruptFrame, "truncated encoding_scheme.w")
	}
	mf.EncodingScheme = EncodingScheme{K: k, M: m, W: w}
	if !mf.EncodingScheme.valid() {
		return nil, newErr(KindCorruptFrame, "encoding scheme: k must be >= 1")
	}

	if uerr := d.taggedUnion(func(tag uint8) *Error {
		switch CompressionKind(tag) {
		case CompressionNone, CompressionSnappy, CompressionBZip2:
			mf.Compression = CompressionKind(tag)
			return nil
		}
		return newErr(KindUnsupportedManifest, "unknown compression tag")
	}); uerr != nil {
		return nil, uerr
	}

	if uerr := d.taggedUnion(func(tag uint8) *Error {
		switch EncryptionKind(tag) {
		case EncryptionNone:
			mf.Encryption = EncryptionKind(tag)
			return nil
		}
		return newErr(KindUnsupportedManifest, "unknown encryption tag")
	}); uerr != nil {
		return nil, uerr
	}

	cs, cerr := decodeChecksum(d)
	if cerr != nil {
		return nil, cerr
	}
	mf.Checksum = cs

	size, ok2 := d.u64()
	if !ok2 {
		return nil, newErr(KindCorruptFrame, "truncated size")
	}
	mf.Size = size

	layoutTag1, ok2 := d.u8()
	if !ok2 || layoutTag1 != 1 {
		return nil, newErr(KindUnsupportedManifest, "unsupported fragment_locations layout_tag")
	}
	locs, kerr := decodeFragmentLocations(d)
	if kerr != nil {
		return nil, kerr
	}
	mf.FragmentLocations = locs

	layoutTag2, ok2 := d.u8()
	if !ok2 || layoutTag2 != 1 {
		return nil, newErr(KindUnsupportedManifest, "unsupported fragment_checksums layout_tag")
	}
	nChunks, ok2 := d.u32()
	if !ok2 {
		return nil, newErr(KindCorruptFrame, "truncated fragment_checksums chunk count")
	}
	mf.FragmentChecksums = make([][]Checksum, nChunks)
	for c := range mf.FragmentChecksums {
		nFrag, ok2 := d.u32()
		if !ok2 {
			return nil, newErr(KindCorruptFrame, "truncated fragment_checksums fragment count")
		}
		chunk := make([]Checksum, nFrag)
		for f := range chunk {
			cs, cerr := decodeChecksum(d)
			if cerr != nil {
				return nil, cerr
			}
			chunk[f] = cs
		}
		mf.FragmentChecksums[c] = chunk
	}

	layoutTag3, ok2 := d.u8()
	if !ok2 || layoutTag3 != 1 {
		return nil, newErr(KindUnsupportedManifest, "unsupported fragment_packed_sizes layout_tag")
	}
	packed, kerr := decodeFragmentPackedSizes(d)
	if kerr != nil {
		return nil, kerr
	}
	mf.FragmentPackedSizes = packed

	if mf.VersionID, ok2 = d.u32(); !ok2 {
		return nil, newErr(KindCorruptFrame, "truncated version_id")
	}
	if mf.MaxDisksPerNode, ok2 = d.u32(); !ok2 {
		return nil, newErr(KindCorruptFrame, "truncated max_disks_per_node")
	}
	ts, ok2 := d.u64()
	if !ok2 {
		return nil, newErr(KindCorruptFrame, "truncated timestamp")
	}
	mf.Timestamp = int64(ts)

	return mf, nil
}

// decodeChecksum reads one tagged checksum: ChecksumNone carries no
// payload, ChecksumSha1 a length-prefixed digest, ChecksumCrc32c a 4-byte
// word.
func decodeChecksum(d *decoder) (Checksum, *Error) {
	var cs Checksum
	err := d.taggedUnion(func(tag uint8) *Error {
		switch ChecksumKind(tag) {
		case ChecksumNone:
			cs.Kind = ChecksumNone
			return nil
		case ChecksumSha1:
			digest, ok := d.bytesField()
			if !ok {
				return newErr(KindCorruptFrame, "truncated sha1 digest")
			}
			cs = Checksum{Kind: ChecksumSha1, Digest: digest}
			return nil
		case ChecksumCrc32c:
			word, ok := d.take(4)
			if !ok {
				return newErr(KindCorruptFrame, "truncated crc32c word")
			}
			cs = Checksum{Kind: ChecksumCrc32c, Digest: append([]byte(nil), word...)}
			return nil
		}
		return newErr(KindUnsupportedManifest, "unknown checksum tag")
	})
	return cs, err
}

func decodeFragmentLocations(d *decoder) ([][]FragmentLocation, *Error) {
	nChunks, ok := d.u32()
	if !ok {
		return nil, newErr(KindCorruptFrame, "truncated fragment_locations chunk count")
	}
	out := make([][]FragmentLocation, nChunks)
	for c := range out {
		nFrag, ok := d.u32()
		if !ok {
			return nil, newErr(KindCorruptFrame, "truncated fragment_locations fragment count")
		}
		row := make([]FragmentLocation, nFrag)
		for f := range row {
			present, ok := d.u8()
			if !ok {
				return nil, newErr(KindCorruptFrame, "truncated fragment_location presence flag")
			}
			if present != 0 {
				osd, ok := d.u32()
				if !ok {
					return nil, newErr(KindCorruptFrame, "truncated fragment_location osd_id")
				}
				ver, ok := d.u32()
				if !ok {
					return nil, newErr(KindCorruptFrame, "truncated fragment_location version_id")
				}
				row[f] = FragmentLocation{Present: true, OsdID: osd, VersionID: ver}
			}
		}
		out[c] = row
	}
	return out, nil
}

func decodeFragmentPackedSizes(d *decoder) ([][]uint32, *Error) {
	nChunks, ok := d.u32()
	if !ok {
		return nil, newErr(KindCorruptFrame, "truncated fragment_packed_sizes chunk count")
	}
	out := make([][]uint32, nChunks)
	for c := range out {
		row, ok := d.u32Seq()
		if !ok {
			return nil, newErr(KindCorruptFrame, "truncated fragment_packed_sizes row")
		}
		out[c] = row
	}
	return out, nil
}

// acceptableForShortPath reports whether a manifest may be used for direct
// OSD reads: only uncompressed, unencrypted objects qualify.
func (mf *Manifest) acceptableForShortPath() bool {
	return mf.Compression == CompressionNone && mf.Encryption == EncryptionNone
}
