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

import "fmt"

// Slice is one (offset, length) window a caller wants read out of an
// object, writing into Target.
type Slice struct {
	Offset uint64
	Length uint32
	Target []byte
}

// ObjectSlices groups every requested slice for a single object.
type ObjectSlices struct {
	ObjectName string
	Slices     []Slice
}

// TargetedLocation pairs a resolved Location with the caller-supplied
// buffer it must land in.
type TargetedLocation struct {
	Target   []byte
	Location Location
}

// getLocation maps a single position to the fragment holding it: find the
// chunk pos falls in, compute the fragment within that chunk, and clip
// length to what remains of the fragment.
func getLocation(mf *ManifestWithNamespaceId, pos uint64, length uint32) (Location, *Error) {
	chunkIndex := -1
	var total uint64
	for total <= pos {
		chunkIndex++
		if chunkIndex >= len(mf.ChunkSizes) {
			return Location{}, newErr(KindOutOfRange, fmt.Sprintf("pos %d beyond object chunks", pos))
		}
		total += uint64(mf.ChunkSizes[chunkIndex])
	}

	if chunkIndex >= len(mf.FragmentLocations) {
		return Location{}, newErr(KindOutOfRange, "chunk index beyond fragment_locations")
	}
	chunkFragmentLocations := mf.FragmentLocations[chunkIndex]

	chunkSize := mf.ChunkSizes[chunkIndex]
	total -= uint64(chunkSize)
	if mf.EncodingScheme.K == 0 {
		return Location{}, newErr(KindCorruptFrame, "encoding scheme k is zero")
	}
	fragmentLength := chunkSize / mf.EncodingScheme.K
	if fragmentLength == 0 {
		return Location{}, newErr(KindCorruptFrame, "fragment length computed as zero")
	}
	posInChunk := uint32(pos - total)

	fragmentIndex := posInChunk / fragmentLength
	if int(fragmentIndex) >= len(chunkFragmentLocations) {
		return Location{}, newErr(KindOutOfRange, "fragment index beyond fragment_locations row")
	}
	loc := chunkFragmentLocations[fragmentIndex]

	total += uint64(fragmentLength) * uint64(fragmentIndex)
	posInFragment := uint32(pos - total)

	remaining := fragmentLength - posInFragment
	l := length
	if remaining < l {
		l = remaining
	}

	return Location{
		NamespaceID:      mf.NamespaceID,
		ObjectID:         mf.ObjectID,
		ChunkID:          uint32(chunkIndex),
		FragmentID:       fragmentIndex,
		FragmentLocation: loc,
		Offset:           posInFragment,
		Length:           l,
	}, nil
}

// resolveSliceOneLevel walks one requested slice end to end, emitting
// Locations until the whole slice is covered.
func resolveSliceOneLevel(mf *ManifestWithNamespaceId, offset uint64, length uint32, target []byte) ([]TargetedLocation, *Error) {
	results := make([]TargetedLocation, 0, 4)
	for length > 0 {
		loc, err := getLocation(mf, offset, length)
		if err != nil {
			return nil, err
		}
		results = append(results, TargetedLocation{Target: target, Location: loc})
		length -= loc.Length
		offset += uint64(loc.Length)
		target = target[loc.Length:]
	}
	return results, nil
}

// resolveOneLevel resolves every slice of an object against a single
// cached manifest; ManifestMiss on a cache miss.
func resolveOneLevel(cache *Cache, storeID StoreID, namespaceID uint32, objectName string, slices []Slice) ([]TargetedLocation, *Error) {
	mf := cache.Find(namespaceID, storeID, objectName)
	if mf == nil {
		return nil, newErr(KindManifestMiss, "no cached manifest for "+objectName)
	}

	results := make([]TargetedLocation, 0, len(slices))
	for _, s := range slices {
		part, err := resolveSliceOneLevel(mf, s.Offset, s.Length, s.Target)
		if err != nil {
			return nil, err
		}
		results = append(results, part...)
	}
	return results, nil
}

// resolveOneManyLevels recurses through a nested-store stack: it resolves
// against the manifest at albaLevels[level], and for every resulting
// Location that is not the final level, re-keys with the stripped
// inner-object name and resolves one more level deeper.
//
// Results are always built by appending onto a fresh, empty slice, never
// by pre-sizing a slice and then also appending to it, which leaves
// phantom zero entries in front of the real ones.
func resolveOneManyLevels(cache *Cache, albaLevels []StoreID, level int, namespaceID uint32, objSlices ObjectSlices) ([]TargetedLocation, *Error) {
	if level >= len(albaLevels) {
		return nil, newErr(KindManifestMiss, "no alba level to resolve against")
	}

	locations, err := resolveOneLevel(cache, albaLevels[level], namespaceID, objSlices.ObjectName, objSlices.Slices)
	if err != nil {
		return nil, err
	}

	if level+1 >= len(albaLevels) {
		return locations, nil
	}

	final := make([]TargetedLocation, 0, len(locations))
	for _, tl := range locations {
		l := tl.Location
		innerName := innerObjectName(l.ObjectID, l.ChunkID, l.FragmentID)
		inner := ObjectSlices{
			ObjectName: string(innerName),
			Slices: []Slice{{
				Offset: uint64(l.Offset),
				Length: l.Length,
				Target: tl.Target,
			}},
		}
		deeper, err := resolveOneManyLevels(cache, albaLevels, level+1, namespaceID, inner)
		if err != nil {
			return nil, err
		}
		final = append(final, deeper...)
	}
	return final, nil
}
