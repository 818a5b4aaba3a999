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
	"golang.org/x/sync/errgroup"
)

// Executor groups resolved locations by OSD and dispatches fragment reads
// in parallel.
type Executor struct {
	registry  *Registry
	pool      *OsdPool
	useNullIO bool
}

// NewExecutor wires an executor against the given registry and pool.
// useNullIO makes Run report success without touching the network, for
// benchmarking.
func NewExecutor(registry *Registry, pool *OsdPool, useNullIO bool) *Executor {
	return &Executor{registry: registry, pool: pool, useNullIO: useNullIO}
}

// Run executes every targeted location, grouped by OSD. Every location
// must carry a present fragment_location; the caller is responsible for
// routing any object with a missing location to the proxy before calling
// Run.
//
// Returns nil only if every OSD succeeded and filled every target;
// otherwise returns the first error encountered.
func (ex *Executor) Run(locations []TargetedLocation) *Error {
	batchID := newBatchID().String()

	var result *Error
	withBatchID(batchID, func() {
		result = ex.run(batchID, locations)
	})
	return result
}

func (ex *Executor) run(batchID string, locations []TargetedLocation) *Error {
	tracef("executor: dispatching %d locations", len(locations))

	perOsd := make(map[OsdID][]AsdSlice)
	order := make([]OsdID, 0, 4)
	for _, tl := range locations {
		l := tl.Location
		if !l.FragmentLocation.Present {
			return newErr(KindManifestMiss, "location has no fragment placement")
		}
		osd := OsdID(l.FragmentLocation.OsdID)
		key := fragmentKey(l.NamespaceID, l.ObjectID, l.FragmentLocation.VersionID, l.ChunkID, l.FragmentID)
		slice := AsdSlice{Key: key, Offset: l.Offset, Length: l.Length, Target: tl.Target}
		if _, ok := perOsd[osd]; !ok {
			order = append(order, osd)
		}
		perOsd[osd] = append(perOsd[osd], slice)
	}

	if err := ex.maybeUpdateOsdInfos(order); err != nil {
		tracef("executor: registry refresh failed: %v", err)
	}
	for _, osd := range order {
		if ex.registry.IsUnknown(osd) {
			return newErr(KindTransportClosed, "osd still unknown after registry refresh")
		}
	}

	if ex.useNullIO {
		tracef("executor: use_null_io, skipping network dispatch")
		return nil
	}

	g := new(errgroup.Group)
	for _, osd := range order {
		osd := osd
		slices := perOsd[osd]
		g.Go(func() error {
			if !ex.registry.IsAvailable(osd) {
				// no I/O attempted, so no Disqualify here: re-penalizing on
				// every routed read would keep extending the window and the
				// OSD could never requalify.
				return newErr(KindTransportClosed, "osd disqualified")
			}
			var callErr *Error
			// errgroup spawns a plain goroutine, which does not inherit
			// gls-scoped values; re-attach the batch id explicitly.
			withBatchID(batchID, func() {
				// one request per fragment key on this OSD; the wire
				// protocol's partial_get carries exactly one key, so distinct
				// fragments need their own request even on the same socket.
				for _, s := range groupByKey(slices) {
					if err := ex.pool.PartialGet(osd, s.Key, s.slices); err != nil {
						callErr = err
						return
					}
				}
			})
			if callErr != nil {
				switch callErr.Kind {
				case KindTimeout, KindTransportClosed, KindWrongOsd:
					ex.registry.Disqualify(osd)
				}
				return callErr
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if kerr, ok := err.(*Error); ok {
			return kerr
		}
		return newErr(KindTransportClosed, err.Error())
	}
	return nil
}

// maybeUpdateOsdInfos refreshes the registry once if any addressed OSD is
// unknown.
func (ex *Executor) maybeUpdateOsdInfos(osds []OsdID) error {
	for _, osd := range osds {
		if ex.registry.IsUnknown(osd) {
			return ex.registry.Update()
		}
	}
	return nil
}

type keyedSlices struct {
	Key    []byte
	slices []AsdSlice
}

// groupByKey splits an OSD's slices back out by fragment key: distinct
// fragments on the same OSD still need their own partial_get, since the
// wire protocol's request carries exactly one key.
func groupByKey(slices []AsdSlice) []keyedSlices {
	var out []keyedSlices
	for _, s := range slices {
		found := false
		for i := range out {
			if string(out[i].Key) == string(s.Key) {
				out[i].slices = append(out[i].slices, s)
				found = true
				break
			}
		}
		if !found {
			out = append(out, keyedSlices{Key: s.Key, slices: []AsdSlice{s}})
		}
	}
	return out
}
