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
	"fmt"
	"sync"
	"time"

	"github.com/launix-de/NonLockingReadMap"
)

// OsdID identifies a storage daemon.
type OsdID uint32

// StoreID identifies one level of a (possibly nested) object store.
type StoreID string

func (s StoreID) String() string { return string(s) }

// OsdStatus discriminates a registered OSD's liveness. An OSD with no
// record at all is unknown — a map-miss, not a status value on a stored
// record — so this tag only distinguishes Known from Disqualified once a
// record exists.
type OsdStatus int

const (
	StatusKnown OsdStatus = iota
	StatusDisqualified
)

// OsdEndpoint is the dial information for one OSD connection.
type OsdEndpoint struct {
	Host   string
	Port   string
	LongID string // asserted against the handshake response; empty means "don't check"
}

type osdEntry struct {
	id                OsdID
	endpoint          OsdEndpoint
	status            OsdStatus
	disqualifiedUntil time.Time
}

// GetKey/ComputeSize must be value receivers: NonLockingReadMap is
// instantiated as NonLockingReadMap[osdEntry, OsdID], so KeyGetter[TK] is
// satisfied by osdEntry's value method set, not *osdEntry's.
func (e osdEntry) GetKey() OsdID     { return e.id }
func (e osdEntry) ComputeSize() uint { return 64 + uint(len(e.endpoint.Host)+len(e.endpoint.Port)+len(e.endpoint.LongID)) }

// ProxyOsdSource is what the registry's Update consults to refresh OSD
// connection info and the nested-store list; the proxy RPC protocol lives
// in its own client, so this is the narrow seam rora needs from it.
type ProxyOsdSource interface {
	OsdInfo() (map[OsdID]OsdEndpoint, error)
	AlbaLevels() ([]StoreID, error)
}

// Registry tracks OSD membership/liveness and the nested-store list. Safe
// for concurrent use.
type Registry struct {
	proxy            ProxyOsdSource
	disqualifyFor    time.Duration
	osds             NonLockingReadMap.NonLockingReadMap[osdEntry, OsdID]
	mu               sync.Mutex // guards albaLevels (cached-after-first-response)
	albaLevels       []StoreID
	albaLevelsCached bool
}

// NewRegistry builds a registry that disqualifies a failing OSD for
// disqualifyFor before retrying it again.
func NewRegistry(proxy ProxyOsdSource, disqualifyFor time.Duration) *Registry {
	return &Registry{
		proxy:         proxy,
		disqualifyFor: disqualifyFor,
		osds:          NonLockingReadMap.New[osdEntry, OsdID](),
	}
}

// IsUnknown reports whether osd has no record at all. A disqualified OSD
// is known, not unknown; the executor still skips I/O to it, but for a
// different reason (see IsAvailable).
func (r *Registry) IsUnknown(id OsdID) bool {
	return r.osds.Get(id) == nil
}

// IsAvailable reports whether osd may be dialed right now: it must have a
// record and either be Known or a disqualified record whose penalty window
// has elapsed, so a failed daemon is retried automatically.
func (r *Registry) IsAvailable(id OsdID) bool {
	e := r.osds.Get(id)
	if e == nil {
		return false
	}
	if e.status == StatusDisqualified && time.Now().Before(e.disqualifiedUntil) {
		return false
	}
	return true
}

// Endpoint returns the dial info for osd, or false if unknown.
func (r *Registry) Endpoint(id OsdID) (OsdEndpoint, bool) {
	e := r.osds.Get(id)
	if e == nil {
		return OsdEndpoint{}, false
	}
	return e.endpoint, true
}

// Disqualify marks osd as failed; it stays unavailable until the penalty
// interval passes.
func (r *Registry) Disqualify(id OsdID) {
	e := r.osds.Get(id)
	if e == nil {
		return
	}
	updated := *e
	updated.status = StatusDisqualified
	updated.disqualifiedUntil = time.Now().Add(r.disqualifyFor)
	r.osds.Set(&updated)
}

// Seed registers a static set of OSD endpoints without a round-trip to the
// proxy, so the registry has something to dial even before the first
// Update (New feeds it from Config.SeedOsds).
func (r *Registry) Seed(endpoints map[OsdID]OsdEndpoint) {
	for id, ep := range endpoints {
		if r.osds.Get(id) != nil {
			continue // never clobber a live/disqualified record with a stale seed
		}
		r.osds.Set(&osdEntry{id: id, endpoint: ep, status: StatusKnown})
	}
}

// GetAlbaLevels returns the ordered nested-store list, fetching and
// caching it on first call.
func (r *Registry) GetAlbaLevels() ([]StoreID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.albaLevelsCached {
		return r.albaLevels, nil
	}
	levels, err := r.proxy.AlbaLevels()
	if err != nil {
		return nil, fmt.Errorf("rora: fetching alba levels: %w", err)
	}
	r.albaLevels = levels
	r.albaLevelsCached = true
	return levels, nil
}

// Update re-reads OSD info via the proxy and merges it into the registry.
// An existing Disqualified status and its deadline are always preserved,
// since a refresh only tells us the OSD's address, not that it is suddenly
// healthy again.
func (r *Registry) Update() error {
	info, err := r.proxy.OsdInfo()
	if err != nil {
		return fmt.Errorf("rora: refreshing osd info: %w", err)
	}
	for id, ep := range info {
		existing := r.osds.Get(id)
		status := StatusKnown
		var until time.Time
		if existing != nil && existing.status == StatusDisqualified {
			status = existing.status
			until = existing.disqualifiedUntil
		}
		r.osds.Set(&osdEntry{id: id, endpoint: ep, status: status, disqualifiedUntil: until})
	}
	return nil
}
