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

	"github.com/google/btree"
	"github.com/launix-de/NonLockingReadMap"
)

// cacheKey addresses a cached manifest by namespace, nested-store id, and
// object name. The nested-store path reuses the same cache keyed by each
// level's StoreID in turn, never a separate cache per level.
type cacheKey struct {
	namespaceID uint32
	storeID     StoreID
	objectName  string
}

func (k cacheKey) String() string {
	return fmt.Sprintf("%d/%s/%s", k.namespaceID, k.storeID, k.objectName)
}

// cacheEntry is the value NonLockingReadMap stores. tick is a monotonic
// recency counter: it orders the btree used for eviction, set at Add time
// and bumped on every Find hit so eviction order is true LRU rather than
// insertion order. Bumping tick never touches mf,
// which stays immutable once published, so it is safe to mutate under the
// cache's own lock even while other goroutines hold a reference to this
// entry's manifest.
type cacheEntry struct {
	key  string
	mf   *ManifestWithNamespaceId
	size uint
	tick uint64
}

// GetKey/ComputeSize must be value receivers: NonLockingReadMap is
// instantiated as NonLockingReadMap[cacheEntry, string], so KeyGetter[TK]
// is satisfied by cacheEntry's value method set, not *cacheEntry's.
func (e cacheEntry) GetKey() string    { return e.key }
func (e cacheEntry) ComputeSize() uint { return e.size }

// cacheTick is the btree element used purely for eviction ordering: the
// least recently added or found entry sorts first.
type cacheTick struct {
	tick uint64
	key  string
}

func tickLess(a, b cacheTick) bool {
	if a.tick != b.tick {
		return a.tick < b.tick
	}
	return a.key < b.key
}

// Cache is the namespace-scoped, capacity-bounded manifest cache. Capacity
// is an entry count, not a byte budget. It is safe for concurrent use;
// writes take an internal lock to keep the NonLockingReadMap and the
// eviction btree consistent with each other (the map itself is already
// lock-free on its own, but the pair needs to move together), and Find
// takes the same lock only to reposition its entry's recency tick on a hit.
type Cache struct {
	capacity uint // entry count
	mu       sync.Mutex
	size     uint // current entry count
	tick     uint64
	tree     *btree.BTreeG[cacheTick]
	entries  NonLockingReadMap.NonLockingReadMap[cacheEntry, string]
}

// NewCache builds a manifest cache bounded to capacity entries.
func NewCache(capacity uint) *Cache {
	return &Cache{
		capacity: capacity,
		tree:     btree.NewG[cacheTick](32, tickLess),
		entries:  NonLockingReadMap.New[cacheEntry, string](),
	}
}

// Find returns the cached manifest for (namespaceID, storeID, objectName),
// or nil if absent. A hit touches the entry's recency.
func (c *Cache) Find(namespaceID uint32, storeID StoreID, objectName string) *ManifestWithNamespaceId {
	k := cacheKey{namespaceID, storeID, objectName}.String()
	e := c.entries.Get(k)
	if e == nil {
		return nil
	}
	c.touch(k, e.tick)
	return e.mf
}

// touch bumps the recency tick of the entry at k so the LRU-ordering btree
// reflects this access, making eviction true least-recently-used instead of
// insertion-order. It only moves the bookkeeping tick, never the manifest
// itself, which stays immutable and safe for any holder that already
// captured it.
func (c *Cache) touch(k string, oldTick uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.entries.Get(k)
	if e == nil || e.tick != oldTick {
		return // evicted, or already touched again since the caller's read
	}

	c.tick++
	updated := *e
	updated.tick = c.tick
	c.tree.Delete(cacheTick{oldTick, k})
	c.entries.Set(&updated)
	c.tree.ReplaceOrInsert(cacheTick{updated.tick, k})
}

// Add inserts or replaces the cached manifest under
// (namespaceID, storeID, objectName). The admission filter is enforced
// here in addition to whatever the caller already checked: only
// Compression=None, Encryption=None manifests are cacheable on the short
// path.
func (c *Cache) Add(namespaceID uint32, storeID StoreID, objectName string, mf *ManifestWithNamespaceId) {
	if mf == nil || mf.Manifest == nil || !mf.acceptableForShortPath() {
		return
	}
	k := cacheKey{namespaceID, storeID, objectName}.String()
	size := estimateManifestSize(mf.Manifest)

	c.mu.Lock()
	defer c.mu.Unlock()

	if old := c.entries.Get(k); old != nil {
		c.tree.Delete(cacheTick{old.tick, k})
		c.size--
	}

	c.tick++
	entry := &cacheEntry{key: k, mf: mf, size: size, tick: c.tick}
	c.entries.Set(entry)
	c.tree.ReplaceOrInsert(cacheTick{entry.tick, k})
	c.size++

	c.evictLocked()
}

// InvalidateNamespace drops every cached manifest for namespaceID: used
// after a write the short path cannot see, forcing the next read to
// refetch through the proxy.
func (c *Cache) InvalidateNamespace(namespaceID uint32) {
	prefix := fmt.Sprintf("%d/", namespaceID)

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, e := range c.entries.GetAll() {
		if len(e.key) >= len(prefix) && e.key[:len(prefix)] == prefix {
			c.entries.Remove(e.key)
			c.tree.Delete(cacheTick{e.tick, e.key})
			c.size--
		}
	}
}

// SetCapacity changes the entry-count budget and evicts immediately if the
// cache is now over budget.
func (c *Cache) SetCapacity(capacity uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.capacity = capacity
	c.evictLocked()
}

// evictLocked drops the least-recently-used entries until the cache is
// back within its entry-count budget. Caller must hold c.mu.
func (c *Cache) evictLocked() {
	for c.size > c.capacity {
		var oldest cacheTick
		found := false
		c.tree.Ascend(func(t cacheTick) bool {
			oldest = t
			found = true
			return false // first element only
		})
		if !found {
			break
		}
		if c.entries.Get(oldest.key) != nil {
			c.entries.Remove(oldest.key)
			c.size--
		}
		c.tree.Delete(oldest)
	}
}

// Stats reports a point-in-time snapshot for diagnostics. Bytes is an
// informational estimate of total manifest footprint; it plays no part in
// capacity enforcement, which is purely entry-count based.
type CacheStats struct {
	Entries int
	Bytes   uint
	Budget  uint
}

func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	var bytes uint
	for _, e := range c.entries.GetAll() {
		bytes += e.size
	}
	return CacheStats{Entries: int(c.size), Bytes: bytes, Budget: c.capacity}
}

// estimateManifestSize approximates the heap footprint of a decoded
// manifest for Stats() reporting only (ManifestCacheEntries converts a
// byte budget with avgManifestFootprintBytes instead); it does not need
// to be exact, only monotonic in the manifest's actual fragment/chunk
// counts.
func estimateManifestSize(mf *Manifest) uint {
	sz := uint(128) + uint(len(mf.Name)) + uint(len(mf.ObjectID)) + uint(len(mf.Checksum.Digest))
	sz += uint(len(mf.ChunkSizes)) * 4
	for _, row := range mf.FragmentLocations {
		sz += uint(len(row)) * 16
	}
	for _, row := range mf.FragmentChecksums {
		for _, cs := range row {
			sz += 1 + uint(len(cs.Digest))
		}
	}
	for _, row := range mf.FragmentPackedSizes {
		sz += uint(len(row)) * 4
	}
	return sz
}
