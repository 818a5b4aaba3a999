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

	"github.com/dc0d/onexit"
)

// Consistency selects between a strict, proxy-only read and a relaxed read
// that may take the short path.
type Consistency int

const (
	ConsistencyRelaxed Consistency = iota
	ConsistencyStrict
)

// ObjectInfo is what the proxy returns per object on a read, carrying an
// optional manifest the client ingests into its cache.
type ObjectInfo struct {
	ObjectName  string
	StoreID     StoreID
	NamespaceID uint32
	Manifest    *Manifest // nil if the proxy didn't attach one (e.g. a write ack)
}

// SequenceAssert is a precondition checked by the proxy before a sequence
// of updates is applied: the named object must (not) exist.
type SequenceAssert struct {
	ObjectName   string
	MustNotExist bool
}

// SequenceUpdate is one mutation in a proxy-applied sequence. InputFile
// names a local file whose contents become the object; the proxy reads it
// and owns chunking, encoding, and placement.
type SequenceUpdate struct {
	ObjectName string
	InputFile  string
	Checksum   *Checksum // optional; nil lets the proxy compute its own
}

// ProxyClient is the narrow interface rora needs from the proxy RPC
// collaborator, whose protocol lives in its own client: reads for
// fallback/ingestion, and every non-read operation delegated unchanged.
type ProxyClient interface {
	ReadObjectsSlices(namespace string, slices []ObjectSlices, consistent Consistency) ([]ObjectInfo, error)
	ApplySequence(namespace string, asserts []SequenceAssert, updates []SequenceUpdate) ([]ObjectInfo, error)
	GetObjectInfo(namespace, objectName string, consistent Consistency) (uint64, error)
	ListObjects(namespace, first string, max int) ([]string, bool, error)
	DeleteObject(namespace, objectName string) error
	InvalidateCache(namespace string) error
	Ping(delay float64) (float64, error)

	ProxyOsdSource
}

// Client is the public, front-facing API. It owns its own
// cache/registry/pool instances; there is no process-wide singleton, so a
// process that wants one shared accelerator simply builds one Client and
// shares it.
type Client struct {
	proxy    ProxyClient
	cache    *Cache
	registry *Registry
	pool     *OsdPool
	executor *Executor

	cancelOnExit func()
}

// New wires the manifest cache, OSD registry, client pool, and executor
// behind a Client.
func New(cfg Config, proxy ProxyClient) (*Client, error) {
	cacheCapacity, err := cfg.ManifestCacheEntries()
	if err != nil {
		return nil, err
	}

	cache := NewCache(cacheCapacity)
	registry := NewRegistry(proxy, cfg.disqualifyFor())
	for id, ep := range cfg.SeedOsds {
		registry.Seed(map[OsdID]OsdEndpoint{
			osdIDFromConfigKey(id): {Host: ep.Host, Port: ep.Port, LongID: ep.LongID},
		})
	}
	pool := NewOsdPool(registry, cfg.requestTimeout())
	executor := NewExecutor(registry, pool, cfg.UseNullIO)

	c := &Client{
		proxy:    proxy,
		cache:    cache,
		registry: registry,
		pool:     pool,
		executor: executor,
	}

	onexit.Register(func() {
		pool.Close()
	})

	return c, nil
}

func osdIDFromConfigKey(key string) OsdID {
	var id uint32
	for _, r := range key {
		if r < '0' || r > '9' {
			return OsdID(id)
		}
		id = id*10 + uint32(r-'0')
	}
	return OsdID(id)
}

// ReadObjectsSlices is the main entry point: strict consistency always
// goes to the proxy. Under relaxed consistency, objects whose manifest is
// missing or that touch an unplaced fragment are sent to the proxy, and the
// rest take the short path; if the short path fails, the entire batch is
// re-issued through the proxy, so no object mixes short-path and proxy
// results.
func (c *Client) ReadObjectsSlices(namespace string, namespaceID uint32, slices []ObjectSlices, consistency Consistency) error {
	if consistency == ConsistencyStrict {
		infos, err := c.proxy.ReadObjectsSlices(namespace, slices, consistency)
		if err != nil {
			return err
		}
		c.ingest(namespaceID, infos)
		return nil
	}

	albaLevels, lerr := c.registry.GetAlbaLevels()
	if lerr != nil || len(albaLevels) == 0 {
		return c.proxyFallback(namespace, namespaceID, slices, consistency)
	}

	var shortPath []TargetedLocation
	var viaProxy []ObjectSlices

	for _, obj := range slices {
		locations, err := resolveOneManyLevels(c.cache, albaLevels, 0, namespaceID, obj)
		if err != nil || anyMissingLocation(locations) {
			viaProxy = append(viaProxy, obj)
			continue
		}
		shortPath = append(shortPath, locations...)
	}

	if len(shortPath) > 0 {
		if err := c.runShortPath(shortPath); err != nil {
			tracef("short path failed, falling back to proxy: %v", err)
			viaProxy = slices // the entire batch, never a per-object mix
		}
	}

	if len(viaProxy) == 0 {
		return nil
	}
	return c.proxyFallback(namespace, namespaceID, viaProxy, consistency)
}

// runShortPath never lets a panic from the executor escape: it is
// recovered here and folded into an ordinary *Error that triggers proxy
// fallback. Resolution runs before this call and is not covered.
func (c *Client) runShortPath(locations []TargetedLocation) (err *Error) {
	defer func() {
		if r := recover(); r != nil {
			err = newErr(KindTransportClosed, fmt.Sprintf("short path panic recovered: %v", r))
		}
	}()
	return c.executor.Run(locations)
}

func anyMissingLocation(locations []TargetedLocation) bool {
	for _, l := range locations {
		if !l.Location.FragmentLocation.Present {
			return true
		}
	}
	return false
}

func (c *Client) proxyFallback(namespace string, namespaceID uint32, slices []ObjectSlices, consistency Consistency) error {
	infos, err := c.proxy.ReadObjectsSlices(namespace, slices, consistency)
	if err != nil {
		return err
	}
	c.ingest(namespaceID, infos)
	return nil
}

// ingest feeds proxy-returned manifests into the cache, subject to the
// admission filter.
func (c *Client) ingest(namespaceID uint32, infos []ObjectInfo) {
	for _, info := range infos {
		if info.Manifest == nil {
			continue
		}
		mwn := &ManifestWithNamespaceId{Manifest: info.Manifest, NamespaceID: namespaceID}
		c.cache.Add(namespaceID, info.StoreID, info.ObjectName, mwn)
	}
}

// ApplySequence delegates to the proxy and ingests any manifests returned
// as side information.
func (c *Client) ApplySequence(namespace string, namespaceID uint32, asserts []SequenceAssert, updates []SequenceUpdate) error {
	infos, err := c.proxy.ApplySequence(namespace, asserts, updates)
	if err != nil {
		return err
	}
	c.ingest(namespaceID, infos)
	return nil
}

// WriteObject uploads inputFile as objectName through the proxy, composed
// as a one-update sequence with an existence assert when overwrite is
// forbidden. Writes never take the short path; the manifest the proxy
// returns for the fresh object is ingested so a subsequent relaxed read
// can.
func (c *Client) WriteObject(namespace string, namespaceID uint32, objectName, inputFile string, allowOverwrite bool) error {
	var asserts []SequenceAssert
	if !allowOverwrite {
		asserts = append(asserts, SequenceAssert{ObjectName: objectName, MustNotExist: true})
	}
	updates := []SequenceUpdate{{ObjectName: objectName, InputFile: inputFile}}
	return c.ApplySequence(namespace, namespaceID, asserts, updates)
}

func (c *Client) GetObjectInfo(namespace, objectName string, consistency Consistency) (uint64, error) {
	return c.proxy.GetObjectInfo(namespace, objectName, consistency)
}

func (c *Client) ListObjects(namespace, first string, max int) ([]string, bool, error) {
	return c.proxy.ListObjects(namespace, first, max)
}

func (c *Client) DeleteObject(namespace, objectName string) error {
	return c.proxy.DeleteObject(namespace, objectName)
}

// InvalidateCache drops every cached manifest for namespace, then forwards
// to the proxy.
func (c *Client) InvalidateCache(namespace string, namespaceID uint32) error {
	c.cache.InvalidateNamespace(namespaceID)
	return c.proxy.InvalidateCache(namespace)
}

func (c *Client) Ping(delay float64) (float64, error) {
	return c.proxy.Ping(delay)
}

// Close tears down the OSD pool. The onexit hook registered by New is not
// removed; at process exit it closes the (already empty) pool again.
func (c *Client) Close() error {
	if c.cancelOnExit != nil {
		c.cancelOnExit()
	}
	c.pool.Close()
	return nil
}
