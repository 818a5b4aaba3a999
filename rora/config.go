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
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/docker/go-units"
	"github.com/fsnotify/fsnotify"
)

// Config is the JSON-decodable configuration surface recognized by rora.
type Config struct {
	// ManifestCacheSize is the manifest cache's capacity. It accepts
	// either a bare entry-count number directly, or a human-readable byte
	// budget string ("256MB"), converted to an approximate entry count.
	ManifestCacheSize json.RawMessage `json:"manifest_cache_size"`
	UseNullIO         bool            `json:"use_null_io"`
	RequestTimeoutMS  int64           `json:"request_timeout_ms"`
	DisqualifyForMS   int64           `json:"disqualify_for_ms"`

	SeedOsds map[string]OsdEndpointConfig `json:"seed_osds"`
}

// OsdEndpointConfig is the JSON shape of one seed OSD entry.
type OsdEndpointConfig struct {
	Host   string `json:"host"`
	Port   string `json:"port"`
	LongID string `json:"long_id,omitempty"`
}

// avgManifestFootprintBytes is the assumed average in-memory footprint of
// one cached manifest, used only to translate a human-readable byte-budget
// string into the entry count the cache actually enforces capacity in. It
// is a coarse approximation, not a measured value: a byte-budget string is
// a convenience for operators who think in memory terms, not an alternate
// capacity unit the cache itself understands.
const avgManifestFootprintBytes = 256

// ManifestCacheEntries resolves ManifestCacheSize to the manifest cache's
// entry-count capacity: a bare JSON number is read directly as entries, a
// JSON string is parsed with go-units' human-readable byte-size grammar
// ("256MB", "1GiB", ...) and divided down to an approximate entry count.
func (c Config) ManifestCacheEntries() (uint, error) {
	if len(c.ManifestCacheSize) == 0 {
		return 4096, nil // default when unset
	}
	var n int64
	if err := json.Unmarshal(c.ManifestCacheSize, &n); err == nil {
		if n < 0 {
			n = 0
		}
		return uint(n), nil
	}
	var s string
	if err := json.Unmarshal(c.ManifestCacheSize, &s); err != nil {
		return 0, fmt.Errorf("rora: manifest_cache_size must be a number or a size string: %w", err)
	}
	bytes, err := units.RAMInBytes(s)
	if err != nil {
		return 0, fmt.Errorf("rora: manifest_cache_size %q: %w", s, err)
	}
	entries := uint(bytes) / avgManifestFootprintBytes
	if entries == 0 {
		entries = 1
	}
	return entries, nil
}

func (c Config) requestTimeout() time.Duration {
	if c.RequestTimeoutMS <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.RequestTimeoutMS) * time.Millisecond
}

func (c Config) disqualifyFor() time.Duration {
	if c.DisqualifyForMS <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.DisqualifyForMS) * time.Millisecond
}

// LoadConfig reads and decodes a Config from a JSON file.
func LoadConfig(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, err
	}
	defer f.Close()
	var cfg Config
	if err := json.NewDecoder(f).Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("rora: decoding config %s: %w", path, err)
	}
	return cfg, nil
}

// WatchConfig watches path for changes and invokes onChange with the
// freshly decoded Config on every write or create. It only decodes and
// delivers the Config; the timeouts and seed OSDs of an existing Client
// are fixed at New. The returned stop func closes the watcher; callers
// should defer it.
func WatchConfig(path string, onChange func(Config)) (stop func(), err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("rora: creating config watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("rora: watching config %s: %w", path, err)
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					cfg, err := LoadConfig(path)
					if err != nil {
						logf("config reload failed: %v", err)
						continue
					}
					onChange(cfg)
				}
			case werr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logf("config watcher error: %v", werr)
			case <-done:
				return
			}
		}
	}()

	return func() {
		close(done)
		watcher.Close()
	}, nil
}
