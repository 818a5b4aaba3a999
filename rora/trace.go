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
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jtolds/gls"
)

// Settings holds process-wide ambient knobs.
var Settings = struct {
	Trace bool
}{}

var glsMgr = gls.NewContextManager()

const batchIDKey = "rora_batch_id"

// tracef writes a trace line to stderr when Settings.Trace is set, tagged
// with the batch id of the calling goroutine tree if one was set via
// withBatchID.
func tracef(format string, args ...interface{}) {
	if !Settings.Trace {
		return
	}
	id, _ := glsMgr.GetValue(batchIDKey)
	prefix := "-"
	if s, ok := id.(string); ok {
		prefix = s
	}
	fmt.Fprintf(os.Stderr, "rora[%s]: %s\n", prefix, fmt.Sprintf(format, args...))
}

// logf always writes, regardless of Settings.Trace (operational events,
// not verbose tracing).
func logf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "rora: %s\n", fmt.Sprintf(format, args...))
}

// withBatchID runs f with id attached to the goroutine-local context, so
// every log line the executor writes for one batch carries the same batch
// id; the client's proxy-fallback line is written outside this scope and
// carries no id. gls values don't cross a plain `go` statement, so the
// executor's fan-out re-attaches the id inside each dispatched goroutine.
func withBatchID(id string, f func()) {
	glsMgr.SetValues(gls.Values{batchIDKey: id}, f)
}

var batchCounter = uint64(time.Now().UnixNano())

// newBatchID mints a fast, non-cryptographic trace id: an atomically
// incremented counter mixed with a timestamp, avoiding the entropy-pool
// stall a crypto-random UUID generator can hit under load. Batch ids only
// ever appear in log lines.
func newBatchID() uuid.UUID {
	ctr := atomic.AddUint64(&batchCounter, 1)
	now := uint64(time.Now().UnixNano())
	var b [16]byte
	binary.LittleEndian.PutUint64(b[0:8], ctr)
	binary.LittleEndian.PutUint64(b[8:16], ctr^now^(now<<17))
	b[6] = (b[6] & 0x0f) | 0x40
	b[8] = (b[8] & 0x3f) | 0x80
	return uuid.UUID(b)
}
