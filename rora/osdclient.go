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
	"bufio"
	"encoding/binary"
	"io"
	"net"
	"sync"
	"time"

	"github.com/ulikunitz/xz"
)

// AsdSlice is one sub-range of a fragment to read, bound to the caller's
// target buffer.
type AsdSlice struct {
	Key    []byte
	Offset uint32
	Length uint32
	Target []byte
}

// Operation codes of the OSD wire protocol. A fragment read carries the
// opcode, the fragment key, and a homogeneous sequence of
// (u64 offset, u32 length) sub-ranges.
const (
	opGetVersion  uint8 = 1
	opPartialGet  uint8 = 2
	opSetSlowness uint8 = 3
)

// OsdVersion is the handshake's version tuple.
type OsdVersion struct {
	Major  uint32
	Minor  uint32
	Patch  uint32
	Commit string
}

// Slowness asks an OSD to artificially delay its replies, for fault
// injection in tests and benchmarks: a fixed per-reply delay plus a
// per-byte component, both in seconds.
type Slowness struct {
	Fixed   float64
	PerByte float64
}

// osdClient is a persistent, per-OSD TCP client. One in-flight request at
// a time; the executor gets parallelism by using distinct osdClients
// concurrently, not by pipelining one connection.
type osdClient struct {
	endpoint OsdEndpoint

	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader

	trace *traceRecorder // nil unless WithTraceRecorder was configured
}

func newOsdClient(endpoint OsdEndpoint) *osdClient {
	return &osdClient{endpoint: endpoint}
}

func (c *osdClient) dial(timeout time.Duration) *Error {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(c.endpoint.Host, c.endpoint.Port), timeout)
	if err != nil {
		return newErr(KindTransportClosed, "dial "+c.endpoint.Host+":"+c.endpoint.Port+": "+err.Error())
	}
	c.conn = conn
	c.reader = bufio.NewReader(conn)
	return nil
}

func (c *osdClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropConn()
}

// dropConn closes and forgets the socket so the next call reconnects.
// Caller must hold c.mu.
func (c *osdClient) dropConn() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
		c.reader = nil
	}
}

// ensureConnected dials and performs the version handshake if not already
// connected: the client sends a version request and, if the OSD reports a
// long_id, asserts it matches the configured one.
func (c *osdClient) ensureConnected(timeout time.Duration) *Error {
	if c.conn != nil {
		return nil
	}
	if err := c.dial(timeout); err != nil {
		return err
	}
	_, longID, err := c.getVersionLocked(timeout)
	if err != nil {
		c.dropConn()
		return err
	}
	if c.endpoint.LongID != "" && longID != "" && longID != c.endpoint.LongID {
		c.dropConn()
		return newErr(KindWrongOsd, "handshake long_id mismatch: want "+c.endpoint.LongID+" got "+longID)
	}
	return nil
}

// getVersionLocked issues the version request; the reply carries
// (major, minor, patch, commit_string) and optionally a long_id string.
// Caller must hold c.mu and have a live conn.
func (c *osdClient) getVersionLocked(timeout time.Duration) (OsdVersion, string, *Error) {
	e := &encoder{}
	e.putU8(opGetVersion)
	if err := c.writeFrame(timeout, e.bytes()); err != nil {
		return OsdVersion{}, "", err
	}
	body, err := c.readFrame(timeout)
	if err != nil {
		return OsdVersion{}, "", err
	}
	d := newDecoder(body)
	status, ok := d.u32()
	if !ok {
		return OsdVersion{}, "", newErr(KindCorruptFrame, "truncated version response")
	}
	if status != 0 {
		return OsdVersion{}, "", newOsdErr(status)
	}
	var v OsdVersion
	if v.Major, ok = d.u32(); !ok {
		return OsdVersion{}, "", newErr(KindCorruptFrame, "truncated version response")
	}
	if v.Minor, ok = d.u32(); !ok {
		return OsdVersion{}, "", newErr(KindCorruptFrame, "truncated version response")
	}
	if v.Patch, ok = d.u32(); !ok {
		return OsdVersion{}, "", newErr(KindCorruptFrame, "truncated version response")
	}
	if v.Commit, ok = d.stringField(); !ok {
		return OsdVersion{}, "", newErr(KindCorruptFrame, "truncated version response")
	}
	longID, _ := d.stringField() // optional; absence just means no assertion
	return v, longID, nil
}

// GetVersion issues the administrative version request outside the
// handshake.
func (c *osdClient) GetVersion(timeout time.Duration) (OsdVersion, *Error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureConnected(timeout); err != nil {
		return OsdVersion{}, err
	}
	v, _, err := c.getVersionLocked(timeout)
	if err != nil {
		c.dropConn()
	}
	return v, err
}

// SetSlowness tells the OSD to delay its replies; nil disables any
// configured delay. Administrative, never on the read path. The payload is
// a tagged option of the two delay components.
func (c *osdClient) SetSlowness(s *Slowness, timeout time.Duration) *Error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureConnected(timeout); err != nil {
		return err
	}
	e := &encoder{}
	e.putU8(opSetSlowness)
	if s == nil {
		e.putU8(0)
	} else {
		e.putU8(1)
		e.putF64(s.Fixed)
		e.putF64(s.PerByte)
	}
	if err := c.writeFrame(timeout, e.bytes()); err != nil {
		c.dropConn()
		return err
	}
	body, err := c.readFrame(timeout)
	if err != nil {
		c.dropConn()
		return err
	}
	d := newDecoder(body)
	status, ok := d.u32()
	if !ok {
		return newErr(KindCorruptFrame, "truncated set_slowness response")
	}
	if status != 0 {
		return newOsdErr(status)
	}
	return nil
}

// PartialGet issues a single request carrying the fragment key and a
// vector of (offset, length) sub-ranges, and scatters the reply payload
// into each slice's Target in request order.
func (c *osdClient) PartialGet(key []byte, slices []AsdSlice, timeout time.Duration) *Error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureConnected(timeout); err != nil {
		return err
	}

	e := &encoder{}
	e.putU8(opPartialGet)
	e.putBytesField(key)
	e.putU32(uint32(len(slices)))
	for _, s := range slices {
		e.putU64(uint64(s.Offset))
		e.putU32(s.Length)
	}
	req := e.bytes()
	if c.trace != nil {
		c.trace.record(req)
	}
	if err := c.writeFrame(timeout, req); err != nil {
		c.dropConn()
		return err
	}

	body, err := c.readFrame(timeout)
	if err != nil {
		c.dropConn()
		return err
	}

	d := newDecoder(body)
	status, ok := d.u32()
	if !ok {
		return newErr(KindCorruptFrame, "truncated partial_get response")
	}
	if status != 0 {
		return newOsdErr(status)
	}
	for _, s := range slices {
		payload, ok := d.take(int(s.Length))
		if !ok {
			return newErr(KindCorruptFrame, "truncated partial_get payload")
		}
		copy(s.Target, payload)
	}
	return nil
}

// writeFrame sends length:u32 | body under the given per-call deadline;
// expiry fails the call with Timeout and the caller drops the socket.
func (c *osdClient) writeFrame(timeout time.Duration, body []byte) *Error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return newErr(KindTransportClosed, err.Error())
	}
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := c.conn.Write(lenBuf[:]); err != nil {
		return classifyIOError(err)
	}
	if _, err := c.conn.Write(body); err != nil {
		return classifyIOError(err)
	}
	return nil
}

func (c *osdClient) readFrame(timeout time.Duration) ([]byte, *Error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, newErr(KindTransportClosed, err.Error())
	}
	var lenBuf [4]byte
	if _, err := io.ReadFull(c.reader, lenBuf[:]); err != nil {
		return nil, classifyIOError(err)
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	body := make([]byte, n)
	if _, err := io.ReadFull(c.reader, body); err != nil {
		return nil, classifyIOError(err)
	}
	return body, nil
}

func classifyIOError(err error) *Error {
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return newErr(KindTimeout, err.Error())
	}
	return newErr(KindTransportClosed, err.Error())
}

// traceRecorder tees every partial_get request frame through an
// xz-compressed pipe for offline replay: an io.Pipe drained into dst by a
// goroutine, fed through a buffered xz writer. Version and set_slowness
// requests are not recorded. Off by default.
type traceRecorder struct {
	writer *io.PipeWriter
	zip    *xz.Writer
	bw     *bufio.Writer
}

// newTraceRecorder compresses every recorded frame into dst via xz,
// flushing on Close.
func newTraceRecorder(dst io.Writer) (*traceRecorder, error) {
	pr, pw := io.Pipe()
	bw := bufio.NewWriterSize(pw, 16*1024)
	zip, err := xz.NewWriter(bw)
	if err != nil {
		return nil, err
	}
	go func() {
		io.Copy(dst, pr)
	}()
	return &traceRecorder{writer: pw, zip: zip, bw: bw}, nil
}

func (t *traceRecorder) record(frame []byte) {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(frame)))
	t.zip.Write(lenBuf[:])
	t.zip.Write(frame)
}

func (t *traceRecorder) Close() error {
	t.zip.Close()
	t.bw.Flush()
	return t.writer.Close()
}

// OsdPool lazily creates and retains one long-lived osdClient per OsdID.
type OsdPool struct {
	registry *Registry
	timeout  time.Duration

	mu      sync.RWMutex
	clients map[OsdID]*osdClient

	traceDst io.Writer // optional; see WithTraceRecorder
}

// NewOsdPool builds a pool backed by registry for endpoint lookups, with
// timeout bounding every OSD I/O call.
func NewOsdPool(registry *Registry, timeout time.Duration) *OsdPool {
	return &OsdPool{
		registry: registry,
		timeout:  timeout,
		clients:  make(map[OsdID]*osdClient),
	}
}

// WithTraceRecorder attaches an xz-compressed recorder of every
// partial_get request frame dispatched through this pool to dst, for
// offline replay or benchmarking capture. It applies only to OSD clients
// created after the call. Off by default.
func (p *OsdPool) WithTraceRecorder(dst io.Writer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.traceDst = dst
}

func (p *OsdPool) get(id OsdID) (*osdClient, *Error) {
	p.mu.RLock()
	c, ok := p.clients[id]
	p.mu.RUnlock()
	if ok {
		return c, nil
	}

	endpoint, ok := p.registry.Endpoint(id)
	if !ok {
		return nil, newErr(KindTransportClosed, "no endpoint known for osd")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.clients[id]; ok {
		return c, nil
	}
	c = newOsdClient(endpoint)
	if p.traceDst != nil {
		if rec, err := newTraceRecorder(p.traceDst); err == nil {
			c.trace = rec
		}
	}
	p.clients[id] = c
	return c, nil
}

// PartialGet dispatches a single fragment read to the OSD client for id.
func (p *OsdPool) PartialGet(id OsdID, key []byte, slices []AsdSlice) *Error {
	c, err := p.get(id)
	if err != nil {
		return err
	}
	return c.PartialGet(key, slices, p.timeout)
}

// GetVersion queries the version of one OSD.
func (p *OsdPool) GetVersion(id OsdID) (OsdVersion, *Error) {
	c, err := p.get(id)
	if err != nil {
		return OsdVersion{}, err
	}
	return c.GetVersion(p.timeout)
}

// SetSlowness configures an artificial reply delay on one OSD; nil clears
// it.
func (p *OsdPool) SetSlowness(id OsdID, s *Slowness) *Error {
	c, err := p.get(id)
	if err != nil {
		return err
	}
	return c.SetSlowness(s, p.timeout)
}

// Close tears down every pooled connection.
func (p *OsdPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, c := range p.clients {
		c.close()
		if c.trace != nil {
			c.trace.Close()
		}
		delete(p.clients, id)
	}
}
