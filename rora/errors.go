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

// Kind enumerates the error taxonomy of the short path. Within
// Client.ReadObjectsSlices a Kind never escapes the short path: internal
// failures collapse into an opaque "short path failed" signal that forces
// proxy fallback, and the caller only sees the proxy's own error. Kinds do
// reach callers of DecodeManifest and of the OsdPool methods directly.
type Kind int

const (
	KindNone Kind = iota
	KindTimeout
	KindTransportClosed
	KindWrongOsd
	KindCorruptFrame
	KindUnsupportedManifest
	KindOutOfRange
	KindManifestMiss
	KindOsdReturn
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "Timeout"
	case KindTransportClosed:
		return "TransportClosed"
	case KindWrongOsd:
		return "WrongOsd"
	case KindCorruptFrame:
		return "CorruptFrame"
	case KindUnsupportedManifest:
		return "UnsupportedManifest"
	case KindOutOfRange:
		return "OutOfRange"
	case KindManifestMiss:
		return "ManifestMiss"
	case KindOsdReturn:
		return "OsdReturn"
	default:
		return "None"
	}
}

// Error is the error type rora returns to callers. Code carries the raw OSD
// return code for KindOsdReturn, zero otherwise.
type Error struct {
	Kind Kind
	Code uint32
	Msg  string
}

func (e *Error) Error() string {
	if e.Kind == KindOsdReturn {
		return fmt.Sprintf("rora: %s (code=%d): %s", e.Kind, e.Code, e.Msg)
	}
	return fmt.Sprintf("rora: %s: %s", e.Kind, e.Msg)
}

func newErr(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func newOsdErr(code uint32) *Error {
	return &Error{Kind: KindOsdReturn, Code: code, Msg: "osd signalled non-zero status"}
}
