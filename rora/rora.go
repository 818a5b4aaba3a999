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

// Package rora implements a client-side short-path read accelerator for
// the alba distributed object store: given a cached manifest, it resolves
// byte-range reads directly to fragment-level requests against OSD
// storage daemons, bypassing the proxy on the hot path and falling back to
// it whenever the manifest is missing or the direct path fails.
package rora
