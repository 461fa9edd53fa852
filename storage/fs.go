// Copyright (C) 2024 PulseGrid, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package storage

import (
	"io/fs"
)

// PartFS is the storage abstraction every pipeline stage writes
// through. It is deliberately narrow: enough for the
// consumer/compactor/reader triangle and nothing else, leaving room
// for a second backend to implement it later.
type PartFS interface {
	fs.FS
	fs.ReadDirFS

	// WriteFile atomically creates or replaces the file at path with
	// buf's contents. The file is either fully visible at path with
	// the full contents, or not visible at all; a failed write never
	// leaves a partial file there. WriteFile returns an ETag
	// identifying the written contents.
	WriteFile(path string, buf []byte) (etag string, err error)

	// Remove deletes the file at path. It is used by the compactor to
	// clear a part after archiving it and by the health probe to
	// delete its probe file, and is not part of the read path.
	Remove(path string) error

	// Rename moves the file at oldPath to newPath, creating newPath's
	// parent directory if necessary. No pipeline stage calls it: the
	// compactor archives a part by writing a compressed copy to the
	// archive PartFS and then calling Remove.
	Rename(oldPath, newPath string) error
}
