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
	"encoding/binary"
	"fmt"

	"github.com/pulsegrid/heartbeat/compr"
)

// archiveMagic distinguishes a compressed archive payload from a
// plain copy of the part bytes, in case compression is ever disabled.
const archiveMagic = "HBZ1"

// CompressForArchive compresses raw part bytes for storage under the
// archive/ tree. Archive files are write-once and read only for
// operator inspection, which makes them a good candidate for zstd
// (compr.Compression) even though the archived file keeps the
// consumed part's original name.
func CompressForArchive(raw []byte) []byte {
	c := compr.Compression("zstd")
	out := make([]byte, 0, len(archiveMagic)+8+len(raw)/2)
	out = append(out, archiveMagic...)
	var lenbuf [8]byte
	binary.LittleEndian.PutUint64(lenbuf[:], uint64(len(raw)))
	out = append(out, lenbuf[:]...)
	return c.Compress(raw, out)
}

// DecompressArchive reverses CompressForArchive. Nothing in this
// repository calls it (the reader never consults the archive); it
// recovers the original part bytes from an archived blob.
func DecompressArchive(blob []byte) ([]byte, error) {
	if len(blob) < len(archiveMagic)+8 || string(blob[:len(archiveMagic)]) != archiveMagic {
		return nil, fmt.Errorf("storage: not an archive blob")
	}
	n := binary.LittleEndian.Uint64(blob[len(archiveMagic) : len(archiveMagic)+8])
	dst := make([]byte, n)
	d := compr.Decompression("zstd")
	if err := d.Decompress(blob[len(archiveMagic)+8:], dst); err != nil {
		return nil, fmt.Errorf("storage: decompress archive: %w", err)
	}
	return dst, nil
}
