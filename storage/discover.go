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
	"strings"

	"github.com/pulsegrid/heartbeat/fsutil"
)

// Partition identifies a single (date, user) directory under a data root.
type Partition struct {
	Date   string
	UserID string
	Dir    string // relative path: <date>/user-<id>
}

// DiscoverPartitions walks root (via fsutil.WalkDir, a seek/pattern-
// aware directory walker) and returns every
// <date>/user-<id> directory found. It is used by the compactor to
// find candidates for compaction; the reader does not call it, it
// builds each per-day directory path with PartitionDir.
func DiscoverPartitions(root fs.FS) ([]Partition, error) {
	var out []Partition
	err := fsutil.WalkDir(root, ".", "", "", func(p string, d fsutil.DirEntry, err error) error {
		if err != nil {
			return nil // skip unreadable entries, caller may retry next cycle
		}
		if !d.IsDir() {
			return nil
		}
		date, userDir, ok := strings.Cut(p, "/")
		if !ok || strings.Contains(userDir, "/") {
			return nil
		}
		if !strings.HasPrefix(userDir, "user-") {
			return nil
		}
		out = append(out, Partition{
			Date:   date,
			UserID: strings.TrimPrefix(userDir, "user-"),
			Dir:    p,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
