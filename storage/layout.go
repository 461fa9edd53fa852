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
	"path"
	"strings"

	"github.com/google/uuid"
)

// CompactedName is the fixed name of the per-(user,day) merged file.
const CompactedName = "compacted.parquet"

// PartPrefix and PartSuffix bound the glob pattern for part files:
// part-<32-hex>.parquet.
const (
	PartPrefix = "part-"
	PartSuffix = ".parquet"
	PartGlob   = PartPrefix + "*" + PartSuffix
)

// ArchiveSuffix is appended to a part's name once it has been
// consumed by a compaction.
const ArchiveSuffix = ".done"

// UserDir returns the "user-<id>" directory name for userID.
func UserDir(userID string) string {
	return "user-" + userID
}

// PartitionDir returns the directory holding a (user, date)'s part
// and compacted files, relative to a data root: <date>/user-<id>.
func PartitionDir(date, userID string) string {
	return path.Join(date, UserDir(userID))
}

// CompactedPath returns the path of the compacted file for (date,
// userID), relative to a data root.
func CompactedPath(date, userID string) string {
	return path.Join(PartitionDir(date, userID), CompactedName)
}

// NewPartName generates a unique part file name: part-<32-hex>.parquet.
// Unique naming is what lets the consumer and compactor share a
// directory without coordination.
func NewPartName() string {
	return PartPrefix + strings.ReplaceAll(uuid.NewString(), "-", "") + PartSuffix
}

// PartPath returns the path of a new part file for (date, userID),
// relative to a data root.
func PartPath(date, userID string) string {
	return path.Join(PartitionDir(date, userID), NewPartName())
}

// IsPartName reports whether name matches the part-*.parquet pattern.
func IsPartName(name string) bool {
	return strings.HasPrefix(name, PartPrefix) && strings.HasSuffix(name, PartSuffix)
}

// ArchivePath returns where a consumed part named partName (for date,
// userID) is moved to, relative to an archive root:
// <date>/user-<id>/<partName>.done
func ArchivePath(date, userID, partName string) string {
	return path.Join(PartitionDir(date, userID), partName+ArchiveSuffix)
}
