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

package reader

import (
	"context"
	"testing"

	"github.com/pulsegrid/heartbeat/storage"
)

func writeRows(t *testing.T, fsys storage.PartFS, path string, rows []storage.Row) {
	t.Helper()
	buf, err := storage.EncodeRows(rows)
	if err != nil {
		t.Fatalf("EncodeRows: %v", err)
	}
	if _, err := fsys.WriteFile(path, buf); err != nil {
		t.Fatalf("WriteFile %s: %v", path, err)
	}
}

func TestReaderDedupAndPriority(t *testing.T) {
	fsys, err := storage.NewLocalFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalFS: %v", err)
	}
	dir := storage.PartitionDir("2024-01-15", "u1")
	writeRows(t, fsys, dir+"/"+storage.CompactedName, []storage.Row{
		{TimestampMs: 1705312800000, HeartRate: 70, DeviceID: "device_a", UserID: "u1"},
		{TimestampMs: 1705312800000, HeartRate: 100, DeviceID: "device_b", UserID: "u1"},
	})

	r := &Reader{FS: fsys}
	points, err := r.Run(context.Background(), Query{
		UserID: "u1", StartMs: 1705312800000, EndMs: 1705312800000 + 1,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(points) != 1 {
		t.Fatalf("points = %d, want 1 (device_a should win priority)", len(points))
	}
	if points[0].DeviceID != "device_a" || points[0].HeartRate != 70 {
		t.Fatalf("point = %+v, want device_a/70", points[0])
	}
}

func TestReaderDeviceFilterBypassesPriority(t *testing.T) {
	fsys, err := storage.NewLocalFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalFS: %v", err)
	}
	dir := storage.PartitionDir("2024-01-15", "u1")
	writeRows(t, fsys, dir+"/"+storage.CompactedName, []storage.Row{
		{TimestampMs: 1705312800000, HeartRate: 70, DeviceID: "device_a", UserID: "u1"},
		{TimestampMs: 1705312800000, HeartRate: 100, DeviceID: "device_b", UserID: "u1"},
	})

	r := &Reader{FS: fsys}
	points, err := r.Run(context.Background(), Query{
		UserID: "u1", StartMs: 1705312800000, EndMs: 1705312800000 + 1, DeviceID: "device_b",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(points) != 1 || points[0].DeviceID != "device_b" || points[0].HeartRate != 100 {
		t.Fatalf("points = %+v, want exactly device_b/100", points)
	}
}

func TestReaderPerMinuteMeanTruncates(t *testing.T) {
	fsys, err := storage.NewLocalFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalFS: %v", err)
	}
	dir := storage.PartitionDir("2024-01-15", "u1")
	base := int64(1705312800000) // 2024-01-15T10:00:00Z
	writeRows(t, fsys, dir+"/part-0000000000000000000000000000000a.parquet", []storage.Row{
		{TimestampMs: base, HeartRate: 70, DeviceID: "device_a", UserID: "u1"},
		{TimestampMs: base + 10_000, HeartRate: 71, DeviceID: "device_a", UserID: "u1"},
		{TimestampMs: base + 20_000, HeartRate: 71, DeviceID: "device_a", UserID: "u1"}, // mean=70.666 -> trunc 70
	})

	r := &Reader{FS: fsys}
	points, err := r.Run(context.Background(), Query{UserID: "u1", StartMs: base, EndMs: base + 60_000})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(points) != 1 {
		t.Fatalf("points = %d, want 1", len(points))
	}
	if points[0].HeartRate != 70 {
		t.Fatalf("HeartRate = %d, want 70 (truncated mean of 70.666...)", points[0].HeartRate)
	}
}

func TestReaderEmptyRangeYieldsNoRows(t *testing.T) {
	fsys, err := storage.NewLocalFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalFS: %v", err)
	}
	r := &Reader{FS: fsys}
	points, err := r.Run(context.Background(), Query{UserID: "nobody", StartMs: 0, EndMs: 1})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(points) != 0 {
		t.Fatalf("points = %v, want empty", points)
	}
}

func TestValidateRejectsBackwardsRange(t *testing.T) {
	if err := Validate(Query{StartMs: 100, EndMs: 100}); err == nil {
		t.Fatal("Validate: expected error for start == end")
	}
	if err := Validate(Query{StartMs: 200, EndMs: 100}); err == nil {
		t.Fatal("Validate: expected error for start > end")
	}
}
