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

// Package reader implements the query engine: scanning a user's
// compacted and in-flight part files over a date range, resolving
// device conflicts by priority, and aggregating to per-minute means.
// Grounded on db/scan.go's "read what's on disk right now, skip what
// doesn't parse" tolerance and the schema-normalization discipline of
// ion/blockfmt, applied to the fixed Row schema defined in storage.
package reader

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/pulsegrid/heartbeat"
	"github.com/pulsegrid/heartbeat/internal/clock"
	"github.com/pulsegrid/heartbeat/storage"
)

// Query describes a read request.
type Query struct {
	UserID   string
	StartMs  int64
	EndMs    int64
	DeviceID string // optional; empty means no filter
}

// Point is a single output row: one device's (or priority-resolved)
// mean heart rate for one minute.
type Point struct {
	TimestampMs int64
	HeartRate   int64
	DeviceID    string
}

// Reader executes Query against a PartFS data root.
type Reader struct {
	FS storage.PartFS

	// Logf is used to report skipped/unreadable files. Logf may be nil.
	Logf func(string, ...any)
}

func (r *Reader) logf(f string, args ...any) {
	if r.Logf != nil {
		r.Logf(f, args...)
	}
}

// Validate checks a Query's range before Run is called: an inverted
// or empty range is rejected up front rather than silently yielding
// zero rows.
func Validate(q Query) error {
	if q.StartMs >= q.EndMs {
		return fmt.Errorf("reader: start must be before end")
	}
	return nil
}

// Run scans, dedups, resolves device priority, and aggregates a
// Query's range into per-minute means, returning points ordered by
// timestamp ascending. It never returns an error
// for missing directories or unreadable files; those are logged and
// skipped, yielding fewer rows instead.
func (r *Reader) Run(_ context.Context, q Query) ([]Point, error) {
	if err := Validate(q); err != nil {
		return nil, err
	}

	rows := r.scanRange(q)

	// Step 5: dedup same (timestamp, device) by mean.
	type instKey struct {
		ts     int64
		device string
	}
	sums := make(map[instKey]float64)
	counts := make(map[instKey]int)
	for _, row := range rows {
		k := instKey{ts: row.TimestampMs, device: row.DeviceID}
		sums[k] += float64(row.HeartRate)
		counts[k]++
	}
	type instant struct {
		ts       int64
		device   string
		priority int
		mean     float64
	}
	instants := make([]instant, 0, len(sums))
	for k, sum := range sums {
		instants = append(instants, instant{
			ts:       k.ts,
			device:   k.device,
			priority: heartbeat.Priority(k.device),
			mean:     sum / float64(counts[k]),
		})
	}

	// Step 6: resolve cross-device conflicts at the same instant.
	var resolved []instant
	if q.DeviceID != "" {
		for _, in := range instants {
			if in.device == q.DeviceID {
				resolved = append(resolved, in)
			}
		}
	} else {
		sort.SliceStable(instants, func(i, j int) bool {
			if instants[i].ts != instants[j].ts {
				return instants[i].ts < instants[j].ts
			}
			return instants[i].priority < instants[j].priority
		})
		seen := make(map[int64]bool)
		for _, in := range instants {
			if seen[in.ts] {
				continue
			}
			seen[in.ts] = true
			resolved = append(resolved, in)
		}
	}

	// Step 7: per-minute aggregation, grouped by (minute, device).
	type minuteKey struct {
		minute int64
		device string
	}
	minSums := make(map[minuteKey]float64)
	minCounts := make(map[minuteKey]int)
	for _, in := range resolved {
		k := minuteKey{minute: clock.TruncateMinute(in.ts), device: in.device}
		minSums[k] += in.mean
		minCounts[k]++
	}

	points := make([]Point, 0, len(minSums))
	for k, sum := range minSums {
		points = append(points, Point{
			TimestampMs: k.minute,
			HeartRate:   int64(sum / float64(minCounts[k])), // step 8: truncate toward zero
			DeviceID:    k.device,
		})
	}

	// Step 8: sort by timestamp ascending.
	sort.Slice(points, func(i, j int) bool {
		if points[i].TimestampMs != points[j].TimestampMs {
			return points[i].TimestampMs < points[j].TimestampMs
		}
		return points[i].DeviceID < points[j].DeviceID
	})
	return points, nil
}

// scanRange implements steps 1-4: per-day directory scan, normalize
// (trivial here, the canonical Row schema is enforced at write time),
// concatenate, and range-filter.
func (r *Reader) scanRange(q Query) []storage.Row {
	var out []storage.Row
	for date := clock.DateString(q.StartMs); ; {
		dir := storage.PartitionDir(date, q.UserID)
		entries, err := r.FS.ReadDir(dir)
		if err == nil {
			for _, e := range entries {
				if e.IsDir() {
					continue
				}
				if e.Name() != storage.CompactedName && !storage.IsPartName(e.Name()) {
					continue
				}
				rows, err := r.readFile(dir + "/" + e.Name())
				if err != nil {
					r.logf("reader: skipping unreadable file %s/%s: %v", dir, e.Name(), err)
					continue
				}
				for _, row := range rows {
					if row.TimestampMs >= q.StartMs && row.TimestampMs <= q.EndMs {
						out = append(out, row)
					}
				}
			}
		}

		next, ok := nextDate(date)
		if !ok || next > clock.DateString(q.EndMs) {
			break
		}
		date = next
	}
	return out
}

func (r *Reader) readFile(name string) ([]storage.Row, error) {
	f, err := r.FS.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	ra, ok := f.(io.ReaderAt)
	if !ok {
		return nil, fmt.Errorf("%s: underlying file does not implement io.ReaderAt", name)
	}
	return storage.DecodeRows(ra, info.Size())
}

// nextDate returns the UTC calendar day following date, or false if
// date could not be parsed.
func nextDate(date string) (string, bool) {
	t, err := clock.ParseDate(date)
	if err != nil {
		return "", false
	}
	return t.AddDate(0, 0, 1).Format("2006-01-02"), true
}

// FormatPoints renders points in the HTTP response shape: timestamp
// as ISO-8601 "Z", heart_rate as int.
func FormatPoints(points []Point) []map[string]any {
	out := make([]map[string]any, len(points))
	for i, p := range points {
		out[i] = map[string]any{
			"timestamp":  clock.FormatISO8601(p.TimestampMs),
			"heart_rate": p.HeartRate,
			"device_id":  p.DeviceID,
		}
	}
	return out
}
