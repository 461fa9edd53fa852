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

// Package storage implements the filesystem/object-storage
// conventions shared by every stage of the pipeline: the
// data/<date>/user-<id>/ layout, the atomic temp-file-then-rename
// write discipline, and the canonical Parquet encoding every part
// and compacted file must conform to.
package storage

import (
	"bytes"
	"fmt"
	"io"

	"github.com/segmentio/parquet-go"

	"github.com/pulsegrid/heartbeat"
)

// Row is the canonical on-disk schema, field order doubling as
// column order: timestamp_ms, heart_rate, device_id, user_id. It is
// the only schema any part or compacted file is ever written with,
// so every reader gets a uniform schema by construction rather than
// by a post-write check.
type Row struct {
	TimestampMs int64  `parquet:"timestamp_ms"`
	HeartRate   int64  `parquet:"heart_rate"`
	DeviceID    string `parquet:"device_id"`
	UserID      string `parquet:"user_id"`
}

// FromSample converts a heartbeat.Sample into its canonical Row.
func FromSample(s heartbeat.Sample) Row {
	return Row{
		TimestampMs: s.TimestampMs,
		HeartRate:   s.HeartRate,
		DeviceID:    s.DeviceID,
		UserID:      s.UserID,
	}
}

// Sample converts r back into a heartbeat.Sample.
func (r Row) Sample() heartbeat.Sample {
	return heartbeat.Sample{
		DeviceID:    r.DeviceID,
		UserID:      r.UserID,
		TimestampMs: r.TimestampMs,
		HeartRate:   r.HeartRate,
	}
}

// EncodeRows serializes rows to the canonical Parquet representation
// used for both part files and the compacted file.
func EncodeRows(rows []Row) ([]byte, error) {
	var buf bytes.Buffer
	w := parquet.NewGenericWriter[Row](&buf, parquet.Compression(&parquet.Zstd))
	if _, err := w.Write(rows); err != nil {
		w.Close()
		return nil, fmt.Errorf("storage: encode rows: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("storage: close parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeRows parses a canonical Parquet file. Every part and
// compacted file this package writes uses exactly the Row schema, so
// decoding is a straightforward generic read; there is no
// heterogeneous-frame reconciliation to perform on the way in, unlike
// a schema-tolerant dataframe
// library.
func DecodeRows(r io.ReaderAt, size int64) ([]Row, error) {
	rdr := parquet.NewGenericReader[Row](io.NewSectionReader(r, 0, size))
	defer rdr.Close()
	rows := make([]Row, rdr.NumRows())
	n, err := rdr.Read(rows)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("storage: decode rows: %w", err)
	}
	return rows[:n], nil
}
