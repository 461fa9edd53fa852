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

// Package heartbeat defines the canonical data model shared by every
// stage of the ingest-to-parquet pipeline: the producer, the queue
// wire format, the part/compacted file schema, and the reader.
package heartbeat

import "fmt"

// Sample is one heart-rate measurement.
type Sample struct {
	DeviceID    string `json:"device_id"`
	UserID      string `json:"user_id"`
	TimestampMs int64  `json:"timestamp_ms"`
	HeartRate   int64  `json:"heart_rate"`
}

// QueuedSample is the wire representation of a Sample as it sits in
// the durable queue: a Sample plus the time the producer enqueued it,
// used only as a fallback when TimestampMs is missing.
type QueuedSample struct {
	DeviceID    string `json:"device_id"`
	UserID      string `json:"user_id"`
	TimestampMs int64  `json:"timestamp_ms,omitempty"`
	HeartRate   int64  `json:"heart_rate"`
	EnqueuedAt  int64  `json:"enqueued_at"`
}

// Sample returns the QueuedSample's measurement as a plain Sample,
// discarding EnqueuedAt.
func (q QueuedSample) Sample() Sample {
	return Sample{
		DeviceID:    q.DeviceID,
		UserID:      q.UserID,
		TimestampMs: q.TimestampMs,
		HeartRate:   q.HeartRate,
	}
}

// Sample range constraints.
const (
	MinHeartRate = 30
	MaxHeartRate = 220
)

// CanonicalColumns is the fixed column order every part and
// compacted file must conform to.
var CanonicalColumns = [4]string{"timestamp_ms", "heart_rate", "device_id", "user_id"}

// DevicePriority maps a known device_id to its priority; smaller is
// stronger. Unknown devices receive UnknownDevicePriority. This table
// is a build-time constant; adding a device means redeploying.
var DevicePriority = map[string]int{
	"device_a": 1,
	"device_b": 2,
}

// UnknownDevicePriority is the sentinel priority assigned to any
// device_id absent from DevicePriority.
const UnknownDevicePriority = 999

// Priority returns the priority of device, using UnknownDevicePriority
// for devices absent from DevicePriority.
func Priority(device string) int {
	if p, ok := DevicePriority[device]; ok {
		return p
	}
	return UnknownDevicePriority
}

// ValidationError describes a Sample that failed the checks in
// Validate. It is distinguished from transport/storage errors so
// callers (the HTTP edge) can map it to a 4xx response.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Validate checks the fields of s for well-formedness.
// It does not inspect TimestampMs, which is derived from the request
// at the HTTP edge before Validate is called.
func Validate(s Sample) error {
	if s.DeviceID == "" {
		return &ValidationError{Field: "device_id", Reason: "must not be empty"}
	}
	if s.UserID == "" {
		return &ValidationError{Field: "user_id", Reason: "must not be empty"}
	}
	if s.HeartRate < MinHeartRate || s.HeartRate > MaxHeartRate {
		return &ValidationError{
			Field:  "heart_rate",
			Reason: fmt.Sprintf("must be between %d and %d", MinHeartRate, MaxHeartRate),
		}
	}
	return nil
}
