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

// Package producer implements the ingest side of the pipeline: it
// validates an incoming Sample and hands it to the durable queue.
// It does not touch storage directly, matching the original FastAPI
// producer's enqueue-and-accept behavior (the HTTP edge answers 200
// with status "accepted").
package producer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pulsegrid/heartbeat"
	"github.com/pulsegrid/heartbeat/internal/clock"
	"github.com/pulsegrid/heartbeat/queue"
)

// Producer validates samples and enqueues them for the consumer.
type Producer struct {
	Queue queue.Queue

	// Logf is used to log queue failures. Logf may be nil.
	Logf func(string, ...any)
}

func (p *Producer) logf(f string, args ...any) {
	if p.Logf != nil {
		p.Logf(f, args...)
	}
}

// RawInput is the wire shape accepted at the HTTP edge: device_id,
// user_id, heart_rate, and a timestamp as an ISO-8601 string, rather
// than the epoch milliseconds used internally from here on down.
type RawInput struct {
	DeviceID  string `json:"device_id"`
	UserID    string `json:"user_id"`
	Timestamp string `json:"timestamp"`
	HeartRate int64  `json:"heart_rate"`
}

// Parse converts a RawInput into a Sample, resolving its ISO-8601
// timestamp to UTC epoch milliseconds.
func Parse(in RawInput) (heartbeat.Sample, error) {
	ms, err := clock.ParseISO8601(in.Timestamp)
	if err != nil {
		return heartbeat.Sample{}, &heartbeat.ValidationError{Field: "timestamp", Reason: err.Error()}
	}
	return heartbeat.Sample{
		DeviceID:    in.DeviceID,
		UserID:      in.UserID,
		TimestampMs: ms,
		HeartRate:   in.HeartRate,
	}, nil
}

// Enqueue validates s and pushes it onto the durable queue as a
// QueuedSample. It returns a *heartbeat.ValidationError for samples
// that fail validation (the caller maps this to HTTP 422) and a plain
// error for queue failures (mapped to HTTP 500).
func (p *Producer) Enqueue(ctx context.Context, s heartbeat.Sample) error {
	if err := heartbeat.Validate(s); err != nil {
		return err
	}
	qs := heartbeat.QueuedSample{
		DeviceID:    s.DeviceID,
		UserID:      s.UserID,
		TimestampMs: s.TimestampMs,
		HeartRate:   s.HeartRate,
		EnqueuedAt:  clock.Now(),
	}
	raw, err := json.Marshal(qs)
	if err != nil {
		return fmt.Errorf("producer: marshal sample: %w", err)
	}
	if err := p.Queue.Push(ctx, raw); err != nil {
		p.logf("producer: enqueue failed for user=%s device=%s: %v", s.UserID, s.DeviceID, err)
		return fmt.Errorf("producer: enqueue: %w", err)
	}
	return nil
}

// Decode reconstructs a QueuedSample previously written by Enqueue,
// falling back to EnqueuedAt for TimestampMs when it was omitted (it
// never is, in practice, since Parse always resolves one, but the
// fallback is defensive: absent a timestamp, the sample is placed on
// the day it was enqueued rather than rejected).
func Decode(raw []byte) (heartbeat.QueuedSample, error) {
	var qs heartbeat.QueuedSample
	if err := json.Unmarshal(raw, &qs); err != nil {
		return heartbeat.QueuedSample{}, fmt.Errorf("producer: decode queued sample: %w", err)
	}
	if qs.TimestampMs == 0 {
		qs.TimestampMs = qs.EnqueuedAt
	}
	return qs, nil
}
