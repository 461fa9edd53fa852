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

package producer

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/pulsegrid/heartbeat"
	"github.com/pulsegrid/heartbeat/queue"
)

// memQueue is a minimal in-memory queue.Queue for exercising Producer
// without standing up Redis.
type memQueue struct {
	pushed  [][]byte
	pushErr error
	pending []*queue.Item
}

func (m *memQueue) Push(_ context.Context, raw []byte) error {
	if m.pushErr != nil {
		return m.pushErr
	}
	m.pushed = append(m.pushed, raw)
	return nil
}

func (m *memQueue) Transfer(context.Context, time.Duration) (*queue.Item, error) { return nil, nil }
func (m *memQueue) Ack(context.Context, *queue.Item) error                       { return nil }
func (m *memQueue) Requeue(context.Context, *queue.Item) error                   { return nil }
func (m *memQueue) PendingCount(context.Context) (int64, error)                  { return int64(len(m.pending)), nil }
func (m *memQueue) ScanPending(context.Context, func([]byte) error) error        { return nil }
func (m *memQueue) Ping(context.Context) error                                   { return nil }
func (m *memQueue) Close() error                                                 { return nil }

func TestParseValid(t *testing.T) {
	s, err := Parse(RawInput{
		DeviceID:  "device_a",
		UserID:    "user_123",
		Timestamp: "2024-01-15T10:00:00Z",
		HeartRate: 75,
	})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := int64(1705312800000)
	if s.TimestampMs != want {
		t.Fatalf("TimestampMs = %d, want %d", s.TimestampMs, want)
	}
}

func TestParseBadTimestamp(t *testing.T) {
	_, err := Parse(RawInput{DeviceID: "device_a", UserID: "u", Timestamp: "not-a-time", HeartRate: 75})
	var ve *heartbeat.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("Parse with bad timestamp: err = %v, want *ValidationError", err)
	}
}

func TestEnqueueValidatesBeforePush(t *testing.T) {
	q := &memQueue{}
	p := &Producer{Queue: q}

	err := p.Enqueue(context.Background(), heartbeat.Sample{
		DeviceID: "device_a", UserID: "u", HeartRate: 999, TimestampMs: 1,
	})
	var ve *heartbeat.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("Enqueue with out-of-range heart_rate: err = %v, want *ValidationError", err)
	}
	if len(q.pushed) != 0 {
		t.Fatalf("Enqueue pushed an invalid sample")
	}
}

func TestEnqueueSuccess(t *testing.T) {
	q := &memQueue{}
	p := &Producer{Queue: q}

	s := heartbeat.Sample{DeviceID: "device_a", UserID: "u1", HeartRate: 80, TimestampMs: 1705312800000}
	if err := p.Enqueue(context.Background(), s); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if len(q.pushed) != 1 {
		t.Fatalf("pushed %d items, want 1", len(q.pushed))
	}
	var qs heartbeat.QueuedSample
	if err := json.Unmarshal(q.pushed[0], &qs); err != nil {
		t.Fatalf("unmarshal pushed item: %v", err)
	}
	if qs.DeviceID != s.DeviceID || qs.TimestampMs != s.TimestampMs || qs.EnqueuedAt == 0 {
		t.Fatalf("pushed item = %+v", qs)
	}
}

func TestEnqueueQueueFailure(t *testing.T) {
	q := &memQueue{pushErr: errors.New("connection refused")}
	p := &Producer{Queue: q}

	err := p.Enqueue(context.Background(), heartbeat.Sample{DeviceID: "device_a", UserID: "u", HeartRate: 80, TimestampMs: 1})
	if err == nil {
		t.Fatal("Enqueue: expected error on queue failure")
	}
	var ve *heartbeat.ValidationError
	if errors.As(err, &ve) {
		t.Fatal("Enqueue queue failure should not be a ValidationError")
	}
}

func TestDecodeFallsBackToEnqueuedAt(t *testing.T) {
	raw, _ := json.Marshal(heartbeat.QueuedSample{
		DeviceID: "device_a", UserID: "u", HeartRate: 70, EnqueuedAt: 1705312800000,
	})
	qs, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if qs.TimestampMs != qs.EnqueuedAt {
		t.Fatalf("TimestampMs = %d, want fallback to EnqueuedAt %d", qs.TimestampMs, qs.EnqueuedAt)
	}
}
