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

package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestQueue(t *testing.T) *RedisQueue {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisQueue(client, "heartbeat:queue", "heartbeat:processing")
}

func TestRedisQueuePushTransferAck(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	if err := q.Push(ctx, []byte(`{"a":1}`)); err != nil {
		t.Fatalf("Push: %v", err)
	}

	item, err := q.Transfer(ctx, time.Second)
	if err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if item == nil {
		t.Fatal("Transfer: expected an item, got nil")
	}
	if string(item.Raw) != `{"a":1}` {
		t.Fatalf("Transfer: raw = %q", item.Raw)
	}

	n, err := q.PendingCount(ctx)
	if err != nil {
		t.Fatalf("PendingCount: %v", err)
	}
	if n != 1 {
		t.Fatalf("PendingCount = %d, want 1", n)
	}

	if err := q.Ack(ctx, item); err != nil {
		t.Fatalf("Ack: %v", err)
	}
	n, err = q.PendingCount(ctx)
	if err != nil {
		t.Fatalf("PendingCount: %v", err)
	}
	if n != 0 {
		t.Fatalf("PendingCount after ack = %d, want 0", n)
	}
}

func TestRedisQueueTransferTimeout(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	item, err := q.Transfer(ctx, 500*time.Millisecond)
	if err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if item != nil {
		t.Fatalf("Transfer on empty queue: got %+v, want nil", item)
	}
}

func TestRedisQueueRequeue(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	if err := q.Push(ctx, []byte("payload")); err != nil {
		t.Fatalf("Push: %v", err)
	}
	item, err := q.Transfer(ctx, time.Second)
	if err != nil || item == nil {
		t.Fatalf("Transfer: %v, %v", item, err)
	}
	if err := q.Requeue(ctx, item); err != nil {
		t.Fatalf("Requeue: %v", err)
	}

	n, err := q.PendingCount(ctx)
	if err != nil {
		t.Fatalf("PendingCount: %v", err)
	}
	if n != 0 {
		t.Fatalf("PendingCount after requeue = %d, want 0", n)
	}

	// The item should be redeliverable.
	item2, err := q.Transfer(ctx, time.Second)
	if err != nil {
		t.Fatalf("Transfer after requeue: %v", err)
	}
	if item2 == nil || string(item2.Raw) != "payload" {
		t.Fatalf("Transfer after requeue = %+v, want payload", item2)
	}
}

func TestRedisQueueScanPending(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	for i := 0; i < 3; i++ {
		if err := q.Push(ctx, []byte{byte('a' + i)}); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}
	for i := 0; i < 3; i++ {
		if _, err := q.Transfer(ctx, time.Second); err != nil {
			t.Fatalf("Transfer: %v", err)
		}
	}

	var seen []string
	err := q.ScanPending(ctx, func(raw []byte) error {
		seen = append(seen, string(raw))
		return nil
	})
	if err != nil {
		t.Fatalf("ScanPending: %v", err)
	}
	if len(seen) != 3 {
		t.Fatalf("ScanPending saw %d items, want 3", len(seen))
	}
}

func TestRedisQueuePing(t *testing.T) {
	q := newTestQueue(t)
	if err := q.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}
