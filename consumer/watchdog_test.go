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

package consumer

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/pulsegrid/heartbeat/queue"
)

func newTestWatchdog(t *testing.T, staleAfter time.Duration) (*Watchdog, *queue.RedisQueue) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run: %v", err)
	}
	t.Cleanup(mr.Close)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	q := queue.NewRedisQueue(client, "q", "processing")
	w := &Watchdog{Queue: q, StaleAfter: staleAfter, Interval: time.Hour}
	return w, q
}

func TestWatchdogLeavesFreshItemsAlone(t *testing.T) {
	w, q := newTestWatchdog(t, time.Minute)
	ctx := context.Background()

	if err := q.Push(ctx, []byte("payload")); err != nil {
		t.Fatalf("push: %v", err)
	}
	if _, err := q.Transfer(ctx, time.Second); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	if err := w.sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	n, err := q.PendingCount(ctx)
	if err != nil {
		t.Fatalf("PendingCount: %v", err)
	}
	if n != 1 {
		t.Fatalf("PendingCount = %d, want 1 (fresh item should stay in-flight)", n)
	}
}

func TestWatchdogRequeuesStaleItems(t *testing.T) {
	w, q := newTestWatchdog(t, 0) // stale immediately after first sweep
	w.StaleAfter = time.Nanosecond
	ctx := context.Background()

	if err := q.Push(ctx, []byte("payload")); err != nil {
		t.Fatalf("push: %v", err)
	}
	if _, err := q.Transfer(ctx, time.Second); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	// First sweep just records first-seen.
	if err := w.sweep(ctx); err != nil {
		t.Fatalf("sweep 1: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	// Second sweep should find it stale and requeue it.
	if err := w.sweep(ctx); err != nil {
		t.Fatalf("sweep 2: %v", err)
	}

	n, err := q.PendingCount(ctx)
	if err != nil {
		t.Fatalf("PendingCount: %v", err)
	}
	if n != 0 {
		t.Fatalf("PendingCount = %d, want 0 after requeue", n)
	}

	item, err := q.Transfer(ctx, time.Second)
	if err != nil {
		t.Fatalf("transfer after requeue: %v", err)
	}
	if item == nil || string(item.Raw) != "payload" {
		t.Fatalf("transfer after requeue = %+v, want payload", item)
	}
}
