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

// Package queue defines the durable queue abstraction the producer
// and consumer talk through, and a Redis-backed implementation of the
// BRPOPLPUSH reliable-transfer protocol.
package queue

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrClosed reports use of a queue after Close. RedisQueue does not
// return it: its calls after Close fail with the Redis client's own
// closed-client error, wrapped.
var ErrClosed = errors.New("queue: closed")

// Item is a single raw, opaque payload moving through the queue. The
// queue never inspects Raw; producer and consumer agree on its shape
// (JSON, in this system).
type Item struct {
	Raw        []byte
	EnqueuedAt time.Time
}

// Queue is the durable transport between the producer and the
// consumer: a blocking Transfer plus an explicit acknowledgement,
// shaped around the reliable-transfer pattern where Transfer moves an
// item into an in-flight list atomically and the caller must Ack or
// Requeue it before it is considered handled.
type Queue interface {
	io.Closer

	// Push enqueues raw for later delivery.
	Push(ctx context.Context, raw []byte) error

	// Transfer blocks up to timeout for an item to become available,
	// moving it atomically from the main queue into an in-flight area
	// as it does so. It returns (nil, nil) on a timeout with no item
	// available. The returned Item must eventually be passed to Ack
	// or Requeue.
	Transfer(ctx context.Context, timeout time.Duration) (*Item, error)

	// Ack removes an item from the in-flight area after it has been
	// durably written to storage.
	Ack(ctx context.Context, item *Item) error

	// Requeue moves an item from the in-flight area back onto the
	// main queue, for redelivery after a watchdog recovery. The
	// consumer does not call it: items of a failed flush stay in the
	// in-flight area.
	Requeue(ctx context.Context, item *Item) error

	// PendingCount reports how many items currently sit in the
	// in-flight area.
	PendingCount(ctx context.Context) (int64, error)

	// ScanPending calls fn once for every item currently in the
	// in-flight area, in no particular order. It is used by the
	// watchdog to find items stuck there longer than its staleness
	// window.
	ScanPending(ctx context.Context, fn func(raw []byte) error) error

	// Ping verifies connectivity to the underlying store.
	Ping(ctx context.Context) error
}
