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
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisQueue implements Queue on top of two Redis lists, following
// the standard reliable-transfer pattern: producers RPUSH onto
// QueueKey, and Transfer atomically
// moves an item from the tail of QueueKey onto the head of
// ProcessingKey via BRPOPLPUSH. An item only leaves ProcessingKey
// once Ack removes it with LREM; until then it survives a consumer
// crash and is recoverable by a watchdog scan.
type RedisQueue struct {
	Client        redis.UniversalClient
	QueueKey      string
	ProcessingKey string
}

var _ Queue = (*RedisQueue)(nil)

// NewRedisQueue returns a RedisQueue using client and the given key names.
func NewRedisQueue(client redis.UniversalClient, queueKey, processingKey string) *RedisQueue {
	return &RedisQueue{Client: client, QueueKey: queueKey, ProcessingKey: processingKey}
}

// Push implements Queue.
func (q *RedisQueue) Push(ctx context.Context, raw []byte) error {
	if err := q.Client.RPush(ctx, q.QueueKey, raw).Err(); err != nil {
		return fmt.Errorf("queue: push: %w", err)
	}
	return nil
}

// Transfer implements Queue using BRPOPLPUSH. Redis requires a
// positive timeout in whole seconds for blocking list commands; a
// timeout under a second is rounded up so callers never get a
// same-instant false timeout.
func (q *RedisQueue) Transfer(ctx context.Context, timeout time.Duration) (*Item, error) {
	secs := timeout.Round(time.Second)
	if secs <= 0 {
		secs = time.Second
	}
	raw, err := q.Client.BRPopLPush(ctx, q.QueueKey, q.ProcessingKey, secs).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("queue: transfer: %w", err)
	}
	return &Item{Raw: raw, EnqueuedAt: time.Now().UTC()}, nil
}

// Ack implements Queue by removing one matching occurrence of the
// item from the in-flight list.
func (q *RedisQueue) Ack(ctx context.Context, item *Item) error {
	if err := q.Client.LRem(ctx, q.ProcessingKey, 1, item.Raw).Err(); err != nil {
		return fmt.Errorf("queue: ack: %w", err)
	}
	return nil
}

// Requeue implements Queue by removing the item from the in-flight
// list and pushing it back onto the tail of the main queue, so a
// future Transfer redelivers it in roughly the order it was first
// seen.
func (q *RedisQueue) Requeue(ctx context.Context, item *Item) error {
	if err := q.Client.LRem(ctx, q.ProcessingKey, 1, item.Raw).Err(); err != nil {
		return fmt.Errorf("queue: requeue: remove from processing: %w", err)
	}
	if err := q.Client.RPush(ctx, q.QueueKey, item.Raw).Err(); err != nil {
		return fmt.Errorf("queue: requeue: push to queue: %w", err)
	}
	return nil
}

// PendingCount implements Queue.
func (q *RedisQueue) PendingCount(ctx context.Context) (int64, error) {
	n, err := q.Client.LLen(ctx, q.ProcessingKey).Result()
	if err != nil {
		return 0, fmt.Errorf("queue: pending count: %w", err)
	}
	return n, nil
}

// ScanPending implements Queue by paging through the in-flight list
// with LRANGE. The list is small relative to Redis's working set
// (bounded by in-flight batches, not total throughput), so a full
// scan every watchdog tick is cheap.
func (q *RedisQueue) ScanPending(ctx context.Context, fn func(raw []byte) error) error {
	const pageSize = 200
	for start := int64(0); ; start += pageSize {
		vals, err := q.Client.LRange(ctx, q.ProcessingKey, start, start+pageSize-1).Result()
		if err != nil {
			return fmt.Errorf("queue: scan pending: %w", err)
		}
		for _, v := range vals {
			if err := fn([]byte(v)); err != nil {
				return err
			}
		}
		if int64(len(vals)) < pageSize {
			return nil
		}
	}
}

// Ping implements Queue.
func (q *RedisQueue) Ping(ctx context.Context) error {
	if err := q.Client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("queue: ping: %w", err)
	}
	return nil
}

// Close implements Queue.
func (q *RedisQueue) Close() error {
	return q.Client.Close()
}
