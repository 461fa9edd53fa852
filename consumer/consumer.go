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

// Package consumer implements the batching drainer daemon: it pulls
// items off the durable queue, groups them by (user_id, date), and
// flushes each group to a part file, acking only what was durably
// written. The batch-accumulate-then-flush state machine here is
// generalized from a size-triggered byte-batch runner to a
// count/time-triggered sample batch.
package consumer

import (
	"context"
	"fmt"
	"time"

	"github.com/pulsegrid/heartbeat"
	"github.com/pulsegrid/heartbeat/internal/clock"
	"github.com/pulsegrid/heartbeat/producer"
	"github.com/pulsegrid/heartbeat/queue"
	"github.com/pulsegrid/heartbeat/storage"
)

// Default tunables for batch size, max accumulation time, and the
// blocking transfer poll interval.
const (
	DefaultMaxBatch     = 400
	DefaultMaxBatchTime = 5 * time.Second
	DefaultBRPopTimeout = time.Second
)

// Config holds the consumer's batching knobs.
type Config struct {
	MaxBatch     int
	MaxBatchTime time.Duration
	BRPopTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxBatch <= 0 {
		c.MaxBatch = DefaultMaxBatch
	}
	if c.MaxBatchTime <= 0 {
		c.MaxBatchTime = DefaultMaxBatchTime
	}
	if c.BRPopTimeout <= 0 {
		c.BRPopTimeout = DefaultBRPopTimeout
	}
	return c
}

// entry pairs a raw queue payload with its decoded sample, so a
// flush can ack exactly the raw bytes the queue expects back.
type entry struct {
	item   *queue.Item
	sample heartbeat.QueuedSample
}

type groupKey struct {
	userID string
	date   string
}

// Consumer drains Queue into part files under FS, batching by Config's
// size and time thresholds and grouping by (user_id, date).
type Consumer struct {
	Queue  queue.Queue
	FS     storage.PartFS
	Config Config

	// Logf is used for diagnostic logging. Logf may be nil.
	Logf func(string, ...any)

	batch     []entry
	lastFlush time.Time
}

func (c *Consumer) logf(f string, args ...any) {
	if c.Logf != nil {
		c.Logf(f, args...)
	}
}

// Loop runs the consumer's state machine until ctx is canceled, at
// which point it performs one final flush (the DRAIN state) before
// returning.
func (c *Consumer) Loop(ctx context.Context) error {
	c.Config = c.Config.withDefaults()
	c.lastFlush = time.Now()

	for {
		select {
		case <-ctx.Done():
			c.flush(context.Background())
			return ctx.Err()
		default:
		}

		item, err := c.Queue.Transfer(ctx, c.Config.BRPopTimeout)
		if err != nil {
			if ctx.Err() != nil {
				c.flush(context.Background())
				return ctx.Err()
			}
			c.logf("consumer: transfer error: %v", err)
			continue
		}
		if item != nil {
			qs, err := producer.Decode(item.Raw)
			if err != nil {
				c.logf("consumer: dropping corrupt item: %v", err)
				if ackErr := c.Queue.Ack(ctx, item); ackErr != nil {
					c.logf("consumer: failed to ack corrupt item: %v", ackErr)
				}
			} else {
				c.batch = append(c.batch, entry{item: item, sample: qs})
			}
		}

		if c.shouldFlush() {
			c.flush(ctx)
		}
	}
}

func (c *Consumer) shouldFlush() bool {
	if len(c.batch) == 0 {
		return false
	}
	if len(c.batch) >= c.Config.MaxBatch {
		return true
	}
	return time.Since(c.lastFlush) >= c.Config.MaxBatchTime
}

// flush groups the in-memory batch by (user_id, date) and writes one
// part file per group, acking only the items in groups that wrote
// successfully.
func (c *Consumer) flush(ctx context.Context) {
	defer func() {
		c.batch = nil
		c.lastFlush = time.Now()
	}()
	if len(c.batch) == 0 {
		return
	}

	groups := make(map[groupKey][]entry)
	order := make([]groupKey, 0, len(c.batch))
	for _, e := range c.batch {
		k := groupKey{userID: e.sample.UserID, date: clock.DateString(e.sample.TimestampMs)}
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], e)
	}

	for _, k := range order {
		entries := groups[k]
		if err := c.flushGroup(ctx, k, entries); err != nil {
			c.logf("consumer: flush failed for user=%s date=%s: %v; %d items remain in-flight", k.userID, k.date, err, len(entries))
			continue
		}
		for _, e := range entries {
			if err := c.Queue.Ack(ctx, e.item); err != nil {
				c.logf("consumer: ack failed for user=%s date=%s: %v", k.userID, k.date, err)
			}
		}
	}
}

func (c *Consumer) flushGroup(_ context.Context, k groupKey, entries []entry) error {
	rows := make([]storage.Row, len(entries))
	for i, e := range entries {
		rows[i] = storage.FromSample(e.sample.Sample())
	}
	buf, err := storage.EncodeRows(rows)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	path := storage.PartPath(k.date, k.userID)
	if _, err := c.FS.WriteFile(path, buf); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	c.logf("consumer: wrote part %s (%d rows) for user=%s date=%s", path, len(rows), k.userID, k.date)
	return nil
}
