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
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pulsegrid/heartbeat/queue"
)

// Default watchdog tunables (SPEC_FULL.md §6).
const (
	DefaultWatchdogStaleAfter = 10 * time.Minute
	DefaultWatchdogInterval   = 30 * time.Second
)

// Watchdog recovers items stranded in the in-flight list by a
// consumer that crashed (or was killed) between Transfer and Ack.
// Recovery policy is otherwise left unspecified by the reliable-
// transfer queue protocol, which guarantees only that nothing is
// dropped, not that it is eventually reprocessed.
//
// Items in the in-flight list are opaque JSON; there is no reliable
// first-seen timestamp to read back off them without assuming a
// schema the queue itself doesn't require. Instead the watchdog keeps
// its own side record, a Redis hash mapping a content hash of each
// raw item to the unix-ms it was first observed there. A hash entry
// is removed once the corresponding item leaves the in-flight list,
// whether by Ack or by the watchdog's own Requeue.
type Watchdog struct {
	Queue      *queue.RedisQueue
	SeenKey    string // Redis hash key for first-seen tracking
	StaleAfter time.Duration
	Interval   time.Duration

	// Logf is used for diagnostic logging. Logf may be nil.
	Logf func(string, ...any)
}

func (w *Watchdog) logf(f string, args ...any) {
	if w.Logf != nil {
		w.Logf(f, args...)
	}
}

func (w *Watchdog) withDefaults() {
	if w.StaleAfter <= 0 {
		w.StaleAfter = DefaultWatchdogStaleAfter
	}
	if w.Interval <= 0 {
		w.Interval = DefaultWatchdogInterval
	}
	if w.SeenKey == "" {
		w.SeenKey = w.Queue.ProcessingKey + ":first-seen"
	}
}

func itemDigest(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// Run scans the in-flight list every Interval until ctx is canceled.
func (w *Watchdog) Run(ctx context.Context) error {
	w.withDefaults()
	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.sweep(ctx); err != nil {
				w.logf("watchdog: sweep error: %v", err)
			}
		}
	}
}

// sweep performs one pass: it records first-seen times for newly
// observed in-flight items, requeues any that have aged past
// StaleAfter, and prunes first-seen entries for items that are no
// longer in flight (because they were acked or already requeued).
func (w *Watchdog) sweep(ctx context.Context) error {
	now := time.Now().UTC()
	seen := make(map[string][]byte)

	err := w.Queue.ScanPending(ctx, func(raw []byte) error {
		seen[itemDigest(raw)] = raw
		return nil
	})
	if err != nil {
		return err
	}

	firstSeen, err := w.Queue.Client.HGetAll(ctx, w.SeenKey).Result()
	if err != nil {
		return err
	}

	for digest, raw := range seen {
		tsStr, tracked := firstSeen[digest]
		if !tracked {
			if err := w.Queue.Client.HSet(ctx, w.SeenKey, digest, now.UnixMilli()).Err(); err != nil {
				w.logf("watchdog: failed to record first-seen for %s: %v", digest, err)
			}
			continue
		}
		ts, err := strconv.ParseInt(tsStr, 10, 64)
		if err != nil {
			continue
		}
		age := now.Sub(time.UnixMilli(ts))
		if age < w.StaleAfter {
			continue
		}
		item := &queue.Item{Raw: raw, EnqueuedAt: now}
		if err := w.Queue.Requeue(ctx, item); err != nil {
			w.logf("watchdog: requeue failed for %s: %v", digest, err)
			continue
		}
		w.logf("watchdog: requeued item stuck in-flight for %s", age)
		if err := w.Queue.Client.HDel(ctx, w.SeenKey, digest).Err(); err != nil {
			w.logf("watchdog: failed to clear first-seen for %s: %v", digest, err)
		}
	}

	// Prune first-seen entries for items no longer in flight.
	for digest := range firstSeen {
		if _, ok := seen[digest]; !ok {
			if err := w.Queue.Client.HDel(ctx, w.SeenKey, digest).Err(); err != nil && err != redis.Nil {
				w.logf("watchdog: failed to prune first-seen for %s: %v", digest, err)
			}
		}
	}
	return nil
}
