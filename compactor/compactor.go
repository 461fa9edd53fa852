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

// Package compactor merges accumulated part files into a single
// compacted.parquet per (user, date) and archives the parts it
// consumed. It is the Go shape of db/gc.go and db/merge.go's
// list-snapshot-merge-replace cycle, generalized from Sneller's
// blockfmt index format to this system's flat Parquet parts.
package compactor

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"sort"
	"time"

	"github.com/pulsegrid/heartbeat"
	"github.com/pulsegrid/heartbeat/storage"
)

// DefaultMinPartsToCompact and DefaultSleep are the compactor's
// default thresholds.
const (
	DefaultMinPartsToCompact = 5
	DefaultSleep             = 300 * time.Second
)

// Config holds the compactor's tunables.
type Config struct {
	MinPartsToCompact int
	Sleep             time.Duration
}

func (c Config) withDefaults() Config {
	if c.MinPartsToCompact <= 0 {
		c.MinPartsToCompact = DefaultMinPartsToCompact
	}
	if c.Sleep <= 0 {
		c.Sleep = DefaultSleep
	}
	return c
}

// Compactor merges part files into compacted.parquet under DataFS and
// moves consumed parts into ArchiveFS.
type Compactor struct {
	DataFS    storage.PartFS
	ArchiveFS storage.PartFS
	Config    Config

	// Logf is used for diagnostic logging. Logf may be nil.
	Logf func(string, ...any)
}

func (c *Compactor) logf(f string, args ...any) {
	if c.Logf != nil {
		c.Logf(f, args...)
	}
}

// Run loops every Config.Sleep, calling RunOnce, until ctx is canceled.
func (c *Compactor) Run(ctx context.Context) error {
	c.Config = c.Config.withDefaults()
	for {
		if err := c.RunOnce(ctx); err != nil {
			c.logf("compactor: cycle error: %v", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.Config.Sleep):
		}
	}
}

// RunOnce performs a single compaction pass over every (user, date)
// partition found under DataFS.
func (c *Compactor) RunOnce(ctx context.Context) error {
	c.Config = c.Config.withDefaults()
	partitions, err := storage.DiscoverPartitions(c.DataFS)
	if err != nil {
		return fmt.Errorf("compactor: discover partitions: %w", err)
	}
	for _, p := range partitions {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := c.compactOne(p); err != nil {
			c.logf("compactor: %s: %v", p.Dir, err)
		}
	}
	return nil
}

// compactOne snapshots, merges, writes, and archives the parts of a
// single partition.
func (c *Compactor) compactOne(p storage.Partition) error {
	entries, err := c.DataFS.ReadDir(p.Dir)
	if err != nil {
		return fmt.Errorf("list %s: %w", p.Dir, err)
	}

	var partNames []string
	hasCompacted := false
	for _, e := range entries {
		switch {
		case e.Name() == storage.CompactedName:
			hasCompacted = true
		case storage.IsPartName(e.Name()):
			partNames = append(partNames, e.Name())
		}
	}

	if len(partNames) < c.Config.MinPartsToCompact {
		return nil
	}

	// Step 2: snapshot is simply partNames above, fixed before any read.
	var rows []storage.Row
	if hasCompacted {
		existing, err := readParquet(c.DataFS, path(p.Dir, storage.CompactedName))
		if err != nil {
			c.logf("compactor: skip unreadable %s: %v", storage.CompactedName, err)
		} else {
			rows = append(rows, existing...)
		}
	}

	var consumed []string
	for _, name := range partNames {
		partRows, err := readParquet(c.DataFS, path(p.Dir, name))
		if err != nil {
			c.logf("compactor: skip unreadable part %s: %v", name, err)
			continue
		}
		rows = append(rows, partRows...)
		consumed = append(consumed, name)
	}

	merged := mergeRows(rows)

	buf, err := storage.EncodeRows(merged)
	if err != nil {
		return fmt.Errorf("encode merged rows: %w", err)
	}
	if _, err := c.DataFS.WriteFile(path(p.Dir, storage.CompactedName), buf); err != nil {
		return fmt.Errorf("write %s: %w", storage.CompactedName, err)
	}

	for _, name := range consumed {
		if err := c.archive(p, name); err != nil {
			c.logf("compactor: failed to archive %s: %v", name, err)
		}
	}
	c.logf("compactor: compacted %s: %d parts -> %d rows", p.Dir, len(consumed), len(merged))
	return nil
}

// mergeRows joins device priority, sorts by (timestamp_ms, priority),
// and keeps one row per timestamp_ms.
func mergeRows(rows []storage.Row) []storage.Row {
	sort.SliceStable(rows, func(i, j int) bool {
		pi, pj := heartbeat.Priority(rows[i].DeviceID), heartbeat.Priority(rows[j].DeviceID)
		if rows[i].TimestampMs != rows[j].TimestampMs {
			return rows[i].TimestampMs < rows[j].TimestampMs
		}
		return pi < pj
	})

	out := make([]storage.Row, 0, len(rows))
	var lastTs int64
	haveLast := false
	for _, r := range rows {
		if haveLast && r.TimestampMs == lastTs {
			continue
		}
		out = append(out, r)
		lastTs = r.TimestampMs
		haveLast = true
	}
	return out
}

// archive moves a consumed part into the archive tree, zstd
// compressing its bytes in place (storage.CompressForArchive). The
// part's file name on the archive side gains the .done suffix but is
// otherwise unchanged.
func (c *Compactor) archive(p storage.Partition, name string) error {
	f, err := c.DataFS.Open(path(p.Dir, name))
	if err != nil {
		return fmt.Errorf("open for archive: %w", err)
	}
	raw, err := readAll(f)
	closeErr := f.Close()
	if err != nil {
		return fmt.Errorf("read for archive: %w", err)
	}
	if closeErr != nil {
		return fmt.Errorf("close after archive read: %w", closeErr)
	}

	compressed := storage.CompressForArchive(raw)
	dest := storage.ArchivePath(p.Date, p.UserID, name)
	if _, err := c.ArchiveFS.WriteFile(dest, compressed); err != nil {
		return fmt.Errorf("write archive %s: %w", dest, err)
	}
	if err := c.DataFS.Remove(path(p.Dir, name)); err != nil {
		return fmt.Errorf("remove consumed part %s: %w", name, err)
	}
	return nil
}

func path(dir, name string) string {
	if dir == "." || dir == "" {
		return name
	}
	return dir + "/" + name
}

func readParquet(fsys storage.PartFS, name string) ([]storage.Row, error) {
	f, err := fsys.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	ra, ok := f.(io.ReaderAt)
	if !ok {
		return nil, fmt.Errorf("%s: underlying file does not implement io.ReaderAt", name)
	}
	return storage.DecodeRows(ra, info.Size())
}

func readAll(f fs.File) ([]byte, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, info.Size())
	if _, err := io.ReadFull(f, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
