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

package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"

	"github.com/pulsegrid/heartbeat/compactor"
)

func runCompact(args []string) {
	cmd := flag.NewFlagSet("compact", flag.ExitOnError)
	once := cmd.Bool("once", false, "run a single compaction pass and exit")
	if cmd.Parse(args) != nil {
		os.Exit(1)
	}

	logger := log.New(os.Stderr, "", log.Lshortfile)
	dataFS := newDataFS(logger)
	archiveFS := newArchiveFS(logger)

	c := &compactor.Compactor{
		DataFS:    dataFS,
		ArchiveFS: archiveFS,
		Config: compactor.Config{
			MinPartsToCompact: getenvInt("MIN_PARTS_TO_COMPACT", compactor.DefaultMinPartsToCompact),
			Sleep:             getenvFloatSeconds("COMPACT_SLEEP_SECONDS", compactor.DefaultSleep),
		},
		Logf: logger.Printf,
	}

	if *once {
		if err := c.RunOnce(context.Background()); err != nil {
			logger.Fatal(err)
		}
		return
	}

	ctx := waitForSignal()
	logger.Printf("heartbeatd compact %s started", version)
	if err := c.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal(err)
	}
}
