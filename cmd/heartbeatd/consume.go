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
	"sync"

	"github.com/pulsegrid/heartbeat/consumer"
)

func runConsume(args []string) {
	cmd := flag.NewFlagSet("consume", flag.ExitOnError)
	noWatchdog := cmd.Bool("no-watchdog", false, "disable the in-flight recovery watchdog")
	if cmd.Parse(args) != nil {
		os.Exit(1)
	}

	logger := log.New(os.Stderr, "", log.Lshortfile)
	q := newQueue(logger)
	fs := newDataFS(logger)

	c := &consumer.Consumer{
		Queue: q,
		FS:    fs,
		Config: consumer.Config{
			MaxBatch:     getenvInt("MAX_BATCH", consumer.DefaultMaxBatch),
			MaxBatchTime: getenvFloatSeconds("MAX_BATCH_TIME", consumer.DefaultMaxBatchTime),
			BRPopTimeout: getenvFloatSeconds("BRPOP_TIMEOUT", consumer.DefaultBRPopTimeout),
		},
		Logf: logger.Printf,
	}

	ctx := waitForSignal()
	logger.Printf("heartbeatd consume %s started", version)

	var wg sync.WaitGroup
	if !*noWatchdog {
		wd := &consumer.Watchdog{
			Queue:      q,
			StaleAfter: getenvFloatSeconds("WATCHDOG_STALE_AFTER", consumer.DefaultWatchdogStaleAfter),
			Interval:   getenvFloatSeconds("WATCHDOG_INTERVAL", consumer.DefaultWatchdogInterval),
			Logf:       logger.Printf,
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := wd.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Printf("watchdog exited: %v", err)
			}
		}()
	}

	if err := c.Loop(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal(err)
	}
	wg.Wait()
}
