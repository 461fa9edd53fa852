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
	"flag"
	"log"
	"os"

	"github.com/pulsegrid/heartbeat/internal/httpapi"
	"github.com/pulsegrid/heartbeat/producer"
	"github.com/pulsegrid/heartbeat/reader"
)

func runServe(args []string) {
	cmd := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := cmd.String("addr", "", "listen address (overrides LISTEN_ADDR)")
	if cmd.Parse(args) != nil {
		os.Exit(1)
	}

	logger := log.New(os.Stderr, "", log.Lshortfile)
	q := newQueue(logger)
	fs := newDataFS(logger)

	httpapi.Version = version
	srv := &httpapi.Server{
		Producer: &producer.Producer{Queue: q, Logf: logger.Printf},
		Reader:   &reader.Reader{FS: fs, Logf: logger.Printf},
		Queue:    q,
		FS:       fs,
		Logger:   logger,
	}

	listenAddr := *addr
	if listenAddr == "" {
		listenAddr = getenv("LISTEN_ADDR", ":8080")
	}

	ctx := waitForSignal()
	logger.Printf("heartbeatd serve %s listening on %s", version, listenAddr)
	if err := srv.ListenAndServe(ctx, listenAddr); err != nil {
		logger.Fatal(err)
	}
}
