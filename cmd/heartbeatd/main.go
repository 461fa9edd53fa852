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

// Command heartbeatd runs the heart-rate ingest pipeline: serve (HTTP
// producer/reader), consume (batching drainer), or compact (periodic
// merge). Each sub-command is its own long-running process; the three
// communicate only through the queue and the shared data directory.
package main

import (
	"fmt"
	"os"
)

var version = "development"

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: heartbeatd <serve|consume|compact> [flags]")
		os.Exit(1)
	}
	args := os.Args[2:]
	switch os.Args[1] {
	case "serve":
		runServe(args)
	case "consume":
		runConsume(args)
	case "compact":
		runCompact(args)
	default:
		fmt.Fprintf(os.Stderr, "invalid sub-command %q\n", os.Args[1])
		os.Exit(1)
	}
}
