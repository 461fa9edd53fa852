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
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pulsegrid/heartbeat/queue"
	"github.com/pulsegrid/heartbeat/storage"
)

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvFloatSeconds(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return time.Duration(f * float64(time.Second))
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// newQueue builds the RedisQueue shared by every sub-command from
// QUEUE_URL, QUEUE_KEY, and PROCESSING_KEY.
func newQueue(logger *log.Logger) *queue.RedisQueue {
	url := getenv("QUEUE_URL", "redis://localhost:6379/0")
	opts, err := redis.ParseURL(url)
	if err != nil {
		logger.Fatalf("invalid QUEUE_URL %q: %v", url, err)
	}
	client := redis.NewClient(opts)
	return queue.NewRedisQueue(
		client,
		getenv("QUEUE_KEY", "heartbeat:queue"),
		getenv("PROCESSING_KEY", "heartbeat:processing"),
	)
}

// newDataFS and newArchiveFS build the local filesystem backends from
// DATA_DIR and ARCHIVE_DIR.
func newDataFS(logger *log.Logger) *storage.LocalFS {
	fs, err := storage.NewLocalFS(getenv("DATA_DIR", "data"))
	if err != nil {
		logger.Fatalf("unable to initialize DATA_DIR: %v", err)
	}
	return fs
}

func newArchiveFS(logger *log.Logger) *storage.LocalFS {
	fs, err := storage.NewLocalFS(getenv("ARCHIVE_DIR", "archive"))
	if err != nil {
		logger.Fatalf("unable to initialize ARCHIVE_DIR: %v", err)
	}
	return fs
}

// waitForSignal returns immediately with a context that is canceled
// when SIGINT or SIGTERM arrives, mirroring cmd/snellerd/run_daemon.go's
// shutdown handling.
func waitForSignal() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		cancel()
	}()
	return ctx
}
