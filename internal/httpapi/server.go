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

// Package httpapi exposes the producer and reader over HTTP. Its
// request dispatch (the handle wrapper: CORS headers, method
// allow-list, per-request logging) and JSON response helper are
// adapted from cmd/snellerd/helpers.go and cmd/snellerd/server.go.
package httpapi

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pulsegrid/heartbeat/health"
	"github.com/pulsegrid/heartbeat/producer"
	"github.com/pulsegrid/heartbeat/queue"
	"github.com/pulsegrid/heartbeat/reader"
	"github.com/pulsegrid/heartbeat/storage"
)

// Version is set by the daemon's build info and reported on every
// response via the X-Heartbeat-Version header.
var Version string

// Server serves the ingest and query HTTP surface.
type Server struct {
	Producer *producer.Producer
	Reader   *reader.Reader
	Queue    queue.Queue
	FS       storage.PartFS
	Logger   *log.Logger

	srv http.Server
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics/heart-rate", s.handle(s.metricsHandler, http.MethodGet, http.MethodPost))
	mux.HandleFunc("/health", s.handle(s.healthHandler, http.MethodGet))
	return mux
}

// ListenAndServe starts the server on addr and blocks until ctx is
// canceled, at which point it shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	s.srv.Addr = addr
	s.srv.Handler = s.Handler()

	errc := make(chan error, 1)
	go func() { errc <- s.srv.ListenAndServe() }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) logf(format string, args ...any) {
	if s.Logger != nil {
		s.Logger.Printf(format, args...)
	}
}

// handle wraps a route handler with logging, CORS headers, and a
// method allow-list, exactly the shape of cmd/snellerd's
// (*server).handle.
func (s *Server) handle(fn func(http.ResponseWriter, *http.Request), methods ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()

		remote := r.RemoteAddr
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			parts := strings.Split(fwd, ",")
			remote = strings.TrimSpace(parts[len(parts)-1])
		}
		if host, _, err := net.SplitHostPort(remote); err == nil {
			remote = host
		}
		s.logf("%s %s from %s", r.Method, r.URL.Path, remote)

		if Version != "" {
			w.Header().Set("X-Heartbeat-Version", Version)
		}
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		for _, m := range methods {
			if r.Method == m {
				fn(w, r)
				return
			}
		}
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// writeJSON mirrors cmd/snellerd/helpers.go's writeResultResponse.
func writeJSON(w http.ResponseWriter, status int, v any) {
	result, err := json.Marshal(v)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(result)))
	w.WriteHeader(status)
	w.Write(result)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	report := health.Check(r.Context(), s.Queue, s.FS)
	status := http.StatusOK
	if report.Status != health.StatusHealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}
