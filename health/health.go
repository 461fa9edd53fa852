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

// Package health reports, but never remediates, the two dependencies
// the system needs to make progress: the queue store and the data
// directory. It follows the common liveness-probe idiom: a cheap
// check with no side effects beyond the probe itself.
package health

import (
	"context"

	"github.com/pulsegrid/heartbeat/queue"
	"github.com/pulsegrid/heartbeat/storage"
)

// Status is the overall health verdict.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
)

// Report is the response shape returned by the /health endpoint.
type Report struct {
	Status Status          `json:"status"`
	Checks map[string]bool `json:"checks"`
}

const probeFile = ".health-probe"

// Check pings q and performs a probe write+delete against fsys,
// reporting each independently. The overall Status is healthy only
// if both checks pass.
func Check(ctx context.Context, q queue.Queue, fsys storage.PartFS) Report {
	checks := map[string]bool{
		"service": true,
		"queue":   q.Ping(ctx) == nil,
		"storage": probeStorage(fsys) == nil,
	}
	status := StatusHealthy
	for _, ok := range checks {
		if !ok {
			status = StatusUnhealthy
			break
		}
	}
	return Report{Status: status, Checks: checks}
}

func probeStorage(fsys storage.PartFS) error {
	if _, err := fsys.WriteFile(probeFile, []byte("ok")); err != nil {
		return err
	}
	return fsys.Remove(probeFile)
}
