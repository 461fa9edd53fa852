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

// Package clock centralizes timestamp handling for the whole
// pipeline: every conversion between wall-clock time, UTC epoch
// milliseconds, and ISO-8601 strings happens here and nowhere else.
// Everything downstream of the HTTP edge works exclusively in epoch
// milliseconds.
package clock

import (
	"fmt"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

// Now returns the current UTC epoch milliseconds.
func Now() int64 {
	return ToEpochMs(time.Now())
}

// ToEpochMs converts t to UTC epoch milliseconds.
func ToEpochMs(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

// FromEpochMs converts UTC epoch milliseconds to a time.Time in UTC.
func FromEpochMs(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// DateString returns the YYYY-MM-DD UTC date that ms falls on. This
// is the partition key used for the data/<date>/user-<id>/ layout.
func DateString(ms int64) string {
	return FromEpochMs(ms).Format(dateLayout)
}

// ParseDate parses a YYYY-MM-DD string as produced by DateString.
func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(dateLayout, s, time.UTC)
}

// ParseISO8601 parses an ISO-8601 / RFC3339 timestamp and returns UTC
// epoch milliseconds. It tolerates the handful of malformed variants
// observed in the original producer: a bare "Z" appended to an
// already-offset timestamp (e.g. "...+00:00Z"), and a timestamp with
// no timezone component at all, which is interpreted as UTC.
func ParseISO8601(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("clock: empty timestamp")
	}
	// "...+00:00Z" style duplicated UTC markers: drop a trailing "Z"
	// if the timestamp already carries an explicit numeric offset.
	if len(s) > 6 && strings.HasSuffix(s, "Z") {
		body := s[:len(s)-1]
		if off := len(body) - 6; off > 0 && (body[off] == '+' || body[off] == '-') && body[off+3] == ':' {
			s = body
		}
	}
	for _, layout := range []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02T15:04:05.999999999",
	} {
		t, err := time.Parse(layout, s)
		if err == nil {
			if !strings.ContainsAny(layout, "Z07") {
				// naive input: interpret as UTC
				t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
			}
			return ToEpochMs(t), nil
		}
	}
	return 0, fmt.Errorf("clock: unrecognized timestamp %q", s)
}

// FormatISO8601 renders ms as "YYYY-MM-DDTHH:MM:SSZ", the exact
// format the reader emits in query responses.
func FormatISO8601(ms int64) string {
	return FromEpochMs(ms).Format("2006-01-02T15:04:05Z")
}

// TruncateMinute rounds ms down to the start of its UTC minute.
func TruncateMinute(ms int64) int64 {
	const minuteMs = int64(60_000)
	if ms >= 0 {
		return ms - ms%minuteMs
	}
	// floor division for negative inputs (epochs before 1970),
	// kept for completeness even though samples predating the
	// epoch are not expected in practice.
	m := ms % minuteMs
	if m != 0 {
		m += minuteMs
	}
	return ms - m
}
