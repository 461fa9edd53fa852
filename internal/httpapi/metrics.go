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

package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/pulsegrid/heartbeat"
	"github.com/pulsegrid/heartbeat/internal/clock"
	"github.com/pulsegrid/heartbeat/producer"
	"github.com/pulsegrid/heartbeat/reader"
)

func (s *Server) metricsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.postMetrics(w, r)
	case http.MethodGet:
		s.getMetrics(w, r)
	}
}

func (s *Server) postMetrics(w http.ResponseWriter, r *http.Request) {
	var in producer.RawInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, errorBody(err))
		return
	}
	sample, err := producer.Parse(in)
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, errorBody(err))
		return
	}
	if err := s.Producer.Enqueue(r.Context(), sample); err != nil {
		var ve *heartbeat.ValidationError
		if errors.As(err, &ve) {
			writeJSON(w, http.StatusUnprocessableEntity, errorBody(err))
			return
		}
		writeJSON(w, http.StatusInternalServerError, errorBody(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

func (s *Server) getMetrics(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID := q.Get("user_id")
	startStr := q.Get("start")
	endStr := q.Get("end")
	deviceID := q.Get("device_id")

	if userID == "" || startStr == "" || endStr == "" {
		writeJSON(w, http.StatusBadRequest, errorBody(errors.New("user_id, start, and end are required")))
		return
	}
	startMs, err := clock.ParseISO8601(startStr)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err))
		return
	}
	endMs, err := clock.ParseISO8601(endStr)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err))
		return
	}
	query := reader.Query{UserID: userID, StartMs: startMs, EndMs: endMs, DeviceID: deviceID}
	if err := reader.Validate(query); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err))
		return
	}

	points, err := s.Reader.Run(r.Context(), query)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id": userID,
		"data":    reader.FormatPoints(points),
		"count":   len(points),
	})
}

func errorBody(err error) map[string]string {
	return map[string]string{"error": err.Error()}
}
