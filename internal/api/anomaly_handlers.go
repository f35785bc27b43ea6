package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/example/bgp-orchestrator/internal/anomaly"
	"github.com/example/bgp-orchestrator/internal/apierr"
)

type detectRequest struct {
	MetricName string                  `json:"metric_name"`
	Timestamps []time.Time             `json:"timestamps"`
	Values     []float64               `json:"values"`
	Device     string                  `json:"device"`
	Mode       anomaly.SeasonalityMode `json:"mode"`
}

// handleDetectAnomalies runs the seasonal detector against a caller-
// supplied series and persists whatever it flags.
func (s *Server) handleDetectAnomalies(w http.ResponseWriter, r *http.Request) {
	cid := correlationID(r)

	var req detectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, apierr.Validation(cid, "invalid request body: %v", err))
		return
	}
	if req.MetricName == "" {
		writeAPIError(w, apierr.Validation(cid, "metric_name is required"))
		return
	}
	if len(req.Timestamps) != len(req.Values) {
		writeAPIError(w, apierr.Validation(cid, "timestamps and values must be the same length"))
		return
	}
	mode := req.Mode
	if mode == "" {
		mode = anomaly.Additive
	}

	found := s.detector.Detect(req.MetricName, req.Timestamps, req.Values, mode, req.Device)

	records := make([]anomaly.Record, 0, len(found))
	for _, a := range found {
		id, err := s.anomalies.Insert(r.Context(), a)
		if err != nil {
			writeAPIError(w, apierr.Internal(cid, err))
			return
		}
		records = append(records, anomaly.Record{ID: id, Anomaly: a})
	}

	writeJSON(w, http.StatusOK, map[string]any{"anomalies": records})
}

func (s *Server) handleListAnomalies(w http.ResponseWriter, r *http.Request) {
	cid := correlationID(r)
	q := r.URL.Query()

	f := anomaly.Filters{
		MetricName: q.Get("metric_name"),
		Device:     q.Get("device"),
		Severity:   anomaly.Severity(q.Get("severity")),
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			writeAPIError(w, apierr.Validation(cid, "invalid limit %q", v))
			return
		}
		f.Limit = limit
	}

	// Default look-back window is 24h.
	lookback := 24 * time.Hour
	if v := q.Get("lookback_hours"); v != "" {
		hours, err := strconv.Atoi(v)
		if err != nil {
			writeAPIError(w, apierr.Validation(cid, "invalid lookback_hours %q", v))
			return
		}
		lookback = time.Duration(hours) * time.Hour
	}
	f.Since = time.Now().Add(-lookback)

	result, err := s.anomalies.Query(r.Context(), f)
	if err != nil {
		writeAPIError(w, apierr.Internal(cid, err))
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetAnomaly(w http.ResponseWriter, r *http.Request) {
	cid := correlationID(r)
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		writeAPIError(w, apierr.Validation(cid, "invalid id %q", raw))
		return
	}

	rec, err := s.anomalies.Get(r.Context(), cid, id)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
