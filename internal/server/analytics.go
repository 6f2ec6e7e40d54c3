package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/chatgate/chatgate/internal/core"
)

const (
	minAnalyticsDays = 1
	maxAnalyticsDays = 365
	defaultAnalyticsDays = 30
)

type analyticsEventBody struct {
	EventType string          `json:"event_type"`
	EventData json.RawMessage `json:"event_data"`
}

// handleAnalyticsEvent appends one analytics row. Recording is
// fire-and-forget: if an AnalyticsRecorder is wired the event is enqueued
// without waiting on the flush; otherwise it is written inline best-effort.
func (s *server) handleAnalyticsEvent(w http.ResponseWriter, r *http.Request) {
	var body analyticsEventBody
	if !decodeJSON(w, r, &body) {
		return
	}
	if body.EventType == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse("event_type is required"))
		return
	}

	data := string(body.EventData)
	if data == "" {
		data = "{}"
	}
	event := &core.AnalyticsEvent{EventType: body.EventType, EventData: data}

	if s.deps.Analytics != nil {
		s.deps.Analytics.Record(event)
	} else if s.deps.Store != nil {
		_ = s.deps.Store.InsertEvent(r.Context(), event)
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleAnalyticsSummary aggregates event counts by type over the trailing
// 1-365 day window.
func (s *server) handleAnalyticsSummary(w http.ResponseWriter, r *http.Request) {
	days := defaultAnalyticsDays
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < minAnalyticsDays || n > maxAnalyticsDays {
			writeJSON(w, http.StatusBadRequest, errorResponse("days must be between 1 and 365"))
			return
		}
		days = n
	}

	counts, err := s.deps.Store.SummarizeEvents(r.Context(), days)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"days":        days,
		"event_counts": counts,
	})
}
