package server

import "net/http"

type healthResponse struct {
	Status            string  `json:"status"`
	ConversationCount int     `json:"conversation_count"`
	TotalCostUSD      float64 `json:"total_cost_usd"`
}

// handleHealth reports status="starting" when the database is unreachable,
// otherwise "healthy" plus basic counts.
func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.ReadyCheck != nil {
		if err := s.deps.ReadyCheck(r.Context()); err != nil {
			writeJSON(w, http.StatusOK, healthResponse{Status: "starting"})
			return
		}
	}

	convs, err := s.deps.Store.ListConversations(r.Context())
	if err != nil {
		writeJSON(w, http.StatusOK, healthResponse{Status: "starting"})
		return
	}
	summary, err := s.deps.Store.SummaryGlobal(r.Context())
	if err != nil {
		writeJSON(w, http.StatusOK, healthResponse{Status: "starting"})
		return
	}

	writeJSON(w, http.StatusOK, healthResponse{
		Status:            "healthy",
		ConversationCount: len(convs),
		TotalCostUSD:      summary.TotalCostUSD,
	})
}
