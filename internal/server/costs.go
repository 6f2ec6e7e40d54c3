package server

import "net/http"

// handleCostsSummary returns totals plus a (operation, model_id) breakdown,
// scoped to one conversation if ?conversation_id= is set, otherwise global.
func (s *server) handleCostsSummary(w http.ResponseWriter, r *http.Request) {
	conversationID := r.URL.Query().Get("conversation_id")

	if conversationID != "" {
		sum, err := s.deps.Store.SummaryForConversation(r.Context(), conversationID)
		if err != nil {
			writeStoreError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, sum)
		return
	}

	sum, err := s.deps.Store.SummaryGlobal(r.Context())
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}
