package server

import (
	"net/http"

	"github.com/chatgate/chatgate/internal/compare"
	"github.com/chatgate/chatgate/internal/core"
	"github.com/chatgate/chatgate/internal/orchestrator"
)

const (
	minMessageLen = 1
	maxMessageLen = 50000
	minTemp       = 0.0
	maxTemp       = 2.0
)

type chatRequestBody struct {
	ConversationID string  `json:"conversation_id"`
	Message        string  `json:"message"`
	ModelID        string  `json:"model_id"`
	UseRAG         bool    `json:"use_rag"`
	Temperature    float64 `json:"temperature"`
}

// handleChatCompletion runs one turn through the orchestrator and streams
// the resulting ClientEvents as SSE, per spec §6.
func (s *server) handleChatCompletion(w http.ResponseWriter, r *http.Request) {
	var body chatRequestBody
	if !decodeJSON(w, r, &body) {
		return
	}
	if err := validateChatRequest(body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorResponse("streaming not supported"))
		return
	}

	writeSSEHeaders(w)
	flusher.Flush()

	sink := &sseSink{w: w, flusher: flusher}
	s.deps.Orchestrator.Run(r.Context(), orchestrator.ChatRequest{
		ConversationID: body.ConversationID,
		Message:        body.Message,
		ModelID:        body.ModelID,
		UseRAG:         body.UseRAG,
		Temperature:    body.Temperature,
	}, sink)
}

func validateChatRequest(body chatRequestBody) error {
	if len(body.Message) < minMessageLen || len(body.Message) > maxMessageLen {
		return core.ErrValidation
	}
	if body.Temperature < minTemp || body.Temperature > maxTemp {
		return core.ErrValidation
	}
	if body.ModelID == "" {
		return core.ErrValidation
	}
	return nil
}

type compareRequestBody struct {
	Prompt      string   `json:"prompt"`
	ModelIDs    []string `json:"model_ids"`
	Temperature float64  `json:"temperature"`
}

type compareSlotPayload struct {
	Slot         int             `json:"slot"`
	ModelID      string          `json:"model_id"`
	Text         string          `json:"text"`
	Citations    []core.Citation `json:"citations"`
	InputTokens  int             `json:"input_tokens"`
	OutputTokens int             `json:"output_tokens"`
	Error        string          `json:"error,omitempty"`
}

// handleCompareCompletion fans a single prompt out to 2 or 3 models
// concurrently (internal/compare) and streams one SSE "result" frame per
// slot, in requested-model order, followed by "done". Comparison turns
// never touch the Conversation Store or Cost Log (spec §4.6).
func (s *server) handleCompareCompletion(w http.ResponseWriter, r *http.Request) {
	var body compareRequestBody
	if !decodeJSON(w, r, &body) {
		return
	}
	if len(body.ModelIDs) < 2 || len(body.ModelIDs) > 3 {
		writeJSON(w, http.StatusBadRequest, errorResponse("model_ids must name 2 or 3 models"))
		return
	}
	if len(body.Prompt) < minMessageLen || len(body.Prompt) > maxMessageLen {
		writeJSON(w, http.StatusBadRequest, errorResponse("prompt length out of range"))
		return
	}
	if body.Temperature < minTemp || body.Temperature > maxTemp {
		writeJSON(w, http.StatusBadRequest, errorResponse("temperature out of range"))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorResponse("streaming not supported"))
		return
	}

	writeSSEHeaders(w)
	flusher.Flush()

	messages := []core.ChatMessage{{Role: core.RoleUser, Content: body.Prompt}}
	slots := compare.Run(r.Context(), s.deps.Router, messages, body.Temperature, body.ModelIDs)

	for i, slot := range slots {
		payload := compareSlotPayload{
			Slot:         i,
			ModelID:      slot.ModelID,
			Text:         slot.Text,
			Citations:    slot.Citations,
			InputTokens:  slot.Input,
			OutputTokens: slot.Output,
		}
		if slot.Err != nil {
			payload.Error = slot.Err.Error()
		}
		writeSSEEvent(w, "result", payload)
		flusher.Flush()
	}
	writeSSEEvent(w, "done", map[string]string{"status": "complete"})
	flusher.Flush()
}
