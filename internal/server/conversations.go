package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/chatgate/chatgate/internal/core"
)

type createConversationBody struct {
	ModelID      string `json:"model_id"`
	Title        string `json:"title"`
	SystemPrompt string `json:"system_prompt"`
}

// handleCreateConversation creates a conversation row ahead of the first
// turn (the orchestrator itself creates one lazily when no id is given;
// this endpoint lets a client pre-create one with a custom system prompt).
func (s *server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var body createConversationBody
	if !decodeJSON(w, r, &body) {
		return
	}
	if body.ModelID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse("model_id is required"))
		return
	}

	conv := &core.Conversation{
		ID:           uuid.NewString(),
		Title:        body.Title,
		ModelID:      body.ModelID,
		SystemPrompt: body.SystemPrompt,
	}
	if err := s.deps.Store.CreateConversation(r.Context(), conv); err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (s *server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	convs, err := s.deps.Store.ListConversations(r.Context())
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	if convs == nil {
		convs = []*core.Conversation{}
	}
	writeJSON(w, http.StatusOK, convs)
}

func (s *server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	conv, err := s.deps.Store.GetConversation(r.Context(), id)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (s *server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.deps.Store.GetConversation(r.Context(), id); err != nil {
		writeStoreError(w, r, err)
		return
	}
	msgs, err := s.deps.Store.ListMessages(r.Context(), id)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	if msgs == nil {
		msgs = []*core.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

type updateSystemPromptBody struct {
	SystemPrompt string `json:"system_prompt"`
}

func (s *server) handleUpdateSystemPrompt(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body updateSystemPromptBody
	if !decodeJSON(w, r, &body) {
		return
	}
	if err := s.deps.Store.UpdateSystemPrompt(r.Context(), id, body.SystemPrompt); err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.deps.Store.DeleteConversation(r.Context(), id); err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
