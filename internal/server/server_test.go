package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/chatgate/chatgate/internal/budget"
	"github.com/chatgate/chatgate/internal/core"
	"github.com/chatgate/chatgate/internal/orchestrator"
	"github.com/chatgate/chatgate/internal/pricing"
	"github.com/chatgate/chatgate/internal/router"
	"github.com/chatgate/chatgate/internal/testutil"
)

// sseEvent is one parsed "event: <name>\ndata: <payload>\n\n" frame.
type sseEvent struct {
	Name string
	Data string
}

func parseSSE(t *testing.T, body string) []sseEvent {
	t.Helper()
	var events []sseEvent
	scanner := bufio.NewScanner(strings.NewReader(body))
	var cur sseEvent
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			cur.Name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			cur.Data = strings.TrimPrefix(line, "data: ")
		case line == "":
			if cur.Name != "" {
				events = append(events, cur)
			}
			cur = sseEvent{}
		}
	}
	return events
}

func newTestDeps(t *testing.T, provider core.Provider, capUSD float64) (*server, *testutil.FakeStore) {
	t.Helper()
	store := testutil.NewFakeStore()
	r := router.New(
		[]core.ModelInfo{{ID: "gpt-4o", Provider: "openai"}},
		map[string]core.Provider{"openai": provider},
	)
	book := pricing.NewBook(map[string]pricing.Rate{
		"gpt-4o": {InputPer1M: 2.50, OutputPer1M: 10.00},
	})
	gate := budget.New(store, capUSD)
	orch := orchestrator.New(store, r, nil, book, gate)
	return &server{deps: Deps{Orchestrator: orch, Router: r, Store: store}}, store
}

func TestHandleChatCompletionHappyPath(t *testing.T) {
	provider := &testutil.FakeProvider{ProviderName: "openai", Events: []core.StreamEvent{
		{Kind: core.EventTextDelta, Text: "Hello"},
		core.NewFinal(10, 5, nil),
	}}
	s, _ := newTestDeps(t, provider, 0)

	body, _ := json.Marshal(chatRequestBody{Message: "hi", ModelID: "gpt-4o", Temperature: 0.7})
	req := httptest.NewRequest(http.MethodPost, "/chat/completions", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	s.handleChatCompletion(rec, req)

	events := parseSSE(t, rec.Body.String())
	if len(events) < 3 {
		t.Fatalf("expected at least 3 events, got %+v", events)
	}
	if events[0].Name != orchestrator.EventConversation {
		t.Fatalf("expected first event conversation, got %s", events[0].Name)
	}
	last := events[len(events)-1]
	if last.Name != orchestrator.EventDone {
		t.Fatalf("expected last event done, got %s", last.Name)
	}
}

func TestHandleChatCompletionValidation(t *testing.T) {
	s, _ := newTestDeps(t, &testutil.FakeProvider{ProviderName: "openai"}, 0)

	cases := []chatRequestBody{
		{Message: "", ModelID: "gpt-4o", Temperature: 1.0},
		{Message: "hi", ModelID: "gpt-4o", Temperature: 2.5},
		{Message: "hi", ModelID: "gpt-4o", Temperature: -0.1},
		{Message: strings.Repeat("a", 50001), ModelID: "gpt-4o", Temperature: 1.0},
		{Message: "hi", ModelID: "", Temperature: 1.0},
	}
	for _, c := range cases {
		body, _ := json.Marshal(c)
		req := httptest.NewRequest(http.MethodPost, "/chat/completions", bytes.NewReader(body))
		rec := httptest.NewRecorder()
		s.handleChatCompletion(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("case %+v: expected 400, got %d", c, rec.Code)
		}
	}
}

func TestHandleChatCompletionDailyCapRejection(t *testing.T) {
	provider := &testutil.FakeProvider{ProviderName: "openai", Events: []core.StreamEvent{
		{Kind: core.EventTextDelta, Text: "Hello"},
		core.NewFinal(10, 5, nil),
	}}
	s, store := newTestDeps(t, provider, 1.00)
	if err := store.InsertCostEntry(context.Background(), &core.CostEntry{ModelID: "gpt-4o", Operation: core.OpChat, CostUSD: 1.00}); err != nil {
		t.Fatalf("seed cost entry: %v", err)
	}

	body, _ := json.Marshal(chatRequestBody{Message: "hi", ModelID: "gpt-4o", Temperature: 0.7})
	req := httptest.NewRequest(http.MethodPost, "/chat/completions", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	s.handleChatCompletion(rec, req)

	events := parseSSE(t, rec.Body.String())
	if len(events) != 1 {
		t.Fatalf("expected exactly one event, got %+v", events)
	}
	if events[0].Name != orchestrator.EventError {
		t.Fatalf("expected error event, got %s", events[0].Name)
	}
	if !strings.Contains(events[0].Data, "Daily budget") {
		t.Fatalf("expected 'Daily budget' in error payload, got %s", events[0].Data)
	}
}

func TestHandleCompareCompletionIsolatesFailures(t *testing.T) {
	good := &testutil.FakeProvider{ProviderName: "openai", Events: []core.StreamEvent{
		{Kind: core.EventTextDelta, Text: "ok"},
		core.NewFinal(1, 1, nil),
	}}
	s, _ := newTestDeps(t, good, 0)
	bad := &testutil.FakeProvider{ProviderName: "anthropic", Err: context.DeadlineExceeded}
	s.deps.Router = router.New(
		[]core.ModelInfo{{ID: "gpt-4o", Provider: "openai"}, {ID: "claude-3", Provider: "anthropic"}},
		map[string]core.Provider{"openai": good, "anthropic": bad},
	)

	body, _ := json.Marshal(compareRequestBody{Prompt: "hi", ModelIDs: []string{"gpt-4o", "claude-3"}, Temperature: 0.5})
	req := httptest.NewRequest(http.MethodPost, "/compare/completions", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	s.handleCompareCompletion(rec, req)

	events := parseSSE(t, rec.Body.String())
	if len(events) != 3 {
		t.Fatalf("expected 2 results + done, got %+v", events)
	}
	if !strings.Contains(events[0].Data, `"text":"ok"`) {
		t.Fatalf("expected slot 0 to succeed: %s", events[0].Data)
	}
	if !strings.Contains(events[1].Data, `"error"`) {
		t.Fatalf("expected slot 1 to carry an error: %s", events[1].Data)
	}
	if events[2].Name != "done" {
		t.Fatalf("expected trailing done event, got %s", events[2].Name)
	}
}

func TestHandleCompareCompletionRejectsWrongModelCount(t *testing.T) {
	s, _ := newTestDeps(t, &testutil.FakeProvider{ProviderName: "openai"}, 0)

	body, _ := json.Marshal(compareRequestBody{Prompt: "hi", ModelIDs: []string{"gpt-4o"}, Temperature: 0.5})
	req := httptest.NewRequest(http.MethodPost, "/compare/completions", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	s.handleCompareCompletion(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a single model, got %d", rec.Code)
	}
}

func TestConversationCRUDRoundTrip(t *testing.T) {
	s, _ := newTestDeps(t, &testutil.FakeProvider{ProviderName: "openai"}, 0)
	handler := New(s.deps)

	createBody, _ := json.Marshal(createConversationBody{ModelID: "gpt-4o", Title: "t"})
	req := httptest.NewRequest(http.MethodPost, "/conversations", bytes.NewReader(createBody))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("create: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var created core.Conversation
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("unmarshal created conversation: %v", err)
	}
	if created.ID == "" {
		t.Fatal("expected a generated id")
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/conversations", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", rec.Code)
	}
	var list []*core.Conversation
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("unmarshal list: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 conversation, got %d", len(list))
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/conversations/"+created.ID, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/conversations/"+created.ID, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("delete: expected 200, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/conversations/"+created.ID, nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get after delete: expected 404, got %d", rec.Code)
	}
}

func TestHandleHealth(t *testing.T) {
	s, _ := newTestDeps(t, &testutil.FakeProvider{ProviderName: "openai"}, 0)
	handler := New(s.deps)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal health response: %v", err)
	}
	if resp.Status != "healthy" {
		t.Fatalf("expected healthy, got %s", resp.Status)
	}
}

func TestHandleAnalyticsEventAndSummary(t *testing.T) {
	s, _ := newTestDeps(t, &testutil.FakeProvider{ProviderName: "openai"}, 0)
	handler := New(s.deps)

	evBody, _ := json.Marshal(analyticsEventBody{EventType: "page_view", EventData: json.RawMessage(`{"page":"home"}`)})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/analytics/event", bytes.NewReader(evBody)))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/analytics/summary?days=7", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/analytics/summary?days=400", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for out-of-range days, got %d", rec.Code)
	}
}
