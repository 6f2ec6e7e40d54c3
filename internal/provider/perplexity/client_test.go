package perplexity

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/chatgate/chatgate/internal/core"
)

func drain(ch <-chan core.StreamEvent) []core.StreamEvent {
	var out []core.StreamEvent
	for ev := range ch {
		out = append(out, ev)
	}
	return out
}

func TestStreamChatHappyPathMixedCitationShapes(t *testing.T) {
	t.Parallel()

	body := `{
		"choices": [{"message": {"content": "The answer is 42."}, "finish_reason": "stop"}],
		"usage": {"prompt_tokens": 8, "completion_tokens": 4},
		"citations": ["https://bare.example", {"url": "https://titled.example", "title": "Titled Source"}, "https://bare.example"]
	}`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s, want /chat/completions", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, body)
	}))
	defer srv.Close()

	client := New("test-key", srv.URL, nil)
	ch, err := client.StreamChat(context.Background(), core.ChatParams{Model: "sonar"})
	if err != nil {
		t.Fatalf("StreamChat: %v", err)
	}

	events := drain(ch)
	var citations []core.Citation
	var final core.StreamEvent
	for _, ev := range events {
		switch ev.Kind {
		case core.EventCitation:
			citations = append(citations, ev.Citation)
		case core.EventFinal:
			final = ev
		}
	}
	if len(citations) != 2 {
		t.Fatalf("expected 2 deduplicated citations, got %+v", citations)
	}
	if citations[0].URL != "https://bare.example" || citations[0].Title != "Source 1" {
		t.Fatalf("expected synthetic title for bare-string citation, got %+v", citations[0])
	}
	if citations[1].URL != "https://titled.example" || citations[1].Title != "Titled Source" {
		t.Fatalf("expected preserved title for object citation, got %+v", citations[1])
	}
	if final.Kind != core.EventFinal || final.InputTokens != 8 || final.OutputTokens != 4 {
		t.Fatalf("unexpected final event: %+v", final)
	}
}

func TestStreamChatEmptyContentYieldsFallback(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, `{"choices":[{"message":{"content":""}}]}`)
	}))
	defer srv.Close()

	client := New("test-key", srv.URL, nil)
	ch, err := client.StreamChat(context.Background(), core.ChatParams{Model: "sonar"})
	if err != nil {
		t.Fatalf("StreamChat must never return an error, got: %v", err)
	}

	events := drain(ch)
	if len(events) != 2 || events[0].Kind != core.EventTextDelta {
		t.Fatalf("expected fallback delta + final, got %+v", events)
	}
	final := events[len(events)-1]
	if final.Kind != core.EventFinal || final.InputTokens != 0 || final.OutputTokens != 0 {
		t.Fatalf("expected zero-usage final, got %+v", final)
	}
}

func TestStreamChatUpstreamHTTPErrorYieldsFallback(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":"invalid api key"}`)
	}))
	defer srv.Close()

	client := New("test-key", srv.URL, nil)
	ch, err := client.StreamChat(context.Background(), core.ChatParams{Model: "sonar"})
	if err != nil {
		t.Fatalf("StreamChat must never return an error, got: %v", err)
	}

	events := drain(ch)
	if len(events) != 2 || events[0].Kind != core.EventTextDelta {
		t.Fatalf("expected fallback delta + final, got %+v", events)
	}
	final := events[len(events)-1]
	if final.Kind != core.EventFinal || final.InputTokens != 0 || final.OutputTokens != 0 {
		t.Fatalf("expected zero-usage final, got %+v", final)
	}
}

func TestStreamChatConnectionErrorYieldsFallback(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	srv.Close()

	client := New("test-key", srv.URL, nil)
	ch, err := client.StreamChat(context.Background(), core.ChatParams{Model: "sonar"})
	if err != nil {
		t.Fatalf("StreamChat must never return an error, got: %v", err)
	}

	events := drain(ch)
	if events[len(events)-1].Kind != core.EventFinal {
		t.Fatalf("expected a terminal EventFinal, got %+v", events)
	}
}
