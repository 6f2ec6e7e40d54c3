package openai

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

func TestStreamChatHappyPath(t *testing.T) {
	t.Parallel()

	sseBody := "data: {\"choices\":[{\"delta\":{\"content\":\"Hello\"}}]}\n\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\" world\"},\"finish_reason\":\"stop\"}],\"usage\":{\"prompt_tokens\":10,\"completion_tokens\":5}}\n\n" +
		"data: [DONE]\n\n"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s, want /chat/completions", r.URL.Path)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, sseBody)
	}))
	defer srv.Close()

	client := New("test-key", srv.URL, nil)
	ch, err := client.StreamChat(context.Background(), core.ChatParams{Model: "gpt-4o"})
	if err != nil {
		t.Fatalf("StreamChat: %v", err)
	}

	events := drain(ch)
	var finals int
	var text string
	for _, ev := range events {
		switch ev.Kind {
		case core.EventTextDelta:
			text += ev.Text
		case core.EventFinal:
			finals++
			if ev.InputTokens != 10 || ev.OutputTokens != 5 {
				t.Errorf("unexpected final usage: %+v", ev)
			}
		}
	}
	if finals != 1 {
		t.Fatalf("expected exactly 1 EventFinal, got %d", finals)
	}
	if text != "Hello world" {
		t.Fatalf("expected accumulated text %q, got %q", "Hello world", text)
	}
}

func TestStreamChatUpstreamHTTPErrorYieldsFallback(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"rate limited"}}`)
	}))
	defer srv.Close()

	client := New("test-key", srv.URL, nil)
	ch, err := client.StreamChat(context.Background(), core.ChatParams{Model: "gpt-4o"})
	if err != nil {
		t.Fatalf("StreamChat must never return an error, got: %v", err)
	}

	events := drain(ch)
	if len(events) != 2 {
		t.Fatalf("expected fallback delta + final, got %d events: %+v", len(events), events)
	}
	if events[0].Kind != core.EventTextDelta || events[0].Text == "" {
		t.Fatalf("expected a visible fallback delta, got %+v", events[0])
	}
	final := events[len(events)-1]
	if final.Kind != core.EventFinal || final.InputTokens != 0 || final.OutputTokens != 0 {
		t.Fatalf("expected zero-usage final, got %+v", final)
	}
}

func TestStreamChatConnectionErrorYieldsFallback(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	srv.Close() // closed before use: connection refused

	client := New("test-key", srv.URL, nil)
	ch, err := client.StreamChat(context.Background(), core.ChatParams{Model: "gpt-4o"})
	if err != nil {
		t.Fatalf("StreamChat must never return an error, got: %v", err)
	}

	events := drain(ch)
	if len(events) != 2 {
		t.Fatalf("expected fallback delta + final, got %d events: %+v", len(events), events)
	}
	if events[len(events)-1].Kind != core.EventFinal {
		t.Fatalf("expected a terminal EventFinal, got %+v", events[len(events)-1])
	}
}
