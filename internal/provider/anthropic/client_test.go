package anthropic

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

	sseBody := "event: message_start\n" +
		"data: {\"message\":{\"usage\":{\"input_tokens\":12}}}\n\n" +
		"event: content_block_delta\n" +
		"data: {\"delta\":{\"text\":\"Hi\"}}\n\n" +
		"event: message_delta\n" +
		"data: {\"delta\":{\"stop_reason\":\"end_turn\"},\"usage\":{\"output_tokens\":3}}\n\n" +
		"event: message_stop\n" +
		"data: {}\n\n"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/messages" {
			t.Errorf("path = %s, want /messages", r.URL.Path)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, sseBody)
	}))
	defer srv.Close()

	client := New("test-key", srv.URL, nil)
	ch, err := client.StreamChat(context.Background(), core.ChatParams{Model: "claude-3-5-sonnet-20241022"})
	if err != nil {
		t.Fatalf("StreamChat: %v", err)
	}

	events := drain(ch)
	final := events[len(events)-1]
	if final.Kind != core.EventFinal || final.InputTokens != 12 || final.OutputTokens != 3 {
		t.Fatalf("unexpected final event: %+v", final)
	}
}

func TestStreamChatUpstreamHTTPErrorYieldsFallback(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, `{"error":{"message":"overloaded"}}`)
	}))
	defer srv.Close()

	client := New("test-key", srv.URL, nil)
	ch, err := client.StreamChat(context.Background(), core.ChatParams{Model: "claude-3-5-sonnet-20241022"})
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
	ch, err := client.StreamChat(context.Background(), core.ChatParams{Model: "claude-3-5-sonnet-20241022"})
	if err != nil {
		t.Fatalf("StreamChat must never return an error, got: %v", err)
	}

	events := drain(ch)
	if events[len(events)-1].Kind != core.EventFinal {
		t.Fatalf("expected a terminal EventFinal, got %+v", events)
	}
}
