package orchestrator

import (
	"context"
	"errors"
	"testing"

	"github.com/chatgate/chatgate/internal/core"
	"github.com/chatgate/chatgate/internal/pricing"
	"github.com/chatgate/chatgate/internal/router"
	"github.com/chatgate/chatgate/internal/testutil"
)

type recordingSink struct {
	events []ClientEvent
}

func (s *recordingSink) Send(ev ClientEvent) { s.events = append(s.events, ev) }

func (s *recordingSink) kinds() []string {
	out := make([]string, len(s.events))
	for i, e := range s.events {
		out[i] = e.Kind
	}
	return out
}

type alwaysOpenGate struct{ err error }

func (g alwaysOpenGate) Check(ctx context.Context) error { return g.err }

func newTestOrchestrator(t *testing.T, provider core.Provider, gate BudgetChecker) (*Orchestrator, *testutil.FakeStore) {
	t.Helper()
	store := testutil.NewFakeStore()
	r := router.New(
		[]core.ModelInfo{{ID: "gpt-4o", Provider: "openai"}},
		map[string]core.Provider{"openai": provider},
	)
	book := pricing.NewBook(map[string]pricing.Rate{
		"gpt-4o": {InputPer1M: 2.50, OutputPer1M: 10.00},
	})
	return New(store, r, nil, book, gate), store
}

func TestRunHappyPath(t *testing.T) {
	provider := &testutil.FakeProvider{ProviderName: "openai", Events: []core.StreamEvent{
		{Kind: core.EventTextDelta, Text: "Hello"},
		{Kind: core.EventTextDelta, Text: " world"},
		core.NewFinal(10, 5, nil),
	}}
	o, store := newTestOrchestrator(t, provider, alwaysOpenGate{})
	sink := &recordingSink{}

	o.Run(context.Background(), ChatRequest{Message: "hi", ModelID: "gpt-4o"}, sink)

	kinds := sink.kinds()
	if kinds[0] != EventConversation {
		t.Fatalf("expected first event conversation, got %v", kinds)
	}
	if kinds[len(kinds)-1] != EventDone {
		t.Fatalf("expected last event done, got %v", kinds)
	}
	foundUsage := false
	for _, e := range sink.events {
		if e.Kind == EventUsage {
			foundUsage = true
		}
	}
	if !foundUsage {
		t.Fatalf("expected a usage event, got %v", kinds)
	}

	convs, _ := store.ListConversations(context.Background())
	if len(convs) != 1 {
		t.Fatalf("expected 1 conversation, got %d", len(convs))
	}
	if convs[0].MessageCount != 2 {
		t.Fatalf("expected 2 messages (user+assistant), got %d", convs[0].MessageCount)
	}
}

func TestRunBudgetExceededEmitsOnlyError(t *testing.T) {
	provider := &testutil.FakeProvider{ProviderName: "openai"}
	o, _ := newTestOrchestrator(t, provider, alwaysOpenGate{err: errors.New("over cap: " + core.ErrBudgetExceeded.Error())})
	sink := &recordingSink{}

	o.Run(context.Background(), ChatRequest{Message: "hi", ModelID: "gpt-4o"}, sink)

	if len(sink.events) != 1 {
		t.Fatalf("expected exactly 1 event, got %d: %v", len(sink.events), sink.kinds())
	}
	if sink.events[0].Kind != EventError {
		t.Fatalf("expected error event, got %s", sink.events[0].Kind)
	}
}

func TestRunUnknownModelEmitsError(t *testing.T) {
	provider := &testutil.FakeProvider{ProviderName: "openai"}
	o, _ := newTestOrchestrator(t, provider, alwaysOpenGate{})
	sink := &recordingSink{}

	o.Run(context.Background(), ChatRequest{Message: "hi", ModelID: "does-not-exist"}, sink)

	if len(sink.events) == 0 || sink.events[len(sink.events)-1].Kind != EventError {
		t.Fatalf("expected a trailing error event, got %v", sink.kinds())
	}
}

func TestRunDedupsCitationsAcrossDeltas(t *testing.T) {
	provider := &testutil.FakeProvider{ProviderName: "openai", Events: []core.StreamEvent{
		{Kind: core.EventTextDelta, Text: "hi"},
		{Kind: core.EventCitation, Citation: core.Citation{URL: "A"}},
		{Kind: core.EventCitation, Citation: core.Citation{URL: "A"}},
		{Kind: core.EventCitation, Citation: core.Citation{URL: "B"}},
		core.NewFinal(1, 1, nil),
	}}
	o, _ := newTestOrchestrator(t, provider, alwaysOpenGate{})
	sink := &recordingSink{}

	o.Run(context.Background(), ChatRequest{Message: "hi", ModelID: "gpt-4o"}, sink)

	for _, ev := range sink.events {
		if ev.Kind != EventWebSources {
			continue
		}
		sources, ok := ev.Data.([]core.Citation)
		if !ok || len(sources) != 2 || sources[0].URL != "A" || sources[1].URL != "B" {
			t.Fatalf("unexpected deduped sources: %+v", ev.Data)
		}
		return
	}
	t.Fatal("expected a web_sources event")
}
