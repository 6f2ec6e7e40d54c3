package compare

import (
	"context"
	"errors"
	"testing"

	"github.com/chatgate/chatgate/internal/core"
	"github.com/chatgate/chatgate/internal/router"
	"github.com/chatgate/chatgate/internal/testutil"
)

func TestRunIsolatesSlotFailures(t *testing.T) {
	good := &testutil.FakeProvider{ProviderName: "openai", Events: []core.StreamEvent{
		{Kind: core.EventTextDelta, Text: "ok"},
		core.NewFinal(1, 1, nil),
	}}
	bad := &testutil.FakeProvider{ProviderName: "anthropic", Err: errors.New("upstream exploded")}

	r := router.New(
		[]core.ModelInfo{{ID: "gpt-4o", Provider: "openai"}, {ID: "claude-3", Provider: "anthropic"}},
		map[string]core.Provider{"openai": good, "anthropic": bad},
	)

	results := Run(context.Background(), r, []core.ChatMessage{{Role: core.RoleUser, Content: "hi"}}, 0.7,
		[]string{"gpt-4o", "claude-3"})

	if len(results) != 2 {
		t.Fatalf("expected 2 slots, got %d", len(results))
	}
	if results[0].Err != nil || results[0].Text != "ok" {
		t.Fatalf("expected slot 0 to succeed, got %+v", results[0])
	}
	if results[1].Err == nil {
		t.Fatalf("expected slot 1 to carry its own error")
	}
}

// panicProvider always panics from StreamChat, simulating a buggy adapter.
type panicProvider struct{ name string }

func (p *panicProvider) Name() string { return p.name }

func (p *panicProvider) StreamChat(ctx context.Context, params core.ChatParams) (<-chan core.StreamEvent, error) {
	panic("simulated adapter panic")
}

func TestRunIsolatesSlotPanics(t *testing.T) {
	good := &testutil.FakeProvider{ProviderName: "openai", Events: []core.StreamEvent{
		{Kind: core.EventTextDelta, Text: "ok"},
		core.NewFinal(1, 1, nil),
	}}
	bad := &panicProvider{name: "anthropic"}

	r := router.New(
		[]core.ModelInfo{{ID: "gpt-4o", Provider: "openai"}, {ID: "claude-3", Provider: "anthropic"}},
		map[string]core.Provider{"openai": good, "anthropic": bad},
	)

	results := Run(context.Background(), r, []core.ChatMessage{{Role: core.RoleUser, Content: "hi"}}, 0.7,
		[]string{"gpt-4o", "claude-3"})

	if len(results) != 2 {
		t.Fatalf("expected 2 slots, got %d", len(results))
	}
	if results[0].Err != nil || results[0].Text != "ok" {
		t.Fatalf("expected slot 0 to succeed despite slot 1 panicking, got %+v", results[0])
	}
	if results[1].Err == nil {
		t.Fatalf("expected slot 1's panic to surface as an error, not crash the run")
	}
}

func TestRunPreservesRequestedOrder(t *testing.T) {
	p1 := &testutil.FakeProvider{ProviderName: "openai", Events: []core.StreamEvent{core.NewFinal(0, 0, nil)}}
	p2 := &testutil.FakeProvider{ProviderName: "anthropic", Events: []core.StreamEvent{core.NewFinal(0, 0, nil)}}

	r := router.New(
		[]core.ModelInfo{{ID: "m1", Provider: "openai"}, {ID: "m2", Provider: "anthropic"}},
		map[string]core.Provider{"openai": p1, "anthropic": p2},
	)

	results := Run(context.Background(), r, nil, 0, []string{"m1", "m2"})
	if results[0].ModelID != "m1" || results[1].ModelID != "m2" {
		t.Fatalf("unexpected slot order: %+v", results)
	}
}
