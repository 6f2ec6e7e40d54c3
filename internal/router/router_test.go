package router

import (
	"context"
	"errors"
	"testing"

	"github.com/chatgate/chatgate/internal/core"
)

type stubProvider struct{ name string }

func (s *stubProvider) Name() string { return s.name }
func (s *stubProvider) StreamChat(ctx context.Context, params core.ChatParams) (<-chan core.StreamEvent, error) {
	return nil, nil
}

func TestRouteResolvesConfiguredProvider(t *testing.T) {
	openai := &stubProvider{name: "openai"}
	r := New(
		[]core.ModelInfo{{ID: "gpt-4o", Provider: "openai"}},
		map[string]core.Provider{"openai": openai},
	)

	p, err := r.Route("gpt-4o")
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if p.Name() != "openai" {
		t.Fatalf("expected openai, got %s", p.Name())
	}
}

func TestRouteUnknownModel(t *testing.T) {
	r := New(nil, nil)
	_, err := r.Route("nonexistent")
	if !errors.Is(err, core.ErrUnknownModel) {
		t.Fatalf("expected ErrUnknownModel, got %v", err)
	}
}

func TestRouteProviderNotConfigured(t *testing.T) {
	r := New([]core.ModelInfo{{ID: "claude-3", Provider: "anthropic"}}, map[string]core.Provider{})
	_, err := r.Route("claude-3")
	if !errors.Is(err, core.ErrProviderNotConfigured) {
		t.Fatalf("expected ErrProviderNotConfigured, got %v", err)
	}
}

func TestAvailableModelsSorted(t *testing.T) {
	r := New([]core.ModelInfo{
		{ID: "zeta", Provider: "openai"}, {ID: "alpha", Provider: "openai"}, {ID: "mid", Provider: "openai"},
	}, map[string]core.Provider{"openai": &stubProvider{name: "openai"}})
	got := r.AvailableModels()
	if len(got) != 3 || got[0].ID != "alpha" || got[2].ID != "zeta" {
		t.Fatalf("unexpected order: %+v", got)
	}
}

func TestAvailableModelsFiltersUnconfiguredProviders(t *testing.T) {
	r := New([]core.ModelInfo{
		{ID: "gpt-4o", Provider: "openai"},
		{ID: "claude-3", Provider: "anthropic"},
	}, map[string]core.Provider{"openai": &stubProvider{name: "openai"}})
	got := r.AvailableModels()
	if len(got) != 1 || got[0].ID != "gpt-4o" {
		t.Fatalf("expected only gpt-4o, got %+v", got)
	}
}
