// Package router implements the Provider Router: it resolves a model id to
// the core.Provider that serves it and exposes the model catalog.
package router

import (
	"fmt"
	"sort"

	"github.com/chatgate/chatgate/internal/core"
)

// Router maps model ids onto the core.Provider backing them.
type Router struct {
	models    map[string]core.ModelInfo
	providers map[string]core.Provider
}

// New builds a Router from a model catalog and a provider-name -> Provider
// map. A catalog entry whose provider isn't present in providers is kept in
// the catalog (ModelInfo still resolves it), but AvailableModels omits it and
// Route returns ErrProviderNotConfigured for it.
func New(models []core.ModelInfo, providers map[string]core.Provider) *Router {
	r := &Router{
		models:    make(map[string]core.ModelInfo, len(models)),
		providers: providers,
	}
	for _, m := range models {
		r.models[m.ID] = m
	}
	return r
}

// Route resolves modelID to its core.Provider.
func (r *Router) Route(modelID string) (core.Provider, error) {
	m, ok := r.models[modelID]
	if !ok {
		return nil, fmt.Errorf("%s: %w", modelID, core.ErrUnknownModel)
	}
	p, ok := r.providers[m.Provider]
	if !ok {
		return nil, fmt.Errorf("%s: %w", m.Provider, core.ErrProviderNotConfigured)
	}
	return p, nil
}

// ModelInfo returns the catalog entry for modelID.
func (r *Router) ModelInfo(modelID string) (core.ModelInfo, error) {
	m, ok := r.models[modelID]
	if !ok {
		return core.ModelInfo{}, fmt.Errorf("%s: %w", modelID, core.ErrUnknownModel)
	}
	return m, nil
}

// AvailableModels returns the catalog entries whose backing provider
// currently has credentials configured, sorted by id (spec §4.4).
func (r *Router) AvailableModels() []core.ModelInfo {
	out := make([]core.ModelInfo, 0, len(r.models))
	for _, m := range r.models {
		if _, ok := r.providers[m.Provider]; ok {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
