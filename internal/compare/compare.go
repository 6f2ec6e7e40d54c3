// Package compare implements the Comparison Fan-out: running the same
// prompt against several models concurrently, each slot isolated from the
// others' failures. Unlike a typical worker-pool runner that cancels all
// siblings on the first error, a comparison slot's failure never reaches
// its peers -- the spec requires independent per-slot lifetimes.
package compare

import (
	"context"
	"fmt"
	"sync"

	"github.com/chatgate/chatgate/internal/core"
	"github.com/chatgate/chatgate/internal/router"
)

// Slot is one model's result within a comparison run.
type Slot struct {
	ModelID   string
	Text      string
	Citations []core.Citation
	Input     int
	Output    int
	Err       error
}

// Run fans a single prompt out to every model in modelIDs concurrently and
// waits for all slots to terminate, each independently, before returning.
// Slot order in the result matches modelIDs order regardless of completion
// order.
func Run(ctx context.Context, r *router.Router, messages []core.ChatMessage, temperature float64, modelIDs []string) []Slot {
	results := make([]Slot, len(modelIDs))
	var wg sync.WaitGroup
	wg.Add(len(modelIDs))

	for i, modelID := range modelIDs {
		go func(i int, modelID string) {
			defer wg.Done()
			defer func() {
				if rec := recover(); rec != nil {
					results[i] = Slot{ModelID: modelID, Err: fmt.Errorf("panic: %v", rec)}
				}
			}()
			results[i] = runSlot(ctx, r, messages, temperature, modelID)
		}(i, modelID)
	}
	wg.Wait()
	return results
}

func runSlot(ctx context.Context, r *router.Router, messages []core.ChatMessage, temperature float64, modelID string) Slot {
	slot := Slot{ModelID: modelID}

	provider, err := r.Route(modelID)
	if err != nil {
		slot.Err = err
		return slot
	}

	events, err := provider.StreamChat(ctx, core.ChatParams{
		Model:       modelID,
		Messages:    messages,
		Temperature: temperature,
	})
	if err != nil {
		slot.Err = err
		return slot
	}

	var text []byte
	for ev := range events {
		switch ev.Kind {
		case core.EventTextDelta:
			text = append(text, ev.Text...)
		case core.EventCitation:
			slot.Citations = append(slot.Citations, ev.Citation)
		case core.EventFinal:
			slot.Input = ev.InputTokens
			slot.Output = ev.OutputTokens
			if len(ev.Citations) > 0 {
				slot.Citations = ev.Citations
			}
		}
	}
	slot.Text = string(text)
	return slot
}
