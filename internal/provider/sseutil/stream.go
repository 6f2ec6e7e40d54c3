package sseutil

import (
	"context"
	"net/http"

	"github.com/chatgate/chatgate/internal/core"
)

// EmitFinal sends a terminal EventFinal on ch, respecting ctx cancellation,
// then returns. Every adapter must call this exactly once per invocation,
// even on an upstream error (with zero tokens and whatever citations were
// accumulated so far).
func EmitFinal(ctx context.Context, ch chan<- core.StreamEvent, inputTokens, outputTokens int, citations []core.Citation) {
	select {
	case ch <- core.NewFinal(inputTokens, outputTokens, citations):
	case <-ctx.Done():
	}
}

// Send delivers a single event on ch, respecting ctx cancellation. Returns
// false if ctx was cancelled before the send completed.
func Send(ctx context.Context, ch chan<- core.StreamEvent, ev core.StreamEvent) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// DedupCitations returns citations with duplicate URLs removed, preserving
// first-seen order.
func DedupCitations(in []core.Citation) []core.Citation {
	seen := make(map[string]struct{}, len(in))
	out := make([]core.Citation, 0, len(in))
	for _, c := range in {
		if _, ok := seen[c.URL]; ok {
			continue
		}
		seen[c.URL] = struct{}{}
		out = append(out, c)
	}
	return out
}

// CloseBody closes an HTTP response body, ignoring the error -- callers use
// this in defer positions where the read loop already reported any error.
func CloseBody(resp *http.Response) {
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
}
