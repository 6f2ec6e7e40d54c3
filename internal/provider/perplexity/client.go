// Package perplexity implements Adapter D: a core.Provider backed by
// Perplexity's OpenAI-compatible chat completions API. This is the
// reference shape for non-streaming invocation: Perplexity's streamed
// usage delivery has proven unreliable upstream, so this adapter always
// issues a single blocking request and replays the full response as one
// synthetic delta, still through the normalized event channel so callers
// can't tell the difference from a truly streamed adapter.
package perplexity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/dnscache"

	"github.com/chatgate/chatgate/internal/core"
	"github.com/chatgate/chatgate/internal/provider"
	"github.com/chatgate/chatgate/internal/provider/sseutil"
)

const (
	defaultBaseURL = "https://api.perplexity.ai"
	providerName   = "perplexity"
	requestTimeout = 60 * time.Second

	fallbackMessage = "No response received from Perplexity. Please try again."
)

// Client is Adapter D: a core.Provider backed by Perplexity's chat
// completions API.
type Client struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// New creates a Client with a tuned http.Client. If baseURL is empty it
// defaults to Perplexity's public API.
func New(apiKey, baseURL string, resolver *dnscache.Resolver) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")
	return &Client{
		apiKey:  apiKey,
		baseURL: baseURL,
		http:    &http.Client{Transport: provider.NewTransport(resolver, true)},
	}
}

// Name returns the provider identifier.
func (c *Client) Name() string { return providerName }

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	// Citations is either a list of bare URL strings or a list of
	// {url, title} objects depending on upstream model; decode each entry
	// lazily so either shape parses without failing the whole response.
	Citations []json.RawMessage `json:"citations"`
}

// StreamChat issues one non-streaming request and replays the full answer
// as a single EventTextDelta, followed by deduplicated citations and
// exactly one EventFinal. A hard 60s timeout guards against a hung upstream
// request blocking the turn indefinitely; it bounds only the HTTP request,
// so a timed-out call still delivers its fallback delta and Final. Like the
// other adapters it never returns an error: a failure to build the request
// also yields the fallback delta and a zero-usage Final.
func (c *Client) StreamChat(ctx context.Context, params core.ChatParams) (<-chan core.StreamEvent, error) {
	ch := make(chan core.StreamEvent, 4)
	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)

	req := chatRequest{
		Model:       params.Model,
		Messages:    toChatMessages(params.Messages),
		Temperature: params.Temperature,
		MaxTokens:   params.MaxTokens,
	}
	body, err := json.Marshal(&req)
	var httpReq *http.Request
	if err == nil {
		httpReq, err = http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	}
	if err != nil {
		go func() {
			defer close(ch)
			defer cancel()
			sseutil.Send(ctx, ch, core.StreamEvent{Kind: core.EventTextDelta, Text: fallbackMessage})
			sseutil.EmitFinal(ctx, ch, 0, 0, nil)
		}()
		return ch, nil
	}
	c.setHeaders(httpReq)

	go c.doAndEmit(ctx, cancel, httpReq, ch)
	return ch, nil
}

func toChatMessages(in []core.ChatMessage) []chatMessage {
	out := make([]chatMessage, len(in))
	for i, m := range in {
		out[i] = chatMessage{Role: m.Role, Content: m.Content}
	}
	return out
}

func (c *Client) doAndEmit(ctx context.Context, cancel context.CancelFunc, httpReq *http.Request, ch chan<- core.StreamEvent) {
	defer close(ch)
	defer cancel()

	resp, err := c.http.Do(httpReq)
	if err != nil {
		sseutil.Send(ctx, ch, core.StreamEvent{Kind: core.EventTextDelta, Text: fallbackMessage})
		sseutil.EmitFinal(ctx, ch, 0, 0, nil)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// UpstreamError is converted to a visible fallback delta + zero
		// Final rather than propagated, per the adapter error policy.
		_ = provider.ParseAPIError(providerName, resp)
		sseutil.Send(ctx, ch, core.StreamEvent{Kind: core.EventTextDelta, Text: fallbackMessage})
		sseutil.EmitFinal(ctx, ch, 0, 0, nil)
		return
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		sseutil.Send(ctx, ch, core.StreamEvent{Kind: core.EventTextDelta, Text: fallbackMessage})
		sseutil.EmitFinal(ctx, ch, 0, 0, nil)
		return
	}

	var text, finishReason string
	if len(out.Choices) > 0 {
		text = out.Choices[0].Message.Content
		finishReason = out.Choices[0].FinishReason
	}
	if text == "" {
		// Empty content from upstream: surface the fallback message and a
		// zeroed Final, discarding any partial usage/citations -- matches
		// the documented no-content behavior exactly.
		sseutil.Send(ctx, ch, core.StreamEvent{Kind: core.EventTextDelta, Text: fallbackMessage})
		sseutil.EmitFinal(ctx, ch, 0, 0, nil)
		return
	}
	if !sseutil.Send(ctx, ch, core.StreamEvent{Kind: core.EventTextDelta, Text: text}) {
		return
	}

	citations := dedupURLCitations(out.Citations)
	for _, cit := range citations {
		if !sseutil.Send(ctx, ch, core.StreamEvent{Kind: core.EventCitation, Citation: cit}) {
			return
		}
	}
	if finishReason != "" {
		if !sseutil.Send(ctx, ch, core.StreamEvent{Kind: core.EventFinishReason, FinishReason: finishReason}) {
			return
		}
	}

	sseutil.EmitFinal(ctx, ch, out.Usage.PromptTokens, out.Usage.CompletionTokens, citations)
}

// dedupURLCitations decodes Perplexity's citation list -- each entry is
// either a bare URL string or a {url, title} object -- into Citations,
// removing duplicate URLs in first-seen order. A bare string entry gets a
// synthetic "Source N" title since no title is available upstream.
func dedupURLCitations(raw []json.RawMessage) []core.Citation {
	seen := make(map[string]struct{}, len(raw))
	out := make([]core.Citation, 0, len(raw))
	for i, entry := range raw {
		cit, ok := decodeCitation(entry, i)
		if !ok {
			continue
		}
		if _, dup := seen[cit.URL]; dup {
			continue
		}
		seen[cit.URL] = struct{}{}
		out = append(out, cit)
	}
	return out
}

func decodeCitation(raw json.RawMessage, index int) (core.Citation, bool) {
	var url string
	if err := json.Unmarshal(raw, &url); err == nil {
		if url == "" {
			return core.Citation{}, false
		}
		return core.Citation{URL: url, Title: fmt.Sprintf("Source %d", index+1), Source: core.SourcePerplexity}, true
	}

	var obj struct {
		URL   string `json:"url"`
		Title string `json:"title"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil || obj.URL == "" {
		return core.Citation{}, false
	}
	title := obj.Title
	if title == "" {
		title = fmt.Sprintf("Source %d", index+1)
	}
	return core.Citation{URL: obj.URL, Title: title, Source: core.SourcePerplexity}, true
}

// setHeaders applies common headers (auth + content-type) to an outbound
// request.
func (c *Client) setHeaders(r *http.Request) {
	r.Header.Set("Authorization", "Bearer "+c.apiKey)
	r.Header.Set("Content-Type", "application/json")
}
