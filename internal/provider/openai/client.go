// Package openai implements Adapter A: a core.Provider backed by OpenAI's
// native streaming chat completions API. This is the reference shape for
// server-sent incremental deltas -- the adapter forces stream=true, reads
// SSE chunks off the wire, and translates each into the system's
// normalized event stream.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rs/dnscache"
	"github.com/tidwall/gjson"

	"github.com/chatgate/chatgate/internal/core"
	"github.com/chatgate/chatgate/internal/provider"
	"github.com/chatgate/chatgate/internal/provider/sseutil"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	providerName   = "openai"

	fallbackMessage = "No response received from OpenAI. Please try again."
)

// Client is Adapter A: a core.Provider backed by OpenAI's chat completions
// streaming API.
type Client struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// New creates a Client with a tuned http.Client. If baseURL is empty it
// defaults to OpenAI's public API. A non-nil resolver wraps the transport
// with cached DNS lookups.
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
	Model         string           `json:"model"`
	Messages      []chatMessage    `json:"messages"`
	Temperature   float64          `json:"temperature,omitempty"`
	MaxTokens     int              `json:"max_tokens,omitempty"`
	Stream        bool             `json:"stream"`
	StreamOptions *streamOptions   `json:"stream_options,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

// StreamChat streams a chat completion and emits normalized events. The
// adapter never returns an error upward: any failure up to and including
// building the request is converted into a fallback TextDelta + zero-usage
// Final on the returned channel, per the adapter error policy (spec §7).
func (c *Client) StreamChat(ctx context.Context, params core.ChatParams) (<-chan core.StreamEvent, error) {
	ch := make(chan core.StreamEvent, 8)

	req := chatRequest{
		Model:         params.Model,
		Messages:      toChatMessages(params.Messages),
		Temperature:   params.Temperature,
		MaxTokens:     params.MaxTokens,
		Stream:        true,
		StreamOptions: &streamOptions{IncludeUsage: true},
	}
	body, err := json.Marshal(&req)
	if err != nil {
		go emitFallback(ctx, ch)
		return ch, nil
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		go emitFallback(ctx, ch)
		return ch, nil
	}
	c.setHeaders(httpReq)

	go c.doAndEmit(ctx, httpReq, ch)
	return ch, nil
}

// doAndEmit issues the request and either streams the response or falls
// back to a single degraded-answer event, always closing ch with exactly
// one EventFinal.
func (c *Client) doAndEmit(ctx context.Context, httpReq *http.Request, ch chan<- core.StreamEvent) {
	resp, err := c.http.Do(httpReq)
	if err != nil {
		emitFallback(ctx, ch)
		return
	}
	if resp.StatusCode != http.StatusOK {
		_ = provider.ParseAPIError(providerName, resp)
		sseutil.CloseBody(resp)
		emitFallback(ctx, ch)
		return
	}

	c.readStream(ctx, resp, ch)
}

// emitFallback sends a visible degraded-answer delta followed by a
// zero-usage Final and closes ch -- the adapter layer never throws upward.
func emitFallback(ctx context.Context, ch chan<- core.StreamEvent) {
	defer close(ch)
	sseutil.Send(ctx, ch, core.StreamEvent{Kind: core.EventTextDelta, Text: fallbackMessage})
	sseutil.EmitFinal(ctx, ch, 0, 0, nil)
}

func toChatMessages(in []core.ChatMessage) []chatMessage {
	out := make([]chatMessage, len(in))
	for i, m := range in {
		out[i] = chatMessage{Role: m.Role, Content: m.Content}
	}
	return out
}

// readStream reads OpenAI-format SSE chunks and emits normalized events.
// Always terminates with exactly one EventFinal.
func (c *Client) readStream(ctx context.Context, resp *http.Response, ch chan<- core.StreamEvent) {
	defer close(ch)
	defer sseutil.CloseBody(resp)

	var inputTokens, outputTokens int
	var finishReason string

	scanner := sseutil.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		_, data, ok := sseutil.ParseSSELine(line)
		if !ok {
			continue
		}
		if data == "[DONE]" {
			break
		}

		raw := []byte(data)
		if delta := gjson.GetBytes(raw, "choices.0.delta.content"); delta.Exists() && delta.String() != "" {
			if !sseutil.Send(ctx, ch, core.StreamEvent{Kind: core.EventTextDelta, Text: delta.String()}) {
				return
			}
		}
		if fr := gjson.GetBytes(raw, "choices.0.finish_reason"); fr.Exists() && fr.String() != "" {
			finishReason = fr.String()
			if !sseutil.Send(ctx, ch, core.StreamEvent{Kind: core.EventFinishReason, FinishReason: finishReason}) {
				return
			}
		}
		if u := gjson.GetBytes(raw, "usage"); u.Exists() && u.Type == gjson.JSON {
			inputTokens = int(u.Get("prompt_tokens").Int())
			outputTokens = int(u.Get("completion_tokens").Int())
		}
	}

	if err := scanner.Err(); err != nil {
		sseutil.EmitFinal(ctx, ch, inputTokens, outputTokens, nil)
		return
	}
	sseutil.EmitFinal(ctx, ch, inputTokens, outputTokens, nil)
}

// setHeaders applies common headers (auth + content-type) to an outbound
// request.
func (c *Client) setHeaders(r *http.Request) {
	r.Header.Set("Authorization", "Bearer "+c.apiKey)
	r.Header.Set("Content-Type", "application/json")
}
