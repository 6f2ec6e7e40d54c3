// Package anthropic implements Adapter B: a core.Provider backed by
// Anthropic's Messages API. This is the reference shape for a text-stream
// wrapped in named SSE events (message_start, content_block_delta,
// message_delta, message_stop) rather than bare JSON chunks -- the adapter
// must switch on the named event, not just the payload shape.
package anthropic

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
	defaultBaseURL = "https://api.anthropic.com/v1"
	providerName   = "anthropic"
	apiVersion     = "2023-06-01"
	defaultMaxTok  = 4096

	fallbackMessage = "No response received from Anthropic. Please try again."
)

// Client is Adapter B: a core.Provider backed by Anthropic's Messages API.
type Client struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// New creates a Client with a tuned http.Client. If baseURL is empty it
// defaults to Anthropic's public API.
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

type messagesRequest struct {
	Model       string        `json:"model"`
	System      string        `json:"system,omitempty"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens"`
	Stream      bool          `json:"stream"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// StreamChat streams a message and emits normalized events. Anthropic's
// system prompt is a top-level request field, not a message role, so every
// system message is concatenated into that field here. The adapter never returns an
// error upward: any failure is converted into a fallback TextDelta +
// zero-usage Final on the returned channel, per the adapter error policy
// (spec §7).
func (c *Client) StreamChat(ctx context.Context, params core.ChatParams) (<-chan core.StreamEvent, error) {
	ch := make(chan core.StreamEvent, 8)

	system, rest := splitSystem(params.Messages)

	maxTokens := params.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTok
	}

	req := messagesRequest{
		Model:       params.Model,
		System:      system,
		Messages:    toChatMessages(rest),
		Temperature: params.Temperature,
		MaxTokens:   maxTokens,
		Stream:      true,
	}
	body, err := json.Marshal(&req)
	if err != nil {
		go emitFallback(ctx, ch)
		return ch, nil
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(body))
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

func splitSystem(msgs []core.ChatMessage) (system string, rest []core.ChatMessage) {
	var parts []string
	for _, m := range msgs {
		if m.Role == core.RoleSystem {
			parts = append(parts, m.Content)
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(parts, "\n\n"), rest
}

func toChatMessages(in []core.ChatMessage) []chatMessage {
	out := make([]chatMessage, len(in))
	for i, m := range in {
		out[i] = chatMessage{Role: m.Role, Content: m.Content}
	}
	return out
}

// readStream aggregates Anthropic's named SSE events into the normalized
// stream. A single text block is accumulated via content_block_delta
// events; message_delta carries the stop_reason and output token count;
// message_start carries the input token count. Always terminates with
// exactly one EventFinal.
func (c *Client) readStream(ctx context.Context, resp *http.Response, ch chan<- core.StreamEvent) {
	defer close(ch)
	defer sseutil.CloseBody(resp)

	var inputTokens, outputTokens int
	var currentEvent string

	scanner := sseutil.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		event, data, ok := sseutil.ParseSSELine(line)
		if !ok {
			continue
		}
		if event != "" {
			currentEvent = event
			continue
		}
		raw := []byte(data)

		switch currentEvent {
		case "message_start":
			inputTokens = int(gjson.GetBytes(raw, "message.usage.input_tokens").Int())
		case "content_block_delta":
			if text := gjson.GetBytes(raw, "delta.text"); text.Exists() && text.String() != "" {
				if !sseutil.Send(ctx, ch, core.StreamEvent{Kind: core.EventTextDelta, Text: text.String()}) {
					return
				}
			}
		case "message_delta":
			if reason := gjson.GetBytes(raw, "delta.stop_reason"); reason.Exists() && reason.String() != "" {
				if !sseutil.Send(ctx, ch, core.StreamEvent{Kind: core.EventFinishReason, FinishReason: reason.String()}) {
					return
				}
			}
			if out := gjson.GetBytes(raw, "usage.output_tokens"); out.Exists() {
				outputTokens = int(out.Int())
			}
		case "error":
			sseutil.EmitFinal(ctx, ch, inputTokens, outputTokens, nil)
			return
		}
	}

	sseutil.EmitFinal(ctx, ch, inputTokens, outputTokens, nil)
}

// setHeaders applies Anthropic's auth header convention.
func (c *Client) setHeaders(r *http.Request) {
	r.Header.Set("x-api-key", c.apiKey)
	r.Header.Set("anthropic-version", apiVersion)
	r.Header.Set("Content-Type", "application/json")
}
