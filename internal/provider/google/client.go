// Package google implements Adapter C: a core.Provider backed by Google's
// Generative Language API. Like the OpenAI and Anthropic adapters, streaming
// is read off an SSE body (`?alt=sse`) via sseutil.NewScanner and decoded field by
// field with gjson -- Gemini's SSE has no "event:" line and no "[DONE]"
// sentinel, it is EOF-terminated, and usage is cumulative rather than
// incremental. It is also the only adapter shape that carries grounding
// metadata (web search citations), which must be deduplicated by URL before
// the Final event.
package google

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/dnscache"
	"github.com/tidwall/gjson"

	"github.com/chatgate/chatgate/internal/core"
	"github.com/chatgate/chatgate/internal/provider"
	"github.com/chatgate/chatgate/internal/provider/sseutil"
)

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	providerName   = "google"

	fallbackMessage = "No response received from Google. Please try again."
)

// Client is Adapter C: a core.Provider backed by Google's Generative
// Language API.
type Client struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// New creates a Client with a tuned http.Client. If baseURL is empty it
// defaults to Google's public API.
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

type generateRequest struct {
	Contents          []content        `json:"contents"`
	SystemInstruction *content         `json:"systemInstruction,omitempty"`
	GenerationConfig  generationConfig `json:"generationConfig"`
	Tools             []tool           `json:"tools,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature,omitempty"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type tool struct {
	GoogleSearch struct{} `json:"googleSearch"`
}

// StreamChat issues a streaming generateContent call and emits normalized
// events. Google's role for the system message is a dedicated
// systemInstruction field, mirrored to "model" role mapping for assistant
// turns. The adapter never returns an error upward: any failure is
// converted into a fallback TextDelta + zero-usage Final on the returned
// channel, per the adapter error policy (spec §7).
func (c *Client) StreamChat(ctx context.Context, params core.ChatParams) (<-chan core.StreamEvent, error) {
	ch := make(chan core.StreamEvent, 8)

	system, rest := splitSystem(params.Messages)

	req := generateRequest{
		Contents: toContents(rest),
		GenerationConfig: generationConfig{
			Temperature:     params.Temperature,
			MaxOutputTokens: params.MaxTokens,
		},
		Tools: []tool{{}},
	}
	if system != "" {
		req.SystemInstruction = &content{Parts: []part{{Text: system}}}
	}

	body, err := json.Marshal(&req)
	if err != nil {
		go emitFallback(ctx, ch)
		return ch, nil
	}

	url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse", c.baseURL, params.Model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		go emitFallback(ctx, ch)
		return ch, nil
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.apiKey)

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

func toContents(in []core.ChatMessage) []content {
	out := make([]content, len(in))
	for i, m := range in {
		role := "user"
		if m.Role == core.RoleAssistant {
			role = "model"
		}
		out[i] = content{Role: role, Parts: []part{{Text: m.Content}}}
	}
	return out
}

// readStream reads Gemini's SSE body -- no "event:" line, no "[DONE]"
// sentinel, EOF-terminated -- and emits normalized events. Usage is
// cumulative per chunk, so the last seen values win. Grounding citations
// are deduplicated by URL as they arrive. Always terminates with exactly
// one EventFinal.
func (c *Client) readStream(ctx context.Context, resp *http.Response, ch chan<- core.StreamEvent) {
	defer close(ch)
	defer sseutil.CloseBody(resp)

	var inputTokens, outputTokens int
	var citations []core.Citation
	seen := make(map[string]struct{})

	scanner := sseutil.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		_, data, ok := sseutil.ParseSSELine(line)
		if !ok {
			continue
		}
		raw := []byte(data)

		if text := gjson.GetBytes(raw, "candidates.0.content.parts.0.text"); text.Exists() && text.String() != "" {
			if !sseutil.Send(ctx, ch, core.StreamEvent{Kind: core.EventTextDelta, Text: text.String()}) {
				return
			}
		}
		for _, g := range gjson.GetBytes(raw, "candidates.0.groundingMetadata.groundingChunks").Array() {
			uri := g.Get("web.uri").String()
			if uri == "" {
				continue
			}
			if _, ok := seen[uri]; ok {
				continue
			}
			seen[uri] = struct{}{}
			cit := core.Citation{URL: uri, Title: g.Get("web.title").String(), Source: core.SourceGoogleSearch}
			citations = append(citations, cit)
			if !sseutil.Send(ctx, ch, core.StreamEvent{Kind: core.EventCitation, Citation: cit}) {
				return
			}
		}
		if fr := gjson.GetBytes(raw, "candidates.0.finishReason"); fr.Exists() && fr.String() != "" {
			if !sseutil.Send(ctx, ch, core.StreamEvent{Kind: core.EventFinishReason, FinishReason: fr.String()}) {
				return
			}
		}
		if u := gjson.GetBytes(raw, "usageMetadata"); u.Exists() {
			inputTokens = int(u.Get("promptTokenCount").Int())
			outputTokens = int(u.Get("candidatesTokenCount").Int())
		}
	}

	sseutil.EmitFinal(ctx, ch, inputTokens, outputTokens, citations)
}
