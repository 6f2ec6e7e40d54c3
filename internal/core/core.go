// Package core defines the domain types, sentinel errors, and context
// helpers shared across the chat gateway. It has no project imports --
// it is the dependency root.
package core

import (
	"context"
	"time"
)

// --- Conversation / Message / Cost Entry ---

// Conversation is a persisted chat thread.
type Conversation struct {
	ID                string    `json:"id"`
	Title             string    `json:"title"`
	ModelID           string    `json:"model_id"`
	SystemPrompt      string    `json:"system_prompt"`
	TotalInputTokens  int       `json:"total_input_tokens"`
	TotalOutputTokens int       `json:"total_output_tokens"`
	TotalCostUSD      float64   `json:"total_cost_usd"`
	MessageCount      int       `json:"message_count,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Role enumerates the allowed Message.Role values.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is a single turn within a Conversation. Immutable after insert.
type Message struct {
	ID               string    `json:"id"`
	ConversationID    string    `json:"conversation_id"`
	Role             string    `json:"role"`
	Content          string    `json:"content"`
	ModelID          string    `json:"model_id,omitempty"`
	InputTokens      int       `json:"input_tokens"`
	OutputTokens     int       `json:"output_tokens"`
	CostUSD          float64   `json:"cost_usd"`
	UsedDocs         bool      `json:"used_docs"`
	CreatedAt        time.Time `json:"created_at"`
}

// Operation enumerates the allowed CostEntry.Operation values.
const (
	OpChat      = "chat"
	OpEmbedding = "embedding"
	OpSTT       = "stt"
	OpTTS       = "tts"
)

// CostEntry is an append-only billed-operation record.
type CostEntry struct {
	ID             int64     `json:"id"`
	ConversationID string    `json:"conversation_id,omitempty"`
	MessageID      string    `json:"message_id,omitempty"`
	ModelID        string    `json:"model_id"`
	Operation      string    `json:"operation"`
	InputTokens    int       `json:"input_tokens"`
	OutputTokens   int       `json:"output_tokens"`
	AudioMinutes   float64   `json:"audio_minutes"`
	TTSCharacters  int       `json:"tts_characters"`
	CostUSD        float64   `json:"cost_usd"`
	CreatedAt      time.Time `json:"created_at"`
}

// Document describes an ingested RAG source file. Ingestion itself is an
// external collaborator; the gateway only reads rows written elsewhere.
type Document struct {
	ID             string    `json:"id"`
	Filename       string    `json:"filename"`
	FileType       string    `json:"file_type"`
	FileSize       int64     `json:"file_size"`
	ChunkCount     int       `json:"chunk_count"`
	ConversationID string    `json:"conversation_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// AnalyticsEvent is a fire-and-forget telemetry row.
type AnalyticsEvent struct {
	ID        int64     `json:"id"`
	EventType string    `json:"event_type"`
	EventData string    `json:"event_data"`
	CreatedAt time.Time `json:"created_at"`
}

// --- Normalized stream events (§4.3) ---

// CitationSource identifies which adapter produced a Citation.
const (
	SourcePerplexity  = "perplexity"
	SourceGoogleSearch = "google_search"
)

// Citation is a deduplicated (by URL) source reference.
type Citation struct {
	URL    string `json:"url"`
	Title  string `json:"title"`
	Source string `json:"source"`
}

// StreamEventKind tags the variant carried by a StreamEvent.
type StreamEventKind int

const (
	EventTextDelta StreamEventKind = iota
	EventCitation
	EventUsage
	EventFinishReason
	EventFinal
)

// StreamEvent is the normalized event emitted by every Provider Adapter.
// Exactly one EventFinal terminates every adapter invocation.
type StreamEvent struct {
	Kind StreamEventKind

	Text string // EventTextDelta

	Citation Citation // EventCitation

	InputTokens  int // EventUsage, EventFinal
	OutputTokens int // EventUsage, EventFinal

	FinishReason string // EventFinishReason

	// Citations is only populated on EventFinal. Each event owns its own
	// slice -- never share one default slice across constructed events.
	Citations []Citation
}

// NewFinal builds a terminal event with its own citation slice.
func NewFinal(inputTokens, outputTokens int, citations []Citation) StreamEvent {
	out := make([]Citation, len(citations))
	copy(out, citations)
	return StreamEvent{Kind: EventFinal, InputTokens: inputTokens, OutputTokens: outputTokens, Citations: out}
}

// ChatParams is the adapter-facing request: an ordered message list, the
// resolved model id, and generation controls.
type ChatParams struct {
	Model       string
	Messages    []ChatMessage
	Temperature float64
	MaxTokens   int
}

// ChatMessage is one entry in the message list handed to an adapter.
type ChatMessage struct {
	Role    string
	Content string
}

// Provider is the contract every adapter implements (§4.3).
type Provider interface {
	// Name returns the provider identifier (e.g. "openai").
	Name() string
	// StreamChat returns a finite channel of normalized events, terminated
	// by exactly one EventFinal on every code path.
	StreamChat(ctx context.Context, params ChatParams) (<-chan StreamEvent, error)
}

// ModelInfo is a catalog entry exposed by the Provider Router.
type ModelInfo struct {
	ID        string `json:"id"`
	Provider  string `json:"provider"`
	MaxTokens int    `json:"max_tokens"`
}

// RAGSource describes a retrieved document chunk surfaced to the client.
type RAGSource struct {
	Filename       string  `json:"filename"`
	ChunkIndex     int     `json:"chunk_index"`
	ContentPreview string  `json:"content_preview"`
	Similarity     float64 `json:"similarity"`
}

// --- Context helpers ---

type contextKey int

const ctxKeyRequestID contextKey = 0

// ContextWithRequestID returns a context carrying the given request id.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, id)
}

// RequestIDFromContext extracts the request id stored in ctx, or "".
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyRequestID).(string)
	return id
}
