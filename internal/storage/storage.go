// Package storage defines persistence interfaces for the gateway.
package storage

import (
	"context"

	"github.com/chatgate/chatgate/internal/core"
)

// ConversationStore manages conversation and message persistence.
type ConversationStore interface {
	CreateConversation(ctx context.Context, c *core.Conversation) error
	GetConversation(ctx context.Context, id string) (*core.Conversation, error)
	ListConversations(ctx context.Context) ([]*core.Conversation, error)
	UpdateSystemPrompt(ctx context.Context, id, systemPrompt string) error
	UpdateTitle(ctx context.Context, id, title string) error
	DeleteConversation(ctx context.Context, id string) error

	// InsertMessage appends a message and, in the same transaction, rolls
	// the conversation's totals forward by the message's token/cost deltas.
	InsertMessage(ctx context.Context, m *core.Message) error
	ListMessages(ctx context.Context, conversationID string) ([]*core.Message, error)
}

// DocumentStore manages document metadata persistence (ingestion itself is
// an external collaborator; this only reads/writes the catalog rows).
type DocumentStore interface {
	ListDocuments(ctx context.Context, conversationID string) ([]*core.Document, error)
}

// CostLogStore is the append-only ledger backing the Cost Log and Budget
// Gate.
type CostLogStore interface {
	InsertCostEntry(ctx context.Context, e *core.CostEntry) error
	SumToday(ctx context.Context) (float64, error)
	SummaryForConversation(ctx context.Context, conversationID string) (CostSummary, error)
	SummaryGlobal(ctx context.Context) (CostSummary, error)
}

// CostSummary aggregates cost-log rows by operation and model id.
type CostSummary struct {
	TotalCostUSD      float64            `json:"total_cost_usd"`
	TotalInputTokens  int                `json:"total_input_tokens"`
	TotalOutputTokens int                `json:"total_output_tokens"`
	Breakdown         []CostBreakdownRow `json:"breakdown"`
}

// CostBreakdownRow is one (operation, model_id) group in a CostSummary.
type CostBreakdownRow struct {
	Operation    string  `json:"operation"`
	ModelID      string  `json:"model_id"`
	CostUSD      float64 `json:"cost_usd"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
}

// AnalyticsStore manages analytics-event persistence.
type AnalyticsStore interface {
	InsertEvent(ctx context.Context, e *core.AnalyticsEvent) error
	SummarizeEvents(ctx context.Context, days int) (map[string]int64, error)
}

// Store combines all storage interfaces backing the gateway.
type Store interface {
	ConversationStore
	DocumentStore
	CostLogStore
	AnalyticsStore
	Ping(ctx context.Context) error
	Close() error
}
