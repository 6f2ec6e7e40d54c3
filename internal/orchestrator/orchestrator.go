// Package orchestrator implements the Chat Orchestrator: the ten-step event
// pipeline that turns one client chat request into a sequence of SSE-ready
// Client Events, persisting the turn along the way.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/chatgate/chatgate/internal/core"
	"github.com/chatgate/chatgate/internal/pricing"
	"github.com/chatgate/chatgate/internal/provider/sseutil"
	"github.com/chatgate/chatgate/internal/rag"
	"github.com/chatgate/chatgate/internal/router"
	"github.com/chatgate/chatgate/internal/storage"
)

const (
	defaultSystemPrompt = "You are a helpful, accurate, and concise AI assistant. " +
		"When provided with context from documents, base your answers on that context " +
		"and cite the source documents. If you are unsure, say so."

	ragSystemPromptPrefix = "You are an assistant answering questions using ONLY the following documents as context. " +
		"If the answer is not found in the documents, say so clearly. " +
		"Cite the source document and chunk when referencing information.\n\n"

	autoTitleSystemPrompt = "Generate a concise title (6 words or fewer) for this conversation. Respond with only the title, no punctuation or quotes."
	autoTitleMaxLen       = 50
	autoTitleMaxMessages  = 2
	autoTitleTemperature  = 0.3
	autoTitleMaxTokens    = 20
)

// Client Event kinds, in the order §6 of the spec names them.
const (
	EventConversation = "conversation"
	EventSources       = "sources"
	EventToken         = "token"
	EventWebSources    = "web_sources"
	EventUsage         = "usage"
	EventDone          = "done"
	EventError         = "error"
)

// ClientEvent is one SSE-ready event emitted by the orchestrator. Data is
// whatever JSON-marshalable payload the event kind carries; the server
// layer owns wire encoding.
type ClientEvent struct {
	Kind string
	Data any
}

// Sink receives ClientEvents as the orchestrator produces them, in order.
type Sink interface {
	Send(ev ClientEvent)
}

// ChatRequest is the orchestrator-facing turn request.
type ChatRequest struct {
	ConversationID string
	Message        string
	ModelID        string
	UseRAG         bool
	Temperature    float64
}

// Orchestrator runs the chat pipeline.
type Orchestrator struct {
	store   storage.Store
	router  *router.Router
	rag     rag.Retriever
	pricing *pricing.Book
	budget  BudgetChecker
	now     func() time.Time
}

// BudgetChecker is the Budget Gate's contract from the orchestrator's
// perspective.
type BudgetChecker interface {
	Check(ctx context.Context) error
}

// New builds an Orchestrator. ragRetriever may be nil if RAG is not
// configured; a request with UseRAG=true in that case simply skips RAG
// augmentation.
func New(store storage.Store, r *router.Router, ragRetriever rag.Retriever, book *pricing.Book, gate BudgetChecker) *Orchestrator {
	return &Orchestrator{
		store:   store,
		router:  r,
		rag:     ragRetriever,
		pricing: book,
		budget:  gate,
		now:     time.Now,
	}
}

// Run executes the ten-step pipeline for one turn, emitting ClientEvents to
// sink. Any error after step 1 is caught here and surfaced as a single
// `error` event; no further events are emitted after that.
func (o *Orchestrator) Run(ctx context.Context, req ChatRequest, sink Sink) {
	if err := o.budget.Check(ctx); err != nil {
		sink.Send(ClientEvent{Kind: EventError, Data: errorPayload(err)})
		return
	}

	conv, isNew, err := o.resolveConversation(ctx, req)
	if err != nil {
		sink.Send(ClientEvent{Kind: EventError, Data: errorPayload(err)})
		return
	}
	if isNew {
		sink.Send(ClientEvent{Kind: EventConversation, Data: map[string]string{"conversation_id": conv.ID}})
	}

	if err := o.store.InsertMessage(ctx, &core.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		Role:           core.RoleUser,
		Content:        req.Message,
		UsedDocs:       req.UseRAG,
	}); err != nil {
		sink.Send(ClientEvent{Kind: EventError, Data: errorPayload(err)})
		return
	}

	systemPrompt := conv.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = defaultSystemPrompt
	}
	usedDocs := false
	if req.UseRAG && o.rag != nil {
		sources, err := o.rag.Retrieve(ctx, req.Message, conv.ID)
		if err == nil && len(sources) > 0 {
			systemPrompt = ragSystemPromptPrefix + rag.BuildContextBlock(sources)
			usedDocs = true
			sink.Send(ClientEvent{Kind: EventSources, Data: sources})
		}
	}

	history, err := o.store.ListMessages(ctx, conv.ID)
	if err != nil {
		sink.Send(ClientEvent{Kind: EventError, Data: errorPayload(err)})
		return
	}
	messages := assembleMessages(systemPrompt, history)

	provider, err := o.router.Route(req.ModelID)
	if err != nil {
		sink.Send(ClientEvent{Kind: EventError, Data: errorPayload(err)})
		return
	}

	events, err := provider.StreamChat(ctx, core.ChatParams{
		Model:       req.ModelID,
		Messages:    messages,
		Temperature: req.Temperature,
	})
	if err != nil {
		sink.Send(ClientEvent{Kind: EventError, Data: errorPayload(err)})
		return
	}

	var answer strings.Builder
	var citations []core.Citation
	var inputTokens, outputTokens int
	for ev := range events {
		switch ev.Kind {
		case core.EventTextDelta:
			answer.WriteString(ev.Text)
			sink.Send(ClientEvent{Kind: EventToken, Data: map[string]string{"text": ev.Text}})
		case core.EventCitation:
			citations = append(citations, ev.Citation)
		case core.EventFinal:
			inputTokens = ev.InputTokens
			outputTokens = ev.OutputTokens
			if len(ev.Citations) > 0 {
				citations = ev.Citations
			}
		}
	}

	if deduped := sseutil.DedupCitations(citations); len(deduped) > 0 {
		sink.Send(ClientEvent{Kind: EventWebSources, Data: deduped})
	}

	cost := o.pricing.ChatCost(req.ModelID, inputTokens, outputTokens)
	assistantMsgID := uuid.NewString()
	if err := o.store.InsertMessage(ctx, &core.Message{
		ID:             assistantMsgID,
		ConversationID: conv.ID,
		Role:           core.RoleAssistant,
		Content:        answer.String(),
		ModelID:        req.ModelID,
		InputTokens:    inputTokens,
		OutputTokens:   outputTokens,
		CostUSD:        cost,
		UsedDocs:       usedDocs,
	}); err != nil {
		sink.Send(ClientEvent{Kind: EventError, Data: errorPayload(err)})
		return
	}
	if err := o.store.InsertCostEntry(ctx, &core.CostEntry{
		ConversationID: conv.ID,
		MessageID:      assistantMsgID,
		ModelID:        req.ModelID,
		Operation:      core.OpChat,
		InputTokens:    inputTokens,
		OutputTokens:   outputTokens,
		CostUSD:        cost,
	}); err != nil {
		// The budget gate's SumToday check reads from this table; a
		// silently dropped entry would under-count spend against the
		// daily cap for this turn.
		slog.LogAttrs(ctx, slog.LevelError, "failed to record cost entry",
			slog.String("conversation_id", conv.ID),
			slog.String("error", err.Error()),
		)
	}

	o.maybeAutoTitle(ctx, conv, provider)

	sink.Send(ClientEvent{Kind: EventUsage, Data: map[string]any{
		"input_tokens":    inputTokens,
		"output_tokens":   outputTokens,
		"cost_usd":        cost,
		"model_id":        req.ModelID,
		"conversation_id": conv.ID,
	}})
	sink.Send(ClientEvent{Kind: EventDone, Data: map[string]string{"status": "complete"}})
}

func (o *Orchestrator) resolveConversation(ctx context.Context, req ChatRequest) (*core.Conversation, bool, error) {
	if req.ConversationID != "" {
		conv, err := o.store.GetConversation(ctx, req.ConversationID)
		if err != nil {
			return nil, false, err
		}
		return conv, false, nil
	}
	conv := &core.Conversation{ID: uuid.NewString(), ModelID: req.ModelID}
	if err := o.store.CreateConversation(ctx, conv); err != nil {
		return nil, false, err
	}
	return conv, true, nil
}

func assembleMessages(systemPrompt string, history []*core.Message) []core.ChatMessage {
	out := make([]core.ChatMessage, 0, len(history)+1)
	out = append(out, core.ChatMessage{Role: core.RoleSystem, Content: systemPrompt})
	for _, m := range history {
		out = append(out, core.ChatMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

// maybeAutoTitle runs a short secondary completion to name a new
// conversation. Failure is swallowed entirely -- this is non-critical.
func (o *Orchestrator) maybeAutoTitle(ctx context.Context, conv *core.Conversation, provider core.Provider) {
	msgs, err := o.store.ListMessages(ctx, conv.ID)
	if err != nil || len(msgs) > autoTitleMaxMessages {
		return
	}

	events, err := provider.StreamChat(ctx, core.ChatParams{
		Model: conv.ModelID,
		Messages: []core.ChatMessage{
			{Role: core.RoleSystem, Content: autoTitleSystemPrompt},
			{Role: core.RoleUser, Content: msgs[0].Content},
		},
		Temperature: autoTitleTemperature,
		MaxTokens:   autoTitleMaxTokens,
	})
	if err != nil {
		return
	}

	var title strings.Builder
	for ev := range events {
		if ev.Kind == core.EventTextDelta {
			title.WriteString(ev.Text)
		}
	}
	t := strings.TrimSpace(title.String())
	if t == "" {
		return
	}
	if len(t) > autoTitleMaxLen {
		t = t[:autoTitleMaxLen]
	}
	_ = o.store.UpdateTitle(ctx, conv.ID, t)
}

func errorPayload(err error) map[string]string {
	return map[string]string{"error": errMessage(err)}
}

func errMessage(err error) string {
	if errors.Is(err, core.ErrBudgetExceeded) {
		return fmt.Sprintf("Daily budget exceeded: %v", err)
	}
	return err.Error()
}
