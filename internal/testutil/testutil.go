// Package testutil provides in-memory fakes for the interfaces the chat
// pipeline depends on, used by unit tests across the module.
package testutil

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/chatgate/chatgate/internal/core"
	"github.com/chatgate/chatgate/internal/storage"
)

// FakeProvider is a scripted core.Provider: it replays a fixed sequence of
// StreamEvents regardless of the request, or returns Err if set.
type FakeProvider struct {
	ProviderName string
	Events       []core.StreamEvent
	Err          error

	mu    sync.Mutex
	Calls []core.ChatParams
}

func (f *FakeProvider) Name() string { return f.ProviderName }

func (f *FakeProvider) StreamChat(ctx context.Context, params core.ChatParams) (<-chan core.StreamEvent, error) {
	f.mu.Lock()
	f.Calls = append(f.Calls, params)
	f.mu.Unlock()

	if f.Err != nil {
		return nil, f.Err
	}
	ch := make(chan core.StreamEvent, len(f.Events))
	for _, ev := range f.Events {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

// FakeRAGRetriever returns a fixed source list or error.
type FakeRAGRetriever struct {
	Sources []core.RAGSource
	Err     error
}

func (f *FakeRAGRetriever) Retrieve(ctx context.Context, query, conversationID string) ([]core.RAGSource, error) {
	return f.Sources, f.Err
}

// FakeStore is an in-memory storage.Store.
type FakeStore struct {
	mu            sync.Mutex
	conversations map[string]*core.Conversation
	messages      map[string][]*core.Message
	costEntries   []*core.CostEntry
	events        []*core.AnalyticsEvent
	documents     map[string][]*core.Document
}

// NewFakeStore builds an empty FakeStore.
func NewFakeStore() *FakeStore {
	return &FakeStore{
		conversations: make(map[string]*core.Conversation),
		messages:      make(map[string][]*core.Message),
		documents:     make(map[string][]*core.Document),
	}
}

func (s *FakeStore) CreateConversation(ctx context.Context, c *core.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	cp := *c
	s.conversations[c.ID] = &cp
	return nil
}

func (s *FakeStore) GetConversation(ctx context.Context, id string) (*core.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *c
	cp.MessageCount = len(s.messages[id])
	return &cp, nil
}

func (s *FakeStore) ListConversations(ctx context.Context) ([]*core.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*core.Conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		cp := *c
		cp.MessageCount = len(s.messages[c.ID])
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *FakeStore) UpdateSystemPrompt(ctx context.Context, id, systemPrompt string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return core.ErrNotFound
	}
	c.SystemPrompt = systemPrompt
	return nil
}

func (s *FakeStore) UpdateTitle(ctx context.Context, id, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return core.ErrNotFound
	}
	c.Title = title
	return nil
}

func (s *FakeStore) DeleteConversation(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[id]; !ok {
		return core.ErrNotFound
	}
	delete(s.conversations, id)
	delete(s.messages, id)
	delete(s.documents, id)
	return nil
}

func (s *FakeStore) InsertMessage(ctx context.Context, m *core.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	cp := *m
	s.messages[m.ConversationID] = append(s.messages[m.ConversationID], &cp)

	if c, ok := s.conversations[m.ConversationID]; ok {
		c.TotalInputTokens += m.InputTokens
		c.TotalOutputTokens += m.OutputTokens
		c.TotalCostUSD += m.CostUSD
	}
	return nil
}

func (s *FakeStore) ListMessages(ctx context.Context, conversationID string) ([]*core.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*core.Message, len(s.messages[conversationID]))
	copy(out, s.messages[conversationID])
	return out, nil
}

func (s *FakeStore) ListDocuments(ctx context.Context, conversationID string) ([]*core.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conversationID == "" {
		var all []*core.Document
		for _, docs := range s.documents {
			all = append(all, docs...)
		}
		return all, nil
	}
	return s.documents[conversationID], nil
}

func (s *FakeStore) InsertCostEntry(ctx context.Context, e *core.CostEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	s.costEntries = append(s.costEntries, &cp)
	return nil
}

func (s *FakeStore) SumToday(ctx context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total float64
	for _, e := range s.costEntries {
		total += e.CostUSD
	}
	return total, nil
}

func (s *FakeStore) SummaryForConversation(ctx context.Context, conversationID string) (storage.CostSummary, error) {
	return s.summarize(func(e *core.CostEntry) bool { return e.ConversationID == conversationID })
}

func (s *FakeStore) SummaryGlobal(ctx context.Context) (storage.CostSummary, error) {
	return s.summarize(func(e *core.CostEntry) bool { return true })
}

func (s *FakeStore) summarize(match func(*core.CostEntry) bool) (storage.CostSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var summary storage.CostSummary
	breakdown := make(map[[2]string]*storage.CostBreakdownRow)
	for _, e := range s.costEntries {
		if !match(e) {
			continue
		}
		summary.TotalCostUSD += e.CostUSD
		summary.TotalInputTokens += e.InputTokens
		summary.TotalOutputTokens += e.OutputTokens

		key := [2]string{e.Operation, e.ModelID}
		row, ok := breakdown[key]
		if !ok {
			row = &storage.CostBreakdownRow{Operation: e.Operation, ModelID: e.ModelID}
			breakdown[key] = row
		}
		row.CostUSD += e.CostUSD
		row.InputTokens += e.InputTokens
		row.OutputTokens += e.OutputTokens
	}
	for _, row := range breakdown {
		summary.Breakdown = append(summary.Breakdown, *row)
	}
	return summary, nil
}

func (s *FakeStore) InsertEvent(ctx context.Context, e *core.AnalyticsEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *FakeStore) SummarizeEvents(ctx context.Context, days int) (map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int64)
	for _, e := range s.events {
		out[e.EventType]++
	}
	return out, nil
}

func (s *FakeStore) Ping(ctx context.Context) error { return nil }
func (s *FakeStore) Close() error                   { return nil }

var _ storage.Store = (*FakeStore)(nil)
