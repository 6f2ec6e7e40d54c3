// Package rag implements the RAG Context Retriever: the thin boundary
// between the orchestrator and the external vector-store/embedding service.
// Ingestion (decode -> chunk -> embed -> persist) lives outside this
// module; this package only issues similarity queries and renders the
// retrieved chunks into a prompt-ready context block.
package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/chatgate/chatgate/internal/core"
)

const (
	contextHeader = "--- DOCUMENT CONTEXT ---"
	contextFooter = "--- END CONTEXT ---"

	defaultRequestTimeout = 10 * time.Second
)

// Retriever resolves a query into a list of relevant document chunks,
// already filtered by similarity threshold.
type Retriever interface {
	Retrieve(ctx context.Context, query, conversationID string) ([]core.RAGSource, error)
}

// Client is an HTTP-backed Retriever hitting the external vector-store
// service's similarity-search endpoint.
type Client struct {
	baseURL   string
	k         int
	threshold float64
	http      *http.Client
}

// Config holds the RAG parameters supplied by the YAML overlay.
type Config struct {
	BaseURL   string
	K         int     // retrieval top-k
	Threshold float64 // similarity cutoff, similarity = 1 - distance
}

// New builds a Client from cfg, with its own http.Client limited to
// defaultRequestTimeout per request.
func New(cfg Config) *Client {
	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		k:         cfg.K,
		threshold: cfg.Threshold,
		http:      &http.Client{Timeout: defaultRequestTimeout},
	}
}

type searchRequest struct {
	Query          string `json:"query"`
	ConversationID string `json:"conversation_id,omitempty"`
	K              int    `json:"k"`
}

type searchResponse struct {
	Results []struct {
		Filename string  `json:"filename"`
		Chunk    int     `json:"chunk_index"`
		Content  string  `json:"content_preview"`
		Distance float64 `json:"distance"`
	} `json:"results"`
}

// Retrieve queries the vector store and returns chunks whose similarity
// (1 - distance) meets or exceeds the configured threshold.
func (c *Client) Retrieve(ctx context.Context, query, conversationID string) ([]core.RAGSource, error) {
	body, err := json.Marshal(searchRequest{Query: query, ConversationID: conversationID, K: c.k})
	if err != nil {
		return nil, fmt.Errorf("rag: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("rag: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rag: do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rag: upstream returned %d", resp.StatusCode)
	}

	var out searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("rag: decode response: %w", err)
	}

	sources := make([]core.RAGSource, 0, len(out.Results))
	for _, r := range out.Results {
		similarity := 1.0 - r.Distance
		if similarity < c.threshold {
			continue
		}
		sources = append(sources, core.RAGSource{
			Filename:       r.Filename,
			ChunkIndex:     r.Chunk,
			ContentPreview: r.Content,
			Similarity:     similarity,
		})
	}
	return sources, nil
}

// BuildContextBlock renders retrieved sources into the delimited context
// block embedded in the RAG-scoped system prompt.
func BuildContextBlock(sources []core.RAGSource) string {
	var b strings.Builder
	b.WriteString(contextHeader)
	b.WriteString("\n")
	for _, s := range sources {
		fmt.Fprintf(&b, "[%s, chunk %d]\n%s\n\n", s.Filename, s.ChunkIndex, s.ContentPreview)
	}
	b.WriteString(contextFooter)
	return b.String()
}
