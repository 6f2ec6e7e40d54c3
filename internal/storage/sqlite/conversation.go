package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/chatgate/chatgate/internal/core"
)

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

const timeLayout = "2006-01-02 15:04:05"

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		// goose/sqlite may store with sub-second precision; fall back to RFC3339.
		t, _ = time.Parse(time.RFC3339, s)
	}
	return t
}

func scanConversation(s scanner) (*core.Conversation, error) {
	var c core.Conversation
	var created, updated string
	if err := s.Scan(&c.ID, &c.Title, &c.ModelID, &c.SystemPrompt,
		&c.TotalInputTokens, &c.TotalOutputTokens, &c.TotalCostUSD,
		&created, &updated); err != nil {
		return nil, err
	}
	c.CreatedAt = parseTime(created)
	c.UpdatedAt = parseTime(updated)
	return &c, nil
}

// CreateConversation inserts a new conversation row.
func (s *Store) CreateConversation(ctx context.Context, c *core.Conversation) error {
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO conversations (id, title, model_id, system_prompt)
		 VALUES (?, ?, ?, ?)`,
		c.ID, c.Title, c.ModelID, c.SystemPrompt)
	if err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}
	return nil
}

// GetConversation loads a single conversation, including its message count.
func (s *Store) GetConversation(ctx context.Context, id string) (*core.Conversation, error) {
	row := s.read.QueryRowContext(ctx,
		`SELECT id, title, model_id, system_prompt, total_input_tokens,
		        total_output_tokens, total_cost_usd, created_at, updated_at
		 FROM conversations WHERE id = ?`, id)
	c, err := scanConversation(row)
	if err != nil {
		return nil, notFoundErr("conversation", err)
	}
	c.MessageCount, _ = s.countMessages(ctx, id)
	return c, nil
}

func (s *Store) countMessages(ctx context.Context, conversationID string) (int, error) {
	var n int
	err := s.read.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE conversation_id = ?`, conversationID).Scan(&n)
	return n, err
}

// ListConversations returns all conversations, newest first, with message counts.
func (s *Store) ListConversations(ctx context.Context) ([]*core.Conversation, error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT c.id, c.title, c.model_id, c.system_prompt, c.total_input_tokens,
		        c.total_output_tokens, c.total_cost_usd, c.created_at, c.updated_at,
		        COALESCE((SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id), 0)
		 FROM conversations c ORDER BY c.created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var out []*core.Conversation
	for rows.Next() {
		var c core.Conversation
		var created, updated string
		if err := rows.Scan(&c.ID, &c.Title, &c.ModelID, &c.SystemPrompt,
			&c.TotalInputTokens, &c.TotalOutputTokens, &c.TotalCostUSD,
			&created, &updated, &c.MessageCount); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		c.CreatedAt = parseTime(created)
		c.UpdatedAt = parseTime(updated)
		out = append(out, &c)
	}
	return out, rows.Err()
}

// UpdateSystemPrompt updates a conversation's custom system prompt.
func (s *Store) UpdateSystemPrompt(ctx context.Context, id, systemPrompt string) error {
	res, err := s.write.ExecContext(ctx,
		`UPDATE conversations SET system_prompt = ?, updated_at = datetime('now') WHERE id = ?`,
		systemPrompt, id)
	if err != nil {
		return fmt.Errorf("update system prompt: %w", err)
	}
	return checkRowsAffected(res, "conversation")
}

// UpdateTitle updates a conversation's title (used by auto-title).
func (s *Store) UpdateTitle(ctx context.Context, id, title string) error {
	res, err := s.write.ExecContext(ctx,
		`UPDATE conversations SET title = ?, updated_at = datetime('now') WHERE id = ?`,
		title, id)
	if err != nil {
		return fmt.Errorf("update title: %w", err)
	}
	return checkRowsAffected(res, "conversation")
}

// DeleteConversation cascades to messages, documents, and cost entries via
// the foreign key ON DELETE CASCADE clauses (requires foreign_keys=1).
func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	res, err := s.write.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return checkRowsAffected(res, "conversation")
}

// InsertMessage appends a message and rolls the conversation's totals
// forward in the same transaction, so the two writes are co-committed per
// spec's ordering guarantee.
func (s *Store) InsertMessage(ctx context.Context, m *core.Message) error {
	tx, err := s.write.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, role, content, model_id,
		                        input_tokens, output_tokens, cost_usd, used_docs)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ConversationID, m.Role, m.Content, nullStr(m.ModelID),
		m.InputTokens, m.OutputTokens, m.CostUSD, boolToInt(m.UsedDocs))
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE conversations
		 SET total_input_tokens = total_input_tokens + ?,
		     total_output_tokens = total_output_tokens + ?,
		     total_cost_usd = total_cost_usd + ?,
		     updated_at = datetime('now')
		 WHERE id = ?`,
		m.InputTokens, m.OutputTokens, m.CostUSD, m.ConversationID)
	if err != nil {
		return fmt.Errorf("roll up conversation totals: %w", err)
	}

	return tx.Commit()
}

// ListMessages returns all messages for a conversation in insert order.
func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]*core.Message, error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT id, conversation_id, role, content, model_id, input_tokens,
		        output_tokens, cost_usd, used_docs, created_at
		 FROM messages WHERE conversation_id = ? ORDER BY created_at ASC, rowid ASC`,
		conversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []*core.Message
	for rows.Next() {
		var m core.Message
		var modelID sql.NullString
		var usedDocs int
		var created string
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &modelID,
			&m.InputTokens, &m.OutputTokens, &m.CostUSD, &usedDocs, &created); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.ModelID = modelID.String
		m.UsedDocs = usedDocs != 0
		m.CreatedAt = parseTime(created)
		out = append(out, &m)
	}
	return out, rows.Err()
}

// ListDocuments returns the document catalog rows for a conversation (or
// all documents when conversationID is empty).
func (s *Store) ListDocuments(ctx context.Context, conversationID string) ([]*core.Document, error) {
	var rows *sql.Rows
	var err error
	if conversationID == "" {
		rows, err = s.read.QueryContext(ctx,
			`SELECT id, filename, file_type, file_size, chunk_count, conversation_id, created_at
			 FROM documents ORDER BY created_at DESC`)
	} else {
		rows, err = s.read.QueryContext(ctx,
			`SELECT id, filename, file_type, file_size, chunk_count, conversation_id, created_at
			 FROM documents WHERE conversation_id = ? ORDER BY created_at DESC`, conversationID)
	}
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var out []*core.Document
	for rows.Next() {
		var d core.Document
		var convID sql.NullString
		var created string
		if err := rows.Scan(&d.ID, &d.Filename, &d.FileType, &d.FileSize, &d.ChunkCount, &convID, &created); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		d.ConversationID = convID.String
		d.CreatedAt = parseTime(created)
		out = append(out, &d)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// checkRowsAffected returns core.ErrNotFound (wrapped with entity) if the
// statement touched zero rows.
func checkRowsAffected(res sql.Result, entity string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", entity, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", entity, core.ErrNotFound)
	}
	return nil
}
