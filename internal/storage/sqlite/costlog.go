package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/chatgate/chatgate/internal/core"
	"github.com/chatgate/chatgate/internal/storage"
)

// InsertCostEntry records a single priced operation.
func (s *Store) InsertCostEntry(ctx context.Context, e *core.CostEntry) error {
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO cost_log (conversation_id, message_id, model_id, operation,
		                        input_tokens, output_tokens, audio_minutes,
		                        tts_characters, cost_usd)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		nullStr(e.ConversationID), nullStr(e.MessageID), e.ModelID, e.Operation,
		e.InputTokens, e.OutputTokens, e.AudioMinutes, e.TTSCharacters, e.CostUSD)
	if err != nil {
		return fmt.Errorf("insert cost entry: %w", err)
	}
	return nil
}

// SumToday returns the total USD logged since midnight UTC (SQLite's
// date('now') and the datetime('now') created_at default are both UTC),
// matching the literal `created_at >= date('now')` predicate used upstream.
func (s *Store) SumToday(ctx context.Context) (float64, error) {
	var total sql.NullFloat64
	err := s.read.QueryRowContext(ctx,
		`SELECT SUM(cost_usd) FROM cost_log WHERE created_at >= date('now')`).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum today: %w", err)
	}
	return total.Float64, nil
}

// SummaryForConversation returns the total cost and per-model/operation
// breakdown for a single conversation.
func (s *Store) SummaryForConversation(ctx context.Context, conversationID string) (storage.CostSummary, error) {
	return s.costSummary(ctx, `WHERE conversation_id = ?`, conversationID)
}

// SummaryGlobal returns the total cost and per-model/operation breakdown
// across all logged operations.
func (s *Store) SummaryGlobal(ctx context.Context) (storage.CostSummary, error) {
	return s.costSummary(ctx, ``)
}

func (s *Store) costSummary(ctx context.Context, where string, args ...any) (storage.CostSummary, error) {
	var summary storage.CostSummary

	totalsQuery := `SELECT COALESCE(SUM(cost_usd), 0), COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0)
		FROM cost_log ` + where
	if err := s.read.QueryRowContext(ctx, totalsQuery, args...).Scan(
		&summary.TotalCostUSD, &summary.TotalInputTokens, &summary.TotalOutputTokens); err != nil {
		return summary, fmt.Errorf("sum cost: %w", err)
	}

	breakdownQuery := `SELECT operation, model_id, SUM(cost_usd), SUM(input_tokens), SUM(output_tokens)
		FROM cost_log ` + where + ` GROUP BY operation, model_id ORDER BY operation, model_id`
	rows, err := s.read.QueryContext(ctx, breakdownQuery, args...)
	if err != nil {
		return summary, fmt.Errorf("cost breakdown: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var row storage.CostBreakdownRow
		if err := rows.Scan(&row.Operation, &row.ModelID, &row.CostUSD,
			&row.InputTokens, &row.OutputTokens); err != nil {
			return summary, fmt.Errorf("scan breakdown row: %w", err)
		}
		summary.Breakdown = append(summary.Breakdown, row)
	}
	return summary, rows.Err()
}
