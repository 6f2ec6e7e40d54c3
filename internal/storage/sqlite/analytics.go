package sqlite

import (
	"context"
	"fmt"

	"github.com/chatgate/chatgate/internal/core"
)

// InsertEvent records a fire-and-forget analytics event. Callers typically
// invoke this from the async worker, not the request path.
func (s *Store) InsertEvent(ctx context.Context, e *core.AnalyticsEvent) error {
	data := e.EventData
	if data == "" {
		data = "{}"
	}
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO analytics_events (event_type, event_data) VALUES (?, ?)`,
		e.EventType, data)
	if err != nil {
		return fmt.Errorf("insert analytics event: %w", err)
	}
	return nil
}

// SummarizeEvents counts events by type over the trailing window.
func (s *Store) SummarizeEvents(ctx context.Context, days int) (map[string]int64, error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT event_type, COUNT(*) FROM analytics_events
		 WHERE created_at >= datetime('now', ? || ' days')
		 GROUP BY event_type`,
		fmt.Sprintf("-%d", days))
	if err != nil {
		return nil, fmt.Errorf("summarize events: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var eventType string
		var count int64
		if err := rows.Scan(&eventType, &count); err != nil {
			return nil, fmt.Errorf("scan event summary row: %w", err)
		}
		out[eventType] = count
	}
	return out, rows.Err()
}
