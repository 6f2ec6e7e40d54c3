package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/chatgate/chatgate/internal/core"
)

const (
	analyticsChanSize   = 1000
	analyticsBatchSize  = 100
	analyticsFlushEvery = 5 * time.Second
	analyticsDrainTime  = 30 * time.Second
)

// AnalyticsStore is the persistence interface consumed by
// AnalyticsRecorder.
type AnalyticsStore interface {
	InsertEvent(ctx context.Context, e *core.AnalyticsEvent) error
}

// AnalyticsRecorder buffers analytics events and flushes them on a ticker
// or batch-size threshold, whichever comes first. Events are dropped if
// the channel is full -- the analytics path is fire-and-forget by design
// and must never back-pressure the request path.
type AnalyticsRecorder struct {
	ch    chan *core.AnalyticsEvent
	store AnalyticsStore
}

// NewAnalyticsRecorder creates an AnalyticsRecorder backed by store.
func NewAnalyticsRecorder(store AnalyticsStore) *AnalyticsRecorder {
	return &AnalyticsRecorder{
		ch:    make(chan *core.AnalyticsEvent, analyticsChanSize),
		store: store,
	}
}

// Name returns the worker identifier.
func (a *AnalyticsRecorder) Name() string { return "analytics_recorder" }

// Record enqueues an event. It never blocks; drops on full channel.
func (a *AnalyticsRecorder) Record(e *core.AnalyticsEvent) {
	select {
	case a.ch <- e:
	default:
		slog.Warn("analytics event dropped, channel full", "event_type", e.EventType)
	}
}

// Run processes events until ctx is cancelled, then drains remaining
// events with a bounded timeout.
func (a *AnalyticsRecorder) Run(ctx context.Context) error {
	ticker := time.NewTicker(analyticsFlushEvery)
	defer ticker.Stop()

	buf := make([]*core.AnalyticsEvent, 0, analyticsBatchSize)

	for {
		select {
		case e := <-a.ch:
			buf = append(buf, e)
			if len(buf) >= analyticsBatchSize {
				a.flush(ctx, buf)
				buf = buf[:0]
			}

		case <-ticker.C:
			if len(buf) > 0 {
				a.flush(ctx, buf)
				buf = buf[:0]
			}

		case <-ctx.Done():
			a.drain(buf)
			return nil
		}
	}
}

func (a *AnalyticsRecorder) drain(buf []*core.AnalyticsEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), analyticsDrainTime)
	defer cancel()

	for {
		select {
		case e := <-a.ch:
			buf = append(buf, e)
			if len(buf) >= analyticsBatchSize {
				a.flush(ctx, buf)
				buf = buf[:0]
			}
		default:
			if len(buf) > 0 {
				a.flush(ctx, buf)
			}
			return
		}
	}
}

func (a *AnalyticsRecorder) flush(ctx context.Context, buf []*core.AnalyticsEvent) {
	batch := make([]*core.AnalyticsEvent, len(buf))
	copy(batch, buf)

	for _, e := range batch {
		if err := a.store.InsertEvent(ctx, e); err != nil {
			slog.LogAttrs(ctx, slog.LevelError, "analytics flush failed",
				slog.String("event_type", e.EventType),
				slog.String("error", err.Error()),
			)
		}
	}
}
