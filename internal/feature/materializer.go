package feature

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// OfflineSource is the durable, offline record of feature writes the
// materializer backfills from — typically the same durable store the
// stream consumer writes events to.
type OfflineSource interface {
	RecentVectors(ctx context.Context, since time.Time) ([]Vector, error)
}

// Materializer periodically copies the last N minutes of offline feature
// writes into the online Store so the serving path stays warm even after a
// sink restart or an online-store eviction.
type Materializer struct {
	source   OfflineSource
	store    Store
	interval time.Duration
	window   time.Duration
	logger   *zap.Logger
}

// NewMaterializer builds a Materializer with a 5-minute backfill window.
func NewMaterializer(source OfflineSource, store Store, interval time.Duration, logger *zap.Logger) *Materializer {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Materializer{source: source, store: store, interval: interval, window: 5 * time.Minute, logger: logger}
}

// Run blocks, materializing on a ticker until ctx is cancelled.
func (m *Materializer) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.materializeOnce(ctx)
		}
	}
}

func (m *Materializer) materializeOnce(ctx context.Context) {
	since := time.Now().Add(-m.window)
	vectors, err := m.source.RecentVectors(ctx, since)
	if err != nil {
		m.logger.Warn("materializer: failed to read offline source", zap.Error(err))
		return
	}
	for _, v := range vectors {
		if err := m.store.Write(v); err != nil {
			m.logger.Warn("materializer: online write failed", zap.String("entity_id", v.EntityID), zap.Error(err))
		}
	}
	m.logger.Debug("materializer: backfilled recent vectors", zap.Int("count", len(vectors)))
}
