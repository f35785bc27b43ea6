// Package maintenance runs the periodic housekeeping job: trimming
// retention on bgp_updates/anomalies and refreshing the anomaly summary
// materialized view.
package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// RetentionManager deletes rows older than the configured retention window
// from the append-only tables and refreshes the derived summary view.
type RetentionManager struct {
	pool          *pgxpool.Pool
	retentionDays int
	timezone      string
	logger        *zap.Logger
}

func NewRetentionManager(pool *pgxpool.Pool, retentionDays int, timezone string, logger *zap.Logger) *RetentionManager {
	return &RetentionManager{
		pool:          pool,
		retentionDays: retentionDays,
		timezone:      timezone,
		logger:        logger,
	}
}

func (rm *RetentionManager) Run(ctx context.Context) error {
	cutoff, err := rm.cutoff()
	if err != nil {
		return err
	}

	if err := rm.trimBGPUpdates(ctx, cutoff); err != nil {
		return fmt.Errorf("trimming bgp_updates: %w", err)
	}
	if err := rm.trimAnomalies(ctx, cutoff); err != nil {
		return fmt.Errorf("trimming anomalies: %w", err)
	}
	if err := rm.RefreshSummary(ctx); err != nil {
		return fmt.Errorf("refreshing anomaly_daily_summary: %w", err)
	}
	return nil
}

func (rm *RetentionManager) cutoff() (time.Time, error) {
	loc, err := time.LoadLocation(rm.timezone)
	if err != nil {
		return time.Time{}, fmt.Errorf("loading timezone %s: %w", rm.timezone, err)
	}
	now := time.Now().In(loc)
	return now.AddDate(0, 0, -rm.retentionDays), nil
}

// RefreshSummary refreshes the anomaly_daily_summary materialized view
// concurrently, tolerating a not-yet-populated view on a fresh install.
func (rm *RetentionManager) RefreshSummary(ctx context.Context) error {
	if _, err := rm.pool.Exec(ctx, "REFRESH MATERIALIZED VIEW CONCURRENTLY anomaly_daily_summary"); err != nil {
		rm.logger.Warn("failed to refresh anomaly_daily_summary (may not exist yet)", zap.Error(err))
	}
	return nil
}

func (rm *RetentionManager) trimBGPUpdates(ctx context.Context, cutoff time.Time) error {
	tag, err := rm.pool.Exec(ctx, "DELETE FROM bgp_updates WHERE observed_at < $1", cutoff)
	if err != nil {
		return err
	}
	if n := tag.RowsAffected(); n > 0 {
		rm.logger.Info("trimmed bgp_updates", zap.Int64("rows", n), zap.Time("cutoff", cutoff))
	}
	return nil
}

func (rm *RetentionManager) trimAnomalies(ctx context.Context, cutoff time.Time) error {
	tag, err := rm.pool.Exec(ctx, "DELETE FROM anomalies WHERE observed_at < $1", cutoff)
	if err != nil {
		return err
	}
	if n := tag.RowsAffected(); n > 0 {
		rm.logger.Info("trimmed anomalies", zap.Int64("rows", n), zap.Time("cutoff", cutoff))
	}
	return nil
}
