// Package janitor runs periodic database maintenance: expired magic tokens
// are cleared and old webhook event records are pruned.
package janitor

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"
	"time"
)

// Defaults: hourly passes, webhook events kept for 90 days.
const (
	DefaultInterval       = time.Hour
	DefaultEventRetention = 90 * 24 * time.Hour
)

// Janitor owns the maintenance tick loop.
type Janitor struct {
	db        *sql.DB
	logger    *slog.Logger
	interval  time.Duration
	retention time.Duration
	now       func() time.Time
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// New creates a janitor. Non-positive interval or retention fall back to the
// defaults.
func New(db *sql.DB, logger *slog.Logger, interval, retention time.Duration) *Janitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if retention <= 0 {
		retention = DefaultEventRetention
	}
	return &Janitor{
		db:        db,
		logger:    logger.With("component", "janitor"),
		interval:  interval,
		retention: retention,
		now:       func() time.Time { return time.Now().UTC() },
		stopCh:    make(chan struct{}),
	}
}

// WithClock overrides the janitor's clock. Tests only.
func (j *Janitor) WithClock(now func() time.Time) *Janitor {
	j.now = now
	return j
}

// Start begins the maintenance tick loop.
func (j *Janitor) Start(ctx context.Context) {
	j.wg.Add(1)
	go j.tickLoop(ctx)
}

// Stop gracefully stops the janitor.
func (j *Janitor) Stop() {
	close(j.stopCh)
	j.wg.Wait()
}

func (j *Janitor) tickLoop(ctx context.Context) {
	defer j.wg.Done()

	// Initial pass immediately
	j.tick(ctx)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			j.tick(ctx)
		case <-j.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// tick performs a single maintenance pass. Failures are logged and retried
// on the next tick.
func (j *Janitor) tick(ctx context.Context) {
	if n, err := j.ClearExpiredTokens(ctx); err != nil {
		j.logger.Error("failed to clear expired magic tokens", "error", err)
	} else if n > 0 {
		j.logger.Info("cleared expired magic tokens", "count", n)
	}

	if n, err := j.PruneEvents(ctx); err != nil {
		j.logger.Error("failed to prune webhook events", "error", err)
	} else if n > 0 {
		j.logger.Info("pruned old webhook events", "count", n)
	}
}

// ClearExpiredTokens nulls out magic tokens past their expiry so a stale
// link cannot be validated against the stored token.
func (j *Janitor) ClearExpiredTokens(ctx context.Context) (int64, error) {
	res, err := j.db.ExecContext(ctx, `
UPDATE user_profiles
SET magic_token = NULL,
    magic_token_expires_at = NULL
WHERE magic_token IS NOT NULL
  AND magic_token_expires_at < ?;
`, j.now().Format(time.RFC3339Nano))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// PruneEvents deletes webhook event records older than the retention window.
func (j *Janitor) PruneEvents(ctx context.Context) (int64, error) {
	cutoff := j.now().Add(-j.retention)
	res, err := j.db.ExecContext(ctx, `
DELETE FROM webhook_events
WHERE created_at < ?;
`, cutoff.Format(time.RFC3339Nano))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
