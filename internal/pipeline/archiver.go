// Package pipeline runs the periodic background jobs that sit beside the
// pending-transaction watcher.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/cascadebot/internal/domain"
)

const (
	archiveLockKey = "archive"
	archiveLockTTL = 15 * time.Minute
)

// Archiver moves ledger rows older than the retention window to cold
// storage on a fixed interval. When a LockManager is set only one instance
// sharing the lock backend archives at a time.
type Archiver struct {
	blob          domain.Archiver
	locks         domain.LockManager
	audit         domain.AuditStore
	retentionDays int
	logger        *slog.Logger
	now           func() time.Time
}

// NewArchiver creates an Archiver. locks and audit may be nil.
func NewArchiver(blob domain.Archiver, locks domain.LockManager, audit domain.AuditStore, retentionDays int, logger *slog.Logger) *Archiver {
	return &Archiver{
		blob:          blob,
		locks:         locks,
		audit:         audit,
		retentionDays: retentionDays,
		logger:        logger,
		now:           time.Now,
	}
}

// Cutoff returns the creation time below which rows are archived.
func (a *Archiver) Cutoff() time.Time {
	return a.now().UTC().Add(-time.Duration(a.retentionDays) * 24 * time.Hour)
}

// Run performs a single archive pass and returns the number of rows moved.
// A pass skipped because another instance holds the lock moves zero rows
// and is not an error.
func (a *Archiver) Run(ctx context.Context) (int64, error) {
	if a.locks != nil {
		unlock, err := a.locks.Acquire(ctx, archiveLockKey, archiveLockTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			a.logger.Info("archive run skipped, lock held elsewhere")
			return 0, nil
		}
		if err != nil {
			return 0, err
		}
		defer unlock()
	}

	cutoff := a.Cutoff()
	a.logger.Info("starting archive run",
		slog.Time("cutoff", cutoff),
		slog.Int("retention_days", a.retentionDays),
	)

	n, err := a.blob.ArchiveSignals(ctx, cutoff)
	if err != nil {
		return n, fmt.Errorf("archiving signals before %v: %w", cutoff, err)
	}
	a.logger.Info("archive run complete", slog.Int64("signals_archived", n))

	if a.audit != nil && n > 0 {
		detail := map[string]any{
			"cutoff": cutoff.Format(time.RFC3339),
			"rows":   n,
		}
		if err := a.audit.Log(ctx, "signals_archived", detail); err != nil {
			a.logger.Warn("audit log failed", slog.String("error", err.Error()))
		}
	}
	return n, nil
}

// RunLoop runs an archive pass immediately and then every interval until
// ctx is cancelled.
func (a *Archiver) RunLoop(ctx context.Context, interval time.Duration) error {
	if _, err := a.Run(ctx); err != nil {
		a.logger.Error("archive run failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("archiver loop stopped")
			return nil
		case <-ticker.C:
			if _, err := a.Run(ctx); err != nil {
				a.logger.Error("archive run failed", slog.String("error", err.Error()))
			}
		}
	}
}
