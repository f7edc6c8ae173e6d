// internal/app/system/tasks/jobs.go
package tasks

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Reconciler repairs cached XP counters from the ledger.
type Reconciler interface {
	Reconcile(ctx context.Context) (int, error)
}

// Backfiller grants task rewards missing for verified tasks. Only a
// standalone server, where verify cannot run in a transaction, leaves any.
type Backfiller interface {
	BackfillGrants(ctx context.Context) (int, error)
}

// Expirer rejects scan sessions past their expiry.
type Expirer interface {
	ExpireStale(ctx context.Context, now time.Time) (int64, error)
}

// XPReconcileJob backfills missing task grants, then rewrites every cached
// XP counter that disagrees with the ledger sum.
func XPReconcileJob(ledger Reconciler, tasks Backfiller, logger *zap.Logger, interval time.Duration) Job {
	return Job{
		Name:     "xp-reconcile",
		Interval: interval,
		Run: func(ctx context.Context) error {
			granted, err := tasks.BackfillGrants(ctx)
			if err != nil {
				return err
			}
			repaired, err := ledger.Reconcile(ctx)
			if err != nil {
				return err
			}
			if granted > 0 || repaired > 0 {
				logger.Info("xp reconciled",
					zap.Int("grants_backfilled", granted),
					zap.Int("counters_repaired", repaired))
			}
			return nil
		},
	}
}

// ScanSessionSweepJob marks expired open scan sessions rejected.
// This is a backup for when MongoDB's TTL index cleanup is delayed.
func ScanSessionSweepJob(sessions Expirer, logger *zap.Logger, interval time.Duration) Job {
	return Job{
		Name:     "scan-session-sweep",
		Interval: interval,
		Run: func(ctx context.Context) error {
			count, err := sessions.ExpireStale(ctx, time.Now().UTC())
			if err != nil {
				return err
			}
			if count > 0 {
				logger.Debug("expired scan sessions", zap.Int64("count", count))
			}
			return nil
		},
	}
}
