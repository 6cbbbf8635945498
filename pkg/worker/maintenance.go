package worker

import (
	"context"
	"time"

	"github.com/augurhq/augur/pkg/core"
)

// runSweeper periodically reclaims jobs whose worker died mid-execution.
// Reclaimed jobs surface as stalled events; their in-flight markers are
// cleared so the fingerprint becomes resolvable again.
func (w *Worker) runSweeper(ctx context.Context) {
	ticker := time.NewTicker(w.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stalled, err := w.queue.Storage().ReclaimStalled(ctx, time.Now())
			if err != nil {
				w.logger.Error("stall sweep failed", "error", err)
				continue
			}
			for _, job := range stalled {
				w.logger.Warn("reclaimed stalled job",
					"job_id", job.ID,
					"fingerprint", job.Fingerprint,
					"new_status", job.Status)

				if err := w.tracker.Clear(ctx, job.Fingerprint); err != nil {
					w.logger.Error("failed to clear marker for stalled job",
						"job_id", job.ID, "error", err)
				}

				w.queue.Emit(&core.JobStalled{Job: job, Timestamp: time.Now()})
				if job.Status == core.StatusFailed {
					w.queue.CallFailHooks(ctx, job, core.ErrJobNotOwned)
					w.queue.Emit(&core.JobFailed{Job: job, Error: core.ErrJobNotOwned, Timestamp: time.Now()})
				}
			}
		}
	}
}

// runSnapshots periodically publishes queue depth by state for the
// observability layer.
func (w *Worker) runSnapshots(ctx context.Context) {
	ticker := time.NewTicker(w.config.SnapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			depths, err := w.queue.Storage().CountByStatus(ctx)
			if err != nil {
				w.logger.Error("queue snapshot failed", "error", err)
				continue
			}
			w.queue.Emit(&core.QueueSnapshot{Depths: depths, Timestamp: time.Now()})
		}
	}
}

// reap trims terminal jobs beyond the retention bound (oldest first) and
// purges expired cache entries and markers.
func (w *Worker) reap(ctx context.Context) {
	evicted, err := w.queue.Storage().TrimTerminal(ctx, w.config.RetentionKeep)
	if err != nil {
		w.logger.Error("retention trim failed", "error", err)
	} else if evicted > 0 {
		w.logger.Info("trimmed terminal jobs", "evicted", evicted)
	}

	purged, err := w.queue.Storage().PurgeExpired(ctx, time.Now())
	if err != nil {
		w.logger.Error("expired entry purge failed", "error", err)
	} else if purged > 0 {
		w.logger.Debug("purged expired kv entries", "purged", purged)
	}
}
