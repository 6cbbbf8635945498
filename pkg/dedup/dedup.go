// Package dedup tracks which fingerprints are currently being executed so
// equivalent submissions collapse onto one in-flight job.
//
// Mutual exclusion per fingerprint is delegated entirely to the store's
// atomic set-if-absent operation; the tracker never does a check-then-set.
// The marker TTL bounds how long a crashed worker can block resubmission.
// A marker that outlives its TTL mid-execution permits a duplicate job for
// the same fingerprint while the first is still running; that residual
// window is accepted behavior, bounded — not eliminated — by sizing the TTL
// above worst-case execution plus retry time (see FloorTTL).
package dedup

import (
	"context"
	"log/slog"
	"time"

	"github.com/augurhq/augur/pkg/backoff"
	"github.com/augurhq/augur/pkg/core"
)

// keyPrefix namespaces in-flight markers in the backing key-value table so
// they never collide with cache entries.
const keyPrefix = "inflight:"

// Tracker records which fingerprint is being executed and by which job.
type Tracker struct {
	store  core.Storage
	ttl    time.Duration
	logger *slog.Logger
}

// New creates an in-flight tracker with the given marker TTL.
func New(store core.Storage, ttl time.Duration, logger *slog.Logger) *Tracker {
	return &Tracker{
		store:  store,
		ttl:    ttl,
		logger: logger.With("component", "inflight_tracker"),
	}
}

// TTL returns the marker time-to-live.
func (t *Tracker) TTL() time.Duration {
	return t.ttl
}

// FloorTTL computes the minimum safe marker TTL for a given execution
// profile: worst-case per-attempt timeout across all backend attempts and
// queue-level retries, plus the backoff sleeps between them, plus margin.
func FloorTTL(perAttemptTimeout time.Duration, backendRetry backoff.Config, queueAttempts int, queueRetry backoff.Config) time.Duration {
	if queueAttempts < 1 {
		queueAttempts = 1
	}
	oneExecution := perAttemptTimeout * time.Duration(backendRetry.MaxAttempts)
	for i := 2; i <= backendRetry.MaxAttempts; i++ {
		oneExecution += backendRetry.Delay(i)
	}
	total := oneExecution * time.Duration(queueAttempts)
	for i := 2; i <= queueAttempts; i++ {
		total += queueRetry.Delay(i)
	}
	return total + total/4 // 25% margin
}

// Mark records the fingerprint as in-flight for the given job. Returns true
// when this call won the marker; false means another job already holds it.
// The underlying store operation is atomic, so two racing submissions can
// never both win.
func (t *Tracker) Mark(ctx context.Context, fp, jobID string) (bool, error) {
	won, err := t.store.KVSetNX(ctx, keyPrefix+fp, []byte(jobID), t.ttl)
	if err != nil {
		return false, core.NewStoreError("inflight mark", err)
	}
	if won {
		t.logger.Debug("fingerprint marked in-flight", "fingerprint", fp, "job_id", jobID)
	}
	return won, nil
}

// IsInFlight reports whether a marker exists for the fingerprint.
func (t *Tracker) IsInFlight(ctx context.Context, fp string) (bool, error) {
	_, found, err := t.store.KVGet(ctx, keyPrefix+fp)
	if err != nil {
		return false, core.NewStoreError("inflight check", err)
	}
	return found, nil
}

// Lookup returns the job id holding the marker for the fingerprint, if any.
func (t *Tracker) Lookup(ctx context.Context, fp string) (string, bool, error) {
	raw, found, err := t.store.KVGet(ctx, keyPrefix+fp)
	if err != nil {
		return "", false, core.NewStoreError("inflight lookup", err)
	}
	if !found {
		return "", false, nil
	}
	return string(raw), true, nil
}

// Clear removes the marker for a fingerprint. Workers call this
// unconditionally on job completion, success or failure: a leaked marker
// makes its fingerprint unresolvable until the TTL lapses.
func (t *Tracker) Clear(ctx context.Context, fp string) error {
	if err := t.store.KVDelete(ctx, keyPrefix+fp); err != nil {
		return core.NewStoreError("inflight clear", err)
	}
	return nil
}
