// Package webhook implements best-effort delivery of completed results to
// caller-supplied URLs.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/augurhq/augur/pkg/backoff"
	"github.com/augurhq/augur/pkg/core"
)

// Outcome reports the result of a delivery. Delivery failure never fails the
// owning job: the job's authoritative result is already durably cached and
// retrievable by polling.
type Outcome struct {
	Delivered  bool
	Attempts   int
	StatusCode int
	Err        error
}

// Deliverer POSTs result payloads with a hard per-attempt timeout and
// bounded exponential-backoff retries. Any non-2xx status is retryable.
type Deliverer struct {
	client  *http.Client
	timeout time.Duration
	retry   backoff.Config
	logger  *slog.Logger
}

// New creates a deliverer. timeout bounds each individual attempt.
func New(timeout time.Duration, retry backoff.Config, logger *slog.Logger) *Deliverer {
	return &Deliverer{
		client:  &http.Client{},
		timeout: timeout,
		retry:   retry,
		logger:  logger.With("component", "webhook"),
	}
}

// Deliver POSTs the payload as a JSON body. It retries non-2xx responses and
// transport errors up to the configured attempt count, then reports a
// non-fatal failure outcome carrying a *core.DeliveryError.
func (d *Deliverer) Deliver(ctx context.Context, url string, payload any) Outcome {
	body, err := json.Marshal(payload)
	if err != nil {
		return Outcome{Err: &core.DeliveryError{URL: url, Err: err}}
	}

	var out Outcome
	var lastErr error

	for attempt := 1; attempt <= d.retry.MaxAttempts; attempt++ {
		out.Attempts = attempt

		status, err := d.post(ctx, url, body)
		out.StatusCode = status
		if err == nil {
			out.Delivered = true
			d.logger.Debug("webhook delivered", "url", url, "attempts", attempt, "status", status)
			return out
		}
		lastErr = err

		if ctx.Err() != nil {
			break
		}
		if attempt >= d.retry.MaxAttempts {
			break
		}

		delay := d.retry.Delay(attempt + 1)
		d.logger.Warn("webhook attempt failed, retrying",
			"url", url, "attempt", attempt, "delay", delay, "error", err)

		select {
		case <-ctx.Done():
			out.Err = &core.DeliveryError{URL: url, Attempts: out.Attempts, Err: ctx.Err()}
			return out
		case <-time.After(delay):
		}
	}

	out.Err = &core.DeliveryError{URL: url, Attempts: out.Attempts, Err: lastErr}
	d.logger.Error("webhook delivery failed", "url", url, "attempts", out.Attempts, "error", lastErr)
	return out
}

// post performs one attempt under the per-attempt timeout. The request
// aborts, rather than hangs, past the deadline.
func (d *Deliverer) post(ctx context.Context, url string, body []byte) (int, error) {
	attemptCtx := ctx
	if d.timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, fmt.Errorf("endpoint returned status %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}
