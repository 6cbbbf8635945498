// Package backend wraps the external text-generation command with a
// bounded-time, retrying invocation and a two-stage result decode.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/augurhq/augur/pkg/backoff"
	"github.com/augurhq/augur/pkg/core"
)

// Options configure one execution.
type Options struct {
	// Timeout bounds each invocation attempt; the process is killed past it.
	Timeout time.Duration

	// ToolHints optionally narrow which auxiliary capabilities the command
	// may use. Empty means no restriction flags are passed.
	ToolHints []string
}

// Runner executes a query against the generation backend. The worker depends
// on this interface so tests can substitute a fake per instance.
type Runner interface {
	Execute(ctx context.Context, query core.Query, opts Options) (*core.Result, error)
}

// CommandRunner invokes a configured external command, passing the query
// text as the final argument. On any failure (non-zero exit, spawn error,
// timeout) the full invocation is re-attempted with exponential backoff up
// to the configured count.
type CommandRunner struct {
	command string
	args    []string
	retry   backoff.Config
	logger  *slog.Logger
}

// New creates a runner for the given command and base arguments.
func New(command string, args []string, retry backoff.Config, logger *slog.Logger) *CommandRunner {
	return &CommandRunner{
		command: command,
		args:    args,
		retry:   retry,
		logger:  logger.With("component", "backend", "command", command),
	}
}

// Execute runs the command, retrying failures with the configured backoff.
// The returned error after exhausted retries is a *core.ExecutionError.
func (r *CommandRunner) Execute(ctx context.Context, query core.Query, opts Options) (*core.Result, error) {
	var lastErr error

	for attempt := 1; attempt <= r.retry.MaxAttempts; attempt++ {
		res, err := r.runOnce(ctx, query, opts)
		if err == nil {
			return res, nil
		}
		lastErr = err

		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			break
		}
		if attempt >= r.retry.MaxAttempts {
			break
		}

		delay := r.retry.Delay(attempt + 1)
		r.logger.Warn("backend invocation failed, retrying",
			"attempt", attempt,
			"max_attempts", r.retry.MaxAttempts,
			"delay", delay,
			"error", err)

		select {
		case <-ctx.Done():
			return nil, lastErr
		case <-time.After(delay):
		}
	}

	return nil, lastErr
}

func (r *CommandRunner) runOnce(ctx context.Context, query core.Query, opts Options) (*core.Result, error) {
	attemptCtx := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	args := make([]string, 0, len(r.args)+3)
	args = append(args, r.args...)
	if len(opts.ToolHints) > 0 {
		args = append(args, "--tools", strings.Join(opts.ToolHints, ","))
	}
	args = append(args, query.Text)

	cmd := exec.CommandContext(attemptCtx, r.command, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	if err != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		if attemptCtx.Err() != nil {
			err = attemptCtx.Err()
		}
		return nil, &core.ExecutionError{
			ExitCode: exitCode,
			Stderr:   stderr.String(),
			Err:      err,
		}
	}

	r.logger.Debug("backend returned", "elapsed", elapsed, "stdout_bytes", stdout.Len())
	return decode(stdout.Bytes()), nil
}

// decode attempts a structured parse of the command output, falling back to
// a plain-text result. Parse failure on a successful exit is not an
// execution failure.
func decode(out []byte) *core.Result {
	trimmed := bytes.TrimSpace(out)
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') && json.Valid(trimmed) {
		return core.StructuredResult(json.RawMessage(trimmed))
	}
	return core.TextResult(string(trimmed))
}
