// Package invoker provides the uniform call surface into stage
// collaborators: per-invocation timeout, bounded exponential backoff on
// transient failures, and transient-versus-fatal classification.
package invoker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/rigorlab/rigor/pkg/config"
	"github.com/rigorlab/rigor/pkg/models"
	"github.com/rigorlab/rigor/pkg/protocol"
)

// FatalError aborts the current stage attempt. It is recorded against the
// run and surfaced to the operator; it never silently skips validation.
type FatalError struct {
	Stage    models.Stage
	Attempts int
	Err      error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("collaborator for stage %s failed after %d attempt(s): %v", e.Stage, e.Attempts, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// IsFatal checks whether err aborted a stage attempt.
func IsFatal(err error) bool {
	var fe *FatalError

	return errors.As(err, &fe)
}

// IsTransient reports whether err should be retried: an explicit transient
// marker from the collaborator, a network timeout, or an invocation that ran
// into its deadline.
func IsTransient(err error) bool {
	var te *protocol.TransientError
	if errors.As(err, &te) {
		return true
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}

	return errors.Is(err, context.DeadlineExceeded)
}

// Invoker drives collaborator invocations for the convergence loop.
type Invoker struct {
	timeout     time.Duration
	maxAttempts int
	logger      *slog.Logger
}

func New(cfg config.Invoker, logger *slog.Logger) *Invoker {
	return &Invoker{
		timeout:     cfg.Timeout,
		maxAttempts: cfg.MaxAttempts,
		logger:      logger.With("module", "invoker"),
	}
}

// Invoke calls the collaborator, retrying transient failures with
// exponential backoff up to the configured attempt budget. A timeout aborts
// only the current attempt; exhausting the budget converts the failure into
// a FatalError for the stage attempt.
func (i *Invoker) Invoke(ctx context.Context, c protocol.Collaborator, req protocol.Request) (map[string]string, error) {
	attempts := 0

	var artifacts map[string]string

	operation := func() error {
		attempts++

		attemptCtx, cancel := context.WithTimeout(ctx, i.timeout)
		defer cancel()

		out, err := c.Invoke(attemptCtx, req)
		if err != nil {
			// The orchestrator's own cancellation is never retried.
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}

			if IsTransient(err) {
				i.logger.Warn("transient collaborator failure, will retry",
					"collaborator", c.ID(), "stage", req.Stage, "attempt", attempts, "error", err)

				return err
			}

			return backoff.Permanent(err)
		}

		artifacts = out

		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(i.maxAttempts-1)),
		ctx,
	)

	if err := backoff.Retry(operation, policy); err != nil {
		return nil, &FatalError{Stage: req.Stage, Attempts: attempts, Err: err}
	}

	return artifacts, nil
}
