/*
executor.go - Retry and circuit breaking for workflow steps

PURPOSE:
  Runs the best-effort steps that follow a committed calculation (stage
  update, review enqueue, lock release) with bounded retries. Each step
  name gets its own circuit breaker so a failing review table does not
  hold up stage updates.

RETRY POLICY:
  - Backoff starts at RetryInitialBackoff and grows by RetryMultiplier,
    capped at RetryMaxBackoff
  - Classifier decides what is retried and what trips the breaker
  - A cancelled context stops retrying at once

BREAKER:
  - Opens once BreakerMinRequests calls were seen and the failure ratio
    reaches BreakerFailureRatio
  - While open, calls fail fast with a "<step> skipped" error wrapping
    gobreaker.ErrOpenState

SEE ALSO:
  - policy.go: Config and defaults
  - submission/writer.go: Secondary steps
  - metrics/metrics.go: Retry counter and breaker gauge (Observer)
*/
package resilience

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"
	"github.com/warp/claims-engine/generic"
)

// =============================================================================
// CLASSIFICATION
// =============================================================================

// ErrorClassification says whether an error is worth another attempt and
// whether it counts against the step's breaker.
type ErrorClassification struct {
	Retryable     bool
	RecordFailure bool
}

type ErrorClassifier func(err error) ErrorClassification

// StoreClassifier retries data-source failures. Cancellation and domain
// errors (not found, validation, lock conflict) are final and do not count
// against the breaker.
func StoreClassifier(err error) ErrorClassification {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ErrorClassification{}
	case generic.IsNotFound(err), generic.IsClientError(err), generic.IsConflict(err):
		return ErrorClassification{}
	default:
		return ErrorClassification{Retryable: true, RecordFailure: true}
	}
}

// IsCircuitOpen reports whether a step was skipped by its breaker.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// =============================================================================
// EXECUTOR
// =============================================================================

// Observer receives retry and breaker events. *metrics.Metrics satisfies it.
type Observer interface {
	RecordRetry(step string)
	SetBreakerState(step string, state float64)
}

// Executor runs named steps with retry and a breaker per step name.
type Executor struct {
	cfg      Config
	logger   *logrus.Logger
	observer Observer

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[any]
}

func NewExecutor(cfg Config, logger *logrus.Logger, observer Observer) *Executor {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Executor{
		cfg:      cfg.normalize(),
		logger:   logger,
		observer: observer,
		breakers: make(map[string]*gobreaker.CircuitBreaker[any]),
	}
}

// Execute runs fn under the named step's retry policy and breaker. A nil
// classifier means StoreClassifier.
func (e *Executor) Execute(ctx context.Context, step string, fn func(context.Context) error, classifier ErrorClassifier) error {
	if fn == nil {
		return fmt.Errorf("resilience: step %q has no callback", step)
	}
	name := strings.TrimSpace(step)
	if name == "" {
		name = "unnamed"
	}
	if classifier == nil {
		classifier = StoreClassifier
	}

	if !e.cfg.BreakerEnabled {
		return e.retry(ctx, name, fn, classifier)
	}

	_, err := e.breaker(name, classifier).Execute(func() (any, error) {
		return nil, e.retry(ctx, name, fn, classifier)
	})
	if IsCircuitOpen(err) {
		return fmt.Errorf("%s skipped: %w", name, err)
	}
	return err
}

func (e *Executor) retry(ctx context.Context, step string, fn func(context.Context) error, classifier ErrorClassifier) error {
	wait := e.cfg.RetryInitialBackoff

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !classifier(err).Retryable || attempt >= e.cfg.RetryMaxAttempts {
			return err
		}

		e.logger.WithFields(logrus.Fields{
			"step":         step,
			"attempt":      attempt,
			"max_attempts": e.cfg.RetryMaxAttempts,
			"backoff_ms":   wait.Milliseconds(),
		}).WithError(err).Warn("retrying workflow step")
		if e.observer != nil {
			e.observer.RecordRetry(step)
		}

		if !sleep(ctx, wait) {
			return err
		}
		wait = e.cfg.nextBackoff(wait)
	}
}

// sleep waits for d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// =============================================================================
// BREAKERS
// =============================================================================

func (e *Executor) breaker(step string, classifier ErrorClassifier) *gobreaker.CircuitBreaker[any] {
	e.mu.Lock()
	defer e.mu.Unlock()

	if cb, ok := e.breakers[step]; ok {
		return cb
	}

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        step,
		MaxRequests: e.cfg.BreakerHalfOpenMaxCalls,
		Timeout:     e.cfg.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < e.cfg.BreakerMinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= e.cfg.BreakerFailureRatio
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !classifier(err).RecordFailure
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			e.logger.WithFields(logrus.Fields{
				"step": name,
				"from": from.String(),
				"to":   to.String(),
			}).Warn("workflow step breaker changed state")
			if e.observer != nil {
				e.observer.SetBreakerState(name, float64(to))
			}
		},
	})
	e.breakers[step] = cb
	return cb
}
