package resilience

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"
	"github.com/warp/claims-engine/generic"
)

type countingObserver struct {
	retries int
	states  []float64
}

func (o *countingObserver) RecordRetry(string)                  { o.retries++ }
func (o *countingObserver) SetBreakerState(_ string, s float64) { o.states = append(o.states, s) }

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestExecuteRetriesTemporaryFailure(t *testing.T) {
	obs := &countingObserver{}
	exec := NewExecutor(Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: 1 * time.Millisecond,
		RetryMaxBackoff:     2 * time.Millisecond,
		RetryMultiplier:     2,
		BreakerEnabled:      false,
	}, quietLogger(), obs)

	attempts := 0
	err := exec.Execute(context.Background(), "set_stage", func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("database is locked")
		}
		return nil
	}, nil)
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
	if obs.retries != 2 {
		t.Fatalf("expected 2 recorded retries, got %d", obs.retries)
	}
}

func TestExecuteDoesNotRetryDomainErrors(t *testing.T) {
	exec := NewExecutor(Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: 1 * time.Millisecond,
		BreakerEnabled:      false,
	}, quietLogger(), nil)

	for _, domainErr := range []error{
		generic.ErrCaseNotFound,
		&generic.LockConflictError{IRN: "1", HeldBy: "x"},
		fmt.Errorf("wrapped: %w", generic.ErrValidation),
		context.Canceled,
	} {
		attempts := 0
		err := exec.Execute(context.Background(), "op", func(context.Context) error {
			attempts++
			return domainErr
		}, nil)
		if !errors.Is(err, domainErr) {
			t.Fatalf("expected %v, got %v", domainErr, err)
		}
		if attempts != 1 {
			t.Fatalf("%v: expected 1 attempt, got %d", domainErr, attempts)
		}
	}
}

func TestExecuteStopsOnCancelledContext(t *testing.T) {
	exec := NewExecutor(Config{RetryMaxAttempts: 5, BreakerEnabled: false}, quietLogger(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := exec.Execute(ctx, "op", func(context.Context) error {
		called = true
		return nil
	}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if called {
		t.Fatal("operation must not run after cancellation")
	}
}

func TestExecuteOpensCircuitAfterFailures(t *testing.T) {
	obs := &countingObserver{}
	exec := NewExecutor(Config{
		RetryMaxAttempts:        1,
		RetryInitialBackoff:     1 * time.Millisecond,
		RetryMaxBackoff:         1 * time.Millisecond,
		RetryMultiplier:         2,
		BreakerEnabled:          true,
		BreakerMinRequests:      2,
		BreakerFailureRatio:     0.5,
		BreakerOpenTimeout:      50 * time.Millisecond,
		BreakerHalfOpenMaxCalls: 1,
	}, quietLogger(), obs)

	errTemp := errors.New("connection refused")
	for i := 0; i < 2; i++ {
		err := exec.Execute(context.Background(), "enqueue_review", func(context.Context) error {
			return errTemp
		}, nil)
		if !errors.Is(err, errTemp) {
			t.Fatalf("expected temporary error on iteration %d, got %v", i, err)
		}
	}

	err := exec.Execute(context.Background(), "enqueue_review", func(context.Context) error {
		t.Fatalf("circuit should be open and must not call operation")
		return nil
	}, nil)
	if !errors.Is(err, gobreaker.ErrOpenState) || !IsCircuitOpen(err) {
		t.Fatalf("expected open state error, got %v", err)
	}
	if err.Error() != "enqueue_review skipped: circuit breaker is open" {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if len(obs.states) == 0 || obs.states[len(obs.states)-1] != float64(gobreaker.StateOpen) {
		t.Fatalf("expected breaker state open to be observed, got %v", obs.states)
	}
}
