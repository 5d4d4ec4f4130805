/*
scheduler.go - Lock expiry scheduler

PURPOSE:
  Periodically clears case locks older than the lock TTL so a case left
  open by an officer who walked away becomes editable again.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - One conditional UPDATE per tick (store.ExpireLocks)
  - Counts cleared locks in the claims_locks_expired_total metric
  - Acquire already takes over stale locks; the sweep keeps the queue
    view's locked_by column honest

CONFIGURATION:
  - TTL:           Age at which a lock is stale (locks.ttl)
  - CheckInterval: How often to sweep (locks.sweep_interval)
  - Enabled:       Whether scheduler is active (default: true)

USAGE:
  scheduler := NewLockExpiryScheduler(store, cfg.Locks.TTL, logger, metrics)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: AcquireLock / ReleaseLock endpoints
  - claims/store.go: LockStore contract
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/warp/claims-engine/claims"
)

// ExpiryRecorder receives the number of locks cleared per sweep.
type ExpiryRecorder interface {
	RecordLocksExpired(n int)
}

// LockExpiryScheduler clears stale case locks.
type LockExpiryScheduler struct {
	Store         claims.LockStore
	TTL           time.Duration
	CheckInterval time.Duration
	Enabled       bool
	Logger        *logrus.Logger
	Metrics       ExpiryRecorder
	Now           func() time.Time

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewLockExpiryScheduler creates a new scheduler sweeping once a minute.
func NewLockExpiryScheduler(store claims.LockStore, ttl time.Duration, logger *logrus.Logger, metrics ExpiryRecorder) *LockExpiryScheduler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	return &LockExpiryScheduler{
		Store:         store,
		TTL:           ttl,
		CheckInterval: time.Minute,
		Enabled:       true,
		Logger:        logger,
		Metrics:       metrics,
		Now:           time.Now,
	}
}

// Start begins the scheduler.
func (s *LockExpiryScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.Logger.Info("lock expiry scheduler disabled")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.stop = make(chan struct{})
	s.wg.Add(1)

	go s.run()

	s.Logger.WithFields(logrus.Fields{
		"interval": s.CheckInterval.String(),
		"ttl":      s.TTL.String(),
	}).Info("lock expiry scheduler started")
}

// Stop stops the scheduler and waits for an in-flight sweep.
func (s *LockExpiryScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.wg.Wait()
		s.ticker = nil
		s.Logger.Info("lock expiry scheduler stopped")
	}
}

func (s *LockExpiryScheduler) run() {
	defer s.wg.Done()

	// Run immediately on start
	s.sweep()

	for {
		select {
		case <-s.ticker.C:
			s.sweep()
		case <-s.stop:
			return
		}
	}
}

func (s *LockExpiryScheduler) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), s.CheckInterval)
	defer cancel()

	if _, err := s.RunOnce(ctx); err != nil {
		s.Logger.WithError(err).Warn("lock expiry sweep failed")
	}
}

// RunOnce clears every lock older than the TTL and returns how many were
// cleared.
func (s *LockExpiryScheduler) RunOnce(ctx context.Context) (int, error) {
	staleBefore := s.Now().UTC().Add(-s.TTL)

	n, err := s.Store.ExpireLocks(ctx, staleBefore)
	if err != nil {
		return 0, err
	}
	if s.Metrics != nil {
		s.Metrics.RecordLocksExpired(n)
	}
	if n > 0 {
		s.Logger.WithFields(logrus.Fields{
			"expired":      n,
			"stale_before": staleBefore.Format(time.RFC3339),
		}).Info("expired case locks")
	}
	return n, nil
}
