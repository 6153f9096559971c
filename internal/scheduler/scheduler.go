// Package scheduler runs the periodic background jobs of the coupon service.
package scheduler

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/kkkkikiki/couponbook/internal/lockmgr"
)

// sweepJobKey is the lock name guarding the lock sweep, so one instance
// sweeps at a time when locks are shared.
const sweepJobKey = "job/lock-sweep"

// LockSweeper reclaims coupons whose lock lease ran out.
type LockSweeper interface {
	ReleaseExpiredLocks(ctx context.Context, limit int) (int, error)
}

// Scheduler runs the lock sweep on a cron schedule.
type Scheduler struct {
	cron       *cron.Cron
	sweeper    LockSweeper
	locks      lockmgr.Manager
	logger     *zap.Logger
	batch      int
	timeout    time.Duration
	instanceID string
}

// New creates a scheduler. batch caps how many coupons one sweep reclaims.
func New(sweeper LockSweeper, locks lockmgr.Manager, logger *zap.Logger, batch int) *Scheduler {
	instanceID, err := os.Hostname()
	if err != nil || instanceID == "" {
		instanceID = fmt.Sprintf("instance-%d", time.Now().UnixNano())
	}

	return &Scheduler{
		cron:       cron.New(cron.WithLocation(time.UTC)),
		sweeper:    sweeper,
		locks:      locks,
		logger:     logger.Named("scheduler"),
		batch:      batch,
		timeout:    time.Minute,
		instanceID: instanceID,
	}
}

// Start registers the sweep under schedule (a cron expression or a descriptor
// such as "@every 30s") and starts the cron runner.
func (s *Scheduler) Start(schedule string) error {
	if _, err := s.cron.AddFunc(schedule, s.sweep); err != nil {
		return fmt.Errorf("failed to register lock sweep job: %w", err)
	}
	s.cron.Start()
	s.logger.Info("scheduler started", zap.String("lock_sweep", schedule))
	return nil
}

// Stop waits for a running sweep to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	s.RunSweep(ctx)
}

// RunSweep performs one sweep unless another instance holds the job lock.
// It returns the number of reclaimed coupons.
func (s *Scheduler) RunSweep(ctx context.Context) int {
	acquired, err := s.locks.TryAcquire(ctx, sweepJobKey, s.instanceID)
	if err != nil {
		s.logger.Error("failed to acquire lock for sweep job", zap.Error(err))
		return 0
	}
	if !acquired {
		s.logger.Debug("lock sweep already running elsewhere, skipping")
		return 0
	}
	defer func() {
		if _, err := s.locks.Release(context.WithoutCancel(ctx), sweepJobKey, s.instanceID); err != nil {
			s.logger.Error("failed to release sweep job lock", zap.Error(err))
		}
	}()

	n, err := s.sweeper.ReleaseExpiredLocks(ctx, s.batch)
	if err != nil {
		s.logger.Error("lock sweep failed", zap.Error(err))
		return 0
	}
	if n > 0 {
		s.logger.Info("reclaimed expired coupon locks", zap.Int("count", n))
	}
	return n
}
