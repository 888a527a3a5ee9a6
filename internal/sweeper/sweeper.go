// Package sweeper closes expired listings on a cron schedule.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const (
	// DefaultSchedule runs a sweep every minute.
	DefaultSchedule  = "@every 1m"
	defaultBatchSize = 100
	defaultMaxBatch  = 50
	defaultTimeout   = 30 * time.Second
)

var errNilExpirer = errors.New("sweeper: expirer is required")

// Expirer settles expired listings in batches and reports how many it closed.
type Expirer interface {
	SweepExpired(ctx context.Context, limit int) (int, error)
}

// Sweeper drains expired listings.
type Sweeper struct {
	expirer    Expirer
	logger     *zap.Logger
	batchSize  int
	maxBatches int
	timeout    time.Duration
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithBatchSize sets how many listings one SweepExpired call may close. Non-positive sizes are ignored.
func WithBatchSize(size int) Option {
	return func(sweeper *Sweeper) {
		if size > 0 {
			sweeper.batchSize = size
		}
	}
}

// WithTimeout bounds a single scheduled sweep. Non-positive durations are ignored.
func WithTimeout(timeout time.Duration) Option {
	return func(sweeper *Sweeper) {
		if timeout > 0 {
			sweeper.timeout = timeout
		}
	}
}

// New returns a Sweeper for expirer. A nil logger is replaced with a no-op logger.
func New(expirer Expirer, logger *zap.Logger, options ...Option) (*Sweeper, error) {
	if expirer == nil {
		return nil, errNilExpirer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	sweeper := &Sweeper{
		expirer:    expirer,
		logger:     logger,
		batchSize:  defaultBatchSize,
		maxBatches: defaultMaxBatch,
		timeout:    defaultTimeout,
	}
	for _, option := range options {
		if option != nil {
			option(sweeper)
		}
	}
	return sweeper, nil
}

// RunOnce sweeps until a batch comes back short, returning the total closed.
func (sweeper *Sweeper) RunOnce(ctx context.Context) (int, error) {
	sweepCtx, cancel := context.WithTimeout(ctx, sweeper.timeout)
	defer cancel()

	total := 0
	for batch := 0; batch < sweeper.maxBatches; batch++ {
		closed, err := sweeper.expirer.SweepExpired(sweepCtx, sweeper.batchSize)
		total += closed
		if err != nil {
			return total, fmt.Errorf("sweep expired listings: %w", err)
		}
		if closed < sweeper.batchSize {
			break
		}
	}
	return total, nil
}

// Run sweeps on schedule until ctx is cancelled. Overlapping runs are skipped.
func (sweeper *Sweeper) Run(ctx context.Context, schedule string) error {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	scheduler := cron.New(cron.WithChain(
		cron.Recover(cron.DiscardLogger),
		cron.SkipIfStillRunning(cron.DiscardLogger),
	))
	if _, err := scheduler.AddFunc(schedule, func() { sweeper.tick(ctx) }); err != nil {
		return fmt.Errorf("sweep schedule %q: %w", schedule, err)
	}
	sweeper.logger.Info("expiry sweeper started", zap.String("schedule", schedule))
	scheduler.Start()
	<-ctx.Done()
	<-scheduler.Stop().Done()
	sweeper.logger.Info("expiry sweeper stopped")
	return nil
}

func (sweeper *Sweeper) tick(ctx context.Context) {
	closed, err := sweeper.RunOnce(ctx)
	if err != nil {
		sweeper.logger.Error("expiry sweep failed", zap.Int("closed", closed), zap.Error(err))
		return
	}
	if closed > 0 {
		sweeper.logger.Info("expired listings closed", zap.Int("closed", closed))
	}
}
