package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"ArticleReview/internal/ports"
)

// CronScheduler runs named jobs on standard five-field cron specs.
type CronScheduler struct {
	cron   *cron.Cron
	logger *zap.Logger
}

var _ ports.Scheduler = (*CronScheduler)(nil)

// NewCronScheduler builds a scheduler evaluating specs in loc.
func NewCronScheduler(loc *time.Location, logger *zap.Logger) *CronScheduler {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CronScheduler{
		cron:   cron.New(cron.WithLocation(loc), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		logger: logger.Named("cron"),
	}
}

// Schedule registers job under name. Overlapping runs of the same job are skipped.
func (c *CronScheduler) Schedule(name, spec string, job func()) error {
	if job == nil {
		return fmt.Errorf("schedule %s: nil job", name)
	}
	_, err := c.cron.AddFunc(spec, func() {
		started := time.Now()
		c.logger.Debug("job started", zap.String("job", name))
		job()
		c.logger.Debug("job finished", zap.String("job", name), zap.Duration("took", time.Since(started)))
	})
	if err != nil {
		return fmt.Errorf("schedule %s (%q): %w", name, spec, err)
	}
	c.logger.Info("job scheduled", zap.String("job", name), zap.String("spec", spec))
	return nil
}

// Start begins running jobs in the background.
func (c *CronScheduler) Start() {
	c.cron.Start()
}

// Stop prevents new runs and waits for running jobs to finish.
func (c *CronScheduler) Stop() error {
	<-c.cron.Stop().Done()
	return nil
}
