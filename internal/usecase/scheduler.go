package usecase

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"ArticleReview/internal/domain"
	"ArticleReview/internal/ports"
)

const sweepJob = "review-sweep"

// Sweeper re-queues pending articles whose current revision has no review
// attempt yet. It recovers tasks lost to restarts or a full queue.
type Sweeper struct {
	articles ports.ArticleStore
	reviews  ports.ReviewStore
	queue    *Queue
	version  string
	logger   *zap.Logger
}

// NewSweeper builds a sweeper for the given policy version.
func NewSweeper(articles ports.ArticleStore, reviews ports.ReviewStore, queue *Queue, policyVersion string, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{articles: articles, reviews: reviews, queue: queue, version: policyVersion, logger: logger}
}

// Sweep enqueues pending articles without an attempt and returns how many.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	pending, err := s.articles.ListArticlesInState(ctx, domain.StatePendingReview)
	if err != nil {
		return 0, fmt.Errorf("list pending: %w", err)
	}

	queued := 0
	for _, article := range pending {
		seen, err := s.reviews.HasAttempt(ctx, article.ID, article.ReviewInputHash(s.version))
		if err != nil {
			return queued, fmt.Errorf("check attempts for %s: %w", article.ID, err)
		}
		if seen {
			continue
		}
		if s.queue.Enqueue(article.ID) {
			queued++
		}
	}
	return queued, nil
}

// Scheduler wires the cron driver with the sweep.
type Scheduler struct {
	driver  ports.Scheduler
	sweeper *Sweeper
	spec    string
	logger  *zap.Logger
}

// NewScheduler returns a helper to start/stop the recurring sweep.
func NewScheduler(driver ports.Scheduler, sweeper *Sweeper, spec string, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{driver: driver, sweeper: sweeper, spec: spec, logger: logger}
}

// Start registers the sweep with the driver and starts it.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.driver == nil || s.sweeper == nil {
		return nil
	}

	job := func() {
		n, err := s.sweeper.Sweep(ctx)
		if err != nil {
			s.logger.Error("review sweep failed", zap.Error(err))
			return
		}
		if n > 0 {
			s.logger.Info("review sweep queued articles", zap.Int("queued", n))
		}
	}
	if err := s.driver.Schedule(sweepJob, s.spec, job); err != nil {
		return err
	}
	s.driver.Start()
	return nil
}

// Stop gracefully tears down the underlying scheduler.
func (s *Scheduler) Stop() error {
	if s.driver == nil {
		return nil
	}
	return s.driver.Stop()
}
