package usecase

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"ArticleReview/internal/config"
)

// Handler processes one queued article.
type Handler func(ctx context.Context, articleID string) error

// Queue is a bounded in-process worker pool for review tasks. An article
// that is already queued or running is not queued twice.
type Queue struct {
	tasks   chan string
	workers int
	logger  *zap.Logger

	mu      sync.Mutex
	pending map[string]struct{}

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewQueue sizes the pool from the workers config.
func NewQueue(cfg config.WorkerConfig, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	workers := cfg.Concurrency
	if workers < 1 {
		workers = 1
	}
	size := cfg.QueueSize
	if size < 1 {
		size = 1
	}
	return &Queue{
		tasks:   make(chan string, size),
		workers: workers,
		logger:  logger,
		pending: map[string]struct{}{},
	}
}

// Enqueue adds articleID unless it is already pending or the queue is full.
func (q *Queue) Enqueue(articleID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.pending[articleID]; ok {
		return false
	}
	select {
	case q.tasks <- articleID:
		q.pending[articleID] = struct{}{}
		return true
	default:
		q.logger.Warn("review queue full, task dropped until next sweep", zap.String("article_id", articleID))
		return false
	}
}

// Len reports the number of queued or running tasks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Start launches the workers. They stop when ctx ends or Stop is called.
func (q *Queue) Start(ctx context.Context, handle Handler) {
	ctx, q.cancel = context.WithCancel(ctx)
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.work(ctx, handle)
	}
	q.logger.Info("review workers started", zap.Int("workers", q.workers), zap.Int("capacity", cap(q.tasks)))
}

// Stop cancels the workers and waits for running tasks to return.
func (q *Queue) Stop() {
	if q.cancel == nil {
		return
	}
	q.cancel()
	q.wg.Wait()
}

func (q *Queue) work(ctx context.Context, handle Handler) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-q.tasks:
			if err := handle(ctx, id); err != nil {
				q.logger.Warn("review task failed", zap.String("article_id", id), zap.Error(err))
			}
			q.mu.Lock()
			delete(q.pending, id)
			q.mu.Unlock()
		}
	}
}
