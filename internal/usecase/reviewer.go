package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"ArticleReview/internal/domain"
	"ArticleReview/internal/evaluation"
	"ArticleReview/internal/feedback"
	"ArticleReview/internal/links"
	"ArticleReview/internal/metrics"
	"ArticleReview/internal/policy"
	"ArticleReview/internal/ports"
	"ArticleReview/internal/retry"
	"ArticleReview/internal/review"
)

const maxTaskPayload = 8 << 10

// ReviewerDeps wires all collaborators of the review workflow.
type ReviewerDeps struct {
	Articles    ports.ArticleStore
	Reviews     ports.ReviewStore
	Operators   ports.OperatorQueue
	Evaluator   ports.Evaluator
	Paragrapher ports.Paragrapher
	Archive     ports.PayloadArchive
	Validator   *evaluation.Validator
	Policy      *policy.Policy
	Machine     *review.Machine
	Dispatcher  *feedback.Dispatcher
	Attacher    *links.Attacher
	Queue       *Queue
	Metrics     *metrics.Metrics
	Retry       retry.Policy
	// Timeout bounds a single evaluator call; each retry gets its own deadline.
	Timeout      time.Duration
	LinksEnabled bool
	Logger       *zap.Logger
}

// Reviewer runs review attempts: evaluate, validate, decide, commit, notify.
type Reviewer struct {
	articles     ports.ArticleStore
	reviews      ports.ReviewStore
	operators    ports.OperatorQueue
	evaluator    ports.Evaluator
	paragrapher  ports.Paragrapher
	archive      ports.PayloadArchive
	validator    *evaluation.Validator
	policy       *policy.Policy
	machine      *review.Machine
	dispatcher   *feedback.Dispatcher
	attacher     *links.Attacher
	queue        *Queue
	metrics      *metrics.Metrics
	retry        retry.Policy
	timeout      time.Duration
	linksEnabled bool
	logger       *zap.Logger
}

// NewReviewer constructs the orchestration component.
func NewReviewer(deps ReviewerDeps) *Reviewer {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reviewer{
		articles:     deps.Articles,
		reviews:      deps.Reviews,
		operators:    deps.Operators,
		evaluator:    deps.Evaluator,
		paragrapher:  deps.Paragrapher,
		archive:      deps.Archive,
		validator:    deps.Validator,
		policy:       deps.Policy,
		machine:      deps.Machine,
		dispatcher:   deps.Dispatcher,
		attacher:     deps.Attacher,
		queue:        deps.Queue,
		metrics:      deps.Metrics,
		retry:        deps.Retry,
		timeout:      deps.Timeout,
		linksEnabled: deps.LinksEnabled,
		logger:       logger,
	}
}

// SubmitForReview moves the article to pending_review and queues a review.
func (r *Reviewer) SubmitForReview(ctx context.Context, articleID string) (domain.Article, error) {
	article, err := r.machine.Submit(ctx, articleID)
	if err != nil {
		return domain.Article{}, err
	}
	if r.queue != nil {
		r.queue.Enqueue(articleID)
	}
	return article, nil
}

// Withdraw returns a pending article to draft.
func (r *Reviewer) Withdraw(ctx context.Context, articleID string) (domain.Article, error) {
	return r.machine.Withdraw(ctx, articleID)
}

// Review runs one review attempt for a pending article. A task redelivered
// after the current revision was decided returns the committed attempt
// without calling the evaluator again.
func (r *Reviewer) Review(ctx context.Context, articleID string) (domain.ReviewAttempt, error) {
	article, err := r.articles.GetArticle(ctx, articleID)
	if err != nil {
		return domain.ReviewAttempt{}, err
	}
	version := r.policy.Version()
	inputHash := article.ReviewInputHash(version)

	existing, err := r.reviews.FindCommittedAttempt(ctx, articleID, inputHash)
	switch {
	case err == nil:
		existing.Replayed = true
		r.logger.Info("review already decided",
			zap.String("article_id", articleID),
			zap.String("attempt_id", existing.ID))
		return existing, nil
	case !errors.Is(err, domain.ErrNotFound):
		return domain.ReviewAttempt{}, fmt.Errorf("find committed attempt: %w", err)
	}

	if article.State != domain.StatePendingReview {
		return domain.ReviewAttempt{}, fmt.Errorf("%w: article %s is %s, not pending review",
			domain.ErrInvalidTransition, articleID, article.State)
	}

	req, err := r.request(article)
	if err != nil {
		return domain.ReviewAttempt{}, err
	}

	started := time.Now()
	raw, err := r.call(ctx, req, r.evaluator.Evaluate)
	r.metrics.ObserveEvaluation(time.Since(started))
	if err != nil {
		if ctx.Err() != nil {
			return domain.ReviewAttempt{}, ctx.Err()
		}
		cause := fmt.Errorf("%w: %w", domain.ErrEvaluationFailed, err)
		return r.fail(ctx, review.Failure{
			Article:     article,
			InputHash:   inputHash,
			Status:      domain.AttemptEvaluationFailed,
			Cause:       cause,
			SubmittedAt: started,
		}, domain.TaskEvaluationFailed, nil)
	}

	archiveKey := r.archivePayload(ctx, article, inputHash, "evaluation", raw)

	eval, err := r.validator.ValidateEvaluation(raw)
	if err != nil {
		return r.fail(ctx, review.Failure{
			Article:     article,
			InputHash:   inputHash,
			Status:      domain.AttemptMalformedEvaluation,
			Cause:       err,
			ArchiveKey:  archiveKey,
			SubmittedAt: started,
		}, domain.TaskMalformedEvaluation, raw)
	}

	score := r.policy.Aggregate(eval)
	decision := r.policy.Decide(eval, score, article.AuthorTrustTier)

	attempt, err := r.machine.ApplyDecision(ctx, review.Commit{
		ArticleID:   article.ID,
		InputHash:   inputHash,
		Revision:    article.Revision,
		Evaluation:  eval,
		Decision:    decision,
		ArchiveKey:  archiveKey,
		SubmittedAt: started,
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			r.metrics.InvalidTransition()
		}
		return domain.ReviewAttempt{}, err
	}
	if attempt.Replayed {
		return attempt, nil
	}
	r.metrics.ObserveDecision(decision)

	if r.dispatcher != nil {
		if receipt, err := r.dispatcher.Dispatch(ctx, article, attempt); err != nil {
			if receipt.QueuedForOps {
				r.metrics.DeliveryFailed()
			}
			r.logger.Error("author feedback not delivered",
				zap.String("article_id", article.ID),
				zap.String("attempt_id", attempt.ID),
				zap.Error(err))
		}
	}

	if attempt.ToState == domain.StatePublished && r.linksEnabled && r.attacher != nil {
		if _, err := r.suggestLinks(ctx, article, inputHash, req); err != nil {
			r.logger.Warn("link suggestions not attached",
				zap.String("article_id", article.ID),
				zap.Error(err))
		}
	}

	return attempt, nil
}

func (r *Reviewer) request(article domain.Article) (domain.EvaluationRequest, error) {
	paragraphs := []string{article.BodyHTML}
	if r.paragrapher != nil {
		parsed, err := r.paragrapher.Paragraphs(article.BodyHTML)
		if err != nil {
			return domain.EvaluationRequest{}, fmt.Errorf("split article %s: %w", article.ID, err)
		}
		paragraphs = parsed
	}
	return domain.EvaluationRequest{
		ArticleID:       article.ID,
		Title:           article.Title,
		Paragraphs:      paragraphs,
		AuthorID:        article.AuthorID,
		AuthorTrustTier: article.AuthorTrustTier,
	}, nil
}

// call invokes the evaluator with a per-call deadline and bounded retries.
func (r *Reviewer) call(ctx context.Context, req domain.EvaluationRequest, fn func(context.Context, domain.EvaluationRequest) ([]byte, error)) ([]byte, error) {
	var raw []byte
	attempts, err := retry.Do(ctx, r.retry, func(int) error {
		callCtx := ctx
		cancel := context.CancelFunc(func() {})
		if r.timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, r.timeout)
		}
		defer cancel()

		out, err := fn(callCtx, req)
		if err == nil {
			raw = out
			return nil
		}
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return fmt.Errorf("%w: %s after %s", domain.ErrEvaluationTimeout, r.evaluator.Name(), r.timeout)
		}
		return fmt.Errorf("%w: %s: %w", domain.ErrEvaluationTransport, r.evaluator.Name(), err)
	}, func(err error, wait time.Duration) {
		r.logger.Warn("evaluator call failed, retrying",
			zap.String("article_id", req.ArticleID),
			zap.String("provider", r.evaluator.Name()),
			zap.Duration("wait", wait),
			zap.Error(err))
	})
	if err != nil {
		return nil, fmt.Errorf("%d attempts: %w", attempts, err)
	}
	return raw, nil
}

// fail records an attempt that produced no decision and raises an operator task.
func (r *Reviewer) fail(ctx context.Context, f review.Failure, kind domain.OperatorTaskKind, raw []byte) (domain.ReviewAttempt, error) {
	r.metrics.EvaluationFailed(f.Status)

	f.PolicyVersion = r.policy.Version()
	article, cause := f.Article, f.Cause
	attempt, err := r.machine.RecordFailure(ctx, f)
	if err != nil {
		return domain.ReviewAttempt{}, errors.Join(cause, err)
	}

	if r.operators != nil {
		task := domain.OperatorTask{
			Kind:      kind,
			ArticleID: article.ID,
			AttemptID: attempt.ID,
			Detail:    cause.Error(),
		}
		if len(raw) > 0 {
			task.Payload = string(truncate(raw, maxTaskPayload))
		}
		if _, err := r.operators.Enqueue(context.WithoutCancel(ctx), task); err != nil {
			r.logger.Error("operator task not enqueued",
				zap.String("article_id", article.ID),
				zap.String("kind", string(kind)),
				zap.Error(err))
		}
	}
	return attempt, cause
}

func (r *Reviewer) archivePayload(ctx context.Context, article domain.Article, inputHash, kind string, raw []byte) string {
	if r.archive == nil {
		return ""
	}
	key := fmt.Sprintf("%s/%d/%s-%s.json", article.ID, article.Revision, inputHash[:16], kind)
	if err := r.archive.Put(ctx, key, raw); err != nil {
		r.logger.Warn("evaluator payload not archived",
			zap.String("article_id", article.ID),
			zap.String("key", key),
			zap.Error(err))
		return ""
	}
	return key
}

func (r *Reviewer) suggestLinks(ctx context.Context, article domain.Article, inputHash string, req domain.EvaluationRequest) (domain.LinkSuggestionSet, error) {
	raw, err := r.call(ctx, req, r.evaluator.SuggestLinks)
	if err != nil {
		return domain.LinkSuggestionSet{}, err
	}
	r.archivePayload(ctx, article, inputHash, "links", raw)

	set, err := r.validator.ValidateLinks(raw)
	if err != nil {
		return domain.LinkSuggestionSet{}, err
	}
	return r.attacher.Attach(ctx, article.ID, set)
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
