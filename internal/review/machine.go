package review

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ArticleReview/internal/domain"
	"ArticleReview/internal/ports"
)

// Commit carries everything a decided review attempt is made of.
type Commit struct {
	ArticleID   string
	InputHash   string
	Revision    int
	Evaluation  domain.EvaluationResult
	Decision    domain.Decision
	ArchiveKey  string
	SubmittedAt time.Time
}

// Failure describes an attempt that ended without a decision.
type Failure struct {
	Article       domain.Article
	InputHash     string
	PolicyVersion string
	Status        domain.AttemptStatus
	Cause         error
	ArchiveKey    string
	SubmittedAt   time.Time
}

// Machine owns every write to an article's review state.
type Machine struct {
	articles ports.ArticleStore
	reviews  ports.ReviewStore
	logger   *zap.Logger
	now      func() time.Time
}

// NewMachine wires the article and review stores.
func NewMachine(articles ports.ArticleStore, reviews ports.ReviewStore, logger *zap.Logger) *Machine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Machine{
		articles: articles,
		reviews:  reviews,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Submit moves a draft or needs_revision article into pending_review and
// bumps its revision. Submitting a pending article again is a no-op.
func (m *Machine) Submit(ctx context.Context, articleID string) (domain.Article, error) {
	article, err := m.articles.GetArticle(ctx, articleID)
	if err != nil {
		return domain.Article{}, err
	}
	if article.State == domain.StatePendingReview {
		return article, nil
	}
	if !domain.CanTransition(article.State, domain.StatePendingReview) {
		return domain.Article{}, fmt.Errorf("%w: cannot submit article %s from %s", domain.ErrInvalidTransition, articleID, article.State)
	}

	updated, err := m.articles.TransitionArticle(ctx, articleID,
		[]domain.ReviewState{domain.StateDraft, domain.StateNeedsRevision}, domain.StatePendingReview, true)
	if err != nil {
		return domain.Article{}, err
	}
	m.logger.Info("article submitted",
		zap.String("article_id", articleID),
		zap.Int("revision", updated.Revision))
	return updated, nil
}

// Withdraw returns a pending article to draft. In-flight reviews then fail at commit.
func (m *Machine) Withdraw(ctx context.Context, articleID string) (domain.Article, error) {
	updated, err := m.articles.TransitionArticle(ctx, articleID,
		[]domain.ReviewState{domain.StatePendingReview}, domain.StateDraft, false)
	if err != nil {
		return domain.Article{}, err
	}
	m.logger.Info("article withdrawn", zap.String("article_id", articleID))
	return updated, nil
}

// ApplyDecision commits a decision as a compare-and-set transition out of
// pending_review. Re-applying the same evaluation for the same (article,
// input hash) returns the already committed attempt without touching the
// article; a different evaluation for a decided input is ErrInvalidTransition.
func (m *Machine) ApplyDecision(ctx context.Context, c Commit) (domain.ReviewAttempt, error) {
	target, ok := c.Decision.Outcome.TargetState()
	if !ok {
		return domain.ReviewAttempt{}, fmt.Errorf("review: unknown outcome %q", c.Decision.Outcome)
	}
	evalHash := c.Evaluation.Fingerprint()

	existing, err := m.reviews.FindCommittedAttempt(ctx, c.ArticleID, c.InputHash)
	switch {
	case err == nil:
		if existing.EvaluationHash != evalHash {
			m.logger.Warn("conflicting review decision discarded",
				zap.String("article_id", c.ArticleID),
				zap.String("attempt_id", existing.ID))
			return domain.ReviewAttempt{}, fmt.Errorf("%w: article %s revision %d was decided from a different evaluation",
				domain.ErrInvalidTransition, c.ArticleID, existing.Revision)
		}
		existing.Replayed = true
		m.logger.Info("review attempt replayed",
			zap.String("article_id", c.ArticleID),
			zap.String("attempt_id", existing.ID))
		return existing, nil
	case !errors.Is(err, domain.ErrNotFound):
		return domain.ReviewAttempt{}, fmt.Errorf("find committed attempt: %w", err)
	}

	article, err := m.articles.GetArticle(ctx, c.ArticleID)
	if err != nil {
		return domain.ReviewAttempt{}, err
	}
	if article.State != domain.StatePendingReview || article.Revision != c.Revision {
		m.logger.Warn("stale review decision discarded",
			zap.String("article_id", c.ArticleID),
			zap.String("state", string(article.State)),
			zap.Int("revision", article.Revision),
			zap.Int("decided_revision", c.Revision))
		return domain.ReviewAttempt{}, fmt.Errorf("%w: article %s is %s at revision %d, decision was for revision %d",
			domain.ErrInvalidTransition, c.ArticleID, article.State, article.Revision, c.Revision)
	}

	now := m.now()
	submitted := c.SubmittedAt
	if submitted.IsZero() {
		submitted = now
	}
	eval := c.Evaluation
	decision := c.Decision
	attempt := domain.ReviewAttempt{
		ID:             uuid.NewString(),
		ArticleID:      c.ArticleID,
		InputHash:      c.InputHash,
		Revision:       c.Revision,
		Status:         domain.AttemptCommitted,
		FromState:      domain.StatePendingReview,
		ToState:        target,
		PolicyVersion:  decision.PolicyVersion,
		EvaluationHash: evalHash,
		Evaluation:     &eval,
		Decision:       &decision,
		ArchiveKey:     c.ArchiveKey,
		SubmittedAt:    submitted.UTC(),
		CommittedAt:    &now,
	}

	stored, replayed, err := m.reviews.CommitAttempt(ctx, attempt)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			m.logger.Warn("review commit lost the race",
				zap.String("article_id", c.ArticleID),
				zap.Error(err))
		}
		return domain.ReviewAttempt{}, err
	}
	if replayed {
		stored.Replayed = true
		return stored, nil
	}

	m.logger.Info("review decision committed",
		zap.String("article_id", stored.ArticleID),
		zap.String("attempt_id", stored.ID),
		zap.String("outcome", string(decision.Outcome)),
		zap.Int("aggregate_score", decision.Score),
		zap.String("override", string(decision.Override)),
		zap.String("policy_version", decision.PolicyVersion))
	return stored, nil
}

// RecordFailure appends an attempt that ended without a decision. The article
// state is left untouched.
func (m *Machine) RecordFailure(ctx context.Context, f Failure) (domain.ReviewAttempt, error) {
	if f.Status == domain.AttemptCommitted {
		return domain.ReviewAttempt{}, fmt.Errorf("review: %s is not a failure status", f.Status)
	}
	submitted := f.SubmittedAt
	if submitted.IsZero() {
		submitted = m.now()
	}
	attempt := domain.ReviewAttempt{
		ID:            uuid.NewString(),
		ArticleID:     f.Article.ID,
		InputHash:     f.InputHash,
		Revision:      f.Article.Revision,
		Status:        f.Status,
		FromState:     f.Article.State,
		ToState:       f.Article.State,
		PolicyVersion: f.PolicyVersion,
		ArchiveKey:    f.ArchiveKey,
		SubmittedAt:   submitted.UTC(),
	}
	if f.Cause != nil {
		attempt.Error = f.Cause.Error()
	}
	if err := m.reviews.RecordAttempt(ctx, attempt); err != nil {
		return domain.ReviewAttempt{}, fmt.Errorf("record %s attempt: %w", f.Status, err)
	}
	m.logger.Error("review attempt failed",
		zap.String("article_id", f.Article.ID),
		zap.String("attempt_id", attempt.ID),
		zap.String("status", string(f.Status)),
		zap.Error(f.Cause))
	return attempt, nil
}
