package ports

import (
	"context"

	"ArticleReview/internal/domain"
)

// ArticleStore owns article content and the review state column.
type ArticleStore interface {
	GetArticle(ctx context.Context, id string) (domain.Article, error)
	// SaveArticle creates the article in draft or updates its content while
	// the current state is editable.
	SaveArticle(ctx context.Context, article domain.Article) (domain.Article, error)
	// TransitionArticle moves the article to `to` only if its current state is
	// one of `from`. bumpRevision increments the revision counter.
	TransitionArticle(ctx context.Context, id string, from []domain.ReviewState, to domain.ReviewState, bumpRevision bool) (domain.Article, error)
	ListArticlesInState(ctx context.Context, state domain.ReviewState) ([]domain.Article, error)
}

// ReviewStore keeps the append-only review attempt log.
type ReviewStore interface {
	// CommitAttempt atomically moves the article from pending_review to
	// attempt.ToState and stores the attempt. When a committed attempt with the
	// same (article, input hash) exists it is returned with replayed=true.
	CommitAttempt(ctx context.Context, attempt domain.ReviewAttempt) (stored domain.ReviewAttempt, replayed bool, err error)
	// RecordAttempt stores a non-committing attempt (evaluation failures).
	RecordAttempt(ctx context.Context, attempt domain.ReviewAttempt) error
	FindCommittedAttempt(ctx context.Context, articleID, inputHash string) (domain.ReviewAttempt, error)
	HasAttempt(ctx context.Context, articleID, inputHash string) (bool, error)
	ListAttempts(ctx context.Context, articleID string) ([]domain.ReviewAttempt, error)
}

// LinkStore holds the current link suggestion set per article.
type LinkStore interface {
	ReplaceLinks(ctx context.Context, set domain.LinkSuggestionSet) error
	GetLinks(ctx context.Context, articleID string) (domain.LinkSuggestionSet, error)
}

// OperatorQueue surfaces work that needs human attention.
type OperatorQueue interface {
	Enqueue(ctx context.Context, task domain.OperatorTask) (domain.OperatorTask, error)
	ListOpenTasks(ctx context.Context) ([]domain.OperatorTask, error)
	ResolveTask(ctx context.Context, id string) error
}

// Repository is the full persistence surface of the service.
type Repository interface {
	ArticleStore
	ReviewStore
	LinkStore
	OperatorQueue
	Ping(ctx context.Context) error
}

// Evaluator calls the external reasoning capability and returns raw payloads.
// The payloads are untrusted and must pass validation before use.
type Evaluator interface {
	Name() string
	Evaluate(ctx context.Context, req domain.EvaluationRequest) ([]byte, error)
	SuggestLinks(ctx context.Context, req domain.EvaluationRequest) ([]byte, error)
}

// Notifier delivers author feedback over one channel.
type Notifier interface {
	Channel() string
	Deliver(ctx context.Context, msg domain.FeedbackMessage) error
}

// PayloadArchive stores raw evaluator payloads for compliance review.
type PayloadArchive interface {
	Put(ctx context.Context, key string, payload []byte) error
}

// Paragrapher splits an article body into plain-text paragraphs.
type Paragrapher interface {
	Paragraphs(body string) ([]string, error)
}

// Scheduler runs named jobs on cron specs.
type Scheduler interface {
	Schedule(name, spec string, job func()) error
	Start()
	Stop() error
}
