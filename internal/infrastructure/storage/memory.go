package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"ArticleReview/internal/domain"
	"ArticleReview/internal/ports"
)

// MemoryRepository keeps everything in process memory. It backs tests and
// single-process development runs.
type MemoryRepository struct {
	mu       sync.Mutex
	articles map[string]domain.Article
	attempts []domain.ReviewAttempt
	links    map[string]domain.LinkSuggestionSet
	tasks    []domain.OperatorTask
	now      func() time.Time
}

var _ ports.Repository = (*MemoryRepository)(nil)

// NewMemoryRepository builds an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		articles: map[string]domain.Article{},
		links:    map[string]domain.LinkSuggestionSet{},
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Ping always succeeds.
func (r *MemoryRepository) Ping(context.Context) error { return nil }

// GetArticle returns the article or domain.ErrNotFound.
func (r *MemoryRepository) GetArticle(_ context.Context, id string) (domain.Article, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	article, ok := r.articles[id]
	if !ok {
		return domain.Article{}, fmt.Errorf("article %s: %w", id, domain.ErrNotFound)
	}
	return article, nil
}

// SaveArticle creates a draft or updates content of an editable article.
func (r *MemoryRepository) SaveArticle(_ context.Context, article domain.Article) (domain.Article, error) {
	if strings.TrimSpace(article.ID) == "" {
		return domain.Article{}, fmt.Errorf("article id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	current, ok := r.articles[article.ID]
	if !ok {
		article.State = domain.StateDraft
		article.Revision = 0
		article.CreatedAt = now
		article.UpdatedAt = now
		r.articles[article.ID] = article
		return article, nil
	}
	if !current.State.Editable() {
		return domain.Article{}, fmt.Errorf("%w: article %s is %s", domain.ErrInvalidTransition, article.ID, current.State)
	}

	current.AuthorID = article.AuthorID
	current.AuthorTrustTier = article.AuthorTrustTier
	current.AuthorContact = article.AuthorContact
	current.Title = article.Title
	current.BodyHTML = article.BodyHTML
	current.UpdatedAt = now
	r.articles[article.ID] = current
	return current, nil
}

// TransitionArticle applies a guarded state change.
func (r *MemoryRepository) TransitionArticle(_ context.Context, id string, from []domain.ReviewState, to domain.ReviewState, bumpRevision bool) (domain.Article, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	article, ok := r.articles[id]
	if !ok {
		return domain.Article{}, fmt.Errorf("article %s: %w", id, domain.ErrNotFound)
	}
	if !containsState(from, article.State) {
		return domain.Article{}, fmt.Errorf("%w: article %s is %s, cannot move to %s", domain.ErrInvalidTransition, id, article.State, to)
	}
	article.State = to
	if bumpRevision {
		article.Revision++
	}
	article.UpdatedAt = r.now()
	r.articles[id] = article
	return article, nil
}

// ListArticlesInState returns articles in the given state ordered by id.
func (r *MemoryRepository) ListArticlesInState(_ context.Context, state domain.ReviewState) ([]domain.Article, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []domain.Article
	for _, a := range r.articles {
		if a.State == state {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CommitAttempt performs the compare-and-set transition and appends the attempt.
func (r *MemoryRepository) CommitAttempt(_ context.Context, attempt domain.ReviewAttempt) (domain.ReviewAttempt, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.committedLocked(attempt.ArticleID, attempt.InputHash); ok {
		stored, err := replayOf(existing, attempt)
		return stored, err == nil, err
	}

	article, ok := r.articles[attempt.ArticleID]
	if !ok {
		return domain.ReviewAttempt{}, false, fmt.Errorf("article %s: %w", attempt.ArticleID, domain.ErrNotFound)
	}
	if article.State != domain.StatePendingReview || article.Revision != attempt.Revision {
		return domain.ReviewAttempt{}, false, fmt.Errorf("%w: article %s is %s at revision %d",
			domain.ErrInvalidTransition, attempt.ArticleID, article.State, article.Revision)
	}

	article.State = attempt.ToState
	article.UpdatedAt = r.now()
	r.articles[article.ID] = article
	r.attempts = append(r.attempts, attempt)
	return attempt, false, nil
}

// RecordAttempt appends a non-committing attempt.
func (r *MemoryRepository) RecordAttempt(_ context.Context, attempt domain.ReviewAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.articles[attempt.ArticleID]; !ok {
		return fmt.Errorf("article %s: %w", attempt.ArticleID, domain.ErrNotFound)
	}
	r.attempts = append(r.attempts, attempt)
	return nil
}

// FindCommittedAttempt looks up the committed attempt for (article, hash).
func (r *MemoryRepository) FindCommittedAttempt(_ context.Context, articleID, inputHash string) (domain.ReviewAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a, ok := r.committedLocked(articleID, inputHash); ok {
		return a, nil
	}
	return domain.ReviewAttempt{}, fmt.Errorf("committed attempt for %s: %w", articleID, domain.ErrNotFound)
}

// HasAttempt reports whether any attempt exists for (article, hash).
func (r *MemoryRepository) HasAttempt(_ context.Context, articleID, inputHash string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, a := range r.attempts {
		if a.ArticleID == articleID && a.InputHash == inputHash {
			return true, nil
		}
	}
	return false, nil
}

// ListAttempts returns the audit trail of an article in submission order.
func (r *MemoryRepository) ListAttempts(_ context.Context, articleID string) ([]domain.ReviewAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := []domain.ReviewAttempt{}
	for _, a := range r.attempts {
		if a.ArticleID == articleID {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SubmittedAt.Before(out[j].SubmittedAt) })
	return out, nil
}

// ReplaceLinks stores set as the article's only link suggestion set.
func (r *MemoryRepository) ReplaceLinks(_ context.Context, set domain.LinkSuggestionSet) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	set.Links = append([]domain.LinkSuggestion(nil), set.Links...)
	r.links[set.ArticleID] = set
	return nil
}

// GetLinks returns the current link set or domain.ErrNotFound.
func (r *MemoryRepository) GetLinks(_ context.Context, articleID string) (domain.LinkSuggestionSet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.links[articleID]
	if !ok {
		return domain.LinkSuggestionSet{}, fmt.Errorf("links for %s: %w", articleID, domain.ErrNotFound)
	}
	set.Links = append([]domain.LinkSuggestion(nil), set.Links...)
	return set, nil
}

// Enqueue adds an operator task.
func (r *MemoryRepository) Enqueue(_ context.Context, task domain.OperatorTask) (domain.OperatorTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = r.now()
	}
	r.tasks = append(r.tasks, task)
	return task, nil
}

// ListOpenTasks returns unresolved tasks oldest first.
func (r *MemoryRepository) ListOpenTasks(context.Context) ([]domain.OperatorTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := []domain.OperatorTask{}
	for _, t := range r.tasks {
		if t.ResolvedAt == nil {
			out = append(out, t)
		}
	}
	return out, nil
}

// ResolveTask marks a task as handled.
func (r *MemoryRepository) ResolveTask(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.tasks {
		if r.tasks[i].ID == id {
			if r.tasks[i].ResolvedAt == nil {
				now := r.now()
				r.tasks[i].ResolvedAt = &now
			}
			return nil
		}
	}
	return fmt.Errorf("operator task %s: %w", id, domain.ErrNotFound)
}

func (r *MemoryRepository) committedLocked(articleID, inputHash string) (domain.ReviewAttempt, bool) {
	for _, a := range r.attempts {
		if a.ArticleID == articleID && a.InputHash == inputHash && a.Status == domain.AttemptCommitted {
			return a, true
		}
	}
	return domain.ReviewAttempt{}, false
}

func containsState(states []domain.ReviewState, s domain.ReviewState) bool {
	for _, candidate := range states {
		if candidate == s {
			return true
		}
	}
	return false
}
