package storage

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	sq "github.com/Masterminds/squirrel"

	"ArticleReview/internal/config"
	"ArticleReview/internal/domain"
)

func newSQLiteRepo(t *testing.T) *SQLRepository {
	t.Helper()

	ctx := context.Background()
	db, err := Open(ctx, config.DatabaseConfig{
		Driver: DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "review.db"),
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := Migrate(db, DriverSQLite, nil); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return NewSQLRepository(db, DriverSQLite)
}

func seedPending(t *testing.T, repo *SQLRepository, id string) domain.Article {
	t.Helper()

	ctx := context.Background()
	if _, err := repo.SaveArticle(ctx, domain.Article{ID: id, AuthorID: "au-1", Title: "Title", BodyHTML: "<p>Body</p>"}); err != nil {
		t.Fatalf("SaveArticle: %v", err)
	}
	article, err := repo.TransitionArticle(ctx, id, []domain.ReviewState{domain.StateDraft}, domain.StatePendingReview, true)
	if err != nil {
		t.Fatalf("TransitionArticle: %v", err)
	}
	return article
}

func committedAttempt(article domain.Article, id, hash string, to domain.ReviewState) domain.ReviewAttempt {
	return attemptWithEthics(article, id, hash, to, 90)
}

func attemptWithEthics(article domain.Article, id, hash string, to domain.ReviewState, ethics int) domain.ReviewAttempt {
	now := time.Now().UTC()
	eval := domain.EvaluationResult{
		Categories: map[domain.Category]domain.CategoryResult{
			domain.CategoryEthics: {Score: ethics, Issues: []string{}, Suggestions: []string{}},
		},
		PromotionFlags: []string{},
	}
	return domain.ReviewAttempt{
		ID:             id,
		ArticleID:      article.ID,
		InputHash:      hash,
		Revision:       article.Revision,
		Status:         domain.AttemptCommitted,
		FromState:      domain.StatePendingReview,
		ToState:        to,
		PolicyVersion:  "v1",
		EvaluationHash: eval.Fingerprint(),
		Evaluation:     &eval,
		Decision:       &domain.Decision{Outcome: domain.OutcomePublish, Score: 88, PolicyVersion: "v1"},
		SubmittedAt:    now,
		CommittedAt:    &now,
	}
}

func TestNewSQLRepositoryPlaceholders(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		DriverPostgres: "SELECT id FROM articles WHERE id = $1",
		DriverSQLite:   "SELECT id FROM articles WHERE id = ?",
	}
	for driver, want := range cases {
		query, _, err := NewSQLRepository(nil, driver).sb.Select("id").From("articles").Where(sq.Eq{"id": "a-1"}).ToSql()
		if err != nil {
			t.Fatalf("%s: ToSql: %v", driver, err)
		}
		if query != want {
			t.Fatalf("%s: got %q, want %q", driver, query, want)
		}
	}
}

func TestSQLRepositoryArticleLifecycle(t *testing.T) {
	t.Parallel()

	repo := newSQLiteRepo(t)
	ctx := context.Background()

	if _, err := repo.GetArticle(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	article := seedPending(t, repo, "a-1")
	if article.State != domain.StatePendingReview || article.Revision != 1 {
		t.Fatalf("unexpected article %+v", article)
	}

	if _, err := repo.SaveArticle(ctx, domain.Article{ID: "a-1", Title: "Edited"}); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition when editing pending article, got %v", err)
	}

	if _, err := repo.TransitionArticle(ctx, "a-1", []domain.ReviewState{domain.StateDraft}, domain.StatePendingReview, true); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}

	pending, err := repo.ListArticlesInState(ctx, domain.StatePendingReview)
	if err != nil || len(pending) != 1 || pending[0].ID != "a-1" {
		t.Fatalf("unexpected pending list %+v err=%v", pending, err)
	}
}

func TestSQLRepositoryCommitAttempt(t *testing.T) {
	t.Parallel()

	repo := newSQLiteRepo(t)
	ctx := context.Background()
	article := seedPending(t, repo, "a-1")

	first := committedAttempt(article, "att-1", "hash-1", domain.StatePublished)
	stored, replayed, err := repo.CommitAttempt(ctx, first)
	if err != nil || replayed || stored.ID != "att-1" {
		t.Fatalf("first commit: stored=%+v replayed=%v err=%v", stored, replayed, err)
	}

	again := committedAttempt(article, "att-2", "hash-1", domain.StatePublished)
	stored, replayed, err = repo.CommitAttempt(ctx, again)
	if err != nil || !replayed || stored.ID != "att-1" {
		t.Fatalf("replay: stored=%+v replayed=%v err=%v", stored.ID, replayed, err)
	}
	if stored.Decision == nil || stored.Decision.Score != 88 || stored.Evaluation.Score(domain.CategoryEthics) != 90 {
		t.Fatalf("stored attempt lost payload: %+v", stored)
	}

	other := committedAttempt(article, "att-3", "hash-2", domain.StateRejected)
	if _, _, err := repo.CommitAttempt(ctx, other); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}

	got, err := repo.GetArticle(ctx, "a-1")
	if err != nil || got.State != domain.StatePublished {
		t.Fatalf("unexpected article %+v err=%v", got, err)
	}

	attempts, err := repo.ListAttempts(ctx, "a-1")
	if err != nil || len(attempts) != 1 {
		t.Fatalf("expected one attempt, got %d err=%v", len(attempts), err)
	}
	if ok, _ := repo.HasAttempt(ctx, "a-1", "hash-1"); !ok {
		t.Fatal("HasAttempt should report the committed attempt")
	}
	if ok, _ := repo.HasAttempt(ctx, "a-1", "hash-2"); ok {
		t.Fatal("HasAttempt should not report the rejected commit")
	}
}

func TestSQLRepositoryCommitDifferentEvaluationSameHash(t *testing.T) {
	t.Parallel()

	repo := newSQLiteRepo(t)
	ctx := context.Background()
	article := seedPending(t, repo, "a-1")

	first := attemptWithEthics(article, "att-1", "hash-1", domain.StatePublished, 90)
	stored, _, err := repo.CommitAttempt(ctx, first)
	if err != nil {
		t.Fatalf("first commit: %v", err)
	}
	if stored.EvaluationHash != first.EvaluationHash {
		t.Fatalf("evaluation hash not stored: %q", stored.EvaluationHash)
	}

	conflicting := attemptWithEthics(article, "att-2", "hash-1", domain.StateRejected, 20)
	if _, replayed, err := repo.CommitAttempt(ctx, conflicting); !errors.Is(err, domain.ErrInvalidTransition) || replayed {
		t.Fatalf("expected ErrInvalidTransition for a different evaluation, got replayed=%v err=%v", replayed, err)
	}

	found, err := repo.FindCommittedAttempt(ctx, "a-1", "hash-1")
	if err != nil || found.ID != "att-1" || found.EvaluationHash != first.EvaluationHash {
		t.Fatalf("unexpected committed attempt %+v err=%v", found, err)
	}
	got, _ := repo.GetArticle(ctx, "a-1")
	if got.State != domain.StatePublished {
		t.Fatalf("conflicting commit changed the article to %s", got.State)
	}
}

func TestSQLRepositoryConcurrentSameHash(t *testing.T) {
	t.Parallel()

	repo := newSQLiteRepo(t)
	ctx := context.Background()
	article := seedPending(t, repo, "a-1")

	const workers = 6
	ids := make([]string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			stored, _, err := repo.CommitAttempt(ctx, committedAttempt(article, "att-"+string(rune('a'+i)), "same", domain.StatePublished))
			if err != nil {
				t.Errorf("worker %d: %v", i, err)
				return
			}
			ids[i] = stored.ID
		}(i)
	}
	wg.Wait()

	for i := 1; i < workers; i++ {
		if ids[i] != ids[0] {
			t.Fatalf("workers observed different attempts: %v", ids)
		}
	}
}

func TestSQLRepositoryRecordAttempt(t *testing.T) {
	t.Parallel()

	repo := newSQLiteRepo(t)
	ctx := context.Background()
	article := seedPending(t, repo, "a-1")

	failed := domain.ReviewAttempt{
		ID: "att-f", ArticleID: article.ID, InputHash: "h", Revision: article.Revision,
		Status: domain.AttemptEvaluationFailed, FromState: domain.StatePendingReview, ToState: domain.StatePendingReview,
		PolicyVersion: "v1", Error: "timeout", SubmittedAt: time.Now().UTC(),
	}
	if err := repo.RecordAttempt(ctx, failed); err != nil {
		t.Fatalf("RecordAttempt: %v", err)
	}
	if _, err := repo.FindCommittedAttempt(ctx, article.ID, "h"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("failed attempt must not count as committed, got %v", err)
	}

	got, err := repo.GetArticle(ctx, article.ID)
	if err != nil || got.State != domain.StatePendingReview {
		t.Fatalf("article must stay pending, got %+v err=%v", got, err)
	}

	attempts, _ := repo.ListAttempts(ctx, article.ID)
	if len(attempts) != 1 || attempts[0].Error != "timeout" || attempts[0].Decision != nil || attempts[0].CommittedAt != nil {
		t.Fatalf("unexpected attempts %+v", attempts)
	}
}

func TestSQLRepositoryLinks(t *testing.T) {
	t.Parallel()

	repo := newSQLiteRepo(t)
	ctx := context.Background()
	seedPending(t, repo, "a-1")

	if _, err := repo.GetLinks(ctx, "a-1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	set := domain.LinkSuggestionSet{
		ArticleID:  "a-1",
		Links:      []domain.LinkSuggestion{{AnchorText: "flu", TargetType: domain.TargetDiseasePage, TargetSlug: "influenza", Position: 1}},
		TotalLinks: 1,
	}
	if err := repo.ReplaceLinks(ctx, set); err != nil {
		t.Fatalf("ReplaceLinks: %v", err)
	}
	set.Links = append(set.Links, domain.LinkSuggestion{AnchorText: "vaccine", TargetType: domain.TargetProduct, TargetSlug: "v", Position: 2})
	set.TotalLinks = 2
	if err := repo.ReplaceLinks(ctx, set); err != nil {
		t.Fatalf("ReplaceLinks (replace): %v", err)
	}

	got, err := repo.GetLinks(ctx, "a-1")
	if err != nil || got.TotalLinks != 2 || len(got.Links) != 2 || got.Links[1].TargetSlug != "v" {
		t.Fatalf("unexpected links %+v err=%v", got, err)
	}
}

func TestSQLRepositoryOperatorTasks(t *testing.T) {
	t.Parallel()

	repo := newSQLiteRepo(t)
	ctx := context.Background()

	task, err := repo.Enqueue(ctx, domain.OperatorTask{Kind: domain.TaskFeedbackDelivery, ArticleID: "a-1", Detail: "smtp down"})
	if err != nil || task.ID == "" {
		t.Fatalf("Enqueue: %+v err=%v", task, err)
	}

	open, err := repo.ListOpenTasks(ctx)
	if err != nil || len(open) != 1 || open[0].Kind != domain.TaskFeedbackDelivery {
		t.Fatalf("unexpected open tasks %+v err=%v", open, err)
	}

	if err := repo.ResolveTask(ctx, task.ID); err != nil {
		t.Fatalf("ResolveTask: %v", err)
	}
	if err := repo.ResolveTask(ctx, task.ID); err != nil {
		t.Fatalf("second ResolveTask: %v", err)
	}
	if err := repo.ResolveTask(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	open, _ = repo.ListOpenTasks(ctx)
	if len(open) != 0 {
		t.Fatalf("expected no open tasks, got %d", len(open))
	}
}
