package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"ArticleReview/internal/config"
	"ArticleReview/internal/domain"
	"ArticleReview/internal/evaluation"
	"ArticleReview/internal/feedback"
	"ArticleReview/internal/infrastructure/parser"
	"ArticleReview/internal/infrastructure/storage"
	"ArticleReview/internal/links"
	"ArticleReview/internal/policy"
	"ArticleReview/internal/retry"
	"ArticleReview/internal/review"
)

type fakeEvaluator struct {
	mu        sync.Mutex
	evaluate  func(ctx context.Context, req domain.EvaluationRequest) ([]byte, error)
	links     func(ctx context.Context, req domain.EvaluationRequest) ([]byte, error)
	evalCalls int
}

func (f *fakeEvaluator) Name() string { return "fake" }

func (f *fakeEvaluator) Evaluate(ctx context.Context, req domain.EvaluationRequest) ([]byte, error) {
	f.mu.Lock()
	f.evalCalls++
	f.mu.Unlock()
	return f.evaluate(ctx, req)
}

func (f *fakeEvaluator) SuggestLinks(ctx context.Context, req domain.EvaluationRequest) ([]byte, error) {
	if f.links == nil {
		return nil, errors.New("no links")
	}
	return f.links(ctx, req)
}

func (f *fakeEvaluator) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.evalCalls
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []domain.FeedbackMessage
}

func (n *recordingNotifier) Channel() string { return "test" }

func (n *recordingNotifier) Deliver(_ context.Context, msg domain.FeedbackMessage) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return nil
}

type memoryArchive struct {
	mu   sync.Mutex
	keys []string
}

func (a *memoryArchive) Put(_ context.Context, key string, _ []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.keys = append(a.keys, key)
	return nil
}

type harness struct {
	repo     *storage.MemoryRepository
	eval     *fakeEvaluator
	notifier *recordingNotifier
	archive  *memoryArchive
	reviewer *Reviewer
	queue    *Queue
}

func newHarness(t *testing.T, eval *fakeEvaluator, tweak func(*ReviewerDeps)) *harness {
	t.Helper()

	repo := storage.NewMemoryRepository()
	pol, err := policy.New(policy.DefaultSettings())
	if err != nil {
		t.Fatalf("policy.New: %v", err)
	}
	notifier := &recordingNotifier{}
	archive := &memoryArchive{}
	paragrapher := parser.NewHTMLParagrapher()
	queue := NewQueue(config.WorkerConfig{Concurrency: 1, QueueSize: 4}, nil)

	deps := ReviewerDeps{
		Articles:     repo,
		Reviews:      repo,
		Operators:    repo,
		Evaluator:    eval,
		Paragrapher:  paragrapher,
		Archive:      archive,
		Validator:    evaluation.NewValidator(pol, 0),
		Policy:       pol,
		Machine:      review.NewMachine(repo, repo, nil),
		Dispatcher:   feedback.NewDispatcher(notifier, repo, retry.Policy{MaxAttempts: 1}, nil),
		Attacher:     links.NewAttacher(repo, repo, paragrapher, links.DefaultBounds(), nil),
		Queue:        queue,
		Retry:        retry.Policy{MaxAttempts: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond},
		Timeout:      time.Second,
		LinksEnabled: true,
	}
	if tweak != nil {
		tweak(&deps)
	}
	return &harness{
		repo:     repo,
		eval:     eval,
		notifier: notifier,
		archive:  archive,
		reviewer: NewReviewer(deps),
		queue:    queue,
	}
}

func (h *harness) submit(t *testing.T, tier string) domain.Article {
	t.Helper()
	ctx := context.Background()
	if _, err := h.repo.SaveArticle(ctx, domain.Article{
		ID:              "a-1",
		AuthorID:        "author-1",
		AuthorTrustTier: tier,
		Title:           "Living with asthma",
		BodyHTML:        "<p>Asthma is a chronic condition.</p><p>Inhalers help.</p><p>See a doctor.</p>",
	}); err != nil {
		t.Fatalf("SaveArticle: %v", err)
	}
	article, err := h.reviewer.SubmitForReview(ctx, "a-1")
	if err != nil {
		t.Fatalf("SubmitForReview: %v", err)
	}
	return article
}

func evaluationJSON(score int) []byte {
	cat := fmt.Sprintf(`{"score": %d, "issues": ["check dosage"], "suggestions": ["cite guideline"]}`, score)
	return []byte(fmt.Sprintf(`{"medical_accuracy": %s, "language_quality": %s, "seo_compliance": %s, "ethics": %s, "content_quality": %s, "promotion_flags": []}`,
		cat, cat, cat, cat, cat))
}

const linksJSON = `{"suggested_links": [
	{"anchor_text": "asthma", "target_type": "disease_page", "target_slug": "asthma", "context": "c", "position": 1},
	{"anchor_text": "chronic condition", "target_type": "article", "target_slug": "chronic", "position": 1},
	{"anchor_text": "inhalers", "target_type": "product", "target_slug": "inhaler", "position": 2},
	{"anchor_text": "help", "target_type": "news", "target_slug": "inhaler-news", "position": 2},
	{"anchor_text": "doctor", "target_type": "article", "target_slug": "find-a-doctor", "position": 3}
], "total_links": 5}`

func staticEvaluation(score int) func(context.Context, domain.EvaluationRequest) ([]byte, error) {
	return func(context.Context, domain.EvaluationRequest) ([]byte, error) {
		return evaluationJSON(score), nil
	}
}

func TestReviewPublishesAndAttachesLinks(t *testing.T) {
	t.Parallel()

	eval := &fakeEvaluator{
		evaluate: staticEvaluation(90),
		links:    func(context.Context, domain.EvaluationRequest) ([]byte, error) { return []byte(linksJSON), nil },
	}
	h := newHarness(t, eval, nil)
	h.submit(t, domain.TrustTierApproved)
	ctx := context.Background()

	attempt, err := h.reviewer.Review(ctx, "a-1")
	if err != nil {
		t.Fatalf("Review: %v", err)
	}
	if attempt.Status != domain.AttemptCommitted || attempt.ToState != domain.StatePublished {
		t.Fatalf("unexpected attempt %+v", attempt)
	}
	if attempt.Decision.Score != 90 || attempt.Decision.PolicyVersion != "default" {
		t.Fatalf("unexpected decision %+v", attempt.Decision)
	}
	if attempt.ArchiveKey == "" {
		t.Fatal("expected raw payload to be archived")
	}

	article, _ := h.repo.GetArticle(ctx, "a-1")
	if article.State != domain.StatePublished {
		t.Fatalf("expected published, got %s", article.State)
	}
	if len(h.notifier.sent) != 1 {
		t.Fatalf("expected one feedback message, got %d", len(h.notifier.sent))
	}
	set, err := h.repo.GetLinks(ctx, "a-1")
	if err != nil || set.TotalLinks != 5 {
		t.Fatalf("expected attached links, got %+v err=%v", set, err)
	}
}

func TestReviewRedeliveryDoesNotCallEvaluatorAgain(t *testing.T) {
	t.Parallel()

	eval := &fakeEvaluator{evaluate: staticEvaluation(65)}
	h := newHarness(t, eval, nil)
	h.submit(t, domain.TrustTierApproved)
	ctx := context.Background()

	first, err := h.reviewer.Review(ctx, "a-1")
	if err != nil {
		t.Fatalf("Review: %v", err)
	}
	if first.ToState != domain.StateNeedsRevision {
		t.Fatalf("expected needs_revision, got %s", first.ToState)
	}

	second, err := h.reviewer.Review(ctx, "a-1")
	if err != nil {
		t.Fatalf("redelivered Review: %v", err)
	}
	if second.ID != first.ID || !second.Replayed {
		t.Fatalf("expected replay of %s, got %+v", first.ID, second)
	}
	if eval.calls() != 1 {
		t.Fatalf("evaluator called %d times", eval.calls())
	}
	if len(h.notifier.sent) != 1 {
		t.Fatalf("replay must not send feedback again, sent %d", len(h.notifier.sent))
	}
}

func TestConcurrentReviewsWithDifferentEvaluations(t *testing.T) {
	t.Parallel()

	var (
		mu      sync.Mutex
		served  int
		arrived = make(chan struct{}, 2)
		release = make(chan struct{})
	)
	eval := &fakeEvaluator{evaluate: func(ctx context.Context, _ domain.EvaluationRequest) ([]byte, error) {
		mu.Lock()
		score := 90
		if served > 0 {
			score = 20
		}
		served++
		mu.Unlock()

		arrived <- struct{}{}
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return evaluationJSON(score), nil
	}}
	h := newHarness(t, eval, func(d *ReviewerDeps) { d.Timeout = 5 * time.Second })
	h.submit(t, domain.TrustTierApproved)
	ctx := context.Background()

	results := make([]domain.ReviewAttempt, 2)
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = h.reviewer.Review(ctx, "a-1")
		}(i)
	}
	for i := 0; i < 2; i++ {
		select {
		case <-arrived:
		case <-time.After(5 * time.Second):
			t.Fatal("reviews did not reach the evaluator")
		}
	}
	close(release)
	wg.Wait()

	winner, invalid := -1, 0
	for i, err := range errs {
		switch {
		case err == nil:
			winner = i
		case errors.Is(err, domain.ErrInvalidTransition):
			invalid++
		default:
			t.Fatalf("review %d: unexpected error %v", i, err)
		}
	}
	if winner < 0 || invalid != 1 {
		t.Fatalf("expected one commit and one InvalidTransition, got errs=%v", errs)
	}
	if results[winner].Replayed {
		t.Fatalf("winning review must not be a replay %+v", results[winner])
	}

	attempts, _ := h.repo.ListAttempts(ctx, "a-1")
	if len(attempts) != 1 {
		t.Fatalf("expected one committed attempt, got %d", len(attempts))
	}
	article, _ := h.repo.GetArticle(ctx, "a-1")
	if article.State != results[winner].ToState {
		t.Fatalf("article state %s does not match committed decision %s", article.State, results[winner].ToState)
	}
}

func TestReviewEvaluatorFailureRecordsAttempt(t *testing.T) {
	t.Parallel()

	eval := &fakeEvaluator{evaluate: func(context.Context, domain.EvaluationRequest) ([]byte, error) {
		return nil, errors.New("connection refused")
	}}
	h := newHarness(t, eval, nil)
	h.submit(t, domain.TrustTierApproved)
	ctx := context.Background()

	attempt, err := h.reviewer.Review(ctx, "a-1")
	if !errors.Is(err, domain.ErrEvaluationFailed) || !errors.Is(err, domain.ErrEvaluationTransport) {
		t.Fatalf("expected evaluation failure, got %v", err)
	}
	if attempt.Status != domain.AttemptEvaluationFailed {
		t.Fatalf("unexpected attempt %+v", attempt)
	}
	if eval.calls() != 2 {
		t.Fatalf("expected 2 evaluator calls, got %d", eval.calls())
	}

	article, _ := h.repo.GetArticle(ctx, "a-1")
	if article.State != domain.StatePendingReview {
		t.Fatalf("article must stay pending, got %s", article.State)
	}
	tasks, _ := h.repo.ListOpenTasks(ctx)
	if len(tasks) != 1 || tasks[0].Kind != domain.TaskEvaluationFailed || tasks[0].AttemptID != attempt.ID {
		t.Fatalf("unexpected operator tasks %+v", tasks)
	}
}

func TestReviewEvaluatorTimeout(t *testing.T) {
	t.Parallel()

	eval := &fakeEvaluator{evaluate: func(ctx context.Context, _ domain.EvaluationRequest) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	h := newHarness(t, eval, func(d *ReviewerDeps) {
		d.Timeout = 20 * time.Millisecond
		d.Retry = retry.Policy{MaxAttempts: 1}
	})
	h.submit(t, domain.TrustTierApproved)

	_, err := h.reviewer.Review(context.Background(), "a-1")
	if !errors.Is(err, domain.ErrEvaluationTimeout) || !errors.Is(err, domain.ErrEvaluationFailed) {
		t.Fatalf("expected timeout, got %v", err)
	}
}

func TestReviewMalformedPayload(t *testing.T) {
	t.Parallel()

	eval := &fakeEvaluator{evaluate: func(context.Context, domain.EvaluationRequest) ([]byte, error) {
		return []byte(`{"medical_accuracy": {"score": "high"}}`), nil
	}}
	h := newHarness(t, eval, nil)
	h.submit(t, domain.TrustTierApproved)
	ctx := context.Background()

	attempt, err := h.reviewer.Review(ctx, "a-1")
	if !errors.Is(err, domain.ErrMalformedEvaluation) {
		t.Fatalf("expected ErrMalformedEvaluation, got %v", err)
	}
	if attempt.Status != domain.AttemptMalformedEvaluation {
		t.Fatalf("unexpected attempt %+v", attempt)
	}
	if eval.calls() != 1 {
		t.Fatalf("malformed payloads must not be retried, got %d calls", eval.calls())
	}

	tasks, _ := h.repo.ListOpenTasks(ctx)
	if len(tasks) != 1 || tasks[0].Kind != domain.TaskMalformedEvaluation || tasks[0].Payload == "" {
		t.Fatalf("unexpected operator tasks %+v", tasks)
	}
	article, _ := h.repo.GetArticle(ctx, "a-1")
	if article.State != domain.StatePendingReview {
		t.Fatalf("article must stay pending, got %s", article.State)
	}
}

func TestReviewWithdrawnDuringEvaluation(t *testing.T) {
	t.Parallel()

	var h *harness
	eval := &fakeEvaluator{evaluate: func(ctx context.Context, _ domain.EvaluationRequest) ([]byte, error) {
		if _, err := h.reviewer.Withdraw(ctx, "a-1"); err != nil {
			return nil, err
		}
		return evaluationJSON(95), nil
	}}
	h = newHarness(t, eval, nil)
	h.submit(t, domain.TrustTierApproved)
	ctx := context.Background()

	if _, err := h.reviewer.Review(ctx, "a-1"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	article, _ := h.repo.GetArticle(ctx, "a-1")
	if article.State != domain.StateDraft {
		t.Fatalf("withdrawal must win, got %s", article.State)
	}
	attempts, _ := h.repo.ListAttempts(ctx, "a-1")
	if len(attempts) != 0 {
		t.Fatalf("stale decision must not be recorded, got %d attempts", len(attempts))
	}
}

func TestReviewUntrustedAuthorAwaitsEditor(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeEvaluator{evaluate: staticEvaluation(95)}, nil)
	h.submit(t, "new")

	attempt, err := h.reviewer.Review(context.Background(), "a-1")
	if err != nil {
		t.Fatalf("Review: %v", err)
	}
	if attempt.ToState != domain.StateNeedsRevision || attempt.Decision.Override != domain.OverrideTrustGate {
		t.Fatalf("unexpected attempt %+v", attempt.Decision)
	}
	if _, err := h.repo.GetLinks(context.Background(), "a-1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("links must only be attached to published articles, got %v", err)
	}
}

func TestReviewRequiresPendingArticle(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeEvaluator{evaluate: staticEvaluation(90)}, nil)
	if _, err := h.repo.SaveArticle(context.Background(), domain.Article{ID: "a-1", Title: "t"}); err != nil {
		t.Fatalf("SaveArticle: %v", err)
	}
	if _, err := h.reviewer.Review(context.Background(), "a-1"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition for draft, got %v", err)
	}
	if h.eval.calls() != 0 {
		t.Fatal("evaluator must not be called for a draft")
	}
}
