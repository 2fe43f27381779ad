package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ArticleReview/internal/domain"
	"ArticleReview/internal/infrastructure/storage"
)

type fakeReviews struct {
	repo      *storage.MemoryRepository
	reviewErr error
}

func (f *fakeReviews) SubmitForReview(ctx context.Context, id string) (domain.Article, error) {
	return f.repo.TransitionArticle(ctx, id, []domain.ReviewState{domain.StateDraft, domain.StateNeedsRevision}, domain.StatePendingReview, true)
}

func (f *fakeReviews) Withdraw(ctx context.Context, id string) (domain.Article, error) {
	return f.repo.TransitionArticle(ctx, id, []domain.ReviewState{domain.StatePendingReview}, domain.StateDraft, false)
}

func (f *fakeReviews) Review(_ context.Context, id string) (domain.ReviewAttempt, error) {
	if f.reviewErr != nil {
		return domain.ReviewAttempt{}, f.reviewErr
	}
	return domain.ReviewAttempt{ID: "att-1", ArticleID: id, Status: domain.AttemptCommitted}, nil
}

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

func newRouter(t *testing.T, reviewErr error) (*gin.Engine, *storage.MemoryRepository) {
	t.Helper()

	repo := storage.NewMemoryRepository()
	r := gin.New()
	NewHandler(repo, &fakeReviews{repo: repo, reviewErr: reviewErr}, promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{}), nil).RegisterRoutes(r)
	return r, repo
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

const articleBody = `{"author_id": "au-1", "author_trust_tier": "approved", "title": "Flu season", "body_html": "<p>Get vaccinated.</p>"}`

func TestArticleLifecycleRoutes(t *testing.T) {
	t.Parallel()

	r, _ := newRouter(t, nil)

	w := do(r, http.MethodPut, "/api/v1/articles/a-1", articleBody)
	if w.Code != http.StatusOK {
		t.Fatalf("PUT status %d: %s", w.Code, w.Body.String())
	}
	var article domain.Article
	if err := json.Unmarshal(w.Body.Bytes(), &article); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if article.State != domain.StateDraft {
		t.Fatalf("expected draft, got %s", article.State)
	}

	if w := do(r, http.MethodPost, "/api/v1/articles/a-1/submit", ""); w.Code != http.StatusAccepted {
		t.Fatalf("submit status %d", w.Code)
	}
	if w := do(r, http.MethodPut, "/api/v1/articles/a-1", articleBody); w.Code != http.StatusConflict {
		t.Fatalf("editing a pending article: status %d", w.Code)
	}
	if w := do(r, http.MethodPost, "/api/v1/articles/a-1/withdraw", ""); w.Code != http.StatusOK {
		t.Fatalf("withdraw status %d", w.Code)
	}
	if w := do(r, http.MethodPost, "/api/v1/articles/a-1/withdraw", ""); w.Code != http.StatusConflict {
		t.Fatalf("second withdraw status %d", w.Code)
	}

	w = do(r, http.MethodGet, "/api/v1/articles/a-1", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"state":"draft"`) {
		t.Fatalf("GET status %d body %s", w.Code, w.Body.String())
	}
}

func TestSaveArticleValidatesInput(t *testing.T) {
	t.Parallel()

	r, _ := newRouter(t, nil)
	if w := do(r, http.MethodPut, "/api/v1/articles/a-1", `{"title": "x"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestErrorMapping(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: x", domain.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("%w: x", domain.ErrInvalidTransition), http.StatusConflict},
		{fmt.Errorf("%w: x", domain.ErrMalformedEvaluation), http.StatusUnprocessableEntity},
		{fmt.Errorf("%w: x", domain.ErrEvaluationFailed), http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		r, _ := newRouter(t, tc.err)
		if w := do(r, http.MethodPost, "/api/v1/articles/a-1/review", ""); w.Code != tc.want {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.want, w.Code)
		}
	}
}

func TestAuditAndOperatorRoutes(t *testing.T) {
	t.Parallel()

	r, repo := newRouter(t, nil)
	ctx := context.Background()

	if w := do(r, http.MethodGet, "/api/v1/articles/missing/reviews", ""); w.Code != http.StatusNotFound {
		t.Fatalf("reviews of missing article: %d", w.Code)
	}
	do(r, http.MethodPut, "/api/v1/articles/a-1", articleBody)
	if w := do(r, http.MethodGet, "/api/v1/articles/a-1/reviews", ""); w.Code != http.StatusOK || w.Body.String() != "[]" {
		t.Fatalf("reviews: %d %s", w.Code, w.Body.String())
	}
	if w := do(r, http.MethodGet, "/api/v1/articles/a-1/links", ""); w.Code != http.StatusNotFound {
		t.Fatalf("links: %d", w.Code)
	}

	task, err := repo.Enqueue(ctx, domain.OperatorTask{Kind: domain.TaskFeedbackDelivery, ArticleID: "a-1"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	w := do(r, http.MethodGet, "/api/v1/operator/tasks", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), task.ID) {
		t.Fatalf("tasks: %d %s", w.Code, w.Body.String())
	}
	if w := do(r, http.MethodPost, "/api/v1/operator/tasks/"+task.ID+"/resolve", ""); w.Code != http.StatusOK {
		t.Fatalf("resolve: %d", w.Code)
	}
	if w := do(r, http.MethodPost, "/api/v1/operator/tasks/nope/resolve", ""); w.Code != http.StatusNotFound {
		t.Fatalf("resolve missing: %d", w.Code)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	t.Parallel()

	r, _ := newRouter(t, nil)
	w := do(r, http.MethodGet, "/health", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"status":"ok"`) {
		t.Fatalf("health: %d %s", w.Code, w.Body.String())
	}
	if w := do(r, http.MethodGet, "/metrics", ""); w.Code != http.StatusOK {
		t.Fatalf("metrics: %d", w.Code)
	}
}
