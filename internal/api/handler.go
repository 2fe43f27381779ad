package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"ArticleReview/internal/domain"
	"ArticleReview/internal/ports"
)

// ReviewService is the review workflow exposed over HTTP.
type ReviewService interface {
	SubmitForReview(ctx context.Context, articleID string) (domain.Article, error)
	Withdraw(ctx context.Context, articleID string) (domain.Article, error)
	Review(ctx context.Context, articleID string) (domain.ReviewAttempt, error)
}

// Handler serves the article review API.
type Handler struct {
	repo    ports.Repository
	reviews ReviewService
	metrics http.Handler
	logger  *zap.Logger
}

// NewHandler creates the API handler. metrics may be nil.
func NewHandler(repo ports.Repository, reviews ReviewService, metrics http.Handler, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, reviews: reviews, metrics: metrics, logger: logger}
}

// RegisterRoutes registers all API routes.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api/v1")
	{
		// Content boundary
		api.PUT("/articles/:id", h.SaveArticle)
		api.GET("/articles/:id", h.GetArticle)

		// Review lifecycle
		api.POST("/articles/:id/submit", h.Submit)
		api.POST("/articles/:id/withdraw", h.Withdraw)
		api.POST("/articles/:id/review", h.Review)

		// Audit trail
		api.GET("/articles/:id/reviews", h.ListReviews)
		api.GET("/articles/:id/links", h.GetLinks)

		// Operator queue
		api.GET("/operator/tasks", h.ListTasks)
		api.POST("/operator/tasks/:id/resolve", h.ResolveTask)
	}

	r.GET("/health", h.HealthCheck)
	if h.metrics != nil {
		r.GET("/metrics", gin.WrapH(h.metrics))
	}
}

type articleInput struct {
	AuthorID        string `json:"author_id" binding:"required"`
	AuthorTrustTier string `json:"author_trust_tier"`
	AuthorContact   string `json:"author_contact"`
	Title           string `json:"title" binding:"required"`
	BodyHTML        string `json:"body_html" binding:"required"`
}

// SaveArticle creates or updates article content.
func (h *Handler) SaveArticle(c *gin.Context) {
	var input articleInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	article, err := h.repo.SaveArticle(c.Request.Context(), domain.Article{
		ID:              c.Param("id"),
		AuthorID:        input.AuthorID,
		AuthorTrustTier: input.AuthorTrustTier,
		AuthorContact:   input.AuthorContact,
		Title:           input.Title,
		BodyHTML:        input.BodyHTML,
	})
	if err != nil {
		h.fail(c, "save article", err)
		return
	}
	c.JSON(http.StatusOK, article)
}

// GetArticle returns the article with its current review state.
func (h *Handler) GetArticle(c *gin.Context) {
	article, err := h.repo.GetArticle(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "get article", err)
		return
	}
	c.JSON(http.StatusOK, article)
}

// Submit moves the article to pending_review and queues its review.
func (h *Handler) Submit(c *gin.Context) {
	article, err := h.reviews.SubmitForReview(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "submit article", err)
		return
	}
	c.JSON(http.StatusAccepted, article)
}

// Withdraw returns a pending article to draft.
func (h *Handler) Withdraw(c *gin.Context) {
	article, err := h.reviews.Withdraw(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "withdraw article", err)
		return
	}
	c.JSON(http.StatusOK, article)
}

// Review runs a review attempt synchronously. Operators use it after fixing
// the cause of a failed attempt.
func (h *Handler) Review(c *gin.Context) {
	attempt, err := h.reviews.Review(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "review article", err)
		return
	}
	c.JSON(http.StatusOK, attempt)
}

// ListReviews returns every review attempt of the article.
func (h *Handler) ListReviews(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	if _, err := h.repo.GetArticle(ctx, id); err != nil {
		h.fail(c, "get article", err)
		return
	}
	attempts, err := h.repo.ListAttempts(ctx, id)
	if err != nil {
		h.fail(c, "list attempts", err)
		return
	}
	c.JSON(http.StatusOK, attempts)
}

// GetLinks returns the current link suggestion set.
func (h *Handler) GetLinks(c *gin.Context) {
	set, err := h.repo.GetLinks(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "get links", err)
		return
	}
	c.JSON(http.StatusOK, set)
}

// ListTasks returns unresolved operator tasks.
func (h *Handler) ListTasks(c *gin.Context) {
	tasks, err := h.repo.ListOpenTasks(c.Request.Context())
	if err != nil {
		h.fail(c, "list operator tasks", err)
		return
	}
	c.JSON(http.StatusOK, tasks)
}

// ResolveTask closes an operator task.
func (h *Handler) ResolveTask(c *gin.Context) {
	if err := h.repo.ResolveTask(c.Request.Context(), c.Param("id")); err != nil {
		h.fail(c, "resolve operator task", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "resolved"})
}

// HealthCheck reports database reachability.
func (h *Handler) HealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	started := time.Now()
	err := h.repo.Ping(ctx)
	db := gin.H{"ok": err == nil, "response_ms": time.Since(started).Milliseconds()}
	if err != nil {
		h.logger.Warn("health check: database unreachable", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "database": db})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "database": db})
}

func (h *Handler) fail(c *gin.Context, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(op+" failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, domain.ErrMalformedEvaluation),
		errors.Is(err, domain.ErrLinkDensityViolation),
		errors.Is(err, domain.ErrArticleNotPublished):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
