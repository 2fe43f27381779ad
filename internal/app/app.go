package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"ArticleReview/internal/api"
	"ArticleReview/internal/config"
	"ArticleReview/internal/evaluation"
	"ArticleReview/internal/feedback"
	"ArticleReview/internal/infrastructure/archive"
	"ArticleReview/internal/infrastructure/evaluatorhttp"
	"ArticleReview/internal/infrastructure/llm"
	"ArticleReview/internal/infrastructure/notify"
	"ArticleReview/internal/infrastructure/parser"
	"ArticleReview/internal/infrastructure/scheduler"
	"ArticleReview/internal/infrastructure/storage"
	"ArticleReview/internal/infrastructure/telegram"
	"ArticleReview/internal/links"
	"ArticleReview/internal/metrics"
	"ArticleReview/internal/policy"
	"ArticleReview/internal/ports"
	"ArticleReview/internal/providers"
	"ArticleReview/internal/retry"
	"ArticleReview/internal/review"
	"ArticleReview/internal/usecase"
)

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg       config.Config
	logger    *zap.Logger
	server    *http.Server
	queue     *usecase.Queue
	reviewer  *usecase.Reviewer
	sweeper   *usecase.Sweeper
	scheduler *usecase.Scheduler
	closers   []func() error
}

// New builds the application: storage, evaluator, policy, workers and HTTP API.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Application, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Application{cfg: cfg, logger: logger}

	db, err := storage.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, db.Close)
	if cfg.Database.Migrate {
		if err := storage.Migrate(db, cfg.Database.Driver, logger.Named("migrate")); err != nil {
			a.Close()
			return nil, err
		}
	}
	repo := storage.NewSQLRepository(db, cfg.Database.Driver)

	settings, err := policy.SettingsFromConfig(cfg.Policy)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("policy settings: %w", err)
	}
	pol, err := policy.New(settings)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("policy: %w", err)
	}

	evaluator, err := a.evaluator(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	notifier, err := a.notifier()
	if err != nil {
		a.Close()
		return nil, err
	}

	var payloadArchive ports.PayloadArchive
	if cfg.Archive.S3.Enabled {
		s3Archive, err := archive.NewS3Archive(ctx, cfg.Archive.S3)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("s3 archive: %w", err)
		}
		payloadArchive = s3Archive
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	paragrapher := parser.NewHTMLParagrapher()
	a.queue = usecase.NewQueue(cfg.Workers, logger.Named("queue"))
	a.reviewer = usecase.NewReviewer(usecase.ReviewerDeps{
		Articles:    repo,
		Reviews:     repo,
		Operators:   repo,
		Evaluator:   evaluator,
		Paragrapher: paragrapher,
		Archive:     payloadArchive,
		Validator:   evaluation.NewValidator(pol, cfg.Evaluator.MaxPayloadBytes),
		Policy:      pol,
		Machine:     review.NewMachine(repo, repo, logger.Named("review")),
		Dispatcher: feedback.NewDispatcher(notifier, repo, retry.Policy{
			MaxAttempts:    cfg.Feedback.MaxAttempts,
			InitialBackoff: cfg.Feedback.InitialBackoff,
			MaxBackoff:     cfg.Feedback.MaxBackoff,
		}, logger.Named("feedback")),
		Attacher: links.NewAttacher(repo, repo, paragrapher, links.BoundsFromConfig(cfg.Links), logger.Named("links")),
		Queue:    a.queue,
		Metrics:  m,
		Retry: retry.Policy{
			MaxAttempts:    cfg.Evaluator.MaxAttempts,
			InitialBackoff: cfg.Evaluator.InitialBackoff,
			MaxBackoff:     cfg.Evaluator.MaxBackoff,
		},
		Timeout:      cfg.Evaluator.Timeout,
		LinksEnabled: cfg.Links.Enabled,
		Logger:       logger.Named("reviewer"),
	})

	a.sweeper = usecase.NewSweeper(repo, repo, a.queue, pol.Version(), logger.Named("sweep"))
	a.scheduler = usecase.NewScheduler(
		scheduler.NewCronScheduler(cfg.Scheduler.Location(), logger),
		a.sweeper, cfg.Scheduler.ReviewSweep, logger.Named("scheduler"))

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger.Named("http")))
	api.NewHandler(repo, a.reviewer, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), logger.Named("api")).RegisterRoutes(router)

	a.server = &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      cfg.Evaluator.Timeout*time.Duration(max(cfg.Evaluator.MaxAttempts, 1)) + 30*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info("application ready",
		zap.String("database", cfg.Database.Driver),
		zap.String("evaluator", evaluator.Name()),
		zap.String("feedback_channel", notifier.Channel()),
		zap.String("policy_version", pol.Version()),
		zap.Bool("archive", payloadArchive != nil))
	return a, nil
}

// Run starts workers, the sweep and the HTTP server and blocks until ctx ends.
func (a *Application) Run(ctx context.Context) error {
	defer a.Close()

	a.queue.Start(ctx, func(ctx context.Context, articleID string) error {
		_, err := a.reviewer.Review(ctx, articleID)
		return err
	})
	defer a.queue.Stop()

	if n, err := a.sweeper.Sweep(ctx); err != nil {
		a.logger.Error("startup sweep failed", zap.Error(err))
	} else if n > 0 {
		a.logger.Info("startup sweep queued articles", zap.Int("queued", n))
	}

	if err := a.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer func() {
		if err := a.scheduler.Stop(); err != nil {
			a.logger.Warn("scheduler stop", zap.Error(err))
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("starting server", zap.String("addr", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	a.logger.Info("shutting down")
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}

// Close releases resources acquired by New.
func (a *Application) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close resource", zap.Error(err))
		}
	}
	a.closers = nil
}

// evaluator registers every configured provider and resolves the selected one.
func (a *Application) evaluator(ctx context.Context) (ports.Evaluator, error) {
	cfg := a.cfg.Evaluator
	registry := providers.NewRegistry()

	if cfg.OpenAI.APIKey != "" || cfg.OpenAI.Endpoint != "" {
		registry.Register(llm.NewOpenAIEvaluator(cfg.OpenAI, nil))
	}
	if cfg.Gemini.APIKey != "" {
		gemini, err := llm.NewGeminiEvaluator(ctx, cfg.Gemini, a.logger.Named("gemini"))
		if err != nil {
			return nil, fmt.Errorf("gemini evaluator: %w", err)
		}
		a.closers = append(a.closers, gemini.Close)
		registry.Register(gemini)
	}
	if cfg.HTTP.Endpoint != "" {
		registry.Register(evaluatorhttp.NewClient(cfg.HTTP, nil))
	}

	evaluator, err := registry.Resolve(strings.ToLower(cfg.Provider))
	if err != nil {
		return nil, fmt.Errorf("evaluator %q is not configured: %w", cfg.Provider, err)
	}
	return evaluator, nil
}

func (a *Application) notifier() (ports.Notifier, error) {
	cfg := a.cfg.Feedback
	switch strings.ToLower(cfg.Channel) {
	case "", "log":
		return notify.NewLog(a.logger.Named("feedback.log")), nil
	case "telegram":
		n, err := telegram.NewNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
		if err != nil {
			return nil, fmt.Errorf("telegram notifier: %w", err)
		}
		return n, nil
	case "webhook":
		if cfg.Webhook.URL == "" {
			return nil, fmt.Errorf("webhook notifier: url is required")
		}
		return notify.NewWebhook(cfg.Webhook.URL, cfg.Webhook.Timeout), nil
	default:
		return nil, fmt.Errorf("unknown feedback channel %q", cfg.Channel)
	}
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		logger.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(started)))
	}
}
