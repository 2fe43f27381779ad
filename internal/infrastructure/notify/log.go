package notify

import (
	"context"

	"go.uber.org/zap"

	"ArticleReview/internal/domain"
	"ArticleReview/internal/ports"
)

// Log writes feedback to the service log. Used in development.
type Log struct {
	logger *zap.Logger
}

var _ ports.Notifier = (*Log)(nil)

// NewLog builds a log notifier.
func NewLog(logger *zap.Logger) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{logger: logger}
}

// Channel names the delivery channel in receipts.
func (l *Log) Channel() string { return "log" }

// Deliver logs the message.
func (l *Log) Deliver(_ context.Context, msg domain.FeedbackMessage) error {
	l.logger.Info("author feedback",
		zap.String("article_id", msg.ArticleID),
		zap.String("author_id", msg.AuthorID),
		zap.String("subject", msg.Subject),
		zap.String("body", msg.Body))
	return nil
}
