package feedback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"ArticleReview/internal/domain"
	"ArticleReview/internal/ports"
	"ArticleReview/internal/retry"
)

const withheld = "[withheld]"

// Dispatcher formats decision feedback and delivers it to the author. Delivery
// never touches review state; exhausted retries go to the operator queue.
type Dispatcher struct {
	notifier ports.Notifier
	queue    ports.OperatorQueue
	retry    retry.Policy
	logger   *zap.Logger
	now      func() time.Time
}

// NewDispatcher wires a channel, the operator queue and the retry policy.
func NewDispatcher(notifier ports.Notifier, queue ports.OperatorQueue, policy retry.Policy, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		notifier: notifier,
		queue:    queue,
		retry:    policy,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Dispatch delivers the author copy of a committed attempt's decision.
func (d *Dispatcher) Dispatch(ctx context.Context, article domain.Article, attempt domain.ReviewAttempt) (domain.DeliveryReceipt, error) {
	if attempt.Decision == nil {
		return domain.DeliveryReceipt{}, fmt.Errorf("feedback: attempt %s has no decision", attempt.ID)
	}

	msg := domain.FeedbackMessage{
		ArticleID: article.ID,
		AuthorID:  article.AuthorID,
		Recipient: article.AuthorContact,
		Subject:   Subject(article, *attempt.Decision),
		Body:      AuthorMessage(article, attempt),
	}
	receipt := domain.DeliveryReceipt{
		AttemptID:       attempt.ID,
		ArticleID:       article.ID,
		AuthorMessage:   msg.Body,
		InternalSummary: InternalSummary(attempt),
	}
	if d.notifier == nil {
		return receipt, fmt.Errorf("%w: no notification channel configured", domain.ErrDeliveryFailure)
	}
	receipt.Channel = d.notifier.Channel()

	attempts, err := retry.Do(ctx, d.retry, func(int) error {
		return d.notifier.Deliver(ctx, msg)
	}, func(err error, wait time.Duration) {
		d.logger.Warn("feedback delivery failed, retrying",
			zap.String("article_id", article.ID),
			zap.String("channel", receipt.Channel),
			zap.Duration("wait", wait),
			zap.Error(err))
	})
	receipt.Attempts = attempts
	if err == nil {
		receipt.Delivered = true
		receipt.DeliveredAt = d.now()
		d.logger.Info("feedback delivered",
			zap.String("article_id", article.ID),
			zap.String("attempt_id", attempt.ID),
			zap.String("channel", receipt.Channel),
			zap.Int("attempts", attempts))
		return receipt, nil
	}

	d.logger.Error("feedback delivery exhausted",
		zap.String("article_id", article.ID),
		zap.String("attempt_id", attempt.ID),
		zap.Int("attempts", attempts),
		zap.Error(err))

	failure := fmt.Errorf("%w: %s after %d attempts: %v", domain.ErrDeliveryFailure, receipt.Channel, attempts, err)
	if d.queue == nil {
		return receipt, failure
	}
	payload, _ := json.Marshal(msg)
	if _, qErr := d.queue.Enqueue(context.WithoutCancel(ctx), domain.OperatorTask{
		Kind:      domain.TaskFeedbackDelivery,
		ArticleID: article.ID,
		AttemptID: attempt.ID,
		Detail:    failure.Error(),
		Payload:   string(payload),
	}); qErr != nil {
		return receipt, errors.Join(failure, fmt.Errorf("enqueue operator task: %w", qErr))
	}
	receipt.QueuedForOps = true
	return receipt, failure
}

// Subject is the one-line headline of the author message.
func Subject(article domain.Article, decision domain.Decision) string {
	title := strings.TrimSpace(article.Title)
	if title == "" {
		title = article.ID
	}
	switch {
	case decision.Outcome == domain.OutcomePublish:
		return fmt.Sprintf("Published: %q", title)
	case decision.Override == domain.OverrideTrustGate:
		return fmt.Sprintf("Awaiting editor sign-off: %q", title)
	case decision.Outcome == domain.OutcomeRevise:
		return fmt.Sprintf("Revision requested: %q", title)
	default:
		return fmt.Sprintf("Not accepted for publication: %q", title)
	}
}

// AuthorMessage is the author-facing copy. For revise and reject outcomes the
// promotion flags never appear in it.
func AuthorMessage(article domain.Article, attempt domain.ReviewAttempt) string {
	decision := *attempt.Decision
	body := decision.Feedback
	if decision.Outcome != domain.OutcomePublish {
		var flags []string
		if attempt.Evaluation != nil {
			flags = append(flags, attempt.Evaluation.PromotionFlags...)
		}
		flags = append(flags, decision.CriticalFlags...)
		body = redact(body, flags)
	}
	return Subject(article, decision) + "\n\n" + body
}

// InternalSummary is the full audit view for editorial and compliance staff.
func InternalSummary(attempt domain.ReviewAttempt) string {
	var b strings.Builder
	fmt.Fprintf(&b, "article=%s attempt=%s revision=%d policy=%s\n",
		attempt.ArticleID, attempt.ID, attempt.Revision, attempt.PolicyVersion)
	if d := attempt.Decision; d != nil {
		override := string(d.Override)
		if override == "" {
			override = "none"
		}
		fmt.Fprintf(&b, "outcome=%s aggregate=%d override=%s\n", d.Outcome, d.Score, override)
		if len(d.CriticalFlags) > 0 {
			fmt.Fprintf(&b, "critical_flags=%s\n", strings.Join(d.CriticalFlags, ","))
		}
	}
	if e := attempt.Evaluation; e != nil {
		for _, c := range domain.Categories {
			res := e.Categories[c]
			fmt.Fprintf(&b, "%s=%d issues=%d suggestions=%d\n", c, res.Score, len(res.Issues), len(res.Suggestions))
		}
		flags := "none"
		if len(e.PromotionFlags) > 0 {
			flags = strings.Join(e.PromotionFlags, ",")
		}
		fmt.Fprintf(&b, "promotion_flags=%s", flags)
	}
	return strings.TrimRight(b.String(), "\n")
}

// redact replaces whole-word occurrences of flags, ignoring case.
func redact(text string, flags []string) string {
	seen := map[string]bool{}
	var alts []string
	for _, flag := range flags {
		flag = strings.TrimSpace(flag)
		key := strings.ToLower(flag)
		if flag == "" || seen[key] {
			continue
		}
		seen[key] = true
		alts = append(alts, flag)
	}
	if len(alts) == 0 {
		return text
	}
	// Longer flags first so a flag that prefixes another does not split it.
	sort.SliceStable(alts, func(i, j int) bool { return len(alts[i]) > len(alts[j]) })

	parts := make([]string, len(alts))
	for i, flag := range alts {
		expr := regexp.QuoteMeta(flag)
		if isWordByte(flag[0]) {
			expr = `\b` + expr
		}
		if isWordByte(flag[len(flag)-1]) {
			expr += `\b`
		}
		parts[i] = expr
	}
	return regexp.MustCompile(`(?i)(?:` + strings.Join(parts, "|") + `)`).ReplaceAllString(text, withheld)
}

func isWordByte(b byte) bool {
	return b == '_' || b >= '0' && b <= '9' || b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z'
}
