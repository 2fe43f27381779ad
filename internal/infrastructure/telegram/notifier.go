package telegram

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"ArticleReview/internal/domain"
	"ArticleReview/internal/ports"
)

const maxMessageRunes = 4096

// Notifier sends author feedback to a Telegram chat via the bot API.
type Notifier struct {
	api            *tgbotapi.BotAPI
	fallbackChatID int64
}

var _ ports.Notifier = (*Notifier)(nil)

// NewNotifier authenticates the bot against the default Telegram endpoint.
// fallbackChatID receives feedback for authors without a chat id.
func NewNotifier(botToken, fallbackChatID string) (*Notifier, error) {
	return NewNotifierWithEndpoint(botToken, fallbackChatID, tgbotapi.APIEndpoint, &http.Client{Timeout: 10 * time.Second})
}

// NewNotifierWithEndpoint allows a custom Bot API endpoint format
// ("https://host/bot%s/%s").
func NewNotifierWithEndpoint(botToken, fallbackChatID, endpoint string, client *http.Client) (*Notifier, error) {
	if botToken == "" {
		return nil, fmt.Errorf("telegram notifier misconfigured: bot token is empty")
	}
	var fallback int64
	if fallbackChatID != "" {
		id, err := strconv.ParseInt(strings.TrimSpace(fallbackChatID), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("telegram chat id %q: %w", fallbackChatID, err)
		}
		fallback = id
	}

	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	api, err := tgbotapi.NewBotAPIWithClient(botToken, endpoint, client)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &Notifier{api: api, fallbackChatID: fallback}, nil
}

// Channel names the delivery channel in receipts.
func (n *Notifier) Channel() string { return "telegram" }

// Deliver posts the feedback text to the author's chat.
func (n *Notifier) Deliver(ctx context.Context, msg domain.FeedbackMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	chatID, err := n.chatFor(msg)
	if err != nil {
		return err
	}

	out := tgbotapi.NewMessage(chatID, truncate(msg.Body, maxMessageRunes))
	out.DisableWebPagePreview = true
	if _, err := n.api.Send(out); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

func (n *Notifier) chatFor(msg domain.FeedbackMessage) (int64, error) {
	if id, err := strconv.ParseInt(strings.TrimSpace(msg.Recipient), 10, 64); err == nil {
		return id, nil
	}
	if n.fallbackChatID != 0 {
		return n.fallbackChatID, nil
	}
	return 0, fmt.Errorf("telegram: no chat id for author %s", msg.AuthorID)
}

func truncate(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit-1]) + "…"
}
