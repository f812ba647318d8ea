// Package notify delivers operator notifications. Delivery is strictly
// fire-and-forget: a failed notification is logged and never affects the
// trade that triggered it.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Notifier sends a plain-text message to the operator.
type Notifier interface {
	Send(ctx context.Context, text string)
}

// New returns a Telegram notifier when credentials are configured and a
// no-op notifier otherwise.
func New(token, chatID string, logger *zap.Logger) Notifier {
	if token == "" || chatID == "" {
		logger.Info("Telegram not configured, notifications disabled")
		return Noop{}
	}
	return NewTelegram(token, chatID, logger)
}

// Noop drops every message.
type Noop struct{}

func (Noop) Send(context.Context, string) {}

// Telegram sends messages via the Bot API.
type Telegram struct {
	token  string
	chatID string
	http   *http.Client
	logger *zap.Logger
}

var _ Notifier = (*Telegram)(nil)

func NewTelegram(token, chatID string, logger *zap.Logger) *Telegram {
	return &Telegram{
		token:  token,
		chatID: chatID,
		http:   &http.Client{Timeout: 10 * time.Second},
		logger: logger.Named("telegram"),
	}
}

// Send posts text to the configured chat. Errors are logged, not returned.
func (t *Telegram) Send(ctx context.Context, text string) {
	payload, err := json.Marshal(map[string]string{
		"chat_id": t.chatID,
		"text":    text,
	})
	if err != nil {
		t.logger.Warn("Failed to encode notification", zap.Error(err))
		return
	}

	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(payload)))
	if err != nil {
		t.logger.Warn("Failed to build notification request", zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.http.Do(req)
	if err != nil {
		t.logger.Warn("Failed to send notification", zap.Error(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.logger.Warn("Notification rejected", zap.Int("status", resp.StatusCode))
	}
}
