// Package notify delivers operator alerts. The dispatch engine uses it
// for conditions that need a human: stale claims, persistent record
// failures, lease contention.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ignite/outreach-dispatcher/internal/pkg/httpretry"
)

// Notifier pushes one operator-facing alert message.
type Notifier interface {
	Notify(ctx context.Context, message string) error
}

// Noop discards alerts. Used when no alert channel is configured.
type Noop struct{}

func (Noop) Notify(ctx context.Context, message string) error { return nil }

// Telegram sends alerts through the Telegram Bot API.
type Telegram struct {
	baseURL string
	token   string
	chatID  string
	client  httpretry.HTTPDoer
}

// NewTelegram creates a Telegram notifier. A nil client gets the
// default retrying HTTP client.
func NewTelegram(token, chatID string, client httpretry.HTTPDoer) *Telegram {
	if client == nil {
		client = httpretry.NewRetryClient(nil, 3)
	}
	return &Telegram{
		baseURL: "https://api.telegram.org",
		token:   token,
		chatID:  chatID,
		client:  client,
	}
}

type telegramSendMessage struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

// Notify posts one message to the configured chat.
func (t *Telegram) Notify(ctx context.Context, message string) error {
	payload, err := json.Marshal(telegramSendMessage{ChatID: t.chatID, Text: message})
	if err != nil {
		return fmt.Errorf("telegram: encode message: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("telegram: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: send message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("telegram: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
