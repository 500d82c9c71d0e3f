package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ignite/outreach-dispatcher/internal/content"
	"github.com/ignite/outreach-dispatcher/internal/domain"
	"github.com/ignite/outreach-dispatcher/internal/pkg/httpretry"
)

// MailreefTransport delivers through the Mailreef send API using HTTP
// basic auth. Transient vendor errors are retried by the underlying
// client; a definitive non-2xx is returned to the caller unretried.
type MailreefTransport struct {
	baseURL string
	apiKey  string
	client  httpretry.HTTPDoer
}

// NewMailreefTransport creates a Mailreef transport. A nil client gets
// the default retrying HTTP client.
func NewMailreefTransport(baseURL, apiKey string, client httpretry.HTTPDoer) *MailreefTransport {
	if client == nil {
		client = httpretry.NewRetryClient(nil, 3)
	}
	return &MailreefTransport{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  client,
	}
}

type mailreefSendRequest struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Subject  string `json:"subject"`
	TextBody string `json:"text_body"`
}

type mailreefSendResponse struct {
	MessageID string `json:"message_id"`
	Error     string `json:"error,omitempty"`
}

// Send submits one message and returns the vendor message ID.
func (t *MailreefTransport) Send(ctx context.Context, identity string, contact *domain.Contact, msg content.Message) (string, error) {
	payload, err := json.Marshal(mailreefSendRequest{
		From:     identity,
		To:       contact.Email,
		Subject:  msg.Subject,
		TextBody: msg.Body,
	})
	if err != nil {
		return "", fmt.Errorf("mailreef: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/api/v1/send", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("mailreef: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth("api", t.apiKey)

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("mailreef: send to %s: %w", contact.Email, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("mailreef: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("mailreef: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out mailreefSendResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("mailreef: decode response: %w", err)
	}
	if out.MessageID == "" {
		return "", fmt.Errorf("mailreef: response missing message_id: %s", strings.TrimSpace(string(body)))
	}
	return out.MessageID, nil
}
