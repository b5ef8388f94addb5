package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// MagicLinkMessage is one magic link delivery. Link carries the raw token and
// must never be logged.
type MagicLinkMessage struct {
	AccountID string
	Email     string
	Link      string
	ExpiresAt time.Time
}

// Mailer delivers magic links to account holders.
type Mailer interface {
	SendMagicLink(ctx context.Context, msg MagicLinkMessage) error
}

// LogMailer records that a link was issued without delivering it. Only the
// account id and expiry are logged. It is meant for local development.
type LogMailer struct {
	Logger *slog.Logger
}

func (m LogMailer) SendMagicLink(ctx context.Context, msg MagicLinkMessage) error {
	logger := m.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "magic_link_issued",
		"account_id", msg.AccountID,
		"expires_at", msg.ExpiresAt.UTC().Format(time.RFC3339),
	)
	return nil
}

// WebhookMailer posts each delivery as JSON to an outbound mail relay.
type WebhookMailer struct {
	URL    string
	Token  string
	Client *http.Client
}

// NewWebhookMailer returns a WebhookMailer with a bounded client timeout.
func NewWebhookMailer(rawURL, token string) (*WebhookMailer, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, errors.New("auth: webhook url is required")
	}
	return &WebhookMailer{
		URL:    rawURL,
		Token:  strings.TrimSpace(token),
		Client: &http.Client{Timeout: 10 * time.Second},
	}, nil
}

type webhookPayload struct {
	AccountID string `json:"accountId"`
	Email     string `json:"email"`
	Link      string `json:"link"`
	ExpiresAt string `json:"expiresAt"`
}

func (m *WebhookMailer) SendMagicLink(ctx context.Context, msg MagicLinkMessage) error {
	body, err := json.Marshal(webhookPayload{
		AccountID: msg.AccountID,
		Email:     msg.Email,
		Link:      msg.Link,
		ExpiresAt: msg.ExpiresAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("auth: webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if m.Token != "" {
		req.Header.Set("Authorization", "Bearer "+m.Token)
	}
	client := m.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("auth: webhook deliver: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode >= 300 {
		return fmt.Errorf("auth: webhook deliver: %s", resp.Status)
	}
	return nil
}
