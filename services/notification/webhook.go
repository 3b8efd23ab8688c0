package notification

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"clientops-controlplane/pkg/config"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const SignatureHeader = "X-Signature-SHA256"

// Sender posts JSON payloads to the automation engine.
type Sender interface {
	Send(ctx context.Context, kind string, body []byte) error
}

type webhookSender struct {
	url        string
	secret     string
	httpClient *http.Client
}

func NewWebhookSender(cfg *config.Config) Sender {
	timeout := cfg.Automation.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &webhookSender{
		url:    strings.TrimSpace(cfg.Automation.WebhookURL),
		secret: cfg.Automation.WebhookSecret,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// ErrNoWebhook is returned when no automation URL is configured.
var ErrNoWebhook = fmt.Errorf("automation webhook url not configured")

func (s *webhookSender) Send(ctx context.Context, kind string, body []byte) error {
	if s.url == "" {
		return ErrNoWebhook
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Kind", kind)
	if s.secret != "" {
		req.Header.Set(SignatureHeader, Sign(s.secret, body))
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("automation webhook responded %d", resp.StatusCode)
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
