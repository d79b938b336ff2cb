package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	logx "commentbot/pkg/logx"
)

const (
	defaultWebhookTimeout = 20 * time.Second
	defaultWebhookRate    = 2.0
	maxBodyLog            = 2048
)

// WebhookConfig configures the incoming-webhook sink.
type WebhookConfig struct {
	URL     string
	Timeout time.Duration
	// RatePerSec spaces consecutive posts. Zero uses the default; negative
	// disables pacing.
	RatePerSec float64
	Client     *http.Client
}

// messageCard is the legacy connector card accepted by Teams incoming webhooks.
type messageCard struct {
	Type    string `json:"@type"`
	Context string `json:"@context"`
	Summary string `json:"summary"`
	Text    string `json:"text"`
}

// Webhook posts messages to an incoming webhook URL.
type Webhook struct {
	url     string
	client  *http.Client
	limiter *rate.Limiter
	log     logx.Logger

	Retrier Retrier
}

func NewWebhook(cfg WebhookConfig, log logx.Logger) (*Webhook, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	raw := strings.TrimSpace(cfg.URL)
	if raw == "" {
		return nil, errors.New("webhook url is required")
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid webhook url %q", raw)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultWebhookTimeout
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	lim := rate.NewLimiter(rate.Inf, 1)
	switch {
	case cfg.RatePerSec == 0:
		lim = rate.NewLimiter(rate.Limit(defaultWebhookRate), 1)
	case cfg.RatePerSec > 0:
		lim = rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1)
	}
	return &Webhook{
		url:     raw,
		client:  client,
		limiter: lim,
		log:     log.With(logx.String("comp", "delivery.webhook")),
	}, nil
}

func (w *Webhook) Name() string { return "teams" }

// Deliver posts text as a MessageCard. Transient failures (429, 5xx,
// transport errors) are retried with backoff.
func (w *Webhook) Deliver(ctx context.Context, text string) bool {
	body, err := json.Marshal(messageCard{
		Type:    "MessageCard",
		Context: "https://schema.org/extensions",
		Summary: "Canvas student comment",
		Text:    text,
	})
	if err != nil {
		w.log.Error("encode webhook payload", logx.Err(err))
		return false
	}
	return w.Retrier.Run(ctx, w.log, w.Name(), func(ctx context.Context) Attempt {
		return w.post(ctx, body)
	})
}

func (w *Webhook) post(ctx context.Context, body []byte) Attempt {
	if err := w.limiter.Wait(ctx); err != nil {
		return Attempt{Outcome: Permanent, Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return Attempt{Outcome: Permanent, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return Attempt{Outcome: ClassifyHTTP(0, err), Detail: "request failed", Err: err}
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyLog))

	o := ClassifyHTTP(resp.StatusCode, nil)
	if o == Success {
		return Attempt{Outcome: Success}
	}
	return Attempt{
		Outcome: o,
		Detail:  fmt.Sprintf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(b))),
	}
}
