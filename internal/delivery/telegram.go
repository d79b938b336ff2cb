package delivery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	logx "commentbot/pkg/logx"
)

// TelegramConfig configures the Telegram sink.
type TelegramConfig struct {
	Token   string
	ChatID  int64
	Timeout time.Duration
	// URL overrides the Bot API endpoint.
	URL        string
	RatePerSec float64
}

// sender is the part of *tele.Bot the sink needs.
type sender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// Telegram sends messages to a single chat through the Bot API.
type Telegram struct {
	bot     sender
	chat    tele.ChatID
	limiter *rate.Limiter
	log     logx.Logger

	Retrier Retrier
}

func NewTelegram(cfg TelegramConfig, log logx.Logger) (*Telegram, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("telegram token is required")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat id is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultWebhookTimeout
	}
	// Offline skips the getMe probe; this bot only sends.
	bot, err := tele.NewBot(tele.Settings{
		URL:     cfg.URL,
		Token:   token,
		Offline: true,
		Client:  &http.Client{Timeout: cfg.Timeout},
	})
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return newTelegram(bot, cfg, log), nil
}

func newTelegram(bot sender, cfg TelegramConfig, log logx.Logger) *Telegram {
	lim := rate.NewLimiter(rate.Inf, 1)
	switch {
	case cfg.RatePerSec == 0:
		lim = rate.NewLimiter(rate.Limit(1), 1)
	case cfg.RatePerSec > 0:
		lim = rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1)
	}
	return &Telegram{
		bot:     bot,
		chat:    tele.ChatID(cfg.ChatID),
		limiter: lim,
		log:     log.With(logx.String("comp", "delivery.telegram")),
	}
}

func (t *Telegram) Name() string { return "telegram" }

// Deliver sends text, split into chunks under the Bot API size limit. Each
// chunk is retried on its own so a retry never repeats an earlier chunk.
func (t *Telegram) Deliver(ctx context.Context, text string) bool {
	for _, chunk := range splitText(text, telegramTextLimit) {
		ok := t.Retrier.Run(ctx, t.log, t.Name(), func(ctx context.Context) Attempt {
			if err := t.limiter.Wait(ctx); err != nil {
				return Attempt{Outcome: Permanent, Err: err}
			}
			_, err := t.bot.Send(t.chat, chunk, &tele.SendOptions{DisableWebPagePreview: true})
			if err == nil {
				return Attempt{Outcome: Success}
			}
			return Attempt{Outcome: classifyTelegram(err), Err: err}
		})
		if !ok {
			return false
		}
	}
	return true
}

const telegramTextLimit = 4000

// splitText cuts s into chunks of at most limit runes, preferring newline
// boundaries that do not leave tiny chunks.
func splitText(s string, limit int) []string {
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}
	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := start + limit
		if end > len(rs) {
			end = len(rs)
		}
		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}
		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}

// classifyTelegram treats flood control, server-side and transport errors as
// transient. Everything else (bad token, unknown chat, blocked bot) is
// permanent.
func classifyTelegram(err error) Outcome {
	if err == nil {
		return Success
	}
	var flood tele.FloodError
	if errors.As(err, &flood) {
		return Transient
	}
	var apiErr *tele.Error
	if errors.As(err, &apiErr) {
		if apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500 {
			return Transient
		}
		return Permanent
	}
	var urlErr *url.Error
	var netErr net.Error
	if errors.As(err, &urlErr) || errors.As(err, &netErr) {
		return Transient
	}
	return Permanent
}
