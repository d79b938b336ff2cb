package delivery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	logx "commentbot/pkg/logx"
)

// DefaultMaxAttempts bounds each delivery, first try included.
const DefaultMaxAttempts = 3

// Outcome classifies a single delivery attempt.
type Outcome int

const (
	Success Outcome = iota
	Transient
	Permanent
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Transient:
		return "transient"
	case Permanent:
		return "permanent"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// ClassifyHTTP maps a webhook response to an Outcome. A non-nil err means
// the request never produced a response.
func ClassifyHTTP(status int, err error) Outcome {
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return Permanent
		}
		return Transient
	}
	switch {
	case status >= 200 && status < 300:
		return Success
	case status == http.StatusTooManyRequests || status >= 500:
		return Transient
	default:
		return Permanent
	}
}

// Attempt is the result of one try.
type Attempt struct {
	Outcome Outcome
	// Detail describes a failure for the log (status line, response body).
	Detail string
	Err    error
}

// Retrier runs attempts until one succeeds, one fails permanently, or the
// attempt budget is spent. Waits grow as 2^attempt seconds.
//
// A Retrier is single-use per delivery; Reset prepares it for the next one.
type Retrier struct {
	MaxAttempts int
	// Sleep waits between attempts. Nil uses a timer honoring ctx.
	Sleep func(ctx context.Context, d time.Duration) error

	attempt int
}

// Attempts returns how many attempts the last Run made.
func (r *Retrier) Attempts() int { return r.attempt }

func (r *Retrier) Reset() { r.attempt = 0 }

// Backoff is the wait after the given 1-based attempt.
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return time.Duration(1<<uint(attempt)) * time.Second
}

// Next records an attempt's outcome and reports whether to try again and
// how long to wait first.
func (r *Retrier) Next(o Outcome) (time.Duration, bool) {
	r.attempt++
	if o != Transient || r.attempt >= r.max() {
		return 0, false
	}
	return Backoff(r.attempt), true
}

func (r *Retrier) max() int {
	if r.MaxAttempts <= 0 {
		return DefaultMaxAttempts
	}
	return r.MaxAttempts
}

// Run drives fn through the retry policy and returns true on success.
// The final failure is logged with its detail.
func (r *Retrier) Run(ctx context.Context, log logx.Logger, sink string, fn func(ctx context.Context) Attempt) bool {
	r.Reset()
	sleep := r.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	for {
		a := fn(ctx)
		if a.Outcome == Success {
			return true
		}
		wait, again := r.Next(a.Outcome)
		if !again {
			log.Warn("delivery failed",
				logx.String("sink", sink),
				logx.String("outcome", a.Outcome.String()),
				logx.Int("attempts", r.attempt),
				logx.String("detail", a.Detail),
				logx.Err(a.Err),
			)
			return false
		}
		log.Debug("delivery attempt failed; retrying",
			logx.String("sink", sink),
			logx.Int("attempt", r.attempt),
			logx.Duration("wait", wait),
			logx.String("detail", a.Detail),
			logx.Err(a.Err),
		)
		if err := sleep(ctx, wait); err != nil {
			log.Warn("delivery abandoned", logx.String("sink", sink), logx.Err(err))
			return false
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
