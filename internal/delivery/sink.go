package delivery

import "context"

// Sink delivers one rendered message. It reports success and never returns
// an error: failures are logged and the caller moves on to the next event.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, text string) bool
}
