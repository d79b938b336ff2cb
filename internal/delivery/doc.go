// Package delivery turns collected comment events into chat messages and
// hands them to an outbound sink.
//
// Two sinks exist: Webhook posts a MessageCard document to an incoming
// webhook URL, and Telegram sends plain text to one chat. Both retry through
// a Retrier and report a plain success flag; a failed delivery never aborts
// the caller's run.
package delivery
