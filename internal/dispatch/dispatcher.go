// Package dispatch transmits approved replies through the Email Provider
// Service, with a single fallback attempt on a second channel.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/herald-labs/herald/internal/mail"
)

// Delivery channels reported in outcomes.
const (
	ChannelReply  = "reply"  // reply on the provider thread
	ChannelDirect = "direct" // fresh send addressed to the participant
)

// Result reports one delivery attempt.
type Result struct {
	Delivered bool
	Channel   string // channel that succeeded, empty if none
	MessageID string
}

// Dispatcher sends replies. It never retries beyond the one fallback: a
// failed delivery is surfaced to the caller, and recovery needs the
// upstream event to recur or a human to step in.
type Dispatcher struct {
	provider mail.Provider
	inbox    string
	timeout  time.Duration
}

// New creates a dispatcher sending from the given inbox identity.
func New(provider mail.Provider, inbox string) *Dispatcher {
	return &Dispatcher{
		provider: provider,
		inbox:    inbox,
		timeout:  30 * time.Second,
	}
}

// Inbox returns the sending identity.
func (d *Dispatcher) Inbox() string { return d.inbox }

// Deliver tries the reply-on-thread channel first, then falls back once to
// a direct send with a Re: subject carrying the thread id as a correlation
// tag. subject may be empty.
func (d *Dispatcher) Deliver(ctx context.Context, threadID, recipient, subject, content string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	res, primaryErr := d.provider.Reply(ctx, threadID, content)
	if primaryErr == nil {
		return &Result{Delivered: true, Channel: ChannelReply, MessageID: res.MessageID}, nil
	}
	slog.Warn("primary reply channel failed, trying direct send",
		"thread", threadID,
		"error", primaryErr,
	)

	if subject == "" {
		subject = "your message"
	}
	// The bracketed tag lets the provider (and humans) correlate the
	// direct send back to the original thread.
	fallbackSubject := fmt.Sprintf("Re: %s [ref:%s]", subject, threadID)

	res, fallbackErr := d.provider.Send(ctx, d.inbox, recipient, fallbackSubject, content, "")
	if fallbackErr == nil {
		return &Result{Delivered: true, Channel: ChannelDirect, MessageID: res.MessageID}, nil
	}

	return &Result{Delivered: false},
		fmt.Errorf("delivery failed on both channels: reply: %v; direct: %w", primaryErr, fallbackErr)
}
