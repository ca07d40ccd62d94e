// Package mail is the client side of the external Email Provider Service.
// Deliverability mechanics (SMTP, DNS) live entirely behind the provider;
// this daemon only lists unread mail, replies on threads, and sends
// fallback messages.
package mail

import (
	"context"
	"errors"
	"time"
)

// RawMessage is an unread message as the provider reports it.
type RawMessage struct {
	ID         string    `json:"id"`
	ThreadID   string    `json:"thread_id"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	Subject    string    `json:"subject"`
	Text       string    `json:"text"`
	CampaignID string    `json:"campaign_id,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// SendResult reports a completed send or reply.
type SendResult struct {
	MessageID string `json:"message_id"`
}

// Provider is the Email Provider Service contract. Failures surface as
// *ProviderError so callers can distinguish auth problems from transient
// ones without crashing the pipeline.
type Provider interface {
	// ListUnread fetches up to limit unread messages from the inbox.
	ListUnread(ctx context.Context, inbox string, limit int) ([]RawMessage, error)

	// Send delivers a new message from the inbox identity.
	Send(ctx context.Context, inbox, to, subject, text, html string) (*SendResult, error)

	// Reply posts a reply on an existing provider thread.
	Reply(ctx context.Context, threadID, text string) (*SendResult, error)

	// MarkRead marks a message as read so it stops appearing in ListUnread.
	MarkRead(ctx context.Context, messageID string) error
}

// Kind classifies provider failures.
type Kind string

const (
	KindUnauthorized Kind = "unauthorized"
	KindRateLimited  Kind = "rate_limited"
	KindNotFound     Kind = "not_found"
	KindUnavailable  Kind = "unavailable" // network errors, 5xx, timeouts
)

// ProviderError is a typed email provider failure.
type ProviderError struct {
	Kind       Kind
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	return "mail provider: " + string(e.Kind) + ": " + e.Message
}

// IsTransient reports whether err is a provider failure worth one fallback
// attempt (anything but an auth failure).
func IsTransient(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind != KindUnauthorized
	}
	return err != nil
}
