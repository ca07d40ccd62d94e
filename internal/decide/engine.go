// Package decide turns a generated reply into a send, escalate or
// suppress decision, enforcing dedup and rate limits.
package decide

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/herald-labs/herald/internal/respond"
	"github.com/herald-labs/herald/pkg/ledger"
	"github.com/herald-labs/herald/pkg/thread"
)

// Action is the pipeline decision for one inbound message.
type Action string

const (
	ActionSend     Action = "send"
	ActionEscalate Action = "escalate"
	ActionSuppress Action = "suppress"
)

// Decision is the outcome of Decide, with a human-readable reason.
type Decision struct {
	Action Action
	Reason string
}

// Config holds decision thresholds.
type Config struct {
	// MaxRepliesPerHour caps autonomous sends across all threads. At the
	// cap, messages escalate instead of being dropped.
	MaxRepliesPerHour int

	// MinConfidence escalates replies the generator is unsure about.
	MinConfidence float64

	// PerRecipientInterval is the minimum spacing between autonomous
	// replies to the same address. Zero disables per-recipient pacing.
	PerRecipientInterval time.Duration
}

// Engine applies the decision rules. Rate-limit counters and the ledger
// are shared between the webhook and monitor paths, so all checks happen
// under one lock.
type Engine struct {
	ledger  ledger.Ledger
	threads thread.Store
	cfg     Config

	mu          sync.Mutex
	sentInHour  int
	windowStart time.Time
	recipients  map[string]*rate.Limiter

	now func() time.Time // injectable for tests
}

// New creates a decision engine.
func New(l ledger.Ledger, threads thread.Store, cfg Config) *Engine {
	if cfg.MaxRepliesPerHour <= 0 {
		cfg.MaxRepliesPerHour = 50
	}
	return &Engine{
		ledger:     l,
		threads:    threads,
		cfg:        cfg,
		recipients: make(map[string]*rate.Limiter),
		now:        time.Now,
	}
}

// Decide applies the rules in order: duplicate, human review, global rate
// cap, per-recipient pacing, confidence, send.
//
// On send, the message id is recorded in the ledger before the caller
// attempts delivery, so a retried delivery can never double-send. On
// escalate, the id is recorded after the thread is marked needs_attention.
//
// The hourly cap is enforced by reserving a slot in the same critical
// section as the cap check. Concurrent decides at the boundary therefore
// cannot all pass; a reserved slot is released when a later rule rejects
// the send.
func (e *Engine) Decide(threadID, messageID, recipient string, gen *respond.Output) (Decision, error) {
	if e.ledger.Seen(messageID) {
		return Decision{Action: ActionSuppress, Reason: "duplicate message id"}, nil
	}

	if gen.RequiresHumanReview {
		return e.escalate(threadID, messageID, "requires human review")
	}

	e.mu.Lock()
	e.rollWindow()
	if e.sentInHour >= e.cfg.MaxRepliesPerHour {
		e.mu.Unlock()
		return e.escalate(threadID, messageID, "rate limited")
	}
	e.sentInHour++
	e.mu.Unlock()

	if !e.allowRecipient(recipient) {
		e.releaseSlot()
		return e.escalate(threadID, messageID, "recipient rate limited")
	}

	if gen.Confidence < e.cfg.MinConfidence {
		e.releaseSlot()
		return e.escalate(threadID, messageID,
			fmt.Sprintf("confidence %.2f below minimum %.2f", gen.Confidence, e.cfg.MinConfidence))
	}

	fresh, err := e.ledger.Mark(messageID)
	if err != nil {
		e.releaseSlot()
		return Decision{}, fmt.Errorf("record message id: %w", err)
	}
	if !fresh {
		// Lost the race against the other intake path.
		e.releaseSlot()
		return Decision{Action: ActionSuppress, Reason: "duplicate message id"}, nil
	}

	return Decision{Action: ActionSend, Reason: "auto-approved"}, nil
}

// releaseSlot returns a reserved send slot to the hourly window. The
// counter may have been reset by a window roll in between; never go
// negative.
func (e *Engine) releaseSlot() {
	e.mu.Lock()
	if e.sentInHour > 0 {
		e.sentInHour--
	}
	e.mu.Unlock()
}

// escalate marks the thread for human attention, then records the id.
func (e *Engine) escalate(threadID, messageID, reason string) (Decision, error) {
	if err := e.threads.SetStatus(threadID, thread.StatusNeedsAttention); err != nil {
		// A completed thread cannot transition back; the escalation
		// outcome is still recorded rather than dropping the event.
		slog.Warn("mark thread needs_attention", "thread", threadID, "error", err)
	}
	slog.Info("escalating to human review", "thread", threadID, "message", messageID, "reason", reason)

	if _, err := e.ledger.Mark(messageID); err != nil {
		return Decision{}, fmt.Errorf("record escalated message id: %w", err)
	}
	return Decision{Action: ActionEscalate, Reason: reason}, nil
}

// allowRecipient consults the per-recipient pacing limiter.
func (e *Engine) allowRecipient(recipient string) bool {
	if e.cfg.PerRecipientInterval <= 0 || recipient == "" {
		return true
	}

	e.mu.Lock()
	lim, ok := e.recipients[recipient]
	if !ok {
		lim = rate.NewLimiter(rate.Every(e.cfg.PerRecipientInterval), 1)
		e.recipients[recipient] = lim
	}
	e.mu.Unlock()
	return lim.AllowN(e.now(), 1)
}

// rollWindow resets the hourly counter when the window has elapsed.
// Caller holds e.mu.
func (e *Engine) rollWindow() {
	now := e.now()
	if e.windowStart.IsZero() || now.Sub(e.windowStart) >= time.Hour {
		e.windowStart = now
		e.sentInHour = 0
	}
}

// WindowStatus reports the current rate-limit window, for the status
// surface.
func (e *Engine) WindowStatus() (sent int, windowStart time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rollWindow()
	return e.sentInHour, e.windowStart
}
