package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/herald-labs/herald/internal/decide"
	"github.com/herald-labs/herald/internal/dispatch"
	"github.com/herald-labs/herald/internal/respond"
	"github.com/herald-labs/herald/pkg/bus"
	"github.com/herald-labs/herald/pkg/intent"
	"github.com/herald-labs/herald/pkg/ledger"
	"github.com/herald-labs/herald/pkg/thread"
)

// Inbound is one participant message entering the pipeline, from either
// the webhook or the inbox monitor.
type Inbound struct {
	MessageID  string
	ThreadID   string
	Sender     string
	Subject    string
	Content    string
	CampaignID string
	ReceivedAt time.Time
}

// Pipeline runs the full processing chain for one inbound message:
// classify, record on the thread, generate a reply, decide, deliver.
// Every message yields exactly one Outcome, published on the bus.
type Pipeline struct {
	threads    thread.Store
	ledger     ledger.Ledger
	generator  *respond.Generator
	engine     *decide.Engine
	dispatcher *dispatch.Dispatcher
	events     *bus.Bus
}

// NewPipeline wires the processing chain.
func NewPipeline(threads thread.Store, l ledger.Ledger, gen *respond.Generator, eng *decide.Engine, disp *dispatch.Dispatcher, events *bus.Bus) *Pipeline {
	return &Pipeline{
		threads:    threads,
		ledger:     l,
		generator:  gen,
		engine:     eng,
		dispatcher: disp,
		events:     events,
	}
}

// Process handles one inbound message end to end. The returned Outcome
// is never nil when err is nil.
func (p *Pipeline) Process(ctx context.Context, msg Inbound) (*bus.Outcome, error) {
	start := time.Now()

	if msg.MessageID == "" {
		// No provider message id means no dedup possible; mint one so the
		// ledger and outcome records stay keyed.
		msg.MessageID = uuid.NewString()
	}
	if msg.ThreadID == "" {
		return nil, fmt.Errorf("inbound message %s has no thread id", msg.MessageID)
	}

	// Duplicate ids are dropped before touching the thread, so a replayed
	// webhook leaves the conversation history unchanged.
	if p.ledger.Seen(msg.MessageID) {
		return p.finish(start, &bus.Outcome{
			ThreadID:  msg.ThreadID,
			MessageID: msg.MessageID,
			Action:    "suppress",
			Reason:    "duplicate message id",
		}), nil
	}

	sentiment := intent.Classify(msg.Content)

	if _, err := p.threads.GetOrCreate(msg.ThreadID, msg.Sender, msg.CampaignID); err != nil {
		return nil, fmt.Errorf("open thread %s: %w", msg.ThreadID, err)
	}
	th, err := p.threads.AppendMessage(msg.ThreadID, thread.Message{
		ID:         msg.MessageID,
		Sender:     msg.Sender,
		Content:    msg.Content,
		ReceivedAt: msg.ReceivedAt,
		Direction:  thread.Inbound,
		CampaignID: msg.CampaignID,
		Intent:     string(sentiment),
	})
	if err != nil {
		return nil, fmt.Errorf("append inbound message: %w", err)
	}

	// Generation and delivery run without any thread lock held; the store
	// hands out snapshots.
	gen := p.generator.Generate(ctx, th, msg.Content)

	decision, err := p.engine.Decide(msg.ThreadID, msg.MessageID, msg.Sender, gen)
	if err != nil {
		return nil, fmt.Errorf("decide on message %s: %w", msg.MessageID, err)
	}

	outcome := &bus.Outcome{
		ThreadID:  msg.ThreadID,
		MessageID: msg.MessageID,
		Intent:    string(sentiment),
	}

	switch decision.Action {
	case decide.ActionSuppress:
		outcome.Action = "suppress"
		outcome.Reason = decision.Reason

	case decide.ActionEscalate:
		outcome.Action = "escalate"
		outcome.Reason = decision.Reason
		slog.Info("message escalated",
			"thread", msg.ThreadID,
			"message", msg.MessageID,
			"reason", decision.Reason,
		)

	case decide.ActionSend:
		res, err := p.dispatcher.Deliver(ctx, msg.ThreadID, msg.Sender, msg.Subject, gen.Content)
		if err != nil {
			slog.Error("delivery failed",
				"thread", msg.ThreadID,
				"message", msg.MessageID,
				"error", err,
			)
			if serr := p.threads.SetStatus(msg.ThreadID, thread.StatusNeedsAttention); serr != nil {
				slog.Warn("mark thread after failed delivery", "thread", msg.ThreadID, "error", serr)
			}
			outcome.Action = "failed"
			outcome.Reason = err.Error()
			break
		}

		if _, err := p.threads.AppendMessage(msg.ThreadID, thread.Message{
			ID:         res.MessageID,
			Sender:     p.dispatcher.Inbox(),
			Content:    gen.Content,
			ReceivedAt: time.Now().UTC(),
			Direction:  thread.Outbound,
		}); err != nil {
			slog.Warn("record outbound message", "thread", msg.ThreadID, "error", err)
		}
		outcome.Action = "send"
		outcome.Reason = decision.Reason
		outcome.Channel = res.Channel
	}

	return p.finish(start, outcome), nil
}

// finish stamps and publishes the outcome.
func (p *Pipeline) finish(start time.Time, o *bus.Outcome) *bus.Outcome {
	o.ID = uuid.NewString()
	o.Elapsed = time.Since(start).Round(time.Millisecond).String()
	p.events.Publish(bus.Event{Type: bus.EventOutcome, Outcome: o})
	return o
}
