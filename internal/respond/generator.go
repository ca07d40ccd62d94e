// Package respond drafts outreach replies through the Language Model
// Service, grounded in thread history and the dashboard snapshot.
package respond

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/herald-labs/herald/internal/dashboard"
	"github.com/herald-labs/herald/internal/llm"
	"github.com/herald-labs/herald/pkg/intent"
	"github.com/herald-labs/herald/pkg/thread"
)

// systemPrompt fixes the assistant's role and style. Replies must stay
// short, friendly and factual — the model is told to never invent details
// beyond the supplied context.
const systemPrompt = `You are the outreach assistant for an event-coordination service, replying to volunteers and participants over email.

Rules:
- Reply in 2-4 sentences, friendly and factual.
- Only reference events, dates and details present in the context below. Never fabricate specifics.
- If you cannot answer from the context, say a coordinator will follow up.
- Do not use markdown, signatures or subject lines; write the body text only.`

const (
	// maxContextMessages bounds the history window sent to the model.
	maxContextMessages = 10
	// generateTimeout is the hard ceiling for one generation call.
	generateTimeout = 45 * time.Second
)

// fallbackContent is sent when generation fails. It commits to nothing,
// and the forced human review alerts a coordinator instead of letting an
// automated reply go out blind.
const fallbackContent = "Thanks for reaching out! A member of our coordination team has your message and will get back to you shortly."

// Output is the generator's result for one inbound message.
type Output struct {
	Content             string
	ShouldSend          bool
	RequiresHumanReview bool
	Confidence          float64
	SuggestedActions    []intent.Action
}

// Generator assembles context and calls the LLM chain.
type Generator struct {
	chain       *llm.Chain
	dash        dashboard.Provider
	model       string
	maxTokens   int
	temperature float64
}

// New creates a generator. dash may be a dashboard.Static for tests.
func New(chain *llm.Chain, dash dashboard.Provider, model string, maxTokens int, temperature float64) *Generator {
	if maxTokens <= 0 {
		maxTokens = 512
	}
	if dash == nil {
		dash = dashboard.Static{}
	}
	return &Generator{
		chain:       chain,
		dash:        dash,
		model:       model,
		maxTokens:   maxTokens,
		temperature: temperature,
	}
}

// Generate drafts a reply to incoming on the given thread. It never
// returns an error: LLM failure degrades to the canned fallback with
// human review forced. Suggested actions always come from the incoming
// message, not the generated text, so they are identical on both paths.
func (g *Generator) Generate(ctx context.Context, th *thread.Thread, incoming string) *Output {
	out := &Output{
		SuggestedActions:    intent.SuggestActions(incoming),
		RequiresHumanReview: intent.RequiresHumanReview(incoming),
	}

	ctx, cancel := context.WithTimeout(ctx, generateTimeout)
	defer cancel()

	req := llm.CompletionRequest{
		Messages:    historyWindow(th, incoming),
		Model:       g.model,
		MaxTokens:   g.maxTokens,
		Temperature: g.temperature,
		System:      g.buildSystem(ctx, th),
	}

	resp, err := g.chain.Complete(ctx, req)
	if err != nil || strings.TrimSpace(resp.Content) == "" {
		if err == nil {
			err = fmt.Errorf("empty completion")
		}
		slog.Warn("reply generation failed, using fallback",
			"thread", th.ID,
			"error", err,
		)
		out.Content = fallbackContent
		out.ShouldSend = true
		out.RequiresHumanReview = true
		out.Confidence = 0
		return out
	}

	out.Content = strings.TrimSpace(resp.Content)
	out.ShouldSend = true
	out.Confidence = 0.9
	if resp.StopReason == "max_tokens" || resp.StopReason == "length" {
		// Truncated output reads badly; let a human check it.
		out.Confidence = 0.4
	}
	return out
}

// historyWindow maps the last messages of the thread to chat turns,
// oldest first, ending with the incoming message as the latest user turn.
func historyWindow(th *thread.Thread, incoming string) []llm.Message {
	msgs := th.Messages
	if len(msgs) > maxContextMessages {
		msgs = msgs[len(msgs)-maxContextMessages:]
	}

	var history []llm.Message
	for _, m := range msgs {
		role := "user"
		if m.Direction == thread.Outbound {
			role = "assistant"
		}
		history = append(history, llm.Message{Role: role, Content: m.Content})
	}

	// The incoming message is usually already appended to the thread; only
	// add it when the caller passed a thread snapshot from before the append.
	if len(history) == 0 || history[len(history)-1].Content != incoming {
		history = append(history, llm.Message{Role: "user", Content: incoming})
	}
	return history
}

// buildSystem extends the fixed prompt with thread context and the
// dashboard snapshot. A snapshot fetch failure degrades to no snapshot.
func (g *Generator) buildSystem(ctx context.Context, th *thread.Thread) string {
	var b strings.Builder
	b.WriteString(systemPrompt)

	b.WriteString("\n\nParticipant context:\n")
	fmt.Fprintf(&b, "- address: %s\n", th.Participant)
	if th.Context.ParticipantName != "" {
		fmt.Fprintf(&b, "- name: %s\n", th.Context.ParticipantName)
	}
	if th.Context.EventName != "" {
		fmt.Fprintf(&b, "- event: %s (%s)\n", th.Context.EventName, th.Context.EventDate)
	}
	if len(th.Context.Interests) > 0 {
		fmt.Fprintf(&b, "- interests: %s\n", strings.Join(th.Context.Interests, ", "))
	}

	snap, err := g.dash.Snapshot(ctx)
	if err != nil {
		slog.Warn("dashboard snapshot unavailable", "error", err)
		return b.String()
	}

	if len(snap.Events) > 0 {
		b.WriteString("\nUpcoming events:\n")
		for _, e := range snap.Events {
			fmt.Fprintf(&b, "- %s on %s at %s (%d volunteers needed)\n",
				e.Name, e.Date, e.Location, e.VolunteersNeeded)
		}
	}
	return b.String()
}
