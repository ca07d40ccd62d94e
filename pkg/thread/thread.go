// Package thread holds per-participant conversation state.
//
// A Thread is owned exclusively by a Store; other components read and
// mutate it only through Store operations and never hold a live reference.
// All Store methods return defensive copies.
package thread

import "time"

// Direction marks which way a message travelled.
type Direction string

const (
	Inbound  Direction = "inbound"
	Outbound Direction = "outbound"
)

// Status is the lifecycle state of a thread.
type Status string

const (
	// StatusActive — the conversation is being handled autonomously.
	StatusActive Status = "active"
	// StatusNeedsAttention — escalated, waiting on a human.
	StatusNeedsAttention Status = "needs_attention"
	// StatusCompleted — the conversation is closed.
	StatusCompleted Status = "completed"
)

// Message is a single conversation message. Immutable once created.
type Message struct {
	ID         string    `json:"id"`
	Sender     string    `json:"sender_address"`
	Content    string    `json:"content"`
	ReceivedAt time.Time `json:"received_at"`
	Direction  Direction `json:"direction"`
	ThreadID   string    `json:"thread_id"`
	CampaignID string    `json:"campaign_id,omitempty"`
	Intent     string    `json:"intent,omitempty"`
}

// Context carries what the daemon knows about the participant, used to
// ground generated replies.
type Context struct {
	EventName       string   `json:"event_name,omitempty"`
	EventDate       string   `json:"event_date,omitempty"`
	ParticipantName string   `json:"participant_name,omitempty"`
	Interests       []string `json:"interests,omitempty"`
}

// Thread is a persistent conversation with one participant, keyed by the
// provider-issued thread identifier. Messages are ordered by ReceivedAt.
type Thread struct {
	ID             string    `json:"thread_id"`
	Participant    string    `json:"participant_address"`
	CampaignID     string    `json:"campaign_id,omitempty"`
	Messages       []Message `json:"messages"`
	LastActivityAt time.Time `json:"last_activity_at"`
	Status         Status    `json:"status"`
	Context        Context   `json:"context"`
}

// clone returns a deep copy safe to hand outside the store.
func (t *Thread) clone() *Thread {
	cp := *t
	cp.Messages = make([]Message, len(t.Messages))
	copy(cp.Messages, t.Messages)
	if t.Context.Interests != nil {
		cp.Context.Interests = append([]string(nil), t.Context.Interests...)
	}
	return &cp
}
