// Package campaign records outreach campaign analytics: open events and
// per-contact reply sentiment. The lightweight email_reply and
// email_opened webhook paths write here instead of invoking the reply
// pipeline.
package campaign

import (
	"context"
	"sync"
)

// Recorder persists campaign analytics.
type Recorder interface {
	// RecordOpen increments the campaign's open counter.
	RecordOpen(ctx context.Context, campaignID string) error

	// RecordReply stores a contact's reply sentiment for the campaign.
	RecordReply(ctx context.Context, campaignID, contact, sentiment string) error
}

// MemoryRecorder keeps analytics in process memory, for tests and for
// deployments without Postgres.
type MemoryRecorder struct {
	mu      sync.Mutex
	opens   map[string]int
	replies map[string][]Reply
}

// Reply is one recorded contact reply.
type Reply struct {
	Contact   string
	Sentiment string
}

// NewMemoryRecorder creates an empty in-memory recorder.
func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{
		opens:   make(map[string]int),
		replies: make(map[string][]Reply),
	}
}

func (r *MemoryRecorder) RecordOpen(ctx context.Context, campaignID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opens[campaignID]++
	return nil
}

func (r *MemoryRecorder) RecordReply(ctx context.Context, campaignID, contact, sentiment string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replies[campaignID] = append(r.replies[campaignID], Reply{Contact: contact, Sentiment: sentiment})
	return nil
}

// Opens returns the open count for a campaign.
func (r *MemoryRecorder) Opens(campaignID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.opens[campaignID]
}

// Replies returns the recorded replies for a campaign.
func (r *MemoryRecorder) Replies(campaignID string) []Reply {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Reply(nil), r.replies[campaignID]...)
}
