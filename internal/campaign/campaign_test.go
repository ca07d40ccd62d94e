package campaign

import (
	"context"
	"sync"
	"testing"
)

func TestMemoryRecorder(t *testing.T) {
	r := NewMemoryRecorder()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := r.RecordOpen(ctx, "c1"); err != nil {
			t.Fatalf("RecordOpen: %v", err)
		}
	}
	if err := r.RecordReply(ctx, "c1", "a@x.com", "positive"); err != nil {
		t.Fatalf("RecordReply: %v", err)
	}
	if err := r.RecordReply(ctx, "c1", "b@x.com", "negative"); err != nil {
		t.Fatalf("RecordReply: %v", err)
	}

	if got := r.Opens("c1"); got != 5 {
		t.Errorf("opens = %d, want 5", got)
	}
	if got := r.Opens("missing"); got != 0 {
		t.Errorf("opens for unknown campaign = %d, want 0", got)
	}

	replies := r.Replies("c1")
	if len(replies) != 2 {
		t.Fatalf("replies = %d, want 2", len(replies))
	}
	if replies[0].Contact != "a@x.com" || replies[0].Sentiment != "positive" {
		t.Errorf("first reply = %+v", replies[0])
	}
}

func TestMemoryRecorderConcurrent(t *testing.T) {
	r := NewMemoryRecorder()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.RecordOpen(ctx, "c1")
		}()
	}
	wg.Wait()

	if got := r.Opens("c1"); got != 50 {
		t.Errorf("opens = %d, want 50", got)
	}
}
