package thread

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func TestGetOrCreate(t *testing.T) {
	s, err := NewMemoryStore(nil)
	if err != nil {
		t.Fatalf("NewMemoryStore: %v", err)
	}

	th, err := s.GetOrCreate("t1", "a@x.com", "c1")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if th.Status != StatusActive {
		t.Errorf("new thread status = %q, want %q", th.Status, StatusActive)
	}
	if th.Participant != "a@x.com" || th.CampaignID != "c1" {
		t.Errorf("thread = %+v, want participant/campaign set", th)
	}

	// Second call returns the same thread, does not reset fields.
	again, err := s.GetOrCreate("t1", "other@x.com", "")
	if err != nil {
		t.Fatalf("GetOrCreate (again): %v", err)
	}
	if again.Participant != "a@x.com" {
		t.Errorf("participant overwritten to %q", again.Participant)
	}

	if _, err := s.Get("missing"); err != ErrNotFound {
		t.Errorf("Get(missing) err = %v, want ErrNotFound", err)
	}
}

func TestAppendMessageOrdering(t *testing.T) {
	s, _ := NewMemoryStore(nil)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	// Append out of order; the thread must come back in received order.
	for _, offset := range []int{2, 0, 1} {
		_, err := s.AppendMessage("t1", Message{
			ID:         fmt.Sprintf("m%d", offset),
			Sender:     "a@x.com",
			Content:    "hello",
			Direction:  Inbound,
			ReceivedAt: base.Add(time.Duration(offset) * time.Minute),
		})
		if err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
	}

	th, err := s.Get("t1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(th.Messages) != 3 {
		t.Fatalf("got %d messages, want 3", len(th.Messages))
	}
	for i, want := range []string{"m0", "m1", "m2"} {
		if th.Messages[i].ID != want {
			t.Errorf("messages[%d].ID = %q, want %q", i, th.Messages[i].ID, want)
		}
	}
	if !th.LastActivityAt.Equal(base.Add(2 * time.Minute)) {
		t.Errorf("LastActivityAt = %v, want %v", th.LastActivityAt, base.Add(2*time.Minute))
	}
}

func TestAppendMessageDuplicateID(t *testing.T) {
	s, _ := NewMemoryStore(nil)

	msg := Message{
		ID:         "m1",
		Sender:     "a@x.com",
		Content:    "hello",
		Direction:  Inbound,
		ReceivedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	if _, err := s.AppendMessage("t1", msg); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	// Same provider message arriving twice (webhook and monitor both saw
	// it) must not duplicate history.
	th, err := s.AppendMessage("t1", msg)
	if err != nil {
		t.Fatalf("AppendMessage (dup): %v", err)
	}
	if len(th.Messages) != 1 {
		t.Errorf("got %d messages, want 1 after duplicate append", len(th.Messages))
	}

	// Messages without ids are never deduplicated.
	s.AppendMessage("t1", Message{Content: "a", Direction: Inbound})
	th2, _ := s.AppendMessage("t1", Message{Content: "a", Direction: Inbound})
	if len(th2.Messages) != 3 {
		t.Errorf("got %d messages, want 3 (id-less messages kept)", len(th2.Messages))
	}
}

func TestAppendMessageConcurrent(t *testing.T) {
	s, _ := NewMemoryStore(nil)

	const n = 100
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.AppendMessage("t1", Message{
				ID:        fmt.Sprintf("m%d", i),
				Direction: Inbound,
				Content:   "hi",
			})
			if err != nil {
				t.Errorf("AppendMessage: %v", err)
			}
		}(i)
	}
	wg.Wait()

	th, err := s.Get("t1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(th.Messages) != n {
		t.Errorf("got %d messages, want %d (lost or duplicated appends)", len(th.Messages), n)
	}
	for i := 1; i < len(th.Messages); i++ {
		if th.Messages[i].ReceivedAt.Before(th.Messages[i-1].ReceivedAt) {
			t.Errorf("messages out of order at index %d", i)
		}
	}
}

func TestSetStatus(t *testing.T) {
	s, _ := NewMemoryStore(nil)
	s.GetOrCreate("t1", "a@x.com", "")

	if err := s.SetStatus("t1", StatusNeedsAttention); err != nil {
		t.Fatalf("active → needs_attention: %v", err)
	}
	// Human resolution path.
	if err := s.SetStatus("t1", StatusActive); err != nil {
		t.Fatalf("needs_attention → active: %v", err)
	}
	if err := s.SetStatus("t1", StatusCompleted); err != nil {
		t.Fatalf("active → completed: %v", err)
	}
	if err := s.SetStatus("t1", StatusActive); err == nil {
		t.Error("completed → active should be rejected")
	}
	if err := s.SetStatus("missing", StatusActive); err != ErrNotFound {
		t.Errorf("SetStatus(missing) err = %v, want ErrNotFound", err)
	}
}

func TestCheckpointRestore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "threads.db")

	cp, err := OpenCheckpoint(path)
	if err != nil {
		t.Fatalf("OpenCheckpoint: %v", err)
	}
	s, err := NewMemoryStore(cp)
	if err != nil {
		t.Fatalf("NewMemoryStore: %v", err)
	}
	s.AppendMessage("t1", Message{ID: "m1", Sender: "a@x.com", Content: "hi", Direction: Inbound})
	s.SetStatus("t1", StatusNeedsAttention)
	if err := cp.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	cp2, err := OpenCheckpoint(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer cp2.Close()
	s2, err := NewMemoryStore(cp2)
	if err != nil {
		t.Fatalf("NewMemoryStore (restore): %v", err)
	}

	th, err := s2.Get("t1")
	if err != nil {
		t.Fatalf("Get after restore: %v", err)
	}
	if len(th.Messages) != 1 || th.Messages[0].ID != "m1" {
		t.Errorf("restored thread = %+v, want one message m1", th)
	}
	if th.Status != StatusNeedsAttention {
		t.Errorf("restored status = %q, want %q", th.Status, StatusNeedsAttention)
	}
}
