package decide

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/herald-labs/herald/internal/respond"
	"github.com/herald-labs/herald/pkg/ledger"
	"github.com/herald-labs/herald/pkg/thread"
)

func newEngine(t *testing.T, cfg Config) (*Engine, *ledger.SQLiteLedger, thread.Store) {
	t.Helper()
	l := ledger.NewMemory()
	threads, err := thread.NewMemoryStore(nil)
	if err != nil {
		t.Fatalf("NewMemoryStore: %v", err)
	}
	threads.GetOrCreate("t1", "a@x.com", "")
	return New(l, threads, cfg), l, threads
}

func confident() *respond.Output {
	return &respond.Output{Content: "hi", ShouldSend: true, Confidence: 0.9}
}

func TestDecideSend(t *testing.T) {
	e, l, _ := newEngine(t, Config{MaxRepliesPerHour: 10, MinConfidence: 0.5})

	d, err := e.Decide("t1", "m1", "a@x.com", confident())
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if d.Action != ActionSend {
		t.Errorf("Action = %q, want send (%s)", d.Action, d.Reason)
	}
	// The id is in the ledger before any delivery happens.
	if !l.Seen("m1") {
		t.Error("message id not recorded on send")
	}
}

func TestDecideSuppressDuplicate(t *testing.T) {
	e, l, _ := newEngine(t, Config{MaxRepliesPerHour: 10})
	l.Mark("m1")

	d, err := e.Decide("t1", "m1", "a@x.com", confident())
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if d.Action != ActionSuppress {
		t.Errorf("Action = %q, want suppress", d.Action)
	}
}

func TestDecideEscalateHumanReview(t *testing.T) {
	e, l, threads := newEngine(t, Config{MaxRepliesPerHour: 10})

	out := confident()
	out.RequiresHumanReview = true
	d, err := e.Decide("t1", "m1", "a@x.com", out)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if d.Action != ActionEscalate {
		t.Errorf("Action = %q, want escalate", d.Action)
	}

	th, _ := threads.Get("t1")
	if th.Status != thread.StatusNeedsAttention {
		t.Errorf("thread status = %q, want needs_attention", th.Status)
	}
	if !l.Seen("m1") {
		t.Error("escalated message id not recorded")
	}
}

func TestDecideEscalateAtRateCap(t *testing.T) {
	e, _, _ := newEngine(t, Config{MaxRepliesPerHour: 2})

	for i := 0; i < 2; i++ {
		d, err := e.Decide("t1", fmt.Sprintf("m%d", i), fmt.Sprintf("u%d@x.com", i), confident())
		if err != nil {
			t.Fatalf("Decide #%d: %v", i, err)
		}
		if d.Action != ActionSend {
			t.Fatalf("Decide #%d = %q (%s), want send", i, d.Action, d.Reason)
		}
	}

	// At cap: even a high-confidence, non-duplicate message escalates.
	d, err := e.Decide("t1", "m-over", "u9@x.com", confident())
	if err != nil {
		t.Fatalf("Decide at cap: %v", err)
	}
	if d.Action != ActionEscalate || d.Reason != "rate limited" {
		t.Errorf("at cap: action=%q reason=%q, want escalate/rate limited", d.Action, d.Reason)
	}
}

func TestRateWindowRolls(t *testing.T) {
	e, _, _ := newEngine(t, Config{MaxRepliesPerHour: 1})

	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return clock }

	if d, _ := e.Decide("t1", "m1", "u1@x.com", confident()); d.Action != ActionSend {
		t.Fatalf("first send blocked: %+v", d)
	}
	if d, _ := e.Decide("t1", "m2", "u2@x.com", confident()); d.Action != ActionEscalate {
		t.Fatalf("second message should hit cap, got %+v", d)
	}

	// A new hour resets the window.
	clock = clock.Add(61 * time.Minute)
	if d, _ := e.Decide("t1", "m3", "u3@x.com", confident()); d.Action != ActionSend {
		t.Errorf("after window roll, got %+v, want send", d)
	}
}

func TestDecideConcurrentAtCap(t *testing.T) {
	e, _, _ := newEngine(t, Config{MaxRepliesPerHour: 1})

	// Many goroutines race on the last free slot; only one may send, the
	// rest escalate.
	const workers = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	sends, escalates := 0, 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d, err := e.Decide("t1", fmt.Sprintf("c%d", i), fmt.Sprintf("w%d@x.com", i), confident())
			if err != nil {
				t.Errorf("Decide #%d: %v", i, err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			switch d.Action {
			case ActionSend:
				sends++
			case ActionEscalate:
				escalates++
			}
		}(i)
	}
	wg.Wait()

	if sends != 1 {
		t.Errorf("sends = %d, want exactly 1 at cap 1", sends)
	}
	if escalates != workers-1 {
		t.Errorf("escalates = %d, want %d", escalates, workers-1)
	}
}

func TestRejectionReleasesRateSlot(t *testing.T) {
	e, _, _ := newEngine(t, Config{MaxRepliesPerHour: 5, MinConfidence: 0.7})

	// A low-confidence escalation must not consume a send slot.
	out := confident()
	out.Confidence = 0.1
	if d, _ := e.Decide("t1", "m1", "a@x.com", out); d.Action != ActionEscalate {
		t.Fatalf("low confidence: %+v, want escalate", d)
	}
	if sent, _ := e.WindowStatus(); sent != 0 {
		t.Errorf("sent = %d after rejected decide, want 0", sent)
	}

	if d, _ := e.Decide("t1", "m2", "a@x.com", confident()); d.Action != ActionSend {
		t.Fatalf("send after release: %+v", d)
	}
	if sent, _ := e.WindowStatus(); sent != 1 {
		t.Errorf("sent = %d after one send, want 1", sent)
	}
}

func TestDecideEscalateLowConfidence(t *testing.T) {
	e, _, _ := newEngine(t, Config{MaxRepliesPerHour: 10, MinConfidence: 0.7})

	out := confident()
	out.Confidence = 0.3
	d, err := e.Decide("t1", "m1", "a@x.com", out)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if d.Action != ActionEscalate {
		t.Errorf("Action = %q (%s), want escalate", d.Action, d.Reason)
	}
}

func TestDecideEscalateOnCompletedThread(t *testing.T) {
	e, l, threads := newEngine(t, Config{MaxRepliesPerHour: 10})

	if err := threads.SetStatus("t1", thread.StatusCompleted); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}

	// A completed thread cannot transition to needs_attention, but the
	// escalation itself must still succeed and be ledgered.
	out := confident()
	out.RequiresHumanReview = true
	d, err := e.Decide("t1", "m1", "a@x.com", out)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if d.Action != ActionEscalate {
		t.Errorf("Action = %q, want escalate", d.Action)
	}
	if !l.Seen("m1") {
		t.Error("escalated message id not recorded")
	}

	th, _ := threads.Get("t1")
	if th.Status != thread.StatusCompleted {
		t.Errorf("thread status = %q, want completed unchanged", th.Status)
	}
}

func TestPerRecipientPacing(t *testing.T) {
	e, _, _ := newEngine(t, Config{
		MaxRepliesPerHour:    10,
		PerRecipientInterval: 10 * time.Minute,
	})
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return clock }

	if d, _ := e.Decide("t1", "m1", "a@x.com", confident()); d.Action != ActionSend {
		t.Fatalf("first reply blocked: %+v", d)
	}
	// Same recipient immediately again: escalate instead of spamming.
	if d, _ := e.Decide("t1", "m2", "a@x.com", confident()); d.Action != ActionEscalate {
		t.Errorf("rapid repeat to same recipient: %+v, want escalate", d)
	}
	// A different recipient is unaffected.
	if d, _ := e.Decide("t1", "m3", "b@x.com", confident()); d.Action != ActionSend {
		t.Errorf("other recipient blocked: %+v", d)
	}

	clock = clock.Add(11 * time.Minute)
	if d, _ := e.Decide("t1", "m4", "a@x.com", confident()); d.Action != ActionSend {
		t.Errorf("after pacing interval: %+v, want send", d)
	}
}
