package daemon

import (
	"context"
	"testing"
	"time"

	"github.com/herald-labs/herald/internal/mail"
	"github.com/herald-labs/herald/pkg/bus"
	"github.com/herald-labs/herald/pkg/ledger"
)

func newTestMonitor(t *testing.T, mailer *fakeMail) (*Monitor, *ledger.SQLiteLedger) {
	t.Helper()

	p, _, events, _ := newTestPipeline(t, &fakeLLM{content: "Thanks, noted!"}, mailer)
	ledg := ledger.NewMemory()
	m := NewMonitor(p, mailer, ledg, events, "outreach@events.example", time.Minute, 20)
	return m, ledg
}

func TestMonitorStartStop(t *testing.T) {
	m, _ := newTestMonitor(t, &fakeMail{})

	if m.Start() {
		t.Error("Start succeeded without a bound context")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Bind(ctx)

	if !m.Start() {
		t.Fatal("Start failed")
	}
	if m.Start() {
		t.Error("second Start must report already running")
	}
	if !m.Status().IsRunning {
		t.Error("status not running after Start")
	}

	if !m.Stop() {
		t.Error("Stop on a running monitor must return true")
	}
	if m.Stop() {
		t.Error("Stop on a stopped monitor must return false")
	}
	if m.Status().IsRunning {
		t.Error("status still running after Stop")
	}
}

func TestMonitorRestartAfterStop(t *testing.T) {
	m, _ := newTestMonitor(t, &fakeMail{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Bind(ctx)

	m.Start()
	m.Stop()
	if !m.Start() {
		t.Error("monitor cannot be restarted after Stop")
	}

	// The restarted loop must pick up interval changes; a leftover
	// goroutine from the first start must not consume the signal.
	if err := m.UpdateInterval(2); err != nil {
		t.Fatalf("UpdateInterval after restart: %v", err)
	}
	if !m.Status().IsRunning {
		t.Error("monitor not running after restart + interval change")
	}
	if got := m.Status().IntervalSeconds; got != 2 {
		t.Errorf("interval = %ds, want 2", got)
	}
	m.Stop()
}

func TestMonitorUpdateInterval(t *testing.T) {
	m, _ := newTestMonitor(t, &fakeMail{})

	if err := m.UpdateInterval(0); err == nil {
		t.Error("UpdateInterval accepted zero seconds")
	}
	if err := m.UpdateInterval(-5); err == nil {
		t.Error("UpdateInterval accepted negative seconds")
	}
	if err := m.UpdateInterval(30); err != nil {
		t.Fatalf("UpdateInterval: %v", err)
	}
	if got := m.Status().IntervalSeconds; got != 30 {
		t.Errorf("interval = %ds, want 30", got)
	}

	// Changing the interval while running keeps the loop alive.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Bind(ctx)
	m.Start()
	if err := m.UpdateInterval(5); err != nil {
		t.Fatalf("UpdateInterval while running: %v", err)
	}
	if !m.Status().IsRunning {
		t.Error("monitor stopped by interval change")
	}
	m.Stop()
}

func TestMonitorPollProcessesUnread(t *testing.T) {
	mailer := &fakeMail{
		unread: []mail.RawMessage{
			{
				ID:       "u1",
				ThreadID: "t1",
				From:     "volunteer@example.com",
				Subject:  "Garden Day",
				Text:     "Yes, I want to volunteer!",
			},
			{
				ID:       "u2",
				ThreadID: "t2",
				From:     "neighbor@example.com",
				Subject:  "Garden Day",
				Text:     "When does it start?",
			},
		},
	}
	m, _ := newTestMonitor(t, mailer)

	m.poll(context.Background())

	if mailer.replies != 2 {
		t.Errorf("replies = %d, want 2", mailer.replies)
	}
	if got := mailer.readCount(); got != 2 {
		t.Errorf("marked read %d messages, want 2", got)
	}
	if m.Status().LastCheckTime == "" {
		t.Error("last check time not recorded")
	}
}

func TestMonitorSkipsLedgeredMessages(t *testing.T) {
	mailer := &fakeMail{
		unread: []mail.RawMessage{
			{ID: "seen-1", ThreadID: "t1", From: "a@x.com", Text: "Yes!"},
		},
	}
	m, ledg := newTestMonitor(t, mailer)

	// Already handled via the webhook path.
	if _, err := ledg.Mark("seen-1"); err != nil {
		t.Fatalf("Mark: %v", err)
	}

	m.poll(context.Background())

	if mailer.replies != 0 || mailer.sends != 0 {
		t.Error("ledgered message must not be reprocessed")
	}
	if got := mailer.readCount(); got != 1 {
		t.Errorf("ledgered message not marked read, read count = %d", got)
	}
}

func TestMonitorPollErrorPublishes(t *testing.T) {
	mailer := &fakeMail{listErr: &mail.ProviderError{Kind: mail.KindUnavailable, Message: "down"}}
	m, _ := newTestMonitor(t, mailer)

	m.poll(context.Background())

	// Poll failure still counts as a check and raises an error event.
	if m.Status().LastCheckTime == "" {
		t.Error("failed poll did not record a check time")
	}
	found := false
	for _, e := range m.events.Recent(5) {
		if e.Type == bus.EventError {
			found = true
		}
	}
	if !found {
		t.Error("poll failure not published as error event")
	}
}
