package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/herald-labs/herald/internal/mail"
	"github.com/herald-labs/herald/pkg/bus"
	"github.com/herald-labs/herald/pkg/ledger"
)

// Monitor polls the inbox for unread messages and feeds them through the
// pipeline. One poll runs at a time; the interval can be changed while
// running without losing the loop.
type Monitor struct {
	pipeline *Pipeline
	provider mail.Provider
	ledger   ledger.Ledger
	events   *bus.Bus
	inbox    string
	batch    int

	mu        sync.Mutex
	running   bool
	interval  time.Duration
	lastCheck time.Time
	cancel    context.CancelFunc
	rearm     chan struct{} // signals the loop to pick up a new interval
	parent    context.Context
}

// MonitorStatus is the JSON shape for GET /v1/monitor.
type MonitorStatus struct {
	IsRunning       bool   `json:"isRunning"`
	IntervalSeconds int    `json:"checkInterval"`
	LastCheckTime   string `json:"lastCheckTime,omitempty"`
}

// NewMonitor creates a stopped monitor. Call Start to begin polling.
func NewMonitor(p *Pipeline, provider mail.Provider, l ledger.Ledger, events *bus.Bus, inbox string, interval time.Duration, batch int) *Monitor {
	if interval < time.Second {
		interval = time.Minute
	}
	if batch <= 0 {
		batch = 20
	}
	return &Monitor{
		pipeline: p,
		provider: provider,
		ledger:   l,
		events:   events,
		inbox:    inbox,
		batch:    batch,
		interval: interval,
	}
}

// Bind attaches the parent context used for polling goroutines. Must be
// called before Start.
func (m *Monitor) Bind(ctx context.Context) {
	m.mu.Lock()
	m.parent = ctx
	m.mu.Unlock()
}

// Start launches the polling loop. Returns false when already running or
// when the monitor has no context or mail provider to poll with.
func (m *Monitor) Start() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running || m.parent == nil || m.provider == nil {
		return false
	}

	ctx, cancel := context.WithCancel(m.parent)
	m.cancel = cancel
	// Each loop gets its own rearm channel; a goroutine from a previous
	// start/stop cycle never observes the new one.
	rearm := make(chan struct{}, 1)
	m.rearm = rearm
	m.running = true

	go m.loop(ctx, rearm)
	slog.Info("monitor started", "interval", m.interval, "inbox", m.inbox)
	m.events.Publish(bus.Event{Type: bus.EventStatus, Message: "monitor started"})
	return true
}

// Stop halts the polling loop. Returns whether the monitor was running.
func (m *Monitor) Stop() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return false
	}
	m.cancel()
	m.cancel = nil
	m.running = false

	slog.Info("monitor stopped")
	m.events.Publish(bus.Event{Type: bus.EventStatus, Message: "monitor stopped"})
	return true
}

// UpdateInterval changes the polling interval. When running, the next
// tick is rescheduled immediately; the stopped/running state is kept.
func (m *Monitor) UpdateInterval(seconds int) error {
	if seconds < 1 {
		return fmt.Errorf("interval must be at least 1 second, got %d", seconds)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.interval = time.Duration(seconds) * time.Second

	if m.running {
		select {
		case m.rearm <- struct{}{}:
		default:
		}
	}
	slog.Info("monitor interval updated", "seconds", seconds, "running", m.running)
	return nil
}

// Status reports the current monitor state.
func (m *Monitor) Status() MonitorStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := MonitorStatus{
		IsRunning:       m.running,
		IntervalSeconds: int(m.interval / time.Second),
	}
	if !m.lastCheck.IsZero() {
		st.LastCheckTime = m.lastCheck.Format(time.RFC3339)
	}
	return st
}

func (m *Monitor) loop(ctx context.Context, rearm chan struct{}) {
	// First poll runs immediately so a restart catches up without
	// waiting a full interval.
	m.poll(ctx)

	timer := time.NewTimer(m.currentInterval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-rearm:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(m.currentInterval())
		case <-timer.C:
			m.poll(ctx)
			timer.Reset(m.currentInterval())
		}
	}
}

func (m *Monitor) currentInterval() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.interval
}

// poll fetches unread messages and processes each one. A single bad
// message never aborts the batch.
func (m *Monitor) poll(ctx context.Context) {
	msgs, err := m.provider.ListUnread(ctx, m.inbox, m.batch)
	if err != nil {
		slog.Warn("monitor poll failed", "error", err)
		m.events.Publish(bus.Event{Type: bus.EventError, Message: fmt.Sprintf("inbox poll failed: %v", err)})
		m.touch()
		return
	}

	processed := 0
	for _, raw := range msgs {
		if ctx.Err() != nil {
			return
		}
		if m.ledger.Seen(raw.ID) {
			// Already handled through the webhook path; just clear the
			// unread flag.
			if err := m.provider.MarkRead(ctx, raw.ID); err != nil {
				slog.Warn("mark read", "message", raw.ID, "error", err)
			}
			continue
		}

		_, err := m.pipeline.Process(ctx, Inbound{
			MessageID:  raw.ID,
			ThreadID:   raw.ThreadID,
			Sender:     raw.From,
			Subject:    raw.Subject,
			Content:    raw.Text,
			CampaignID: raw.CampaignID,
			ReceivedAt: raw.ReceivedAt,
		})
		if err != nil {
			slog.Error("monitor pipeline error", "message", raw.ID, "error", err)
			continue
		}
		if err := m.provider.MarkRead(ctx, raw.ID); err != nil {
			slog.Warn("mark read", "message", raw.ID, "error", err)
		}
		processed++
	}

	if processed > 0 {
		slog.Info("monitor poll complete", "unread", len(msgs), "processed", processed)
	}
	m.touch()
}

func (m *Monitor) touch() {
	m.mu.Lock()
	m.lastCheck = time.Now().UTC()
	m.mu.Unlock()
}
