// Package daemon implements the herald daemon — the persistent process
// that receives inbox events, drafts replies, decides whether to send
// them, and keeps conversations moving.
package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/herald-labs/herald/internal/campaign"
	"github.com/herald-labs/herald/internal/dashboard"
	"github.com/herald-labs/herald/internal/decide"
	"github.com/herald-labs/herald/internal/dispatch"
	"github.com/herald-labs/herald/internal/llm"
	"github.com/herald-labs/herald/internal/mail"
	"github.com/herald-labs/herald/internal/notify"
	"github.com/herald-labs/herald/internal/respond"
	"github.com/herald-labs/herald/pkg/bus"
	"github.com/herald-labs/herald/pkg/ledger"
	"github.com/herald-labs/herald/pkg/thread"
)

// Daemon is the main herald process.
type Daemon struct {
	config *Config

	threads    *thread.MemoryStore
	checkpoint *thread.Checkpoint
	ledger     *ledger.SQLiteLedger
	engine     *decide.Engine
	pipeline   *Pipeline
	monitor    *Monitor
	campaigns  campaign.Recorder
	events     *bus.Bus
	notifier   *notify.MatrixNotifier
	mailer     mail.Provider

	startedAt time.Time
	healthy   atomic.Bool
}

// New creates a daemon instance. Mail credentials are mandatory; a
// daemon that cannot reach the Email Provider Service has nothing to do.
func New(cfg *Config) (*Daemon, error) {
	mailer, err := mail.NewRESTClient(cfg.Mail.BaseURL, cfg.Mail.APIKey)
	if err != nil {
		return nil, fmt.Errorf("mail provider: %w", err)
	}

	d := &Daemon{
		config:    cfg,
		events:    bus.New(),
		mailer:    mailer,
		startedAt: time.Now(),
	}

	// Persistent state — dedup ledger and thread checkpoint share the
	// state directory.
	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	d.ledger, err = ledger.Open(filepath.Join(cfg.StateDir, "ledger.db"))
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	d.checkpoint, err = thread.OpenCheckpoint(filepath.Join(cfg.StateDir, "threads.db"))
	if err != nil {
		return nil, fmt.Errorf("open thread checkpoint: %w", err)
	}
	d.threads, err = thread.NewMemoryStore(d.checkpoint)
	if err != nil {
		return nil, fmt.Errorf("restore threads: %w", err)
	}
	slog.Info("thread store restored", "threads", d.threads.Len(), "ledger_entries", d.ledger.Size())

	// LLM chain — primary first, optional fallback second.
	var providers []llm.Provider
	if p := buildProvider(cfg.LLM.Primary); p != nil {
		providers = append(providers, p)
		slog.Info("LLM provider configured", "tier", "primary", "provider", cfg.LLM.Primary.Provider, "model", cfg.LLM.Primary.Model)
	}
	if p := buildProvider(cfg.LLM.Fallback); p != nil {
		providers = append(providers, p)
		slog.Info("LLM provider configured", "tier", "fallback", "provider", cfg.LLM.Fallback.Provider, "model", cfg.LLM.Fallback.Model)
	}
	if len(providers) == 0 {
		slog.Warn("no LLM providers configured — every reply will use the canned fallback and escalate")
	}
	chain := llm.NewChain(providers...)

	var dash dashboard.Provider = dashboard.Static{}
	if cfg.Dashboard.URL != "" {
		dash = dashboard.NewRESTProvider(cfg.Dashboard.URL)
		slog.Info("dashboard context enabled", "url", cfg.Dashboard.URL)
	}

	generator := respond.New(chain, dash, cfg.LLM.Primary.Model, cfg.LLM.Primary.MaxOutput, cfg.LLM.Primary.Temperature)

	d.engine = decide.New(d.ledger, d.threads, decide.Config{
		MaxRepliesPerHour:    cfg.Limits.MaxRepliesPerHour,
		MinConfidence:        cfg.Limits.MinConfidence,
		PerRecipientInterval: time.Duration(cfg.Limits.PerRecipientMinutes) * time.Minute,
	})

	dispatcher := dispatch.New(mailer, cfg.Inbox)

	// Campaign analytics — Postgres when configured, in-memory otherwise.
	d.campaigns = campaign.NewMemoryRecorder()
	if cfg.Campaign.PostgresURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		rec, err := campaign.NewPostgresRecorder(ctx, cfg.Campaign.PostgresURL)
		if err == nil {
			err = rec.Init(ctx)
		}
		cancel()
		if err != nil {
			slog.Warn("campaign analytics degraded to memory, postgres unavailable", "error", err)
		} else {
			d.campaigns = rec
			slog.Info("campaign analytics using postgres")
		}
	}

	d.pipeline = NewPipeline(d.threads, d.ledger, generator, d.engine, dispatcher, d.events)
	d.monitor = NewMonitor(d.pipeline, mailer, d.ledger, d.events, cfg.Inbox,
		time.Duration(cfg.Monitor.IntervalSeconds)*time.Second, cfg.Monitor.BatchSize)

	if cfg.Notify.Enabled {
		d.notifier = notify.NewMatrix(notify.Config{
			Homeserver: cfg.Notify.Homeserver,
			UserID:     cfg.Notify.UserID,
			Password:   cfg.Notify.Password,
			RoomID:     cfg.Notify.RoomID,
		})
	}

	return d, nil
}

// buildProvider constructs an LLM provider from config, or nil when the
// entry is incomplete.
func buildProvider(cfg ProviderConfig) llm.Provider {
	switch {
	case cfg.Provider == "anthropic" && cfg.APIKey != "":
		return llm.NewAnthropic(cfg.APIKey, cfg.Model)
	case cfg.Provider != "" && cfg.APIKey != "" && cfg.BaseURL != "":
		return llm.NewOpenAICompat(cfg.Provider, cfg.BaseURL, cfg.APIKey, cfg.Model)
	default:
		return nil
	}
}

// Run starts the daemon. Blocks until ctx is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	slog.Info("herald daemon running",
		"name", d.config.Name,
		"inbox", d.config.Inbox,
		"http", d.config.HTTPAddr,
	)

	d.monitor.Bind(ctx)
	if !d.config.Monitor.Disabled {
		d.monitor.Start()
	} else {
		slog.Info("monitor disabled by config, start it via POST /v1/monitor/start")
	}

	if d.notifier != nil {
		go func() {
			if err := d.notifier.Run(ctx, d.events); err != nil {
				slog.Warn("matrix notifier unavailable", "error", err)
			}
		}()
	}

	errCh := make(chan error, 1)
	srv := &http.Server{Addr: d.config.HTTPAddr, Handler: d.routes()}
	go func() {
		slog.Info("API listening", "addr", d.config.HTTPAddr)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	d.healthy.Store(true)

	select {
	case <-ctx.Done():
		slog.Info("context cancelled, shutting down")
	case err := <-errCh:
		if err != nil && ctx.Err() == nil {
			return fmt.Errorf("http server fatal error: %w", err)
		}
	}

	// Graceful shutdown
	d.healthy.Store(false)
	d.monitor.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)

	if err := d.checkpoint.Close(); err != nil {
		slog.Warn("close thread checkpoint", "error", err)
	}
	if err := d.ledger.Close(); err != nil {
		slog.Warn("close ledger", "error", err)
	}
	if rec, ok := d.campaigns.(*campaign.PostgresRecorder); ok {
		rec.Close()
	}

	slog.Info("herald daemon shutting down")
	return nil
}

// routes builds the HTTP API:
//   - GET  /health              — health check
//   - POST /v1/webhook          — provider event intake
//   - GET  /v1/monitor          — monitor status
//   - POST /v1/monitor/start    — start polling
//   - POST /v1/monitor/stop     — stop polling
//   - POST /v1/monitor/restart  — stop then start
//   - POST /v1/monitor/interval — change polling interval
//   - GET  /v1/events           — SSE outcome stream
func (d *Daemon) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", d.handleHealth)
	mux.HandleFunc("/v1/webhook", d.handleWebhook)
	mux.HandleFunc("/v1/monitor", d.handleMonitorStatus)
	mux.HandleFunc("/v1/monitor/start", d.handleMonitorStart)
	mux.HandleFunc("/v1/monitor/stop", d.handleMonitorStop)
	mux.HandleFunc("/v1/monitor/restart", d.handleMonitorRestart)
	mux.HandleFunc("/v1/monitor/interval", d.handleMonitorInterval)
	mux.HandleFunc("/v1/events", d.handleEvents)
	return mux
}

func (d *Daemon) handleHealth(w http.ResponseWriter, r *http.Request) {
	if d.healthy.Load() {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status":"ok","uptime":"%s"}`, time.Since(d.startedAt).Round(time.Second))
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, `{"status":"starting"}`)
	}
}

// monitorStatusResponse extends the monitor state with the decision
// engine's hourly send window.
type monitorStatusResponse struct {
	MonitorStatus
	RepliesThisHour int    `json:"repliesThisHour"`
	WindowStart     string `json:"windowStart,omitempty"`
}

func (d *Daemon) handleMonitorStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		fmt.Fprint(w, `{"error":"method not allowed"}`)
		return
	}

	resp := monitorStatusResponse{MonitorStatus: d.monitor.Status()}
	if d.engine != nil {
		sent, windowStart := d.engine.WindowStatus()
		resp.RepliesThisHour = sent
		if !windowStart.IsZero() {
			resp.WindowStart = windowStart.Format(time.RFC3339)
		}
	}
	json.NewEncoder(w).Encode(resp)
}

func (d *Daemon) handleMonitorStart(w http.ResponseWriter, r *http.Request) {
	d.monitorControl(w, r, func() (bool, string) {
		if d.monitor.Start() {
			return true, "monitor started"
		}
		return false, "monitor already running or not ready"
	})
}

func (d *Daemon) handleMonitorStop(w http.ResponseWriter, r *http.Request) {
	d.monitorControl(w, r, func() (bool, string) {
		if d.monitor.Stop() {
			return true, "monitor stopped"
		}
		return false, "monitor not running"
	})
}

func (d *Daemon) handleMonitorRestart(w http.ResponseWriter, r *http.Request) {
	d.monitorControl(w, r, func() (bool, string) {
		d.monitor.Stop()
		if d.monitor.Start() {
			return true, "monitor restarted"
		}
		return false, "monitor failed to start"
	})
}

func (d *Daemon) handleMonitorInterval(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		fmt.Fprint(w, `{"error":"method not allowed"}`)
		return
	}

	var body struct {
		Seconds int `json:"seconds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		// Allow ?seconds= for curl convenience.
		body.Seconds, _ = strconv.Atoi(r.URL.Query().Get("seconds"))
	}
	if err := d.monitor.UpdateInterval(body.Seconds); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, `{"success":false,"message":%q}`+"\n", err.Error())
		return
	}
	fmt.Fprintf(w, `{"success":true,"message":"interval set to %ds"}`+"\n", body.Seconds)
}

func (d *Daemon) monitorControl(w http.ResponseWriter, r *http.Request, op func() (bool, string)) {
	w.Header().Set("Content-Type", "application/json")
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		fmt.Fprint(w, `{"error":"method not allowed"}`)
		return
	}
	ok, msg := op()
	if !ok {
		w.WriteHeader(http.StatusConflict)
	}
	fmt.Fprintf(w, `{"success":%t,"message":%q}`+"\n", ok, msg)
}

// handleEvents streams bus events as server-sent events. New clients get
// the recent buffer first so a reconnect doesn't lose context.
func (d *Daemon) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Subscribe before replaying the buffer so events published during
	// the replay are not lost to this client.
	events, done := d.events.Subscribe()
	defer d.events.Unsubscribe(done)

	for _, e := range d.events.Recent(50) {
		fmt.Fprintf(w, "data: %s\n\n", e.MarshalEvent())
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", e.MarshalEvent())
			flusher.Flush()
		}
	}
}
