package daemon

import (
	"encoding/json"
	"fmt"
	"os"
)

// Config holds the daemon configuration.
type Config struct {
	// Identity
	Name string `json:"name"` // "herald"

	// HTTP API listen address, e.g. ":8080"
	HTTPAddr string `json:"http_addr"`

	// StateDir holds the ledger and thread checkpoint databases.
	StateDir string `json:"state_dir"`

	// Inbox is the outreach sending identity, e.g. outreach@events.example.
	Inbox string `json:"inbox"`

	// Email Provider Service
	Mail MailConfig `json:"mail"`

	// LLM providers
	LLM LLMConfig `json:"llm"`

	// Coordination dashboard (participant/event context for replies)
	Dashboard DashboardConfig `json:"dashboard"`

	// Campaign analytics
	Campaign CampaignConfig `json:"campaign"`

	// Decision thresholds
	Limits LimitsConfig `json:"limits"`

	// Inbox polling monitor
	Monitor MonitorConfig `json:"monitor"`

	// Matrix escalation alerts
	Notify NotifyConfig `json:"notify"`
}

// MailConfig holds Email Provider Service connection settings.
type MailConfig struct {
	BaseURL string `json:"base_url"` // e.g., https://mail.example.com
	APIKey  string `json:"api_key"`  // can use env var reference: "$MAIL_API_KEY"
}

// LLMConfig holds LLM provider settings.
type LLMConfig struct {
	// Primary provider (Claude)
	Primary ProviderConfig `json:"primary"`
	// Fallback provider — tried when the primary fails
	Fallback ProviderConfig `json:"fallback"`
}

// ProviderConfig holds settings for a single LLM provider.
type ProviderConfig struct {
	Provider    string  `json:"provider"`              // "anthropic" or any OpenAI-compatible name
	Model       string  `json:"model"`                 // e.g., "claude-sonnet-4-5"
	APIKey      string  `json:"api_key"`               // can use env var reference: "$ANTHROPIC_API_KEY"
	BaseURL     string  `json:"base_url,omitempty"`    // required for OpenAI-compatible providers
	MaxOutput   int     `json:"max_output,omitempty"`  // max output tokens per request
	Temperature float64 `json:"temperature,omitempty"` // sampling temperature (0.0-1.0)
}

// DashboardConfig holds coordination dashboard settings.
type DashboardConfig struct {
	URL string `json:"url,omitempty"` // empty disables context enrichment
}

// CampaignConfig holds campaign analytics settings.
type CampaignConfig struct {
	PostgresURL string `json:"postgres_url,omitempty"` // empty keeps analytics in memory
}

// LimitsConfig holds decision engine thresholds.
type LimitsConfig struct {
	MaxRepliesPerHour   int     `json:"max_replies_per_hour,omitempty"`  // default 50
	MinConfidence       float64 `json:"min_confidence,omitempty"`        // default 0 (disabled)
	PerRecipientMinutes int     `json:"per_recipient_minutes,omitempty"` // default 0 (disabled)
}

// MonitorConfig holds inbox polling settings.
type MonitorConfig struct {
	Disabled        bool `json:"disabled,omitempty"`         // don't auto-start the monitor
	IntervalSeconds int  `json:"interval_seconds,omitempty"` // default 60
	BatchSize       int  `json:"batch_size,omitempty"`       // unread messages per poll (default 20)
}

// NotifyConfig holds Matrix escalation alert settings.
type NotifyConfig struct {
	Enabled    bool   `json:"enabled,omitempty"`
	Homeserver string `json:"homeserver,omitempty"` // e.g., https://matrix.example.com
	UserID     string `json:"user_id,omitempty"`    // e.g., @herald:matrix.example.com
	Password   string `json:"password,omitempty"`
	RoomID     string `json:"room_id,omitempty"` // room receiving escalation alerts
}

// LoadConfig reads config from a file path or environment.
// If path is empty, uses defaults suitable for container deployment.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return defaultConfig(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	// Resolve env var references in all $-prefixed values
	cfg.Mail.BaseURL = resolveEnv(cfg.Mail.BaseURL)
	cfg.Mail.APIKey = resolveEnv(cfg.Mail.APIKey)
	cfg.LLM.Primary.APIKey = resolveEnv(cfg.LLM.Primary.APIKey)
	cfg.LLM.Fallback.APIKey = resolveEnv(cfg.LLM.Fallback.APIKey)
	cfg.Dashboard.URL = resolveEnv(cfg.Dashboard.URL)
	cfg.Campaign.PostgresURL = resolveEnv(cfg.Campaign.PostgresURL)
	cfg.Notify.Homeserver = resolveEnv(cfg.Notify.Homeserver)
	cfg.Notify.UserID = resolveEnv(cfg.Notify.UserID)
	cfg.Notify.Password = resolveEnv(cfg.Notify.Password)

	applyDefaults(&cfg)
	return &cfg, nil
}

// resolveEnv replaces $ENV_VAR references with actual values.
func resolveEnv(s string) string {
	if len(s) > 1 && s[0] == '$' {
		if v := os.Getenv(s[1:]); v != "" {
			return v
		}
	}
	return s
}

func applyDefaults(cfg *Config) {
	if cfg.Name == "" {
		cfg.Name = "herald"
	}
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}
	if cfg.StateDir == "" {
		cfg.StateDir = "state"
	}
	if cfg.Monitor.IntervalSeconds <= 0 {
		cfg.Monitor.IntervalSeconds = 60
	}
	if cfg.Monitor.BatchSize <= 0 {
		cfg.Monitor.BatchSize = 20
	}
}

// defaultConfig returns a config using environment variables,
// suitable for the existing Docker Compose setup.
func defaultConfig() *Config {
	cfg := &Config{
		Name:     "herald",
		HTTPAddr: envOr("HERALD_HTTP_ADDR", ":8080"),
		StateDir: envOr("HERALD_STATE_DIR", "state"),
		Inbox:    envOr("HERALD_INBOX", "outreach@events.example"),
		Mail: MailConfig{
			BaseURL: envOr("MAIL_BASE_URL", ""),
			APIKey:  os.Getenv("MAIL_API_KEY"),
		},
		LLM: LLMConfig{
			Primary: ProviderConfig{
				Provider:    "anthropic",
				Model:       "claude-sonnet-4-5",
				APIKey:      os.Getenv("ANTHROPIC_API_KEY"),
				MaxOutput:   512,
				Temperature: 0.7,
			},
			Fallback: ProviderConfig{
				Provider: envOr("LLM_FALLBACK_PROVIDER", ""),
				Model:    envOr("LLM_FALLBACK_MODEL", ""),
				APIKey:   os.Getenv("LLM_FALLBACK_API_KEY"),
				BaseURL:  envOr("LLM_FALLBACK_BASE_URL", ""),
			},
		},
		Dashboard: DashboardConfig{
			URL: envOr("DASHBOARD_URL", ""),
		},
		Campaign: CampaignConfig{
			PostgresURL: envOr("HERALD_PG_URL", ""),
		},
		Notify: NotifyConfig{
			Enabled:    envOr("MATRIX_HOMESERVER", "") != "",
			Homeserver: envOr("MATRIX_HOMESERVER", ""),
			UserID:     envOr("MATRIX_BOT_USER", ""),
			Password:   envOr("MATRIX_BOT_PASSWORD", ""),
			RoomID:     envOr("MATRIX_ALERT_ROOM", ""),
		},
	}
	applyDefaults(cfg)
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
