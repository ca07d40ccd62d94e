// Package dashboard reads the event-coordination dashboard's current
// state. The daemon only consumes a snapshot to ground generated replies;
// it never writes back.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// Event is an upcoming event as the dashboard reports it.
type Event struct {
	Name             string `json:"name"`
	Date             string `json:"date"`
	Location         string `json:"location"`
	VolunteersNeeded int    `json:"volunteers_needed"`
}

// Snapshot is the read-only dashboard state passed into reply generation.
type Snapshot struct {
	Events          []Event `json:"events"`
	ActiveCampaigns int     `json:"active_campaigns"`
	TotalVolunteers int     `json:"total_volunteers"`
}

// Provider supplies dashboard snapshots.
type Provider interface {
	Snapshot(ctx context.Context) (*Snapshot, error)
}

// Static is a fixed snapshot, used in tests and when no dashboard is
// configured. A nil snapshot degrades to empty context, not an error.
type Static struct {
	S *Snapshot
}

func (s Static) Snapshot(ctx context.Context) (*Snapshot, error) {
	if s.S == nil {
		return &Snapshot{}, nil
	}
	return s.S, nil
}

// RESTProvider fetches snapshots from the dashboard API, caching briefly
// so every inbound message does not hit the dashboard.
type RESTProvider struct {
	baseURL string
	client  *http.Client

	mu       sync.Mutex
	cached   *Snapshot
	cachedAt time.Time
	ttl      time.Duration
}

// NewRESTProvider creates a dashboard client with a 30s snapshot cache.
func NewRESTProvider(baseURL string) *RESTProvider {
	return &RESTProvider{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
		ttl:     30 * time.Second,
	}
}

func (p *RESTProvider) Snapshot(ctx context.Context) (*Snapshot, error) {
	p.mu.Lock()
	if p.cached != nil && time.Since(p.cachedAt) < p.ttl {
		snap := p.cached
		p.mu.Unlock()
		return snap, nil
	}
	p.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/v1/snapshot", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch snapshot: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("dashboard HTTP %d: %s", resp.StatusCode, string(body))
	}

	var snap Snapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return nil, fmt.Errorf("parse snapshot: %w", err)
	}

	p.mu.Lock()
	p.cached = &snap
	p.cachedAt = time.Now()
	p.mu.Unlock()
	return &snap, nil
}
