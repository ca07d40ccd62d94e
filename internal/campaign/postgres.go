package campaign

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRecorder stores campaign analytics in Postgres, shared with the
// dashboard's reporting queries.
type PostgresRecorder struct {
	pool *pgxpool.Pool
}

// NewPostgresRecorder connects to Postgres and verifies the connection.
func NewPostgresRecorder(ctx context.Context, pgURL string) (*PostgresRecorder, error) {
	pool, err := pgxpool.New(ctx, pgURL)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresRecorder{pool: pool}, nil
}

// Init creates the analytics tables if they don't exist.
func (r *PostgresRecorder) Init(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS campaign_opens (
			campaign_id TEXT PRIMARY KEY,
			opens       BIGINT NOT NULL DEFAULT 0,
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return fmt.Errorf("create campaign_opens: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS campaign_replies (
			id          BIGSERIAL PRIMARY KEY,
			campaign_id TEXT NOT NULL,
			contact     TEXT NOT NULL,
			sentiment   TEXT NOT NULL,
			replied_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return fmt.Errorf("create campaign_replies: %w", err)
	}

	_, err = r.pool.Exec(ctx,
		`CREATE INDEX IF NOT EXISTS idx_campaign_replies_campaign ON campaign_replies (campaign_id)`)
	if err != nil {
		return fmt.Errorf("create replies index: %w", err)
	}
	return nil
}

func (r *PostgresRecorder) RecordOpen(ctx context.Context, campaignID string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO campaign_opens (campaign_id, opens) VALUES ($1, 1)
		ON CONFLICT (campaign_id) DO UPDATE SET opens = campaign_opens.opens + 1, updated_at = now()`,
		campaignID)
	if err != nil {
		return fmt.Errorf("record open for %s: %w", campaignID, err)
	}
	return nil
}

func (r *PostgresRecorder) RecordReply(ctx context.Context, campaignID, contact, sentiment string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO campaign_replies (campaign_id, contact, sentiment) VALUES ($1, $2, $3)`,
		campaignID, contact, sentiment)
	if err != nil {
		return fmt.Errorf("record reply for %s: %w", campaignID, err)
	}
	return nil
}

// Close releases the connection pool.
func (r *PostgresRecorder) Close() {
	r.pool.Close()
}
