// Package store persists campaigns, plans, progress, events, and the
// dispatch log in PostgreSQL. Plans are stored as JSONB documents keyed by
// (campaign_id, day); the dispatch log and events table carry the unique
// constraints the engine's idempotency relies on.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Store provides data access against PostgreSQL.
type Store struct{ db *sql.DB }

// New creates a Postgres-backed store.
func New(db *sql.DB) *Store { return &Store{db: db} }

// DB exposes the underlying handle for advisory locks and health checks.
func (s *Store) DB() *sql.DB { return s.db }

const schema = `
CREATE TABLE IF NOT EXISTS campaigns (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'draft',
	config JSONB NOT NULL,
	error_message TEXT,
	failed_at TIMESTAMPTZ,
	completion_eligible_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS campaign_plans (
	campaign_id TEXT NOT NULL REFERENCES campaigns(id) ON DELETE CASCADE,
	day INTEGER NOT NULL,
	plan JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (campaign_id, day)
);

CREATE TABLE IF NOT EXISTS campaign_progress (
	campaign_id TEXT PRIMARY KEY REFERENCES campaigns(id) ON DELETE CASCADE,
	current_day INTEGER NOT NULL DEFAULT 1,
	current_hour INTEGER NOT NULL DEFAULT 0,
	total_sent BIGINT NOT NULL DEFAULT 0,
	total_delivered BIGINT NOT NULL DEFAULT 0,
	total_failed BIGINT NOT NULL DEFAULT 0,
	total_bounced BIGINT NOT NULL DEFAULT 0,
	total_opened BIGINT NOT NULL DEFAULT 0,
	total_clicked BIGINT NOT NULL DEFAULT 0,
	total_unsubscribed BIGINT NOT NULL DEFAULT 0,
	last_sent_at TIMESTAMPTZ,
	last_day_transition TIMESTAMPTZ,
	started_on_utc_day TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS campaign_events (
	id TEXT PRIMARY KEY,
	campaign_id TEXT NOT NULL,
	message_id TEXT NOT NULL,
	event_type TEXT NOT NULL,
	event_time TIMESTAMPTZ NOT NULL,
	recipient TEXT,
	details TEXT,
	link TEXT,
	dedup_key TEXT NOT NULL UNIQUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_campaign_events_campaign ON campaign_events(campaign_id, event_time);

CREATE TABLE IF NOT EXISTS campaign_dispatch_log (
	campaign_id TEXT NOT NULL,
	day INTEGER NOT NULL,
	domain TEXT NOT NULL,
	sender TEXT NOT NULL,
	hour INTEGER NOT NULL,
	minute INTEGER NOT NULL,
	count INTEGER NOT NULL,
	dispatched_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (campaign_id, day, domain, sender, hour, minute)
);

CREATE TABLE IF NOT EXISTS campaign_recipients (
	id BIGSERIAL PRIMARY KEY,
	campaign_id TEXT NOT NULL,
	email TEXT NOT NULL,
	position BIGINT NOT NULL,
	consumed BOOLEAN NOT NULL DEFAULT FALSE,
	UNIQUE (campaign_id, email)
);
CREATE INDEX IF NOT EXISTS idx_campaign_recipients_cursor ON campaign_recipients(campaign_id, position) WHERE NOT consumed;

CREATE TABLE IF NOT EXISTS campaign_cursors (
	campaign_id TEXT PRIMARY KEY,
	next_position BIGINT NOT NULL DEFAULT 0
);
`

// EnsureSchema creates the engine's tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
