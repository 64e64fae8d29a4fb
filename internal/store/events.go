package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/ignite/campaign-engine/internal/domain"
)

// InsertEvent records a provider event. The unique dedup_key constraint
// makes redelivered webhooks no-ops; the return value reports whether this
// call actually inserted the row, which gates the counter update.
func (s *Store) InsertEvent(ctx context.Context, ev *domain.CampaignEvent) (bool, error) {
	id := ev.ID
	if id == "" {
		id = uuid.New().String()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO campaign_events
			(id, campaign_id, message_id, event_type, event_time, recipient, details, link, dedup_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (dedup_key) DO NOTHING
	`, id, ev.CampaignID, ev.MessageID, ev.Type, ev.Timestamp,
		ev.Recipient, ev.Details, ev.Link, ev.DedupKey)
	if err != nil {
		return false, fmt.Errorf("insert event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert event rows: %w", err)
	}
	return n > 0, nil
}

// ListEvents returns the most recent events for a campaign.
func (s *Store) ListEvents(ctx context.Context, campaignID string, limit int) ([]domain.CampaignEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, campaign_id, message_id, event_type, event_time,
		       COALESCE(recipient,''), COALESCE(details,''), COALESCE(link,''), dedup_key
		FROM campaign_events
		WHERE campaign_id = $1
		ORDER BY event_time DESC
		LIMIT $2
	`, campaignID, limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []domain.CampaignEvent
	for rows.Next() {
		var ev domain.CampaignEvent
		if err := rows.Scan(
			&ev.ID, &ev.CampaignID, &ev.MessageID, &ev.Type, &ev.Timestamp,
			&ev.Recipient, &ev.Details, &ev.Link, &ev.DedupKey,
		); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
