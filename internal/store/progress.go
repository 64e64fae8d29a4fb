package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ignite/campaign-engine/internal/domain"
)

// GetProgress returns the progress row for a campaign.
func (s *Store) GetProgress(ctx context.Context, campaignID string) (*domain.Progress, error) {
	p := &domain.Progress{}
	err := s.db.QueryRowContext(ctx, `
		SELECT campaign_id, current_day, current_hour,
		       total_sent, total_delivered, total_failed, total_bounced,
		       total_opened, total_clicked, total_unsubscribed,
		       last_sent_at, last_day_transition, started_on_utc_day
		FROM campaign_progress
		WHERE campaign_id = $1
	`, campaignID).Scan(
		&p.CampaignID, &p.CurrentDay, &p.CurrentHour,
		&p.TotalSent, &p.TotalDelivered, &p.TotalFailed, &p.TotalBounced,
		&p.TotalOpened, &p.TotalClicked, &p.TotalUnsubscribed,
		&p.LastSentAt, &p.LastDayTransition, &p.StartedOnUTCDay,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get progress: %w", err)
	}
	return p, nil
}

// MarkStarted records the UTC day a campaign began; day boundaries are
// measured from it.
func (s *Store) MarkStarted(ctx context.Context, campaignID, utcDay string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE campaign_progress
		SET started_on_utc_day = $2, last_day_transition = NOW()
		WHERE campaign_id = $1 AND started_on_utc_day = ''
	`, campaignID, utcDay)
	if err != nil {
		return fmt.Errorf("mark started: %w", err)
	}
	return nil
}

// AdvanceDay moves the campaign to the given plan day and resets the hour.
func (s *Store) AdvanceDay(ctx context.Context, campaignID string, day int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE campaign_progress
		SET current_day = $2, current_hour = 0, last_day_transition = NOW()
		WHERE campaign_id = $1
	`, campaignID, day)
	if err != nil {
		return fmt.Errorf("advance day: %w", err)
	}
	return nil
}

// SetCurrentHour records dispatch position within the day.
func (s *Store) SetCurrentHour(ctx context.Context, campaignID string, hour int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE campaign_progress SET current_hour = $2 WHERE campaign_id = $1
	`, campaignID, hour)
	if err != nil {
		return fmt.Errorf("set current hour: %w", err)
	}
	return nil
}

// IncrementSent adds n to total_sent. Counted once at enqueue time; delivery
// outcomes arrive later through the event counters.
func (s *Store) IncrementSent(ctx context.Context, campaignID string, n int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE campaign_progress
		SET total_sent = total_sent + $2, last_sent_at = NOW()
		WHERE campaign_id = $1
	`, campaignID, n)
	if err != nil {
		return fmt.Errorf("increment sent: %w", err)
	}
	return nil
}

// AddCounter atomically adds delta to one progress counter column. The
// column name comes from a closed map in the reconciler, never from input.
func (s *Store) AddCounter(ctx context.Context, campaignID, column string, delta int64) error {
	switch column {
	case "total_delivered", "total_failed", "total_bounced",
		"total_opened", "total_clicked", "total_unsubscribed":
	default:
		return fmt.Errorf("unknown progress counter %q", column)
	}
	q := fmt.Sprintf(`UPDATE campaign_progress SET %s = %s + $2 WHERE campaign_id = $1`, column, column)
	if _, err := s.db.ExecContext(ctx, q, campaignID, delta); err != nil {
		return fmt.Errorf("add %s: %w", column, err)
	}
	return nil
}
