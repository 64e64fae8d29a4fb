package store

import (
	"context"
	"fmt"

	"github.com/ignite/campaign-engine/internal/domain"
)

// ClaimLeaf inserts a dispatch-log row for one plan leaf. The composite
// primary key means exactly one engine instance wins a given leaf; a false
// return means another tick (or a prior crash-interrupted tick) already
// dispatched it.
func (s *Store) ClaimLeaf(ctx context.Context, campaignID string, day int, leaf domain.Leaf) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO campaign_dispatch_log (campaign_id, day, domain, sender, hour, minute, count)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT DO NOTHING
	`, campaignID, day, leaf.Domain, leaf.Sender, leaf.Hour, leaf.Minute, leaf.Count)
	if err != nil {
		return false, fmt.Errorf("claim leaf: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim leaf rows: %w", err)
	}
	return n > 0, nil
}

// CountDispatched returns how many emails the dispatch log records for one
// campaign-day.
func (s *Store) CountDispatched(ctx context.Context, campaignID string, day int) (int, error) {
	var total int
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(count), 0) FROM campaign_dispatch_log
		WHERE campaign_id = $1 AND day = $2
	`, campaignID, day).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("count dispatched: %w", err)
	}
	return total, nil
}
