package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ignite/campaign-engine/internal/domain"
)

// SavePlan upserts the plan document for (campaignID, day). Regeneration
// overwrites the existing document atomically so readers never see a
// partial plan.
func (s *Store) SavePlan(ctx context.Context, campaignID string, plan *domain.DailyPlan) error {
	doc, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("marshal plan: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO campaign_plans (campaign_id, day, plan)
		VALUES ($1, $2, $3)
		ON CONFLICT (campaign_id, day) DO UPDATE SET plan = EXCLUDED.plan, created_at = NOW()
	`, campaignID, plan.Day, doc)
	if err != nil {
		return fmt.Errorf("save plan: %w", err)
	}
	return nil
}

// GetPlan returns the stored plan for (campaignID, day). Returns ErrNotFound
// when no plan has been generated for that day.
func (s *Store) GetPlan(ctx context.Context, campaignID string, day int) (*domain.DailyPlan, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT plan FROM campaign_plans WHERE campaign_id = $1 AND day = $2
	`, campaignID, day).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get plan: %w", err)
	}

	var plan domain.DailyPlan
	if err := json.Unmarshal(doc, &plan); err != nil {
		return nil, fmt.Errorf("unmarshal plan for %s day %d: %w", campaignID, day, err)
	}
	return &plan, nil
}

// DeletePlansFrom removes stored plans for the given day onward, used when a
// config change invalidates future days.
func (s *Store) DeletePlansFrom(ctx context.Context, campaignID string, day int) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM campaign_plans WHERE campaign_id = $1 AND day >= $2
	`, campaignID, day)
	if err != nil {
		return fmt.Errorf("delete plans: %w", err)
	}
	return nil
}
