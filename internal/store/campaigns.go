package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/campaign-engine/internal/domain"
)

// CreateCampaign inserts a new draft campaign and its zeroed progress row,
// returning the generated ID.
func (s *Store) CreateCampaign(ctx context.Context, name string, cfg domain.CampaignConfig) (string, error) {
	if err := cfg.Validate(); err != nil {
		return "", err
	}
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("marshal config: %w", err)
	}

	id := uuid.New().String()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO campaigns (id, name, status, config)
		VALUES ($1, $2, $3, $4)
	`, id, name, domain.CampaignDraft, cfgJSON); err != nil {
		return "", fmt.Errorf("insert campaign: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO campaign_progress (campaign_id) VALUES ($1)
	`, id); err != nil {
		return "", fmt.Errorf("insert progress: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return id, nil
}

// GetCampaign returns a single campaign. Returns ErrNotFound if it doesn't
// exist.
func (s *Store) GetCampaign(ctx context.Context, id string) (*domain.Campaign, error) {
	c := &domain.Campaign{}
	var cfgJSON []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, status, config, error_message, failed_at,
		       completion_eligible_at, created_at, updated_at
		FROM campaigns
		WHERE id = $1
	`, id).Scan(
		&c.ID, &c.Name, &c.Status, &cfgJSON, &c.ErrorMessage, &c.FailedAt,
		&c.CompletionEligibleAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	if err := json.Unmarshal(cfgJSON, &c.Config); err != nil {
		return nil, fmt.Errorf("unmarshal config for %s: %w", id, err)
	}
	return c, nil
}

// ListCampaignsByStatus returns campaigns in the given status, oldest first
// so long-running campaigns are not starved by new ones.
func (s *Store) ListCampaignsByStatus(ctx context.Context, status domain.CampaignStatus) ([]domain.Campaign, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, status, config, error_message, failed_at,
		       completion_eligible_at, created_at, updated_at
		FROM campaigns
		WHERE status = $1
		ORDER BY created_at ASC
	`, status)
	if err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()

	var out []domain.Campaign
	for rows.Next() {
		var c domain.Campaign
		var cfgJSON []byte
		if err := rows.Scan(
			&c.ID, &c.Name, &c.Status, &cfgJSON, &c.ErrorMessage, &c.FailedAt,
			&c.CompletionEligibleAt, &c.CreatedAt, &c.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan campaign: %w", err)
		}
		if err := json.Unmarshal(cfgJSON, &c.Config); err != nil {
			return nil, fmt.Errorf("unmarshal config for %s: %w", c.ID, err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpdateCampaignStatus sets a campaign's status unconditionally. Transition
// legality is the dispatcher's job; the store just records the outcome.
func (s *Store) UpdateCampaignStatus(ctx context.Context, id string, status domain.CampaignStatus) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE campaigns SET status = $2, updated_at = NOW() WHERE id = $1
	`, id, status)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateCampaignConfig replaces a campaign's configuration document.
func (s *Store) UpdateCampaignConfig(ctx context.Context, id string, cfg domain.CampaignConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE campaigns SET config = $2, updated_at = NOW() WHERE id = $1
	`, id, cfgJSON)
	if err != nil {
		return fmt.Errorf("update config: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// PauseCampaignWithReason transitions to paused and records why, used by the
// bounce circuit breaker.
func (s *Store) PauseCampaignWithReason(ctx context.Context, id, reason string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE campaigns
		SET status = $2, error_message = $3, updated_at = NOW()
		WHERE id = $1
	`, id, domain.CampaignPaused, reason)
	if err != nil {
		return fmt.Errorf("pause with reason: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkCampaignFailed records the diagnostic and transitions to failed in one
// statement.
func (s *Store) MarkCampaignFailed(ctx context.Context, id, reason string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE campaigns
		SET status = $2, error_message = $3, failed_at = NOW(), updated_at = NOW()
		WHERE id = $1
	`, id, domain.CampaignFailed, reason)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetCompletionEligibleAt stamps when the campaign finished dispatching and
// may complete once the grace window elapses. A nil time clears the stamp.
func (s *Store) SetCompletionEligibleAt(ctx context.Context, id string, at *time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE campaigns SET completion_eligible_at = $2, updated_at = NOW() WHERE id = $1
	`, id, at)
	if err != nil {
		return fmt.Errorf("set completion eligible: %w", err)
	}
	return nil
}
