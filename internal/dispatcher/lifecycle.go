package dispatcher

import (
	"context"
	"fmt"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/planner"
)

// StartCampaign transitions draft → running. The first day's plan is
// generated before the status flips, so a campaign that cannot plan never
// starts.
func (e *Engine) StartCampaign(ctx context.Context, id string) error {
	c, err := e.store.GetCampaign(ctx, id)
	if err != nil {
		return err
	}
	if !c.Status.CanTransition(domain.CampaignRunning) {
		return fmt.Errorf("%w: %s -> running", ErrInvalidTransition, c.Status)
	}
	if c.Status == domain.CampaignPaused {
		return e.ResumeCampaign(ctx, id)
	}

	if err := e.store.MarkStarted(ctx, id, e.now().Format("2006-01-02")); err != nil {
		return err
	}
	if c.Config.Warmup.Enabled {
		if err := e.source.SeedCursor(ctx, id, int64(c.Config.Warmup.CursorIndex)); err != nil {
			return err
		}
	}
	if _, err := e.ensurePlan(ctx, c, 1); err != nil {
		return fmt.Errorf("day 1 plan: %w", err)
	}

	if err := e.store.UpdateCampaignStatus(ctx, id, domain.CampaignRunning); err != nil {
		return err
	}
	e.log.Info("campaign started", "campaign_id", id)
	return nil
}

// PauseCampaign transitions running → paused. Queued jobs already in flight
// still drain; only future dispatching stops.
func (e *Engine) PauseCampaign(ctx context.Context, id string) error {
	c, err := e.store.GetCampaign(ctx, id)
	if err != nil {
		return err
	}
	if !c.Status.CanTransition(domain.CampaignPaused) {
		return fmt.Errorf("%w: %s -> paused", ErrInvalidTransition, c.Status)
	}
	if err := e.store.UpdateCampaignStatus(ctx, id, domain.CampaignPaused); err != nil {
		return err
	}
	e.log.Info("campaign paused", "campaign_id", id)
	return nil
}

// ResumeCampaign transitions paused → running. Dispatch resumes from the
// current wall-clock position; leaves whose minutes passed while paused are
// caught up on the next tick.
func (e *Engine) ResumeCampaign(ctx context.Context, id string) error {
	c, err := e.store.GetCampaign(ctx, id)
	if err != nil {
		return err
	}
	if c.Status != domain.CampaignPaused {
		return fmt.Errorf("%w: %s -> running", ErrInvalidTransition, c.Status)
	}
	if err := e.store.UpdateCampaignStatus(ctx, id, domain.CampaignRunning); err != nil {
		return err
	}
	e.log.Info("campaign resumed", "campaign_id", id)
	return nil
}

// RegeneratePlan rebuilds and overwrites the stored plan for one day, used
// after a config change. Deterministic seeding means an unchanged config
// regenerates the identical plan.
func (e *Engine) RegeneratePlan(ctx context.Context, id string, day int) (*domain.DailyPlan, error) {
	c, err := e.store.GetCampaign(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status != domain.CampaignRunning && c.Status != domain.CampaignPaused {
		return nil, fmt.Errorf("%w: cannot regenerate plan while %s", ErrInvalidTransition, c.Status)
	}
	if day <= 0 {
		p, err := e.store.GetProgress(ctx, id)
		if err != nil {
			return nil, err
		}
		day = p.CurrentDay
		if day < 1 {
			day = 1
		}
	}

	available, err := e.source.Available(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("count recipients: %w", err)
	}
	plan, err := planner.PlanDay(id, c.Config, day, e.now(), available)
	if err != nil {
		return nil, err
	}
	if err := e.store.SavePlan(ctx, id, plan); err != nil {
		return nil, err
	}
	e.log.Info("plan regenerated", "campaign_id", id, "day", day)
	return plan, nil
}

// SimulatePlan generates a plan for any day without persisting it.
func (e *Engine) SimulatePlan(ctx context.Context, id string, day int) (*domain.DailyPlan, error) {
	c, err := e.store.GetCampaign(ctx, id)
	if err != nil {
		return nil, err
	}
	available, err := e.source.Available(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("count recipients: %w", err)
	}
	return planner.PlanDay(id, c.Config, day, e.now(), available)
}
