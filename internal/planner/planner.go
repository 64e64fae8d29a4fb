// Package planner builds the day's distribution tree: day total → domains →
// senders → hours → minutes, using the rate model at every level.
//
// Plan generation is all-or-nothing: any infeasibility is returned as an
// error before anything is persisted, and the campaign stays in its prior
// status.
package planner

import (
	"errors"
	"fmt"
	"time"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/ratemodel"
)

var (
	// ErrListExhausted means no recipients remain and warmup is disabled.
	// Not a failure: the caller transitions the campaign toward completion
	// instead of committing an empty plan.
	ErrListExhausted = errors.New("recipient list exhausted")

	// ErrNoActiveSenders means a domain received volume but has no active
	// sender to carry it.
	ErrNoActiveSenders = errors.New("domain has no active senders")

	// ErrNoDomains means the config carries no sending domains at all.
	ErrNoDomains = errors.New("no sending domains configured")
)

// PlanDay produces the distribution tree for day N.
//
// total = min(baseDailyTotal, availableRecipients), except under warmup
// where the list is cyclic and total is always baseDailyTotal.
func PlanDay(campaignID string, cfg domain.CampaignConfig, day int, date time.Time, availableRecipients int) (*domain.DailyPlan, error) {
	if day < 1 {
		return nil, fmt.Errorf("plan day must be >= 1, got %d", day)
	}
	if len(cfg.Domains) == 0 {
		return nil, ErrNoDomains
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid campaign config: %w", err)
	}

	total := cfg.BaseDailyTotal
	if !cfg.Warmup.Enabled {
		if availableRecipients <= 0 {
			return nil, ErrListExhausted
		}
		if availableRecipients < total {
			total = availableRecipients
		}
	} else if availableRecipients <= 0 {
		// Warmup cycles the list, but an empty list cannot cycle.
		return nil, ErrListExhausted
	}

	maxPct := float64(cfg.MaxEmailPercentage)
	intensity := cfg.RandomizationIntensity

	domainWeights := make([]float64, len(cfg.Domains))
	for i, d := range cfg.Domains {
		domainWeights[i] = d.Weight
	}
	domainTotals, err := ratemodel.Distribute(total, domainWeights, maxPct, intensity,
		ratemodel.Seed(campaignID, day, "domains"))
	if err != nil {
		return nil, fmt.Errorf("domain split: %w", err)
	}

	plan := &domain.DailyPlan{
		Day:         day,
		Date:        date.UTC().Format("2006-01-02"),
		TotalEmails: total,
		GeneratedAt: time.Now().UTC(),
	}

	for i, dc := range cfg.Domains {
		dp, err := planDomain(campaignID, cfg, day, dc.Domain, domainTotals[i])
		if err != nil {
			return nil, err
		}
		plan.Domains = append(plan.Domains, *dp)
	}

	if err := plan.Validate(); err != nil {
		return nil, fmt.Errorf("generated plan failed invariants: %w", err)
	}
	return plan, nil
}

func planDomain(campaignID string, cfg domain.CampaignConfig, day int, domainName string, total int) (*domain.DomainPlan, error) {
	senders := cfg.ActiveSenders(domainName)
	if len(senders) == 0 {
		if total > 0 {
			return nil, fmt.Errorf("%w: %s", ErrNoActiveSenders, domainName)
		}
		return &domain.DomainPlan{Domain: domainName}, nil
	}

	maxPct := float64(cfg.MaxEmailPercentage)
	senderTotals, err := ratemodel.Distribute(total, ratemodel.EqualWeights(len(senders)),
		maxPct, cfg.RandomizationIntensity,
		ratemodel.Seed(campaignID, day, "senders:"+domainName))
	if err != nil {
		return nil, fmt.Errorf("sender split for %s: %w", domainName, err)
	}

	dp := &domain.DomainPlan{Domain: domainName, TotalEmails: total}
	for i, s := range senders {
		sp, err := planSender(campaignID, cfg, day, s.Email, senderTotals[i])
		if err != nil {
			return nil, err
		}
		dp.Senders = append(dp.Senders, *sp)
	}
	return dp, nil
}

func planSender(campaignID string, cfg domain.CampaignConfig, day int, senderEmail string, total int) (*domain.SenderPlan, error) {
	hourWeights := cfg.HourWeights
	if len(hourWeights) != 24 {
		hourWeights = ratemodel.EqualWeights(24)
	}
	hourCounts, err := ratemodel.Distribute(total, hourWeights,
		float64(cfg.MaxEmailPercentage), cfg.RandomizationIntensity,
		ratemodel.Seed(campaignID, day, "hours:"+senderEmail))
	if err != nil {
		return nil, fmt.Errorf("hour split for %s: %w", senderEmail, err)
	}

	sp := &domain.SenderPlan{Email: senderEmail, TotalEmails: total}
	for hour := 0; hour < 24; hour++ {
		hp, err := planHour(campaignID, cfg, day, senderEmail, hour, hourCounts[hour])
		if err != nil {
			return nil, err
		}
		sp.Hours = append(sp.Hours, *hp)
	}
	return sp, nil
}

func planHour(campaignID string, cfg domain.CampaignConfig, day int, senderEmail string, hour, count int) (*domain.HourPlan, error) {
	// Minutes get elevated jitter so sends never land on an exact-interval
	// signature, and an effective cap of 100%: a per-minute share cap would
	// make nearly every real config infeasible across 60 buckets.
	minuteIntensity := cfg.RandomizationIntensity * 1.5
	if minuteIntensity > 1 {
		minuteIntensity = 1
	}
	minuteCounts, err := ratemodel.Distribute(count, ratemodel.EqualWeights(60),
		100, minuteIntensity,
		ratemodel.Seed(campaignID, day, fmt.Sprintf("minutes:%s:%d", senderEmail, hour)))
	if err != nil {
		return nil, fmt.Errorf("minute split for %s hour %d: %w", senderEmail, hour, err)
	}

	hp := &domain.HourPlan{Hour: hour, Count: count}
	copy(hp.Minutes[:], minuteCounts)
	return hp, nil
}
