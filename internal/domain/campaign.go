package domain

import (
	"fmt"
	"time"
)

// CampaignStatus enumerates the lifecycle states of a campaign.
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignRunning   CampaignStatus = "running"
	CampaignPaused    CampaignStatus = "paused"
	CampaignCompleted CampaignStatus = "completed"
	CampaignFailed    CampaignStatus = "failed"
)

// IsTerminal returns true for final states that accept no further transitions.
func (s CampaignStatus) IsTerminal() bool {
	return s == CampaignCompleted || s == CampaignFailed
}

// CanTransition reports whether the status machine allows moving to next.
// draft → running; running → paused/completed/failed; paused → running/failed.
func (s CampaignStatus) CanTransition(next CampaignStatus) bool {
	switch s {
	case CampaignDraft:
		return next == CampaignRunning
	case CampaignRunning:
		return next == CampaignPaused || next == CampaignCompleted || next == CampaignFailed
	case CampaignPaused:
		return next == CampaignRunning || next == CampaignFailed
	default:
		return false
	}
}

// SenderIdentity is one sending address on one sending domain.
type SenderIdentity struct {
	Email  string `json:"email"`
	Domain string `json:"domain"`
	Active bool   `json:"active"`
}

// WarmupMode controls cyclic reuse of a finite recipient list. When enabled,
// the list never exhausts: reads wrap modulo list length starting at
// CursorIndex, which persists across restarts.
type WarmupMode struct {
	Enabled     bool `json:"enabled"`
	CursorIndex int  `json:"cursor_index"`
}

// CampaignConfig is the immutable input to a plan-generation call. Mutating
// it while a campaign runs requires regenerating the current day's plan.
type CampaignConfig struct {
	Domains                []SendingDomainConfig `json:"domains"`
	Senders                []SenderIdentity      `json:"senders"`
	BaseDailyTotal         int                   `json:"base_daily_total"`
	MaxEmailPercentage     int                   `json:"max_email_percentage"`
	RandomizationIntensity float64               `json:"randomization_intensity"`
	QuotaDays              int                   `json:"quota_days"`
	Warmup                 WarmupMode            `json:"warmup"`

	// HourWeights optionally biases the hour-of-day split (len 24). Empty
	// means equal weights. This is the business-hours extension point.
	HourWeights []float64 `json:"hour_weights,omitempty"`

	TemplateName    string `json:"template_name"`
	EmailListSource string `json:"email_list_source"`
}

// SendingDomainConfig is one sending domain in configured (ordered) position.
type SendingDomainConfig struct {
	Domain string  `json:"domain"`
	Weight float64 `json:"weight"` // 0 means equal share
}

// ActiveSenders returns the active senders for the given domain, in
// configured order.
func (c CampaignConfig) ActiveSenders(domain string) []SenderIdentity {
	var out []SenderIdentity
	for _, s := range c.Senders {
		if s.Active && s.Domain == domain {
			out = append(out, s)
		}
	}
	return out
}

// Validate checks structural configuration constraints. Distribution
// feasibility (cap math) is checked by the rate model at plan time.
func (c CampaignConfig) Validate() error {
	if len(c.Domains) == 0 {
		return fmt.Errorf("config has no sending domains")
	}
	if c.BaseDailyTotal < 1 {
		return fmt.Errorf("base_daily_total must be >= 1, got %d", c.BaseDailyTotal)
	}
	if c.MaxEmailPercentage < 1 || c.MaxEmailPercentage > 100 {
		return fmt.Errorf("max_email_percentage must be in [1,100], got %d", c.MaxEmailPercentage)
	}
	if c.RandomizationIntensity < 0 || c.RandomizationIntensity > 1 {
		return fmt.Errorf("randomization_intensity must be in [0,1], got %g", c.RandomizationIntensity)
	}
	if c.QuotaDays < 1 {
		return fmt.Errorf("quota_days must be >= 1, got %d", c.QuotaDays)
	}
	if len(c.HourWeights) != 0 && len(c.HourWeights) != 24 {
		return fmt.Errorf("hour_weights must have 24 entries, got %d", len(c.HourWeights))
	}
	hasActive := false
	for _, d := range c.Domains {
		if len(c.ActiveSenders(d.Domain)) > 0 {
			hasActive = true
			break
		}
	}
	if !hasActive {
		return fmt.Errorf("config has no active senders on any domain")
	}
	return nil
}

// Campaign is one configured bulk-send operation.
type Campaign struct {
	ID           string         `json:"id" db:"id"`
	Name         string         `json:"name" db:"name"`
	Status       CampaignStatus `json:"status" db:"status"`
	Config       CampaignConfig `json:"config" db:"config"`
	ErrorMessage *string        `json:"error_message,omitempty" db:"error_message"`
	FailedAt     *time.Time     `json:"failed_at,omitempty" db:"failed_at"`

	// CompletionEligibleAt is stamped when the final day's plan is fully
	// dispatched; the completion sweep transitions to completed after the
	// grace window elapses.
	CompletionEligibleAt *time.Time `json:"completion_eligible_at,omitempty" db:"completion_eligible_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
