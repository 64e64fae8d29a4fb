package domain

import "time"

// Progress holds the mutable cumulative counters for a campaign. One row per
// campaign; written only by the dispatcher (sent counter, day/hour state,
// cursor) and the reconciler (delivery counters, status side effects). Every
// counter is monotonically non-decreasing.
type Progress struct {
	CampaignID        string     `json:"campaign_id" db:"campaign_id"`
	CurrentDay        int        `json:"current_day" db:"current_day"`
	CurrentHour       int        `json:"current_hour" db:"current_hour"`
	TotalSent         int64      `json:"total_sent" db:"total_sent"`
	TotalDelivered    int64      `json:"total_delivered" db:"total_delivered"`
	TotalFailed       int64      `json:"total_failed" db:"total_failed"`
	TotalBounced      int64      `json:"total_bounced" db:"total_bounced"`
	TotalOpened       int64      `json:"total_opened" db:"total_opened"`
	TotalClicked      int64      `json:"total_clicked" db:"total_clicked"`
	TotalUnsubscribed int64      `json:"total_unsubscribed" db:"total_unsubscribed"`
	LastSentAt        *time.Time `json:"last_sent_at,omitempty" db:"last_sent_at"`
	LastDayTransition *time.Time `json:"last_day_transition_at,omitempty" db:"last_day_transition_at"`
	StartedOnUTCDay   string     `json:"started_on_utc_day" db:"started_on_utc_day"`
}

// BounceRate returns bounced/sent, or 0 when nothing has been sent.
func (p *Progress) BounceRate() float64 {
	if p.TotalSent == 0 {
		return 0
	}
	return float64(p.TotalBounced) / float64(p.TotalSent)
}
