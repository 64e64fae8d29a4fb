package domain

import (
	"fmt"
	"time"
)

// DailyPlan is the committed distribution of one day's send volume across
// domains, senders, hours, and minutes. Created once per day, immutable
// except for being superseded wholesale by plan regeneration.
type DailyPlan struct {
	Day         int          `json:"day"`
	Date        string       `json:"date"` // UTC day, 2006-01-02
	TotalEmails int          `json:"total_emails"`
	Domains     []DomainPlan `json:"domains"`
	GeneratedAt time.Time    `json:"generated_at"`
}

// DomainPlan is one sending domain's share of the day.
type DomainPlan struct {
	Domain      string       `json:"domain"`
	TotalEmails int          `json:"total_emails"`
	Senders     []SenderPlan `json:"senders"`
}

// SenderPlan is one sender's share of its domain's volume.
type SenderPlan struct {
	Email       string     `json:"email"`
	TotalEmails int        `json:"total_emails"`
	Hours       []HourPlan `json:"hours"`
}

// HourPlan is one hour's share for a sender, split across 60 minutes.
type HourPlan struct {
	Hour    int     `json:"hour"`
	Count   int     `json:"count"`
	Minutes [60]int `json:"minutes"`
}

// Leaf is the smallest plan unit: a (domain, sender, hour, minute) bucket
// with a send count. Leaves are the unit of dispatch and of idempotency.
type Leaf struct {
	Domain string
	Sender string
	Hour   int
	Minute int
	Count  int
}

// Leaves returns all non-zero leaves, grouped by domain, then sender, then
// hour, then ascending minute. Dispatching callers re-sort by clock time.
func (p *DailyPlan) Leaves() []Leaf {
	var out []Leaf
	for _, d := range p.Domains {
		for _, s := range d.Senders {
			for _, h := range s.Hours {
				for m := 0; m < 60; m++ {
					if h.Minutes[m] > 0 {
						out = append(out, Leaf{
							Domain: d.Domain,
							Sender: s.Email,
							Hour:   h.Hour,
							Minute: m,
							Count:  h.Minutes[m],
						})
					}
				}
			}
		}
	}
	return out
}

// LastNonEmptyHour returns the latest hour with a non-zero count across all
// senders, or -1 for an empty plan.
func (p *DailyPlan) LastNonEmptyHour() int {
	last := -1
	for _, d := range p.Domains {
		for _, s := range d.Senders {
			for _, h := range s.Hours {
				if h.Count > 0 && h.Hour > last {
					last = h.Hour
				}
			}
		}
	}
	return last
}

// Validate checks every sum invariant of the plan tree:
// sum(minutes) == hour count, sum(hours) == sender total,
// sum(senders) == domain total, sum(domains) == plan total.
func (p *DailyPlan) Validate() error {
	if p.Day < 1 {
		return fmt.Errorf("plan day must be >= 1, got %d", p.Day)
	}
	domainSum := 0
	for _, d := range p.Domains {
		senderSum := 0
		for _, s := range d.Senders {
			hourSum := 0
			for _, h := range s.Hours {
				if h.Hour < 0 || h.Hour > 23 {
					return fmt.Errorf("sender %s: hour %d out of range", s.Email, h.Hour)
				}
				minuteSum := 0
				for m, c := range h.Minutes {
					if c < 0 {
						return fmt.Errorf("sender %s hour %d minute %d: negative count", s.Email, h.Hour, m)
					}
					minuteSum += c
				}
				if minuteSum != h.Count {
					return fmt.Errorf("sender %s hour %d: minutes sum %d != count %d", s.Email, h.Hour, minuteSum, h.Count)
				}
				hourSum += h.Count
			}
			if hourSum != s.TotalEmails {
				return fmt.Errorf("sender %s: hours sum %d != total %d", s.Email, hourSum, s.TotalEmails)
			}
			senderSum += s.TotalEmails
		}
		if senderSum != d.TotalEmails {
			return fmt.Errorf("domain %s: senders sum %d != total %d", d.Domain, senderSum, d.TotalEmails)
		}
		domainSum += d.TotalEmails
	}
	if domainSum != p.TotalEmails {
		return fmt.Errorf("domains sum %d != plan total %d", domainSum, p.TotalEmails)
	}
	return nil
}
