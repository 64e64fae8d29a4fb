// Package reconciler ingests delivery-provider events and folds them into
// campaign progress counters exactly once.
//
// The flow per event: normalize the type, insert the event row gated by its
// dedup key, and only when this call actually inserted the row, bump the
// matching counter. A redelivered webhook loses the insert and touches no
// counter. Malformed events are logged and dropped; the webhook endpoint
// still returns success so providers do not retry them forever.
package reconciler

import (
	"context"
	"fmt"
	"time"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/pkg/logger"
)

// Store is the slice of persistence the reconciler needs.
type Store interface {
	InsertEvent(ctx context.Context, ev *domain.CampaignEvent) (bool, error)
	AddCounter(ctx context.Context, campaignID, column string, delta int64) error
	GetProgress(ctx context.Context, campaignID string) (*domain.Progress, error)
	GetCampaign(ctx context.Context, id string) (*domain.Campaign, error)
	PauseCampaignWithReason(ctx context.Context, id, reason string) error
}

// counterColumns maps event types onto progress columns. Send events are
// audit-only: total_sent was already counted at enqueue time, so counting
// the provider's send echo would double it.
var counterColumns = map[domain.EventType]string{
	domain.EventSend:             "",
	domain.EventDelivery:         "total_delivered",
	domain.EventOpen:             "total_opened",
	domain.EventClick:            "total_clicked",
	domain.EventBounce:           "total_bounced",
	domain.EventComplaint:        "total_unsubscribed",
	domain.EventReject:           "total_failed",
	domain.EventRenderingFailure: "total_failed",
}

// RawEvent is a provider event after transport-level decoding but before
// normalization.
type RawEvent struct {
	CampaignID string
	MessageID  string
	Type       string
	Timestamp  time.Time
	Recipient  string
	Details    string
	Link       string
}

// Reconciler folds events into progress and trips the bounce breaker.
type Reconciler struct {
	store Store
	log   *logger.Logger

	// bounceRateCritical pauses a running campaign when exceeded; the
	// minSent floor keeps a handful of early bounces from tripping it.
	bounceRateCritical float64
	minSentForBreaker  int64
}

// New creates a reconciler. A zero bounceRateCritical disables the breaker.
func New(store Store, bounceRateCritical float64, minSentForBreaker int64) *Reconciler {
	return &Reconciler{
		store:              store,
		log:                logger.With("reconciler"),
		bounceRateCritical: bounceRateCritical,
		minSentForBreaker:  minSentForBreaker,
	}
}

// Ingest processes one provider event. Returns an error only on storage
// failure; malformed events are dropped with a log line.
func (r *Reconciler) Ingest(ctx context.Context, raw RawEvent) error {
	if raw.CampaignID == "" || raw.MessageID == "" {
		r.log.Warn("dropping event without identifiers", "type", raw.Type)
		return nil
	}
	et, err := domain.ParseEventType(raw.Type)
	if err != nil {
		r.log.Warn("dropping unparseable event", "campaign_id", raw.CampaignID, "type", raw.Type)
		return nil
	}

	ts := raw.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	ev := &domain.CampaignEvent{
		CampaignID: raw.CampaignID,
		MessageID:  raw.MessageID,
		Type:       et,
		Timestamp:  ts,
		Recipient:  raw.Recipient,
		Details:    raw.Details,
		Link:       raw.Link,
		DedupKey:   domain.EventDedupKey(raw.CampaignID, raw.MessageID, et),
	}

	inserted, err := r.store.InsertEvent(ctx, ev)
	if err != nil {
		return err
	}
	if !inserted {
		r.log.Debug("duplicate event ignored", "campaign_id", raw.CampaignID, "message_id", raw.MessageID, "type", et)
		return nil
	}

	column := counterColumns[et]
	if column == "" {
		return nil
	}
	if err := r.store.AddCounter(ctx, raw.CampaignID, column, 1); err != nil {
		return err
	}

	if et == domain.EventBounce {
		return r.checkBounceBreaker(ctx, raw.CampaignID)
	}
	return nil
}

func (r *Reconciler) checkBounceBreaker(ctx context.Context, campaignID string) error {
	if r.bounceRateCritical <= 0 {
		return nil
	}

	p, err := r.store.GetProgress(ctx, campaignID)
	if err != nil {
		return err
	}
	if p.TotalSent < r.minSentForBreaker || p.BounceRate() < r.bounceRateCritical {
		return nil
	}

	c, err := r.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return err
	}
	if c.Status != domain.CampaignRunning {
		return nil
	}

	r.log.Warn("bounce rate breaker tripped, pausing campaign",
		"campaign_id", campaignID,
		"bounce_rate", p.BounceRate(),
		"total_sent", p.TotalSent,
	)
	reason := fmt.Sprintf("bounce rate %.2f%% exceeded %.2f%% after %d sends",
		p.BounceRate()*100, r.bounceRateCritical*100, p.TotalSent)
	return r.store.PauseCampaignWithReason(ctx, campaignID, reason)
}
