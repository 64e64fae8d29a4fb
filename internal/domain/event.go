package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// EventType is the closed enumeration of delivery-provider event types.
type EventType string

const (
	EventSend             EventType = "send"
	EventDelivery         EventType = "delivery"
	EventOpen             EventType = "open"
	EventClick            EventType = "click"
	EventBounce           EventType = "bounce"
	EventComplaint        EventType = "complaint"
	EventReject           EventType = "reject"
	EventRenderingFailure EventType = "rendering_failure"
)

// ParseEventType normalizes the type strings providers actually send
// ("Delivered", "spam_report", ...) onto the closed enumeration.
func ParseEventType(raw string) (EventType, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "send", "sent", "injection":
		return EventSend, nil
	case "delivery", "delivered":
		return EventDelivery, nil
	case "open", "opened":
		return EventOpen, nil
	case "click", "clicked":
		return EventClick, nil
	case "bounce", "bounced":
		return EventBounce, nil
	case "complaint", "complained", "spam", "spam_report":
		return EventComplaint, nil
	case "reject", "rejected":
		return EventReject, nil
	case "rendering_failure", "renderingfailure":
		return EventRenderingFailure, nil
	}
	return "", fmt.Errorf("unknown event type %q", raw)
}

// CampaignEvent is one append-only delivery-event record. Never mutated;
// retained indefinitely for analytics. DedupKey makes ingestion exactly-once
// per (campaign, message, event-type).
type CampaignEvent struct {
	ID         string    `json:"id" db:"id"`
	CampaignID string    `json:"campaign_id" db:"campaign_id"`
	MessageID  string    `json:"message_id" db:"message_id"`
	Type       EventType `json:"event_type" db:"event_type"`
	Timestamp  time.Time `json:"timestamp" db:"event_timestamp"`
	Recipient  string    `json:"recipient" db:"recipient"`
	Details    string    `json:"details,omitempty" db:"details"`
	Link       string    `json:"link,omitempty" db:"link"`
	DedupKey   string    `json:"-" db:"dedup_key"`
}

// EventDedupKey derives the exactly-once key for an event. Timestamp is
// deliberately excluded: provider redeliveries carry fresh timestamps but
// must still collapse onto the first-seen event.
func EventDedupKey(campaignID, messageID string, t EventType) string {
	sum := sha256.Sum256([]byte(campaignID + "|" + messageID + "|" + string(t)))
	return hex.EncodeToString(sum[:])
}
