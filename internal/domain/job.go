package domain

import "time"

// Recipient is one addressable list member.
type Recipient struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// SendJob is one enqueued unit of work: exactly one email for the transport
// worker to deliver. Job processing must be idempotent by MessageID; the
// queue provides at-least-once semantics.
type SendJob struct {
	JobID        string            `json:"job_id"`
	CampaignID   string            `json:"campaign_id"`
	MessageID    string            `json:"message_id"`
	Recipient    Recipient         `json:"recipient"`
	SenderEmail  string            `json:"sender_email"`
	Domain       string            `json:"domain"`
	TemplateName string            `json:"template_name"`
	TemplateData map[string]string `json:"template_data,omitempty"`
	Day          int               `json:"day"`
	Hour         int               `json:"hour"`
	Minute       int               `json:"minute"`
	EnqueuedAt   time.Time         `json:"enqueued_at"`
	Attempt      int               `json:"attempt"`
}
