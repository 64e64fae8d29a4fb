// Package transport delivers rendered emails to a provider. The engine's
// exactly-once accounting happens upstream; a Sender only has to report
// success or failure for one message.
package transport

import (
	"context"
	"time"

	"github.com/ignite/campaign-engine/internal/domain"
)

// Message is one rendered email ready for delivery.
type Message struct {
	MessageID    string
	CampaignID   string
	To           string
	From         string
	Subject      string
	HTMLContent  string
	TextContent  string
	TemplateName string
	TemplateData map[string]string
}

// Result is the provider's answer for one message.
type Result struct {
	Accepted bool
	// ProviderMessageID is the provider-assigned ID events will reference.
	ProviderMessageID string
	SentAt            time.Time
	Err               error
}

// Sender delivers one message. Implementations must be safe for concurrent
// use by the worker pool.
type Sender interface {
	Send(ctx context.Context, msg *Message) (*Result, error)
}

// MessageFromJob converts a queued send job into a transport message.
func MessageFromJob(job *domain.SendJob, subject, html, text string) *Message {
	return &Message{
		MessageID:    job.MessageID,
		CampaignID:   job.CampaignID,
		To:           job.Recipient.Email,
		From:         job.SenderEmail,
		Subject:      subject,
		HTMLContent:  html,
		TextContent:  text,
		TemplateName: job.TemplateName,
		TemplateData: job.TemplateData,
	}
}
