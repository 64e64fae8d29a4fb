package transport

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/campaign-engine/internal/pkg/logger"
)

// LogSender accepts every message and logs it instead of delivering. Used
// for dry runs and local development when no SES credentials are set.
type LogSender struct {
	log *logger.Logger
}

// NewLogSender creates a log-only sender.
func NewLogSender() *LogSender {
	return &LogSender{log: logger.With("logsender")}
}

func (s *LogSender) Send(ctx context.Context, msg *Message) (*Result, error) {
	s.log.Info("dry-run send",
		"campaign_id", msg.CampaignID,
		"message_id", msg.MessageID,
		"recipient", msg.To,
		"from", msg.From,
		"template", msg.TemplateName,
	)
	return &Result{
		Accepted:          true,
		ProviderMessageID: "log-" + uuid.New().String(),
		SentAt:            time.Now().UTC(),
	}, nil
}
