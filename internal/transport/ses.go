package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/ignite/campaign-engine/internal/pkg/logger"
)

// SESSender delivers through Amazon SES using the SDK v2.
type SESSender struct {
	client           *sesv2.Client
	configurationSet string
	log              *logger.Logger
}

// NewSESSender builds the SES client. Static credentials are used when
// provided; otherwise the default AWS credential chain applies.
func NewSESSender(accessKey, secretKey, region, configurationSet string) (*SESSender, error) {
	if region == "" {
		region = "us-west-2"
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if accessKey != "" && secretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")))
	}
	cfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return &SESSender{
		client:           sesv2.NewFromConfig(cfg),
		configurationSet: configurationSet,
		log:              logger.With("ses"),
	}, nil
}

// Send delivers a single email. Provider rejections come back as a failed
// Result rather than an error so the worker can count them without
// retrying hopeless messages.
func (s *SESSender) Send(ctx context.Context, msg *Message) (*Result, error) {
	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(msg.From),
		Destination:      &types.Destination{ToAddresses: []string{msg.To}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(msg.HTMLContent), Charset: aws.String("UTF-8")},
				},
			},
		},
		EmailTags: []types.MessageTag{
			{Name: aws.String("campaign_id"), Value: aws.String(msg.CampaignID)},
			{Name: aws.String("message_id"), Value: aws.String(msg.MessageID)},
		},
	}
	if msg.TextContent != "" {
		input.Content.Simple.Body.Text = &types.Content{Data: aws.String(msg.TextContent), Charset: aws.String("UTF-8")}
	}
	if s.configurationSet != "" {
		input.ConfigurationSetName = aws.String(s.configurationSet)
	}

	out, err := s.client.SendEmail(ctx, input)
	if err != nil {
		s.log.Warn("send failed", "recipient", msg.To, "error", err)
		return &Result{Accepted: false, Err: err}, nil
	}

	providerID := ""
	if out.MessageId != nil {
		providerID = *out.MessageId
	}
	s.log.Debug("sent", "recipient", msg.To, "provider_message_id", providerID)

	return &Result{Accepted: true, ProviderMessageID: providerID, SentAt: time.Now().UTC()}, nil
}
