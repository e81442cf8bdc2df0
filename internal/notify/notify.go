// Package notify announces settled workflow runs over email and SMS.
// Delivery is best-effort; a failed notification never affects the run.
package notify

import (
	"context"
	"fmt"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	sestypes "github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"

	"valueprop-client/internal/common/config"
	"valueprop-client/internal/common/logger"
	"valueprop-client/internal/models"
	"valueprop-client/internal/workflow/classify"
)

// Interfaces for mocking; satisfied by the thin clients in common/aws.
type SESService interface {
	SendEmail(ctx context.Context, input *ses.SendEmailInput) (*ses.SendEmailOutput, error)
}

type SNSService interface {
	Publish(ctx context.Context, input *sns.PublishInput) (*sns.PublishOutput, error)
}

type Notifier struct {
	cfg config.NotificationConfig
	log logger.Logger
	ses SESService
	sns SNSService
}

func New(cfg config.NotificationConfig, sesClient SESService, snsClient SNSService, log logger.Logger) *Notifier {
	return &Notifier{cfg: cfg, log: log, ses: sesClient, sns: snsClient}
}

// NotifyOutcome sends the configured channels. Email carries every
// outcome; SMS is reserved for failures that need a human soon.
func (n *Notifier) NotifyOutcome(ctx context.Context, runCfg models.RunConfig, outcome *classify.Outcome) error {
	subject, body := compose(runCfg, outcome)

	var firstErr error
	if n.cfg.Email.Enabled && n.ses != nil {
		if err := n.sendEmail(ctx, subject, body); err != nil {
			n.log.Error("email send failed", map[string]interface{}{
				"error": err,
				"to":    n.cfg.Email.ToEmail,
			})
			firstErr = err
		}
	}

	if n.cfg.SMS.Enabled && n.sns != nil && outcome.Kind != classify.KindApproved {
		if err := n.sendSMS(ctx, subject); err != nil {
			n.log.Error("SMS send failed", map[string]interface{}{
				"error": err,
				"phone": n.cfg.SMS.PhoneNumber,
			})
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func compose(runCfg models.RunConfig, outcome *classify.Outcome) (subject, body string) {
	provider := string(runCfg.Provider)

	switch outcome.Kind {
	case classify.KindApproved:
		subject = fmt.Sprintf("Value proposition ready (%s)", provider)
		headline := ""
		if outcome.Result != nil && outcome.Result.ValueProposition != nil {
			headline = outcome.Result.ValueProposition.Headline
		}
		body = fmt.Sprintf("The workflow run completed and passed its self-check.\n\nHeadline: %s\nProvider: %s\nRun: %s\n",
			headline, provider, resultID(outcome))
	case classify.KindRejected:
		subject = fmt.Sprintf("Run rejected by self-check (%s)", provider)
		body = fmt.Sprintf("The pipeline rejected its own output.\n\nReason: %s\nProvider: %s\nRun: %s\n",
			outcome.Message, provider, resultID(outcome))
	case classify.KindProviderError:
		subject = fmt.Sprintf("Provider error (%s)", provider)
		body = fmt.Sprintf("The run failed on the provider side.\n\nError: %s\nProvider: %s\n",
			outcome.Message, provider)
	default:
		subject = fmt.Sprintf("Run failed to complete (%s)", provider)
		body = fmt.Sprintf("The run could not reach the workflow service.\n\nDetail: %s\n", outcome.Message)
	}
	return subject, body
}

func resultID(outcome *classify.Outcome) string {
	if outcome.Result != nil {
		return outcome.Result.RunID
	}
	return "n/a"
}

func (n *Notifier) sendEmail(ctx context.Context, subject, body string) error {
	_, err := n.ses.SendEmail(ctx, &ses.SendEmailInput{
		Destination: &sestypes.Destination{
			ToAddresses: []string{n.cfg.Email.ToEmail},
		},
		Message: &sestypes.Message{
			Subject: &sestypes.Content{Data: awssdk.String(subject)},
			Body: &sestypes.Body{
				Text: &sestypes.Content{Data: awssdk.String(body)},
			},
		},
		Source: awssdk.String(n.cfg.Email.FromEmail),
	})
	return err
}

func (n *Notifier) sendSMS(ctx context.Context, message string) error {
	_, err := n.sns.Publish(ctx, &sns.PublishInput{
		PhoneNumber: awssdk.String(n.cfg.SMS.PhoneNumber),
		Message:     awssdk.String(message),
	})
	return err
}
