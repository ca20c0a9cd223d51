// Package notify sends delivery notifications for finished insights:
// email to the dealership contact for every delivered insight, plus an
// SMS alert for critical findings.
package notify

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"

	"vendora/internal/common/config"
	stderrors "vendora/internal/common/errors"
	"vendora/internal/common/logger"
	"vendora/internal/flow"
)

// Notification type keys into the template map.
const (
	TypeInsightDelivered = "insight_delivered"
	TypeCriticalInsight  = "critical_insight"
)

// SESService and SNSService mirror the AWS clients for mocking.
type SESService interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

type SNSService interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

type Notifier struct {
	cfg       config.NotificationConfig
	db        *sql.DB
	sesClient SESService
	snsClient SNSService
	templates map[string]map[string]string
	logger    logger.Logger
}

// NewNotifier builds a notifier backed by the real AWS clients.
func NewNotifier(ctx context.Context, cfg config.NotificationConfig, db *sql.DB, log logger.Logger) (*Notifier, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return newNotifier(cfg, db, ses.NewFromConfig(awsCfg), sns.NewFromConfig(awsCfg), log), nil
}

func newNotifier(cfg config.NotificationConfig, db *sql.DB, sesClient SESService, snsClient SNSService, log logger.Logger) *Notifier {
	return &Notifier{
		cfg:       cfg,
		db:        db,
		sesClient: sesClient,
		snsClient: snsClient,
		templates: defaultTemplates(),
		logger:    log,
	}
}

// DeliveryHook adapts the notifier to the flow manager's hook signature.
func (n *Notifier) DeliveryHook() flow.DeliveryHook {
	return func(ctx context.Context, task *flow.AnalyticalTask, resp *flow.Response) {
		if err := n.NotifyDelivered(ctx, task, resp); err != nil {
			n.logger.Error("Delivery notification failed", map[string]interface{}{
				"taskId": task.ID,
				"error":  err.Error(),
			})
		}
	}
}

// NotifyDelivered emails the dealership contact about the new insight and
// raises an SMS alert when the finding is critical.
func (n *Notifier) NotifyDelivered(ctx context.Context, task *flow.AnalyticalTask, resp *flow.Response) error {
	data := map[string]string{
		"taskId":       task.ID,
		"dealershipId": task.DealershipID,
		"summary":      resp.Summary,
		"confidence":   resp.ConfidenceLabel,
		"complexity":   string(task.Complexity),
	}

	if n.cfg.Email.Enabled {
		email, err := n.contactEmail(ctx, task.DealershipID)
		if err != nil {
			n.logger.Warn("No contact on file, skipping email", map[string]interface{}{
				"dealershipId": task.DealershipID,
			})
		} else if email != "" {
			tmpl := n.templates[TypeInsightDelivered]
			if err := n.sendEmail(ctx, email, render(tmpl["subject"], data), render(tmpl["body"], data)); err != nil {
				return stderrors.NewNotificationSendFailedError("email", err)
			}
		}
	}

	if n.cfg.SMS.Enabled && task.Complexity == flow.ComplexityCritical && n.cfg.SMS.AlertTo != "" {
		tmpl := n.templates[TypeCriticalInsight]
		if err := n.sendSMS(ctx, n.cfg.SMS.AlertTo, render(tmpl["body"], data)); err != nil {
			return stderrors.NewNotificationSendFailedError("sms", err)
		}
	}

	return nil
}

func (n *Notifier) contactEmail(ctx context.Context, dealershipID string) (string, error) {
	var email string
	err := n.db.QueryRowContext(ctx,
		`SELECT contact_email FROM dealerships WHERE dealership_id = $1`, dealershipID).Scan(&email)
	return email, err
}

func (n *Notifier) sendEmail(ctx context.Context, to, subject, body string) error {
	_, err := n.sesClient.SendEmail(ctx, &ses.SendEmailInput{
		Destination: &types.Destination{
			ToAddresses: []string{to},
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(subject)},
			Body: &types.Body{
				Text: &types.Content{Data: aws.String(body)},
				Html: &types.Content{Data: aws.String(body)},
			},
		},
		Source: aws.String(n.cfg.Email.FromEmail),
	})
	return err
}

func (n *Notifier) sendSMS(ctx context.Context, to, message string) error {
	input := &sns.PublishInput{
		PhoneNumber: aws.String(to),
		Message:     aws.String(message),
	}
	if n.cfg.SMS.SenderID != "" {
		input.MessageAttributes = map[string]snstypes.MessageAttributeValue{
			"AWS.SNS.SMS.SenderID": {DataType: aws.String("String"), StringValue: aws.String(n.cfg.SMS.SenderID)},
		}
	}
	_, err := n.snsClient.Publish(ctx, input)
	return err
}

// render substitutes {{key}} placeholders and scrubs any that remain
// unresolved so internal keys never leak into outbound messages.
func render(tmpl string, data map[string]string) string {
	result := tmpl
	for k, v := range data {
		result = strings.ReplaceAll(result, "{{"+k+"}}", v)
	}
	for {
		start := strings.Index(result, "{{")
		if start == -1 {
			break
		}
		end := strings.Index(result[start:], "}}")
		if end == -1 {
			break
		}
		result = result[:start] + result[start+end+2:]
	}
	return result
}

func defaultTemplates() map[string]map[string]string {
	return map[string]map[string]string{
		TypeInsightDelivered: {
			"subject": "New insight ready: {{taskId}}",
			"body":    "A new analysis is ready for your dealership.\n\n{{summary}}\n\nConfidence: {{confidence}}",
		},
		TypeCriticalInsight: {
			"body": "CRITICAL finding for dealership {{dealershipId}} ({{taskId}}): {{summary}}",
		},
	}
}
