package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vendora/internal/common/config"
	stderrors "vendora/internal/common/errors"
	"vendora/internal/common/logger"
	"vendora/internal/flow"
)

type fakeSES struct {
	inputs []*ses.SendEmailInput
	err    error
}

func (f *fakeSES) SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	f.inputs = append(f.inputs, params)
	if f.err != nil {
		return nil, f.err
	}
	return &ses.SendEmailOutput{}, nil
}

type fakeSNS struct {
	inputs []*sns.PublishInput
	err    error
}

func (f *fakeSNS) Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
	f.inputs = append(f.inputs, params)
	if f.err != nil {
		return nil, f.err
	}
	return &sns.PublishOutput{}, nil
}

func notifyConfig() config.NotificationConfig {
	var cfg config.NotificationConfig
	cfg.Email.Enabled = true
	cfg.Email.FromEmail = "insights@vendora.example"
	cfg.SMS.Enabled = true
	cfg.SMS.AlertTo = "+15550001111"
	return cfg
}

func expectContactLookup(mock sqlmock.Sqlmock, dealershipID, email string) {
	mock.ExpectQuery(`SELECT contact_email FROM dealerships WHERE dealership_id = \$1`).
		WithArgs(dealershipID).
		WillReturnRows(sqlmock.NewRows([]string{"contact_email"}).AddRow(email))
}

func deliveredTask(complexity flow.Complexity) (*flow.AnalyticalTask, *flow.Response) {
	task := &flow.AnalyticalTask{
		ID:           "TASK-aabb0011",
		DealershipID: "dealer_1",
		Complexity:   complexity,
		State:        flow.StateDelivered,
	}
	resp := &flow.Response{
		TaskID:          task.ID,
		Summary:         "Inventory aging is above target on used trucks.",
		ConfidenceLabel: "High",
	}
	return task, resp
}

func TestNotifyDeliveredSendsEmail(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	expectContactLookup(mock, "dealer_1", "gm@dealer.example")

	sesClient := &fakeSES{}
	snsClient := &fakeSNS{}
	n := newNotifier(notifyConfig(), db, sesClient, snsClient, logger.NewTestLogger(t))

	task, resp := deliveredTask(flow.ComplexityStandard)
	require.NoError(t, n.NotifyDelivered(context.Background(), task, resp))

	require.Len(t, sesClient.inputs, 1)
	input := sesClient.inputs[0]
	assert.Equal(t, []string{"gm@dealer.example"}, input.Destination.ToAddresses)
	assert.Equal(t, "insights@vendora.example", *input.Source)
	assert.Contains(t, *input.Message.Subject.Data, "TASK-aabb0011")
	assert.Contains(t, *input.Message.Body.Text.Data, "Inventory aging")
	assert.Empty(t, snsClient.inputs, "standard insights do not page anyone")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNotifyDeliveredCriticalAlsoAlerts(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	expectContactLookup(mock, "dealer_1", "gm@dealer.example")

	sesClient := &fakeSES{}
	snsClient := &fakeSNS{}
	n := newNotifier(notifyConfig(), db, sesClient, snsClient, logger.NewTestLogger(t))

	task, resp := deliveredTask(flow.ComplexityCritical)
	require.NoError(t, n.NotifyDelivered(context.Background(), task, resp))

	require.Len(t, snsClient.inputs, 1)
	assert.Equal(t, "+15550001111", *snsClient.inputs[0].PhoneNumber)
	assert.Contains(t, *snsClient.inputs[0].Message, "CRITICAL")
	assert.Contains(t, *snsClient.inputs[0].Message, "dealer_1")
}

func TestNotifyDeliveredNoContactSkipsEmail(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectQuery(`SELECT contact_email FROM dealerships`).
		WithArgs("dealer_1").
		WillReturnError(errors.New("sql: no rows in result set"))

	sesClient := &fakeSES{}
	n := newNotifier(notifyConfig(), db, sesClient, &fakeSNS{}, logger.NewTestLogger(t))

	task, resp := deliveredTask(flow.ComplexityStandard)
	require.NoError(t, n.NotifyDelivered(context.Background(), task, resp))
	assert.Empty(t, sesClient.inputs)
}

func TestNotifyDeliveredEmailFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	expectContactLookup(mock, "dealer_1", "gm@dealer.example")

	sesClient := &fakeSES{err: errors.New("throttled")}
	n := newNotifier(notifyConfig(), db, sesClient, &fakeSNS{}, logger.NewTestLogger(t))

	task, resp := deliveredTask(flow.ComplexityStandard)
	err = n.NotifyDelivered(context.Background(), task, resp)

	require.Error(t, err)
	stdErr, ok := stderrors.AsStandardError(err)
	require.True(t, ok)
	assert.Equal(t, stderrors.ErrCodeNotificationSendFailed, stdErr.Code)
	assert.True(t, stdErr.Retryable)
}

func TestNotifyDeliveredDisabledChannels(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	var cfg config.NotificationConfig
	sesClient := &fakeSES{}
	snsClient := &fakeSNS{}
	n := newNotifier(cfg, db, sesClient, snsClient, logger.NewTestLogger(t))

	task, resp := deliveredTask(flow.ComplexityCritical)
	require.NoError(t, n.NotifyDelivered(context.Background(), task, resp))
	assert.Empty(t, sesClient.inputs)
	assert.Empty(t, snsClient.inputs)
}

func TestRenderScrubsUnresolvedPlaceholders(t *testing.T) {
	out := render("Hello {{name}}, task {{taskId}} is done.", map[string]string{"name": "Pat"})
	assert.Equal(t, "Hello Pat, task  is done.", out)
}
