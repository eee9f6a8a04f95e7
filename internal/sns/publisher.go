// Package sns publishes reminder run events to an SNS topic so operators can
// alert on failed or unusually small runs.
package sns

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"go.uber.org/zap"

	"github.com/lalithlochan/verdant/internal/reminder"
)

// EventType is set as the event_type message attribute.
const EventType = "reminder_run"

// Run outcomes, set as the outcome message attribute so subscriptions can
// filter on failures.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
)

// API is the subset of the SNS client the publisher uses.
type API interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// RunEvent describes one finished reminder run.
type RunEvent struct {
	RunID        string    `json:"run_id"`
	Trigger      string    `json:"trigger"`
	Outcome      string    `json:"outcome"`
	DueCount     int       `json:"due_count"`
	SentCount    int       `json:"sent_count"`
	UpdatedCount int       `json:"updated_count"`
	Error        string    `json:"error,omitempty"`
	FinishedAt   time.Time `json:"finished_at"`
}

// NewRunEvent builds the event for a run that returned summary and err.
func NewRunEvent(trigger string, summary reminder.Summary, err error, finishedAt time.Time) RunEvent {
	ev := RunEvent{
		RunID:        summary.RunID,
		Trigger:      trigger,
		Outcome:      OutcomeCompleted,
		DueCount:     summary.DueCount,
		SentCount:    summary.SentCount,
		UpdatedCount: summary.UpdatedCount,
		FinishedAt:   finishedAt.UTC(),
	}
	if err != nil {
		ev.Outcome = OutcomeFailed
		ev.Error = err.Error()
	}
	return ev
}

// Publisher handles SNS topic publishing
type Publisher struct {
	client   API
	topicARN string
	logger   *zap.Logger
}

// NewPublisher creates an SNS publisher for the given topic
func NewPublisher(ctx context.Context, region, topicARN string, logger *zap.Logger) (*Publisher, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return NewPublisherWithClient(sns.NewFromConfig(cfg), topicARN, logger), nil
}

// NewPublisherWithClient creates a publisher on an existing client.
func NewPublisherWithClient(client API, topicARN string, logger *zap.Logger) *Publisher {
	return &Publisher{
		client:   client,
		topicARN: topicARN,
		logger:   logger,
	}
}

// PublishRun sends ev to the topic and returns the SNS message ID.
func (p *Publisher) PublishRun(ctx context.Context, ev RunEvent) (string, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return "", fmt.Errorf("failed to marshal run event: %w", err)
	}

	input := &sns.PublishInput{
		TopicArn: aws.String(p.topicARN),
		Subject:  aws.String(fmt.Sprintf("Reminder run %s", ev.Outcome)),
		Message:  aws.String(string(payload)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"event_type": {
				DataType:    aws.String("String"),
				StringValue: aws.String(EventType),
			},
			"outcome": {
				DataType:    aws.String("String"),
				StringValue: aws.String(ev.Outcome),
			},
			"trigger": {
				DataType:    aws.String("String"),
				StringValue: aws.String(ev.Trigger),
			},
		},
	}

	result, err := p.client.Publish(ctx, input)
	if err != nil {
		return "", fmt.Errorf("failed to publish to SNS: %w", err)
	}

	messageID := aws.ToString(result.MessageId)
	p.logger.Debug("run event published",
		zap.String("run_id", ev.RunID),
		zap.String("message_id", messageID),
	)

	return messageID, nil
}
