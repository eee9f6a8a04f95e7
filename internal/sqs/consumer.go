// Package sqs turns messages on an SQS queue into reminder runs. The queue is
// typically fed by an EventBridge schedule, but any message triggers a run.
package sqs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"
)

// Config holds SQS configuration.
type Config struct {
	Region   string
	QueueURL string
	// WaitTime is the long-poll duration, at most 20s.
	WaitTime time.Duration
	// VisibilityTimeout must outlast a run, or a slow run gets triggered twice.
	VisibilityTimeout time.Duration
	// ErrorBackoff is how long to pause after a failed receive.
	ErrorBackoff time.Duration
}

// API is the subset of the SQS client the consumer uses.
type API interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessageBatch(ctx context.Context, params *sqs.DeleteMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageBatchOutput, error)
}

// Trigger describes what asked for a run.
type Trigger struct {
	MessageIDs []string
	// Source and ScheduledAt are filled when the body is an EventBridge event.
	Source      string
	ScheduledAt time.Time
}

// HandlerFunc performs one run for a trigger. Returning an error leaves the
// messages on the queue so they are delivered again.
type HandlerFunc func(ctx context.Context, trigger Trigger) error

// Consumer long-polls the trigger queue.
type Consumer struct {
	client API
	config Config
	logger *zap.Logger
}

// NewConsumer creates a new SQS consumer.
func NewConsumer(ctx context.Context, cfg Config, logger *zap.Logger) (*Consumer, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	logger.Info("sqs trigger consumer initialized",
		zap.String("queue_url", cfg.QueueURL),
	)

	return NewConsumerWithClient(sqs.NewFromConfig(awsCfg), cfg, logger), nil
}

// NewConsumerWithClient creates a consumer on an existing client.
func NewConsumerWithClient(client API, cfg Config, logger *zap.Logger) *Consumer {
	if cfg.WaitTime <= 0 || cfg.WaitTime > 20*time.Second {
		cfg.WaitTime = 20 * time.Second
	}
	if cfg.VisibilityTimeout <= 0 {
		cfg.VisibilityTimeout = 15 * time.Minute
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = 5 * time.Second
	}
	return &Consumer{client: client, config: cfg, logger: logger}
}

// Start polls until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context, handle HandlerFunc) {
	for {
		if ctx.Err() != nil {
			c.logger.Info("sqs trigger consumer stopping")
			return
		}

		if err := c.Poll(ctx, handle); err != nil {
			if ctx.Err() != nil {
				continue
			}
			c.logger.Warn("sqs poll failed", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(c.config.ErrorBackoff):
			}
		}
	}
}

// Poll receives one batch. All messages of a batch are served by a single
// run, and are deleted only if that run succeeds.
func (c *Consumer) Poll(ctx context.Context, handle HandlerFunc) error {
	out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.config.QueueURL),
		MaxNumberOfMessages: 10,
		WaitTimeSeconds:     int32(c.config.WaitTime / time.Second),
		VisibilityTimeout:   int32(c.config.VisibilityTimeout / time.Second),
	})
	if err != nil {
		return fmt.Errorf("sqs receive failed: %w", err)
	}
	if len(out.Messages) == 0 {
		return nil
	}

	trigger := c.parse(out.Messages)
	c.logger.Info("run triggered from queue",
		zap.Int("messages", len(out.Messages)),
		zap.String("source", trigger.Source),
	)

	if err := handle(ctx, trigger); err != nil {
		c.logger.Warn("triggered run failed, leaving messages for redelivery",
			zap.Strings("message_ids", trigger.MessageIDs),
			zap.Error(err),
		)
		return nil
	}

	return c.delete(ctx, out.Messages)
}

// parse reads whatever EventBridge details the bodies carry. Bodies that are
// not EventBridge events still count as triggers.
func (c *Consumer) parse(messages []types.Message) Trigger {
	var trigger Trigger
	for _, m := range messages {
		trigger.MessageIDs = append(trigger.MessageIDs, aws.ToString(m.MessageId))

		var ev events.CloudWatchEvent
		if err := json.Unmarshal([]byte(aws.ToString(m.Body)), &ev); err != nil {
			c.logger.Debug("trigger body is not an eventbridge event",
				zap.String("message_id", aws.ToString(m.MessageId)),
			)
			continue
		}
		if ev.Source != "" {
			trigger.Source = ev.Source
		}
		if ev.Time.After(trigger.ScheduledAt) {
			trigger.ScheduledAt = ev.Time
		}
	}
	return trigger
}

func (c *Consumer) delete(ctx context.Context, messages []types.Message) error {
	entries := make([]types.DeleteMessageBatchRequestEntry, len(messages))
	for i, m := range messages {
		entries[i] = types.DeleteMessageBatchRequestEntry{
			Id:            aws.String(fmt.Sprintf("%d", i)),
			ReceiptHandle: m.ReceiptHandle,
		}
	}

	out, err := c.client.DeleteMessageBatch(ctx, &sqs.DeleteMessageBatchInput{
		QueueUrl: aws.String(c.config.QueueURL),
		Entries:  entries,
	})
	if err != nil {
		return fmt.Errorf("sqs delete failed: %w", err)
	}
	if len(out.Failed) > 0 {
		return fmt.Errorf("sqs delete failed for %d of %d messages", len(out.Failed), len(messages))
	}
	return nil
}
