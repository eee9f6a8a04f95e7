package sns

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"go.uber.org/zap"

	"github.com/lalithlochan/verdant/internal/reminder"
)

type mockAPI struct {
	input *sns.PublishInput
	err   error
}

func (m *mockAPI) Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
	m.input = params
	if m.err != nil {
		return nil, m.err
	}
	return &sns.PublishOutput{MessageId: aws.String("msg-1")}, nil
}

func TestNewRunEvent(t *testing.T) {
	at := time.Date(2026, 3, 14, 9, 0, 0, 0, time.FixedZone("CET", 3600))
	summary := reminder.Summary{RunID: "run-1", DueCount: 5, SentCount: 4, UpdatedCount: 5}

	ev := NewRunEvent("schedule", summary, nil, at)
	if ev.Outcome != OutcomeCompleted || ev.Error != "" {
		t.Errorf("unexpected outcome for successful run: %+v", ev)
	}
	if ev.DueCount != 5 || ev.SentCount != 4 || ev.UpdatedCount != 5 {
		t.Errorf("counts not copied: %+v", ev)
	}
	if ev.FinishedAt.Location() != time.UTC {
		t.Errorf("expected UTC timestamp, got %s", ev.FinishedAt.Location())
	}

	failed := NewRunEvent("sqs", reminder.Summary{RunID: "run-2"}, errors.New("list due plants: timeout"), at)
	if failed.Outcome != OutcomeFailed || failed.Error != "list due plants: timeout" {
		t.Errorf("unexpected failed event: %+v", failed)
	}
}

func TestPublisher_PublishRun(t *testing.T) {
	api := &mockAPI{}
	pub := NewPublisherWithClient(api, "arn:aws:sns:us-east-1:123:reminder-runs", zap.NewNop())

	ev := NewRunEvent("schedule", reminder.Summary{RunID: "run-1", DueCount: 2}, nil, time.Now())
	id, err := pub.PublishRun(context.Background(), ev)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "msg-1" {
		t.Errorf("expected msg-1, got %s", id)
	}

	if got := aws.ToString(api.input.TopicArn); got != "arn:aws:sns:us-east-1:123:reminder-runs" {
		t.Errorf("unexpected topic %s", got)
	}
	if got := aws.ToString(api.input.MessageAttributes["outcome"].StringValue); got != OutcomeCompleted {
		t.Errorf("expected outcome attribute %q, got %q", OutcomeCompleted, got)
	}
	if got := aws.ToString(api.input.MessageAttributes["trigger"].StringValue); got != "schedule" {
		t.Errorf("expected trigger attribute schedule, got %q", got)
	}

	var decoded RunEvent
	if err := json.Unmarshal([]byte(aws.ToString(api.input.Message)), &decoded); err != nil {
		t.Fatalf("message is not a run event: %v", err)
	}
	if decoded.RunID != "run-1" || decoded.DueCount != 2 {
		t.Errorf("unexpected decoded event: %+v", decoded)
	}
}

func TestPublisher_PublishRun_Error(t *testing.T) {
	api := &mockAPI{err: errors.New("throttled")}
	pub := NewPublisherWithClient(api, "arn:aws:sns:us-east-1:123:reminder-runs", zap.NewNop())

	if _, err := pub.PublishRun(context.Background(), RunEvent{RunID: "run-1"}); err == nil {
		t.Fatal("expected error")
	}
}
