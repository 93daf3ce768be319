// Package queue provides SQS-based message producers for nudging the worker
// fleet about actions that are due immediately.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"

	"saaskit/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// DueMessage is the body of a due-action notification.
type DueMessage struct {
	BatchID   string    `json:"batch_id"`
	ActionIDs []string  `json:"action_ids"`
	SentAt    time.Time `json:"sent_at"`
}

// ActionTrigger implements scheduler.Notifier over SQS. The message is a
// latency optimization only: workers claim from the database regardless, so
// a lost message delays execution to the next poll instead of dropping work.
type ActionTrigger struct {
	client   SQSSender
	queueURL string
	clock    types.Clock
	logger   *slog.Logger
}

// NewActionTrigger creates a new ActionTrigger for the given queue URL.
func NewActionTrigger(client SQSSender, queueURL string, clock types.Clock, logger *slog.Logger) *ActionTrigger {
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ActionTrigger{
		client:   client,
		queueURL: queueURL,
		clock:    clock,
		logger:   logger,
	}
}

// NotifyDue serializes a DueMessage and dispatches it to the worker queue.
func (t *ActionTrigger) NotifyDue(ctx context.Context, actionIDs []string) error {
	msg := DueMessage{
		BatchID:   fmt.Sprintf("due_%s", uuid.New().String()),
		ActionIDs: actionIDs,
		SentAt:    t.clock.Now(),
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("queue: failed to marshal DueMessage: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(t.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"reason": {
				DataType:    aws.String("String"),
				StringValue: aws.String("action_due"),
			},
		},
	}

	if _, err := t.client.SendMessage(ctx, input); err != nil {
		return types.NewAppError(types.ErrCodeUpstreamQueue,
			fmt.Sprintf("failed to send due notification to %s", t.queueURL), err)
	}

	t.logger.InfoContext(ctx, "due-action notification sent",
		slog.String("queue_url", t.queueURL),
		slog.String("batch_id", msg.BatchID),
		slog.Int("action_count", len(actionIDs)),
	)
	return nil
}
