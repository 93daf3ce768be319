package queue

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// receiveErrorDelay is the pause before retrying after a failed receive.
// A persistent error (bad queue URL, missing credentials) would otherwise
// spin the loop, since the long-poll wait only applies to successful calls.
const receiveErrorDelay = 5 * time.Second

// SQSReceiver abstracts the SQS receive/delete operations for testability.
type SQSReceiver interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// DueListener long-polls the due-action queue and invokes a callback for each
// notification, letting the worker claim immediately instead of waiting for
// its next poll tick. Messages are deleted after the callback runs; the
// database remains the source of truth, so double delivery is harmless.
type DueListener struct {
	client     SQSReceiver
	queueURL   string
	errorDelay time.Duration
	logger     *slog.Logger
}

// NewDueListener creates a DueListener for the given queue URL.
func NewDueListener(client SQSReceiver, queueURL string, logger *slog.Logger) *DueListener {
	if logger == nil {
		logger = slog.Default()
	}
	return &DueListener{
		client:     client,
		queueURL:   queueURL,
		errorDelay: receiveErrorDelay,
		logger:     logger,
	}
}

// Run long-polls until the context is cancelled. onDue is called once per
// received notification; its error is logged, not propagated, so one bad
// pass does not stop the listener.
func (l *DueListener) Run(ctx context.Context, onDue func(ctx context.Context) error) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		out, err := l.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(l.queueURL),
			MaxNumberOfMessages: 10,
			WaitTimeSeconds:     20,
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			l.logger.Error("failed to receive due notifications", slog.String("error", err.Error()))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(l.errorDelay):
			}
			continue
		}

		for _, msg := range out.Messages {
			var due DueMessage
			if err := json.Unmarshal([]byte(aws.ToString(msg.Body)), &due); err != nil {
				l.logger.Warn("discarding malformed due notification", slog.String("error", err.Error()))
			} else {
				l.logger.Info("due notification received",
					slog.String("batch_id", due.BatchID),
					slog.Int("action_count", len(due.ActionIDs)),
				)
				if err := onDue(ctx); err != nil {
					l.logger.Error("due notification pass failed", slog.String("error", err.Error()))
				}
			}

			if _, err := l.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
				QueueUrl:      aws.String(l.queueURL),
				ReceiptHandle: msg.ReceiptHandle,
			}); err != nil {
				l.logger.Warn("failed to delete due notification", slog.String("error", err.Error()))
			}
		}
	}
}
