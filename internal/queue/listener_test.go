package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeReceiver scripts one response per ReceiveMessage call and cancels the
// run context once the script is exhausted.
type fakeReceiver struct {
	responses []func() (*sqs.ReceiveMessageOutput, error)
	calls     int
	deleted   []string
	cancel    context.CancelFunc
}

func (f *fakeReceiver) ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	if f.calls >= len(f.responses) {
		f.cancel()
		return nil, context.Canceled
	}
	resp := f.responses[f.calls]
	f.calls++
	return resp()
}

func (f *fakeReceiver) DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.deleted = append(f.deleted, aws.ToString(params.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func dueNotification(t *testing.T, receiptHandle string) sqsTypes.Message {
	t.Helper()
	body, err := json.Marshal(DueMessage{
		BatchID:   "due_test",
		ActionIDs: []string{"act_1", "act_2"},
		SentAt:    time.Now(),
	})
	require.NoError(t, err)
	return sqsTypes.Message{
		Body:          aws.String(string(body)),
		ReceiptHandle: aws.String(receiptHandle),
	}
}

func TestDueListener_Run_InvokesCallbackAndDeletes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fake := &fakeReceiver{cancel: cancel}
	fake.responses = []func() (*sqs.ReceiveMessageOutput, error){
		func() (*sqs.ReceiveMessageOutput, error) {
			return &sqs.ReceiveMessageOutput{
				Messages: []sqsTypes.Message{dueNotification(t, "rh_1")},
			}, nil
		},
	}

	var passes int
	l := NewDueListener(fake, "https://sqs.test/due", nil)
	err := l.Run(ctx, func(ctx context.Context) error {
		passes++
		return nil
	})

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, passes)
	assert.Equal(t, []string{"rh_1"}, fake.deleted)
}

func TestDueListener_Run_MalformedMessageDeletedWithoutCallback(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fake := &fakeReceiver{cancel: cancel}
	fake.responses = []func() (*sqs.ReceiveMessageOutput, error){
		func() (*sqs.ReceiveMessageOutput, error) {
			return &sqs.ReceiveMessageOutput{
				Messages: []sqsTypes.Message{{
					Body:          aws.String("not json"),
					ReceiptHandle: aws.String("rh_bad"),
				}},
			}, nil
		},
	}

	var passes int
	l := NewDueListener(fake, "https://sqs.test/due", nil)
	err := l.Run(ctx, func(ctx context.Context) error {
		passes++
		return nil
	})

	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, passes)
	assert.Equal(t, []string{"rh_bad"}, fake.deleted, "malformed messages are removed so they cannot poison the queue")
}

func TestDueListener_Run_ReceiveErrorBacksOff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fake := &fakeReceiver{cancel: cancel}
	receiveErr := func() (*sqs.ReceiveMessageOutput, error) {
		return nil, errors.New("AccessDenied")
	}
	fake.responses = []func() (*sqs.ReceiveMessageOutput, error){receiveErr, receiveErr}

	l := NewDueListener(fake, "https://sqs.test/due", nil)
	l.errorDelay = 25 * time.Millisecond

	start := time.Now()
	err := l.Run(ctx, func(ctx context.Context) error { return nil })

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, fake.calls)
	// Two failed receives means two back-off pauses before the loop observed
	// cancellation, so a persistent error cannot busy-loop.
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestDueListener_Run_CancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fake := &fakeReceiver{cancel: cancel}
	fake.responses = []func() (*sqs.ReceiveMessageOutput, error){
		func() (*sqs.ReceiveMessageOutput, error) {
			// Cancel while the listener is inside the back-off pause.
			time.AfterFunc(10*time.Millisecond, cancel)
			return nil, errors.New("AccessDenied")
		},
	}

	l := NewDueListener(fake, "https://sqs.test/due", nil)
	l.errorDelay = time.Hour

	err := l.Run(ctx, func(ctx context.Context) error { return nil })

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, fake.calls, "cancellation interrupts the back-off immediately")
}
