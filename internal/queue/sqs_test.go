package queue

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"milestone/internal/types"
)

// fakeSQS captures inputs and returns canned outputs.
type fakeSQS struct {
	sendInputs    []*sqs.SendMessageInput
	receiveInput  *sqs.ReceiveMessageInput
	receiveOutput *sqs.ReceiveMessageOutput
	receiveErr    error
	deleteInputs  []*sqs.DeleteMessageInput
}

func (f *fakeSQS) SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.sendInputs = append(f.sendInputs, params)
	return &sqs.SendMessageOutput{MessageId: aws.String("m-1")}, nil
}

func (f *fakeSQS) ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.receiveInput = params
	if f.receiveErr != nil {
		return nil, f.receiveErr
	}
	if f.receiveOutput == nil {
		return &sqs.ReceiveMessageOutput{}, nil
	}
	return f.receiveOutput, nil
}

func (f *fakeSQS) DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.deleteInputs = append(f.deleteInputs, params)
	return &sqs.DeleteMessageOutput{}, nil
}

type nopLogger struct{}

func (nopLogger) Info(msg string, args ...any)   {}
func (nopLogger) Warn(msg string, args ...any)   {}
func (nopLogger) Error(msg string, args ...any)  {}
func (l nopLogger) With(args ...any) types.Logger { return l }

func newTestQueue(client SQSClient) *SQSQueue {
	return NewSQSQueue(client, "https://sqs.test/jobs", "https://sqs.test/dlq", nopLogger{})
}

func TestSend_PlainBody(t *testing.T) {
	f := &fakeSQS{}
	q := newTestQueue(f)

	env := types.JobEnvelope{
		Type:           types.JobBirthdayNotification,
		SchemaVersion:  types.EnvelopeSchemaVersion,
		IdempotencyKey: "event:evt_1:2026",
	}
	require.NoError(t, q.Send(context.Background(), env, 0))

	require.Len(t, f.sendInputs, 1)
	input := f.sendInputs[0]
	assert.Equal(t, "https://sqs.test/jobs", aws.ToString(input.QueueUrl))
	assert.Equal(t, int32(0), input.DelaySeconds)
	assert.Empty(t, input.MessageAttributes)

	var got types.JobEnvelope
	require.NoError(t, json.Unmarshal([]byte(aws.ToString(input.MessageBody)), &got))
	assert.Equal(t, env.IdempotencyKey, got.IdempotencyKey)
}

func TestSend_DelayClampedToSQSMax(t *testing.T) {
	f := &fakeSQS{}
	q := newTestQueue(f)

	require.NoError(t, q.Send(context.Background(), types.JobEnvelope{Type: types.JobBirthdayNotification}, 2*time.Hour))
	assert.Equal(t, int32(900), f.sendInputs[0].DelaySeconds)
}

func TestSend_OversizedPayloadCompressed(t *testing.T) {
	f := &fakeSQS{}
	q := newTestQueue(f)

	big, err := json.Marshal(strings.Repeat("x", compressThreshold))
	require.NoError(t, err)
	env := types.JobEnvelope{
		Type:    types.JobBirthdayNotification,
		Payload: big,
	}
	require.NoError(t, q.Send(context.Background(), env, 0))

	input := f.sendInputs[0]
	attr, ok := input.MessageAttributes[encodingAttr]
	require.True(t, ok)
	assert.Equal(t, gzipEncoding, aws.ToString(attr.StringValue))

	// Round-trips through the receive path.
	decoded, err := decodeGzipBody([]byte(aws.ToString(input.MessageBody)))
	require.NoError(t, err)
	var got types.JobEnvelope
	require.NoError(t, json.Unmarshal(decoded, &got))
	assert.Equal(t, env.Payload, got.Payload)
}

func TestReceiveBatch_MapsMessagesAndDecompresses(t *testing.T) {
	body, err := json.Marshal(types.JobEnvelope{Type: types.JobAnniversaryNotification})
	require.NoError(t, err)

	compressed, err := gzipBody(body)
	require.NoError(t, err)

	f := &fakeSQS{receiveOutput: &sqs.ReceiveMessageOutput{
		Messages: []sqsTypes.Message{
			{
				MessageId:     aws.String("m-plain"),
				ReceiptHandle: aws.String("rh-1"),
				Body:          aws.String(string(body)),
				Attributes:    map[string]string{"ApproximateReceiveCount": "1"},
			},
			{
				MessageId:     aws.String("m-gz"),
				ReceiptHandle: aws.String("rh-2"),
				Body:          aws.String(base64String(compressed)),
				MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
					encodingAttr: {DataType: aws.String("String"), StringValue: aws.String(gzipEncoding)},
				},
			},
		},
	}}
	q := newTestQueue(f)

	msgs, err := q.ReceiveBatch(context.Background(), 10, 20*time.Second, 60*time.Second)
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	assert.Equal(t, "rh-1", msgs[0].ReceiptHandle)
	assert.Equal(t, "1", msgs[0].Attributes["ApproximateReceiveCount"])
	assert.JSONEq(t, string(body), string(msgs[1].Body))

	assert.Equal(t, int32(10), f.receiveInput.MaxNumberOfMessages)
	assert.Equal(t, int32(20), f.receiveInput.WaitTimeSeconds)
	assert.Equal(t, int32(60), f.receiveInput.VisibilityTimeout)
}

func TestReceiveBatch_CapsMaxMessages(t *testing.T) {
	f := &fakeSQS{}
	q := newTestQueue(f)

	_, err := q.ReceiveBatch(context.Background(), 50, time.Second, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int32(10), f.receiveInput.MaxNumberOfMessages)
}

func TestReceiveBatch_ErrorIsTypedUpstream(t *testing.T) {
	f := &fakeSQS{receiveErr: assert.AnError}
	q := newTestQueue(f)

	_, err := q.ReceiveBatch(context.Background(), 1, time.Second, time.Minute)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrCodeUpstreamQueue))
}

func TestDelete(t *testing.T) {
	f := &fakeSQS{}
	q := newTestQueue(f)

	require.NoError(t, q.Delete(context.Background(), "rh-9"))
	require.Len(t, f.deleteInputs, 1)
	assert.Equal(t, "rh-9", aws.ToString(f.deleteInputs[0].ReceiptHandle))
	assert.Equal(t, "https://sqs.test/jobs", aws.ToString(f.deleteInputs[0].QueueUrl))
}

func TestSendToDeadLetter(t *testing.T) {
	f := &fakeSQS{}
	q := newTestQueue(f)

	require.NoError(t, q.SendToDeadLetter(context.Background(), []byte("junk"), "validation_failure"))
	require.Len(t, f.sendInputs, 1)
	input := f.sendInputs[0]
	assert.Equal(t, "https://sqs.test/dlq", aws.ToString(input.QueueUrl))
	assert.Equal(t, "validation_failure", aws.ToString(input.MessageAttributes["reason"].StringValue))
}

func base64String(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}
