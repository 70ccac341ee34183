// Package queue provides the SQS-backed queue transport for job envelopes.
// It is the only package that knows the envelope travels over SQS; the
// scheduler, recovery scanner, and worker all consume the types.Queue
// interface.
//
// SQS gives the at-least-once and visibility-timeout semantics the core
// relies on: a received message is hidden from other consumers until the
// visibility timeout expires, and messages that exceed the queue's
// max-receive-count are routed to the configured dead-letter queue by SQS
// itself.
package queue

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/klauspost/compress/gzip"

	"milestone/internal/types"
)

// SQSClient abstracts the SQS operations the transport needs, for
// testability. Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSClient interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

const (
	// maxDelaySeconds is the SQS DelaySeconds ceiling (15 minutes).
	maxDelaySeconds = 900

	// compressThreshold is the body size above which envelopes are
	// gzip-compressed before sending. SQS caps message bodies at 256 KiB;
	// compressing well below that leaves headroom for attribute overhead.
	compressThreshold = 200 * 1024

	// encodingAttr marks a message body as base64(gzip(json)).
	encodingAttr = "content_encoding"
	gzipEncoding = "gzip"
)

// SQSQueue implements types.Queue over a main queue and a dead-letter queue.
type SQSQueue struct {
	client  SQSClient
	jobsURL string
	dlqURL  string
	logger  types.Logger
}

// NewSQSQueue creates the transport for the given queue URLs.
func NewSQSQueue(client SQSClient, jobsURL, dlqURL string, logger types.Logger) *SQSQueue {
	return &SQSQueue{
		client:  client,
		jobsURL: jobsURL,
		dlqURL:  dlqURL,
		logger:  logger,
	}
}

var _ types.Queue = (*SQSQueue)(nil)

// Send serializes the envelope and enqueues it, clamping delay to the SQS
// maximum. Oversized bodies are gzip-compressed and base64-framed, flagged
// with a content_encoding message attribute so ReceiveBatch can reverse the
// framing transparently.
func (q *SQSQueue) Send(ctx context.Context, envelope types.JobEnvelope, delay time.Duration) error {
	body, err := json.Marshal(envelope)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to marshal job envelope", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:     aws.String(q.jobsURL),
		DelaySeconds: clampDelaySeconds(delay),
	}

	if len(body) > compressThreshold {
		compressed, err := gzipBody(body)
		if err != nil {
			return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to compress job envelope", err)
		}
		input.MessageBody = aws.String(base64.StdEncoding.EncodeToString(compressed))
		input.MessageAttributes = map[string]sqsTypes.MessageAttributeValue{
			encodingAttr: {
				DataType:    aws.String("String"),
				StringValue: aws.String(gzipEncoding),
			},
		}
	} else {
		input.MessageBody = aws.String(string(body))
	}

	if _, err := q.client.SendMessage(ctx, input); err != nil {
		return types.NewAppError(types.ErrCodeUpstreamQueue,
			fmt.Sprintf("failed to send job envelope to %s", q.jobsURL), err)
	}

	q.logger.Info("job envelope sent",
		"job_type", string(envelope.Type),
		"idempotency_key", envelope.IdempotencyKey,
		"delay_seconds", clampDelaySeconds(delay),
	)
	return nil
}

// ReceiveBatch long-polls the jobs queue. Received messages stay invisible
// to other consumers for the visibility timeout; the caller must Delete each
// message it fully processed before that window closes.
func (q *SQSQueue) ReceiveBatch(ctx context.Context, maxMessages int, wait, visibilityTimeout time.Duration) ([]types.QueueMessage, error) {
	if maxMessages < 1 {
		maxMessages = 1
	}
	if maxMessages > 10 {
		// SQS ReceiveMessage cap.
		maxMessages = 10
	}

	out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:              aws.String(q.jobsURL),
		MaxNumberOfMessages:   int32(maxMessages),
		WaitTimeSeconds:       int32(wait.Seconds()),
		VisibilityTimeout:     int32(visibilityTimeout.Seconds()),
		MessageAttributeNames: []string{"All"},
		MessageSystemAttributeNames: []sqsTypes.MessageSystemAttributeName{
			sqsTypes.MessageSystemAttributeNameSentTimestamp,
			sqsTypes.MessageSystemAttributeNameApproximateReceiveCount,
		},
	})
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamQueue, "failed to receive from jobs queue", err)
	}

	messages := make([]types.QueueMessage, 0, len(out.Messages))
	for _, m := range out.Messages {
		body := []byte(aws.ToString(m.Body))
		if attr, ok := m.MessageAttributes[encodingAttr]; ok && aws.ToString(attr.StringValue) == gzipEncoding {
			decoded, err := decodeGzipBody(body)
			if err != nil {
				// Leave the body as-is; the worker will classify it as a
				// permanent validation failure and delete it.
				q.logger.Error("failed to decode compressed message body",
					"message_id", aws.ToString(m.MessageId),
					"error", err.Error(),
				)
			} else {
				body = decoded
			}
		}

		attrs := make(map[string]string, len(m.Attributes))
		for k, v := range m.Attributes {
			attrs[k] = v
		}
		messages = append(messages, types.QueueMessage{
			MessageID:     aws.ToString(m.MessageId),
			ReceiptHandle: aws.ToString(m.ReceiptHandle),
			Body:          body,
			Attributes:    attrs,
		})
	}
	return messages, nil
}

// Delete acknowledges a message by receipt handle.
func (q *SQSQueue) Delete(ctx context.Context, receiptHandle string) error {
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.jobsURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		return types.NewAppError(types.ErrCodeUpstreamQueue, "failed to delete message", err)
	}
	return nil
}

// SendToDeadLetter moves a raw body to the dead-letter queue with a reason
// attribute. SQS also dead-letters on its own via the queue's redrive
// policy; this method exists for explicit operational moves.
func (q *SQSQueue) SendToDeadLetter(ctx context.Context, body []byte, reason string) error {
	_, err := q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.dlqURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"reason": {
				DataType:    aws.String("String"),
				StringValue: aws.String(reason),
			},
		},
	})
	if err != nil {
		return types.NewAppError(types.ErrCodeUpstreamQueue,
			fmt.Sprintf("failed to send to dead-letter queue %s", q.dlqURL), err)
	}
	q.logger.Warn("message sent to dead-letter queue", "reason", reason)
	return nil
}

func clampDelaySeconds(d time.Duration) int32 {
	sec := int32(d.Seconds())
	if sec < 0 {
		return 0
	}
	if sec > maxDelaySeconds {
		return maxDelaySeconds
	}
	return sec
}

func gzipBody(body []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(body); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGzipBody(encoded []byte) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(string(encoded))
	if err != nil {
		return nil, fmt.Errorf("base64 decode: %w", err)
	}
	r, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("gzip reader: %w", err)
	}
	defer r.Close()
	return io.ReadAll(r)
}
