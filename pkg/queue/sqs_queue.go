package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/openshare/openshare/pkg/engine"
)

// SQSQueue is a Queue backed by Amazon SQS. The lease duration maps to the
// per-receive visibility timeout, and SQS's ApproximateReceiveCount provides
// the delivery count for retry budgeting.
type SQSQueue struct {
	client   *sqs.Client
	queueURL string
}

// NewSQSQueue creates an SQS-backed queue using the default AWS credential
// chain.
func NewSQSQueue(ctx context.Context, queueURL, region string) (*SQSQueue, error) {
	if queueURL == "" {
		return nil, fmt.Errorf("queue URL is required")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	return &SQSQueue{
		client:   sqs.NewFromConfig(cfg),
		queueURL: queueURL,
	}, nil
}

// Enqueue sends one message.
func (q *SQSQueue) Enqueue(ctx context.Context, msg engine.ProvisionMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	_, err = q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(string(payload)),
	})
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// Receive leases up to max messages with the lease as visibility timeout.
// Uses long polling to avoid busy-looping on an empty queue.
func (q *SQSQueue) Receive(ctx context.Context, max int, lease time.Duration) ([]*Message, error) {
	if max > 10 {
		max = 10 // SQS per-call limit
	}

	out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.queueURL),
		MaxNumberOfMessages: int32(max),
		VisibilityTimeout:   int32(lease.Seconds()),
		WaitTimeSeconds:     10,
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{
			types.MessageSystemAttributeNameApproximateReceiveCount,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to receive messages: %w", err)
	}

	messages := make([]*Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		var pm engine.ProvisionMessage
		if err := json.Unmarshal([]byte(aws.ToString(m.Body)), &pm); err != nil {
			return nil, fmt.Errorf("failed to unmarshal message %s: %w", aws.ToString(m.MessageId), err)
		}

		deliveries := 1
		if v, ok := m.Attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)]; ok {
			if n, err := strconv.Atoi(v); err == nil {
				deliveries = n
			}
		}

		messages = append(messages, &Message{
			Handle:        aws.ToString(m.ReceiptHandle),
			Payload:       pm,
			DeliveryCount: deliveries,
		})
	}

	return messages, nil
}

// Ack deletes a message by its receipt handle.
func (q *SQSQueue) Ack(ctx context.Context, handle string) error {
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: aws.String(handle),
	})
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}

// Nack zeroes the message's visibility timeout so SQS redelivers it on the
// next receive.
func (q *SQSQueue) Nack(ctx context.Context, handle string) error {
	_, err := q.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(q.queueURL),
		ReceiptHandle:     aws.String(handle),
		VisibilityTimeout: 0,
	})
	if err != nil {
		return fmt.Errorf("failed to nack message: %w", err)
	}
	return nil
}

// Depth returns the approximate number of visible messages.
func (q *SQSQueue) Depth(ctx context.Context) (int, error) {
	out, err := q.client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl: aws.String(q.queueURL),
		AttributeNames: []types.QueueAttributeName{
			types.QueueAttributeNameApproximateNumberOfMessages,
		},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to get queue attributes: %w", err)
	}

	v := out.Attributes[string(types.QueueAttributeNameApproximateNumberOfMessages)]
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("unexpected queue depth value %q: %w", v, err)
	}
	return n, nil
}

// Close is a no-op for SQS.
func (q *SQSQueue) Close() error { return nil }
