// Package queue publishes subscription change notifications to SQS.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"modelpass/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SubscriptionPublisher sends subscription.changed messages to one queue.
// For FIFO queues messages are grouped per user so consumers see a user's
// changes in order, and deduplicated on the source event.
type SubscriptionPublisher struct {
	client   SQSSender
	queueURL string
	fifo     bool
	logger   *slog.Logger
}

// NewSubscriptionPublisher creates a publisher for queueURL.
func NewSubscriptionPublisher(client SQSSender, queueURL string, logger *slog.Logger) *SubscriptionPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &SubscriptionPublisher{
		client:   client,
		queueURL: queueURL,
		fifo:     strings.HasSuffix(queueURL, ".fifo"),
		logger:   logger,
	}
}

// PublishSubscriptionChanged serializes msg and sends it.
func (p *SubscriptionPublisher) PublishSubscriptionChanged(ctx context.Context, msg types.SubscriptionChangedMessage) error {
	if msg.Event == "" {
		msg.Event = types.SubscriptionChangedEvent
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("queue: failed to marshal %s: %w", msg.Event, err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"event": {
				DataType:    aws.String("String"),
				StringValue: aws.String(msg.Event),
			},
			"plan_id": {
				DataType:    aws.String("Number"),
				StringValue: aws.String(msg.PlanID.String()),
			},
		},
	}
	if p.fifo {
		input.MessageGroupId = aws.String(msg.UserID)
		input.MessageDeduplicationId = aws.String(msg.SourceEventID + ":" + msg.UserID)
	}

	if _, err := p.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("queue: failed to send %s to %s: %w", msg.Event, p.queueURL, err)
	}

	p.logger.InfoContext(ctx, "subscription change published",
		"queue_url", p.queueURL,
		"user_id", msg.UserID,
		"plan_id", msg.PlanID.String(),
		"status", string(msg.Status),
		"source_event_id", msg.SourceEventID,
	)
	return nil
}
