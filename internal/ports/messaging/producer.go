package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// MessageSender defines the interface for sending raw messages to a messaging system.
type MessageSender interface {
	SendMessage(ctx context.Context, destination string, body []byte) error
}

// Producer publishes document change events to the changes queue.
type Producer struct {
	sender          MessageSender
	changesQueueURL string
}

func NewProducer(sender MessageSender, changesQueueURL string) *Producer {
	return &Producer{
		sender:          sender,
		changesQueueURL: changesQueueURL,
	}
}

// NewSQSProducer creates a Producer backed by an AWS SQS sender.
func NewSQSProducer(client SQSClient, changesQueueURL string) *Producer {
	return NewProducer(NewSQSSender(client), changesQueueURL)
}

func (p *Producer) PublishChange(ctx context.Context, event ChangeEvent) error {
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.SetAttributes(
			attribute.String("app.collection", event.Collection),
			attribute.String("app.documentId", event.DocumentID),
		)
		if event.UID != "" {
			span.SetAttributes(attribute.String("app.uid", event.UID))
		}
	}

	b, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal change event: %w", err)
	}

	if err := p.sender.SendMessage(ctx, p.changesQueueURL, b); err != nil {
		return fmt.Errorf("failed to send change event: %w", err)
	}
	return nil
}
