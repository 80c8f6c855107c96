// Package changes consumes document change events and refreshes the live
// feeds they affect.
package changes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"attendance.client/internal/ports/messaging"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/rs/zerolog/log"
)

// Notifier redelivers the feeds touched by an event and reports how many.
type Notifier interface {
	Notify(ctx context.Context, event messaging.ChangeEvent) int
}

type Processor struct {
	notifier Notifier
}

func NewProcessor(n Notifier) *Processor {
	return &Processor{notifier: n}
}

// Process never asks for a retry: a change that cannot be parsed will not
// parse later, and a feed that failed to read already delivered the error.
func (p *Processor) Process(ctx context.Context, msg types.Message) (bool, int32, error) {
	if msg.Body == nil {
		return false, 0, errors.New("change event has no body")
	}

	var event messaging.ChangeEvent
	if err := json.Unmarshal([]byte(*msg.Body), &event); err != nil {
		return false, 0, fmt.Errorf("failed to unmarshal change event %s: %w", aws.ToString(msg.MessageId), err)
	}

	n := p.notifier.Notify(ctx, event)
	log.Ctx(ctx).Debug().
		Str("collection", event.Collection).
		Str("document_id", event.DocumentID).
		Int("feeds", n).
		Msg("Change event applied")
	return false, 0, nil
}
