package changes

import (
	"context"
	"testing"

	"attendance.client/internal/ports/messaging"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	events []messaging.ChangeEvent
}

func (r *recordingNotifier) Notify(_ context.Context, event messaging.ChangeEvent) int {
	r.events = append(r.events, event)
	return 1
}

func TestProcessNotifiesHub(t *testing.T) {
	n := &recordingNotifier{}
	p := NewProcessor(n)

	retry, delay, err := p.Process(context.Background(), types.Message{
		MessageId: aws.String("m1"),
		Body:      aws.String(`{"collection":"attendance","documentId":"9","uid":"u1","companyId":"C1","occurredAt":"2026-01-02T09:00:00Z"}`),
	})

	require.NoError(t, err)
	assert.False(t, retry)
	assert.Zero(t, delay)
	require.Len(t, n.events, 1)
	assert.Equal(t, messaging.CollectionAttendance, n.events[0].Collection)
	assert.Equal(t, "u1", n.events[0].UID)
	assert.Equal(t, "C1", n.events[0].CompanyID)
}

func TestProcessRejectsMalformedEvents(t *testing.T) {
	n := &recordingNotifier{}
	p := NewProcessor(n)

	for name, msg := range map[string]types.Message{
		"no body":  {MessageId: aws.String("m1")},
		"not json": {MessageId: aws.String("m2"), Body: aws.String("{")},
	} {
		t.Run(name, func(t *testing.T) {
			retry, _, err := p.Process(context.Background(), msg)
			assert.Error(t, err)
			assert.False(t, retry)
		})
	}
	assert.Empty(t, n.events)
}
