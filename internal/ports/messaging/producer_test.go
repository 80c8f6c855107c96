package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSQS struct {
	input *sqs.SendMessageInput
	err   error
}

func (f *fakeSQS) SendMessage(_ context.Context, params *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.input = params
	return &sqs.SendMessageOutput{}, f.err
}

func TestPublishChange(t *testing.T) {
	client := &fakeSQS{}
	p := NewSQSProducer(client, "http://localstack:4566/000000000000/document-changes")

	event := ChangeEvent{
		Collection: CollectionAttendance,
		DocumentID: "42",
		UID:        "u1",
		CompanyID:  "C1",
		OccurredAt: time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC),
	}
	require.NoError(t, p.PublishChange(context.Background(), event))

	require.NotNil(t, client.input)
	assert.Equal(t, "http://localstack:4566/000000000000/document-changes", *client.input.QueueUrl)

	var got ChangeEvent
	require.NoError(t, json.Unmarshal([]byte(*client.input.MessageBody), &got))
	assert.Equal(t, event, got)
}

func TestPublishChangeSendFailure(t *testing.T) {
	client := &fakeSQS{err: errors.New("queue does not exist")}
	p := NewSQSProducer(client, "queue")

	err := p.PublishChange(context.Background(), ChangeEvent{Collection: CollectionUsers, DocumentID: "u1"})

	require.Error(t, err)
	assert.ErrorIs(t, err, client.err)
}
