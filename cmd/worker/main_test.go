package main

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"docscan-backend/internal/analysis"
	"docscan-backend/internal/queue"
	"docscan-backend/internal/workerproc"
)

type fakeSQS struct {
	deleted []string
}

func (f *fakeSQS) ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	return &sqs.ReceiveMessageOutput{}, nil
}

func (f *fakeSQS) DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.deleted = append(f.deleted, aws.ToString(params.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

type fakeProcessor struct {
	err error
}

func (f fakeProcessor) Process(ctx context.Context, msg queue.Message) error {
	return f.err
}

func sqsMessage(t *testing.T, id, body string) sqstypes.Message {
	t.Helper()
	return sqstypes.Message{
		MessageId:     aws.String(id),
		ReceiptHandle: aws.String("r-" + id),
		Body:          aws.String(body),
		Attributes:    map[string]string{"ApproximateReceiveCount": "1"},
	}
}

func encoded(t *testing.T, documentID string) string {
	t.Helper()
	payload, err := queue.EncodeMessage(queue.Message{DocumentID: documentID, RequestID: "req-1", Version: queue.MessageVersion})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return string(payload)
}

func TestWorkerMessageDisposition(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		processErr error
		wantDelete bool
	}{
		{name: "success", body: encoded(t, "doc-1"), wantDelete: true},
		{
			name:       "busy coordinator",
			body:       encoded(t, "doc-1"),
			processErr: workerproc.ErrProcess{DocumentID: "doc-1", Err: analysis.ErrAlreadyInProgress, Retry: true},
		},
		{
			name:       "storage outage",
			body:       encoded(t, "doc-1"),
			processErr: workerproc.ErrProcess{DocumentID: "doc-1", Err: errors.New("s3 timeout"), Retry: true},
		},
		{
			name:       "backend error",
			body:       encoded(t, "doc-1"),
			processErr: workerproc.ErrProcess{DocumentID: "doc-1", Err: errors.New("rejected"), Retry: false},
			wantDelete: true,
		},
		{name: "invalid json", body: "{bad-json", wantDelete: true},
		{name: "empty body", body: "", wantDelete: true},
		{name: "missing document id", body: `{"requestId":"req-1"}`, wantDelete: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			client := &fakeSQS{}
			handleMessage(context.Background(), client, "queue", fakeProcessor{err: tc.processErr}, sqsMessage(t, "m1", tc.body))
			if got := len(client.deleted) == 1; got != tc.wantDelete {
				t.Fatalf("delete=%v, want %v (deleted %v)", got, tc.wantDelete, client.deleted)
			}
		})
	}
}

func TestReceiveCount(t *testing.T) {
	if n := receiveCount(sqstypes.Message{Attributes: map[string]string{"ApproximateReceiveCount": "3"}}); n != 3 {
		t.Fatalf("expected 3, got %d", n)
	}
	if n := receiveCount(sqstypes.Message{}); n != 0 {
		t.Fatalf("expected 0, got %d", n)
	}
}
