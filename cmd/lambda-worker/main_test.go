package main

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-lambda-go/events"

	"docscan-backend/internal/queue"
	"docscan-backend/internal/workerproc"
)

type processorFunc func(ctx context.Context, msg queue.Message) error

func (f processorFunc) Process(ctx context.Context, msg queue.Message) error { return f(ctx, msg) }

func TestProcessBatchReportsOnlyRetryableFailures(t *testing.T) {
	p := processorFunc(func(ctx context.Context, msg queue.Message) error {
		switch msg.DocumentID {
		case "busy":
			return workerproc.ErrProcess{DocumentID: msg.DocumentID, Err: errors.New("busy"), Retry: true}
		case "broken":
			return workerproc.ErrProcess{DocumentID: msg.DocumentID, Err: errors.New("backend rejected"), Retry: false}
		}
		return nil
	})
	event := events.SQSEvent{Records: []events.SQSMessage{
		{MessageId: "m1", Body: `{"documentId":"ok"}`},
		{MessageId: "m2", Body: `{"documentId":"busy"}`},
		{MessageId: "m3", Body: `{"documentId":"broken"}`},
		{MessageId: "m4", Body: `{bad`},
	}}

	resp := processBatch(context.Background(), p, event)
	if len(resp.BatchItemFailures) != 1 || resp.BatchItemFailures[0].ItemIdentifier != "m2" {
		t.Fatalf("unexpected failures: %+v", resp.BatchItemFailures)
	}
}
