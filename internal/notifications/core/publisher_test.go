package core

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"geowatch/internal/types"
)

const testQueueURL = "https://sqs.us-east-1.amazonaws.com/123/geowatch-notify"

// mockSQSSender records all SendMessage calls for verification.
type mockSQSSender struct {
	calls     []*sqs.SendMessageInput
	returnErr error
}

func (m *mockSQSSender) SendMessage(_ context.Context, params *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	m.calls = append(m.calls, params)
	if m.returnErr != nil {
		return nil, m.returnErr
	}
	return &sqs.SendMessageOutput{}, nil
}

func decodeSent(t *testing.T, in *sqs.SendMessageInput) types.DispatchMessage {
	t.Helper()
	var sent types.DispatchMessage
	if err := json.Unmarshal([]byte(*in.MessageBody), &sent); err != nil {
		t.Fatalf("failed to unmarshal sent body: %v", err)
	}
	return sent
}

func TestDispatchPublisher_Publish(t *testing.T) {
	sender := &mockSQSSender{}
	pub := NewDispatchPublisher(sender, testQueueURL, &mockLogger{})

	msg := types.DispatchMessage{AlertID: "alert_1", OrganizationID: "org_1", RetryCount: 0, TraceID: "evt_1"}
	if err := pub.Publish(context.Background(), msg, 10*time.Second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(sender.calls) != 1 {
		t.Fatalf("expected 1 SQS call, got %d", len(sender.calls))
	}
	if *sender.calls[0].QueueUrl != testQueueURL {
		t.Errorf("QueueUrl = %q", *sender.calls[0].QueueUrl)
	}
	if sender.calls[0].DelaySeconds != 10 {
		t.Errorf("expected DelaySeconds=10, got %d", sender.calls[0].DelaySeconds)
	}
	if sent := decodeSent(t, sender.calls[0]); sent != msg {
		t.Errorf("sent = %+v, want %+v", sent, msg)
	}
}

func TestDispatchPublisher_ClampsDelay(t *testing.T) {
	tests := []struct {
		delay time.Duration
		want  int32
	}{
		{2000 * time.Second, 900},
		{0, 0},
		{-5 * time.Second, 0},
	}
	for _, tt := range tests {
		sender := &mockSQSSender{}
		pub := NewDispatchPublisher(sender, testQueueURL, &mockLogger{})
		if err := pub.Publish(context.Background(), types.DispatchMessage{AlertID: "a"}, tt.delay); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := sender.calls[0].DelaySeconds; got != tt.want {
			t.Errorf("delay %v: DelaySeconds = %d, want %d", tt.delay, got, tt.want)
		}
	}
}

func TestDispatchPublisher_SQSError(t *testing.T) {
	sender := &mockSQSSender{returnErr: fmt.Errorf("SQS unavailable")}
	pub := NewDispatchPublisher(sender, testQueueURL, &mockLogger{})

	if err := pub.Publish(context.Background(), types.DispatchMessage{AlertID: "a"}, time.Second); err == nil {
		t.Fatal("expected error for SQS failure")
	}
}

func TestDispatchPublisher_RequeueIncrementsRetryCount(t *testing.T) {
	sender := &mockSQSSender{}
	pub := NewDispatchPublisher(sender, testQueueURL, &mockLogger{})

	msg := types.DispatchMessage{AlertID: "alert_2", RetryCount: 2}
	if err := pub.Requeue(context.Background(), msg, AlertRetryPolicy); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sent := decodeSent(t, sender.calls[0])
	if sent.RetryCount != 3 {
		t.Errorf("expected RetryCount=3, got %d", sent.RetryCount)
	}
	if msg.RetryCount != 2 {
		t.Errorf("original message mutated: %d", msg.RetryCount)
	}
	// 30s * 2^2 = 120s
	if sender.calls[0].DelaySeconds != 120 {
		t.Errorf("expected DelaySeconds=120, got %d", sender.calls[0].DelaySeconds)
	}
}

func TestQueueDispatcher_DispatchAsync(t *testing.T) {
	sender := &mockSQSSender{}
	q := NewQueueDispatcher(NewDispatchPublisher(sender, testQueueURL, &mockLogger{}), time.Second, &mockLogger{})

	q.DispatchAsync(&types.Alert{ID: "alert_3", OrganizationID: "org_1", EventID: "evt_3", NotifyRetryCount: 1})

	if len(sender.calls) != 1 {
		t.Fatalf("expected 1 SQS call, got %d", len(sender.calls))
	}
	sent := decodeSent(t, sender.calls[0])
	if sent.AlertID != "alert_3" || sent.RetryCount != 1 || sent.TraceID != "evt_3" {
		t.Errorf("sent = %+v", sent)
	}
}

func TestQueueDispatcher_PublishFailureIsLogged(t *testing.T) {
	sender := &mockSQSSender{returnErr: fmt.Errorf("throttled")}
	logger := &mockLogger{}
	q := NewQueueDispatcher(NewDispatchPublisher(sender, testQueueURL, logger), time.Second, logger)

	q.DispatchAsync(&types.Alert{ID: "alert_4"})

	if !logger.has("error:Dispatch enqueue failed, alert left pending") {
		t.Errorf("expected enqueue failure log, got %v", logger.messages)
	}
}
