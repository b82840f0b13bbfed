package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
)

type fakeSNS struct {
	inputs []*sns.PublishInput
	err    error
}

func (f *fakeSNS) Publish(ctx context.Context, in *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
	f.inputs = append(f.inputs, in)
	if f.err != nil {
		return nil, f.err
	}
	return &sns.PublishOutput{MessageId: aws.String("msg-1")}, nil
}

func TestSNSNotifier_Send(t *testing.T) {
	fake := &fakeSNS{}
	n := &SNSNotifier{client: fake, topicARN: "arn:aws:sns:us-east-1:123:tutor"}

	err := n.Send(context.Background(), Notification{
		Type:    TypeUpstreamExhausted,
		Roster:  "free",
		Message: "every key and model failed",
		Data:    map[string]any{"attempts": 9},
	})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if len(fake.inputs) != 1 {
		t.Fatalf("publishes = %d, want 1", len(fake.inputs))
	}
	in := fake.inputs[0]
	if aws.ToString(in.TopicArn) != "arn:aws:sns:us-east-1:123:tutor" {
		t.Errorf("TopicArn = %q", aws.ToString(in.TopicArn))
	}
	if aws.ToString(in.MessageAttributes["Type"].StringValue) != "upstream_exhausted" {
		t.Errorf("Type attribute = %v", in.MessageAttributes["Type"])
	}
	if aws.ToString(in.MessageAttributes["Roster"].StringValue) != "free" {
		t.Errorf("Roster attribute = %v", in.MessageAttributes["Roster"])
	}

	var body Notification
	if err := json.Unmarshal([]byte(aws.ToString(in.Message)), &body); err != nil {
		t.Fatalf("message is not JSON: %v", err)
	}
	if body.Type != TypeUpstreamExhausted || body.Message != "every key and model failed" {
		t.Errorf("body = %+v", body)
	}
}

func TestSNSNotifier_PublishError(t *testing.T) {
	fake := &fakeSNS{err: errors.New("throttled")}
	n := &SNSNotifier{client: fake, topicARN: "arn"}

	if err := n.Send(context.Background(), Notification{Type: TypeBreakerOpen}); err == nil {
		t.Error("expected error")
	}
	if _, ok := fake.inputs[0].MessageAttributes["Roster"]; ok {
		t.Error("empty roster should not be sent as an attribute")
	}
}

func TestInMemory_Sent(t *testing.T) {
	m := NewInMemory()
	m.Send(context.Background(), Notification{Type: TypeBreakerOpen, Roster: "pro"})

	sent := m.Sent()
	if len(sent) != 1 || sent[0].Roster != "pro" {
		t.Errorf("Sent() = %+v", sent)
	}
	sent[0].Roster = "changed"
	if m.Sent()[0].Roster != "pro" {
		t.Error("Sent() must return a copy")
	}
}
