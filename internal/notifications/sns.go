// Package notifications publishes upstream health events: a logical call
// that exhausted every key and model, and breaker state changes.
package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
)

type Type string

const (
	TypeUpstreamExhausted Type = "upstream_exhausted"
	TypeBreakerOpen       Type = "breaker_open"
	TypeBreakerClosed     Type = "breaker_closed"
)

type Notification struct {
	Type      Type           `json:"type"`
	Roster    string         `json:"roster,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
}

type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

// Nop drops every notification.
type Nop struct{}

func (Nop) Send(ctx context.Context, n Notification) error { return nil }

type snsAPI interface {
	Publish(ctx context.Context, in *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

type SNSNotifier struct {
	client   snsAPI
	topicARN string
}

func NewSNSNotifier(ctx context.Context, region, topicARN string) (*SNSNotifier, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewSNSNotifierWithConfig(cfg, topicARN), nil
}

func NewSNSNotifierWithConfig(cfg aws.Config, topicARN string) *SNSNotifier {
	return &SNSNotifier{client: sns.NewFromConfig(cfg), topicARN: topicARN}
}

func (s *SNSNotifier) Send(ctx context.Context, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	attrs := map[string]snstypes.MessageAttributeValue{
		"Type": {DataType: aws.String("String"), StringValue: aws.String(string(n.Type))},
	}
	if n.Roster != "" {
		attrs["Roster"] = snstypes.MessageAttributeValue{DataType: aws.String("String"), StringValue: aws.String(n.Roster)}
	}

	_, err = s.client.Publish(ctx, &sns.PublishInput{
		TopicArn:          aws.String(s.topicARN),
		Message:           aws.String(string(body)),
		MessageAttributes: attrs,
	})
	if err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}

	slog.Info("notification sent", "type", n.Type, "roster", n.Roster)
	return nil
}

// InMemory records notifications, for tests and deployments without SNS.
type InMemory struct {
	mu   sync.Mutex
	sent []Notification
}

func NewInMemory() *InMemory {
	return &InMemory{}
}

func (m *InMemory) Send(ctx context.Context, n Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, n)
	slog.Debug("notification recorded", "type", n.Type, "roster", n.Roster)
	return nil
}

func (m *InMemory) Sent() []Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Notification, len(m.sent))
	copy(out, m.sent)
	return out
}
