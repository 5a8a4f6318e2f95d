package billing

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

// Notifier delivers spend alerts to whoever handles them (ops channel,
// billing service, email fan-out).
type Notifier interface {
	Send(ctx context.Context, alert Alert) error
}

// SNSNotifier publishes alerts to an SNS topic; the platform subscribes its
// alerting pipeline there.
type SNSNotifier struct {
	client   *sns.Client
	topicArn string
}

func NewSNSNotifier(ctx context.Context, region, topicArn string) (*SNSNotifier, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return &SNSNotifier{
		client:   sns.NewFromConfig(cfg),
		topicArn: topicArn,
	}, nil
}

func NewSNSNotifierWithConfig(cfg aws.Config, topicArn string) *SNSNotifier {
	return &SNSNotifier{
		client:   sns.NewFromConfig(cfg),
		topicArn: topicArn,
	}
}

func (n *SNSNotifier) Send(ctx context.Context, alert Alert) error {
	message, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	input := &sns.PublishInput{
		TopicArn: aws.String(n.topicArn),
		Message:  aws.String(string(message)),
		MessageAttributes: map[string]snstypes.MessageAttributeValue{
			"Level": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(alert.Level)),
			},
			"WorkspaceID": {
				DataType:    aws.String("String"),
				StringValue: aws.String(alert.WorkspaceID),
			},
		},
	}

	if _, err := n.client.Publish(ctx, input); err != nil {
		return fmt.Errorf("publish alert: %w", err)
	}

	return nil
}

// MemoryNotifier collects alerts for inspection in tests.
type MemoryNotifier struct {
	mu     sync.Mutex
	alerts []Alert
}

func NewMemoryNotifier() *MemoryNotifier {
	return &MemoryNotifier{alerts: make([]Alert, 0)}
}

func (n *MemoryNotifier) Send(ctx context.Context, alert Alert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, alert)
	return nil
}

func (n *MemoryNotifier) Alerts() []Alert {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Alert, len(n.alerts))
	copy(out, n.alerts)
	return out
}

// LogNotifier writes alerts to the structured log. The default when no SNS
// topic is configured.
type LogNotifier struct{}

func (LogNotifier) Send(ctx context.Context, alert Alert) error {
	slog.Warn("workspace spend alert",
		"workspace_id", alert.WorkspaceID,
		"level", alert.Level,
		"limit", alert.Limit,
		"spent", alert.Spent,
		"percentage", alert.Percentage,
	)
	return nil
}
