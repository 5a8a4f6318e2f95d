package usage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"

	"github.com/agentboard/provider-gateway/internal/domain"
)

// SNSSink publishes each usage record to an SNS topic for fan-out to the
// platform's billing and analytics consumers.
type SNSSink struct {
	client   *sns.Client
	topicArn string
}

func NewSNSSink(ctx context.Context, region, topicArn string) (*SNSSink, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return &SNSSink{
		client:   sns.NewFromConfig(cfg),
		topicArn: topicArn,
	}, nil
}

func NewSNSSinkWithConfig(cfg aws.Config, topicArn string) *SNSSink {
	return &SNSSink{
		client:   sns.NewFromConfig(cfg),
		topicArn: topicArn,
	}
}

func (s *SNSSink) Record(ctx context.Context, record domain.UsageRecord) error {
	message, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal usage record: %w", err)
	}

	input := &sns.PublishInput{
		TopicArn: aws.String(s.topicArn),
		Message:  aws.String(string(message)),
		MessageAttributes: map[string]snstypes.MessageAttributeValue{
			"Operation": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(record.Operation)),
			},
			"Provider": {
				DataType:    aws.String("String"),
				StringValue: aws.String(record.Provider),
			},
		},
	}

	if record.WorkspaceID != "" {
		input.MessageAttributes["WorkspaceID"] = snstypes.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(record.WorkspaceID),
		}
	}

	if _, err := s.client.Publish(ctx, input); err != nil {
		return fmt.Errorf("publish usage record: %w", err)
	}

	return nil
}
