package usage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/agentboard/provider-gateway/internal/domain"
)

// SQSSink enqueues usage records for the platform's billing worker. The
// queue gives delivery durability that the tracker itself does not promise.
type SQSSink struct {
	client   *sqs.Client
	queueURL string
}

func NewSQSSink(ctx context.Context, region, queueURL string) (*SQSSink, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return &SQSSink{
		client:   sqs.NewFromConfig(cfg),
		queueURL: queueURL,
	}, nil
}

func NewSQSSinkWithConfig(cfg aws.Config, queueURL string) *SQSSink {
	return &SQSSink{
		client:   sqs.NewFromConfig(cfg),
		queueURL: queueURL,
	}
}

func (s *SQSSink) Record(ctx context.Context, record domain.UsageRecord) error {
	body, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal usage record: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(s.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqstypes.MessageAttributeValue{
			"RecordID": {
				DataType:    aws.String("String"),
				StringValue: aws.String(record.ID),
			},
			"Operation": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(record.Operation)),
			},
		},
	}

	if _, err := s.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("send usage record: %w", err)
	}

	return nil
}

// Drain receives up to maxMessages queued records. Used by the billing
// worker in the hosting platform; exposed here so integration tests can
// round-trip records through a local queue.
func (s *SQSSink) Drain(ctx context.Context, maxMessages int) ([]domain.UsageRecord, error) {
	input := &sqs.ReceiveMessageInput{
		QueueUrl:              aws.String(s.queueURL),
		MaxNumberOfMessages:   int32(maxMessages),
		WaitTimeSeconds:       20,
		MessageAttributeNames: []string{"All"},
	}

	result, err := s.client.ReceiveMessage(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("receive usage records: %w", err)
	}

	records := make([]domain.UsageRecord, 0, len(result.Messages))
	for _, msg := range result.Messages {
		var r domain.UsageRecord
		if err := json.Unmarshal([]byte(*msg.Body), &r); err != nil {
			slog.Warn("failed to unmarshal queued usage record", "error", err)
			continue
		}
		records = append(records, r)
	}

	return records, nil
}
