package bedrock

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/agentboard/provider-gateway/internal/domain"
	"github.com/agentboard/provider-gateway/internal/provider"
)

const defaultMaxTokens = 4096

type Adapter struct {
	client *bedrockruntime.Client
	region string
}

func New(ctx context.Context, region string) (*Adapter, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return &Adapter{
		client: bedrockruntime.NewFromConfig(cfg),
		region: region,
	}, nil
}

func NewWithConfig(cfg aws.Config) *Adapter {
	return &Adapter{
		client: bedrockruntime.NewFromConfig(cfg),
		region: cfg.Region,
	}
}

func (a *Adapter) Name() string {
	return "bedrock"
}

func (a *Adapter) Complete(ctx context.Context, req provider.ChatRequest) (*provider.ChatResult, error) {
	body, err := json.Marshal(toWireRequest(req))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	input := &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(req.Model),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	}

	output, err := a.client.InvokeModel(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("invoke model: %w", err)
	}

	var wire wireResponse
	if err := json.Unmarshal(output.Body, &wire); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	var content string
	for _, block := range wire.Content {
		if block.Type == "text" {
			content += block.Text
		}
	}

	return &provider.ChatResult{
		Content:      content,
		Usage:        domain.NewUsage(wire.Usage.InputTokens, wire.Usage.OutputTokens),
		FinishReason: mapStopReason(wire.StopReason),
	}, nil
}

func (a *Adapter) Stream(ctx context.Context, req provider.ChatRequest) (<-chan provider.Chunk, <-chan error) {
	chunks := make(chan provider.Chunk)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errs)

		body, err := json.Marshal(toWireRequest(req))
		if err != nil {
			errs <- fmt.Errorf("marshal request: %w", err)
			return
		}

		input := &bedrockruntime.InvokeModelWithResponseStreamInput{
			ModelId:     aws.String(req.Model),
			ContentType: aws.String("application/json"),
			Accept:      aws.String("application/json"),
			Body:        body,
		}

		output, err := a.client.InvokeModelWithResponseStream(ctx, input)
		if err != nil {
			errs <- fmt.Errorf("invoke model stream: %w", err)
			return
		}

		stream := output.GetStream()
		defer stream.Close()

		var inputTokens, outputTokens int
		var stopReason string

		for event := range stream.Events() {
			chunk, ok := event.(*types.ResponseStreamMemberChunk)
			if !ok {
				continue
			}

			var wire wireStreamEvent
			if err := json.Unmarshal(chunk.Value.Bytes, &wire); err != nil {
				continue
			}

			switch wire.Type {
			case "message_start":
				if wire.Message != nil {
					inputTokens = wire.Message.Usage.InputTokens
				}

			case "content_block_delta":
				if wire.Delta != nil && wire.Delta.Text != "" {
					select {
					case chunks <- provider.Chunk{Content: wire.Delta.Text}:
					case <-ctx.Done():
						return
					}
				}

			case "message_delta":
				if wire.Usage != nil {
					outputTokens = wire.Usage.OutputTokens
				}
				if wire.Delta != nil && wire.Delta.StopReason != "" {
					stopReason = wire.Delta.StopReason
				}

			case "message_stop":
				usage := domain.NewUsage(inputTokens, outputTokens)
				select {
				case chunks <- provider.Chunk{Done: true, Usage: &usage, FinishReason: mapStopReason(stopReason)}:
				case <-ctx.Done():
				}
				return
			}
		}

		if err := stream.Err(); err != nil {
			errs <- fmt.Errorf("stream error: %w", err)
		}
	}()

	return chunks, errs
}

type wireRequest struct {
	AnthropicVersion string        `json:"anthropic_version"`
	MaxTokens        int           `json:"max_tokens"`
	Messages         []wireMessage `json:"messages"`
	System           string        `json:"system,omitempty"`
	Temperature      *float64      `json:"temperature,omitempty"`
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type wireResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string    `json:"stop_reason"`
	Usage      wireUsage `json:"usage"`
}

type wireUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type wireStreamEvent struct {
	Type    string `json:"type"`
	Message *struct {
		Usage wireUsage `json:"usage"`
	} `json:"message,omitempty"`
	Delta *struct {
		Type       string `json:"type"`
		Text       string `json:"text"`
		StopReason string `json:"stop_reason"`
	} `json:"delta,omitempty"`
	Usage *wireUsage `json:"usage,omitempty"`
}

func toWireRequest(req provider.ChatRequest) wireRequest {
	var systemPrompt string
	var messages []wireMessage

	for _, m := range req.Messages {
		if m.Role == domain.RoleSystem {
			systemPrompt = m.Content
			continue
		}
		messages = append(messages, wireMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	maxTokens := defaultMaxTokens
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}

	return wireRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        maxTokens,
		Messages:         messages,
		System:           systemPrompt,
		Temperature:      req.Temperature,
	}
}

func mapStopReason(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence":
		return "stop"
	case "max_tokens":
		return "length"
	default:
		return reason
	}
}
