package anthropic

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/agentboard/provider-gateway/internal/domain"
	"github.com/agentboard/provider-gateway/internal/httputil"
	"github.com/agentboard/provider-gateway/internal/provider"
)

const (
	defaultBaseURL   = "https://api.anthropic.com/v1"
	anthropicVersion = "2023-06-01"
	defaultMaxTokens = 4096
)

type Adapter struct {
	apiKey       string
	baseURL      string
	client       *http.Client
	streamClient *http.Client
}

func New(apiKey string) *Adapter {
	return &Adapter{
		apiKey:       apiKey,
		baseURL:      defaultBaseURL,
		client:       httputil.DefaultClient(),
		streamClient: httputil.StreamingClient(),
	}
}

func (a *Adapter) Name() string {
	return "anthropic"
}

func (a *Adapter) Complete(ctx context.Context, req provider.ChatRequest) (*provider.ChatResult, error) {
	body, err := json.Marshal(toWireRequest(req, false))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := a.newRequest(ctx, body, false)
	if err != nil {
		return nil, err
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("anthropic error: status=%d body=%s", resp.StatusCode, string(bodyBytes))
	}

	var wire wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	var content string
	var toolCalls []domain.ToolCall
	for _, block := range wire.Content {
		switch block.Type {
		case "text":
			content += block.Text
		case "tool_use":
			toolCalls = append(toolCalls, domain.ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: block.Input,
			})
		}
	}

	return &provider.ChatResult{
		Content:      content,
		ToolCalls:    toolCalls,
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

		body, err := json.Marshal(toWireRequest(req, true))
		if err != nil {
			errs <- fmt.Errorf("marshal request: %w", err)
			return
		}

		httpReq, err := a.newRequest(ctx, body, true)
		if err != nil {
			errs <- err
			return
		}

		resp, err := a.streamClient.Do(httpReq)
		if err != nil {
			errs <- fmt.Errorf("do request: %w", err)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			bodyBytes, _ := io.ReadAll(resp.Body)
			errs <- fmt.Errorf("anthropic error: status=%d body=%s", resp.StatusCode, string(bodyBytes))
			return
		}

		var inputTokens, outputTokens int
		var stopReason string

		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}

			var event wireStreamEvent
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
				continue
			}

			switch event.Type {
			case "message_start":
				if event.Message != nil {
					inputTokens = event.Message.Usage.InputTokens
				}

			case "content_block_delta":
				if event.Delta != nil && event.Delta.Text != "" {
					select {
					case chunks <- provider.Chunk{Content: event.Delta.Text}:
					case <-ctx.Done():
						return
					}
				}

			case "message_delta":
				if event.Usage != nil {
					outputTokens = event.Usage.OutputTokens
				}
				if event.Delta != nil && event.Delta.StopReason != "" {
					stopReason = event.Delta.StopReason
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

		if err := scanner.Err(); err != nil {
			errs <- fmt.Errorf("scan stream: %w", err)
		}
	}()

	return chunks, errs
}

func (a *Adapter) newRequest(ctx context.Context, body []byte, stream bool) (*http.Request, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}
	return httpReq, nil
}

type wireRequest struct {
	Model     string        `json:"model"`
	Messages  []wireMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens"`
	Stream    bool          `json:"stream,omitempty"`
	System    string        `json:"system,omitempty"`
	Temperature *float64    `json:"temperature,omitempty"`
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type wireResponse struct {
	Content    []wireBlock `json:"content"`
	StopReason string      `json:"stop_reason"`
	Usage      wireUsage   `json:"usage"`
}

type wireBlock struct {
	Type  string         `json:"type"`
	Text  string         `json:"text,omitempty"`
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`
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

// toWireRequest extracts the system message positionally; the messages API
// takes it as a top-level field, not a conversation turn.
func toWireRequest(req provider.ChatRequest, stream bool) wireRequest {
	var systemPrompt string
	messages := make([]wireMessage, 0, len(req.Messages))

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
		Model:       req.Model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Stream:      stream,
		System:      systemPrompt,
		Temperature: req.Temperature,
	}
}

func mapStopReason(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence":
		return "stop"
	case "max_tokens":
		return "length"
	case "tool_use":
		return "tool_calls"
	default:
		return reason
	}
}
