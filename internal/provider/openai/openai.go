package openai

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

const defaultBaseURL = "https://api.openai.com/v1"

type Adapter struct {
	apiKey       string
	baseURL      string
	client       *http.Client
	streamClient *http.Client
}

func New(apiKey, baseURL string) *Adapter {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Adapter{
		apiKey:       apiKey,
		baseURL:      baseURL,
		client:       httputil.DefaultClient(),
		streamClient: httputil.StreamingClient(),
	}
}

func (a *Adapter) Name() string {
	return "openai"
}

func (a *Adapter) Complete(ctx context.Context, req provider.ChatRequest) (*provider.ChatResult, error) {
	body, err := json.Marshal(toWireRequest(req, false))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("openai error: status=%d body=%s", resp.StatusCode, string(bodyBytes))
	}

	var wire wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(wire.Choices) == 0 {
		return nil, fmt.Errorf("openai returned no choices")
	}

	choice := wire.Choices[0]
	return &provider.ChatResult{
		Content:      choice.Message.Content,
		ToolCalls:    fromWireToolCalls(choice.Message.ToolCalls),
		Usage:        domain.NewUsage(wire.Usage.PromptTokens, wire.Usage.CompletionTokens),
		FinishReason: choice.FinishReason,
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

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/chat/completions", bytes.NewReader(body))
		if err != nil {
			errs <- fmt.Errorf("create request: %w", err)
			return
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)
		httpReq.Header.Set("Accept", "text/event-stream")

		resp, err := a.streamClient.Do(httpReq)
		if err != nil {
			errs <- fmt.Errorf("do request: %w", err)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			bodyBytes, _ := io.ReadAll(resp.Body)
			errs <- fmt.Errorf("openai error: status=%d body=%s", resp.StatusCode, string(bodyBytes))
			return
		}

		var usage *domain.Usage
		var finishReason string
		calls := newToolCallAssembler()

		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}

			data := strings.TrimPrefix(line, "data: ")
			if data == "[DONE]" {
				break
			}

			var chunk wireStreamChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				continue
			}

			if chunk.Usage != nil {
				u := domain.NewUsage(chunk.Usage.PromptTokens, chunk.Usage.CompletionTokens)
				usage = &u
			}

			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]

			if choice.FinishReason != nil && *choice.FinishReason != "" {
				finishReason = *choice.FinishReason
			}

			calls.absorb(choice.Delta.ToolCalls)

			if choice.Delta.Content != "" {
				select {
				case chunks <- provider.Chunk{Content: choice.Delta.Content}:
				case <-ctx.Done():
					return
				}
			}
		}

		if err := scanner.Err(); err != nil {
			errs <- fmt.Errorf("scan stream: %w", err)
			return
		}

		for _, tc := range calls.finish() {
			call := tc
			select {
			case chunks <- provider.Chunk{ToolCall: &call}:
			case <-ctx.Done():
				return
			}
		}

		select {
		case chunks <- provider.Chunk{Done: true, Usage: usage, FinishReason: finishReason}:
		case <-ctx.Done():
		}
	}()

	return chunks, errs
}

type wireRequest struct {
	Model         string         `json:"model"`
	Messages      []wireMessage  `json:"messages"`
	Temperature   *float64       `json:"temperature,omitempty"`
	MaxTokens     *int           `json:"max_tokens,omitempty"`
	Stream        bool           `json:"stream,omitempty"`
	StreamOptions *streamOptions `json:"stream_options,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	Name       string         `json:"name,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
}

type wireToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type wireResponse struct {
	Choices []wireChoice `json:"choices"`
	Usage   wireUsage    `json:"usage"`
}

type wireChoice struct {
	Message struct {
		Content   string         `json:"content"`
		ToolCalls []wireToolCall `json:"tool_calls,omitempty"`
	} `json:"message"`
	FinishReason string `json:"finish_reason"`
}

type wireUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type wireStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content   string          `json:"content"`
			ToolCalls []deltaToolCall `json:"tool_calls"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *wireUsage `json:"usage"`
}

type deltaToolCall struct {
	Index    int    `json:"index"`
	ID       string `json:"id"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

func toWireRequest(req provider.ChatRequest, stream bool) wireRequest {
	messages := make([]wireMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, wireMessage{
			Role:       m.Role,
			Content:    m.Content,
			Name:       m.Name,
			ToolCallID: m.ToolCallID,
			ToolCalls:  toWireToolCalls(m.ToolCalls),
		})
	}

	wire := wireRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      stream,
	}
	if stream {
		wire.StreamOptions = &streamOptions{IncludeUsage: true}
	}
	return wire
}

func toWireToolCalls(calls []domain.ToolCall) []wireToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]wireToolCall, 0, len(calls))
	for _, c := range calls {
		args, _ := json.Marshal(c.Arguments)
		out = append(out, wireToolCall{
			ID:   c.ID,
			Type: "function",
			Function: wireFunction{
				Name:      c.Name,
				Arguments: string(args),
			},
		})
	}
	return out
}

func fromWireToolCalls(calls []wireToolCall) []domain.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]domain.ToolCall, 0, len(calls))
	for _, c := range calls {
		out = append(out, domain.ToolCall{
			ID:        c.ID,
			Name:      c.Function.Name,
			Arguments: parseArguments(c.Function.Arguments),
		})
	}
	return out
}

// parseArguments decodes the vendor's argument string; malformed payloads
// are preserved raw so the caller still sees what the model said.
func parseArguments(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return map[string]any{"_raw": raw}
	}
	return args
}

// toolCallAssembler stitches streamed tool-call fragments back together;
// the wire protocol splits one call's arguments across many deltas.
type toolCallAssembler struct {
	order []int
	parts map[int]*toolCallPart
}

type toolCallPart struct {
	id   string
	name string
	args strings.Builder
}

func newToolCallAssembler() *toolCallAssembler {
	return &toolCallAssembler{parts: make(map[int]*toolCallPart)}
}

func (a *toolCallAssembler) absorb(deltas []deltaToolCall) {
	for _, d := range deltas {
		part, ok := a.parts[d.Index]
		if !ok {
			part = &toolCallPart{}
			a.parts[d.Index] = part
			a.order = append(a.order, d.Index)
		}
		if d.ID != "" {
			part.id = d.ID
		}
		if d.Function.Name != "" {
			part.name = d.Function.Name
		}
		part.args.WriteString(d.Function.Arguments)
	}
}

func (a *toolCallAssembler) finish() []domain.ToolCall {
	if len(a.order) == 0 {
		return nil
	}
	out := make([]domain.ToolCall, 0, len(a.order))
	for _, idx := range a.order {
		part := a.parts[idx]
		out = append(out, domain.ToolCall{
			ID:        part.id,
			Name:      part.name,
			Arguments: parseArguments(part.args.String()),
		})
	}
	return out
}
