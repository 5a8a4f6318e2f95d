package google

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

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

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
	return "google"
}

func (a *Adapter) Complete(ctx context.Context, req provider.ChatRequest) (*provider.ChatResult, error) {
	body, err := json.Marshal(toWireRequest(req))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", a.baseURL, req.Model, a.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("google error: status=%d body=%s", resp.StatusCode, string(bodyBytes))
	}

	var wire wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(wire.Candidates) == 0 {
		return nil, fmt.Errorf("google returned no candidates")
	}

	candidate := wire.Candidates[0]
	var content string
	for _, part := range candidate.Content.Parts {
		content += part.Text
	}

	return &provider.ChatResult{
		Content:      content,
		Usage:        domain.NewUsage(wire.UsageMetadata.PromptTokenCount, wire.UsageMetadata.CandidatesTokenCount),
		FinishReason: mapFinishReason(candidate.FinishReason),
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

		url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse&key=%s", a.baseURL, req.Model, a.apiKey)
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			errs <- fmt.Errorf("create request: %w", err)
			return
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := a.streamClient.Do(httpReq)
		if err != nil {
			errs <- fmt.Errorf("do request: %w", err)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			bodyBytes, _ := io.ReadAll(resp.Body)
			errs <- fmt.Errorf("google error: status=%d body=%s", resp.StatusCode, string(bodyBytes))
			return
		}

		var usage domain.Usage
		var finishReason string

		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}

			var wire wireResponse
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &wire); err != nil {
				continue
			}

			// Gemini repeats cumulative usage on every event; keep the last.
			usage = domain.NewUsage(wire.UsageMetadata.PromptTokenCount, wire.UsageMetadata.CandidatesTokenCount)

			if len(wire.Candidates) == 0 {
				continue
			}
			candidate := wire.Candidates[0]
			if candidate.FinishReason != "" {
				finishReason = mapFinishReason(candidate.FinishReason)
			}

			for _, part := range candidate.Content.Parts {
				if part.Text == "" {
					continue
				}
				select {
				case chunks <- provider.Chunk{Content: part.Text}:
				case <-ctx.Done():
					return
				}
			}
		}

		if err := scanner.Err(); err != nil {
			errs <- fmt.Errorf("scan stream: %w", err)
			return
		}

		select {
		case chunks <- provider.Chunk{Done: true, Usage: &usage, FinishReason: finishReason}:
		case <-ctx.Done():
		}
	}()

	return chunks, errs
}

type wireRequest struct {
	Contents          []wireContent   `json:"contents"`
	SystemInstruction *wireContent    `json:"systemInstruction,omitempty"`
	GenerationConfig  *wireGenConfig  `json:"generationConfig,omitempty"`
}

type wireContent struct {
	Role  string     `json:"role,omitempty"`
	Parts []wirePart `json:"parts"`
}

type wirePart struct {
	Text string `json:"text"`
}

type wireGenConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
}

type wireResponse struct {
	Candidates []struct {
		Content      wireContent `json:"content"`
		FinishReason string      `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}

func toWireRequest(req provider.ChatRequest) wireRequest {
	var system *wireContent
	contents := make([]wireContent, 0, len(req.Messages))

	for _, m := range req.Messages {
		switch m.Role {
		case domain.RoleSystem:
			system = &wireContent{Parts: []wirePart{{Text: m.Content}}}
		case domain.RoleAssistant:
			contents = append(contents, wireContent{Role: "model", Parts: []wirePart{{Text: m.Content}}})
		default:
			contents = append(contents, wireContent{Role: "user", Parts: []wirePart{{Text: m.Content}}})
		}
	}

	var genConfig *wireGenConfig
	if req.Temperature != nil || req.MaxTokens != nil {
		genConfig = &wireGenConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: req.MaxTokens,
		}
	}

	return wireRequest{
		Contents:          contents,
		SystemInstruction: system,
		GenerationConfig:  genConfig,
	}
}

func mapFinishReason(reason string) string {
	switch reason {
	case "STOP":
		return "stop"
	case "MAX_TOKENS":
		return "length"
	default:
		return strings.ToLower(reason)
	}
}
