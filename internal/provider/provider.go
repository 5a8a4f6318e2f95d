// Package provider defines the capability interfaces one vendor adapter
// implements per modality, plus the canonical request/result shapes the
// gateway operates on. Adapters translate these to vendor payloads and
// back; nothing vendor-specific leaks above this package.
package provider

import (
	"context"

	"github.com/agentboard/provider-gateway/internal/domain"
)

// ChatRequest is the canonical completion input handed to a chat adapter.
type ChatRequest struct {
	Model       string
	Messages    []domain.Message
	Temperature *float64
	MaxTokens   *int
}

// ChatResult is the canonical unary completion output.
type ChatResult struct {
	Content      string
	ToolCalls    []domain.ToolCall
	Usage        domain.Usage
	FinishReason string
}

// Chunk is one canonical unit of a streaming completion. Usage typically
// arrives only on the final chunk; adapters that never learn usage leave
// it nil and the gateway bills zero.
type Chunk struct {
	Content      string
	ToolCall     *domain.ToolCall
	Usage        *domain.Usage
	FinishReason string
	Done         bool
}

// ChatProvider is a unary+streaming completion adapter for one vendor.
// Stream's channels are closed by the adapter when the upstream ends;
// cancellation is caller-driven through ctx, which releases the underlying
// connection.
type ChatProvider interface {
	Name() string
	Complete(ctx context.Context, req ChatRequest) (*ChatResult, error)
	Stream(ctx context.Context, req ChatRequest) (<-chan Chunk, <-chan error)
}

// ImageRequest describes one image generation job.
type ImageRequest struct {
	Model  string
	Prompt string
	Size   string
	Count  int
}

// VideoRequest describes one video generation job.
type VideoRequest struct {
	Model           string
	Prompt          string
	DurationSeconds int
}

// ImageProvider submits image jobs and reports their progress. These
// vendors are submit-then-poll, not request/response.
type ImageProvider interface {
	Name() string
	Generate(ctx context.Context, req ImageRequest) (jobID string, err error)
	Status(ctx context.Context, jobID string) (*domain.JobStatus, error)
}

// VideoProvider submits video jobs and reports their progress.
type VideoProvider interface {
	Name() string
	Generate(ctx context.Context, req VideoRequest) (jobID string, err error)
	Status(ctx context.Context, jobID string) (*domain.JobStatus, error)
}

// SpeechRequest describes one voice synthesis call.
type SpeechRequest struct {
	Model string
	Voice string
	Text  string
}

// SpeechResult carries the synthesized audio. Characters is the billable
// unit count.
type SpeechResult struct {
	Audio       []byte
	ContentType string
	Characters  int
}

// VoiceProvider synthesizes speech from text.
type VoiceProvider interface {
	Name() string
	Synthesize(ctx context.Context, req SpeechRequest) (*SpeechResult, error)
}
