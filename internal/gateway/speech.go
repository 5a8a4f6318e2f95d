package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/agentboard/provider-gateway/internal/domain"
	"github.com/agentboard/provider-gateway/internal/metrics"
	"github.com/agentboard/provider-gateway/internal/provider"
	"github.com/agentboard/provider-gateway/internal/telemetry"
)

// SynthesizeSpeech renders text to audio. Voice bills on input characters,
// so the usage record carries them as input units.
func (g *Gateway) SynthesizeSpeech(ctx context.Context, text string, opts domain.SpeechOptions) (*domain.SpeechResponse, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: empty text", domain.ErrInvalidRequest)
	}

	providerName, model, catModel, err := g.resolve(domain.ModalityVoice, opts.Provider, opts.Model)
	if err != nil {
		return nil, err
	}

	requestID := uuid.NewString()
	start := time.Now()

	ctx, span := telemetry.StartSpan(ctx, "gateway.synthesize_speech")
	defer span.End()
	telemetry.AddDispatchAttributes(span, providerName, model, requestID)
	telemetry.AddWorkspaceAttributes(span, opts.WorkspaceID, opts.ProjectID, opts.AgentID)

	if err := g.allow(ctx, providerName, model, catModel.RateLimitRPM); err != nil {
		return nil, err
	}

	breaker := g.breakers.Get(providerName)
	if err := breaker.Allow(ctx); err != nil {
		metrics.RecordProviderError(providerName, "circuit_open")
		return nil, err
	}

	adapter, err := g.voiceProvider(providerName)
	if err != nil {
		return nil, err
	}

	upstreamCtx, cancel := context.WithTimeout(ctx, g.config.UpstreamTimeout)
	defer cancel()

	result, err := adapter.Synthesize(upstreamCtx, provider.SpeechRequest{
		Model: model,
		Voice: opts.Voice,
		Text:  text,
	})
	if err != nil {
		breaker.RecordFailure(ctx)
		wrapped := g.wrapUpstream("speech synthesis", providerName, err)
		telemetry.AddErrorAttribute(span, wrapped)
		metrics.RecordRequest(providerName, model, string(domain.OperationVoice), "error", time.Since(start).Seconds())
		return nil, wrapped
	}
	breaker.RecordSuccess(ctx)

	cost := g.pricing.Cost(domain.ModalityVoice, providerName, model, result.Characters, 0)
	billed := g.price(cost)

	g.tracker.Emit(ctx, domain.UsageRecord{
		ID:           uuid.NewString(),
		Provider:     providerName,
		Model:        model,
		Operation:    domain.OperationVoice,
		InputUnits:   result.Characters,
		ProviderCost: cost,
		BilledAmount: billed,
		WorkspaceID:  opts.WorkspaceID,
		ProjectID:    opts.ProjectID,
		AgentID:      opts.AgentID,
		Metadata:     opts.Metadata,
		Timestamp:    time.Now().UTC(),
	})

	telemetry.AddUsageAttributes(span, result.Characters, 0)
	telemetry.AddBillingAttributes(span, cost, billed)
	metrics.RecordRequest(providerName, model, string(domain.OperationVoice), "success", time.Since(start).Seconds())
	metrics.RecordUnits(providerName, model, result.Characters, 0)
	metrics.RecordCost(providerName, model, cost, billed)

	slog.Info("speech synthesized",
		"request_id", requestID,
		"provider", providerName,
		"model", model,
		"workspace_id", opts.WorkspaceID,
		"characters", result.Characters,
		"billed_amount", billed,
		"latency_ms", time.Since(start).Milliseconds(),
	)

	return &domain.SpeechResponse{
		RequestID:    requestID,
		Audio:        result.Audio,
		ContentType:  result.ContentType,
		Characters:   result.Characters,
		Model:        model,
		Provider:     providerName,
		ProviderCost: cost,
		BilledAmount: billed,
	}, nil
}
