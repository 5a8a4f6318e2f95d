package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/agentboard/provider-gateway/internal/domain"
	"github.com/agentboard/provider-gateway/internal/metrics"
	"github.com/agentboard/provider-gateway/internal/pricing"
	"github.com/agentboard/provider-gateway/internal/provider"
	"github.com/agentboard/provider-gateway/internal/telemetry"
)

// Chat runs one unary completion: resolve, dispatch, price, emit exactly one
// usage record, return the canonical response. Failures before the upstream
// call (unknown provider, rate limit, open circuit) emit no record.
func (g *Gateway) Chat(ctx context.Context, messages []domain.Message, opts domain.ChatOptions) (*domain.ChatResponse, error) {
	if len(messages) == 0 {
		return nil, fmt.Errorf("%w: empty message list", domain.ErrInvalidRequest)
	}

	providerName, model, catModel, err := g.resolve(domain.ModalityChat, opts.Provider, opts.Model)
	if err != nil {
		return nil, err
	}

	requestID := uuid.NewString()
	start := time.Now()

	ctx, span := telemetry.StartSpan(ctx, "gateway.chat")
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

	adapter, err := g.chatProvider(providerName)
	if err != nil {
		return nil, err
	}

	upstreamCtx, cancel := context.WithTimeout(ctx, g.config.UpstreamTimeout)
	defer cancel()

	result, err := adapter.Complete(upstreamCtx, provider.ChatRequest{
		Model:       model,
		Messages:    messages,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	})
	if err != nil {
		breaker.RecordFailure(ctx)
		wrapped := g.wrapUpstream("chat", providerName, err)
		telemetry.AddErrorAttribute(span, wrapped)
		metrics.RecordRequest(providerName, model, string(domain.OperationChat), "error", time.Since(start).Seconds())
		return nil, wrapped
	}
	breaker.RecordSuccess(ctx)

	cost := g.pricing.Cost(domain.ModalityChat, providerName, model, result.Usage.InputTokens, result.Usage.OutputTokens)
	billed := g.price(cost)

	g.tracker.Emit(ctx, domain.UsageRecord{
		ID:           uuid.NewString(),
		Provider:     providerName,
		Model:        model,
		Operation:    domain.OperationChat,
		InputUnits:   result.Usage.InputTokens,
		OutputUnits:  result.Usage.OutputTokens,
		ProviderCost: cost,
		BilledAmount: billed,
		WorkspaceID:  opts.WorkspaceID,
		ProjectID:    opts.ProjectID,
		AgentID:      opts.AgentID,
		Metadata:     opts.Metadata,
		Timestamp:    time.Now().UTC(),
	})

	telemetry.AddUsageAttributes(span, result.Usage.InputTokens, result.Usage.OutputTokens)
	telemetry.AddBillingAttributes(span, cost, billed)
	metrics.RecordRequest(providerName, model, string(domain.OperationChat), "success", time.Since(start).Seconds())
	metrics.RecordUnits(providerName, model, result.Usage.InputTokens, result.Usage.OutputTokens)
	metrics.RecordCost(providerName, model, cost, billed)

	slog.Info("chat completed",
		"request_id", requestID,
		"provider", providerName,
		"model", model,
		"workspace_id", opts.WorkspaceID,
		"input_tokens", result.Usage.InputTokens,
		"output_tokens", result.Usage.OutputTokens,
		"billed_amount", billed,
		"latency_ms", time.Since(start).Milliseconds(),
	)

	return &domain.ChatResponse{
		RequestID:    requestID,
		Content:      result.Content,
		ToolCalls:    result.ToolCalls,
		Usage:        result.Usage,
		Model:        model,
		Provider:     providerName,
		FinishReason: result.FinishReason,
		ProviderCost: cost,
		BilledAmount: billed,
	}, nil
}

// StreamChat runs one streaming completion. Resolution and dispatch failures
// return an error before any stream exists; past that point every outcome is
// reported on the token channel, which carries tokens in upstream order and
// ends with exactly one terminal token (done or error). One usage record is
// emitted at termination, with zero usage when the stream failed before
// counts were known, so every request produces exactly one accounting signal.
func (g *Gateway) StreamChat(ctx context.Context, messages []domain.Message, opts domain.ChatOptions) (<-chan domain.StreamToken, error) {
	if len(messages) == 0 {
		return nil, fmt.Errorf("%w: empty message list", domain.ErrInvalidRequest)
	}

	providerName, model, catModel, err := g.resolve(domain.ModalityChat, opts.Provider, opts.Model)
	if err != nil {
		return nil, err
	}

	if err := g.allow(ctx, providerName, model, catModel.RateLimitRPM); err != nil {
		return nil, err
	}

	breaker := g.breakers.Get(providerName)
	if err := breaker.Allow(ctx); err != nil {
		metrics.RecordProviderError(providerName, "circuit_open")
		return nil, err
	}

	adapter, err := g.chatProvider(providerName)
	if err != nil {
		return nil, err
	}

	requestID := uuid.NewString()
	out := make(chan domain.StreamToken)

	go func() {
		defer close(out)

		metrics.IncrementActiveStreams()
		defer metrics.DecrementActiveStreams()

		ctx, span := telemetry.StartSpan(ctx, "gateway.stream_chat")
		defer span.End()
		telemetry.AddDispatchAttributes(span, providerName, model, requestID)
		telemetry.AddWorkspaceAttributes(span, opts.WorkspaceID, opts.ProjectID, opts.AgentID)

		streamCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		chunks, errs := adapter.Stream(streamCtx, provider.ChatRequest{
			Model:       model,
			Messages:    messages,
			Temperature: opts.Temperature,
			MaxTokens:   opts.MaxTokens,
		})

		start := time.Now()
		var finalUsage domain.Usage
		emitted := false

		// emitRecord runs at most once per stream regardless of how the
		// stream ends.
		emitRecord := func(u domain.Usage, status string) {
			if emitted {
				return
			}
			emitted = true

			cost := g.pricing.Cost(domain.ModalityChat, providerName, model, u.InputTokens, u.OutputTokens)
			billed := g.price(cost)

			g.tracker.Emit(ctx, domain.UsageRecord{
				ID:           uuid.NewString(),
				Provider:     providerName,
				Model:        model,
				Operation:    domain.OperationChat,
				InputUnits:   u.InputTokens,
				OutputUnits:  u.OutputTokens,
				ProviderCost: cost,
				BilledAmount: billed,
				WorkspaceID:  opts.WorkspaceID,
				ProjectID:    opts.ProjectID,
				AgentID:      opts.AgentID,
				Metadata:     opts.Metadata,
				Timestamp:    time.Now().UTC(),
			})

			telemetry.AddUsageAttributes(span, u.InputTokens, u.OutputTokens)
			telemetry.AddBillingAttributes(span, cost, billed)
			metrics.RecordRequest(providerName, model, string(domain.OperationChat), status, time.Since(start).Seconds())
			metrics.RecordUnits(providerName, model, u.InputTokens, u.OutputTokens)
			metrics.RecordCost(providerName, model, cost, billed)
		}

		fail := func(err error) {
			breaker.RecordFailure(ctx)
			telemetry.AddErrorAttribute(span, err)
			emitRecord(finalUsage, "error")

			select {
			case out <- domain.StreamToken{Type: domain.StreamTokenError, Error: err.Error()}:
			case <-ctx.Done():
			}

			slog.Warn("stream failed",
				"request_id", requestID,
				"provider", providerName,
				"model", model,
				"error", err,
			)
		}

		// A stalled upstream must not hold the stream open forever; the
		// timer bounds the wait for each individual chunk.
		idle := time.NewTimer(g.config.UpstreamTimeout)
		defer idle.Stop()

		for {
			select {
			case chunk, ok := <-chunks:
				if !ok {
					// Closed without a done chunk: surface whatever
					// the error channel holds, or finish with what
					// we counted.
					if errs != nil {
						if err, open := <-errs; open && err != nil {
							fail(g.wrapUpstream("stream chat", providerName, err))
							return
						}
					}
					breaker.RecordSuccess(ctx)
					emitRecord(finalUsage, "success")
					select {
					case out <- domain.StreamToken{Type: domain.StreamTokenDone, Usage: &finalUsage}:
					case <-ctx.Done():
					}
					return
				}

				if !idle.Stop() {
					<-idle.C
				}
				idle.Reset(g.config.UpstreamTimeout)

				switch {
				case chunk.Done:
					if chunk.Usage != nil {
						finalUsage = *chunk.Usage
					}
					breaker.RecordSuccess(ctx)
					emitRecord(finalUsage, "success")
					usageCopy := finalUsage
					select {
					case out <- domain.StreamToken{
						Type:         domain.StreamTokenDone,
						Usage:        &usageCopy,
						FinishReason: chunk.FinishReason,
					}:
					case <-ctx.Done():
					}
					slog.Info("stream completed",
						"request_id", requestID,
						"provider", providerName,
						"model", model,
						"input_tokens", finalUsage.InputTokens,
						"output_tokens", finalUsage.OutputTokens,
						"latency_ms", time.Since(start).Milliseconds(),
					)
					return

				case chunk.ToolCall != nil:
					select {
					case out <- domain.StreamToken{Type: domain.StreamTokenToolCall, ToolCall: chunk.ToolCall}:
					case <-ctx.Done():
						emitRecord(finalUsage, "cancelled")
						return
					}

				case chunk.Content != "":
					select {
					case out <- domain.StreamToken{Type: domain.StreamTokenText, Content: chunk.Content}:
					case <-ctx.Done():
						emitRecord(finalUsage, "cancelled")
						return
					}
				}

			case err, ok := <-errs:
				if !ok {
					errs = nil // closed; stop selecting on it
					continue
				}
				if err != nil {
					fail(g.wrapUpstream("stream chat", providerName, err))
					return
				}

			case <-idle.C:
				fail(&domain.TimeoutError{Op: "stream chat", Timeout: g.config.UpstreamTimeout})
				return

			case <-ctx.Done():
				// Caller disconnected. The upstream work still happened,
				// so the accounting signal is still owed.
				emitRecord(finalUsage, "cancelled")
				return
			}
		}
	}()

	return out, nil
}

// allow enforces the catalog's per-model RPM before any upstream call.
func (g *Gateway) allow(ctx context.Context, providerName, model string, limit int) error {
	allowed, _, resetAt, err := g.limiter.Allow(ctx, providerName, model, limit)
	if err != nil {
		// A broken limiter backend must not take the gateway down.
		slog.Warn("rate limiter unavailable, allowing request", "error", err)
		return nil
	}
	if !allowed {
		metrics.RecordRateLimitHit(providerName, model)
		return fmt.Errorf("%w: %s/%s, window resets at %s",
			domain.ErrRateLimitExceeded, providerName, model, resetAt.UTC().Format(time.RFC3339))
	}
	return nil
}

func (g *Gateway) price(cost float64) float64 {
	return pricing.Price(cost, g.config.BillingMarkup, g.config.BillingIncrement)
}

func (g *Gateway) wrapUpstream(op, providerName string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		metrics.RecordProviderError(providerName, "timeout")
		return &domain.TimeoutError{Op: op, Timeout: g.config.UpstreamTimeout}
	}
	metrics.RecordProviderError(providerName, "upstream")
	return &domain.UpstreamError{Provider: providerName, Err: err}
}
