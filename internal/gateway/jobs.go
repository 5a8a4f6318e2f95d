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
	"github.com/agentboard/provider-gateway/internal/provider"
	"github.com/agentboard/provider-gateway/internal/telemetry"
)

// jobRecord carries the billing context of one submitted job until the job
// settles. Removed after the usage record is emitted, so a job settles its
// account exactly once no matter how many times it is polled.
type jobRecord struct {
	provider    string
	model       string
	operation   domain.Operation
	modality    domain.Modality
	workspaceID string
	projectID   string
	agentID     string
	metadata    map[string]any
	submittedAt time.Time
}

// GenerateImage submits an asynchronous image job. The returned cost is an
// estimate from the requested count; the billed amount is final only when
// the job completes and real units are known.
func (g *Gateway) GenerateImage(ctx context.Context, prompt string, opts domain.ImageOptions) (*domain.Job, error) {
	if prompt == "" {
		return nil, fmt.Errorf("%w: empty prompt", domain.ErrInvalidRequest)
	}

	providerName, model, catModel, err := g.resolve(domain.ModalityImage, opts.Provider, opts.Model)
	if err != nil {
		return nil, err
	}

	count := opts.Count
	if count <= 0 {
		count = 1
	}

	ctx, span := telemetry.StartSpan(ctx, "gateway.generate_image")
	defer span.End()
	telemetry.AddWorkspaceAttributes(span, opts.WorkspaceID, opts.ProjectID, opts.AgentID)

	if err := g.allow(ctx, providerName, model, catModel.RateLimitRPM); err != nil {
		return nil, err
	}

	breaker := g.breakers.Get(providerName)
	if err := breaker.Allow(ctx); err != nil {
		metrics.RecordProviderError(providerName, "circuit_open")
		return nil, err
	}

	adapter, err := g.imageProvider(providerName)
	if err != nil {
		return nil, err
	}

	upstreamCtx, cancel := context.WithTimeout(ctx, g.config.UpstreamTimeout)
	defer cancel()

	jobID, err := adapter.Generate(upstreamCtx, provider.ImageRequest{
		Model:  model,
		Prompt: prompt,
		Size:   opts.Size,
		Count:  count,
	})
	if err != nil {
		breaker.RecordFailure(ctx)
		wrapped := g.wrapUpstream("image generation", providerName, err)
		telemetry.AddErrorAttribute(span, wrapped)
		return nil, wrapped
	}
	breaker.RecordSuccess(ctx)

	estimated := g.price(g.pricing.Cost(domain.ModalityImage, providerName, model, 0, count))

	g.trackJob(jobID, &jobRecord{
		provider:    providerName,
		model:       model,
		operation:   domain.OperationImage,
		modality:    domain.ModalityImage,
		workspaceID: opts.WorkspaceID,
		projectID:   opts.ProjectID,
		agentID:     opts.AgentID,
		metadata:    opts.Metadata,
		submittedAt: time.Now(),
	})

	telemetry.AddDispatchAttributes(span, providerName, model, jobID)
	slog.Info("image job submitted",
		"job_id", jobID,
		"provider", providerName,
		"model", model,
		"workspace_id", opts.WorkspaceID,
		"estimated_cost", estimated,
	)

	return &domain.Job{
		ID:            jobID,
		Provider:      providerName,
		Model:         model,
		Operation:     domain.OperationImage,
		EstimatedCost: estimated,
	}, nil
}

// ImageJobStatus polls one image job. The first poll that sees a terminal
// state settles the job's usage record.
func (g *Gateway) ImageJobStatus(ctx context.Context, providerName, jobID string) (*domain.JobStatus, error) {
	adapter, err := g.imageProvider(providerName)
	if err != nil {
		return nil, err
	}
	return g.pollJob(ctx, providerName, jobID, adapter.Status)
}

// GenerateVideo submits an asynchronous video job, estimated from the
// requested duration in seconds.
func (g *Gateway) GenerateVideo(ctx context.Context, prompt string, opts domain.VideoOptions) (*domain.Job, error) {
	if prompt == "" {
		return nil, fmt.Errorf("%w: empty prompt", domain.ErrInvalidRequest)
	}

	providerName, model, catModel, err := g.resolve(domain.ModalityVideo, opts.Provider, opts.Model)
	if err != nil {
		return nil, err
	}

	seconds := opts.DurationSeconds
	if seconds <= 0 {
		seconds = 5
	}

	ctx, span := telemetry.StartSpan(ctx, "gateway.generate_video")
	defer span.End()
	telemetry.AddWorkspaceAttributes(span, opts.WorkspaceID, opts.ProjectID, opts.AgentID)

	if err := g.allow(ctx, providerName, model, catModel.RateLimitRPM); err != nil {
		return nil, err
	}

	breaker := g.breakers.Get(providerName)
	if err := breaker.Allow(ctx); err != nil {
		metrics.RecordProviderError(providerName, "circuit_open")
		return nil, err
	}

	adapter, err := g.videoProvider(providerName)
	if err != nil {
		return nil, err
	}

	upstreamCtx, cancel := context.WithTimeout(ctx, g.config.UpstreamTimeout)
	defer cancel()

	jobID, err := adapter.Generate(upstreamCtx, provider.VideoRequest{
		Model:           model,
		Prompt:          prompt,
		DurationSeconds: seconds,
	})
	if err != nil {
		breaker.RecordFailure(ctx)
		wrapped := g.wrapUpstream("video generation", providerName, err)
		telemetry.AddErrorAttribute(span, wrapped)
		return nil, wrapped
	}
	breaker.RecordSuccess(ctx)

	estimated := g.price(g.pricing.Cost(domain.ModalityVideo, providerName, model, 0, seconds))

	g.trackJob(jobID, &jobRecord{
		provider:    providerName,
		model:       model,
		operation:   domain.OperationVideo,
		modality:    domain.ModalityVideo,
		workspaceID: opts.WorkspaceID,
		projectID:   opts.ProjectID,
		agentID:     opts.AgentID,
		metadata:    opts.Metadata,
		submittedAt: time.Now(),
	})

	telemetry.AddDispatchAttributes(span, providerName, model, jobID)
	slog.Info("video job submitted",
		"job_id", jobID,
		"provider", providerName,
		"model", model,
		"workspace_id", opts.WorkspaceID,
		"estimated_cost", estimated,
	)

	return &domain.Job{
		ID:            jobID,
		Provider:      providerName,
		Model:         model,
		Operation:     domain.OperationVideo,
		EstimatedCost: estimated,
	}, nil
}

// VideoJobStatus polls one video job, settling its account on the first
// terminal poll.
func (g *Gateway) VideoJobStatus(ctx context.Context, providerName, jobID string) (*domain.JobStatus, error) {
	adapter, err := g.videoProvider(providerName)
	if err != nil {
		return nil, err
	}
	return g.pollJob(ctx, providerName, jobID, adapter.Status)
}

func (g *Gateway) pollJob(
	ctx context.Context,
	providerName, jobID string,
	poll func(context.Context, string) (*domain.JobStatus, error),
) (*domain.JobStatus, error) {
	upstreamCtx, cancel := context.WithTimeout(ctx, g.config.UpstreamTimeout)
	defer cancel()

	status, err := poll(upstreamCtx, jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			return nil, err
		}
		return nil, g.wrapUpstream("job status", providerName, err)
	}

	if status.State == domain.JobCompleted || status.State == domain.JobFailed {
		g.settleJob(ctx, jobID, status)
	}

	return status, nil
}

func (g *Gateway) trackJob(jobID string, rec *jobRecord) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.jobs[jobID] = rec
}

// settleJob emits the job's usage record exactly once: taking the record
// out of the map under the lock is the claim. A failed job settles with
// zero units so the accounting signal still happens. Jobs submitted by
// another instance (or before a restart) are not in the map and are that
// instance's responsibility.
func (g *Gateway) settleJob(ctx context.Context, jobID string, status *domain.JobStatus) {
	g.mu.Lock()
	rec, ok := g.jobs[jobID]
	if ok {
		delete(g.jobs, jobID)
	}
	g.mu.Unlock()

	if !ok {
		return
	}

	units := 0
	recordStatus := "error"
	if status.State == domain.JobCompleted {
		units = status.Units
		recordStatus = "success"
	}

	cost := g.pricing.Cost(rec.modality, rec.provider, rec.model, 0, units)
	billed := g.price(cost)

	g.tracker.Emit(ctx, domain.UsageRecord{
		ID:           uuid.NewString(),
		Provider:     rec.provider,
		Model:        rec.model,
		Operation:    rec.operation,
		OutputUnits:  units,
		ProviderCost: cost,
		BilledAmount: billed,
		WorkspaceID:  rec.workspaceID,
		ProjectID:    rec.projectID,
		AgentID:      rec.agentID,
		Metadata:     rec.metadata,
		Timestamp:    time.Now().UTC(),
	})

	metrics.RecordRequest(rec.provider, rec.model, string(rec.operation), recordStatus, time.Since(rec.submittedAt).Seconds())
	metrics.RecordUnits(rec.provider, rec.model, 0, units)
	metrics.RecordCost(rec.provider, rec.model, cost, billed)

	slog.Info("job settled",
		"job_id", jobID,
		"provider", rec.provider,
		"model", rec.model,
		"state", status.State,
		"units", units,
		"billed_amount", billed,
	)
}
