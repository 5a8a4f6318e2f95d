// Package api is the HTTP surface of the gateway. Handlers decode and
// validate the wire shapes, delegate to the gateway façade, and translate
// the domain error taxonomy to status codes. No billing or dispatch logic
// lives here.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agentboard/provider-gateway/internal/circuitbreaker"
	"github.com/agentboard/provider-gateway/internal/domain"
	"github.com/agentboard/provider-gateway/internal/gateway"
	"github.com/agentboard/provider-gateway/internal/sse"
)

type HandlerConfig struct {
	Gateway  *gateway.Gateway
	Breakers *circuitbreaker.Manager

	// Readiness checks for backing services; empty means always ready.
	Checkers     []HealthChecker
	CheckTimeout time.Duration
}

type Handler struct {
	gateway  *gateway.Gateway
	breakers *circuitbreaker.Manager
	mux      *http.ServeMux
}

func NewHandler(cfg HandlerConfig) *Handler {
	checkTimeout := cfg.CheckTimeout
	if checkTimeout == 0 {
		checkTimeout = 5 * time.Second
	}

	h := &Handler{
		gateway:  cfg.Gateway,
		breakers: cfg.Breakers,
		mux:      http.NewServeMux(),
	}

	h.mux.HandleFunc("POST /v1/chat/completions", h.handleChatCompletions)
	h.mux.HandleFunc("GET /v1/providers", h.handleListProviders)
	h.mux.HandleFunc("GET /v1/providers/{type}/{provider}/models", h.handleProviderModels)
	h.mux.HandleFunc("POST /v1/images/generations", h.handleGenerateImage)
	h.mux.HandleFunc("GET /v1/images/generations/{provider}/{id}", h.handleImageJobStatus)
	h.mux.HandleFunc("POST /v1/videos/generations", h.handleGenerateVideo)
	h.mux.HandleFunc("GET /v1/videos/generations/{provider}/{id}", h.handleVideoJobStatus)
	h.mux.HandleFunc("POST /v1/audio/speech", h.handleSynthesizeSpeech)
	h.mux.HandleFunc("GET /health", h.handleHealth)
	h.mux.HandleFunc("GET /health/live", h.handleHealthLive)
	h.mux.HandleFunc("GET /health/ready", handleHealthReadyWithCheckers(cfg.Checkers, checkTimeout))
	h.mux.Handle("GET /metrics", promhttp.Handler())

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

type chatRequest struct {
	Messages    []domain.Message `json:"messages"`
	Provider    string           `json:"provider,omitempty"`
	Model       string           `json:"model,omitempty"`
	Temperature *float64         `json:"temperature,omitempty"`
	MaxTokens   *int             `json:"max_tokens,omitempty"`
	Stream      bool             `json:"stream,omitempty"`
	WorkspaceID string           `json:"workspace_id,omitempty"`
	ProjectID   string           `json:"project_id,omitempty"`
	AgentID     string           `json:"agent_id,omitempty"`
	Metadata    map[string]any   `json:"metadata,omitempty"`
}

func (h *Handler) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()
	requestID := requestIDFrom(r)

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	opts := domain.ChatOptions{
		Provider:    req.Provider,
		Model:       req.Model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		WorkspaceID: req.WorkspaceID,
		ProjectID:   req.ProjectID,
		AgentID:     req.AgentID,
		Metadata:    req.Metadata,
	}

	if req.Stream {
		h.streamChat(w, r, req.Messages, opts, requestID)
		return
	}

	resp, err := h.gateway.Chat(ctx, req.Messages, opts)
	if err != nil {
		writeDomainError(w, requestID, err)
		return
	}

	slog.Info("chat request served",
		"request_id", requestID,
		"provider", resp.Provider,
		"model", resp.Model,
		"latency_ms", time.Since(start).Milliseconds(),
	)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Request-ID", requestID)
	json.NewEncoder(w).Encode(resp)
}

func (h *Handler) streamChat(w http.ResponseWriter, r *http.Request, messages []domain.Message, opts domain.ChatOptions, requestID string) {
	ctx := r.Context()

	// Preflight failures (unknown provider, rate limit, open circuit) arrive
	// before any event is framed, so they still map to plain status codes.
	tokens, err := h.gateway.StreamChat(ctx, messages, opts)
	if err != nil {
		writeDomainError(w, requestID, err)
		return
	}

	w.Header().Set("X-Request-ID", requestID)
	writer, err := sse.NewWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	defer writer.Close()

	for token := range tokens {
		if err := writer.WriteToken(token); err != nil {
			// Client went away; the gateway sees the context cancel and
			// settles usage on its own.
			slog.Debug("stream write failed", "request_id", requestID, "error", err)
			return
		}
		if token.Terminal() {
			return
		}
	}
}

func (h *Handler) handleListProviders(w http.ResponseWriter, r *http.Request) {
	providers := h.gateway.GetAvailableProviders()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"providers": providers})
}

func (h *Handler) handleProviderModels(w http.ResponseWriter, r *http.Request) {
	modality := domain.Modality(r.PathValue("type"))
	providerName := r.PathValue("provider")

	models, err := h.gateway.GetProviderModels(modality, providerName)
	if err != nil {
		writeDomainError(w, requestIDFrom(r), err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"provider": providerName,
		"type":     modality,
		"models":   models,
	})
}

type imageRequest struct {
	Prompt      string         `json:"prompt"`
	Provider    string         `json:"provider,omitempty"`
	Model       string         `json:"model,omitempty"`
	Size        string         `json:"size,omitempty"`
	Count       int            `json:"count,omitempty"`
	WorkspaceID string         `json:"workspace_id,omitempty"`
	ProjectID   string         `json:"project_id,omitempty"`
	AgentID     string         `json:"agent_id,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

func (h *Handler) handleGenerateImage(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFrom(r)

	var req imageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	job, err := h.gateway.GenerateImage(r.Context(), req.Prompt, domain.ImageOptions{
		Provider:    req.Provider,
		Model:       req.Model,
		Size:        req.Size,
		Count:       req.Count,
		WorkspaceID: req.WorkspaceID,
		ProjectID:   req.ProjectID,
		AgentID:     req.AgentID,
		Metadata:    req.Metadata,
	})
	if err != nil {
		writeDomainError(w, requestID, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Request-ID", requestID)
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]any{
		"job_id":         job.ID,
		"provider":       job.Provider,
		"model":          job.Model,
		"estimated_cost": job.EstimatedCost,
	})
}

func (h *Handler) handleImageJobStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.gateway.ImageJobStatus(r.Context(), r.PathValue("provider"), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, requestIDFrom(r), err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

type videoRequest struct {
	Prompt          string         `json:"prompt"`
	Provider        string         `json:"provider,omitempty"`
	Model           string         `json:"model,omitempty"`
	DurationSeconds int            `json:"duration_seconds,omitempty"`
	WorkspaceID     string         `json:"workspace_id,omitempty"`
	ProjectID       string         `json:"project_id,omitempty"`
	AgentID         string         `json:"agent_id,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

func (h *Handler) handleGenerateVideo(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFrom(r)

	var req videoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	job, err := h.gateway.GenerateVideo(r.Context(), req.Prompt, domain.VideoOptions{
		Provider:        req.Provider,
		Model:           req.Model,
		DurationSeconds: req.DurationSeconds,
		WorkspaceID:     req.WorkspaceID,
		ProjectID:       req.ProjectID,
		AgentID:         req.AgentID,
		Metadata:        req.Metadata,
	})
	if err != nil {
		writeDomainError(w, requestID, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Request-ID", requestID)
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]any{
		"job_id":         job.ID,
		"provider":       job.Provider,
		"model":          job.Model,
		"estimated_cost": job.EstimatedCost,
	})
}

func (h *Handler) handleVideoJobStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.gateway.VideoJobStatus(r.Context(), r.PathValue("provider"), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, requestIDFrom(r), err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

type speechRequest struct {
	Text        string         `json:"text"`
	Provider    string         `json:"provider,omitempty"`
	Model       string         `json:"model,omitempty"`
	Voice       string         `json:"voice,omitempty"`
	WorkspaceID string         `json:"workspace_id,omitempty"`
	ProjectID   string         `json:"project_id,omitempty"`
	AgentID     string         `json:"agent_id,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// handleSynthesizeSpeech returns the raw audio payload; billing facts ride in
// response headers since the body is not JSON.
func (h *Handler) handleSynthesizeSpeech(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFrom(r)

	var req speechRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resp, err := h.gateway.SynthesizeSpeech(r.Context(), req.Text, domain.SpeechOptions{
		Provider:    req.Provider,
		Model:       req.Model,
		Voice:       req.Voice,
		WorkspaceID: req.WorkspaceID,
		ProjectID:   req.ProjectID,
		AgentID:     req.AgentID,
		Metadata:    req.Metadata,
	})
	if err != nil {
		writeDomainError(w, requestID, err)
		return
	}

	w.Header().Set("Content-Type", resp.ContentType)
	w.Header().Set("X-Request-ID", requestID)
	w.Header().Set("X-Characters", strconv.Itoa(resp.Characters))
	w.Header().Set("X-Billed-Amount", strconv.FormatFloat(resp.BilledAmount, 'f', -1, 64))
	w.Write(resp.Audio)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "healthy"}
	if h.breakers != nil {
		resp["circuit_breakers"] = h.breakers.States()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (h *Handler) handleHealthLive(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func requestIDFrom(r *http.Request) string {
	if id := r.Header.Get("X-Request-ID"); id != "" {
		return id
	}
	return uuid.New().String()
}

// writeDomainError maps the error taxonomy to HTTP status codes. Ordering
// matters: configuration errors are checked before the catch-all upstream
// classes so a 4xx never masquerades as a 5xx.
func writeDomainError(w http.ResponseWriter, requestID string, err error) {
	var status int
	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrProviderNotFound),
		errors.Is(err, domain.ErrModelNotFound),
		errors.Is(err, domain.ErrJobNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrNotImplemented):
		status = http.StatusNotImplemented
	case errors.Is(err, domain.ErrRateLimitExceeded):
		status = http.StatusTooManyRequests
	case errors.Is(err, domain.ErrCircuitOpen):
		status = http.StatusServiceUnavailable
	case domain.IsTimeout(err):
		status = http.StatusGatewayTimeout
	default:
		var ue *domain.UpstreamError
		if errors.As(err, &ue) {
			status = http.StatusBadGateway
		} else {
			status = http.StatusInternalServerError
		}
	}

	if status >= 500 {
		slog.Error("request failed", "request_id", requestID, "status", status, "error", err)
	} else {
		slog.Warn("request rejected", "request_id", requestID, "status", status, "error", err)
	}

	writeError(w, status, err.Error())
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": message,
			"type":    "error",
			"code":    status,
		},
	})
}
