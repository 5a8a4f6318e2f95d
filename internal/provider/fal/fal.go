// Package fal adapts the fal.ai queue API. Jobs are submitted, then polled;
// the queue returns a request ID immediately and the output later. The same
// queue serves image and video models, so one client backs both adapters.
package fal

import (
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

const defaultBaseURL = "https://queue.fal.run"

type client struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// ImageAdapter implements provider.ImageProvider against the fal queue.
type ImageAdapter struct {
	c *client
}

// VideoAdapter implements provider.VideoProvider against the fal queue.
type VideoAdapter struct {
	c *client
}

func NewImage(apiKey string) *ImageAdapter {
	return &ImageAdapter{c: newClient(apiKey)}
}

func NewVideo(apiKey string) *VideoAdapter {
	return &VideoAdapter{c: newClient(apiKey)}
}

func newClient(apiKey string) *client {
	return &client{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http:    httputil.DefaultClient(),
	}
}

func (a *ImageAdapter) Name() string { return "fal" }
func (a *VideoAdapter) Name() string { return "fal" }

func (a *ImageAdapter) Generate(ctx context.Context, req provider.ImageRequest) (string, error) {
	payload := map[string]any{
		"prompt": req.Prompt,
	}
	if req.Size != "" {
		payload["image_size"] = req.Size
	}
	if req.Count > 0 {
		payload["num_images"] = req.Count
	}
	return a.c.submit(ctx, req.Model, payload)
}

func (a *VideoAdapter) Generate(ctx context.Context, req provider.VideoRequest) (string, error) {
	payload := map[string]any{
		"prompt": req.Prompt,
	}
	if req.DurationSeconds > 0 {
		payload["duration"] = req.DurationSeconds
	}
	return a.c.submit(ctx, req.Model, payload)
}

func (a *ImageAdapter) Status(ctx context.Context, jobID string) (*domain.JobStatus, error) {
	return a.c.status(ctx, jobID)
}

func (a *VideoAdapter) Status(ctx context.Context, jobID string) (*domain.JobStatus, error) {
	return a.c.status(ctx, jobID)
}

func (c *client) submit(ctx context.Context, model string, payload map[string]any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/%s", c.baseURL, model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Key "+c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("fal error: status=%d body=%s", resp.StatusCode, string(bodyBytes))
	}

	var wire wireSubmit
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return "", fmt.Errorf("decode submit response: %w", err)
	}
	if wire.RequestID == "" {
		return "", fmt.Errorf("fal returned no request id")
	}

	return encodeJobID(model, wire.RequestID), nil
}

// status maps the queue states: IN_QUEUE and IN_PROGRESS are still running,
// COMPLETED means the output endpoint holds the result. A jobID the queue
// does not recognize surfaces as domain.ErrJobNotFound.
func (c *client) status(ctx context.Context, rawID string) (*domain.JobStatus, error) {
	model, requestID, err := decodeJobID(rawID)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/%s/requests/%s/status", c.baseURL, model, requestID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Key "+c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, domain.ErrJobNotFound
	}
	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("fal error: status=%d body=%s", resp.StatusCode, string(bodyBytes))
	}

	var wire wireStatus
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}

	switch wire.Status {
	case "IN_QUEUE":
		return &domain.JobStatus{ID: rawID, State: domain.JobPending}, nil
	case "IN_PROGRESS":
		return &domain.JobStatus{ID: rawID, State: domain.JobRunning}, nil
	case "COMPLETED":
		return c.fetchResult(ctx, rawID, model, requestID)
	default:
		return &domain.JobStatus{
			ID:    rawID,
			State: domain.JobFailed,
			Error: fmt.Sprintf("fal status %q", wire.Status),
		}, nil
	}
}

func (c *client) fetchResult(ctx context.Context, rawID, model, requestID string) (*domain.JobStatus, error) {
	url := fmt.Sprintf("%s/%s/requests/%s", c.baseURL, model, requestID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Key "+c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("fal error: status=%d body=%s", resp.StatusCode, string(bodyBytes))
	}

	var wire wireResult
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}

	var output []string
	for _, img := range wire.Images {
		if img.URL != "" {
			output = append(output, img.URL)
		}
	}
	if wire.Video.URL != "" {
		output = append(output, wire.Video.URL)
	}

	// Images bill per image; video bills per second of output.
	units := len(wire.Images)
	if wire.Video.URL != "" {
		units = int(wire.Video.Duration)
		if units == 0 {
			units = 1
		}
	}

	return &domain.JobStatus{
		ID:     rawID,
		State:  domain.JobCompleted,
		Output: output,
		Units:  units,
	}, nil
}

// Job IDs round-trip the queue path components the status endpoints need:
// "<model>/<request_id>". The gateway treats the encoded form as opaque.
func encodeJobID(model, requestID string) string {
	return model + "/" + requestID
}

func decodeJobID(raw string) (model, requestID string, err error) {
	slash := strings.LastIndex(raw, "/")
	if slash <= 0 || slash == len(raw)-1 {
		return "", "", domain.ErrJobNotFound
	}
	return raw[:slash], raw[slash+1:], nil
}

type wireSubmit struct {
	RequestID string `json:"request_id"`
}

type wireStatus struct {
	Status string `json:"status"`
}

type wireResult struct {
	Images []struct {
		URL string `json:"url"`
	} `json:"images"`
	Video struct {
		URL      string  `json:"url"`
		Duration float64 `json:"duration"`
	} `json:"video"`
}
