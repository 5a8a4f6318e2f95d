package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/agentboard/provider-gateway/internal/catalog"
	"github.com/agentboard/provider-gateway/internal/circuitbreaker"
	"github.com/agentboard/provider-gateway/internal/domain"
	"github.com/agentboard/provider-gateway/internal/provider"
	"github.com/agentboard/provider-gateway/internal/usage"
)

type mockChat struct {
	completeFn func(ctx context.Context, req provider.ChatRequest) (*provider.ChatResult, error)
	streamFn   func(ctx context.Context, req provider.ChatRequest) (<-chan provider.Chunk, <-chan error)
}

func (m *mockChat) Name() string { return "mock" }

func (m *mockChat) Complete(ctx context.Context, req provider.ChatRequest) (*provider.ChatResult, error) {
	return m.completeFn(ctx, req)
}

func (m *mockChat) Stream(ctx context.Context, req provider.ChatRequest) (<-chan provider.Chunk, <-chan error) {
	return m.streamFn(ctx, req)
}

type mockImage struct {
	generateFn func(ctx context.Context, req provider.ImageRequest) (string, error)
	statusFn   func(ctx context.Context, jobID string) (*domain.JobStatus, error)
}

func (m *mockImage) Name() string { return "mock" }

func (m *mockImage) Generate(ctx context.Context, req provider.ImageRequest) (string, error) {
	return m.generateFn(ctx, req)
}

func (m *mockImage) Status(ctx context.Context, jobID string) (*domain.JobStatus, error) {
	return m.statusFn(ctx, jobID)
}

type mockVoice struct {
	synthesizeFn func(ctx context.Context, req provider.SpeechRequest) (*provider.SpeechResult, error)
}

func (m *mockVoice) Name() string { return "mock" }

func (m *mockVoice) Synthesize(ctx context.Context, req provider.SpeechRequest) (*provider.SpeechResult, error) {
	return m.synthesizeFn(ctx, req)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.UpstreamTimeout = 2 * time.Second
	return cfg
}

func userMessage(text string) []domain.Message {
	return []domain.Message{{Role: domain.RoleUser, Content: text}}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		markup    float64
		increment float64
		wantErr   bool
	}{
		{"valid", 5.0, 0.25, false},
		{"markup exactly one", 1.0, 0.01, false},
		{"markup below one", 0.9, 0.25, true},
		{"zero increment", 5.0, 0, true},
		{"negative increment", 5.0, -0.25, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.BillingMarkup = tt.markup
			cfg.BillingIncrement = tt.increment

			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestChat_Success(t *testing.T) {
	sink := usage.NewMemorySink()
	adapter := &mockChat{
		completeFn: func(ctx context.Context, req provider.ChatRequest) (*provider.ChatResult, error) {
			if req.Model != "gpt-4o" {
				t.Errorf("adapter got model %q, want gpt-4o", req.Model)
			}
			return &provider.ChatResult{
				Content:      "hello there",
				Usage:        domain.NewUsage(100, 50),
				FinishReason: "stop",
			}, nil
		},
	}

	g, err := New(testConfig(), sink.Record, Adapters{OpenAI: adapter})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	resp, err := g.Chat(context.Background(), userMessage("hi"), domain.ChatOptions{
		Provider:    "openai",
		Model:       "gpt-4o",
		WorkspaceID: "ws-1",
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	if resp.Content != "hello there" {
		t.Errorf("content = %q", resp.Content)
	}
	if resp.Provider != "openai" || resp.Model != "gpt-4o" {
		t.Errorf("provider/model = %s/%s", resp.Provider, resp.Model)
	}
	if resp.Usage.TotalTokens != 150 {
		t.Errorf("total tokens = %d, want 150", resp.Usage.TotalTokens)
	}
	if resp.BilledAmount < resp.ProviderCost {
		t.Errorf("billed %v below cost %v", resp.BilledAmount, resp.ProviderCost)
	}

	records := sink.All()
	if len(records) != 1 {
		t.Fatalf("sink received %d records, want 1", len(records))
	}
	rec := records[0]
	if rec.Operation != domain.OperationChat {
		t.Errorf("operation = %s", rec.Operation)
	}
	if rec.InputUnits != 100 || rec.OutputUnits != 50 {
		t.Errorf("units = %d/%d, want 100/50", rec.InputUnits, rec.OutputUnits)
	}
	if rec.WorkspaceID != "ws-1" {
		t.Errorf("workspace = %q", rec.WorkspaceID)
	}
	if rec.BilledAmount < rec.ProviderCost {
		t.Errorf("billed %v below cost %v", rec.BilledAmount, rec.ProviderCost)
	}
}

func TestChat_DefaultsResolved(t *testing.T) {
	sink := usage.NewMemorySink()
	var gotModel string
	adapter := &mockChat{
		completeFn: func(ctx context.Context, req provider.ChatRequest) (*provider.ChatResult, error) {
			gotModel = req.Model
			return &provider.ChatResult{Usage: domain.NewUsage(1, 1)}, nil
		},
	}

	g, err := New(testConfig(), sink.Record, Adapters{OpenAI: adapter})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// No provider/model in options: configured defaults apply.
	if _, err := g.Chat(context.Background(), userMessage("hi"), domain.ChatOptions{}); err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if gotModel != "gpt-4o-mini" {
		t.Errorf("model = %q, want default gpt-4o-mini", gotModel)
	}
}

func TestChat_UnknownProvider(t *testing.T) {
	sink := usage.NewMemorySink()
	called := false
	adapter := &mockChat{
		completeFn: func(ctx context.Context, req provider.ChatRequest) (*provider.ChatResult, error) {
			called = true
			return &provider.ChatResult{}, nil
		},
	}

	g, _ := New(testConfig(), sink.Record, Adapters{OpenAI: adapter})

	_, err := g.Chat(context.Background(), userMessage("hi"), domain.ChatOptions{Provider: "nonexistent"})
	if !errors.Is(err, domain.ErrProviderNotFound) {
		t.Errorf("expected ErrProviderNotFound, got %v", err)
	}
	if called {
		t.Error("upstream called for unknown provider")
	}
	if len(sink.All()) != 0 {
		t.Error("usage record emitted for unknown provider")
	}
}

func TestChat_UnknownModel(t *testing.T) {
	sink := usage.NewMemorySink()
	g, _ := New(testConfig(), sink.Record, Adapters{OpenAI: &mockChat{}})

	_, err := g.Chat(context.Background(), userMessage("hi"), domain.ChatOptions{
		Provider: "openai",
		Model:    "gpt-99",
	})
	if !errors.Is(err, domain.ErrModelNotFound) {
		t.Errorf("expected ErrModelNotFound, got %v", err)
	}
}

func TestChat_UnwiredProvider(t *testing.T) {
	sink := usage.NewMemorySink()
	// anthropic is in the catalog but no adapter is wired.
	g, _ := New(testConfig(), sink.Record, Adapters{})

	_, err := g.Chat(context.Background(), userMessage("hi"), domain.ChatOptions{
		Provider: "anthropic",
		Model:    "claude-3-5-sonnet-20241022",
	})
	if !errors.Is(err, domain.ErrNotImplemented) {
		t.Errorf("expected ErrNotImplemented, got %v", err)
	}
	if len(sink.All()) != 0 {
		t.Error("usage record emitted for unwired provider")
	}
}

func TestChat_EmptyMessages(t *testing.T) {
	g, _ := New(testConfig(), usage.LogSink, Adapters{})

	_, err := g.Chat(context.Background(), nil, domain.ChatOptions{})
	if !errors.Is(err, domain.ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestChat_UpstreamError(t *testing.T) {
	sink := usage.NewMemorySink()
	adapter := &mockChat{
		completeFn: func(ctx context.Context, req provider.ChatRequest) (*provider.ChatResult, error) {
			return nil, errors.New("vendor 500")
		},
	}

	g, _ := New(testConfig(), sink.Record, Adapters{OpenAI: adapter})

	_, err := g.Chat(context.Background(), userMessage("hi"), domain.ChatOptions{
		Provider: "openai", Model: "gpt-4o",
	})

	var upstream *domain.UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if upstream.Provider != "openai" {
		t.Errorf("upstream provider = %q", upstream.Provider)
	}
	if len(sink.All()) != 0 {
		t.Error("usage record emitted for failed unary call")
	}
}

func TestChat_Timeout(t *testing.T) {
	cfg := testConfig()
	cfg.UpstreamTimeout = 50 * time.Millisecond

	adapter := &mockChat{
		completeFn: func(ctx context.Context, req provider.ChatRequest) (*provider.ChatResult, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}

	g, _ := New(cfg, usage.LogSink, Adapters{OpenAI: adapter})

	_, err := g.Chat(context.Background(), userMessage("hi"), domain.ChatOptions{
		Provider: "openai", Model: "gpt-4o",
	})
	if !domain.IsTimeout(err) {
		t.Errorf("expected timeout error, got %v", err)
	}
}

func TestChat_RateLimited(t *testing.T) {
	limited := catalog.New([]catalog.Provider{{
		Name:     "openai",
		Modality: domain.ModalityChat,
		Models:   []catalog.Model{{ID: "gpt-4o", InputPer1K: 0.005, OutputPer1K: 0.015, RateLimitRPM: 1}},
	}})

	sink := usage.NewMemorySink()
	adapter := &mockChat{
		completeFn: func(ctx context.Context, req provider.ChatRequest) (*provider.ChatResult, error) {
			return &provider.ChatResult{Usage: domain.NewUsage(1, 1)}, nil
		},
	}

	g, _ := New(testConfig(), sink.Record, Adapters{OpenAI: adapter}, WithCatalog(limited))

	opts := domain.ChatOptions{Provider: "openai", Model: "gpt-4o"}
	if _, err := g.Chat(context.Background(), userMessage("hi"), opts); err != nil {
		t.Fatalf("first call: %v", err)
	}

	_, err := g.Chat(context.Background(), userMessage("hi"), opts)
	if !errors.Is(err, domain.ErrRateLimitExceeded) {
		t.Errorf("expected ErrRateLimitExceeded, got %v", err)
	}
	if len(sink.All()) != 1 {
		t.Errorf("sink received %d records, want 1", len(sink.All()))
	}
}

func TestChat_CircuitOpens(t *testing.T) {
	breakers := circuitbreaker.NewManager(circuitbreaker.Config{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		Timeout:          time.Minute,
	})

	adapter := &mockChat{
		completeFn: func(ctx context.Context, req provider.ChatRequest) (*provider.ChatResult, error) {
			return nil, errors.New("vendor down")
		},
	}

	g, _ := New(testConfig(), usage.LogSink, Adapters{OpenAI: adapter}, WithBreakers(breakers))

	opts := domain.ChatOptions{Provider: "openai", Model: "gpt-4o"}
	if _, err := g.Chat(context.Background(), userMessage("hi"), opts); err == nil {
		t.Fatal("expected first call to fail")
	}

	_, err := g.Chat(context.Background(), userMessage("hi"), opts)
	if !errors.Is(err, domain.ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestGetAvailableProviders_Idempotent(t *testing.T) {
	g, _ := New(testConfig(), usage.LogSink, Adapters{})

	first := g.GetAvailableProviders()
	second := g.GetAvailableProviders()

	if len(first) != len(second) {
		t.Fatalf("modality counts differ: %d vs %d", len(first), len(second))
	}
	for modality, providers := range first {
		others := second[modality]
		if len(providers) != len(others) {
			t.Fatalf("%s provider counts differ", modality)
		}
		for i := range providers {
			if providers[i].Name != others[i].Name {
				t.Errorf("%s[%d]: %q vs %q", modality, i, providers[i].Name, others[i].Name)
			}
		}
	}
}

func TestGetProviderModels(t *testing.T) {
	g, _ := New(testConfig(), usage.LogSink, Adapters{})

	models, err := g.GetProviderModels(domain.ModalityChat, "anthropic")
	if err != nil {
		t.Fatalf("GetProviderModels: %v", err)
	}
	if len(models) == 0 {
		t.Error("expected models for anthropic chat")
	}

	_, err = g.GetProviderModels(domain.ModalityVoice, "anthropic")
	if !errors.Is(err, domain.ErrProviderNotFound) {
		t.Errorf("expected ErrProviderNotFound for unconfigured pair, got %v", err)
	}
}

func TestDefault_Singleton(t *testing.T) {
	a := Default()
	b := Default()
	if a != b {
		t.Error("Default() returned different instances")
	}
}

func TestGenerateImage_JobSettledOnce(t *testing.T) {
	sink := usage.NewMemorySink()
	polls := 0
	adapter := &mockImage{
		generateFn: func(ctx context.Context, req provider.ImageRequest) (string, error) {
			return "job-123", nil
		},
		statusFn: func(ctx context.Context, jobID string) (*domain.JobStatus, error) {
			polls++
			if polls == 1 {
				return &domain.JobStatus{ID: jobID, State: domain.JobRunning}, nil
			}
			return &domain.JobStatus{
				ID:     jobID,
				State:  domain.JobCompleted,
				Output: []string{"https://img/1", "https://img/2"},
				Units:  2,
			}, nil
		},
	}

	g, _ := New(testConfig(), sink.Record, Adapters{FalImage: adapter})

	job, err := g.GenerateImage(context.Background(), "a red fox", domain.ImageOptions{
		Provider: "fal", Model: "flux-pro", Count: 2, WorkspaceID: "ws-9",
	})
	if err != nil {
		t.Fatalf("GenerateImage: %v", err)
	}
	if job.ID != "job-123" {
		t.Errorf("job id = %q", job.ID)
	}
	if job.EstimatedCost <= 0 {
		t.Errorf("estimated cost = %v, want positive", job.EstimatedCost)
	}
	if len(sink.All()) != 0 {
		t.Error("usage emitted at submit time")
	}

	// Running: no settlement yet.
	status, err := g.ImageJobStatus(context.Background(), "fal", "job-123")
	if err != nil {
		t.Fatalf("ImageJobStatus: %v", err)
	}
	if status.State != domain.JobRunning {
		t.Errorf("state = %s", status.State)
	}
	if len(sink.All()) != 0 {
		t.Error("usage emitted while job still running")
	}

	// First terminal poll settles the account.
	status, err = g.ImageJobStatus(context.Background(), "fal", "job-123")
	if err != nil {
		t.Fatalf("ImageJobStatus: %v", err)
	}
	if status.State != domain.JobCompleted {
		t.Errorf("state = %s", status.State)
	}

	records := sink.All()
	if len(records) != 1 {
		t.Fatalf("sink received %d records, want 1", len(records))
	}
	if records[0].OutputUnits != 2 {
		t.Errorf("output units = %d, want 2", records[0].OutputUnits)
	}
	if records[0].Operation != domain.OperationImage {
		t.Errorf("operation = %s", records[0].Operation)
	}
	if records[0].WorkspaceID != "ws-9" {
		t.Errorf("workspace = %q", records[0].WorkspaceID)
	}

	// Repeated terminal polls never re-bill.
	if _, err := g.ImageJobStatus(context.Background(), "fal", "job-123"); err != nil {
		t.Fatalf("ImageJobStatus: %v", err)
	}
	if len(sink.All()) != 1 {
		t.Errorf("sink received %d records after re-poll, want 1", len(sink.All()))
	}
}

func TestGenerateImage_FailedJobStillSettles(t *testing.T) {
	sink := usage.NewMemorySink()
	adapter := &mockImage{
		generateFn: func(ctx context.Context, req provider.ImageRequest) (string, error) {
			return "job-fail", nil
		},
		statusFn: func(ctx context.Context, jobID string) (*domain.JobStatus, error) {
			return &domain.JobStatus{ID: jobID, State: domain.JobFailed, Error: "content policy"}, nil
		},
	}

	g, _ := New(testConfig(), sink.Record, Adapters{FalImage: adapter})

	if _, err := g.GenerateImage(context.Background(), "x", domain.ImageOptions{Provider: "fal", Model: "flux-dev"}); err != nil {
		t.Fatalf("GenerateImage: %v", err)
	}
	if _, err := g.ImageJobStatus(context.Background(), "fal", "job-fail"); err != nil {
		t.Fatalf("ImageJobStatus: %v", err)
	}

	records := sink.All()
	if len(records) != 1 {
		t.Fatalf("sink received %d records, want 1", len(records))
	}
	if records[0].OutputUnits != 0 || records[0].BilledAmount != 0 {
		t.Errorf("failed job billed %d units / %v", records[0].OutputUnits, records[0].BilledAmount)
	}
}

func TestGenerateImage_DeclaredButUnwired(t *testing.T) {
	g, _ := New(testConfig(), usage.LogSink, Adapters{})

	// dall-e-3 is cataloged under openai image but no adapter ships.
	_, err := g.GenerateImage(context.Background(), "x", domain.ImageOptions{
		Provider: "openai", Model: "dall-e-3",
	})
	if !errors.Is(err, domain.ErrNotImplemented) {
		t.Errorf("expected ErrNotImplemented, got %v", err)
	}
}

func TestSynthesizeSpeech(t *testing.T) {
	sink := usage.NewMemorySink()
	adapter := &mockVoice{
		synthesizeFn: func(ctx context.Context, req provider.SpeechRequest) (*provider.SpeechResult, error) {
			return &provider.SpeechResult{
				Audio:       []byte("mp3data"),
				ContentType: "audio/mpeg",
				Characters:  len(req.Text),
			}, nil
		},
	}

	g, _ := New(testConfig(), sink.Record, Adapters{ElevenLabs: adapter})

	resp, err := g.SynthesizeSpeech(context.Background(), "hello world", domain.SpeechOptions{
		Provider: "elevenlabs", Model: "eleven_turbo_v2_5",
	})
	if err != nil {
		t.Fatalf("SynthesizeSpeech: %v", err)
	}
	if resp.Characters != 11 {
		t.Errorf("characters = %d, want 11", resp.Characters)
	}
	if resp.ContentType != "audio/mpeg" {
		t.Errorf("content type = %q", resp.ContentType)
	}

	records := sink.All()
	if len(records) != 1 {
		t.Fatalf("sink received %d records, want 1", len(records))
	}
	if records[0].InputUnits != 11 {
		t.Errorf("input units = %d, want 11", records[0].InputUnits)
	}
	if records[0].Operation != domain.OperationVoice {
		t.Errorf("operation = %s", records[0].Operation)
	}
}
