package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/agentboard/provider-gateway/internal/api"
	"github.com/agentboard/provider-gateway/internal/billing"
	"github.com/agentboard/provider-gateway/internal/circuitbreaker"
	"github.com/agentboard/provider-gateway/internal/config"
	"github.com/agentboard/provider-gateway/internal/gateway"
	"github.com/agentboard/provider-gateway/internal/provider/anthropic"
	"github.com/agentboard/provider-gateway/internal/provider/bedrock"
	"github.com/agentboard/provider-gateway/internal/provider/elevenlabs"
	"github.com/agentboard/provider-gateway/internal/provider/fal"
	"github.com/agentboard/provider-gateway/internal/provider/google"
	"github.com/agentboard/provider-gateway/internal/provider/openai"
	"github.com/agentboard/provider-gateway/internal/ratelimit"
	"github.com/agentboard/provider-gateway/internal/secrets"
	"github.com/agentboard/provider-gateway/internal/telemetry"
	"github.com/agentboard/provider-gateway/internal/usage"
)

func main() {
	godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.LogLevel)

	slog.Info("starting provider gateway", "addr", cfg.Addr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.OTLPEndpoint != "" {
		shutdown, err := telemetry.Init(ctx, "provider-gateway", cfg.OTLPEndpoint)
		if err != nil {
			slog.Error("failed to init telemetry", "error", err)
			os.Exit(1)
		}
		defer shutdown(context.Background())
		slog.Info("telemetry enabled", "endpoint", cfg.OTLPEndpoint)
	}

	loadSecrets(ctx, cfg)

	adapters := buildAdapters(ctx, cfg)

	sink, cleanup := buildSink(ctx, cfg)
	defer cleanup()

	if len(cfg.SpendLimits) > 0 {
		sink = wrapSpendMonitor(ctx, cfg, sink)
	}

	var opts []gateway.Option
	var checkers []api.HealthChecker

	if cfg.RedisURL != "" {
		limiter, err := ratelimit.NewRedis(cfg.RedisURL)
		if err != nil {
			slog.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		opts = append(opts, gateway.WithLimiter(limiter))
		slog.Info("using redis rate limiter")

		checker, err := api.NewRedisHealthChecker(cfg.RedisURL)
		if err == nil {
			checkers = append(checkers, checker)
		}
	}

	breakerOpts := []circuitbreaker.ManagerOption{}
	if cfg.UseDistributedCircuitBreaker && cfg.RedisURL != "" {
		breakerOpts = append(breakerOpts, circuitbreaker.WithRedis(cfg.RedisURL))
		slog.Info("using distributed circuit breakers")
	}
	breakers := circuitbreaker.NewManager(circuitbreaker.DefaultConfig(), breakerOpts...)
	opts = append(opts, gateway.WithBreakers(breakers))

	gw, err := gateway.New(gateway.Config{
		DefaultChatProvider:  cfg.DefaultChatProvider,
		DefaultChatModel:     cfg.DefaultChatModel,
		DefaultImageProvider: cfg.DefaultImageProvider,
		DefaultImageModel:    cfg.DefaultImageModel,
		DefaultVideoProvider: cfg.DefaultVideoProvider,
		DefaultVideoModel:    cfg.DefaultVideoModel,
		DefaultVoiceProvider: cfg.DefaultVoiceProvider,
		DefaultVoiceModel:    cfg.DefaultVoiceModel,
		BillingMarkup:        cfg.BillingMarkup,
		BillingIncrement:     cfg.BillingIncrement,
		UpstreamTimeout:      cfg.UpstreamTimeout,
		SinkTimeout:          cfg.SinkTimeout,
	}, sink, adapters, opts...)
	if err != nil {
		slog.Error("failed to build gateway", "error", err)
		os.Exit(1)
	}

	handler := api.NewHandler(api.HandlerConfig{
		Gateway:  gw,
		Breakers: breakers,
		Checkers: checkers,
	})

	srv := &http.Server{
		Addr:        cfg.Addr,
		Handler:     handler,
		ReadTimeout: 30 * time.Second,
		// No write timeout: streaming responses legitimately outlive any
		// fixed budget. Idle upstreams are bounded by the gateway instead.
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		slog.Info("server listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("server stopped")
}

// loadSecrets fills provider keys from Secrets Manager when SECRETS_NAME is
// set. Keys already present in the environment lose to the bundle; the
// bundle is the source of truth in deployed environments.
func loadSecrets(ctx context.Context, cfg *config.Config) {
	if cfg.SecretsName == "" {
		return
	}

	store, err := secrets.NewAWSStore(ctx, cfg.AWSRegion)
	if err != nil {
		slog.Error("failed to init secrets store", "error", err)
		os.Exit(1)
	}

	keys, err := secrets.LoadProviderKeys(ctx, store, cfg.SecretsName)
	if err != nil {
		slog.Error("failed to load provider keys", "secret", cfg.SecretsName, "error", err)
		os.Exit(1)
	}

	if keys.OpenAI != "" {
		cfg.OpenAIAPIKey = keys.OpenAI
	}
	if keys.Anthropic != "" {
		cfg.AnthropicAPIKey = keys.Anthropic
	}
	if keys.Google != "" {
		cfg.GoogleAPIKey = keys.Google
	}
	if keys.Fal != "" {
		cfg.FalAPIKey = keys.Fal
	}
	if keys.ElevenLabs != "" {
		cfg.ElevenLabsAPIKey = keys.ElevenLabs
	}

	slog.Info("provider keys loaded from secrets manager", "secret", cfg.SecretsName)
}

// buildAdapters wires one adapter per credentialed vendor. A vendor without
// credentials stays nil and dispatch reports it as not implemented.
func buildAdapters(ctx context.Context, cfg *config.Config) gateway.Adapters {
	var adapters gateway.Adapters

	if cfg.OpenAIAPIKey != "" {
		adapters.OpenAI = openai.New(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL)
		slog.Info("registered provider", "provider", "openai")
	}
	if cfg.AnthropicAPIKey != "" {
		adapters.Anthropic = anthropic.New(cfg.AnthropicAPIKey)
		slog.Info("registered provider", "provider", "anthropic")
	}
	if cfg.GoogleAPIKey != "" {
		adapters.Google = google.New(cfg.GoogleAPIKey)
		slog.Info("registered provider", "provider", "google")
	}
	if cfg.AWSRegion != "" {
		b, err := bedrock.New(ctx, cfg.AWSRegion)
		if err != nil {
			slog.Warn("bedrock unavailable", "error", err)
		} else {
			adapters.Bedrock = b
			slog.Info("registered provider", "provider", "bedrock", "region", cfg.AWSRegion)
		}
	}
	if cfg.FalAPIKey != "" {
		adapters.FalImage = fal.NewImage(cfg.FalAPIKey)
		adapters.FalVideo = fal.NewVideo(cfg.FalAPIKey)
		slog.Info("registered provider", "provider", "fal")
	}
	if cfg.ElevenLabsAPIKey != "" {
		adapters.ElevenLabs = elevenlabs.New(cfg.ElevenLabsAPIKey)
		slog.Info("registered provider", "provider", "elevenlabs")
	}

	return adapters
}

// buildSink selects where usage records land. The returned cleanup closes
// whatever the sink holds open.
func buildSink(ctx context.Context, cfg *config.Config) (usage.Sink, func()) {
	switch cfg.UsageSink {
	case "postgres":
		pg, err := usage.NewPostgresSink(cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		slog.Info("usage records go to postgres")
		return pg.Record, func() { pg.Close() }
	case "sqs":
		sqsSink, err := usage.NewSQSSink(ctx, cfg.AWSRegion, cfg.SQSQueueURL)
		if err != nil {
			slog.Error("failed to init sqs sink", "error", err)
			os.Exit(1)
		}
		slog.Info("usage records go to sqs", "queue", cfg.SQSQueueURL)
		return sqsSink.Record, func() {}
	case "sns":
		snsSink, err := usage.NewSNSSink(ctx, cfg.AWSRegion, cfg.SNSTopicArn)
		if err != nil {
			slog.Error("failed to init sns sink", "error", err)
			os.Exit(1)
		}
		slog.Info("usage records go to sns", "topic", cfg.SNSTopicArn)
		return snsSink.Record, func() {}
	default:
		slog.Info("usage records go to the log")
		return usage.LogSink, func() {}
	}
}

// wrapSpendMonitor layers workspace spend alerting over the usage sink.
func wrapSpendMonitor(ctx context.Context, cfg *config.Config, sink usage.Sink) usage.Sink {
	var notifier billing.Notifier = billing.LogNotifier{}
	if cfg.SNSTopicArn != "" {
		n, err := billing.NewSNSNotifier(ctx, cfg.AWSRegion, cfg.SNSTopicArn)
		if err != nil {
			slog.Warn("sns notifier unavailable, alerts go to the log", "error", err)
		} else {
			notifier = n
			slog.Info("spend alerts go to sns", "topic", cfg.SNSTopicArn)
		}
	}

	var dedup billing.Deduplicator = billing.NewInMemoryDeduplicator()
	if cfg.RedisURL != "" {
		d, err := billing.NewRedisDeduplicator(cfg.RedisURL, 24*time.Hour)
		if err != nil {
			slog.Warn("redis alert dedup unavailable, using in-memory", "error", err)
		} else {
			dedup = d
		}
	}

	monitor := billing.NewMonitor(cfg.SpendLimits, billing.DefaultThresholds(), dedup, notifier)
	slog.Info("spend monitoring enabled", "workspaces", len(cfg.SpendLimits))
	return monitor.WrapSink(sink)
}

func setupLogger(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}
