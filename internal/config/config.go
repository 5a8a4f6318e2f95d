package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Addr     string
	LogLevel string

	// Backing services
	RedisURL    string
	DatabaseURL string

	// Provider credentials. Resolved from env, or from a Secrets Manager
	// bundle when SECRETS_NAME is set (secrets win).
	OpenAIAPIKey     string
	OpenAIBaseURL    string
	AnthropicAPIKey  string
	GoogleAPIKey     string
	FalAPIKey        string
	ElevenLabsAPIKey string
	SecretsName      string

	// Default dispatch targets per modality
	DefaultChatProvider  string
	DefaultChatModel     string
	DefaultImageProvider string
	DefaultImageModel    string
	DefaultVideoProvider string
	DefaultVideoModel    string
	DefaultVoiceProvider string
	DefaultVoiceModel    string

	// Billing
	BillingMarkup    float64
	BillingIncrement float64

	// Workspace spend limits in dollars, JSON object keyed by workspace ID.
	SpendLimits map[string]float64

	// Usage sink: "log", "postgres", "sqs" or "sns"
	UsageSink   string
	SQSQueueURL string

	// Alerting
	SNSTopicArn string

	// Observability
	OTLPEndpoint string

	AWSRegion string

	UseDistributedCircuitBreaker bool

	// Timeouts
	UpstreamTimeout time.Duration
	SinkTimeout     time.Duration
	ShutdownTimeout time.Duration
	DrainTimeout    time.Duration
}

func Load() (*Config, error) {
	cfg := &Config{
		Addr:                         getEnv("ADDR", ":8080"),
		LogLevel:                     getEnv("LOG_LEVEL", "info"),
		RedisURL:                     getEnv("REDIS_URL", ""),
		DatabaseURL:                  getEnv("DATABASE_URL", ""),
		OpenAIAPIKey:                 getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:                getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		AnthropicAPIKey:              getEnv("ANTHROPIC_API_KEY", ""),
		GoogleAPIKey:                 getEnv("GOOGLE_API_KEY", ""),
		FalAPIKey:                    getEnv("FAL_API_KEY", ""),
		ElevenLabsAPIKey:             getEnv("ELEVENLABS_API_KEY", ""),
		SecretsName:                  getEnv("SECRETS_NAME", ""),
		DefaultChatProvider:          getEnv("DEFAULT_CHAT_PROVIDER", "openai"),
		DefaultChatModel:             getEnv("DEFAULT_CHAT_MODEL", "gpt-4o-mini"),
		DefaultImageProvider:         getEnv("DEFAULT_IMAGE_PROVIDER", "fal"),
		DefaultImageModel:            getEnv("DEFAULT_IMAGE_MODEL", "flux-dev"),
		DefaultVideoProvider:         getEnv("DEFAULT_VIDEO_PROVIDER", "fal"),
		DefaultVideoModel:            getEnv("DEFAULT_VIDEO_MODEL", "kling-video"),
		DefaultVoiceProvider:         getEnv("DEFAULT_VOICE_PROVIDER", "elevenlabs"),
		DefaultVoiceModel:            getEnv("DEFAULT_VOICE_MODEL", "eleven_multilingual_v2"),
		BillingMarkup:                getFloatEnv("BILLING_MARKUP", 5.0),
		BillingIncrement:             getFloatEnv("BILLING_INCREMENT", 0.25),
		UsageSink:                    getEnv("USAGE_SINK", "log"),
		SQSQueueURL:                  getEnv("SQS_QUEUE_URL", ""),
		SNSTopicArn:                  getEnv("SNS_TOPIC_ARN", ""),
		OTLPEndpoint:                 getEnv("OTLP_ENDPOINT", ""),
		AWSRegion:                    getEnv("AWS_REGION", ""),
		UseDistributedCircuitBreaker: getEnv("USE_DISTRIBUTED_CB", "false") == "true",
		UpstreamTimeout:              getDurationEnv("UPSTREAM_TIMEOUT", 120*time.Second),
		SinkTimeout:                  getDurationEnv("SINK_TIMEOUT", 5*time.Second),
		ShutdownTimeout:              getDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second),
		DrainTimeout:                 getDurationEnv("DRAIN_TIMEOUT", 15*time.Second),
	}

	if raw := os.Getenv("SPEND_LIMITS"); raw != "" {
		limits := make(map[string]float64)
		if err := json.Unmarshal([]byte(raw), &limits); err != nil {
			return nil, fmt.Errorf("parse SPEND_LIMITS: %w", err)
		}
		cfg.SpendLimits = limits
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.BillingMarkup < 1.0 {
		return fmt.Errorf("BILLING_MARKUP must be >= 1.0, got %v", c.BillingMarkup)
	}
	if c.BillingIncrement <= 0 {
		return fmt.Errorf("BILLING_INCREMENT must be > 0, got %v", c.BillingIncrement)
	}
	switch c.UsageSink {
	case "log", "postgres", "sqs", "sns":
	default:
		return fmt.Errorf("USAGE_SINK must be log, postgres, sqs or sns, got %q", c.UsageSink)
	}
	if c.UsageSink == "postgres" && c.DatabaseURL == "" {
		return fmt.Errorf("USAGE_SINK=postgres requires DATABASE_URL")
	}
	if c.UsageSink == "sqs" && c.SQSQueueURL == "" {
		return fmt.Errorf("USAGE_SINK=sqs requires SQS_QUEUE_URL")
	}
	if c.UsageSink == "sns" && c.SNSTopicArn == "" {
		return fmt.Errorf("USAGE_SINK=sns requires SNS_TOPIC_ARN")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultValue
}
