package config

import (
	"os"
	"testing"
	"time"
)

var allEnvVars = []string{
	"ADDR", "LOG_LEVEL", "REDIS_URL", "DATABASE_URL",
	"OPENAI_API_KEY", "OPENAI_BASE_URL", "ANTHROPIC_API_KEY",
	"GOOGLE_API_KEY", "FAL_API_KEY", "ELEVENLABS_API_KEY", "SECRETS_NAME",
	"DEFAULT_CHAT_PROVIDER", "DEFAULT_CHAT_MODEL",
	"DEFAULT_IMAGE_PROVIDER", "DEFAULT_IMAGE_MODEL",
	"DEFAULT_VIDEO_PROVIDER", "DEFAULT_VIDEO_MODEL",
	"DEFAULT_VOICE_PROVIDER", "DEFAULT_VOICE_MODEL",
	"BILLING_MARKUP", "BILLING_INCREMENT", "SPEND_LIMITS",
	"USAGE_SINK", "SQS_QUEUE_URL", "SNS_TOPIC_ARN",
	"OTLP_ENDPOINT", "AWS_REGION", "USE_DISTRIBUTED_CB",
	"UPSTREAM_TIMEOUT", "SINK_TIMEOUT", "SHUTDOWN_TIMEOUT", "DRAIN_TIMEOUT",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, v := range allEnvVars {
		os.Unsetenv(v)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tests := []struct {
		name     string
		got      string
		expected string
	}{
		{"Addr", cfg.Addr, ":8080"},
		{"LogLevel", cfg.LogLevel, "info"},
		{"RedisURL", cfg.RedisURL, ""},
		{"DatabaseURL", cfg.DatabaseURL, ""},
		{"OpenAIBaseURL", cfg.OpenAIBaseURL, "https://api.openai.com/v1"},
		{"DefaultChatProvider", cfg.DefaultChatProvider, "openai"},
		{"DefaultChatModel", cfg.DefaultChatModel, "gpt-4o-mini"},
		{"DefaultImageProvider", cfg.DefaultImageProvider, "fal"},
		{"DefaultImageModel", cfg.DefaultImageModel, "flux-dev"},
		{"DefaultVideoProvider", cfg.DefaultVideoProvider, "fal"},
		{"DefaultVideoModel", cfg.DefaultVideoModel, "kling-video"},
		{"DefaultVoiceProvider", cfg.DefaultVoiceProvider, "elevenlabs"},
		{"DefaultVoiceModel", cfg.DefaultVoiceModel, "eleven_multilingual_v2"},
		{"UsageSink", cfg.UsageSink, "log"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.expected)
			}
		})
	}

	if cfg.BillingMarkup != 5.0 {
		t.Errorf("BillingMarkup = %v, want 5.0", cfg.BillingMarkup)
	}
	if cfg.BillingIncrement != 0.25 {
		t.Errorf("BillingIncrement = %v, want 0.25", cfg.BillingIncrement)
	}
	if cfg.UpstreamTimeout != 120*time.Second {
		t.Errorf("UpstreamTimeout = %v, want 120s", cfg.UpstreamTimeout)
	}
	if cfg.UseDistributedCircuitBreaker {
		t.Error("UseDistributedCircuitBreaker should default to false")
	}
	if cfg.SpendLimits != nil {
		t.Errorf("SpendLimits = %v, want nil", cfg.SpendLimits)
	}
}

func TestLoad_FromEnv(t *testing.T) {
	clearEnv(t)

	set := map[string]string{
		"ADDR":                  ":9090",
		"LOG_LEVEL":             "debug",
		"REDIS_URL":             "redis://localhost:6379",
		"OPENAI_API_KEY":        "sk-test-key",
		"FAL_API_KEY":           "fal-key",
		"ELEVENLABS_API_KEY":    "xi-key",
		"DEFAULT_CHAT_PROVIDER": "anthropic",
		"DEFAULT_CHAT_MODEL":    "claude-sonnet-4",
		"BILLING_MARKUP":        "3.5",
		"BILLING_INCREMENT":     "0.1",
		"USAGE_SINK":            "sqs",
		"SQS_QUEUE_URL":         "https://sqs.us-east-1.amazonaws.com/1/usage",
		"USE_DISTRIBUTED_CB":    "true",
		"UPSTREAM_TIMEOUT":      "60",
	}
	for k, v := range set {
		os.Setenv(k, v)
	}
	defer clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Addr != ":9090" {
		t.Errorf("Addr = %q", cfg.Addr)
	}
	if cfg.DefaultChatProvider != "anthropic" || cfg.DefaultChatModel != "claude-sonnet-4" {
		t.Errorf("chat default = %s/%s", cfg.DefaultChatProvider, cfg.DefaultChatModel)
	}
	if cfg.BillingMarkup != 3.5 {
		t.Errorf("BillingMarkup = %v, want 3.5", cfg.BillingMarkup)
	}
	if cfg.BillingIncrement != 0.1 {
		t.Errorf("BillingIncrement = %v, want 0.1", cfg.BillingIncrement)
	}
	if cfg.UsageSink != "sqs" {
		t.Errorf("UsageSink = %q, want sqs", cfg.UsageSink)
	}
	if !cfg.UseDistributedCircuitBreaker {
		t.Error("UseDistributedCircuitBreaker should be true")
	}
	if cfg.UpstreamTimeout != 60*time.Second {
		t.Errorf("UpstreamTimeout = %v, want 60s", cfg.UpstreamTimeout)
	}
}

func TestLoad_SpendLimits(t *testing.T) {
	clearEnv(t)
	os.Setenv("SPEND_LIMITS", `{"ws-1": 100.5, "ws-2": 50}`)
	defer clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.SpendLimits["ws-1"] != 100.5 || cfg.SpendLimits["ws-2"] != 50 {
		t.Errorf("SpendLimits = %v", cfg.SpendLimits)
	}
}

func TestLoad_SpendLimitsInvalidJSON(t *testing.T) {
	clearEnv(t)
	os.Setenv("SPEND_LIMITS", "not json")
	defer clearEnv(t)

	if _, err := Load(); err == nil {
		t.Error("Load() should fail for malformed SPEND_LIMITS")
	}
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"markup below one", map[string]string{"BILLING_MARKUP": "0.5"}},
		{"zero increment", map[string]string{"BILLING_INCREMENT": "0"}},
		{"negative increment", map[string]string{"BILLING_INCREMENT": "-0.25"}},
		{"unknown sink", map[string]string{"USAGE_SINK": "kafka"}},
		{"postgres sink without url", map[string]string{"USAGE_SINK": "postgres"}},
		{"sqs sink without queue", map[string]string{"USAGE_SINK": "sqs"}},
		{"sns sink without topic", map[string]string{"USAGE_SINK": "sns"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				os.Setenv(k, v)
			}
			defer clearEnv(t)

			if _, err := Load(); err == nil {
				t.Error("Load() should return a validation error")
			}
		})
	}
}

func TestGetEnv(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		envValue     string
		defaultValue string
		expected     string
	}{
		{"env set", "TEST_VAR", "custom", "default", "custom"},
		{"env not set", "TEST_VAR_UNSET", "", "default", "default"},
		{"env empty", "TEST_VAR_EMPTY", "", "default", "default"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				os.Setenv(tt.key, tt.envValue)
				defer os.Unsetenv(tt.key)
			}

			got := getEnv(tt.key, tt.defaultValue)
			if got != tt.expected {
				t.Errorf("getEnv(%q, %q) = %q, want %q", tt.key, tt.defaultValue, got, tt.expected)
			}
		})
	}
}

func TestGetFloatEnv(t *testing.T) {
	os.Setenv("TEST_FLOAT", "2.75")
	defer os.Unsetenv("TEST_FLOAT")

	if got := getFloatEnv("TEST_FLOAT", 1.0); got != 2.75 {
		t.Errorf("getFloatEnv() = %v, want 2.75", got)
	}
	if got := getFloatEnv("TEST_FLOAT_UNSET", 1.0); got != 1.0 {
		t.Errorf("getFloatEnv() default = %v, want 1.0", got)
	}

	os.Setenv("TEST_FLOAT_BAD", "abc")
	defer os.Unsetenv("TEST_FLOAT_BAD")
	if got := getFloatEnv("TEST_FLOAT_BAD", 1.0); got != 1.0 {
		t.Errorf("getFloatEnv() on malformed value = %v, want 1.0", got)
	}
}
