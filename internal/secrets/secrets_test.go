package secrets

import (
	"context"
	"testing"
)

func TestMemoryStore_SetAndGet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	store.SetSecret("api-key", "sk-test-123")

	value, err := store.GetSecret(ctx, "api-key")
	if err != nil {
		t.Fatalf("GetSecret() error = %v", err)
	}
	if value != "sk-test-123" {
		t.Errorf("GetSecret() = %v, want sk-test-123", value)
	}
}

func TestMemoryStore_GetNotFound(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.GetSecret(ctx, "nonexistent")
	if err == nil {
		t.Error("GetSecret() should return error for nonexistent secret")
	}
}

func TestMemoryStore_Delete(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	store.SetSecret("api-key", "sk-test-123")
	store.DeleteSecret("api-key")

	_, err := store.GetSecret(ctx, "api-key")
	if err == nil {
		t.Error("GetSecret() should return error after delete")
	}
}

func TestMemoryStore_GetSecretJSON_InvalidJSON(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	store.SetSecret("invalid", "not json")

	var config struct{}
	err := store.GetSecretJSON(ctx, "invalid", &config)
	if err == nil {
		t.Error("GetSecretJSON() should return error for invalid JSON")
	}
}

func TestMemoryStore_Overwrite(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	store.SetSecret("key", "value1")
	store.SetSecret("key", "value2")

	value, _ := store.GetSecret(ctx, "key")
	if value != "value2" {
		t.Errorf("GetSecret() = %v, want value2", value)
	}
}

func TestLoadProviderKeys(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	store.SetSecret("gateway/provider-keys", `{
		"openai": "sk-openai",
		"anthropic": "sk-ant",
		"elevenlabs": "xi-123"
	}`)

	keys, err := LoadProviderKeys(ctx, store, "gateway/provider-keys")
	if err != nil {
		t.Fatalf("LoadProviderKeys() error = %v", err)
	}

	if keys.OpenAI != "sk-openai" {
		t.Errorf("OpenAI key = %q", keys.OpenAI)
	}
	if keys.Anthropic != "sk-ant" {
		t.Errorf("Anthropic key = %q", keys.Anthropic)
	}
	if keys.ElevenLabs != "xi-123" {
		t.Errorf("ElevenLabs key = %q", keys.ElevenLabs)
	}
	// Absent vendors stay empty and unwired.
	if keys.Fal != "" {
		t.Errorf("Fal key = %q, want empty", keys.Fal)
	}
}

func TestLoadProviderKeys_MissingSecret(t *testing.T) {
	store := NewMemoryStore()

	_, err := LoadProviderKeys(context.Background(), store, "nope")
	if err == nil {
		t.Error("LoadProviderKeys() should fail for a missing secret")
	}
}
