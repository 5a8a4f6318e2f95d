// Package secrets loads provider API keys. Production uses AWS Secrets
// Manager with a short TTL cache; tests and local runs use the in-memory
// store or plain environment variables.
package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

type Store interface {
	GetSecret(ctx context.Context, name string) (string, error)
	GetSecretJSON(ctx context.Context, name string, v interface{}) error
}

// ProviderKeys is the JSON shape of the gateway's key bundle secret: one
// upstream API key per vendor. Empty fields leave that vendor unwired.
type ProviderKeys struct {
	OpenAI     string `json:"openai"`
	Anthropic  string `json:"anthropic"`
	Google     string `json:"google"`
	Fal        string `json:"fal"`
	ElevenLabs string `json:"elevenlabs"`
}

// LoadProviderKeys fetches and decodes the key bundle from the store.
func LoadProviderKeys(ctx context.Context, store Store, secretName string) (ProviderKeys, error) {
	var keys ProviderKeys
	if err := store.GetSecretJSON(ctx, secretName, &keys); err != nil {
		return ProviderKeys{}, fmt.Errorf("load provider keys: %w", err)
	}
	return keys, nil
}

const defaultCacheTTL = 5 * time.Minute

type AWSStore struct {
	client *secretsmanager.Client
	cache  map[string]*cachedSecret
	mu     sync.RWMutex
	ttl    time.Duration
}

type cachedSecret struct {
	value     string
	expiresAt time.Time
}

func NewAWSStore(ctx context.Context, region string) (*AWSStore, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return &AWSStore{
		client: secretsmanager.NewFromConfig(cfg),
		cache:  make(map[string]*cachedSecret),
		ttl:    defaultCacheTTL,
	}, nil
}

func NewAWSStoreWithConfig(cfg aws.Config) *AWSStore {
	return &AWSStore{
		client: secretsmanager.NewFromConfig(cfg),
		cache:  make(map[string]*cachedSecret),
		ttl:    defaultCacheTTL,
	}
}

func (s *AWSStore) GetSecret(ctx context.Context, name string) (string, error) {
	s.mu.RLock()
	if cached, ok := s.cache[name]; ok && time.Now().Before(cached.expiresAt) {
		s.mu.RUnlock()
		return cached.value, nil
	}
	s.mu.RUnlock()

	input := &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(name),
	}

	result, err := s.client.GetSecretValue(ctx, input)
	if err != nil {
		return "", fmt.Errorf("get secret %s: %w", name, err)
	}

	value := ""
	if result.SecretString != nil {
		value = *result.SecretString
	}

	s.mu.Lock()
	s.cache[name] = &cachedSecret{
		value:     value,
		expiresAt: time.Now().Add(s.ttl),
	}
	s.mu.Unlock()

	return value, nil
}

func (s *AWSStore) GetSecretJSON(ctx context.Context, name string, v interface{}) error {
	secret, err := s.GetSecret(ctx, name)
	if err != nil {
		return err
	}

	return json.Unmarshal([]byte(secret), v)
}

func (s *AWSStore) SetCacheTTL(ttl time.Duration) {
	s.ttl = ttl
}

func (s *AWSStore) ClearCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = make(map[string]*cachedSecret)
}

type MemoryStore struct {
	mu      sync.RWMutex
	secrets map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		secrets: make(map[string]string),
	}
}

func (s *MemoryStore) GetSecret(ctx context.Context, name string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.secrets[name]
	if !ok {
		return "", fmt.Errorf("secret %s not found", name)
	}
	return value, nil
}

func (s *MemoryStore) GetSecretJSON(ctx context.Context, name string, v interface{}) error {
	secret, err := s.GetSecret(ctx, name)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(secret), v)
}

func (s *MemoryStore) SetSecret(name, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secrets[name] = value
}

func (s *MemoryStore) DeleteSecret(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.secrets, name)
}
