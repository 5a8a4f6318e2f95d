// Package gateway is the public façade: it resolves provider/model defaults,
// dispatches to the right vendor adapter, wraps every call with pricing and
// usage emission, and exposes unary chat, streaming chat, asynchronous
// image/video jobs, speech synthesis, and catalog queries.
package gateway

import (
	"fmt"
	"sync"
	"time"

	"github.com/agentboard/provider-gateway/internal/catalog"
	"github.com/agentboard/provider-gateway/internal/circuitbreaker"
	"github.com/agentboard/provider-gateway/internal/domain"
	"github.com/agentboard/provider-gateway/internal/pricing"
	"github.com/agentboard/provider-gateway/internal/provider"
	"github.com/agentboard/provider-gateway/internal/ratelimit"
	"github.com/agentboard/provider-gateway/internal/usage"
)

// Config is fixed at construction and never re-read per request.
type Config struct {
	DefaultChatProvider  string
	DefaultChatModel     string
	DefaultImageProvider string
	DefaultImageModel    string
	DefaultVideoProvider string
	DefaultVideoModel    string
	DefaultVoiceProvider string
	DefaultVoiceModel    string

	// BillingMarkup multiplies raw provider cost; must be >= 1 so the
	// platform never bills below cost. BillingIncrement is the smallest
	// unit billed amounts round up to.
	BillingMarkup    float64
	BillingIncrement float64

	UpstreamTimeout time.Duration
	SinkTimeout     time.Duration
}

func DefaultConfig() Config {
	return Config{
		DefaultChatProvider:  "openai",
		DefaultChatModel:     "gpt-4o-mini",
		DefaultImageProvider: "fal",
		DefaultImageModel:    "flux-dev",
		DefaultVideoProvider: "fal",
		DefaultVideoModel:    "kling-video",
		DefaultVoiceProvider: "elevenlabs",
		DefaultVoiceModel:    "eleven_multilingual_v2",
		BillingMarkup:        5.0,
		BillingIncrement:     0.25,
		UpstreamTimeout:      120 * time.Second,
		SinkTimeout:          5 * time.Second,
	}
}

func (c Config) Validate() error {
	if c.BillingMarkup < 1 {
		return fmt.Errorf("%w: billing markup %v is below 1", domain.ErrInvalidRequest, c.BillingMarkup)
	}
	if c.BillingIncrement <= 0 {
		return fmt.Errorf("%w: billing increment %v must be positive", domain.ErrInvalidRequest, c.BillingIncrement)
	}
	return nil
}

// Adapters holds the wired vendor integrations. A nil field is a declared
// but unimplemented vendor: dispatch fails fast with ErrNotImplemented
// instead of attempting a call.
type Adapters struct {
	OpenAI     provider.ChatProvider
	Anthropic  provider.ChatProvider
	Google     provider.ChatProvider
	Bedrock    provider.ChatProvider
	FalImage   provider.ImageProvider
	FalVideo   provider.VideoProvider
	ElevenLabs provider.VoiceProvider
}

type Gateway struct {
	config   Config
	catalog  *catalog.Catalog
	pricing  *pricing.Engine
	tracker  *usage.Tracker
	limiter  ratelimit.Limiter
	breakers *circuitbreaker.Manager
	adapters Adapters

	mu   sync.Mutex
	jobs map[string]*jobRecord
}

// Option overrides a collaborator after the defaults are applied.
type Option func(*Gateway)

func WithCatalog(c *catalog.Catalog) Option {
	return func(g *Gateway) { g.catalog = c }
}

func WithLimiter(l ratelimit.Limiter) Option {
	return func(g *Gateway) { g.limiter = l }
}

func WithBreakers(m *circuitbreaker.Manager) Option {
	return func(g *Gateway) { g.breakers = m }
}

func New(cfg Config, sink usage.Sink, adapters Adapters, opts ...Option) (*Gateway, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	g := &Gateway{
		config:   cfg,
		catalog:  catalog.Default(),
		tracker:  usage.NewTracker(sink, cfg.SinkTimeout),
		limiter:  ratelimit.NewInMemory(),
		breakers: circuitbreaker.NewManager(circuitbreaker.DefaultConfig()),
		adapters: adapters,
		jobs:     make(map[string]*jobRecord),
	}

	for _, opt := range opts {
		opt(g)
	}

	g.pricing = pricing.NewEngine(g.catalog)

	return g, nil
}

var (
	defaultOnce    sync.Once
	defaultGateway *Gateway
)

// Default returns the process-wide gateway: default config, default catalog,
// log sink, no adapters wired. Constructed once, never torn down. Anything
// beyond catalog and pricing queries should build its own instance with New.
func Default() *Gateway {
	defaultOnce.Do(func() {
		g, err := New(DefaultConfig(), usage.LogSink, Adapters{})
		if err != nil {
			// DefaultConfig always validates; reaching here is a bug.
			panic(fmt.Sprintf("gateway: default construction failed: %v", err))
		}
		defaultGateway = g
	})
	return defaultGateway
}

// GetAvailableProviders returns the configured providers grouped by
// modality. The catalog is immutable, so repeated calls are identical.
func (g *Gateway) GetAvailableProviders() map[domain.Modality][]catalog.Provider {
	return g.catalog.ByModality()
}

// GetProviderModels lists one provider's models for a modality, or fails
// with ErrProviderNotFound for an unconfigured pair.
func (g *Gateway) GetProviderModels(modality domain.Modality, providerName string) ([]catalog.Model, error) {
	p, ok := g.catalog.Provider(modality, providerName)
	if !ok {
		return nil, fmt.Errorf("%w: %s provider %q", domain.ErrProviderNotFound, modality, providerName)
	}
	return p.Models, nil
}

// chatProvider is the closed dispatch over declared chat vendors. Unknown
// names fail before any upstream call; declared-but-unwired vendors fail
// with a descriptive not-implemented error.
func (g *Gateway) chatProvider(name string) (provider.ChatProvider, error) {
	var p provider.ChatProvider
	switch name {
	case "openai":
		p = g.adapters.OpenAI
	case "anthropic":
		p = g.adapters.Anthropic
	case "google":
		p = g.adapters.Google
	case "bedrock":
		p = g.adapters.Bedrock
	default:
		return nil, fmt.Errorf("%w: chat provider %q", domain.ErrProviderNotFound, name)
	}
	if p == nil {
		return nil, fmt.Errorf("%w: chat provider %q", domain.ErrNotImplemented, name)
	}
	return p, nil
}

func (g *Gateway) imageProvider(name string) (provider.ImageProvider, error) {
	var p provider.ImageProvider
	switch name {
	case "fal":
		p = g.adapters.FalImage
	case "openai":
		// In the catalog (dall-e-3) but no adapter ships yet.
		p = nil
	default:
		return nil, fmt.Errorf("%w: image provider %q", domain.ErrProviderNotFound, name)
	}
	if p == nil {
		return nil, fmt.Errorf("%w: image provider %q", domain.ErrNotImplemented, name)
	}
	return p, nil
}

func (g *Gateway) videoProvider(name string) (provider.VideoProvider, error) {
	var p provider.VideoProvider
	switch name {
	case "fal":
		p = g.adapters.FalVideo
	default:
		return nil, fmt.Errorf("%w: video provider %q", domain.ErrProviderNotFound, name)
	}
	if p == nil {
		return nil, fmt.Errorf("%w: video provider %q", domain.ErrNotImplemented, name)
	}
	return p, nil
}

func (g *Gateway) voiceProvider(name string) (provider.VoiceProvider, error) {
	var p provider.VoiceProvider
	switch name {
	case "elevenlabs":
		p = g.adapters.ElevenLabs
	default:
		return nil, fmt.Errorf("%w: voice provider %q", domain.ErrProviderNotFound, name)
	}
	if p == nil {
		return nil, fmt.Errorf("%w: voice provider %q", domain.ErrNotImplemented, name)
	}
	return p, nil
}

// resolve fills empty provider/model from the configured defaults and checks
// the pair against the catalog. Unknown pairs fail fast: a silent fallback
// would bill against the wrong cost table.
func (g *Gateway) resolve(modality domain.Modality, providerName, model string) (string, string, catalog.Model, error) {
	if providerName == "" {
		providerName = g.defaultProvider(modality)
	}
	if model == "" {
		model = g.defaultModel(modality)
	}

	if _, ok := g.catalog.Provider(modality, providerName); !ok {
		return "", "", catalog.Model{}, fmt.Errorf("%w: %s provider %q", domain.ErrProviderNotFound, modality, providerName)
	}
	m, ok := g.catalog.Model(modality, providerName, model)
	if !ok {
		return "", "", catalog.Model{}, fmt.Errorf("%w: %s/%s model %q", domain.ErrModelNotFound, modality, providerName, model)
	}
	return providerName, model, m, nil
}

func (g *Gateway) defaultProvider(modality domain.Modality) string {
	switch modality {
	case domain.ModalityChat:
		return g.config.DefaultChatProvider
	case domain.ModalityImage:
		return g.config.DefaultImageProvider
	case domain.ModalityVideo:
		return g.config.DefaultVideoProvider
	case domain.ModalityVoice:
		return g.config.DefaultVoiceProvider
	}
	return ""
}

func (g *Gateway) defaultModel(modality domain.Modality) string {
	switch modality {
	case domain.ModalityChat:
		return g.config.DefaultChatModel
	case domain.ModalityImage:
		return g.config.DefaultImageModel
	case domain.ModalityVideo:
		return g.config.DefaultVideoModel
	case domain.ModalityVoice:
		return g.config.DefaultVoiceModel
	}
	return ""
}
