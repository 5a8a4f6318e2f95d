// Package catalog holds the static provider/model catalog: which providers
// are available per modality, their per-unit costs, capabilities, and rate
// limits. The catalog is read-only after construction and safe for
// concurrent use without locking.
package catalog

import (
	"sort"

	"github.com/agentboard/provider-gateway/internal/domain"
)

// Model describes one upstream model and how its usage is priced.
// Chat models are priced per 1K input/output tokens. Image models are
// priced per image, video models per second, voice models per 1K characters.
type Model struct {
	ID           string   `json:"id"`
	InputPer1K   float64  `json:"input_per_1k,omitempty"`
	OutputPer1K  float64  `json:"output_per_1k,omitempty"`
	UnitCost     float64  `json:"unit_cost,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
	RateLimitRPM int      `json:"rate_limit_rpm,omitempty"`
}

// Provider groups the models one vendor exposes for one modality.
type Provider struct {
	Name     string          `json:"name"`
	Modality domain.Modality `json:"modality"`
	Models   []Model         `json:"models"`
}

type Catalog struct {
	providers map[domain.Modality]map[string]Provider
}

// New builds a catalog from a provider list. Later entries for the same
// (modality, name) pair replace earlier ones.
func New(providers []Provider) *Catalog {
	c := &Catalog{providers: make(map[domain.Modality]map[string]Provider)}
	for _, p := range providers {
		byName, ok := c.providers[p.Modality]
		if !ok {
			byName = make(map[string]Provider)
			c.providers[p.Modality] = byName
		}
		byName[p.Name] = p
	}
	return c
}

// Default returns the catalog of every provider the gateway ships adapters
// for, plus declared-but-unwired vendor entries that fail fast at dispatch.
func Default() *Catalog {
	return New(defaultProviders)
}

// Provider looks up one provider by modality and name.
func (c *Catalog) Provider(modality domain.Modality, name string) (Provider, bool) {
	byName, ok := c.providers[modality]
	if !ok {
		return Provider{}, false
	}
	p, ok := byName[name]
	return p, ok
}

// Model looks up one model within a provider.
func (c *Catalog) Model(modality domain.Modality, provider, model string) (Model, bool) {
	p, ok := c.Provider(modality, provider)
	if !ok {
		return Model{}, false
	}
	for _, m := range p.Models {
		if m.ID == model {
			return m, true
		}
	}
	return Model{}, false
}

// ByModality returns all providers grouped by modality. Providers within a
// group are sorted by name so repeated calls yield identical results.
func (c *Catalog) ByModality() map[domain.Modality][]Provider {
	out := make(map[domain.Modality][]Provider, len(c.providers))
	for modality, byName := range c.providers {
		group := make([]Provider, 0, len(byName))
		for _, p := range byName {
			group = append(group, p)
		}
		sort.Slice(group, func(i, j int) bool { return group[i].Name < group[j].Name })
		out[modality] = group
	}
	return out
}

var defaultProviders = []Provider{
	{
		Name:     "openai",
		Modality: domain.ModalityChat,
		Models: []Model{
			{ID: "gpt-4o", InputPer1K: 0.005, OutputPer1K: 0.015, Capabilities: []string{"tools", "streaming"}, RateLimitRPM: 500},
			{ID: "gpt-4o-mini", InputPer1K: 0.00015, OutputPer1K: 0.0006, Capabilities: []string{"tools", "streaming"}, RateLimitRPM: 1000},
			{ID: "gpt-4-turbo", InputPer1K: 0.01, OutputPer1K: 0.03, Capabilities: []string{"tools", "streaming"}, RateLimitRPM: 300},
			{ID: "gpt-3.5-turbo", InputPer1K: 0.0005, OutputPer1K: 0.0015, Capabilities: []string{"streaming"}, RateLimitRPM: 1000},
		},
	},
	{
		Name:     "anthropic",
		Modality: domain.ModalityChat,
		Models: []Model{
			{ID: "claude-3-5-sonnet-20241022", InputPer1K: 0.003, OutputPer1K: 0.015, Capabilities: []string{"tools", "streaming"}, RateLimitRPM: 500},
			{ID: "claude-3-5-haiku-20241022", InputPer1K: 0.001, OutputPer1K: 0.005, Capabilities: []string{"tools", "streaming"}, RateLimitRPM: 1000},
			{ID: "claude-3-opus-20240229", InputPer1K: 0.015, OutputPer1K: 0.075, Capabilities: []string{"tools", "streaming"}, RateLimitRPM: 200},
		},
	},
	{
		Name:     "google",
		Modality: domain.ModalityChat,
		Models: []Model{
			{ID: "gemini-1.5-pro", InputPer1K: 0.00125, OutputPer1K: 0.005, Capabilities: []string{"streaming"}, RateLimitRPM: 360},
			{ID: "gemini-1.5-flash", InputPer1K: 0.000075, OutputPer1K: 0.0003, Capabilities: []string{"streaming"}, RateLimitRPM: 1000},
			{ID: "gemini-2.0-flash", InputPer1K: 0.0001, OutputPer1K: 0.0004, Capabilities: []string{"streaming"}, RateLimitRPM: 1000},
		},
	},
	{
		Name:     "bedrock",
		Modality: domain.ModalityChat,
		Models: []Model{
			{ID: "anthropic.claude-3-5-sonnet-20241022-v2:0", InputPer1K: 0.003, OutputPer1K: 0.015, Capabilities: []string{"streaming"}, RateLimitRPM: 400},
			{ID: "anthropic.claude-3-5-haiku-20241022-v1:0", InputPer1K: 0.001, OutputPer1K: 0.005, Capabilities: []string{"streaming"}, RateLimitRPM: 800},
			{ID: "meta.llama3-70b-instruct-v1:0", InputPer1K: 0.00265, OutputPer1K: 0.0035, Capabilities: []string{"streaming"}, RateLimitRPM: 400},
		},
	},
	{
		Name:     "fal",
		Modality: domain.ModalityImage,
		Models: []Model{
			{ID: "flux-pro", UnitCost: 0.05, RateLimitRPM: 60},
			{ID: "flux-dev", UnitCost: 0.025, RateLimitRPM: 120},
		},
	},
	{
		// Declared so the catalog is honest about the roadmap; dispatch
		// fails fast with a not-implemented error.
		Name:     "openai",
		Modality: domain.ModalityImage,
		Models: []Model{
			{ID: "dall-e-3", UnitCost: 0.04, RateLimitRPM: 60},
		},
	},
	{
		Name:     "fal",
		Modality: domain.ModalityVideo,
		Models: []Model{
			{ID: "kling-video", UnitCost: 0.095, RateLimitRPM: 20},
			{ID: "minimax-video", UnitCost: 0.085, RateLimitRPM: 20},
		},
	},
	{
		Name:     "elevenlabs",
		Modality: domain.ModalityVoice,
		Models: []Model{
			{ID: "eleven_multilingual_v2", UnitCost: 0.30, RateLimitRPM: 120},
			{ID: "eleven_turbo_v2_5", UnitCost: 0.15, RateLimitRPM: 240},
		},
	},
}
