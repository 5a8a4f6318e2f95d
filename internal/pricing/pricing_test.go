package pricing

import (
	"math"
	"testing"

	"github.com/agentboard/provider-gateway/internal/catalog"
	"github.com/agentboard/provider-gateway/internal/domain"
)

const eps = 1e-9

func TestEngine_Cost(t *testing.T) {
	engine := NewEngine(catalog.Default())

	tests := []struct {
		name        string
		modality    domain.Modality
		provider    string
		model       string
		inputUnits  int
		outputUnits int
		expected    float64
	}{
		{
			name:        "gpt-4o tokens",
			modality:    domain.ModalityChat,
			provider:    "openai",
			model:       "gpt-4o",
			inputUnits:  1000,
			outputUnits: 500,
			expected:    0.005 + 0.0075,
		},
		{
			name:        "claude sonnet tokens",
			modality:    domain.ModalityChat,
			provider:    "anthropic",
			model:       "claude-3-5-sonnet-20241022",
			inputUnits:  2000,
			outputUnits: 1000,
			expected:    0.006 + 0.015,
		},
		{
			name:        "unknown model falls back to conservative rate",
			modality:    domain.ModalityChat,
			provider:    "openai",
			model:       "gpt-99-experimental",
			inputUnits:  1000,
			outputUnits: 1000,
			expected:    0.015 + 0.075,
		},
		{
			name:        "image priced per produced unit",
			modality:    domain.ModalityImage,
			provider:    "fal",
			model:       "flux-pro",
			outputUnits: 4,
			expected:    0.20,
		},
		{
			name:        "video priced per second",
			modality:    domain.ModalityVideo,
			provider:    "fal",
			model:       "kling-video",
			outputUnits: 10,
			expected:    0.95,
		},
		{
			name:       "voice priced per 1K characters",
			modality:   domain.ModalityVoice,
			provider:   "elevenlabs",
			model:      "eleven_multilingual_v2",
			inputUnits: 500,
			expected:   0.15,
		},
		{
			name:     "zero units cost zero",
			modality: domain.ModalityChat,
			provider: "openai",
			model:    "gpt-4o",
			expected: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := engine.Cost(tt.modality, tt.provider, tt.model, tt.inputUnits, tt.outputUnits)
			if math.Abs(got-tt.expected) > eps {
				t.Errorf("expected %f, got %f", tt.expected, got)
			}
			if got < 0 {
				t.Errorf("cost must be non-negative, got %f", got)
			}
		})
	}
}

func TestPrice(t *testing.T) {
	tests := []struct {
		name      string
		cost      float64
		markup    float64
		increment float64
		expected  float64
	}{
		{name: "rounds up to increment", cost: 0.0173, markup: 5.0, increment: 0.25, expected: 0.25},
		{name: "exact multiple stays", cost: 0.05, markup: 5.0, increment: 0.25, expected: 0.25},
		{name: "crosses increment boundary", cost: 0.06, markup: 5.0, increment: 0.25, expected: 0.50},
		{name: "zero cost bills zero", cost: 0, markup: 5.0, increment: 0.25, expected: 0},
		{name: "markup of one still rounds up", cost: 0.01, markup: 1.0, increment: 0.25, expected: 0.25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Price(tt.cost, tt.markup, tt.increment)
			if math.Abs(got-tt.expected) > eps {
				t.Errorf("expected %f, got %f", tt.expected, got)
			}
		})
	}
}

func TestPrice_Properties(t *testing.T) {
	costs := []float64{0, 0.0001, 0.0173, 0.1, 0.25, 1.333, 17.99}
	markups := []float64{1, 1.5, 2, 5}
	increments := []float64{0.01, 0.05, 0.25, 1}

	for _, c := range costs {
		for _, m := range markups {
			for _, i := range increments {
				p := Price(c, m, i)

				// Never under-bills.
				if p < c*m-eps {
					t.Errorf("Price(%f,%f,%f)=%f below cost*markup=%f", c, m, i, p, c*m)
				}

				// Always lands on a whole number of increments.
				steps := p / i
				if math.Abs(steps-math.Round(steps)) > 1e-6 {
					t.Errorf("Price(%f,%f,%f)=%f not a multiple of %f", c, m, i, p, i)
				}
			}
		}
	}
}

func TestMargin(t *testing.T) {
	if got := Margin(0, 0); got != 0 {
		t.Errorf("margin of zero price should be 0, got %f", got)
	}

	got := Margin(0.05, 0.25)
	if math.Abs(got-80) > eps {
		t.Errorf("expected 80%%, got %f", got)
	}
}

func TestNewUsage_TotalInvariant(t *testing.T) {
	cases := [][2]int{{0, 0}, {1, 0}, {0, 1}, {100, 250}, {1234, 5678}}
	for _, c := range cases {
		u := domain.NewUsage(c[0], c[1])
		if u.TotalTokens != c[0]+c[1] {
			t.Errorf("NewUsage(%d,%d): total %d != %d", c[0], c[1], u.TotalTokens, c[0]+c[1])
		}
	}
}
