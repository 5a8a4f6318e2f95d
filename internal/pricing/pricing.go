// Package pricing maps usage units to provider cost and provider cost to
// the billed price. Everything here is a pure function over the read-only
// catalog: no I/O, no shared state, safe to call concurrently.
package pricing

import (
	"math"

	"github.com/agentboard/provider-gateway/internal/catalog"
	"github.com/agentboard/provider-gateway/internal/domain"
)

// Fallback rates applied when a model is missing from the catalog. They are
// deliberately conservative (priced like a frontier model) so billing never
// silently breaks for an unlisted model.
const (
	fallbackInputPer1K  = 0.015
	fallbackOutputPer1K = 0.075
	fallbackUnitCost    = 0.10
)

type Engine struct {
	catalog *catalog.Catalog
}

func NewEngine(c *catalog.Catalog) *Engine {
	return &Engine{catalog: c}
}

// Cost computes the raw provider cost for one operation. The meaning of
// inputUnits/outputUnits depends on the modality: tokens for chat, images
// or seconds produced for image/video (output side), characters for voice
// (input side).
func (e *Engine) Cost(modality domain.Modality, provider, model string, inputUnits, outputUnits int) float64 {
	m, ok := e.catalog.Model(modality, provider, model)

	switch modality {
	case domain.ModalityChat:
		inPer1K, outPer1K := m.InputPer1K, m.OutputPer1K
		if !ok {
			inPer1K, outPer1K = fallbackInputPer1K, fallbackOutputPer1K
		}
		return float64(inputUnits)/1000*inPer1K + float64(outputUnits)/1000*outPer1K

	case domain.ModalityVoice:
		unit := m.UnitCost
		if !ok {
			unit = fallbackUnitCost
		}
		return float64(inputUnits) / 1000 * unit

	default: // image, video: priced per produced unit
		unit := m.UnitCost
		if !ok {
			unit = fallbackUnitCost
		}
		return float64(outputUnits) * unit
	}
}

// Price converts a provider cost into the billed amount: apply the markup,
// then round UP to the nearest increment. Rounding never goes down, so the
// platform never under-bills due to floating point.
func Price(cost, markup, increment float64) float64 {
	if cost <= 0 {
		return 0
	}
	if increment <= 0 {
		return cost * markup
	}
	return math.Ceil(cost*markup/increment) * increment
}

// Margin returns the gross margin percentage of price over cost. Defined as
// 0 when price is 0 to avoid a divide-by-zero on free operations.
func Margin(cost, price float64) float64 {
	if price == 0 {
		return 0
	}
	return (price - cost) / price * 100
}
