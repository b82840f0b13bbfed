// Package cost estimates what a session spends upstream.
package cost

import (
	"strings"
	"sync"
)

// ModelPricing is the price in USD per thousand tokens.
type ModelPricing struct {
	InputPer1K  float64 `toml:"input_per_1k"`
	OutputPer1K float64 `toml:"output_per_1k"`
}

var defaultPricing = map[string]ModelPricing{
	"gpt-5-mini-2025-08-07": {InputPer1K: 0.00025, OutputPer1K: 0.002},
	"gpt-5-mini":            {InputPer1K: 0.00025, OutputPer1K: 0.002},
	"gpt-4o-mini":           {InputPer1K: 0.00015, OutputPer1K: 0.0006},
}

// Calculator prices token counts per model. Models with a ":free" suffix
// cost nothing; other unknown models are priced at zero.
type Calculator struct {
	mu      sync.RWMutex
	pricing map[string]ModelPricing
}

func NewCalculator() *Calculator {
	pricing := make(map[string]ModelPricing, len(defaultPricing))
	for model, p := range defaultPricing {
		pricing[model] = p
	}
	return &Calculator{pricing: pricing}
}

func (c *Calculator) Calculate(model string, inputTokens, outputTokens int) float64 {
	if strings.HasSuffix(model, ":free") {
		return 0
	}

	c.mu.RLock()
	pricing, ok := c.pricing[model]
	c.mu.RUnlock()
	if !ok {
		return 0
	}

	inputCost := float64(inputTokens) / 1000 * pricing.InputPer1K
	outputCost := float64(outputTokens) / 1000 * pricing.OutputPer1K

	return inputCost + outputCost
}

func (c *Calculator) SetPricing(model string, pricing ModelPricing) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pricing[model] = pricing
}

// Known reports whether the model has a price or is a free variant.
func (c *Calculator) Known(model string) bool {
	if strings.HasSuffix(model, ":free") {
		return true
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.pricing[model]
	return ok
}
