// Package cost converts pipeline work into credits. Estimates are computed
// before any provider call so a debit can be taken up front; actuals come
// from reported token usage after the call.
package cost

import "math"

// ModelRate holds per-model-class credit pricing per million tokens.
type ModelRate struct {
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// Rates holds the full pricing table.
type Rates struct {
	// Models maps a pipeline model class (fast, balanced, deep) to its
	// token pricing in credits per million tokens.
	Models map[string]ModelRate `yaml:"models" mapstructure:"models"`
	// PerTechnique is the flat credit surcharge for each applied technique.
	PerTechnique int64 `yaml:"per_technique" mapstructure:"per_technique"`
	// PerInputChunk charges per started block of input characters.
	PerInputChunk int64 `yaml:"per_input_chunk" mapstructure:"per_input_chunk"`
	// InputChunkSize is the character block size for length pricing.
	InputChunkSize int `yaml:"input_chunk_size" mapstructure:"input_chunk_size"`
	// ModeMultiplier scales the estimate per request mode.
	ModeMultiplier map[string]float64 `yaml:"mode_multiplier" mapstructure:"mode_multiplier"`
	// AdjustThreshold is the relative estimate error above which the
	// ledger is reconciled after completion.
	AdjustThreshold float64 `yaml:"adjust_threshold" mapstructure:"adjust_threshold"`
}

// Calculator computes credit costs for pipeline executions.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	if rates.InputChunkSize <= 0 {
		rates.InputChunkSize = DefaultRates().InputChunkSize
	}
	if rates.AdjustThreshold <= 0 {
		rates.AdjustThreshold = DefaultRates().AdjustThreshold
	}
	return &Calculator{rates: rates}
}

// Estimate computes the up-front credit charge for a request: the
// pipeline's base cost, a surcharge per technique, length pricing on the
// input, all scaled by the mode multiplier. Always at least 1 credit.
func (c *Calculator) Estimate(baseCost int64, techniques int, inputLen int, mode string) int64 {
	chunks := int64(0)
	if inputLen > 0 {
		chunks = int64((inputLen + c.rates.InputChunkSize - 1) / c.rates.InputChunkSize)
	}

	raw := baseCost +
		int64(techniques)*c.rates.PerTechnique +
		chunks*c.rates.PerInputChunk

	if mul, ok := c.rates.ModeMultiplier[mode]; ok {
		raw = int64(math.Ceil(float64(raw) * mul))
	}
	if raw < 1 {
		raw = 1
	}
	return raw
}

// Actual computes the realized credit cost from reported token usage for
// the pipeline's model class, scaled by the same mode multiplier as the
// estimate. Unknown model classes fall back to baseCost.
func (c *Calculator) Actual(modelClass string, baseCost int64, inputTokens, outputTokens int, mode string) int64 {
	total := baseCost
	if rate, ok := c.rates.Models[modelClass]; ok {
		tokens := (float64(inputTokens)/1e6)*rate.Input + (float64(outputTokens)/1e6)*rate.Output
		total += int64(math.Ceil(tokens))
	}
	if mul, ok := c.rates.ModeMultiplier[mode]; ok {
		total = int64(math.Ceil(float64(total) * mul))
	}
	if total < 1 {
		total = 1
	}
	return total
}

// NeedsAdjustment reports whether actual deviates from estimate by more
// than the configured threshold.
func (c *Calculator) NeedsAdjustment(estimate, actual int64) bool {
	if estimate <= 0 {
		return actual > 0
	}
	diff := math.Abs(float64(actual - estimate))
	return diff/float64(estimate) > c.rates.AdjustThreshold
}

// DefaultRates returns the default credit pricing.
func DefaultRates() Rates {
	return Rates{
		Models: map[string]ModelRate{
			"fast":     {Input: 2_000, Output: 10_000},
			"balanced": {Input: 7_500, Output: 37_500},
			"deep":     {Input: 37_500, Output: 187_500},
		},
		PerTechnique:   1,
		PerInputChunk:  1,
		InputChunkSize: 2000,
		ModeMultiplier: map[string]float64{
			"free": 1.0,
			"pro":  1.5,
		},
		AdjustThreshold: 0.20,
	}
}
