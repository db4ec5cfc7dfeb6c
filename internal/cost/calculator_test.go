package cost

import "testing"

func TestEstimate(t *testing.T) {
	c := NewCalculator(DefaultRates())

	tests := []struct {
		name       string
		baseCost   int64
		techniques int
		inputLen   int
		mode       string
		want       int64
	}{
		{"base only", 3, 0, 0, "free", 3},
		{"techniques add flat surcharge", 3, 2, 0, "free", 5},
		{"short input rounds up to one chunk", 3, 0, 100, "free", 4},
		{"long input charges per chunk", 3, 0, 4500, "free", 6},
		{"pro mode multiplies and ceils", 3, 2, 100, "pro", 9},
		{"floor of one credit", 0, 0, 0, "free", 1},
		{"unknown mode uses raw", 3, 1, 0, "turbo", 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Estimate(tt.baseCost, tt.techniques, tt.inputLen, tt.mode)
			if got != tt.want {
				t.Errorf("Estimate() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestActual(t *testing.T) {
	c := NewCalculator(DefaultRates())

	// 1000 input + 500 output tokens on the balanced class:
	// 0.001*7500 + 0.0005*37500 = 7.5 + 18.75, ceils to 27.
	got := c.Actual("balanced", 3, 1000, 500, "free")
	if got != 3+27 {
		t.Errorf("Actual() = %d, want %d", got, 30)
	}

	// Pro mode multiplies the total.
	if got := c.Actual("balanced", 3, 1000, 500, "pro"); got != 45 {
		t.Errorf("Actual() pro = %d, want 45", got)
	}

	// Unknown model class falls back to the base cost.
	if got := c.Actual("mystery", 4, 1000, 500, "free"); got != 4 {
		t.Errorf("Actual() unknown class = %d, want 4", got)
	}
	if got := c.Actual("mystery", 0, 0, 0, "free"); got != 1 {
		t.Errorf("Actual() floor = %d, want 1", got)
	}
}

func TestNeedsAdjustment(t *testing.T) {
	c := NewCalculator(DefaultRates())

	if c.NeedsAdjustment(10, 12) {
		t.Error("20% deviation is at threshold, should not adjust")
	}
	if !c.NeedsAdjustment(10, 13) {
		t.Error("30% deviation should adjust")
	}
	if !c.NeedsAdjustment(10, 7) {
		t.Error("underestimate beyond threshold should adjust")
	}
	if c.NeedsAdjustment(0, 0) {
		t.Error("zero estimate and actual should not adjust")
	}
}
