package billing

import (
	"errors"
	"math"
	"sync"
	"testing"
)

func TestMeterAdd(t *testing.T) {
	tests := []struct {
		name      string
		durations []float64
		wantSecs  float64
	}{
		{"no chunks", nil, 0},
		{"two chunks", []float64{2.0, 2.0}, 4.0},
		{"fractional", []float64{0.1, 0.2, 0.3}, 0.6},
		{"zero length", []float64{0, 5.5, 0}, 5.5},
	}

	acc := NewAccumulator(DefaultRatePerSecond, "")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := acc.NewMeter()
			for _, d := range tt.durations {
				snap, err := m.Add(d)
				if err != nil {
					t.Fatalf("Add(%f) failed: %v", d, err)
				}
				// cost tracks the total at every observation point
				if snap.EstimatedCost != snap.ProcessedSeconds*DefaultRatePerSecond {
					t.Errorf("Expected cost %f, got %f", snap.ProcessedSeconds*DefaultRatePerSecond, snap.EstimatedCost)
				}
			}

			snap := m.Snapshot()
			if math.Abs(snap.ProcessedSeconds-tt.wantSecs) > 1e-9 {
				t.Errorf("Expected %f seconds, got %f", tt.wantSecs, snap.ProcessedSeconds)
			}
		})
	}
}

func TestMeterRejectsInvalid(t *testing.T) {
	m := NewAccumulator(0.01, "EUR").NewMeter()
	if _, err := m.Add(3); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	if _, err := m.Add(-1); !errors.Is(err, ErrNegativeSeconds) {
		t.Errorf("Expected ErrNegativeSeconds, got %v", err)
	}
	if _, err := m.Add(math.NaN()); err == nil {
		t.Error("Expected error for NaN")
	}

	snap := m.Snapshot()
	if snap.ProcessedSeconds != 3 {
		t.Errorf("Expected total to stay at 3, got %f", snap.ProcessedSeconds)
	}
	if math.Abs(snap.EstimatedCost-0.03) > 1e-12 {
		t.Errorf("Expected cost 0.03, got %f", snap.EstimatedCost)
	}
}

func TestAccumulatorDefaults(t *testing.T) {
	t.Setenv("BILLING_RATE_PER_SECOND", "")

	acc := NewAccumulator(0, "")
	if acc.Rate() != DefaultRatePerSecond {
		t.Errorf("Expected rate %f, got %f", DefaultRatePerSecond, acc.Rate())
	}
	if acc.Currency() != "USD" {
		t.Errorf("Expected currency USD, got %s", acc.Currency())
	}
	if math.Abs(acc.Cost(4.0)-0.02) > 1e-12 {
		t.Errorf("Expected cost 0.02, got %f", acc.Cost(4.0))
	}
}

func TestAccumulatorEnvOverride(t *testing.T) {
	t.Setenv("BILLING_RATE_PER_SECOND", "0.002")

	if rate := NewAccumulator(0, "").Rate(); rate != 0.002 {
		t.Errorf("Expected rate from env 0.002, got %f", rate)
	}
	// an explicit rate wins over the environment
	if rate := NewAccumulator(0.007, "").Rate(); rate != 0.007 {
		t.Errorf("Expected explicit rate 0.007, got %f", rate)
	}
}

func TestMeterConcurrentAdd(t *testing.T) {
	m := NewAccumulator(DefaultRatePerSecond, "").NewMeter()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Add(0.5); err != nil {
				t.Errorf("Add failed: %v", err)
			}
		}()
	}
	wg.Wait()

	snap := m.Snapshot()
	if snap.ProcessedSeconds != 50 {
		t.Errorf("Expected 50 seconds, got %f", snap.ProcessedSeconds)
	}
	if snap.EstimatedCost != 50*DefaultRatePerSecond {
		t.Errorf("Expected cost %f, got %f", 50*DefaultRatePerSecond, snap.EstimatedCost)
	}
}
