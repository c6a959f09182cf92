package billing

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"sync"
)

// DefaultRatePerSecond is the transcription price per second of audio.
// Default: $0.005/s = $0.30/min
const DefaultRatePerSecond = 0.005

// ErrNegativeSeconds is returned when a meter is asked to go backwards.
var ErrNegativeSeconds = errors.New("processed seconds cannot decrease")

// Snapshot is the usage pair reported to callers.
type Snapshot struct {
	ProcessedSeconds float64 `json:"processedSeconds"`
	EstimatedCost    float64 `json:"estimatedCost"`
}

// Accumulator hands out per-session meters that share one fixed rate.
type Accumulator struct {
	rate     float64
	currency string
}

// NewAccumulator creates an accumulator. A non-positive rate falls back to
// BILLING_RATE_PER_SECOND from the environment, then to DefaultRatePerSecond.
func NewAccumulator(rate float64, currency string) *Accumulator {
	if rate <= 0 {
		rate = getEnvFloat("BILLING_RATE_PER_SECOND", DefaultRatePerSecond)
	}
	if currency == "" {
		currency = "USD"
	}
	return &Accumulator{rate: rate, currency: currency}
}

// Rate returns the price per processed second.
func (a *Accumulator) Rate() float64 {
	return a.rate
}

// Currency returns the currency code costs are expressed in.
func (a *Accumulator) Currency() string {
	return a.currency
}

// Cost converts seconds into a cost at the accumulator rate.
func (a *Accumulator) Cost(seconds float64) float64 {
	return seconds * a.rate
}

// NewMeter starts a zeroed meter for one session.
func (a *Accumulator) NewMeter() *Meter {
	return &Meter{rate: a.rate}
}

// Meter tracks processed seconds for a single session. The estimated cost
// is recomputed from the total on every change, never accumulated on its own.
type Meter struct {
	rate             float64
	processedSeconds float64
	mu               sync.Mutex
}

// Add increases processed seconds and returns the new snapshot.
func (m *Meter) Add(seconds float64) (Snapshot, error) {
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return m.Snapshot(), fmt.Errorf("add %v seconds: not a finite number", seconds)
	}
	if seconds < 0 {
		return m.Snapshot(), fmt.Errorf("add %f seconds: %w", seconds, ErrNegativeSeconds)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.processedSeconds += seconds
	return m.snapshotLocked(), nil
}

// Snapshot returns the current usage.
func (m *Meter) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Meter) snapshotLocked() Snapshot {
	return Snapshot{
		ProcessedSeconds: m.processedSeconds,
		EstimatedCost:    m.processedSeconds * m.rate,
	}
}

// getEnvFloat returns an environment variable as float64, or the default if not set.
func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil && f > 0 {
			return f
		}
	}
	return defaultVal
}
