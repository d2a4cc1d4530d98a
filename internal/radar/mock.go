package radar

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/vigil-data/breathwatch/internal/timeutil"
)

// MockConfig shapes the synthetic breathing signal produced by MockSource.
type MockConfig struct {
	// SweepLength is the number of samples per cycle.
	SweepLength int

	// UpdateRate is the cycle rate in Hz; Next paces itself to it.
	UpdateRate float64

	// BreathingRateBPM is the simulated respiration rate.
	BreathingRateBPM float64

	// Amplitude scales the breathing oscillation; set it below the
	// no-movement threshold to simulate an absent subject.
	Amplitude float64

	// NoiseAmplitude scales the additive noise.
	NoiseAmplitude float64

	// Seed makes the noise deterministic for tests; zero uses the current
	// time.
	Seed int64
}

// DefaultMockConfig simulates calm breathing at 15 bpm, 30 Hz update rate.
func DefaultMockConfig() MockConfig {
	return MockConfig{
		SweepLength:      100,
		UpdateRate:       30,
		BreathingRateBPM: 15,
		Amplitude:        0.05,
		NoiseAmplitude:   0.005,
	}
}

// MockSource generates synthetic sweeps for dev mode and tests. It is the
// software stand-in for the sensor module; each Next call advances the
// simulated breathing phase by one cycle.
type MockSource struct {
	mu     sync.Mutex
	cfg    MockConfig
	clock  timeutil.Clock
	rng    *rand.Rand
	cycle  int
	closed bool
}

// NewMockSource creates a mock source. A nil clock uses the real clock.
func NewMockSource(cfg MockConfig, clock timeutil.Clock) *MockSource {
	def := DefaultMockConfig()
	if cfg.SweepLength <= 0 {
		cfg.SweepLength = def.SweepLength
	}
	if cfg.UpdateRate <= 0 {
		cfg.UpdateRate = def.UpdateRate
	}
	if cfg.BreathingRateBPM <= 0 {
		cfg.BreathingRateBPM = def.BreathingRateBPM
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &MockSource{
		cfg:   cfg,
		clock: clock,
		rng:   rand.New(rand.NewSource(seed)),
	}
}

// Next paces to the configured update rate and returns one synthetic sweep.
func (m *MockSource) Next(ctx context.Context) (Sweep, error) {
	select {
	case <-ctx.Done():
		return Sweep{}, ctx.Err()
	case <-m.clock.After(time.Duration(float64(time.Second) / m.cfg.UpdateRate)):
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Sweep{}, context.Canceled
	}

	freq := m.cfg.BreathingRateBPM / 60
	phase := 2 * math.Pi * freq * float64(m.cycle) / m.cfg.UpdateRate
	m.cycle++

	samples := make([]float64, m.cfg.SweepLength)
	for i := range samples {
		breathing := m.cfg.Amplitude * math.Sin(phase+2*math.Pi*float64(i)/float64(m.cfg.SweepLength))
		noise := m.cfg.NoiseAmplitude * (m.rng.Float64()*2 - 1)
		samples[i] = breathing + noise
	}

	return Sweep{
		Timestamp:     m.clock.Now(),
		Samples:       samples,
		BreathingRate: m.cfg.BreathingRateBPM,
	}, nil
}

// Close marks the source closed; subsequent Next calls fail.
func (m *MockSource) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
