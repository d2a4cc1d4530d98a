package radar

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigil-data/breathwatch/internal/timeutil"
)

func TestMockSourceProducesBreathingSignal(t *testing.T) {
	t.Parallel()

	clock := timeutil.NewMockClock(time.Unix(1700000000, 0))
	src := NewMockSource(MockConfig{
		SweepLength:      200,
		UpdateRate:       30,
		BreathingRateBPM: 12,
		Amplitude:        0.05,
		NoiseAmplitude:   0.001,
		Seed:             42,
	}, clock)

	ctx := context.Background()

	done := make(chan Sweep, 1)
	go func() {
		sweep, err := src.Next(ctx)
		if err != nil {
			return
		}
		done <- sweep
	}()

	// Next paces on the clock; fire the pending timer.
	deadline := time.Now().Add(5 * time.Second)
	var sweep Sweep
	for {
		clock.Advance(time.Second)
		select {
		case sweep = <-done:
		case <-time.After(10 * time.Millisecond):
			if time.Now().After(deadline) {
				t.Fatal("timed out waiting for sweep")
			}
			continue
		}
		break
	}

	require.Len(t, sweep.Samples, 200)
	assert.Equal(t, 12.0, sweep.BreathingRate)

	var peak float64
	for _, v := range sweep.Samples {
		peak = math.Max(peak, math.Abs(v))
	}
	assert.Greater(t, peak, 0.02, "oscillation amplitude above the presence floor")
	assert.Less(t, peak, 0.1, "amplitude stays near the configured scale")
}

func TestMockSourceDeterministicWithSeed(t *testing.T) {
	t.Parallel()

	cfg := MockConfig{SweepLength: 50, UpdateRate: 30, BreathingRateBPM: 15, Amplitude: 0.05, NoiseAmplitude: 0.005, Seed: 7}

	read := func() Sweep {
		clock := timeutil.NewMockClock(time.Unix(1700000000, 0))
		src := NewMockSource(cfg, clock)
		done := make(chan Sweep, 1)
		go func() {
			sweep, err := src.Next(context.Background())
			if err != nil {
				return
			}
			done <- sweep
		}()
		deadline := time.Now().Add(5 * time.Second)
		for {
			clock.Advance(time.Second)
			select {
			case s := <-done:
				return s
			case <-time.After(10 * time.Millisecond):
				if time.Now().After(deadline) {
					t.Fatal("timed out waiting for sweep")
				}
			}
		}
	}

	a := read()
	b := read()
	assert.Equal(t, a.Samples, b.Samples, "same seed yields the same sweep")
}

func TestMockSourceDefaults(t *testing.T) {
	t.Parallel()

	src := NewMockSource(MockConfig{}, timeutil.NewMockClock(time.Unix(0, 0)))
	def := DefaultMockConfig()
	assert.Equal(t, def.SweepLength, src.cfg.SweepLength)
	assert.Equal(t, def.UpdateRate, src.cfg.UpdateRate)
	assert.Equal(t, def.BreathingRateBPM, src.cfg.BreathingRateBPM)
}

func TestMockSourceCloseStopsNext(t *testing.T) {
	t.Parallel()

	clock := timeutil.NewMockClock(time.Unix(0, 0))
	src := NewMockSource(MockConfig{Seed: 1}, clock)
	require.NoError(t, src.Close())

	errs := make(chan error, 1)
	go func() {
		_, err := src.Next(context.Background())
		errs <- err
	}()

	deadline := time.Now().Add(5 * time.Second)
	for {
		clock.Advance(time.Second)
		select {
		case err := <-errs:
			assert.Error(t, err)
			return
		case <-time.After(10 * time.Millisecond):
			if time.Now().After(deadline) {
				t.Fatal("timed out waiting for Next to fail")
			}
		}
	}
}

func TestMockSourceContextCancel(t *testing.T) {
	t.Parallel()

	src := NewMockSource(MockConfig{Seed: 1}, timeutil.NewMockClock(time.Unix(0, 0)))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := src.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
