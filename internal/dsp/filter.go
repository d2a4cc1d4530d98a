// Package dsp implements the signal-conditioning pipeline that turns raw
// per-sweep radar amplitude samples into a cleaned breathing waveform, and
// the classifier that derives a motion/alert label from a cleaned window.
package dsp

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

// CascadeConfig holds the tunable parameters of the filter cascade.
// Zero values are replaced by defaults in NewCascade.
type CascadeConfig struct {
	// SampleRate is the effective sweep rate in Hz.
	SampleRate float64

	// HighPassCutoffHz removes slow drift below the breathing band.
	HighPassCutoffHz float64

	// LowPassCutoffHz removes fast noise above the breathing band.
	LowPassCutoffHz float64

	// DenoiseFraction zeroes spectral components below this fraction of the
	// window's peak magnitude.
	DenoiseFraction float64

	// SavGolWindow and SavGolOrder configure the local polynomial smoothing
	// stage. SavGolWindow must be odd and greater than SavGolOrder.
	SavGolWindow int
	SavGolOrder  int

	// Kalman smoother noise parameters.
	ProcessNoise     float64
	MeasurementNoise float64
}

// DefaultCascadeConfig returns the cascade configuration used when a field
// is unset: a 0.5–2.5 Hz breathing band at 30 Hz with an 11/3 Savitzky-Golay
// stage and a 10% spectral floor.
func DefaultCascadeConfig() CascadeConfig {
	return CascadeConfig{
		SampleRate:       30,
		HighPassCutoffHz: 0.5,
		LowPassCutoffHz:  2.5,
		DenoiseFraction:  0.1,
		SavGolWindow:     11,
		SavGolOrder:      3,
		ProcessNoise:     1e-5,
		MeasurementNoise: 1e-2,
	}
}

func (c CascadeConfig) withDefaults() CascadeConfig {
	def := DefaultCascadeConfig()
	if c.SampleRate <= 0 {
		c.SampleRate = def.SampleRate
	}
	if c.HighPassCutoffHz <= 0 {
		c.HighPassCutoffHz = def.HighPassCutoffHz
	}
	if c.LowPassCutoffHz <= 0 {
		c.LowPassCutoffHz = def.LowPassCutoffHz
	}
	if c.DenoiseFraction <= 0 {
		c.DenoiseFraction = def.DenoiseFraction
	}
	if c.SavGolWindow < 3 {
		c.SavGolWindow = def.SavGolWindow
	}
	if c.SavGolWindow%2 == 0 {
		c.SavGolWindow++
	}
	if c.SavGolOrder <= 0 || c.SavGolOrder >= c.SavGolWindow {
		c.SavGolOrder = def.SavGolOrder
	}
	if c.ProcessNoise <= 0 {
		c.ProcessNoise = def.ProcessNoise
	}
	if c.MeasurementNoise <= 0 {
		c.MeasurementNoise = def.MeasurementNoise
	}
	return c
}

// Cascade applies the full conditioning chain to one sweep window:
// high-pass, low-pass, recursive Kalman smoothing, Savitzky-Golay polynomial
// smoothing, and FFT spectral denoising. All stages except the Kalman
// smoother are pure per call; the smoother carries its filter state across
// windows so consecutive cycles join without phase discontinuities.
//
// Cascade is not safe for concurrent use; it is owned by the telemetry loop.
type Cascade struct {
	cfg    CascadeConfig
	hp     biquad
	lp     biquad
	kalman *kalmanSmoother
	savgol []float64

	// fft is lazily sized to the incoming window length and reused while the
	// length stays constant.
	fft  *fourier.FFT
	fftN int
}

// NewCascade builds a cascade for the given configuration. Unset fields take
// defaults from DefaultCascadeConfig.
func NewCascade(cfg CascadeConfig) *Cascade {
	cfg = cfg.withDefaults()
	return &Cascade{
		cfg:    cfg,
		hp:     newHighPass(cfg.HighPassCutoffHz, cfg.SampleRate),
		lp:     newLowPass(cfg.LowPassCutoffHz, cfg.SampleRate),
		kalman: newKalmanSmoother(cfg.ProcessNoise, cfg.MeasurementNoise),
		savgol: savGolWeights(cfg.SavGolWindow, cfg.SavGolOrder),
	}
}

// Apply runs the cascade over one raw sweep window and returns a cleaned
// window of the same length. Degenerate input (empty, shorter than the
// Savitzky-Golay window, or all zero) yields a best-effort result rather
// than an error so a cycle is never dropped.
func (c *Cascade) Apply(raw []float64) []float64 {
	if len(raw) == 0 {
		return nil
	}

	out := c.hp.run(raw)
	out = c.lp.run(out)
	out = c.kalman.run(out)

	// Polynomial smoothing needs a full window; smaller inputs skip the
	// stage rather than failing the cycle.
	if len(out) >= c.cfg.SavGolWindow {
		out = convolveReflect(out, c.savgol)
	}

	return c.denoise(out)
}

// Reset clears the recursive smoother state, for use when the sensor session
// is reopened and the incoming signal is no longer continuous.
func (c *Cascade) Reset() {
	c.kalman.reset()
}

// denoise zeroes spectral bins below DenoiseFraction of the peak magnitude
// and reconstructs the time-domain signal.
func (c *Cascade) denoise(in []float64) []float64 {
	n := len(in)
	if n < 2 {
		return in
	}
	if c.fft == nil || c.fftN != n {
		c.fft = fourier.NewFFT(n)
		c.fftN = n
	}

	coeff := c.fft.Coefficients(nil, in)

	maxMag := 0.0
	for _, v := range coeff {
		if m := cmplxAbs(v); m > maxMag {
			maxMag = m
		}
	}
	floor := c.cfg.DenoiseFraction * maxMag
	for i, v := range coeff {
		if cmplxAbs(v) < floor {
			coeff[i] = 0
		}
	}

	out := c.fft.Sequence(nil, coeff)
	// The round trip through Coefficients and Sequence scales by n.
	inv := 1 / float64(n)
	for i := range out {
		out[i] *= inv
	}
	return out
}

func cmplxAbs(v complex128) float64 {
	return math.Hypot(real(v), imag(v))
}

// biquad is a second-order Butterworth section applied in direct form I with
// zero initial conditions, matching a per-window linear filter.
type biquad struct {
	b0, b1, b2 float64
	a1, a2     float64
}

func newLowPass(cutoffHz, sampleRate float64) biquad {
	w0 := 2 * math.Pi * clampCutoff(cutoffHz, sampleRate) / sampleRate
	cosW0 := math.Cos(w0)
	alpha := math.Sin(w0) / (2 * math.Sqrt2 / 2)

	a0 := 1 + alpha
	return biquad{
		b0: (1 - cosW0) / 2 / a0,
		b1: (1 - cosW0) / a0,
		b2: (1 - cosW0) / 2 / a0,
		a1: -2 * cosW0 / a0,
		a2: (1 - alpha) / a0,
	}
}

func newHighPass(cutoffHz, sampleRate float64) biquad {
	w0 := 2 * math.Pi * clampCutoff(cutoffHz, sampleRate) / sampleRate
	cosW0 := math.Cos(w0)
	alpha := math.Sin(w0) / (2 * math.Sqrt2 / 2)

	a0 := 1 + alpha
	return biquad{
		b0: (1 + cosW0) / 2 / a0,
		b1: -(1 + cosW0) / a0,
		b2: (1 + cosW0) / 2 / a0,
		a1: -2 * cosW0 / a0,
		a2: (1 - alpha) / a0,
	}
}

// clampCutoff keeps the cutoff strictly below the Nyquist rate so the
// bilinear design stays stable even with a misconfigured sample rate.
func clampCutoff(cutoffHz, sampleRate float64) float64 {
	nyquist := sampleRate / 2
	if cutoffHz >= nyquist {
		return nyquist * 0.99
	}
	return cutoffHz
}

func (f biquad) run(in []float64) []float64 {
	out := make([]float64, len(in))
	var x1, x2, y1, y2 float64
	for i, x := range in {
		y := f.b0*x + f.b1*x1 + f.b2*x2 - f.a1*y1 - f.a2*y2
		x2, x1 = x1, x
		y2, y1 = y1, y
		out[i] = y
	}
	return out
}

// convolveReflect applies a symmetric FIR kernel with reflected edges so the
// output keeps the input length.
func convolveReflect(in, kernel []float64) []float64 {
	half := len(kernel) / 2
	n := len(in)
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		var acc float64
		for k, w := range kernel {
			idx := i + k - half
			if idx < 0 {
				idx = -idx
			}
			if idx >= n {
				idx = 2*(n-1) - idx
			}
			acc += w * in[idx]
		}
		out[i] = acc
	}
	return out
}
