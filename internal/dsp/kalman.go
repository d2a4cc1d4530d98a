package dsp

// kalmanSmoother is a one-dimensional random-walk Kalman filter used as the
// recursive state-space smoothing stage of the cascade. Unlike the other
// stages its estimate and covariance persist across windows, so consecutive
// sweep windows join without a phase discontinuity at the boundary.
type kalmanSmoother struct {
	processNoise     float64
	measurementNoise float64

	estimate float64
	variance float64
	primed   bool
}

func newKalmanSmoother(processNoise, measurementNoise float64) *kalmanSmoother {
	return &kalmanSmoother{
		processNoise:     processNoise,
		measurementNoise: measurementNoise,
	}
}

func (k *kalmanSmoother) run(in []float64) []float64 {
	out := make([]float64, len(in))
	for i, z := range in {
		if !k.primed {
			// Seed from the first observation with full measurement
			// uncertainty instead of dragging the output toward zero.
			k.estimate = z
			k.variance = k.measurementNoise
			k.primed = true
			out[i] = k.estimate
			continue
		}

		// Predict: random-walk model, state unchanged, variance grows.
		k.variance += k.processNoise

		// Update.
		gain := k.variance / (k.variance + k.measurementNoise)
		k.estimate += gain * (z - k.estimate)
		k.variance *= 1 - gain

		out[i] = k.estimate
	}
	return out
}

func (k *kalmanSmoother) reset() {
	k.estimate = 0
	k.variance = 0
	k.primed = false
}
