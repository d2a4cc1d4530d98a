package dsp

import "gonum.org/v1/gonum/mat"

// savGolWeights derives Savitzky-Golay convolution weights for a centred
// window: fit a polynomial of the given order to the window by least squares
// and evaluate it at the centre sample. The weights are the first row of the
// pseudo-inverse (AᵀA)⁻¹Aᵀ of the Vandermonde design matrix A.
func savGolWeights(window, order int) []float64 {
	if window%2 == 0 {
		window++
	}
	if order >= window {
		order = window - 1
	}
	half := window / 2

	a := mat.NewDense(window, order+1, nil)
	for i := 0; i < window; i++ {
		x := float64(i - half)
		p := 1.0
		for j := 0; j <= order; j++ {
			a.Set(i, j, p)
			p *= x
		}
	}

	var ata mat.Dense
	ata.Mul(a.T(), a)

	var inv mat.Dense
	if err := inv.Inverse(&ata); err != nil {
		// The design matrix is ill-conditioned only for degenerate
		// window/order pairs already rejected above; fall back to an
		// identity kernel so the stage becomes a no-op.
		weights := make([]float64, window)
		weights[half] = 1
		return weights
	}

	var pinv mat.Dense
	pinv.Mul(&inv, a.T())

	weights := make([]float64, window)
	copy(weights, pinv.RawRowView(0))
	return weights
}
