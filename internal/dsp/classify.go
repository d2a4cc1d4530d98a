package dsp

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// MotionState labels whether the cleaned waveform shows gross body motion or
// a stable breathing pattern.
type MotionState string

const (
	MotionStable   MotionState = "stable"
	MotionInMotion MotionState = "in_motion"
)

// AlertState labels whether the cleaned waveform shows any movement at all.
type AlertState string

const (
	AlertNormal     AlertState = "normal"
	AlertNoMovement AlertState = "no_movement"
)

// Classification is the per-cycle result derived from one cleaned window.
// It carries no history and is recomputed fresh every cycle.
type Classification struct {
	Motion        MotionState
	Alert         AlertState
	Variability   float64
	PeakMagnitude float64
}

// ClassifierConfig holds the decision thresholds. These are deployment
// tunables, not algorithm constants.
type ClassifierConfig struct {
	// MotionThreshold is the population standard deviation above which the
	// window is labelled in-motion.
	MotionThreshold float64

	// NoMovementThreshold is the peak magnitude below which the window is
	// labelled no-movement.
	NoMovementThreshold float64
}

// DefaultClassifierConfig returns the observed deployment defaults.
func DefaultClassifierConfig() ClassifierConfig {
	return ClassifierConfig{
		MotionThreshold:     0.05,
		NoMovementThreshold: 0.02,
	}
}

// Classifier derives motion and alert labels from cleaned waveform windows.
type Classifier struct {
	cfg ClassifierConfig
}

// NewClassifier builds a classifier; zero thresholds take defaults.
func NewClassifier(cfg ClassifierConfig) *Classifier {
	def := DefaultClassifierConfig()
	if cfg.MotionThreshold <= 0 {
		cfg.MotionThreshold = def.MotionThreshold
	}
	if cfg.NoMovementThreshold <= 0 {
		cfg.NoMovementThreshold = def.NoMovementThreshold
	}
	return &Classifier{cfg: cfg}
}

// Classify computes the variability and peak magnitude of one cleaned window
// and applies the thresholds. An empty window classifies as stable and
// no-movement.
func (c *Classifier) Classify(window []float64) Classification {
	result := Classification{
		Motion: MotionStable,
		Alert:  AlertNoMovement,
	}
	if len(window) == 0 {
		return result
	}

	result.Variability = stat.PopStdDev(window, nil)
	for _, v := range window {
		if abs := math.Abs(v); abs > result.PeakMagnitude {
			result.PeakMagnitude = abs
		}
	}

	result.Motion, result.Alert = c.decide(result.Variability, result.PeakMagnitude)
	return result
}

// decide applies the threshold policy to already-computed statistics.
func (c *Classifier) decide(variability, peakMagnitude float64) (MotionState, AlertState) {
	motion := MotionStable
	if variability > c.cfg.MotionThreshold {
		motion = MotionInMotion
	}
	alert := AlertNormal
	if peakMagnitude < c.cfg.NoMovementThreshold {
		alert = AlertNoMovement
	}
	return motion, alert
}
