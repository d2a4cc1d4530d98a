// Package radar defines the sweep-source boundary of the service and its two
// implementations: a serial-backed source reading the sensor module over
// UART and a synthetic source for dev mode and tests. The sensor's own
// demodulation and ranging algorithm lives on the module; this package only
// transports its per-cycle amplitude sweeps.
package radar

import (
	"context"
	"time"
)

// Sweep is one acquisition cycle's amplitude readings, immutable once
// captured. BreathingRate is the module's optional higher-level estimate in
// breaths per minute, zero when absent.
type Sweep struct {
	Timestamp     time.Time
	Samples       []float64
	BreathingRate float64
}

// Source produces sweeps. Next blocks until a sweep is available, the
// context is cancelled, or the source fails; after an error the source is
// unusable and must be reopened by the caller.
type Source interface {
	Next(ctx context.Context) (Sweep, error)
	Close() error
}

// Opener creates a fresh Source. The telemetry loop uses it to reopen the
// sensor with backoff after a transient failure.
type Opener func() (Source, error)
