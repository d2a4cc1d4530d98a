package breath

import (
	"context"
	"time"

	"github.com/vigil-data/breathwatch/internal/dsp"
	"github.com/vigil-data/breathwatch/internal/monitoring"
	"github.com/vigil-data/breathwatch/internal/radar"
	"github.com/vigil-data/breathwatch/internal/stream"
	"github.com/vigil-data/breathwatch/internal/timeutil"
)

// Notifier delivers an alert message to an external sink. Implementations
// must not block the caller.
type Notifier interface {
	Notify(message string)
}

// Recorder persists per-cycle results. Implementations must tolerate being
// called once per telemetry cycle.
type Recorder interface {
	RecordCycle(s Snapshot) error
}

// DefaultSensorBackoff is the wait between sensor reopen attempts.
const DefaultSensorBackoff = 5 * time.Second

// MonitorConfig wires the telemetry loop.
type MonitorConfig struct {
	// Open creates the sweep source; the loop reopens through it with
	// backoff after a transient sensor failure.
	Open radar.Opener

	Cascade    *dsp.Cascade
	Classifier *dsp.Classifier
	Alarm      *Alarm
	History    *History
	Encoder    *Encoder
	Registry   *stream.Registry

	// Notifier and Recorder are optional.
	Notifier Notifier
	Recorder Recorder

	// SensorBackoff defaults to DefaultSensorBackoff; Clock defaults to the
	// real clock.
	SensorBackoff time.Duration
	Clock         timeutil.Clock
}

// Monitor drives the telemetry pipeline: one loop, strictly ordered per
// cycle as condition → classify → alarm update → history append → broadcast.
// Sensor failures trigger reopen-with-backoff; the loop only exits when its
// context is cancelled.
type Monitor struct {
	cfg MonitorConfig

	source radar.Source

	// Label promotion state: an alert label observed for PendingLimit
	// consecutive cycles becomes the confirmed active label fed to the
	// alarm's cap selection.
	lastAlert   dsp.AlertState
	stableFor   int
	activeLabel dsp.AlertState

	prevAlert dsp.AlertState
}

// NewMonitor validates and applies defaults to the configuration.
func NewMonitor(cfg MonitorConfig) *Monitor {
	if cfg.SensorBackoff <= 0 {
		cfg.SensorBackoff = DefaultSensorBackoff
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	return &Monitor{
		cfg:         cfg,
		activeLabel: dsp.AlertNormal,
		prevAlert:   dsp.AlertNormal,
	}
}

// Run executes the telemetry loop until ctx is cancelled. It returns after
// releasing the sensor handle.
func (m *Monitor) Run(ctx context.Context) {
	defer func() {
		if m.source != nil {
			m.source.Close()
			m.source = nil
		}
	}()

	for {
		if ctx.Err() != nil {
			return
		}

		if m.source == nil {
			if !m.reopen(ctx) {
				return
			}
		}

		sweep, err := m.source.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			monitoring.Logf("[Telemetry] sensor read failed: %v (reopening in %s)", err, m.cfg.SensorBackoff)
			m.source.Close()
			m.source = nil
			// The incoming signal is no longer continuous; clear the
			// recursive smoother state before the next session.
			m.cfg.Cascade.Reset()
			continue
		}

		m.cycle(sweep)
	}
}

// reopen acquires the sensor with backoff until it succeeds or ctx is
// cancelled. Returns false when cancelled.
func (m *Monitor) reopen(ctx context.Context) bool {
	for {
		src, err := m.cfg.Open()
		if err == nil {
			m.source = src
			monitoring.Logf("[Telemetry] sensor session open")
			return true
		}
		monitoring.Logf("[Telemetry] failed to open sensor: %v (retrying in %s)", err, m.cfg.SensorBackoff)
		select {
		case <-ctx.Done():
			return false
		case <-m.cfg.Clock.After(m.cfg.SensorBackoff):
		}
	}
}

// cycle processes one sweep end to end.
func (m *Monitor) cycle(sweep radar.Sweep) {
	cleaned := m.cfg.Cascade.Apply(sweep.Samples)
	cls := m.cfg.Classifier.Classify(cleaned)

	m.promote(cls.Alert)
	m.cfg.Alarm.Observe(cls.Alert, m.activeLabel)

	snapshot := Snapshot{
		Timestamp:      sweep.Timestamp,
		Waveform:       cleaned,
		Classification: cls,
		BreathingRate:  sweep.BreathingRate,
	}
	m.cfg.History.Append(snapshot)

	if m.cfg.Recorder != nil {
		if err := m.cfg.Recorder.RecordCycle(snapshot); err != nil {
			monitoring.Logf("[Telemetry] failed to record cycle: %v", err)
		}
	}

	// Notify on the edge into no-movement, not on every quiet cycle.
	if m.cfg.Notifier != nil && cls.Alert == dsp.AlertNoMovement && m.prevAlert != dsp.AlertNoMovement {
		m.cfg.Notifier.Notify("No movement detected")
	}
	m.prevAlert = cls.Alert

	// With no connected clients the encode and send are skipped, but
	// everything above still ran so the alarm and history stay current.
	if m.cfg.Registry.Len() == 0 {
		return
	}

	payload, err := m.cfg.Encoder.Encode(snapshot)
	if err != nil {
		monitoring.Logf("[Telemetry] failed to encode cycle: %v", err)
		return
	}
	m.cfg.Registry.Broadcast(payload)
}

// promote tracks how long the current alert label has persisted and
// promotes it to the confirmed active label once it has been stable for
// PendingLimit cycles.
func (m *Monitor) promote(alert dsp.AlertState) {
	if alert == m.lastAlert {
		m.stableFor++
	} else {
		m.lastAlert = alert
		m.stableFor = 1
	}
	if m.stableFor >= m.cfg.Alarm.thresholds.PendingLimit {
		m.activeLabel = alert
	}
}
