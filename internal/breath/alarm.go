package breath

import (
	"sync"

	"github.com/vigil-data/breathwatch/internal/dsp"
	"github.com/vigil-data/breathwatch/internal/monitoring"
)

// AlarmThresholds configures the hysteresis counter of the alarm.
//
// While the previously observed active label is not no-movement the
// validation counter is capped at PendingLimit; once a no-movement active
// condition has been seen the cap rises to PendingLimit+ActiveLimit. The
// asymmetric cap makes re-confirmation after a reset cheaper than the first
// detection without letting a marginal signal flap the alarm.
type AlarmThresholds struct {
	PendingLimit    int
	ActiveLimit     int
	ValidationLimit int
}

// DefaultAlarmThresholds returns the deployed defaults: 200 cycles pending,
// 30 active, activation at 230.
func DefaultAlarmThresholds() AlarmThresholds {
	return AlarmThresholds{
		PendingLimit:    200,
		ActiveLimit:     30,
		ValidationLimit: 230,
	}
}

// AlarmState is a point-in-time copy of the alarm for the API and telemetry.
type AlarmState struct {
	Armed           bool `json:"armed"`
	Active          bool `json:"active"`
	ValidationCount int  `json:"validation_count"`
}

// Alarm is the hysteresis state machine that converts successive
// classifications into a debounced no-movement alarm. It starts disarmed;
// Observe must be called exactly once per telemetry cycle, before the
// cycle's classification is broadcast.
type Alarm struct {
	mu         sync.Mutex
	thresholds AlarmThresholds

	armed           bool
	active          bool
	validationCount int

	// Labels from the previous Observe call. The cap decision uses the
	// previous cycle's active label, matching the evaluation order of the
	// reference algorithm (the cap is chosen before states are replaced).
	pendingState dsp.AlertState
	activeState  dsp.AlertState

	// onActivate, when set, is invoked outside the cycle path whenever the
	// alarm transitions to active.
	onActivate func()
}

// NewAlarm creates a disarmed alarm. Non-positive thresholds take defaults.
func NewAlarm(thresholds AlarmThresholds) *Alarm {
	def := DefaultAlarmThresholds()
	if thresholds.PendingLimit <= 0 {
		thresholds.PendingLimit = def.PendingLimit
	}
	if thresholds.ActiveLimit <= 0 {
		thresholds.ActiveLimit = def.ActiveLimit
	}
	if thresholds.ValidationLimit <= 0 {
		thresholds.ValidationLimit = def.ValidationLimit
	}
	return &Alarm{thresholds: thresholds}
}

// OnActivate registers a callback fired on each transition to active. It is
// called synchronously from Observe; keep it cheap and non-blocking.
func (a *Alarm) OnActivate(fn func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onActivate = fn
}

// Arm is a one-way transition into the watching state. It has no effect if
// already armed.
func (a *Alarm) Arm() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.armed {
		return
	}
	a.armed = true
	monitoring.Logf("[Alarm] armed")
}

// Reset zeroes the validation counter and clears the active state; with
// disarm it also leaves the watching state. Calling Reset repeatedly is
// safe and idempotent.
func (a *Alarm) Reset(disarm bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if disarm && a.armed {
		a.armed = false
		monitoring.Logf("[Alarm] disarmed")
	}
	a.validationCount = 0
	if a.active {
		a.active = false
		monitoring.Logf("[Alarm] reset")
	}
}

// Observe feeds one cycle's labels into the state machine: pending is the
// cycle's alert label, active is the label the deployment treats as the
// confirmed condition. When not armed the call only records the labels.
func (a *Alarm) Observe(pending, active dsp.AlertState) {
	a.mu.Lock()
	defer a.mu.Unlock()

	// Cap selection uses the active label of the previous cycle.
	countCap := a.thresholds.PendingLimit
	if a.activeState == dsp.AlertNoMovement {
		countCap = a.thresholds.PendingLimit + a.thresholds.ActiveLimit
	}

	a.pendingState = pending
	a.activeState = active

	if !a.armed {
		return
	}

	if pending == dsp.AlertNoMovement {
		if a.validationCount < countCap {
			a.validationCount++
		}
	} else if a.validationCount > 0 {
		a.validationCount--
	}

	if a.validationCount >= a.thresholds.ValidationLimit && !a.active {
		a.active = true
		a.armed = false
		monitoring.Logf("[Alarm] activated after %d no-movement cycles", a.validationCount)
		if a.onActivate != nil {
			a.onActivate()
		}
	}
}

// State returns a copy of the current alarm state.
func (a *Alarm) State() AlarmState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return AlarmState{
		Armed:           a.armed,
		Active:          a.active,
		ValidationCount: a.validationCount,
	}
}
