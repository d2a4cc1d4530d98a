// Package breath owns the breathing-telemetry pipeline: the bounded history
// of cleaned waveform snapshots, the hysteresis alarm state machine, the
// per-cycle wire encodings, and the monitor loop that drives
// read → condition → classify → alarm → broadcast.
package breath

import (
	"sync"
	"time"

	"github.com/vigil-data/breathwatch/internal/dsp"
)

// Snapshot is one conditioned cycle: the cleaned waveform window, its
// classification, and an optional breathing-rate estimate from the sensor.
type Snapshot struct {
	Timestamp      time.Time
	Waveform       []float64
	Classification dsp.Classification

	// BreathingRate is in breaths per minute; zero when the sensor does not
	// supply an estimate for the cycle.
	BreathingRate float64
}

// History is a fixed-capacity ring of the most recent snapshots. It is
// written by the telemetry loop and read concurrently by the API server;
// every read returns copies so a reader can never observe a half-written
// entry.
type History struct {
	mu       sync.Mutex
	entries  []Snapshot
	capacity int
	start    int
	count    int
}

// DefaultHistoryCapacity matches the deployed buffer of 300 cycles.
const DefaultHistoryCapacity = 300

// NewHistory creates a history with the given capacity; non-positive values
// take DefaultHistoryCapacity.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	return &History{
		entries:  make([]Snapshot, capacity),
		capacity: capacity,
	}
}

// Append stores a snapshot, evicting the oldest entry when full. The
// waveform is copied so the caller may reuse its buffer.
func (h *History) Append(s Snapshot) {
	s.Waveform = append([]float64(nil), s.Waveform...)

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.count < h.capacity {
		h.entries[(h.start+h.count)%h.capacity] = s
		h.count++
		return
	}
	h.entries[h.start] = s
	h.start = (h.start + 1) % h.capacity
}

// Latest returns a copy of the most recent snapshot. ok is false before the
// first append.
func (h *History) Latest() (Snapshot, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.count == 0 {
		return Snapshot{}, false
	}
	s := h.entries[(h.start+h.count-1)%h.capacity]
	s.Waveform = append([]float64(nil), s.Waveform...)
	return s, true
}

// Snapshots returns copies of all stored snapshots in append order, oldest
// first.
func (h *History) Snapshots() []Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Snapshot, 0, h.count)
	for i := 0; i < h.count; i++ {
		s := h.entries[(h.start+i)%h.capacity]
		s.Waveform = append([]float64(nil), s.Waveform...)
		out = append(out, s)
	}
	return out
}

// Len reports the number of stored snapshots.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// Capacity reports the fixed capacity.
func (h *History) Capacity() int {
	return h.capacity
}
