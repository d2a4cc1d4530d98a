package breath

import (
	"encoding/json"
	"fmt"

	"github.com/vigil-data/breathwatch/internal/dsp"
)

// WireMode selects the telemetry channel encoding. A deployment picks one
// mode at startup; mixing modes on one port is undefined.
type WireMode string

const (
	// LineMode sends a human-readable status string terminated by '\n'.
	LineMode WireMode = "line"

	// FramedJSON sends a 4-byte big-endian length prefix followed by a JSON
	// object with timestamp, motion state, alert, and waveform.
	FramedJSON WireMode = "framed_json"
)

// ParseWireMode validates a configured mode string.
func ParseWireMode(s string) (WireMode, error) {
	switch WireMode(s) {
	case LineMode, FramedJSON:
		return WireMode(s), nil
	case "":
		return FramedJSON, nil
	default:
		return "", fmt.Errorf("unknown telemetry mode %q: expected %q or %q", s, LineMode, FramedJSON)
	}
}

// telemetryPacket is the framed-JSON wire shape.
type telemetryPacket struct {
	Timestamp   float64   `json:"timestamp"`
	MotionState string    `json:"motion_state"`
	Alert       string    `json:"alert"`
	Waveform    []float64 `json:"waveform"`
}

// Encoder turns a cycle snapshot into the payload bytes for one wire mode.
// The framed length prefix itself is applied by the stream layer.
type Encoder struct {
	mode WireMode
}

// NewEncoder creates an encoder for the given mode.
func NewEncoder(mode WireMode) *Encoder {
	return &Encoder{mode: mode}
}

// Mode reports the configured wire mode.
func (e *Encoder) Mode() WireMode {
	return e.mode
}

// Encode produces the payload for one snapshot. For LineMode the returned
// bytes include the trailing newline; for FramedJSON they are the raw JSON
// body to be length-prefixed by the writer.
func (e *Encoder) Encode(s Snapshot) ([]byte, error) {
	switch e.mode {
	case LineMode:
		return []byte(statusLine(s) + "\n"), nil
	case FramedJSON:
		body, err := json.Marshal(telemetryPacket{
			Timestamp:   float64(s.Timestamp.UnixNano()) / 1e9,
			MotionState: string(s.Classification.Motion),
			Alert:       string(s.Classification.Alert),
			Waveform:    s.Waveform,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to encode telemetry packet: %w", err)
		}
		return body, nil
	default:
		return nil, fmt.Errorf("unknown telemetry mode %q", e.mode)
	}
}

// statusLine renders the human-readable status for line mode. Breathing rate
// takes priority when the sensor supplies an estimate; otherwise the
// classification decides between presence, motion, and no-movement text.
func statusLine(s Snapshot) string {
	switch {
	case s.BreathingRate > 0:
		return fmt.Sprintf("Breathing rate: %.1f bpm", s.BreathingRate)
	case s.Classification.Motion == dsp.MotionInMotion:
		return "Motion detected"
	case s.Classification.Alert == dsp.AlertNoMovement:
		return "No presence detected"
	default:
		return "Presence detected"
	}
}
