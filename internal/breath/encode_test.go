package breath

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigil-data/breathwatch/internal/dsp"
)

func TestParseWireMode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    WireMode
		wantErr bool
	}{
		{in: "line", want: LineMode},
		{in: "framed_json", want: FramedJSON},
		{in: "", want: FramedJSON},
		{in: "yaml", wantErr: true},
	}

	for _, tt := range tests {
		t.Run("mode "+tt.in, func(t *testing.T) {
			got, err := ParseWireMode(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEncodeFramedJSON(t *testing.T) {
	t.Parallel()

	enc := NewEncoder(FramedJSON)
	snap := Snapshot{
		Timestamp: time.Unix(1700000000, 500_000_000),
		Waveform:  []float64{0.1, -0.2, 0.3},
		Classification: dsp.Classification{
			Motion: dsp.MotionInMotion,
			Alert:  dsp.AlertNormal,
		},
	}

	payload, err := enc.Encode(snap)
	require.NoError(t, err)

	var got struct {
		Timestamp   float64   `json:"timestamp"`
		MotionState string    `json:"motion_state"`
		Alert       string    `json:"alert"`
		Waveform    []float64 `json:"waveform"`
	}
	require.NoError(t, json.Unmarshal(payload, &got))

	assert.InDelta(t, 1700000000.5, got.Timestamp, 1e-6)
	assert.Equal(t, "in_motion", got.MotionState)
	assert.Equal(t, "normal", got.Alert)
	assert.Equal(t, []float64{0.1, -0.2, 0.3}, got.Waveform)
}

func TestEncodeLineMode(t *testing.T) {
	t.Parallel()

	enc := NewEncoder(LineMode)

	tests := []struct {
		name string
		snap Snapshot
		want string
	}{
		{
			name: "breathing rate wins",
			snap: Snapshot{
				BreathingRate: 14.25,
				Classification: dsp.Classification{
					Motion: dsp.MotionInMotion,
					Alert:  dsp.AlertNoMovement,
				},
			},
			want: "Breathing rate: 14.2 bpm\n",
		},
		{
			name: "motion without rate",
			snap: Snapshot{
				Classification: dsp.Classification{
					Motion: dsp.MotionInMotion,
					Alert:  dsp.AlertNormal,
				},
			},
			want: "Motion detected\n",
		},
		{
			name: "no movement",
			snap: Snapshot{
				Classification: dsp.Classification{
					Motion: dsp.MotionStable,
					Alert:  dsp.AlertNoMovement,
				},
			},
			want: "No presence detected\n",
		},
		{
			name: "quiet presence",
			snap: Snapshot{
				Classification: dsp.Classification{
					Motion: dsp.MotionStable,
					Alert:  dsp.AlertNormal,
				},
			},
			want: "Presence detected\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := enc.Encode(tt.snap)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(payload))
		})
	}
}

func TestEncodeUnknownMode(t *testing.T) {
	t.Parallel()

	enc := NewEncoder(WireMode("bogus"))
	_, err := enc.Encode(Snapshot{})
	assert.Error(t, err)
}
