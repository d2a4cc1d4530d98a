package radar

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPortOptionsNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      PortOptions
		want    PortOptions
		wantErr bool
	}{
		{
			name: "defaults",
			in:   PortOptions{},
			want: PortOptions{BaudRate: 115200, DataBits: 8, StopBits: 1, Parity: "N"},
		},
		{
			name: "explicit values kept",
			in:   PortOptions{BaudRate: 921600, DataBits: 7, StopBits: 2, Parity: "even"},
			want: PortOptions{BaudRate: 921600, DataBits: 7, StopBits: 2, Parity: "E"},
		},
		{
			name: "odd parity short form",
			in:   PortOptions{Parity: "o"},
			want: PortOptions{BaudRate: 115200, DataBits: 8, StopBits: 1, Parity: "O"},
		},
		{
			name:    "bad data bits",
			in:      PortOptions{DataBits: 9},
			wantErr: true,
		},
		{
			name:    "bad stop bits",
			in:      PortOptions{StopBits: 3},
			wantErr: true,
		},
		{
			name:    "bad parity",
			in:      PortOptions{Parity: "M"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.in.Normalize()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseSweepLine(t *testing.T) {
	t.Parallel()

	t.Run("csv", func(t *testing.T) {
		sweep, err := parseSweepLine("0.1, -0.2,0.3 ")
		require.NoError(t, err)
		want := Sweep{Samples: []float64{0.1, -0.2, 0.3}}
		if diff := cmp.Diff(want, sweep); diff != "" {
			t.Errorf("sweep mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("json with rate", func(t *testing.T) {
		sweep, err := parseSweepLine(`{"bpm": 14.2, "sweep": [0.01, 0.02]}`)
		require.NoError(t, err)
		want := Sweep{Samples: []float64{0.01, 0.02}, BreathingRate: 14.2}
		if diff := cmp.Diff(want, sweep); diff != "" {
			t.Errorf("sweep mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("empty line", func(t *testing.T) {
		_, err := parseSweepLine("   ")
		assert.Error(t, err)
	})

	t.Run("json without samples", func(t *testing.T) {
		_, err := parseSweepLine(`{"bpm": 14.2}`)
		assert.Error(t, err)
	})

	t.Run("bad csv field", func(t *testing.T) {
		_, err := parseSweepLine("0.1,abc,0.3")
		assert.Error(t, err)
	})

	t.Run("bad json", func(t *testing.T) {
		_, err := parseSweepLine(`{"bpm":`)
		assert.Error(t, err)
	})
}

func TestSerialSourceReadsLines(t *testing.T) {
	t.Parallel()

	client, server := net.Pipe()
	src := newSerialSource(server)
	defer src.Close()

	go func() {
		client.Write([]byte("0.1,0.2,0.3\n"))
		client.Write([]byte("not a sweep\n"))
		client.Write([]byte(`{"bpm": 15.5, "sweep": [0.5]}` + "\n"))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	first, err := src.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.1, 0.2, 0.3}, first.Samples)
	assert.False(t, first.Timestamp.IsZero())

	// The malformed middle line is skipped, not surfaced.
	second, err := src.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5}, second.Samples)
	assert.Equal(t, 15.5, second.BreathingRate)
}

func TestSerialSourceNextHonoursContext(t *testing.T) {
	t.Parallel()

	client, server := net.Pipe()
	defer client.Close()
	src := newSerialSource(server)
	defer src.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := src.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSerialSourceClosedPort(t *testing.T) {
	t.Parallel()

	client, server := net.Pipe()
	src := newSerialSource(server)

	client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := src.Next(ctx)
	assert.Error(t, err, "a dead port surfaces an error so the caller can reopen")
}
