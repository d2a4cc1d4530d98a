package radar

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"go.bug.st/serial"

	"github.com/vigil-data/breathwatch/internal/monitoring"
)

// PortOptions describes the serial connection parameters for the sensor
// module. Zero fields take the module's factory defaults.
type PortOptions struct {
	BaudRate int    `json:"baud_rate"`
	DataBits int    `json:"data_bits"`
	StopBits int    `json:"stop_bits"`
	Parity   string `json:"parity"`
}

// Normalize validates the options and applies defaults for unset values.
func (o PortOptions) Normalize() (PortOptions, error) {
	opts := o

	if opts.BaudRate <= 0 {
		opts.BaudRate = 115200
	}

	if opts.DataBits == 0 {
		opts.DataBits = 8
	}
	if opts.DataBits < 5 || opts.DataBits > 8 {
		return opts, fmt.Errorf("invalid data bits %d: must be between 5 and 8", opts.DataBits)
	}

	if opts.StopBits == 0 {
		opts.StopBits = 1
	}
	if opts.StopBits != 1 && opts.StopBits != 2 {
		return opts, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", opts.StopBits)
	}

	parity := strings.TrimSpace(strings.ToUpper(opts.Parity))
	switch parity {
	case "", "N", "NONE":
		parity = "N"
	case "E", "EVEN":
		parity = "E"
	case "O", "ODD":
		parity = "O"
	default:
		return opts, fmt.Errorf("unsupported parity %q: expected N, E, or O", opts.Parity)
	}

	opts.Parity = parity
	return opts, nil
}

// serialMode converts the options into the go.bug.st/serial mode structure.
func (o PortOptions) serialMode() (*serial.Mode, error) {
	opts, err := o.Normalize()
	if err != nil {
		return nil, err
	}

	mode := &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: opts.DataBits,
		StopBits: serial.StopBits(opts.StopBits),
	}

	switch opts.Parity {
	case "N":
		mode.Parity = serial.NoParity
	case "E":
		mode.Parity = serial.EvenParity
	case "O":
		mode.Parity = serial.OddParity
	}

	return mode, nil
}

// SerialSource reads sweep lines from the sensor module over a serial port.
// The module emits one line per acquisition cycle: either comma-separated
// amplitudes, or a JSON object {"bpm": 14.2, "sweep": [...]} when its
// onboard estimator has converged.
type SerialSource struct {
	port  io.ReadWriteCloser
	lines chan string
	errCh chan error
}

// sweepLine is the JSON line shape emitted by the module.
type sweepLine struct {
	BPM   float64   `json:"bpm"`
	Sweep []float64 `json:"sweep"`
}

// NewSerialSource opens the serial port and starts the line reader.
func NewSerialSource(path string, opts PortOptions) (*SerialSource, error) {
	mode, err := opts.serialMode()
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open sensor port %s: %w", path, err)
	}
	return newSerialSource(port), nil
}

// newSerialSource wraps any line-oriented reader; split out so tests can
// drive the parser without hardware.
func newSerialSource(port io.ReadWriteCloser) *SerialSource {
	s := &SerialSource{
		port:  port,
		lines: make(chan string, 8),
		errCh: make(chan error, 1),
	}

	// The blocking scanner lives on its own goroutine so Next can honour
	// context cancellation.
	go func() {
		defer close(s.lines)
		scan := bufio.NewScanner(s.port)
		scan.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scan.Scan() {
			s.lines <- scan.Text()
		}
		if err := scan.Err(); err != nil {
			s.errCh <- err
		}
	}()

	return s
}

// Next returns the next parsed sweep. Malformed lines are logged and
// skipped; a closed or failed port returns an error and the source must be
// reopened.
func (s *SerialSource) Next(ctx context.Context) (Sweep, error) {
	for {
		select {
		case <-ctx.Done():
			return Sweep{}, ctx.Err()
		case err := <-s.errCh:
			return Sweep{}, fmt.Errorf("sensor read failed: %w", err)
		case line, ok := <-s.lines:
			if !ok {
				select {
				case err := <-s.errCh:
					return Sweep{}, fmt.Errorf("sensor read failed: %w", err)
				default:
					return Sweep{}, fmt.Errorf("sensor port closed")
				}
			}
			sweep, err := parseSweepLine(line)
			if err != nil {
				monitoring.Logf("[Radar] skipping malformed sweep line: %v", err)
				continue
			}
			sweep.Timestamp = time.Now()
			return sweep, nil
		}
	}
}

// Close closes the serial port, which also ends the reader goroutine.
func (s *SerialSource) Close() error {
	return s.port.Close()
}

func parseSweepLine(line string) (Sweep, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Sweep{}, fmt.Errorf("empty line")
	}

	if strings.HasPrefix(line, "{") {
		var sl sweepLine
		if err := json.Unmarshal([]byte(line), &sl); err != nil {
			return Sweep{}, fmt.Errorf("failed to unmarshal sweep JSON: %w", err)
		}
		if len(sl.Sweep) == 0 {
			return Sweep{}, fmt.Errorf("sweep JSON carries no samples")
		}
		return Sweep{Samples: sl.Sweep, BreathingRate: sl.BPM}, nil
	}

	fields := strings.Split(line, ",")
	samples := make([]float64, 0, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return Sweep{}, fmt.Errorf("failed to parse sample %d: %w", i, err)
		}
		samples = append(samples, v)
	}
	return Sweep{Samples: samples}, nil
}
