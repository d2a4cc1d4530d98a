// Package video drives the capture-and-broadcast loop for the video channel.
// The loop is independent of the telemetry pipeline: a stalled or absent
// camera never delays breathing analysis.
package video

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/vigil-data/breathwatch/internal/camera"
	"github.com/vigil-data/breathwatch/internal/monitoring"
	"github.com/vigil-data/breathwatch/internal/stream"
	"github.com/vigil-data/breathwatch/internal/timeutil"
)

// DefaultFrameRate is the capture pace when none is configured.
const DefaultFrameRate = 15.0

// DefaultCaptureBackoff is the wait after a capture failure before the next
// attempt.
const DefaultCaptureBackoff = 2 * time.Second

// BroadcasterConfig wires the video loop.
type BroadcasterConfig struct {
	// Open creates the frame source; the loop reopens through it with
	// backoff after a capture failure.
	Open camera.Opener

	Registry *stream.Registry

	// FrameRate is the target frames per second; defaults to
	// DefaultFrameRate.
	FrameRate float64

	// CaptureBackoff defaults to DefaultCaptureBackoff; Clock defaults to
	// the real clock.
	CaptureBackoff time.Duration
	Clock          timeutil.Clock
}

// Broadcaster captures frames and fans them out to every registered client.
// Capture is skipped entirely while no clients are connected; the camera
// handle stays open but idle.
type Broadcaster struct {
	cfg     BroadcasterConfig
	limiter *rate.Limiter
	source  camera.Source
}

// NewBroadcaster validates and applies defaults to the configuration.
func NewBroadcaster(cfg BroadcasterConfig) *Broadcaster {
	if cfg.FrameRate <= 0 {
		cfg.FrameRate = DefaultFrameRate
	}
	if cfg.CaptureBackoff <= 0 {
		cfg.CaptureBackoff = DefaultCaptureBackoff
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	return &Broadcaster{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.FrameRate), 1),
	}
}

// Run executes the video loop until ctx is cancelled. It returns after
// releasing the camera handle.
func (b *Broadcaster) Run(ctx context.Context) {
	defer func() {
		if b.source != nil {
			b.source.Close()
			b.source = nil
		}
	}()

	for {
		if err := b.limiter.Wait(ctx); err != nil {
			return
		}

		// No viewers, no capture. The pacing wait above keeps this from
		// spinning.
		if b.cfg.Registry.Len() == 0 {
			continue
		}

		if b.source == nil {
			if !b.reopen(ctx) {
				return
			}
		}

		frame, err := b.source.CaptureFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			monitoring.Logf("[Video] capture failed: %v (reopening in %s)", err, b.cfg.CaptureBackoff)
			b.source.Close()
			b.source = nil
			select {
			case <-ctx.Done():
				return
			case <-b.cfg.Clock.After(b.cfg.CaptureBackoff):
			}
			continue
		}

		b.cfg.Registry.Broadcast(frame)
	}
}

// reopen acquires the camera with backoff until it succeeds or ctx is
// cancelled. Returns false when cancelled.
func (b *Broadcaster) reopen(ctx context.Context) bool {
	for {
		src, err := b.cfg.Open()
		if err == nil {
			b.source = src
			monitoring.Logf("[Video] camera session open")
			return true
		}
		monitoring.Logf("[Video] failed to open camera: %v (retrying in %s)", err, b.cfg.CaptureBackoff)
		select {
		case <-ctx.Done():
			return false
		case <-b.cfg.Clock.After(b.cfg.CaptureBackoff):
		}
	}
}
